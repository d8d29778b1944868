package worker

import (
	"github.com/yokitheyo/diagramq/internal/engine"
	"github.com/yokitheyo/diagramq/internal/model"
)

const (
	generateInstruction = "You are an expert Software Architect using Mermaid.js. " +
		"Convert the user's scenario into a valid `sequenceDiagram`. " +
		"Return ONLY the mermaid code inside a markdown block."

	fixInstruction = "You are an expert in Mermaid.js. " +
		"The user gives you a diagram or code snippet that may contain errors. " +
		"Repair it into a valid Mermaid diagram, keeping its intent. " +
		"Return ONLY the mermaid code inside a markdown block."
)

func buildMessages(in model.Input) []engine.Message {
	system := generateInstruction
	if in.Mode == model.ModeFix {
		system = fixInstruction
	}
	return []engine.Message{
		{Role: engine.RoleSystem, Content: system},
		{Role: engine.RoleUser, Content: in.Text},
	}
}
