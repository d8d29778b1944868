package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Adapter maps chat messages to the prompt format of one model family and
// cleans that family's control tokens out of raw output.
type Adapter interface {
	Family() string
	Render(messages []Message) string
	Clean(raw string) string
}

const (
	FamilyGemma   = "gemma"
	FamilyLlama32 = "llama32"
	FamilyPhi3    = "phi3"
	FamilyQwen    = "qwen"
)

var adapters = map[string]Adapter{
	FamilyGemma:   gemmaAdapter{},
	FamilyLlama32: llamaAdapter{},
	FamilyPhi3:    phiAdapter{},
	FamilyQwen:    chatMLAdapter{},
}

// AdapterFor returns the adapter registered for family.
func AdapterFor(family string) (Adapter, error) {
	a, ok := adapters[strings.ToLower(family)]
	if !ok {
		return nil, fmt.Errorf("unknown engine family %q (known: %s)", family, strings.Join(Families(), ", "))
	}
	return a, nil
}

func Families() []string {
	out := make([]string, 0, len(adapters))
	for name := range adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DetectFamily guesses the family from a model name such as
// "google/gemma-3-4b-it" or "meta-llama/Llama-3.2-3B-Instruct".
func DetectFamily(model string) (string, bool) {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "gemma"):
		return FamilyGemma, true
	case strings.Contains(m, "llama"):
		return FamilyLlama32, true
	case strings.Contains(m, "phi"):
		return FamilyPhi3, true
	case strings.Contains(m, "qwen"):
		return FamilyQwen, true
	default:
		return "", false
	}
}

func clean(raw string, tokens ...string) string {
	for _, tok := range tokens {
		raw = strings.ReplaceAll(raw, tok, "")
	}
	return strings.TrimSpace(raw)
}

// Gemma has no system role: system text is folded into the first user turn.
type gemmaAdapter struct{}

func (gemmaAdapter) Family() string { return FamilyGemma }

func (gemmaAdapter) Render(messages []Message) string {
	var b strings.Builder
	var system string
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = m.Content
		default:
			role := m.Role
			content := m.Content
			if role == RoleUser && system != "" {
				content = system + "\n\n" + content
				system = ""
			}
			if role != RoleUser {
				role = "model"
			}
			fmt.Fprintf(&b, "<start_of_turn>%s\n%s<end_of_turn>\n", role, content)
		}
	}
	b.WriteString("<start_of_turn>model\n")
	return b.String()
}

func (gemmaAdapter) Clean(raw string) string {
	return clean(raw, "<end_of_turn>", "<eos>")
}

type llamaAdapter struct{}

func (llamaAdapter) Family() string { return FamilyLlama32 }

func (llamaAdapter) Render(messages []Message) string {
	var b strings.Builder
	b.WriteString("<|begin_of_text|>")
	for _, m := range messages {
		fmt.Fprintf(&b, "<|start_header_id|>%s<|end_header_id|>\n\n%s<|eot_id|>", m.Role, m.Content)
	}
	b.WriteString("<|start_header_id|>assistant<|end_header_id|>\n\n")
	return b.String()
}

func (llamaAdapter) Clean(raw string) string {
	return clean(raw, "<|eot_id|>", "<|end_of_text|>")
}

type phiAdapter struct{}

func (phiAdapter) Family() string { return FamilyPhi3 }

func (phiAdapter) Render(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "<|%s|>\n%s<|end|>\n", m.Role, m.Content)
	}
	b.WriteString("<|assistant|>\n")
	return b.String()
}

func (phiAdapter) Clean(raw string) string {
	return clean(raw, "<|end|>", "<|endoftext|>")
}

type chatMLAdapter struct{}

func (chatMLAdapter) Family() string { return FamilyQwen }

func (chatMLAdapter) Render(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&b, "<|im_start|>%s\n%s<|im_end|>\n", m.Role, m.Content)
	}
	b.WriteString("<|im_start|>assistant\n")
	return b.String()
}

func (chatMLAdapter) Clean(raw string) string {
	return clean(raw, "<|im_end|>", "<|endoftext|>")
}
