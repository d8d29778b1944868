package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		language string
		want     string
	}{
		{
			name:     "tagged block inside prose",
			raw:      "intro ```diagram\nA->B\n``` outro",
			language: "diagram",
			want:     "A->B",
		},
		{
			name: "no fences",
			raw:  "just text",
			want: "just text",
		},
		{
			name:     "unterminated fence falls back to whole text",
			raw:      "  ```diagram\nA->B  ",
			language: "diagram",
			want:     "```diagram\nA->B",
		},
		{
			name: "tagged block preferred over earlier untagged block",
			raw:  "```\nnot this\n```\n```mermaid\nsequenceDiagram\n  A->>B: hi\n```",
			want: "sequenceDiagram\n  A->>B: hi",
		},
		{
			name: "tag match is case insensitive",
			raw:  "```Mermaid\ngraph TD\n```",
			want: "graph TD",
		},
		{
			name: "untagged fallback",
			raw:  "Here you go:\n```\ngraph LR\nA-->B\n```\nEnjoy",
			want: "graph LR\nA-->B",
		},
		{
			name: "foreign tag is stripped in fallback",
			raw:  "```text\nA->B\n```",
			want: "A->B",
		},
		{
			name: "only the first block is used",
			raw:  "```mermaid\nfirst\n```\n```mermaid\nsecond\n```",
			want: "first",
		},
		{
			name: "empty interior is valid",
			raw:  "```mermaid\n```",
			want: "",
		},
		{
			name:     "prefix of the tag does not count as the tag",
			raw:      "```mermaidjs\nX\n```",
			language: "mermaid",
			want:     "X",
		},
		{
			name:     "tag ending in a symbol",
			raw:      "text\n```c++\nint x;\n```",
			language: "c++",
			want:     "int x;",
		},
		{
			name:     "symbol tag preferred over earlier untagged block",
			raw:      "```\nnot this\n```\n```c++\r\nint x;\r\n```",
			language: "c++",
			want:     "int x;",
		},
		{
			name:     "tag followed by spaces",
			raw:      "```mermaid  \ngraph TD\n```",
			language: "mermaid",
			want:     "graph TD",
		},
		{
			name:     "symbol tag prefix does not count",
			raw:      "```c++x\nY\n```",
			language: "c++",
			want:     "Y",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.raw, tt.language))
		})
	}
}

func TestExtract_Idempotent(t *testing.T) {
	inputs := []string{
		"intro ```mermaid\nsequenceDiagram\nA->>B: x\n``` outro",
		"```\nplain\n```",
		"just text  ",
		"```mermaid\nA->B",
		"",
	}

	for _, raw := range inputs {
		once := Extract(raw, "")
		assert.Equal(t, once, Extract(once, ""), "input %q", raw)
	}
}
