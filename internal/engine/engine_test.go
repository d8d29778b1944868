package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chat = []Message{
	{Role: RoleSystem, Content: "You are an architect."},
	{Role: RoleUser, Content: "user logs in"},
}

func TestAdapterFor(t *testing.T) {
	for _, family := range Families() {
		a, err := AdapterFor(family)
		require.NoError(t, err)
		assert.Equal(t, family, a.Family())

		prompt := a.Render(chat)
		assert.Contains(t, prompt, "You are an architect.")
		assert.Contains(t, prompt, "user logs in")
	}

	_, err := AdapterFor("gpt-17")
	assert.ErrorContains(t, err, "unknown engine family")
}

func TestAdapters_RenderTemplates(t *testing.T) {
	tests := []struct {
		family string
		want   string
	}{
		{FamilyGemma, "<start_of_turn>user\nYou are an architect.\n\nuser logs in<end_of_turn>\n<start_of_turn>model\n"},
		{FamilyPhi3, "<|system|>\nYou are an architect.<|end|>\n<|user|>\nuser logs in<|end|>\n<|assistant|>\n"},
		{FamilyQwen, "<|im_start|>system\nYou are an architect.<|im_end|>\n<|im_start|>user\nuser logs in<|im_end|>\n<|im_start|>assistant\n"},
	}

	for _, tt := range tests {
		t.Run(tt.family, func(t *testing.T) {
			a, err := AdapterFor(tt.family)
			require.NoError(t, err)
			assert.Equal(t, tt.want, a.Render(chat))
		})
	}

	llama, _ := AdapterFor(FamilyLlama32)
	prompt := llama.Render(chat)
	assert.True(t, strings.HasPrefix(prompt, "<|begin_of_text|><|start_header_id|>system"))
	assert.True(t, strings.HasSuffix(prompt, "<|start_header_id|>assistant<|end_header_id|>\n\n"))
}

func TestAdapters_Clean(t *testing.T) {
	gemma, _ := AdapterFor(FamilyGemma)
	assert.Equal(t, "```mermaid\nA->B\n```", gemma.Clean("```mermaid\nA->B\n```<end_of_turn>\n"))

	qwen, _ := AdapterFor(FamilyQwen)
	assert.Equal(t, "x", qwen.Clean(" x<|im_end|>"))
}

func TestDetectFamily(t *testing.T) {
	for model, want := range map[string]string{
		"google/gemma-3-4b-it":              FamilyGemma,
		"meta-llama/Llama-3.2-3B-Instruct":  FamilyLlama32,
		"microsoft/Phi-3.5-vision-instruct": FamilyPhi3,
		"Qwen/Qwen3-VL-4B-Instruct":         FamilyQwen,
	} {
		got, ok := DetectFamily(model)
		assert.True(t, ok, model)
		assert.Equal(t, want, got, model)
	}

	_, ok := DetectFamily("mystery-model")
	assert.False(t, ok)
}

func ollamaServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		switch r.URL.Path {
		case "/api/show":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["model"] != "gemma3" {
				http.Error(w, "model not found", http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case "/api/generate":
			var req ollamaGenerateRequest
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.True(t, req.Raw)
			assert.True(t, req.Stream)
			assert.Equal(t, 256, req.Options.NumPredict)

			for _, c := range chunks {
				fmt.Fprintln(w, c)
				w.(http.Flusher).Flush()
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEngine_Generate(t *testing.T) {
	srv := ollamaServer(t, []string{
		`{"response":"` + "```" + `mermaid\n","done":false}`,
		`{"response":"A->B","done":false}`,
		`{"response":"\n` + "```" + `","done":true}`,
	})
	e := NewOllamaEngine(OllamaConfig{BaseURL: srv.URL + "/", Model: "gemma3", Token: "secret"})

	assert.True(t, e.Ready(context.Background()))

	var got []string
	err := e.Generate(context.Background(), Request{Prompt: "p", MaxTokens: 256}, func(s string) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"```mermaid\n", "A->B", "\n```"}, got)
}

func TestOllamaEngine_Faults(t *testing.T) {
	t.Run("error chunk mid stream", func(t *testing.T) {
		srv := ollamaServer(t, []string{
			`{"response":"A","done":false}`,
			`{"error":"CUDA out of memory"}`,
		})
		e := NewOllamaEngine(OllamaConfig{BaseURL: srv.URL, Model: "gemma3", Token: "secret"})

		err := e.Generate(context.Background(), Request{MaxTokens: 256}, func(string) error { return nil })
		var genErr GenerationError
		require.ErrorAs(t, err, &genErr)
		assert.Equal(t, "ollama: CUDA out of memory", err.Error())
	})

	t.Run("stream cut short", func(t *testing.T) {
		srv := ollamaServer(t, []string{`{"response":"A","done":false}`})
		e := NewOllamaEngine(OllamaConfig{BaseURL: srv.URL, Model: "gemma3", Token: "secret"})

		err := e.Generate(context.Background(), Request{MaxTokens: 256}, func(string) error { return nil })
		assert.ErrorContains(t, err, "stream ended before completion")
	})

	t.Run("unknown model is not ready", func(t *testing.T) {
		srv := ollamaServer(t, nil)
		e := NewOllamaEngine(OllamaConfig{BaseURL: srv.URL, Model: "other", Token: "secret"})
		assert.False(t, e.Ready(context.Background()))
	})

	t.Run("unreachable server", func(t *testing.T) {
		e := NewOllamaEngine(OllamaConfig{BaseURL: "http://127.0.0.1:1", Model: "gemma3"})
		assert.False(t, e.Ready(context.Background()))
		err := e.Generate(context.Background(), Request{}, func(string) error { return nil })
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}
