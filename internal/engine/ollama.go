package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig configures the Ollama engine.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Token   string
	Client  *http.Client
}

// OllamaEngine streams completions from an Ollama-compatible
// /api/generate endpoint in raw mode, so the prompt rendered by an Adapter
// reaches the model unchanged.
type OllamaEngine struct {
	cfg    OllamaConfig
	client *http.Client
}

func NewOllamaEngine(cfg OllamaConfig) *OllamaEngine {
	client := cfg.Client
	if client == nil {
		// no overall timeout: a generation stream may legitimately run for minutes
		client = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &OllamaEngine{cfg: cfg, client: client}
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Raw     bool          `json:"raw"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// Ready reports whether the server knows the configured model.
func (e *OllamaEngine) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	body, _ := json.Marshal(map[string]string{"model": e.cfg.Model})
	resp, err := e.post(ctx, "/api/show", body)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (e *OllamaEngine) Generate(ctx context.Context, req Request, emit func(string) error) error {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  e.cfg.Model,
		Prompt: req.Prompt,
		Raw:    true,
		Stream: true,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	resp, err := e.post(ctx, "/api/generate", body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return GenerationError{Engine: "ollama", Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaChunk
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return GenerationError{Engine: "ollama", Message: "stream ended before completion"}
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if chunk.Error != "" {
			return GenerationError{Engine: "ollama", Message: chunk.Error}
		}
		if chunk.Response != "" {
			if err := emit(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
}

func (e *OllamaEngine) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.Token)
	}
	return e.client.Do(req)
}
