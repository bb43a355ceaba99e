package providers

import (
	"bytes"
	"context"
	"net/http"
	"os"

	"github.com/c360studio/semflow/llm"
	"github.com/c360studio/semflow/model"
)

// Ollama speaks the OpenAI-compatible API that Ollama and vLLM expose.
type Ollama struct{}

func init() {
	llm.Register(Ollama{})
}

func (Ollama) Name() string { return "ollama" }

// NewRequest builds the chat-completions call. Bearer auth is attached when
// OPENAI_API_KEY is set, which covers authenticated compatible gateways.
func (Ollama) NewRequest(ctx context.Context, ep model.EndpointConfig, req llm.Request) (*http.Request, error) {
	body, err := encodeChat(ep.Model, req)
	if err != nil {
		return nil, err
	}

	url := completionsURL(ep.URL, "http://localhost:11434/v1")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}
	return httpReq, nil
}

func (Ollama) Decode(body []byte) (*llm.Response, error) {
	return decodeChat(body)
}
