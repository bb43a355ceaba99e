package providers

import (
	"bytes"
	"context"
	"net/http"
	"os"

	"github.com/c360studio/semflow/llm"
	"github.com/c360studio/semflow/model"
)

// OpenAI targets the OpenAI API directly, or OpenRouter when its attribution
// headers are configured. Separate from Ollama for the default URL and auth.
type OpenAI struct{}

func init() {
	llm.Register(OpenAI{})
}

func (OpenAI) Name() string { return "openai" }

func (OpenAI) NewRequest(ctx context.Context, ep model.EndpointConfig, req llm.Request) (*http.Request, error) {
	body, err := encodeChat(ep.Model, req)
	if err != nil {
		return nil, err
	}

	url := completionsURL(ep.URL, "https://api.openai.com/v1")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}
	if site := os.Getenv("OPENROUTER_SITE_URL"); site != "" {
		httpReq.Header.Set("HTTP-Referer", site)
	}
	if name := os.Getenv("OPENROUTER_SITE_NAME"); name != "" {
		httpReq.Header.Set("X-Title", name)
	}
	return httpReq, nil
}

func (OpenAI) Decode(body []byte) (*llm.Response, error) {
	return decodeChat(body)
}
