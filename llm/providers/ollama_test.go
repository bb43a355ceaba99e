package providers

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semflow/llm"
	"github.com/c360studio/semflow/model"
)

func localEndpoint(modelID string) model.EndpointConfig {
	return model.EndpointConfig{Provider: "ollama", URL: "http://localhost:11434/v1", Model: modelID}
}

func TestOllamaNewRequestEncodesWorkerCall(t *testing.T) {
	temp := 0.2
	req, err := Ollama{}.NewRequest(context.Background(), localEndpoint("qwen2.5-coder:32b"), llm.Request{
		Capability: "coding",
		Messages: []llm.Message{
			{Role: "system", Content: "You are a worker agent executing one task."},
			{Role: "user", Content: "Implement the parser described in the task context."},
		},
		Temperature: &temp,
		MaxTokens:   2048,
	})
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434/v1/chat/completions", req.URL.String())
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))

	var body chatRequest
	raw, _ := io.ReadAll(req.Body)
	require.NoError(t, json.Unmarshal(raw, &body))
	assert.Equal(t, "qwen2.5-coder:32b", body.Model)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	require.NotNil(t, body.Temperature)
	assert.Equal(t, 0.2, *body.Temperature)
	require.NotNil(t, body.MaxTokens)
	assert.Equal(t, 2048, *body.MaxTokens)
}

func TestOllamaNewRequestOmitsUnsetLimits(t *testing.T) {
	req, err := Ollama{}.NewRequest(context.Background(), localEndpoint("m"), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)

	raw, _ := io.ReadAll(req.Body)
	assert.NotContains(t, string(raw), "max_tokens")
	assert.NotContains(t, string(raw), "temperature")
}

func TestOllamaNewRequestBearerAuthFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-gateway")
	req, err := Ollama{}.NewRequest(context.Background(), localEndpoint("m"), llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-gateway", req.Header.Get("Authorization"))
}

func TestOllamaURLPassesThroughFullPath(t *testing.T) {
	ep := model.EndpointConfig{Provider: "ollama", URL: "http://vllm:8000/v1/chat/completions", Model: "m"}
	req, err := Ollama{}.NewRequest(context.Background(), ep, llm.Request{
		Messages: []llm.Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "http://vllm:8000/v1/chat/completions", req.URL.String())
}

func TestOllamaDecodeWorkerCompletion(t *testing.T) {
	body := `{
		"model": "qwen2.5-coder:32b",
		"choices": [{
			"message": {"role": "assistant", "content": "FILE: src/parser.go\n` + "```" + `go\npackage parser\n` + "```" + `"},
			"finish_reason": "stop"
		}],
		"usage": {"prompt_tokens": 320, "completion_tokens": 41, "total_tokens": 361}
	}`

	resp, err := Ollama{}.Decode([]byte(body))
	require.NoError(t, err)
	assert.Contains(t, resp.Content, "FILE: src/parser.go")
	assert.Equal(t, "qwen2.5-coder:32b", resp.Model)
	assert.Equal(t, 320, resp.Usage.PromptTokens)
	assert.Equal(t, 41, resp.Usage.CompletionTokens)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestOllamaDecodeRejectsEmptyChoices(t *testing.T) {
	_, err := Ollama{}.Decode([]byte(`{"model": "m", "choices": []}`))
	assert.Error(t, err)
}
