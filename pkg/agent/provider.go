package agent

import (
	"context"
	"fmt"

	"github.com/harun/tastychat/pkg/mcp"
)

// Provider is the model-invocation mechanism behind a session.
type Provider interface {
	// Call makes one model API call
	Call(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name
	Name() string
}

// Request contains the parameters for one model call.
type Request struct {
	Model        string
	Messages     []Message
	Tools        []mcp.ToolDescriptor
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response contains the model's reply.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// NewProvider creates a provider by name. API keys come from the standard
// environment variables the SDKs read themselves (OPENAI_API_KEY,
// ANTHROPIC_API_KEY). baseURL overrides the OpenAI endpoint and is ignored
// by other providers.
func NewProvider(name, baseURL string) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(baseURL), nil
	case "anthropic":
		return NewAnthropicProvider(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
