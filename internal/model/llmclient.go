package model

import (
	"context"

	"github.com/harunnryd/heike/internal/model/contract"
)

// RouterLLMClient adapts a ModelRouter to the narrow Complete/
// ChatComplete surface the Planner and Reflector depend on
// (cognitive.LLMClient), so neither component ever needs to know
// about fallback chains, provider selection, or tracing.
type RouterLLMClient struct {
	router Router
	model  string
}

// Router is the subset of ModelRouter a RouterLLMClient needs.
type Router interface {
	Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error)
}

// NewRouterLLMClient binds a Router to the model name the Planner and
// Reflector address requests to (models.default in config).
func NewRouterLLMClient(router Router, modelName string) *RouterLLMClient {
	return &RouterLLMClient{router: router, model: modelName}
}

func (c *RouterLLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.router.Route(ctx, c.model, contract.CompletionRequest{
		Model:    c.model,
		Messages: []contract.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *RouterLLMClient) ChatComplete(ctx context.Context, messages []contract.Message, tools []contract.ToolDef) (string, []*contract.ToolCall, error) {
	resp, err := c.router.Route(ctx, c.model, contract.CompletionRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return "", nil, err
	}
	return resp.Content, resp.ToolCalls, nil
}
