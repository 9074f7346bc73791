package retrieval

import (
	"context"

	"github.com/sage0/sage/internal/llm"
)

// ModelCaller issues the two structured model calls the engine makes.
// The concrete implementation wraps llm.Client; tests substitute fakes.
type ModelCaller interface {
	Plan(ctx context.Context, system, user string) (Plan, llm.Usage, error)
	Answer(ctx context.Context, system, user string) (Answer, llm.Usage, error)
}

// GenkitCaller implements ModelCaller on top of llm.Client.
type GenkitCaller struct {
	client *llm.Client
}

// NewGenkitCaller wraps client as a ModelCaller.
func NewGenkitCaller(client *llm.Client) *GenkitCaller {
	return &GenkitCaller{client: client}
}

func (c *GenkitCaller) Plan(ctx context.Context, system, user string) (Plan, llm.Usage, error) {
	return llm.Complete[Plan](ctx, c.client, system, user)
}

func (c *GenkitCaller) Answer(ctx context.Context, system, user string) (Answer, llm.Usage, error) {
	return llm.Complete[Answer](ctx, c.client, system, user)
}
