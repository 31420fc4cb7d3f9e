package brain

import (
	"context"
	"fmt"
	"strings"
)

// MockGenerator returns deterministic local replies for development and tests.
type MockGenerator struct{}

func NewMockGenerator() *MockGenerator { return &MockGenerator{} }

func (g *MockGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	base := strings.TrimSpace(req.Input)
	if base == "" {
		base = "I am listening."
	}
	text := fmt.Sprintf("I heard you: %s", base)
	return Response{
		Text:       text,
		TokensUsed: len(strings.Fields(req.Prompt)) + len(strings.Fields(text)),
		Provider:   ProviderMock,
	}, nil
}
