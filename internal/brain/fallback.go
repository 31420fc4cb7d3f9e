package brain

import (
	"context"
	"errors"
	"fmt"
)

// FallbackGenerator tries primary first and falls back on error. Caller
// cancellation is returned as-is.
type FallbackGenerator struct {
	primary  Generator
	fallback Generator
}

func NewFallbackGenerator(primary, fallback Generator) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, fallback: fallback}
}

func (g *FallbackGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	if g == nil || g.primary == nil {
		if g != nil && g.fallback != nil {
			return g.fallback.Generate(ctx, req)
		}
		return Response{}, fmt.Errorf("fallback generator misconfigured")
	}
	resp, err := g.primary.Generate(ctx, req)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return Response{}, err
	}
	if g.fallback == nil {
		return Response{}, err
	}
	fallbackResp, fallbackErr := g.fallback.Generate(ctx, req)
	if fallbackErr != nil {
		return Response{}, fmt.Errorf("primary generator error: %w; fallback generator error: %v", err, fallbackErr)
	}
	return fallbackResp, nil
}
