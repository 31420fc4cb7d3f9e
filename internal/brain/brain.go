package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/resonance/internal/observability"
)

// ErrUnconfigured is returned by every call when no generative service is set up.
var ErrUnconfigured = errors.New("generative service not configured")

// Provider names.
const (
	ProviderOpenAI       = "openai"
	ProviderHTTP         = "http"
	ProviderMock         = "mock"
	ProviderUnconfigured = "none"
)

// Request is one completion call.
type Request struct {
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	UserID      string  `json:"user_id,omitempty"`
	// Input is the raw user message the prompt was built around.
	Input string `json:"input,omitempty"`
}

// Response is the generated text and its token usage.
type Response struct {
	Text       string `json:"text"`
	TokensUsed int    `json:"tokens_used"`
	Provider   string `json:"provider"`
}

// Generator is the generative text capability: one opaque fallible call.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// StatusError is an upstream rejection with its HTTP status.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s status %d", e.Provider, e.Code)
	}
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.Code, e.Body)
}

func (e *StatusError) HTTPStatus() int { return e.Code }

// Config controls generator construction.
type Config struct {
	Mode          string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	HTTPURL       string
	Timeout       time.Duration
	MaxRetries    int
	RetryBase     time.Duration
	Metrics       *observability.Metrics
}

// NewGenerator builds the configured generator. In auto mode OpenAI is
// preferred when a key is present, with the HTTP endpoint as its fallback;
// with neither the result is Unconfigured.
func NewGenerator(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	retry := func(g Generator, provider string) Generator {
		return NewRetrying(g, RetryConfig{
			Provider:    provider,
			MaxRetries:  cfg.MaxRetries,
			Base:        cfg.RetryBase,
			CallTimeout: cfg.Timeout,
			Metrics:     cfg.Metrics,
		})
	}

	switch mode {
	case "auto":
		var chain []Generator
		if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
			chain = append(chain, retry(NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), ProviderOpenAI))
		}
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			chain = append(chain, retry(NewHTTPGenerator(cfg.HTTPURL, cfg.Timeout), ProviderHTTP))
		}
		switch len(chain) {
		case 0:
			return Unconfigured{}, nil
		case 1:
			return chain[0], nil
		default:
			return NewFallbackGenerator(chain[0], chain[1]), nil
		}
	case ProviderOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for openai mode")
		}
		return retry(NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL), ProviderOpenAI), nil
	case ProviderHTTP:
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("BRAIN_HTTP_URL is required for http mode")
		}
		return retry(NewHTTPGenerator(cfg.HTTPURL, cfg.Timeout), ProviderHTTP), nil
	case ProviderMock:
		return NewMockGenerator(), nil
	case ProviderUnconfigured:
		return Unconfigured{}, nil
	default:
		return nil, fmt.Errorf("unsupported brain mode %q", cfg.Mode)
	}
}

// Unconfigured fails every call with ErrUnconfigured.
type Unconfigured struct{}

func (Unconfigured) Generate(context.Context, Request) (Response, error) {
	return Response{}, ErrUnconfigured
}

// Configured reports whether g can produce text at all.
func Configured(g Generator) bool {
	if g == nil {
		return false
	}
	switch g.(type) {
	case Unconfigured, *Unconfigured:
		return false
	}
	return true
}
