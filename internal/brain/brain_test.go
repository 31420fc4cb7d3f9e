package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGeneratorAutoWithoutProvidersIsUnconfigured(t *testing.T) {
	g, err := NewGenerator(Config{Mode: "auto"})
	require.NoError(t, err)
	assert.False(t, Configured(g))

	_, err = g.Generate(context.Background(), Request{Prompt: "hi"})
	assert.ErrorIs(t, err, ErrUnconfigured)
	assert.True(t, IsUnconfigured(err))
}

func TestNewGeneratorModes(t *testing.T) {
	g, err := NewGenerator(Config{Mode: "mock"})
	require.NoError(t, err)
	assert.True(t, Configured(g))

	_, err = NewGenerator(Config{Mode: "openai"})
	assert.Error(t, err)
	_, err = NewGenerator(Config{Mode: "http"})
	assert.Error(t, err)
	_, err = NewGenerator(Config{Mode: "carrier-pigeon"})
	assert.Error(t, err)

	g, err = NewGenerator(Config{Mode: "auto", HTTPURL: "http://127.0.0.1:1/complete"})
	require.NoError(t, err)
	assert.IsType(t, &Retrying{}, g)

	g, err = NewGenerator(Config{Mode: "auto", HTTPURL: "http://127.0.0.1:1/complete", OpenAIAPIKey: "sk-test"})
	require.NoError(t, err)
	assert.IsType(t, &FallbackGenerator{}, g)
}

func TestMockGeneratorEchoesInput(t *testing.T) {
	resp, err := NewMockGenerator().Generate(context.Background(), Request{Prompt: "p q", Input: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "I heard you: hello", resp.Text)
	assert.Equal(t, ProviderMock, resp.Provider)
	assert.Positive(t, resp.TokensUsed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewMockGenerator().Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPGeneratorJSON(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  warm reply  ","usage":{"total_tokens":42}}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPGenerator(srv.URL, time.Second).Generate(context.Background(), Request{
		Prompt: "prompt", Temperature: 0.8, MaxTokens: 500, UserID: "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, "warm reply", resp.Text)
	assert.Equal(t, 42, resp.TokensUsed)
	assert.Equal(t, ProviderHTTP, resp.Provider)
	assert.Equal(t, 500, got.MaxTokens)
	assert.Equal(t, 0.8, got.Temperature)
}

func TestHTTPGeneratorSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, strings.Join([]string{
			": keepalive",
			"",
			`data: {"delta":"Hel"}`,
			"",
			`data: {"delta":"lo","tokens_used":7}`,
			"",
			"data: [DONE]",
			"",
		}, "\n"))
	}))
	defer srv.Close()

	resp, err := NewHTTPGenerator(srv.URL, time.Second).Generate(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, 7, resp.TokensUsed)
}

func TestHTTPGeneratorNDJSONAndPlainText(t *testing.T) {
	assert := assert.New(t)
	out, err := consumeStream(strings.NewReader("{\"delta\":\"Hi\"}\n{\"delta\":\" there\"}\n[DONE]\n"))
	require.NoError(t, err)
	assert.Equal("Hi there", out.Text)

	out, err = consumeBody(strings.NewReader("just text"))
	require.NoError(t, err)
	assert.Equal("just text", out.Text)
}

func TestHTTPGeneratorStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewHTTPGenerator(srv.URL, time.Second).Generate(context.Background(), Request{Prompt: "x"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.HTTPStatus())
	assert.Contains(t, se.Error(), "quota exceeded")
}

func TestHTTPGeneratorEmptyTextIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":""}`))
	}))
	defer srv.Close()

	_, err := NewHTTPGenerator(srv.URL, time.Second).Generate(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)
}

type funcGenerator func(ctx context.Context, req Request) (Response, error)

func (f funcGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

func TestFallbackGeneratorUsesFallback(t *testing.T) {
	g := NewFallbackGenerator(
		funcGenerator(func(context.Context, Request) (Response, error) { return Response{}, errors.New("down") }),
		funcGenerator(func(context.Context, Request) (Response, error) { return Response{Text: "fallback"}, nil }),
	)
	resp, err := g.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Text)
}

func TestFallbackGeneratorSkipsFallbackOnCanceledContext(t *testing.T) {
	var calls atomic.Int32
	g := NewFallbackGenerator(
		funcGenerator(func(context.Context, Request) (Response, error) { return Response{}, context.Canceled }),
		funcGenerator(func(context.Context, Request) (Response, error) {
			calls.Add(1)
			return Response{Text: "fallback"}, nil
		}),
	)
	_, err := g.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestFallbackGeneratorJoinsErrors(t *testing.T) {
	g := NewFallbackGenerator(
		funcGenerator(func(context.Context, Request) (Response, error) { return Response{}, errors.New("primary down") }),
		funcGenerator(func(context.Context, Request) (Response, error) { return Response{}, errors.New("secondary down") }),
	)
	_, err := g.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "primary down")
	assert.Contains(t, err.Error(), "secondary down")
}

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetryingRetriesRetryableErrors(t *testing.T) {
	var calls atomic.Int32
	r := NewRetrying(funcGenerator(func(context.Context, Request) (Response, error) {
		if calls.Add(1) < 3 {
			return Response{}, &StatusError{Provider: "test", Code: 503}
		}
		return Response{Text: "ok"}, nil
	}), RetryConfig{Provider: "test", MaxRetries: 2})
	r.sleep = noSleep

	resp, err := r.Generate(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryingStopsOnPermanentError(t *testing.T) {
	var calls atomic.Int32
	r := NewRetrying(funcGenerator(func(context.Context, Request) (Response, error) {
		calls.Add(1)
		return Response{}, &StatusError{Provider: "test", Code: 401}
	}), RetryConfig{Provider: "test", MaxRetries: 3})
	r.sleep = noSleep

	_, err := r.Generate(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryingAppliesCallTimeout(t *testing.T) {
	r := NewRetrying(funcGenerator(func(ctx context.Context, _ Request) (Response, error) {
		<-ctx.Done()
		return Response{}, ctx.Err()
	}), RetryConfig{Provider: "test", CallTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := r.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
