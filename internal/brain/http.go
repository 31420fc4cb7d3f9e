package brain

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPGenerator posts the request as JSON to a completion endpoint. The
// reply may be a JSON object, plain text, SSE or NDJSON.
type HTTPGenerator struct {
	url    string
	client *http.Client
}

func NewHTTPGenerator(url string, timeout time.Duration) *HTTPGenerator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPGenerator{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &StatusError{Provider: ProviderHTTP, Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out Response
	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		out, err = consumeStream(res.Body)
	} else {
		out, err = consumeBody(res.Body)
	}
	if err != nil {
		return Response{}, err
	}
	out.Text = strings.TrimSpace(out.Text)
	if out.Text == "" {
		return Response{}, errors.New("http brain returned empty text")
	}
	out.Provider = ProviderHTTP
	return out, nil
}

func consumeBody(body io.Reader) (Response, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Response{Text: string(raw)}, nil
	}
	return Response{Text: extractText(obj), TokensUsed: extractTokens(obj)}, nil
}

func consumeStream(body io.Reader) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		out    strings.Builder
		tokens int
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
			if n := extractTokens(obj); n > 0 {
				tokens = n
			}
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}
	return Response{Text: out.String(), TokensUsed: tokens}, nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "output", "message", "response"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func extractTokens(obj map[string]any) int {
	if v, ok := obj["tokens_used"].(float64); ok {
		return int(v)
	}
	if usage, ok := obj["usage"].(map[string]any); ok {
		if v, ok := usage["total_tokens"].(float64); ok {
			return int(v)
		}
	}
	return 0
}
