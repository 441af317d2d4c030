package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to a Responses-style HTTP endpoint. The service streams
// either server-sent events or newline-delimited JSON; event shapes vary
// across versions, so the response id and text are probed from the handful
// of field names seen in the wild and normalized here.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  strings.TrimSpace(apiKey),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) StreamResponse(ctx context.Context, req Request, onDelta DeltaHandler) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Response{}, &StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		return consumeStream(res.Body, onDelta)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		text := strings.TrimSpace(string(body))
		if text == "" {
			return Response{}, nil
		}
		if onDelta != nil {
			if err := onDelta(text); err != nil {
				return Response{}, err
			}
		}
		return Response{Text: text}, nil
	}

	resp := Response{ID: extractResponseID(obj), Text: extractFullText(obj)}
	if resp.Text != "" && onDelta != nil {
		if err := onDelta(resp.Text); err != nil {
			return Response{}, err
		}
	}
	return resp, nil
}

// consumeStream drains an SSE or NDJSON body line by line, forwarding text
// deltas as they decode and remembering the first response id any event
// carries. "[DONE]" ends an SSE stream.
func consumeStream(body io.Reader, onDelta DeltaHandler) (Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	var responseID string
	var finalText string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
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
			if id := extractResponseID(obj); id != "" && responseID == "" {
				responseID = id
			}
			if text := extractFullText(obj); text != "" {
				finalText = text
			}
			delta = strings.TrimSpace(extractDelta(obj))
		}

		if delta == "" {
			continue
		}
		out.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return Response{}, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Response{}, fmt.Errorf("stream read: %w", err)
	}

	text := out.String()
	if text == "" {
		text = finalText
	}
	return Response{ID: responseID, Text: text}, nil
}

// extractResponseID probes the field names different service versions have
// used for the response identifier.
func extractResponseID(obj map[string]any) string {
	if nested, ok := obj["response"].(map[string]any); ok {
		if id := pickString(nested, "id", "response_id", "responseId"); id != "" {
			return id
		}
	}
	return pickString(obj, "response_id", "responseId", "id")
}

// extractDelta probes the field names used for incremental text.
func extractDelta(obj map[string]any) string {
	return pickString(obj, "delta", "text")
}

// extractFullText probes the field names used for the complete output text
// on final events and non-streamed bodies.
func extractFullText(obj map[string]any) string {
	if text := pickString(obj, "output_text", "outputText"); text != "" {
		return text
	}
	if nested, ok := obj["response"].(map[string]any); ok {
		return pickString(nested, "output_text", "outputText")
	}
	return ""
}

func pickString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
