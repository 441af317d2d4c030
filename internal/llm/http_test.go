package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"rejoin/internal/chat"
)

func serveStream(t *testing.T, contentType string, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", contentType)
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
}

func TestHTTPClientConsumesSSE(t *testing.T) {
	srv := serveStream(t, "text/event-stream", []string{
		`data: {"response":{"id":"resp_abc"}}`,
		``,
		`data: {"delta":"Hel"}`,
		`data: {"delta":"lo"}`,
		`data: [DONE]`,
		`data: {"delta":"ignored after done"}`,
	})
	defer srv.Close()

	var deltas []string
	c := NewHTTPClient(srv.URL, "key", time.Second)
	resp, err := c.StreamResponse(context.Background(), Request{Model: "m"}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.ID != "resp_abc" || resp.Text != "Hello" {
		t.Fatalf("resp = %+v, want id resp_abc text Hello", resp)
	}
	if want := []string{"Hel", "lo"}; !reflect.DeepEqual(deltas, want) {
		t.Fatalf("deltas = %v, want %v", deltas, want)
	}
}

func TestHTTPClientConsumesNDJSON(t *testing.T) {
	srv := serveStream(t, "application/x-ndjson", []string{
		`{"response_id":"r1","text":"Hel"}`,
		`{"text":"lo"}`,
	})
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	resp, err := c.StreamResponse(context.Background(), Request{Model: "m"}, nil)
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.ID != "r1" || resp.Text != "Hello" {
		t.Fatalf("resp = %+v, want id r1 text Hello", resp)
	}
}

func TestHTTPClientConsumesSingleObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"resp_9","output_text":"all done"}`)
	}))
	defer srv.Close()

	var deltas []string
	c := NewHTTPClient(srv.URL, "", time.Second)
	resp, err := c.StreamResponse(context.Background(), Request{Model: "m"}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.ID != "resp_9" || resp.Text != "all done" {
		t.Fatalf("resp = %+v, want id resp_9 text 'all done'", resp)
	}
	if len(deltas) != 1 || deltas[0] != "all done" {
		t.Fatalf("deltas = %v, want one full-text delta", deltas)
	}
}

func TestHTTPClientMissingIDIsNotAnError(t *testing.T) {
	srv := serveStream(t, "text/event-stream", []string{
		`data: {"delta":"anonymous"}`,
		`data: [DONE]`,
	})
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	resp, err := c.StreamResponse(context.Background(), Request{Model: "m"}, nil)
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}
	if resp.ID != "" || resp.Text != "anonymous" {
		t.Fatalf("resp = %+v, want empty id with text", resp)
	}
}

func TestHTTPClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", time.Second)
	_, err := c.StreamResponse(context.Background(), Request{Model: "m"}, nil)

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want StatusError 429", err)
	}
}

func TestHTTPClientSendsRequestShape(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("Authorization = %q, want bearer key", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"resp_1","output_text":"ok"}`)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "secret", time.Second)
	_, err := c.StreamResponse(context.Background(), Request{
		Model:              "m",
		Input:              []chat.Message{{Role: chat.RoleUser, Content: "hi"}},
		PreviousResponseID: "resp_0",
		Tools:              []string{"web_search"},
	}, nil)
	if err != nil {
		t.Fatalf("StreamResponse() error = %v", err)
	}

	if got["model"] != "m" || got["previousResponseId"] != "resp_0" {
		t.Fatalf("request body = %v, want model and previousResponseId", got)
	}
	if _, ok := got["input"].([]any); !ok {
		t.Fatalf("request body input = %T, want array", got["input"])
	}
}

func TestExtractResponseIDShapes(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{`{"response":{"id":"a"}}`, "a"},
		{`{"response":{"response_id":"b"}}`, "b"},
		{`{"response_id":"c"}`, "c"},
		{`{"responseId":"d"}`, "d"},
		{`{"id":"e"}`, "e"},
		{`{"delta":"no id here"}`, ""},
	}
	for _, tc := range cases {
		var obj map[string]any
		if err := json.Unmarshal([]byte(tc.raw), &obj); err != nil {
			t.Fatalf("unmarshal %q: %v", tc.raw, err)
		}
		if got := extractResponseID(obj); got != tc.want {
			t.Fatalf("extractResponseID(%s) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}
