package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{BaseURL: baseURL, Timeout: 5 * time.Second}, zap.NewNop())
}

func TestCompleteDecodesResponse(t *testing.T) {
	var gotReq Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(Response{
			Text:       "hybrid",
			TokensUsed: 12,
			ModelUsed:  "small-1",
		})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	resp, err := client.Complete(context.Background(), "classify", Request{
		Prompt:      "classify this",
		ModelTier:   "small",
		MaxTokens:   100,
		Temperature: 0.1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "hybrid" || resp.TokensUsed != 12 {
		t.Errorf("unexpected response: %+v", resp)
	}
	if gotReq.ModelTier != "small" || gotReq.MaxTokens != 100 {
		t.Errorf("request not forwarded faithfully: %+v", gotReq)
	}
}

func TestCompleteNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Complete(context.Background(), "rank", Request{Prompt: "p"})
	if err == nil {
		t.Fatal("expected error for 503 response")
	}
}

func TestCompleteEstimatesMissingUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Response{Text: "a reasonably long answer for estimation"})
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	resp, err := client.Complete(context.Background(), "reflect", Request{Prompt: "some prompt text"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TokensUsed == 0 {
		t.Error("expected estimated tokens when service omits usage")
	}
}

func writeSSE(w http.ResponseWriter, frames ...string) {
	flusher := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	for _, f := range frames {
		fmt.Fprintf(w, "data: %s\n\n", f)
		flusher.Flush()
	}
}

func TestCompleteStreamingDeliversTokensInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/completions/stream" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		writeSSE(w,
			`{"token":"The "}`,
			`{"token":"answer"}`,
			`{"token":"."}`,
			`{"done":true,"tokens_used":30,"input_tokens":20,"output_tokens":10,"model_used":"large-1"}`,
		)
	}))
	defer srv.Close()

	var got []string
	client := newTestClient(srv.URL)
	resp, err := client.CompleteStreaming(context.Background(), "synthesize", Request{Prompt: "q"}, func(tok string) error {
		got = append(got, tok)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "The answer." {
		t.Errorf("expected accumulated text, got %q", resp.Text)
	}
	if len(got) != 3 || got[0] != "The " || got[2] != "." {
		t.Errorf("tokens out of order: %v", got)
	}
	if resp.TokensUsed != 30 || resp.OutputTokens != 10 || resp.ModelUsed != "large-1" {
		t.Errorf("usage not taken from done frame: %+v", resp)
	}
}

func TestCompleteStreamingStopsOnCallbackError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w,
			`{"token":"one "}`,
			`{"token":"two "}`,
			`{"token":"three"}`,
			`{"done":true,"tokens_used":5}`,
		)
	}))
	defer srv.Close()

	stop := errors.New("subscriber gone")
	count := 0
	client := newTestClient(srv.URL)
	resp, err := client.CompleteStreaming(context.Background(), "synthesize", Request{Prompt: "q"}, func(tok string) error {
		count++
		if count == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if resp == nil || resp.Text != "one two " {
		t.Fatalf("expected partial text up to abort, got %+v", resp)
	}
}

func TestCompleteStreamingHandlesDoneSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{"token":"x"}`, `[DONE]`)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	resp, err := client.CompleteStreaming(context.Background(), "synthesize", Request{Prompt: "q"}, func(string) error { return nil })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "x" {
		t.Errorf("expected text before sentinel, got %q", resp.Text)
	}
	if resp.TokensUsed == 0 {
		t.Error("expected estimated usage when stream ends at sentinel")
	}
}

func TestCompleteStreamingSurfacesServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeSSE(w, `{"token":"partial "}`, `{"error":"provider quota exhausted"}`)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	resp, err := client.CompleteStreaming(context.Background(), "synthesize", Request{Prompt: "q"}, func(string) error { return nil })
	if err == nil {
		t.Fatal("expected stream error")
	}
	if resp == nil || resp.Text != "partial " {
		t.Fatalf("expected partial text before error, got %+v", resp)
	}
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://svc:8000/"}, zap.NewNop())
	if client.BaseURL() != "http://svc:8000" {
		t.Errorf("expected trailing slash stripped, got %q", client.BaseURL())
	}
}
