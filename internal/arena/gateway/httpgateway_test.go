package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPGatewayInvokeParsesMessageContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer testkey" {
			t.Errorf("Authorization header = %q", got)
		}
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hello there"}}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "testkey")
	text, usage, err := gw.Invoke(context.Background(), "model-a", "hi", Opts{})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if text != "hello there" {
		t.Fatalf("text = %q, want %q", text, "hello there")
	}
	if usage.PromptTokens != 3 || usage.CompletionTokens != 2 {
		t.Fatalf("usage = %+v", usage)
	}
}

func TestHTTPGatewayInvokeMapsRateLimitStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "testkey")
	_, _, err := gw.Invoke(context.Background(), "model-a", "hi", Opts{})
	me, ok := AsModelError(err)
	if !ok || me.Kind != ErrKindRateLimited {
		t.Fatalf("err = %v, want ErrKindRateLimited", err)
	}
}

func TestHTTPGatewayStreamRelaysDeltasUntilDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"he\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"llo\"}}]}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	gw := NewHTTPGateway(srv.URL, "testkey")
	deltas, err := gw.Stream(context.Background(), "model-a", "hi", Opts{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var text string
	sawFinal := false
	for d := range deltas {
		if d.Err != nil {
			t.Fatalf("unexpected delta error: %v", d.Err)
		}
		text += d.Text
		if d.Final {
			sawFinal = true
		}
	}
	if !sawFinal {
		t.Fatal("expected a final delta after [DONE]")
	}
	if text != "hello" {
		t.Fatalf("accumulated text = %q, want hello", text)
	}
}
