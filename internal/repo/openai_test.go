package repo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIGenerateAndEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v1/chat/completions":
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req["model"] != "gpt-test" {
				t.Errorf("unexpected model %v", req["model"])
			}
			_, _ = w.Write([]byte(`{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"pong"},"finish_reason":"stop"}]}`))
		case "/v1/embeddings":
			_, _ = w.Write([]byte(`{"object":"list","data":[{"object":"embedding","index":0,"embedding":[1,0,0]}],"model":"embed-test"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", srv.URL+"/v1", "embed-test")

	text, err := client.Generate(context.Background(), "gpt-test", "ping")
	if err != nil || text != "pong" {
		t.Fatalf("unexpected generate result %q %v", text, err)
	}
	vec, err := client.Embed(context.Background(), "ping")
	if err != nil || len(vec) != 3 || vec[0] != 1 {
		t.Fatalf("unexpected embed result %v %v", vec, err)
	}
}

func TestOpenAIGenerateFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient("test-key", srv.URL+"/v1", "embed-test")
	if _, err := client.Generate(context.Background(), "gpt-test", "ping"); err == nil {
		t.Fatalf("expected error")
	}
}
