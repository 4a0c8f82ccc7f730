package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerateEchoesQuestion(t *testing.T) {
	m := &mock{logger: slog.Default()}
	body := `{"model":"llama3","prompt":"Answer the question:\nwhat is up\n\nContext:\n"}`
	req := httptest.NewRequest(http.MethodPost, "/api/generate", strings.NewReader(body))
	w := httptest.NewRecorder()
	m.handleGenerate(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Response != "[llama3] what is up" {
		t.Fatalf("unexpected response %q", resp.Response)
	}
}

func TestFailureRateOne(t *testing.T) {
	m := &mock{logger: slog.Default(), failureRate: 1}
	req := httptest.NewRequest(http.MethodPost, "/api/embeddings", strings.NewReader(`{"prompt":"x"}`))
	w := httptest.NewRecorder()
	m.handleEmbeddings(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestEmbedIsDeterministic(t *testing.T) {
	a := embed("the quick fox")
	b := embed("The quick fox")
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding differs at %d", i)
		}
	}
	if len(a) != embeddingDims {
		t.Fatalf("unexpected dims %d", len(a))
	}
}
