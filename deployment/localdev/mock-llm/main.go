// Command mock-llm is a fake Ollama backend for local runs. MOCK_FAILURE_RATE
// makes a fraction of requests fail with 503; MOCK_LATENCY adds a delay.
package main

import (
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/utils"
)

const embeddingDims = 16

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type mock struct {
	failureRate float64
	latency     time.Duration
	logger      *slog.Logger
}

func main() {
	logger := utils.Component(utils.NewLogger(os.Getenv("MOCK_LOG_LEVEL"), false), "mock-llm")
	m := &mock{logger: logger}
	if v, err := strconv.ParseFloat(os.Getenv("MOCK_FAILURE_RATE"), 64); err == nil {
		m.failureRate = v
	}
	if v, err := time.ParseDuration(os.Getenv("MOCK_LATENCY")); err == nil {
		m.latency = v
	}
	addr := os.Getenv("MOCK_ADDRESS")
	if addr == "" {
		addr = ":11434"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/generate", m.handleGenerate)
	mux.HandleFunc("/api/embeddings", m.handleEmbeddings)

	srv := &http.Server{
		Addr:              addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("listening", slog.String("address", addr), slog.Float64("failure_rate", m.failureRate))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

// degrade applies latency and random failure; false means the request was
// already answered with an error.
func (m *mock) degrade(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if m.latency > 0 {
		select {
		case <-time.After(m.latency):
		case <-r.Context().Done():
			return false
		}
	}
	if m.failureRate > 0 && rand.Float64() < m.failureRate {
		http.Error(w, `{"error":"model overloaded"}`, http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (m *mock) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if !m.degrade(w, r) {
		return
	}
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}
	var answer string
	switch {
	case strings.HasPrefix(req.Prompt, "You are an AI evaluator"):
		answer = "0.8"
	case strings.Contains(req.Prompt, "postmortem"):
		answer = "Summary: degraded SLOs detected.\nImpact: elevated error rate.\nRemediation: applied policies.\nFollow-up: review fault table."
	default:
		answer = "[" + req.Model + "] " + firstLine(req.Prompt)
	}
	writeJSON(w, map[string]any{"model": req.Model, "response": answer, "done": true})
}

func (m *mock) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if !m.degrade(w, r) {
		return
	}
	var req embeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"embedding": embed(req.Prompt)})
}

// embed hashes words into a fixed-size bag-of-words vector so that similar
// texts land close together.
func embed(text string) []float32 {
	vec := make([]float32, embeddingDims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%embeddingDims]++
	}
	return vec
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" && !strings.HasSuffix(line, ":") {
			return line
		}
	}
	return "no question provided"
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
