package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("mirador.chaos.repo")

// OllamaClient talks to an Ollama server over its REST API.
type OllamaClient struct {
	baseURL        string
	embeddingModel string
	httpClient     *http.Client
}

// NewOllamaClient constructs a client for baseURL. The timeout bounds each
// HTTP exchange; per-attempt deadlines come from the caller's context.
func NewOllamaClient(baseURL, embeddingModel string, timeout time.Duration) *OllamaClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		embeddingModel: embeddingModel,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

// Generate runs a non-streaming completion.
func (c *OllamaClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("ollama base URL not configured")
	}
	ctx, span := tracer.Start(ctx, "Ollama.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model), attribute.Int("llm.prompt_chars", len(prompt)))

	payload := map[string]any{
		"model":  model,
		"prompt": prompt,
		"stream": false,
	}
	var response struct {
		Response string `json:"response"`
		Error    string `json:"error"`
	}
	if err := c.postJSON(ctx, c.resolvePath("/api/generate"), payload, &response); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("ollama generate failed: %w", err)
	}
	if response.Error != "" {
		err := fmt.Errorf("ollama generate failed: %s", response.Error)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.response_chars", len(response.Response)))
	return response.Response, nil
}

// Embed returns the embedding of text using the configured embedding model.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("ollama base URL not configured")
	}
	ctx, span := tracer.Start(ctx, "Ollama.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.embeddingModel))

	payload := map[string]any{
		"model":  c.embeddingModel,
		"prompt": text,
	}
	var response struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := c.postJSON(ctx, c.resolvePath("/api/embeddings"), payload, &response); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("ollama embeddings failed: %w", err)
	}
	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("ollama embeddings returned no vector")
	}
	return response.Embedding, nil
}

func (c *OllamaClient) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *OllamaClient) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ollama returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
