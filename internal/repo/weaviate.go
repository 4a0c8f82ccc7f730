package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	wvtmodels "github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel/attribute"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// WeaviateRetriever returns the text of the nearest documents to a query.
type WeaviateRetriever struct {
	client    *weaviate.Client
	embedder  Embedder
	className string
	topK      int
	timeout   time.Duration
}

// NewWeaviateRetriever connects to endpoint. An empty endpoint yields a
// retriever that always returns no context.
func NewWeaviateRetriever(endpoint, apiKey, className string, topK int, timeout time.Duration, embedder Embedder) (*WeaviateRetriever, error) {
	if topK <= 0 {
		topK = 3
	}
	if className == "" {
		className = "Document"
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &WeaviateRetriever{embedder: embedder, className: className, topK: topK, timeout: timeout}
	if endpoint == "" {
		return r, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate endpoint %q", endpoint)
	}
	cfg := weaviate.Config{Host: parsed.Host, Scheme: parsed.Scheme}
	if apiKey != "" {
		cfg.Headers = map[string]string{"Authorization": "Bearer " + apiKey}
	}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	r.client = client
	return r, nil
}

// Retrieve embeds query and runs a nearVector search.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string) ([]string, error) {
	if r.client == nil {
		return []string{}, nil
	}
	ctx, span := tracer.Start(ctx, "Weaviate.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("weaviate.class", r.className), attribute.Int("weaviate.top_k", r.topK))

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	nearVector := r.client.GraphQL().NearVectorArgBuilder().WithVector(vector)
	result, err := r.client.GraphQL().Get().
		WithClassName(r.className).
		WithFields(graphql.Field{Name: "text"}).
		WithNearVector(nearVector).
		WithLimit(r.topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	chunks, err := parseChunks(result, r.className)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("weaviate.results", len(chunks)))
	return chunks, nil
}

func parseChunks(resp *wvtmodels.GraphQLResponse, className string) ([]string, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("weaviate search error: %s", strings.Join(msgs, "; "))
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal GraphQL data: %w", err)
	}
	var parsed struct {
		Get map[string][]struct {
			Text string `json:"text"`
		} `json:"Get"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal GraphQL data: %w", err)
	}

	chunks := make([]string, 0, len(parsed.Get[className]))
	for _, doc := range parsed.Get[className] {
		if doc.Text != "" {
			chunks = append(chunks, doc.Text)
		}
	}
	return chunks, nil
}
