package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OpenAIClient serves generation and embeddings from an OpenAI-compatible API.
type OpenAIClient struct {
	client         *openai.Client
	embeddingModel string
}

// NewOpenAIClient builds a client. An empty baseURL targets api.openai.com.
func NewOpenAIClient(apiKey, baseURL, embeddingModel string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), embeddingModel: embeddingModel}
}

// Generate sends prompt as a single user message.
func (o *OpenAIClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAI.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model))

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("openai chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding of text.
func (o *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "OpenAI.Embed")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.embeddingModel))

	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.embeddingModel),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("openai embeddings failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embeddings returned no vector")
	}
	return resp.Data[0].Embedding, nil
}
