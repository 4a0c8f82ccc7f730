// Package quality scores answers for groundedness and hallucination.
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-chaos/internal/metrics"
	"github.com/miradorstack/mirador-chaos/internal/models"
	"github.com/miradorstack/mirador-chaos/internal/utils"
)

const (
	groundednessFloor = 0.4
	judgeFloor        = 0.5
	judgeFallback     = 0.5
)

const judgeTemplate = `You are an AI evaluator.

Question:
%s

Context:
%s

Answer:
%s

Task:
Score from 0.0 to 1.0 how well the answer is supported by the context.
Only return a number.`

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Generator asks the judge model for a score.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// Scorer combines embedding groundedness with an LLM judge.
type Scorer struct {
	embedder   Embedder
	judge      Generator
	judgeModel string
	logger     *slog.Logger
}

// NewScorer constructs a Scorer.
func NewScorer(embedder Embedder, judge Generator, judgeModel string, logger *slog.Logger) *Scorer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{embedder: embedder, judge: judge, judgeModel: judgeModel, logger: logger}
}

// Evaluate scores answer against chunks for question.
func (s *Scorer) Evaluate(ctx context.Context, answer string, chunks []string, question string) models.Quality {
	q := models.Quality{
		Groundedness: s.Groundedness(ctx, answer, chunks),
		JudgeScore:   s.Judge(ctx, answer, chunks, question),
	}
	q.Hallucinated = q.Groundedness < groundednessFloor && q.JudgeScore < judgeFloor
	metrics.ObserveQuality(q.Groundedness)
	if q.Hallucinated {
		metrics.IncHallucination()
	}
	return q
}

// Groundedness is the cosine similarity of the answer and the joined context.
func (s *Scorer) Groundedness(ctx context.Context, answer string, chunks []string) float64 {
	if len(chunks) == 0 || s.embedder == nil {
		return 0
	}
	a, err := s.embedder.Embed(ctx, answer)
	if err != nil {
		s.logger.Warn("embed answer failed", slog.Any("error", err))
		return 0
	}
	c, err := s.embedder.Embed(ctx, strings.Join(chunks, " "))
	if err != nil {
		s.logger.Warn("embed context failed", slog.Any("error", err))
		return 0
	}
	return utils.Cosine(a, c)
}

// Judge asks the judge model for a [0,1] support score.
func (s *Scorer) Judge(ctx context.Context, answer string, chunks []string, question string) float64 {
	if s.judge == nil {
		return judgeFallback
	}
	prompt := fmt.Sprintf(judgeTemplate, question, strings.Join(chunks, "\n"), answer)
	reply, err := s.judge.Generate(ctx, s.judgeModel, prompt)
	if err != nil {
		s.logger.Debug("judge call failed", slog.Any("error", err))
		return judgeFallback
	}
	score, err := parseScore(reply)
	if err != nil {
		s.logger.Debug("judge reply not numeric", slog.String("reply", reply))
		return judgeFallback
	}
	return score
}

func parseScore(reply string) (float64, error) {
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty judge reply")
	}
	score, err := strconv.ParseFloat(strings.TrimRight(fields[0], ".,;"), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(score) {
		return 0, fmt.Errorf("judge reply %q is not a number", fields[0])
	}
	return min(max(score, 0), 1), nil
}
