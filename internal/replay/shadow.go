// Package replay samples live traffic and re-runs it under controlled chaos.
package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/miradorstack/mirador-chaos/internal/models"
)

// ShadowLogger appends a sampled subset of live queries to a JSONL file.
type ShadowLogger struct {
	path       string
	sampleRate float64
	logger     *slog.Logger
	rand       func() float64
	now        func() time.Time

	mu sync.Mutex
}

// NewShadowLogger creates the log directory if needed.
func NewShadowLogger(path string, sampleRate float64, logger *slog.Logger) (*ShadowLogger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create shadow log dir: %w", err)
		}
	}
	return &ShadowLogger{
		path:       path,
		sampleRate: sampleRate,
		logger:     logger,
		rand:       rand.Float64,
		now:        time.Now,
	}, nil
}

// Path returns the log location.
func (s *ShadowLogger) Path() string {
	return s.path
}

// Log samples query. It reports whether the query was written.
func (s *ShadowLogger) Log(query string) (bool, error) {
	if s.rand() >= s.sampleRate {
		return false, nil
	}
	line, err := json.Marshal(models.ShadowSample{Timestamp: s.now().UTC(), Query: query})
	if err != nil {
		return false, fmt.Errorf("encode shadow sample: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, fmt.Errorf("open shadow log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return false, fmt.Errorf("append shadow sample: %w", err)
	}
	return true, f.Close()
}

// LoadSamples reads every sample from path. A missing file yields none;
// malformed lines are skipped.
func LoadSamples(path string, logger *slog.Logger) ([]models.ShadowSample, error) {
	if logger == nil {
		logger = slog.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open shadow log: %w", err)
	}
	defer f.Close()

	var samples []models.ShadowSample
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var sample models.ShadowSample
		if err := json.Unmarshal(raw, &sample); err != nil || sample.Query == "" {
			logger.Warn("skipping malformed shadow sample", slog.Int("line", lineNo), slog.Any("error", err))
			continue
		}
		samples = append(samples, sample)
	}
	if err := scanner.Err(); err != nil {
		return samples, fmt.Errorf("read shadow log: %w", err)
	}
	return samples, nil
}
