package slo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Objective is one SLO entry. Only the threshold relevant to the metric is read.
type Objective struct {
	WindowDays float64 `yaml:"window_days" json:"window_days"`
	Target     float64 `yaml:"target,omitempty" json:"target,omitempty"`
	P95Ms      float64 `yaml:"p95_ms,omitempty" json:"p95_ms,omitempty"`
	MaxRate    float64 `yaml:"max_rate,omitempty" json:"max_rate,omitempty"`
}

// Targets groups the four objectives the evaluator checks.
type Targets struct {
	Availability      Objective `yaml:"availability" json:"availability"`
	Latency           Objective `yaml:"latency" json:"latency"`
	HallucinationRate Objective `yaml:"hallucination_rate" json:"hallucination_rate"`
	FallbackRate      Objective `yaml:"fallback_rate" json:"fallback_rate"`
}

type targetsFile struct {
	SLO Targets `yaml:"slo"`
}

// DefaultTargets are used when no SLO file is configured.
func DefaultTargets() Targets {
	return Targets{
		Availability:      Objective{WindowDays: 1, Target: 0.99},
		Latency:           Objective{WindowDays: 1, P95Ms: 2000},
		HallucinationRate: Objective{WindowDays: 1, MaxRate: 0.05},
		FallbackRate:      Objective{WindowDays: 1, MaxRate: 0.2},
	}
}

// ParseTargets decodes an `slo:` document over the defaults.
func ParseTargets(data []byte) (Targets, error) {
	doc := targetsFile{SLO: DefaultTargets()}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Targets{}, fmt.Errorf("parse slo targets: %w", err)
	}
	for name, obj := range map[string]Objective{
		"availability":       doc.SLO.Availability,
		"latency":            doc.SLO.Latency,
		"hallucination_rate": doc.SLO.HallucinationRate,
		"fallback_rate":      doc.SLO.FallbackRate,
	} {
		if obj.WindowDays <= 0 {
			return Targets{}, fmt.Errorf("slo %s: window_days must be positive", name)
		}
	}
	return doc.SLO, nil
}

// LoadTargets reads targets from path. A missing file yields the defaults.
func LoadTargets(path string) (Targets, error) {
	if path == "" {
		return DefaultTargets(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultTargets(), nil
		}
		return Targets{}, fmt.Errorf("read slo targets: %w", err)
	}
	return ParseTargets(data)
}

func (t Targets) longestWindowDays() float64 {
	longest := t.Availability.WindowDays
	for _, d := range []float64{t.Latency.WindowDays, t.HallucinationRate.WindowDays, t.FallbackRate.WindowDays} {
		if d > longest {
			longest = d
		}
	}
	return longest
}
