package chaos

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Fault names understood by the injector.
const (
	FaultLatency        = "latency"
	FaultDropRetrieval  = "drop_retrieval"
	FaultCorruptContext = "corrupt_context"
	FaultOverflowPrompt = "overflow_prompt"
	FaultKillModel      = "kill_model"
)

// FaultRule is one entry of the fault table.
type FaultRule struct {
	Name        string         `yaml:"-" json:"name"`
	Enabled     bool           `yaml:"enabled" json:"enabled"`
	Probability float64        `yaml:"probability" json:"probability"`
	Params      map[string]any `yaml:"params" json:"params,omitempty"`
}

// FaultTable maps fault name to rule. A table is never mutated after it has
// been handed to an Injector; reloads swap in a new table.
type FaultTable map[string]FaultRule

type faultFile struct {
	Faults map[string]FaultRule `yaml:"faults"`
}

// ParseFaultTable decodes a YAML fault table.
func ParseFaultTable(data []byte) (FaultTable, error) {
	var file faultFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse fault table: %w", err)
	}
	table := make(FaultTable, len(file.Faults))
	for name, rule := range file.Faults {
		if rule.Probability < 0 || rule.Probability > 1 {
			return nil, fmt.Errorf("fault %s: probability %v outside [0,1]", name, rule.Probability)
		}
		rule.Name = name
		table[name] = rule
	}
	return table, nil
}

// LoadFaultTable reads a fault table from disk. A missing file yields an
// empty table.
func LoadFaultTable(path string) (FaultTable, error) {
	if path == "" {
		return FaultTable{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return FaultTable{}, nil
		}
		return nil, fmt.Errorf("read fault table: %w", err)
	}
	return ParseFaultTable(data)
}

func (t FaultTable) clone() FaultTable {
	out := make(FaultTable, len(t))
	for name, rule := range t {
		out[name] = rule
	}
	return out
}

func intParam(params map[string]any, key string, def int) int {
	v, ok := params[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case uint64:
		return int(n)
	}
	return def
}
