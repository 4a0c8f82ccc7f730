package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-chaos/internal/chaos"
	"github.com/miradorstack/mirador-chaos/internal/policy"
	"github.com/miradorstack/mirador-chaos/internal/slo"
)

type lintReport struct {
	SLO      slo.Targets      `json:"slo"`
	Policies []policy.Policy  `json:"policies"`
	Faults   chaos.FaultTable `json:"faults"`
	Unknown  []string         `json:"unknown_actions,omitempty"`
}

func newSLOCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slo",
		Short: "Load and print the configured SLO targets, policies and fault table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			report := lintReport{
				SLO:      a.targets,
				Policies: a.policies,
				Faults:   a.injector.Faults(),
			}
			for _, p := range a.policies {
				for _, name := range p.Actions {
					if policy.ParseAction(name) == policy.ActionUnknown {
						report.Unknown = append(report.Unknown, fmt.Sprintf("%s: %s", p.Name, name))
					}
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return fmt.Errorf("encode slo report: %w", err)
			}
			return nil
		},
	}
}
