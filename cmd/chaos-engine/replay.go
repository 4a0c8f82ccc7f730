package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

type replaySummary struct {
	Total    int `json:"total"`
	Degraded int `json:"degraded"`
	Failed   int `json:"failed"`
	Outcomes any `json:"outcomes"`
}

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay sampled shadow traffic once with and without chaos and print the comparison",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			outcomes, err := a.service.Replay(cmd.Context())
			if err != nil {
				return err
			}
			summary := replaySummary{Total: len(outcomes), Outcomes: outcomes}
			for _, o := range outcomes {
				if o.Comparison.Degraded {
					summary.Degraded++
				}
				if o.Comparison.Error != "" {
					summary.Failed++
				}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("encode replay summary: %w", err)
			}
			return nil
		},
	}
}
