package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mod-watchdog/internal/history"
)

var historyLimit int

type shownRun struct {
	RunID      string     `yaml:"run_id"`
	Mode       string     `yaml:"mode"`
	StartedAt  string     `yaml:"started_at"`
	Duration   string     `yaml:"duration"`
	Requested  int        `yaml:"requested"`
	Resolved   int        `yaml:"resolved"`
	Drift      bool       `yaml:"drift"`
	FinalState string     `yaml:"final_state,omitempty"`
	Error      string     `yaml:"error,omitempty"`
	Updates    []shownMod `yaml:"updates,omitempty"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print recent runs and the mod updates they detected",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		if a.cfg.Paths.History == "" {
			return fmt.Errorf("paths.history is not configured")
		}

		hs, err := history.Open(a.cfg.Paths.History)
		if err != nil {
			return err
		}
		defer hs.Close()

		ctx := cmd.Context()
		runs, err := hs.RecentRuns(ctx, historyLimit)
		if err != nil {
			return err
		}
		out := make([]shownRun, 0, len(runs))
		for _, r := range runs {
			sr := shownRun{
				RunID:      r.RunID,
				Mode:       r.Mode,
				StartedAt:  r.StartedAt.Format(time.RFC3339),
				Duration:   r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
				Requested:  r.Requested,
				Resolved:   r.Resolved,
				Drift:      r.Drift,
				FinalState: r.FinalState,
				Error:      r.Error,
			}
			changes, err := hs.ModUpdates(ctx, r.RunID)
			if err != nil {
				return err
			}
			for _, c := range changes {
				sr.Updates = append(sr.Updates, shownMod{
					ID:          c.ID,
					Name:        c.Name,
					TimeUpdated: c.Current,
					Updated:     time.Unix(c.Current, 0).UTC().Format(time.RFC3339),
				})
			}
			out = append(out, sr)
		}

		b, err := yaml.Marshal(out)
		if err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(b)
		return err
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "Number of runs to print")
}
