package main

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"mod-watchdog/internal/logging"
	"mod-watchdog/internal/snapshot"
)

type shownMod struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	TimeUpdated int64  `yaml:"time_updated"`
	Updated     string `yaml:"updated"`
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored snapshot as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		log := logging.FromContext(cmd.Context())

		store := snapshot.NewStore(a.cfg.Paths.Snapshot)
		snap, err := store.Load()
		if errors.Is(err, snapshot.ErrNotFound) {
			log.Warn("no snapshot yet, run refresh first", "path", store.Path())
			return nil
		}
		if err != nil {
			return err
		}

		mods := make([]shownMod, 0, len(snap))
		for id, e := range snap {
			mods = append(mods, shownMod{
				ID:          id,
				Name:        e.Name,
				TimeUpdated: e.UpdatedAt,
				Updated:     time.Unix(e.UpdatedAt, 0).UTC().Format(time.RFC3339),
			})
		}
		sort.Slice(mods, func(i, j int) bool { return mods[i].ID < mods[j].ID })

		out, err := yaml.Marshal(map[string]any{
			"path": store.Path(),
			"mods": mods,
		})
		if err != nil {
			return fmt.Errorf("encode snapshot: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
