package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"mod-watchdog/internal/workshop"
)

// Change describes one outdated mod.
type Change struct {
	ID       string
	Name     string
	Previous int64
	Current  int64
	// New is set when the mod was never observed before.
	New bool
}

type Report struct {
	Drift   bool
	Changes []Change
	// Seeded is set when no snapshot existed and the fresh data was stored
	// as the baseline.
	Seeded bool
}

type Detector struct {
	store *Store
	log   *slog.Logger
}

func NewDetector(store *Store, log *slog.Logger) *Detector {
	if log == nil {
		log = slog.Default()
	}
	return &Detector{store: store, log: log}
}

// Detect compares fresh against the stored snapshot. A mod is outdated when it
// is missing from the snapshot or its update time is strictly newer. On drift
// the snapshot is replaced by fresh; a failed replace is returned and the
// caller must not act on the drift.
//
// An unreadable snapshot reports no drift. A missing one reports no drift and
// is seeded from fresh.
func (d *Detector) Detect(ctx context.Context, fresh workshop.Result) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	stored, err := d.store.Load()
	if errors.Is(err, ErrNotFound) {
		d.log.Warn("no snapshot yet, seeding baseline", "path", d.store.Path(), "mods", fresh.Len())
		if err := d.store.Replace(FromResult(fresh)); err != nil {
			d.log.Error("seed snapshot failed", "path", d.store.Path(), "err", err)
			return Report{}, nil
		}
		return Report{Seeded: true}, nil
	}
	if err != nil {
		d.log.Error("snapshot unreadable, assuming no drift", "path", d.store.Path(), "err", err)
		return Report{}, nil
	}

	rep := Report{Changes: Compare(stored, fresh)}
	rep.Drift = len(rep.Changes) > 0
	for _, c := range rep.Changes {
		if c.New {
			d.log.Warn("mod not in snapshot", "mod_id", c.ID, "name", c.Name)
			continue
		}
		d.log.Warn("mod is outdated",
			"mod_id", c.ID,
			"name", c.Name,
			"local", formatTS(c.Previous),
			"remote", formatTS(c.Current))
	}
	if !rep.Drift {
		return rep, nil
	}
	if err := d.store.Replace(FromResult(fresh)); err != nil {
		return rep, fmt.Errorf("publish snapshot: %w", err)
	}
	d.log.Info("snapshot updated", "path", d.store.Path(), "mods", fresh.Len(), "outdated", len(rep.Changes))
	return rep, nil
}

// Compare lists fresh records absent from stored or strictly newer than it,
// sorted by id.
func Compare(stored Snapshot, fresh workshop.Result) []Change {
	var out []Change
	for id, rec := range fresh.Records {
		prev, ok := stored[id]
		switch {
		case !ok:
			out = append(out, Change{ID: id, Name: rec.Name, Current: rec.UpdatedAt, New: true})
		case rec.UpdatedAt > prev.UpdatedAt:
			out = append(out, Change{ID: id, Name: rec.Name, Previous: prev.UpdatedAt, Current: rec.UpdatedAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func formatTS(sec int64) string {
	return time.Unix(sec, 0).UTC().Format("02.01.2006 15:04:05")
}
