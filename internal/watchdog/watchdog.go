package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"mod-watchdog/internal/config"
	"mod-watchdog/internal/history"
	"mod-watchdog/internal/journal"
	"mod-watchdog/internal/modlist"
	"mod-watchdog/internal/restart"
	"mod-watchdog/internal/retry"
	"mod-watchdog/internal/serverini"
	"mod-watchdog/internal/snapshot"
	"mod-watchdog/internal/workshop"
)

const (
	ModeBroadcast = "broadcast"
	ModeRefresh   = "refresh"
	ModeCheck     = "check"
	ModeDryRun    = "dry-run"
)

// ErrNoDelivery is returned when a mode has to download the server config but
// no file delivery was configured.
var ErrNoDelivery = errors.New("watchdog: file delivery not configured")

type Fetcher interface {
	Fetch(ctx context.Context, ids []string) (workshop.Result, error)
}

type Downloader interface {
	Download(ctx context.Context, remote, local string) error
}

// Deps are the collaborators of a run. Delivery, Journal and History may be nil.
type Deps struct {
	Fetcher  Fetcher
	Console  restart.Console
	Delivery Downloader
	Sleep    retry.Sleeper
	Journal  *journal.Logger
	History  *history.Store
	RunID    string
}

type Watchdog struct {
	cfg      config.Config
	deps     Deps
	store    *snapshot.Store
	detector *snapshot.Detector
	log      *slog.Logger
}

func New(cfg config.Config, deps Deps, log *slog.Logger) *Watchdog {
	if log == nil {
		log = slog.Default()
	}
	if deps.Sleep == nil {
		deps.Sleep = retry.Sleep
	}
	store := snapshot.NewStore(cfg.Paths.Snapshot)
	return &Watchdog{
		cfg:      cfg,
		deps:     deps,
		store:    store,
		detector: snapshot.NewDetector(store, log),
		log:      log,
	}
}

// Broadcast sends msg to every connected player, suffixed with " (TEST)"
// when test is set. It does not touch the restart state machine.
func (w *Watchdog) Broadcast(ctx context.Context, msg string, test bool) (err error) {
	r := w.begin(ModeBroadcast)
	defer func() { r.end(ctx, err) }()

	if test {
		msg += " (TEST)"
	}
	w.log.Info("sending server message", "message", msg)
	err = w.deps.Console.Broadcast(ctx, msg)
	rec := journal.Record{Type: "command", Command: "servermsg", Target: msg}
	if err != nil {
		rec.Error = err.Error()
		w.log.Error("server message failed", "err", err)
	}
	w.deps.Journal.Log(rec)
	return err
}

// Refresh downloads the server config, resolves its mods and rewrites both the
// mod list and the snapshot. It never restarts the server.
func (w *Watchdog) Refresh(ctx context.Context) (err error) {
	r := w.begin(ModeRefresh)
	defer func() { r.end(ctx, err) }()

	enabled, err := w.download(ctx)
	if err != nil {
		return err
	}
	res, err := w.fetch(ctx, r, enabled)
	if err != nil {
		return err
	}
	w.log.Info("writing mod list", "path", w.cfg.Paths.ModList, "mods", res.Len())
	if err := modlist.Write(w.cfg.Paths.ModList, modlist.FromResult(res)); err != nil {
		w.log.Error("write mod list failed", "path", w.cfg.Paths.ModList, "err", err)
	}
	if err := w.store.Replace(snapshot.FromResult(res)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	w.log.Info("snapshot refreshed", "path", w.store.Path(), "mods", res.Len())
	return nil
}

// Check runs detection and, on drift, the restart orchestrator. In dry-run
// mode the local server config must already exist and the server is never
// stopped. Otherwise a missing local config is downloaded first and used to
// seed the snapshot.
func (w *Watchdog) Check(ctx context.Context, dryRun bool) (err error) {
	mode := ModeCheck
	if dryRun {
		mode = ModeDryRun
	}
	r := w.begin(mode)
	defer func() { r.end(ctx, err) }()

	enabled, bootstrap, err := w.serverConfig(ctx, dryRun)
	if err != nil {
		return err
	}
	res, err := w.fetch(ctx, r, enabled)
	if err != nil {
		return err
	}
	if bootstrap {
		if err := w.store.Replace(snapshot.FromResult(res)); err != nil {
			return fmt.Errorf("seed snapshot: %w", err)
		}
		w.log.Info("snapshot seeded", "path", w.store.Path(), "mods", res.Len())
	}

	rep, err := w.detector.Detect(ctx, res)
	if err != nil {
		return err
	}
	r.rec.Drift = rep.Drift
	w.deps.Journal.Log(journal.Record{Type: "detect", Count: len(rep.Changes)})
	if err := w.deps.History.RecordChanges(ctx, w.deps.RunID, rep.Changes); err != nil {
		w.log.Error("record mod updates failed", "err", err)
	}
	if !rep.Drift {
		w.log.Info("all mods up to date", "mods", res.Len())
		return nil
	}

	w.log.Warn("outdated mods detected, starting countdown and server restart", "outdated", len(rep.Changes))
	o := restart.New(w.restartOptions(dryRun), w.deps.Console, w.deps.Sleep, w.log, w.deps.Journal)
	out, err := o.Run(ctx)
	r.rec.FinalState = out.State.String()
	w.log.Info("restart sequence finished",
		"state", out.State.String(),
		"warnings", out.Warnings,
		"kicked", len(out.Kicked),
		"saved", out.Saved,
		"stopped", out.Stopped)
	return err
}

// serverConfig returns the enabled mods and whether the local config had to
// be downloaded first.
func (w *Watchdog) serverConfig(ctx context.Context, dryRun bool) (serverini.Enabled, bool, error) {
	path := w.cfg.Paths.ServerINI
	if dryRun {
		enabled, err := serverini.ReadFile(path)
		if err != nil {
			return serverini.Enabled{}, false, fmt.Errorf("read server config: %w", err)
		}
		return enabled, false, nil
	}
	if _, err := os.Stat(path); err == nil {
		enabled, err := serverini.ReadFile(path)
		if err != nil {
			return serverini.Enabled{}, false, fmt.Errorf("read server config: %w", err)
		}
		return enabled, false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return serverini.Enabled{}, false, fmt.Errorf("stat server config: %w", err)
	}
	w.log.Info("no local server config, downloading", "path", path)
	enabled, err := w.download(ctx)
	return enabled, true, err
}

func (w *Watchdog) download(ctx context.Context) (serverini.Enabled, error) {
	if w.deps.Delivery == nil {
		return serverini.Enabled{}, ErrNoDelivery
	}
	remote, local := w.cfg.SFTPRemoteFile, w.cfg.Paths.ServerINI
	err := w.deps.Delivery.Download(ctx, remote, local)
	rec := journal.Record{Type: "download", Target: remote}
	if err != nil {
		rec.Error = err.Error()
	}
	w.deps.Journal.Log(rec)
	if err != nil {
		w.log.Error("server config download failed", "remote", remote, "err", err)
		return serverini.Enabled{}, err
	}
	enabled, err := serverini.ReadFile(local)
	if err != nil {
		return serverini.Enabled{}, fmt.Errorf("read server config: %w", err)
	}
	return enabled, nil
}

func (w *Watchdog) fetch(ctx context.Context, r *run, enabled serverini.Enabled) (workshop.Result, error) {
	ids := enabled.WorkshopItems
	r.rec.Requested = len(ids)
	if len(ids) == 0 {
		w.log.Warn("no workshop items enabled", "path", w.cfg.Paths.ServerINI)
	}
	w.log.Info("fetching workshop details", "mods", len(enabled.Mods), "workshop_items", len(ids))
	res, err := w.deps.Fetcher.Fetch(ctx, ids)
	r.rec.Resolved = res.Len()
	if err != nil {
		return workshop.Result{}, fmt.Errorf("fetch workshop details: %w", err)
	}
	if res.Len() < len(ids) {
		w.log.Warn("some workshop items were not resolved", "requested", len(ids), "resolved", res.Len())
	}
	return res, nil
}

func (w *Watchdog) restartOptions(dryRun bool) restart.Options {
	rc := w.cfg.Restart
	return restart.Options{
		CountdownMinutes: rc.CountdownMinutes,
		Tick:             rc.Tick,
		SettleDelay:      rc.Timeout,
		EvictSettle:      rc.EvictSettle,
		WarningMessage:   rc.WarningMessage,
		RestartMessage:   rc.RestartMessage,
		DryRun:           dryRun,
	}
}

// run tracks the journal and history rows of one invocation.
type run struct {
	w   *Watchdog
	rec history.Run
}

func (w *Watchdog) begin(mode string) *run {
	w.deps.Journal.Log(journal.Record{Type: "run_start", Mode: mode})
	return &run{w: w, rec: history.Run{
		RunID:     w.deps.RunID,
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}}
}

func (r *run) end(ctx context.Context, err error) {
	r.rec.FinishedAt = time.Now().UTC()
	rec := journal.Record{Type: "run_end", Mode: r.rec.Mode, State: r.rec.FinalState, Count: r.rec.Resolved}
	if err != nil {
		r.rec.Error = err.Error()
		rec.Error = err.Error()
	}
	r.w.deps.Journal.Log(rec)
	if r.w.deps.RunID == "" {
		return
	}
	if herr := r.w.deps.History.RecordRun(context.WithoutCancel(ctx), r.rec); herr != nil {
		r.w.log.Error("record run failed", "err", herr)
	}
}
