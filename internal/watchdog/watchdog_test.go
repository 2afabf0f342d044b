package watchdog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"mod-watchdog/internal/config"
	"mod-watchdog/internal/history"
	"mod-watchdog/internal/journal"
	"mod-watchdog/internal/snapshot"
	"mod-watchdog/internal/workshop"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

// fakeFetcher resolves every id it knows; unknown ids are missing from the result.
type fakeFetcher struct {
	updated map[string]int64
	err     error
	calls   [][]string
}

func (f *fakeFetcher) Fetch(_ context.Context, ids []string) (workshop.Result, error) {
	f.calls = append(f.calls, ids)
	res := workshop.Result{Records: map[string]workshop.Record{}}
	if f.err != nil {
		return res, f.err
	}
	for _, id := range ids {
		ts, ok := f.updated[id]
		if !ok {
			continue
		}
		res.Records[id] = workshop.Record{ID: id, Name: "Mod " + id, UpdatedAt: ts}
		res.Order = append(res.Order, id)
	}
	return res, nil
}

type fakeConsole struct {
	roster     []string
	calls      []string
	broadcasts []string
}

func (c *fakeConsole) Players(context.Context) ([]string, error) {
	c.calls = append(c.calls, "players")
	return c.roster, nil
}

func (c *fakeConsole) Broadcast(_ context.Context, msg string) error {
	c.calls = append(c.calls, "servermsg")
	c.broadcasts = append(c.broadcasts, msg)
	return nil
}

func (c *fakeConsole) Kick(context.Context, string) error {
	c.calls = append(c.calls, "kickuser")
	return nil
}

func (c *fakeConsole) Save(context.Context) error {
	c.calls = append(c.calls, "save")
	return nil
}

func (c *fakeConsole) Quit(context.Context) error {
	c.calls = append(c.calls, "quit")
	return nil
}

type fakeDelivery struct {
	content string
	err     error
	calls   int
}

func (d *fakeDelivery) Download(_ context.Context, _, local string) error {
	d.calls++
	if d.err != nil {
		return d.err
	}
	return os.WriteFile(local, []byte(d.content), 0o644)
}

type fixture struct {
	cfg      config.Config
	fetcher  *fakeFetcher
	console  *fakeConsole
	delivery *fakeDelivery
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	var cfg config.Config
	cfg.SFTPRemoteFile = "/srv/Zomboid/Server/servertest.ini"
	cfg.Paths.ServerINI = filepath.Join(dir, "servertest.ini")
	cfg.Paths.Snapshot = filepath.Join(dir, "modInfos.json")
	cfg.Paths.ModList = filepath.Join(dir, "discord_modlist.txt")
	cfg.Restart.CountdownMinutes = 2
	cfg.Restart.Tick = time.Minute
	cfg.Restart.Timeout = 5 * time.Second
	return &fixture{
		cfg:      cfg,
		fetcher:  &fakeFetcher{updated: map[string]int64{"111": 1000, "222": 2000}},
		console:  &fakeConsole{},
		delivery: &fakeDelivery{content: "Mods=A;B\nWorkshopItems=111;222\n"},
	}
}

func (f *fixture) watchdog(extra func(*Deps)) *Watchdog {
	deps := Deps{
		Fetcher:  f.fetcher,
		Console:  f.console,
		Delivery: f.delivery,
		Sleep:    noSleep,
	}
	if extra != nil {
		extra(&deps)
	}
	return New(f.cfg, deps, quiet())
}

func (f *fixture) writeINI(t *testing.T) {
	t.Helper()
	if err := os.WriteFile(f.cfg.Paths.ServerINI, []byte(f.delivery.content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) writeSnapshot(t *testing.T, snap snapshot.Snapshot) {
	t.Helper()
	if err := snapshot.NewStore(f.cfg.Paths.Snapshot).Replace(snap); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) readSnapshot(t *testing.T) snapshot.Snapshot {
	t.Helper()
	snap, err := snapshot.NewStore(f.cfg.Paths.Snapshot).Load()
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	return snap
}

func TestCheck_BootstrapSeedsWithoutRestart(t *testing.T) {
	f := newFixture(t)
	if err := f.watchdog(nil).Check(context.Background(), false); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if f.delivery.calls != 1 {
		t.Fatalf("downloads=%d", f.delivery.calls)
	}
	if got := strings.Join(f.fetcher.calls[0], ","); got != "111,222" {
		t.Fatalf("fetched ids=%q", got)
	}
	snap := f.readSnapshot(t)
	if len(snap) != 2 || snap["222"].UpdatedAt != 2000 {
		t.Fatalf("snapshot=%v", snap)
	}
	if len(f.console.calls) != 0 {
		t.Fatalf("console calls=%v", f.console.calls)
	}
}

func TestCheck_LocalConfigSkipsDownload(t *testing.T) {
	f := newFixture(t)
	f.writeINI(t)
	f.writeSnapshot(t, snapshot.Snapshot{"111": {Name: "Mod 111", UpdatedAt: 1000}, "222": {Name: "Mod 222", UpdatedAt: 2000}})
	if err := f.watchdog(nil).Check(context.Background(), false); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if f.delivery.calls != 0 || len(f.console.calls) != 0 {
		t.Fatalf("downloads=%d console=%v", f.delivery.calls, f.console.calls)
	}
}

func TestCheck_DriftStopsEmptyServer(t *testing.T) {
	f := newFixture(t)
	f.writeINI(t)
	f.writeSnapshot(t, snapshot.Snapshot{"111": {Name: "Mod 111", UpdatedAt: 1000}, "222": {Name: "Mod 222", UpdatedAt: 1500}})

	if err := f.watchdog(nil).Check(context.Background(), false); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := strings.Join(f.console.calls, ","); got != "players,save,quit" {
		t.Fatalf("console calls=%q", got)
	}
	if snap := f.readSnapshot(t); snap["222"].UpdatedAt != 2000 {
		t.Fatalf("snapshot not published: %v", snap)
	}
}

func TestCheck_DryRunRequiresLocalConfig(t *testing.T) {
	f := newFixture(t)
	err := f.watchdog(nil).Check(context.Background(), true)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err=%v", err)
	}
	if f.delivery.calls != 0 || len(f.fetcher.calls) != 0 || len(f.console.calls) != 0 {
		t.Fatalf("side effects: downloads=%d fetches=%d console=%v", f.delivery.calls, len(f.fetcher.calls), f.console.calls)
	}
}

func TestCheck_DryRunNeverStops(t *testing.T) {
	f := newFixture(t)
	f.writeINI(t)
	f.writeSnapshot(t, snapshot.Snapshot{"111": {Name: "Mod 111", UpdatedAt: 1000}})
	f.console.roster = []string{"alice"}

	if err := f.watchdog(nil).Check(context.Background(), true); err != nil {
		t.Fatalf("Check: %v", err)
	}
	for _, c := range f.console.calls {
		if c == "save" || c == "quit" || c == "kickuser" {
			t.Fatalf("dry run issued %q: %v", c, f.console.calls)
		}
	}
	if len(f.console.broadcasts) != 3 {
		t.Fatalf("broadcasts=%q", f.console.broadcasts)
	}
	for _, msg := range f.console.broadcasts {
		if !strings.HasSuffix(msg, " (TEST)") {
			t.Fatalf("broadcast %q not marked as test", msg)
		}
	}
}

func TestCheck_FetchAbortedTakesNoAction(t *testing.T) {
	f := newFixture(t)
	f.writeINI(t)
	old := snapshot.Snapshot{"111": {Name: "Mod 111", UpdatedAt: 1}}
	f.writeSnapshot(t, old)
	f.fetcher.err = context.Canceled

	err := f.watchdog(nil).Check(context.Background(), false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	if len(f.console.calls) != 0 {
		t.Fatalf("console calls=%v", f.console.calls)
	}
	if snap := f.readSnapshot(t); snap["111"].UpdatedAt != 1 || len(snap) != 1 {
		t.Fatalf("snapshot modified: %v", snap)
	}
}

func TestCheck_MalformedSnapshotIsNoDrift(t *testing.T) {
	f := newFixture(t)
	f.writeINI(t)
	if err := os.WriteFile(f.cfg.Paths.Snapshot, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := f.watchdog(nil).Check(context.Background(), false); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(f.console.calls) != 0 {
		t.Fatalf("console calls=%v", f.console.calls)
	}
	b, _ := os.ReadFile(f.cfg.Paths.Snapshot)
	if string(b) != "{not json" {
		t.Fatalf("malformed snapshot rewritten: %q", b)
	}
}

func TestCheck_TransferFailure(t *testing.T) {
	f := newFixture(t)
	f.delivery.err = errors.New("connection refused")
	if err := f.watchdog(nil).Check(context.Background(), false); err == nil {
		t.Fatalf("expected transfer error")
	}
	if len(f.fetcher.calls) != 0 || len(f.console.calls) != 0 {
		t.Fatalf("fetches=%d console=%v", len(f.fetcher.calls), f.console.calls)
	}
}

func TestRefresh_WritesModListAndSnapshot(t *testing.T) {
	f := newFixture(t)
	f.writeSnapshot(t, snapshot.Snapshot{"111": {Name: "Mod 111", UpdatedAt: 1}})

	if err := f.watchdog(nil).Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if f.delivery.calls != 1 {
		t.Fatalf("downloads=%d", f.delivery.calls)
	}
	if snap := f.readSnapshot(t); snap["111"].UpdatedAt != 1000 || len(snap) != 2 {
		t.Fatalf("snapshot=%v", snap)
	}
	b, err := os.ReadFile(f.cfg.Paths.ModList)
	if err != nil {
		t.Fatalf("read mod list: %v", err)
	}
	if !strings.HasSuffix(string(b), "Total Mods: 2") || !strings.Contains(string(b), "[Mod 222]") {
		t.Fatalf("mod list=%q", b)
	}
	if len(f.console.calls) != 0 {
		t.Fatalf("console calls=%v", f.console.calls)
	}
}

func TestRefresh_WithoutDelivery(t *testing.T) {
	f := newFixture(t)
	w := f.watchdog(func(d *Deps) { d.Delivery = nil })
	if err := w.Refresh(context.Background()); !errors.Is(err, ErrNoDelivery) {
		t.Fatalf("err=%v", err)
	}
}

func TestBroadcast(t *testing.T) {
	f := newFixture(t)
	w := f.watchdog(nil)
	if err := w.Broadcast(context.Background(), "hello", false); err != nil {
		t.Fatal(err)
	}
	if err := w.Broadcast(context.Background(), "hello", true); err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(f.console.broadcasts, "|"); got != "hello|hello (TEST)" {
		t.Fatalf("broadcasts=%q", got)
	}
	if strings.Join(f.console.calls, ",") != "servermsg,servermsg" {
		t.Fatalf("console calls=%v", f.console.calls)
	}
}

func TestCheck_RecordsJournalAndHistory(t *testing.T) {
	f := newFixture(t)
	f.writeINI(t)
	f.writeSnapshot(t, snapshot.Snapshot{"111": {Name: "Mod 111", UpdatedAt: 1000}})

	dir := t.TempDir()
	jl, err := journal.New(filepath.Join(dir, "journal.ndjson"), "run-test")
	if err != nil {
		t.Fatal(err)
	}
	hs, err := history.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = hs.Close() })

	w := f.watchdog(func(d *Deps) {
		d.Journal = jl
		d.History = hs
		d.RunID = "run-test"
	})
	if err := w.Check(context.Background(), false); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := jl.Close(); err != nil {
		t.Fatal(err)
	}

	runs, err := hs.RecentRuns(context.Background(), 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs=%v err=%v", runs, err)
	}
	r := runs[0]
	if r.Mode != ModeCheck || !r.Drift || r.FinalState != "quick_stop" || r.Requested != 2 || r.Resolved != 2 {
		t.Fatalf("run=%+v", r)
	}
	changes, err := hs.ModUpdates(context.Background(), "run-test")
	if err != nil || len(changes) != 1 || changes[0].ID != "222" || !changes[0].New {
		t.Fatalf("changes=%+v err=%v", changes, err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "journal.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if !strings.Contains(lines[0], `"type":"run_start"`) || !strings.Contains(lines[len(lines)-1], `"type":"run_end"`) {
		t.Fatalf("journal=%q", lines)
	}
	if !strings.Contains(string(b), `"command":"quit"`) {
		t.Fatalf("journal misses quit command: %s", b)
	}
}

func TestGuard_HeldLockSkipsRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pid.mod-watchdog")
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getppid())), 0o644); err != nil {
		t.Fatal(err)
	}
	called := false
	err := Guard(quiet(), path, func() error {
		called = true
		return nil
	})
	if err != nil || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}

func TestGuard_ReleasesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pid.mod-watchdog")
	boom := errors.New("boom")
	err := Guard(quiet(), path, func() error {
		b, err := os.ReadFile(path)
		if err != nil || strings.TrimSpace(string(b)) != strconv.Itoa(os.Getpid()) {
			t.Errorf("lock content=%q err=%v", b, err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("lock not released: %v", err)
	}
}
