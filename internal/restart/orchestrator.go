package restart

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"mod-watchdog/internal/journal"
	"mod-watchdog/internal/retry"
)

type State int

const (
	Idle State = iota
	Evaluating
	QuickStop
	CountingDown
	EarlyStop
	FinalWarning
	Evicting
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Evaluating:
		return "evaluating"
	case QuickStop:
		return "quick_stop"
	case CountingDown:
		return "counting_down"
	case EarlyStop:
		return "early_stop"
	case FinalWarning:
		return "final_warning"
	case Evicting:
		return "evicting"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Console is the remote administration channel of the game server.
type Console interface {
	Players(ctx context.Context) ([]string, error)
	Broadcast(ctx context.Context, msg string) error
	Kick(ctx context.Context, player string) error
	Save(ctx context.Context) error
	Quit(ctx context.Context) error
}

// Journal receives one record per transition and console command.
type Journal interface {
	Log(rec journal.Record)
}

const testSuffix = " (TEST)"

type Options struct {
	CountdownMinutes int
	// Tick is the wait between countdown warnings.
	Tick time.Duration
	// SettleDelay separates save from quit. The final warning deadline is
	// twice this value.
	SettleDelay time.Duration
	EvictSettle time.Duration

	// WarningMessage may contain {minutes}; RestartMessage may contain {seconds}.
	WarningMessage string
	RestartMessage string

	// DryRun marks broadcasts as tests, never skips straight to a quick stop,
	// never evicts and never saves or stops the server.
	DryRun bool
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = time.Minute
	}
	if o.EvictSettle <= 0 {
		o.EvictSettle = 2 * time.Second
	}
	if o.WarningMessage == "" {
		o.WarningMessage = "[SERVER] Restart in {minutes} minutes due to a mod update!"
	}
	if o.RestartMessage == "" {
		o.RestartMessage = "[SERVER] Server is restarting now due to a mod update! Please disconnect within {seconds}sec or get kicked!"
	}
	return o
}

type Result struct {
	State    State
	Warnings int
	Kicked   []string
	Saved    bool
	Stopped  bool
}

type Orchestrator struct {
	opts    Options
	console Console
	sleep   retry.Sleeper
	log     *slog.Logger
	journal Journal

	state State
}

// New returns an Orchestrator for a single restart attempt. sleep and j may be nil.
func New(opts Options, console Console, sleep retry.Sleeper, log *slog.Logger, j Journal) *Orchestrator {
	if sleep == nil {
		sleep = retry.Sleep
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		opts:    opts.withDefaults(),
		console: console,
		sleep:   sleep,
		log:     log,
		journal: j,
	}
}

// Run executes the restart. It only returns an error when ctx ends while
// waiting; the Result then reflects how far the sequence got.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	var res Result
	finish := func(err error) (Result, error) {
		res.State = o.state
		return res, err
	}

	o.enter(Evaluating)
	players, known := o.players(ctx)
	if known && len(players) == 0 && !o.opts.DryRun {
		o.enter(QuickStop)
		o.log.Info("no players online, saving and stopping")
		return finish(o.saveAndQuit(ctx, &res))
	}

	o.enter(CountingDown)
	o.log.Info("countdown for server restart", "minutes", o.opts.CountdownMinutes, "players", len(players))
	emptied := false
	for left := o.opts.CountdownMinutes; left > 0; left-- {
		o.broadcast(ctx, o.warning(left))
		res.Warnings++
		if err := o.sleep(ctx, o.opts.Tick); err != nil {
			return finish(err)
		}
		players, known = o.players(ctx)
		if known && len(players) == 0 {
			emptied = true
			break
		}
	}

	if emptied {
		o.enter(EarlyStop)
		o.log.Info("no players left, saving and stopping")
		if o.opts.DryRun {
			return finish(nil)
		}
		if err := o.saveAndQuit(ctx, &res); err != nil {
			return finish(err)
		}
		o.enter(Stopped)
		return finish(nil)
	}

	o.enter(FinalWarning)
	deadline := 2 * o.opts.SettleDelay
	o.broadcast(ctx, o.final(deadline))
	if o.opts.DryRun {
		return finish(nil)
	}
	if err := o.sleep(ctx, deadline); err != nil {
		return finish(err)
	}

	players, known = o.players(ctx)
	if !known {
		o.log.Warn("roster unknown after final warning, skipping eviction")
	}
	if len(players) > 0 {
		o.enter(Evicting)
		o.log.Info("kicking remaining players before restart", "players", len(players))
		for _, p := range players {
			if o.kick(ctx, p) {
				res.Kicked = append(res.Kicked, p)
			}
		}
		if err := o.sleep(ctx, o.opts.EvictSettle); err != nil {
			return finish(err)
		}
	}

	o.log.Info("saving world and stopping")
	if err := o.saveAndQuit(ctx, &res); err != nil {
		return finish(err)
	}
	o.enter(Stopped)
	return finish(nil)
}

func (o *Orchestrator) enter(s State) {
	o.state = s
	o.log.Debug("restart state", "state", s.String())
	if o.journal != nil {
		o.journal.Log(journal.Record{Type: "transition", State: s.String()})
	}
}

// players reports the roster and whether it could be queried. An unknown
// roster counts as populated so the countdown never shortcuts on bad data.
func (o *Orchestrator) players(ctx context.Context) ([]string, bool) {
	ps, err := o.console.Players(ctx)
	o.record("players", "", len(ps), err)
	if err != nil {
		o.log.Error("query players failed", "state", o.state.String(), "err", err)
		return nil, false
	}
	return ps, true
}

func (o *Orchestrator) broadcast(ctx context.Context, msg string) {
	if o.opts.DryRun {
		msg += testSuffix
	}
	o.log.Info("sending server message", "message", msg)
	err := o.console.Broadcast(ctx, msg)
	o.record("servermsg", msg, 0, err)
	if err != nil {
		o.log.Error("server message failed", "err", err)
	}
}

func (o *Orchestrator) kick(ctx context.Context, player string) bool {
	o.log.Info("kicking player", "player", player)
	err := o.console.Kick(ctx, player)
	o.record("kickuser", player, 0, err)
	if err != nil {
		o.log.Error("kick failed", "player", player, "err", err)
		return false
	}
	return true
}

func (o *Orchestrator) saveAndQuit(ctx context.Context, res *Result) error {
	err := o.console.Save(ctx)
	o.record("save", "", 0, err)
	if err != nil {
		o.log.Error("save failed", "err", err)
	} else {
		res.Saved = true
	}
	if err := o.sleep(ctx, o.opts.SettleDelay); err != nil {
		return err
	}
	err = o.console.Quit(ctx)
	o.record("quit", "", 0, err)
	if err != nil {
		o.log.Error("quit failed", "err", err)
		return nil
	}
	res.Stopped = true
	return nil
}

func (o *Orchestrator) record(cmd, target string, count int, err error) {
	if o.journal == nil {
		return
	}
	rec := journal.Record{Type: "command", State: o.state.String(), Command: cmd, Target: target, Count: count}
	if err != nil {
		rec.Error = err.Error()
	}
	o.journal.Log(rec)
}

func (o *Orchestrator) warning(minutes int) string {
	return strings.ReplaceAll(o.opts.WarningMessage, "{minutes}", strconv.Itoa(minutes))
}

func (o *Orchestrator) final(deadline time.Duration) string {
	return strings.ReplaceAll(o.opts.RestartMessage, "{seconds}", strconv.Itoa(int(deadline/time.Second)))
}
