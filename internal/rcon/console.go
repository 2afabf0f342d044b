package rcon

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorcon/rcon"
)

// Executor runs a single console command and returns its response.
type Executor interface {
	Execute(ctx context.Context, command string) (string, error)
}

// Dialer executes commands over a fresh RCON connection per call.
type Dialer struct {
	Addr     string
	Password string
	Timeout  time.Duration
}

func (d Dialer) Execute(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	conn, err := rcon.Dial(d.Addr, d.Password, rcon.SetDialTimeout(timeout), rcon.SetDeadline(timeout))
	if err != nil {
		return "", fmt.Errorf("rcon: dial %s: %w", d.Addr, err)
	}
	defer conn.Close()

	resp, err := conn.Execute(command)
	if err != nil {
		return "", fmt.Errorf("rcon: execute %q: %w", commandName(command), err)
	}
	return resp, nil
}

// Console implements the server-side commands the watchdog needs.
type Console struct {
	exec Executor
}

func NewConsole(exec Executor) *Console {
	return &Console{exec: exec}
}

func (c *Console) Players(ctx context.Context) ([]string, error) {
	resp, err := c.exec.Execute(ctx, "players")
	if err != nil {
		return nil, err
	}
	return ParsePlayers(resp), nil
}

func (c *Console) Broadcast(ctx context.Context, msg string) error {
	_, err := c.exec.Execute(ctx, fmt.Sprintf("servermsg %s", quote(msg)))
	return err
}

func (c *Console) Kick(ctx context.Context, player string) error {
	_, err := c.exec.Execute(ctx, fmt.Sprintf("kickuser %s", quote(player)))
	return err
}

func (c *Console) Save(ctx context.Context) error {
	_, err := c.exec.Execute(ctx, "save")
	return err
}

func (c *Console) Quit(ctx context.Context) error {
	_, err := c.exec.Execute(ctx, "quit")
	return err
}

// ParsePlayers reads the `players` response:
//
//	Players connected (2):
//	-alice
//	-bob
func ParsePlayers(resp string) []string {
	players := []string{}
	for _, line := range strings.Split(resp, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "Players connected") {
			continue
		}
		name := strings.TrimSpace(strings.TrimPrefix(line, "-"))
		if name != "" {
			players = append(players, name)
		}
	}
	return players
}

// quote wraps s in double quotes. Embedded double quotes become single quotes
// since the console has no escape sequence for them.
func quote(s string) string {
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return `"` + strings.ReplaceAll(s, `"`, "'") + `"`
}

func commandName(cmd string) string {
	if i := strings.IndexByte(cmd, ' '); i >= 0 {
		return cmd[:i]
	}
	return cmd
}
