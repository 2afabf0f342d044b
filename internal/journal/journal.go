// Package journal appends one JSON object per line describing what a run did:
// mode, detection outcome, restart state transitions and console commands.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Record struct {
	RunID     string `json:"run_id"`
	Timestamp string `json:"ts"`
	Type      string `json:"type"`
	Mode      string `json:"mode,omitempty"`
	State     string `json:"state,omitempty"`
	Command   string `json:"command,omitempty"`
	Target    string `json:"target,omitempty"`
	Count     int    `json:"count,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Logger writes records for one run. A nil *Logger discards everything.
type Logger struct {
	runID string

	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

func New(path, runID string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("journal: mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{
		runID: runID,
		f:     f,
		w:     bufio.NewWriterSize(f, 64*1024),
	}, nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.w != nil {
		_ = l.w.Flush()
	}
	if l.f != nil {
		return l.f.Close()
	}
	return nil
}

// Log stamps rec with the run id and time when unset and appends it.
func (l *Logger) Log(rec Record) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.w == nil {
		return
	}
	if rec.RunID == "" {
		rec.RunID = l.runID
	}
	if rec.Timestamp == "" {
		rec.Timestamp = NowTS()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_, _ = l.w.Write(append(line, '\n'))
	_ = l.w.Flush()
}

func NowTS() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func MakeRunID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("run-%d", time.Now().UTC().UnixNano())
	}
	return "run-" + id.String()
}
