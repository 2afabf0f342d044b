package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_FileSinkOnlyKeepsWarnings(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "watchdog.log")

	l, closer := New(Options{
		Console:   &console,
		Level:     slog.LevelInfo,
		FilePath:  path,
		FileLevel: slog.LevelWarn,
	})
	l = l.With("run_id", "run-1")
	l.Info("countdown started")
	l.Warn("mod outdated", "mod_id", "111")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	c := console.String()
	if !strings.Contains(c, "countdown started") || !strings.Contains(c, "mod outdated") {
		t.Fatalf("console=%q", c)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	f := string(b)
	if strings.Contains(f, "countdown started") {
		t.Fatalf("info record leaked into file: %q", f)
	}
	if !strings.Contains(f, "mod outdated") || !strings.Contains(f, "run_id=run-1") {
		t.Fatalf("file=%q", f)
	}
}

func TestContextRoundTrip(t *testing.T) {
	l, _ := New(Options{Console: &bytes.Buffer{}})
	ctx := NewContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Fatalf("FromContext returned a different logger")
	}
	if FromContext(context.Background()) != slog.Default() {
		t.Fatalf("expected slog.Default fallback")
	}
}
