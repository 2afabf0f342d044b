package delivery

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestWriteLocal_ReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servertest.ini")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := writeLocal(path, strings.NewReader("Mods=A\n")); err != nil {
		t.Fatalf("writeLocal: %v", err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "Mods=A\n" {
		t.Fatalf("content=%q", b)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("leftover files: %v", entries)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection lost") }

func TestWriteLocal_FailureKeepsOldFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "servertest.ini")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := writeLocal(path, failingReader{}); err == nil {
		t.Fatalf("expected error")
	}
	b, _ := os.ReadFile(path)
	if string(b) != "old" {
		t.Fatalf("content=%q", b)
	}
}

func TestDownload_UnreachableHostIsTransferFailure(t *testing.T) {
	// Grab a free port and close it so the dial is refused.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	s := NewSFTP(Options{Addr: addr, User: "pz", Password: "pw", Timeout: time.Second}, quiet())
	local := filepath.Join(t.TempDir(), "servertest.ini")
	err = s.Download(context.Background(), "/srv/servertest.ini", local)
	if !errors.Is(err, ErrTransfer) {
		t.Fatalf("err=%v", err)
	}
	if _, statErr := os.Stat(local); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("local file created on failure")
	}
}

func TestClientConfig_BadKnownHosts(t *testing.T) {
	s := NewSFTP(Options{KnownHosts: filepath.Join(t.TempDir(), "missing")}, quiet())
	if _, err := s.clientConfig(); err == nil {
		t.Fatalf("expected error")
	}
}
