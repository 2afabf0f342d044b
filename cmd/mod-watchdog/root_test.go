package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"mod-watchdog/internal/snapshot"
)

func writeSettings(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	settings := "paths:\n" +
		"  snapshot: " + filepath.Join(dir, "modInfos.json") + "\n" +
		"  log_file: " + filepath.Join(dir, "log.mod-watchdog") + "\n" +
		"  lock: " + filepath.Join(dir, "pid.mod-watchdog") + "\n"
	if err := os.WriteFile(path, []byte(settings), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestShow_PrintsSnapshotAsYAML(t *testing.T) {
	dir := t.TempDir()
	settings := writeSettings(t, dir)
	snap := snapshot.Snapshot{
		"222": {Name: "Beta", UpdatedAt: 1700000000},
		"111": {Name: "Alpha", UpdatedAt: 1600000000},
	}
	if err := snapshot.NewStore(filepath.Join(dir, "modInfos.json")).Replace(snap); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "show", "--config", settings)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var got struct {
		Path string     `yaml:"path"`
		Mods []shownMod `yaml:"mods"`
	}
	if err := yaml.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(got.Mods) != 2 || got.Mods[0].ID != "111" || got.Mods[1].Name != "Beta" {
		t.Fatalf("mods=%+v", got.Mods)
	}
	if got.Mods[1].Updated != "2023-11-14T22:13:20Z" {
		t.Fatalf("updated=%q", got.Mods[1].Updated)
	}
}

func TestHistory_RequiresPath(t *testing.T) {
	settings := writeSettings(t, t.TempDir())
	_, err := execute(t, "history", "--config", settings)
	if err == nil || !strings.Contains(err.Error(), "paths.history") {
		t.Fatalf("err=%v", err)
	}
}
