// Package serverini reads the enabled mod set from a dedicated server's
// settings file.
//
// Only two keys matter: `Mods=` (mod names) and `WorkshopItems=` (workshop
// ids). Both hold a semicolon-separated list whose order is preserved.
package serverini

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	modsKey     = "Mods="
	workshopKey = "WorkshopItems="
)

type Enabled struct {
	Mods          []string
	WorkshopItems []string
}

func Parse(r io.Reader) (Enabled, error) {
	var out Enabled
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, modsKey):
			out.Mods = splitList(line[len(modsKey):])
		case strings.HasPrefix(line, workshopKey):
			out.WorkshopItems = splitList(line[len(workshopKey):])
		}
	}
	if err := sc.Err(); err != nil {
		return Enabled{}, fmt.Errorf("serverini: scan: %w", err)
	}
	return out, nil
}

func ReadFile(path string) (Enabled, error) {
	f, err := os.Open(path)
	if err != nil {
		return Enabled{}, fmt.Errorf("serverini: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func splitList(v string) []string {
	out := []string{}
	for _, part := range strings.Split(v, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
