package modlist

import (
	"bytes"
	"fmt"

	"mod-watchdog/internal/snapshot"
	"mod-watchdog/internal/workshop"
)

const WorkshopURL = "https://steamcommunity.com/sharedfiles/filedetails/?id="

// Data is the template model. Keep it stable: operators paste the output
// as-is.
type Data struct {
	Mods []Item
}

type Item struct {
	ID   string
	Name string
	URL  string
}

// FromResult lists the resolved mods in request order.
func FromResult(res workshop.Result) Data {
	d := Data{Mods: make([]Item, 0, len(res.Order))}
	for _, id := range res.Order {
		rec, ok := res.Records[id]
		if !ok {
			continue
		}
		name := rec.Name
		if name == "" {
			name = "Unknown"
		}
		d.Mods = append(d.Mods, Item{ID: id, Name: name, URL: WorkshopURL + id})
	}
	return d
}

func Render(d Data) ([]byte, error) {
	tmpl, err := loadTemplate()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, d); err != nil {
		return nil, fmt.Errorf("render modlist: %w", err)
	}
	return buf.Bytes(), nil
}

// Write renders d and publishes it at path.
func Write(path string, d Data) error {
	b, err := Render(d)
	if err != nil {
		return err
	}
	if err := snapshot.WriteFileAtomic(path, b, 0o644); err != nil {
		return fmt.Errorf("write modlist %s: %w", path, err)
	}
	return nil
}
