package modlist

import (
	"embed"
	"fmt"
	"text/template"
)

//go:embed templates/modlist.tmpl
var templatesFS embed.FS

func loadTemplate() (*template.Template, error) {
	b, err := templatesFS.ReadFile("templates/modlist.tmpl")
	if err != nil {
		return nil, fmt.Errorf("read embedded modlist template: %w", err)
	}
	t, err := template.New("modlist.tmpl").Option("missingkey=zero").Parse(string(b))
	if err != nil {
		return nil, fmt.Errorf("parse embedded modlist template: %w", err)
	}
	return t, nil
}
