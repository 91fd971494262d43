// Package templates provides the embedded starter configurations for
// parley init.
package templates

import "embed"

//go:embed files/*.yaml
var FS embed.FS

// Template describes a starter configuration.
type Template struct {
	Name        string
	Description string
	Filename    string
}

// All returns the available starter configurations.
func All() []Template {
	return []Template{
		{
			Name:        "minimal",
			Description: "Single NIM provider with default memory and logging",
			Filename:    "minimal.yaml",
		},
		{
			Name:        "full",
			Description: "Every provider and feature section spelled out",
			Filename:    "full.yaml",
		},
	}
}

// Get returns a template by name, or nil if not found.
func Get(name string) *Template {
	for _, t := range All() {
		if t.Name == name {
			return &t
		}
	}
	return nil
}

// Content returns the template file content.
func Content(t *Template) ([]byte, error) {
	return FS.ReadFile("files/" + t.Filename)
}
