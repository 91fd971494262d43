package templates

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/parleyhq/parley/internal/runtime"
)

func TestEveryTemplateIsValidConfig(t *testing.T) {
	for _, tmpl := range All() {
		t.Run(tmpl.Name, func(t *testing.T) {
			content, err := Content(&tmpl)
			if err != nil {
				t.Fatalf("Content: %v", err)
			}

			cfg := runtime.DefaultConfig()
			if err := yaml.Unmarshal(content, cfg); err != nil {
				t.Fatalf("template does not parse: %v", err)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("template does not validate: %v", err)
			}
		})
	}
}

func TestGet(t *testing.T) {
	if got := Get("minimal"); got == nil || got.Filename != "minimal.yaml" {
		t.Errorf("Get(minimal) = %+v, want minimal.yaml template", got)
	}
	if got := Get("no-such-template"); got != nil {
		t.Errorf("Get(no-such-template) = %+v, want nil", got)
	}
}
