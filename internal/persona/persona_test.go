package persona

import (
	"strings"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"markdown", FormatMarkdown},
		{"plaintext", FormatPlaintext},
		{"json", FormatJSON},
		{"yaml", FormatYAML},
		{"JSON", FormatJSON},
		{"  yaml  ", FormatYAML},
		{"", FormatMarkdown},
		{"html", FormatMarkdown},
	}
	for _, tt := range tests {
		if got := ParseFormat(tt.in); got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEnforce(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "whitespace only", in: "   \n\t", want: ""},
		{name: "plain text untouched", in: "The answer is 42.", want: "The answer is 42."},
		{name: "assistant label stripped", in: "Assistant: hello there", want: "hello there"},
		{name: "ai label stripped", in: "AI: hello", want: "hello"},
		{name: "product label stripped", in: "Parley: hello", want: "hello"},
		{name: "provider label stripped", in: "NVIDIA NIM: hello", want: "hello"},
		{name: "label without space", in: "system:hello", want: "hello"},
		{name: "only the leading label goes", in: "assistant: assistant: hi", want: "assistant: hi"},
		{name: "label mid-text stays", in: "the assistant: role", want: "the assistant: role"},
		{name: "double quotes unwrapped", in: `"hello world"`, want: "hello world"},
		{name: "single quotes unwrapped", in: "'hello world'", want: "hello world"},
		{name: "unbalanced quote stays", in: `"hello world`, want: `"hello world`},
		{name: "inner quotes stay", in: `say "hi" now`, want: `say "hi" now`},
		{name: "label then quotes", in: `Assistant: "hello"`, want: "hello"},
		{name: "trimmed", in: "  hello  ", want: "hello"},
		{name: "think block passes through", in: "<think>step one</think>The answer.", want: "<think>step one</think>The answer."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Enforce(tt.in, FormatMarkdown); got != tt.want {
				t.Errorf("Enforce(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPersonaAssembly(t *testing.T) {
	def, study, reasoning := Default(), Study(), Reasoning()

	if def == study || def == reasoning || study == reasoning {
		t.Fatal("personas for the three modes must differ")
	}

	if !strings.Contains(def, "Current Date:") {
		t.Error("default persona should pin the current date")
	}
	if !strings.Contains(def, "WEB_REQUIRED") {
		t.Error("default persona should carry the web decision module")
	}

	if !strings.Contains(study, "STUDY MODE") {
		t.Error("study persona should declare study mode")
	}
	if strings.Contains(study, "CREATIVE WRITING") {
		t.Error("study persona should not carry the creative writing module")
	}

	if !strings.Contains(reasoning, "<think>") {
		t.Error("reasoning persona should reference think tags")
	}
	if !strings.HasPrefix(reasoning, "# REASONING MODE") {
		t.Error("reasoning rules should lead the reasoning persona")
	}
}

func TestWebPrompts(t *testing.T) {
	if got := WebDecisionPrompt(); !strings.Contains(got, "WEB_REQUIRED") || !strings.Contains(got, "WEB_NOT_REQUIRED") {
		t.Errorf("WebDecisionPrompt missing decision tokens: %q", got)
	}
	if got := WebScrapingRules(); !strings.Contains(got, "<WEB_SEARCH_RESULTS>") {
		t.Errorf("WebScrapingRules should mention the results tag: %q", got)
	}
	if got := WebUnavailableNotice(); !strings.Contains(got, "out of date") {
		t.Errorf("WebUnavailableNotice should warn about staleness: %q", got)
	}
}
