package skills

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseSlashPrefix(t *testing.T) {
	reg := NewRegistry()

	tests := []struct {
		name        string
		query       string
		wantForced  []string
		wantCleaned string
	}{
		{
			name:        "no slash",
			query:       "list my files",
			wantForced:  nil,
			wantCleaned: "list my files",
		},
		{
			name:        "single skill",
			query:       "/terminal run the build",
			wantForced:  []string{"terminal"},
			wantCleaned: "run the build",
		},
		{
			name:        "two skills",
			query:       "/terminal /gmail check for the failure report",
			wantForced:  []string{"terminal", "gmail"},
			wantCleaned: "check for the failure report",
		},
		{
			name:        "unknown slash stays in query",
			query:       "/dance party time",
			wantForced:  nil,
			wantCleaned: "/dance party time",
		},
		{
			name:        "parsing stops at first plain token",
			query:       "/terminal check /etc for config",
			wantForced:  []string{"terminal"},
			wantCleaned: "check /etc for config",
		},
		{
			name:        "case insensitive command",
			query:       "/TERMINAL ls",
			wantForced:  []string{"terminal"},
			wantCleaned: "ls",
		},
		{
			name:        "duplicate forced once",
			query:       "/terminal /terminal ls",
			wantForced:  []string{"terminal"},
			wantCleaned: "ls",
		},
		{
			name:        "only slash command leaves empty query",
			query:       "/terminal",
			wantForced:  []string{"terminal"},
			wantCleaned: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forced, cleaned := reg.ParseSlashPrefix(tt.query)
			if !reflect.DeepEqual(forced, tt.wantForced) {
				t.Errorf("forced = %v, want %v", forced, tt.wantForced)
			}
			if cleaned != tt.wantCleaned {
				t.Errorf("cleaned = %q, want %q", cleaned, tt.wantCleaned)
			}
		})
	}
}

func TestForTurnForcedFirst(t *testing.T) {
	reg := NewRegistry()
	owner := func(tool string) string {
		switch tool {
		case "search_email", "read_email":
			return "gmail"
		case "run_command":
			return "terminal"
		}
		return ""
	}

	got := reg.ForTurn([]string{"calendar"}, []string{"search_email", "read_email", "run_command"}, owner)
	if len(got) != 2 {
		t.Fatalf("ForTurn returned %d skills, want 2", len(got))
	}
	if got[0].Name != "calendar" {
		t.Errorf("first skill = %q, want forced calendar", got[0].Name)
	}
	if got[1].Name != "gmail" {
		t.Errorf("auto-detected skill = %q, want gmail (owns 2 of 3 tools)", got[1].Name)
	}
}

func TestForTurnDeduplicatesDominant(t *testing.T) {
	reg := NewRegistry()
	owner := func(string) string { return "terminal" }

	got := reg.ForTurn([]string{"terminal"}, []string{"run_command", "find_files"}, owner)
	if len(got) != 1 {
		t.Fatalf("ForTurn returned %d skills, want 1 (dominant already forced)", len(got))
	}
	if got[0].Name != "terminal" {
		t.Errorf("skill = %q, want terminal", got[0].Name)
	}
}

func TestForTurnUnknownServerSkipped(t *testing.T) {
	reg := NewRegistry()
	owner := func(string) string { return "weather" }

	got := reg.ForTurn(nil, []string{"get_forecast"}, owner)
	if len(got) != 0 {
		t.Errorf("ForTurn returned %d skills for a server with no skill, want 0", len(got))
	}
}

func TestForTurnNoSelection(t *testing.T) {
	reg := NewRegistry()
	if got := reg.ForTurn(nil, nil, nil); len(got) != 0 {
		t.Errorf("ForTurn with nothing forced and nothing selected = %d skills, want 0", len(got))
	}
}

func TestRegisterReplacesByName(t *testing.T) {
	reg := NewRegistry(Skill{Name: "terminal", SlashCommand: "term", Content: "custom"})

	skill, ok := reg.Lookup("terminal")
	if !ok {
		t.Fatal("terminal skill missing after replacement")
	}
	if skill.Content != "custom" {
		t.Errorf("content = %q, want the replacement", skill.Content)
	}

	forced, _ := reg.ParseSlashPrefix("/term ls")
	if !reflect.DeepEqual(forced, []string{"terminal"}) {
		t.Errorf("new slash command not honored, forced = %v", forced)
	}
	forced, _ = reg.ParseSlashPrefix("/terminal ls")
	if len(forced) != 0 {
		t.Errorf("old slash command still active, forced = %v", forced)
	}
}

func TestPromptBlock(t *testing.T) {
	if got := PromptBlock(nil); got != "" {
		t.Errorf("PromptBlock(nil) = %q, want empty", got)
	}

	reg := NewRegistry()
	terminal, _ := reg.Lookup("terminal")
	gmail, _ := reg.Lookup("gmail")

	block := PromptBlock([]Skill{terminal, gmail})
	if !strings.HasPrefix(block, "\n\n## Active Skills\n\n") {
		t.Errorf("block prefix = %q", block[:min(40, len(block))])
	}
	if !strings.Contains(block, "## Terminal Skill") {
		t.Error("block missing terminal content")
	}
	if !strings.Contains(block, "\n\n---\n\n") {
		t.Error("block missing separator between skills")
	}
	if !strings.Contains(block, "## Gmail Skill") {
		t.Error("block missing gmail content")
	}
}

func TestDefaultsAreRegistered(t *testing.T) {
	reg := NewRegistry()
	for _, want := range []string{"terminal", "filesystem", "websearch", "gmail", "calendar"} {
		if _, ok := reg.Lookup(want); !ok {
			t.Errorf("default skill %q not registered", want)
		}
	}
	if got := len(reg.All()); got != 5 {
		t.Errorf("All() returned %d skills, want 5", got)
	}
}
