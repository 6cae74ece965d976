package prompt

import (
	"strings"
	"testing"
)

func TestSystemInterpolates(t *testing.T) {
	got := System("", "")

	if strings.Contains(got, "{{") {
		t.Errorf("unresolved placeholder in prompt:\n%s", got)
	}
	if !strings.Contains(got, "You are Deskmind") {
		t.Error("prompt missing identity line")
	}
	if !strings.Contains(got, "Today is ") {
		t.Error("prompt missing date line")
	}
	if !strings.Contains(got, "home: ") {
		t.Error("prompt missing host info")
	}
}

func TestSystemAppendsSkillsBlock(t *testing.T) {
	block := "\n\n## Active Skills\n\nstay sharp\n"
	got := System(block, "")
	if !strings.HasSuffix(got, block) {
		t.Error("skills block not appended at the end of the prompt")
	}
}

func TestSystemCustomTemplate(t *testing.T) {
	got := System("SKILLS", "date={{current_datetime}} os={{os_info}}{{skills_block}}")
	if !strings.HasPrefix(got, "date=") {
		t.Errorf("custom template not used: %q", got)
	}
	if !strings.HasSuffix(got, "SKILLS") {
		t.Errorf("custom template skills block missing: %q", got)
	}
	if strings.Contains(got, "{{") {
		t.Errorf("unresolved placeholder: %q", got)
	}
}

func TestSystemBlankTemplateFallsBack(t *testing.T) {
	if got := System("", "   \n"); !strings.Contains(got, "You are Deskmind") {
		t.Error("whitespace-only template should fall back to the built-in base")
	}
}
