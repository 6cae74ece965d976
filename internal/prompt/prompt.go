// Package prompt assembles the system prompt sent with every turn.
// The prompt is interpolated fresh at request time so the date and
// host facts are never stale.
package prompt

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"
)

const baseTemplate = `You are Deskmind, a powerful desktop AI assistant and task automation tool.
You make your users more productive and efficient.
You help users do their work and tasks faster and better.
Today is {{current_datetime}}. The user is on {{os_info}}.

<capabilities>
You can see the user's screen via screenshots, hear their voice,
browse the web, read/write files, run terminal commands,
and access Gmail and Google Calendar.
</capabilities>

<tool_philosophy>
Dont overthink or over-engineer solutions.
Always try to read more than less before writing.
Always explain terminal commands before running them.
Ask for confirmation before any destructive or irreversible action.
</tool_philosophy>

<behavior>
Be conversational with the user, understand their intent and dont be afraid to add your own insights and suggestions.
If unsure what the user wants, ask clarifying questions.
Admit uncertainty rather than guessing.
Prefer showing work inline over long preambles.
</behavior>{{skills_block}}`

// System assembles the system prompt. skillsBlock comes from the
// skills package and is empty or starts with a newline. template, when
// non-empty, replaces the built-in base; it must carry the same
// {{current_datetime}}, {{os_info}}, and {{skills_block}} placeholders
// to behave correctly.
func System(skillsBlock, template string) string {
	base := baseTemplate
	if strings.TrimSpace(template) != "" {
		base = template
	}
	prompt := base
	prompt = strings.ReplaceAll(prompt, "{{current_datetime}}", currentDatetime())
	prompt = strings.ReplaceAll(prompt, "{{os_info}}", osInfo())
	prompt = strings.ReplaceAll(prompt, "{{skills_block}}", skillsBlock)
	return prompt
}

func currentDatetime() string {
	now := time.Now()
	return fmt.Sprintf("%s, %s %d %d", now.Weekday(), now.Month(), now.Day(), now.Year())
}

func osInfo() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "unknown"
	}
	name := runtime.GOOS
	switch runtime.GOOS {
	case "darwin":
		name = "macOS"
	case "linux":
		name = "Linux"
	case "windows":
		name = "Windows"
	}
	return fmt.Sprintf("%s (%s), home: %s", name, runtime.GOARCH, home)
}
