// Package skills holds the behavioral guidance blocks injected into
// the system prompt. A skill maps to a tool-server category; it is
// activated either explicitly by a leading slash command in the query
// or automatically when its server owns most of the tools selected for
// the turn.
package skills

import "strings"

// Skill is one guidance block. Name matches the owning tool server's
// registered name so auto-detection can key on it.
type Skill struct {
	Name         string
	DisplayName  string
	SlashCommand string
	Content      string
}

// Defaults returns the built-in skill set. Registries seed from this;
// user-defined skills registered later win on name collision.
func Defaults() []Skill {
	return []Skill{
		{
			Name:         "terminal",
			DisplayName:  "Terminal",
			SlashCommand: "terminal",
			Content: `## Terminal Skill

**Workflow:**
- Always call get_environment first on a new task to understand the OS, shell, and available tools.
- For multi-step tasks (3+ commands), call request_session_mode before starting — not mid-way through.
- Prefer find_files over run_command for file discovery — it never requires approval.
- After a command fails, read the full output and exit code before retrying.

**Background & PTY sessions:**
- Use pty=true + background=true for interactive TUI tools (vim, htop, etc.).
- Always call kill_process when done with a PTY session — do not leave sessions open.
- Use send_input after starting a background session; you do not need a separate read_output call.

**Security:**
- Do not attempt to override PATH or access OS system directories — these are blocked.
- User approval is handled by the calling layer; do not reference it in tool arguments.`,
		},
		{
			Name:         "filesystem",
			DisplayName:  "File System",
			SlashCommand: "filesystem",
			Content: `## File System Skill

**Workflow:**
- List directory contents before reading or writing to understand the existing structure.
- Prefer reading a file fully before making targeted edits — partial context leads to errors.
- When writing, preserve the original file encoding and line endings.
- Use move/rename rather than write+delete for file restructuring.

**Safety:**
- Never overwrite files without confirming intent if the content looks user-generated.
- Avoid writing to system directories or paths outside the project root unless explicitly instructed.`,
		},
		{
			Name:         "websearch",
			DisplayName:  "Web Search",
			SlashCommand: "websearch",
			Content: `## Web Search Skill

**Workflow:**
- Start with a broad search, then narrow with follow-up queries if results are insufficient.
- Read the full page content for detailed questions — search snippets are often too brief.
- Prefer primary sources (official docs, repos, gov sites) over aggregators.
- If the user provides a URL, fetch it directly rather than searching for it.

**Quality:**
- Summarize findings in your own words — do not reproduce large blocks of source text.
- Note if information may be outdated and suggest the user verify time-sensitive details.`,
		},
		{
			Name:         "gmail",
			DisplayName:  "Gmail",
			SlashCommand: "gmail",
			Content: `## Gmail Skill

**Workflow:**
- Search before reading — use search to locate relevant threads, then read specific messages.
- When replying, read the full thread first to maintain context and avoid duplication.
- Confirm recipient, subject, and body with the user before sending any email.
- Use labels to organize rather than deleting unless the user explicitly asks to delete.

**Tone:**
- Match the formality of the existing thread when drafting replies.
- Flag if an email contains sensitive content before summarizing it.`,
		},
		{
			Name:         "calendar",
			DisplayName:  "Calendar",
			SlashCommand: "calendar",
			Content: `## Calendar Skill

**Workflow:**
- Check free/busy before proposing or creating events to avoid conflicts.
- Always confirm timezone with the user for events involving other people.
- When listing events, show the most relevant time window — default to the next 7 days unless asked otherwise.
- Confirm all event details (title, time, attendees, location) before creating or modifying.`,
		},
	}
}

// PromptBlock renders skills as the system prompt's Active Skills
// section. Empty input renders nothing; a non-empty block starts with
// a newline so it appends cleanly after the base prompt.
func PromptBlock(active []Skill) string {
	if len(active) == 0 {
		return ""
	}
	blocks := make([]string, len(active))
	for i, s := range active {
		blocks[i] = strings.TrimSpace(s.Content)
	}
	return "\n\n## Active Skills\n\n" + strings.Join(blocks, "\n\n---\n\n") + "\n"
}
