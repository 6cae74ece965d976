package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const findFilesCap = 200

// probedTools are the dev tools get_environment looks for, with the
// argument that prints their version.
var probedTools = []struct {
	name string
	args []string
}{
	{"git", []string{"--version"}},
	{"node", []string{"--version"}},
	{"python3", []string{"--version"}},
	{"go", []string{"version"}},
	{"docker", []string{"--version"}},
}

// GetEnvironment describes the machine commands will run on: OS,
// shell, working directory, and versions of common tools found on the
// pinned PATH.
func (s *Service) GetEnvironment(ctx context.Context) string {
	var versions []string
	for _, tool := range probedTools {
		if v := probeVersion(ctx, tool.name, tool.args); v != "" {
			versions = append(versions, fmt.Sprintf("  %s: %s", tool.name, v))
		}
	}
	toolList := "  (no common tools detected)"
	if len(versions) > 0 {
		toolList = strings.Join(versions, "\n")
	}

	cwd, _ := os.Getwd()
	home, _ := os.UserHomeDir()

	return fmt.Sprintf("OS: %s (%s)\nShell: %s\nCWD: %s\nHOME: %s\nAvailable tools:\n%s",
		runtime.GOOS, runtime.GOARCH, s.shellPath(), cwd, home, toolList)
}

// probeVersion runs a version command with the pinned PATH and returns
// the first output line, or "" when the tool is missing or slow.
func probeVersion(ctx context.Context, tool string, args []string) string {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, tool, args...)
	cmd.Env = buildEnv(nil)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return ""
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return strings.TrimSpace(line)
}

// FindFiles lists files matching a glob pattern under a directory.
// ** recurses. Results are capped so a careless pattern cannot flood
// the context window.
func FindFiles(pattern, directory string) string {
	dir := directory
	if dir == "" {
		dir, _ = os.Getwd()
	}
	if !filepath.IsAbs(dir) {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Sprintf("Error: Directory does not exist: %s", dir)
	}

	matches, err := doublestar.Glob(os.DirFS(dir), pattern)
	if err != nil {
		return fmt.Sprintf("Error searching for files: %v", err)
	}
	if len(matches) == 0 {
		return fmt.Sprintf("No files found matching '%s' in %s", pattern, dir)
	}

	for i, m := range matches {
		matches[i] = filepath.Join(dir, m)
	}
	if len(matches) > findFilesCap {
		return fmt.Sprintf("Found %d files. Showing first %d:\n%s",
			len(matches), findFilesCap, strings.Join(matches[:findFilesCap], "\n"))
	}
	return fmt.Sprintf("Found %d file(s):\n%s", len(matches), strings.Join(matches, "\n"))
}
