package terminal

import (
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
)

// protectedPaths builds the list of OS paths no command may mention.
// Matching is lowercased substring, which over-blocks slightly but
// never under-blocks, and catches case tricks on case-insensitive
// filesystems.
func protectedPaths() []string {
	paths := []string{
		"/etc/passwd",
		"/etc/shadow",
		"/etc/sudoers",
		"/boot",
		"/proc/sys",
		"/dev/sd",
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		paths = append(paths,
			filepath.Join(home, ".ssh"),
			filepath.Join(home, ".aws", "credentials"),
			filepath.Join(home, ".gnupg"),
		)
	}
	if runtime.GOOS == "darwin" {
		paths = append(paths, "/system", "/private/etc")
	}
	for i, p := range paths {
		paths[i] = strings.ToLower(p)
	}
	return paths
}

var blockedPaths = protectedPaths()

// dangerousPatterns match commands that destroy disks or filesystems
// regardless of which path they name.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmkfs\b`),
	regexp.MustCompile(`(?i)\bdd\s+.*\bof=/dev/`),
	regexp.MustCompile(`(?i)\brm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r)\s+/\s*$`),
	regexp.MustCompile(`(?i)\bformat\s+[a-z]:`),
}

// checkBlocklist rejects commands that touch protected paths or match
// a dangerous pattern, returning the reason when blocked. It runs
// after approval: even a user-approved command cannot cross it.
func checkBlocklist(command string) (bool, string) {
	lower := strings.ToLower(command)
	for _, p := range blockedPaths {
		if strings.Contains(lower, p) {
			return true, "Command touches protected OS path: " + p
		}
	}
	for _, re := range dangerousPatterns {
		if re.MatchString(command) {
			return true, "Command matches dangerous pattern: " + re.String()
		}
	}
	return false, ""
}

// checkPathInjection rejects tool-supplied environments that try to
// override PATH under any case variant. Children always run with the
// PATH captured at daemon start.
func checkPathInjection(env map[string]string) (bool, string) {
	for k := range env {
		if strings.EqualFold(k, "PATH") {
			return true, "PATH override rejected — cannot modify system PATH"
		}
	}
	return false, ""
}
