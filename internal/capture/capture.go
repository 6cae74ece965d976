// Package capture provides the screenshot contract and the registry of
// images attached to the next query. Actual pixel grabbing is delegated
// to platform tools; hosts without one get the Unavailable capturer and
// the rest of the engine keeps working.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Capture modes accepted over the wire.
const (
	ModeFullscreen = "fullscreen"
	ModePrecision  = "precision"
	ModeNone       = "none"
)

// ValidMode reports whether mode is one of the accepted capture modes.
func ValidMode(mode string) bool {
	switch mode {
	case ModeFullscreen, ModePrecision, ModeNone:
		return true
	}
	return false
}

// ErrUnavailable is returned when no screenshot tool exists on the host.
var ErrUnavailable = errors.New("screenshot capture not available")

// Capturer grabs the full screen as an encoded image. Implementations
// must be safe for concurrent use.
type Capturer interface {
	CaptureFullscreen(ctx context.Context) ([]byte, error)
}

// Unavailable is the capturer used when the host has no screenshot
// tooling. Every capture fails with ErrUnavailable.
type Unavailable struct{}

func (Unavailable) CaptureFullscreen(context.Context) ([]byte, error) {
	return nil, ErrUnavailable
}

// CLI captures the screen by shelling out to a platform screenshot
// tool. tool and args are resolved once at construction.
type CLI struct {
	tool string
	args []string
}

// DetectCapturer probes the host for a usable screenshot tool and
// returns a CLI capturer bound to the first one found. Hosts with no
// tool get Unavailable.
func DetectCapturer() Capturer {
	for _, candidate := range platformTools() {
		if _, err := exec.LookPath(candidate.tool); err == nil {
			return &CLI{tool: candidate.tool, args: candidate.args}
		}
	}
	return Unavailable{}
}

type toolSpec struct {
	tool string
	args []string // output path is appended as the final argument
}

func platformTools() []toolSpec {
	switch runtime.GOOS {
	case "darwin":
		return []toolSpec{{tool: "screencapture", args: []string{"-x"}}}
	case "linux":
		// Wayland compositors first, then the X11 stalwarts.
		return []toolSpec{
			{tool: "grim"},
			{tool: "gnome-screenshot", args: []string{"-f"}},
			{tool: "spectacle", args: []string{"-bno"}},
			{tool: "scrot", args: []string{"-o"}},
			{tool: "import", args: []string{"-window", "root"}},
		}
	default:
		return nil
	}
}

// CaptureFullscreen writes the screen to a temp file via the bound tool
// and returns the file contents.
func (c *CLI) CaptureFullscreen(ctx context.Context) ([]byte, error) {
	tmp, err := os.CreateTemp("", "deskmind-shot-*.png")
	if err != nil {
		return nil, fmt.Errorf("create screenshot file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	args := append(append([]string{}, c.args...), path)
	cmd := exec.CommandContext(ctx, c.tool, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s: %v: %s", c.tool, err, out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read screenshot: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s produced an empty image", c.tool)
	}
	return data, nil
}
