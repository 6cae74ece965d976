package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/deskmind-ai/deskmind/internal/signalutil"
)

var (
	askModel   string
	askText    bool
	askAddr    string
	askToken   string
	askCapture string
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Send one query to a running daemon",
	Long: `Attach to a running deskmind daemon over WebSocket, submit a single
query, and stream the answer to the terminal.

Command approvals requested by the assistant are prompted inline.
On a TTY the finished answer is re-rendered as markdown; pipe the
output or pass --text for plain text.

Examples:
  deskmind ask "summarize my unread mail"
  deskmind ask -m anthropic/claude-sonnet-4-5 "refactor ideas for main.go"
  deskmind ask --capture fullscreen "what am I looking at?"
  deskmind ask "list my repos" | tee repos.md`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "Model for this query (provider/model, or a bare Ollama name)")
	askCmd.Flags().BoolVarP(&askText, "text", "t", false, "Plain text output instead of rendered markdown")
	askCmd.Flags().StringVar(&askAddr, "addr", "", "Daemon address host:port (default from config)")
	askCmd.Flags().StringVar(&askToken, "token", "", "Auth token (default from config)")
	askCmd.Flags().StringVar(&askCapture, "capture", "none", "Screenshot capture for this query: fullscreen or none")
}

var (
	dimStyle  = lipgloss.NewStyle().Faint(true)
	toolStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	headStyle = lipgloss.NewStyle().Bold(true)
)

// serverEvent is the client-side decode of the daemon's event stream:
// one envelope holding the fields of every event type the CLI reacts
// to, discriminated by Type.
type serverEvent struct {
	Type         string `json:"type"`
	Content      string `json:"content,omitempty"`
	Message      string `json:"message,omitempty"`
	Tool         string `json:"tool,omitempty"`
	Server       string `json:"server,omitempty"`
	Status       string `json:"status,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	Command      string `json:"command,omitempty"`
	Cwd          string `json:"cwd,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Text         string `json:"text,omitempty"`
	Raw          bool   `json:"raw,omitempty"`
	ExitCode     int    `json:"exit_code,omitempty"`
	DurationMs   int64  `json:"duration_ms,omitempty"`
	Background   bool   `json:"background,omitempty"`
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")
	ctx, stop := signalutil.NotifyContext(context.Background())
	defer stop()

	addr, token, err := resolveDaemon(askAddr, askToken)
	if err != nil {
		return err
	}

	conn, err := dialDaemon(ctx, addr, token)
	if err != nil {
		return err
	}
	defer conn.Close()

	fields := map[string]any{"content": question, "capture_mode": askCapture}
	if askModel != "" {
		fields["model"] = askModel
	}
	if err := sendFrame(conn, "submit_query", fields); err != nil {
		return fmt.Errorf("submit query: %w", err)
	}

	// Ctrl-C cancels the in-flight turn instead of just killing the
	// client; the daemon answers with response_complete for whatever
	// text accumulated.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = sendFrame(conn, "stop_streaming", nil)
			_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		case <-done:
		}
	}()

	return streamAnswer(ctx, conn)
}

func dialDaemon(ctx context.Context, addr, token string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable at %s (is \"deskmind serve\" running?): %w", addr, err)
	}
	return conn, nil
}

// sendFrame writes one inbound frame with the type tag spliced in.
func sendFrame(conn *websocket.Conn, frameType string, fields map[string]any) error {
	msg := make(map[string]any, len(fields)+1)
	msg["type"] = frameType
	for k, v := range fields {
		msg[k] = v
	}
	return conn.WriteJSON(msg)
}

// streamAnswer consumes the event stream for one turn. It returns
// after token_usage (or shortly after response_complete when usage
// never arrives), or on the first error event.
func streamAnswer(ctx context.Context, conn *websocket.Conn) error {
	stdinTTY := term.IsTerminal(int(os.Stdin.Fd()))
	stderrTTY := term.IsTerminal(int(os.Stderr.Fd()))
	markdown := !askText && term.IsTerminal(int(os.Stdout.Fd()))

	answer := newAnswerBuffer(os.Stdout, markdown)
	stdin := bufio.NewReader(os.Stdin)
	thinkingShown := false

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || answer.complete {
				// Cancelled, or the deadline after response_complete
				// expired without a usage event.
				answer.finish("")
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "thinking_chunk":
			if stderrTTY {
				fmt.Fprint(os.Stderr, dimStyle.Render(ev.Content))
				thinkingShown = true
			}

		case "thinking_complete":
			if thinkingShown {
				fmt.Fprint(os.Stderr, "\n\n")
				thinkingShown = false
			}

		case "response_chunk":
			answer.write(ev.Content)

		case "response_complete":
			answer.complete = true
			answer.finish(ev.Content)
			// Linger briefly for the usage report that follows.
			_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

		case "token_usage":
			if answer.complete {
				if stderrTTY {
					fmt.Fprintln(os.Stderr, dimStyle.Render(
						fmt.Sprintf("tokens: %d in / %d out", ev.InputTokens, ev.OutputTokens)))
				}
				return nil
			}

		case "tool_call":
			if ev.Status == "calling" {
				label := ev.Tool
				if ev.Server != "" {
					label = ev.Server + "/" + ev.Tool
				}
				fmt.Fprintln(os.Stderr, toolStyle.Render("⏺ "+label))
			}

		case "terminal_approval_request":
			approved, remember := promptApproval(stdin, stdinTTY, ev)
			_ = sendFrame(conn, "terminal_approval_response", map[string]any{
				"request_id": ev.RequestID,
				"approved":   approved,
				"remember":   remember,
			})

		case "terminal_session_request":
			approved := promptSession(stdin, stdinTTY, ev)
			_ = sendFrame(conn, "terminal_session_response", map[string]any{
				"request_id": ev.RequestID,
				"approved":   approved,
			})

		case "terminal_session_started":
			fmt.Fprintln(os.Stderr, dimStyle.Render("session mode: commands run without individual approval"))

		case "terminal_session_ended":
			fmt.Fprintln(os.Stderr, dimStyle.Render("session mode ended"))

		case "terminal_output":
			printTerminalOutput(ev)

		case "terminal_command_complete":
			fmt.Fprintln(os.Stderr, dimStyle.Render(
				fmt.Sprintf("└ exit %d (%s)", ev.ExitCode, formatMillis(ev.DurationMs))))

		case "terminal_running_notice":
			fmt.Fprintln(os.Stderr, dimStyle.Render(
				fmt.Sprintf("still running: %s", ev.Command)))

		case "screenshot_attached":
			fmt.Fprintln(os.Stderr, dimStyle.Render("[screenshot attached]"))

		case "error":
			answer.finish("")
			return fmt.Errorf("%s", ev.Message)
		}
	}
}

func promptApproval(stdin *bufio.Reader, isTTY bool, ev serverEvent) (approved, remember bool) {
	fmt.Fprintf(os.Stderr, "\n%s\n  %s\n", headStyle.Render("Command approval requested:"), ev.Command)
	if ev.Cwd != "" {
		fmt.Fprintf(os.Stderr, "  in %s\n", ev.Cwd)
	}
	if !isTTY {
		fmt.Fprintln(os.Stderr, "stdin is not a terminal; denying")
		return false, false
	}
	for {
		fmt.Fprint(os.Stderr, "Allow? [y]es / [n]o / [a]lways for this command: ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			return false, false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, false
		case "a", "always":
			return true, true
		case "n", "no", "":
			return false, false
		}
	}
}

func promptSession(stdin *bufio.Reader, isTTY bool, ev serverEvent) bool {
	fmt.Fprintf(os.Stderr, "\n%s\n", headStyle.Render("Autonomous session requested:"))
	if ev.Reason != "" {
		fmt.Fprintf(os.Stderr, "  %s\n", ev.Reason)
	}
	if !isTTY {
		fmt.Fprintln(os.Stderr, "stdin is not a terminal; denying")
		return false
	}
	fmt.Fprint(os.Stderr, "Run commands without individual approval until this turn ends? [y/N]: ")
	line, err := stdin.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printTerminalOutput(ev serverEvent) {
	if ev.Raw {
		// PTY chunks keep their ANSI sequences; pass them through.
		fmt.Fprint(os.Stderr, ev.Text)
		return
	}
	for _, line := range strings.Split(strings.TrimRight(ev.Text, "\n"), "\n") {
		fmt.Fprintln(os.Stderr, dimStyle.Render("│ "+line))
	}
}

func formatMillis(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(ms)/1000)
}

// answerBuffer echoes streamed chunks as they arrive and, in markdown
// mode, replaces the echoed block with the glamour-rendered answer once
// the stream completes.
type answerBuffer struct {
	out      *os.File
	markdown bool
	width    int
	height   int
	complete bool
	echoed   strings.Builder
	finished bool
}

func newAnswerBuffer(out *os.File, markdown bool) *answerBuffer {
	width, height, err := term.GetSize(int(out.Fd()))
	if err != nil || width <= 0 {
		width, height = 80, 24
	}
	return &answerBuffer{out: out, markdown: markdown, width: width, height: height}
}

func (b *answerBuffer) write(chunk string) {
	b.echoed.WriteString(chunk)
	fmt.Fprint(b.out, chunk)
}

// finish closes out the answer block. full is the complete text from
// response_complete; empty means keep whatever was echoed.
func (b *answerBuffer) finish(full string) {
	if b.finished {
		return
	}
	b.finished = true

	raw := b.echoed.String()
	if !b.markdown || full == "" {
		if raw != "" && !strings.HasSuffix(raw, "\n") {
			fmt.Fprintln(b.out)
		}
		return
	}

	rows := displayRows(raw, b.width)
	if rows >= b.height {
		// The echo scrolled past the top of the screen; rewriting in
		// place is no longer possible.
		fmt.Fprintln(b.out)
		return
	}
	if rows > 1 {
		fmt.Fprintf(b.out, "\x1b[%dA", rows-1)
	}
	fmt.Fprint(b.out, "\r\x1b[J")
	fmt.Fprintln(b.out, renderMarkdown(full, b.width))
}

// displayRows counts the terminal rows a block of raw text occupies at
// the given width, accounting for soft wrapping and wide runes.
func displayRows(text string, width int) int {
	if width <= 0 {
		width = 80
	}
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		w := lipgloss.Width(line)
		if w == 0 {
			rows++
			continue
		}
		rows += (w + width - 1) / width
	}
	return rows
}

func renderMarkdown(content string, width int) string {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	rendered, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimSpace(rendered)
}
