package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyOffset int
	historyAddr   string
	historyToken  string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List saved conversations",
	Long: `List conversations saved by a running daemon, newest first.

Each query submitted through "deskmind ask" or a connected frontend
becomes a conversation once the first turn completes.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum conversations to list")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "Skip this many conversations")
	historyCmd.Flags().StringVar(&historyAddr, "addr", "", "Daemon address host:port (default from config)")
	historyCmd.Flags().StringVar(&historyToken, "token", "", "Auth token (default from config)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	addr, token, err := resolveDaemon(historyAddr, historyToken)
	if err != nil {
		return err
	}

	var resp struct {
		Conversations []struct {
			ID    string `json:"id"`
			Title string `json:"title"`
			Date  string `json:"date"`
		} `json:"conversations"`
	}
	client := newDaemonClient(addr, token)
	path := fmt.Sprintf("/api/conversations?limit=%d&offset=%d", historyLimit, historyOffset)
	if err := client.get(cmd.Context(), path, &resp); err != nil {
		return err
	}

	if len(resp.Conversations) == 0 {
		fmt.Println("No conversations found.")
		return nil
	}

	fmt.Printf("%-14s %-12s %s\n", "ID", "DATE", "TITLE")
	fmt.Println(strings.Repeat("-", 80))
	for _, c := range resp.Conversations {
		title := c.Title
		if len(title) > 52 {
			title = title[:49] + "..."
		}
		fmt.Printf("%-14s %-12s %s\n", shortID(c.ID), c.Date, title)
	}
	return nil
}

// shortID trims a UUID to its first segment for display.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
