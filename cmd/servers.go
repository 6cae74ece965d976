package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/deskmind-ai/deskmind/internal/config"
)

var (
	serversAddr  string
	serversToken string
)

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "List configured tool servers",
	Long: `List the tool servers defined in servers.yaml. When a daemon is
running, connection status and registered tools are shown as well.`,
	RunE: runServers,
}

func init() {
	rootCmd.AddCommand(serversCmd)

	serversCmd.Flags().StringVar(&serversAddr, "addr", "", "Daemon address host:port (default from config)")
	serversCmd.Flags().StringVar(&serversToken, "token", "", "Auth token (default from config)")
}

func runServers(cmd *cobra.Command, args []string) error {
	defs, err := config.LoadServers()
	if err != nil {
		return err
	}

	live, daemonUp := fetchLiveServers(cmd)

	if len(defs) == 0 && len(live) == 0 {
		fmt.Println("No tool servers configured. Add entries to servers.yaml in the config directory.")
		return nil
	}

	fmt.Printf("%-16s %-18s %-30s %s\n", "NAME", "STATUS", "COMMAND", "TOOLS")
	fmt.Println(strings.Repeat("-", 100))

	seen := make(map[string]bool, len(defs))
	alwaysOn := false
	for _, def := range defs {
		seen[def.Name] = true
		name := def.Name
		if def.AlwaysOn {
			name += "*"
			alwaysOn = true
		}

		tools, connected := live[def.Name]
		command := def.Command
		if len(def.Args) > 0 {
			command += " " + strings.Join(def.Args, " ")
		}

		fmt.Printf("%-16s %-18s %-30s %s\n",
			name,
			serverStatus(connected, daemonUp, def.RequiresGoogleToken),
			truncateCell(command, 30),
			toolsCell(tools, connected))
	}

	// Servers the daemon reports that servers.yaml no longer defines.
	var extras []string
	for name := range live {
		if !seen[name] {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		fmt.Printf("%-16s %-18s %-30s %s\n", name, "connected", "-", toolsCell(live[name], true))
	}

	if alwaysOn {
		fmt.Println("\n* always-on: tools are offered on every query")
	}
	if !daemonUp {
		fmt.Println("\nDaemon not reachable; run \"deskmind serve\" to see connection status.")
	}
	return nil
}

// fetchLiveServers asks a running daemon which servers are connected.
// Any failure degrades to the config-only view.
func fetchLiveServers(cmd *cobra.Command) (map[string][]string, bool) {
	addr, token, err := resolveDaemon(serversAddr, serversToken)
	if err != nil {
		return nil, false
	}

	var resp struct {
		Servers []struct {
			Name  string   `json:"name"`
			Tools []string `json:"tools"`
		} `json:"servers"`
	}
	if err := newDaemonClient(addr, token).get(cmd.Context(), "/api/servers", &resp); err != nil {
		return nil, false
	}

	live := make(map[string][]string, len(resp.Servers))
	for _, s := range resp.Servers {
		live[s.Name] = s.Tools
	}
	return live, true
}

func serverStatus(connected, daemonUp, wantsGoogleToken bool) string {
	switch {
	case connected:
		return "connected"
	case !daemonUp:
		return "-"
	case wantsGoogleToken:
		return "waiting on token"
	default:
		return "not connected"
	}
}

func toolsCell(tools []string, connected bool) string {
	if !connected || len(tools) == 0 {
		return "-"
	}
	return truncateCell(strings.Join(tools, ", "), 40)
}

func truncateCell(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
