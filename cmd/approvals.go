package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var (
	approvalsAddr  string
	approvalsToken string
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "Manage remembered command approvals",
	Long: `List or clear the command signatures the approval gate remembers.

Answering "always" to a command approval stores its signature so the
same command runs without asking again. These commands talk to a
running "deskmind serve" daemon.`,
	RunE: runApprovalsList,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List remembered command signatures",
	RunE:  runApprovalsList,
}

var approvalsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every remembered approval",
	RunE:  runApprovalsClear,
}

func init() {
	rootCmd.AddCommand(approvalsCmd)
	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsClearCmd)

	approvalsCmd.PersistentFlags().StringVar(&approvalsAddr, "addr", "", "Daemon address host:port (default from config)")
	approvalsCmd.PersistentFlags().StringVar(&approvalsToken, "token", "", "Auth token (default from config)")
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	addr, token, err := resolveDaemon(approvalsAddr, approvalsToken)
	if err != nil {
		return err
	}

	var resp struct {
		Approvals []string `json:"approvals"`
		Count     int      `json:"count"`
	}
	client := newDaemonClient(addr, token)
	if err := client.get(cmd.Context(), "/api/terminal/approvals", &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Println("No remembered approvals.")
		return nil
	}
	for _, sig := range resp.Approvals {
		fmt.Println(sig)
	}
	return nil
}

func runApprovalsClear(cmd *cobra.Command, args []string) error {
	addr, token, err := resolveDaemon(approvalsAddr, approvalsToken)
	if err != nil {
		return err
	}

	client := newDaemonClient(addr, token)
	if err := client.call(cmd.Context(), http.MethodDelete, "/api/terminal/approvals", nil); err != nil {
		return err
	}
	fmt.Println("Approvals cleared.")
	return nil
}
