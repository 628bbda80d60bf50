package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Neomon11/LibLocker/internal/api"
	"github.com/Neomon11/LibLocker/internal/config"
	"github.com/Neomon11/LibLocker/pkg/types"
)

var (
	clientsAdminURL string
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "List clients known to a running server",
	Long:  `Query the admin API of a running server and list every client with its displayed status and remaining time.`,
	RunE:  runClients,
}

func init() {
	clientsCmd.Flags().StringVar(&clientsAdminURL, "admin-url", "", "Admin API base URL (default: from server.admin_port)")
	rootCmd.AddCommand(clientsCmd)
}

func runClients(cmd *cobra.Command, args []string) error {
	base := clientsAdminURL
	if base == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		base = fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.AdminPort)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	clients, err := fetchClients(ctx, http.DefaultClient, base)
	if err != nil {
		return err
	}
	printClients(os.Stdout, clients)
	return nil
}

func fetchClients(ctx context.Context, httpClient *http.Client, base string) ([]*types.ClientView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/api/clients", nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach admin API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("admin API error %d: %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("admin API returned %s", resp.Status)
	}

	var body api.ClientsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode clients: %w", err)
	}
	return body.Clients, nil
}

var statusColors = map[string]*color.Color{
	types.ClientStatusInSession: color.New(color.FgGreen, color.Bold),
	types.ClientStatusLocked:    color.New(color.FgRed, color.Bold),
	types.ClientStatusOnline:    color.New(color.FgCyan),
	types.ClientStatusOffline:   color.New(color.FgHiBlack),
}

func printClients(out io.Writer, clients []*types.ClientView) {
	if len(clients) == 0 {
		fmt.Fprintln(out, "No clients registered")
		return
	}

	fmt.Fprintf(out, "%-38s %-24s %-12s %s\n", "ID", "NAME", "STATUS", "REMAINING")
	for _, view := range clients {
		status := fmt.Sprintf("%-12s", view.DisplayedStatus)
		if c, ok := statusColors[view.DisplayedStatus]; ok {
			status = c.Sprint(status)
		}
		fmt.Fprintf(out, "%-38s %-24s %s %s\n", view.Client.ID, truncate(view.Client.Name, 24), status, remainingText(view))
	}
}

func remainingText(view *types.ClientView) string {
	switch {
	case view.ActiveSession == nil:
		return "-"
	case view.Unlimited:
		return "unlimited"
	case view.RemainingSeconds != nil:
		return (time.Duration(*view.RemainingSeconds) * time.Second).String()
	default:
		return "-"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
