package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Neomon11/LibLocker/internal/agent"
	"github.com/Neomon11/LibLocker/internal/config"
	"github.com/Neomon11/LibLocker/internal/logging"
	"github.com/Neomon11/LibLocker/internal/mirror"
)

var (
	readCommands bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the client agent",
	Long: `Connect to the server, register this PC and mirror its session. With
--commands, "stop" on stdin asks the server to end the current session and
"status" prints the local view.`,
	RunE: runAgent,
}

func init() {
	runCmd.Flags().BoolVar(&readCommands, "commands", true, "Read stop/status commands from stdin")
	rootCmd.Flags().BoolVar(&readCommands, "commands", true, "Read stop/status commands from stdin")
	rootCmd.AddCommand(runCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClient(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	logger.Info().
		Str("version", version).
		Str("server", cfg.Server.URL).
		Str("hwid", cfg.Identity.HardwareID).
		Msg("Starting LibLocker client")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := mirror.New(mirror.NewLogPresenter(logger), mirror.Config{WarningMinutes: cfg.Notifications.WarningMinutes}, logger)
	a := agent.New(
		agent.NewWebSocketDialer(cfg.Server.URL, cfg.Server.ConnectionTimeout),
		m,
		cfg.Registration(),
		agent.Config{
			HeartbeatInterval: cfg.Server.HeartbeatInterval,
			ReconnectInterval: cfg.Server.ReconnectInterval,
		},
		logger,
	)
	m.SetStopRequester(a)

	go m.Run(ctx)
	if readCommands {
		go commandLoop(ctx, os.Stdin, m, a, logger)
	}

	err = a.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info().Msg("LibLocker client stopped")
		return nil
	}
	return err
}

// commandLoop reads operator commands until stdin closes
func commandLoop(ctx context.Context, in io.Reader, m *mirror.Mirror, a *agent.Agent, logger zerolog.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.TrimSpace(strings.ToLower(scanner.Text())) {
		case "stop":
			if err := m.RequestStop(ctx, "user_request"); err != nil {
				return
			}
		case "status":
			snap := m.Snapshot()
			event := logger.Info().
				Bool("connected", a.Connected()).
				Str("client_id", a.ClientID()).
				Str("status", snap.Status()).
				Bool("locked", snap.Locked)
			if remaining, bounded := snap.Remaining(time.Now()); bounded {
				event = event.Dur("remaining", remaining.Round(time.Second))
			}
			event.Msg("Status")
		case "":
		default:
			logger.Warn().Str("command", scanner.Text()).Msg("Unknown command, use stop or status")
		}
	}
}
