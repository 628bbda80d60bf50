package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Neomon11/LibLocker/internal/api"
	"github.com/Neomon11/LibLocker/internal/config"
	"github.com/Neomon11/LibLocker/internal/database"
	"github.com/Neomon11/LibLocker/internal/hub"
	"github.com/Neomon11/LibLocker/internal/metrics"
	"github.com/Neomon11/LibLocker/internal/presence"
	"github.com/Neomon11/LibLocker/internal/router"
	"github.com/Neomon11/LibLocker/internal/session"
	"github.com/Neomon11/LibLocker/internal/systemd"
	"github.com/Neomon11/LibLocker/internal/websocket"
)

// Application coordinates all server components
// Component initialization follows strict dependency order:
// Store → Presence → Registry → Session → Router → Hub → Handlers → HTTP
type Application struct {
	config   *config.ServerConfig
	logger   zerolog.Logger
	store    *database.Manager
	presence presence.Store
	sessions *session.Manager
	registry *websocket.Registry
	hub      *hub.Hub
	expiry   *session.ExpiryWatcher
	channels *websocket.Handler

	wsServer      *http.Server
	adminServer   *http.Server
	metricsServer *metrics.Server

	wsListener    net.Listener
	adminListener net.Listener

	stopOnce sync.Once
}

// NewApplication creates a new application instance with all components initialized
func NewApplication(cfg *config.ServerConfig, logger zerolog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Defaults()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Open the session store and bring its schema up to date
	store, err := database.NewManager(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	applied, err := store.Migrate()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := store.ValidateSchema(); err != nil {
		store.Close()
		return nil, fmt.Errorf("database schema is invalid: %w", err)
	}
	logger.Info().Strs("applied", applied).Msg("Database migrations applied")

	// STEP 2: Presence cache for heartbeat telemetry
	presenceStore, err := presence.Open(cfg.Presence)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open presence store: %w", err)
	}

	// STEP 3: Registry is the session manager's notifier
	registry := websocket.NewRegistry(logger)

	// STEP 4: Session manager owns every session transition
	sessions := session.NewManager(store, registry, logger, session.WithPresence(presenceStore))
	if err := sessions.LoadActiveSessions(context.Background()); err != nil {
		presenceStore.Close()
		store.Close()
		return nil, fmt.Errorf("failed to load active sessions: %w", err)
	}
	registry.SetDisconnectHook(sessions.ClientDisconnected)

	// STEP 5: Inbound path: handler → hub → router → session manager
	messageRouter := router.NewRouter(sessions, registry, cfg.Router.RateLimitPerMinute, logger)
	messageHub := hub.NewHub(messageRouter, registry, cfg.Router.InboundBuffer, logger)

	wsHandler := websocket.NewHandler(registry, sessions, messageHub, websocket.Config{
		PingInterval:    cfg.WebSocket.PingInterval,
		ReadTimeout:     cfg.WebSocket.ReadTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		BufferSize:      cfg.WebSocket.BufferSize,
		RegisterTimeout: cfg.WebSocket.RegisterTimeout,
	}, logger)

	apiServer := api.NewServer(sessions, store, registry, api.TariffDefaults{
		FreeMode:   cfg.Tariff.FreeMode,
		HourlyRate: cfg.Tariff.HourlyRate,
	}, logger)

	// STEP 6: One listener per surface
	wsMux := http.NewServeMux()
	wsMux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	return &Application{
		config:   cfg,
		logger:   logger.With().Str("component", "app").Logger(),
		store:    store,
		presence: presenceStore,
		sessions: sessions,
		registry: registry,
		hub:      messageHub,
		channels: wsHandler,
		expiry:   session.NewExpiryWatcher(sessions, cfg.Session.ExpiryCheckInterval, cfg.Session.AutoStopExpired, logger),
		wsServer: &http.Server{
			Addr:              cfg.ListenAddr(cfg.Server.Port),
			Handler:           wsMux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		adminServer: &http.Server{
			Addr:              cfg.ListenAddr(cfg.Server.AdminPort),
			Handler:           apiServer,
			ReadHeaderTimeout: 10 * time.Second,
		},
		metricsServer: metrics.NewServer(cfg.ListenAddr(cfg.Server.MetricsPort), logger),
	}, nil
}

// SetListeners supplies pre-created listeners, from systemd socket
// activation or from tests. Nil entries are bound from the config.
func (app *Application) SetListeners(ws, admin, metricsLn net.Listener) {
	app.wsListener = ws
	app.adminListener = admin
	if metricsLn != nil {
		app.metricsServer.SetListener(metricsLn)
	}
}

// Start begins application execution
// Hub starts first to handle messages, then the listeners accept connections
func (app *Application) Start(ctx context.Context) error {
	listeners, err := systemd.GetListeners()
	if err != nil {
		return err
	}
	if listeners.Activated {
		app.logger.Info().Msg("Using systemd socket activation")
		app.SetListeners(firstListener(app.wsListener, listeners.WebSocket), firstListener(app.adminListener, listeners.Admin), listeners.Metrics)
	}

	if app.wsListener == nil {
		if app.wsListener, err = net.Listen("tcp", app.wsServer.Addr); err != nil {
			return fmt.Errorf("failed to listen on %s: %w", app.wsServer.Addr, err)
		}
	}
	if app.adminListener == nil {
		if app.adminListener, err = net.Listen("tcp", app.adminServer.Addr); err != nil {
			app.wsListener.Close()
			return fmt.Errorf("failed to listen on %s: %w", app.adminServer.Addr, err)
		}
	}

	// STEP 1: Start message hub (background message processing)
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// STEP 2: Expiry watcher and metrics
	app.expiry.Start()
	if err := app.metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// STEP 3: Serve clients and admins
	serverErrCh := make(chan error, 2)
	app.serve(app.wsServer, app.wsListener, "websocket", serverErrCh)
	app.serve(app.adminServer, app.adminListener, "admin", serverErrCh)

	// Verify servers are up before reporting readiness
	select {
	case err := <-serverErrCh:
		app.Stop(context.Background())
		return err
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		app.Stop(context.Background())
		return ctx.Err()
	}

	if err := systemd.NotifyReady(); err != nil {
		app.logger.Warn().Err(err).Msg("Failed to notify systemd")
	}
	app.logger.Info().
		Str("ws_addr", app.WebSocketAddr()).
		Str("admin_addr", app.AdminAddr()).
		Int("active_sessions", len(app.sessions.ActiveSessions())).
		Msg("LibLocker server started")
	return nil
}

func (app *Application) serve(server *http.Server, ln net.Listener, name string, errCh chan<- error) {
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error().Err(err).Str("server", name).Msg("HTTP server error")
			errCh <- fmt.Errorf("%s server error: %w", name, err)
		}
	}()
}

// Stop gracefully shuts down the application
// Reverse dependency order: listeners → channels → hub → watcher → stores
func (app *Application) Stop(ctx context.Context) error {
	stopped := true
	app.stopOnce.Do(func() { stopped = false })
	if stopped {
		return nil
	}

	app.logger.Info().Msg("Shutting down LibLocker server")
	if err := systemd.NotifyStopping(); err != nil {
		app.logger.Debug().Err(err).Msg("Failed to notify systemd")
	}

	// STEP 1: Stop accepting new connections
	if err := app.adminServer.Shutdown(ctx); err != nil {
		app.logger.Error().Err(err).Msg("Admin server shutdown error")
	}
	if err := app.wsServer.Shutdown(ctx); err != nil {
		app.logger.Error().Err(err).Msg("WebSocket server shutdown error")
	}

	// STEP 2: Hijacked websocket connections are not closed by Shutdown.
	// Their offline writes must land before the store closes.
	app.registry.CloseAll()
	if err := app.channels.Wait(ctx); err != nil {
		app.logger.Warn().Err(err).Msg("Timed out waiting for client channels to close")
	}

	// STEP 3: Stop message processing and timers
	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.logger.Error().Err(err).Msg("Message hub shutdown error")
	}
	app.expiry.Stop()
	if err := app.metricsServer.Stop(); err != nil {
		app.logger.Error().Err(err).Msg("Metrics server shutdown error")
	}

	// STEP 4: Close stores last so in-flight stops persist
	if err := app.presence.Close(); err != nil {
		app.logger.Error().Err(err).Msg("Presence store shutdown error")
	}
	if err := app.store.Close(); err != nil {
		app.logger.Error().Err(err).Msg("Database shutdown error")
	}

	app.logger.Info().Msg("LibLocker server shutdown complete")
	return nil
}

// WebSocketAddr returns the bound client channel address
func (app *Application) WebSocketAddr() string {
	if app.wsListener != nil {
		return app.wsListener.Addr().String()
	}
	return app.wsServer.Addr
}

// AdminAddr returns the bound admin API address
func (app *Application) AdminAddr() string {
	if app.adminListener != nil {
		return app.adminListener.Addr().String()
	}
	return app.adminServer.Addr
}

// Sessions exposes the session manager for embedding callers
func (app *Application) Sessions() *session.Manager {
	return app.sessions
}

func firstListener(a, b net.Listener) net.Listener {
	if a != nil {
		return a
	}
	return b
}
