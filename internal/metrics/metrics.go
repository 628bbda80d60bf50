package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Connection metrics
	ConnectedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "liblocker_connected_clients",
			Help: "Number of clients with an open channel",
		},
	)

	MessagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liblocker_messages_received_total",
			Help: "Messages received from clients",
		},
		[]string{"type"},
	)

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liblocker_messages_sent_total",
			Help: "Messages pushed to clients by delivery result",
		},
		[]string{"type", "result"},
	)

	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "liblocker_rate_limited_total",
			Help: "Inbound messages dropped by the per-client rate limiter",
		},
	)

	// Session metrics
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "liblocker_active_sessions",
			Help: "Number of sessions currently active",
		},
	)

	SessionsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "liblocker_sessions_started_total",
			Help: "Total sessions started",
		},
	)

	SessionsStopped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liblocker_sessions_stopped_total",
			Help: "Total sessions stopped by reason",
		},
		[]string{"reason"},
	)

	SessionMinutesBilled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "liblocker_session_minutes_total",
			Help: "Total actual session minutes recorded at stop",
		},
	)

	SessionRevenue = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "liblocker_session_revenue_total",
			Help: "Sum of session costs recorded at stop",
		},
	)

	HeartbeatsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "liblocker_heartbeats_received_total",
			Help: "Total heartbeats received",
		},
	)

	// Store metrics
	StoreWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liblocker_store_writes_total",
			Help: "Session store writes by result",
		},
		[]string{"result"},
	)

	StoreWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "liblocker_store_write_duration_seconds",
			Help:    "Session store write duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
	)

	// Presence metrics
	PresenceErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "liblocker_presence_errors_total",
			Help: "Presence store errors by operation",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectedClients,
		MessagesReceived,
		MessagesSent,
		RateLimited,
		ActiveSessions,
		SessionsStarted,
		SessionsStopped,
		SessionMinutesBilled,
		SessionRevenue,
		HeartbeatsReceived,
		StoreWrites,
		StoreWriteDuration,
		PresenceErrors,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener (systemd socket activation)
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Handler exposes the mux for tests
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves in the background
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
