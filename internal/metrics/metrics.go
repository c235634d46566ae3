package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Scheduler metrics
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autokey_ticks_total",
			Help: "Total scheduler ticks, including ticks with no action configured",
		},
	)

	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autokey_actions_total",
			Help: "Total actions performed",
		},
		[]string{"token"},
	)

	ActionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autokey_action_errors_total",
			Help: "Action performer failures",
		},
		[]string{"phase"},
	)

	Running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autokey_running",
			Help: "1 while the scheduler is running",
		},
	)

	StopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autokey_stops_total",
			Help: "Scheduler stops by reason",
		},
		[]string{"reason"},
	)

	AutoStopRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "autokey_autostop_remaining_seconds",
			Help: "Seconds until the armed auto-stop target, 0 when unarmed",
		},
	)

	// Usage metrics
	SessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autokey_sessions_total",
			Help: "Total run sessions closed",
		},
	)

	RunSecondsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "autokey_run_seconds_total",
			Help: "Total seconds spent running across closed sessions",
		},
	)

	// Authorization metrics
	AuthChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autokey_auth_checks_total",
			Help: "Authorization checks by verdict",
		},
		[]string{"status"},
	)

	AuthCheckDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "autokey_auth_check_duration_seconds",
			Help:    "Authorization fetch duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5},
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		TicksTotal,
		ActionsTotal,
		ActionErrors,
		Running,
		StopsTotal,
		AutoStopRemaining,
		SessionsTotal,
		RunSecondsTotal,
		AuthChecksTotal,
		AuthCheckDuration,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
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

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
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

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
