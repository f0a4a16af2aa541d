package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Ledger metrics
	BytesTransferred = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kburn_bytes_transferred",
			Help: "Bytes transferred since the last daily reset",
		},
	)

	QuotaBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kburn_quota_bytes",
			Help: "Configured daily byte quota",
		},
	)

	TransferSpeed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kburn_transfer_speed_mbps",
			Help: "Aggregate transfer speed across all workers in MB/s",
		},
	)

	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kburn_active_connections",
			Help: "Number of workers currently reporting a non-zero speed",
		},
	)

	// Controller metrics
	Paused = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kburn_paused",
			Help: "1 when transfers are paused, 0 when running",
		},
	)

	PauseReason = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kburn_pause_reason",
			Help: "1 for each active pause cause",
		},
		[]string{"reason"},
	)

	ResumeAt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kburn_resume_at_seconds",
			Help: "Unix time at which paused transfers are expected to resume",
		},
	)

	DailyResets = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kburn_daily_resets_total",
			Help: "Total daily counter resets",
		},
	)

	PersistErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kburn_persist_errors_total",
			Help: "Total failures to persist ledger state",
		},
	)

	// Worker metrics
	WorkersAlive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kburn_workers_alive",
			Help: "Number of worker units still running",
		},
	)

	TransfersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kburn_transfers_total",
			Help: "Total transfers attempted by result",
		},
		[]string{"scheme", "result"},
	)

	TransferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kburn_transfer_duration_seconds",
			Help:    "Transfer duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"scheme"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		BytesTransferred,
		QuotaBytes,
		TransferSpeed,
		ActiveConnections,
		Paused,
		PauseReason,
		ResumeAt,
		DailyResets,
		PersistErrors,
		WorkersAlive,
		TransfersTotal,
		TransferDuration,
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
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
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
