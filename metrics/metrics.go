// Package metrics exports walk activity as Prometheus metrics.
//
// WalkMetrics implements walk.Observer, so wiring it into the retrieval
// facades is a single option:
//
//	server, err := metrics.NewServer(metrics.Config{Namespace: "snmpbulk"}, logger)
//	if err != nil {
//		return err
//	}
//	tables := walk.NewTableUtils(session, nil, walk.WithObserver(server.Walks()))
//	go server.Start()
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geekxflood/snmpbulk/logging"
	"github.com/geekxflood/snmpbulk/snmp"
	"github.com/geekxflood/snmpbulk/walk"
)

// Defaults for Config.
const (
	DefaultNamespace     = "snmpbulk"
	DefaultListenAddress = ":9117"
	DefaultMetricsPath   = "/metrics"
	DefaultHealthPath    = "/health"
)

// WalkMetrics counts requests, emitted items and finished walks per walk kind.
type WalkMetrics struct {
	requests        *prometheus.CounterVec
	bindings        *prometheus.CounterVec
	items           *prometheus.CounterVec
	walks           *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	requestsPerWalk *prometheus.HistogramVec
}

var _ walk.Observer = (*WalkMetrics)(nil)

// NewWalkMetrics creates the walk collectors and registers them with registerer.
func NewWalkMetrics(namespace string, registerer prometheus.Registerer) (*WalkMetrics, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	m := &WalkMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_sent_total",
			Help:      "Total number of SNMP requests sent by walkers",
		}, []string{"kind", "pdu_type"}),
		bindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_bindings_total",
			Help:      "Total number of variable bindings carried by walker requests",
		}, []string{"kind"}),
		items: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_emitted_total",
			Help:      "Total number of rows or subtree values delivered to listeners",
		}, []string{"kind"}),
		walks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "walks_total",
			Help:      "Total number of finished walks by terminal status",
		}, []string{"kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "walk_duration_seconds",
			Help:      "Time from the first request to the terminal event of a walk",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"kind"}),
		requestsPerWalk: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "walk_requests",
			Help:      "Number of requests a walk needed to finish",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"kind"}),
	}

	for _, c := range []prometheus.Collector{m.requests, m.bindings, m.items, m.walks, m.duration, m.requestsPerWalk} {
		if err := registerer.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register walk metrics: %w", err)
		}
	}
	return m, nil
}

// RequestSent implements walk.Observer.
func (m *WalkMetrics) RequestSent(kind string, pduType snmp.PDUType, bindings int) {
	m.requests.WithLabelValues(kind, pduType.String()).Inc()
	m.bindings.WithLabelValues(kind).Add(float64(bindings))
}

// ItemsEmitted implements walk.Observer.
func (m *WalkMetrics) ItemsEmitted(kind string, n int) {
	m.items.WithLabelValues(kind).Add(float64(n))
}

// WalkFinished implements walk.Observer.
func (m *WalkMetrics) WalkFinished(kind string, status walk.Status, requests int, elapsed time.Duration) {
	m.walks.WithLabelValues(kind, status.String()).Inc()
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
	m.requestsPerWalk.WithLabelValues(kind).Observe(float64(requests))
}

// Config configures the metrics server.
type Config struct {
	ListenAddress string
	MetricsPath   string
	HealthPath    string
	Namespace     string
}

func (c Config) withDefaults() Config {
	if c.ListenAddress == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if c.MetricsPath == "" {
		c.MetricsPath = DefaultMetricsPath
	}
	if c.HealthPath == "" {
		c.HealthPath = DefaultHealthPath
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	return c
}

// Server owns a private registry holding the walk and runtime collectors and
// serves it over HTTP.
type Server struct {
	config   Config
	logger   logging.Logger
	registry *prometheus.Registry
	walks    *WalkMetrics

	mu     sync.Mutex
	server *http.Server
}

// NewServer builds the registry. A nil logger uses the metrics component logger.
func NewServer(config Config, logger logging.Logger) (*Server, error) {
	config = config.withDefaults()
	if logger == nil {
		logger = logging.NewComponentLogger("metrics", "server")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: config.Namespace}),
	)

	walks, err := NewWalkMetrics(config.Namespace, registry)
	if err != nil {
		return nil, err
	}

	return &Server{
		config:   config,
		logger:   logger,
		registry: registry,
		walks:    walks,
	}, nil
}

// Walks returns the observer to pass to walk.WithObserver.
func (s *Server) Walks() *WalkMetrics {
	return s.walks
}

// Registry returns the registry backing the handler.
func (s *Server) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the metrics and health endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))
	mux.HandleFunc(s.config.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.server != nil {
		s.mu.Unlock()
		return errors.New("metrics server already started")
	}
	server := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.server = server
	s.mu.Unlock()

	s.logger.Info("Starting metrics server",
		"listen_address", s.config.ListenAddress,
		"metrics_path", s.config.MetricsPath)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Stop shuts the HTTP server down, waiting for in-flight scrapes until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()

	if server == nil {
		return nil
	}
	s.logger.Info("Stopping metrics server")
	return server.Shutdown(ctx)
}
