// Package metrics exposes Prometheus instrumentation for the scheduler.
//
// A nil *Recorder is valid and records nothing, so components can be built
// without metrics in tests and in the CLI.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collaborator call names.
const (
	CallExtractIntent = "extract_intent"
	CallSynthesize    = "synthesize_meeting"
)

// Commit results.
const (
	CommitSuccess = "success"
	CommitFailure = "failure"
)

// Recorder holds every scheduler metric on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	outcomes         *prometheus.CounterVec
	commits          *prometheus.CounterVec
	versionConflicts prometheus.Counter
	collabFailures   *prometheus.CounterVec
	collabDuration   *prometheus.HistogramVec
	activeSessions   prometheus.Gauge
}

// New registers all metrics on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calgenie_negotiation_outcomes_total",
			Help: "Negotiation turns by resulting action.",
		}, []string{"action"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calgenie_commits_total",
			Help: "Meeting commits by result.",
		}, []string{"result"}),
		versionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "calgenie_store_version_conflicts_total",
			Help: "Compare-and-swap retries caused by concurrent store writers.",
		}),
		collabFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "calgenie_collaborator_failures_total",
			Help: "Failed or timed out NLP collaborator calls.",
		}, []string{"call"}),
		collabDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "calgenie_collaborator_duration_seconds",
			Help:    "NLP collaborator call latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"call"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "calgenie_active_sessions",
			Help: "Negotiation sessions currently held in memory.",
		}),
	}
	r.registry.MustRegister(
		r.outcomes,
		r.commits,
		r.versionConflicts,
		r.collabFailures,
		r.collabDuration,
		r.activeSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Outcome counts one negotiation turn.
func (r *Recorder) Outcome(action string) {
	if r == nil {
		return
	}
	r.outcomes.WithLabelValues(action).Inc()
}

// Commit counts one commit attempt and the CAS retries it needed.
func (r *Recorder) Commit(err error, conflicts int) {
	if r == nil {
		return
	}
	result := CommitSuccess
	if err != nil {
		result = CommitFailure
	}
	r.commits.WithLabelValues(result).Inc()
	if conflicts > 0 {
		r.versionConflicts.Add(float64(conflicts))
	}
}

// Collaborator records latency and failure of one collaborator call.
func (r *Recorder) Collaborator(call string, d time.Duration, err error) {
	if r == nil {
		return
	}
	r.collabDuration.WithLabelValues(call).Observe(d.Seconds())
	if err != nil {
		r.collabFailures.WithLabelValues(call).Inc()
	}
}

// SetActiveSessions sets the session gauge.
func (r *Recorder) SetActiveSessions(n int) {
	if r == nil {
		return
	}
	r.activeSessions.Set(float64(n))
}

// Handler serves the registry in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Server serves /metrics on a dedicated listener, away from application
// traffic.
type Server struct {
	httpServer *http.Server
}

// NewServer builds a metrics server bound to addr.
func NewServer(addr string, r *Recorder) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return &Server{httpServer: &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Metrics server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}
