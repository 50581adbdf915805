// Package metrics exposes supervisor counters for prometheus.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

var (
	// launches counts launch attempts by service and result (ok|error)
	launches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmdesk_launches_total",
			Help: "Child process launch attempts by service and result",
		},
		[]string{"service", "result"},
	)

	probes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmdesk_probe_attempts_total",
			Help: "Health probe attempts by service and result",
		},
		[]string{"service", "result"},
	)

	probeExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmdesk_probe_exhausted_total",
			Help: "Probe budgets that ran out without the service reporting alive",
		},
		[]string{"service"},
	)

	sequencerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "llmdesk_sequencer_state",
			Help: "1 for the phase the startup sequencer is currently in",
		},
		[]string{"phase"},
	)

	shellEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmdesk_shell_events_total",
			Help: "Shell lifecycle events handled by kind",
		},
		[]string{"event"},
	)

	registered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "llmdesk_registered_processes",
			Help: "Number of child processes currently held by the registry",
		},
	)
)

var phases = []string{"not_started", "launching", "probing", "ready", "failed"}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func ObserveLaunch(service string, ok bool) {
	launches.WithLabelValues(service, result(ok)).Inc()
}

func ObserveProbe(service string, alive bool) {
	r := "dead"
	if alive {
		r = "alive"
	}
	probes.WithLabelValues(service, r).Inc()
}

func ObserveProbeExhausted(service string) {
	probeExhausted.WithLabelValues(service).Inc()
}

func SetSequencerPhase(phase string) {
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		sequencerState.WithLabelValues(p).Set(v)
	}
}

func ObserveShellEvent(event string) {
	shellEvents.WithLabelValues(event).Inc()
}

func SetRegistered(n int) {
	registered.Set(float64(n))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 2 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	return nil
}
