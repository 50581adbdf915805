// Package sequencer brings managed services up one after another, gating
// each on a bounded liveness probe of the one before it.
//
// Running out of probe attempts is not fatal: the next service is launched
// anyway and the run still ends Ready. A launch failure ends the run Failed.
// The sequencer never exits the process; its caller decides what to do with
// the outcome.
package sequencer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-go-golems/llmdesk/pkg/health"
	"github.com/go-go-golems/llmdesk/pkg/launch"
	"github.com/go-go-golems/llmdesk/pkg/metrics"
	"github.com/go-go-golems/llmdesk/pkg/registry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Service is one managed service as the sequencer sees it.
type Service struct {
	Name   string
	Launch launch.Spec
	// HealthURL is probed after launch. Empty skips probing.
	HealthURL string
	// BaseURL is handed to later services through LinkEnv.
	BaseURL string
	// LinkEnv maps an env var to an earlier service whose BaseURL it receives.
	LinkEnv          map[string]string
	MaxProbeAttempts int
	ProbeInterval    time.Duration
}

// LaunchFailure is returned by Run when a service could not be started.
type LaunchFailure struct {
	Service string
	Index   int
	Err     error
}

func (e *LaunchFailure) Error() string {
	return fmt.Sprintf("%s launch failed: %v", e.Service, e.Err)
}

func (e *LaunchFailure) Unwrap() error { return e.Err }

var ErrAlreadyStarted = errors.New("sequencer already started")

type SleepFunc func(ctx context.Context, d time.Duration) error

type Options struct {
	Services []Service
	Launcher launch.Launcher
	Prober   health.Prober
	Registry *registry.Registry
	// Sleep waits between probe attempts. Defaults to a timer honouring ctx.
	Sleep SleepFunc
	// OnTransition is called synchronously after every state change.
	OnTransition func(State)
	// OnExit is called from a watcher goroutine once a launched service's
	// process has ended, with its wait error when the handle reports one.
	OnExit func(name string, err error)
}

type Sequencer struct {
	opts Options

	mu      sync.Mutex
	state   State
	started bool

	ready     chan struct{}
	readyOnce sync.Once
}

func New(opts Options) (*Sequencer, error) {
	if opts.Launcher == nil {
		return nil, errors.New("missing launcher")
	}
	if opts.Prober == nil {
		return nil, errors.New("missing prober")
	}
	if opts.Registry == nil {
		return nil, errors.New("missing registry")
	}
	if len(opts.Services) == 0 {
		return nil, errors.New("no services to start")
	}
	seen := map[string]bool{}
	for _, svc := range opts.Services {
		if svc.Name == "" {
			return nil, errors.New("service name is required")
		}
		if seen[svc.Name] {
			return nil, errors.Errorf("duplicate service %q", svc.Name)
		}
		for envVar, target := range svc.LinkEnv {
			if !seen[target] {
				return nil, errors.Errorf("service %q: %s references %q which is not started before it", svc.Name, envVar, target)
			}
		}
		seen[svc.Name] = true
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Sequencer{
		opts:  opts,
		state: State{Phase: PhaseNotStarted, Index: -1},
		ready: make(chan struct{}),
	}, nil
}

func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready is closed once the run reaches PhaseReady. It is never closed on
// failure.
func (s *Sequencer) Ready() <-chan struct{} {
	return s.ready
}

// Run performs the whole bring-up. It may be called once.
func (s *Sequencer) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	byName := map[string]Service{}
	for i, svc := range s.opts.Services {
		s.transition(State{Phase: PhaseLaunching, Service: svc.Name, Index: i})

		spec := svc.Launch
		spec.Name = svc.Name
		spec.Env = linkedEnv(svc, byName)

		h, err := s.opts.Launcher.Launch(ctx, spec)
		if err == nil && h == nil {
			err = registry.ErrNilHandle
		}
		metrics.ObserveLaunch(svc.Name, err == nil)
		if err != nil {
			log.Error().Err(err).Str("service", svc.Name).Msg("launch failed")
			s.transition(State{Phase: PhaseFailed, Service: svc.Name, Index: i, Reason: svc.Name + " launch failed"})
			return &LaunchFailure{Service: svc.Name, Index: i, Err: err}
		}
		if err := s.opts.Registry.Set(ctx, svc.Name, h); err != nil {
			log.Warn().Err(err).Str("service", svc.Name).Msg("registry replace reported an error")
		}
		metrics.SetRegistered(s.opts.Registry.Len())
		byName[svc.Name] = svc
		if s.opts.OnExit != nil {
			go s.watchExit(svc.Name, h)
		}

		s.transition(State{Phase: PhaseProbing, Service: svc.Name, Index: i})
		if _, err := s.waitAlive(ctx, svc); err != nil {
			s.transition(State{Phase: PhaseFailed, Service: svc.Name, Index: i, Reason: "cancelled"})
			return err
		}
	}

	s.transition(State{Phase: PhaseReady, Index: len(s.opts.Services)})
	s.readyOnce.Do(func() { close(s.ready) })
	return nil
}

// waitAlive polls the service health endpoint, waiting one interval before
// each attempt. It returns false without error when the budget runs out.
func (s *Sequencer) waitAlive(ctx context.Context, svc Service) (bool, error) {
	if svc.HealthURL == "" || svc.MaxProbeAttempts <= 0 {
		return false, nil
	}
	for attempt := 1; attempt <= svc.MaxProbeAttempts; attempt++ {
		if err := s.opts.Sleep(ctx, svc.ProbeInterval); err != nil {
			return false, errors.Wrapf(err, "waiting for %s", svc.Name)
		}
		alive := s.opts.Prober.Probe(ctx, svc.HealthURL)
		metrics.ObserveProbe(svc.Name, alive)
		if alive {
			log.Info().Str("service", svc.Name).Int("attempt", attempt).Msg("service is alive")
			return true, nil
		}
		log.Debug().Str("service", svc.Name).Int("attempt", attempt).Msg("service not alive yet")
	}
	metrics.ObserveProbeExhausted(svc.Name)
	log.Warn().
		Str("service", svc.Name).
		Int("attempts", svc.MaxProbeAttempts).
		Str("endpoint", svc.HealthURL).
		Msg("probe timeout; continuing startup")
	return false, nil
}

type exitReporter interface {
	ExitErr() error
}

func (s *Sequencer) watchExit(name string, h launch.Handle) {
	done := h.Done()
	if done == nil {
		return
	}
	<-done
	var err error
	if r, ok := h.(exitReporter); ok {
		err = r.ExitErr()
	}
	s.opts.OnExit(name, err)
}

func (s *Sequencer) transition(next State) {
	s.mu.Lock()
	prev := s.state
	if err := checkTransition(prev, next); err != nil {
		s.mu.Unlock()
		log.Error().Err(err).Msg("rejected sequencer transition")
		return
	}
	s.state = next
	s.mu.Unlock()

	log.Debug().Str("from", prev.String()).Str("state", next.String()).Msg("sequencer transition")
	metrics.SetSequencerPhase(next.Phase.String())
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(next)
	}
}

// linkedEnv builds the env overlay for svc. Values from LinkEnv come first,
// explicit Launch.Env entries override them.
func linkedEnv(svc Service, started map[string]Service) map[string]string {
	if len(svc.LinkEnv) == 0 {
		return svc.Launch.Env
	}
	out := map[string]string{}
	for envVar, target := range svc.LinkEnv {
		if dep, ok := started[target]; ok && dep.BaseURL != "" {
			out[envVar] = dep.BaseURL
		}
	}
	for k, v := range svc.Launch.Env {
		out[k] = v
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
