// Package lifecycle turns shell events and the startup outcome into window
// and process actions. It is the only place allowed to end the application.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/go-go-golems/llmdesk/pkg/events"
	"github.com/go-go-golems/llmdesk/pkg/metrics"
	"github.com/go-go-golems/llmdesk/pkg/registry"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	ExitOK             = 0
	ExitStartupFailure = 1
)

// Window is the main application window as seen by the controller.
type Window interface {
	Show()
	Hide()
}

// Startup is the background bring-up the controller waits on.
type Startup interface {
	Run(ctx context.Context) error
	Ready() <-chan struct{}
}

type Options struct {
	Registry *registry.Registry
	Window   Window
	// Exit ends the application with the given code. Only the first call is
	// forwarded.
	Exit            func(code int)
	ShutdownTimeout time.Duration
}

type Controller struct {
	registry        *registry.Registry
	window          Window
	exit            func(code int)
	shutdownTimeout time.Duration

	exitOnce sync.Once
	mu       sync.Mutex
	exited   bool
}

func New(opts Options) (*Controller, error) {
	if opts.Registry == nil {
		return nil, errors.New("missing registry")
	}
	if opts.Window == nil {
		return nil, errors.New("missing window")
	}
	if opts.Exit == nil {
		return nil, errors.New("missing exit func")
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Controller{
		registry:        opts.Registry,
		window:          opts.Window,
		exit:            opts.Exit,
		shutdownTimeout: opts.ShutdownTimeout,
	}, nil
}

// HandleEvent applies one shell event. It reports whether the shell's default
// action must be suppressed, which is only the case for a close request.
func (c *Controller) HandleEvent(ctx context.Context, kind events.Kind) (prevented bool) {
	metrics.ObserveShellEvent(string(kind))
	log.Debug().Str("event", string(kind)).Msg("shell event")

	switch kind {
	case events.TrayOpen:
		c.window.Show()
	case events.TrayQuit:
		c.Quit(ctx)
	case events.WindowCloseRequest:
		c.window.Hide()
		return true
	default:
		log.Warn().Str("event", string(kind)).Msg("ignoring unknown shell event")
	}
	return false
}

// Quit terminates every registered process and exits with status 0.
func (c *Controller) Quit(ctx context.Context) {
	log.Info().Msg("quit requested")
	c.terminateAll(ctx)
	c.doExit(ExitOK)
}

// Start runs startup on its own goroutine. The window is shown once it
// signals ready; a startup error terminates what was launched and exits
// with ExitStartupFailure without ever showing the window. The returned
// channel is closed when the goroutine is done.
func (c *Controller) Start(ctx context.Context, startup Startup) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := startup.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Err(err).Msg("startup interrupted by shutdown")
				return
			}
			log.Error().Err(err).Msg("startup failed")
			c.terminateAll(context.Background())
			c.doExit(ExitStartupFailure)
			return
		}

		select {
		case <-startup.Ready():
		case <-ctx.Done():
			return
		}
		if c.Exited() {
			return
		}
		log.Info().Msg("services ready; showing window")
		c.window.Show()
	}()
	return done
}

// Register subscribes the controller to shell events on bus. Events are
// applied one at a time in publish order.
func (c *Controller) Register(bus *events.Bus) {
	bus.HandleShellEvents("llmdesk-lifecycle", func(ctx context.Context, ev events.ShellEvent) {
		c.HandleEvent(ctx, ev.Kind)
	})
}

func (c *Controller) Exited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exited
}

func (c *Controller) terminateAll(ctx context.Context) {
	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.shutdownTimeout)
	defer cancel()
	if err := c.registry.TerminateAll(tctx); err != nil {
		log.Error().Err(err).Msg("some services did not terminate cleanly")
	}
	metrics.SetRegistered(c.registry.Len())
}

func (c *Controller) doExit(code int) {
	c.exitOnce.Do(func() {
		c.mu.Lock()
		c.exited = true
		c.mu.Unlock()
		log.Info().Int("code", code).Msg("exiting")
		c.exit(code)
	})
}
