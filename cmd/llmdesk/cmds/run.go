package cmds

import (
	"context"
	stderrors "errors"
	"io"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/llmdesk/pkg/config"
	"github.com/go-go-golems/llmdesk/pkg/events"
	"github.com/go-go-golems/llmdesk/pkg/health"
	"github.com/go-go-golems/llmdesk/pkg/launch"
	"github.com/go-go-golems/llmdesk/pkg/lifecycle"
	"github.com/go-go-golems/llmdesk/pkg/metrics"
	"github.com/go-go-golems/llmdesk/pkg/registry"
	"github.com/go-go-golems/llmdesk/pkg/sequencer"
	"github.com/go-go-golems/llmdesk/pkg/shell"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd() *cobra.Command {
	var headless bool
	var altScreen bool
	var metricsAddr string

	cmd := &cobra.Command{
		Use:          "run",
		Short:        "Start the model server and backend, then show the window",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := getRootOptions(cmd)
			if err != nil {
				return err
			}

			cfg, err := config.LoadOptional(opts.Config)
			if err != nil {
				return err
			}
			services, err := cfg.Resolve(config.ResolveOptions{BaseDir: opts.BaseDir, BinDir: opts.BinDir})
			if err != nil {
				return &ExitError{Code: lifecycle.ExitStartupFailure, Reason: err.Error()}
			}

			probeTimeout := cfg.Probe.Timeout
			if cmd.Root().PersistentFlags().Changed("timeout") {
				probeTimeout = opts.Timeout
			}

			if !headless && !logsToFile(cmd) {
				// Log lines would tear the terminal UI.
				log.Logger = log.Logger.Output(io.Discard)
			}

			return runSupervisor(cmd, supervisorOptions{
				services:        services,
				shutdownTimeout: cfg.ShutdownTimeout,
				probeTimeout:    probeTimeout,
				headless:        headless,
				altScreen:       altScreen,
				metricsAddr:     metricsAddr,
			})
		},
	}

	cmd.Flags().BoolVar(&headless, "headless", false, "Run without the terminal window (SIGINT/SIGTERM quit, SIGHUP opens)")
	cmd.Flags().BoolVar(&altScreen, "alt-screen", true, "Use the terminal alternate screen buffer")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	return cmd
}

type supervisorOptions struct {
	services        []sequencer.Service
	shutdownTimeout time.Duration
	probeTimeout    time.Duration
	headless        bool
	altScreen       bool
	metricsAddr     string
}

func runSupervisor(cmd *cobra.Command, o supervisorOptions) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	bus, err := events.NewInMemoryBus()
	if err != nil {
		return err
	}

	var sh shell.Shell
	if o.headless {
		sh = shell.NewHeadless(bus.Publisher())
	} else {
		programOptions := []tea.ProgramOption{
			tea.WithInput(cmd.InOrStdin()),
			tea.WithOutput(cmd.OutOrStdout()),
		}
		if o.altScreen {
			programOptions = append(programOptions, tea.WithAltScreen())
		}
		sh = shell.NewTerminal("llmdesk", bus.Publisher(), programOptions...)
	}

	reg := registry.New()

	var exitCode atomic.Int32
	exitCode.Store(-1)
	ctrl, err := lifecycle.New(lifecycle.Options{
		Registry: reg,
		Window:   sh,
		Exit: func(code int) {
			exitCode.CompareAndSwap(-1, int32(code))
			cancel()
		},
		ShutdownTimeout: o.shutdownTimeout * time.Duration(len(o.services)+1),
	})
	if err != nil {
		return err
	}
	ctrl.Register(bus)

	seq, err := sequencer.New(sequencer.Options{
		Services: o.services,
		Launcher: launch.New(launch.Options{ShutdownTimeout: o.shutdownTimeout}),
		Prober:   health.NewHTTPProber(o.probeTimeout),
		Registry: reg,
		OnTransition: func(s sequencer.State) {
			sh.SetStatus(s.String())
		},
		OnExit: func(name string, err error) {
			if ctx.Err() != nil {
				return
			}
			status := name + " exited"
			if err != nil {
				status += ": " + err.Error()
			}
			log.Warn().Str("service", name).Err(err).Msg("service exited while running")
			sh.SetStatus(status)
		},
	})
	if err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		err := bus.Run(egCtx)
		if stderrors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if o.metricsAddr != "" {
		eg.Go(func() error {
			return metrics.Serve(egCtx, o.metricsAddr)
		})
	}
	eg.Go(func() error {
		err := sh.Run(egCtx)
		// A shell that ends on its own leaves nobody to quit through.
		cancel()
		return err
	})
	eg.Go(func() error {
		select {
		case <-bus.Running():
		case <-egCtx.Done():
			return nil
		}
		<-ctrl.Start(egCtx, seq)
		return nil
	})

	runErr := eg.Wait()

	// The controller already ran TerminateAll on quit or failure. A Launch
	// that was in flight at that moment registers its child afterwards, and
	// only this second pass stops it.
	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), o.shutdownTimeout*2)
	defer cleanupCancel()
	if err := reg.TerminateAll(cleanupCtx); err != nil {
		log.Error().Err(err).Msg("final cleanup")
	}

	code := int(exitCode.Load())
	switch {
	case code > 0:
		return &ExitError{Code: code, Reason: "startup failed: " + seq.State().String()}
	case code == 0:
		return nil
	case runErr != nil:
		return errors.Wrap(runErr, "run")
	default:
		return nil
	}
}

func logsToFile(cmd *cobra.Command) bool {
	f := cmd.Root().PersistentFlags().Lookup("log-file")
	return f != nil && f.Value.String() != ""
}
