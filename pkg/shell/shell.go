// Package shell provides the UI layers that raise lifecycle events: an
// interactive terminal window with a tray bar, and a headless variant driven
// by OS signals.
package shell

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-go-golems/llmdesk/pkg/events"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Shell is a window the lifecycle controller can show and hide, plus a
// status line the sequencer reports to.
type Shell interface {
	Show()
	Hide()
	SetStatus(status string)
	Run(ctx context.Context) error
}

func publishKind(pub message.Publisher, source string, kind events.Kind) {
	if err := events.PublishShellEvent(pub, events.ShellEvent{Kind: kind, Source: source}); err != nil {
		log.Error().Err(err).Str("event", string(kind)).Msg("publish shell event")
	}
}

const outboxSize = 32

// outbox publishes shell events from a single goroutine in the order they
// were queued. Queueing never blocks the update loop; a full queue drops.
type outbox struct {
	pub    message.Publisher
	source string
	queue  chan events.Kind
}

func newOutbox(pub message.Publisher, source string) *outbox {
	return &outbox{pub: pub, source: source, queue: make(chan events.Kind, outboxSize)}
}

func (o *outbox) enqueue(kind events.Kind) {
	select {
	case o.queue <- kind:
	default:
		log.Warn().Str("event", string(kind)).Msg("shell event queue full; dropping")
	}
}

func (o *outbox) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case kind := <-o.queue:
			publishKind(o.pub, o.source, kind)
		}
	}
}

type Terminal struct {
	program *tea.Program
	outbox  *outbox
}

var _ Shell = (*Terminal)(nil)

func NewTerminal(title string, pub message.Publisher, opts ...tea.ProgramOption) *Terminal {
	out := newOutbox(pub, "terminal")
	model := NewModel(title, out.enqueue)
	return &Terminal{program: tea.NewProgram(model, opts...), outbox: out}
}

func (t *Terminal) Show() { t.program.Send(ShowWindowMsg{}) }
func (t *Terminal) Hide() { t.program.Send(HideWindowMsg{}) }

func (t *Terminal) SetStatus(status string) {
	t.program.Send(StatusMsg{Status: status, At: time.Now()})
}

func (t *Terminal) Run(ctx context.Context) error {
	go t.outbox.run(ctx)
	go func() {
		<-ctx.Done()
		t.program.Quit()
	}()
	_, err := t.program.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "terminal shell")
	}
	return nil
}

// Headless has no window. SIGINT and SIGTERM request quit, SIGHUP requests
// open.
type Headless struct {
	publish func(events.Kind)
	visible atomic.Bool
	signals chan os.Signal
}

var _ Shell = (*Headless)(nil)

func NewHeadless(pub message.Publisher) *Headless {
	return &Headless{
		publish: func(kind events.Kind) { publishKind(pub, "signal", kind) },
		signals: make(chan os.Signal, 4),
	}
}

func (h *Headless) Visible() bool { return h.visible.Load() }

func (h *Headless) Show() {
	h.visible.Store(true)
	log.Info().Msg("window shown")
}

func (h *Headless) Hide() {
	h.visible.Store(false)
	log.Info().Msg("window hidden")
}

func (h *Headless) SetStatus(status string) {
	log.Info().Str("state", status).Msg("startup status")
}

func (h *Headless) Run(ctx context.Context) error {
	signal.Notify(h.signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(h.signals)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-h.signals:
			log.Debug().Str("signal", sig.String()).Msg("signal received")
			if sig == syscall.SIGHUP {
				h.publish(events.TrayOpen)
				continue
			}
			h.publish(events.TrayQuit)
		}
	}
}
