package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-go-golems/llmdesk/pkg/events"
	"github.com/go-go-golems/llmdesk/pkg/health"
	"github.com/go-go-golems/llmdesk/pkg/launch"
	"github.com/go-go-golems/llmdesk/pkg/registry"
	"github.com/go-go-golems/llmdesk/pkg/sequencer"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeWindow struct {
	shows   atomic.Int32
	hides   atomic.Int32
	visible atomic.Bool
}

func (w *fakeWindow) Show() { w.shows.Add(1); w.visible.Store(true) }
func (w *fakeWindow) Hide() { w.hides.Add(1); w.visible.Store(false) }

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
	ch    chan int
}

func newExitRecorder() *exitRecorder { return &exitRecorder{ch: make(chan int, 4)} }

func (e *exitRecorder) Exit(code int) {
	e.mu.Lock()
	e.codes = append(e.codes, code)
	e.mu.Unlock()
	e.ch <- code
}

func (e *exitRecorder) Codes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int{}, e.codes...)
}

type fakeHandle struct {
	name       string
	terminated atomic.Int32
}

func (h *fakeHandle) Name() string                    { return h.name }
func (h *fakeHandle) PID() int                        { return 1 }
func (h *fakeHandle) Done() <-chan struct{}           { return nil }
func (h *fakeHandle) Running() bool                   { return h.terminated.Load() == 0 }
func (h *fakeHandle) Terminate(context.Context) error { h.terminated.Add(1); return nil }

type fakeStartup struct {
	err   error
	ready chan struct{}
	gate  chan struct{}
}

func (s *fakeStartup) Run(ctx context.Context) error {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	close(s.ready)
	return nil
}

func (s *fakeStartup) Ready() <-chan struct{} { return s.ready }

func newController(t *testing.T) (*Controller, *registry.Registry, *fakeWindow, *exitRecorder) {
	t.Helper()
	reg := registry.New()
	w := &fakeWindow{}
	ex := newExitRecorder()
	c, err := New(Options{Registry: reg, Window: w, Exit: ex.Exit, ShutdownTimeout: time.Second})
	require.NoError(t, err)
	return c, reg, w, ex
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("startup goroutine did not finish")
	}
}

func TestController_TrayOpenShowsWindow(t *testing.T) {
	c, reg, w, ex := newController(t)
	h := &fakeHandle{name: "ollama"}
	require.NoError(t, reg.Set(context.Background(), "ollama", h))

	require.False(t, c.HandleEvent(context.Background(), events.TrayOpen))
	require.Equal(t, int32(1), w.shows.Load())
	require.Equal(t, int32(0), h.terminated.Load())
	require.Empty(t, ex.Codes())
}

func TestController_CloseRequestHidesOnly(t *testing.T) {
	c, reg, w, ex := newController(t)
	a := &fakeHandle{name: "ollama"}
	b := &fakeHandle{name: "backend"}
	require.NoError(t, reg.Set(context.Background(), "ollama", a))
	require.NoError(t, reg.Set(context.Background(), "backend", b))

	for i := 0; i < 3; i++ {
		require.True(t, c.HandleEvent(context.Background(), events.WindowCloseRequest))
	}
	require.Equal(t, int32(3), w.hides.Load())
	require.Equal(t, int32(0), w.shows.Load())
	require.Equal(t, []string{"backend", "ollama"}, reg.Names())
	got, _ := reg.Get("ollama")
	require.Same(t, a, got)
	require.Equal(t, int32(0), a.terminated.Load()+b.terminated.Load())
	require.Empty(t, ex.Codes())
}

func TestController_QuitTerminatesAllAndExitsZero(t *testing.T) {
	c, reg, _, ex := newController(t)
	a := &fakeHandle{name: "ollama"}
	b := &fakeHandle{name: "backend"}
	require.NoError(t, reg.Set(context.Background(), "ollama", a))
	require.NoError(t, reg.Set(context.Background(), "backend", b))

	require.False(t, c.HandleEvent(context.Background(), events.TrayQuit))
	require.Equal(t, []int{ExitOK}, ex.Codes())
	require.Equal(t, int32(1), a.terminated.Load())
	require.Equal(t, int32(1), b.terminated.Load())
	require.Equal(t, 0, reg.Len())
	require.True(t, c.Exited())

	// A second quit does not exit twice.
	c.HandleEvent(context.Background(), events.TrayQuit)
	require.Equal(t, []int{ExitOK}, ex.Codes())
}

func TestController_StartShowsWindowWhenReady(t *testing.T) {
	c, _, w, ex := newController(t)
	startup := &fakeStartup{ready: make(chan struct{})}

	waitDone(t, c.Start(context.Background(), startup))
	require.Equal(t, int32(1), w.shows.Load())
	require.Empty(t, ex.Codes())
}

func TestController_StartFailureExitsNonZeroWithoutWindow(t *testing.T) {
	c, reg, w, ex := newController(t)
	a := &fakeHandle{name: "ollama"}
	require.NoError(t, reg.Set(context.Background(), "ollama", a))

	startup := &fakeStartup{
		ready: make(chan struct{}),
		err:   &sequencer.LaunchFailure{Service: "backend", Index: 1, Err: &launch.Error{Service: "backend", Reason: launch.ReasonMissing, Err: errors.New("python3 not found")}},
	}
	waitDone(t, c.Start(context.Background(), startup))

	require.Equal(t, []int{ExitStartupFailure}, ex.Codes())
	require.Equal(t, int32(0), w.shows.Load())
	require.Equal(t, int32(1), a.terminated.Load())
	require.Equal(t, 0, reg.Len())
}

func TestController_StartCancelledDoesNotExit(t *testing.T) {
	c, _, w, ex := newController(t)
	startup := &fakeStartup{ready: make(chan struct{}), gate: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	done := c.Start(ctx, startup)
	cancel()
	waitDone(t, done)

	require.Empty(t, ex.Codes())
	require.Equal(t, int32(0), w.shows.Load())
}

func TestController_QuitDuringStartup(t *testing.T) {
	c, reg, w, ex := newController(t)
	startup := &fakeStartup{ready: make(chan struct{}), gate: make(chan struct{})}
	a := &fakeHandle{name: "ollama"}
	require.NoError(t, reg.Set(context.Background(), "ollama", a))

	done := c.Start(context.Background(), startup)
	c.HandleEvent(context.Background(), events.TrayQuit)
	require.Equal(t, int32(1), a.terminated.Load())

	close(startup.gate)
	waitDone(t, done)
	require.Equal(t, []int{ExitOK}, ex.Codes())
	require.Equal(t, int32(0), w.shows.Load(), "window is not revealed after quit")
}

func TestController_RegisterOnBus(t *testing.T) {
	c, reg, w, ex := newController(t)
	a := &fakeHandle{name: "ollama"}
	require.NoError(t, reg.Set(context.Background(), "ollama", a))

	bus, err := events.NewInMemoryBus()
	require.NoError(t, err)
	c.Register(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Run(ctx) }()
	<-bus.Running()

	require.NoError(t, events.PublishShellEvent(bus.Publisher(), events.ShellEvent{Kind: events.WindowCloseRequest}))
	require.NoError(t, events.PublishShellEvent(bus.Publisher(), events.ShellEvent{Kind: events.TrayOpen}))
	require.NoError(t, events.PublishShellEvent(bus.Publisher(), events.ShellEvent{Kind: events.TrayQuit}))

	select {
	case code := <-ex.ch:
		require.Equal(t, ExitOK, code)
	case <-time.After(2 * time.Second):
		t.Fatal("quit was not handled")
	}
	require.Equal(t, int32(1), a.terminated.Load())
	require.Equal(t, int32(1), w.hides.Load())
	require.Equal(t, int32(1), w.shows.Load())
}

func startBus(t *testing.T, c *Controller) *events.Bus {
	t.Helper()
	bus, err := events.NewInMemoryBus()
	require.NoError(t, err)
	c.Register(bus)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = bus.Run(ctx) }()
	<-bus.Running()
	return bus
}

func TestController_CloseThenOpenLeavesWindowVisible(t *testing.T) {
	c, _, w, _ := newController(t)
	bus := startBus(t, c)

	for i := 0; i < 200; i++ {
		require.NoError(t, events.PublishShellEvent(bus.Publisher(), events.ShellEvent{Kind: events.WindowCloseRequest}))
		require.NoError(t, events.PublishShellEvent(bus.Publisher(), events.ShellEvent{Kind: events.TrayOpen}))
		require.True(t, w.visible.Load(), "iteration %d", i)
	}
	require.NoError(t, events.PublishShellEvent(bus.Publisher(), events.ShellEvent{Kind: events.TrayOpen}))
	require.NoError(t, events.PublishShellEvent(bus.Publisher(), events.ShellEvent{Kind: events.WindowCloseRequest}))
	require.False(t, w.visible.Load())
}

// gatedLauncher blocks inside Launch for services with a gate and records
// when each call starts and returns.
type gatedLauncher struct {
	gates   map[string]chan struct{}
	entered chan string

	mu    sync.Mutex
	trace []string
}

func (l *gatedLauncher) record(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trace = append(l.trace, s)
}

func (l *gatedLauncher) Trace() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string{}, l.trace...)
}

func (l *gatedLauncher) Launch(_ context.Context, spec launch.Spec) (launch.Handle, error) {
	l.record("start " + spec.Name)
	l.entered <- spec.Name
	if gate := l.gates[spec.Name]; gate != nil {
		<-gate
	}
	l.record("return " + spec.Name)
	return &fakeHandle{name: spec.Name}, nil
}

func TestController_TrayEventsDuringLaunchKeepOrder(t *testing.T) {
	c, reg, w, ex := newController(t)
	bus := startBus(t, c)

	gate := make(chan struct{})
	l := &gatedLauncher{gates: map[string]chan struct{}{"ollama": gate}, entered: make(chan string, 2)}
	seq, err := sequencer.New(sequencer.Options{
		Services: []sequencer.Service{
			{Name: "ollama", Launch: launch.Spec{Command: "ollama"}, BaseURL: "http://localhost:11434"},
			{Name: "backend", Launch: launch.Spec{Command: "python3"}, LinkEnv: map[string]string{"OLLAMA_BASE_URL": "ollama"}},
		},
		Launcher: l,
		Prober:   health.ProberFunc(func(context.Context, string) bool { return true }),
		Registry: reg,
	})
	require.NoError(t, err)

	done := c.Start(context.Background(), seq)
	require.Equal(t, "ollama", <-l.entered)

	for i := 0; i < 10; i++ {
		require.NoError(t, events.PublishShellEvent(bus.Publisher(), events.ShellEvent{Kind: events.TrayOpen}))
		require.NoError(t, events.PublishShellEvent(bus.Publisher(), events.ShellEvent{Kind: events.WindowCloseRequest}))
	}
	require.False(t, w.visible.Load())
	require.Equal(t, []string{"start ollama"}, l.Trace())
	require.Equal(t, sequencer.PhaseLaunching, seq.State().Phase)

	close(gate)
	waitDone(t, done)

	require.Equal(t, []string{"start ollama", "return ollama", "start backend", "return backend"}, l.Trace())
	require.Equal(t, []string{"backend", "ollama"}, reg.Names())
	require.Equal(t, sequencer.PhaseReady, seq.State().Phase)
	require.True(t, w.visible.Load())
	require.Empty(t, ex.Codes())
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{Window: &fakeWindow{}, Exit: func(int) {}})
	require.Error(t, err)
	_, err = New(Options{Registry: registry.New(), Exit: func(int) {}})
	require.Error(t, err)
	_, err = New(Options{Registry: registry.New(), Window: &fakeWindow{}})
	require.Error(t, err)
}
