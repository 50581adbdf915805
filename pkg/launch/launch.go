package launch

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultShutdownTimeout = 3 * time.Second

// Spec describes one child process to spawn.
type Spec struct {
	Name    string
	Command string
	Args    []string
	Env     map[string]string
	Dir     string
	// LogDir receives <name>-<ts>.stdout.log / .stderr.log. Empty discards output.
	LogDir string
}

type Reason string

const (
	ReasonMissing       Reason = "missing"
	ReasonNotExecutable Reason = "not-executable"
	ReasonSpawn         Reason = "spawn"
)

// Error is returned when a child process could not be started.
type Error struct {
	Service string
	Reason  Reason
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("launch %s: %s: %v", e.Service, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Handle is an owned reference to a running child process.
type Handle interface {
	Name() string
	PID() int
	Running() bool
	Terminate(ctx context.Context) error
	Done() <-chan struct{}
}

type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}

type Options struct {
	ShutdownTimeout time.Duration
}

type ExecLauncher struct {
	opts Options
}

var _ Launcher = (*ExecLauncher)(nil)

func New(opts Options) *ExecLauncher {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &ExecLauncher{opts: opts}
}

// Launch starts spec in its own process group. The child outlives ctx; ctx is
// only consulted before spawning.
func (l *ExecLauncher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if spec.Name == "" {
		return nil, errors.New("service name is required")
	}
	if spec.Command == "" {
		return nil, &Error{Service: spec.Name, Reason: ReasonMissing, Err: errors.New("empty command")}
	}
	if err := ctx.Err(); err != nil {
		return nil, &Error{Service: spec.Name, Reason: ReasonSpawn, Err: err}
	}

	path, err := exec.LookPath(spec.Command)
	if err != nil {
		reason := ReasonMissing
		if stderrors.Is(err, fs.ErrPermission) {
			reason = ReasonNotExecutable
		}
		return nil, &Error{Service: spec.Name, Reason: reason, Err: err}
	}

	// #nosec G204 -- command comes from the service configuration.
	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = mergeEnv(os.Environ(), spec.Env)
	cmd.SysProcAttr = newProcAttr()

	if spec.LogDir != "" {
		stdout, stderr, err := openLogs(spec.LogDir, spec.Name)
		if err != nil {
			return nil, &Error{Service: spec.Name, Reason: ReasonSpawn, Err: err}
		}
		defer func() { _ = stdout.Close() }()
		defer func() { _ = stderr.Close() }()
		cmd.Stdout = stdout
		cmd.Stderr = stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, &Error{Service: spec.Name, Reason: ReasonSpawn, Err: err}
	}

	p := &Process{
		name:            spec.Name,
		cmd:             cmd,
		pid:             cmd.Process.Pid,
		done:            make(chan struct{}),
		shutdownTimeout: l.opts.ShutdownTimeout,
	}
	go p.wait()

	log.Info().
		Str("service", spec.Name).
		Int("pid", p.pid).
		Str("command", path).
		Interface("env", SanitizeEnv(spec.Env)).
		Msg("service started")
	return p, nil
}

func openLogs(dir, name string) (*os.File, *os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, errors.Wrap(err, "mkdir logs dir")
	}
	ts := time.Now().Format("20060102-150405")
	stdout, err := os.OpenFile(filepath.Join(dir, name+"-"+ts+".stdout.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open stdout log")
	}
	stderr, err := os.OpenFile(filepath.Join(dir, name+"-"+ts+".stderr.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		_ = stdout.Close()
		return nil, nil, errors.Wrap(err, "open stderr log")
	}
	return stdout, stderr, nil
}

// mergeEnv overlays extra on base. Keys are applied in sorted order so the
// result is stable; exec keeps the last value for duplicate keys.
func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := append([]string{}, base...)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}

// Process is the Handle for a child started by ExecLauncher.
type Process struct {
	name            string
	cmd             *exec.Cmd
	pid             int
	done            chan struct{}
	shutdownTimeout time.Duration

	mu      sync.Mutex
	waitErr error
}

var _ Handle = (*Process)(nil)

func (p *Process) Name() string          { return p.name }
func (p *Process) PID() int              { return p.pid }
func (p *Process) Done() <-chan struct{} { return p.done }

func (p *Process) Running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the error reported by Wait once the process has exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

func (p *Process) wait() {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()
	close(p.done)

	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err)
	}
	ev.Str("service", p.name).Int("pid", p.pid).Msg("service exited")
}

// Terminate asks the process group to stop, escalating to a kill after the
// shutdown timeout. Calling it on an exited process is a no-op.
func (p *Process) Terminate(ctx context.Context) error {
	if !p.Running() {
		return nil
	}

	timeout := p.shutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	if err := signalTerm(p.cmd.Process); err != nil {
		log.Debug().Str("service", p.name).Err(err).Msg("sigterm failed")
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	case <-t.C:
	}

	log.Warn().Str("service", p.name).Int("pid", p.pid).Msg("service did not stop in time; killing")
	if err := signalKill(p.cmd.Process); err != nil {
		log.Debug().Str("service", p.name).Err(err).Msg("sigkill failed")
	}

	kt := time.NewTimer(2 * time.Second)
	defer kt.Stop()
	select {
	case <-p.done:
		return nil
	case <-kt.C:
		return errors.Errorf("failed to stop service %s (pid %d)", p.name, p.pid)
	}
}
