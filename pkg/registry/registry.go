// Package registry holds the supervisor's live child-process handles.
package registry

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"

	"github.com/go-go-golems/llmdesk/pkg/launch"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrNilHandle guards the one-handle-per-slot invariant.
var ErrNilHandle = errors.New("registry: nil handle")

// Registry maps service names to at most one live handle each. The lock is
// only held across map mutations, never across a terminate call.
type Registry struct {
	mu      sync.Mutex
	entries map[string]launch.Handle
}

func New() *Registry {
	return &Registry{entries: map[string]launch.Handle{}}
}

// Set stores h under name, terminating whatever handle was there before.
func (r *Registry) Set(ctx context.Context, name string, h launch.Handle) error {
	if h == nil {
		return ErrNilHandle
	}

	r.mu.Lock()
	prev := r.entries[name]
	r.entries[name] = h
	r.mu.Unlock()

	if prev == nil || prev == h {
		return nil
	}
	log.Info().Str("service", name).Int("pid", prev.PID()).Msg("replacing registered process")
	if err := prev.Terminate(ctx); err != nil {
		return errors.Wrapf(err, "terminate previous %s", name)
	}
	return nil
}

func (r *Registry) Get(name string) (launch.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.entries[name]
	return h, ok
}

// Clear removes and terminates the handle for name, if any.
func (r *Registry) Clear(ctx context.Context, name string) error {
	r.mu.Lock()
	h, ok := r.entries[name]
	delete(r.entries, name)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return h.Terminate(ctx)
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.entries))
	for name := range r.entries {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// TerminateAll empties the registry and terminates every handle it held, in
// reverse name order. A failure does not stop the remaining terminations;
// all failures are returned joined.
func (r *Registry) TerminateAll(ctx context.Context) error {
	r.mu.Lock()
	taken := r.entries
	r.entries = map[string]launch.Handle{}
	r.mu.Unlock()

	names := make([]string, 0, len(taken))
	for name := range taken {
		names = append(names, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	var errs []error
	for _, name := range names {
		h := taken[name]
		if err := h.Terminate(ctx); err != nil {
			log.Error().Err(err).Str("service", name).Int("pid", h.PID()).Msg("terminate failed")
			errs = append(errs, errors.Wrapf(err, "terminate %s", name))
			continue
		}
		log.Info().Str("service", name).Msg("service terminated")
	}
	return stderrors.Join(errs...)
}
