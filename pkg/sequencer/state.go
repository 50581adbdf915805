package sequencer

import (
	"fmt"

	"github.com/pkg/errors"
)

type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseLaunching
	PhaseProbing
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseLaunching:
		return "launching"
	case PhaseProbing:
		return "probing"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

var ErrInvalidTransition = errors.New("invalid sequencer transition")

// State is the sequencer position. Service and Index identify the service
// being launched or probed; Reason is set for PhaseFailed.
type State struct {
	Phase   Phase  `json:"phase"`
	Service string `json:"service,omitempty"`
	Index   int    `json:"index"`
	Reason  string `json:"reason,omitempty"`
}

func (s State) Terminal() bool {
	return s.Phase == PhaseReady || s.Phase == PhaseFailed
}

func (s State) String() string {
	switch s.Phase {
	case PhaseLaunching, PhaseProbing:
		return fmt.Sprintf("%s(%s)", s.Phase, s.Service)
	case PhaseFailed:
		return fmt.Sprintf("failed(%s)", s.Reason)
	default:
		return s.Phase.String()
	}
}

// rank orders states so that every legal transition strictly increases it.
func (s State) rank() int {
	switch s.Phase {
	case PhaseNotStarted:
		return 0
	case PhaseLaunching:
		return 1 + 2*s.Index
	case PhaseProbing:
		return 2 + 2*s.Index
	default:
		return int(^uint(0) >> 1)
	}
}

func checkTransition(from, to State) error {
	if from.Terminal() {
		return errors.Wrapf(ErrInvalidTransition, "%s is terminal (to %s)", from, to)
	}
	if to.Terminal() {
		return nil
	}
	if to.rank() <= from.rank() {
		return errors.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	return nil
}
