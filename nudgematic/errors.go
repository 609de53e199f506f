package nudgematic

import (
	"errors"
	"fmt"

	"github.com/liric/liric_interface/mecherr"
)

// ErrPartialMove marks a failure after at least one axis accepted a move
// command. The mechanism's position is then undefined.
var ErrPartialMove = errors.New("nudgematic: position undefined after partial move")

// Phase is the step of SetPosition an axis failed in.
type Phase int

const (
	PhaseMove Phase = iota
	PhasePoll
)

func (p Phase) String() string {
	if p == PhasePoll {
		return "poll"
	}
	return "move"
}

// AxisError is an I/O failure on one axis during SetPosition.
type AxisError struct {
	Axis  Axis
	Phase Phase
	// Partial is set once any axis has accepted a move command.
	Partial bool
	Err     error
}

func (e *AxisError) Error() string {
	msg := fmt.Sprintf("nudgematic: %s axis %s: %v", e.Axis, e.Phase, e.Err)
	if e.Partial {
		msg += " (position undefined)"
	}
	return msg
}

func (e *AxisError) Unwrap() []error {
	kind := mecherr.ErrAxisCommandSend
	if e.Phase == PhasePoll {
		kind = mecherr.ErrAxisPoll
	}
	errs := []error{kind, e.Err}
	if e.Partial {
		errs = append(errs, ErrPartialMove)
	}
	return errs
}
