// Package nudgematic drives the nudgematic, a two cam dithering stage that
// offsets the beam to one of nine positions around the centre.
//
// Each cam takes single character commands: a to e on the vertical axis, A
// to E on the horizontal, with c/C the centre. 'w' and 'W' ask an axis
// where it is; it answers with a StatusReply.
package nudgematic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/liric/liric_interface/mecherr"
	"github.com/liric/liric_interface/serialport"
	"github.com/sirupsen/logrus"
)

// CompletionMode decides when a move has finished across both axes.
type CompletionMode int

const (
	// CompleteAll polls each axis until it is done and finishes when both are.
	CompleteAll CompletionMode = iota
	// CompleteAny finishes as soon as either axis is done, as older
	// controller software did.
	CompleteAny
)

func (m CompletionMode) String() string {
	if m == CompleteAny {
		return "any"
	}
	return "all"
}

// CompletionCheck decides when a single axis is done.
type CompletionCheck int

const (
	// CheckTransport counts any well framed reply to a poll as done.
	CheckTransport CompletionCheck = iota
	// CheckStatus requires the reply's position character to match the
	// commanded one, ignoring case.
	CheckStatus
)

func (c CompletionCheck) String() string {
	if c == CheckStatus {
		return "status"
	}
	return "transport"
}

// PollOptions controls the wait for a move to complete.
type PollOptions struct {
	Mode  CompletionMode
	Check CompletionCheck
	// Interval is slept between poll iterations.
	Interval time.Duration
	// Timeout and MaxPolls bound the wait. Zero means no bound.
	Timeout  time.Duration
	MaxPolls int
}

// Nudgematic holds the state of one mechanism: its offset size and the
// last position commanded.
type Nudgematic struct {
	c        serialport.Commander
	log      logrus.FieldLogger
	pollOpts PollOptions
	observer func(Axis, StatusReply)

	// move is held for the whole of SetPosition.
	move sync.Mutex

	mu         sync.Mutex
	offsetSize OffsetSize
	target     int
	moving     bool
	last       [2]*StatusReply
}

type Option func(*Nudgematic)

func WithLogger(l logrus.FieldLogger) Option {
	return func(n *Nudgematic) {
		n.log = l
	}
}

func WithPollOptions(opts PollOptions) Option {
	return func(n *Nudgematic) {
		n.pollOpts = opts
	}
}

// WithStatusObserver calls f with every status reply that parses.
func WithStatusObserver(f func(Axis, StatusReply)) Option {
	return func(n *Nudgematic) {
		n.observer = f
	}
}

// New returns a Nudgematic commanding c, with no offset and no target.
func New(c serialport.Commander, opts ...Option) *Nudgematic {
	n := &Nudgematic{
		c:          c,
		log:        logrus.StandardLogger(),
		offsetSize: OffsetNone,
		target:     NoPosition,
	}
	for _, o := range opts {
		o(n)
	}
	n.log = n.log.WithField("device", "nudgematic")
	return n
}

func (n *Nudgematic) SetOffsetSize(size OffsetSize) error {
	if !size.valid() {
		return fmt.Errorf("nudgematic: %w %d", mecherr.ErrInvalidOffsetSize, int(size))
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offsetSize = size
	n.log.Infof("offset size %s", size)
	return nil
}

func (n *Nudgematic) OffsetSize() OffsetSize {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.offsetSize
}

// Target returns the last position passed to SetPosition, whether or not
// it was reached, or NoPosition.
func (n *Nudgematic) Target() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.target
}

// Position returns NoPosition. The controller has no command reporting a
// grid position.
func (n *Nudgematic) Position() (int, error) {
	return NoPosition, nil
}

// Moving reports whether a SetPosition call is in progress.
func (n *Nudgematic) Moving() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.moving
}

// Status is a snapshot of the mechanism.
type Status struct {
	OffsetSize OffsetSize   `json:"offset_size"`
	Target     int          `json:"target"`
	Position   int          `json:"position"`
	Moving     bool         `json:"moving"`
	Vertical   *StatusReply `json:"vertical,omitempty"`
	Horizontal *StatusReply `json:"horizontal,omitempty"`
}

// Status returns the session state and the last status reply from each axis.
func (n *Nudgematic) Status() Status {
	position, _ := n.Position()
	n.mu.Lock()
	defer n.mu.Unlock()
	s := Status{
		OffsetSize: n.offsetSize,
		Target:     n.target,
		Position:   position,
		Moving:     n.moving,
	}
	if r := n.last[Vertical]; r != nil {
		v := *r
		s.Vertical = &v
	}
	if r := n.last[Horizontal]; r != nil {
		v := *r
		s.Horizontal = &v
	}
	return s
}

func (n *Nudgematic) send(cmd byte) (string, error) {
	return n.c.SendCommand(serialport.Request{Command: string(cmd), WantReply: true})
}

// SetPosition moves to position (0 to 8) at the current offset size and
// waits until the move completes according to the poll options.
//
// The horizontal axis is commanded before the vertical. If anything fails
// after the first axis accepted its command the error wraps ErrPartialMove.
// Target reports position regardless of the outcome.
func (n *Nudgematic) SetPosition(ctx context.Context, position int) error {
	if position < 0 || position >= Positions {
		return fmt.Errorf("nudgematic: %w: %d not in 0..%d", mecherr.ErrPositionOutOfRange, position, Positions-1)
	}
	n.move.Lock()
	defer n.move.Unlock()

	n.mu.Lock()
	n.target = position
	n.moving = true
	size := n.offsetSize
	n.mu.Unlock()
	defer func() {
		n.mu.Lock()
		n.moving = false
		n.mu.Unlock()
	}()

	cmds := moveCommands[position][size]
	log := n.log.WithFields(logrus.Fields{"position": position, "offset_size": size})
	log.Debugf("moving: vertical %c horizontal %c", cmds[Vertical], cmds[Horizontal])
	for i, axis := range [...]Axis{Horizontal, Vertical} {
		if _, err := n.send(cmds[axis]); err != nil {
			return &AxisError{Axis: axis, Phase: PhaseMove, Partial: i > 0, Err: err}
		}
	}
	start := time.Now()
	if err := n.wait(ctx, cmds); err != nil {
		log.WithError(err).Error("move failed")
		return err
	}
	log.Infof("reached position in %v", time.Since(start))
	return nil
}

// wait polls the axes until the move completes, fails or runs out of time.
func (n *Nudgematic) wait(ctx context.Context, cmds [2]byte) error {
	opts := n.pollOpts
	start := time.Now()
	var done [2]bool
	for polls := 1; ; polls++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("nudgematic: %w waiting for move: %w: %w", mecherr.ErrCancelled, err, ErrPartialMove)
		}
		for _, axis := range axes {
			if done[axis] && opts.Mode == CompleteAll {
				continue
			}
			ok, err := n.poll(axis, cmds[axis])
			if err != nil {
				return &AxisError{Axis: axis, Phase: PhasePoll, Partial: true, Err: err}
			}
			done[axis] = done[axis] || ok
		}
		if (opts.Mode == CompleteAny && (done[Vertical] || done[Horizontal])) || (done[Vertical] && done[Horizontal]) {
			n.log.Debugf("move complete after %d polls", polls)
			return nil
		}
		if (opts.MaxPolls > 0 && polls >= opts.MaxPolls) || (opts.Timeout > 0 && time.Since(start) >= opts.Timeout) {
			return fmt.Errorf("nudgematic: %w after %d polls in %v (vertical done %t, horizontal done %t): %w",
				mecherr.ErrPollTimeout, polls, time.Since(start).Round(time.Millisecond), done[Vertical], done[Horizontal], ErrPartialMove)
		}
		if opts.Interval > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("nudgematic: %w waiting for move: %w: %w", mecherr.ErrCancelled, ctx.Err(), ErrPartialMove)
			case <-time.After(opts.Interval):
			}
		}
	}
}

// poll asks axis where it is and reports whether it has reached want.
func (n *Nudgematic) poll(axis Axis, want byte) (bool, error) {
	reply, err := n.send(whereCommands[axis])
	if err != nil {
		return false, err
	}
	status, perr := ParseStatusReply(reply)
	if perr == nil {
		n.mu.Lock()
		n.last[axis] = &status
		n.mu.Unlock()
		n.log.WithFields(logrus.Fields{
			"axis":     axis,
			"position": string(status.Position),
			"adu":      status.ADU,
			"error":    status.PositionError,
			"nudges":   status.NudgeCount,
			"ms":       status.ElapsedMS,
		}).Trace("status")
		if n.observer != nil {
			n.observer(axis, status)
		}
	}
	if n.pollOpts.Check == CheckStatus {
		if perr != nil {
			return false, perr
		}
		return strings.EqualFold(string(status.Position), string(want)), nil
	}
	return true, nil
}

type statusReplyJSON struct {
	Position      string `json:"position"`
	ADU           int    `json:"adu"`
	PositionError int    `json:"position_error"`
	NudgeCount    int    `json:"nudge_count"`
	ElapsedMS     int    `json:"elapsed_ms"`
}

func (s StatusReply) MarshalJSON() ([]byte, error) {
	return json.Marshal(statusReplyJSON{string(s.Position), s.ADU, s.PositionError, s.NudgeCount, s.ElapsedMS})
}

func (s *StatusReply) UnmarshalJSON(data []byte) error {
	var v statusReplyJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if len(v.Position) != 1 {
		return fmt.Errorf("nudgematic: %w: position %q", mecherr.ErrMalformedStatusReply, v.Position)
	}
	*s = StatusReply{v.Position[0], v.ADU, v.PositionError, v.NudgeCount, v.ElapsedMS}
	return nil
}
