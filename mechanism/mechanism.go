// Package mechanism describes the instrument mechanisms the server drives,
// independent of how they are connected.
package mechanism

import (
	"context"
	"time"

	"github.com/liric/liric_interface/nudgematic"
	"github.com/liric/liric_interface/usbpio"
)

type Positioner interface {
	SetPosition(ctx context.Context, position int) error
	Position() (int, error)
	Target() int
}

type OffsetSizer interface {
	SetOffsetSize(size nudgematic.OffsetSize) error
	OffsetSize() nudgematic.OffsetSize
}

// Ditherer is a nudgematic.
type Ditherer interface {
	Positioner
	OffsetSizer
	Status() nudgematic.Status
}

// DigitalIO is a USB-PIO board. Lines are numbered 1 to 8.
type DigitalIO interface {
	SetOutput(n int, on bool) error
	Output(n int) (bool, error)
	Input(n int) (bool, error)
	Outputs() (uint8, error)
	Inputs() (uint8, error)
}

type Mover interface {
	Move(ctx context.Context, output, input int, opts usbpio.MoveOptions) error
}

// Board is a DigitalIO that can also run output/input handshakes.
type Board interface {
	DigitalIO
	Mover
}

type StatusCallback func(status Status)

// Status is a snapshot of every enabled mechanism.
type Status struct {
	Time       time.Time          `json:"time"`
	Nudgematic *nudgematic.Status `json:"nudgematic,omitempty"`
	USBPIO     *IOStatus          `json:"usb_pio,omitempty"`
}

type IOStatus struct {
	Outputs uint8  `json:"outputs"`
	Inputs  uint8  `json:"inputs"`
	Error   string `json:"error,omitempty"`
}

// ReadIO reads both ports of d. A failure is recorded in the result.
func ReadIO(d DigitalIO) *IOStatus {
	var s IOStatus
	var err error
	if s.Outputs, err = d.Outputs(); err != nil {
		s.Error = err.Error()
		return &s
	}
	if s.Inputs, err = d.Inputs(); err != nil {
		s.Error = err.Error()
	}
	return &s
}
