package usbpio

import (
	"errors"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
)

var ErrNotImplemented = errors.New("usbpio: not implemented")

// OutputPins returns the output lines as GPIO pins named USBPIO_OUT1 to
// USBPIO_OUT8.
func (d *Dev) OutputPins() []gpio.PinIO {
	return d.outPins
}

// InputPins returns the input lines as GPIO pins named USBPIO_IN1 to
// USBPIO_IN8.
func (d *Dev) InputPins() []gpio.PinIO {
	return d.inPins
}

// RegisterPins adds every line to gpioreg so it can be found by name.
func (d *Dev) RegisterPins() error {
	for _, pins := range [][]gpio.PinIO{d.outPins, d.inPins} {
		for _, p := range pins {
			if err := gpioreg.Register(p); err != nil {
				return fmt.Errorf("usbpio: %w", err)
			}
		}
	}
	return nil
}

// UnregisterPins removes the lines added by RegisterPins.
func (d *Dev) UnregisterPins() {
	for _, pins := range [][]gpio.PinIO{d.outPins, d.inPins} {
		for _, p := range pins {
			_ = gpioreg.Unregister(p.Name())
		}
	}
}

type outPin struct {
	dev    *Dev
	number int
}

func (pin *outPin) Name() string {
	return fmt.Sprintf("USBPIO_OUT%d", pin.number)
}

func (pin *outPin) String() string {
	return pin.Name()
}

func (pin *outPin) Number() int {
	return pin.number
}

func (pin *outPin) Function() string {
	return "Out"
}

func (pin *outPin) Halt() error {
	return nil
}

// In fails: the output port's direction is fixed.
func (pin *outPin) In(pull gpio.Pull, edge gpio.Edge) error {
	return fmt.Errorf("%s: %w: input on output port", pin, ErrNotImplemented)
}

// Read returns the line's driven level.
func (pin *outPin) Read() gpio.Level {
	on, err := pin.dev.Output(pin.number)
	if err != nil {
		pin.dev.log.WithField("pin", pin.Name()).Error(err)
	}
	return gpio.Level(on)
}

func (pin *outPin) WaitForEdge(timeout time.Duration) bool {
	return false
}

func (pin *outPin) Pull() gpio.Pull {
	return gpio.PullNoChange
}

func (pin *outPin) DefaultPull() gpio.Pull {
	return gpio.PullNoChange
}

func (pin *outPin) Out(l gpio.Level) error {
	return pin.dev.SetOutput(pin.number, bool(l))
}

func (pin *outPin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return fmt.Errorf("%s: %w: PWM", pin, ErrNotImplemented)
}

type inPin struct {
	dev    *Dev
	number int
}

func (pin *inPin) Name() string {
	return fmt.Sprintf("USBPIO_IN%d", pin.number)
}

func (pin *inPin) String() string {
	return pin.Name()
}

func (pin *inPin) Number() int {
	return pin.number
}

func (pin *inPin) Function() string {
	return "In/Float"
}

func (pin *inPin) Halt() error {
	return nil
}

// In accepts no pull and no edge detection, which is all the board offers.
func (pin *inPin) In(pull gpio.Pull, edge gpio.Edge) error {
	if pull != gpio.Float && pull != gpio.PullNoChange {
		return fmt.Errorf("%s: %w: pull %s", pin, ErrNotImplemented, pull)
	}
	if edge != gpio.NoEdge {
		return fmt.Errorf("%s: %w: edge detection", pin, ErrNotImplemented)
	}
	return pin.dev.SetPortDirection(InputPort, Input)
}

func (pin *inPin) Read() gpio.Level {
	high, err := pin.dev.Input(pin.number)
	if err != nil {
		pin.dev.log.WithField("pin", pin.Name()).Error(err)
	}
	return gpio.Level(high)
}

// The board has no interrupt line.
func (pin *inPin) WaitForEdge(timeout time.Duration) bool {
	return false
}

func (pin *inPin) Pull() gpio.Pull {
	return gpio.Float
}

func (pin *inPin) DefaultPull() gpio.Pull {
	return gpio.Float
}

func (pin *inPin) Out(l gpio.Level) error {
	return fmt.Errorf("%s: %w: output on input port", pin, ErrNotImplemented)
}

func (pin *inPin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return fmt.Errorf("%s: %w: PWM", pin, ErrNotImplemented)
}

var (
	_ gpio.PinIO = &outPin{}
	_ gpio.PinIO = &inPin{}
)
