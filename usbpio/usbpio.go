// Package usbpio drives a USB-PIO digital I/O board: an 8 bit output port
// and an 8 bit input port addressed over a serial line as device "00".
//
// Commands have the form @00<op><port><value> and replies !00<value>, both
// carriage-return terminated, with values as two upper case hex digits.
package usbpio

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/liric/liric_interface/mecherr"
	"github.com/liric/liric_interface/serialport"
	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
)

const (
	DeviceID = "00"

	commandPrefix = "@" + DeviceID
	replyPrefix   = "!" + DeviceID
)

// Port identifies one of the board's 8 bit ports.
type Port int

const (
	PortA Port = 0
	PortB Port = 1
	PortC Port = 2

	// OutputPort and InputPort are the ports the instrument wires up.
	OutputPort = PortA
	InputPort  = PortB
)

func (p Port) valid() bool {
	return p == PortA || p == PortB || p == PortC
}

func (p Port) String() string {
	switch p {
	case PortA:
		return "A"
	case PortB:
		return "B"
	case PortC:
		return "C"
	}
	return fmt.Sprintf("Port(%d)", int(p))
}

// Direction is written to a port's direction register.
type Direction uint8

const (
	Output Direction = 0x00
	Input  Direction = 0xFF
)

func (d Direction) String() string {
	switch d {
	case Output:
		return "output"
	case Input:
		return "input"
	}
	return fmt.Sprintf("Direction(%#02x)", uint8(d))
}

// Bits is the number of lines per port. Single lines are numbered 1 to Bits.
const Bits = 8

// Dev is a USB-PIO board.
type Dev struct {
	c      serialport.Commander
	closer io.Closer
	log    logrus.FieldLogger

	outPins []gpio.PinIO
	inPins  []gpio.PinIO
}

type Option func(*Dev)

func WithLogger(l logrus.FieldLogger) Option {
	return func(d *Dev) {
		d.log = l
	}
}

// New returns a Dev issuing commands through c.
func New(c serialport.Commander, opts ...Option) *Dev {
	d := &Dev{c: c, log: logrus.StandardLogger()}
	for _, o := range opts {
		o(d)
	}
	d.log = d.log.WithField("device", "usb_pio")
	for i := 1; i <= Bits; i++ {
		d.outPins = append(d.outPins, &outPin{dev: d, number: i})
		d.inPins = append(d.inPins, &inPin{dev: d, number: i})
	}
	return d
}

// Open connects to the board on device.
func Open(device string, opts ...Option) (*Dev, error) {
	d := New(nil, opts...)
	p, err := serialport.Open(device, serialport.WithLogger(d.log))
	if err != nil {
		return nil, fmt.Errorf("usbpio: %w", err)
	}
	d.c, d.closer = p, p
	return d, nil
}

// Close closes the connection made by Open. It is a no-op for a Dev built
// with New, whose Commander belongs to the caller.
func (d *Dev) Close() error {
	if d.closer == nil {
		return nil
	}
	if err := d.closer.Close(); err != nil {
		return fmt.Errorf("usbpio: %w", err)
	}
	return nil
}

func (d *Dev) send(cmd, expect string) (string, error) {
	reply, err := d.c.SendCommand(serialport.Request{
		Command:   cmd,
		Expect:    expect,
		WantReply: true,
		ReplySize: serialport.MaxCommandLength,
	})
	if err != nil {
		return "", fmt.Errorf("usbpio: %w", err)
	}
	if !strings.HasPrefix(reply, replyPrefix) {
		return "", fmt.Errorf("usbpio: %s: %w %q", cmd, mecherr.ErrUnexpectedReply, reply)
	}
	return reply, nil
}

// query sends cmd and decodes the two hex digits following the reply prefix.
func (d *Dev) query(cmd string) (uint8, error) {
	reply, err := d.send(cmd, "")
	if err != nil {
		return 0, err
	}
	field := reply[len(replyPrefix):]
	if len(field) != 2 {
		return 0, fmt.Errorf("usbpio: %s: %w %q: want 2 hex digits", cmd, mecherr.ErrUnexpectedReply, reply)
	}
	v, err := strconv.ParseUint(field, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("usbpio: %s: %w %q: %w", cmd, mecherr.ErrUnexpectedReply, reply, err)
	}
	return uint8(v), nil
}

// SetPortDirection configures every line of port as dir.
func (d *Dev) SetPortDirection(port Port, dir Direction) error {
	if !port.valid() {
		return fmt.Errorf("usbpio: %w: port %d", mecherr.ErrInvalidArgument, int(port))
	}
	if dir != Output && dir != Input {
		return fmt.Errorf("usbpio: %w: direction %#02x", mecherr.ErrInvalidArgument, uint8(dir))
	}
	d.log.Debugf("port %s direction %s", port, dir)
	value := fmt.Sprintf("%02X", uint8(dir))
	_, err := d.send(fmt.Sprintf("%sD%d%s", commandPrefix, port, value), replyPrefix+value)
	return err
}

// PortDirection reads back port's direction register.
func (d *Dev) PortDirection(port Port) (Direction, error) {
	if !port.valid() {
		return 0, fmt.Errorf("usbpio: %w: port %d", mecherr.ErrInvalidArgument, int(port))
	}
	v, err := d.query(fmt.Sprintf("%sD%d?", commandPrefix, port))
	return Direction(v), err
}

// SetOutputs drives the output port to bits.
func (d *Dev) SetOutputs(bits uint8) error {
	if err := d.SetPortDirection(OutputPort, Output); err != nil {
		return err
	}
	d.log.Debugf("outputs %#02x", bits)
	value := fmt.Sprintf("%02X", bits)
	_, err := d.send(fmt.Sprintf("%sP%d%s", commandPrefix, OutputPort, value), replyPrefix+value)
	return err
}

// Outputs returns the output port's current value.
func (d *Dev) Outputs() (uint8, error) {
	if err := d.SetPortDirection(OutputPort, Output); err != nil {
		return 0, err
	}
	return d.query(fmt.Sprintf("%sP%d?", commandPrefix, OutputPort))
}

// Inputs returns the input port's current value.
func (d *Dev) Inputs() (uint8, error) {
	if err := d.SetPortDirection(InputPort, Input); err != nil {
		return 0, err
	}
	return d.query(fmt.Sprintf("%sP%d?", commandPrefix, InputPort))
}

func mask(n int) (uint8, error) {
	if n < 1 || n > Bits {
		return 0, fmt.Errorf("usbpio: %w: line %d not in 1..%d", mecherr.ErrInvalidArgument, n, Bits)
	}
	return 1 << uint(n-1), nil
}

// SetOutput switches output line n (1 to 8) on or off, leaving the others
// unchanged.
func (d *Dev) SetOutput(n int, on bool) error {
	m, err := mask(n)
	if err != nil {
		return err
	}
	bits, err := d.Outputs()
	if err != nil {
		return err
	}
	if on {
		bits |= m
	} else {
		bits &^= m
	}
	return d.SetOutputs(bits)
}

// Output reports whether output line n is on.
func (d *Dev) Output(n int) (bool, error) {
	m, err := mask(n)
	if err != nil {
		return false, err
	}
	bits, err := d.Outputs()
	return bits&m != 0, err
}

// Input reports whether input line n is high.
func (d *Dev) Input(n int) (bool, error) {
	m, err := mask(n)
	if err != nil {
		return false, err
	}
	bits, err := d.Inputs()
	return bits&m != 0, err
}
