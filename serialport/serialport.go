// Package serialport implements the carriage-return terminated
// command/reply transport used by the instrument's mechanism controllers.
package serialport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/liric/liric_interface/mecherr"
	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

const (
	// MaxCommandLength bounds every wire message, terminator included.
	MaxCommandLength = 32
	// DefaultReplySize is the reply buffer used when a Request leaves it unset.
	DefaultReplySize = 256
	// DefaultBaud is the fastest rate the line discipline accepts.
	DefaultBaud = 4000000
	// ReadTimeout bounds each individual read (VMIN=0, VTIME=5).
	ReadTimeout = 500 * time.Millisecond
	// DefaultReplyTimeout bounds the collection of one whole reply.
	DefaultReplyTimeout = 10 * time.Second

	terminator = '\r'
)

// Request is one command and the handling of its reply.
type Request struct {
	// Command is sent followed by a single carriage return.
	Command string
	// Expect, when non-empty, must equal the reply once its terminator is
	// removed. An empty Expect accepts any reply, so an empty reply cannot
	// be required.
	Expect string
	// WantReply requests that a reply is read after the command is written.
	WantReply bool
	// ReplySize is the largest reply accepted, terminator included.
	ReplySize int
}

// Commander is the request/reply contract shared by the command layers.
type Commander interface {
	SendCommand(req Request) (string, error)
}

// Port is a serial connection. All methods are safe for concurrent use; one
// command and its reply are never interleaved with another.
type Port struct {
	mu   sync.Mutex
	name string
	conn io.ReadWriteCloser

	baud         int
	replyTimeout time.Duration
	log          logrus.FieldLogger
}

type Option func(*Port)

// WithBaud overrides DefaultBaud.
func WithBaud(baud int) Option {
	return func(p *Port) {
		p.baud = baud
	}
}

func WithReplyTimeout(d time.Duration) Option {
	return func(p *Port) {
		p.replyTimeout = d
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Port) {
		p.log = l
	}
}

// New returns a closed Port.
func New(opts ...Option) *Port {
	p := &Port{
		baud:         DefaultBaud,
		replyTimeout: DefaultReplyTimeout,
		log:          logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Open returns a Port connected to device.
func Open(device string, opts ...Option) (*Port, error) {
	p := New(opts...)
	if err := p.Open(device); err != nil {
		return nil, err
	}
	return p, nil
}

var openPort = func(c *serial.Config) (io.ReadWriteCloser, error) {
	return serial.OpenPort(c)
}

// Open connects p to device: 8N1, no flow control, modem lines ignored, raw
// input with a 0.5s read timeout.
func (p *Port) Open(device string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return fmt.Errorf("serialport: %w %q: %s already open", mecherr.ErrOpen, device, p.name)
	}
	log := p.log.WithField("device", device)
	log.Debugf("opening at %d baud", p.baud)
	conn, err := openPort(&serial.Config{
		Name:        device,
		Baud:        p.baud,
		ReadTimeout: ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		// Anything after the open(2) itself is termios configuration.
		var pe *fs.PathError
		if errors.As(err, &pe) {
			return fmt.Errorf("serialport: %w %q: %w", mecherr.ErrOpen, device, err)
		}
		// serial.OpenPort has already closed the descriptor, so p stays
		// closed and needs no Close.
		return fmt.Errorf("serialport: %w %q: %w", mecherr.ErrLineDiscipline, device, err)
	}
	p.name, p.conn = device, conn
	log.Info("opened")
	return nil
}

// Attach makes an already connected stream the port's descriptor.
// Simulators and tests use it in place of Open.
func (p *Port) Attach(name string, conn io.ReadWriteCloser) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return fmt.Errorf("serialport: %w %q: %s already open", mecherr.ErrOpen, name, p.name)
	}
	p.name, p.conn = name, conn
	p.log.WithField("device", name).Debug("attached")
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return fmt.Errorf("serialport: close: %w", mecherr.ErrNotOpen)
	}
	conn, name := p.conn, p.name
	p.conn = nil
	if err := conn.Close(); err != nil {
		return fmt.Errorf("serialport: %w %q: %w", mecherr.ErrClose, name, err)
	}
	p.log.WithField("device", name).Info("closed")
	return nil
}

func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// Name returns the device the port was last opened on.
func (p *Port) Name() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.name
}

// SendCommand writes req.Command and, if requested, reads and checks one reply.
func (p *Port) SendCommand(req Request) (string, error) {
	if len(req.Command)+1 > MaxCommandLength {
		return "", fmt.Errorf("serialport: %w: %q is %d bytes, limit %d", mecherr.ErrCommandTooLong, req.Command, len(req.Command)+1, MaxCommandLength)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return "", fmt.Errorf("serialport: send %q: %w", req.Command, mecherr.ErrNotOpen)
	}
	log := p.log.WithFields(logrus.Fields{"device": p.name, "command": req.Command})
	log.Trace("srv->dev")
	if _, err := p.conn.Write([]byte(req.Command + string(terminator))); err != nil {
		return "", fmt.Errorf("serialport: %w %q: %w", mecherr.ErrWrite, req.Command, err)
	}
	if !req.WantReply {
		return "", nil
	}
	size := req.ReplySize
	if size <= 0 {
		size = DefaultReplySize
	}
	reply, err := p.readReply(size)
	if err != nil {
		return "", fmt.Errorf("serialport: reply to %q: %w", req.Command, err)
	}
	log.WithField("reply", reply).Trace("dev->srv")
	if req.Expect != "" && reply != req.Expect {
		return reply, fmt.Errorf("serialport: reply to %q: %w: got %q, want %q", req.Command, mecherr.ErrUnexpectedReply, reply, req.Expect)
	}
	return reply, nil
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// readReply collects bytes until a terminator arrives, the buffer fills or
// the line goes quiet. The terminator is stripped.
func (p *Port) readReply(size int) (string, error) {
	buf := make([]byte, size)
	n := 0
	deadline := time.Now().Add(p.replyTimeout)
	rd, hasDeadline := p.conn.(readDeadliner)
	for n < size {
		if hasDeadline {
			rd.SetReadDeadline(time.Now().Add(ReadTimeout))
		}
		m, err := p.conn.Read(buf[n:])
		n += m
		if n > 0 && buf[n-1] == terminator {
			break
		}
		if err != nil {
			// A VMIN=0 read that times out returns no bytes, which
			// the serial library reports as EOF.
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrDeadlineExceeded) {
				break
			}
			return "", fmt.Errorf("%w: %w", mecherr.ErrRead, err)
		}
		if m == 0 || time.Now().After(deadline) {
			break
		}
	}
	reply := string(buf[:n])
	if !strings.HasSuffix(reply, string(terminator)) {
		return "", fmt.Errorf("%w: %q not terminated by CR", mecherr.ErrMalformedReply, reply)
	}
	return strings.TrimSuffix(reply, string(terminator)), nil
}

// ScanLines is a bufio.SplitFunc returning carriage-return terminated
// lines with the terminator removed. Stray line feeds are dropped.
func ScanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, terminator); i >= 0 {
		return i + 1, bytes.Trim(data[:i], "\n"), nil
	}
	if atEOF {
		return len(data), bytes.Trim(data, "\n"), nil
	}
	return 0, nil, nil
}
