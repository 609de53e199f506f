// Package simulator emulates a USB-PIO board on the far end of a pipe.
package simulator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/liric/liric_interface/serialport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Simulator struct {
	conn io.ReadWriteCloser
	log  logrus.FieldLogger
	out  chan string

	mu      sync.Mutex
	dirs    [3]uint8
	ports   [3]uint8
	changed time.Time
	// loopback copies port A onto port B once it has been stable this long.
	loopback time.Duration
}

type Option func(*Simulator)

// WithLoopback wires each output line to the matching input line with the
// given settling delay.
func WithLoopback(delay time.Duration) Option {
	return func(s *Simulator) {
		s.loopback = delay
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Simulator) {
		s.log = l
	}
}

// New returns a simulator and the connection a client should use.
func New(opts ...Option) (*Simulator, net.Conn) {
	a, b := net.Pipe()
	s := &Simulator{
		conn:     a,
		log:      logrus.StandardLogger(),
		out:      make(chan string, 16),
		loopback: -1,
	}
	// Port A powers up as outputs, B as inputs.
	s.dirs[1] = 0xFF
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.WithField("device", "usb_pio_sim")
	return s, b
}

// SetInputs sets the level of the input port lines.
func (s *Simulator) SetInputs(bits uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ports[1] = bits
}

// Outputs returns the output port lines.
func (s *Simulator) Outputs() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ports[0]
}

var cmdRE = regexp.MustCompile(`^@00([DP])([0-2])(\?|[0-9A-F]{2})$`)

func (s *Simulator) parseInput(input string) (string, error) {
	parts := cmdRE.FindStringSubmatch(input)
	if parts == nil {
		return "", fmt.Errorf("unrecognized command %q", input)
	}
	op, port, arg := parts[1], parts[2][0]-'0', parts[3]
	s.mu.Lock()
	defer s.mu.Unlock()
	reg := &s.ports[port]
	if op == "D" {
		reg = &s.dirs[port]
	}
	if arg != "?" {
		v, err := strconv.ParseUint(arg, 16, 8)
		if err != nil {
			return "", err
		}
		if op == "P" && *reg != uint8(v) {
			s.changed = time.Now()
		}
		*reg = uint8(v)
	}
	return fmt.Sprintf("!00%02X", *reg), nil
}

const stepSize = 5 * time.Millisecond

func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t := time.NewTicker(stepSize)
	defer t.Stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		s.conn.Close()
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
			}
			s.step()
		}
	})
	g.Go(func() error {
		defer cancel()
		return s.reader(ctx)
	})
	g.Go(func() error {
		return s.writer(ctx)
	})
	return g.Wait()
}

func (s *Simulator) step() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopback < 0 || time.Since(s.changed) < s.loopback {
		return
	}
	s.ports[1] = s.ports[0]
}

func (s *Simulator) reader(ctx context.Context) error {
	scanner := bufio.NewScanner(s.conn)
	scanner.Split(serialport.ScanLines)
	for scanner.Scan() {
		input := scanner.Text()
		s.log.WithField("input", input).Trace("srv->sim")
		reply, err := s.parseInput(input)
		if err != nil {
			s.log.Warnf("parsing %q: %v", input, err)
			continue
		}
		select {
		case s.out <- reply:
		case <-ctx.Done():
			return nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading port: %w", err)
	}
	return nil
}

func (s *Simulator) writer(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case reply := <-s.out:
			s.log.WithField("reply", reply).Trace("sim->srv")
			if _, err := fmt.Fprintf(s.conn, "%s\r", reply); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("writing port: %w", err)
			}
		}
	}
}
