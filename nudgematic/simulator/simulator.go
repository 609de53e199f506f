// Package simulator emulates the nudgematic's two cam controllers on the far
// end of a pipe.
package simulator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/liric/liric_interface/serialport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// Cam positions a to e.
	positions = 5
	centre    = 2
	// ADU reading at position a and per position step.
	baseADU = 212
	stepADU = 150
)

type axis struct {
	base    byte // 'a' or 'A'
	current int
	target  int
	nudges  int
	started time.Time
	elapsed time.Duration
}

func (a *axis) status() string {
	delta := a.target - a.current
	if delta < 0 {
		delta = -delta
	}
	return fmt.Sprintf("%c %d %d %d %d", a.base+byte(a.current), baseADU+a.current*stepADU, delta*stepADU, a.nudges, a.elapsed.Milliseconds())
}

type Simulator struct {
	conn io.ReadWriteCloser
	log  logrus.FieldLogger
	out  chan string
	step time.Duration

	mu   sync.Mutex
	axes [2]axis
}

type Option func(*Simulator)

// WithStepTime sets how long a cam takes to move one position.
func WithStepTime(d time.Duration) Option {
	return func(s *Simulator) {
		s.step = d
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Simulator) {
		s.log = l
	}
}

// New returns a simulator with both cams centred and the connection a
// client should use.
func New(opts ...Option) (*Simulator, net.Conn) {
	a, b := net.Pipe()
	s := &Simulator{
		conn: a,
		log:  logrus.StandardLogger(),
		out:  make(chan string, 16),
		step: 20 * time.Millisecond,
		axes: [2]axis{
			{base: 'a', current: centre, target: centre},
			{base: 'A', current: centre, target: centre},
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.WithField("device", "nudgematic_sim")
	return s, b
}

// Positions returns the command characters of the cams' current positions.
func (s *Simulator) Positions() (vertical, horizontal byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.axes[0].base + byte(s.axes[0].current), s.axes[1].base + byte(s.axes[1].current)
}

func (s *Simulator) parseInput(input string) (string, error) {
	if len(input) != 1 {
		return "", fmt.Errorf("unrecognized command %q", input)
	}
	c := input[0]
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case c == 'w':
		return s.axes[0].status(), nil
	case c == 'W':
		return s.axes[1].status(), nil
	case c >= 'a' && c < 'a'+positions:
		s.command(&s.axes[0], int(c-'a'))
		return s.axes[0].status(), nil
	case c >= 'A' && c < 'A'+positions:
		s.command(&s.axes[1], int(c-'A'))
		return s.axes[1].status(), nil
	}
	return "", fmt.Errorf("unknown command %q", input)
}

func (s *Simulator) command(a *axis, target int) {
	a.target = target
	a.nudges = 0
	a.started = time.Now()
	a.elapsed = 0
}

func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t := time.NewTicker(s.step)
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
			s.advance()
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

// advance moves every cam one position toward its target.
func (s *Simulator) advance() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.axes {
		a := &s.axes[i]
		switch {
		case a.current < a.target:
			a.current++
		case a.current > a.target:
			a.current--
		default:
			continue
		}
		a.nudges++
		a.elapsed = time.Since(a.started)
	}
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
