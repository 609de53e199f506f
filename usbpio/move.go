package usbpio

import (
	"context"
	"fmt"
	"time"

	"github.com/liric/liric_interface/mecherr"
)

const (
	DefaultMoveTimeout  = 60 * time.Second
	DefaultMoveInterval = time.Millisecond
)

// MoveOptions bounds the wait in Move. Zero values select the defaults.
type MoveOptions struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Move switches output line on, waits for input line to go high and
// switches output off again. The output is switched off whether or not the
// input was seen.
func (d *Dev) Move(ctx context.Context, output, input int, opts MoveOptions) (err error) {
	if _, err := mask(output); err != nil {
		return err
	}
	if _, err := mask(input); err != nil {
		return err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultMoveTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultMoveInterval
	}
	log := d.log.WithField("output", output).WithField("input", input)
	if err := d.SetOutput(output, true); err != nil {
		return err
	}
	defer func() {
		if oerr := d.SetOutput(output, false); oerr != nil && err == nil {
			err = oerr
		}
	}()
	start := time.Now()
	for {
		high, err := d.Input(input)
		if err != nil {
			return err
		}
		if high {
			log.Debugf("input high after %v", time.Since(start))
			return nil
		}
		if time.Since(start) > opts.Timeout {
			return fmt.Errorf("usbpio: %w: input %d still low after %v", mecherr.ErrMoveTimeout, input, opts.Timeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("usbpio: move: %w: %w", mecherr.ErrCancelled, ctx.Err())
		case <-time.After(opts.Interval):
		}
	}
}
