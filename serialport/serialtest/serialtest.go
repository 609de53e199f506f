// Package serialtest provides scripted streams for exercising serialport
// clients without hardware.
package serialtest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

// IO is one expected write and the bytes the device answers with.
type IO struct {
	// W is the exact write expected, terminator included.
	W string
	// R is queued for the following reads.
	R string
	// Err, when set, fails the write instead.
	Err error
}

// Playback is an io.ReadWriteCloser that checks writes against Ops in order.
// Reads drain the queued replies and report io.EOF when nothing is queued,
// like a serial line whose read timeout expired.
type Playback struct {
	Ops []IO

	mu      sync.Mutex
	count   int
	pending bytes.Buffer
	closed  bool
}

func (p *Playback) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, errors.New("serialtest: write after close")
	}
	if p.count >= len(p.Ops) {
		return 0, fmt.Errorf("serialtest: unexpected write %q after %d operations", b, len(p.Ops))
	}
	op := p.Ops[p.count]
	p.count++
	if op.Err != nil {
		return 0, op.Err
	}
	if string(b) != op.W {
		return 0, fmt.Errorf("serialtest: write #%d: got %q, want %q", p.count-1, b, op.W)
	}
	p.pending.WriteString(op.R)
	return len(b), nil
}

func (p *Playback) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending.Len() == 0 {
		return 0, io.EOF
	}
	return p.pending.Read(b)
}

func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Count returns the number of writes seen so far.
func (p *Playback) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Done returns an error unless every operation was consumed.
func (p *Playback) Done() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.count != len(p.Ops) {
		return fmt.Errorf("serialtest: %d of %d operations consumed", p.count, len(p.Ops))
	}
	return nil
}

// Record logs every write and answers each one using Reply.
type Record struct {
	// Reply returns the device's answer to a write; nil answers nothing.
	Reply func(w string) string

	mu      sync.Mutex
	writes  []string
	pending bytes.Buffer
}

func (r *Record) Write(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w := string(b)
	r.writes = append(r.writes, w)
	if r.Reply != nil {
		r.pending.WriteString(r.Reply(w))
	}
	return len(b), nil
}

func (r *Record) Read(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending.Len() == 0 {
		return 0, io.EOF
	}
	return r.pending.Read(b)
}

func (r *Record) Close() error {
	return nil
}

// Writes returns a copy of everything written so far.
func (r *Record) Writes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.writes...)
}
