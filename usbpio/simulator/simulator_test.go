package simulator

import (
	"bufio"
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type logLine struct {
	Level   logrus.Level
	Message string
	Fields  logrus.Fields
}

func TestWireTraffic(t *testing.T) {
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.TraceLevel)
	s, conn := New(WithLogger(log))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	if _, err := fmt.Fprint(conn, "@01P0?\r@00P081\r"); err != nil {
		t.Fatalf("writing commands: %v", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\r')
	if err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	if want := "!0081\r"; reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
	}
	if got := s.Outputs(); got != 0x81 {
		t.Errorf("Outputs() = %#02x, want 0x81", got)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}

	var got []logLine
	for _, e := range hook.AllEntries() {
		got = append(got, logLine{e.Level, e.Message, e.Data})
	}
	want := []logLine{
		{logrus.TraceLevel, "srv->sim", logrus.Fields{"device": "usb_pio_sim", "input": "@01P0?"}},
		{logrus.WarnLevel, `parsing "@01P0?": unrecognized command "@01P0?"`, logrus.Fields{"device": "usb_pio_sim"}},
		{logrus.TraceLevel, "srv->sim", logrus.Fields{"device": "usb_pio_sim", "input": "@00P081"}},
		{logrus.TraceLevel, "sim->srv", logrus.Fields{"device": "usb_pio_sim", "reply": "!0081"}},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("log entries: got(-)/want(+):\n%s", diff)
	}
}

func TestLoopback(t *testing.T) {
	log, _ := test.NewNullLogger()
	s, conn := New(WithLogger(log), WithLoopback(0))
	conn.Close()
	if _, err := s.parseInput("@00P004"); err != nil {
		t.Fatalf("parseInput: %v", err)
	}
	s.step()
	reply, err := s.parseInput("@00P1?")
	if err != nil {
		t.Fatalf("parseInput: %v", err)
	}
	if reply != "!0004" {
		t.Errorf("input port = %q, want !0004", reply)
	}
}
