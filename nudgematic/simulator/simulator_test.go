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

	if _, err := fmt.Fprint(conn, "x\rw\r"); err != nil {
		t.Fatalf("writing commands: %v", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\r')
	if err != nil {
		t.Fatalf("reading reply: %v", err)
	}
	if want := "c 512 0 0 0\r"; reply != want {
		t.Errorf("reply = %q, want %q", reply, want)
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
		{logrus.TraceLevel, "srv->sim", logrus.Fields{"device": "nudgematic_sim", "input": "x"}},
		{logrus.WarnLevel, `parsing "x": unknown command "x"`, logrus.Fields{"device": "nudgematic_sim"}},
		{logrus.TraceLevel, "srv->sim", logrus.Fields{"device": "nudgematic_sim", "input": "w"}},
		{logrus.TraceLevel, "sim->srv", logrus.Fields{"device": "nudgematic_sim", "reply": "c 512 0 0 0"}},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("log entries: got(-)/want(+):\n%s", diff)
	}
}

func TestMoveAdvances(t *testing.T) {
	log, _ := test.NewNullLogger()
	s, conn := New(WithLogger(log))
	for _, c := range []byte("aE") {
		if _, err := s.parseInput(string(c)); err != nil {
			t.Fatalf("parseInput(%q): %v", c, err)
		}
	}
	conn.Close()
	for i := 0; i < 2; i++ {
		s.advance()
	}
	v, h := s.Positions()
	if v != 'a' || h != 'E' {
		t.Errorf("Positions() = %c %c, want a E", v, h)
	}
}
