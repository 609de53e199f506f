package devices

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liric/liric_interface/internal/config"
	"github.com/liric/liric_interface/mecherr"
	"github.com/liric/liric_interface/nudgematic"
	"github.com/liric/liric_interface/usbpio"
	"github.com/sirupsen/logrus/hooks/test"
)

func TestSimulatedNudgematic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log, _ := test.NewNullLogger()
	cfg := config.Nudgematic{
		OffsetSize: "large",
		Poll:       config.Poll{Check: "status", Interval: 5 * time.Millisecond, Timeout: 5 * time.Second},
	}
	n, conn, err := Nudgematic(ctx, cfg, true, log)
	if err != nil {
		t.Fatalf("Nudgematic: %v", err)
	}
	defer conn.Close()
	if got := n.OffsetSize(); got != nudgematic.OffsetLarge {
		t.Errorf("OffsetSize() = %v, want LARGE", got)
	}
	if err := n.SetPosition(ctx, 3); err != nil {
		t.Fatalf("SetPosition(3): %v", err)
	}
	s := n.Status()
	if s.Vertical == nil || s.Vertical.Position != 'e' || s.Horizontal == nil || s.Horizontal.Position != 'E' {
		t.Errorf("status after move = %+v", s)
	}
}

func TestNudgematicConfigErrors(t *testing.T) {
	log, _ := test.NewNullLogger()
	for _, cfg := range []config.Nudgematic{
		{OffsetSize: "huge"},
		{OffsetSize: "none", Poll: config.Poll{Mode: "some"}},
	} {
		if _, _, err := Nudgematic(context.Background(), cfg, true, log); err == nil {
			t.Errorf("Nudgematic(%+v) succeeded", cfg)
		}
	}
	_, _, err := Nudgematic(context.Background(), config.Nudgematic{OffsetSize: "none", DeviceName: "/nonexistent/tty"}, false, log)
	if !errors.Is(err, mecherr.ErrOpen) {
		t.Errorf("opening a missing device: got %v, want ErrOpen", err)
	}
}

func TestSimulatedUSBPIO(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log, _ := test.NewNullLogger()
	d, closer, err := USBPIO(ctx, config.USBPIO{}, true, log)
	if err != nil {
		t.Fatalf("USBPIO: %v", err)
	}
	defer closer.Close()
	if err := d.Move(ctx, 3, 3, usbpio.MoveOptions{Timeout: 5 * time.Second, Interval: 10 * time.Millisecond}); err != nil {
		t.Errorf("Move: %v", err)
	}
	if on, err := d.Output(3); err != nil || on {
		t.Errorf("Output(3) after move = %t, %v; want false, nil", on, err)
	}
}
