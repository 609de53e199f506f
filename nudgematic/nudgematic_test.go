package nudgematic_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/liric/liric_interface/mecherr"
	"github.com/liric/liric_interface/nudgematic"
	"github.com/liric/liric_interface/nudgematic/simulator"
	"github.com/liric/liric_interface/serialport/serialtest"
)

const settled = "c 512 0 0 0\r"

func connect(t *testing.T, name string, conn io.ReadWriteCloser) *nudgematic.Connection {
	t.Helper()
	c := nudgematic.NewConnection()
	if err := c.Attach(name, conn); err != nil {
		t.Fatal(err)
	}
	return c
}

// recorder answers every command as a settled axis.
func recorder(t *testing.T, opts ...nudgematic.Option) (*nudgematic.Nudgematic, *serialtest.Record) {
	rec := &serialtest.Record{Reply: func(string) string { return settled }}
	return nudgematic.New(connect(t, "record", rec), opts...), rec
}

func TestSetPositionRange(t *testing.T) {
	for _, p := range []int{-100, -1, 9, 10} {
		pb := &serialtest.Playback{}
		n := nudgematic.New(connect(t, "playback", pb))
		if err := n.SetPosition(context.Background(), p); !errors.Is(err, mecherr.ErrPositionOutOfRange) {
			t.Errorf("SetPosition(%d): got %v, want %v", p, err, mecherr.ErrPositionOutOfRange)
		}
		if pb.Count() != 0 {
			t.Errorf("SetPosition(%d): %d writes", p, pb.Count())
		}
		if got := n.Target(); got != nudgematic.NoPosition {
			t.Errorf("SetPosition(%d): target changed to %d", p, got)
		}
	}
	for _, size := range []nudgematic.OffsetSize{nudgematic.OffsetNone, nudgematic.OffsetSmall, nudgematic.OffsetLarge} {
		n, _ := recorder(t)
		if err := n.SetOffsetSize(size); err != nil {
			t.Fatal(err)
		}
		for p := 0; p < nudgematic.Positions; p++ {
			if err := n.SetPosition(context.Background(), p); err != nil {
				t.Errorf("SetPosition(%d) at %v: %v", p, size, err)
			}
			if got := n.Target(); got != p {
				t.Errorf("Target() = %d, want %d", got, p)
			}
		}
	}
}

func TestOffsetSize(t *testing.T) {
	for _, size := range []nudgematic.OffsetSize{nudgematic.OffsetNone, nudgematic.OffsetSmall, nudgematic.OffsetLarge} {
		s := size.String()
		for _, text := range []string{s, strings.ToLower(s), strings.ToUpper(s), strings.ToUpper(s[:1]) + strings.ToLower(s[1:])} {
			got, err := nudgematic.ParseOffsetSize(text)
			if err != nil || got != size {
				t.Errorf("ParseOffsetSize(%q) = %v, %v, want %v", text, got, err, size)
			}
		}
	}
	for _, text := range []string{"bogus", "", "nonee", " small", "UNKNOWN"} {
		if _, err := nudgematic.ParseOffsetSize(text); !errors.Is(err, mecherr.ErrUnparseableOffsetSize) {
			t.Errorf("ParseOffsetSize(%q): got %v, want %v", text, err, mecherr.ErrUnparseableOffsetSize)
		}
	}

	n, _ := recorder(t)
	if got := n.OffsetSize(); got != nudgematic.OffsetNone {
		t.Errorf("initial OffsetSize() = %v, want NONE", got)
	}
	if err := n.SetOffsetSize(nudgematic.OffsetLarge); err != nil {
		t.Fatal(err)
	}
	for _, bad := range []nudgematic.OffsetSize{nudgematic.OffsetUnknown, 3, 42} {
		if err := n.SetOffsetSize(bad); !errors.Is(err, mecherr.ErrInvalidOffsetSize) {
			t.Errorf("SetOffsetSize(%d): got %v, want %v", int(bad), err, mecherr.ErrInvalidOffsetSize)
		}
	}
	if got := n.OffsetSize(); got != nudgematic.OffsetLarge {
		t.Errorf("OffsetSize() = %v after invalid sets, want LARGE", got)
	}
}

func TestNoOffsetIsCentre(t *testing.T) {
	for p := 0; p < nudgematic.Positions; p++ {
		n, rec := recorder(t)
		if err := n.SetPosition(context.Background(), p); err != nil {
			t.Fatalf("SetPosition(%d): %v", p, err)
		}
		want := []string{"C\r", "c\r", "w\r", "W\r"}
		if diff := cmp.Diff(rec.Writes(), want); diff != "" {
			t.Errorf("position %d: unexpected writes: got(-)/want(+):\n%s", p, diff)
		}
	}
}

func TestMoveCommands(t *testing.T) {
	for _, test := range []struct {
		position int
		size     nudgematic.OffsetSize
		want     string // horizontal, vertical
	}{
		{0, nudgematic.OffsetSmall, "Cc"},
		{0, nudgematic.OffsetLarge, "Cc"},
		{1, nudgematic.OffsetSmall, "Bb"},
		{1, nudgematic.OffsetLarge, "Aa"},
		{2, nudgematic.OffsetSmall, "Db"},
		{3, nudgematic.OffsetLarge, "Ee"},
		{4, nudgematic.OffsetSmall, "Bd"},
		{5, nudgematic.OffsetLarge, "Ca"},
		{6, nudgematic.OffsetSmall, "Dc"},
		{7, nudgematic.OffsetLarge, "Ce"},
		{8, nudgematic.OffsetSmall, "Bc"},
	} {
		n, rec := recorder(t)
		n.SetOffsetSize(test.size)
		if err := n.SetPosition(context.Background(), test.position); err != nil {
			t.Fatalf("SetPosition(%d): %v", test.position, err)
		}
		got := rec.Writes()
		if len(got) < 2 || got[0]+got[1] != test.want[:1]+"\r"+test.want[1:]+"\r" {
			t.Errorf("position %d %v: moves %q, want %q", test.position, test.size, got, test.want)
		}
		for _, axis := range []nudgematic.Axis{nudgematic.Horizontal, nudgematic.Vertical} {
			c, ok := nudgematic.MoveCommand(test.position, test.size, axis)
			if !ok || c != test.want[axis^1] {
				t.Errorf("MoveCommand(%d, %v, %v) = %c, %v", test.position, test.size, axis, c, ok)
			}
		}
	}
	if _, ok := nudgematic.MoveCommand(9, nudgematic.OffsetNone, nudgematic.Vertical); ok {
		t.Error("MoveCommand accepted position 9")
	}
	if _, ok := nudgematic.MoveCommand(0, nudgematic.OffsetUnknown, nudgematic.Vertical); ok {
		t.Error("MoveCommand accepted an unknown offset size")
	}
}

func TestPartialFailure(t *testing.T) {
	for _, test := range []struct {
		name    string
		ops     []serialtest.IO
		axis    nudgematic.Axis
		partial bool
		cause   error
	}{
		{
			name:  "horizontal write",
			ops:   []serialtest.IO{{Err: syscall.EIO}},
			axis:  nudgematic.Horizontal,
			cause: mecherr.ErrWrite,
		},
		{
			name:    "vertical write",
			ops:     []serialtest.IO{{W: "B\r", R: "B 362 150 0 0\r"}, {Err: syscall.EIO}},
			axis:    nudgematic.Vertical,
			partial: true,
			cause:   mecherr.ErrWrite,
		},
		{
			name:    "vertical reply",
			ops:     []serialtest.IO{{W: "B\r", R: "B 362 150 0 0\r"}, {W: "b\r", R: "b 362 150 0 0"}},
			axis:    nudgematic.Vertical,
			partial: true,
			cause:   mecherr.ErrMalformedReply,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			pb := &serialtest.Playback{Ops: test.ops}
			n := nudgematic.New(connect(t, "playback", pb))
			n.SetOffsetSize(nudgematic.OffsetSmall)
			err := n.SetPosition(context.Background(), 1)
			var axisErr *nudgematic.AxisError
			if !errors.As(err, &axisErr) {
				t.Fatalf("SetPosition: got %v, want an AxisError", err)
			}
			if axisErr.Axis != test.axis || axisErr.Phase != nudgematic.PhaseMove || axisErr.Partial != test.partial {
				t.Errorf("got %s axis %s partial %t, want %s axis move partial %t", axisErr.Axis, axisErr.Phase, axisErr.Partial, test.axis, test.partial)
			}
			if errors.Is(err, nudgematic.ErrPartialMove) != test.partial {
				t.Errorf("errors.Is(%v, ErrPartialMove) = %t, want %t", err, !test.partial, test.partial)
			}
			if !errors.Is(err, test.cause) {
				t.Errorf("got %v, want it to wrap %v", err, test.cause)
			}
			if got := mecherr.CodeOf(err); got != mecherr.CodeAxisCommandSend {
				t.Errorf("CodeOf(%v) = %d, want %d", err, got, mecherr.CodeAxisCommandSend)
			}
			if got := n.Target(); got != 1 {
				t.Errorf("Target() = %d, want 1", got)
			}
			if n.Moving() {
				t.Error("still moving after failure")
			}
		})
	}
}

func TestPolling(t *testing.T) {
	moves := []serialtest.IO{{W: "E\r", R: "C 512 300 0 0\r"}, {W: "e\r", R: "c 512 300 0 0\r"}}
	script := func(ops ...serialtest.IO) []serialtest.IO {
		return append(append([]serialtest.IO(nil), moves...), ops...)
	}
	var (
		vMoving = serialtest.IO{W: "w\r", R: "d 662 150 1 40\r"}
		vDone   = serialtest.IO{W: "w\r", R: "e 812 0 2 80\r"}
		hMoving = serialtest.IO{W: "W\r", R: "D 662 150 1 40\r"}
		hDone   = serialtest.IO{W: "W\r", R: "E 812 0 2 80\r"}
	)
	for _, test := range []struct {
		name     string
		opts     nudgematic.PollOptions
		ops      []serialtest.IO
		want     error
		observed int
	}{
		{
			name:     "transport check",
			opts:     nudgematic.PollOptions{},
			ops:      script(vMoving, hMoving),
			observed: 2,
		},
		{
			name:     "all axes",
			opts:     nudgematic.PollOptions{Check: nudgematic.CheckStatus},
			ops:      script(vMoving, hDone, vMoving, vDone),
			observed: 4,
		},
		{
			name:     "any axis",
			opts:     nudgematic.PollOptions{Mode: nudgematic.CompleteAny, Check: nudgematic.CheckStatus},
			ops:      script(vMoving, hDone),
			observed: 2,
		},
		{
			name:     "lower case horizontal reply",
			opts:     nudgematic.PollOptions{Check: nudgematic.CheckStatus},
			ops:      script(vDone, serialtest.IO{W: "W\r", R: "e 812 0 2 80\r"}),
			observed: 2,
		},
		{
			name:     "max polls",
			opts:     nudgematic.PollOptions{Check: nudgematic.CheckStatus, MaxPolls: 2},
			ops:      script(vMoving, hMoving, vMoving, hMoving),
			want:     mecherr.ErrPollTimeout,
			observed: 4,
		},
		{
			name: "poll failure",
			opts: nudgematic.PollOptions{},
			ops:  script(serialtest.IO{Err: syscall.EIO}),
			want: mecherr.ErrAxisPoll,
		},
		{
			name:     "malformed status",
			opts:     nudgematic.PollOptions{Check: nudgematic.CheckStatus},
			ops:      script(serialtest.IO{W: "w\r", R: "moving\r"}),
			want:     mecherr.ErrMalformedStatusReply,
			observed: 0,
		},
		{
			name:     "malformed status ignored",
			opts:     nudgematic.PollOptions{},
			ops:      script(serialtest.IO{W: "w\r", R: "moving\r"}, hDone),
			observed: 1,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			pb := &serialtest.Playback{Ops: test.ops}
			var observed []nudgematic.Axis
			n := nudgematic.New(connect(t, "playback", pb),
				nudgematic.WithPollOptions(test.opts),
				nudgematic.WithStatusObserver(func(a nudgematic.Axis, _ nudgematic.StatusReply) {
					observed = append(observed, a)
				}))
			n.SetOffsetSize(nudgematic.OffsetLarge)
			err := n.SetPosition(context.Background(), 3)
			if !errors.Is(err, test.want) {
				t.Errorf("SetPosition: got %v, want %v", err, test.want)
			}
			if test.want != nil && !errors.Is(err, nudgematic.ErrPartialMove) {
				t.Errorf("SetPosition: %v does not wrap ErrPartialMove", err)
			}
			if err := pb.Done(); err != nil {
				t.Error(err)
			}
			if len(observed) != test.observed {
				t.Errorf("observed %d status replies, want %d", len(observed), test.observed)
			}
		})
	}
}

func TestPollTimeout(t *testing.T) {
	rec := &serialtest.Record{Reply: func(w string) string {
		if w == "w\r" {
			return "d 662 150 1 40\r"
		}
		return "c 512 0 0 0\r"
	}}
	n := nudgematic.New(connect(t, "record", rec), nudgematic.WithPollOptions(nudgematic.PollOptions{
		Check:    nudgematic.CheckStatus,
		Interval: 5 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
	}))
	err := n.SetPosition(context.Background(), 0)
	if !errors.Is(err, mecherr.ErrPollTimeout) || mecherr.CodeOf(err) != mecherr.CodePollTimeout {
		t.Errorf("SetPosition: got %v, want %v", err, mecherr.ErrPollTimeout)
	}
	// Horizontal settles on the first poll and is not asked again.
	if got := strings.Count(strings.Join(rec.Writes(), ""), "W"); got != 1 {
		t.Errorf("horizontal polled %d times, want 1", got)
	}
}

func TestCancel(t *testing.T) {
	pb := &serialtest.Playback{Ops: []serialtest.IO{{W: "C\r", R: settled}, {W: "c\r", R: settled}}}
	n := nudgematic.New(connect(t, "playback", pb))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := n.SetPosition(ctx, 0)
	if !errors.Is(err, mecherr.ErrCancelled) || !errors.Is(err, context.Canceled) || !errors.Is(err, nudgematic.ErrPartialMove) {
		t.Errorf("SetPosition: got %v, want cancellation", err)
	}
	if err := pb.Done(); err != nil {
		t.Error(err)
	}
}

func TestPosition(t *testing.T) {
	n, _ := recorder(t)
	for _, p := range []int{-2, 4} {
		n.SetPosition(context.Background(), p)
		if got, err := n.Position(); err != nil || got != nudgematic.NoPosition {
			t.Errorf("Position() = %d, %v, want %d", got, err, nudgematic.NoPosition)
		}
	}
}

func TestParseStatusReply(t *testing.T) {
	for _, test := range []struct {
		input string
		want  nudgematic.StatusReply
		err   error
	}{
		{"c 100 2 5 30", nudgematic.StatusReply{Position: 'c', ADU: 100, PositionError: 2, NudgeCount: 5, ElapsedMS: 30}, nil},
		{"  E\t812 -3 0 1250 trailing", nudgematic.StatusReply{Position: 'E', ADU: 812, PositionError: -3, ElapsedMS: 1250}, nil},
		{"", nudgematic.StatusReply{}, mecherr.ErrMalformedStatusReply},
		{"c", nudgematic.StatusReply{}, mecherr.ErrMalformedStatusReply},
		{"c 100 2 5", nudgematic.StatusReply{}, mecherr.ErrMalformedStatusReply},
		{"c 100 x 5 30", nudgematic.StatusReply{}, mecherr.ErrMalformedStatusReply},
		{"cd 100 2 5 30", nudgematic.StatusReply{}, mecherr.ErrMalformedStatusReply},
	} {
		t.Run(test.input, func(t *testing.T) {
			got, err := nudgematic.ParseStatusReply(test.input)
			if !errors.Is(err, test.err) {
				t.Fatalf("ParseStatusReply(%q) error = %v, want %v", test.input, err, test.err)
			}
			if diff := cmp.Diff(got, test.want); diff != "" {
				t.Errorf("unexpected reply: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestSimulator(t *testing.T) {
	sim, conn := simulator.New(simulator.WithStepTime(5 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sim.Run(ctx)
	}()
	c := connect(t, "sim", conn)
	defer func() {
		c.Close()
		cancel()
		if err := <-done; err != nil {
			t.Errorf("simulator: %v", err)
		}
	}()

	n := nudgematic.New(c, nudgematic.WithPollOptions(nudgematic.PollOptions{
		Check:    nudgematic.CheckStatus,
		Interval: time.Millisecond,
		Timeout:  5 * time.Second,
	}))
	n.SetOffsetSize(nudgematic.OffsetLarge)
	if err := n.SetPosition(ctx, 2); err != nil {
		t.Fatalf("SetPosition: %v", err)
	}
	if v, h := sim.Positions(); v != 'a' || h != 'E' {
		t.Errorf("simulator at %c%c, want aE", v, h)
	}
	status := n.Status()
	if status.Vertical == nil || status.Vertical.Position != 'a' || status.Horizontal == nil || status.Horizontal.Position != 'E' {
		t.Errorf("Status() = %+v, want last replies at a and E", status)
	}

	data, err := json.Marshal(status)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{
		"offset_size": "large",
		"target":      float64(2),
		"position":    float64(-1),
		"moving":      false,
		"vertical": map[string]interface{}{
			"position":       "a",
			"adu":            float64(212),
			"position_error": float64(0),
			"nudge_count":    float64(2),
		},
		"horizontal": map[string]interface{}{
			"position":       "E",
			"adu":            float64(812),
			"position_error": float64(0),
			"nudge_count":    float64(2),
		},
	}
	for _, axis := range []string{"vertical", "horizontal"} {
		delete(got[axis].(map[string]interface{}), "elapsed_ms")
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("unexpected status JSON: got(-)/want(+):\n%s", diff)
	}
}
