// Command nudgematic_position optionally moves the nudgematic to a position
// and then prints its state.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/liric/liric_interface/internal/config"
	"github.com/liric/liric_interface/internal/devices"
	"github.com/liric/liric_interface/internal/logging"
	"github.com/liric/liric_interface/mecherr"
	"github.com/liric/liric_interface/nudgematic"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

type mainOptions struct {
	Device     string
	Baud       int
	Position   int
	OffsetSize string
	Poll       config.Poll
	LogLevel   string
	Simulate   bool
}

func execute(options *mainOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	cfg := config.Nudgematic{
		DeviceName: options.Device,
		Baud:       options.Baud,
		OffsetSize: options.OffsetSize,
		Poll:       options.Poll,
	}
	n, conn, err := devices.Nudgematic(ctx, cfg, options.Simulate, log.StandardLogger())
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.WithError(err).Warn("closing")
		}
	}()

	if options.Position != nudgematic.NoPosition {
		start := time.Now()
		if err := n.SetPosition(ctx, options.Position); err != nil {
			return err
		}
		fmt.Printf("Moved to %d in %v\n", options.Position, time.Since(start).Round(time.Millisecond))
	}
	s := n.Status()
	position, err := n.Position()
	if err != nil {
		return err
	}
	fmt.Printf("Position: %d\n", position)
	fmt.Printf("Target: %d\n", s.Target)
	fmt.Printf("Offset size: %s\n", s.OffsetSize)
	for _, r := range []struct {
		axis  nudgematic.Axis
		reply *nudgematic.StatusReply
	}{{nudgematic.Vertical, s.Vertical}, {nudgematic.Horizontal, s.Horizontal}} {
		if r.reply == nil {
			continue
		}
		fmt.Printf("%s: %c adu %d error %d nudges %d %d ms\n", r.axis, r.reply.Position, r.reply.ADU, r.reply.PositionError, r.reply.NudgeCount, r.reply.ElapsedMS)
	}
	return nil
}

func main() {
	var options mainOptions

	flag.StringVarP(&options.Device, "device", "d", "/dev/ttyACM0", "serial device")
	flag.IntVarP(&options.Baud, "baud", "b", 0, "line speed (default the transport maximum)")
	flag.IntVarP(&options.Position, "position", "p", nudgematic.NoPosition, "position to move to, 0-8")
	flag.StringVarP(&options.OffsetSize, "offset-size", "s", "none", "offset size: none, small or large")
	flag.StringVar(&options.Poll.Mode, "poll-mode", "all", "move completes when all or any axes are done")
	flag.StringVar(&options.Poll.Check, "poll-check", "transport", "axis is done on any reply (transport) or a matching position (status)")
	flag.DurationVar(&options.Poll.Timeout, "poll-timeout", 0, "give up waiting for a move after this long")
	flag.DurationVar(&options.Poll.Interval, "poll-interval", 0, "pause between polls")
	flag.IntVar(&options.Poll.Max, "poll-max", 0, "give up waiting for a move after this many polls")
	flag.StringVarP(&options.LogLevel, "log-level", "l", "info", "log level or verbosity 0-5")
	flag.BoolVar(&options.Simulate, "simulate", false, "talk to a simulated controller")
	flag.Parse()

	if err := logging.Setup(options.LogLevel); err != nil {
		log.Fatal(err)
	}
	if err := execute(&options); err != nil {
		mecherr.Report(logging.Reporter(log.StandardLogger()), err)
		if errors.Is(err, nudgematic.ErrPartialMove) {
			log.Warn("nudgematic position is undefined; move it again before observing")
		}
		os.Exit(1)
	}
}
