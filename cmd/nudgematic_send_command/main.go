// Command nudgematic_send_command sends one raw command to the nudgematic
// controller and prints its reply.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/liric/liric_interface/internal/config"
	"github.com/liric/liric_interface/internal/devices"
	"github.com/liric/liric_interface/internal/logging"
	"github.com/liric/liric_interface/mecherr"
	"github.com/liric/liric_interface/serialport"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

type mainOptions struct {
	Device   string
	Command  string
	Baud     int
	NoReply  bool
	LogLevel string
	Simulate bool
}

func execute(options *mainOptions) error {
	if options.Command == "" {
		return fmt.Errorf("%w: no command given", mecherr.ErrInvalidArgument)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.Nudgematic{
		DeviceName: options.Device,
		Baud:       options.Baud,
		OffsetSize: "none",
	}
	_, conn, err := devices.Nudgematic(ctx, cfg, options.Simulate, log.StandardLogger())
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.WithError(err).Warn("closing")
		}
	}()

	reply, err := conn.SendCommand(serialport.Request{Command: options.Command, WantReply: !options.NoReply})
	if err != nil {
		return err
	}
	if !options.NoReply {
		fmt.Println(reply)
	}
	return nil
}

func main() {
	var options mainOptions

	flag.StringVarP(&options.Device, "device", "d", "/dev/ttyACM0", "serial device")
	flag.StringVarP(&options.Command, "command", "c", "", "command to send, without terminator")
	flag.IntVarP(&options.Baud, "baud", "b", 0, "line speed (default the transport maximum)")
	flag.BoolVar(&options.NoReply, "no-reply", false, "do not wait for a reply")
	flag.StringVarP(&options.LogLevel, "log-level", "l", "info", "log level or verbosity 0-5")
	flag.BoolVar(&options.Simulate, "simulate", false, "talk to a simulated controller")
	flag.Parse()

	if err := logging.Setup(options.LogLevel); err != nil {
		log.Fatal(err)
	}
	if err := execute(&options); err != nil {
		mecherr.Report(logging.Reporter(log.StandardLogger()), err)
		os.Exit(1)
	}
}
