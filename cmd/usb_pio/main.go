// Command usb_pio reads and drives the lines of a USB-PIO board.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/liric/liric_interface/internal/config"
	"github.com/liric/liric_interface/internal/devices"
	"github.com/liric/liric_interface/internal/logging"
	"github.com/liric/liric_interface/mecherr"
	"github.com/liric/liric_interface/usbpio"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

type mainOptions struct {
	Device   string
	LogLevel string
	Simulate bool

	SetOutputs string
	SetOutput  int
	On, Off    bool
	GetOutput  int
	GetInput   int
	GetOutputs bool
	GetInputs  bool

	Move   bool
	Output int
	Input  int
	usbpio.MoveOptions
}

// pin looks up a board line registered with gpioreg.
func pin(name string, n int) (gpio.PinIO, error) {
	if n < 1 || n > usbpio.Bits {
		return nil, fmt.Errorf("%w: line %d not in 1..%d", mecherr.ErrInvalidArgument, n, usbpio.Bits)
	}
	p := gpioreg.ByName(fmt.Sprintf("%s%d", name, n))
	if p == nil {
		return nil, fmt.Errorf("%w: no pin %s%d", mecherr.ErrInvalidArgument, name, n)
	}
	return p, nil
}

func execute(options *mainOptions) error {
	if options.SetOutput != 0 && options.On == options.Off {
		return fmt.Errorf("%w: --set-output needs exactly one of --on and --off", mecherr.ErrInvalidArgument)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	d, closer, err := devices.USBPIO(ctx, config.USBPIO{DeviceName: options.Device}, options.Simulate, log.StandardLogger())
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			log.WithError(err).Warn("closing")
		}
	}()
	if err := d.RegisterPins(); err != nil {
		return err
	}
	defer d.UnregisterPins()

	if options.SetOutputs != "" {
		bits, err := strconv.ParseUint(options.SetOutputs, 0, 8)
		if err != nil {
			return fmt.Errorf("%w: --set-outputs %q: %v", mecherr.ErrInvalidArgument, options.SetOutputs, err)
		}
		if err := d.SetOutputs(uint8(bits)); err != nil {
			return err
		}
	}
	if options.SetOutput != 0 {
		p, err := pin("USBPIO_OUT", options.SetOutput)
		if err != nil {
			return err
		}
		if err := p.Out(gpio.Level(options.On)); err != nil {
			return err
		}
	}
	if options.Move {
		if err := d.Move(ctx, options.Output, options.Input, options.MoveOptions); err != nil {
			return err
		}
		fmt.Printf("Input %d went high\n", options.Input)
	}
	if options.GetOutput != 0 {
		p, err := pin("USBPIO_OUT", options.GetOutput)
		if err != nil {
			return err
		}
		fmt.Printf("Output %d: %s\n", options.GetOutput, p.Read())
	}
	if options.GetInput != 0 {
		p, err := pin("USBPIO_IN", options.GetInput)
		if err != nil {
			return err
		}
		fmt.Printf("Input %d: %s\n", options.GetInput, p.Read())
	}
	if options.GetOutputs {
		bits, err := d.Outputs()
		if err != nil {
			return err
		}
		fmt.Printf("Outputs: %#02x\n", bits)
	}
	if options.GetInputs {
		bits, err := d.Inputs()
		if err != nil {
			return err
		}
		fmt.Printf("Inputs: %#02x\n", bits)
	}
	return nil
}

func main() {
	var options mainOptions

	flag.StringVarP(&options.Device, "device", "d", "/dev/ttyUSB0", "serial device")
	flag.StringVarP(&options.LogLevel, "log-level", "l", "info", "log level or verbosity 0-5")
	flag.BoolVar(&options.Simulate, "simulate", false, "talk to a simulated board")
	flag.StringVar(&options.SetOutputs, "set-outputs", "", "write the whole output port, e.g. 0x81")
	flag.IntVar(&options.SetOutput, "set-output", 0, "output line 1-8 to switch with --on or --off")
	flag.BoolVar(&options.On, "on", false, "switch --set-output on")
	flag.BoolVar(&options.Off, "off", false, "switch --set-output off")
	flag.IntVar(&options.GetOutput, "get-output", 0, "print output line 1-8")
	flag.IntVar(&options.GetInput, "get-input", 0, "print input line 1-8")
	flag.BoolVar(&options.GetOutputs, "get-outputs", false, "print the output port")
	flag.BoolVar(&options.GetInputs, "get-inputs", false, "print the input port")
	flag.BoolVar(&options.Move, "move", false, "switch --output on until --input goes high")
	flag.IntVar(&options.Output, "output", 1, "output line driven by --move")
	flag.IntVar(&options.Input, "input", 1, "input line awaited by --move")
	flag.DurationVar(&options.Timeout, "timeout", usbpio.DefaultMoveTimeout, "--move gives up after this long")
	flag.DurationVar(&options.Interval, "interval", usbpio.DefaultMoveInterval, "pause between --move input reads")
	flag.Parse()

	if err := logging.Setup(options.LogLevel); err != nil {
		log.Fatal(err)
	}
	if err := execute(&options); err != nil {
		mecherr.Report(logging.Reporter(log.StandardLogger()), err)
		os.Exit(1)
	}
}
