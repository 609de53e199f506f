// Package devices opens the mechanisms named in a config, substituting
// simulators when asked to.
package devices

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/liric/liric_interface/internal/config"
	"github.com/liric/liric_interface/nudgematic"
	nudgesim "github.com/liric/liric_interface/nudgematic/simulator"
	"github.com/liric/liric_interface/serialport"
	"github.com/liric/liric_interface/usbpio"
	piosim "github.com/liric/liric_interface/usbpio/simulator"
	"github.com/sirupsen/logrus"
)

// simLoopback is how long the simulated board takes to echo an output line
// onto its input.
const simLoopback = 200 * time.Millisecond

// Nudgematic opens the nudgematic described by cfg and applies its
// configured offset size. With simulate set it runs a simulator until ctx
// is done instead of opening cfg.DeviceName.
func Nudgematic(ctx context.Context, cfg config.Nudgematic, simulate bool, log logrus.FieldLogger, opts ...nudgematic.Option) (*nudgematic.Nudgematic, *nudgematic.Connection, error) {
	pollOpts, err := cfg.Poll.Options()
	if err != nil {
		return nil, nil, fmt.Errorf("nudgematic: %w", err)
	}
	size, err := nudgematic.ParseOffsetSize(cfg.OffsetSize)
	if err != nil {
		return nil, nil, err
	}

	portOpts := []serialport.Option{serialport.WithLogger(log)}
	if cfg.Baud > 0 {
		portOpts = append(portOpts, serialport.WithBaud(cfg.Baud))
	}
	conn := nudgematic.NewConnection(portOpts...)
	if simulate {
		sim, c := nudgesim.New(nudgesim.WithLogger(log))
		go func() {
			if err := sim.Run(ctx); err != nil {
				log.WithError(err).Error("nudgematic simulator stopped")
			}
		}()
		err = conn.Attach("nudgematic_sim", c)
	} else {
		err = conn.Open(cfg.DeviceName)
	}
	if err != nil {
		return nil, nil, err
	}

	opts = append([]nudgematic.Option{
		nudgematic.WithLogger(log),
		nudgematic.WithPollOptions(pollOpts),
	}, opts...)
	n := nudgematic.New(conn, opts...)
	if err := n.SetOffsetSize(size); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return n, conn, nil
}

// USBPIO opens the board described by cfg, or a simulator with its outputs
// looped back to its inputs. The returned closer closes whichever was opened.
func USBPIO(ctx context.Context, cfg config.USBPIO, simulate bool, log logrus.FieldLogger) (*usbpio.Dev, io.Closer, error) {
	if !simulate {
		d, err := usbpio.Open(cfg.DeviceName, usbpio.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		return d, d, nil
	}
	sim, c := piosim.New(piosim.WithLogger(log), piosim.WithLoopback(simLoopback))
	go func() {
		if err := sim.Run(ctx); err != nil {
			log.WithError(err).Error("usb_pio simulator stopped")
		}
	}()
	p := serialport.New(serialport.WithLogger(log))
	if err := p.Attach("usb_pio_sim", c); err != nil {
		return nil, nil, fmt.Errorf("usbpio: %w", err)
	}
	return usbpio.New(p, usbpio.WithLogger(log)), p, nil
}
