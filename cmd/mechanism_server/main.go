// Command mechanism_server exposes the nudgematic and USB-PIO board over
// HTTP, a status websocket and the instrument's text command protocol.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/liric/liric_interface/internal/config"
	"github.com/liric/liric_interface/internal/devices"
	"github.com/liric/liric_interface/internal/logging"
	"github.com/liric/liric_interface/nudgematic"
	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type options struct {
	configFile string
}

func main() {
	var opts options
	v := config.New()
	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	flags.StringVar(&opts.configFile, "config", "", "properties file to read instead of searching for liric.properties")
	flags.String("http", "", "HTTP listen address")
	flags.String("command", "", "command protocol listen address")
	flags.String("static-dir", "", "directory of static files to serve at /")
	flags.Bool("simulate", false, "drive simulated mechanisms")
	flags.StringP("log-level", "l", "", "log level")
	flags.Parse(os.Args[1:])
	for key, name := range map[string]string{
		"server.http_address":    "http",
		"server.command_address": "command",
		"server.static_dir":      "static-dir",
		"simulate":               "simulate",
		"logging.level":          "log-level",
	} {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			log.Fatal(err)
		}
	}

	cfg, err := config.Load(v, opts.configFile)
	if err != nil {
		log.Fatal(err)
	}
	if err := logging.Setup(cfg.Logging.Level); err != nil {
		log.Fatal(err)
	}
	if err := execute(cfg); err != nil {
		log.WithError(err).Error("mechanism_server failed")
		os.Exit(1)
	}
}

func execute(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.StandardLogger()
	s := NewServer(logger)
	var closers []io.Closer
	defer func() {
		// Close everything that opened, whatever fails.
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.WithError(err).Warn("closing mechanism")
			}
		}
	}()

	if cfg.Nudgematic.Enable {
		n, conn, err := devices.Nudgematic(ctx, cfg.Nudgematic, cfg.Simulate, logger, nudgematic.WithStatusObserver(s.observeNudgematic))
		if err != nil {
			return err
		}
		closers = append(closers, conn)
		s.dither = n
	}
	if cfg.USBPIO.Enable {
		d, closer, err := devices.USBPIO(ctx, cfg.USBPIO, cfg.Simulate, logger)
		if err != nil {
			return err
		}
		closers = append(closers, closer)
		if err := d.RegisterPins(); err != nil {
			return err
		}
		defer d.UnregisterPins()
		s.board = d
	}
	if s.dither == nil && s.board == nil {
		return errors.New("no mechanism enabled")
	}

	addr, err := s.ListenCommands(ctx, cfg.Server.CommandAddress)
	if err != nil {
		return fmt.Errorf("command socket: %w", err)
	}
	logger.Infof("command protocol on %v", addr)

	srv := &http.Server{
		Handler:     s.Router(cfg.Server.StaticDir),
		Addr:        cfg.Server.HTTPAddress,
		ReadTimeout: 15 * time.Second,
		// Position requests block until the move completes.
		WriteTimeout: 5 * time.Minute,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		interval := cfg.Server.StatusInterval
		if interval <= 0 {
			interval = time.Second
		}
		return s.RunStatus(ctx, interval)
	})
	g.Go(func() error {
		logger.Infof("HTTP on %s", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
