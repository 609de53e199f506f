package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/liric/liric_interface/mecherr"
	"github.com/liric/liric_interface/nudgematic"
)

// ListenCommands serves the instrument's text command protocol on addr
// until ctx is done. Each line is one command; each reply is "0 <value>" on
// success or "<code> <message>" on failure.
func (s *Server) ListenCommands(ctx context.Context, addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		s.log.Info("shutdown; closing command socket")
		ln.Close()
	}()
	go func() {
		for ctx.Err() == nil {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.log.WithError(err).Warn("failed to accept")
				continue
			}
			go s.handleCommands(ctx, conn)
		}
	}()
	return ln.Addr(), nil
}

func (s *Server) handleCommands(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.log.WithField("remote", conn.RemoteAddr())
	log.Info("accepted connection")
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply := s.Execute(ctx, line)
		log.WithField("command", line).WithField("reply", reply).Debug("command")
		if _, err := fmt.Fprintf(conn, "%s\n", reply); err != nil {
			log.WithError(err).Warn("writing reply")
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.WithError(err).Warn("reading commands")
	}
}

func success(format string, args ...interface{}) string {
	return "0 " + fmt.Sprintf(format, args...)
}

func failure(err error) string {
	code := mecherr.CodeOf(err)
	if code <= mecherr.CodeOK {
		code = mecherr.CodeInvalidArgument
	}
	return fmt.Sprintf("%d %v", int(code), err)
}

func parseNumber(n string) (int, error) {
	v, err := strconv.Atoi(n)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", mecherr.ErrInvalidArgument, n)
	}
	return v, nil
}

// Execute runs one command line and returns the reply.
func (s *Server) Execute(ctx context.Context, line string) string {
	args := strings.Fields(line)
	switch {
	case len(args) == 3 && args[0] == "status" && args[1] == "nudgematic":
		return s.nudgematicStatus(args[2])
	case len(args) == 3 && args[0] == "config" && args[1] == "nudgematic":
		size, err := nudgematic.ParseOffsetSize(args[2])
		if err != nil {
			return failure(err)
		}
		if s.dither != nil {
			if err := s.setOffsetSize(size); err != nil {
				return failure(err)
			}
		}
		return success("Config nudgematic completed.")
	case len(args) == 3 && args[0] == "nudgematic" && args[1] == "position":
		position, err := parseNumber(args[2])
		if err != nil {
			return failure(err)
		}
		if err := s.setPosition(ctx, position); err != nil {
			return failure(err)
		}
		return success("Nudgematic position completed.")
	case len(args) >= 3 && args[0] == "status" && args[1] == "usbpio":
		return s.usbpioStatus(args[2:])
	case len(args) >= 3 && args[0] == "usbpio":
		return s.usbpioCommand(ctx, args[1:])
	}
	return failure(fmt.Errorf("%w: unknown command %q", mecherr.ErrInvalidArgument, line))
}

func (s *Server) nudgematicStatus(what string) string {
	switch what {
	case "position":
		if s.dither == nil {
			return success("%d", nudgematic.NoPosition)
		}
		return success("%d", s.dither.Target())
	case "status":
		if s.dither != nil && s.dither.Status().Moving {
			return success("moving")
		}
		return success("stopped")
	case "offsetsize":
		if s.dither == nil {
			return success("%s", nudgematic.OffsetUnknown)
		}
		text, _ := s.dither.OffsetSize().MarshalText()
		return success("%s", text)
	}
	return failure(fmt.Errorf("%w: unknown nudgematic status %q", mecherr.ErrInvalidArgument, what))
}

func (s *Server) usbpioStatus(args []string) string {
	if s.board == nil {
		return failure(errDisabled)
	}
	switch {
	case len(args) == 1 && args[0] == "outputs":
		bits, err := s.board.Outputs()
		if err != nil {
			return failure(err)
		}
		return success("%d", bits)
	case len(args) == 1 && args[0] == "inputs":
		bits, err := s.board.Inputs()
		if err != nil {
			return failure(err)
		}
		return success("%d", bits)
	case len(args) == 2 && (args[0] == "output" || args[0] == "input"):
		n, err := parseNumber(args[1])
		if err != nil {
			return failure(err)
		}
		read := s.board.Output
		if args[0] == "input" {
			read = s.board.Input
		}
		on, err := read(n)
		if err != nil {
			return failure(err)
		}
		if on {
			return success("on")
		}
		return success("off")
	}
	return failure(fmt.Errorf("%w: unknown usbpio status %q", mecherr.ErrInvalidArgument, strings.Join(args, " ")))
}

func (s *Server) usbpioCommand(ctx context.Context, args []string) string {
	switch {
	case len(args) == 3 && args[0] == "output" && (args[2] == "on" || args[2] == "off"):
		n, err := parseNumber(args[1])
		if err != nil {
			return failure(err)
		}
		if err := s.setOutput(n, args[2] == "on"); err != nil {
			return failure(err)
		}
		return success("Usbpio output completed.")
	case len(args) == 3 && args[0] == "move":
		output, err := parseNumber(args[1])
		if err != nil {
			return failure(err)
		}
		input, err := parseNumber(args[2])
		if err != nil {
			return failure(err)
		}
		if err := s.move(ctx, output, input, 0); err != nil {
			return failure(err)
		}
		return success("Usbpio move completed.")
	}
	return failure(fmt.Errorf("%w: unknown usbpio command %q", mecherr.ErrInvalidArgument, strings.Join(args, " ")))
}
