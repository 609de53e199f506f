package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/liric/liric_interface/mecherr"
	"github.com/liric/liric_interface/mechanism"
	"github.com/liric/liric_interface/nudgematic"
	"github.com/liric/liric_interface/usbpio"
	"github.com/sirupsen/logrus"
)

var errDisabled = fmt.Errorf("mechanism %w: disabled in config", mecherr.ErrNotOpen)

type Server struct {
	log logrus.FieldLogger

	// mu serializes commands that change mechanism state.
	mu     sync.Mutex
	dither mechanism.Ditherer
	board  mechanism.Board

	statusMu   sync.RWMutex
	statusCond *sync.Cond
	status     mechanism.Status
	// version counts status updates.
	version uint64
}

func NewServer(log logrus.FieldLogger) *Server {
	s := &Server{log: log}
	s.statusCond = sync.NewCond(s.statusMu.RLocker())
	return s
}

func (s *Server) Router(staticDir string) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.StatusHandler).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.StatusSocketHandler)
	api.HandleFunc("/nudgematic/position", s.PositionHandler).Methods(http.MethodPut)
	api.HandleFunc("/nudgematic/offset_size", s.OffsetSizeHandler).Methods(http.MethodPut)
	api.HandleFunc("/usb_pio/outputs/{n:[1-8]}", s.OutputHandler).Methods(http.MethodPut)
	if staticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(staticDir)))
	}
	return r
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) currentStatus() mechanism.Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Server) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentStatus())
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

type errorReply struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, errDisabled):
		code = http.StatusServiceUnavailable
	case errors.Is(err, mecherr.ErrPositionOutOfRange),
		errors.Is(err, mecherr.ErrInvalidOffsetSize),
		errors.Is(err, mecherr.ErrUnparseableOffsetSize),
		errors.Is(err, mecherr.ErrInvalidArgument):
		code = http.StatusBadRequest
	}
	writeJSON(w, code, errorReply{Code: int(mecherr.CodeOf(err)), Error: err.Error()})
}

// Command is a control message received on the status websocket or as the
// body of a PUT.
type Command struct {
	Command    string                `json:"command"`
	Position   int                   `json:"position"`
	OffsetSize nudgematic.OffsetSize `json:"offset_size"`
	Output     int                   `json:"output"`
	Input      int                   `json:"input"`
	On         bool                  `json:"on"`
	Timeout    float64               `json:"timeout"`
}

func (s *Server) handleCommand(ctx context.Context, msg Command) error {
	switch msg.Command {
	case "set_position":
		return s.setPosition(ctx, msg.Position)
	case "set_offset_size":
		return s.setOffsetSize(msg.OffsetSize)
	case "set_output":
		return s.setOutput(msg.Output, msg.On)
	case "move":
		return s.move(ctx, msg.Output, msg.Input, time.Duration(msg.Timeout*float64(time.Second)))
	}
	return mecherr.ErrInvalidArgument
}

func decodeCommand(r *http.Request, command string) (Command, error) {
	var msg Command
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		return msg, errors.Join(mecherr.ErrInvalidArgument, err)
	}
	msg.Command = command
	return msg, nil
}

func (s *Server) serveCommand(w http.ResponseWriter, r *http.Request, command string, edit func(*Command)) {
	msg, err := decodeCommand(r, command)
	if err == nil {
		if edit != nil {
			edit(&msg)
		}
		err = s.handleCommand(r.Context(), msg)
	}
	if err != nil {
		s.log.WithError(err).WithField("command", command).Warn("command failed")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.currentStatus())
}

func (s *Server) PositionHandler(w http.ResponseWriter, r *http.Request) {
	s.serveCommand(w, r, "set_position", nil)
}

func (s *Server) OffsetSizeHandler(w http.ResponseWriter, r *http.Request) {
	s.serveCommand(w, r, "set_offset_size", nil)
}

func (s *Server) OutputHandler(w http.ResponseWriter, r *http.Request) {
	n, _ := strconv.Atoi(mux.Vars(r)["n"])
	s.serveCommand(w, r, "set_output", func(msg *Command) { msg.Output = n })
}

func (s *Server) StatusSocketHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade")
		return
	}
	log := s.log.WithField("remote", r.RemoteAddr)

	go func() {
		defer cancel()
		for {
			var msg Command
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			log.WithField("command", msg.Command).Debug("websocket command")
			if err := s.handleCommand(ctx, msg); err != nil {
				log.WithError(err).WithField("command", msg.Command).Warn("command failed")
			}
		}
	}()

	// Wake the waiting loop below when the reader gives up.
	go func() {
		<-ctx.Done()
		s.statusMu.Lock()
		s.statusCond.Broadcast()
		s.statusMu.Unlock()
		conn.Close()
	}()

	send := func(status mechanism.Status) bool {
		data, err := json.Marshal(status)
		if err != nil {
			log.WithError(err).Error("encoding status")
			return false
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.WithError(err).Debug("websocket write")
			return false
		}
		return true
	}

	var sent uint64
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	for {
		for s.version == sent && ctx.Err() == nil {
			s.statusCond.Wait()
		}
		if ctx.Err() != nil {
			return
		}
		status := s.status
		sent = s.version
		s.statusMu.RUnlock()
		ok := send(status)
		s.statusMu.RLock()
		if !ok {
			return
		}
	}
}

func (s *Server) statusCallback(status mechanism.Status) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status = status
	s.version++
	s.statusCond.Broadcast()
}

// refresh publishes a fresh snapshot of every mechanism.
func (s *Server) refresh() {
	status := mechanism.Status{Time: time.Now()}
	if s.dither != nil {
		n := s.dither.Status()
		status.Nudgematic = &n
	}
	if s.board != nil {
		status.USBPIO = mechanism.ReadIO(s.board)
	}
	s.statusCallback(status)
}

// observeNudgematic republishes the nudgematic's state on every poll reply
// without rereading the board.
func (s *Server) observeNudgematic(nudgematic.Axis, nudgematic.StatusReply) {
	if s.dither == nil {
		return
	}
	n := s.dither.Status()
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	s.status.Time = time.Now()
	s.status.Nudgematic = &n
	s.version++
	s.statusCond.Broadcast()
}

// RunStatus refreshes the status every interval until ctx is done.
func (s *Server) RunStatus(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		s.refresh()
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func (s *Server) setPosition(ctx context.Context, position int) error {
	if s.dither == nil {
		return errDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.refresh()
	return s.dither.SetPosition(ctx, position)
}

func (s *Server) setOffsetSize(size nudgematic.OffsetSize) error {
	if s.dither == nil {
		return errDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.refresh()
	return s.dither.SetOffsetSize(size)
}

func (s *Server) setOutput(n int, on bool) error {
	if s.board == nil {
		return errDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.refresh()
	return s.board.SetOutput(n, on)
}

func (s *Server) move(ctx context.Context, output, input int, timeout time.Duration) error {
	if s.board == nil {
		return errDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.refresh()
	return s.board.Move(ctx, output, input, usbpio.MoveOptions{Timeout: timeout})
}
