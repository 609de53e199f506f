// Package mecherr holds the error kinds shared by the mechanism packages.
//
// Every kind has a stable numeric code so that a server can report failures
// to its clients without string matching. Callers wrap the kinds with
// fmt.Errorf and %w; CodeOf recovers the code from any wrapped chain.
package mecherr

import (
	"errors"
	"fmt"
)

type Code int

const (
	CodeOK Code = iota
	CodeOpen
	CodeLineDiscipline
	CodeClose
	CodeCommandTooLong
	CodeNotOpen
	CodeMalformedReply
	CodeUnexpectedReply
	CodeInvalidOffsetSize
	CodeUnparseableOffsetSize
	CodePositionOutOfRange
	CodeAxisCommandSend
	CodeAxisPoll
	CodeMalformedStatusReply
	CodePollTimeout
	CodeInvalidArgument
	CodeWrite
	CodeRead
	CodeMoveTimeout
	CodeCancelled

	CodeUnknown Code = -1
)

// Error is an error kind. The package level values are compared by identity
// with errors.Is.
type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

var (
	ErrOpen                  = &Error{CodeOpen, "open failed"}
	ErrLineDiscipline        = &Error{CodeLineDiscipline, "line discipline setup failed"}
	ErrClose                 = &Error{CodeClose, "close failed"}
	ErrCommandTooLong        = &Error{CodeCommandTooLong, "command too long"}
	ErrNotOpen               = &Error{CodeNotOpen, "not open"}
	ErrMalformedReply        = &Error{CodeMalformedReply, "malformed reply"}
	ErrUnexpectedReply       = &Error{CodeUnexpectedReply, "unexpected reply"}
	ErrInvalidOffsetSize     = &Error{CodeInvalidOffsetSize, "invalid offset size"}
	ErrUnparseableOffsetSize = &Error{CodeUnparseableOffsetSize, "unparseable offset size"}
	ErrPositionOutOfRange    = &Error{CodePositionOutOfRange, "position out of range"}
	ErrAxisCommandSend       = &Error{CodeAxisCommandSend, "axis command send failed"}
	ErrAxisPoll              = &Error{CodeAxisPoll, "axis poll failed"}
	ErrMalformedStatusReply  = &Error{CodeMalformedStatusReply, "malformed status reply"}
	ErrPollTimeout           = &Error{CodePollTimeout, "poll timed out"}
	ErrInvalidArgument       = &Error{CodeInvalidArgument, "invalid argument"}
	ErrWrite                 = &Error{CodeWrite, "write failed"}
	ErrRead                  = &Error{CodeRead, "read failed"}
	ErrMoveTimeout           = &Error{CodeMoveTimeout, "move timed out"}
	ErrCancelled             = &Error{CodeCancelled, "cancelled"}
)

var kinds = []*Error{
	ErrOpen, ErrLineDiscipline, ErrClose, ErrCommandTooLong, ErrNotOpen,
	ErrMalformedReply, ErrUnexpectedReply, ErrInvalidOffsetSize,
	ErrUnparseableOffsetSize, ErrPositionOutOfRange, ErrAxisCommandSend,
	ErrAxisPoll, ErrMalformedStatusReply, ErrPollTimeout, ErrInvalidArgument,
	ErrWrite, ErrRead, ErrMoveTimeout, ErrCancelled,
}

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeUnknown:
		return "unknown"
	}
	for _, k := range kinds {
		if k.Code == c {
			return k.Msg
		}
	}
	return fmt.Sprintf("code %d", int(c))
}

// CodeOf returns the code of the first error kind found in err's chain.
// A nil error is CodeOK; an error carrying no kind is CodeUnknown.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// ReportFunc receives failures for propagation to the owning process.
type ReportFunc func(code Code, msg string)

// Report passes a non-nil err to sink with its code.
func Report(sink ReportFunc, err error) {
	if err == nil || sink == nil {
		return
	}
	sink(CodeOf(err), err.Error())
}
