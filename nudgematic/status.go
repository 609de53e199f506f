package nudgematic

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/liric/liric_interface/mecherr"
)

// StatusReply is an axis' answer to a where command.
type StatusReply struct {
	// Position is the command character of the position the cam is at.
	Position byte
	// ADU is the raw potentiometer reading.
	ADU           int
	PositionError int
	NudgeCount    int
	ElapsedMS     int
}

// ParseStatusReply decodes "<char> <adu> <error> <nudges> <ms>". Fields
// after the fifth are ignored.
func ParseStatusReply(reply string) (StatusReply, error) {
	fields := strings.Fields(reply)
	if len(fields) < 5 {
		return StatusReply{}, fmt.Errorf("nudgematic: %w %q: %d fields, want 5", mecherr.ErrMalformedStatusReply, reply, len(fields))
	}
	if len(fields[0]) != 1 {
		return StatusReply{}, fmt.Errorf("nudgematic: %w %q: position %q is not one character", mecherr.ErrMalformedStatusReply, reply, fields[0])
	}
	var ints [4]int
	for i := range ints {
		v, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return StatusReply{}, fmt.Errorf("nudgematic: %w %q: %w", mecherr.ErrMalformedStatusReply, reply, err)
		}
		ints[i] = v
	}
	return StatusReply{
		Position:      fields[0][0],
		ADU:           ints[0],
		PositionError: ints[1],
		NudgeCount:    ints[2],
		ElapsedMS:     ints[3],
	}, nil
}
