package nudgematic

// Axis is one of the two cams.
type Axis int

const (
	Vertical Axis = iota
	Horizontal
)

// axes is the polling order.
var axes = [...]Axis{Vertical, Horizontal}

func (a Axis) String() string {
	switch a {
	case Vertical:
		return "vertical"
	case Horizontal:
		return "horizontal"
	}
	return "unknown"
}

const (
	// Positions is the number of dither positions. Position 0 is the centre,
	// 1 to 4 the corners and 5 to 8 the edge centres.
	Positions = 9
	// NoPosition means no position has been commanded, or the mechanism is
	// not at a known position.
	NoPosition = -1
)

// moveCommands holds the command character per position, offset size and
// axis. The vertical cam takes a to e, the horizontal A to E, with c and C
// centred. Every position with no offset is the centre.
var moveCommands = [Positions][3][2]byte{
	//    NONE        SMALL       LARGE
	{{'c', 'C'}, {'c', 'C'}, {'c', 'C'}}, // centre
	{{'c', 'C'}, {'b', 'B'}, {'a', 'A'}}, // top left
	{{'c', 'C'}, {'b', 'D'}, {'a', 'E'}}, // top right
	{{'c', 'C'}, {'d', 'D'}, {'e', 'E'}}, // bottom right
	{{'c', 'C'}, {'d', 'B'}, {'e', 'A'}}, // bottom left
	{{'c', 'C'}, {'b', 'C'}, {'a', 'C'}}, // top
	{{'c', 'C'}, {'c', 'D'}, {'c', 'E'}}, // right
	{{'c', 'C'}, {'d', 'C'}, {'e', 'C'}}, // bottom
	{{'c', 'C'}, {'c', 'B'}, {'c', 'A'}}, // left
}

// whereCommands asks an axis for its status.
var whereCommands = [2]byte{'w', 'W'}

// MoveCommand returns the character sent to axis to reach position at the
// given offset size.
func MoveCommand(position int, size OffsetSize, axis Axis) (byte, bool) {
	if position < 0 || position >= Positions || !size.valid() || (axis != Vertical && axis != Horizontal) {
		return 0, false
	}
	return moveCommands[position][size][axis], true
}
