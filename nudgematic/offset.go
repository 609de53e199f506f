package nudgematic

import (
	"fmt"
	"strings"

	"github.com/liric/liric_interface/mecherr"
)

// OffsetSize is the magnitude of the dither offsets.
type OffsetSize int

const (
	// OffsetUnknown is the state before the first SetOffsetSize.
	OffsetUnknown OffsetSize = iota - 1
	OffsetNone
	OffsetSmall
	OffsetLarge
)

func (o OffsetSize) valid() bool {
	return o == OffsetNone || o == OffsetSmall || o == OffsetLarge
}

func (o OffsetSize) String() string {
	switch o {
	case OffsetNone:
		return "NONE"
	case OffsetSmall:
		return "SMALL"
	case OffsetLarge:
		return "LARGE"
	}
	return "UNKNOWN"
}

// ParseOffsetSize accepts "none", "small" or "large" in any case.
func ParseOffsetSize(s string) (OffsetSize, error) {
	for _, o := range []OffsetSize{OffsetNone, OffsetSmall, OffsetLarge} {
		if strings.EqualFold(s, o.String()) {
			return o, nil
		}
	}
	return OffsetUnknown, fmt.Errorf("nudgematic: %w %q", mecherr.ErrUnparseableOffsetSize, s)
}

func (o OffsetSize) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(o.String())), nil
}

func (o *OffsetSize) UnmarshalText(text []byte) error {
	v, err := ParseOffsetSize(string(text))
	if err != nil {
		return err
	}
	*o = v
	return nil
}
