package decoder

import (
	"errors"
	"fmt"

	"firestige.xyz/trapd/internal/core"
)

// Kind classifies why a datagram could not be decoded.
type Kind int

const (
	Truncated Kind = iota + 1
	InvalidTag
	InvalidLength
	UnsupportedVersion
)

func (k Kind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case InvalidTag:
		return "invalid_tag"
	case InvalidLength:
		return "invalid_length"
	case UnsupportedVersion:
		return "unsupported_version"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case Truncated:
		return core.ErrTruncated
	case InvalidTag:
		return core.ErrInvalidTag
	case InvalidLength:
		return core.ErrInvalidLength
	case UnsupportedVersion:
		return core.ErrUnsupportedVersion
	default:
		return nil
	}
}

// DecodeError reports a malformed datagram. Offset is the byte position
// inside the datagram where decoding stopped.
type DecodeError struct {
	Kind   Kind
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("snmp decode: %s at offset %d: %s", e.Kind, e.Offset, e.Msg)
}

// Unwrap exposes the core sentinel so callers can use errors.Is(err, core.ErrTruncated).
func (e *DecodeError) Unwrap() error {
	return e.Kind.sentinel()
}

// KindOf extracts the decode error kind from err.
func KindOf(err error) (Kind, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

func newError(kind Kind, offset int, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}
