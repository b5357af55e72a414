// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors following the trapd error handling pattern.
var (
	// Datagram decoding errors, one per DecodeError kind
	ErrTruncated          = errors.New("trapd: truncated datagram")
	ErrInvalidTag         = errors.New("trapd: invalid BER tag")
	ErrInvalidLength      = errors.New("trapd: invalid BER length")
	ErrUnsupportedVersion = errors.New("trapd: unsupported SNMP version")

	// Encoding errors
	ErrInvalidOID   = errors.New("trapd: invalid object identifier")
	ErrInvalidValue = errors.New("trapd: invalid varbind value")

	// Receiver errors
	ErrBind            = errors.New("trapd: cannot bind trap port")
	ErrReceiverStopped = errors.New("trapd: receiver stopped")

	// Sink errors
	ErrSinkNotFound = errors.New("trapd: sink not found")
	ErrSinkClosed   = errors.New("trapd: sink closed")

	// Configuration errors
	ErrConfigInvalid = errors.New("trapd: invalid configuration")
)
