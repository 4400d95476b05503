package bearer

import "errors"

// Errors returned by the advertising bearer codec.
var (
	// ErrInvalidSize is returned when a frame is too short or its length
	// octet disagrees with the frame size.
	ErrInvalidSize = errors.New("bearer: invalid frame size")

	// ErrNotPBADV is returned when the AD type is not PB-ADV.
	ErrNotPBADV = errors.New("bearer: not a PB-ADV frame")

	// ErrNotBeacon is returned when parsing a frame that is not an
	// unprovisioned device beacon.
	ErrNotBeacon = errors.New("bearer: not an unprovisioned device beacon")

	// ErrFrameTooLong is returned when an encoded frame exceeds one
	// advertising payload.
	ErrFrameTooLong = errors.New("bearer: frame exceeds advertising payload")
)
