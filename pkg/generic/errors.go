package generic

import "errors"

// Errors returned by the generic provisioning codec.
var (
	// ErrInvalidSize is returned when a PDU is shorter or longer than its
	// kind allows, or a payload exceeds the segment MTU.
	ErrInvalidSize = errors.New("generic: invalid PDU size")

	// ErrInvalidGPCF is returned for an unknown control field or bearer
	// control opcode.
	ErrInvalidGPCF = errors.New("generic: invalid GPCF")

	// ErrInvalidBits is returned when reserved bits are set.
	ErrInvalidBits = errors.New("generic: invalid bits")

	// ErrInvalidReason is returned for an unknown LinkClose reason.
	ErrInvalidReason = errors.New("generic: invalid link close reason")
)
