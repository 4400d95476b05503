package provisioning

import (
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrInvalidLength = errors.New("provisioning: invalid length")
	ErrInvalidValue  = errors.New("provisioning: invalid value")
	ErrUnknownType   = errors.New("provisioning: unknown PDU type")
)

// State machine errors.
var (
	// ErrUnexpectedPDU is returned when a PDU arrives out of protocol order.
	ErrUnexpectedPDU = errors.New("provisioning: unexpected PDU")

	// ErrConfirmationFailed is returned when the provisioner confirmation
	// does not match its random and the AuthValue.
	ErrConfirmationFailed = errors.New("provisioning: confirmation failed")

	// ErrDecryptionFailed is returned when the Data PDU does not
	// authenticate. The attempt stalls; no Complete is sent.
	ErrDecryptionFailed = errors.New("provisioning: decryption failed")

	// ErrRemoteFailed is returned when the provisioner sends Failed.
	ErrRemoteFailed = errors.New("provisioning: provisioner reported failure")

	// ErrNoSharedSecret is returned by a Vault asked for session keys
	// before the ECDH exchange.
	ErrNoSharedSecret = errors.New("provisioning: no shared secret")
)

// ParseError identifies the field of a provisioning PDU that failed to
// decode.
type ParseError struct {
	Type  PDUType
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("provisioning: parse %s: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("provisioning: parse %s.%s: %v", e.Type, e.Field, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseError(t PDUType, field string, err error) error {
	return &ParseError{Type: t, Field: field, Err: err}
}
