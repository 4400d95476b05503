package transaction

import "errors"

var (
	// ErrInvalidTransactionNumber is returned when a continuation does not
	// belong to the transaction being reassembled.
	ErrInvalidTransactionNumber = errors.New("transaction: invalid transaction number")

	// ErrIncompleteTransaction is returned when a continuation arrives
	// before its Transaction Start, or when reassembling a set with
	// missing segments.
	ErrIncompleteTransaction = errors.New("transaction: incomplete transaction")

	// ErrInvalidSegmentIndex is returned for a segment index above SegN.
	ErrInvalidSegmentIndex = errors.New("transaction: segment index out of range")

	// ErrInvalidLength is returned when the reassembled length differs
	// from the announced total length.
	ErrInvalidLength = errors.New("transaction: total length mismatch")

	// ErrInvalidFCS is returned when the frame check sequence does not match.
	ErrInvalidFCS = errors.New("transaction: FCS mismatch")

	// ErrInsufficientBuffer is returned when a transaction exceeds
	// MaxTransactionSize or cannot be segmented.
	ErrInsufficientBuffer = errors.New("transaction: insufficient buffer")

	// ErrInvalidPDU wraps a reassembled payload that is not a valid
	// provisioning PDU. The transaction itself was received intact.
	ErrInvalidPDU = errors.New("transaction: invalid provisioning PDU")
)
