package generic

import "fmt"

// GPCF is the 2-bit Generic Provisioning Control Format selector in the
// low bits of the first octet.
type GPCF uint8

const (
	GPCFTransactionStart        GPCF = 0b00
	GPCFTransactionAck          GPCF = 0b01
	GPCFTransactionContinuation GPCF = 0b10
	GPCFBearerControl           GPCF = 0b11
)

// String returns a human-readable name for the control format.
func (g GPCF) String() string {
	switch g {
	case GPCFTransactionStart:
		return "TransactionStart"
	case GPCFTransactionAck:
		return "TransactionAck"
	case GPCFTransactionContinuation:
		return "TransactionContinuation"
	case GPCFBearerControl:
		return "BearerControl"
	default:
		return fmt.Sprintf("GPCF(%d)", uint8(g))
	}
}

// BearerOpcode identifies a Provisioning Bearer Control message
// (Mesh Profile Section 5.3.2).
type BearerOpcode uint8

const (
	OpcodeLinkOpen  BearerOpcode = 0x00
	OpcodeLinkAck   BearerOpcode = 0x01
	OpcodeLinkClose BearerOpcode = 0x02
)

// String returns a human-readable name for the opcode.
func (o BearerOpcode) String() string {
	switch o {
	case OpcodeLinkOpen:
		return "LinkOpen"
	case OpcodeLinkAck:
		return "LinkAck"
	case OpcodeLinkClose:
		return "LinkClose"
	default:
		return fmt.Sprintf("Opcode(0x%02x)", uint8(o))
	}
}

// CloseReason is the LinkClose reason code.
type CloseReason uint8

const (
	CloseReasonSuccess CloseReason = 0x00
	CloseReasonTimeout CloseReason = 0x01
	CloseReasonFail    CloseReason = 0x02
)

// String returns a human-readable name for the reason.
func (r CloseReason) String() string {
	switch r {
	case CloseReasonSuccess:
		return "Success"
	case CloseReasonTimeout:
		return "Timeout"
	case CloseReasonFail:
		return "Fail"
	default:
		return fmt.Sprintf("CloseReason(0x%02x)", uint8(r))
	}
}

// IsValid returns true if the reason is a defined value.
func (r CloseReason) IsValid() bool {
	return r <= CloseReasonFail
}
