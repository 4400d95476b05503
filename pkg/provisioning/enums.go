package provisioning

import "fmt"

// PDUType is the first octet of a provisioning PDU.
type PDUType uint8

const (
	TypeInvite        PDUType = 0x00
	TypeCapabilities  PDUType = 0x01
	TypeStart         PDUType = 0x02
	TypePublicKey     PDUType = 0x03
	TypeInputComplete PDUType = 0x04
	TypeConfirmation  PDUType = 0x05
	TypeRandom        PDUType = 0x06
	TypeData          PDUType = 0x07
	TypeComplete      PDUType = 0x08
	TypeFailed        PDUType = 0x09
)

// String returns a human-readable name for the PDU type.
func (t PDUType) String() string {
	switch t {
	case TypeInvite:
		return "Invite"
	case TypeCapabilities:
		return "Capabilities"
	case TypeStart:
		return "Start"
	case TypePublicKey:
		return "PublicKey"
	case TypeInputComplete:
		return "InputComplete"
	case TypeConfirmation:
		return "Confirmation"
	case TypeRandom:
		return "Random"
	case TypeData:
		return "Data"
	case TypeComplete:
		return "Complete"
	case TypeFailed:
		return "Failed"
	default:
		return fmt.Sprintf("PDUType(0x%02x)", uint8(t))
	}
}

// Algorithms bitmask advertised in Capabilities.
const (
	AlgorithmFIPSP256 uint16 = 1 << 0
)

// Algorithm selected in Start.
type Algorithm uint8

const (
	AlgorithmP256 Algorithm = 0x00
)

// PublicKeyType selects how the device public key is delivered.
type PublicKeyType uint8

const (
	PublicKeyNoOOB PublicKeyType = 0x00
	PublicKeyOOB   PublicKeyType = 0x01
)

// Capabilities bit for an OOB public key, and for static OOB information.
const (
	PublicKeyTypeOOB   uint8 = 1 << 0
	StaticOOBAvailable uint8 = 1 << 0
)

// AuthMethod is the authentication method selected in Start.
type AuthMethod uint8

const (
	AuthNoOOB     AuthMethod = 0x00
	AuthStaticOOB AuthMethod = 0x01
	AuthOutputOOB AuthMethod = 0x02
	AuthInputOOB  AuthMethod = 0x03
)

// String returns a human-readable name for the method.
func (m AuthMethod) String() string {
	switch m {
	case AuthNoOOB:
		return "NoOOB"
	case AuthStaticOOB:
		return "StaticOOB"
	case AuthOutputOOB:
		return "OutputOOB"
	case AuthInputOOB:
		return "InputOOB"
	default:
		return fmt.Sprintf("AuthMethod(0x%02x)", uint8(m))
	}
}

// OutputAction is an Output OOB action. In Start it is an index; in
// Capabilities the supported actions form a bitmask of 1<<action.
type OutputAction uint8

const (
	OutputBlink        OutputAction = 0x00
	OutputBeep         OutputAction = 0x01
	OutputVibrate      OutputAction = 0x02
	OutputNumeric      OutputAction = 0x03
	OutputAlphanumeric OutputAction = 0x04
)

// Bit returns the Capabilities bitmask bit for the action.
func (a OutputAction) Bit() uint16 { return 1 << a }

// String returns a human-readable name for the action.
func (a OutputAction) String() string {
	switch a {
	case OutputBlink:
		return "Blink"
	case OutputBeep:
		return "Beep"
	case OutputVibrate:
		return "Vibrate"
	case OutputNumeric:
		return "OutputNumeric"
	case OutputAlphanumeric:
		return "OutputAlphanumeric"
	default:
		return fmt.Sprintf("OutputAction(0x%02x)", uint8(a))
	}
}

// InputAction is an Input OOB action, with the same index/bitmask duality
// as OutputAction.
type InputAction uint8

const (
	InputPush         InputAction = 0x00
	InputTwist        InputAction = 0x01
	InputNumeric      InputAction = 0x02
	InputAlphanumeric InputAction = 0x03
)

// Bit returns the Capabilities bitmask bit for the action.
func (a InputAction) Bit() uint16 { return 1 << a }

// String returns a human-readable name for the action.
func (a InputAction) String() string {
	switch a {
	case InputPush:
		return "Push"
	case InputTwist:
		return "Twist"
	case InputNumeric:
		return "InputNumeric"
	case InputAlphanumeric:
		return "InputAlphanumeric"
	default:
		return fmt.Sprintf("InputAction(0x%02x)", uint8(a))
	}
}

const (
	outputActionMask uint16 = 0x001F
	inputActionMask  uint16 = 0x000F

	// MaxOOBSize is the largest OOB size in Capabilities and Start.
	MaxOOBSize = 8
)

// ErrorCode is carried by the Failed PDU (Mesh Profile Table 5.38).
type ErrorCode uint8

const (
	ErrorProhibited            ErrorCode = 0x00
	ErrorInvalidPDU            ErrorCode = 0x01
	ErrorInvalidFormat         ErrorCode = 0x02
	ErrorUnexpectedPDU         ErrorCode = 0x03
	ErrorConfirmationFailed    ErrorCode = 0x04
	ErrorOutOfResources        ErrorCode = 0x05
	ErrorDecryptionFailed      ErrorCode = 0x06
	ErrorUnexpectedError       ErrorCode = 0x07
	ErrorCannotAssignAddresses ErrorCode = 0x08
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrorProhibited:
		return "Prohibited"
	case ErrorInvalidPDU:
		return "InvalidPDU"
	case ErrorInvalidFormat:
		return "InvalidFormat"
	case ErrorUnexpectedPDU:
		return "UnexpectedPDU"
	case ErrorConfirmationFailed:
		return "ConfirmationFailed"
	case ErrorOutOfResources:
		return "OutOfResources"
	case ErrorDecryptionFailed:
		return "DecryptionFailed"
	case ErrorUnexpectedError:
		return "UnexpectedError"
	case ErrorCannotAssignAddresses:
		return "CannotAssignAddresses"
	default:
		return fmt.Sprintf("ErrorCode(0x%02x)", uint8(c))
	}
}

// IsValid returns true for codes a Failed PDU may carry.
func (c ErrorCode) IsValid() bool {
	return c >= ErrorInvalidPDU && c <= ErrorCannotAssignAddresses
}
