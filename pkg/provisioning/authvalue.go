package provisioning

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/bits"
)

// AuthValueSize is the length of the AuthValue input to the confirmation.
const AuthValueSize = 16

// AuthKind classifies an AuthValue.
type AuthKind uint8

const (
	AuthKindNone AuthKind = iota
	AuthKindStatic
	// AuthKindNumeric covers the numeric actions and the event counts
	// (blink, beep, vibrate, push, twist).
	AuthKindNumeric
	AuthKindAlphanumeric
)

// String returns a human-readable name for the kind.
func (k AuthKind) String() string {
	switch k {
	case AuthKindNone:
		return "None"
	case AuthKindStatic:
		return "Static"
	case AuthKindNumeric:
		return "Numeric"
	case AuthKindAlphanumeric:
		return "Alphanumeric"
	default:
		return fmt.Sprintf("AuthKind(%d)", uint8(k))
	}
}

// AuthValue is the OOB authentication value of one provisioning attempt.
type AuthValue struct {
	Kind AuthKind

	// Method, Action and Size echo the Start PDU that selected the value.
	Method AuthMethod
	Action uint8
	Size   uint8

	Number uint32 // AuthKindNumeric
	Text   string // AuthKindAlphanumeric

	static [AuthValueSize]byte
}

// Bytes returns the 16-octet AuthValue: numbers are big-endian and right
// aligned, text is ASCII and left aligned, both zero padded.
func (a *AuthValue) Bytes() [AuthValueSize]byte {
	var out [AuthValueSize]byte
	switch a.Kind {
	case AuthKindStatic:
		out = a.static
	case AuthKindNumeric:
		binary.BigEndian.PutUint32(out[AuthValueSize-4:], a.Number)
	case AuthKindAlphanumeric:
		copy(out[:], a.Text)
	}
	return out
}

// IsEvent reports whether the value is a count of blinks, beeps,
// vibrations, pushes or twists.
func (a *AuthValue) IsEvent() bool {
	switch a.Method {
	case AuthOutputOOB:
		return OutputAction(a.Action) <= OutputVibrate
	case AuthInputOOB:
		return InputAction(a.Action) <= InputTwist
	}
	return false
}

func (a *AuthValue) String() string {
	switch a.Kind {
	case AuthKindNumeric:
		return fmt.Sprintf("%s(%d)", a.Kind, a.Number)
	case AuthKindAlphanumeric:
		return fmt.Sprintf("%s(%q)", a.Kind, a.Text)
	default:
		return a.Kind.String()
	}
}

// DetermineAuthValue samples the AuthValue selected by start. static is
// the device's static OOB value and may be nil.
func DetermineAuthValue(r io.Reader, start *Start, static *[AuthValueSize]byte) (*AuthValue, error) {
	av := &AuthValue{Method: start.AuthMethod, Action: start.AuthAction, Size: start.AuthSize}

	switch start.AuthMethod {
	case AuthStaticOOB:
		av.Kind = AuthKindStatic
		if static != nil {
			av.static = *static
		}
		return av, nil
	case AuthOutputOOB, AuthInputOOB:
	default:
		av.Kind = AuthKindNone
		return av, nil
	}

	if start.AuthSize == 0 || start.AuthSize > MaxOOBSize {
		return nil, fmt.Errorf("%w: OOB size %d", ErrInvalidValue, start.AuthSize)
	}
	bound := pow10(start.AuthSize)

	alphanumeric := (start.AuthMethod == AuthOutputOOB && OutputAction(start.AuthAction) == OutputAlphanumeric) ||
		(start.AuthMethod == AuthInputOOB && InputAction(start.AuthAction) == InputAlphanumeric)

	var err error
	switch {
	case alphanumeric:
		av.Kind = AuthKindAlphanumeric
		av.Text, err = randomAlphanumeric(r, int(start.AuthSize))
	case av.IsEvent():
		// Events are counted, so zero is excluded: [1, 10^n).
		av.Kind = AuthKindNumeric
		for av.Number == 0 && err == nil {
			av.Number, err = randomBelow(r, bound)
		}
	default:
		av.Kind = AuthKindNumeric
		av.Number, err = randomBelow(r, bound)
	}
	if err != nil {
		return nil, fmt.Errorf("provisioning: sample auth value: %w", err)
	}
	return av, nil
}

func pow10(n uint8) uint32 {
	v := uint32(1)
	for i := uint8(0); i < n; i++ {
		v *= 10
	}
	return v
}

// randomBelow returns a uniform value in [0, bound) by rejection sampling
// under the smallest covering bit mask.
func randomBelow(r io.Reader, bound uint32) (uint32, error) {
	mask := uint32(1)<<bits.Len32(bound-1) - 1
	var buf [4]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		if v := binary.BigEndian.Uint32(buf[:]) & mask; v < bound {
			return v, nil
		}
	}
}

// randomAlphanumeric draws n characters from 0-9 and A-Z, discarding
// every other byte value.
func randomAlphanumeric(r io.Reader, n int) (string, error) {
	out := make([]byte, 0, n)
	var buf [16]byte
	for len(out) < n {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return "", err
		}
		for _, c := range buf {
			// 36 of the 128 folded values are accepted.
			c &= 0x7F
			if (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') {
				out = append(out, c)
				if len(out) == n {
					break
				}
			}
		}
	}
	return string(out), nil
}
