// Package provisioning implements the device side of the mesh provisioning
// protocol: the provisioning PDU codec and the Provisionable state machine
// that runs the ECDH handshake and receives the network credentials.
//
// The exchange, as seen by the device:
//
//	Invite        -> Capabilities
//	Start
//	PublicKey     -> PublicKey (omitted when the key is delivered OOB)
//	Confirmation  -> Confirmation
//	Random        -> Random
//	Data          -> Complete
//
// Key material lives behind the Vault interface; wire framing and
// segmentation belong to pkg/transaction.
//
// Spec References:
//   - Mesh Profile Section 5.4.1: Provisioning PDUs
//   - Mesh Profile Section 5.4.2: Provisioning behavior
package provisioning

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// Fixed sizes of PDU parameters.
const (
	InviteSize        = 1
	CapabilitiesSize  = 11
	StartSize         = 5
	PublicKeySize     = 64
	ConfirmationSize  = 16
	RandomSize        = 16
	EncryptedDataSize = 25
	DataMICSize       = 8
	FailedSize        = 1
	coordinateSize    = 32
)

var parameterSizes = map[PDUType]int{
	TypeInvite:        InviteSize,
	TypeCapabilities:  CapabilitiesSize,
	TypeStart:         StartSize,
	TypePublicKey:     PublicKeySize,
	TypeInputComplete: 0,
	TypeConfirmation:  ConfirmationSize,
	TypeRandom:        RandomSize,
	TypeData:          EncryptedDataSize + DataMICSize,
	TypeComplete:      0,
	TypeFailed:        FailedSize,
}

// PDU is a provisioning PDU.
type PDU interface {
	Type() PDUType
	// Parameters appends the PDU parameters, without the type octet.
	Parameters(b *cryptobyte.Builder)
}

// Invite starts provisioning.
type Invite struct {
	AttentionDuration uint8 // seconds
}

// Capabilities describes what the device supports.
type Capabilities struct {
	NumberOfElements uint8
	Algorithms       uint16
	PublicKeyType    uint8
	StaticOOBType    uint8
	OutputOOBSize    uint8
	OutputOOBAction  uint16
	InputOOBSize     uint8
	InputOOBAction   uint16
}

// Start selects the algorithm and authentication method.
type Start struct {
	Algorithm  Algorithm
	PublicKey  PublicKeyType
	AuthMethod AuthMethod
	AuthAction uint8
	AuthSize   uint8
}

// PublicKey is a P-256 public key as X || Y.
type PublicKey struct {
	X [coordinateSize]byte
	Y [coordinateSize]byte
}

// InputComplete signals the end of Input OOB entry.
type InputComplete struct{}

// Confirmation carries a confirmation value.
type Confirmation struct {
	Confirmation [ConfirmationSize]byte
}

// Random carries a confirmation random.
type Random struct {
	Random [RandomSize]byte
}

// Data carries the encrypted provisioning data and its MIC.
type Data struct {
	Encrypted [EncryptedDataSize]byte
	MIC       [DataMICSize]byte
}

// Complete ends a successful provisioning.
type Complete struct{}

// Failed reports a provisioning error.
type Failed struct {
	ErrorCode ErrorCode
}

func (*Invite) Type() PDUType        { return TypeInvite }
func (*Capabilities) Type() PDUType  { return TypeCapabilities }
func (*Start) Type() PDUType         { return TypeStart }
func (*PublicKey) Type() PDUType     { return TypePublicKey }
func (*InputComplete) Type() PDUType { return TypeInputComplete }
func (*Confirmation) Type() PDUType  { return TypeConfirmation }
func (*Random) Type() PDUType        { return TypeRandom }
func (*Data) Type() PDUType          { return TypeData }
func (*Complete) Type() PDUType      { return TypeComplete }
func (*Failed) Type() PDUType        { return TypeFailed }

func (p *Invite) Parameters(b *cryptobyte.Builder) { b.AddUint8(p.AttentionDuration) }

func (p *Capabilities) Parameters(b *cryptobyte.Builder) {
	b.AddUint8(p.NumberOfElements)
	b.AddUint16(p.Algorithms)
	b.AddUint8(p.PublicKeyType)
	b.AddUint8(p.StaticOOBType)
	b.AddUint8(p.OutputOOBSize)
	b.AddUint16(p.OutputOOBAction)
	b.AddUint8(p.InputOOBSize)
	b.AddUint16(p.InputOOBAction)
}

func (p *Start) Parameters(b *cryptobyte.Builder) {
	b.AddUint8(uint8(p.Algorithm))
	b.AddUint8(uint8(p.PublicKey))
	b.AddUint8(uint8(p.AuthMethod))
	b.AddUint8(p.AuthAction)
	b.AddUint8(p.AuthSize)
}

func (p *PublicKey) Parameters(b *cryptobyte.Builder) {
	b.AddBytes(p.X[:])
	b.AddBytes(p.Y[:])
}

func (*InputComplete) Parameters(*cryptobyte.Builder) {}

func (p *Confirmation) Parameters(b *cryptobyte.Builder) { b.AddBytes(p.Confirmation[:]) }

func (p *Random) Parameters(b *cryptobyte.Builder) { b.AddBytes(p.Random[:]) }

func (p *Data) Parameters(b *cryptobyte.Builder) {
	b.AddBytes(p.Encrypted[:])
	b.AddBytes(p.MIC[:])
}

func (*Complete) Parameters(*cryptobyte.Builder) {}

func (p *Failed) Parameters(b *cryptobyte.Builder) { b.AddUint8(uint8(p.ErrorCode)) }

// Bytes returns the public key as X || Y.
func (p *PublicKey) Bytes() [PublicKeySize]byte {
	var out [PublicKeySize]byte
	copy(out[:coordinateSize], p.X[:])
	copy(out[coordinateSize:], p.Y[:])
	return out
}

// PublicKeyFromBytes splits X || Y.
func PublicKeyFromBytes(xy [PublicKeySize]byte) *PublicKey {
	var p PublicKey
	copy(p.X[:], xy[:coordinateSize])
	copy(p.Y[:], xy[coordinateSize:])
	return &p
}

// Encode returns the PDU with its type octet. Values that would not
// survive Parse are rejected.
func Encode(p PDU) ([]byte, error) {
	if err := validate(p); err != nil {
		return nil, err
	}
	b := cryptobyte.NewBuilder(make([]byte, 0, 1+PublicKeySize))
	b.AddUint8(uint8(p.Type()))
	p.Parameters(b)
	return b.Bytes()
}

// Parameters returns the encoded parameters of p, as appended to the
// confirmation inputs.
func Parameters(p PDU) []byte {
	b := cryptobyte.NewBuilder(nil)
	p.Parameters(b)
	return b.BytesOrPanic()
}

// Parse decodes a provisioning PDU.
func Parse(data []byte) (PDU, error) {
	s := cryptobyte.String(data)
	var t uint8
	if !s.ReadUint8(&t) {
		return nil, fmt.Errorf("%w: empty PDU", ErrInvalidLength)
	}
	typ := PDUType(t)

	n, ok := parameterSizes[typ]
	if !ok {
		return nil, parseError(typ, "", ErrUnknownType)
	}
	if len(s) != n {
		return nil, parseError(typ, "", fmt.Errorf("%w: %d parameter bytes, want %d", ErrInvalidLength, len(s), n))
	}

	var p PDU
	switch typ {
	case TypeInvite:
		v := &Invite{}
		s.ReadUint8(&v.AttentionDuration)
		p = v
	case TypeCapabilities:
		v := &Capabilities{}
		s.ReadUint8(&v.NumberOfElements)
		s.ReadUint16(&v.Algorithms)
		s.ReadUint8(&v.PublicKeyType)
		s.ReadUint8(&v.StaticOOBType)
		s.ReadUint8(&v.OutputOOBSize)
		s.ReadUint16(&v.OutputOOBAction)
		s.ReadUint8(&v.InputOOBSize)
		s.ReadUint16(&v.InputOOBAction)
		p = v
	case TypeStart:
		var alg, pk, method uint8
		v := &Start{}
		s.ReadUint8(&alg)
		s.ReadUint8(&pk)
		s.ReadUint8(&method)
		s.ReadUint8(&v.AuthAction)
		s.ReadUint8(&v.AuthSize)
		v.Algorithm, v.PublicKey, v.AuthMethod = Algorithm(alg), PublicKeyType(pk), AuthMethod(method)
		p = v
	case TypePublicKey:
		v := &PublicKey{}
		s.CopyBytes(v.X[:])
		s.CopyBytes(v.Y[:])
		p = v
	case TypeInputComplete:
		p = &InputComplete{}
	case TypeConfirmation:
		v := &Confirmation{}
		s.CopyBytes(v.Confirmation[:])
		p = v
	case TypeRandom:
		v := &Random{}
		s.CopyBytes(v.Random[:])
		p = v
	case TypeData:
		v := &Data{}
		s.CopyBytes(v.Encrypted[:])
		s.CopyBytes(v.MIC[:])
		p = v
	case TypeComplete:
		p = &Complete{}
	case TypeFailed:
		var code uint8
		s.ReadUint8(&code)
		p = &Failed{ErrorCode: ErrorCode(code)}
	}

	if err := validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func validate(p PDU) error {
	switch v := p.(type) {
	case *Capabilities:
		return v.validate()
	case *Start:
		return v.validate()
	case *Failed:
		if !v.ErrorCode.IsValid() {
			return parseError(TypeFailed, "ErrorCode", fmt.Errorf("%w: 0x%02x", ErrInvalidValue, uint8(v.ErrorCode)))
		}
	}
	return nil
}

// Validate checks that the capabilities can be advertised.
func (c *Capabilities) Validate() error {
	return c.validate()
}

func (c *Capabilities) validate() error {
	invalid := func(field string, v any) error {
		return parseError(TypeCapabilities, field, fmt.Errorf("%w: %v", ErrInvalidValue, v))
	}
	switch {
	case c.NumberOfElements == 0:
		return invalid("NumberOfElements", c.NumberOfElements)
	case c.Algorithms&AlgorithmFIPSP256 == 0:
		return invalid("Algorithms", c.Algorithms)
	case c.PublicKeyType&^PublicKeyTypeOOB != 0:
		return invalid("PublicKeyType", c.PublicKeyType)
	case c.StaticOOBType&^StaticOOBAvailable != 0:
		return invalid("StaticOOBType", c.StaticOOBType)
	case c.OutputOOBSize > MaxOOBSize:
		return invalid("OutputOOBSize", c.OutputOOBSize)
	case c.OutputOOBAction&^outputActionMask != 0:
		return invalid("OutputOOBAction", c.OutputOOBAction)
	case c.InputOOBSize > MaxOOBSize:
		return invalid("InputOOBSize", c.InputOOBSize)
	case c.InputOOBAction&^inputActionMask != 0:
		return invalid("InputOOBAction", c.InputOOBAction)
	}
	return nil
}

func (s *Start) validate() error {
	invalid := func(field string, v any) error {
		return parseError(TypeStart, field, fmt.Errorf("%w: %v", ErrInvalidValue, v))
	}
	if s.Algorithm != AlgorithmP256 {
		return invalid("Algorithm", s.Algorithm)
	}
	if s.PublicKey > PublicKeyOOB {
		return invalid("PublicKey", s.PublicKey)
	}

	switch s.AuthMethod {
	case AuthNoOOB, AuthStaticOOB:
		if s.AuthAction != 0 {
			return invalid("AuthAction", s.AuthAction)
		}
		if s.AuthSize != 0 {
			return invalid("AuthSize", s.AuthSize)
		}
	case AuthOutputOOB, AuthInputOOB:
		maxAction := uint8(OutputAlphanumeric)
		if s.AuthMethod == AuthInputOOB {
			maxAction = uint8(InputAlphanumeric)
		}
		if s.AuthAction > maxAction {
			return invalid("AuthAction", s.AuthAction)
		}
		if s.AuthSize == 0 || s.AuthSize > MaxOOBSize {
			return invalid("AuthSize", s.AuthSize)
		}
	default:
		return invalid("AuthMethod", s.AuthMethod)
	}
	return nil
}

// Supports reports whether the Start selections are within c.
func (c *Capabilities) Supports(s *Start) bool {
	if s.PublicKey == PublicKeyOOB && c.PublicKeyType&PublicKeyTypeOOB == 0 {
		return false
	}
	switch s.AuthMethod {
	case AuthStaticOOB:
		return c.StaticOOBType&StaticOOBAvailable != 0
	case AuthOutputOOB:
		return c.OutputOOBAction&OutputAction(s.AuthAction).Bit() != 0 && s.AuthSize <= c.OutputOOBSize
	case AuthInputOOB:
		return c.InputOOBAction&InputAction(s.AuthAction).Bit() != 0 && s.AuthSize <= c.InputOOBSize
	}
	return true
}
