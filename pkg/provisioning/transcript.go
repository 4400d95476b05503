package provisioning

import (
	"github.com/backkem/btmesh/pkg/crypto"
)

// confirmationInputsSize is Invite || Capabilities || Start ||
// PublicKeyProvisioner || PublicKeyDevice.
const confirmationInputsSize = InviteSize + CapabilitiesSize + StartSize + 2*PublicKeySize

// Transcript accumulates the ConfirmationInputs of one attempt. Only PDU
// parameters are recorded, never the type octet.
type Transcript struct {
	inputs []byte
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{inputs: make([]byte, 0, confirmationInputsSize)}
}

func (t *Transcript) AddInvite(p *Invite)             { t.add(p) }
func (t *Transcript) AddCapabilities(p *Capabilities) { t.add(p) }
func (t *Transcript) AddStart(p *Start)               { t.add(p) }
func (t *Transcript) AddProvisionerKey(p *PublicKey)  { t.add(p) }
func (t *Transcript) AddDeviceKey(p *PublicKey)       { t.add(p) }

func (t *Transcript) add(p PDU) {
	t.inputs = append(t.inputs, Parameters(p)...)
}

// Inputs returns the accumulated ConfirmationInputs.
func (t *Transcript) Inputs() []byte {
	return t.inputs
}

// ConfirmationSalt returns s1(ConfirmationInputs).
func (t *Transcript) ConfirmationSalt() [16]byte {
	return crypto.S1(t.inputs)
}

// Reset clears the transcript for a new attempt.
func (t *Transcript) Reset() {
	crypto.Wipe(t.inputs)
	t.inputs = t.inputs[:0]
}
