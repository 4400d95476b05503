package generic

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUUID = uuid.MustParse("70cf7c97-32a3-45b6-9149-4810d2e9cbf4")

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pdu  PDU
		wire []byte
	}{
		{
			name: "TransactionStartSingle",
			pdu:  &TransactionStart{SegN: 0, TotalLength: 2, FCS: 0x14, Data: []byte{0x00, 0x00}},
			wire: []byte{0x00, 0x00, 0x02, 0x14, 0x00, 0x00},
		},
		{
			name: "TransactionStartSegmented",
			pdu:  &TransactionStart{SegN: 3, TotalLength: 65, FCS: 0xA5, Data: bytes.Repeat([]byte{0x03}, StartMTU)},
			wire: append([]byte{0x0C, 0x00, 0x41, 0xA5}, bytes.Repeat([]byte{0x03}, StartMTU)...),
		},
		{
			name: "TransactionAck",
			pdu:  &TransactionAck{},
			wire: []byte{0x01},
		},
		{
			name: "TransactionContinuation",
			pdu:  &TransactionContinuation{SegmentIndex: 2, Data: bytes.Repeat([]byte{0xEE}, ContinuationMTU)},
			wire: append([]byte{0x0A}, bytes.Repeat([]byte{0xEE}, ContinuationMTU)...),
		},
		{
			name: "LinkOpen",
			pdu:  &LinkOpen{UUID: testUUID},
			wire: append([]byte{0x03}, testUUID[:]...),
		},
		{
			name: "LinkAck",
			pdu:  &LinkAck{},
			wire: []byte{0x07},
		},
		{
			name: "LinkCloseFail",
			pdu:  &LinkClose{Reason: CloseReasonFail},
			wire: []byte{0x0B, 0x02},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Encode(tc.pdu)
			require.NoError(t, err)
			assert.Equal(t, tc.wire, got)

			parsed, err := Parse(got)
			require.NoError(t, err)
			assert.Equal(t, tc.pdu, parsed)
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		wire []byte
		err  error
	}{
		{"Empty", nil, ErrInvalidSize},
		{"StartTooShort", []byte{0x00, 0x00, 0x01, 0x00}, ErrInvalidSize},
		{"StartPayloadOverMTU", append([]byte{0x00, 0x00, 0x15, 0x00}, make([]byte, StartMTU+1)...), ErrInvalidSize},
		{"AckTooLong", []byte{0x01, 0x00}, ErrInvalidSize},
		{"AckPaddingSet", []byte{0x05}, ErrInvalidBits},
		{"ContinuationTooShort", []byte{0x02}, ErrInvalidSize},
		{"ContinuationOverMTU", append([]byte{0x06}, make([]byte, ContinuationMTU+1)...), ErrInvalidSize},
		{"LinkOpenShortUUID", append([]byte{0x03}, make([]byte, 15)...), ErrInvalidSize},
		{"LinkAckWithPayload", []byte{0x07, 0x00}, ErrInvalidSize},
		{"LinkCloseNoReason", []byte{0x0B}, ErrInvalidSize},
		{"LinkCloseBadReason", []byte{0x0B, 0x03}, ErrInvalidReason},
		{"UnknownOpcode", []byte{0x0F}, ErrInvalidGPCF},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.wire)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestParseDoesNotAlias(t *testing.T) {
	wire := []byte{0x02 | 1<<2, 0xAA, 0xBB}
	pdu, err := Parse(wire)
	require.NoError(t, err)
	wire[1] = 0x00

	cont := pdu.(*TransactionContinuation)
	assert.Equal(t, []byte{0xAA, 0xBB}, cont.Data)
	assert.Equal(t, uint8(1), cont.SegmentIndex)
}

func TestEncodeErrors(t *testing.T) {
	_, err := Encode(&TransactionStart{SegN: 64, Data: []byte{0}})
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = Encode(&TransactionStart{Data: make([]byte, StartMTU+1)})
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = Encode(&TransactionContinuation{SegmentIndex: 1, Data: make([]byte, ContinuationMTU+1)})
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = Encode(&LinkClose{Reason: 7})
	assert.ErrorIs(t, err, ErrInvalidReason)
}

func TestBearerControlOpcodes(t *testing.T) {
	for _, tc := range []struct {
		pdu BearerControl
		op  BearerOpcode
	}{
		{&LinkOpen{}, OpcodeLinkOpen},
		{&LinkAck{}, OpcodeLinkAck},
		{&LinkClose{}, OpcodeLinkClose},
	} {
		assert.Equal(t, tc.op, tc.pdu.Opcode())
		assert.Equal(t, GPCFBearerControl, tc.pdu.GPCF())
	}
	assert.Equal(t, "LinkClose", OpcodeLinkClose.String())
	assert.Equal(t, "Timeout", CloseReasonTimeout.String())
}
