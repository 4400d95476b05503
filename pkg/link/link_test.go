package link

import (
	"testing"

	"github.com/backkem/btmesh/pkg/bearer"
	"github.com/backkem/btmesh/pkg/generic"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	deviceUUID = uuid.MustParse("70cf7c97-32a3-45b6-9149-4810d2e9cbf4")
	otherUUID  = uuid.MustParse("00000000-0000-4000-8000-000000000001")
)

type events struct {
	opened []uint32
	closed []generic.CloseReason
}

func newLink(t *testing.T) (*Link, *events) {
	t.Helper()
	ev := &events{}
	l, err := New(Config{
		UUID:         deviceUUID,
		OnLinkOpened: func(id uint32) { ev.opened = append(ev.opened, id) },
		OnLinkClosed: func(_ uint32, r generic.CloseReason) { ev.closed = append(ev.closed, r) },
	})
	require.NoError(t, err)
	return l, ev
}

func open(id uint32, u uuid.UUID) *bearer.PDU {
	return &bearer.PDU{LinkID: id, Payload: &generic.LinkOpen{UUID: u}}
}

var invite = &generic.TransactionStart{TotalLength: 2, FCS: 0x14, Data: []byte{0, 0}}

func TestLinkOpen(t *testing.T) {
	l, ev := newLink(t)

	res, err := l.ProcessInbound(open(0x12345678, deviceUUID))
	require.NoError(t, err)
	assert.True(t, res.Opened)
	require.NotNil(t, res.Reply)
	assert.Equal(t, &bearer.PDU{LinkID: 0x12345678, TransactionNumber: 0, Payload: &generic.LinkAck{}}, res.Reply)

	frame, err := res.Reply.Encode()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x07, 0x29, 0x12, 0x34, 0x56, 0x78, 0x00, 0x07}, frame)

	id, ok := l.LinkID()
	assert.True(t, ok)
	assert.Equal(t, uint32(0x12345678), id)
	assert.Equal(t, []uint32{0x12345678}, ev.opened)
}

func TestLinkOpenOtherUUIDIgnored(t *testing.T) {
	l, ev := newLink(t)

	res, err := l.ProcessInbound(open(0x1, otherUUID))
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
	assert.False(t, l.IsOpen())
	assert.Empty(t, ev.opened)
}

func TestLinkOpenRetransmitted(t *testing.T) {
	l, ev := newLink(t)
	_, err := l.ProcessInbound(open(0x1, deviceUUID))
	require.NoError(t, err)

	res, err := l.ProcessInbound(open(0x1, deviceUUID))
	require.NoError(t, err)
	assert.False(t, res.Opened)
	require.NotNil(t, res.Reply)
	assert.IsType(t, &generic.LinkAck{}, res.Reply.Payload)
	assert.Len(t, ev.opened, 1)
}

func TestLinkOpenConflict(t *testing.T) {
	l, ev := newLink(t)
	_, err := l.ProcessInbound(open(0x1, deviceUUID))
	require.NoError(t, err)

	res, err := l.ProcessInbound(open(0x2, deviceUUID))
	require.ErrorIs(t, err, ErrInvalidLink)
	assert.True(t, res.Closed)
	require.NotNil(t, res.Reply)
	assert.Equal(t, uint32(0x1), res.Reply.LinkID)
	assert.Equal(t, &generic.LinkClose{Reason: generic.CloseReasonFail}, res.Reply.Payload)
	assert.False(t, l.IsOpen())
	assert.Equal(t, []generic.CloseReason{generic.CloseReasonFail}, ev.closed)
}

func TestLinkGating(t *testing.T) {
	l, _ := newLink(t)

	_, err := l.ProcessInbound(&bearer.PDU{LinkID: 0x1, Payload: invite})
	assert.ErrorIs(t, err, ErrNoEstablishedLink)

	_, err = l.ProcessInbound(open(0x1, deviceUUID))
	require.NoError(t, err)

	_, err = l.ProcessInbound(&bearer.PDU{LinkID: 0x2, Payload: invite})
	assert.ErrorIs(t, err, ErrInvalidLink)

	res, err := l.ProcessInbound(&bearer.PDU{LinkID: 0x1, Payload: invite})
	require.NoError(t, err)
	assert.Same(t, invite, res.Payload)
}

func TestLinkClose(t *testing.T) {
	l, ev := newLink(t)

	// No link: ignored.
	res, err := l.ProcessInbound(&bearer.PDU{LinkID: 0x1, Payload: &generic.LinkClose{}})
	require.NoError(t, err)
	assert.False(t, res.Closed)

	_, err = l.ProcessInbound(open(0x1, deviceUUID))
	require.NoError(t, err)

	_, err = l.ProcessInbound(&bearer.PDU{LinkID: 0x2, Payload: &generic.LinkClose{}})
	assert.ErrorIs(t, err, ErrInvalidLink)
	assert.True(t, l.IsOpen())

	res, err = l.ProcessInbound(&bearer.PDU{LinkID: 0x1, Payload: &generic.LinkClose{Reason: generic.CloseReasonSuccess}})
	require.NoError(t, err)
	assert.True(t, res.Closed)
	assert.Nil(t, res.Reply)
	assert.False(t, l.IsOpen())
	assert.Equal(t, []generic.CloseReason{generic.CloseReasonSuccess}, ev.closed)

	// A new link can be opened afterwards.
	res, err = l.ProcessInbound(open(0x3, deviceUUID))
	require.NoError(t, err)
	assert.True(t, res.Opened)
}

func TestLinkDeviceClose(t *testing.T) {
	l, ev := newLink(t)
	assert.Nil(t, l.Close(generic.CloseReasonFail))

	_, err := l.ProcessInbound(open(0xCAFE, deviceUUID))
	require.NoError(t, err)

	pdu := l.Close(generic.CloseReasonFail)
	require.NotNil(t, pdu)
	assert.Equal(t, uint32(0xCAFE), pdu.LinkID)
	assert.Equal(t, &generic.LinkClose{Reason: generic.CloseReasonFail}, pdu.Payload)
	assert.False(t, l.IsOpen())
	assert.Len(t, ev.closed, 1)
}

func TestLinkWrap(t *testing.T) {
	l, _ := newLink(t)
	_, err := l.Wrap(0x80, &generic.TransactionAck{})
	assert.ErrorIs(t, err, ErrNoEstablishedLink)

	_, err = l.ProcessInbound(open(0x42, deviceUUID))
	require.NoError(t, err)
	pdu, err := l.Wrap(0x80, &generic.TransactionAck{})
	require.NoError(t, err)
	assert.Equal(t, &bearer.PDU{LinkID: 0x42, TransactionNumber: 0x80, Payload: &generic.TransactionAck{}}, pdu)
}

func TestNewRequiresUUID(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
