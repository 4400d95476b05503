package transaction

import (
	"fmt"

	"github.com/backkem/btmesh/pkg/generic"
)

// MaxTransactionSize is the largest payload a transaction can carry: one
// Start segment and 63 continuations.
const MaxTransactionSize = generic.StartMTU + generic.MaxSegmentIndex*generic.ContinuationMTU

// Segment splits payload into a Transaction Start followed by the
// continuations, with the total length and FCS computed up front.
func Segment(payload []byte) ([]generic.PDU, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInsufficientBuffer)
	}
	if len(payload) > MaxTransactionSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInsufficientBuffer, len(payload), MaxTransactionSize)
	}

	first := min(len(payload), generic.StartMTU)
	rest := payload[first:]
	segN := (len(rest) + generic.ContinuationMTU - 1) / generic.ContinuationMTU

	out := make([]generic.PDU, 0, segN+1)
	out = append(out, &generic.TransactionStart{
		SegN:        uint8(segN),
		TotalLength: uint16(len(payload)),
		FCS:         FCS(payload),
		Data:        payload[:first],
	})
	for i := 1; len(rest) > 0; i++ {
		n := min(len(rest), generic.ContinuationMTU)
		out = append(out, &generic.TransactionContinuation{
			SegmentIndex: uint8(i),
			Data:         rest[:n],
		})
		rest = rest[n:]
	}
	return out, nil
}

// InboundSegments collects the segments of one inbound transaction. Slots
// may be filled in any order; reassembly concatenates them by index.
type InboundSegments struct {
	totalLength uint16
	fcs         uint8
	segments    [][]byte
	received    int
}

// NewInboundSegments starts a set from its Transaction Start. maxSize
// bounds the announced total length; zero means MaxTransactionSize.
func NewInboundSegments(start *generic.TransactionStart, maxSize int) (*InboundSegments, error) {
	if maxSize <= 0 || maxSize > MaxTransactionSize {
		maxSize = MaxTransactionSize
	}
	if int(start.TotalLength) > maxSize {
		return nil, fmt.Errorf("%w: total length %d exceeds %d", ErrInsufficientBuffer, start.TotalLength, maxSize)
	}
	if start.SegN > generic.MaxSegmentIndex {
		return nil, fmt.Errorf("%w: SegN %d", ErrInvalidSegmentIndex, start.SegN)
	}

	s := &InboundSegments{
		totalLength: start.TotalLength,
		fcs:         start.FCS,
		segments:    make([][]byte, int(start.SegN)+1),
	}
	s.store(0, start.Data)
	return s, nil
}

// Receive stores a continuation. Duplicates are ignored. It reports
// whether every segment is present.
func (s *InboundSegments) Receive(index uint8, data []byte) (bool, error) {
	if index == 0 || int(index) >= len(s.segments) {
		return false, fmt.Errorf("%w: index %d, SegN %d", ErrInvalidSegmentIndex, index, len(s.segments)-1)
	}
	if s.segments[index] == nil {
		s.store(int(index), data)
	}
	return s.Complete(), nil
}

func (s *InboundSegments) store(i int, data []byte) {
	s.segments[i] = append(make([]byte, 0, len(data)), data...)
	s.received++
}

// Complete reports whether every segment is present.
func (s *InboundSegments) Complete() bool {
	return s.received == len(s.segments)
}

// SegN returns the index of the last segment.
func (s *InboundSegments) SegN() uint8 {
	return uint8(len(s.segments) - 1)
}

// Reassemble concatenates the segments and checks the total length and
// FCS announced by the Transaction Start.
func (s *InboundSegments) Reassemble() ([]byte, error) {
	if !s.Complete() {
		return nil, fmt.Errorf("%w: %d of %d segments", ErrIncompleteTransaction, s.received, len(s.segments))
	}

	out := make([]byte, 0, s.totalLength)
	for _, seg := range s.segments {
		out = append(out, seg...)
	}
	if len(out) != int(s.totalLength) {
		return nil, fmt.Errorf("%w: got %d, announced %d", ErrInvalidLength, len(out), s.totalLength)
	}
	if fcs := FCS(out); fcs != s.fcs {
		return nil, fmt.Errorf("%w: got 0x%02x, announced 0x%02x", ErrInvalidFCS, fcs, s.fcs)
	}
	return out, nil
}
