// Package reassembly implements the per-media-type fragment admission
// state machine: a complete-or-drop reassembler that turns fragmented
// UDP datagrams back into whole frames.
package reassembly

import (
	"log/slog"

	"github.com/ndibridge/ndibridge/internal/wire"
)

// Frame is a completed, reassembled logical frame: one media-type's worth
// of payload plus the header metadata captured from its first fragment.
type Frame struct {
	MediaType      uint8
	SequenceNumber uint32
	Timestamp      uint64
	Flags          uint8
	SampleRate     uint32
	Channels       uint8
	Payload        []byte
}

// Reassembler owns one media type's reassembly slot. It is intended for
// exclusive use by a single goroutine (the network-receive thread) and
// performs no internal locking.
type Reassembler struct {
	log *slog.Logger

	hasCurrent     bool
	currentSeq     uint32
	expectedCount  uint16
	expectedTotal  uint32
	header         wire.Header
	fragments      map[uint16][]byte

	droppedFrames  int64
	completedFrames int64
}

// New creates a Reassembler. If log is nil, slog.Default() is used.
func New(log *slog.Logger) *Reassembler {
	if log == nil {
		log = slog.Default()
	}
	return &Reassembler{
		log:       log,
		fragments: make(map[uint16][]byte),
	}
}

// Stats returns the number of frames dropped on sequence change with a
// partial slot, and the number of frames successfully completed.
func (r *Reassembler) Stats() (dropped, completed int64) {
	return r.droppedFrames, r.completedFrames
}

// Admit processes one arriving fragment and returns a completed frame
// when this fragment was the slot's last missing piece. It resets on
// sequence change (discarding any partial slot), inserts by fragment
// index with last-writer-wins on duplicates, and concatenates payloads
// in index order once the slot is full.
func (r *Reassembler) Admit(h wire.Header, payload []byte) (Frame, bool) {
	if !r.hasCurrent || h.SequenceNumber != r.currentSeq {
		if r.hasCurrent && len(r.fragments) > 0 && len(r.fragments) < int(r.expectedCount) {
			r.droppedFrames++
			r.log.Warn("reassembly: partial frame dropped on sequence change",
				"media_type", h.MediaType,
				"dropped_sequence", r.currentSeq,
				"got", len(r.fragments),
				"expected", r.expectedCount)
		}
		r.reset(h)
	}

	// Last-writer-wins on duplicate index.
	cp := make([]byte, len(payload))
	copy(cp, payload)
	r.fragments[h.FragmentIndex] = cp

	if len(r.fragments) != int(r.expectedCount) {
		return Frame{}, false
	}

	total := make([]byte, 0, r.expectedTotal)
	for i := uint16(0); i < r.expectedCount; i++ {
		total = append(total, r.fragments[i]...)
	}
	if uint32(len(total)) != r.expectedTotal {
		r.log.Warn("reassembly: concatenated length mismatch",
			"media_type", h.MediaType,
			"sequence", r.currentSeq,
			"got_bytes", len(total),
			"expected_bytes", r.expectedTotal)
	}

	frame := Frame{
		MediaType:      r.header.MediaType,
		SequenceNumber: r.currentSeq,
		Timestamp:      r.header.Timestamp,
		Flags:          r.header.Flags,
		SampleRate:     r.header.SampleRate,
		Channels:       r.header.Channels,
		Payload:        total,
	}
	r.completedFrames++
	r.clear()
	return frame, true
}

// reset starts a new sequence, capturing this header's metadata as the
// slot's metadata for the duration of the sequence.
func (r *Reassembler) reset(h wire.Header) {
	r.hasCurrent = true
	r.currentSeq = h.SequenceNumber
	r.expectedCount = h.FragmentCount
	r.expectedTotal = h.TotalSize
	r.header = h
	r.fragments = make(map[uint16][]byte, h.FragmentCount)
}

// clear drops the current sequence's fragment map after a successful
// completion, so the next fragment seen is treated as starting fresh.
func (r *Reassembler) clear() {
	r.hasCurrent = false
	r.fragments = make(map[uint16][]byte)
}
