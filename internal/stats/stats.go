// Package stats collects lock-free counters for the observability
// surfaced by both orchestrators.
package stats

import (
	"sync/atomic"
	"time"
)

// LogInterval is the cadence at which both orchestrators surface a
// counter snapshot to the log.
const LogInterval = 5 * time.Second

// Sender holds the counters the sender orchestrator (C5) accumulates.
type Sender struct {
	FramesCaptured   atomic.Int64
	FramesEncoded    atomic.Int64
	EncodeErrors     atomic.Int64
	DatagramsSent    atomic.Int64
	SendErrors       atomic.Int64
	ReconnectAttempts atomic.Int64
}

// SenderSnapshot is a point-in-time copy of Sender's counters, safe to log or
// serialize.
type SenderSnapshot struct {
	FramesCaptured    int64
	FramesEncoded     int64
	EncodeErrors      int64
	DatagramsSent     int64
	SendErrors        int64
	ReconnectAttempts int64
}

// Snapshot returns a copy of the current counter values.
func (s *Sender) Snapshot() SenderSnapshot {
	return SenderSnapshot{
		FramesCaptured:    s.FramesCaptured.Load(),
		FramesEncoded:     s.FramesEncoded.Load(),
		EncodeErrors:      s.EncodeErrors.Load(),
		DatagramsSent:     s.DatagramsSent.Load(),
		SendErrors:        s.SendErrors.Load(),
		ReconnectAttempts: s.ReconnectAttempts.Load(),
	}
}

// Receiver holds the counters the receiver orchestrator (C6) accumulates.
type Receiver struct {
	DatagramsReceived atomic.Int64
	ProtocolErrors    atomic.Int64
	VideoFramesOut    atomic.Int64
	AudioFramesOut    atomic.Int64
	ReassemblyDrops   atomic.Int64
	DecodeErrors      atomic.Int64
}

// ReceiverSnapshot is a point-in-time copy of Receiver's counters.
type ReceiverSnapshot struct {
	DatagramsReceived int64
	ProtocolErrors    int64
	VideoFramesOut    int64
	AudioFramesOut    int64
	ReassemblyDrops   int64
	DecodeErrors      int64
}

// Snapshot returns a copy of the current counter values.
func (r *Receiver) Snapshot() ReceiverSnapshot {
	return ReceiverSnapshot{
		DatagramsReceived: r.DatagramsReceived.Load(),
		ProtocolErrors:    r.ProtocolErrors.Load(),
		VideoFramesOut:    r.VideoFramesOut.Load(),
		AudioFramesOut:    r.AudioFramesOut.Load(),
		ReassemblyDrops:   r.ReassemblyDrops.Load(),
		DecodeErrors:      r.DecodeErrors.Load(),
	}
}
