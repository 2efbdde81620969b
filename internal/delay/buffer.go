// Package delay implements a FIFO delay-line buffer: a deep-copying
// queue that releases entries once a fixed wall-clock delay has
// elapsed, used for broadcast pacing on the receive side.
package delay

import (
	"sync"
	"time"
)

// VideoEntry is one deep-copied decoded video frame awaiting release.
type VideoEntry struct {
	Width, Height int
	FourCC        string
	Planes        [][]byte
	Strides       []int
	Timestamp     int64
	releaseAt     time.Time
}

// AudioEntry is one deep-copied audio buffer awaiting release.
type AudioEntry struct {
	Payload    []byte
	Timestamp  int64
	SampleRate uint32
	Channels   uint8
	releaseAt  time.Time
}

// PixelSource is the minimal read access the buffer needs to deep-copy a
// decoded pixel buffer; internal/capture's PixelBuffer type satisfies it
// structurally.
type PixelSource interface {
	Width() int
	Height() int
	FourCC() string
	PlaneCount() int
	Stride(plane int) int
	Plane(plane int) []byte
}

// Buffer holds two independent FIFO queues, video and audio, each
// delaying presentation by the same configured wall-clock duration.
// delayMs == 0 disables the buffer entirely; callers should short-circuit
// around it rather than enqueue/dequeue a disabled Buffer.
type Buffer struct {
	delay time.Duration

	videoMu sync.Mutex
	video   []VideoEntry

	audioMu sync.Mutex
	audio   []AudioEntry

	now func() time.Time
}

// New creates a Buffer configured with the given delay in milliseconds.
func New(delayMs int) *Buffer {
	return &Buffer{delay: time.Duration(delayMs) * time.Millisecond, now: time.Now}
}

// Enabled reports whether this buffer was configured with a non-zero
// delay.
func (b *Buffer) Enabled() bool {
	return b.delay > 0
}

// EnqueueVideo deep-copies frame (every plane, preserving width, height,
// FourCC, and per-plane stride) and appends it to the video queue with a
// release time of now+delay. The deep copy is required because decoded
// pixel buffers are drawn from a pool the codec recycles.
func (b *Buffer) EnqueueVideo(frame PixelSource, timestamp int64) {
	planeCount := frame.PlaneCount()
	planes := make([][]byte, planeCount)
	strides := make([]int, planeCount)
	for i := 0; i < planeCount; i++ {
		src := frame.Plane(i)
		dst := make([]byte, len(src))
		copy(dst, src)
		planes[i] = dst
		strides[i] = frame.Stride(i)
	}

	entry := VideoEntry{
		Width:     frame.Width(),
		Height:    frame.Height(),
		FourCC:    frame.FourCC(),
		Planes:    planes,
		Strides:   strides,
		Timestamp: timestamp,
		releaseAt: b.now().Add(b.delay),
	}

	b.videoMu.Lock()
	b.video = append(b.video, entry)
	b.videoMu.Unlock()
}

// EnqueueAudio deep-copies payload and appends it to the audio queue with
// a release time of now+delay.
func (b *Buffer) EnqueueAudio(payload []byte, timestamp int64, sampleRate uint32, channels uint8) {
	cp := make([]byte, len(payload))
	copy(cp, payload)

	entry := AudioEntry{
		Payload:    cp,
		Timestamp:  timestamp,
		SampleRate: sampleRate,
		Channels:   channels,
		releaseAt:  b.now().Add(b.delay),
	}

	b.audioMu.Lock()
	b.audio = append(b.audio, entry)
	b.audioMu.Unlock()
}

// DequeueReadyVideo removes and returns, in enqueue (FIFO) order, every
// video entry whose release time has passed.
func (b *Buffer) DequeueReadyVideo() []VideoEntry {
	now := b.now()
	b.videoMu.Lock()
	defer b.videoMu.Unlock()

	i := 0
	for i < len(b.video) && !b.video[i].releaseAt.After(now) {
		i++
	}
	if i == 0 {
		return nil
	}
	ready := b.video[:i]
	b.video = b.video[i:]
	return ready
}

// DequeueReadyAudio removes and returns, in enqueue (FIFO) order, every
// audio entry whose release time has passed.
func (b *Buffer) DequeueReadyAudio() []AudioEntry {
	now := b.now()
	b.audioMu.Lock()
	defer b.audioMu.Unlock()

	i := 0
	for i < len(b.audio) && !b.audio[i].releaseAt.After(now) {
		i++
	}
	if i == 0 {
		return nil
	}
	ready := b.audio[:i]
	b.audio = b.audio[i:]
	return ready
}

// Flush drops all entries from both queues.
func (b *Buffer) Flush() {
	b.videoMu.Lock()
	b.video = nil
	b.videoMu.Unlock()

	b.audioMu.Lock()
	b.audio = nil
	b.audioMu.Unlock()
}
