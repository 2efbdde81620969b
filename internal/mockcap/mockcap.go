// Package mockcap provides deterministic, dependency-free fakes of the
// three capability interfaces (internal/capture) so the wire protocol,
// reassembler, codec adapter, and orchestrators can all run for real
// without the platform media library or hardware codec present. It backs
// both this repository's own integration tests and the CLI's --mock
// mode, exercising the real pipeline with synthetic input.
package mockcap

import (
	"fmt"
	"sync"
	"time"

	"github.com/ndibridge/ndibridge/internal/capture"
)

// PixelBuffer is a trivial single-plane BGRA capture.PixelBuffer backed
// by an in-memory byte slice.
type PixelBuffer struct {
	W, H int
	Data []byte
}

func (p *PixelBuffer) Width() int      { return p.W }
func (p *PixelBuffer) Height() int     { return p.H }
func (p *PixelBuffer) FourCC() string  { return "BGRA" }
func (p *PixelBuffer) PlaneCount() int { return 1 }
func (p *PixelBuffer) Stride(int) int  { return p.W * 4 }
func (p *PixelBuffer) Plane(int) []byte { return p.Data }

// NewPixelBuffer allocates a deterministic synthetic BGRA frame: every
// byte is derived from frameNumber so frames are distinguishable and
// reproducible in tests.
func NewPixelBuffer(w, h int, frameNumber uint64) *PixelBuffer {
	data := make([]byte, w*h*4)
	fill := byte(frameNumber % 256)
	for i := range data {
		data[i] = fill
	}
	return &PixelBuffer{W: w, H: h, Data: data}
}

// Capture is a synthetic SourceCapture that generates a fixed-rate
// pattern of video and audio frames until Stop is called.
type Capture struct {
	Sources []capture.SourceDescriptor
	Width   int
	Height  int
	FPS     int

	mu        sync.Mutex
	running   bool
	stopCh    chan struct{}
	connected capture.SourceDescriptor
}

// New creates a Capture advertising the given synthetic sources.
func New(sources []capture.SourceDescriptor, width, height, fps int) *Capture {
	return &Capture{Sources: sources, Width: width, Height: height, FPS: fps}
}

func (c *Capture) Initialize() error { return nil }

func (c *Capture) Discover(timeoutSeconds int) ([]capture.SourceDescriptor, error) {
	return c.Sources, nil
}

func (c *Capture) Connect(desc capture.SourceDescriptor) error {
	c.connected = desc
	return nil
}

// StartCapture runs the synthetic generator on its own goroutine,
// invoking onVideo at FPS and onAudio once per video frame with a
// matching slice of PCM samples, until Stop is called; it then calls
// onDisconnect(nil).
func (c *Capture) StartCapture(onVideo capture.VideoCallback, onAudio capture.AudioCallback, onDisconnect capture.DisconnectCallback) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("mockcap: capture already running")
	}
	c.running = true
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	go func() {
		interval := time.Second / time.Duration(c.FPS)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		const sampleRate = 48000
		const channels = 2
		samplesPerFrame := sampleRate / c.FPS

		var frameNumber uint64
		start := time.Now()
		for {
			select {
			case <-c.stopCh:
				if onDisconnect != nil {
					onDisconnect(nil)
				}
				return
			case <-ticker.C:
				ts := int64(time.Since(start) / 100) // 100ns ticks
				frame := NewPixelBuffer(c.Width, c.Height, frameNumber)
				onVideo(frame, ts, frameNumber)

				audio := make([]byte, channels*samplesPerFrame*4)
				onAudio(audio, ts, sampleRate, channels, samplesPerFrame)

				frameNumber++
			}
		}
	}()
	return nil
}

func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	close(c.stopCh)
	c.running = false
	return nil
}

// Output is a synthetic SourceOutput that records every call for test
// assertions instead of publishing to a real discovery fabric.
type Output struct {
	mu          sync.Mutex
	started     bool
	name        string
	width       int
	height      int
	videoFrames []VideoCall
	audioFrames []AudioCall
}

// VideoCall captures one SendVideo invocation's arguments.
type VideoCall struct {
	Width, Height int
	Timestamp     int64
}

// AudioCall captures one SendAudio invocation's arguments.
type AudioCall struct {
	Len        int
	Timestamp  int64
	SampleRate int
	Channels   int
}

func NewOutput() *Output { return &Output{} }

func (o *Output) Start(name string, initialWidth, initialHeight int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = true
	o.name = name
	o.width, o.height = initialWidth, initialHeight
	return nil
}

// Name returns the name Start was called with, for test assertions.
func (o *Output) Name() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.name
}

func (o *Output) SendVideo(frame capture.PixelBuffer, timestamp100ns int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.videoFrames = append(o.videoFrames, VideoCall{Width: frame.Width(), Height: frame.Height(), Timestamp: timestamp100ns})
	return nil
}

func (o *Output) SendAudio(payload []byte, timestamp100ns int64, sampleRate int, channels int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.audioFrames = append(o.audioFrames, AudioCall{Len: len(payload), Timestamp: timestamp100ns, SampleRate: sampleRate, Channels: channels})
	return nil
}

func (o *Output) SetResolution(width, height int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.width, o.height = width, height
	return nil
}

func (o *Output) Stop() error { return nil }

// VideoCalls returns a snapshot of every SendVideo call received so far.
func (o *Output) VideoCalls() []VideoCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]VideoCall, len(o.videoFrames))
	copy(out, o.videoFrames)
	return out
}

// AudioCalls returns a snapshot of every SendAudio call received so far.
func (o *Output) AudioCalls() []AudioCall {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]AudioCall, len(o.audioFrames))
	copy(out, o.audioFrames)
	return out
}
