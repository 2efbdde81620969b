// Package receiver implements the receiver orchestrator (C6): it wires a
// UDP socket through the wire protocol, two reassemblers, the codec
// adapter, an optional delay buffer, and a capture.SourceOutput.
package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ndibridge/ndibridge/internal/capture"
	"github.com/ndibridge/ndibridge/internal/codec"
	"github.com/ndibridge/ndibridge/internal/delay"
	"github.com/ndibridge/ndibridge/internal/reassembly"
	"github.com/ndibridge/ndibridge/internal/stats"
	"github.com/ndibridge/ndibridge/internal/wire"
)

// outputPumpInterval is the cadence at which buffered entries are
// released to SourceOutput.
const outputPumpInterval = time.Millisecond

// Config configures one receiver orchestrator run.
type Config struct {
	Port            int // 0 means wire.DefaultPort
	OutputName      string
	BufferMs        int // 0 means unbuffered/real-time
	ReadBufferBytes int // 0 means a default sized for one max datagram
}

// Receiver runs the UDP → reassembly → decode → output pipeline until its
// context is cancelled.
type Receiver struct {
	cfg    Config
	log    *slog.Logger
	vcodec capture.VideoCodec
	out    capture.SourceOutput
	stats  *stats.Receiver

	videoReasm *reassembly.Reassembler
	audioReasm *reassembly.Reassembler
	dec        *codec.Decoder
	buf        *delay.Buffer

	conn          *net.UDPConn
	outputStarted bool
	lastWidth     int
	lastHeight    int
}

// New creates a Receiver. vcodec is the platform codec capability and out
// the platform output capability (internal/mockcap supplies fakes for
// tests and --mock).
func New(cfg Config, vcodec capture.VideoCodec, out capture.SourceOutput, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Port <= 0 {
		cfg.Port = wire.DefaultPort
	}
	return &Receiver{
		cfg:        cfg,
		log:        log,
		vcodec:     vcodec,
		out:        out,
		stats:      &stats.Receiver{},
		videoReasm: reassembly.New(log.With("reassembler", "video")),
		audioReasm: reassembly.New(log.With("reassembler", "audio")),
		dec:        codec.NewDecoder(vcodec, log.With("component", "decoder")),
		buf:        delay.New(cfg.BufferMs),
	}
}

// Stats returns the live counters for this receiver run.
func (r *Receiver) Stats() *stats.Receiver { return r.stats }

// Run opens the UDP listener and blocks until ctx is cancelled or the
// socket fails.
func (r *Receiver) Run(ctx context.Context) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: r.cfg.Port})
	if err != nil {
		return fmt.Errorf("receiver: listen on port %d: %w", r.cfg.Port, err)
	}
	r.conn = conn
	defer conn.Close()
	defer r.dec.Close()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		conn.Close()
		return nil
	})
	if r.buf.Enabled() {
		g.Go(func() error { r.runOutputPump(ctx); return nil })
	}
	g.Go(func() error { r.logStatsLoop(ctx); return nil })
	g.Go(func() error { return r.receiveLoop(ctx) })
	return g.Wait()
}

// receiveLoop is the network-receive thread: it blocks on the UDP socket
// and routes each datagram until ctx is cancelled.
func (r *Receiver) receiveLoop(ctx context.Context) error {
	readSize := r.cfg.ReadBufferBytes
	if readSize <= 0 {
		readSize = wire.DefaultMTU
	}
	buf := make([]byte, readSize)

	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("receiver: read: %w", err)
		}
		r.stats.DatagramsReceived.Add(1)
		r.handleDatagram(buf[:n])
	}
}

// logStatsLoop surfaces a counter snapshot at stats.LogInterval until ctx
// is cancelled.
func (r *Receiver) logStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(stats.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := r.stats.Snapshot()
			r.log.Info("receiver: stats",
				"datagrams_received", snap.DatagramsReceived,
				"protocol_errors", snap.ProtocolErrors,
				"video_frames_out", snap.VideoFramesOut,
				"audio_frames_out", snap.AudioFramesOut,
				"reassembly_drops", snap.ReassemblyDrops,
				"decode_errors", snap.DecodeErrors)
		}
	}
}

// handleDatagram decodes one datagram's header, routes its payload to the
// matching reassembler, and processes any completed frame.
func (r *Receiver) handleDatagram(data []byte) {
	h, payload, err := wire.SplitDatagram(data)
	if err != nil {
		r.stats.ProtocolErrors.Add(1)
		r.log.Warn("receiver: malformed datagram", "error", err)
		return
	}

	var frame reassembly.Frame
	var ok bool
	switch h.MediaType {
	case wire.MediaTypeVideo:
		frame, ok = r.videoReasm.Admit(h, payload)
	case wire.MediaTypeAudio:
		frame, ok = r.audioReasm.Admit(h, payload)
	default:
		r.stats.ProtocolErrors.Add(1)
		r.log.Warn("receiver: unknown media type", "media_type", h.MediaType)
		return
	}
	r.syncReassemblyDrops()
	if !ok {
		return
	}

	if h.MediaType == wire.MediaTypeVideo {
		r.handleVideoFrame(frame)
	} else {
		r.handleAudioFrame(frame)
	}
}

// handleVideoFrame decodes a completed video frame and forwards the
// decoded pixel buffer to output or the delay buffer, handling
// resolution changes along the way.
func (r *Receiver) handleVideoFrame(frame reassembly.Frame) {
	pix, ok, err := r.dec.Decode(frame.Payload, int64(frame.Timestamp))
	if err != nil {
		r.stats.DecodeErrors.Add(1)
		r.log.Warn("receiver: decode failed", "error", err)
		return
	}
	if !ok {
		return
	}
	r.stats.VideoFramesOut.Add(1)

	width, height := pix.Width(), pix.Height()
	if info, ok := r.dec.SPSInfo(); ok {
		width, height = info.Width, info.Height
	}
	r.maybeStartOutput(width, height)
	r.maybeAnnounceResolution(width, height)

	if r.buf.Enabled() {
		r.buf.EnqueueVideo(pix, int64(frame.Timestamp))
		return
	}
	if err := r.out.SendVideo(pix, int64(frame.Timestamp)); err != nil {
		r.log.Warn("receiver: send video failed", "error", err)
	}
}

// handleAudioFrame bypasses the decoder and forwards the raw PCM payload
// to output or the delay buffer.
func (r *Receiver) handleAudioFrame(frame reassembly.Frame) {
	r.stats.AudioFramesOut.Add(1)
	r.maybeStartOutput(r.lastWidth, r.lastHeight)

	if r.buf.Enabled() {
		r.buf.EnqueueAudio(frame.Payload, int64(frame.Timestamp), frame.SampleRate, frame.Channels)
		return
	}
	if err := r.out.SendAudio(frame.Payload, int64(frame.Timestamp), int(frame.SampleRate), int(frame.Channels)); err != nil {
		r.log.Warn("receiver: send audio failed", "error", err)
	}
}

// syncReassemblyDrops copies both reassemblers' cumulative drop counts
// into the shared stats counter. Called only from the receive-loop
// goroutine, right after Admit, since Reassembler.Stats is not safe to
// call concurrently with Admit from another goroutine.
func (r *Receiver) syncReassemblyDrops() {
	videoDropped, _ := r.videoReasm.Stats()
	audioDropped, _ := r.audioReasm.Stats()
	r.stats.ReassemblyDrops.Store(videoDropped + audioDropped)
}

// maybeStartOutput lazily starts SourceOutput on the first frame of any
// kind, using the best resolution known so far.
func (r *Receiver) maybeStartOutput(width, height int) {
	if r.outputStarted {
		return
	}
	if err := r.out.Start(r.cfg.OutputName, width, height); err != nil {
		r.log.Error("receiver: start output failed", "error", err)
		return
	}
	r.outputStarted = true
	r.lastWidth, r.lastHeight = width, height
}

// maybeAnnounceResolution informs SourceOutput when the decoder reports a
// new width/height.
func (r *Receiver) maybeAnnounceResolution(width, height int) {
	if width == r.lastWidth && height == r.lastHeight {
		return
	}
	r.lastWidth, r.lastHeight = width, height
	if err := r.out.SetResolution(width, height); err != nil {
		r.log.Warn("receiver: set resolution failed", "error", err)
	}
}

// runOutputPump drains ready delay-buffer entries to SourceOutput at a
// fixed cadence, used only when the buffer is enabled.
func (r *Receiver) runOutputPump(ctx context.Context) {
	ticker := time.NewTicker(outputPumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, v := range r.buf.DequeueReadyVideo() {
				pix := &delayPixelBuffer{v}
				if err := r.out.SendVideo(pix, v.Timestamp); err != nil {
					r.log.Warn("receiver: buffered send video failed", "error", err)
				}
			}
			for _, a := range r.buf.DequeueReadyAudio() {
				if err := r.out.SendAudio(a.Payload, a.Timestamp, int(a.SampleRate), int(a.Channels)); err != nil {
					r.log.Warn("receiver: buffered send audio failed", "error", err)
				}
			}
		}
	}
}

// delayPixelBuffer adapts a delay.VideoEntry back to capture.PixelBuffer
// for the output pump's SendVideo call.
type delayPixelBuffer struct {
	e delay.VideoEntry
}

func (d *delayPixelBuffer) Width() int      { return d.e.Width }
func (d *delayPixelBuffer) Height() int     { return d.e.Height }
func (d *delayPixelBuffer) FourCC() string  { return d.e.FourCC }
func (d *delayPixelBuffer) PlaneCount() int { return len(d.e.Planes) }
func (d *delayPixelBuffer) Stride(i int) int { return d.e.Strides[i] }
func (d *delayPixelBuffer) Plane(i int) []byte { return d.e.Planes[i] }
