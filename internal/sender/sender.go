// Package sender implements the sender orchestrator (C5): it wires a
// capture.SourceCapture through the codec adapter and the wire protocol
// onto a UDP socket.
package sender

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ndibridge/ndibridge/internal/capture"
	"github.com/ndibridge/ndibridge/internal/codec"
	"github.com/ndibridge/ndibridge/internal/stats"
	"github.com/ndibridge/ndibridge/internal/wire"
)

// Config configures one sender orchestrator run.
type Config struct {
	Target           string // "host:port" destination for the UDP stream
	Bitrate          int    // bits per second, 0 means the encoder's default
	SourceName       string // exact/partial match; empty means auto or prompt
	ExcludePatterns  []string
	Auto             bool
	DiscoverTimeoutS int
	ReconnectDelay   time.Duration // 0 means spec default of 2s
	MTU              int           // 0 means wire.DefaultMTU

	// Prompt is where the interactive source picker reads a line from
	// when SourceName is empty and Auto is false. Defaults to os.Stdin.
	Prompt io.Reader
}

// defaultExcludes keeps a sender run on the same machine as a receiver
// from picking up the receiver's own republished source.
var defaultExcludes = []string{"bridge"}

// Sender runs the capture → encode → fragment → UDP pipeline for one
// source until its context is cancelled.
type Sender struct {
	cfg    Config
	log    *slog.Logger
	cap    capture.SourceCapture
	vcodec capture.VideoCodec
	stats  *stats.Sender

	seq  atomic.Uint32
	conn *net.UDPConn
	enc  *codec.Encoder
}

// New creates a Sender. cap and vcodec are the platform capture and codec
// capabilities (internal/mockcap supplies fakes for tests and --mock).
func New(cfg Config, cap capture.SourceCapture, vcodec capture.VideoCodec, log *slog.Logger) *Sender {
	if log == nil {
		log = slog.Default()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.MTU <= 0 {
		cfg.MTU = wire.DefaultMTU
	}
	if cfg.Prompt == nil {
		cfg.Prompt = os.Stdin
	}
	return &Sender{
		cfg:    cfg,
		log:    log,
		cap:    cap,
		vcodec: vcodec,
		stats:  &stats.Sender{},
	}
}

// Stats returns the live counters for this sender run.
func (s *Sender) Stats() *stats.Sender { return s.stats }

// Run selects a source, opens the destination socket, and streams until
// ctx is cancelled, reconnecting on disconnect.
func (s *Sender) Run(ctx context.Context) error {
	if err := s.cap.Initialize(); err != nil {
		return fmt.Errorf("sender: initialize capture: %w", err)
	}

	addr, err := net.ResolveUDPAddr("udp", s.cfg.Target)
	if err != nil {
		return fmt.Errorf("sender: resolve target %q: %w", s.cfg.Target, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("sender: dial %q: %w", s.cfg.Target, err)
	}
	s.conn = conn
	defer conn.Close()

	desc, err := s.selectSource(ctx)
	if err != nil {
		return err
	}
	s.log.Info("sender: selected source", "name", desc.Name, "urn", desc.URN)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.captureLoop(ctx, desc) })
	g.Go(func() error { s.logStatsLoop(ctx); return nil })
	return g.Wait()
}

// captureLoop runs capture sessions back to back, reconnecting with the
// configured delay after each disconnect, until ctx is cancelled.
func (s *Sender) captureLoop(ctx context.Context, desc capture.SourceDescriptor) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.runOnce(ctx, desc); err != nil {
			s.log.Error("sender: capture session ended with error", "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		s.stats.ReconnectAttempts.Add(1)
		s.log.Warn("sender: source disconnected, reconnecting", "delay", s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// logStatsLoop surfaces a counter snapshot at stats.LogInterval until ctx
// is cancelled.
func (s *Sender) logStatsLoop(ctx context.Context) {
	ticker := time.NewTicker(stats.LogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.stats.Snapshot()
			s.log.Info("sender: stats",
				"frames_captured", snap.FramesCaptured,
				"frames_encoded", snap.FramesEncoded,
				"encode_errors", snap.EncodeErrors,
				"datagrams_sent", snap.DatagramsSent,
				"send_errors", snap.SendErrors,
				"reconnects", snap.ReconnectAttempts)
		}
	}
}

// selectSource discovers candidate sources, applies exclusion filters,
// and picks one: exact/partial name match, first after filtering when
// --auto, or an interactive prompt otherwise.
func (s *Sender) selectSource(ctx context.Context) (capture.SourceDescriptor, error) {
	timeout := s.cfg.DiscoverTimeoutS
	if timeout <= 0 {
		timeout = 10
	}
	sources, err := s.cap.Discover(timeout)
	if err != nil {
		return capture.SourceDescriptor{}, fmt.Errorf("sender: discover sources: %w", err)
	}

	excludes := defaultExcludes
	if len(s.cfg.ExcludePatterns) > 0 {
		excludes = s.cfg.ExcludePatterns
	}
	var candidates []capture.SourceDescriptor
	for _, d := range sources {
		if matchesAny(d.Name, excludes) {
			continue
		}
		candidates = append(candidates, d)
	}
	if len(candidates) == 0 {
		return capture.SourceDescriptor{}, fmt.Errorf("sender: no sources found after exclusion filtering")
	}

	if s.cfg.SourceName != "" {
		needle := strings.ToLower(s.cfg.SourceName)
		for _, d := range candidates {
			if strings.Contains(strings.ToLower(d.Name), needle) {
				return d, nil
			}
		}
		return capture.SourceDescriptor{}, fmt.Errorf("sender: no source matching %q", s.cfg.SourceName)
	}

	if s.cfg.Auto {
		return candidates[0], nil
	}

	return s.promptForSource(candidates)
}

func (s *Sender) promptForSource(candidates []capture.SourceDescriptor) (capture.SourceDescriptor, error) {
	fmt.Fprintln(os.Stdout, "available sources:")
	for i, d := range candidates {
		fmt.Fprintf(os.Stdout, "  [%d] %s\n", i, d.Name)
	}
	fmt.Fprint(os.Stdout, "select source number: ")

	scanner := bufio.NewScanner(s.cfg.Prompt)
	if !scanner.Scan() {
		return capture.SourceDescriptor{}, fmt.Errorf("sender: no selection entered")
	}
	var idx int
	if _, err := fmt.Sscanf(strings.TrimSpace(scanner.Text()), "%d", &idx); err != nil {
		return capture.SourceDescriptor{}, fmt.Errorf("sender: invalid selection: %w", err)
	}
	if idx < 0 || idx >= len(candidates) {
		return capture.SourceDescriptor{}, fmt.Errorf("sender: selection %d out of range", idx)
	}
	return candidates[idx], nil
}

func matchesAny(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// runOnce connects to desc and streams until disconnect or ctx
// cancellation, returning once the capture session ends.
func (s *Sender) runOnce(ctx context.Context, desc capture.SourceDescriptor) error {
	if err := s.cap.Connect(desc); err != nil {
		return fmt.Errorf("sender: connect %q: %w", desc.Name, err)
	}

	s.enc = codec.NewEncoder(s.vcodec, s.log.With("component", "encoder"))
	if err := s.enc.Configure(capture.EncoderParams{
		BitrateBps:       s.cfg.Bitrate,
		KeyframeInterval: 60,
	}); err != nil {
		return fmt.Errorf("sender: configure encoder: %w", err)
	}
	defer s.enc.Close()

	done := make(chan error, 1)
	onDisconnect := func(err error) {
		done <- err
	}

	if err := s.cap.StartCapture(s.onVideo, s.onAudio, onDisconnect); err != nil {
		return fmt.Errorf("sender: start capture: %w", err)
	}

	select {
	case <-ctx.Done():
		s.cap.Stop()
		<-done
		s.flushEncoder()
		return nil
	case err := <-done:
		s.flushEncoder()
		return err
	}
}

// flushEncoder drains any access units the platform encoder is still
// holding once a capture session ends, so the last seconds of a
// disconnecting source aren't lost between sessions.
func (s *Sender) flushEncoder() {
	outs, err := s.enc.Flush()
	if err != nil {
		s.log.Warn("sender: flush encoder failed", "error", err)
		return
	}
	for _, out := range outs {
		flags := uint8(0)
		if out.IsKeyframe {
			flags |= wire.KeyframeFlag
		}
		s.send(wire.FrameFields{
			MediaType: wire.MediaTypeVideo,
			Flags:     flags,
			Timestamp: uint64(out.Timestamp),
		}, out.AnnexB)
	}
}

// onVideo is the capture.VideoCallback: encode the frame and fragment+send
// the result. frameNumber is unused by the wire protocol; the shared
// sequence counter (DESIGN.md open question 1) numbers frames instead.
func (s *Sender) onVideo(frame capture.PixelBuffer, timestamp100ns int64, frameNumber uint64) {
	s.stats.FramesCaptured.Add(1)

	out, err := s.enc.Encode(frame, timestamp100ns, 0)
	if err != nil {
		s.stats.EncodeErrors.Add(1)
		return
	}
	s.stats.FramesEncoded.Add(1)

	flags := uint8(0)
	if out.IsKeyframe {
		flags |= wire.KeyframeFlag
	}
	s.send(wire.FrameFields{
		MediaType: wire.MediaTypeVideo,
		Flags:     flags,
		Timestamp: uint64(out.Timestamp),
	}, out.AnnexB)
}

// onAudio is the capture.AudioCallback: audio bypasses the encoder and is
// fragmented directly.
func (s *Sender) onAudio(payload []byte, timestamp100ns int64, sampleRate int, channels int, samplesPerChannel int) {
	s.send(wire.FrameFields{
		MediaType:  wire.MediaTypeAudio,
		Timestamp:  uint64(timestamp100ns),
		SampleRate: uint32(sampleRate),
		Channels:   uint8(channels),
	}, payload)
}

// send numbers fields with the next shared sequence number, fragments the
// payload, and writes every resulting datagram to the destination socket.
func (s *Sender) send(fields wire.FrameFields, payload []byte) {
	fields.SequenceNumber = s.seq.Add(1)

	datagrams, err := wire.Fragment(fields, payload, wire.MaxPayloadV2(s.cfg.MTU))
	if err != nil {
		s.log.Error("sender: fragment failed", "error", err, "media_type", fields.MediaType)
		return
	}
	for _, dg := range datagrams {
		if _, err := s.conn.Write(dg); err != nil {
			s.stats.SendErrors.Add(1)
			s.log.Warn("sender: send failed", "error", err)
			continue
		}
		s.stats.DatagramsSent.Add(1)
	}
}
