package receiver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ndibridge/ndibridge/internal/capture"
	"github.com/ndibridge/ndibridge/internal/codec"
	"github.com/ndibridge/ndibridge/internal/mockcap"
	"github.com/ndibridge/ndibridge/internal/wire"
)

// sendFrame fragments and writes one frame's worth of datagrams to addr,
// mirroring what internal/sender's send does on the wire.
func sendFrame(t *testing.T, conn *net.UDPConn, addr *net.UDPAddr, fields wire.FrameFields, payload []byte) {
	t.Helper()
	datagrams, err := wire.Fragment(fields, payload, wire.MaxPayloadV2(wire.DefaultMTU))
	if err != nil {
		t.Fatalf("wire.Fragment: %v", err)
	}
	for _, dg := range datagrams {
		if _, err := conn.Write(dg); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
}

func TestReceiverSyncsReassemblyDrops(t *testing.T) {
	t.Parallel()

	out := mockcap.NewOutput()
	r := New(Config{}, mockcap.Codec{}, out, nil)

	audioFields := func(seq uint32) wire.FrameFields {
		return wire.FrameFields{MediaType: wire.MediaTypeAudio, SequenceNumber: seq, SampleRate: 48000, Channels: 2}
	}

	// Sequence 1 needs 2 fragments (32 bytes, 16-byte max payload); only
	// the first ever arrives before sequence 2 starts, so Admit drops the
	// partial slot.
	seq1, err := wire.Fragment(audioFields(1), make([]byte, 32), 16)
	if err != nil {
		t.Fatalf("wire.Fragment seq1: %v", err)
	}
	r.handleDatagram(seq1[0])

	if got := r.stats.Snapshot().ReassemblyDrops; got != 0 {
		t.Fatalf("expected no drops yet, got %d", got)
	}

	seq2, err := wire.Fragment(audioFields(2), make([]byte, 8), 16)
	if err != nil {
		t.Fatalf("wire.Fragment seq2: %v", err)
	}
	for _, dg := range seq2 {
		r.handleDatagram(dg)
	}

	if got := r.stats.Snapshot().ReassemblyDrops; got != 1 {
		t.Fatalf("expected 1 reassembly drop after sequence change, got %d", got)
	}
}

func TestReceiverLoopbackAudioAndVideo(t *testing.T) {
	t.Parallel()

	const port = 15990
	out := mockcap.NewOutput()
	r := New(Config{Port: port}, mockcap.Codec{}, out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- r.Run(ctx) }()
	time.Sleep(50 * time.Millisecond) // let the listener bind

	clientConn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer clientConn.Close()
	localAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}

	pix := mockcap.NewPixelBuffer(4, 4, 0)
	enc := codec.NewEncoder(mockcap.Codec{}, nil)
	if err := enc.Configure(capture.EncoderParams{Width: 4, Height: 4, KeyframeInterval: 60}); err != nil {
		t.Fatalf("configure encoder: %v", err)
	}
	out1, err := enc.Encode(pix, 1000, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !out1.IsKeyframe {
		t.Fatal("expected first encoded frame to be a keyframe")
	}

	sendFrame(t, clientConn, localAddr, wire.FrameFields{
		MediaType: wire.MediaTypeVideo,
		Flags:     wire.KeyframeFlag,
		Timestamp: 1000,
	}, out1.AnnexB)

	audioPayload := make([]byte, 64)
	sendFrame(t, clientConn, localAddr, wire.FrameFields{
		MediaType:  wire.MediaTypeAudio,
		Timestamp:  1000,
		SampleRate: 48000,
		Channels:   2,
	}, audioPayload)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(out.AudioCalls()) > 0 && len(out.VideoCalls()) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := out.VideoCalls(); len(got) != 1 {
		t.Fatalf("expected 1 video call, got %d", len(got))
	} else if got[0].Width != 4 || got[0].Height != 4 {
		t.Fatalf("expected a 4x4 decoded frame, got %dx%d", got[0].Width, got[0].Height)
	}

	if got := out.AudioCalls(); len(got) != 1 {
		t.Fatalf("expected 1 audio call, got %d", len(got))
	} else if got[0].Len != len(audioPayload) {
		t.Fatalf("expected audio payload length %d, got %d", len(audioPayload), got[0].Len)
	}

	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("Run: %v", err)
	}
}
