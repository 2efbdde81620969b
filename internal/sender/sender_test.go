package sender

import (
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ndibridge/ndibridge/internal/capture"
	"github.com/ndibridge/ndibridge/internal/codec"
	"github.com/ndibridge/ndibridge/internal/stats"
)

func testSources() []capture.SourceDescriptor {
	return []capture.SourceDescriptor{
		{Name: "Studio-A"},
		{Name: "Studio-B"},
		{Name: "Bridge-Output"},
	}
}

func TestSelectSourceExcludesBridgeByDefault(t *testing.T) {
	t.Parallel()

	candidates := filterExcluded(testSources(), defaultExcludes)
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates after default exclusion, got %d", len(candidates))
	}
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Name), "bridge") {
			t.Fatalf("expected Bridge-Output to be excluded, found %q", c.Name)
		}
	}
}

func TestSelectSourceByPartialName(t *testing.T) {
	t.Parallel()

	s := &Sender{cfg: Config{SourceName: "dio-b"}, log: slog.Default(), cap: fakeCapture{sources: testSources()}}
	desc, err := s.selectSource(nil)
	if err != nil {
		t.Fatalf("selectSource: %v", err)
	}
	if desc.Name != "Studio-B" {
		t.Fatalf("expected Studio-B, got %q", desc.Name)
	}
}

func TestSelectSourceAutoPicksFirstAfterFiltering(t *testing.T) {
	t.Parallel()

	s := &Sender{cfg: Config{Auto: true}, log: slog.Default(), cap: fakeCapture{sources: testSources()}}
	desc, err := s.selectSource(nil)
	if err != nil {
		t.Fatalf("selectSource: %v", err)
	}
	if desc.Name != "Studio-A" {
		t.Fatalf("expected Studio-A (first after excluding Bridge-Output), got %q", desc.Name)
	}
}

func TestSelectSourceNoMatchErrors(t *testing.T) {
	t.Parallel()

	s := &Sender{cfg: Config{SourceName: "nonexistent"}, log: slog.Default(), cap: fakeCapture{sources: testSources()}}
	if _, err := s.selectSource(nil); err == nil {
		t.Fatal("expected error for unmatched source name")
	}
}

// filterExcluded mirrors the exclusion step of selectSource for a
// standalone assertion against defaultExcludes.
func filterExcluded(sources []capture.SourceDescriptor, patterns []string) []capture.SourceDescriptor {
	var out []capture.SourceDescriptor
	for _, d := range sources {
		if !matchesAny(d.Name, patterns) {
			out = append(out, d)
		}
	}
	return out
}

type fakeCapture struct {
	sources []capture.SourceDescriptor
}

func (f fakeCapture) Initialize() error { return nil }
func (f fakeCapture) Discover(int) ([]capture.SourceDescriptor, error) { return f.sources, nil }
func (f fakeCapture) Connect(capture.SourceDescriptor) error           { return nil }
func (f fakeCapture) StartCapture(capture.VideoCallback, capture.AudioCallback, capture.DisconnectCallback) error {
	return nil
}
func (f fakeCapture) Stop() error { return nil }

func TestFlushEncoderSendsDrainedOutput(t *testing.T) {
	t.Parallel()

	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer listener.Close()

	conn, err := net.DialUDP("udp", nil, listener.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("DialUDP: %v", err)
	}
	defer conn.Close()

	s := &Sender{
		cfg:   Config{MTU: 1400},
		log:   slog.Default(),
		stats: &stats.Sender{},
		conn:  conn,
	}
	s.enc = codec.NewEncoder(flushingCodec{}, s.log)
	if err := s.enc.Configure(capture.EncoderParams{Width: 4, Height: 4, KeyframeInterval: 60}); err != nil {
		t.Fatalf("configure encoder: %v", err)
	}

	s.flushEncoder()

	listener.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 2000)
	n, _, err := listener.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected a flushed datagram, got error: %v", err)
	}
	if n == 0 {
		t.Fatal("expected a non-empty flushed datagram")
	}
}

// flushingCodec is a capture.VideoCodec whose RawEncoder buffers nothing
// on Encode but returns one sample from Flush, exercising the drain path
// without depending on internal/mockcap's encoder (which never buffers).
type flushingCodec struct{}

func (flushingCodec) NewEncoder() capture.RawEncoder { return &flushingEncoder{} }
func (flushingCodec) NewDecoder() capture.RawDecoder { return nil }

type flushingEncoder struct{}

func (e *flushingEncoder) Configure(capture.EncoderParams) error { return nil }
func (e *flushingEncoder) ForceKeyframe()                        {}
func (e *flushingEncoder) ParameterSets() (sps, pps []byte)       { return nil, nil }
func (e *flushingEncoder) Encode(capture.PixelBuffer, int64, int64) (capture.RawEncodedSample, error) {
	return capture.RawEncodedSample{}, nil
}
func (e *flushingEncoder) Flush() ([]capture.RawEncodedSample, error) {
	nalu := []byte{0x01, 0xAA, 0xBB, 0xCC}
	var length [4]byte
	l := len(nalu)
	length[0], length[1], length[2], length[3] = byte(l>>24), byte(l>>16), byte(l>>8), byte(l)
	data := append(length[:], nalu...)
	return []capture.RawEncodedSample{{Data: data, IsKeyframe: true}}, nil
}
func (e *flushingEncoder) Close() error { return nil }
