package codec

import (
	"testing"

	"github.com/ndibridge/ndibridge/internal/capture"
)

// fakePixelBuffer is a minimal single-plane capture.PixelBuffer for tests.
type fakePixelBuffer struct {
	w, h int
	data []byte
}

func (f *fakePixelBuffer) Width() int         { return f.w }
func (f *fakePixelBuffer) Height() int        { return f.h }
func (f *fakePixelBuffer) FourCC() string     { return "BGRA" }
func (f *fakePixelBuffer) PlaneCount() int    { return 1 }
func (f *fakePixelBuffer) Stride(int) int     { return f.w * 4 }
func (f *fakePixelBuffer) Plane(int) []byte   { return f.data }

// fakeRawEncoder produces one slice NAL per call, with a fixed SPS/PPS: an
// IDR slice marked as a keyframe when ForceKeyframe was called since the
// last Encode, a P-frame slice otherwise. It never splits into multiple NALs.
type fakeRawEncoder struct {
	forced bool
	params capture.EncoderParams
	calls  int
}

func (e *fakeRawEncoder) Configure(p capture.EncoderParams) error { e.params = p; return nil }
func (e *fakeRawEncoder) ForceKeyframe()                          { e.forced = true }
func (e *fakeRawEncoder) ParameterSets() (sps, pps []byte) {
	return []byte{0x67, 0x01}, []byte{0x68, 0x02}
}
func (e *fakeRawEncoder) Encode(frame capture.PixelBuffer, ts, dur int64) (capture.RawEncodedSample, error) {
	e.calls++
	isKey := e.forced
	e.forced = false
	nalType := byte(NALTypeSlice)
	if isKey {
		nalType = byte(NALTypeIDR)
	}
	payload := []byte{nalType, 0xAB, 0xCD}
	length := []byte{0, 0, 0, byte(len(payload))}
	data := append(length, payload...)
	return capture.RawEncodedSample{Data: data, IsKeyframe: isKey}, nil
}
func (e *fakeRawEncoder) Flush() ([]capture.RawEncodedSample, error) { return nil, nil }
func (e *fakeRawEncoder) Close() error                               { return nil }

type fakeCodec struct {
	enc *fakeRawEncoder
	dec *fakeRawDecoder
}

func (c *fakeCodec) NewEncoder() capture.RawEncoder { return c.enc }
func (c *fakeCodec) NewDecoder() capture.RawDecoder { return c.dec }

type fakeRawDecoder struct {
	configured   bool
	closed       bool
	decodeCalls  int
	failNext     bool
}

func (d *fakeRawDecoder) Configure(sps, pps []byte) error { d.configured = true; return nil }
func (d *fakeRawDecoder) Decode(avcc []byte, ts int64) (capture.PixelBuffer, error) {
	d.decodeCalls++
	return &fakePixelBuffer{w: 1920, h: 1080}, nil
}
func (d *fakeRawDecoder) Close() error { d.closed = true; return nil }

func TestEncoderKeyframeEveryInterval(t *testing.T) {
	t.Parallel()
	enc := &fakeRawEncoder{}
	e := NewEncoder(&fakeCodec{enc: enc}, nil)
	if err := e.Configure(capture.EncoderParams{Width: 1920, Height: 1080, KeyframeInterval: 3}); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	frame := &fakePixelBuffer{w: 1920, h: 1080}
	var keyframes []bool
	for i := 0; i < 7; i++ {
		out, err := e.Encode(frame, int64(i), 0)
		if err != nil {
			t.Fatalf("Encode %d: %v", i, err)
		}
		keyframes = append(keyframes, out.IsKeyframe)
		if out.IsKeyframe {
			units := ParseAnnexB(out.AnnexB)
			if len(units) < 3 || !IsSPS(units[0].Type) || !IsPPS(units[1].Type) {
				t.Fatalf("keyframe %d missing inline SPS/PPS: %+v", i, units)
			}
		}
	}

	// Frame 0 (first) and frame 3 (every 3rd) must be keyframes.
	if !keyframes[0] {
		t.Error("expected first frame to be a keyframe")
	}
	if !keyframes[3] {
		t.Error("expected frame 3 to be a keyframe (interval=3)")
	}
	if keyframes[1] || keyframes[2] {
		t.Error("expected frames 1,2 to not be keyframes")
	}
}

func TestEncoderForceKeyframe(t *testing.T) {
	t.Parallel()
	enc := &fakeRawEncoder{}
	e := NewEncoder(&fakeCodec{enc: enc}, nil)
	if err := e.Configure(capture.EncoderParams{Width: 640, Height: 480, KeyframeInterval: 1000}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	frame := &fakePixelBuffer{w: 640, h: 480}

	out, _ := e.Encode(frame, 0, 0) // first frame always a keyframe
	if !out.IsKeyframe {
		t.Fatal("expected first encode to be a keyframe")
	}
	out, _ = e.Encode(frame, 1, 0)
	if out.IsKeyframe {
		t.Fatal("expected second encode to not be a keyframe")
	}

	e.ForceKeyframe()
	out, _ = e.Encode(frame, 2, 0)
	if !out.IsKeyframe {
		t.Fatal("expected forced keyframe on third encode")
	}
}

func TestEncoderAutoResolution(t *testing.T) {
	t.Parallel()
	enc := &fakeRawEncoder{}
	e := NewEncoder(&fakeCodec{enc: enc}, nil)
	if err := e.Configure(capture.EncoderParams{KeyframeInterval: 30}); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	frame := &fakePixelBuffer{w: 1280, h: 720}
	if _, err := e.Encode(frame, 0, 0); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if enc.params.Width != 1280 || enc.params.Height != 720 {
		t.Fatalf("expected auto resolution resolved from first frame, got %dx%d", enc.params.Width, enc.params.Height)
	}
}

func TestDecoderWaitsForSPSAndPPS(t *testing.T) {
	t.Parallel()
	dec := &fakeRawDecoder{}
	d := NewDecoder(&fakeCodec{dec: dec}, nil)

	idrOnly := WriteAnnexB(nil, []byte{byte(NALTypeIDR), 0x01})
	if _, ok, err := d.Decode(idrOnly, 0); ok || err != nil {
		t.Fatalf("expected no decode before SPS/PPS seen, ok=%v err=%v", ok, err)
	}

	sps := WriteAnnexB(nil, []byte{byte(NALTypeSPS), 0x42})
	pps := WriteAnnexB(nil, []byte{byte(NALTypePPS), 0x43})
	idr := WriteAnnexB(nil, []byte{byte(NALTypeIDR), 0x44})
	payload := append(append(sps, pps...), idr...)

	pix, ok, err := d.Decode(payload, 0)
	if err != nil || !ok {
		t.Fatalf("expected successful decode once SPS+PPS known, ok=%v err=%v", ok, err)
	}
	if pix.Width() != 1920 {
		t.Fatalf("unexpected decoded width %d", pix.Width())
	}
	if !dec.configured {
		t.Fatal("expected decoder session to be configured")
	}
}

func TestDecoderReportsSPSInfo(t *testing.T) {
	t.Parallel()
	dec := &fakeRawDecoder{}
	d := NewDecoder(&fakeCodec{dec: dec}, nil)

	if _, ok := d.SPSInfo(); ok {
		t.Fatal("expected no SPSInfo before any SPS seen")
	}

	sps := WriteAnnexB(nil, []byte{0x67, 0x42, 0x00, 0x1E, 0xDC, 0x42, 0x40}) // see sps_test.go: 64x64, profile 66, level 30
	pps := WriteAnnexB(nil, []byte{byte(NALTypePPS), 0x01})
	idr := WriteAnnexB(nil, []byte{byte(NALTypeIDR), 0x01})
	payload := append(append(sps, pps...), idr...)

	if _, ok, err := d.Decode(payload, 0); err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}

	info, ok := d.SPSInfo()
	if !ok {
		t.Fatal("expected SPSInfo to be populated after a valid SPS")
	}
	if info.Width != 64 || info.Height != 64 {
		t.Fatalf("expected 64x64, got %dx%d", info.Width, info.Height)
	}
}

func TestDecoderRebuildsSessionOnParameterChange(t *testing.T) {
	t.Parallel()
	dec1 := &fakeRawDecoder{}

	sps1 := WriteAnnexB(nil, []byte{byte(NALTypeSPS), 0x01})
	pps1 := WriteAnnexB(nil, []byte{byte(NALTypePPS), 0x01})
	idr := WriteAnnexB(nil, []byte{byte(NALTypeIDR), 0x01})

	fc := &fakeCodec{dec: dec1}
	d := NewDecoder(fc, nil)

	if _, ok, err := d.Decode(append(append(sps1, pps1...), idr...), 0); !ok || err != nil {
		t.Fatalf("initial decode failed: ok=%v err=%v", ok, err)
	}

	dec2 := &fakeRawDecoder{}
	fc.dec = dec2

	sps2 := WriteAnnexB(nil, []byte{byte(NALTypeSPS), 0x99}) // different SPS bytes
	if _, ok, err := d.Decode(append(sps2, idr...), 1); ok {
		// SPS changed but PPS unseen in this call is fine since PPS unchanged from before;
		// the rebuild happens, new decoder needs Configure with the retained PPS.
		_ = ok
		_ = err
	}

	if !dec1.closed {
		t.Fatal("expected stale decoder session to be closed on parameter change")
	}
}
