package mockcap

import (
	"fmt"

	"github.com/ndibridge/ndibridge/internal/capture"
)

// fixedSPS and fixedPPS are syntactically-shaped (but not spec-compliant)
// parameter set NAL payloads: enough for the codec adapter's NAL-type
// routing and inline-prefixing logic to exercise real code paths without
// a real H.264 encoder.
var (
	fixedSPS = []byte{0x67, 0x42, 0xC0, 0x1E}
	fixedPPS = []byte{0x68, 0xCE, 0x38, 0x80}
)

// Codec is a capture.VideoCodec whose "encoder" wraps each input pixel
// buffer's raw bytes as a single slice NAL, and whose "decoder" unwraps
// that NAL back into a PixelBuffer of the configured dimensions. No
// actual H.264 compression happens; this exists purely to drive the
// wire/reassembly/codec-adapter pipeline end-to-end in tests and --mock
// mode.
type Codec struct{}

func (Codec) NewEncoder() capture.RawEncoder { return &rawEncoder{} }
func (Codec) NewDecoder() capture.RawDecoder { return &rawDecoder{} }

type rawEncoder struct {
	width, height int
	forced        bool
}

func (e *rawEncoder) Configure(p capture.EncoderParams) error {
	e.width, e.height = p.Width, p.Height
	return nil
}

func (e *rawEncoder) ForceKeyframe() { e.forced = true }

func (e *rawEncoder) ParameterSets() (sps, pps []byte) { return fixedSPS, fixedPPS }

func (e *rawEncoder) Encode(frame capture.PixelBuffer, timestamp, duration int64) (capture.RawEncodedSample, error) {
	isKey := e.forced
	e.forced = false

	nalType := byte(1) // NALTypeSlice
	if isKey {
		nalType = 5 // NALTypeIDR
	}

	plane := frame.Plane(0)
	payload := make([]byte, 0, 1+len(plane))
	payload = append(payload, nalType)
	payload = append(payload, plane...)

	var length [4]byte
	l := len(payload)
	length[0], length[1], length[2], length[3] = byte(l>>24), byte(l>>16), byte(l>>8), byte(l)
	data := append(length[:], payload...)

	return capture.RawEncodedSample{Data: data, IsKeyframe: isKey}, nil
}

func (e *rawEncoder) Flush() ([]capture.RawEncodedSample, error) { return nil, nil }
func (e *rawEncoder) Close() error                                { return nil }

type rawDecoder struct {
	width, height int
}

// Configure only validates that both parameter sets are present. The
// mock SPS carries no real bitstream, so Decode instead recovers the
// resolution from the slice payload's byte count, assuming 4 bytes per
// BGRA pixel.
func (d *rawDecoder) Configure(sps, pps []byte) error {
	if len(sps) == 0 || len(pps) == 0 {
		return fmt.Errorf("mockcap: decoder requires both SPS and PPS")
	}
	return nil
}

func (d *rawDecoder) Decode(avcc []byte, timestamp int64) (capture.PixelBuffer, error) {
	nalus := splitAVCCLocal(avcc)
	if len(nalus) == 0 {
		return nil, fmt.Errorf("mockcap: no NAL units in decode input")
	}
	// Each slice NAL is [type byte][raw BGRA bytes]; the mock encoder never
	// changes resolution mid-stream, so the decoder infers the dimensions
	// once, from the first decoded frame, and reuses them afterwards.
	payload := nalus[0][1:]
	if d.width == 0 {
		// First frame: match the byte count against common resolutions.
		// Real platform decoders recover this from SPS; the mock keeps it
		// simple since its SPS carries no real dimensions.
		d.width, d.height = inferDimensions(len(payload))
	}
	return &PixelBuffer{W: d.width, H: d.height, Data: payload}, nil
}

func (d *rawDecoder) Close() error { return nil }

// inferDimensions guesses width/height for a BGRA buffer of n bytes,
// assuming one of a small set of common resolutions used by tests and
// --mock mode. Falls back to a strip one pixel high if nothing matches
// exactly.
func inferDimensions(n int) (int, int) {
	pixels := n / 4
	common := [][2]int{{1920, 1080}, {1280, 720}, {640, 480}, {320, 240}, {160, 90}, {4, 4}, {1, 1}}
	for _, wh := range common {
		if wh[0]*wh[1] == pixels {
			return wh[0], wh[1]
		}
	}
	if pixels == 0 {
		return 0, 0
	}
	return pixels, 1
}

func splitAVCCLocal(avcc []byte) [][]byte {
	var out [][]byte
	i := 0
	for i+4 <= len(avcc) {
		length := int(avcc[i])<<24 | int(avcc[i+1])<<16 | int(avcc[i+2])<<8 | int(avcc[i+3])
		i += 4
		end := i + length
		if end > len(avcc) {
			end = len(avcc)
		}
		out = append(out, avcc[i:end])
		i = end
	}
	return out
}
