package codec

import (
	"fmt"
	"log/slog"

	"github.com/ndibridge/ndibridge/internal/capture"
)

// EncoderOutput is one encoded access unit, ready for fragmentation onto
// the wire.
type EncoderOutput struct {
	AnnexB     []byte
	IsKeyframe bool
	Timestamp  int64
	Duration   int64
}

// Encoder hides the platform RawEncoder behind an Annex-B contract: it
// forces a keyframe on configure and every KeyframeInterval frames, and
// prefixes every keyframe's payload with SPS and PPS NAL units (each
// preceded by a 4-byte start code).
type Encoder struct {
	log    *slog.Logger
	raw    capture.RawEncoder
	params capture.EncoderParams

	configured   bool
	frameCount   uint64
	forceNextKey bool
}

// NewEncoder creates an Encoder bound to a freshly created RawEncoder
// session from codec.
func NewEncoder(codec capture.VideoCodec, log *slog.Logger) *Encoder {
	if log == nil {
		log = slog.Default()
	}
	return &Encoder{log: log, raw: codec.NewEncoder()}
}

// Configure sets encoding parameters. Auto (zero) Width/Height fields are
// resolved from the first call to Encode; a zero FrameRateNum is passed to
// the platform encoder unchanged. Configure itself
// forces the first encoded frame to be a keyframe.
func (e *Encoder) Configure(params capture.EncoderParams) error {
	if params.KeyframeInterval <= 0 {
		params.KeyframeInterval = 60
	}
	e.params = params
	e.forceNextKey = true
	e.frameCount = 0
	// If both dimensions are already known, configure the session now;
	// otherwise Encode resolves them from the first frame.
	if params.Width > 0 && params.Height > 0 {
		if err := e.raw.Configure(params); err != nil {
			return fmt.Errorf("codec: configure encoder: %w", err)
		}
		e.configured = true
	}
	return nil
}

// ForceKeyframe requests that the next call to Encode produce a keyframe.
func (e *Encoder) ForceKeyframe() {
	e.forceNextKey = true
	e.raw.ForceKeyframe()
}

// Encode advances the frame counter, applies the keyframe-interval
// policy, and returns one encoded access unit in Annex-B form with
// SPS/PPS inlined on keyframes.
func (e *Encoder) Encode(frame capture.PixelBuffer, timestamp int64, duration int64) (EncoderOutput, error) {
	if !e.configured {
		p := e.params
		p.Width, p.Height = frame.Width(), frame.Height()
		if err := e.raw.Configure(p); err != nil {
			return EncoderOutput{}, fmt.Errorf("codec: configure encoder from first frame: %w", err)
		}
		e.configured = true
	}

	forceKey := e.forceNextKey || e.frameCount == 0 || e.frameCount%uint64(e.params.KeyframeInterval) == 0
	if forceKey {
		e.raw.ForceKeyframe()
		e.forceNextKey = false
	}

	sample, err := e.raw.Encode(frame, timestamp, duration)
	if err != nil {
		e.log.Warn("codec: encode failed, dropping frame", "error", err, "frame", e.frameCount)
		return EncoderOutput{}, err
	}
	e.frameCount++

	nalus := splitAVCC(sample.Data)
	var payload []byte
	if sample.IsKeyframe {
		sps, pps := e.raw.ParameterSets()
		if sps != nil {
			payload = WriteAnnexB(payload, sps)
		}
		if pps != nil {
			payload = WriteAnnexB(payload, pps)
		}
	}
	for _, n := range nalus {
		payload = WriteAnnexB(payload, n)
	}

	return EncoderOutput{
		AnnexB:     payload,
		IsKeyframe: sample.IsKeyframe,
		Timestamp:  timestamp,
		Duration:   duration,
	}, nil
}

// Flush drains any frames buffered inside the platform encoder.
func (e *Encoder) Flush() ([]EncoderOutput, error) {
	samples, err := e.raw.Flush()
	if err != nil {
		return nil, fmt.Errorf("codec: flush encoder: %w", err)
	}
	out := make([]EncoderOutput, 0, len(samples))
	for _, sample := range samples {
		var payload []byte
		if sample.IsKeyframe {
			sps, pps := e.raw.ParameterSets()
			if sps != nil {
				payload = WriteAnnexB(payload, sps)
			}
			if pps != nil {
				payload = WriteAnnexB(payload, pps)
			}
		}
		for _, n := range splitAVCC(sample.Data) {
			payload = WriteAnnexB(payload, n)
		}
		out = append(out, EncoderOutput{AnnexB: payload, IsKeyframe: sample.IsKeyframe})
	}
	return out, nil
}

// Close releases the underlying platform encoder session.
func (e *Encoder) Close() error {
	return e.raw.Close()
}

// splitAVCC walks length-prefixed data and returns each NAL payload.
func splitAVCC(avcc []byte) [][]byte {
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
