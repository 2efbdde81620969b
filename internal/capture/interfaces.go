// Package capture defines the capability interfaces that the bridge
// treats as external collaborators: source discovery and capture,
// source output/republishing, and the platform H.264 codec. The
// concrete per-platform implementations live outside this repository;
// internal/mockcap supplies a deterministic in-process fake for tests and
// the --mock CLI mode.
package capture

// PixelBuffer is the minimal contract a captured or decoded video frame
// must satisfy: enough to deep-copy it (internal/delay), hand it to the
// platform encoder, or hand it to SourceOutput. FourCC is metadata only;
// the codec and wire paths care only about pixel data.
type PixelBuffer interface {
	Width() int
	Height() int
	FourCC() string
	PlaneCount() int
	Stride(plane int) int
	Plane(plane int) []byte
}

// SourceDescriptor identifies one discoverable media source.
type SourceDescriptor struct {
	Name      string
	URN       string
	FourCC    string // nominal pixel format advertised by the source, e.g. "BGRA"
	FieldMode string // "progressive" or "interlaced", per the source's frame_format_type
}

// VideoCallback delivers one captured video frame. timestamp100ns is the
// capture timebase's signed timecode, reinterpreted bit-for-bit as
// unsigned on the wire (DESIGN.md open question 2).
type VideoCallback func(frame PixelBuffer, timestamp100ns int64, frameNumber uint64)

// AudioCallback delivers one captured planar PCM audio buffer.
type AudioCallback func(payload []byte, timestamp100ns int64, sampleRate int, channels int, samplesPerChannel int)

// DisconnectCallback fires when the source disconnects; err is nil for a
// clean stop requested by the caller.
type DisconnectCallback func(err error)

// SourceCapture is the capture-side capability: discover sources on the
// local discovery fabric, connect to one, and stream video/audio frames
// via callbacks until Stop is called.
type SourceCapture interface {
	Initialize() error
	Discover(timeoutSeconds int) ([]SourceDescriptor, error)
	Connect(desc SourceDescriptor) error
	StartCapture(onVideo VideoCallback, onAudio AudioCallback, onDisconnect DisconnectCallback) error
	Stop() error
}

// SourceOutput is the output-side capability: publish a named source that
// downstream consumers on the discovery fabric can subscribe to. name is
// the published source name; an empty name means the capability's own
// default.
type SourceOutput interface {
	Start(name string, initialWidth, initialHeight int) error
	SendVideo(frame PixelBuffer, timestamp100ns int64) error
	SendAudio(payload []byte, timestamp100ns int64, sampleRate int, channels int) error
	SetResolution(width, height int) error
	Stop() error
}

// EncoderParams configures a RawEncoder. A zero Width/Height means
// "auto": resolved from the first input frame before the underlying
// session is created. A zero FrameRateNum is not resolved; it reaches
// RawEncoder.Configure as zero.
type EncoderParams struct {
	Width            int
	Height           int
	BitrateBps       int
	KeyframeInterval int // frames
	FrameRateNum     int
	FrameRateDen     int
	LowLatency       bool
	Profile          string
}

// RawEncodedSample is one encoder output in the host codec's native,
// length-prefixed form, with parameter sets held out-of-band (retrieved
// via RawEncoder.ParameterSets).
type RawEncodedSample struct {
	Data       []byte // length-prefixed (AVCC) NAL units, no SPS/PPS inline
	IsKeyframe bool
}

// RawEncoder is the platform H.264 encoder session. internal/codec.Encoder
// wraps one of these to add Annex-B conversion, SPS/PPS inlining on
// keyframes, and keyframe-interval policy.
type RawEncoder interface {
	Configure(params EncoderParams) error
	Encode(frame PixelBuffer, timestamp int64, duration int64) (RawEncodedSample, error)
	ParameterSets() (sps, pps []byte)
	ForceKeyframe()
	Flush() ([]RawEncodedSample, error)
	Close() error
}

// RawDecoder is the platform H.264 decoder session, created once SPS and
// PPS are both known. internal/codec.Decoder owns NAL routing and session
// lifecycle on top of this.
type RawDecoder interface {
	Configure(sps, pps []byte) error
	Decode(avccSample []byte, timestamp int64) (PixelBuffer, error)
	Close() error
}

// VideoCodec is the platform codec capability: a factory for encoder and
// decoder sessions.
type VideoCodec interface {
	NewEncoder() RawEncoder
	NewDecoder() RawDecoder
}
