// Package codec implements the H.264 codec adapter: Annex-B NAL scanning,
// SPS/PPS lifecycle management, Annex-B <-> length-prefixed conversion,
// and the keyframe-interval policy layered on top of the platform
// VideoCodec capability (internal/capture).
package codec

// H.264 NAL unit type constants (ITU-T H.264 Table 7-1), the low 5 bits
// of the first byte following a start code.
const (
	NALTypeSlice   = 1
	NALTypeIDR     = 5
	NALTypeSEI     = 6
	NALTypeSPS     = 7
	NALTypePPS     = 8
	NALTypeAUD     = 9
)

// NALUnit is one parsed Annex-B NAL unit: its type and its payload bytes,
// not including the start code.
type NALUnit struct {
	Type    int
	Payload []byte
}

// IsSPS, IsPPS, IsKeyframe classify a NAL type for routing purposes.
func IsSPS(t int) bool       { return t == NALTypeSPS }
func IsPPS(t int) bool       { return t == NALTypePPS }
func IsKeyframe(t int) bool  { return t == NALTypeIDR }
func IsSlice(t int) bool     { return t == NALTypeIDR || t == NALTypeSlice }

// ParseAnnexB scans data for NAL units delimited by 3-byte (00 00 01) or
// 4-byte (00 00 00 01) start codes: a 4-byte start code is a 3-byte start
// code preceded by a zero byte, and the longer match is preferred
// whenever both would fit. Unknown NAL types are included in the
// result, not dropped.
func ParseAnnexB(data []byte) []NALUnit {
	starts := findStartCodes(data)
	if len(starts) == 0 {
		return nil
	}

	units := make([]NALUnit, 0, len(starts))
	for i, s := range starts {
		nalStart := s.offset + s.length
		var nalEnd int
		if i+1 < len(starts) {
			nalEnd = starts[i+1].offset
		} else {
			nalEnd = len(data)
		}
		if nalStart >= nalEnd {
			continue
		}
		payload := data[nalStart:nalEnd]
		units = append(units, NALUnit{
			Type:    int(payload[0] & 0x1F),
			Payload: payload,
		})
	}
	return units
}

type startCode struct {
	offset int
	length int // 3 or 4
}

// findStartCodes locates every start code in data, preferring the 4-byte
// form whenever a 3-byte match at position i is itself preceded by a
// zero byte at i-1 (i.e. the bytes at i-1..i+2 are 00 00 00 01).
func findStartCodes(data []byte) []startCode {
	var out []startCode
	for i := 0; i+3 <= len(data); i++ {
		if data[i] == 0x00 && data[i+1] == 0x00 && data[i+2] == 0x01 {
			if i > 0 && data[i-1] == 0x00 {
				out = append(out, startCode{offset: i - 1, length: 4})
			} else {
				out = append(out, startCode{offset: i, length: 3})
			}
			i += 2 // skip past this start code's tail; loop increments past it
		}
	}
	return out
}

// StartCode4 is the 4-byte start code used to prefix every SPS/PPS NAL
// unit on keyframes.
var StartCode4 = []byte{0x00, 0x00, 0x00, 0x01}

// WriteAnnexB appends one NAL unit (with a 4-byte start code) to dst and
// returns the extended slice.
func WriteAnnexB(dst []byte, nalPayload []byte) []byte {
	dst = append(dst, StartCode4...)
	dst = append(dst, nalPayload...)
	return dst
}

// AVCCToAnnexB converts length-prefixed (4-byte big-endian length + NAL
// payload, repeated) data, the form the host codec typically produces
// internally, into an Annex-B elementary stream using 4-byte start codes.
func AVCCToAnnexB(avcc []byte) []byte {
	var out []byte
	i := 0
	for i+4 <= len(avcc) {
		length := int(avcc[i])<<24 | int(avcc[i+1])<<16 | int(avcc[i+2])<<8 | int(avcc[i+3])
		i += 4
		end := i + length
		if end > len(avcc) {
			end = len(avcc)
		}
		out = WriteAnnexB(out, avcc[i:end])
		i = end
	}
	return out
}

// AnnexBToAVCC converts one or more Annex-B NAL units into length-prefixed
// form (4-byte big-endian length + payload, repeated), the form most
// platform codecs expect as decoder input.
func AnnexBToAVCC(nalus []NALUnit) []byte {
	out := make([]byte, 0)
	for _, n := range nalus {
		var length [4]byte
		l := len(n.Payload)
		length[0] = byte(l >> 24)
		length[1] = byte(l >> 16)
		length[2] = byte(l >> 8)
		length[3] = byte(l)
		out = append(out, length[:]...)
		out = append(out, n.Payload...)
	}
	return out
}
