package wire

import "fmt"

// DefaultMTU is the default effective UDP datagram size, header included.
const DefaultMTU = 1400

// DefaultPort is the normative UDP port for the bridge protocol.
const DefaultPort = 5990

// MaxPayloadV2 returns the maximum fragment payload size for a chosen
// MTU, i.e. MTU minus the version-2 header size.
func MaxPayloadV2(mtu int) int {
	p := mtu - HeaderSizeV2
	if p < 0 {
		return 0
	}
	return p
}

// FrameFields carries the per-frame metadata shared across all of its
// fragments: sequence number, timestamp, flags, and (for audio) sample
// rate and channel count.
type FrameFields struct {
	MediaType      uint8
	SourceID       uint8
	Flags          uint8
	SequenceNumber uint32
	Timestamp      uint64
	SampleRate     uint32
	Channels       uint8
}

// Fragment splits payload into ⌈len(payload)/maxPayload⌉ datagrams, each
// carrying a 38-byte version-2 header followed by its slice of payload.
// Fragment indexes are 0-based and share one sequence number and
// timestamp. maxPayload must be >= 1.
func Fragment(fields FrameFields, payload []byte, maxPayload int) ([][]byte, error) {
	if maxPayload <= 0 {
		return nil, fmt.Errorf("wire: maxPayload must be positive, got %d", maxPayload)
	}

	count := 1
	if len(payload) > 0 {
		count = (len(payload) + maxPayload - 1) / maxPayload
	}
	if count > 0xFFFF {
		return nil, fmt.Errorf("wire: frame of %d bytes needs %d fragments, exceeds uint16 fragmentCount", len(payload), count)
	}

	datagrams := make([][]byte, count)
	for i := 0; i < count; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[start:end]

		h := Header{
			MediaType:      fields.MediaType,
			SourceID:       fields.SourceID,
			Flags:          fields.Flags,
			SequenceNumber: fields.SequenceNumber,
			Timestamp:      fields.Timestamp,
			TotalSize:      uint32(len(payload)),
			FragmentIndex:  uint16(i),
			FragmentCount:  uint16(count),
			PayloadSize:    uint16(len(chunk)),
			SampleRate:     fields.SampleRate,
			Channels:       fields.Channels,
		}
		hdr, err := Encode(h, maxPayload)
		if err != nil {
			return nil, err
		}
		dg := make([]byte, 0, len(hdr)+len(chunk))
		dg = append(dg, hdr...)
		dg = append(dg, chunk...)
		datagrams[i] = dg
	}
	return datagrams, nil
}

// SplitDatagram decodes a datagram's header and returns the header along
// with its payload fragment. Per DESIGN.md open question 3, the payload
// is clamped to the bytes actually present in the datagram rather than
// trusted blindly: header.PayloadSize is only ever used as an upper
// bound, never to read past len(data).
func SplitDatagram(data []byte) (Header, []byte, error) {
	h, consumed, err := Decode(data)
	if err != nil {
		return Header{}, nil, err
	}
	remaining := data[consumed:]
	want := int(h.PayloadSize)
	if want > len(remaining) {
		want = len(remaining)
	}
	if want < 0 {
		want = 0
	}
	return h, remaining[:want], nil
}
