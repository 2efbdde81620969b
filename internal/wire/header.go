// Package wire implements the fixed-width datagram header defined by the
// bridge's UDP protocol: a 38-byte (version 2) or 28-byte (version 1,
// legacy video-only) big-endian record prefixed to every fragment.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the normative 4-byte tag identifying a bridge datagram.
const Magic uint32 = 0x4E444942 // "NDIB"

// Protocol versions understood on the receive path. Only VersionCurrent
// is ever produced on send.
const (
	VersionLegacy  = 1
	VersionCurrent = 2
)

// Header sizes in bytes, by version.
const (
	HeaderSizeV1 = 28
	HeaderSizeV2 = 38
)

// MediaType wire values.
const (
	MediaTypeVideo = 0
	MediaTypeAudio = 1
)

// KeyframeFlag is bit 0 of the header's flags byte.
const KeyframeFlag = 1 << 0

// ErrInvalidHeader is returned by Decode when a datagram fails validation:
// too short, bad magic, or an unsupported version.
var ErrInvalidHeader = errors.New("wire: invalid header")

// Header is the decoded form of a datagram's fixed-width prefix. Fields
// absent in a given version (sampleRate/channels/reserved on v1) decode
// as zero.
type Header struct {
	Version        uint8
	MediaType      uint8
	SourceID       uint8
	Flags          uint8
	SequenceNumber uint32
	Timestamp      uint64
	TotalSize      uint32
	FragmentIndex  uint16
	FragmentCount  uint16
	PayloadSize    uint16
	SampleRate     uint32
	Channels       uint8
}

// IsKeyframe reports whether the keyframe flag is set. Meaningful for
// video headers only; unused (and must be ignored) for audio.
func (h Header) IsKeyframe() bool {
	return h.Flags&KeyframeFlag != 0
}

// HeaderSize returns the on-wire size of this header for its Version.
func (h Header) HeaderSize() int {
	if h.Version == VersionLegacy {
		return HeaderSizeV1
	}
	return HeaderSizeV2
}

// Encode writes the 38-byte version-2 header to a fresh byte slice.
// Encode always produces version 2; it refuses to emit a header whose
// PayloadSize exceeds maxPayload (the caller must fragment first).
func Encode(h Header, maxPayload int) ([]byte, error) {
	if int(h.PayloadSize) > maxPayload {
		return nil, fmt.Errorf("wire: payloadSize %d exceeds max %d, caller must fragment", h.PayloadSize, maxPayload)
	}
	if h.FragmentIndex >= h.FragmentCount {
		return nil, fmt.Errorf("wire: fragmentIndex %d >= fragmentCount %d", h.FragmentIndex, h.FragmentCount)
	}

	buf := make([]byte, HeaderSizeV2)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	buf[4] = VersionCurrent
	buf[5] = h.MediaType
	buf[6] = h.SourceID
	buf[7] = h.Flags
	binary.BigEndian.PutUint32(buf[8:12], h.SequenceNumber)
	binary.BigEndian.PutUint64(buf[12:20], h.Timestamp)
	binary.BigEndian.PutUint32(buf[20:24], h.TotalSize)
	binary.BigEndian.PutUint16(buf[24:26], h.FragmentIndex)
	binary.BigEndian.PutUint16(buf[26:28], h.FragmentCount)
	binary.BigEndian.PutUint16(buf[28:30], h.PayloadSize)
	binary.BigEndian.PutUint32(buf[30:34], h.SampleRate)
	buf[34] = h.Channels
	// buf[35:38] reserved, left zero.
	return buf, nil
}

// Decode parses a datagram's header prefix, selecting the v1 or v2 layout
// by the version byte, and returns the header plus the number of bytes
// consumed (HeaderSizeV1 or HeaderSizeV2). It rejects datagrams shorter
// than the minimum header size for either version, datagrams with a bad
// magic tag, and unsupported version values.
func Decode(data []byte) (Header, int, error) {
	if len(data) < HeaderSizeV1 {
		return Header{}, 0, fmt.Errorf("%w: datagram too short (%d bytes)", ErrInvalidHeader, len(data))
	}
	magic := binary.BigEndian.Uint32(data[0:4])
	if magic != Magic {
		return Header{}, 0, fmt.Errorf("%w: bad magic", ErrInvalidHeader)
	}
	version := data[4]
	switch version {
	case VersionLegacy:
		return decodeV1(data)
	case VersionCurrent:
		return decodeV2(data)
	default:
		return Header{}, 0, fmt.Errorf("%w: unsupported version %d", ErrInvalidHeader, version)
	}
}

// decodeV1 parses the legacy 28-byte video-only header:
// magic(4) version(1) mediaType(1) sourceId(1) flags(1) sequenceNumber(4)
// timestamp(8) totalSize(4) fragmentIndex(2) fragmentCount(2)
func decodeV1(data []byte) (Header, int, error) {
	if len(data) < HeaderSizeV1 {
		return Header{}, 0, fmt.Errorf("%w: truncated v1 header", ErrInvalidHeader)
	}
	h := Header{
		Version:        VersionLegacy,
		MediaType:      data[5],
		SourceID:       data[6],
		Flags:          data[7],
		SequenceNumber: binary.BigEndian.Uint32(data[8:12]),
		Timestamp:      binary.BigEndian.Uint64(data[12:20]),
		TotalSize:      binary.BigEndian.Uint32(data[20:24]),
		FragmentIndex:  binary.BigEndian.Uint16(data[24:26]),
		FragmentCount:  binary.BigEndian.Uint16(data[26:28]),
	}
	if err := validateFragmentFields(h); err != nil {
		return Header{}, 0, err
	}
	// v1 has no explicit payloadSize field; it is implied by the datagram.
	h.PayloadSize = uint16(len(data) - HeaderSizeV1)
	return h, HeaderSizeV1, nil
}

// decodeV2 parses the current 38-byte header.
func decodeV2(data []byte) (Header, int, error) {
	if len(data) < HeaderSizeV2 {
		return Header{}, 0, fmt.Errorf("%w: truncated v2 header", ErrInvalidHeader)
	}
	h := Header{
		Version:        VersionCurrent,
		MediaType:      data[5],
		SourceID:       data[6],
		Flags:          data[7],
		SequenceNumber: binary.BigEndian.Uint32(data[8:12]),
		Timestamp:      binary.BigEndian.Uint64(data[12:20]),
		TotalSize:      binary.BigEndian.Uint32(data[20:24]),
		FragmentIndex:  binary.BigEndian.Uint16(data[24:26]),
		FragmentCount:  binary.BigEndian.Uint16(data[26:28]),
		PayloadSize:    binary.BigEndian.Uint16(data[28:30]),
		SampleRate:     binary.BigEndian.Uint32(data[30:34]),
		Channels:       data[34],
	}
	if err := validateFragmentFields(h); err != nil {
		return Header{}, 0, err
	}
	return h, HeaderSizeV2, nil
}

func validateFragmentFields(h Header) error {
	if h.FragmentCount == 0 {
		return fmt.Errorf("%w: fragmentCount must be >= 1", ErrInvalidHeader)
	}
	if h.FragmentIndex >= h.FragmentCount {
		return fmt.Errorf("%w: fragmentIndex %d >= fragmentCount %d", ErrInvalidHeader, h.FragmentIndex, h.FragmentCount)
	}
	return nil
}
