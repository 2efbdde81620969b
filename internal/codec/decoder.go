package codec

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/ndibridge/ndibridge/internal/capture"
)

// Decoder hides the platform RawDecoder behind NAL-aware routing: it
// scans Annex-B payloads for NAL units, updates the latest SPS/PPS,
// lazily creates a decode session once both are known, and
// invalidates/recreates the session whenever the parameter sets change.
type Decoder struct {
	log   *slog.Logger
	codec capture.VideoCodec

	raw capture.RawDecoder
	sps []byte
	pps []byte

	spsInfo     SPSInfo
	haveSPSInfo bool

	decodeErrors int64
}

// NewDecoder creates a Decoder bound to the given platform codec factory.
// No session is created until both SPS and PPS have been seen.
func NewDecoder(codec capture.VideoCodec, log *slog.Logger) *Decoder {
	if log == nil {
		log = slog.Default()
	}
	return &Decoder{log: log, codec: codec}
}

// DecodeErrors returns the number of decode failures (other than
// SPS/PPS-desynchronization session rebuilds) observed so far.
func (d *Decoder) DecodeErrors() int64 {
	return d.decodeErrors
}

// SPSInfo returns the resolution and profile/level parsed from the most
// recently seen SPS, or ok=false if no SPS has parsed successfully yet.
// Callers should prefer this over a decoded PixelBuffer's own
// Width()/Height() when reporting resolution changes, since it reflects
// the bitstream's own signaling rather than whatever the platform
// decoder happened to produce.
func (d *Decoder) SPSInfo() (SPSInfo, bool) {
	return d.spsInfo, d.haveSPSInfo
}

// Decode parses annexBPayload for NAL units and routes them: SPS/PPS
// update the latest parameter sets (rebuilding the session if they
// changed and one already existed); IDR/non-IDR slices are decoded once
// a session exists. It returns the decoded pixel buffer and true if a
// slice was successfully decoded, or ok=false if the payload carried no
// slice (e.g. parameter-set-only) or no session exists yet.
func (d *Decoder) Decode(annexBPayload []byte, timestamp int64) (capture.PixelBuffer, bool, error) {
	units := ParseAnnexB(annexBPayload)

	var decodeNALUs []NALUnit
	hasSlice := false
	spsChanged, ppsChanged := false, false

	for _, u := range units {
		switch {
		case IsSPS(u.Type):
			if !bytes.Equal(u.Payload, d.sps) {
				d.sps = append([]byte(nil), u.Payload...)
				spsChanged = true
				if info, err := ParseSPS(u.Payload); err != nil {
					d.log.Warn("codec: failed to parse SPS resolution", "error", err)
				} else {
					d.spsInfo = info
					d.haveSPSInfo = true
				}
			}
		case IsPPS(u.Type):
			if !bytes.Equal(u.Payload, d.pps) {
				d.pps = append([]byte(nil), u.Payload...)
				ppsChanged = true
			}
		default:
			// Unknown types are passed through to the decoder rather than
			// dropped; only slice types carry picture data.
			decodeNALUs = append(decodeNALUs, u)
			if IsSlice(u.Type) {
				hasSlice = true
			}
		}
	}

	if (spsChanged || ppsChanged) && d.raw != nil {
		d.log.Info("codec: parameter sets changed, rebuilding decoder session")
		if err := d.raw.Close(); err != nil {
			d.log.Warn("codec: error closing stale decoder session", "error", err)
		}
		d.raw = nil
	}

	if d.raw == nil && d.sps != nil && d.pps != nil {
		d.raw = d.codec.NewDecoder()
		if err := d.raw.Configure(d.sps, d.pps); err != nil {
			d.raw = nil
			d.decodeErrors++
			return nil, false, fmt.Errorf("codec: configure decoder: %w", err)
		}
	}

	if !hasSlice {
		return nil, false, nil
	}
	if d.raw == nil {
		// No session yet: waiting for the first SPS+PPS pair.
		return nil, false, nil
	}

	avcc := AnnexBToAVCC(decodeNALUs)
	pix, err := d.raw.Decode(avcc, timestamp)
	if err != nil {
		d.decodeErrors++
		d.log.Warn("codec: decode failed, dropping frame", "error", err)
		return nil, false, nil
	}
	return pix, true, nil
}

// Close releases the underlying platform decoder session, if one exists.
func (d *Decoder) Close() error {
	if d.raw == nil {
		return nil
	}
	err := d.raw.Close()
	d.raw = nil
	return err
}
