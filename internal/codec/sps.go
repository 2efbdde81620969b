package codec

import (
	"errors"
	"fmt"
)

// SPSInfo holds the fields of an H.264 Sequence Parameter Set needed to
// report a stream's resolution to SourceOutput.setResolution and to tag
// decoder sessions by profile/level.
type SPSInfo struct {
	Width      int
	Height     int
	ProfileIDC byte
	LevelIDC   byte
}

var errSPSTooShort = errors.New("codec: SPS data too short")

type bitReader struct {
	data []byte
	pos  int
	bit  int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) readBit() (uint, error) {
	if br.pos >= len(br.data) {
		return 0, errSPSTooShort
	}
	val := uint((br.data[br.pos] >> (7 - br.bit)) & 1)
	br.bit++
	if br.bit == 8 {
		br.bit = 0
		br.pos++
	}
	return val, nil
}

func (br *bitReader) readBits(n int) (uint, error) {
	var val uint
	for i := 0; i < n; i++ {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		val = (val << 1) | b
	}
	return val, nil
}

func (br *bitReader) readUE() (uint, error) {
	zeros := 0
	for {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, errSPSTooShort
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := br.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return (1 << zeros) - 1 + suffix, nil
}

func (br *bitReader) readSE() (int, error) {
	val, err := br.readUE()
	if err != nil {
		return 0, err
	}
	if val%2 == 0 {
		return -int(val / 2), nil
	}
	return int((val + 1) / 2), nil
}

func (br *bitReader) skipScalingList(size int) error {
	lastScale, nextScale := 8, 8
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			delta, err := br.readSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// removeEmulationPrevention strips H.264's emulation-prevention 0x03 bytes
// (inserted after any 00 00 sequence to avoid mimicking a start code)
// before bit-level parsing.
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}

// ParseSPS parses an H.264 SPS NAL unit (including its NAL header byte,
// without a start code) far enough to recover the coded resolution and
// profile/level, so a resolution change can be reported to SourceOutput
// as soon as the new SPS is seen rather than waiting for a decode.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errSPSTooShort
	}

	rbsp := removeEmulationPrevention(nalu[1:])
	br := newBitReader(rbsp)

	profileIdc, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	if _, err := br.readBits(8); err != nil { // constraint flags, unused
		return SPSInfo{}, err
	}
	levelIdc, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	if _, err := br.readUE(); err != nil { // seq_parameter_set_id
		return SPSInfo{}, err
	}

	chromaFormatIdc := uint(1)
	separateColourPlane := false

	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		chromaFormatIdc, err = br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		if chromaFormatIdc == 3 {
			val, err := br.readBits(1)
			if err != nil {
				return SPSInfo{}, err
			}
			separateColourPlane = val == 1
		}
		if _, err := br.readUE(); err != nil { // bit_depth_luma_minus8
			return SPSInfo{}, err
		}
		if _, err := br.readUE(); err != nil { // bit_depth_chroma_minus8
			return SPSInfo{}, err
		}
		if _, err := br.readBits(1); err != nil { // qpprime_y_zero_transform_bypass_flag
			return SPSInfo{}, err
		}
		seqScalingMatrixPresent, err := br.readBits(1)
		if err != nil {
			return SPSInfo{}, err
		}
		if seqScalingMatrixPresent == 1 {
			limit := 8
			if chromaFormatIdc == 3 {
				limit = 12
			}
			for i := 0; i < limit; i++ {
				flag, err := br.readBits(1)
				if err != nil {
					return SPSInfo{}, err
				}
				if flag == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					if err := br.skipScalingList(size); err != nil {
						return SPSInfo{}, err
					}
				}
			}
		}
	}

	if _, err := br.readUE(); err != nil { // log2_max_frame_num_minus4
		return SPSInfo{}, err
	}
	picOrderCntType, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	switch picOrderCntType {
	case 0:
		if _, err := br.readUE(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return SPSInfo{}, err
		}
	case 1:
		if _, err := br.readBits(1); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		numRefFrames, err := br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		for i := uint(0); i < numRefFrames; i++ {
			if _, err := br.readSE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	if _, err := br.readUE(); err != nil { // max_num_ref_frames
		return SPSInfo{}, err
	}
	if _, err := br.readBits(1); err != nil { // gaps_in_frame_num_value_allowed_flag
		return SPSInfo{}, err
	}

	picWidthMbs, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	picHeightMapUnits, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}

	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameMbsOnly == 0 {
		if _, err := br.readBits(1); err != nil { // mb_adaptive_frame_field_flag
			return SPSInfo{}, err
		}
	}
	if _, err := br.readBits(1); err != nil { // direct_8x8_inference_flag
		return SPSInfo{}, err
	}

	cropLeft, cropRight, cropTop, cropBottom := uint(0), uint(0), uint(0), uint(0)
	frameCroppingFlag, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameCroppingFlag == 1 {
		if cropLeft, err = br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if cropRight, err = br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if cropTop, err = br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if cropBottom, err = br.readUE(); err != nil {
			return SPSInfo{}, err
		}
	}

	chromaArrayType := chromaFormatIdc
	if separateColourPlane {
		chromaArrayType = 0
	}
	var subWidthC, subHeightC uint
	switch chromaArrayType {
	case 0:
		subWidthC, subHeightC = 1, 1
	case 2:
		subWidthC, subHeightC = 2, 1
	case 3:
		subWidthC, subHeightC = 1, 1
	default:
		subWidthC, subHeightC = 2, 2
	}

	cropUnitX := subWidthC
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	width := int((picWidthMbs+1)*16 - cropUnitX*(cropLeft+cropRight))
	height := int((picHeightMapUnits+1)*16*(2-frameMbsOnly) - cropUnitY*(cropTop+cropBottom))

	if width <= 0 || height <= 0 {
		return SPSInfo{}, fmt.Errorf("codec: SPS yielded non-positive resolution %dx%d", width, height)
	}

	return SPSInfo{
		Width:      width,
		Height:     height,
		ProfileIDC: byte(profileIdc),
		LevelIDC:   byte(levelIdc),
	}, nil
}
