package source

import (
	"errors"
	"fmt"
)

// H.264 NAL unit types (ITU-T H.264 Table 7-1) used when splitting a stream
// into access units.
const (
	nalSlice = 1
	nalIDR   = 5
	nalSEI   = 6
	nalSPS   = 7
	nalPPS   = 8
	nalAUD   = 9
)

// SPSInfo holds what playback needs from a Sequence Parameter Set.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte

	// FrameRate is derived from the VUI timing info, 0 when absent.
	FrameRate float64
}

// CodecString returns the RFC 6381 codec parameter string, e.g. "avc1.640028".
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

var errShortRBSP = errors.New("source: RBSP too short")

type bitReader struct {
	data []byte
	pos  int
	bit  int
}

func (br *bitReader) readBit() (uint, error) {
	if br.pos >= len(br.data) {
		return 0, errShortRBSP
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
	for range n {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		val = val<<1 | b
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
			return 0, errShortRBSP
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

// skip reads and discards a sequence of fields; n > 0 is a fixed-width
// field, n == 0 an Exp-Golomb code.
func (br *bitReader) skip(widths ...int) error {
	for _, n := range widths {
		var err error
		if n == 0 {
			_, err = br.readUE()
		} else {
			_, err = br.readBits(n)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (br *bitReader) skipScalingList(size int) error {
	lastScale, nextScale := 8, 8
	for range size {
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

func highProfile(profile uint) bool {
	switch profile {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// ParseSPS parses an SPS NAL unit (header byte included, start code
// excluded) for resolution, profile and frame rate.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errShortRBSP
	}
	br := &bitReader{data: removeEmulationPrevention(nalu[1:])}

	profile, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	constraints, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	level, err := br.readBits(8)
	if err != nil {
		return SPSInfo{}, err
	}
	if err := br.skip(0); err != nil { // seq_parameter_set_id
		return SPSInfo{}, err
	}

	chromaFormat := uint(1)
	separatePlanes := false
	if highProfile(profile) {
		if chromaFormat, err = br.readUE(); err != nil {
			return SPSInfo{}, err
		}
		if chromaFormat == 3 {
			flag, err := br.readBits(1)
			if err != nil {
				return SPSInfo{}, err
			}
			separatePlanes = flag == 1
		}
		// bit depths, qpprime_y_zero_transform_bypass_flag
		if err := br.skip(0, 0, 1); err != nil {
			return SPSInfo{}, err
		}
		matrix, err := br.readBits(1)
		if err != nil {
			return SPSInfo{}, err
		}
		if matrix == 1 {
			lists := 8
			if chromaFormat == 3 {
				lists = 12
			}
			for i := range lists {
				present, err := br.readBits(1)
				if err != nil {
					return SPSInfo{}, err
				}
				if present == 0 {
					continue
				}
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

	if err := br.skip(0); err != nil { // log2_max_frame_num_minus4
		return SPSInfo{}, err
	}
	pocType, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	switch pocType {
	case 0:
		if err := br.skip(0); err != nil {
			return SPSInfo{}, err
		}
	case 1:
		if err := br.skip(1); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		if _, err := br.readSE(); err != nil {
			return SPSInfo{}, err
		}
		cycle, err := br.readUE()
		if err != nil {
			return SPSInfo{}, err
		}
		for range cycle {
			if _, err := br.readSE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	// max_num_ref_frames, gaps_in_frame_num_value_allowed_flag
	if err := br.skip(0, 1); err != nil {
		return SPSInfo{}, err
	}
	widthMbs, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	heightMapUnits, err := br.readUE()
	if err != nil {
		return SPSInfo{}, err
	}
	frameMbsOnly, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if frameMbsOnly == 0 {
		if err := br.skip(1); err != nil {
			return SPSInfo{}, err
		}
	}
	if err := br.skip(1); err != nil { // direct_8x8_inference_flag
		return SPSInfo{}, err
	}

	var crop [4]uint
	cropping, err := br.readBits(1)
	if err != nil {
		return SPSInfo{}, err
	}
	if cropping == 1 {
		for i := range crop {
			if crop[i], err = br.readUE(); err != nil {
				return SPSInfo{}, err
			}
		}
	}

	subWidth, subHeight := uint(2), uint(2)
	switch {
	case separatePlanes, chromaFormat == 0, chromaFormat == 3:
		subWidth, subHeight = 1, 1
	case chromaFormat == 2:
		subHeight = 1
	}
	cropX := subWidth
	cropY := subHeight * (2 - frameMbsOnly)

	info := SPSInfo{
		Width:           int((widthMbs+1)*16 - cropX*(crop[0]+crop[1])),
		Height:          int((heightMapUnits+1)*16*(2-frameMbsOnly) - cropY*(crop[2]+crop[3])),
		ProfileIDC:      byte(profile),
		ConstraintFlags: byte(constraints),
		LevelIDC:        byte(level),
	}
	info.FrameRate = parseVUITiming(br)
	return info, nil
}

// parseVUITiming walks the VUI up to timing_info and returns the frame rate
// it describes, or 0 if the VUI is absent or truncated.
func parseVUITiming(br *bitReader) float64 {
	present, err := br.readBits(1)
	if err != nil || present == 0 {
		return 0
	}

	if ar, _ := br.readBits(1); ar == 1 {
		if idc, _ := br.readBits(8); idc == 255 {
			br.skip(16, 16) // sar_width, sar_height
		}
	}
	if overscan, _ := br.readBits(1); overscan == 1 {
		br.skip(1)
	}
	if signal, _ := br.readBits(1); signal == 1 {
		br.skip(3, 1)
		if colour, _ := br.readBits(1); colour == 1 {
			br.skip(8, 8, 8)
		}
	}
	if loc, _ := br.readBits(1); loc == 1 {
		br.skip(0, 0)
	}

	timing, err := br.readBits(1)
	if err != nil || timing == 0 {
		return 0
	}
	unitsInTick, err := br.readBits(32)
	if err != nil || unitsInTick == 0 {
		return 0
	}
	timeScale, err := br.readBits(32)
	if err != nil {
		return 0
	}
	return float64(timeScale) / float64(2*unitsInTick)
}

// firstMbInSlice returns first_mb_in_slice of a slice NAL unit. A value of 0
// starts a new picture.
func firstMbInSlice(nalu []byte) (uint, error) {
	if len(nalu) < 2 {
		return 0, errShortRBSP
	}
	// first_mb_in_slice is the first field; a short prefix is enough.
	prefix := nalu[1:min(len(nalu), 9)]
	br := &bitReader{data: removeEmulationPrevention(prefix)}
	return br.readUE()
}

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

// nalUnit is one NAL unit without its start code.
type nalUnit struct {
	typ  byte
	data []byte
}

func (n nalUnit) vcl() bool {
	return n.typ == nalSlice || n.typ == nalIDR
}

// parseAnnexB splits an Annex B byte stream on 3- and 4-byte start codes.
func parseAnnexB(data []byte) []nalUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct{ start, payload int }
	var positions []scPos
	for i := 0; i < n-2; {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{i, i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{i, i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	units := make([]nalUnit, 0, len(positions))
	for k, pos := range positions {
		end := n
		if k+1 < len(positions) {
			end = positions[k+1].start
		}
		if pos.payload >= end {
			continue
		}
		nal := data[pos.payload:end]
		units = append(units, nalUnit{typ: nal[0] & 0x1F, data: nal})
	}
	return units
}
