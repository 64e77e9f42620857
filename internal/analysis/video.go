package analysis

import "encoding/binary"

// FLV video frame types (high nibble of the first payload byte).
const (
	FrameKeyframe        = 1
	FrameInterframe      = 2
	FrameDisposableInter = 3
	FrameGeneratedKey    = 4
	FrameInfoCommand     = 5
)

// FLV video codec ids (low nibble of the first payload byte).
const (
	VideoJPEG        = 1
	VideoSorenson    = 2
	VideoScreen      = 3
	VideoOn2VP6      = 4
	VideoOn2VP6Alpha = 5
	VideoScreenV2    = 6
	VideoAVC         = 7 // H.264
)

// AVC packet types (byte 1 of an AVC video payload).
const (
	AVCPacketSequenceHeader = 0
	AVCPacketNALU           = 1
	AVCPacketEOS            = 2
)

var h264ProfileNames = map[uint32]string{
	66:  "Baseline",
	77:  "Main",
	88:  "Extended",
	100: "High",
	110: "High 10",
	122: "High 4:2:2",
	244: "High 4:4:4 Predictive",
	44:  "CAVLC 4:4:4 Intra",
	83:  "Scalable Baseline",
	86:  "Scalable High",
	118: "Multiview High",
	128: "Stereo High",
	138: "Multiview Depth High",
}

// highFamilyProfiles lists profile_idc values whose SPS carries the
// extra chroma-format subclause.
var highFamilyProfiles = map[uint32]bool{
	100: true, 110: true, 122: true, 244: true, 44: true,
	83: true, 86: true, 118: true, 128: true, 138: true, 139: true,
	134: true, 135: true,
}

// standardResolutions are resolutions the odd-dimensions rule
// should not flag even though one side, after the (intentionally
// unparenthesized) width%2 != 0 || height%2 != 0 check, looks odd.
var standardResolutions = map[[2]uint32]bool{
	{1920, 1080}: true,
	{1280, 720}:  true,
	{854, 480}:   true,
	{640, 360}:   true,
	{2560, 1440}: true,
	{3840, 2160}: true,
	{1080, 1920}: true,
	{720, 1280}:  true,
}

// SPSInfo is what VideoAnalyzer needs out of a parsed SPS.
type SPSInfo struct {
	ProfileIDC uint32
	LevelIDC   uint32
	Width      uint32
	Height     uint32
	OK         bool
}

// VideoAnalyzer tracks everything §4.6 derives from a publisher's
// video messages: codec identification from the AVCDecoderConfig-
// urationRecord and running frame counters.
type VideoAnalyzer struct {
	Codec             uint8
	Width             uint32
	Height            uint32
	ProfileIDC        uint32
	LevelIDC          uint32
	AVCConfigReceived bool
	NALULengthSize    int

	TotalVideoFrames uint64
	KeyframeCount    uint64
	InterFrameCount  uint64
	BFrameCount      uint64
}

// ProfileName renders ProfileIDC the way the diagnostics rules expect
// to find it ("contains Baseline", etc).
func (a *VideoAnalyzer) ProfileName() string {
	if name, ok := h264ProfileNames[a.ProfileIDC]; ok {
		return name
	}
	return profileFallbackName(a.ProfileIDC)
}

func profileFallbackName(idc uint32) string {
	return "Profile " + uitoa(idc)
}

// LevelString renders LevelIDC as "level_idc/10"."level_idc%10".
func (a *VideoAnalyzer) LevelString() string {
	return uitoa(a.LevelIDC/10) + "." + uitoa(a.LevelIDC%10)
}

// IsOddResolution applies the odd-dimensions rule exactly as written
// (unparenthesized `!isStandard && w%2 != 0 || h%2 != 0`): the
// whitelist exemption only guards the width check, so an odd height
// is flagged even on a resolution that would otherwise be considered
// standard. None of the whitelisted entries have an odd height, so
// this quirk never actually changes an outcome against the current
// whitelist, but it is preserved rather than "fixed" to parenthesize
// both checks.
func (a *VideoAnalyzer) IsOddResolution() bool {
	isStandard := standardResolutions[[2]uint32{a.Width, a.Height}]
	return !isStandard && a.Width%2 != 0 || a.Height%2 != 0
}

// Observe consumes one type-9 message payload and updates counters.
// It reports whether this call delivered the AVC sequence header for
// the first time.
func (a *VideoAnalyzer) Observe(payload []byte) (seqHeaderJustReceived bool) {
	if len(payload) < 1 {
		return false
	}
	frameType := (payload[0] >> 4) & 0x0F
	codecID := payload[0] & 0x0F
	a.Codec = codecID

	if codecID != VideoAVC {
		a.countFrame(frameType, 0)
		return false
	}

	if len(payload) < 2 {
		return false
	}
	avcPacketType := payload[1]

	var compositionTime int32
	if len(payload) >= 5 {
		raw := uint32(payload[2])<<16 | uint32(payload[3])<<8 | uint32(payload[4])
		compositionTime = int32(raw)
		if compositionTime&0x800000 != 0 {
			compositionTime |= ^0xFFFFFF
		}
	}

	switch avcPacketType {
	case AVCPacketSequenceHeader:
		if len(payload) > 5 {
			a.parseAVCDecoderConfigurationRecord(payload[5:])
			a.AVCConfigReceived = true
			return true
		}
	case AVCPacketNALU:
		a.TotalVideoFrames++
		switch frameType {
		case FrameKeyframe, FrameGeneratedKey:
			a.KeyframeCount++
		case FrameInterframe, FrameDisposableInter:
			if compositionTime != 0 {
				a.BFrameCount++
			} else {
				a.InterFrameCount++
			}
		}
	case AVCPacketEOS:
		// No counting.
	}
	return false
}

func (a *VideoAnalyzer) countFrame(frameType uint8, _ int32) {
	if frameType == FrameInfoCommand {
		return
	}
	a.TotalVideoFrames++
	switch frameType {
	case FrameKeyframe, FrameGeneratedKey:
		a.KeyframeCount++
	case FrameInterframe, FrameDisposableInter:
		a.InterFrameCount++
	}
}

// parseAVCDecoderConfigurationRecord reads profile/level/nalu length
// size and the first SPS out of an AVCDecoderConfigurationRecord body
// (the bytes after the 5-byte AVC video-tag prefix).
func (a *VideoAnalyzer) parseAVCDecoderConfigurationRecord(cfg []byte) {
	if len(cfg) < 5 {
		return
	}
	profileIDC := uint32(cfg[1])
	levelIDC := uint32(cfg[3])
	naluLengthSize := int(cfg[4]&0x03) + 1
	numSPS := int(cfg[5] & 0x1F)

	a.ProfileIDC = profileIDC
	a.LevelIDC = levelIDC
	a.NALULengthSize = naluLengthSize

	pos := 6
	for i := 0; i < numSPS; i++ {
		if pos+2 > len(cfg) {
			return
		}
		spsLen := int(binary.BigEndian.Uint16(cfg[pos : pos+2]))
		pos += 2
		if pos+spsLen > len(cfg) {
			return
		}
		sps := cfg[pos : pos+spsLen]
		pos += spsLen

		if i == 0 {
			info := ParseSPS(sps)
			if info.OK {
				a.Width = info.Width
				a.Height = info.Height
				a.ProfileIDC = info.ProfileIDC
				a.LevelIDC = info.LevelIDC
			}
		}
	}
}

// ParseSPS decodes just enough of an H.264 Sequence Parameter Set to
// recover profile/level/width/height, per §4.6's "SPS parsing"
// subsection.
func ParseSPS(nal []byte) SPSInfo {
	rbsp := RemoveEmulationPrevention(nal)
	if len(rbsp) < 1 {
		return SPSInfo{}
	}
	r := NewBitReader(rbsp[1:]) // skip the NAL header byte

	profileIDC := r.Read(8)
	r.Read(8) // constraint flag set + reserved
	levelIDC := r.Read(8)
	r.ReadUnsignedGolomb() // seq_parameter_set_id

	if highFamilyProfiles[profileIDC] {
		chromaFormatIDC := r.ReadUnsignedGolomb()
		if chromaFormatIDC == 3 {
			r.Read(1) // separate_colour_plane_flag
		}
		r.ReadUnsignedGolomb() // bit_depth_luma_minus8
		r.ReadUnsignedGolomb() // bit_depth_chroma_minus8
		r.Read(1)              // qpprime_y_zero_transform_bypass
		scalingMatrixPresent := r.Read(1)
		if scalingMatrixPresent != 0 {
			numLists := 8
			if chromaFormatIDC == 3 {
				numLists = 12
			}
			for i := 0; i < numLists; i++ {
				present := r.Read(1)
				if present != 0 {
					skipScalingList(r, sizeForScalingList(chromaFormatIDC, i))
				}
			}
		}
	}

	r.ReadUnsignedGolomb() // log2_max_frame_num_minus4
	picOrderCntType := r.ReadUnsignedGolomb()
	switch picOrderCntType {
	case 0:
		r.ReadUnsignedGolomb() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.Read(1)              // delta_pic_order_always_zero_flag
		r.ReadSignedGolomb()   // offset_for_non_ref_pic
		r.ReadSignedGolomb()   // offset_for_top_to_bottom_field
		numRefFrames := r.ReadUnsignedGolomb()
		for i := uint32(0); i < numRefFrames && i < 256 && !r.Err(); i++ {
			r.ReadSignedGolomb() // offset_for_ref_frame[i]
		}
	}

	r.ReadUnsignedGolomb() // max_num_ref_frames
	r.Read(1)              // gaps_in_frame_num_value_allowed_flag
	picWidthInMbsMinus1 := r.ReadUnsignedGolomb()
	picHeightInMapUnitsMinus1 := r.ReadUnsignedGolomb()
	frameMbsOnly := r.Read(1)
	if frameMbsOnly == 0 {
		r.Read(1) // mb_adaptive_frame_field_flag
	}
	r.Read(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint32
	frameCropping := r.Read(1)
	if frameCropping != 0 {
		cropLeft = r.ReadUnsignedGolomb()
		cropRight = r.ReadUnsignedGolomb()
		cropTop = r.ReadUnsignedGolomb()
		cropBottom = r.ReadUnsignedGolomb()
	}

	if r.Err() {
		return SPSInfo{ProfileIDC: profileIDC, LevelIDC: levelIDC}
	}

	rawWidth := (picWidthInMbsMinus1 + 1) * 16
	rawHeight := (picHeightInMapUnitsMinus1 + 1) * 16 * (2 - frameMbsOnly)
	cropUnitX := uint32(2)
	cropUnitY := uint32(2) * (2 - frameMbsOnly)

	width := rawWidth - cropUnitX*(cropLeft+cropRight)
	height := rawHeight - cropUnitY*(cropTop+cropBottom)

	return SPSInfo{
		ProfileIDC: profileIDC,
		LevelIDC:   levelIDC,
		Width:      width,
		Height:     height,
		OK:         true,
	}
}

func sizeForScalingList(chromaFormatIDC uint32, index int) int {
	if index < 6 {
		return 16
	}
	_ = chromaFormatIDC
	return 64
}

// skipScalingList walks a scaling_list() per the H.264 delta-scale
// recurrence, discarding the values (VideoAnalyzer never needs them).
func skipScalingList(r *BitReader, size int) {
	lastScale := int32(8)
	nextScale := int32(8)
	for j := 0; j < size && !r.Err(); j++ {
		if nextScale != 0 {
			deltaScale := r.ReadSignedGolomb()
			nextScale = (lastScale + deltaScale + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}

func uitoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
