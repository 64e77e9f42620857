package analysis

// FLV sound formats (high nibble of the first audio payload byte).
const (
	SoundLinearPCMPlatform = 0
	SoundADPCM             = 1
	SoundMP3               = 2
	SoundLinearPCMLE       = 3
	SoundNellymoser16kMono = 4
	SoundNellymoser8kMono  = 5
	SoundNellymoser        = 6
	SoundG711ALaw          = 7
	SoundG711MuLaw         = 8
	SoundAAC               = 10
	SoundSpeex             = 11
	SoundMP38kHz           = 14
	SoundDeviceSpecific    = 15
)

var flvSoundRates = [4]int{5500, 11025, 22050, 44100}

// AAC packet types (byte 1 of an AAC audio payload).
const (
	AACPacketSequenceHeader = 0
	AACPacketRaw            = 1
)

var aacSampleRates = [16]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
	0, 0, 0, // 13-15 reserved/escape
}

var aacObjectTypeNames = map[uint32]string{
	1:  "AAC Main",
	2:  "AAC LC",
	3:  "AAC SSR",
	4:  "AAC LTP",
	5:  "HE-AAC (SBR)",
	6:  "AAC Scalable",
	23: "ER AAC LD",
	29: "HE-AAC v2 (SBR+PS)",
	39: "ER AAC ELD",
}

// AudioAnalyzer tracks §4.7's derived audio facts: the FLV-declared
// format/rate/size/channels plus whatever the AAC AudioSpecificConfig,
// when present, says about the true sample rate and channel count.
type AudioAnalyzer struct {
	SoundFormat   uint8
	FLVSampleRate int
	FLVStereo     bool

	ASCReceived   bool
	ObjectType    uint32
	ASCSampleRate int
	ASCChannels   int
	SBRPresent    bool
	PSPresent     bool

	TotalAudioFrames uint64
}

// ObjectTypeName renders ObjectType for diagnostics messages.
func (a *AudioAnalyzer) ObjectTypeName() string {
	if name, ok := aacObjectTypeNames[a.ObjectType]; ok {
		return name
	}
	return "AAC Object Type " + uitoa(a.ObjectType)
}

// EffectiveSampleRate prefers the AudioSpecificConfig-derived rate (the
// one that actually matters for decoding) once it has been observed.
func (a *AudioAnalyzer) EffectiveSampleRate() int {
	if a.ASCReceived && a.ASCSampleRate > 0 {
		return a.ASCSampleRate
	}
	return a.FLVSampleRate
}

// EffectiveChannels mirrors EffectiveSampleRate for channel count.
func (a *AudioAnalyzer) EffectiveChannels() int {
	if a.ASCReceived {
		return a.ASCChannels
	}
	if a.FLVStereo {
		return 2
	}
	return 1
}

// Observe consumes one type-8 message payload, updating counters and
// the AudioSpecificConfig state when a sequence header arrives. It
// reports whether this call delivered the AAC sequence header.
func (a *AudioAnalyzer) Observe(payload []byte) (ascJustReceived bool) {
	if len(payload) < 1 {
		return false
	}
	soundFormat := (payload[0] >> 4) & 0x0F
	soundRateIdx := (payload[0] >> 2) & 0x03
	stereo := payload[0]&0x01 != 0
	a.SoundFormat = soundFormat
	a.FLVSampleRate = flvSoundRates[soundRateIdx]
	a.FLVStereo = stereo

	if soundFormat != SoundAAC {
		a.TotalAudioFrames++
		return false
	}

	if len(payload) < 2 {
		return false
	}
	packetType := payload[1]

	switch packetType {
	case AACPacketSequenceHeader:
		if len(payload) > 2 {
			a.parseAudioSpecificConfig(payload[2:])
			a.ASCReceived = true
			return true
		}
	case AACPacketRaw:
		a.TotalAudioFrames++
	}
	return false
}

// parseAudioSpecificConfig decodes the two-or-more-byte AAC
// AudioSpecificConfig bitfield: 5-bit audio object type (with the
// 31-escape extension), 4-bit sampling frequency index (with the
// 24-bit escape), 4-bit channel configuration, and the SBR/PS
// extension marker sequence when present.
func (a *AudioAnalyzer) parseAudioSpecificConfig(cfg []byte) {
	r := NewBitReader(cfg)

	objectType := readAudioObjectType(r)
	sampleRate := readAudioSampleRate(r)
	channels := r.Read(4)

	a.ObjectType = objectType
	a.ASCSampleRate = sampleRate
	a.ASCChannels = int(channels)
	a.SBRPresent = false
	a.PSPresent = false

	if objectType == 5 || objectType == 29 {
		a.SBRPresent = true
		if objectType == 29 {
			a.PSPresent = true
		}
		extSampleRate := readAudioSampleRate(r)
		extObjectType := readAudioObjectType(r)
		if extObjectType == 22 {
			r.Read(4) // extensionChannelConfiguration
		}
		_ = extSampleRate
	}

	if r.Err() {
		// Leave whatever partial fields were recovered; ASCReceived
		// still reflects that a sequence header arrived.
		return
	}
}

func readAudioObjectType(r *BitReader) uint32 {
	objectType := r.Read(5)
	if objectType == 31 {
		objectType = 32 + r.Read(6)
	}
	return objectType
}

func readAudioSampleRate(r *BitReader) int {
	idx := r.Read(4)
	if idx == 0x0F {
		return int(r.Read(24))
	}
	if int(idx) < len(aacSampleRates) {
		return aacSampleRates[idx]
	}
	return 0
}
