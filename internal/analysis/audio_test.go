package analysis

import "testing"

func buildAACSpecificConfig(objectType, sampleRateIdx, channels uint32) []byte {
	w := &testBitWriter{}
	w.writeBits(objectType, 5)
	w.writeBits(sampleRateIdx, 4)
	w.writeBits(channels, 4)
	return w.buf
}

func TestAudioAnalyzerParsesSequenceHeader(t *testing.T) {
	asc := buildAACSpecificConfig(2, 4, 2) // AAC LC, 44100Hz, stereo

	flvByte := byte(SoundAAC<<4) | byte(3<<2) | 1 // format=AAC, rate idx=3 (44kHz bucket), stereo
	payload := append([]byte{flvByte, AACPacketSequenceHeader}, asc...)

	var a AudioAnalyzer
	justReceived := a.Observe(payload)
	if !justReceived {
		t.Fatalf("expected ascJustReceived = true")
	}
	if !a.ASCReceived {
		t.Fatalf("expected ASCReceived = true")
	}
	if a.ObjectType != 2 {
		t.Fatalf("object type = %d, want 2", a.ObjectType)
	}
	if a.ASCSampleRate != 44100 {
		t.Fatalf("ASC sample rate = %d, want 44100", a.ASCSampleRate)
	}
	if a.ASCChannels != 2 {
		t.Fatalf("ASC channels = %d, want 2", a.ASCChannels)
	}
	if a.ObjectTypeName() != "AAC LC" {
		t.Fatalf("object type name = %q", a.ObjectTypeName())
	}
	if a.EffectiveSampleRate() != 44100 {
		t.Fatalf("effective sample rate = %d", a.EffectiveSampleRate())
	}
	if a.EffectiveChannels() != 2 {
		t.Fatalf("effective channels = %d", a.EffectiveChannels())
	}
}

func TestAudioAnalyzerCountsRawFrames(t *testing.T) {
	var a AudioAnalyzer
	asc := buildAACSpecificConfig(2, 4, 2)
	flvByte := byte(SoundAAC<<4) | byte(3<<2) | 1
	a.Observe(append([]byte{flvByte, AACPacketSequenceHeader}, asc...))

	a.Observe([]byte{flvByte, AACPacketRaw, 0xAA, 0xBB})
	a.Observe([]byte{flvByte, AACPacketRaw, 0xCC, 0xDD})

	if a.TotalAudioFrames != 2 {
		t.Fatalf("total audio frames = %d, want 2", a.TotalAudioFrames)
	}
}

func TestAudioAnalyzerFallsBackToFLVRateBeforeASC(t *testing.T) {
	var a AudioAnalyzer
	flvByte := byte(SoundAAC<<4) | byte(3<<2) | 0 // mono
	a.Observe([]byte{flvByte, AACPacketRaw, 0x00})

	if a.EffectiveSampleRate() != 44100 {
		t.Fatalf("effective sample rate before ASC = %d, want FLV-declared 44100", a.EffectiveSampleRate())
	}
	if a.EffectiveChannels() != 1 {
		t.Fatalf("effective channels before ASC = %d, want 1", a.EffectiveChannels())
	}
}

func TestAudioAnalyzerSBRDetection(t *testing.T) {
	w := &testBitWriter{}
	w.writeBits(5, 5)  // SBR object type
	w.writeBits(3, 4)  // base sample rate idx (48000)
	w.writeBits(1, 4)  // mono base
	w.writeBits(4, 4)  // extension sample rate idx (44100)... part of ext header
	w.writeBits(2, 5)  // extensionAudioObjectType low bits (not 22, simplified)
	asc := w.buf

	flvByte := byte(SoundAAC << 4)
	var a AudioAnalyzer
	a.Observe(append([]byte{flvByte, AACPacketSequenceHeader}, asc...))

	if !a.SBRPresent {
		t.Fatalf("expected SBRPresent = true")
	}
}

func TestNonAACFormatDoesNotParseASC(t *testing.T) {
	var a AudioAnalyzer
	a.Observe([]byte{byte(SoundMP3 << 4), 0xFF, 0xFF})
	if a.ASCReceived {
		t.Fatalf("MP3 payload must not be treated as an AAC sequence header")
	}
	if a.TotalAudioFrames != 1 {
		t.Fatalf("expected MP3 frame to be counted, got %d", a.TotalAudioFrames)
	}
}
