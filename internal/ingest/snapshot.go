// Package ingest wires the protocol, codec-analysis, and diagnostics
// layers into per-connection sessions: one goroutine per accepted
// TCP connection, racing a blocking socket read against a one-second
// ticker so a dashboard can re-render on a steady cadence without a
// separate poller.
package ingest

import (
	"time"

	"github.com/streamwell/rtmp-probe/internal/analysis"
	"github.com/streamwell/rtmp-probe/internal/diagnostics"
)

// Snapshot is the read-only, once-a-second view of a session's state
// described in §6's dashboard interface: everything a renderer needs,
// with no access back into the session's mutable internals.
type Snapshot struct {
	App       string
	StreamKey string
	Encoder   string

	DurationSecs            float64
	CurrentFPS               float64
	HasCurrentFPS            bool
	CurrentVideoBitrateKbps  float64
	HasVideoBitrate          bool
	CurrentAudioBitrateKbps  float64
	HasAudioBitrate          bool
	KeyframeIntervalSecs     float64
	TotalVideoFrames         uint64
	TotalVideoBytes          uint64
	TotalAudioBytes          uint64

	VideoCodec        string
	Width             uint32
	Height            uint32
	VideoProfile      string
	VideoLevel        string
	KeyframeCount     uint64
	InterFrameCount   uint64
	BFrameCount       uint64
	AVCConfigReceived bool

	AudioSoundFormat  uint8
	AudioSampleRate   int
	AudioChannels     int
	AACProfile        string
	ASCReceived       bool

	MetadataReceived bool

	ErrorCount   int
	WarningCount int
	Diagnostics  []diagnostics.Diagnostic

	TakenAt time.Time
}

// buildSnapshot assembles a Snapshot from a session's component
// state. va/aa may be nil before their respective sequence headers
// arrive; the zero VideoAnalyzer/AudioAnalyzer already renders
// sensibly (ProfileName/ObjectTypeName fall back to numeric labels).
func buildSnapshot(app, streamKey, encoder string, va *analysis.VideoAnalyzer, aa *analysis.AudioAnalyzer, st durationStats, diag []diagnostics.Diagnostic, now time.Time) Snapshot {
	snap := Snapshot{
		App:       app,
		StreamKey: streamKey,
		Encoder:   encoder,

		DurationSecs:         st.durationSecs,
		KeyframeIntervalSecs: st.keyframeIntervalSecs,
		TotalVideoFrames:     st.totalVideoFrames,
		TotalVideoBytes:      st.totalVideoBytes,
		TotalAudioBytes:      st.totalAudioBytes,

		MetadataReceived: false,

		Diagnostics: diag,

		TakenAt: now,
	}
	snap.CurrentFPS, snap.HasCurrentFPS = st.fps, st.hasFPS
	snap.CurrentVideoBitrateKbps, snap.HasVideoBitrate = st.videoBitrateKbps, st.hasVideoBitrate
	snap.CurrentAudioBitrateKbps, snap.HasAudioBitrate = st.audioBitrateKbps, st.hasAudioBitrate

	if va != nil {
		snap.VideoCodec = "AVC"
		snap.Width = va.Width
		snap.Height = va.Height
		snap.VideoProfile = va.ProfileName()
		snap.VideoLevel = va.LevelString()
		snap.KeyframeCount = va.KeyframeCount
		snap.InterFrameCount = va.InterFrameCount
		snap.BFrameCount = va.BFrameCount
		snap.AVCConfigReceived = va.AVCConfigReceived
	}
	if aa != nil {
		snap.AudioSoundFormat = aa.SoundFormat
		snap.AudioSampleRate = aa.EffectiveSampleRate()
		snap.AudioChannels = aa.EffectiveChannels()
		snap.AACProfile = aa.ObjectTypeName()
		snap.ASCReceived = aa.ASCReceived
	}
	snap.ErrorCount = diagnostics.ErrorCount(diag)
	snap.WarningCount = diagnostics.WarningCount(diag)
	return snap
}

// durationStats is the subset of *stats.StreamStats a Snapshot needs,
// kept as plain values so buildSnapshot doesn't import the stats
// package's mutable type directly.
type durationStats struct {
	durationSecs          float64
	keyframeIntervalSecs  float64
	totalVideoFrames      uint64
	totalVideoBytes       uint64
	totalAudioBytes       uint64
	fps                   float64
	hasFPS                bool
	videoBitrateKbps      float64
	hasVideoBitrate       bool
	audioBitrateKbps      float64
	hasAudioBitrate       bool
}
