// Package diagnostics implements the rule engine that turns raw
// protocol/codec observations into the severity-ranked list a
// dashboard renders: missing sequence headers, keyframe pacing
// relative to a target platform's requirements, timestamp anomalies,
// and codec-choice warnings.
package diagnostics

import (
	"fmt"
	"strings"
	"time"
)

// Severity orders diagnostics for display; higher values sort first.
type Severity int

const (
	Info Severity = iota
	Warning
	Error
)

func (s Severity) String() string {
	switch s {
	case Error:
		return "error"
	case Warning:
		return "warning"
	default:
		return "info"
	}
}

// Diagnostic is a single rule firing.
type Diagnostic struct {
	Severity Severity
	Message  string
}

// ServiceProfile selects the keyframe-interval and audio sample-rate
// thresholds a session is held to. Facebook has no rules of its own
// in the table this engine implements, so it is treated like Generic
// (see DESIGN.md).
type ServiceProfile int

const (
	ProfileGeneric ServiceProfile = iota
	ProfileYouTube
	ProfileTwitch
	ProfileFacebook
)

// ParseServiceProfile maps the config string form to a ServiceProfile.
func ParseServiceProfile(s string) ServiceProfile {
	switch strings.ToLower(s) {
	case "youtube":
		return ProfileYouTube
	case "twitch":
		return ProfileTwitch
	case "facebook":
		return ProfileFacebook
	default:
		return ProfileGeneric
	}
}

func maxKeyframeIntervalSecs(p ServiceProfile) float64 {
	switch p {
	case ProfileTwitch:
		return 2
	case ProfileYouTube:
		return 4
	default:
		return 4
	}
}

var allowedSampleRates = map[ServiceProfile]map[int]bool{
	ProfileTwitch:  {44100: true, 48000: true},
	ProfileYouTube: {44100: true, 48000: true, 96000: true},
	ProfileGeneric: {22050: true, 44100: true, 48000: true, 96000: true},
}

func sampleRateAllowed(p ServiceProfile, sr int) bool {
	table := allowedSampleRates[p]
	if table == nil {
		table = allowedSampleRates[ProfileGeneric]
	}
	return table[sr]
}

const throttleInterval = 500 * time.Millisecond

// StreamDiagnostics accumulates the event history check_all reasons
// about. Not safe for concurrent use.
type StreamDiagnostics struct {
	Now func() time.Time

	streamStart time.Time
	started     bool

	avcSeqHeaderReceived bool
	aacSeqHeaderReceived bool

	firstKeyframeAt     time.Time
	haveFirstKeyframe   bool
	keyframeIntervals   []float64
	hasBFrames          bool

	haveLastVideoTS  bool
	lastVideoTS      uint32
	videoRollbacks   int
	maxVideoTSGapMs  int64

	haveLastAudioTS  bool
	lastAudioTS      uint32
	audioRollbacks   int
	maxAudioTSGapMs  int64

	haveDesync    bool
	maxDesyncMs   int64 // signed, largest by absolute value

	metadataReceived bool
	metaHasDims      bool
	metaHasFPS       bool
	metaHasBitrate   bool

	haveLastCheck bool
	lastCheckAt   time.Time
	cached        []Diagnostic
}

// New returns a StreamDiagnostics using the wall clock.
func New() *StreamDiagnostics {
	return &StreamDiagnostics{Now: time.Now}
}

func (d *StreamDiagnostics) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// RecordStreamStart marks t=0 for the "stream age" computations below.
func (d *StreamDiagnostics) RecordStreamStart() {
	if !d.started {
		d.streamStart = d.now()
		d.started = true
	}
}

func (d *StreamDiagnostics) RecordAVCSeqHeader() { d.avcSeqHeaderReceived = true }
func (d *StreamDiagnostics) RecordAACSeqHeader() { d.aacSeqHeaderReceived = true }

// RecordKeyframe records that a keyframe arrived with the given
// interval since the previous one (0 for the first). It tracks the
// first-keyframe arrival time and keeps the last 10 intervals.
func (d *StreamDiagnostics) RecordKeyframe(currentIntervalSecs float64) {
	now := d.now()
	if !d.haveFirstKeyframe {
		d.firstKeyframeAt = now
		d.haveFirstKeyframe = true
	}
	if currentIntervalSecs > 0 {
		d.keyframeIntervals = append(d.keyframeIntervals, currentIntervalSecs)
		if len(d.keyframeIntervals) > 10 {
			d.keyframeIntervals = d.keyframeIntervals[1:]
		}
	}
}

func (d *StreamDiagnostics) RecordBFrame() { d.hasBFrames = true }

// RecordMetadata records that onMetaData arrived and what it
// contained.
func (d *StreamDiagnostics) RecordMetadata(hasDims, hasFPS, hasBitrate bool) {
	d.metadataReceived = true
	d.metaHasDims = hasDims
	d.metaHasFPS = hasFPS
	d.metaHasBitrate = hasBitrate
}

// RecordVideoTimestamp updates rollback/gap bookkeeping for the video
// timeline and the A/V desync tracker.
func (d *StreamDiagnostics) RecordVideoTimestamp(ts uint32) {
	d.lastVideoTS, d.videoRollbacks, d.maxVideoTSGapMs = recordTimestamp(ts, d.lastVideoTS, d.haveLastVideoTS, d.videoRollbacks, d.maxVideoTSGapMs)
	d.haveLastVideoTS = true
	d.updateDesync()
}

// RecordAudioTimestamp mirrors RecordVideoTimestamp for the audio
// timeline.
func (d *StreamDiagnostics) RecordAudioTimestamp(ts uint32) {
	d.lastAudioTS, d.audioRollbacks, d.maxAudioTSGapMs = recordTimestamp(ts, d.lastAudioTS, d.haveLastAudioTS, d.audioRollbacks, d.maxAudioTSGapMs)
	d.haveLastAudioTS = true
	d.updateDesync()
}

// recordTimestamp applies the rollback-vs-wrap distinction: a new
// timestamp smaller than the last one is a rollback only if the drop
// is less than 2^31 (otherwise it's legitimate 32-bit wraparound, which
// this engine does not flag). A forward move updates the largest gap
// seen.
func recordTimestamp(new, last uint32, haveLast bool, rollbacks int, maxGapMs int64) (uint32, int, int64) {
	if !haveLast {
		return new, rollbacks, maxGapMs
	}
	if new < last && (last-new) < (1<<31) {
		rollbacks++
	} else if new > last {
		gap := int64(new - last)
		if gap > maxGapMs {
			maxGapMs = gap
		}
	}
	return new, rollbacks, maxGapMs
}

func (d *StreamDiagnostics) updateDesync() {
	if !d.haveLastVideoTS || !d.haveLastAudioTS {
		return
	}
	desync := int64(d.lastVideoTS) - int64(d.lastAudioTS)
	abs := desync
	if abs < 0 {
		abs = -abs
	}
	maxAbs := d.maxDesyncMs
	if maxAbs < 0 {
		maxAbs = -maxAbs
	}
	if !d.haveDesync || abs > maxAbs {
		d.maxDesyncMs = desync
		d.haveDesync = true
	}
}

// CheckAll rebuilds the diagnostic list from the current state plus
// the codec/profile facts passed in, throttled to once per 500ms: a
// call within that window returns the previous buffer unchanged.
func (d *StreamDiagnostics) CheckAll(videoW, videoH uint32, videoProfile string, audioSR, audioCh int, aacProfile string, profile ServiceProfile, currentKfIntervalSecs float64) []Diagnostic {
	now := d.now()
	if d.haveLastCheck && now.Sub(d.lastCheckAt) < throttleInterval {
		return d.cached
	}
	d.lastCheckAt = now
	d.haveLastCheck = true

	var out []Diagnostic
	add := func(sev Severity, format string, args ...any) {
		out = append(out, Diagnostic{Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	streamAge := time.Duration(0)
	if d.started {
		streamAge = now.Sub(d.streamStart)
	}

	if !d.avcSeqHeaderReceived {
		add(Error, "No AVC sequence header received")
	}
	if !d.aacSeqHeaderReceived {
		add(Error, "No AAC sequence header received")
	}

	if !d.haveFirstKeyframe {
		if streamAge > 2*time.Second {
			add(Warning, "No keyframe received after %.1fs", streamAge.Seconds())
		}
	} else if d.firstKeyframeAt.Sub(d.streamStart) > time.Second {
		add(Warning, "First keyframe arrived %.1fs after stream start", d.firstKeyframeAt.Sub(d.streamStart).Seconds())
	}

	maxInterval := maxKeyframeIntervalSecs(profile)
	if currentKfIntervalSecs > maxInterval {
		add(Error, "Keyframe interval %.1fs exceeds %s max (%gs)", currentKfIntervalSecs, profileName(profile), maxInterval)
	} else if currentKfIntervalSecs > 0.9*maxInterval {
		add(Warning, "Keyframe interval %.1fs is near the %s max (%gs)", currentKfIntervalSecs, profileName(profile), maxInterval)
	}

	if d.hasBFrames {
		if profile == ProfileTwitch {
			add(Warning, "B-frames present")
		} else {
			add(Info, "B-frames present")
		}
	}

	if strings.Contains(videoProfile, "Baseline") {
		add(Info, "Video profile is Baseline")
	}

	isStandard := standardResolution(videoW, videoH)
	if !isStandard && videoW%2 != 0 || videoH%2 != 0 {
		add(Error, "Odd resolution %dx%d", videoW, videoH)
	}

	if !sampleRateAllowed(profile, audioSR) {
		add(Error, "Unsupported audio sample rate %d Hz for %s", audioSR, profileName(profile))
	}
	if audioCh == 1 {
		add(Warning, "Mono audio")
	}
	if audioCh > 2 && profile == ProfileTwitch {
		add(Error, "Too many audio channels (%d) for Twitch", audioCh)
	}

	if strings.Contains(aacProfile, "Main") {
		add(Warning, "AAC Main profile in use")
	}
	if (strings.Contains(aacProfile, "HE-AAC") || strings.Contains(aacProfile, "SBR")) && profile == ProfileTwitch {
		add(Warning, "HE-AAC/SBR audio on Twitch")
	}

	if d.videoRollbacks > 0 || d.audioRollbacks > 0 {
		add(Error, "Video or audio timestamp rollback detected")
	}
	maxGapMs := d.maxVideoTSGapMs
	if d.maxAudioTSGapMs > maxGapMs {
		maxGapMs = d.maxAudioTSGapMs
	}
	if maxGapMs > 1000 {
		add(Warning, "Large timestamp gap (%dms)", maxGapMs)
	}

	if d.haveDesync {
		abs := d.maxDesyncMs
		if abs < 0 {
			abs = -abs
		}
		if abs > 500 {
			add(Warning, "A/V desync of %dms", d.maxDesyncMs)
		}
	}

	if !d.metadataReceived && streamAge > 2*time.Second {
		add(Warning, "No onMetaData received")
	}

	sortBySeverityDescending(out)
	d.cached = out
	return out
}

func standardResolution(w, h uint32) bool {
	switch [2]uint32{w, h} {
	case [2]uint32{1920, 1080}, [2]uint32{1280, 720}, [2]uint32{854, 480},
		[2]uint32{640, 360}, [2]uint32{2560, 1440}, [2]uint32{3840, 2160},
		[2]uint32{1080, 1920}, [2]uint32{720, 1280}:
		return true
	default:
		return false
	}
}

func profileName(p ServiceProfile) string {
	switch p {
	case ProfileTwitch:
		return "Twitch"
	case ProfileYouTube:
		return "YouTube"
	case ProfileFacebook:
		return "Facebook"
	default:
		return "Generic"
	}
}

// ErrorCount and WarningCount are derived from the most recently built
// buffer.
func ErrorCount(ds []Diagnostic) int   { return countSeverity(ds, Error) }
func WarningCount(ds []Diagnostic) int { return countSeverity(ds, Warning) }

func countSeverity(ds []Diagnostic, sev Severity) int {
	n := 0
	for _, d := range ds {
		if d.Severity == sev {
			n++
		}
	}
	return n
}

// sortBySeverityDescending is a small stable insertion sort: the rule
// count per call is always tiny, so there's no need for sort.Slice.
func sortBySeverityDescending(ds []Diagnostic) {
	for i := 1; i < len(ds); i++ {
		for j := i; j > 0 && ds[j].Severity > ds[j-1].Severity; j-- {
			ds[j], ds[j-1] = ds[j-1], ds[j]
		}
	}
}
