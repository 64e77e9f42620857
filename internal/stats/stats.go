// Package stats maintains the rolling, two-second windows a live
// dashboard renders once a second: frames-per-second, bitrate, and
// keyframe interval, all derived from timestamped samples rather than
// tracked as running counters so they reflect recent behavior instead
// of the stream's lifetime average.
package stats

import "time"

const window = 2 * time.Second

type sample struct {
	at    time.Time
	bytes int
}

// StreamStats accumulates per-session video/audio sample windows. It
// is not safe for concurrent use; a Session owns one and drives it
// from a single goroutine.
type StreamStats struct {
	Now func() time.Time

	streamStart time.Time
	started     bool

	videoFrames []sample // (time, _) — bytes unused, kept for symmetry
	videoBytes  []sample
	audioBytes  []sample

	lastKeyframeAt       time.Time
	haveLastKeyframe     bool
	KeyframeIntervalSecs float64

	TotalVideoFrames uint64
	TotalVideoBytes  uint64
	TotalAudioBytes  uint64
}

// New returns a StreamStats using the wall clock.
func New() *StreamStats {
	return &StreamStats{Now: time.Now}
}

func (s *StreamStats) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *StreamStats) markStart(now time.Time) {
	if !s.started {
		s.streamStart = now
		s.started = true
	}
}

// RecordVideoFrame appends a sample to the frame-times and video-byte
// windows, trims entries older than the 2-second cutoff, and updates
// the keyframe interval when is_keyframe and a previous keyframe
// exists.
func (s *StreamStats) RecordVideoFrame(bytesLen int, isKeyframe bool) {
	now := s.now()
	s.markStart(now)

	s.videoFrames = append(s.videoFrames, sample{at: now})
	s.videoBytes = append(s.videoBytes, sample{at: now, bytes: bytesLen})
	s.videoFrames = trim(s.videoFrames, now)
	s.videoBytes = trim(s.videoBytes, now)

	s.TotalVideoFrames++
	s.TotalVideoBytes += uint64(bytesLen)

	if isKeyframe {
		if s.haveLastKeyframe {
			s.KeyframeIntervalSecs = now.Sub(s.lastKeyframeAt).Seconds()
		}
		s.lastKeyframeAt = now
		s.haveLastKeyframe = true
	}
}

// RecordAudioFrame appends a sample to the audio-byte window and
// trims it, mirroring RecordVideoFrame's byte-window handling.
func (s *StreamStats) RecordAudioFrame(bytesLen int) {
	now := s.now()
	s.markStart(now)

	s.audioBytes = append(s.audioBytes, sample{at: now, bytes: bytesLen})
	s.audioBytes = trim(s.audioBytes, now)
	s.TotalAudioBytes += uint64(bytesLen)
}

func trim(xs []sample, now time.Time) []sample {
	cutoff := now.Add(-window)
	i := 0
	for i < len(xs) && xs[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return xs
	}
	return append(xs[:0:0], xs[i:]...)
}

// DurationSecs reports how long the stream has been running, or 0 if
// no frame has been recorded yet.
func (s *StreamStats) DurationSecs() float64 {
	if !s.started {
		return 0
	}
	return s.now().Sub(s.streamStart).Seconds()
}

// CurrentFPS returns the frame rate derived from the video-frame
// window, or (0, false) if there are fewer than two samples or the
// elapsed time between the first and last is under a millisecond.
func (s *StreamStats) CurrentFPS() (float64, bool) {
	return rate(len(s.videoFrames), s.videoFrames)
}

func rate(n int, xs []sample) (float64, bool) {
	if n < 2 {
		return 0, false
	}
	elapsed := xs[n-1].at.Sub(xs[0].at)
	if elapsed < time.Millisecond {
		return 0, false
	}
	return float64(n-1) / elapsed.Seconds(), true
}

// CurrentVideoBitrateKbps sums the video-byte window and converts to
// kbps over its elapsed span; (0, false) if the window can't support a
// rate yet.
func (s *StreamStats) CurrentVideoBitrateKbps() (float64, bool) {
	return bitrate(s.videoBytes)
}

// CurrentAudioBitrateKbps mirrors CurrentVideoBitrateKbps for audio.
func (s *StreamStats) CurrentAudioBitrateKbps() (float64, bool) {
	return bitrate(s.audioBytes)
}

func bitrate(xs []sample) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	elapsed := xs[len(xs)-1].at.Sub(xs[0].at)
	if elapsed < time.Millisecond {
		return 0, false
	}
	var total int
	for _, x := range xs {
		total += x.bytes
	}
	return float64(total*8) / (elapsed.Seconds() * 1000), true
}
