package stats

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) {
	f.t = f.t.Add(d)
}

func newFake() (*StreamStats, *fakeClock) {
	c := &fakeClock{t: time.Unix(1700000000, 0)}
	s := &StreamStats{Now: c.now}
	return s, c
}

func TestRecordVideoFrameTracksTotalsAndKeyframeInterval(t *testing.T) {
	s, c := newFake()

	s.RecordVideoFrame(1000, true)
	if s.TotalVideoFrames != 1 || s.TotalVideoBytes != 1000 {
		t.Fatalf("totals = %d/%d", s.TotalVideoFrames, s.TotalVideoBytes)
	}
	if s.KeyframeIntervalSecs != 0 {
		t.Fatalf("first keyframe should not set an interval, got %v", s.KeyframeIntervalSecs)
	}

	c.advance(2500 * time.Millisecond)
	s.RecordVideoFrame(1200, true)
	if got, want := s.KeyframeIntervalSecs, 2.5; got != want {
		t.Fatalf("keyframe interval = %v, want %v", got, want)
	}
}

func TestRollingWindowTrimsEntriesOlderThanTwoSeconds(t *testing.T) {
	s, c := newFake()

	for i := 0; i < 5; i++ {
		s.RecordVideoFrame(100, false)
		c.advance(500 * time.Millisecond)
	}
	// 5 frames spaced 500ms apart span 2s; a sixth recorded 500ms later
	// pushes the span past 2s, so that record call must trim the oldest.
	s.RecordVideoFrame(100, false)
	now := c.now()
	cutoff := now.Add(-window)
	for _, sm := range s.videoFrames {
		if sm.at.Before(cutoff) {
			t.Fatalf("entry at %v is older than cutoff %v", sm.at, cutoff)
		}
	}
}

func TestCurrentFPSRequiresTwoSamplesAndMinimumElapsed(t *testing.T) {
	s, _ := newFake()

	if _, ok := s.CurrentFPS(); ok {
		t.Fatal("expected no fps with zero samples")
	}

	s.RecordVideoFrame(100, false)
	if _, ok := s.CurrentFPS(); ok {
		t.Fatal("expected no fps with one sample")
	}
}

func TestCurrentFPSComputesFromWindow(t *testing.T) {
	s, c := newFake()

	for i := 0; i < 10; i++ {
		s.RecordVideoFrame(100, false)
		c.advance(100 * time.Millisecond)
	}

	fps, ok := s.CurrentFPS()
	if !ok {
		t.Fatal("expected fps to be computable")
	}
	if fps < 9.9 || fps > 10.1 {
		t.Fatalf("fps = %v, want ~10", fps)
	}
}

func TestCurrentVideoBitrateKbps(t *testing.T) {
	s, c := newFake()

	for i := 0; i < 2; i++ {
		s.RecordVideoFrame(12500, false) // 100kb per frame
		c.advance(1 * time.Second)
	}

	kbps, ok := s.CurrentVideoBitrateKbps()
	if !ok {
		t.Fatal("expected a bitrate")
	}
	if kbps < 190 || kbps > 210 {
		t.Fatalf("bitrate = %v kbps, want ~200", kbps)
	}
}

func TestDurationSecsTracksFirstRecordCall(t *testing.T) {
	s, c := newFake()

	if got := s.DurationSecs(); got != 0 {
		t.Fatalf("duration before any record = %v, want 0", got)
	}

	s.RecordAudioFrame(10)
	c.advance(3 * time.Second)
	if got := s.DurationSecs(); got < 2.9 || got > 3.1 {
		t.Fatalf("duration = %v, want ~3s", got)
	}
}
