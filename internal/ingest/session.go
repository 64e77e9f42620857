package ingest

import (
	"time"

	"github.com/streamwell/rtmp-probe/internal/analysis"
	"github.com/streamwell/rtmp-probe/internal/diagnostics"
	"github.com/streamwell/rtmp-probe/internal/rtmp"
	"github.com/streamwell/rtmp-probe/internal/stats"
)

// Session owns every per-connection component named in §3's
// (expansion) Session type: one ChunkReader, one MessageHandler, a
// VideoAnalyzer and AudioAnalyzer, a StreamStats, and a
// StreamDiagnostics, plus the bookkeeping (app, stream key, encoder
// name, metadata-received flag) a Snapshot needs. It runs on a single
// goroutine and is not safe for concurrent use.
type Session struct {
	reader  *rtmp.ChunkReader
	writer  *rtmp.ChunkWriter
	handler *rtmp.MessageHandler

	video *analysis.VideoAnalyzer
	audio *analysis.AudioAnalyzer
	stats *stats.StreamStats
	diag  *diagnostics.StreamDiagnostics

	profile diagnostics.ServiceProfile

	app       string
	streamKey string
	encoder   string

	metadataReceived bool
	ended            bool
}

// NewSession returns a Session ready to consume chunk bytes. The caller
// drives rtmp.ServerHandshake first and passes any bytes it returned
// beyond C2 as seed, which becomes the ChunkReader's initial input.
func NewSession(seed []byte, windowAckSize uint32, profile diagnostics.ServiceProfile) *Session {
	h := rtmp.NewMessageHandler()
	if windowAckSize > 0 {
		h.WindowAckSize = windowAckSize
	}
	return &Session{
		reader:  rtmp.NewChunkReader(seed),
		writer:  rtmp.NewChunkWriter(),
		handler: h,
		video:   &analysis.VideoAnalyzer{},
		audio:   &analysis.AudioAnalyzer{},
		stats:   stats.New(),
		diag:    diagnostics.New(),
		profile: profile,
	}
}

// Ended reports whether a deleteStream/FCUnpublish ended the publish.
func (s *Session) Ended() bool { return s.ended }

// App and StreamKey expose the identifiers a caller logs alongside
// session errors.
func (s *Session) App() string       { return s.app }
func (s *Session) StreamKey() string { return s.streamKey }

// HandleChunk feeds newly read bytes into the chunk reassembler,
// drives every fully reassembled message through the command state
// machine, and returns the bytes that must be written back to the
// publisher (response messages, chunked in arrival order) before the
// next read.
func (s *Session) HandleChunk(data []byte) (outbound []byte, err error) {
	s.reader.Feed(data)

	if ack, ok := s.handler.TrackBytes(len(data)); ok {
		outbound = s.writer.WriteMessage(outbound, rtmp.ChooseCsID(ack.TypeID), ack)
	}

	msgs, err := s.reader.ReadMessages()
	if err != nil {
		return outbound, err
	}

	for _, msg := range msgs {
		events, responses, err := s.handler.HandleMessage(s.reader, msg)
		if err != nil {
			return outbound, err
		}
		for _, resp := range responses {
			outbound = s.writer.WriteMessage(outbound, rtmp.ChooseCsID(resp.TypeID), resp)
		}
		for _, ev := range events {
			s.applyEvent(ev)
		}
	}
	return outbound, nil
}

func (s *Session) applyEvent(ev rtmp.Event) {
	switch ev.Kind {
	case rtmp.EventConnected:
		s.app = ev.App
		s.diag.RecordStreamStart()

	case rtmp.EventPublishing:
		s.streamKey = ev.StreamName

	case rtmp.EventStreamEnded:
		s.ended = true

	case rtmp.EventVideoData:
		s.observeVideo(ev)

	case rtmp.EventAudioData:
		s.observeAudio(ev)

	case rtmp.EventMetadata:
		s.observeMetadata(ev)
	}
}

func (s *Session) observeVideo(ev rtmp.Event) {
	if len(ev.Payload) < 1 {
		return
	}
	prevBFrames := s.video.BFrameCount
	seqHeaderJustReceived := s.video.Observe(ev.Payload)
	s.diag.RecordVideoTimestamp(ev.Timestamp)

	if seqHeaderJustReceived {
		s.diag.RecordAVCSeqHeader()
		return
	}

	frameType := (ev.Payload[0] >> 4) & 0x0F
	isKeyframe := frameType == analysis.FrameKeyframe || frameType == analysis.FrameGeneratedKey
	if frameType == analysis.FrameInfoCommand {
		return
	}
	s.stats.RecordVideoFrame(len(ev.Payload), isKeyframe)
	if isKeyframe {
		s.diag.RecordKeyframe(s.stats.KeyframeIntervalSecs)
	}
	if s.video.BFrameCount > prevBFrames {
		s.diag.RecordBFrame()
	}
}

func (s *Session) observeAudio(ev rtmp.Event) {
	if len(ev.Payload) < 1 {
		return
	}
	ascJustReceived := s.audio.Observe(ev.Payload)
	s.diag.RecordAudioTimestamp(ev.Timestamp)

	if ascJustReceived {
		s.diag.RecordAACSeqHeader()
		return
	}
	s.stats.RecordAudioFrame(len(ev.Payload))
}

func (s *Session) observeMetadata(ev rtmp.Event) {
	s.metadataReceived = true
	meta := rtmp.Amf0Value{Kind: rtmp.Amf0Object, Properties: ev.Metadata}

	_, hasWidth := meta.Get("width")
	_, hasHeight := meta.Get("height")
	_, hasFPS := meta.Get("framerate")
	if !hasFPS {
		_, hasFPS = meta.Get("fps")
	}
	_, hasBitrate := meta.Get("videodatarate")

	if enc, ok := meta.Get("encoder"); ok && enc.Kind == rtmp.Amf0String {
		s.encoder = enc.String
	}
	s.diag.RecordMetadata(hasWidth && hasHeight, hasFPS, hasBitrate)
}

// Snapshot assembles the current Snapshot: the periodic
// StreamDiagnostics.CheckAll call plus every other analyzer's current
// state, as the 1Hz tick in the concurrency model requires.
func (s *Session) Snapshot(now time.Time) Snapshot {
	diag := s.diag.CheckAll(
		s.video.Width, s.video.Height, s.video.ProfileName(),
		s.audio.EffectiveSampleRate(), s.audio.EffectiveChannels(), s.audio.ObjectTypeName(),
		s.profile, s.stats.KeyframeIntervalSecs,
	)

	fps, hasFPS := s.stats.CurrentFPS()
	videoBr, hasVideoBr := s.stats.CurrentVideoBitrateKbps()
	audioBr, hasAudioBr := s.stats.CurrentAudioBitrateKbps()

	ds := durationStats{
		durationSecs:         s.stats.DurationSecs(),
		keyframeIntervalSecs: s.stats.KeyframeIntervalSecs,
		totalVideoFrames:     s.stats.TotalVideoFrames,
		totalVideoBytes:      s.stats.TotalVideoBytes,
		totalAudioBytes:      s.stats.TotalAudioBytes,
		fps:                  fps,
		hasFPS:               hasFPS,
		videoBitrateKbps:     videoBr,
		hasVideoBitrate:      hasVideoBr,
		audioBitrateKbps:     audioBr,
		hasAudioBitrate:      hasAudioBr,
	}

	snap := buildSnapshot(s.app, s.streamKey, s.encoder, s.video, s.audio, ds, diag, now)
	snap.MetadataReceived = s.metadataReceived
	return snap
}
