package rtmp

import "testing"

func encodeTestCommand(name string, tid float64, args ...Amf0Value) []byte {
	seq := append([]Amf0Value{Amf0Str(name), Amf0Num(tid)}, args...)
	return EncodeAmf0Sequence(nil, seq...)
}

func TestMessageHandlerConnectProducesResponsesAndEvent(t *testing.T) {
	h := NewMessageHandler()
	r := NewChunkReader(nil)

	connectObj := Amf0Obj(
		Amf0Property{Key: "app", Value: Amf0Str("live")},
		Amf0Property{Key: "type", Value: Amf0Str("nonprivate")},
	)
	payload := encodeTestCommand("connect", 1, connectObj)
	msg := Message{TypeID: TypeAMF0Command, Payload: payload}

	events, responses, err := h.HandleMessage(r, msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventConnected || events[0].App != "live" {
		t.Fatalf("got events %+v", events)
	}
	// Window Ack Size, Set Peer Bandwidth, Set Chunk Size, Stream Begin, _result.
	if len(responses) != 5 {
		t.Fatalf("expected 5 responses, got %d: %+v", len(responses), responses)
	}
	if responses[0].TypeID != TypeWindowAck || responses[1].TypeID != TypeSetPeerBW {
		t.Fatalf("unexpected protocol control ordering: %+v", responses[:2])
	}
	if responses[2].TypeID != TypeSetChunkSize {
		t.Fatalf("expected Set Chunk Size third, got type %d", responses[2].TypeID)
	}
	if responses[3].TypeID != TypeUserControl {
		t.Fatalf("expected Stream Begin fourth, got type %d", responses[3].TypeID)
	}
	if responses[4].TypeID != TypeAMF0Command {
		t.Fatalf("expected _result as AMF0 command, got type %d", responses[4].TypeID)
	}
	resultValues := DecodeAmf0Sequence(responses[4].Payload)
	if len(resultValues) < 1 || resultValues[0].String != "_result" {
		t.Fatalf("expected _result command, got %+v", resultValues)
	}
}

func TestMessageHandlerFullPublishFlow(t *testing.T) {
	h := NewMessageHandler()
	r := NewChunkReader(nil)

	steps := []Message{
		{TypeID: TypeAMF0Command, Payload: encodeTestCommand("connect", 1, Amf0Obj(Amf0Property{Key: "app", Value: Amf0Str("live")}))},
		{TypeID: TypeAMF0Command, Payload: encodeTestCommand("releaseStream", 2, Amf0NullVal(), Amf0Str("mystream"))},
		{TypeID: TypeAMF0Command, Payload: encodeTestCommand("FCPublish", 3, Amf0NullVal(), Amf0Str("mystream"))},
		{TypeID: TypeAMF0Command, Payload: encodeTestCommand("createStream", 4, Amf0NullVal())},
		{TypeID: TypeAMF0Command, Payload: encodeTestCommand("publish", 5, Amf0NullVal(), Amf0Str("mystream"), Amf0Str("live"))},
	}

	var allEvents []Event
	for _, msg := range steps {
		events, _, err := h.HandleMessage(r, msg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		allEvents = append(allEvents, events...)
	}

	if len(allEvents) != 2 {
		t.Fatalf("expected Connected + Publishing events, got %+v", allEvents)
	}
	if allEvents[0].Kind != EventConnected {
		t.Fatalf("first event = %+v, want Connected", allEvents[0])
	}
	if allEvents[1].Kind != EventPublishing || allEvents[1].StreamName != "mystream" {
		t.Fatalf("publishing event = %+v", allEvents[1])
	}

	// A subsequent deleteStream should surface StreamEnded.
	endMsg := Message{TypeID: TypeAMF0Command, Payload: encodeTestCommand("deleteStream", 6, Amf0NullVal(), Amf0Num(1))}
	events, _, err := h.HandleMessage(r, endMsg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventStreamEnded {
		t.Fatalf("expected StreamEnded, got %+v", events)
	}
}

func TestMessageHandlerSetChunkSizeAppliesToReader(t *testing.T) {
	h := NewMessageHandler()
	r := NewChunkReader(nil)

	payload := make([]byte, 4)
	payload[0], payload[1], payload[2], payload[3] = 0x00, 0x00, 0x10, 0x00 // 4096
	_, _, err := h.HandleMessage(r, Message{TypeID: TypeSetChunkSize, Payload: payload})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.maxChunkSize != 4096 {
		t.Fatalf("chunk size = %d, want 4096", r.maxChunkSize)
	}
}

func TestMessageHandlerAudioVideoEvents(t *testing.T) {
	h := NewMessageHandler()
	r := NewChunkReader(nil)

	events, _, err := h.HandleMessage(r, Message{TypeID: TypeAudio, Timestamp: 10, Payload: []byte{0xAF, 0x01}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventAudioData || events[0].Timestamp != 10 {
		t.Fatalf("got %+v", events)
	}

	events, _, err = h.HandleMessage(r, Message{TypeID: TypeVideo, Timestamp: 20, Payload: []byte{0x17, 0x01}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventVideoData || events[0].Timestamp != 20 {
		t.Fatalf("got %+v", events)
	}
}

func TestMessageHandlerMetadataEvent(t *testing.T) {
	h := NewMessageHandler()
	r := NewChunkReader(nil)

	meta := Amf0Obj(
		Amf0Property{Key: "width", Value: Amf0Num(1920)},
		Amf0Property{Key: "height", Value: Amf0Num(1080)},
	)
	payload := EncodeAmf0Sequence(nil, Amf0Str("onMetaData"), meta)
	events, _, err := h.HandleMessage(r, Message{TypeID: TypeAMF0Data, Payload: payload})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventMetadata {
		t.Fatalf("got %+v", events)
	}
	width, ok := Amf0Value{Kind: Amf0Object, Properties: events[0].Metadata}.Get("width")
	if !ok || width.Number != 1920 {
		t.Fatalf("width = %+v, ok=%v", width, ok)
	}
}

func TestTrackBytesEmitsAckAtWindowThreshold(t *testing.T) {
	h := NewMessageHandler()
	h.WindowAckSize = 1000

	if _, ok := h.TrackBytes(500); ok {
		t.Fatalf("should not ack before the window threshold")
	}
	ack, ok := h.TrackBytes(600)
	if !ok {
		t.Fatalf("expected an ack once cumulative bytes crossed the window size")
	}
	if ack.TypeID != TypeAck {
		t.Fatalf("ack type = %d, want TypeAck", ack.TypeID)
	}
	if len(ack.Payload) != 4 {
		t.Fatalf("ack payload length = %d, want 4", len(ack.Payload))
	}

	if _, ok := h.TrackBytes(100); ok {
		t.Fatalf("should not ack again immediately after acking")
	}
}

func TestChooseCsIDSeparatesConcerns(t *testing.T) {
	cases := map[uint8]uint32{
		TypeWindowAck:   CsIDProtocolControl,
		TypeAudio:       CsIDAudio,
		TypeVideo:       CsIDVideo,
		TypeAMF0Data:    CsIDData,
		TypeAMF0Command: CsIDCommand,
	}
	for typeID, want := range cases {
		if got := ChooseCsID(typeID); got != want {
			t.Fatalf("ChooseCsID(%d) = %d, want %d", typeID, got, want)
		}
	}
}
