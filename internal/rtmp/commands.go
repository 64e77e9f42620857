package rtmp

import "encoding/binary"

// Chunk stream ids used for messages this handler originates, mirroring
// the conventional RTMP server assignment (2 for protocol control, 3
// for commands, separate ids for audio/video/data so none of them ever
// block on another's fragmented chunks).
const (
	CsIDProtocolControl uint32 = 2
	CsIDCommand         uint32 = 3
	CsIDAudio           uint32 = 4
	CsIDVideo           uint32 = 5
	CsIDData            uint32 = 6
)

// DefaultWindowAckSize is the Window Acknowledgement Size advertised to
// publishers that don't have one configured explicitly.
const DefaultWindowAckSize = 2500000

// EventKind discriminates the session-level facts a MessageHandler
// surfaces as it works through a publisher's messages.
type EventKind int

const (
	EventConnected EventKind = iota
	EventPublishing
	EventStreamEnded
	EventAudioData
	EventVideoData
	EventMetadata
)

// Event is a single session-level fact produced by HandleMessage. Not
// every field is populated for every Kind; see the per-field comments.
type Event struct {
	Kind       EventKind
	App        string // EventConnected, EventPublishing, EventStreamEnded
	StreamName string // EventPublishing, EventStreamEnded
	Timestamp  uint32 // EventAudioData, EventVideoData
	Payload    []byte // EventAudioData, EventVideoData
	Metadata   []Amf0Property
}

// MessageHandler drives the command state machine described in the
// dispatch table: it consumes reassembled Messages and produces the
// Events an ingest session cares about plus the response Messages (if
// any) that must be chunked back to the publisher.
type MessageHandler struct {
	WindowAckSize uint32

	bytesRead   uint64
	lastAckedAt uint64

	peerWindowAckSize uint32

	app        string
	streamName string
	published  bool
}

// NewMessageHandler returns a handler advertising DefaultWindowAckSize.
func NewMessageHandler() *MessageHandler {
	return &MessageHandler{WindowAckSize: DefaultWindowAckSize}
}

// TrackBytes records n additional raw bytes read off the wire since the
// last call and, once the cumulative total has advanced by at least
// WindowAckSize, returns the Acknowledgement message to send back.
func (h *MessageHandler) TrackBytes(n int) (Message, bool) {
	h.bytesRead += uint64(n)
	if h.WindowAckSize == 0 || h.bytesRead-h.lastAckedAt < uint64(h.WindowAckSize) {
		return Message{}, false
	}
	h.lastAckedAt = h.bytesRead
	return Message{TypeID: TypeAck, Payload: binary.BigEndian.AppendUint32(nil, uint32(h.bytesRead))}, true
}

// HandleMessage processes one reassembled Message. r is the ChunkReader
// the message was read from, so TypeSetChunkSize can apply immediately
// to subsequent parsing.
func (h *MessageHandler) HandleMessage(r *ChunkReader, msg Message) ([]Event, []Message, error) {
	switch msg.TypeID {
	case TypeSetChunkSize:
		if len(msg.Payload) >= 4 {
			r.SetChunkSize(binary.BigEndian.Uint32(msg.Payload) & 0x7FFFFFFF)
		}
		return nil, nil, nil

	case TypeAck:
		// Peer acknowledging bytes we sent; nothing to act on.
		return nil, nil, nil

	case TypeUserControl:
		return h.handleUserControl(msg)

	case TypeWindowAck:
		if len(msg.Payload) >= 4 {
			h.peerWindowAckSize = binary.BigEndian.Uint32(msg.Payload)
		}
		return nil, nil, nil

	case TypeSetPeerBW:
		// Peer telling us how much it can receive; this handler never
		// sends enough unsolicited data for that to matter.
		return nil, nil, nil

	case TypeAudio:
		return []Event{{Kind: EventAudioData, Timestamp: msg.Timestamp, Payload: msg.Payload}}, nil, nil

	case TypeVideo:
		return []Event{{Kind: EventVideoData, Timestamp: msg.Timestamp, Payload: msg.Payload}}, nil, nil

	case TypeAMF0Data:
		return h.handleData(msg)

	case TypeAMF0Command:
		return h.handleCommand(msg)

	default:
		return nil, nil, nil
	}
}

func (h *MessageHandler) handleUserControl(msg Message) ([]Event, []Message, error) {
	if len(msg.Payload) < 2 {
		return nil, nil, nil
	}
	eventType := binary.BigEndian.Uint16(msg.Payload)
	if eventType != UserControlPingRequest {
		return nil, nil, nil
	}
	resp := Message{
		TypeID:  TypeUserControl,
		Payload: append([]byte{0, byte(UserControlPingResponse)}, msg.Payload[2:]...),
	}
	return nil, []Message{resp}, nil
}

func (h *MessageHandler) handleData(msg Message) ([]Event, []Message, error) {
	values := DecodeAmf0Sequence(msg.Payload)
	if len(values) < 2 || values[0].Kind != Amf0String || values[0].String != "onMetaData" {
		return nil, nil, nil
	}
	return []Event{{Kind: EventMetadata, Metadata: values[1].Properties}}, nil, nil
}

func (h *MessageHandler) handleCommand(msg Message) ([]Event, []Message, error) {
	values := DecodeAmf0Sequence(msg.Payload)
	if len(values) < 1 || values[0].Kind != Amf0String {
		return nil, nil, nil
	}
	name := values[0].String
	var tid float64
	if len(values) > 1 && values[1].Kind == Amf0Number {
		tid = values[1].Number
	}

	switch name {
	case "connect":
		return h.handleConnect(values, tid)
	case "createStream":
		return nil, []Message{h.encodeCommand("_result", tid, Amf0NullVal(), Amf0Num(1))}, nil
	case "publish":
		return h.handlePublish(values)
	case "FCUnpublish", "deleteStream":
		if h.published {
			ev := Event{Kind: EventStreamEnded, App: h.app, StreamName: h.streamName}
			h.published = false
			return []Event{ev}, nil, nil
		}
		return nil, nil, nil
	case "releaseStream":
		return nil, []Message{h.encodeCommand("_result", tid, Amf0NullVal())}, nil
	case "FCPublish":
		return nil, []Message{h.encodeCommand("onFCPublish", 0, Amf0NullVal())}, nil
	default:
		// _result, _error, onStatus, _checkbw and the like are replies
		// to commands a publisher session never originates, so there is
		// nothing to act on; but an unrecognized command with a nonzero
		// transaction id still expects some reply, or well-behaved
		// encoders stall waiting for one.
		if tid > 0 {
			return nil, []Message{h.encodeCommand("_result", tid, Amf0NullVal())}, nil
		}
		return nil, nil, nil
	}
}

func (h *MessageHandler) handleConnect(values []Amf0Value, tid float64) ([]Event, []Message, error) {
	if len(values) > 2 {
		if appVal, ok := values[2].Get("app"); ok && appVal.Kind == Amf0String {
			h.app = appVal.String
		}
	}

	responses := []Message{
		h.protocolControl(TypeWindowAck, h.WindowAckSize),
		h.protocolControl(TypeSetPeerBW, h.WindowAckSize, 2), // dynamic limit type
		h.protocolControl(TypeSetChunkSize, 4096),
		h.userControl(UserControlStreamBegin, 0),
	}

	props := Amf0Obj(
		Amf0Property{Key: "fmsVer", Value: Amf0Str("FMS/3,5,7,7009")},
		Amf0Property{Key: "capabilities", Value: Amf0Num(31)},
		Amf0Property{Key: "mode", Value: Amf0Num(1)},
	)
	info := Amf0Obj(
		Amf0Property{Key: "level", Value: Amf0Str("status")},
		Amf0Property{Key: "code", Value: Amf0Str("NetConnection.Connect.Success")},
		Amf0Property{Key: "description", Value: Amf0Str("Connection succeeded.")},
		Amf0Property{Key: "objectEncoding", Value: Amf0Num(0)},
	)
	responses = append(responses, h.encodeCommand("_result", tid, props, info))

	return []Event{{Kind: EventConnected, App: h.app}}, responses, nil
}

func (h *MessageHandler) handlePublish(values []Amf0Value) ([]Event, []Message, error) {
	if len(values) > 3 && values[3].Kind == Amf0String {
		h.streamName = values[3].String
	}
	h.published = true

	streamBegin := h.userControl(UserControlStreamBegin, 1)
	status := Amf0Obj(
		Amf0Property{Key: "level", Value: Amf0Str("status")},
		Amf0Property{Key: "code", Value: Amf0Str("NetStream.Publish.Start")},
		Amf0Property{Key: "description", Value: Amf0Str("Publishing started.")},
	)
	onStatus := h.encodeCommand("onStatus", 0, Amf0NullVal(), status)

	ev := Event{Kind: EventPublishing, App: h.app, StreamName: h.streamName}
	return []Event{ev}, []Message{streamBegin, onStatus}, nil
}

func (h *MessageHandler) encodeCommand(name string, tid float64, args ...Amf0Value) Message {
	seq := append([]Amf0Value{Amf0Str(name), Amf0Num(tid)}, args...)
	return Message{TypeID: TypeAMF0Command, Payload: EncodeAmf0Sequence(nil, seq...)}
}

func (h *MessageHandler) protocolControl(typeID uint8, val uint32, extra ...byte) Message {
	payload := binary.BigEndian.AppendUint32(nil, val)
	payload = append(payload, extra...)
	return Message{TypeID: typeID, Payload: payload}
}

func (h *MessageHandler) userControl(eventType uint16, streamID uint32) Message {
	payload := binary.BigEndian.AppendUint16(nil, eventType)
	payload = binary.BigEndian.AppendUint32(payload, streamID)
	return Message{TypeID: TypeUserControl, Payload: payload}
}

// ChooseCsID picks the chunk stream id a response Message should be
// written on, keeping protocol control, commands, audio, video, and
// data on independent streams.
func ChooseCsID(typeID uint8) uint32 {
	switch typeID {
	case TypeSetChunkSize, TypeAbortMessage, TypeAck, TypeUserControl, TypeWindowAck, TypeSetPeerBW:
		return CsIDProtocolControl
	case TypeAudio:
		return CsIDAudio
	case TypeVideo:
		return CsIDVideo
	case TypeAMF0Data, TypeAMF3Data:
		return CsIDData
	default:
		return CsIDCommand
	}
}
