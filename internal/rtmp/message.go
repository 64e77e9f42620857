// Package rtmp implements the RTMP 1.0 wire protocol: the simple
// handshake, chunk-stream reassembly/serialization, the AMF0 value
// codec, and the command state machine that drives a publisher from
// connect through publish.
package rtmp

// RtmpMessage type-ids (RTMP spec section 3.1 / 5.x "message type id").
const (
	TypeSetChunkSize   = 1
	TypeAbortMessage   = 2
	TypeAck            = 3
	TypeUserControl    = 4
	TypeWindowAck      = 5
	TypeSetPeerBW      = 6
	TypeAudio          = 8
	TypeVideo          = 9
	TypeAMF3Data       = 15
	TypeAMF3Command    = 17
	TypeAMF0Data       = 18
	TypeAMF0Command    = 20
)

// User Control (type 4) event types.
const (
	UserControlStreamBegin = 0
	UserControlPingRequest = 6
	UserControlPingResponse = 7
)

// Message is a fully reassembled RTMP message: the unit the
// ChunkReader produces and the ChunkWriter consumes.
type Message struct {
	Timestamp uint32
	TypeID    uint8
	StreamID  uint32
	Payload   []byte
}
