// Package chunk implements RTMP chunk stream demultiplexing and
// multiplexing: splitting/reassembling messages into/from the compact,
// header-compressed chunk wire format.
package chunk

// Header is a fully resolved chunk stream message header: the information
// needed to interpret and forward one complete message.
type Header struct {
	CSID     uint32
	AbsTime  uint32 // absolute timestamp, milliseconds, wraps at 2^32
	Size     uint32
	Type     byte
	StreamID uint32
}

// Message is one fully reassembled RTMP message, handed up from the
// demuxer once all its chunks have been received.
type Message struct {
	Header  Header
	Payload []byte
}

// rawHeader holds the fields actually present on the wire for one chunk,
// before merging with a prior base header. A nil field means "not present
// in this chunk type; inherit from the chunk stream's running state".
type rawHeader struct {
	time     *uint32
	size     *uint32
	msgType  *byte
	streamID *uint32
}

// chunkBase is the per-chunk-stream running state used to resolve the
// fields a type 1/2/3 chunk header omits.
type chunkBase struct {
	absTime  uint32
	rawTime  uint32
	size     uint32
	msgType  byte
	streamID uint32
}

// resolve merges a raw, possibly-partial header against the chunk stream's
// running base state, producing a fully resolved Header and the base state
// to remember for the next chunk on this stream.
func resolve(csid uint32, r rawHeader, base *chunkBase) (Header, chunkBase, error) {
	var b chunkBase
	if base != nil {
		b = *base
	}

	absolute := r.streamID != nil

	rawTime := b.rawTime
	if r.time != nil {
		rawTime = *r.time
	}
	size := b.size
	if r.size != nil {
		size = *r.size
	}
	msgType := b.msgType
	if r.msgType != nil {
		msgType = *r.msgType
	}
	streamID := b.streamID
	if r.streamID != nil {
		streamID = *r.streamID
	}

	// A relative (fmt 1/2/3) first chunk on a chunk stream has no prior
	// base to inherit from; b is then still its zero value, so absTime
	// collapses to rawTime exactly as if the stream's base timestamp were
	// 0. fmt-1/2 still carry their own size/type/time, so the message is
	// fully resolvable without one.
	var absTime uint32
	if absolute {
		absTime = rawTime
	} else {
		absTime = b.absTime + rawTime
	}

	h := Header{CSID: csid, AbsTime: absTime, Size: size, Type: msgType, StreamID: streamID}
	nb := chunkBase{absTime: absTime, rawTime: rawTime, size: size, msgType: msgType, streamID: streamID}
	return h, nb, nil
}
