package chunk

import "github.com/relaycast/rtmpcore/internal/rtmpbits"

// Category identifies the abstract kind of message being sent; the Muxer
// maps it to a concrete wire message type and assigns chunk-stream
// placement and priority.
type Category int

const (
	CategorySetChunkSize Category = iota
	CategoryAbortMessage
	CategoryAck
	CategoryUserControl
	CategoryWindowSize
	CategorySetBandwidth
	CategoryCommand
	CategoryData
	CategorySharedObject
	CategoryAudio
	CategoryVideo
	CategoryAggregate
)

var wireType = [...]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x14, 0x12, 0x13, 0x08, 0x09, 0x16}

// WireType maps a Category to its wire message type byte.
func WireType(cat Category) byte {
	return wireType[cat]
}

// CategoryForType reverse-maps a message's wire type byte (chunk.Header.Type)
// to the Category a caller routing demuxed Messages needs, e.g. to tell a
// COMMAND message from a DATA or AUDIO/VIDEO one.
func CategoryForType(t byte) (Category, bool) {
	for c, wt := range wireType {
		if wt == t {
			return Category(c), true
		}
	}
	return 0, false
}

const protoChunkStreamID = 2

// ChunkProducer receives fully-formed chunk header/body pairs for writing
// to the wire. The Muxer yields them in header-compressed form; the producer
// decides when (and in what order) to actually write.
type ChunkProducer interface {
	QueueChunks(priority int, chunks []EncodedChunk)
	Sync(priority int)
}

// EncodedChunk is one chunk's basic+message header plus its body slice.
type EncodedChunk struct {
	Header []byte
	Body   []byte
}

// SimpleChunkProducer writes every chunk immediately, ignoring priority.
// It performs no internal buffering or reordering.
type SimpleChunkProducer struct {
	Write func(header, body []byte) error
}

func (p *SimpleChunkProducer) QueueChunks(priority int, chunks []EncodedChunk) {
	for _, c := range chunks {
		if p.Write != nil {
			_ = p.Write(c.Header, c.Body)
		}
	}
}

func (p *SimpleChunkProducer) Sync(priority int) {}

// chunkMessage splits a message body into chunk-sized pieces, the first
// prefixed with the caller-supplied full/compressed header and every
// subsequent piece with a type-3 (continuation) basic header.
func chunkMessage(csid uint32, firstHeader []byte, body []byte, chunkSize uint32) []EncodedChunk {
	toSend := uint32(len(body))
	if toSend <= chunkSize {
		return []EncodedChunk{{Header: firstHeader, Body: body}}
	}

	out := []EncodedChunk{{Header: firstHeader, Body: body[:chunkSize]}}
	body = body[chunkSize:]
	toSend -= chunkSize

	contHeader := rtmpbits.EncodeBasicHeader(3, csid)
	for toSend > 0 {
		n := toSend
		if n > chunkSize {
			n = chunkSize
		}
		out = append(out, EncodedChunk{Header: contHeader, Body: body[:n]})
		body = body[n:]
		toSend -= n
	}
	return out
}

func encodeBasicHeader(fmtType byte, csid uint32) []byte {
	return rtmpbits.EncodeBasicHeader(fmtType, csid)
}

func encodeMsgHeaderFields(writeTime, size uint32, msgType byte, withSize bool) []byte {
	out := make([]byte, 0, 7)
	tb := make([]byte, 3)
	rtmpbits.PutUint24BE(tb, writeTime)
	out = append(out, tb...)
	if withSize {
		sb := make([]byte, 3)
		rtmpbits.PutUint24BE(sb, size)
		out = append(out, sb...)
		out = append(out, msgType)
	}
	return out
}

func extTimeSuffix(time uint32) []byte {
	if time < rtmpbits.ExtendedTimestampSentinel {
		return nil
	}
	b := make([]byte, 4)
	rtmpbits.PutUint32BE(b, time)
	return b
}

// encodeFullHeader serializes a type 0 (absolute) chunk header.
func encodeFullHeader(csid uint32, time, size uint32, msgType byte, streamID uint32) []byte {
	writeTime := time
	if writeTime >= rtmpbits.ExtendedTimestampSentinel {
		writeTime = rtmpbits.ExtendedTimestampSentinel
	}
	out := encodeBasicHeader(0, csid)
	out = append(out, encodeMsgHeaderFields(writeTime, size, msgType, true)...)
	sid := make([]byte, 4)
	rtmpbits.PutUint32LE(sid, streamID)
	out = append(out, sid...)
	out = append(out, extTimeSuffix(time)...)
	return out
}

// encodeCompHeader serializes a chunk header of the given fmt type
// (0, 1, 2 or 3).
func encodeCompHeader(fmtType byte, csid uint32, time, size uint32, msgType byte, streamID uint32) []byte {
	if fmtType == 3 {
		return encodeBasicHeader(3, csid)
	}
	if fmtType == 0 {
		return encodeFullHeader(csid, time, size, msgType, streamID)
	}

	writeTime := time
	if writeTime >= rtmpbits.ExtendedTimestampSentinel {
		writeTime = rtmpbits.ExtendedTimestampSentinel
	}
	out := encodeBasicHeader(fmtType, csid)
	withSize := fmtType == 1
	out = append(out, encodeMsgHeaderFields(writeTime, size, msgType, withSize)...)
	out = append(out, extTimeSuffix(time)...)
	return out
}

type cachedHeader struct {
	absTime  uint32
	rawTime  uint32
	size     uint32
	msgType  byte
	streamID uint32
}

// Muxer builds and sends RTMP messages, choosing the most compressed
// chunk header form possible for each chunk stream based on what was last
// sent on it.
type Muxer struct {
	chunkSize uint32

	reservedCSIDs map[[2]uint32]uint32 // (streamID, wireType) -> csid, explicitly pinned
	adhocCSIDs    map[[2]uint32]uint32
	cached        map[uint32]cachedHeader

	Producer ChunkProducer
}

// NewMuxer returns a Muxer with the protocol default chunk size.
func NewMuxer(producer ChunkProducer) *Muxer {
	return &Muxer{
		chunkSize:     defaultChunkSize,
		reservedCSIDs: make(map[[2]uint32]uint32),
		adhocCSIDs:    make(map[[2]uint32]uint32),
		cached:        make(map[uint32]cachedHeader),
		Producer:      producer,
	}
}

// SetChunkSize synchronizes any queued output and updates the chunk size
// used for subsequent messages. Call immediately after sending/queueing a
// PROTO_SET_CHUNK_SIZE message.
func (m *Muxer) SetChunkSize(size uint32) {
	m.Producer.Sync(0)
	m.chunkSize = size
}

// ReserveCSID pins a chunk stream id for a given (message stream id, wire
// type) pair, bypassing the ad-hoc allocator.
func (m *Muxer) ReserveCSID(streamID uint32, cat Category, csid uint32) {
	m.reservedCSIDs[[2]uint32{streamID, uint32(wireType[cat])}] = csid
}

func (m *Muxer) adhocCSID(key [2]uint32) uint32 {
	if csid, ok := m.adhocCSIDs[key]; ok {
		return csid
	}
	csidR, csidT := uint32(2), uint32(2)
	for _, v := range m.reservedCSIDs {
		if v > csidR {
			csidR = v
		}
	}
	for _, v := range m.adhocCSIDs {
		if v > csidT {
			csidT = v
		}
	}
	csid := csidR
	if csidT > csid {
		csid = csidT
	}
	csid++
	m.adhocCSIDs[key] = csid
	return csid
}

// SendMessage builds and queues one message for delivery.
//
// time is the message's absolute timestamp in milliseconds. streamID is
// the message stream id (0 for protocol control messages). absolute forces
// a type 0 (fully absolute) header even if a compressed form would
// otherwise apply.
func (m *Muxer) SendMessage(cat Category, time uint32, streamID uint32, body []byte, absolute bool) {
	priority := 0x10
	if cat == CategoryVideo {
		priority += 0x10
	}

	msgType := wireType[cat]

	var csid uint32
	if msgType < 0x08 {
		csid = protoChunkStreamID
		streamID = 0
		priority -= 0x10
		absolute = true
	} else {
		key := [2]uint32{streamID, uint32(msgType)}
		if v, ok := m.reservedCSIDs[key]; ok {
			csid = v
		} else {
			csid = m.adhocCSID(key)
		}
	}

	size := uint32(len(body))

	var headerBytes []byte
	if absolute {
		m.cached[csid] = cachedHeader{absTime: time, rawTime: time, size: size, msgType: msgType, streamID: streamID}
		headerBytes = encodeFullHeader(csid, time, size, msgType, streamID)
	} else {
		c, ok := m.cached[csid]
		if !ok {
			m.cached[csid] = cachedHeader{absTime: time, rawTime: time, size: size, msgType: msgType, streamID: streamID}
			headerBytes = encodeFullHeader(csid, time, size, msgType, streamID)
		} else {
			var newTime uint32
			var fmtType byte
			if streamID == c.streamID {
				if time >= c.absTime {
					newTime = time - c.absTime
					if msgType == c.msgType && size == c.size {
						if newTime == c.rawTime {
							fmtType = 3
						} else {
							fmtType = 2
						}
					} else {
						fmtType = 1
					}
				} else {
					// time went backward (e.g. after a seek): don't compress
					newTime = time
					fmtType = 0
				}
			} else {
				newTime = time
				fmtType = 0
			}
			m.cached[csid] = cachedHeader{absTime: time, rawTime: newTime, size: size, msgType: msgType, streamID: streamID}
			headerBytes = encodeCompHeader(fmtType, csid, newTime, size, msgType, streamID)
		}
	}

	chunks := chunkMessage(csid, headerBytes, body, m.chunkSize)
	if m.Producer != nil {
		m.Producer.QueueChunks(priority, chunks)
	}
}
