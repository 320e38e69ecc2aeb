package rtmpapp

import (
	"sync"

	"github.com/relaycast/rtmpcore/internal/amf0"
	"github.com/relaycast/rtmpcore/internal/chunk"
	"github.com/relaycast/rtmpcore/internal/dispatch"
)

// NetStream is one message stream created by createStream: the unit play,
// publish, and data routing all operate on. Grounded on twimp's
// server/appserver.py NetStream.
type NetStream struct {
	ID      uint32
	session *Session

	mu           sync.Mutex
	bufferLength uint32

	dataCB   func(ts uint32, msgType byte, body []byte)
	metaCB   func(ts uint32, args []amf0.Value)
	muteCB   func(ts uint32, msgType byte, doReceive bool)
	bufferCB func(ts uint32, length uint32)
}

func newNetStream(session *Session, id uint32) *NetStream {
	ns := &NetStream{ID: id, session: session, bufferLength: 100}
	session.routeBufferMessages(id, ns.setBufferLength)
	return ns
}

func (ns *NetStream) setBufferLength(ts uint32, length uint32) {
	ns.mu.Lock()
	ns.bufferLength = length
	ns.mu.Unlock()
	cb := ns.bufferCBSnapshot()
	if cb != nil {
		cb(ts, length)
	}
}

func (ns *NetStream) bufferCBSnapshot() func(ts uint32, length uint32) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.bufferCB
}

// BufferLength reports the client's most recently announced buffer length,
// in milliseconds (NetStream.bufferTime on the peer).
func (ns *NetStream) BufferLength() uint32 {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	return ns.bufferLength
}

// SetListeners installs the callbacks that doData/doMeta/receiveAudio and
// receiveVideo route to; a nil callback clears that route.
func (ns *NetStream) SetListeners(data func(ts uint32, msgType byte, body []byte), meta func(ts uint32, args []amf0.Value), mute func(ts uint32, msgType byte, doReceive bool)) {
	ns.mu.Lock()
	ns.dataCB, ns.metaCB, ns.muteCB = data, meta, mute
	ns.mu.Unlock()

	ns.session.routeDataMessages(ns.ID, data)
	ns.session.routeMetaMessages(ns.ID, meta)
	ns.session.routeMuteMessages(ns.ID, mute)
}

// Close tears down every route registered for this stream.
func (ns *NetStream) Close() {
	ns.SetListeners(nil, nil, nil)
	ns.session.routeBufferMessages(ns.ID, nil)
}

// Send writes a raw message (audio/video/data) on this stream.
func (ns *NetStream) Send(ts uint32, cat chunk.Category, body []byte) {
	ns.session.mux.SendMessage(cat, ts, ns.ID, body, false)
}

// SendAMF AMF0-encodes args and sends them as one message of the given
// category (typically CategoryData, for onMetaData-style notifications).
func (ns *NetStream) SendAMF(ts uint32, cat chunk.Category, args ...amf0.Value) {
	ns.Send(ts, cat, amf0.Encode(args...))
}

// Call issues a server-style RPC against the peer's NetStream handler.
func (ns *NetStream) Call(cmd string, args ...amf0.Value) <-chan dispatch.CallResult {
	return ns.session.dispatcher.CallRemote(ns.ID, cmd, args...)
}

// Signal sends a one-way command (transaction id 0) to the peer's
// NetStream handler.
func (ns *NetStream) Signal(cmd string, args ...amf0.Value) {
	ns.session.dispatcher.SignalRemote(ns.ID, cmd, args...)
}

// SendOnStatus emits an onStatus event carrying info, e.g.
// NetStream.Play.Start.
func (ns *NetStream) SendOnStatus(info *amf0.Object) {
	ns.session.dispatcher.SendOnStatus(ns.ID, info)
}

// CtrlStreamBegin announces PROTO_USER_CONTROL StreamBegin for this stream.
func (ns *NetStream) CtrlStreamBegin() { ns.session.proto.SendStreamBegin(ns.ID) }

// CtrlStreamEOF announces PROTO_USER_CONTROL StreamEOF for this stream.
func (ns *NetStream) CtrlStreamEOF() { ns.session.proto.SendStreamEOF(ns.ID) }

// CtrlStreamRecorded announces PROTO_USER_CONTROL StreamRecorded for this
// stream, telling the peer its playback is not live.
func (ns *NetStream) CtrlStreamRecorded() { ns.session.proto.SendStreamRecorded(ns.ID) }

// SetChunkSize announces and applies a new outgoing chunk size.
func (ns *NetStream) SetChunkSize(size uint32) { ns.session.proto.SendSetChunkSize(size) }

type netStreamManager struct {
	mu      sync.Mutex
	streams map[uint32]*NetStream
	nextID  uint32
}

func newNetStreamManager() *netStreamManager {
	return &netStreamManager{streams: make(map[uint32]*NetStream)}
}

func (m *netStreamManager) make(session *Session) *NetStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ns := newNetStream(session, m.nextID)
	m.streams[ns.ID] = ns
	return ns
}

func (m *netStreamManager) del(id uint32) {
	m.mu.Lock()
	delete(m.streams, id)
	m.mu.Unlock()
}

func (m *netStreamManager) get(id uint32) *NetStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[id]
}

func (m *netStreamManager) all() []*NetStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*NetStream, 0, len(m.streams))
	for _, ns := range m.streams {
		out = append(out, ns)
	}
	return out
}
