// Package proto implements the protocol controller: bytes-read/ack
// accounting and user-control sub-event dispatch layered on top of
// internal/chunk's demuxer and muxer, grounded on twimp/proto.py's
// DispatchProtocol and UserControlDispatchDemuxer.
package proto

import (
	"github.com/relaycast/rtmpcore/internal/chunk"
	"github.com/relaycast/rtmpcore/internal/rtmpbits"
	"github.com/relaycast/rtmpcore/internal/rtmperr"
)

// User control sub-event types, carried as the first two bytes of a
// PROTO_USER_CONTROL message body.
const (
	UctrlStreamBegin    uint16 = 0
	UctrlStreamEOF      uint16 = 1
	UctrlStreamDry      uint16 = 2
	UctrlBufferLength   uint16 = 3
	UctrlStreamRecorded uint16 = 4
	UctrlPing           uint16 = 6
	UctrlPong           uint16 = 7
)

const defaultWindowSize = 2500000

// Controller owns the bytes_read/ack cadence and user-control sub-event
// dispatch for one session, sitting directly on top of a chunk.Demuxer
// and chunk.Muxer pair.
type Controller struct {
	demux *chunk.Demuxer
	mux   *chunk.Muxer

	bytesRead  uint32
	nextAck    uint32
	windowSize uint32

	OnStreamBegin    func(streamID uint32)
	OnStreamEOF      func(streamID uint32)
	OnStreamDry      func(streamID uint32)
	OnStreamRecorded func(streamID uint32)
	OnBufferLength   func(streamID uint32, ms uint32)
	OnPong           func(echoTime uint32)
	OnUnknownControl func(eventType uint16, body []byte)
	OnContractError  func(err *rtmperr.ProtocolContractError)
}

// New wires a Controller onto demux/mux, taking over demux's OnUserControl
// and OnWindowSize hooks.
func New(demux *chunk.Demuxer, mux *chunk.Muxer) *Controller {
	c := &Controller{demux: demux, mux: mux, windowSize: defaultWindowSize}
	c.setNextAck(0)
	demux.OnUserControl = c.dispatchUserControl
	demux.OnWindowSize = c.SetWindowSize
	return c
}

// BytesRead reports the running count of received bytes, as reported
// through BytesReceived.
func (c *Controller) BytesRead() uint32 { return c.bytesRead }

// BytesReceived records n additional received bytes and sends a
// PROTO_ACK if the window-size threshold has been crossed.
func (c *Controller) BytesReceived(n int) {
	c.bytesRead += uint32(n)
	c.checkSendAck()
}

func (c *Controller) setNextAck(oldWindowSize uint32) {
	oldInc := oldWindowSize / 2
	inc := c.windowSize / 2
	c.nextAck += inc - oldInc
}

func (c *Controller) checkSendAck() {
	if c.nextAck < c.bytesRead {
		c.setNextAck(0)
		body := make([]byte, 4)
		rtmpbits.PutUint32BE(body, c.bytesRead)
		c.mux.SendMessage(chunk.CategoryAck, 0, 0, body, true)
	}
}

// SetWindowSize updates the ack threshold for an externally announced
// PROTO_WINDOW_SIZE message (from the peer) and re-checks the ack
// cadence against it.
func (c *Controller) SetWindowSize(size uint32) {
	if size == c.windowSize {
		return
	}
	old := c.windowSize
	c.windowSize = size
	c.setNextAck(old)
	c.checkSendAck()
}

// SendWindowSize announces this side's own acknowledgement window size to
// the peer.
func (c *Controller) SendWindowSize(size uint32) {
	body := make([]byte, 4)
	rtmpbits.PutUint32BE(body, size)
	c.mux.SendMessage(chunk.CategoryWindowSize, 0, 0, body, true)
}

// SetPeerBandwidth limitType values, per RTMP spec.
const (
	LimitHard    byte = 0
	LimitSoft    byte = 1
	LimitDynamic byte = 2
)

// SendSetPeerBandwidth announces a peer bandwidth limit.
func (c *Controller) SendSetPeerBandwidth(size uint32, limitType byte) {
	body := make([]byte, 5)
	rtmpbits.PutUint32BE(body, size)
	body[4] = limitType
	c.mux.SendMessage(chunk.CategorySetBandwidth, 0, 0, body, true)
}

func uctrlBody(evt uint16, fields ...uint32) []byte {
	body := make([]byte, 2+4*len(fields))
	body[0] = byte(evt >> 8)
	body[1] = byte(evt)
	for i, f := range fields {
		rtmpbits.PutUint32BE(body[2+4*i:], f)
	}
	return body
}

// SendStreamBegin announces that a new message stream has started.
func (c *Controller) SendStreamBegin(streamID uint32) {
	c.mux.SendMessage(chunk.CategoryUserControl, 0, 0, uctrlBody(UctrlStreamBegin, streamID), true)
}

// SendStreamEOF announces the end of a stream's playback.
func (c *Controller) SendStreamEOF(streamID uint32) {
	c.mux.SendMessage(chunk.CategoryUserControl, 0, 0, uctrlBody(UctrlStreamEOF, streamID), true)
}

// SendStreamRecorded announces that a played stream is a recorded (not
// live) one.
func (c *Controller) SendStreamRecorded(streamID uint32) {
	c.mux.SendMessage(chunk.CategoryUserControl, 0, 0, uctrlBody(UctrlStreamRecorded, streamID), true)
}

// SendSetChunkSize announces and applies a new outgoing chunk size.
func (c *Controller) SendSetChunkSize(size uint32) {
	body := make([]byte, 4)
	rtmpbits.PutUint32BE(body, size)
	c.mux.SendMessage(chunk.CategorySetChunkSize, 0, 0, body, true)
	c.mux.SetChunkSize(size)
}

type ctrlEntry struct {
	size    int
	handler func(c *Controller, fields []uint32)
}

var ctrlTable = map[uint16]ctrlEntry{
	UctrlStreamBegin: {4, func(c *Controller, f []uint32) {
		if c.OnStreamBegin != nil {
			c.OnStreamBegin(f[0])
		}
	}},
	UctrlStreamEOF: {4, func(c *Controller, f []uint32) {
		if c.OnStreamEOF != nil {
			c.OnStreamEOF(f[0])
		}
	}},
	UctrlStreamDry: {4, func(c *Controller, f []uint32) {
		if c.OnStreamDry != nil {
			c.OnStreamDry(f[0])
		}
	}},
	UctrlBufferLength: {8, func(c *Controller, f []uint32) {
		if c.OnBufferLength != nil {
			c.OnBufferLength(f[0], f[1])
		}
	}},
	UctrlStreamRecorded: {4, func(c *Controller, f []uint32) {
		if c.OnStreamRecorded != nil {
			c.OnStreamRecorded(f[0])
		}
	}},
	UctrlPing: {4, func(c *Controller, f []uint32) {
		c.mux.SendMessage(chunk.CategoryUserControl, 0, 0, uctrlBody(UctrlPong, f[0]), true)
	}},
	UctrlPong: {4, func(c *Controller, f []uint32) {
		if c.OnPong != nil {
			c.OnPong(f[0])
		}
	}},
}

// dispatchUserControl is installed as the demuxer's OnUserControl hook. It
// verifies each sub-event's fixed body size and dispatches to the
// matching handler; Ping is answered automatically with Pong.
func (c *Controller) dispatchUserControl(evtType uint16, body []byte) {
	entry, ok := ctrlTable[evtType]
	if !ok {
		if c.OnUnknownControl != nil {
			c.OnUnknownControl(evtType, body)
		}
		return
	}
	if len(body) != entry.size {
		if c.OnContractError != nil {
			c.OnContractError(&rtmperr.ProtocolContractError{Reason: "bad user control message size"})
		}
		return
	}
	fields := make([]uint32, entry.size/4)
	for i := range fields {
		fields[i] = rtmpbits.Uint32BE(body[4*i:])
	}
	entry.handler(c, fields)
}
