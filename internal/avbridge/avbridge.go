// Package avbridge bridges rtmpapp's NetStream to internal/store's
// StreamGroup: Player replays a stored stream to a peer's play() call,
// Recorder writes a peer's publish() data into the store. Grounded on
// original_source/twimp/server/controllers.py's Controller/BufferingWriter/
// DefaultBurstPolicy/DefaultCachePolicy/RTMPPlayer/RTMPRecorder.
package avbridge

import (
	"github.com/relaycast/rtmpcore/internal/amf0"
	"github.com/relaycast/rtmpcore/internal/chunk"
	"github.com/relaycast/rtmpcore/internal/store"
)

// Frame flag bits, matching twimp's FF_KEYFRAME/FF_INTERFRAME.
const (
	FlagKeyframe   = 1
	FlagInterFrame = 2
)

// Stream params' "type" values, matching twimp's TYPE_VIDEO/TYPE_AUDIO.
const (
	ParamTypeVideo = "video/x-flv-tag-video"
	ParamTypeAudio = "audio/x-flv-tag-audio"
)

// NetStream is the subset of rtmpapp.NetStream's exported method set that
// Player/Recorder need. *rtmpapp.NetStream satisfies this interface
// structurally; no import of rtmpapp is required, so this package stays
// usable (and testable) without depending on the app-server protocol layer.
type NetStream interface {
	BufferLength() uint32
	SetListeners(data func(ts uint32, msgType byte, body []byte), meta func(ts uint32, args []amf0.Value), mute func(ts uint32, msgType byte, doReceive bool))
	Send(ts uint32, cat chunk.Category, body []byte)
	SendAMF(ts uint32, cat chunk.Category, args ...amf0.Value)
	SendOnStatus(info *amf0.Object)
	CtrlStreamBegin()
	CtrlStreamRecorded()
	SetChunkSize(size uint32)
}

// Controller is the common base of Player and Recorder: it owns the
// StreamGroup being read from or written to and the NetStream currently
// attached to it. Grounded on controllers.py's Controller.
type Controller struct {
	sg *store.StreamGroup
	ns NetStream
}

func newController(sg *store.StreamGroup) Controller {
	return Controller{sg: sg}
}

// Connect attaches ns to this controller; call before Start.
func (c *Controller) Connect(ns NetStream) { c.ns = ns }

// Disconnect detaches the controller's NetStream.
func (c *Controller) Disconnect() { c.ns = nil }
