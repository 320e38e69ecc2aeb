package avbridge

import (
	"github.com/relaycast/rtmpcore/internal/amf0"
	"github.com/relaycast/rtmpcore/internal/chunk"
	"github.com/relaycast/rtmpcore/internal/store"
)

// Recorder writes a peer's publish() data into a StreamGroup: it lazily
// creates one store.Stream per track category on first data, discriminates
// codec header frames from regular data frames by inspecting the leading
// FLV-tag byte(s) (never parsing the codec payload itself, per this
// library's explicit non-goal of deep codec parsing), and applies the cache
// policy's retention window once a track's params are known. Grounded on
// controllers.py's RTMPRecorder, with the header-vs-data byte tests lifted
// from the teacher's HandleAudioPacket/HandleVideoPacket.
type Recorder struct {
	Controller

	CachePolicy *DefaultCachePolicy

	tracks       map[chunk.Category]store.Stream
	meta         map[string]string
	audioHeaders int
}

// NewRecorder returns a Recorder over sg, using twimp's default cache
// policy.
func NewRecorder(sg *store.StreamGroup) *Recorder {
	return &Recorder{
		Controller:  newController(sg),
		CachePolicy: NewDefaultCachePolicy(),
		tracks:      make(map[chunk.Category]store.Stream),
	}
}

// Start registers this recorder's data/meta listeners and announces
// NetStream.Publish.Start. Call once after Connect.
func (r *Recorder) Start() {
	r.ns.SetListeners(r.onData, r.onMeta, nil)
	r.ns.SendOnStatus(amf0.NewObject().
		Set("code", amf0.String("NetStream.Publish.Start")).
		Set("level", amf0.String("status")).
		Set("description", amf0.String("published")))
}

// Stop releases the NetStream's listeners and clears accumulated metadata.
func (r *Recorder) Stop() {
	r.ns.SetListeners(nil, nil, nil)
	r.meta = nil
}

// onMeta looks for a @setDataFrame-wrapped or bare onMetaData call and
// stores its fields on the group, mirroring RTMPRecorder.on_meta.
func (r *Recorder) onMeta(ts uint32, args []amf0.Value) {
	var metaVal amf0.Value
	var found bool

	switch {
	case len(args) > 2 && args[0].String() == "@setDataFrame" && args[1].String() == "onMetaData":
		metaVal, found = args[2], true
	case len(args) > 1 && args[0].String() == "onMetaData":
		metaVal, found = args[1], true
	}
	if !found || metaVal.Type != amf0.TypeObject {
		return
	}

	meta := make(map[string]string)
	metaVal.Object().Range(func(k string, v amf0.Value) {
		meta[k] = v.String()
	})
	r.meta = meta
	r.sg.SetMeta(meta)
}

func (r *Recorder) makeTrack(cat chunk.Category) store.Stream {
	s := r.sg.MakeStream()

	paramType := ParamTypeAudio
	if cat == chunk.CategoryVideo {
		paramType = ParamTypeVideo
	}
	s.SetParams(map[string]string{"type": paramType})

	if live, ok := s.(*store.LiveMediaStream); ok {
		trackTypes := make([]chunk.Category, 0, len(r.tracks)+1)
		for t := range r.tracks {
			trackTypes = append(trackTypes, t)
		}
		trackTypes = append(trackTypes, cat)
		params := r.CachePolicy.Choose(r.meta, trackTypes)
		p := params[cat]
		live.SetBuffering(p.grposRange, p.frames, p.flagMask)
	}

	r.tracks[cat] = s
	return s
}

func (r *Recorder) onData(ts uint32, msgType byte, body []byte) {
	cat, ok := chunk.CategoryForType(msgType)
	if !ok || (cat != chunk.CategoryAudio && cat != chunk.CategoryVideo) {
		return
	}

	stream, ok := r.tracks[cat]
	if !ok {
		stream = r.makeTrack(cat)
	}

	flags := 0
	switch cat {
	case chunk.CategoryVideo:
		if len(body) < 1 {
			return
		}
		frameType := (body[0] >> 4) & 0x0f
		codecID := body[0] & 0x0f
		var avcType byte
		if len(body) > 1 {
			avcType = body[1]
		}

		if frameType == 1 && codecID == 7 && len(body) > 1 && avcType == 0 {
			stream.WriteHeaders(body, int64(ts), 0)
			return
		}
		if frameType == 1 {
			flags = FlagKeyframe
		} else {
			flags = FlagInterFrame
		}
	case chunk.CategoryAudio:
		if len(body) < 1 {
			return
		}
		codecID := (body[0] >> 4) & 0x0f
		var aacType byte
		hasType := len(body) > 1
		if hasType {
			aacType = body[1]
		}

		if codecID == 10 && hasType && aacType == 0 {
			r.audioHeaders++
			stream.WriteHeaders(body, int64(ts), 0)
			return
		}
		if codecID != 10 && r.audioHeaders == 0 {
			r.audioHeaders++
			stream.WriteHeaders(body[:1], int64(ts), 0)
		}
		flags = FlagKeyframe
	}

	stream.Write(int64(ts), flags, body)
}
