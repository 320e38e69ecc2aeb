package avbridge

import (
	"github.com/relaycast/rtmpcore/internal/amf0"
	"github.com/relaycast/rtmpcore/internal/chunk"
	"github.com/relaycast/rtmpcore/internal/store"
)

type track struct {
	stream store.Stream
	cat    chunk.Category
}

// Player replays one StreamGroup to a peer's play() call: it picks one
// stream per track category, replays recorded headers, sends stored
// metadata, then subscribes each track with the burst policy's preroll
// window via a BufferingWriter so Flash-style players see a contiguous
// burst instead of trickling frames. Grounded on controllers.py's
// RTMPPlayer.
type Player struct {
	Controller

	BurstPolicy *DefaultBurstPolicy

	tracks []track
	subs   []subHandle

	sendAudio bool
	sendVideo bool

	writer *BufferingWriter
	meta   map[string]string
}

type subHandle struct {
	stream store.Stream
	sub    store.Subscription
}

// NewPlayer returns a Player over sg, using twimp's default burst policy.
func NewPlayer(sg *store.StreamGroup) *Player {
	return &Player{
		Controller:  newController(sg),
		BurstPolicy: NewDefaultBurstPolicy(),
		sendAudio:   true,
		sendVideo:   true,
	}
}

func (p *Player) scanTracks() {
	p.tracks = nil
	if streams := p.sg.StreamsByParams(map[string]string{"type": ParamTypeAudio}); len(streams) > 0 {
		p.tracks = append(p.tracks, track{stream: streams[0], cat: chunk.CategoryAudio})
	}
	if streams := p.sg.StreamsByParams(map[string]string{"type": ParamTypeVideo}); len(streams) > 0 {
		p.tracks = append(p.tracks, track{stream: streams[0], cat: chunk.CategoryVideo})
	}
}

func (p *Player) sendStatusSequence() {
	p.ns.SendOnStatus(amf0.NewObject().
		Set("code", amf0.String("NetStream.Play.Reset")).
		Set("level", amf0.String("status")).
		Set("description", amf0.String("reset")))

	p.ns.CtrlStreamBegin()

	p.ns.SendOnStatus(amf0.NewObject().
		Set("code", amf0.String("NetStream.Play.Start")).
		Set("level", amf0.String("status")).
		Set("description", amf0.String("started")))

	p.ns.SetChunkSize(4096)
}

func (p *Player) sendMeta() {
	meta := p.sg.Meta()
	p.meta = meta
	if len(meta) == 0 {
		return
	}
	p.ns.SendOnStatus(amf0.NewObject().Set("code", amf0.String("NetStream.Data.Start")))
	metaObj := amf0.NewObject()
	for k, v := range meta {
		metaObj.Set(k, amf0.String(v))
	}
	p.ns.SendAMF(0, chunk.CategoryData, amf0.String("onMetaData"), amf0.Obj(metaObj))
}

func (p *Player) addHeaders() {
	for _, t := range p.tracks {
		cat := t.cat
		t.stream.ReadHeaders(func(f store.Frame) {
			p.ns.Send(0, cat, f.Data)
		})
	}
}

func (p *Player) subscribeTracks() {
	trackTypes := make([]chunk.Category, len(p.tracks))
	for i, t := range p.tracks {
		trackTypes[i] = t.cat
	}

	params, rewrite, marks := p.BurstPolicy.Choose(p.meta, trackTypes, p.ns.BufferLength())
	p.writer = newBufferingWriter(p.ns, trackTypes, rewrite, marks)

	p.subs = p.subs[:0]
	for _, t := range p.tracks {
		bp := params[t.cat]
		cat := t.cat
		writer := p.writer
		sub, err := t.stream.Subscribe(func(grpos int64, flags int, data []byte) {
			if cat == chunk.CategoryAudio && !p.sendAudio {
				return
			}
			if cat == chunk.CategoryVideo && !p.sendVideo {
				return
			}
			writer.Write(cat, grpos, flags, data)
		}, bp.grposRange, bp.frames, nil, bp.flagMask)
		if err != nil {
			continue
		}
		p.subs = append(p.subs, subHandle{stream: t.stream, sub: sub})
	}

	p.writer.PrerollDone()
}

// Start begins playback: scans tracks, emits the onStatus/chunk-size
// sequence, sends stored metadata, replays headers, and subscribes for
// live data. Call once after Connect.
func (p *Player) Start() {
	p.ns.SetListeners(nil, nil, p.onMuteMessage)

	p.scanTracks()
	p.sendStatusSequence()
	p.sendMeta()
	p.addHeaders()
	p.subscribeTracks()
}

// Stop unsubscribes from every track and releases the NetStream's
// listeners.
func (p *Player) Stop() {
	p.ns.SetListeners(nil, nil, nil)
	for _, s := range p.subs {
		s.stream.Unsubscribe(s.sub)
	}
	p.subs = nil
}

func (p *Player) onMuteMessage(ts uint32, msgType byte, doReceive bool) {
	if cat, ok := chunk.CategoryForType(msgType); ok && cat == chunk.CategoryAudio {
		p.sendAudio = doReceive
	} else {
		p.sendVideo = doReceive
	}
}
