package avbridge

import (
	"testing"

	"github.com/relaycast/rtmpcore/internal/amf0"
	"github.com/relaycast/rtmpcore/internal/chunk"
	"github.com/relaycast/rtmpcore/internal/store"
)

// fakeNetStream is a minimal stand-in for *rtmpapp.NetStream satisfying
// avbridge.NetStream: it records every outbound call instead of encoding
// onto a real chunk stream, and lets the test drive the stream's inbound
// data/meta/mute listeners directly.
type fakeNetStream struct {
	bufferLength uint32

	dataCB func(ts uint32, msgType byte, body []byte)
	metaCB func(ts uint32, args []amf0.Value)
	muteCB func(ts uint32, msgType byte, doReceive bool)

	sent     []sentMsg
	statuses []*amf0.Object
	chunkSz  uint32
	begins   int
	recs     int
}

type sentMsg struct {
	ts   uint32
	cat  chunk.Category
	body []byte
}

func (f *fakeNetStream) BufferLength() uint32 { return f.bufferLength }

func (f *fakeNetStream) SetListeners(data func(ts uint32, msgType byte, body []byte), meta func(ts uint32, args []amf0.Value), mute func(ts uint32, msgType byte, doReceive bool)) {
	f.dataCB, f.metaCB, f.muteCB = data, meta, mute
}

func (f *fakeNetStream) Send(ts uint32, cat chunk.Category, body []byte) {
	f.sent = append(f.sent, sentMsg{ts: ts, cat: cat, body: body})
}

func (f *fakeNetStream) SendAMF(ts uint32, cat chunk.Category, args ...amf0.Value) {
	f.sent = append(f.sent, sentMsg{ts: ts, cat: cat, body: amf0.Encode(args...)})
}

func (f *fakeNetStream) SendOnStatus(info *amf0.Object) { f.statuses = append(f.statuses, info) }

func (f *fakeNetStream) CtrlStreamBegin()    { f.begins++ }
func (f *fakeNetStream) CtrlStreamRecorded() { f.recs++ }
func (f *fakeNetStream) SetChunkSize(size uint32) { f.chunkSz = size }

func lastStatusCode(f *fakeNetStream) string {
	if len(f.statuses) == 0 {
		return ""
	}
	v, _ := f.statuses[len(f.statuses)-1].Get("code")
	return v.String()
}

func TestRecorderStartAnnouncesPublishStart(t *testing.T) {
	srv := store.NewServer()
	sg, err := srv.OpenLive("", "mystream")
	if err != nil {
		t.Fatal(err)
	}
	r := NewRecorder(sg)
	ns := &fakeNetStream{}
	r.Connect(ns)
	r.Start()

	if ns.dataCB == nil || ns.metaCB == nil {
		t.Fatal("Start did not register data/meta listeners")
	}
	if got := lastStatusCode(ns); got != "NetStream.Publish.Start" {
		t.Fatalf("status code = %q, want NetStream.Publish.Start", got)
	}
}

func TestRecorderOnMetaStoresGroupMeta(t *testing.T) {
	srv := store.NewServer()
	sg, _ := srv.OpenLive("", "mystream")
	r := NewRecorder(sg)
	ns := &fakeNetStream{}
	r.Connect(ns)
	r.Start()

	meta := amf0.NewObject().
		Set("videocodecid", amf0.String("avc1")).
		Set("width", amf0.Number(1280))
	ns.metaCB(0, []amf0.Value{amf0.String("onMetaData"), amf0.Obj(meta)})

	got := sg.Meta()
	if got["videocodecid"] != "avc1" {
		t.Fatalf("group meta = %v, want videocodecid=avc1", got)
	}
}

func TestRecorderOnMetaSetDataFrameWrapped(t *testing.T) {
	srv := store.NewServer()
	sg, _ := srv.OpenLive("", "mystream")
	r := NewRecorder(sg)
	ns := &fakeNetStream{}
	r.Connect(ns)
	r.Start()

	meta := amf0.NewObject().Set("videocodecid", amf0.String("avc1"))
	ns.metaCB(0, []amf0.Value{amf0.String("@setDataFrame"), amf0.String("onMetaData"), amf0.Obj(meta)})

	if sg.Meta()["videocodecid"] != "avc1" {
		t.Fatal("wrapped @setDataFrame onMetaData was not applied to group meta")
	}
}

func TestRecorderVideoSequenceHeaderGoesToHeaders(t *testing.T) {
	srv := store.NewServer()
	sg, _ := srv.OpenLive("", "mystream")
	r := NewRecorder(sg)
	ns := &fakeNetStream{}
	r.Connect(ns)
	r.Start()

	videoType := chunk.WireType(chunk.CategoryVideo)
	seqHeader := []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0xAA, 0xBB}
	ns.dataCB(0, videoType, seqHeader)

	tracks := sg.StreamsByParams(map[string]string{"type": ParamTypeVideo})
	if len(tracks) != 1 {
		t.Fatalf("expected one video track, got %d", len(tracks))
	}
	var headers []store.Frame
	tracks[0].ReadHeaders(func(f store.Frame) { headers = append(headers, f) })
	if len(headers) != 1 {
		t.Fatalf("expected 1 header frame, got %d", len(headers))
	}
	if len(tracks[0].Params()) == 0 {
		t.Fatal("video track should have params set")
	}
}

func TestRecorderVideoKeyframeGoesToData(t *testing.T) {
	srv := store.NewServer()
	sg, _ := srv.OpenLive("", "mystream")
	r := NewRecorder(sg)
	ns := &fakeNetStream{}
	r.Connect(ns)
	r.Start()

	videoType := chunk.WireType(chunk.CategoryVideo)
	keyframe := []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xCC}
	ns.dataCB(100, videoType, keyframe)

	tracks := sg.StreamsByParams(map[string]string{"type": ParamTypeVideo})
	if len(tracks) != 1 {
		t.Fatalf("expected one video track, got %d", len(tracks))
	}
	var got []store.Frame
	tracks[0].Read(func(f store.Frame) { got = append(got, f) }, 0, 10)
	if len(got) != 1 || got[0].Flags != FlagKeyframe {
		t.Fatalf("got %v, want a single keyframe-flagged frame", got)
	}
}

func TestRecorderAudioSequenceHeaderGoesToHeaders(t *testing.T) {
	srv := store.NewServer()
	sg, _ := srv.OpenLive("", "mystream")
	r := NewRecorder(sg)
	ns := &fakeNetStream{}
	r.Connect(ns)
	r.Start()

	audioType := chunk.WireType(chunk.CategoryAudio)
	aacHeader := []byte{0xAF, 0x00, 0x12, 0x10}
	ns.dataCB(0, audioType, aacHeader)

	tracks := sg.StreamsByParams(map[string]string{"type": ParamTypeAudio})
	if len(tracks) != 1 {
		t.Fatalf("expected one audio track, got %d", len(tracks))
	}
	var headers []store.Frame
	tracks[0].ReadHeaders(func(f store.Frame) { headers = append(headers, f) })
	if len(headers) != 1 {
		t.Fatalf("expected 1 audio header frame, got %d", len(headers))
	}
}
