package store

import "testing"

func TestMediaStreamReadWindowedByGrpos(t *testing.T) {
	s := NewMediaStream()
	for i, grpos := range []int64{0, 10, 20, 30, 40} {
		s.Write(grpos, 0, []byte{byte(i)})
	}

	var got []int64
	s.Read(func(f Frame) { got = append(got, f.Grpos) }, 25, 0)
	if len(got) != 3 {
		t.Fatalf("got %d frames, want 3: %v", len(got), got)
	}

	// The cursor resumed at grpos 25; a second equal-sized window picks up
	// where the first left off rather than re-delivering it.
	var more []int64
	s.Read(func(f Frame) { more = append(more, f.Grpos) }, 25, 0)
	if len(more) != 2 || more[0] != 30 || more[1] != 40 {
		t.Fatalf("got %v, want [30 40]", more)
	}
}

func TestMediaStreamReadByFrameCount(t *testing.T) {
	s := NewMediaStream()
	for _, grpos := range []int64{0, 10, 20, 30} {
		s.Write(grpos, 0, nil)
	}
	var got []int64
	s.Read(func(f Frame) { got = append(got, f.Grpos) }, 0, 2)
	if len(got) != 2 || got[0] != 0 || got[1] != 10 {
		t.Fatalf("got %v", got)
	}
}

func TestMediaStreamTrimAndFrameToGrpos(t *testing.T) {
	s := NewMediaStream()
	for _, grpos := range []int64{0, 10, 20, 30, 40} {
		s.Write(grpos, 0, nil)
	}
	s.Trim(15, 0, 0) // keep a window of 15 behind the last grpos (40)

	g, err := s.FrameToGrpos(-1)
	if err != nil {
		t.Fatal(err)
	}
	if g != 40 {
		t.Fatalf("last frame grpos = %d, want 40", g)
	}

	if _, err := s.FrameToGrpos(0); err == nil {
		t.Fatal("expected InvalidFrameNumberError for trimmed frame")
	}
}

func TestMediaStreamSubscribePrerollAndLiveTail(t *testing.T) {
	s := NewMediaStream()
	for _, grpos := range []int64{0, 10, 20} {
		s.Write(grpos, 0, nil)
	}

	var delivered []int64
	sub, err := s.Subscribe(func(grpos int64, flags int, data []byte) {
		delivered = append(delivered, grpos)
	}, 0, 2, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(delivered) != 2 || delivered[0] != 10 || delivered[1] != 20 {
		t.Fatalf("preroll = %v, want last 2 frames", delivered)
	}

	s.Write(30, 0, nil)
	if len(delivered) != 3 || delivered[2] != 30 {
		t.Fatalf("live tail missing: %v", delivered)
	}

	s.Unsubscribe(sub)
	s.Write(40, 0, nil)
	if len(delivered) != 3 {
		t.Fatalf("unsubscribe did not stop delivery: %v", delivered)
	}
}

func TestLiveMediaStreamNoBufferingKeepsOneSlot(t *testing.T) {
	l := NewLiveMediaStream()
	l.Write(0, 0, []byte("a"))
	l.Write(10, 0, []byte("b"))

	var got []int64
	l.Read(func(f Frame) { got = append(got, f.Grpos) }, 0, 10)
	if len(got) != 1 || got[0] != 10 {
		t.Fatalf("got %v, want single frame at grpos 10", got)
	}
}

func TestLiveMediaStreamFrameCountBuffering(t *testing.T) {
	l := NewLiveMediaStream()
	l.SetBuffering(0, 3, 0)
	for _, grpos := range []int64{0, 10, 20, 30, 40} {
		l.Write(grpos, 0, nil)
	}

	var got []int64
	l.Read(func(f Frame) { got = append(got, f.Grpos) }, 0, 10)
	if len(got) != 3 || got[0] != 20 {
		t.Fatalf("got %v, want last 3 frames starting at grpos 20", got)
	}
}

func TestLiveMediaStreamGrposWindowWithFlagMaskAnchor(t *testing.T) {
	l := NewLiveMediaStream()
	const keyframe = 1
	l.SetBuffering(20, 0, keyframe)

	l.Write(0, keyframe, nil)
	l.Write(5, 0, nil)
	l.Write(10, 0, nil)
	l.Write(15, keyframe, nil)
	l.Write(20, 0, nil)
	l.Write(25, 0, nil)
	l.Write(30, 0, nil)
	l.Write(35, 0, nil)
	l.Write(40, keyframe, nil)

	var got []int64
	l.Read(func(f Frame) { got = append(got, f.Grpos) }, 0, 20)
	if len(got) == 0 || got[0] != 15 {
		t.Fatalf("got %v, want retained window anchored at the grpos-15 keyframe", got)
	}
}

func TestStreamGroupMakeAndSubscribe(t *testing.T) {
	srv := NewServer("")
	g, err := srv.OpenLive("", "mystream")
	if err != nil {
		t.Fatal(err)
	}
	video := g.MakeStream()
	video.SetParams(map[string]string{"type": "video"})
	video.Write(0, 0, []byte{1})

	var tags []interface{}
	subs, err := g.Subscribe(func(s Stream, grpos int64, flags int, data []byte, tag interface{}) {
		tags = append(tags, tag)
	}, 0, nil, map[Stream]interface{}{video: "video"})
	if err != nil {
		t.Fatal(err)
	}
	video.Write(10, 0, []byte{2})
	if len(tags) != 1 || tags[0] != "video" {
		t.Fatalf("tags = %v", tags)
	}
	g.Unsubscribe(subs)
}

func TestServerOpenLiveThenRead(t *testing.T) {
	srv := NewServer("")
	g, err := srv.OpenLive("", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := srv.OpenLive("", "s1"); err == nil {
		t.Fatal("expected StreamExistsError on duplicate live open")
	}

	got, err := srv.OpenRead("", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got != g {
		t.Fatal("OpenRead returned a different group instance")
	}

	srv.Close(g)
	if _, err := srv.OpenRead("", "s1"); err == nil {
		t.Fatal("expected StreamNotFoundError after Close")
	}
}

func TestServerUnknownNamespace(t *testing.T) {
	srv := NewServer("")
	if _, err := srv.OpenRead("bogus", "s1"); err == nil {
		t.Fatal("expected NamespaceNotFoundError")
	}
}
