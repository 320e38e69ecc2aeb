package store

import "sync"

// GroupListener receives a StreamGroup subscription's frames, tagged with
// whatever per-stream value was supplied in the tags map (commonly a media
// type marker), mirroring twimp's subscribe(cb_args_map=...).
type GroupListener func(s Stream, grpos int64, flags int, data []byte, tag interface{})

// GroupSubscription is one StreamGroup.Subscribe's handle, to be passed
// back to Unsubscribe.
type GroupSubscription struct {
	stream Stream
	sub    Subscription
}

// StreamGroup aggregates the elementary streams (audio, video, ...) that
// share one grpos clock under a single published name. Grounded on twimp's
// IMStreamGroup/IMLiveStreamGroup.
type StreamGroup struct {
	mu sync.Mutex

	Name      string
	Namespace string

	meta    map[string]string
	streams []Stream
	live    bool
}

func newStreamGroup(name, namespace string, live bool) *StreamGroup {
	return &StreamGroup{Name: name, Namespace: namespace, meta: map[string]string{}, live: live}
}

// Meta returns a copy of the group-level onMetaData fields.
func (g *StreamGroup) Meta() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return copyStrMap(g.meta)
}

// SetMeta replaces the group-level onMetaData fields.
func (g *StreamGroup) SetMeta(m map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.meta = copyStrMap(m)
}

// Streams returns a snapshot of the group's member streams.
func (g *StreamGroup) Streams() []Stream {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Stream(nil), g.streams...)
}

// StreamsByParams returns every member stream whose Params() is a superset
// of template (e.g. {"type": "video"}).
func (g *StreamGroup) StreamsByParams(template map[string]string) []Stream {
	g.mu.Lock()
	streams := append([]Stream(nil), g.streams...)
	g.mu.Unlock()

	var out []Stream
streams:
	for _, s := range streams {
		p := s.Params()
		for k, v := range template {
			if p[k] != v {
				continue streams
			}
		}
		out = append(out, s)
	}
	return out
}

// MakeStream creates and registers a new member stream: a LiveMediaStream
// for a live (publish) group, a plain MediaStream for a read-only one.
func (g *StreamGroup) MakeStream() Stream {
	g.mu.Lock()
	defer g.mu.Unlock()
	var s Stream
	if g.live {
		s = NewLiveMediaStream()
	} else {
		s = NewMediaStream()
	}
	g.streams = append(g.streams, s)
	return s
}

// Subscribe subscribes cb to every member stream with the chosen preroll
// policy, tagging each stream's callbacks with tags[stream] if present.
// fromFrames, if non-nil and prerollGrposRange is zero, selects the
// explicit-frame-index preroll variant per stream instead of the
// grpos-range variant; interleaving across
// streams during preroll is not attempted, matching twimp's documented
// limitation — each stream's preroll is emitted separately, in stream
// order.
func (g *StreamGroup) Subscribe(cb GroupListener, prerollGrposRange int64, fromFrames map[Stream]int64, tags map[Stream]interface{}) ([]GroupSubscription, error) {
	g.mu.Lock()
	streams := append([]Stream(nil), g.streams...)
	g.mu.Unlock()

	subs := make([]GroupSubscription, 0, len(streams))
	for _, s := range streams {
		tag := tags[s]
		wrapped := func(s Stream, tag interface{}) Listener {
			return func(grpos int64, flags int, data []byte) {
				cb(s, grpos, flags, data, tag)
			}
		}(s, tag)

		var sub Subscription
		var err error
		if prerollGrposRange > 0 || fromFrames == nil {
			sub, err = s.Subscribe(wrapped, prerollGrposRange, 0, nil, 0)
		} else {
			frame := fromFrames[s]
			sub, err = s.Subscribe(wrapped, 0, 0, &frame, 0)
		}
		if err != nil {
			for _, done := range subs {
				done.stream.Unsubscribe(done.sub)
			}
			return nil, err
		}
		subs = append(subs, GroupSubscription{stream: s, sub: sub})
	}
	return subs, nil
}

// Unsubscribe tears down every per-stream subscription created by Subscribe.
func (g *StreamGroup) Unsubscribe(subs []GroupSubscription) {
	for _, s := range subs {
		s.stream.Unsubscribe(s.sub)
	}
}
