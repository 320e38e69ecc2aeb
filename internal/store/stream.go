// Package store implements the in-memory stream store: MediaStream,
// LiveMediaStream, StreamGroup and the namespace-partitioned Server,
// grounded on twimp/server/inmemory.py's IMStream/IMLiveStream/
// IMStreamGroup/IMServer translated from Twisted deferreds into direct
// calls guarded by per-stream mutexes.
package store

import (
	"sync"

	"github.com/relaycast/rtmpcore/internal/rtmperr"
)

// Frame is one stored media sample: a group-position timestamp, a
// codec-defined flag bitmask (keyframe/config markers), and its payload.
type Frame struct {
	Grpos int64
	Flags int
	Data  []byte
}

// Listener receives every frame written to a stream once subscribed.
type Listener func(grpos int64, flags int, data []byte)

// Subscription identifies one active Listener registration, to be handed
// back to Unsubscribe.
type Subscription int

// Stream is the common read/write contract MediaStream and
// LiveMediaStream both satisfy, mirroring twimp's IStream interface.
type Stream interface {
	Params() map[string]string
	SetParams(map[string]string)
	Meta() map[string]string
	SetMeta(map[string]string)
	ReadHeaders(cb func(Frame))
	WriteHeaders(data []byte, grpos int64, flags int)
	Read(cb func(Frame), grposRange int64, frames int)
	Write(grpos int64, flags int, data []byte)
	Trim(grposRange int64, frames int, flagMask int)
	Subscribe(cb Listener, prerollGrposRange int64, prerollFrames int, prerollFromFrame *int64, flagMask int) (Subscription, error)
	Unsubscribe(Subscription)
	FindFrameBackward(grposRange int64, frames int, flagMask int) (int64, bool)
	FrameToGrpos(frame int64) (int64, error)
}

// MediaStream is one elementary stream (typically audio or video) within a
// StreamGroup: an append-only sequence of frames plus a sequential-read
// cursor, readable to completion and subscribable for live tailing.
// Grounded on IMStream/IMServerStream.
type MediaStream struct {
	mu sync.Mutex

	params map[string]string
	meta   map[string]string

	headers    []Frame
	data       []Frame
	dataOffset int64 // frames trimmed from the head

	pos   int64 // sequential Read cursor: absolute frame index
	grpos int64 // sequential Read cursor: last delivered grpos

	listeners map[int]Listener
	nextSubID int
}

// NewMediaStream returns an empty, unbuffered stream.
func NewMediaStream() *MediaStream {
	return &MediaStream{
		params:    map[string]string{},
		meta:      map[string]string{},
		listeners: map[int]Listener{},
	}
}

// Params returns a copy of the stream's codec/format parameters.
func (s *MediaStream) Params() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyStrMap(s.params)
}

// SetParams replaces the stream's codec/format parameters.
func (s *MediaStream) SetParams(p map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = copyStrMap(p)
}

// Meta returns a copy of the stream's onMetaData-derived fields.
func (s *MediaStream) Meta() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyStrMap(s.meta)
}

// SetMeta replaces the stream's onMetaData-derived fields.
func (s *MediaStream) SetMeta(m map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = copyStrMap(m)
}

// ReadHeaders delivers every recorded header frame (codec config records)
// in write order.
func (s *MediaStream) ReadHeaders(cb func(Frame)) {
	s.mu.Lock()
	headers := append([]Frame(nil), s.headers...)
	s.mu.Unlock()
	for _, f := range headers {
		cb(f)
	}
}

// WriteHeaders appends one header (codec config) frame.
func (s *MediaStream) WriteHeaders(data []byte, grpos int64, flags int) {
	s.mu.Lock()
	s.headers = append(s.headers, Frame{Grpos: grpos, Flags: flags, Data: data})
	s.mu.Unlock()
}

// Read sequentially delivers frames from the stream's read cursor: either
// every frame whose grpos lies in [current, current+grposRange) when
// grposRange is given, or the next `frames` frames otherwise. The cursor
// starts at 0; a grpos-range read that stops at a frame beyond the window
// leaves it at the window's end (current+grposRange), otherwise it moves to
// the grpos of the last frame delivered.
func (s *MediaStream) Read(cb func(Frame), grposRange int64, frames int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case grposRange > 0:
		endGrpos := s.grpos + grposRange
		pos, grpos := s.pos, s.grpos
		for {
			idx := pos - s.dataOffset
			if idx < 0 {
				pos -= idx
				idx = 0
			}
			if idx >= int64(len(s.data)) {
				break
			}
			f := s.data[idx]
			grpos = f.Grpos
			if grpos >= endGrpos {
				grpos = endGrpos
				break
			}
			cb(f)
			pos++
		}
		s.pos, s.grpos = pos, grpos
	case frames > 0:
		pos, grpos := s.pos, s.grpos
		remaining := frames
		for {
			idx := pos - s.dataOffset
			if idx < 0 {
				remaining += int(idx)
				pos -= idx
				idx = 0
			}
			if remaining < 1 {
				break
			}
			if idx >= int64(len(s.data)) {
				break
			}
			f := s.data[idx]
			grpos = f.Grpos
			cb(f)
			pos++
			remaining--
		}
		s.pos, s.grpos = pos, grpos
	}
}

// Write appends one frame unconditionally and fans it out to every current
// subscriber. This is MediaStream's plain (non-buffering) write; see
// LiveMediaStream for the buffered policies of spec.md §4.10.
func (s *MediaStream) Write(grpos int64, flags int, data []byte) {
	s.mu.Lock()
	s.data = append(s.data, Frame{Grpos: grpos, Flags: flags, Data: data})
	listeners := s.snapshotListeners()
	s.mu.Unlock()
	notify(listeners, grpos, flags, data)
}

func (s *MediaStream) snapshotListeners() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func notify(listeners []Listener, grpos int64, flags int, data []byte) {
	for _, l := range listeners {
		l(grpos, flags, data)
	}
}

// scanFromEnd locates the absolute frame index satisfying a trim/preroll
// policy: grposRange and frames are mutually exclusive window selectors,
// flagMask (if non-zero) anchors the result backward (negative) or forward
// (positive) to the nearest frame carrying that flag. Caller must hold mu.
func (s *MediaStream) scanFromEnd(grposRange int64, frames int, flagMask int) (int64, bool) {
	if len(s.data) == 0 {
		return 0, false
	}

	pos := len(s.data) - 1

	switch {
	case grposRange > 0:
		grpos := s.data[pos].Grpos
		target := grpos - grposRange
		for pos > 0 {
			pos--
			f := s.data[pos]
			if f.Grpos < target {
				pos++
				break
			}
		}
	case frames > 0:
		pos = len(s.data) - frames
		if pos < 0 {
			pos = 0
		}
	}

	switch {
	case flagMask < 0:
		mask := -flagMask
		fpos := pos
		for fpos >= 0 {
			if s.data[fpos].Flags&mask != 0 {
				break
			}
			fpos--
		}
		if fpos >= 0 {
			pos = fpos
		}
	case flagMask > 0:
		mask := flagMask
		fpos := pos
		endPos := len(s.data) - 1
		for fpos <= endPos {
			if s.data[fpos].Flags&mask != 0 {
				break
			}
			fpos++
		}
		if fpos <= endPos {
			pos = fpos
		}
	}

	return s.dataOffset + int64(pos), true
}

// Trim drops the earliest frames so the retained window matches the given
// policy (see scanFromEnd); a non-zero flagMask anchors the cut to the
// nearest matching frame instead of cutting exactly at the window edge.
func (s *MediaStream) Trim(grposRange int64, frames int, flagMask int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trimLocked(grposRange, frames, flagMask)
}

func (s *MediaStream) trimLocked(grposRange int64, frames int, flagMask int) {
	rawPos, ok := s.scanFromEnd(grposRange, frames, flagMask)
	if !ok {
		return
	}
	pos := rawPos - s.dataOffset
	if pos > 0 {
		s.dataOffset += pos
		s.data = append([]Frame(nil), s.data[pos:]...)
	}
}

// Subscribe replays a preroll suffix of stored frames chosen by exactly one
// of prerollGrposRange/prerollFrames (a window selector) or
// prerollFromFrame (an explicit absolute frame index), then adds cb as a
// live listener for every subsequent Write.
func (s *MediaStream) Subscribe(cb Listener, prerollGrposRange int64, prerollFrames int, prerollFromFrame *int64, flagMask int) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pos int64
	havePos := false

	switch {
	case prerollGrposRange > 0 || prerollFrames > 0:
		rawPos, ok := s.scanFromEnd(prerollGrposRange, prerollFrames, flagMask)
		if ok {
			pos = rawPos - s.dataOffset
			havePos = true
		}
	case prerollFromFrame != nil:
		pos = *prerollFromFrame - s.dataOffset
		if pos < 0 || pos >= int64(len(s.data)) {
			return 0, &rtmperr.InvalidFrameNumberError{Frame: *prerollFromFrame}
		}
		havePos = true
	}

	if havePos {
		for _, f := range s.data[pos:] {
			cb(f.Grpos, f.Flags, f.Data)
		}
	}

	s.nextSubID++
	id := s.nextSubID
	s.listeners[id] = cb
	return Subscription(id), nil
}

// Unsubscribe removes a live listener registered by Subscribe.
func (s *MediaStream) Unsubscribe(sub Subscription) {
	s.mu.Lock()
	delete(s.listeners, int(sub))
	s.mu.Unlock()
}

// FindFrameBackward resolves a trim/preroll-style seek policy to an
// absolute frame index without mutating the stream.
func (s *MediaStream) FindFrameBackward(grposRange int64, frames int, flagMask int) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanFromEnd(grposRange, frames, flagMask)
}

// FrameToGrpos converts an absolute frame index (negative counts from the
// end) to its grpos; it fails with *rtmperr.InvalidFrameNumberError when the
// index falls outside the retained window.
func (s *MediaStream) FrameToGrpos(frame int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dataLen := int64(len(s.data))
	if frame < 0 {
		frame = s.dataOffset + dataLen + frame
	}
	raw := frame - s.dataOffset
	if raw >= 0 && raw < dataLen {
		return s.data[raw].Grpos, nil
	}
	return 0, &rtmperr.InvalidFrameNumberError{Frame: frame}
}

func copyStrMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
