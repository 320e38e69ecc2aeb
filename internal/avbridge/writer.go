package avbridge

import (
	"github.com/relaycast/rtmpcore/internal/chunk"
)

type bufferedFrame struct {
	grpos int64
	data  []byte
}

// BufferingWriter holds frames written during a play session's preroll
// phase (one queue per track category) and flushes them once PrerollDone is
// called, optionally rewriting every timestamp relative to the last
// prerolled grpos and/or bracketing the video queue with H.264 AVCHD
// "info" markers so picky players don't stall waiting for audio. Grounded
// on controllers.py's BufferingWriter.
type BufferingWriter struct {
	ns NetStream

	bufs map[chunk.Category][]bufferedFrame

	rewrite    bool
	mark       bool
	prerolling bool
	baseGrpos  int64
}

// newBufferingWriter mirrors BufferingWriter.__init__: a single-track group
// forces info markers (and therefore rewriting) for video-only playback, so
// a picky player doesn't buffer forever waiting for audio that will never
// come; for anything else the caller's rewrite/marks choices stand.
func newBufferingWriter(ns NetStream, trackTypes []chunk.Category, rewriteTS, useInfoMarks bool) *BufferingWriter {
	w := &BufferingWriter{
		ns:         ns,
		bufs:       make(map[chunk.Category][]bufferedFrame, len(trackTypes)),
		rewrite:    rewriteTS,
		mark:       useInfoMarks,
		prerolling: true,
	}
	for _, t := range trackTypes {
		w.bufs[t] = nil
	}

	if len(trackTypes) == 1 {
		if trackTypes[0] == chunk.CategoryVideo {
			w.mark = true
		} else {
			w.mark = false
		}
	}
	if w.mark {
		w.rewrite = true
	}
	return w
}

// Write queues or forwards one frame, depending on whether preroll is done.
func (w *BufferingWriter) Write(cat chunk.Category, grpos int64, flags int, data []byte) {
	if w.prerolling {
		w.bufs[cat] = append(w.bufs[cat], bufferedFrame{grpos: grpos, data: data})
		return
	}
	if w.rewrite {
		w.ns.Send(uint32(grpos-w.baseGrpos), cat, data)
	} else {
		w.ns.Send(uint32(grpos), cat, data)
	}
}

// PrerollDone flushes every buffered frame and switches the writer to
// direct-forwarding mode. Video frames are (optionally) bracketed with the
// AVCHD info markers 0x57 0x00 / 0x57 0x01.
func (w *BufferingWriter) PrerollDone() {
	if w.rewrite {
		var maxGrpos int64
		have := false
		for _, frames := range w.bufs {
			if len(frames) == 0 {
				continue
			}
			last := frames[len(frames)-1].grpos
			if !have || last > maxGrpos {
				maxGrpos, have = last, true
			}
		}
		if have {
			w.baseGrpos = maxGrpos
		}
	}

	w.flushTrack(chunk.CategoryVideo, w.mark)
	w.flushTrack(chunk.CategoryAudio, false)

	w.prerolling = false
}

func (w *BufferingWriter) flushTrack(cat chunk.Category, mark bool) {
	frames, ok := w.bufs[cat]
	if !ok {
		return
	}
	if mark {
		// TODO: use the actual codec id for the info markers instead of
		// always assuming AVC (7).
		w.ns.Send(0, cat, []byte{0x57, 0x00})
	}
	w.sendMany(cat, frames)
	if mark {
		w.ns.Send(0, cat, []byte{0x57, 0x01})
	}
	w.bufs[cat] = nil
}

func (w *BufferingWriter) sendMany(cat chunk.Category, frames []bufferedFrame) {
	for _, f := range frames {
		if w.rewrite {
			w.ns.Send(0, cat, f.data)
		} else {
			w.ns.Send(uint32(f.grpos), cat, f.data)
		}
	}
}
