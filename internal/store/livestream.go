package store

// indexEntry is one sparse anchor-frame record: its absolute frame index
// and grpos, kept only for the flag-mask buffering policies.
type indexEntry struct {
	pos   int64
	grpos int64
}

// LiveMediaStream is a MediaStream whose Write applies one of the four
// buffering policies from spec.md §4.10 instead of appending unconditionally.
// Grounded on twimp's IMLiveStream.
type LiveMediaStream struct {
	*MediaStream

	bufGrpos    int64
	bufFrames   int
	bufFlagMask int

	grposFirst *int64
	grposLast  *int64
	index      []indexEntry
}

// NewLiveMediaStream returns an empty live stream with no buffering: every
// write replaces the single retained frame (policy 1 of spec.md §4.10).
func NewLiveMediaStream() *LiveMediaStream {
	return &LiveMediaStream{MediaStream: NewMediaStream()}
}

// SetBuffering selects the write strategy used by subsequent writes. Per
// spec.md §4.10: both zero means no buffering (single-slot replace);
// grposRange > 0 keeps a trailing grpos window; frames > 0 keeps a frame
// count; a non-zero flagMask (with either selector) additionally anchors
// the trim point to the nearest frame carrying that flag.
func (l *LiveMediaStream) SetBuffering(grposRange int64, frames int, flagMask int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case grposRange > 0:
		l.bufGrpos, l.bufFrames = grposRange, 0
	case frames > 0:
		l.bufFrames, l.bufGrpos = frames, 0
	default:
		l.bufGrpos, l.bufFrames, l.bufFlagMask = 0, 0, 0
		l.index = nil
		return
	}

	if flagMask != 0 {
		l.bufFlagMask = absInt(flagMask)
		l.initIndexLocked()
	} else {
		l.bufFlagMask = 0
		l.index = nil
	}
}

func (l *LiveMediaStream) initIndexLocked() {
	var index []indexEntry
	offset := l.dataOffset
	for i, f := range l.data {
		if l.bufFlagMask&f.Flags != 0 {
			index = append(index, indexEntry{pos: int64(i) + offset, grpos: f.Grpos})
		}
	}
	l.index = index
}

// Write applies the stream's current buffering policy, then fans the frame
// out to live subscribers exactly as MediaStream.Write does.
func (l *LiveMediaStream) Write(grpos int64, flags int, data []byte) {
	l.mu.Lock()
	switch {
	case l.bufFlagMask != 0:
		l.writeBufferingWithIndexLocked(grpos, flags, data)
	case l.bufGrpos > 0 || l.bufFrames > 0:
		l.writeBufferingNoIndexLocked(grpos, flags, data)
	default:
		l.writeNoBufferingLocked(grpos, flags, data)
	}
	listeners := l.snapshotListeners()
	l.mu.Unlock()
	notify(listeners, grpos, flags, data)
}

func (l *LiveMediaStream) writeNoBufferingLocked(grpos int64, flags int, data []byte) {
	if len(l.data) > 0 {
		l.data[0] = Frame{Grpos: grpos, Flags: flags, Data: data}
	} else {
		l.data = append(l.data, Frame{Grpos: grpos, Flags: flags, Data: data})
	}
	l.dataOffset++
	l.grposFirst, l.grposLast = ptr(grpos), ptr(grpos)
}

func (l *LiveMediaStream) writeBufferingNoIndexLocked(grpos int64, flags int, data []byte) {
	l.data = append(l.data, Frame{Grpos: grpos, Flags: flags, Data: data})
	if l.grposFirst == nil {
		l.grposFirst = ptr(l.data[0].Grpos)
	}
	l.grposLast = ptr(grpos)
	if l.bufGrpos > 0 {
		l.cutGrposLocked()
	} else {
		l.cutFramesLocked()
	}
}

func (l *LiveMediaStream) writeBufferingWithIndexLocked(grpos int64, flags int, data []byte) {
	l.data = append(l.data, Frame{Grpos: grpos, Flags: flags, Data: data})
	if l.grposFirst == nil {
		l.grposFirst = ptr(l.data[0].Grpos)
	}
	l.grposLast = ptr(grpos)

	frameIdx := int64(len(l.data)) + l.dataOffset - 1
	if flags&l.bufFlagMask != 0 {
		l.index = append(l.index, indexEntry{pos: frameIdx, grpos: grpos})
	}

	if l.bufGrpos > 0 {
		l.cutGrposFlagMaskLocked()
	} else {
		l.cutFramesFlagMaskLocked()
	}
}

func (l *LiveMediaStream) cutGrposLocked() {
	if l.grposLast == nil || l.grposFirst == nil || len(l.data) == 0 {
		return
	}
	target := *l.grposLast - l.bufGrpos
	pos := 0
	grpos := *l.grposFirst
	n := len(l.data)
	for grpos < target && pos < n-1 {
		pos++
		grpos = l.data[pos].Grpos
	}
	if pos > 0 {
		l.dataOffset += int64(pos)
		l.data = append([]Frame(nil), l.data[pos:]...)
		if len(l.data) > 0 {
			l.grposFirst = ptr(l.data[0].Grpos)
		}
	}
}

func (l *LiveMediaStream) cutFramesLocked() {
	pos := len(l.data) - l.bufFrames
	if pos > 0 {
		l.dataOffset += int64(pos)
		l.data = append([]Frame(nil), l.data[pos:]...)
		if len(l.data) > 0 {
			l.grposFirst = ptr(l.data[0].Grpos)
		}
	}
}

func (l *LiveMediaStream) cutGrposFlagMaskLocked() {
	if l.grposLast == nil {
		return
	}
	target := *l.grposLast - l.bufGrpos
	iPos, iLen := 0, len(l.index)
	for iPos < iLen && l.index[iPos].grpos <= target {
		iPos++
	}
	if iPos == 0 {
		return
	}
	iPos--
	offset := l.dataOffset
	pos := l.index[iPos].pos - offset
	l.index = append([]indexEntry(nil), l.index[iPos:]...)
	l.dataOffset = offset + pos
	l.data = append([]Frame(nil), l.data[pos:]...)
	if len(l.data) > 0 {
		l.grposFirst = ptr(l.data[0].Grpos)
	}
}

func (l *LiveMediaStream) cutFramesFlagMaskLocked() {
	offset := l.dataOffset
	targetPos := int64(len(l.data)) - int64(l.bufFrames)
	if targetPos < 1 {
		return
	}
	targetPos += offset

	iPos, iLen := 0, len(l.index)
	for iPos < iLen && l.index[iPos].pos <= targetPos {
		iPos++
	}
	if iPos == 0 {
		return
	}
	iPos--
	pos := l.index[iPos].pos - offset
	l.index = append([]indexEntry(nil), l.index[iPos:]...)
	l.dataOffset = offset + pos
	l.data = append([]Frame(nil), l.data[pos:]...)
	if len(l.data) > 0 {
		l.grposFirst = ptr(l.data[0].Grpos)
	}
}

func ptr(v int64) *int64 { return &v }

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
