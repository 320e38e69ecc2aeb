package chunk

import (
	"github.com/relaycast/rtmpcore/internal/rtmpbits"
	"github.com/relaycast/rtmpcore/internal/vecbuf"
)

// Protocol control message types, carried on chunk stream 2 with message
// stream id 0.
const (
	ctrlSetChunkSize = 1
	ctrlAbortMessage = 2
	ctrlAck          = 3
	ctrlUserControl  = 4
	ctrlWindowSize   = 5
	ctrlSetPeerBW    = 6
)

const defaultChunkSize = 128

var extraCSIDBytes = [3]int{1, 2, 0}
var msgHeaderBytes = [4]int{11, 7, 3, 0}

type accum struct {
	header    Header
	base      chunkBase
	body      [][]byte
	remaining uint32
}

// Demuxer turns a byte stream into a sequence of reassembled Messages. It
// is a pull parser: Feed is called with newly arrived bytes and returns
// every message that became complete as a result, buffering any partial
// chunk internally until more bytes arrive.
//
// Protocol control messages (chunk stream 2, message stream 0) are
// consumed internally and reported through the On* hooks rather than
// returned as Messages.
type Demuxer struct {
	chunkSize uint32

	buf *vecbuf.VecBuf

	chstrAccum map[uint32]*accum
	chstrBase  map[uint32]chunkBase
	chstrExt   map[uint32]bool // chunk stream is running in extended-timestamp mode

	OnSetChunkSize func(size uint32)
	OnAbortMessage func(csid uint32)
	OnAck          func(seq uint32)
	OnUserControl  func(eventType uint16, body []byte)
	OnWindowSize   func(size uint32)
	OnSetPeerBW    func(size uint32, limitType byte)
	OnUnknownCtrl  func(h Header, body []byte)
}

// NewDemuxer returns a Demuxer with the protocol's default starting chunk
// size of 128 bytes.
func NewDemuxer() *Demuxer {
	return &Demuxer{
		chunkSize:  defaultChunkSize,
		buf:        vecbuf.New(),
		chstrAccum: make(map[uint32]*accum),
		chstrBase:  make(map[uint32]chunkBase),
		chstrExt:   make(map[uint32]bool),
	}
}

// ChunkSize reports the currently negotiated incoming chunk size.
func (d *Demuxer) ChunkSize() uint32 { return d.chunkSize }

// Feed appends newly received bytes and returns every message that became
// fully reassembled as a result. Bytes belonging to an incomplete chunk or
// message are retained internally for the next call.
//
// data is copied before being queued: VecBuf retains whatever it is handed
// without copying, and callers typically read into and reuse a fixed
// scratch buffer across calls.
func (d *Demuxer) Feed(data []byte) ([]Message, error) {
	if len(data) > 0 {
		cp := make([]byte, len(data))
		copy(cp, data)
		d.buf.Write(cp)
	}

	var out []Message

	for {
		msg, ok, err := d.step()
		if err != nil {
			return out, err
		}
		if !ok {
			break
		}
		if msg != nil {
			out = append(out, *msg)
		}
	}

	return out, nil
}

// step attempts to parse and consume exactly one chunk, committing nothing
// to the buffer unless the chunk (header and payload) is fully available.
func (d *Demuxer) step() (*Message, bool, error) {
	if d.buf.Len() < 1 {
		return nil, false, nil
	}
	first, err := d.buf.Peek(1)
	if err != nil {
		return nil, false, nil
	}
	head := first[0]
	fmtType := head >> 6
	csid := uint32(head & 0x3f)

	csidSel := csid
	if csidSel > 2 {
		csidSel = 2
	}
	fixedLen := 1 + extraCSIDBytes[csidSel] + msgHeaderBytes[fmtType]
	if d.buf.Len() < fixedLen {
		return nil, false, nil
	}
	pre, err := d.buf.Peek(fixedLen)
	if err != nil {
		return nil, false, nil
	}

	off := 1
	switch csid {
	case 0:
		csid = uint32(pre[off]) + 64
		off++
	case 1:
		csid = uint32(pre[off]) | uint32(pre[off+1])<<8
		csid += 64
		off += 2
	}

	var raw rawHeader
	headerLen := fixedLen
	extTime := false

	switch fmtType {
	case 0:
		t := rtmpbits.Uint24BE(pre[off : off+3])
		sz := rtmpbits.Uint24BE(pre[off+3 : off+6])
		mt := pre[off+6]
		sid := rtmpbits.Uint32LE(pre[off+7 : off+11])
		if t == rtmpbits.ExtendedTimestampSentinel {
			ext, err := d.buf.Peek(fixedLen + 4)
			if err != nil {
				return nil, false, nil
			}
			t = rtmpbits.Uint32BE(ext[fixedLen : fixedLen+4])
			headerLen += 4
			extTime = true
		}
		raw = rawHeader{time: &t, size: &sz, msgType: &mt, streamID: &sid}
	case 1:
		t := rtmpbits.Uint24BE(pre[off : off+3])
		sz := rtmpbits.Uint24BE(pre[off+3 : off+6])
		mt := pre[off+6]
		if t == rtmpbits.ExtendedTimestampSentinel {
			ext, err := d.buf.Peek(fixedLen + 4)
			if err != nil {
				return nil, false, nil
			}
			t = rtmpbits.Uint32BE(ext[fixedLen : fixedLen+4])
			headerLen += 4
			extTime = true
		}
		raw = rawHeader{time: &t, size: &sz, msgType: &mt}
	case 2:
		t := rtmpbits.Uint24BE(pre[off : off+3])
		if t == rtmpbits.ExtendedTimestampSentinel {
			ext, err := d.buf.Peek(fixedLen + 4)
			if err != nil {
				return nil, false, nil
			}
			t = rtmpbits.Uint32BE(ext[fixedLen : fixedLen+4])
			headerLen += 4
			extTime = true
		}
		raw = rawHeader{time: &t}
	case 3:
		// No header fields of its own, but a chunk stream running in
		// extended-timestamp mode may repeat the 4-byte extended timestamp
		// on fmt-3 chunks. The next 4 bytes are taken as that prefix only
		// when they equal the stream's current raw timestamp; otherwise
		// they are payload, so a peer that omits the prefix on fmt-3 (as
		// this package's own Muxer does) is also accepted.
		if d.chstrExt[csid] {
			ext, err := d.buf.Peek(fixedLen + 4)
			if err != nil {
				return nil, false, nil
			}
			want := d.chstrBase[csid].rawTime
			if a, ok := d.chstrAccum[csid]; ok {
				want = a.base.rawTime
			}
			if rtmpbits.Uint32BE(ext[fixedLen:fixedLen+4]) == want {
				headerLen += 4
			}
		}
	}

	return d.continueChunk(csid, raw, headerLen, extTime, fmtType)
}

// continueChunk resolves the header for csid (if this is the first chunk of
// a new message) and, once the full chunk — header plus however much
// payload this chunk carries — is confirmed available, commits it from the
// buffer in one shot.
func (d *Demuxer) continueChunk(csid uint32, raw rawHeader, headerLen int, extTime bool, fmtType byte) (*Message, bool, error) {
	var header Header
	var base chunkBase
	var toRead uint32
	var existing *accum

	if a, ok := d.chstrAccum[csid]; ok {
		existing = a
		header = a.header
		base = a.base
		toRead = a.remaining
	} else {
		b, hasBase := d.chstrBase[csid]
		var baseP *chunkBase
		if hasBase {
			baseP = &b
		}
		h, nb, err := resolve(csid, raw, baseP)
		if err != nil {
			return nil, false, err
		}
		header = h
		base = nb
		toRead = h.Size
	}

	need := toRead
	if need > d.chunkSize {
		need = d.chunkSize
	}

	total := headerLen + int(need)
	full, err := d.buf.Read(total)
	if err != nil {
		return nil, false, nil
	}
	payload := full[headerLen:]

	if fmtType < 3 {
		d.chstrExt[csid] = extTime
	}

	var body [][]byte
	if existing != nil {
		body = append(existing.body, payload)
	} else {
		body = [][]byte{payload}
	}

	remaining := toRead - need
	if remaining > 0 {
		d.chstrAccum[csid] = &accum{header: header, base: base, body: body, remaining: remaining}
		return nil, true, nil
	}

	delete(d.chstrAccum, csid)
	d.chstrBase[csid] = base

	full2 := flatten(body)

	if csid == 2 && header.Type > 0 && header.Type < 8 && header.StreamID == 0 {
		if err := d.dispatchControl(header, full2); err != nil {
			return nil, false, err
		}
		return nil, true, nil
	}

	return &Message{Header: header, Payload: full2}, true, nil
}

func flatten(rows [][]byte) []byte {
	total := 0
	for _, r := range rows {
		total += len(r)
	}
	out := make([]byte, 0, total)
	for _, r := range rows {
		out = append(out, r...)
	}
	return out
}

func (d *Demuxer) dispatchControl(h Header, body []byte) error {
	switch h.Type {
	case ctrlSetChunkSize:
		if len(body) != 4 {
			return ErrControlSize
		}
		size := rtmpbits.Uint32BE(body)
		if size == 0 {
			return ErrBadChunkSize
		}
		d.chunkSize = size
		if d.OnSetChunkSize != nil {
			d.OnSetChunkSize(size)
		}
	case ctrlAbortMessage:
		if len(body) != 4 {
			return ErrControlSize
		}
		csid := rtmpbits.Uint32BE(body)
		delete(d.chstrAccum, csid)
		if d.OnAbortMessage != nil {
			d.OnAbortMessage(csid)
		}
	case ctrlAck:
		if len(body) != 4 {
			return ErrControlSize
		}
		if d.OnAck != nil {
			d.OnAck(rtmpbits.Uint32BE(body))
		}
	case ctrlUserControl:
		if len(body) < 2 {
			return ErrControlSize
		}
		evt := uint16(body[0])<<8 | uint16(body[1])
		if d.OnUserControl != nil {
			d.OnUserControl(evt, body[2:])
		}
	case ctrlWindowSize:
		if len(body) != 4 {
			return ErrControlSize
		}
		if d.OnWindowSize != nil {
			d.OnWindowSize(rtmpbits.Uint32BE(body))
		}
	case ctrlSetPeerBW:
		if len(body) != 5 {
			return ErrControlSize
		}
		if d.OnSetPeerBW != nil {
			d.OnSetPeerBW(rtmpbits.Uint32BE(body[0:4]), body[4])
		}
	default:
		if d.OnUnknownCtrl != nil {
			d.OnUnknownCtrl(h, body)
		}
	}
	return nil
}
