package chunk

import (
	"bytes"
	"testing"
)

func TestMuxDemuxRoundTrip(t *testing.T) {
	var sent [][]byte
	producer := &SimpleChunkProducer{
		Write: func(header, body []byte) error {
			sent = append(sent, append(append([]byte{}, header...), body...))
			return nil
		},
	}
	mux := NewMuxer(producer)

	body := bytes.Repeat([]byte{0xAB}, 300)
	mux.SendMessage(CategoryCommand, 1000, 1, body, true)

	var wire []byte
	for _, c := range sent {
		wire = append(wire, c...)
	}

	demux := NewDemuxer()
	msgs, err := demux.Feed(wire)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if !bytes.Equal(msgs[0].Payload, body) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(msgs[0].Payload), len(body))
	}
	if msgs[0].Header.AbsTime != 1000 {
		t.Fatalf("time = %d, want 1000", msgs[0].Header.AbsTime)
	}
	if msgs[0].Header.StreamID != 1 {
		t.Fatalf("stream id = %d, want 1", msgs[0].Header.StreamID)
	}
}

func TestMuxDemuxIncrementalFeed(t *testing.T) {
	var sent [][]byte
	producer := &SimpleChunkProducer{
		Write: func(header, body []byte) error {
			sent = append(sent, append(append([]byte{}, header...), body...))
			return nil
		},
	}
	mux := NewMuxer(producer)
	body := []byte("hello world")
	mux.SendMessage(CategoryCommand, 0, 1, body, true)

	var wire []byte
	for _, c := range sent {
		wire = append(wire, c...)
	}

	demux := NewDemuxer()
	var got []Message
	for i := 0; i < len(wire); i++ {
		msgs, err := demux.Feed(wire[i : i+1])
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, msgs...)
	}
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1", len(got))
	}
	if !bytes.Equal(got[0].Payload, body) {
		t.Fatalf("payload mismatch: %q", got[0].Payload)
	}
}

func TestDemuxControlSetChunkSize(t *testing.T) {
	producer := &SimpleChunkProducer{Write: func(h, b []byte) error { return nil }}
	mux := NewMuxer(producer)
	var sent [][]byte
	producer.Write = func(header, body []byte) error {
		sent = append(sent, append(append([]byte{}, header...), body...))
		return nil
	}

	body := make([]byte, 4)
	body[3] = 0xFA // 250
	mux.SendMessage(CategorySetChunkSize, 0, 0, body, true)

	var wire []byte
	for _, c := range sent {
		wire = append(wire, c...)
	}

	demux := NewDemuxer()
	var got uint32
	demux.OnSetChunkSize = func(size uint32) { got = size }
	if _, err := demux.Feed(wire); err != nil {
		t.Fatal(err)
	}
	if got != 250 {
		t.Fatalf("chunk size = %d, want 250", got)
	}
	if demux.ChunkSize() != 250 {
		t.Fatalf("demux.ChunkSize() = %d, want 250", demux.ChunkSize())
	}
}

func TestType3RepeatsDelta(t *testing.T) {
	var sent [][]byte
	producer := &SimpleChunkProducer{
		Write: func(header, body []byte) error {
			sent = append(sent, append(append([]byte{}, header...), body...))
			return nil
		},
	}
	mux := NewMuxer(producer)
	mux.SendMessage(CategoryVideo, 1000, 5, []byte{1, 2, 3}, true)
	mux.SendMessage(CategoryVideo, 1040, 5, []byte{4, 5, 6}, false)
	mux.SendMessage(CategoryVideo, 1080, 5, []byte{7, 8, 9}, false)

	var wire []byte
	for _, c := range sent {
		wire = append(wire, c...)
	}

	demux := NewDemuxer()
	msgs, err := demux.Feed(wire)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	times := []uint32{1000, 1040, 1080}
	for i, m := range msgs {
		if m.Header.AbsTime != times[i] {
			t.Fatalf("msg %d time = %d, want %d", i, m.Header.AbsTime, times[i])
		}
	}
}

// TestRelativeFirstChunk exercises a fmt-1 (relative) header as the very
// first chunk ever seen on a chunk stream, with chunk size 32: a fmt-1
// header (cs_id 6, delta 0, size 67, type 8) followed by 32 bytes of 0x01,
// a fmt-3 continuation with 32 bytes of 0x02, then a fmt-3 continuation
// with 3 bytes of 0x03.
func TestRelativeFirstChunk(t *testing.T) {
	wire := []byte{0x46, 0x00, 0x00, 0x00, 0x00, 0x00, 0x43, 0x08}
	wire = append(wire, bytes.Repeat([]byte{0x01}, 32)...)
	wire = append(wire, 0xc6)
	wire = append(wire, bytes.Repeat([]byte{0x02}, 32)...)
	wire = append(wire, 0xc6)
	wire = append(wire, bytes.Repeat([]byte{0x03}, 3)...)

	demux := NewDemuxer()
	demux.chunkSize = 32

	msgs, err := demux.Feed(wire)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Header.CSID != 6 || m.Header.AbsTime != 0 || m.Header.Size != 67 ||
		m.Header.Type != 8 || m.Header.StreamID != 0 {
		t.Fatalf("header = %+v, want {CSID:6 AbsTime:0 Size:67 Type:8 StreamID:0}", m.Header)
	}
	want := append(append(bytes.Repeat([]byte{0x01}, 32), bytes.Repeat([]byte{0x02}, 32)...), bytes.Repeat([]byte{0x03}, 3)...)
	if !bytes.Equal(m.Payload, want) {
		t.Fatalf("payload mismatch: got %d bytes, want %d", len(m.Payload), len(want))
	}
}

// TestType3AcceptsExtendedTimestamp covers a conformant peer that repeats
// the extended timestamp prefix on a fmt-3 continuation chunk, which this
// package's own Muxer never emits but spec-compliant peers may.
func TestType3AcceptsExtendedTimestamp(t *testing.T) {
	demux := NewDemuxer()

	// fmt-0, cs_id 4, extended timestamp sentinel, size 3, type 8 (audio),
	// stream id 1, extended timestamp value 0x01000000, payload "abc".
	wire := []byte{0x04}
	wire = append(wire, 0xff, 0xff, 0xff) // timestamp sentinel
	wire = append(wire, 0x00, 0x00, 0x03) // size 3
	wire = append(wire, 0x08)             // type: audio
	wire = append(wire, 0x01, 0x00, 0x00, 0x00)
	wire = append(wire, 0x01, 0x00, 0x00, 0x00) // extended timestamp
	wire = append(wire, 'a', 'b', 'c')

	// fmt-3 continuation for the next message on the same chunk stream,
	// repeating the extended timestamp prefix.
	wire = append(wire, 0xc4)
	wire = append(wire, 0x01, 0x00, 0x00, 0x00) // repeated extended timestamp
	wire = append(wire, 'd', 'e', 'f')

	msgs, err := demux.Feed(wire)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if !bytes.Equal(msgs[0].Payload, []byte("abc")) {
		t.Fatalf("msg 0 payload = %q, want abc", msgs[0].Payload)
	}
	if !bytes.Equal(msgs[1].Payload, []byte("def")) {
		t.Fatalf("msg 1 payload = %q, want def", msgs[1].Payload)
	}
	if msgs[1].Header.AbsTime != 0x02000000 {
		t.Fatalf("msg 1 AbsTime = %d, want %d", msgs[1].Header.AbsTime, 0x02000000)
	}
}
