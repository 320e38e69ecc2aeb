package dispatch

import (
	"context"
	"testing"

	"github.com/relaycast/rtmpcore/internal/amf0"
	"github.com/relaycast/rtmpcore/internal/chunk"
	"github.com/relaycast/rtmpcore/internal/rtmperr"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *[][]byte) {
	t.Helper()
	var sent [][]byte
	producer := &chunk.SimpleChunkProducer{
		Write: func(header, body []byte) error {
			sent = append(sent, append(append([]byte{}, header...), body...))
			return nil
		},
	}
	mux := chunk.NewMuxer(producer)
	d := New(mux, func() uint32 { return 0 })
	return d, &sent
}

func decodeLastCommand(t *testing.T, wire [][]byte) []amf0.Value {
	t.Helper()
	demux := chunk.NewDemuxer()
	var all []byte
	for _, c := range wire {
		all = append(all, c...)
	}
	msgs, err := demux.Feed(all)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if len(msgs) == 0 {
		t.Fatal("no messages decoded")
	}
	vals, err := amf0.Decode(msgs[len(msgs)-1].Payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return vals
}

// barrier schedules a no-op on d's call queue and waits for it to run,
// which (since the queue is single-worker FIFO) guarantees every task
// scheduled before this call has already completed.
func barrier(d *Dispatcher) {
	done := make(chan struct{})
	d.queue.Schedule(func(ctx context.Context) { close(done) })
	<-done
}

func TestRemoteHandlerSendsResult(t *testing.T) {
	d, sent := newTestDispatcher(t)
	d.OnRemote("play", func(ts, msID uint32, args []amf0.Value) (amf0.Value, error) {
		return amf0.Bool(true), nil
	})

	body := amf0.Encode(amf0.String("play"), amf0.Number(3), amf0.Null(), amf0.String("mystream"))
	d.HandleCommand(0, 1, body)
	barrier(d)

	vals := decodeLastCommand(t, *sent)
	if vals[0].String() != "_result" {
		t.Fatalf("got command %q, want _result", vals[0].String())
	}
	if vals[1].Int64() != 3 {
		t.Fatalf("trans id = %d, want 3", vals[1].Int64())
	}
}

func TestUnknownCommandSendsGenericError(t *testing.T) {
	d, sent := newTestDispatcher(t)

	body := amf0.Encode(amf0.String("bogus"), amf0.Number(7))
	d.HandleCommand(0, 1, body)
	barrier(d)

	vals := decodeLastCommand(t, *sent)
	if vals[0].String() != "_error" {
		t.Fatalf("got command %q, want _error", vals[0].String())
	}
}

func TestCallAbortedSendsNoReply(t *testing.T) {
	d, sent := newTestDispatcher(t)
	d.OnRemote("publish", func(ts, msID uint32, args []amf0.Value) (amf0.Value, error) {
		return amf0.Value{}, &rtmperr.CallAbortedError{Reason: "already publishing"}
	})

	body := amf0.Encode(amf0.String("publish"), amf0.Number(9))
	d.HandleCommand(0, 1, body)
	barrier(d)

	if len(*sent) != 0 {
		t.Fatalf("expected no reply, got %d chunks", len(*sent))
	}
}

func TestCallRemoteCompletesOnResult(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ch := d.CallRemote(1, "play", amf0.String("foo"))

	body := amf0.Encode(amf0.String("_result"), amf0.Number(1), amf0.Bool(true))
	d.HandleCommand(0, 1, body)

	res := <-ch
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	if !res.Args[0].Bool() {
		t.Fatalf("expected true result arg")
	}
}

func TestWaitStatusWildcard(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ch := d.WaitStatus(1, "")

	info := amf0.NewObject().Set("code", amf0.String("NetStream.Play.Start"))
	body := amf0.Encode(amf0.String("onStatus"), amf0.Number(0), amf0.Null(), amf0.Obj(info))
	d.HandleCommand(0, 1, body)

	res := <-ch
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	code, _ := res.Info.Get("code")
	if code.String() != "NetStream.Play.Start" {
		t.Fatalf("code = %q", code.String())
	}
}

func TestWaitStatusWrongCodeFails(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ch := d.WaitStatus(1, "NetStream.Play.Start")

	info := amf0.NewObject().Set("code", amf0.String("NetStream.Play.Failed"))
	body := amf0.Encode(amf0.String("onStatus"), amf0.Number(0), amf0.Null(), amf0.Obj(info))
	d.HandleCommand(0, 1, body)

	res := <-ch
	if res.Err == nil {
		t.Fatal("expected UnexpectedStatusError")
	}
	if _, ok := res.Err.(*rtmperr.UnexpectedStatusError); !ok {
		t.Fatalf("got %T, want *rtmperr.UnexpectedStatusError", res.Err)
	}
}

func TestCloseFailsPendingCalls(t *testing.T) {
	d, _ := newTestDispatcher(t)
	ch := d.CallRemote(1, "play")
	d.Close(rtmperr.ErrNotFound)
	res := <-ch
	if res.Err == nil {
		t.Fatal("expected close to fail pending call")
	}
}
