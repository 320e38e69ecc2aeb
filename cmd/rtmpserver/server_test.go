package main

import (
	"net"
	"testing"
	"time"

	"github.com/relaycast/rtmpcore/internal/amf0"
)

// harness wires a session the same way AcceptConnections does, but over a
// net.Pipe so the test can drive the wire protocol directly without a real
// socket or handshake. The peer side is drained in the background so writes
// never block.
type harness struct {
	srv *Server
	sess *session
	peer net.Conn
}

func newHarness(t *testing.T, srv *Server, ip string) *harness {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	s := newSession(srv, ip, ip, serverConn)

	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := clientConn.Read(buf); err != nil {
				return
			}
		}
	}()

	return &harness{srv: srv, sess: s, peer: clientConn}
}

func (h *harness) sendCommand(msID uint32, name string, transID float64, args ...amf0.Value) {
	vals := append([]amf0.Value{amf0.String(name), amf0.Number(transID)}, args...)
	h.sess.disp.HandleCommand(0, msID, amf0.Encode(vals...))
}

func newStandAloneServer() *Server {
	return CreateServer(Config{
		BindAddress:       "127.0.0.1",
		TCPPort:           0,
		ChunkSize:         128,
		IPConnectionLimit: 4,
	})
}

func connectCmdObj(app string) *amf0.Object {
	obj := amf0.NewObject()
	obj.Set("app", amf0.String(app))
	obj.Set("tcUrl", amf0.String("rtmp://localhost/"+app))
	return obj
}

// waitUntil polls cond with a short interval until it is true or the
// deadline passes, since command replies run asynchronously on the
// dispatcher's call queue.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishThenPlayRoundTripsThroughRegistry(t *testing.T) {
	srv := newStandAloneServer()

	pub := newHarness(t, srv, "10.0.0.1")
	pub.sendCommand(0, "connect", 1, amf0.Obj(connectCmdObj("live")))
	pub.sendCommand(0, "createStream", 2)
	// createStream always assigns stream id 1 for the first call on a fresh
	// connection; commands on the dispatcher's call queue run strictly in
	// the order they were scheduled, so connect has already completed by
	// the time publish runs.
	pub.sendCommand(1, "publish", 0, amf0.String("secretkey"), amf0.String("live"))
	waitUntil(t, func() bool { return srv.registry.IsPublishing("live") })

	play := newHarness(t, srv, "10.0.0.2")
	play.sendCommand(0, "connect", 1, amf0.Obj(connectCmdObj("live")))
	play.sendCommand(0, "createStream", 2)
	play.sendCommand(1, "play", 0, amf0.String("secretkey"))

	pub.sess.Close()
	waitUntil(t, func() bool { return !srv.registry.IsPublishing("live") })

	play.sess.Close()
}

func TestPublishRejectsInvalidKey(t *testing.T) {
	srv := newStandAloneServer()
	pub := newHarness(t, srv, "10.0.0.3")

	pub.sendCommand(0, "connect", 1, amf0.Obj(connectCmdObj("live")))
	pub.sendCommand(0, "createStream", 2)
	pub.sendCommand(1, "publish", 0, amf0.String("bad key?with space"), amf0.String("live"))

	time.Sleep(50 * time.Millisecond)
	if srv.registry.IsPublishing("live") {
		t.Fatal("expected publish with an invalid key to be rejected")
	}
}
