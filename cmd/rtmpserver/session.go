package main

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/relaycast/rtmpcore/internal/amf0"
	"github.com/relaycast/rtmpcore/internal/chunk"
	"github.com/relaycast/rtmpcore/internal/dispatch"
	"github.com/relaycast/rtmpcore/internal/handshake"
	"github.com/relaycast/rtmpcore/internal/proto"
	"github.com/relaycast/rtmpcore/internal/rtmpapp"
	"github.com/relaycast/rtmpcore/internal/rtmpbits"
	"github.com/relaycast/rtmpcore/internal/rtmplog"
)

// session wires one accepted TCP/TLS connection through the full protocol
// stack: handshake, then chunk demux/mux, proto.Controller,
// dispatch.Dispatcher and rtmpapp.Session. Grounded on rtmp_server.go's
// HandleConnection and RTMPSession's field layout, generalized from direct
// struct field pokes into an owned pipeline.
type session struct {
	id     string
	ip     string
	conn   net.Conn
	srv    *Server
	closed sync.Once

	writeMu sync.Mutex

	startedAt uint32 // wall-clock ms at connect, for clockMillis' offset

	demux *chunk.Demuxer
	mux   *chunk.Muxer
	proto *proto.Controller
	disp  *dispatch.Dispatcher
	app   *rtmpapp.Session
}

func newSession(srv *Server, id, ip string, conn net.Conn) *session {
	s := &session{id: id, ip: ip, conn: conn, srv: srv, startedAt: nowMillis()}

	producer := &chunk.SimpleChunkProducer{Write: s.writeChunk}
	s.mux = chunk.NewMuxer(producer)
	s.demux = chunk.NewDemuxer()
	s.proto = proto.New(s.demux, s.mux)
	s.disp = dispatch.New(s.mux, s.clockMillis)

	s.app = rtmpapp.New(s.mux, s.proto, s.disp, srv.resolveApp(ip))
	s.app.RemoteAddr = ip
	s.app.SetPlayWhitelist(srv.playWhitelist)
	s.app.OnFail = s.failAndClose

	return s
}

func nowMillis() uint32 {
	return uint32(time.Now().UnixMilli())
}

// clockMillis reports this session's running clock, used for onStatus/
// _result timestamps, matching RTMPSession's self.getSessionTime().
func (s *session) clockMillis() uint32 {
	return nowMillis() - s.startedAt
}

// writeChunk is the chunk.ChunkProducer sink: header and body are written
// as a single vectored write, serialized against concurrent senders
// (the dispatcher's call queue and any avbridge writer goroutine).
func (s *session) writeChunk(header, body []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	bufs := net.Buffers{header, body}
	_, err := bufs.WriteTo(s.conn)
	return err
}

// run drives the handshake then feeds the connection's bytes to the chunk
// demuxer until it errors or the peer disconnects. Grounded on
// HandleConnection's handshake-then-read-loop structure.
func (s *session) run() {
	defer s.Close()

	if err := handshake.NewServer().Do(s.conn); err != nil {
		rtmplog.Debug("handshake failed from " + s.ip + ": " + err.Error())
		return
	}

	buf := make([]byte, 64*1024)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if feedErr := s.feed(buf[:n]); feedErr != nil {
				rtmplog.Debug("session " + s.id + " protocol error: " + feedErr.Error())
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *session) feed(data []byte) error {
	msgs, err := s.demux.Feed(data)
	if err != nil {
		return err
	}
	s.proto.BytesReceived(len(data))
	for _, m := range msgs {
		s.dispatchMessage(m)
	}
	return nil
}

// dispatchMessage routes one reassembled message by its wire type: COMMAND
// bodies go to the dispatcher's AMF0 decode/route machinery, DATA bodies
// are decoded and handed to the app as onMetaData-style args, and
// AUDIO/VIDEO bodies pass through untouched. Grounded on
// AppDispatchServerProtocol.messageReceived's type switch.
func (s *session) dispatchMessage(m chunk.Message) {
	cat, ok := chunk.CategoryForType(m.Header.Type)
	if !ok {
		return
	}
	switch cat {
	case chunk.CategoryCommand:
		s.disp.HandleCommand(m.Header.AbsTime, m.Header.StreamID, m.Payload)
	case chunk.CategoryData:
		args, err := amf0.Decode(m.Payload)
		if err != nil {
			rtmplog.Debug("session " + s.id + " malformed data message: " + err.Error())
			return
		}
		s.app.DoMeta(m.Header.AbsTime, m.Header.StreamID, args)
	case chunk.CategoryAudio, chunk.CategoryVideo:
		s.app.DoData(m.Header.Type, m.Header.AbsTime, m.Header.StreamID, m.Payload)
	}
}

// sendPing emits a manual User Control Ping: proto.Controller auto-answers
// inbound pings with pongs but exposes no outbound-ping API, so the
// keepalive body is built directly here, mirroring RTMPServer.SendPingRequest.
func (s *session) sendPing() {
	body := make([]byte, 6)
	rtmpbits.PutUint32BE(body[2:], s.clockMillis())
	body[0] = byte(proto.UctrlPing >> 8)
	body[1] = byte(proto.UctrlPing)
	s.mux.SendMessage(chunk.CategoryUserControl, s.clockMillis(), 0, body, false)
}

func (s *session) failAndClose(reason string) {
	rtmplog.Debug("session " + s.id + " failing: " + reason)
	s.Close()
}

// Close tears the session down exactly once: closes the socket and
// notifies the app/netstream layer so publishers/players release their
// channel state, matching RemoveSession's cleanup fan-out.
func (s *session) Close() {
	s.closed.Do(func() {
		s.conn.Close()
		s.app.ConnectionLost(errors.New("connection closed"))
		s.srv.removeSession(s)
	})
}
