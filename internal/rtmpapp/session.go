// Package rtmpapp implements the server-side app-server protocol:
// connect/createStream/play/publish, NetStream data routing, and the
// per-connection App lookup, grounded on twimp/server/appserver.py's
// AppDispatchServerProtocol.
package rtmpapp

import (
	"errors"
	"sync"

	"github.com/relaycast/rtmpcore/internal/amf0"
	"github.com/relaycast/rtmpcore/internal/chunk"
	"github.com/relaycast/rtmpcore/internal/dispatch"
	"github.com/relaycast/rtmpcore/internal/proto"
	"github.com/relaycast/rtmpcore/internal/rtmperr"
)

// App is the per-connection application object a connect() resolves to. Its
// methods run on the session's call queue goroutine; Play/Publish may block.
type App interface {
	// Connect handles a connect() call: cmdObj carries the peer's
	// NetConnection.connect command object (app, tcUrl, ...); opts holds any
	// additional arguments. A nil error with a value other than
	// amf0.Null() is sent back as the _result payload.
	Connect(cmdObj *amf0.Object, opts []amf0.Value) (amf0.Value, error)

	// Play handles a play() call for the given stream name. Returning
	// rtmperr.ErrNotFound is translated to NetStream.Play.StreamNotFound.
	Play(ns *NetStream, streamName string, args []amf0.Value) error

	// Publish handles a publish() call.
	Publish(ns *NetStream, streamName string, publishType string, args []amf0.Value) error

	// ConnectionLost notifies the app that its connection has ended.
	ConnectionLost(reason error)
}

// RemoteCaller is optionally implemented by an App that wants to handle
// commands with no built-in handler, routed to its own remote_<name>
// behavior per spec.md §4.9 ("Unknown command X on ms_id != 0 is dispatched
// as app.remote_X").
type RemoteCaller interface {
	RemoteCall(name string, ts uint32, ns *NetStream, args []amf0.Value) (amf0.Value, error)
}

// AppFactory resolves a requested app path (NetConnection.connect's
// cmd_obj.app) to an App instance, or reports it unknown.
type AppFactory func(appPath string) (App, bool)

// Session is the server side of one RTMP connection's app-server protocol,
// wired on top of a chunk.Muxer, a proto.Controller and a dispatch.Dispatcher.
// Grounded on AppDispatchServerProtocol.
type Session struct {
	mux        *chunk.Muxer
	proto      *proto.Controller
	dispatcher *dispatch.Dispatcher
	apps       AppFactory

	mu          sync.Mutex
	connected   bool
	app         App
	netstreams  *netStreamManager

	dataRoutes   map[uint32]func(ts uint32, msgType byte, body []byte)
	metaRoutes   map[uint32]func(ts uint32, args []amf0.Value)
	muteRoutes   map[uint32]func(ts uint32, msgType byte, doReceive bool)
	bufferRoutes map[uint32]func(ts uint32, length uint32)

	// RemoteAddr is the peer's IP, set by the caller (cmd/rtmpserver) right
	// after accepting the connection; used only for playWhitelist checks.
	RemoteAddr string
	playWhitelist *IPRangeList

	// OnFail is invoked when the session decides the connection must be
	// torn down (not-connected violations, a fatal CallResultError).
	OnFail func(reason string)
}

// SetPlayWhitelist restricts play() to peers whose RemoteAddr falls within
// list; a nil list (the default) allows every address, matching the
// teacher's RTMP_PLAY_WHITELIST-unset behavior.
func (s *Session) SetPlayWhitelist(list *IPRangeList) {
	s.playWhitelist = list
}

// New wires a Session on top of the given protocol layers. apps resolves
// the app path named by a peer's connect() call.
func New(mux *chunk.Muxer, protoCtl *proto.Controller, d *dispatch.Dispatcher, apps AppFactory) *Session {
	s := &Session{
		mux:          mux,
		proto:        protoCtl,
		dispatcher:   d,
		apps:         apps,
		netstreams:   newNetStreamManager(),
		dataRoutes:   make(map[uint32]func(ts uint32, msgType byte, body []byte)),
		metaRoutes:   make(map[uint32]func(ts uint32, args []amf0.Value)),
		muteRoutes:   make(map[uint32]func(ts uint32, msgType byte, doReceive bool)),
		bufferRoutes: make(map[uint32]func(ts uint32, length uint32)),
	}

	d.OnRemote("connect", s.remoteConnect)
	d.OnRemote("createStream", s.remoteCreateStream)
	d.OnRemote("play", s.remotePlay)
	d.OnRemote("publish", s.remotePublish)
	d.OnRemote("receiveAudio", s.remoteReceiveAudio)
	d.OnRemote("receiveVideo", s.remoteReceiveVideo)
	d.OnUnknownCommand = s.unknownRemoteCall

	protoCtl.OnBufferLength = s.dispatchBufferLength

	return s
}

func (s *Session) fail(reason string) {
	if s.OnFail != nil {
		s.OnFail(reason)
	}
}

func (s *Session) isConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// ConnectionLost notifies the connected app (if any) and every live
// NetStream, and releases their routes. Call once when the transport closes.
func (s *Session) ConnectionLost(reason error) {
	s.mu.Lock()
	app := s.app
	s.app = nil
	s.connected = false
	s.mu.Unlock()

	if app != nil {
		app.ConnectionLost(reason)
	}
	for _, ns := range s.netstreams.all() {
		ns.Close()
	}
	s.dispatcher.Close(reason)
}

func (s *Session) remoteConnect(ts uint32, msID uint32, args []amf0.Value) (result amf0.Value, err error) {
	defer func() {
		if err != nil {
			if _, ok := err.(*rtmperr.CallResultError); ok {
				return
			}
			if _, ok := err.(*rtmperr.CallAbortedError); ok {
				return
			}
			err = rtmperr.NewConnectFailedError(err.Error())
		}
	}()

	if len(args) == 0 || args[0].Type != amf0.TypeObject {
		return amf0.Value{}, rtmperr.NewInvalidAppError("missing command object")
	}
	cmdObj := args[0].Object()
	appVal, ok := cmdObj.Get("app")
	if !ok || appVal.String() == "" {
		return amf0.Value{}, rtmperr.NewInvalidAppError("no app path given")
	}

	app, found := s.apps(appVal.String())
	if !found {
		return amf0.Value{}, rtmperr.NewInvalidAppError("app not found: " + appVal.String())
	}

	opts := args[1:]
	result, err = app.Connect(cmdObj, opts)
	if err != nil {
		return amf0.Value{}, err
	}

	s.mu.Lock()
	s.app = app
	s.connected = true
	s.mu.Unlock()

	s.proto.SendWindowSize(2500000)
	s.proto.SendSetPeerBandwidth(2500000, proto.LimitDynamic)
	s.proto.SendStreamBegin(0)

	return result, nil
}

func (s *Session) requireConnected() bool {
	if !s.isConnected() {
		s.fail("not connected")
		return false
	}
	return true
}

func (s *Session) remoteCreateStream(ts uint32, msID uint32, args []amf0.Value) (amf0.Value, error) {
	if !s.requireConnected() {
		return amf0.Value{}, &rtmperr.CallAbortedError{Reason: "not connected"}
	}
	ns := s.netstreams.make(s)
	return amf0.Number(float64(ns.ID)), nil
}

func (s *Session) remotePlay(ts uint32, msID uint32, args []amf0.Value) (amf0.Value, error) {
	if !s.requireConnected() {
		return amf0.Value{}, &rtmperr.CallAbortedError{Reason: "not connected"}
	}
	if s.playWhitelist != nil && !s.playWhitelist.Contains(s.RemoteAddr) {
		return amf0.Value{}, rtmperr.NewPlayBadNameError("your net address is not whitelisted for playing")
	}
	ns := s.netstreams.get(msID)
	if ns == nil {
		return amf0.Value{}, rtmperr.NewPlayFailedError("invalid stream")
	}
	if len(args) == 0 {
		return amf0.Value{}, rtmperr.NewPlayFailedError("missing stream name")
	}

	s.mu.Lock()
	app := s.app
	s.mu.Unlock()

	name := args[0].String()
	if err := app.Play(ns, name, args[1:]); err != nil {
		if errors.Is(err, rtmperr.ErrNotFound) {
			return amf0.Value{}, rtmperr.NewPlayNotFoundError(err.Error())
		}
		return amf0.Value{}, err
	}
	return amf0.Value{}, nil
}

func (s *Session) remotePublish(ts uint32, msID uint32, args []amf0.Value) (amf0.Value, error) {
	if !s.requireConnected() {
		return amf0.Value{}, &rtmperr.CallAbortedError{Reason: "not connected"}
	}
	ns := s.netstreams.get(msID)
	if ns == nil {
		return amf0.Value{}, &rtmperr.CallResultError{Code: "NetStream.Failed", Level: "error", Description: "invalid stream"}
	}
	if len(args) == 0 {
		return amf0.Value{}, rtmperr.NewPublishBadNameError("missing stream name")
	}

	s.mu.Lock()
	app := s.app
	s.mu.Unlock()

	name := args[0].String()
	publishType := ""
	if len(args) > 1 {
		publishType = args[1].String()
	}
	if err := app.Publish(ns, name, publishType, args[2:]); err != nil {
		return amf0.Value{}, err
	}
	return amf0.Value{}, nil
}

func (s *Session) remoteReceiveAudio(ts uint32, msID uint32, args []amf0.Value) (amf0.Value, error) {
	if !s.requireConnected() {
		return amf0.Value{}, &rtmperr.CallAbortedError{Reason: "not connected"}
	}
	s.mu.Lock()
	cb := s.muteRoutes[msID]
	s.mu.Unlock()
	if cb != nil && len(args) > 1 {
		cb(ts, chunk.WireType(chunk.CategoryAudio), args[1].Bool())
	}
	return amf0.Value{}, nil
}

func (s *Session) remoteReceiveVideo(ts uint32, msID uint32, args []amf0.Value) (amf0.Value, error) {
	if !s.requireConnected() {
		return amf0.Value{}, &rtmperr.CallAbortedError{Reason: "not connected"}
	}
	s.mu.Lock()
	cb := s.muteRoutes[msID]
	s.mu.Unlock()
	if cb != nil && len(args) > 1 {
		cb(ts, chunk.WireType(chunk.CategoryVideo), args[1].Bool())
	}
	return amf0.Value{}, nil
}

// unknownRemoteCall is wired as the dispatcher's OnUnknownCommand: commands
// on ms_id 0 with no app to route to are left to the dispatcher's generic
// error; anything else is forwarded to the app's own RemoteCall method if it
// implements RemoteCaller.
func (s *Session) unknownRemoteCall(name string, ts uint32, msID, transID uint32, args []amf0.Value) bool {
	if !s.requireConnected() {
		return true // connection is already being torn down; suppress the reply
	}
	if msID == 0 {
		return false
	}
	ns := s.netstreams.get(msID)
	if ns == nil {
		return false
	}

	s.mu.Lock()
	app := s.app
	s.mu.Unlock()

	rc, ok := app.(RemoteCaller)
	if !ok {
		return false
	}

	result, err := rc.RemoteCall(name, ts, ns, args)
	if err != nil {
		switch e := err.(type) {
		case *rtmperr.CallAbortedError:
			return true
		case *rtmperr.CallResultError:
			if transID != 0 {
				a, b := e.ErrorArgs()
				s.dispatcher.SignalRemote(msID, "_error", a, b)
			}
			if e.Fatal {
				s.fail(e.Description)
			}
			return true
		default:
			return false
		}
	}
	if transID != 0 {
		s.dispatcher.SignalRemote(msID, "_result", amf0.Null(), result)
	}
	return true
}

func (s *Session) routeDataMessages(msID uint32, cb func(ts uint32, msgType byte, body []byte)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb != nil {
		s.dataRoutes[msID] = cb
	} else {
		delete(s.dataRoutes, msID)
	}
}

func (s *Session) routeMetaMessages(msID uint32, cb func(ts uint32, args []amf0.Value)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb != nil {
		s.metaRoutes[msID] = cb
	} else {
		delete(s.metaRoutes, msID)
	}
}

func (s *Session) routeMuteMessages(msID uint32, cb func(ts uint32, msgType byte, doReceive bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb != nil {
		s.muteRoutes[msID] = cb
	} else {
		delete(s.muteRoutes, msID)
	}
}

func (s *Session) routeBufferMessages(msID uint32, cb func(ts uint32, length uint32)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb != nil {
		s.bufferRoutes[msID] = cb
	} else {
		delete(s.bufferRoutes, msID)
	}
}

func (s *Session) dispatchBufferLength(streamID uint32, length uint32) {
	s.mu.Lock()
	cb := s.bufferRoutes[streamID]
	s.mu.Unlock()
	if cb != nil {
		cb(0, length)
	}
}

// DoMeta routes a DATA message (onMetaData and friends) to the matching
// NetStream, terminating the connection if received before connect.
func (s *Session) DoMeta(ts uint32, msID uint32, args []amf0.Value) {
	s.mu.Lock()
	cb := s.metaRoutes[msID]
	connected := s.connected
	s.mu.Unlock()

	if cb != nil {
		cb(ts, args)
	} else if !connected {
		s.fail("not connected")
	}
}

// DoData routes an AUDIO/VIDEO message to the matching NetStream, matching
// the same not-connected termination rule as DoMeta.
func (s *Session) DoData(msgType byte, ts uint32, msID uint32, body []byte) {
	s.mu.Lock()
	cb := s.dataRoutes[msID]
	connected := s.connected
	s.mu.Unlock()

	if cb != nil {
		cb(ts, msgType, body)
	} else if !connected {
		s.fail("not connected")
	}
}
