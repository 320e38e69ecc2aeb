package main

import (
	"errors"
	"strings"
	"sync"

	"github.com/relaycast/rtmpcore/internal/amf0"
	"github.com/relaycast/rtmpcore/internal/avbridge"
	"github.com/relaycast/rtmpcore/internal/controlplane"
	"github.com/relaycast/rtmpcore/internal/rtmpapp"
	"github.com/relaycast/rtmpcore/internal/rtmperr"
	"github.com/relaycast/rtmpcore/internal/rtmplog"
	"github.com/relaycast/rtmpcore/internal/store"
)

// liveApp is the rtmpapp.App for one connected client: the server's
// AppFactory builds a fresh instance per connect() call, closing over the
// channel name (the connect command's "app" field) and this node's shared
// Server. Grounded on rtmp_session.go's HandlePublish/HandlePlay, with the
// channel/session bookkeeping rtmp_server.go keeps on RTMPServer moved into
// Registry and the data-plane plumbing delegated to internal/avbridge.
type liveApp struct {
	srv      *Server
	channel  string
	clientIP string

	mu       sync.Mutex
	recorder *avbridge.Recorder
	sg       *store.StreamGroup
	key      string
	streamID string
	players  map[*rtmpapp.NetStream]bool
}

func newLiveApp(srv *Server, channel, clientIP string) *liveApp {
	return &liveApp{
		srv:      srv,
		channel:  channel,
		clientIP: clientIP,
		players:  make(map[*rtmpapp.NetStream]bool),
	}
}

// Connect accepts any channel name that passes validateStreamIDString and
// rejects the rest with an InvalidAppError; rtmpapp.Session has already
// resolved the app path to this instance via the server's AppFactory.
func (a *liveApp) Connect(cmdObj *amf0.Object, opts []amf0.Value) (amf0.Value, error) {
	if !validateStreamIDString(a.channel, maxStreamIDLength) {
		return amf0.Value{}, rtmperr.NewInvalidAppError("invalid channel name")
	}
	return amf0.Null(), nil
}

func streamKey(streamName string) string {
	return strings.SplitN(streamName, "?", 2)[0]
}

// Publish claims a.channel for this connection: it asks the coordinator
// (or, in stand-alone mode, the HTTP start callback) whether the key may
// publish, opens a live StreamGroup, and starts recording. Grounded on
// HandlePublish.
func (a *liveApp) Publish(ns *rtmpapp.NetStream, streamName string, publishType string, args []amf0.Value) error {
	key := streamKey(streamName)
	if !validateStreamIDString(key, maxStreamIDLength) {
		return rtmperr.NewPublishBadNameError("invalid stream key provided")
	}
	if a.srv.registry.IsPublishing(a.channel) {
		return rtmperr.NewPublishBadNameError("stream already publishing")
	}

	streamID, ok := a.authorizePublish(key)
	if !ok {
		return rtmperr.NewPublishBadNameError("invalid stream key provided")
	}

	sg, err := a.srv.store.OpenLive("", a.channel)
	if err != nil {
		return rtmperr.NewPublishBadNameError("stream already publishing")
	}

	if !a.srv.registry.SetPublisher(a.channel, key, streamID, sg) {
		a.srv.store.Close(sg)
		return rtmperr.NewPublishBadNameError("stream already publishing")
	}

	recorder := avbridge.NewRecorder(sg)
	recorder.Connect(ns)
	recorder.Start()

	a.mu.Lock()
	a.recorder, a.sg, a.key, a.streamID = recorder, sg, key, streamID
	a.mu.Unlock()

	rtmplog.Request(a.srv.nextLogID(), a.clientIP, "PUBLISH '"+a.channel+"'")
	return nil
}

// authorizePublish asks the coordinator if one is configured, else falls
// back to the HTTP start callback (a no-op success with no URL set),
// mirroring HandlePublish's websocketControlConnection/SendStartCallback
// branch.
func (a *liveApp) authorizePublish(key string) (streamID string, ok bool) {
	if a.srv.coordinator.Enabled() {
		ok, streamID = a.srv.coordinator.RequestPublish(a.channel, key, a.clientIP)
		return streamID, ok
	}
	return controlplane.SendStartCallback(a.srv.callback, controlplane.StreamEvent{
		Channel:  a.channel,
		Key:      key,
		ClientIP: a.clientIP,
	})
}

// Play registers ns as a viewer of a.channel: if a publisher is already
// live, playback starts immediately (subject to a publish-key match);
// otherwise ns idles until one appears. Grounded on HandlePlay/AddPlayer.
func (a *liveApp) Play(ns *rtmpapp.NetStream, streamName string, args []amf0.Value) error {
	key := streamKey(streamName)

	err := a.srv.registry.AddPlayer(a.channel, key, ns, func() (*store.StreamGroup, error) {
		return a.srv.store.OpenRead("", a.channel)
	})
	if err != nil {
		if errors.Is(err, errInvalidKey) {
			return rtmperr.NewPlayBadNameError("invalid stream key provided")
		}
		return rtmperr.NewPlayNotFoundError(err.Error())
	}

	a.mu.Lock()
	a.players[ns] = true
	a.mu.Unlock()

	rtmplog.Request(a.srv.nextLogID(), a.clientIP, "PLAY '"+a.channel+"'")
	return nil
}

// ConnectionLost tears down whatever this connection was doing: stop
// recording (and release the channel), or stop every stream this
// connection was playing. Grounded on rtmp_server.go's RemoveSession
// cleanup fan-out (RemovePublisher/RemovePlayer called from OnClose).
func (a *liveApp) ConnectionLost(reason error) {
	a.mu.Lock()
	recorder, sg, streamID := a.recorder, a.sg, a.streamID
	players := a.players
	a.recorder, a.sg, a.players = nil, nil, nil
	a.mu.Unlock()

	if recorder != nil {
		recorder.Stop()
		a.srv.registry.RemovePublisher(a.channel)
		a.srv.store.Close(sg)
		a.notifyPublishEnd(streamID)
	}

	for ns := range players {
		a.srv.registry.RemovePlayer(a.channel, ns)
	}
}

func (a *liveApp) notifyPublishEnd(streamID string) {
	if a.srv.coordinator.Enabled() {
		a.srv.coordinator.PublishEnd(a.channel, streamID)
		return
	}
	controlplane.SendStopCallback(a.srv.callback, controlplane.StreamEvent{
		Channel:  a.channel,
		StreamID: streamID,
		ClientIP: a.clientIP,
	})
}
