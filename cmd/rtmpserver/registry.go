package main

import (
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/relaycast/rtmpcore/internal/avbridge"
	"github.com/relaycast/rtmpcore/internal/rtmpapp"
	"github.com/relaycast/rtmpcore/internal/store"
)

// errInvalidKey is returned by AddPlayer when a publisher is live and the
// requested play key does not match it, mirroring rtmp_session.go's
// "Invalid key" AddPlayer error.
var errInvalidKey = errors.New("invalid stream key")

// channelState tracks one channel's publisher key/stream id and its
// players, each either idling (nil Player, waiting for a publisher) or
// actively playing. Grounded on rtmp_server.go's RTMPChannel.
type channelState struct {
	key        string
	streamID   string
	publishing bool
	players    map[*rtmpapp.NetStream]*avbridge.Player
}

// Registry is the node-wide channel directory: one publisher per channel
// name, with key exclusivity enforced by a constant-time comparison.
// Unlike the teacher's RTMPServer (which stores RTMPChannel/RTMPSession
// pointers and pokes isIdling/isPlaying fields directly), Registry owns
// the avbridge.Player lifecycle itself, since it is the only party that
// knows when a channel's publisher and its players both exist. Grounded
// on rtmp_server.go's SetPublisher/RemovePublisher/AddPlayer/RemovePlayer/
// isPublishing plus rtmp_session.go's StartIdlePlayers.
type Registry struct {
	mu       sync.Mutex
	channels map[string]*channelState
}

func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]*channelState)}
}

func (r *Registry) stateFor(channel string) *channelState {
	c, ok := r.channels[channel]
	if !ok {
		c = &channelState{players: make(map[*rtmpapp.NetStream]*avbridge.Player)}
		r.channels[channel] = c
	}
	return c
}

// IsPublishing reports whether channel currently has a live publisher.
func (r *Registry) IsPublishing(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.channels[channel]
	return ok && c.publishing
}

// SetPublisher claims channel for a new publisher and starts playback for
// every player currently idling on it, against sg. It fails if channel
// already has a live publisher.
func (r *Registry) SetPublisher(channel, key, streamID string, sg *store.StreamGroup) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.stateFor(channel)
	if c.publishing {
		return false
	}
	c.key, c.streamID, c.publishing = key, streamID, true

	for ns, player := range c.players {
		if player == nil {
			p := avbridge.NewPlayer(sg)
			p.Connect(ns)
			p.Start()
			c.players[ns] = p
		}
	}
	return true
}

// RemovePublisher releases channel's publisher slot and stops every
// currently playing viewer, idling it back until a new publisher appears.
func (r *Registry) RemovePublisher(channel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.channels[channel]
	if !ok {
		return
	}
	c.publishing = false
	c.key, c.streamID = "", ""

	for ns, player := range c.players {
		if player != nil {
			player.Stop()
			c.players[ns] = nil
		}
	}
	if len(c.players) == 0 {
		delete(r.channels, channel)
	}
}

// AddPlayer registers ns against channel. If a publisher is already live,
// key must match it (constant-time compare) and playback starts
// immediately against the StreamGroup openSG resolves; otherwise ns idles,
// with openSG never called, until a future SetPublisher starts it.
func (r *Registry) AddPlayer(channel, key string, ns *rtmpapp.NetStream, openSG func() (*store.StreamGroup, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.stateFor(channel)
	if !c.publishing {
		c.players[ns] = nil
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(c.key)) != 1 {
		return errInvalidKey
	}

	sg, err := openSG()
	if err != nil {
		return err
	}
	player := avbridge.NewPlayer(sg)
	player.Connect(ns)
	player.Start()
	c.players[ns] = player
	return nil
}

// RemovePlayer stops (if it was actively playing) and drops ns from
// channel.
func (r *Registry) RemovePlayer(channel string, ns *rtmpapp.NetStream) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.channels[channel]
	if !ok {
		return
	}
	if player := c.players[ns]; player != nil {
		player.Stop()
	}
	delete(c.players, ns)
	if !c.publishing && len(c.players) == 0 {
		delete(r.channels, channel)
	}
}
