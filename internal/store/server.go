package store

import (
	"sync"

	"github.com/relaycast/rtmpcore/internal/rtmperr"
)

// namespace is one partition of the store's name → StreamGroup table.
type namespace struct {
	mu     sync.Mutex
	groups map[string]*StreamGroup
}

// Server is the in-memory, namespace-partitioned stream store: "live"
// (write) opens create a group, "read" opens attach to an existing one.
// Grounded on twimp's IMServer.
type Server struct {
	mu         sync.Mutex
	namespaces map[string]*namespace
}

// NewServer returns a Server with the given namespaces pre-registered; with
// none given, a single default (unnamed) namespace is created.
func NewServer(namespaces ...string) *Server {
	if len(namespaces) == 0 {
		namespaces = []string{""}
	}
	srv := &Server{namespaces: make(map[string]*namespace, len(namespaces))}
	for _, ns := range namespaces {
		srv.namespaces[ns] = &namespace{groups: make(map[string]*StreamGroup)}
	}
	return srv
}

func (srv *Server) namespaceFor(ns string) (*namespace, error) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	n, ok := srv.namespaces[ns]
	if !ok {
		return nil, &rtmperr.NamespaceNotFoundError{Namespace: ns}
	}
	return n, nil
}

// OpenRead attaches to an existing stream group for playback, failing with
// *rtmperr.StreamNotFoundError if none exists by that name.
func (srv *Server) OpenRead(ns, name string) (*StreamGroup, error) {
	n, err := srv.namespaceFor(ns)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	g, ok := n.groups[name]
	if !ok {
		return nil, &rtmperr.StreamNotFoundError{Name: name}
	}
	return g, nil
}

// OpenLive creates a new live stream group for publishing, failing with
// *rtmperr.StreamExistsError if one by that name already exists.
func (srv *Server) OpenLive(ns, name string) (*StreamGroup, error) {
	n, err := srv.namespaceFor(ns)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.groups[name]; exists {
		return nil, &rtmperr.StreamExistsError{Name: name}
	}
	g := newStreamGroup(name, ns, true)
	n.groups[name] = g
	return g, nil
}

// Close removes a live group from its namespace once its publisher
// disconnects; it is a no-op for read-only groups, matching IMServer.close's
// isinstance(streamgroup, IMLiveStreamGroup) check.
func (srv *Server) Close(g *StreamGroup) {
	if !g.live {
		return
	}
	srv.mu.Lock()
	n := srv.namespaces[g.Namespace]
	srv.mu.Unlock()
	if n == nil {
		return
	}
	n.mu.Lock()
	delete(n.groups, g.Name)
	n.mu.Unlock()
}
