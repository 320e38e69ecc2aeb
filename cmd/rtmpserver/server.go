package main

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	certloader "github.com/AgustinSRG/go-tls-certificate-loader"
	"github.com/relaycast/rtmpcore/internal/controlplane"
	"github.com/relaycast/rtmpcore/internal/rtmpapp"
	"github.com/relaycast/rtmpcore/internal/rtmplog"
	"github.com/relaycast/rtmpcore/internal/store"
)

// Server is the node-wide state shared by every accepted connection: the
// channel Registry, the in-memory media Store, the optional multi-node
// Coordinator/callback config, and the IP-based access controls. Grounded
// on rtmp_server.go's RTMPServer, with channel/session bookkeeping split
// out into Registry and liveApp.
type Server struct {
	cfg Config

	registry *Registry
	store    *store.Server

	coordinator *controlplane.Coordinator
	callback    controlplane.CallbackConfig

	playWhitelist *rtmpapp.IPRangeList
	limiter       *rtmpapp.ConnectionLimiter

	nextSessionID uint64
	nextLogSeq    uint64

	mu       sync.Mutex
	sessions map[string]*session
}

// CreateServer assembles a Server from a resolved Config, mirroring
// main.go's CreateRTMPServer.
func CreateServer(cfg Config) *Server {
	return &Server{
		cfg:           cfg,
		registry:      NewRegistry(),
		store:         store.NewServer(),
		coordinator:   controlplane.New(cfg.Coordinator),
		callback:      cfg.Callback,
		playWhitelist: cfg.PlayWhitelist,
		limiter:       rtmpapp.NewConnectionLimiter(cfg.IPConnectionLimit, cfg.ConcurrentLimitWhitelist),
		sessions:      make(map[string]*session),
	}
}

func (srv *Server) nextLogID() uint64 {
	return atomic.AddUint64(&srv.nextLogSeq, 1)
}

// resolveApp returns an rtmpapp.AppFactory that accepts every non-empty app
// path, constructing a fresh liveApp per connect() call (closing over the
// connecting peer's IP), matching the teacher's single catch-all RTMP
// application scope.
func (srv *Server) resolveApp(ip string) rtmpapp.AppFactory {
	return func(appPath string) (rtmpapp.App, bool) {
		if appPath == "" {
			return nil, false
		}
		return newLiveApp(srv, appPath, ip), true
	}
}

func (srv *Server) removeSession(s *session) {
	srv.mu.Lock()
	delete(srv.sessions, s.id)
	srv.mu.Unlock()
	srv.limiter.Release(s.ip)
}

// AcceptConnections runs ln's accept loop, enforcing the per-IP connection
// limit before handing a connection off to its own session goroutine.
// Grounded on RTMPServer.AcceptConnections.
func (srv *Server) AcceptConnections(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			rtmplog.Debug("accept error: " + err.Error())
			return
		}

		ip, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			ip = conn.RemoteAddr().String()
		}

		if !srv.limiter.Acquire(ip) {
			conn.Close()
			continue
		}

		id := strconv.FormatUint(atomic.AddUint64(&srv.nextSessionID, 1), 10)
		s := newSession(srv, id, ip, conn)

		srv.mu.Lock()
		srv.sessions[id] = s
		srv.mu.Unlock()

		go s.run()
	}
}

// Start opens the plain TCP listener and, if configured, a TLS listener
// using go-tls-certificate-loader for hot cert reload, then blocks
// accepting on both. Grounded on RTMPServer.Start/rtmp_ssl.go's
// SslCertificateLoader.
func (srv *Server) Start() error {
	addr := net.JoinHostPort(srv.cfg.BindAddress, strconv.Itoa(srv.cfg.TCPPort))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	rtmplog.Info("listening for RTMP connections on " + addr)
	go srv.AcceptConnections(ln)

	if srv.cfg.SSLCert != "" && srv.cfg.SSLKey != "" {
		loader, err := certloader.NewCertificateLoader(certloader.CertificateLoaderConfig{
			CertificatePath: srv.cfg.SSLCert,
			KeyPath:         srv.cfg.SSLKey,
		})
		if err != nil {
			return fmt.Errorf("load TLS certificate: %w", err)
		}
		go loader.RunReloadThread()

		sslAddr := net.JoinHostPort(srv.cfg.BindAddress, strconv.Itoa(srv.cfg.SSLPort))
		tlsLn, err := tls.Listen("tcp", sslAddr, &tls.Config{
			GetCertificate: loader.GetCertificateFunc(),
		})
		if err != nil {
			return fmt.Errorf("listen %s: %w", sslAddr, err)
		}
		rtmplog.Info("listening for RTMPS connections on " + sslAddr)
		go srv.AcceptConnections(tlsLn)
	}

	select {}
}
