// Command rtmpserver runs a stand-alone RTMP ingest/playback node: it loads
// its configuration from the environment (see config.go), wires a Server
// (registry, store, optional multi-node coordinator) and serves RTMP/RTMPS
// until killed. Grounded on main.go's CreateRTMPServer/server.Start call
// pair.
package main

import (
	"context"

	"github.com/relaycast/rtmpcore/internal/rtmplog"
)

func main() {
	rtmplog.Info("starting RTMP server")

	cfg := LoadConfig()
	srv := CreateServer(cfg)

	if cfg.RedisUse {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		srv.coordinator.OnLog = rtmplog.Debug
		go srv.coordinator.ListenRedis(ctx, cfg.Redis)
	}

	if err := srv.Start(); err != nil {
		rtmplog.Error(err)
	}
}
