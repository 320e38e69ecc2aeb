package main

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/relaycast/rtmpcore/internal/controlplane"
	"github.com/relaycast/rtmpcore/internal/rtmpapp"
	"github.com/relaycast/rtmpcore/internal/rtmplog"
)

// Config is the resolved environment configuration, loaded from .env (via
// godotenv) plus the process environment, matching main.go/rtmp_server.go's
// RTMP_PORT/BIND_ADDRESS/SSL_PORT/SSL_CERT/SSL_KEY/RTMP_CHUNK_SIZE/
// MAX_IP_CONCURRENT_CONNECTIONS/CONCURRENT_LIMIT_WHITELIST/
// RTMP_PLAY_WHITELIST/CONTROL_BASE_URL/CONTROL_SECRET/REDIS_*/JWT_SECRET
// variable names and defaults.
type Config struct {
	BindAddress string
	TCPPort     int
	SSLPort     int
	SSLCert     string
	SSLKey      string
	ChunkSize   uint32

	IPConnectionLimit uint32
	ConcurrentLimitWhitelist *rtmpapp.IPRangeList
	PlayWhitelist            *rtmpapp.IPRangeList

	Coordinator controlplane.Config
	Callback    controlplane.CallbackConfig
	Redis       controlplane.RedisConfig
	RedisUse    bool
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// LoadConfig loads .env (ignoring a missing file, as godotenv.Load does
// when main.go calls it) and reads every environment variable this server
// recognizes.
func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		rtmplog.Debug(".env not loaded: " + err.Error())
	}

	cfg := Config{
		BindAddress:       os.Getenv("BIND_ADDRESS"),
		TCPPort:           envInt("RTMP_PORT", 1935),
		SSLPort:           envInt("SSL_PORT", 443),
		SSLCert:           os.Getenv("SSL_CERT"),
		SSLKey:            os.Getenv("SSL_KEY"),
		ChunkSize:         128,
		IPConnectionLimit: 4,
	}

	if n := envInt("RTMP_CHUNK_SIZE", 128); n > 128 {
		cfg.ChunkSize = uint32(n)
	}

	if n := envInt("MAX_IP_CONCURRENT_CONNECTIONS", 4); n > 0 {
		cfg.IPConnectionLimit = uint32(n)
	}

	cfg.ConcurrentLimitWhitelist = rtmpapp.ParseIPRangeList(os.Getenv("CONCURRENT_LIMIT_WHITELIST"))
	if v := os.Getenv("RTMP_PLAY_WHITELIST"); v != "" {
		cfg.PlayWhitelist = rtmpapp.ParseIPRangeList(v)
	}

	cfg.Coordinator = controlplane.Config{
		BaseURL:      os.Getenv("CONTROL_BASE_URL"),
		Secret:       os.Getenv("CONTROL_SECRET"),
		ExternalIP:   os.Getenv("EXTERNAL_IP"),
		ExternalPort: os.Getenv("EXTERNAL_PORT"),
		ExternalSSL:  os.Getenv("EXTERNAL_SSL") == "YES",
	}

	cfg.Callback = controlplane.CallbackConfig{
		URL:    os.Getenv("CALLBACK_URL"),
		Secret: os.Getenv("JWT_SECRET"),
	}

	cfg.RedisUse = os.Getenv("REDIS_USE") == "YES"
	cfg.Redis = controlplane.RedisConfig{
		Host:     os.Getenv("REDIS_HOST"),
		Port:     os.Getenv("REDIS_PORT"),
		Password: os.Getenv("REDIS_PASSWORD"),
		Channel:  os.Getenv("REDIS_CHANNEL"),
		UseTLS:   os.Getenv("REDIS_TLS") == "YES",
	}

	return cfg
}
