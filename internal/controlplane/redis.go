package controlplane

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures ListenRedis. Channel defaults to "rtmp_commands"
// when empty, matching redis_cmds.go's default.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	Channel  string
	UseTLS   bool
}

func (cfg RedisConfig) addr() string {
	host, port := cfg.Host, cfg.Port
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "6379"
	}
	return host + ":" + port
}

func (cfg RedisConfig) channel() string {
	if cfg.Channel == "" {
		return "rtmp_commands"
	}
	return cfg.Channel
}

// ListenRedis subscribes to cfg's pub/sub channel and invokes c.OnStreamKill
// for every "kill-session"/"close-stream" command received, blocking until
// ctx is canceled. Grounded on redis_cmds.go's setupRedisCommandReceiver/
// parseRedisCommand, minus the process-wide env lookups (cfg carries those
// instead) and the recover()-based crash containment (the caller decides
// whether to run this in its own goroutine).
func (c *Coordinator) ListenRedis(ctx context.Context, cfg RedisConfig) {
	opts := &redis.Options{Addr: cfg.addr(), Password: cfg.Password}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{}
	}
	client := redis.NewClient(opts)
	defer client.Close()

	sub := client.Subscribe(ctx, cfg.channel())
	defer sub.Close()

	c.log("[REDIS] Listening for commands on channel '" + cfg.channel() + "'")

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log("[REDIS] Could not receive: " + err.Error())
			time.Sleep(10 * time.Second)
			continue
		}
		c.handleRedisCommand(msg.Payload)
	}
}

func (c *Coordinator) handleRedisCommand(cmd string) {
	parts := strings.SplitN(cmd, ">", 2)
	if len(parts) != 2 {
		c.log("[REDIS] Invalid message: " + cmd)
		return
	}

	name, argStr := parts[0], parts[1]
	args := strings.Split(argStr, "|")

	switch name {
	case "kill-session":
		if len(args) < 1 {
			c.log("[REDIS] Invalid kill-session message: " + cmd)
			return
		}
		if c.OnStreamKill != nil {
			c.OnStreamKill(args[0], "*")
		}
	case "close-stream":
		if len(args) < 2 {
			c.log("[REDIS] Invalid close-stream message: " + cmd)
			return
		}
		if c.OnStreamKill != nil {
			c.OnStreamKill(args[0], args[1])
		}
	default:
		c.log("[REDIS] Unknown command: " + name)
	}
}
