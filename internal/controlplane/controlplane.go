// Package controlplane implements the optional multi-node coordinator
// protocol, a redis pub/sub command channel, and a JWT-signed start/stop
// HTTP callback — all ways an external system can learn about or control
// this server's publishing sessions. Every piece is optional and nil/
// disabled by default, matching the teacher's CONTROL_BASE_URL/REDIS_USE/
// CALLBACK_URL-unset stand-alone fallbacks. Grounded on
// control_connection.go, control_auth.go, redis_cmds.go, rtmp_callback.go,
// generalized from methods hardcoded onto *RTMPServer/*RTMPSession into a
// Coordinator type a caller wires in explicitly.
package controlplane

import (
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	messages "github.com/AgustinSRG/go-simple-rpc-message"
	"github.com/gorilla/websocket"
)

// PublishResponse is a coordinator's answer to a publish authorization
// request.
type PublishResponse struct {
	Accepted bool
	StreamID string
}

// Config configures a Coordinator. BaseURL empty selects stand-alone mode:
// the Coordinator is still constructible, but RequestPublish always accepts
// immediately and no websocket connection is attempted — matching the
// teacher's CONTROL_BASE_URL-unset fallback ("the server will run in
// stand-alone mode").
type Config struct {
	BaseURL      string // coordinator websocket base URL
	Secret       string // HMAC secret for the websocket auth token
	ExternalIP   string // advertised to the coordinator as x-external-ip
	ExternalPort string // advertised as x-custom-port
	ExternalSSL  bool   // advertised as x-ssl-use
}

// Coordinator owns the websocket connection to an external control server:
// publish authorization requests, kill commands, and heartbeats. Grounded on
// ControlServerConnection.
type Coordinator struct {
	cfg     Config
	connURL string
	enabled bool

	mu        sync.Mutex
	conn      *websocket.Conn
	nextReqID uint64
	requests  map[string]chan PublishResponse

	// OnStreamKill is invoked when the coordinator (or redis, see
	// ListenRedis) asks this node to kill a publishing session. streamID ==
	// "" or "*" means kill whichever session currently publishes on
	// channel, regardless of its stream ID.
	OnStreamKill func(channel, streamID string)

	// OnReconnected fires once a connection (re)establishes, mirroring
	// KillAllActivePublishers: the coordinator assumes every session on this
	// node died while it was unreachable.
	OnReconnected func()

	// OnLog receives human-readable diagnostic lines (connect/disconnect/
	// parse errors) instead of writing directly to a package-level logger,
	// so callers can route them through their own internal/rtmplog logger.
	OnLog func(line string)
}

// New constructs a Coordinator. With cfg.BaseURL empty it returns a disabled
// instance immediately; otherwise it starts the connect and heartbeat loops
// in the background, exactly as ControlServerConnection.Initialize does.
func New(cfg Config) *Coordinator {
	c := &Coordinator{cfg: cfg, requests: make(map[string]chan PublishResponse)}

	if cfg.BaseURL == "" {
		c.log("CONTROL_BASE_URL not provided. The server will run in stand-alone mode.")
		return c
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		c.log("invalid control base URL: " + err.Error())
		return c
	}
	path, _ := url.Parse("/ws/control/rtmp")
	c.connURL = base.ResolveReference(path).String()
	c.enabled = true

	go c.connectLoop()
	go c.heartbeatLoop()
	return c
}

// Enabled reports whether this Coordinator maintains a live connection
// (false in stand-alone mode).
func (c *Coordinator) Enabled() bool { return c.enabled }

func (c *Coordinator) log(line string) {
	if c.OnLog != nil {
		c.OnLog(line)
	}
}

func (c *Coordinator) connectLoop() {
	c.connect()
}

func (c *Coordinator) connect() {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.log("[WS-CONTROL] Connecting to " + c.connURL)

	headers := http.Header{}
	if token := c.authToken(); token != "" {
		headers.Set("x-control-auth-token", token)
	}
	if c.cfg.ExternalIP != "" {
		headers.Set("x-external-ip", c.cfg.ExternalIP)
	}
	if c.cfg.ExternalPort != "" {
		headers.Set("x-custom-port", c.cfg.ExternalPort)
	}
	if c.cfg.ExternalSSL {
		headers.Set("x-ssl-use", "true")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.connURL, headers)
	if err != nil {
		c.log("[WS-CONTROL] Connection error: " + err.Error())
		go c.reconnect()
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if c.OnReconnected != nil {
		c.OnReconnected()
	}

	go c.readLoop(conn)
}

func (c *Coordinator) reconnect() {
	time.Sleep(10 * time.Second)
	c.connect()
}

func (c *Coordinator) onDisconnect(err error) {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	if err != nil {
		c.log("[WS-CONTROL] Disconnected: " + err.Error())
	}
	go c.connect()
}

// Send serializes and writes msg, returning false if there is no live
// connection.
func (c *Coordinator) Send(msg messages.RPCMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return false
	}
	c.conn.WriteMessage(websocket.TextMessage, []byte(msg.Serialize()))
	return true
}

func (c *Coordinator) nextRequestID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextReqID
	c.nextReqID++
	return id
}

func (c *Coordinator) readLoop(conn *websocket.Conn) {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(60 * time.Second)); err != nil {
			conn.Close()
			c.onDisconnect(err)
			return
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			c.onDisconnect(err)
			return
		}
		msg := messages.ParseRPCMessage(string(raw))
		c.handleMessage(&msg)
	}
}

func (c *Coordinator) handleMessage(msg *messages.RPCMessage) {
	switch msg.Method {
	case "ERROR":
		c.log("[WS-CONTROL] Remote error. Code=" + msg.GetParam("Error-Code") + " / Details: " + msg.GetParam("Error-Message"))
	case "PUBLISH-ACCEPT":
		c.resolveRequest(msg.GetParam("Request-Id"), PublishResponse{Accepted: true, StreamID: msg.GetParam("Stream-Id")})
	case "PUBLISH-DENY":
		c.resolveRequest(msg.GetParam("Request-Id"), PublishResponse{})
	case "STREAM-KILL":
		if c.OnStreamKill != nil {
			c.OnStreamKill(msg.GetParam("Stream-Channel"), msg.GetParam("Stream-Id"))
		}
	}
}

func (c *Coordinator) resolveRequest(requestID string, res PublishResponse) {
	c.mu.Lock()
	waiter := c.requests[requestID]
	c.mu.Unlock()
	if waiter == nil {
		return
	}
	waiter <- res
}

func (c *Coordinator) heartbeatLoop() {
	for {
		time.Sleep(20 * time.Second)
		c.Send(messages.RPCMessage{Method: "HEARTBEAT"})
	}
}

// RequestPublish asks the coordinator whether channel/key/userIP may publish,
// blocking up to 20 seconds for a response. In stand-alone mode (Enabled()
// false) it always accepts.
func (c *Coordinator) RequestPublish(channel, key, userIP string) (accepted bool, streamID string) {
	if !c.enabled {
		return true, ""
	}

	requestID := fmt.Sprint(c.nextRequestID())
	waiter := make(chan PublishResponse)

	c.mu.Lock()
	c.requests[requestID] = waiter
	c.mu.Unlock()

	sent := c.Send(messages.RPCMessage{
		Method: "PUBLISH-REQUEST",
		Params: map[string]string{
			"Request-ID":     requestID,
			"Stream-Channel": channel,
			"Stream-Key":     key,
			"User-IP":        userIP,
		},
	})
	if !sent {
		c.mu.Lock()
		delete(c.requests, requestID)
		c.mu.Unlock()
		return false, ""
	}

	timer := time.AfterFunc(20*time.Second, func() {
		waiter <- PublishResponse{}
	})
	res := <-waiter
	timer.Stop()

	c.mu.Lock()
	delete(c.requests, requestID)
	c.mu.Unlock()

	return res.Accepted, res.StreamID
}

// PublishEnd notifies the coordinator that a publishing session ended.
func (c *Coordinator) PublishEnd(channel, streamID string) bool {
	return c.Send(messages.RPCMessage{
		Method: "PUBLISH-END",
		Params: map[string]string{
			"Stream-Channel": channel,
			"Stream-ID":      streamID,
		},
	})
}
