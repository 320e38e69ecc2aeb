package controlplane

import (
	"net/http"
)

// StreamEvent carries the fields the teacher's JWT callback embeds in its
// claims for a start/stop event.
type StreamEvent struct {
	Channel  string
	Key      string
	StreamID string // only meaningful for the stop event
	ClientIP string
	RTMPHost string
	RTMPPort int
}

// SendStartCallback POSTs a signed "start" event token to cfg.URL and
// returns the stream ID the callback responds with (via the "stream-id"
// response header), matching RTMPSession.SendStartCallback. An empty
// cfg.URL is a no-op success (no callback configured).
func SendStartCallback(cfg CallbackConfig, ev StreamEvent) (streamID string, ok bool) {
	if cfg.URL == "" {
		return "", true
	}
	token, err := cfg.sign(map[string]interface{}{
		"event":     "start",
		"channel":   ev.Channel,
		"key":       ev.Key,
		"client_ip": ev.ClientIP,
		"rtmp_host": ev.RTMPHost,
		"rtmp_port": ev.RTMPPort,
	})
	if err != nil {
		return "", false
	}

	res, err := doCallback(cfg.URL, token)
	if err != nil || res.StatusCode != http.StatusOK {
		return "", false
	}
	return res.Header.Get("stream-id"), true
}

// SendStopCallback POSTs a signed "stop" event token to cfg.URL, matching
// RTMPSession.SendStopCallback. An empty cfg.URL is a no-op success.
func SendStopCallback(cfg CallbackConfig, ev StreamEvent) bool {
	if cfg.URL == "" {
		return true
	}
	token, err := cfg.sign(map[string]interface{}{
		"event":     "stop",
		"channel":   ev.Channel,
		"key":       ev.Key,
		"stream_id": ev.StreamID,
		"client_ip": ev.ClientIP,
	})
	if err != nil {
		return false
	}

	res, err := doCallback(cfg.URL, token)
	if err != nil {
		return false
	}
	return res.StatusCode == http.StatusOK
}

func doCallback(url, token string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("rtmp-event", token)
	return http.DefaultClient.Do(req)
}
