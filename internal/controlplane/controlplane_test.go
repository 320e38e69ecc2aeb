package controlplane

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func TestNewStandAloneModeDisablesConnection(t *testing.T) {
	c := New(Config{})
	if c.Enabled() {
		t.Fatal("Coordinator with no BaseURL should not be enabled")
	}
}

func TestRequestPublishStandAloneAlwaysAccepts(t *testing.T) {
	c := New(Config{})
	accepted, streamID := c.RequestPublish("chan", "key", "1.2.3.4")
	if !accepted || streamID != "" {
		t.Fatalf("stand-alone RequestPublish = (%v, %q), want (true, \"\")", accepted, streamID)
	}
}

func TestAuthTokenEmptyWithoutSecret(t *testing.T) {
	c := &Coordinator{cfg: Config{}}
	if tok := c.authToken(); tok != "" {
		t.Fatalf("authToken with no secret = %q, want empty", tok)
	}
}

func TestAuthTokenSignsWithSecret(t *testing.T) {
	c := &Coordinator{cfg: Config{Secret: "s3cr3t"}}
	tok := c.authToken()
	if tok == "" {
		t.Fatal("expected a non-empty token when a secret is configured")
	}

	parsed, err := jwt.Parse(tok, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cr3t"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("token did not verify: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["sub"] != "rtmp-control" {
		t.Fatalf("sub claim = %v, want rtmp-control", claims["sub"])
	}
}

func TestHandleRedisCommandKillSession(t *testing.T) {
	c := New(Config{})
	var gotChannel, gotStreamID string
	c.OnStreamKill = func(channel, streamID string) {
		gotChannel, gotStreamID = channel, streamID
	}

	c.handleRedisCommand("kill-session>mychannel")
	if gotChannel != "mychannel" || gotStreamID != "*" {
		t.Fatalf("got (%q, %q), want (mychannel, *)", gotChannel, gotStreamID)
	}
}

func TestHandleRedisCommandCloseStream(t *testing.T) {
	c := New(Config{})
	var gotChannel, gotStreamID string
	c.OnStreamKill = func(channel, streamID string) {
		gotChannel, gotStreamID = channel, streamID
	}

	c.handleRedisCommand("close-stream>mychannel|abc123")
	if gotChannel != "mychannel" || gotStreamID != "abc123" {
		t.Fatalf("got (%q, %q), want (mychannel, abc123)", gotChannel, gotStreamID)
	}
}

func TestHandleRedisCommandMalformedIsIgnored(t *testing.T) {
	c := New(Config{})
	called := false
	c.OnStreamKill = func(string, string) { called = true }

	c.handleRedisCommand("not-a-valid-command")
	if called {
		t.Fatal("malformed command should not invoke OnStreamKill")
	}
}

func TestSendStartCallbackNoURLIsNoop(t *testing.T) {
	streamID, ok := SendStartCallback(CallbackConfig{}, StreamEvent{Channel: "c"})
	if !ok || streamID != "" {
		t.Fatalf("got (%q, %v), want (\"\", true) when no callback URL is configured", streamID, ok)
	}
}

func TestSendStartCallbackPostsSignedToken(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("rtmp-event")
		w.Header().Set("stream-id", "stream-42")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := CallbackConfig{URL: srv.URL, Secret: "topsecret"}
	streamID, ok := SendStartCallback(cfg, StreamEvent{Channel: "mychannel", Key: "k"})
	if !ok {
		t.Fatal("expected SendStartCallback to succeed")
	}
	if streamID != "stream-42" {
		t.Fatalf("streamID = %q, want stream-42", streamID)
	}
	if gotToken == "" {
		t.Fatal("expected a signed token in the rtmp-event header")
	}

	parsed, err := jwt.Parse(gotToken, func(*jwt.Token) (interface{}, error) {
		return []byte("topsecret"), nil
	})
	if err != nil || !parsed.Valid {
		t.Fatalf("callback token did not verify: %v", err)
	}
	claims := parsed.Claims.(jwt.MapClaims)
	if claims["event"] != "start" || claims["channel"] != "mychannel" {
		t.Fatalf("unexpected claims: %v", claims)
	}
}

func TestSendStopCallbackFailsOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ok := SendStopCallback(CallbackConfig{URL: srv.URL, Secret: "s"}, StreamEvent{Channel: "c"})
	if ok {
		t.Fatal("expected SendStopCallback to report failure on a 500 response")
	}
}
