package controlplane

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// authToken signs the coordinator websocket auth token; an empty Secret
// (stand-alone mode with no control secret configured) yields no token.
// Grounded on control_auth.go's MakeWebsocketAuthenticationToken.
func (c *Coordinator) authToken() string {
	if c.cfg.Secret == "" {
		return ""
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "rtmp-control",
	})
	signed, err := token.SignedString([]byte(c.cfg.Secret))
	if err != nil {
		c.log(err.Error())
		return ""
	}
	return signed
}

// CallbackConfig configures SendStartCallback/SendStopCallback:
// a JWT-signed HTTP POST telling an external system a stream started or
// stopped. Grounded on rtmp_callback.go.
type CallbackConfig struct {
	URL     string
	Secret  string
	Subject string // defaults to "rtmp_event"
}

const jwtCallbackExpirySeconds = 120

func (cfg CallbackConfig) subject() string {
	if cfg.Subject == "" {
		return "rtmp_event"
	}
	return cfg.Subject
}

func (cfg CallbackConfig) sign(claims jwt.MapClaims) (string, error) {
	claims["sub"] = cfg.subject()
	claims["exp"] = time.Now().Unix() + jwtCallbackExpirySeconds
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}
