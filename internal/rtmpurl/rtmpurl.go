// Package rtmpurl parses rtmp:// connection URLs and normalizes the
// app-path/instance-name convention used by the app-server protocol,
// grounded on twimp/urls.py's parse_rtmp_url and parse_normalize_app.
package rtmpurl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultInstance is the instance name assumed for an app path with no
// explicit "/instance" component.
const DefaultInstance = "_definst_"

// DefaultPort is the port assumed when an rtmp:// URL omits one.
const DefaultPort = 1935

// URL is a parsed rtmp:// (or rtmps://) connection target.
type URL struct {
	Scheme string
	Host   string
	Port   int
	App    string
}

// Parse parses an rtmp(s):// URL into its scheme/host/port/app components.
// The app path has its leading slash stripped, matching twimp's
// parse_rtmp_url.
func Parse(raw string, defaultPort int) (URL, error) {
	raw = strings.TrimSpace(raw)
	if defaultPort == 0 {
		defaultPort = DefaultPort
	}

	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, fmt.Errorf("rtmpurl: %w", err)
	}
	if u.Scheme != "rtmp" && u.Scheme != "rtmps" {
		return URL{}, fmt.Errorf("rtmpurl: unsupported scheme %q", u.Scheme)
	}

	host := u.Hostname()
	port := defaultPort
	if p := u.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	app := strings.TrimPrefix(u.Path, "/")
	if u.RawQuery != "" {
		app += "?" + u.RawQuery
	}

	return URL{Scheme: u.Scheme, Host: host, Port: port, App: app}, nil
}

// String reconstructs the canonical rtmp:// form, omitting the port when it
// equals DefaultPort.
func (u URL) String() string {
	s := fmt.Sprintf("%s://%s", u.Scheme, u.Host)
	if u.Port != 0 && u.Port != DefaultPort {
		s += fmt.Sprintf(":%d", u.Port)
	}
	if u.App != "" {
		s += "/" + u.App
	}
	return s
}

// NormalizedApp is the result of splitting an app path into its base name,
// a store-path normalized to always carry an instance component, and any
// query-string arguments.
type NormalizedApp struct {
	Base string
	Full string
	Args []string
}

// ParseNormalizeApp splits app on a "?" query string and appends
// DefaultInstance to a bare app name (one with no "/instance" component),
// matching twimp's parse_normalize_app.
func ParseNormalizeApp(app string) NormalizedApp {
	base := app
	var args []string
	if i := strings.IndexByte(app, '?'); i >= 0 {
		base = app[:i]
		query := app[i+1:]
		if vals, err := url.ParseQuery(query); err == nil {
			for k, vs := range vals {
				for _, v := range vs {
					args = append(args, k+"="+v)
				}
			}
		}
	}

	trimmed := strings.Trim(base, "/")
	parts := strings.Split(trimmed, "/")

	full := base
	if len(parts) == 1 {
		full = parts[0] + "/" + DefaultInstance
	}

	return NormalizedApp{Base: base, Full: full, Args: args}
}
