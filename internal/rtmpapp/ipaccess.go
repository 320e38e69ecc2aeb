package rtmpapp

import (
	"net"
	"strings"
	"sync"

	"github.com/netdata/go.d.plugin/pkg/iprange"
)

// IPRangeList is a parsed, comma-separated list of IP/CIDR ranges such as
// the teacher's CONCURRENT_LIMIT_WHITELIST/RTMP_PLAY_WHITELIST env vars
// carry. An empty spec matches nothing; "*" matches everything. Grounded on
// rtmp_server.go's isIPExempted and rtmp_session_utils.go's CanPlay, which
// both parse the same comma-separated iprange format inline.
type IPRangeList struct {
	allowAll bool
	ranges   []iprange.Range
}

// ParseIPRangeList parses spec, logging nothing for malformed entries
// (skipped, matching the teacher's LogError-and-continue behavior minus
// the logging — callers that care should validate spec at config load).
func ParseIPRangeList(spec string) *IPRangeList {
	if spec == "" {
		return &IPRangeList{}
	}
	if spec == "*" {
		return &IPRangeList{allowAll: true}
	}
	l := &IPRangeList{}
	for _, part := range strings.Split(spec, ",") {
		r, err := iprange.ParseRange(part)
		if err != nil {
			continue
		}
		l.ranges = append(l.ranges, r)
	}
	return l
}

// Contains reports whether ipStr falls within the list. A nil list matches
// nothing, so the zero value of a *IPRangeList field behaves like an empty
// spec rather than panicking.
func (l *IPRangeList) Contains(ipStr string) bool {
	if l == nil {
		return false
	}
	if l.allowAll {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, r := range l.ranges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// ConnectionLimiter caps the number of concurrent sessions from a single IP,
// exempting addresses in its whitelist entirely. Grounded on
// RTMPServer.AddIP/RemoveIP/isIPExempted; meant to be called from the
// listener accept loop in cmd/rtmpserver, once per connection.
type ConnectionLimiter struct {
	mu        sync.Mutex
	counts    map[string]uint32
	limit     uint32
	whitelist *IPRangeList
}

// NewConnectionLimiter returns a limiter capping each non-exempt IP at limit
// concurrent connections; a nil whitelist exempts nothing.
func NewConnectionLimiter(limit uint32, whitelist *IPRangeList) *ConnectionLimiter {
	return &ConnectionLimiter{counts: make(map[string]uint32), limit: limit, whitelist: whitelist}
}

// Acquire registers one more connection from ip, returning false if that
// would push a non-exempt IP over the limit.
func (c *ConnectionLimiter) Acquire(ip string) bool {
	if c.whitelist.Contains(ip) {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[ip] >= c.limit {
		return false
	}
	c.counts[ip]++
	return true
}

// Release returns one connection slot for ip.
func (c *ConnectionLimiter) Release(ip string) {
	if c.whitelist.Contains(ip) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts[ip] <= 1 {
		delete(c.counts, ip)
	} else {
		c.counts[ip]--
	}
}
