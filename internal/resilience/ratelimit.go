package resilience

import (
	"net"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// trustedProxyNets are the networks a reverse proxy is expected to
// live in. X-Forwarded-For is only honored when the direct peer is
// inside one of these; a public peer claiming a forwarded address is
// spoofing.
var trustedProxyNets = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
}

// ResolveClientIP determines the real client address for rate
// limiting. The forwarded header wins only when the TCP peer is a
// trusted proxy; the first (leftmost) forwarded hop is used.
func ResolveClientIP(remoteAddr, forwardedFor string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	if forwardedFor == "" {
		return host
	}

	peer, err := netip.ParseAddr(host)
	if err != nil {
		return host
	}

	trusted := false
	for _, p := range trustedProxyNets {
		if p.Contains(peer.Unmap()) {
			trusted = true
			break
		}
	}
	if !trusted {
		return host
	}

	first := strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
	if _, err := netip.ParseAddr(first); err != nil {
		return host
	}
	return first
}

// TierConfig is one rate-limit tier: sustained rate plus burst.
type TierConfig struct {
	PerSecond float64
	Burst     int
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientLimiter keeps one token bucket per client address. Buckets
// idle longer than idleTTL are evicted during periodic sweeps so the
// map does not grow with every IP that ever connected.
type ClientLimiter struct {
	cfg     TierConfig
	idleTTL time.Duration

	mu        sync.Mutex
	clients   map[string]*clientEntry
	lastSweep time.Time
}

// NewClientLimiter creates a limiter tier.
func NewClientLimiter(cfg TierConfig, idleTTL time.Duration) *ClientLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &ClientLimiter{
		cfg:       cfg,
		idleTTL:   idleTTL,
		clients:   make(map[string]*clientEntry),
		lastSweep: time.Now(),
	}
}

// Allow reports whether the client may proceed, and if not, how long
// to wait before trying again (the Retry-After hint).
func (l *ClientLimiter) Allow(clientIP string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastSweep) > l.idleTTL {
		l.sweep(now)
	}

	entry, ok := l.clients[clientIP]
	if !ok {
		entry = &clientEntry{limiter: rate.NewLimiter(rate.Limit(l.cfg.PerSecond), l.cfg.Burst)}
		l.clients[clientIP] = entry
	}
	entry.lastSeen = now

	res := entry.limiter.Reserve()
	delay := res.Delay()
	if delay > 0 {
		// Not allowed now; cancel so the reservation does not burn a
		// token the client never uses.
		res.Cancel()
		return false, delay
	}
	return true, 0
}

// ClientCount returns the number of tracked clients.
func (l *ClientLimiter) ClientCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// sweep drops idle buckets. Caller holds the mutex.
func (l *ClientLimiter) sweep(now time.Time) {
	for ip, entry := range l.clients {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.clients, ip)
		}
	}
	l.lastSweep = now
}
