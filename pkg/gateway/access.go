package gateway

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/cuemby/beacon/pkg/cache"
	"github.com/cuemby/beacon/pkg/config"
	"github.com/cuemby/beacon/pkg/log"
	"github.com/cuemby/beacon/pkg/types"
	"golang.org/x/time/rate"
)

// Access applies the handshake admission rules: IP allow/deny lists,
// Origin allow-list and the per-IP handshake rate
type Access struct {
	allowed    []*net.IPNet
	denied     []*net.IPNet
	origins    map[string]bool
	anyOrigin  bool
	trustProxy bool

	limit    rate.Limit
	burst    int
	limiters *cache.Cache[string, *rate.Limiter]
}

// NewAccess builds the admission rules from cfg
func NewAccess(cfg *config.Config) (*Access, error) {
	a := &Access{
		origins:    make(map[string]bool),
		trustProxy: cfg.TrustProxyHeaders,
		limit:      rate.Limit(cfg.HandshakeRate),
		burst:      cfg.HandshakeBurst,
		limiters:   cache.New[string, *rate.Limiter]("handshake_limiters", cfg.CacheTTLDuration()),
	}

	var err error
	if a.allowed, err = parseNets(cfg.AllowedCIDRs); err != nil {
		return nil, err
	}
	if a.denied, err = parseNets(cfg.DeniedCIDRs); err != nil {
		return nil, err
	}

	a.anyOrigin = len(cfg.AllowedOrigins) == 0
	for _, o := range cfg.AllowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			a.anyOrigin = true
		}
		a.origins[strings.ToLower(o)] = true
	}

	return a, nil
}

// ClientIP extracts the client IP from the request. Forwarding headers are
// honoured only when the service sits behind a trusted proxy.
func (a *Access) ClientIP(r *http.Request) string {
	if a.trustProxy {
		// Take the first IP in the chain
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// CheckIP applies the deny list first, then the allow list if one is set
func (a *Access) CheckIP(clientIP string) error {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return fmt.Errorf("%w: invalid client IP %q", types.ErrUnauthorized, clientIP)
	}

	for _, n := range a.denied {
		if n.Contains(ip) {
			return fmt.Errorf("%w: %s matched deny rule %s", types.ErrUnauthorized, clientIP, n)
		}
	}

	if len(a.allowed) == 0 {
		return nil
	}
	for _, n := range a.allowed {
		if n.Contains(ip) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s not in allow list", types.ErrUnauthorized, clientIP)
}

// CheckOrigin is the upgrader's origin policy. Requests without an Origin
// header come from non-browser clients and are accepted.
func (a *Access) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || a.anyOrigin {
		return true
	}
	if a.origins[strings.ToLower(strings.TrimRight(origin, "/"))] {
		return true
	}
	if u, err := url.Parse(origin); err == nil && a.origins[strings.ToLower(u.Host)] {
		return true
	}
	log.Logger.Warn().Str("origin", origin).Msg("Origin rejected")
	return false
}

// AllowHandshake consumes one token from the IP's handshake bucket.
// A zero handshake_rate disables the limit.
func (a *Access) AllowHandshake(clientIP string) error {
	if a.limit <= 0 {
		return nil
	}

	limiter, _ := a.limiters.GetOrSet(clientIP, rate.NewLimiter(a.limit, a.burst))
	if !limiter.Allow() {
		return types.ErrRateLimited
	}
	return nil
}

// Limiters exposes the limiter cache so the cleanup sweep can purge it
func (a *Access) Limiters() cache.Sweeper {
	return a.limiters
}

// parseNets accepts CIDRs and bare IPs (treated as /32 or /128)
func parseNets(entries []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid IP %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip = ip.To4()
				bits = 32
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid CIDR %q: %w", entry, err)
		}
		nets = append(nets, n)
	}
	return nets, nil
}
