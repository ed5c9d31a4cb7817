package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go-token-auth/internal/event"
)

// ClientIPResolver decides which address identifies the caller. Forwarding
// headers are honoured only when the direct peer is a trusted proxy.
type ClientIPResolver struct {
	trusted []netip.Prefix
}

func NewClientIPResolver(trusted []netip.Prefix) *ClientIPResolver {
	return &ClientIPResolver{trusted: trusted}
}

// Handler records the resolved address on the request context for rate
// limiting, request logs and audit events.
func (c *ClientIPResolver) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := event.WithClientIP(r.Context(), c.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *ClientIPResolver) Resolve(r *http.Request) string {
	peer := peerAddr(r)
	if !c.isTrusted(peer) {
		return peerString(r, peer)
	}

	// Walk X-Forwarded-For right to left; the first hop we do not trust is
	// the client.
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		hop = hop.Unmap()
		if !c.isTrusted(hop) {
			return hop.String()
		}
	}

	if realIP, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return realIP.Unmap().String()
	}

	return peerString(r, peer)
}

func (c *ClientIPResolver) isTrusted(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	for _, prefix := range c.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

func peerAddr(r *http.Request) netip.Addr {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

func peerString(r *http.Request, peer netip.Addr) string {
	if peer.IsValid() {
		return peer.String()
	}
	if strings.TrimSpace(r.RemoteAddr) == "" {
		return "unknown"
	}
	return r.RemoteAddr
}

// clientIP returns the address set by ClientIPResolver, or the direct peer
// when the resolver is not in the chain. Headers are never consulted here.
func clientIP(r *http.Request) string {
	if ip := event.ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return peerString(r, peerAddr(r))
}
