package ping

import (
	"context"
	"fmt"
	"net"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Prober checks whether a lab PC answers on any of a small set of TCP ports.
// ICMP needs raw sockets, so a TCP dial is the portable check. Results are
// cached briefly to keep probe sweeps cheap when many resources share a host.
type Prober struct {
	ports   []int
	timeout time.Duration
	results *gocache.Cache
}

func NewProber(ports []int, timeout, cacheTTL time.Duration) *Prober {
	if len(ports) == 0 {
		ports = []int{3389, 22, 80}
	}
	return &Prober{
		ports:   ports,
		timeout: timeout,
		results: gocache.New(cacheTTL, 2*cacheTTL),
	}
}

// Reachable reports whether addr accepts a TCP connection on any probe port.
func (p *Prober) Reachable(ctx context.Context, addr string) bool {
	if addr == "" {
		return false
	}
	if cached, found := p.results.Get(addr); found {
		return cached.(bool)
	}

	reachable := false
	dialer := net.Dialer{Timeout: p.timeout}
	for _, port := range p.ports {
		conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, fmt.Sprintf("%d", port)))
		if err == nil {
			conn.Close()
			reachable = true
			break
		}
		if ctx.Err() != nil {
			return false
		}
	}

	p.results.Set(addr, reachable, gocache.DefaultExpiration)
	return reachable
}
