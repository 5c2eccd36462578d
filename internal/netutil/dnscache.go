// Package netutil provides outbound HTTP plumbing shared by the API clients.
package netutil

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

// DefaultRefresh is how often cached DNS answers are refreshed.
const DefaultRefresh = 5 * time.Minute

// Resolver caches DNS lookups for outbound clients and refreshes them in the
// background until Close is called.
type Resolver struct {
	r       *dnscache.Resolver
	dialer  *net.Dialer
	stop    chan struct{}
	stopped sync.Once
}

// NewResolver starts a caching resolver. refresh <= 0 uses DefaultRefresh.
func NewResolver(refresh time.Duration) *Resolver {
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	res := &Resolver{
		r: &dnscache.Resolver{},
		dialer: &net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		},
		stop: make(chan struct{}),
	}
	go res.refreshLoop(refresh)
	return res
}

func (res *Resolver) refreshLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			res.r.Refresh(true)
			log.Debug().Dur("every", every).Msg("DNS cache refreshed")
		case <-res.stop:
			return
		}
	}
}

// DialContext resolves address through the cache and dials the answers in
// order until one connects.
func (res *Resolver) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	if ip := net.ParseIP(host); ip != nil {
		return res.dialer.DialContext(ctx, network, address)
	}

	ips, err := res.r.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, &net.DNSError{Err: "no IP addresses found", Name: host}
	}
	var lastErr error
	for _, ip := range ips {
		conn, err := res.dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// HTTPClient returns a client whose transport dials through the cache.
func (res *Resolver) HTTPClient(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = res.DialContext
	return &http.Client{Timeout: timeout, Transport: tr}
}

// Close stops the refresh goroutine.
func (res *Resolver) Close() {
	res.stopped.Do(func() { close(res.stop) })
}
