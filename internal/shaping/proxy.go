package shaping

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"chaosmonkey/internal/logging"
)

var ErrUnknownTarget = errors.New("no proxy registered for target")

// route fronts one upstream and delays every request by the current rule.
type route struct {
	target   string
	upstream *url.URL
	delay    atomic.Int64
	delayed  atomic.Int64
	server   *http.Server
	listener net.Listener
}

func (rt *route) ServeHTTP(w http.ResponseWriter, r *http.Request, proxy http.Handler) {
	if d := time.Duration(rt.delay.Load()); d > 0 {
		rt.delayed.Add(1)
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-r.Context().Done():
			timer.Stop()
			return
		}
	}
	proxy.ServeHTTP(w, r)
}

// ProxyShaper injects latency by running a loopback reverse proxy per target.
// Traffic that should be shaped is pointed at the proxy address.
type ProxyShaper struct {
	mu     sync.RWMutex
	routes map[string]*route
	logger *logging.Logger
}

func NewProxyShaper(logger *logging.Logger) *ProxyShaper {
	return &ProxyShaper{
		routes: make(map[string]*route),
		logger: logger.WithField("component", "shaping"),
	}
}

// Register starts a proxy for target listening on listen and forwarding to upstream.
// It returns the address actually bound.
func (p *ProxyShaper) Register(target, listen, upstream string) (string, error) {
	backend, err := url.Parse(upstream)
	if err != nil {
		return "", fmt.Errorf("invalid upstream for %s: %w", target, err)
	}
	if backend.Scheme == "" || backend.Host == "" {
		return "", fmt.Errorf("invalid upstream for %s: %q", target, upstream)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.routes[target]; exists {
		return "", fmt.Errorf("proxy for %s already registered", target)
	}

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return "", fmt.Errorf("listen for %s: %w", target, err)
	}

	rt := &route{target: target, upstream: backend, listener: ln}
	proxy := httputil.NewSingleHostReverseProxy(backend)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		p.logger.WithError(err).Warn("Upstream request failed", "target", target, "path", r.URL.Path)
		w.WriteHeader(http.StatusBadGateway)
	}
	rt.server = &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rt.ServeHTTP(w, r, proxy)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	p.routes[target] = rt

	go func() {
		if err := rt.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.WithError(err).Error("Proxy stopped", "target", target)
		}
	}()

	p.logger.Info("Proxy registered", "target", target, "listen", ln.Addr().String(), "upstream", upstream)
	return ln.Addr().String(), nil
}

func (p *ProxyShaper) lookup(target string) (*route, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rt, ok := p.routes[target]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, target)
	}
	return rt, nil
}

func (p *ProxyShaper) ApplyDelay(ctx context.Context, target string, delay time.Duration) error {
	if delay <= 0 {
		return fmt.Errorf("delay must be positive, got %v", delay)
	}
	rt, err := p.lookup(target)
	if err != nil {
		return err
	}
	rt.delay.Store(int64(delay))
	p.logger.WithContext(ctx).Info("Delay applied", "target", target, "delay_ms", delay.Milliseconds())
	return nil
}

func (p *ProxyShaper) ClearDelay(ctx context.Context, target string) error {
	rt, err := p.lookup(target)
	if err != nil {
		return err
	}
	rt.delay.Store(0)
	p.logger.WithContext(ctx).Info("Delay cleared", "target", target)
	return nil
}

// Delay reports the rule currently applied to target.
func (p *ProxyShaper) Delay(target string) (time.Duration, error) {
	rt, err := p.lookup(target)
	if err != nil {
		return 0, err
	}
	return time.Duration(rt.delay.Load()), nil
}

func (p *ProxyShaper) DelayedRequests(target string) int64 {
	rt, err := p.lookup(target)
	if err != nil {
		return 0
	}
	return rt.delayed.Load()
}

func (p *ProxyShaper) Targets() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.routes))
	for t := range p.routes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Close clears all rules and shuts every proxy down.
func (p *ProxyShaper) Close(ctx context.Context) error {
	p.mu.Lock()
	routes := p.routes
	p.routes = make(map[string]*route)
	p.mu.Unlock()

	var errs []error
	for target, rt := range routes {
		rt.delay.Store(0)
		if err := rt.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown proxy %s: %w", target, err))
		}
	}
	return errors.Join(errs...)
}
