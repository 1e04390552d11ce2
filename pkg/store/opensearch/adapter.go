package opensearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/heartline/keyset/pkg/observability/logger"
)

// deadNodeCooldown is how long a node that failed stays at the back of the
// rotation.
const deadNodeCooldown = 30 * time.Second

// Adapter talks to OpenSearch or Elasticsearch over plain HTTP. Requests
// rotate over the nodes; a node that fails with a network error or a
// 502/503/504 is skipped for deadNodeCooldown while others are alive.
type Adapter struct {
	*cluster
	pool   *nodePool
	client *http.Client
	config Config
}

// NewAdapter connects to the cluster and pings it.
func NewAdapter(cfg Config, log logger.Logger) (*Adapter, error) {
	nodes, err := parseBaseURLs(cfg)
	if err != nil {
		return nil, err
	}
	if cfg, err = cfg.withDefaults(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Nop()
	}

	transport := newTransport(cfg.MaxConns)
	var rt http.RoundTripper = transport
	if cfg.AWSAuthEnabled {
		if rt, err = newSigV4(transport, cfg); err != nil {
			return nil, err
		}
	}

	a := &Adapter{
		pool:   newNodePool(nodes, deadNodeCooldown),
		client: &http.Client{Transport: rt, Timeout: cfg.OperationTimeout},
		config: cfg,
	}
	a.cluster = &cluster{product: "opensearch", perform: a.request, transport: transport, logger: log}
	if err := a.connect(); err != nil {
		return nil, err
	}

	log.Info("Search connection established",
		"nodes", len(nodes),
		"aws_auth_enabled", cfg.AWSAuthEnabled,
		"max_conns", cfg.MaxConns,
	)
	return a, nil
}

func (a *Adapter) request(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	order := a.pool.order()
	var lastErr error
	for i, n := range order {
		resp, err := a.send(ctx, n.base, method, path, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			a.pool.fail(n)
			lastErr = err
			continue
		}
		if retryableStatus(resp.StatusCode) {
			a.pool.fail(n)
			if i < len(order)-1 {
				_, _ = io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				lastErr = fmt.Errorf("node %s returned status %d", n.base.Host, resp.StatusCode)
				continue
			}
			return resp, nil
		}
		n.markAlive()
		return resp, nil
	}
	return nil, lastErr
}

func (a *Adapter) send(ctx context.Context, base url.URL, method, path string, body []byte) (*http.Response, error) {
	p, query, _ := strings.Cut(path, "?")
	target := base.JoinPath(strings.TrimPrefix(p, "/"))
	target.RawQuery = query
	req, err := newRequest(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "keyset-search/1.0")
	if !a.config.AWSAuthEnabled {
		if a.config.APIKey != "" {
			req.Header.Set("Authorization", "ApiKey "+a.config.APIKey)
		} else if strings.TrimSpace(a.config.Username) != "" {
			req.SetBasicAuth(a.config.Username, a.config.Password)
		}
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", base.Host, err)
	}
	return resp, nil
}

func retryableStatus(status int) bool {
	return status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}

type node struct {
	base url.URL
	// deadUntil is a unix nano timestamp; zero means alive.
	deadUntil atomic.Int64
}

func (n *node) markAlive() { n.deadUntil.Store(0) }

type nodePool struct {
	nodes    []*node
	next     atomic.Uint64
	cooldown time.Duration
	now      func() time.Time
}

func newNodePool(bases []url.URL, cooldown time.Duration) *nodePool {
	p := &nodePool{cooldown: cooldown, now: time.Now}
	for _, b := range bases {
		p.nodes = append(p.nodes, &node{base: b})
	}
	return p
}

func (p *nodePool) fail(n *node) {
	n.deadUntil.Store(p.now().Add(p.cooldown).UnixNano())
}

// order returns every node once: live nodes in rotation first, then dead
// ones, soonest revival first.
func (p *nodePool) order() []*node {
	start := int((p.next.Add(1) - 1) % uint64(len(p.nodes)))
	now := p.now().UnixNano()

	live := make([]*node, 0, len(p.nodes))
	var dead []*node
	for i := range p.nodes {
		n := p.nodes[(start+i)%len(p.nodes)]
		if until := n.deadUntil.Load(); until > now {
			dead = append(dead, n)
			continue
		}
		live = append(live, n)
	}
	sort.SliceStable(dead, func(i, j int) bool {
		return dead[i].deadUntil.Load() < dead[j].deadUntil.Load()
	})
	return append(live, dead...)
}

// parseBaseURLs merges URL and URLs, dropping blanks and duplicates.
func parseBaseURLs(cfg Config) ([]url.URL, error) {
	var out []url.URL
	seen := map[string]bool{}
	for _, raw := range append([]string{cfg.URL}, cfg.URLs...) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse search URL %q: %w", raw, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid search URL: %s", raw)
		}
		if seen[u.String()] {
			continue
		}
		seen[u.String()] = true
		out = append(out, *u)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("opensearch URL is required (or configure URLs)")
	}
	return out, nil
}

// nodeAddresses lists the cluster nodes for the SDK clients.
func nodeAddresses(cfg Config) ([]string, error) {
	bases, err := parseBaseURLs(cfg)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(bases))
	for i := range bases {
		out[i] = bases[i].String()
	}
	return out, nil
}
