package discovery

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/platformbuilds/atalaya/pkg/logger"
)

// Config describes a DNS-discovered index backend. With UseSRV the
// service is queried as _http._tcp.<service>; otherwise A/AAAA records
// are combined with the fixed Port. Headless Kubernetes services expose
// one record per pod either way.
type Config struct {
	Service        string
	Port           int
	Scheme         string // http | https
	RefreshSeconds int
	UseSRV         bool
}

// EndpointSink receives the full endpoint set on every change.
type EndpointSink interface {
	ReplaceEndpoints([]string)
}

// lookuper is the subset of net.Resolver the resolver needs.
type lookuper interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Resolver re-resolves the configured service on an interval and pushes
// endpoint changes into the sink. Unchanged sets are not pushed: the
// sink resets its round-robin position on every replace, so a no-op
// push would skew load toward the first endpoint.
type Resolver struct {
	cfg    Config
	sink   EndpointSink
	log    logger.Logger
	lookup lookuper

	last string
}

func NewResolver(cfg Config, sink EndpointSink, log logger.Logger) *Resolver {
	if cfg.RefreshSeconds <= 0 {
		cfg.RefreshSeconds = 30
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "http"
	}
	return &Resolver{
		cfg:    cfg,
		sink:   sink,
		log:    log,
		lookup: net.DefaultResolver,
	}
}

// Run resolves once immediately, then on every tick until ctx is
// cancelled. Always returns nil; resolution failures are transient and
// only logged.
func (r *Resolver) Run(ctx context.Context) error {
	if r.sink == nil {
		return nil
	}

	r.refresh(ctx)

	ticker := time.NewTicker(time.Duration(r.cfg.RefreshSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.refresh(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *Resolver) refresh(ctx context.Context) {
	endpoints := r.resolve(ctx)
	if len(endpoints) == 0 {
		// Keep the previous set. An empty answer usually means a DNS
		// blip, not that every backend vanished at once.
		r.log.Warn("DNS discovery resolved no endpoints", "service", r.cfg.Service)
		return
	}

	key := strings.Join(endpoints, ",")
	if key == r.last {
		return
	}
	r.last = key

	r.sink.ReplaceEndpoints(endpoints)
	r.log.Info("Index endpoints updated from DNS", "service", r.cfg.Service, "count", len(endpoints))
}

func (r *Resolver) resolve(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var endpoints []string
	add := func(host string, port int) {
		ep := fmt.Sprintf("%s://%s:%d", r.cfg.Scheme, host, port)
		if _, dup := seen[ep]; dup {
			return
		}
		seen[ep] = struct{}{}
		endpoints = append(endpoints, ep)
	}

	if r.cfg.UseSRV {
		name := r.cfg.Service
		if !strings.HasPrefix(name, "_") {
			name = "_http._tcp." + name
		}
		_, records, err := r.lookup.LookupSRV(ctx, "", "", name)
		if err != nil {
			return nil
		}
		for _, rec := range records {
			add(strings.TrimSuffix(rec.Target, "."), int(rec.Port))
		}
	} else {
		addrs, err := r.lookup.LookupIPAddr(ctx, r.cfg.Service)
		if err != nil {
			return nil
		}
		for _, addr := range addrs {
			add(addr.IP.String(), r.cfg.Port)
		}
	}

	sort.Strings(endpoints)
	return endpoints
}
