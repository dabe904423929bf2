package discovery

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/platformbuilds/atalaya/pkg/logger"
)

type fakeLookup struct {
	srvName string
	srv     []*net.SRV
	ips     []net.IPAddr
	err     error
}

func (f *fakeLookup) LookupSRV(_ context.Context, _, _, name string) (string, []*net.SRV, error) {
	f.srvName = name
	return "", f.srv, f.err
}

func (f *fakeLookup) LookupIPAddr(context.Context, string) ([]net.IPAddr, error) {
	return f.ips, f.err
}

type endpointRecorder struct {
	calls int
	last  []string
}

func (s *endpointRecorder) ReplaceEndpoints(endpoints []string) {
	s.calls++
	s.last = endpoints
}

func newResolverForTest(cfg Config, sink EndpointSink, lookup lookuper) *Resolver {
	r := NewResolver(cfg, sink, logger.NewNop())
	r.lookup = lookup
	return r
}

func TestResolver_ARecordsBuildEndpoints(t *testing.T) {
	lookup := &fakeLookup{ips: []net.IPAddr{
		{IP: net.ParseIP("10.0.0.2")},
		{IP: net.ParseIP("10.0.0.1")},
	}}
	sink := &endpointRecorder{}
	r := newResolverForTest(Config{Service: "opensearch-data", Port: 9200}, sink, lookup)

	r.refresh(context.Background())

	if sink.calls != 1 {
		t.Fatalf("expected one push, got %d", sink.calls)
	}
	want := []string{"http://10.0.0.1:9200", "http://10.0.0.2:9200"}
	if len(sink.last) != 2 || sink.last[0] != want[0] || sink.last[1] != want[1] {
		t.Fatalf("unexpected endpoints %v", sink.last)
	}
}

func TestResolver_SRVRecordsCarryTheirOwnPorts(t *testing.T) {
	lookup := &fakeLookup{srv: []*net.SRV{
		{Target: "os-0.logging.svc.cluster.local.", Port: 9200},
		{Target: "os-1.logging.svc.cluster.local.", Port: 9201},
	}}
	sink := &endpointRecorder{}
	r := newResolverForTest(Config{Service: "opensearch-data", UseSRV: true, Scheme: "https"}, sink, lookup)

	r.refresh(context.Background())

	if lookup.srvName != "_http._tcp.opensearch-data" {
		t.Fatalf("unexpected SRV name %q", lookup.srvName)
	}
	if len(sink.last) != 2 {
		t.Fatalf("expected 2 endpoints, got %v", sink.last)
	}
	// Trailing dots are trimmed and the record port wins over cfg.Port.
	if sink.last[0] != "https://os-0.logging.svc.cluster.local:9200" {
		t.Fatalf("unexpected endpoint %q", sink.last[0])
	}
	if sink.last[1] != "https://os-1.logging.svc.cluster.local:9201" {
		t.Fatalf("unexpected endpoint %q", sink.last[1])
	}
}

func TestResolver_UnchangedSetIsNotRepushed(t *testing.T) {
	lookup := &fakeLookup{ips: []net.IPAddr{{IP: net.ParseIP("10.0.0.1")}}}
	sink := &endpointRecorder{}
	r := newResolverForTest(Config{Service: "opensearch-data", Port: 9200}, sink, lookup)

	r.refresh(context.Background())
	r.refresh(context.Background())

	if sink.calls != 1 {
		t.Fatalf("unchanged endpoint set was pushed again: %d pushes", sink.calls)
	}
}

func TestResolver_EmptyAnswerKeepsPreviousEndpoints(t *testing.T) {
	lookup := &fakeLookup{ips: []net.IPAddr{{IP: net.ParseIP("10.0.0.1")}}}
	sink := &endpointRecorder{}
	r := newResolverForTest(Config{Service: "opensearch-data", Port: 9200}, sink, lookup)

	r.refresh(context.Background())
	lookup.ips = nil
	lookup.err = errors.New("no such host")
	r.refresh(context.Background())

	if sink.calls != 1 {
		t.Fatalf("empty answer should not replace endpoints, got %d pushes", sink.calls)
	}
}

func TestResolver_DuplicateRecordsCollapse(t *testing.T) {
	lookup := &fakeLookup{ips: []net.IPAddr{
		{IP: net.ParseIP("10.0.0.1")},
		{IP: net.ParseIP("10.0.0.1")},
	}}
	sink := &endpointRecorder{}
	r := newResolverForTest(Config{Service: "opensearch-data", Port: 9200}, sink, lookup)

	r.refresh(context.Background())

	if len(sink.last) != 1 {
		t.Fatalf("expected duplicates to collapse, got %v", sink.last)
	}
}
