package registry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mohammad-safakhou/sql-insight-saga/internal/sagaerr"
)

// Prober checks whether an endpoint is still alive. In production this
// dials the tool's health endpoint; tests can substitute a fake.
type Prober func(ctx context.Context, endpoint string) bool

// Registry is the server-side live registry: a map of role -> descriptors,
// guarded by a mutex, following internal/capability/registry.go's
// map-keyed-by-role storage upstream but mutable at runtime instead of
// loaded once from a signed manifest.
type Registry struct {
	mu      sync.Mutex
	entries map[string][]*Descriptor
	rr      map[string]int // round-robin cursor per role
	probe   Prober
	now     func() time.Time
}

// Option configures a Registry, matching the teacher's functional-options
// convention used throughout internal/queue/streams.
type Option func(*Registry)

// WithProber overrides the health-probe function (tests only).
func WithProber(p Prober) Option { return func(r *Registry) { r.probe = p } }

// WithClock overrides the time source (tests only).
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// New constructs an empty live registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string][]*Descriptor),
		rr:      make(map[string]int),
		probe:   defaultProbe,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultProbe(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Register records or refreshes an endpoint's descriptor, called by each
// tool server on startup and at the 30s heartbeat, per spec.md §4.1.
func (r *Registry) Register(role, endpoint string, capabilities []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, d := range r.entries[role] {
		if d.Endpoint == endpoint {
			d.LastSeen = now
			d.Capabilities = capabilities
			if d.Status == StatusError {
				d.Status = StatusHealthy
				d.consecutiveFails = 0
			}
			return
		}
	}
	r.entries[role] = append(r.entries[role], &Descriptor{
		Role:         role,
		Endpoint:     endpoint,
		Capabilities: capabilities,
		LastSeen:     now,
		Status:       StatusHealthy,
	})
}

// Resolve returns a healthy endpoint for role, round-robin across healthy
// entries in registration order, per spec.md §4.1. LastSeen plays no part
// in the choice. Fails with ErrNoLiveTool if none are healthy.
func (r *Registry) Resolve(role string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	healthy := make([]*Descriptor, 0)
	for _, d := range r.entries[role] {
		if d.Status == StatusHealthy {
			healthy = append(healthy, d)
		}
	}
	if len(healthy) == 0 {
		return "", sagaerr.NewStageError("registry", sagaerr.ErrNoLiveTool, fmt.Sprintf("no healthy endpoint for role %q", role))
	}

	// Round robin: new registrations append, Register refreshes an
	// existing entry in place, and the cursor advances in registration
	// order, wrapping at the number of healthy entries.
	idx := r.rr[role] % len(healthy)
	r.rr[role] = (r.rr[role] + 1) % len(healthy)
	return healthy[idx].Endpoint, nil
}

// ProbeHealth runs one pass of health probing over every entry (spec.md
// §4.1's 30s health-probe tick). Staleness eviction is EvictStale's job;
// Start drives the two on their own tickers.
func (r *Registry) ProbeHealth(ctx context.Context) {
	r.mu.Lock()
	snapshot := make([]*Descriptor, 0)
	for _, list := range r.entries {
		snapshot = append(snapshot, list...)
	}
	r.mu.Unlock()

	for _, d := range snapshot {
		ok := r.probe(ctx, d.Endpoint)
		r.mu.Lock()
		if ok {
			d.Status = StatusHealthy
			d.consecutiveFails = 0
		} else {
			d.consecutiveFails++
			if d.consecutiveFails >= 2 {
				d.Status = StatusError
			} else {
				d.Status = StatusUnhealthy
			}
		}
		r.mu.Unlock()
	}
}

// EvictStale deletes entries whose last_seen is older than staleAfter
// (default 1h per spec.md §3/§4.1).
func (r *Registry) EvictStale(staleAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for role, list := range r.entries {
		kept := list[:0]
		for _, d := range list {
			if now.Sub(d.LastSeen) <= staleAfter {
				kept = append(kept, d)
			}
		}
		r.entries[role] = kept
	}
}

// Snapshot returns the descriptors for role, for the GET /servers?role=
// endpoint in spec.md §6.
func (r *Registry) Snapshot(role string) []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Descriptor, 0, len(r.entries[role]))
	for _, d := range r.entries[role] {
		out = append(out, *d)
	}
	return out
}

// Start runs the health-probe and staleness-sweep tickers until ctx is
// cancelled, matching cmd/worker/main.go's background-goroutine wiring
// convention upstream.
func (r *Registry) Start(ctx context.Context, healthProbeInterval, sweepInterval, staleAfter time.Duration) {
	healthTicker := time.NewTicker(healthProbeInterval)
	sweepTicker := time.NewTicker(sweepInterval)
	defer healthTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-healthTicker.C:
			r.ProbeHealth(ctx)
		case <-sweepTicker.C:
			r.EvictStale(staleAfter)
		}
	}
}
