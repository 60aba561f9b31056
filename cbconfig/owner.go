package cbconfig

import (
	"sync"
	"sync/atomic"

	"github.com/couchbaselabs/gocbcluster/cbstats"
)

// Owner holds the current Configuration behind an atomic pointer and
// notifies listeners on every successful replace. Grounded in
// globalConfigOwner (cmn/config.go:82-96, 619-692): Get/Put are lock-free
// reads/writes; TryReplace takes a mutex for its compare-and-swap
// without blocking readers.
//
// Per spec.md §5 "Concurrency & Resource Model": "Configuration
// replacement is an atomic pointer swap from the reactor's perspective"
// — there is exactly one writer (the reactor goroutine driving ccm and
// router), so TryReplace's mutex exists to serialize would-be
// concurrent publishers (CCCP and HTTP-poll racing each other), not to
// protect readers.
type Owner struct {
	mtx       sync.Mutex
	cur       atomic.Pointer[Configuration]
	listeners []Listener
	lmtx      sync.Mutex

	bootstrapHost string
	stats         *cbstats.Registry
	seedNetwork   string
}

// Listener is notified after a new Configuration is published. Handlers
// must not block; the router uses this to rebuild its route table.
type Listener func(old, new *Configuration)

// NewOwner creates an Owner with no configuration yet (Get returns nil
// until the first Put/TryReplace).
func NewOwner() *Owner { return &Owner{} }

// SetOrigin records the bootstrap hostname dialed at open time and the
// stats sink used to report Open Question 1's network_fallback counter.
// Call before the first Put/TryReplace; it only affects network
// selection for the very first configuration this Owner adopts, since
// every later one inherits the network already chosen.
func (o *Owner) SetOrigin(bootstrapHost string, stats *cbstats.Registry) {
	o.bootstrapHost = bootstrapHost
	o.stats = stats
}

// SeedNetwork pre-establishes the network name this Owner's first
// adopted configuration will carry, bypassing SelectNetwork entirely.
// Used by a bucket-scoped Owner to inherit the network the
// cluster-scoped Owner already resolved, rather than re-deriving it
// (and re-counting a network_fallback) against a bucket config that
// may mark a different node this_node.
func (o *Owner) SeedNetwork(network string) {
	o.seedNetwork = network
}

// Get returns the current snapshot, or nil before the first publish.
// The returned pointer is safe to retain: Configuration is never mutated
// after publication (spec.md §3 Lifecycles).
func (o *Owner) Get() *Configuration { return o.cur.Load() }

// Reg adds a listener; listeners are never removed. Grounded in
// cluster.SmapListeners (cluster/map.go Sowner/Slistener).
func (o *Owner) Reg(l Listener) {
	o.lmtx.Lock()
	defer o.lmtx.Unlock()
	o.listeners = append(o.listeners, l)
}

// Put unconditionally replaces the snapshot (used for the very first
// configuration fetched at cluster-open time, spec.md §4.7 `open`).
func (o *Owner) Put(c *Configuration) {
	c.Network = o.networkOf(nil, c)
	old := o.cur.Swap(c)
	o.notify(old, c)
}

// TryReplace applies the merge/replace policy from spec.md §4.2
// (ShouldReplace) and returns whether next was adopted. Safe to call
// concurrently from both the CCCP poller and the HTTP fallback poller;
// o.mtx makes the compare-and-swap atomic with respect to
// other publishers even though readers never block on it.
func (o *Owner) TryReplace(next *Configuration) (adopted bool) {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	cur := o.cur.Load()
	if !ShouldReplace(cur, next) {
		return false
	}
	next.Network = o.networkOf(cur, next)
	o.cur.Store(next)
	o.notify(cur, next)
	return true
}

// networkOf carries the network name selected at cluster-open time
// forward onto every subsequently-adopted configuration: spec.md §3
// invariant "Alternate-address selection is fixed at open time ... it
// never changes mid-session." The first time it runs against this
// Owner (cur nil, or cur carrying no network yet), it resolves the
// network via SelectNetwork against the bootstrap host recorded by
// SetOrigin, reporting the Open Question 1 fallback through stats.
func (o *Owner) networkOf(cur, next *Configuration) string {
	if next.Network != "" {
		return next.Network
	}
	if cur != nil && cur.Network != "" {
		return cur.Network
	}
	if o.seedNetwork != "" {
		return o.seedNetwork
	}
	network, fallback := SelectNetwork(next, o.bootstrapHost)
	if fallback && o.stats != nil {
		o.stats.NetworkFallback.Inc()
	}
	return network
}

func (o *Owner) notify(old, new *Configuration) {
	o.lmtx.Lock()
	ls := append([]Listener(nil), o.listeners...)
	o.lmtx.Unlock()
	for _, l := range ls {
		l(old, new)
	}
}
