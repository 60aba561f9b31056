// Package cbfacade is the lifecycle coordinator spec.md §4.7 calls the
// cluster façade: it owns the configuration manager, the per-bucket
// collection manifest, and the router, and exposes the caller-facing
// open/open_bucket/execute/close surface (spec.md §6 "Caller API").
// Grounded in the teacher's runner lifecycle pattern (each aistore
// daemon's Init/Run/Stop sequence, e.g. target.go's target.init/run)
// generalized from a server process lifecycle to a client-library
// connection lifecycle.
package cbfacade

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/couchbaselabs/gocbcluster/cberr"
	"github.com/couchbaselabs/gocbcluster/cbconfig"
	"github.com/couchbaselabs/gocbcluster/cbstats"
	"github.com/couchbaselabs/gocbcluster/ccm"
	"github.com/couchbaselabs/gocbcluster/collections"
	"github.com/couchbaselabs/gocbcluster/httpsvc"
	"github.com/couchbaselabs/gocbcluster/kvsession"
	"github.com/couchbaselabs/gocbcluster/router"
)

// State is the cluster lifecycle (spec.md §4.7).
type State int32

const (
	StateCreated State = iota
	StateOpening
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Origin carries the bootstrap parameters for Open (spec.md §4.7
// "origin carries bootstrap hostname(s), credentials, TLS configuration").
type Origin struct {
	Hostnames []string
	Username  string
	Password  string
	TLS       bool
}

// Cluster is the façade: {created, opening, open, closing, closed}
// (spec.md §4.7).
type Cluster struct {
	origin Origin
	stats  *cbstats.Registry

	state atomic.Int32

	mu          sync.Mutex
	owner       *cbconfig.Owner // cluster-scoped (no bucket) configuration
	bootstrapKV *kvsession.Session
	cfgMgr      *ccm.Manager
	rtr         *router.Router

	bucket    string
	bucketMu  sync.Mutex
	manifest  *collections.Manifest
	bucketOwner *cbconfig.Owner // per-bucket configuration once OpenBucket succeeds
	bucketSess  []*kvsession.Session
	bucketMgr   *ccm.Manager
}

// New creates a Cluster in state "created"; call Open to bootstrap it.
func New(stats *cbstats.Registry) *Cluster {
	return &Cluster{stats: stats}
}

func (c *Cluster) State() State { return State(c.state.Load()) }

// Open bootstraps the cluster: dials the first reachable host, fetches
// an initial configuration via CCCP, determines the network, and
// transitions to "open" (spec.md §4.7). On failure it surfaces the most
// specific error encountered (auth, unreachable, bucket-not-found) —
// here, simply the last dial error, since origin carries no bucket yet.
func (c *Cluster) Open(ctx context.Context, origin Origin) error {
	if !c.state.CompareAndSwap(int32(StateCreated), int32(StateOpening)) {
		return cberr.New(cberr.KindInvalidArgument, "cluster already opened or closed")
	}
	c.origin = origin
	c.owner = cbconfig.NewOwner()

	var lastErr error
	var sess *kvsession.Session
	var bootstrapAddr string
	for _, host := range origin.Hostnames {
		addr := kvBootstrapAddr(host)
		s, err := kvsession.Dial(ctx, kvsession.Options{
			Address:  addr,
			Username: origin.Username,
			Password: origin.Password,
			TLS:      origin.TLS,
		})
		if err != nil {
			lastErr = err
			continue
		}
		sess = s
		bootstrapAddr = addr
		break
	}
	if sess == nil {
		c.state.Store(int32(StateCreated))
		return cberr.Wrap(cberr.KindServiceNotAvail, lastErr, "unable to reach any bootstrap host")
	}
	c.bootstrapKV = sess
	c.owner.SetOrigin(hostOnly(bootstrapAddr), c.stats)

	cfgMgr := ccm.New(ccm.Options{
		Owner:      c.owner,
		Bucket:     "",
		KVSessions: func() []ccm.KVSource { return []ccm.KVSource{sess} },
	})
	cfgMgr.PollOnce(ctx)
	if c.owner.Get() == nil {
		cfgMgr.Stop()
		sess.Close()
		c.state.Store(int32(StateCreated))
		return cberr.New(cberr.KindServiceNotAvail, "failed to fetch an initial configuration")
	}
	c.cfgMgr = cfgMgr

	rtr := router.New(router.Options{
		Owner: c.owner,
		TLS:   origin.TLS,
		Stats: c.stats,
		DialKV: func(ctx context.Context, addr string) (router.KVSessioner, error) {
			return c.dialRouterKV(ctx, addr)
		},
		DialHTTP: func(addr string, tls bool) router.HTTPSessioner {
			return httpsvc.New(httpsvc.Options{Address: addr, TLS: tls, Username: origin.Username, Password: origin.Password})
		},
	})
	c.mu.Lock()
	c.rtr = rtr
	c.mu.Unlock()

	c.state.Store(int32(StateOpen))
	return nil
}

// kvBootstrapAddr turns a bootstrap hostname into a dial address,
// honoring an explicit ":port" override (useful against a non-default
// KV port, e.g. in tests) and defaulting to Couchbase's standard KV
// port otherwise.
func kvBootstrapAddr(host string) string {
	if strings.Contains(host, ":") {
		return host
	}
	return fmt.Sprintf("%s:11210", host)
}

// hostOnly strips a ":port" suffix so it can be compared against the
// bare hostnames a Configuration's nodes/alternate-addresses carry
// (spec.md §4.2 Network selection matches on hostname, not endpoint).
func hostOnly(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[:i]
	}
	return addr
}

// dialRouterKV opens a new KV session for the router's on-demand pool,
// reusing the same credentials and configuration-push wiring as the
// bootstrap session.
func (c *Cluster) dialRouterKV(ctx context.Context, addr string) (*kvsession.Session, error) {
	return kvsession.Dial(ctx, kvsession.Options{
		Address:    addr,
		Username:   c.origin.Username,
		Password:   c.origin.Password,
		TLS:        c.origin.TLS,
		Bucket:     c.currentBucket(),
		ConfigSink: c.cfgMgr,
	})
}

func (c *Cluster) currentBucket() string {
	c.bucketMu.Lock()
	defer c.bucketMu.Unlock()
	return c.bucket
}

// OpenBucket opens a KV session to every node offering the KV service
// and selects name on each, fetches the collection manifest, and
// rebuilds routing with the bucket's partition map (spec.md §4.7).
func (c *Cluster) OpenBucket(ctx context.Context, name string) error {
	if c.State() != StateOpen {
		return cberr.New(cberr.KindInvalidArgument, "cluster must be open before open_bucket")
	}

	c.bucketMu.Lock()
	c.bucket = name
	c.bucketMu.Unlock()

	manifest, err := collections.New()
	if err != nil {
		return cberr.Wrap(cberr.KindInternalServer, err, "failed to create collection manifest cache")
	}

	cfg := c.owner.Get()
	if cfg == nil {
		return cberr.New(cberr.KindServiceNotAvail, "no cluster configuration available")
	}

	bucketOwner := cbconfig.NewOwner()
	bucketOwner.SeedNetwork(cfg.Network)
	var sessions []*kvsession.Session
	var lastErr error
	for _, node := range cfg.Nodes {
		addr, ok := node.Endpoint(cbconfig.ServiceKV, c.origin.TLS, cfg.Network)
		if !ok {
			continue
		}
		s, derr := kvsession.Dial(ctx, kvsession.Options{
			Address:  addr,
			Username: c.origin.Username,
			Password: c.origin.Password,
			TLS:      c.origin.TLS,
			Bucket:   name,
			Manifest: manifest,
		})
		if derr != nil {
			lastErr = derr
			continue
		}
		sessions = append(sessions, s)
	}
	if len(sessions) == 0 {
		return cberr.Wrap(cberr.KindBucketNotFound, lastErr, "no kv node accepted the bucket selection")
	}

	bucketMgr := ccm.New(ccm.Options{
		Owner:  bucketOwner,
		Bucket: name,
		KVSessions: func() []ccm.KVSource {
			c.mu.Lock()
			defer c.mu.Unlock()
			out := make([]ccm.KVSource, len(sessions))
			for i, s := range sessions {
				out[i] = s
			}
			return out
		},
	})
	bucketMgr.PollOnce(ctx)

	c.mu.Lock()
	c.bucketSess = sessions
	c.bucketMgr = bucketMgr
	c.bucketOwner = bucketOwner
	c.manifest = manifest
	c.mu.Unlock()

	rtr := router.New(router.Options{
		Owner: bucketOwner,
		TLS:   c.origin.TLS,
		Stats: c.stats,
		DialKV: func(ctx context.Context, addr string) (router.KVSessioner, error) {
			return kvsession.Dial(ctx, kvsession.Options{
				Address:    addr,
				Username:   c.origin.Username,
				Password:   c.origin.Password,
				TLS:        c.origin.TLS,
				Bucket:     name,
				Manifest:   manifest,
				ConfigSink: bucketMgr,
			})
		},
		DialHTTP: func(addr string, tls bool) router.HTTPSessioner {
			return httpsvc.New(httpsvc.Options{Address: addr, TLS: tls, Username: c.origin.Username, Password: c.origin.Password})
		},
	})
	c.mu.Lock()
	c.rtr = rtr
	c.mu.Unlock()
	return nil
}

// Execute delegates to the router (spec.md §4.7). Legal before
// OpenBucket only for cluster-scoped requests (query with an explicit
// bucket, management) since those resolve against the cluster-scoped
// configuration rather than a bucket's partition map.
func (c *Cluster) Execute(ctx context.Context, req *router.Request, cb router.Callback) error {
	state := c.State()
	if state == StateClosed || state == StateClosing {
		return cberr.New(cberr.KindRequestCancelled, "cluster closed")
	}
	if state != StateOpen {
		return cberr.New(cberr.KindInvalidArgument, "cluster not open")
	}
	c.mu.Lock()
	rtr := c.rtr
	c.mu.Unlock()
	if rtr == nil {
		return cberr.New(cberr.KindServiceNotAvail, "no router available")
	}
	rtr.Execute(ctx, req, cb)
	return nil
}

// Close transitions to "closing", cancels in-flight work by shutting
// down every session (their in-flight callbacks fire with
// request_cancelled), waits for drain, and transitions to "closed"
// (spec.md §4.7, §5 "Cancellation").
func (c *Cluster) Close() error {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		if c.state.Load() == int32(StateClosed) {
			return nil
		}
		return cberr.New(cberr.KindInvalidArgument, "cluster not open")
	}

	if c.cfgMgr != nil {
		c.cfgMgr.Stop()
	}
	if c.bucketMgr != nil {
		c.bucketMgr.Stop()
	}
	if c.bootstrapKV != nil {
		c.bootstrapKV.Close()
	}
	c.mu.Lock()
	for _, s := range c.bucketSess {
		s.Close()
	}
	c.mu.Unlock()
	if c.manifest != nil {
		c.manifest.Close()
	}

	c.state.Store(int32(StateClosed))
	return nil
}
