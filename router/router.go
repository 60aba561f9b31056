package router

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/couchbaselabs/gocbcluster/cberr"
	"github.com/couchbaselabs/gocbcluster/cbconfig"
	"github.com/couchbaselabs/gocbcluster/cbstats"
	"github.com/couchbaselabs/gocbcluster/httpsvc"
	"github.com/couchbaselabs/gocbcluster/kvsession"
	"github.com/couchbaselabs/gocbcluster/memd"
)

// tracerName identifies this package's spans in whatever otel exporter
// the host process has configured; the core never configures one itself
// (spec.md §1 excludes logging/telemetry setup as a feature).
const tracerName = "github.com/couchbaselabs/gocbcluster/router"

// KVSessioner is the subset of *kvsession.Session the router needs,
// kept as an interface so tests can substitute a fake connection
// without opening a real socket.
type KVSessioner interface {
	Send(p *memd.Packet, deadline time.Time, cb kvsession.Callback) error
	Close() error
}

// HTTPSessioner is the subset of *httpsvc.Session the router needs.
type HTTPSessioner interface {
	Do(ctx context.Context, method, path, contentType string, body []byte) (int, []byte, error)
	DoStream(ctx context.Context, method, path string, onChunk func(httpsvc.Chunk) error) error
	Close()
}

// KVDialer opens (or reuses) a KV session to addr on demand
// (spec.md §4.6: "select the matching KV session (open on demand)").
type KVDialer func(ctx context.Context, addr string) (KVSessioner, error)

// HTTPDialer opens (or reuses) an HTTP session to addr.
type HTTPDialer func(addr string, tls bool) HTTPSessioner

const defaultTimeout = 15 * time.Second
const defaultNotMyVBucketRetryLimit = 10

// Router resolves requests against the current configuration and
// retries according to spec.md §4.6's deterministic, bounded policy.
// Grounded in aistore's target-resolution pattern (cluster.Smap lookup
// followed by an HRW pick, reb/stats.go's dispatch loop) generalized
// from an HRW node pick to a vbucket-map owner lookup.
type Router struct {
	owner *cbconfig.Owner
	tls   bool

	dialKV   KVDialer
	dialHTTP HTTPDialer

	mu           sync.Mutex
	kvSessions   map[string]KVSessioner
	httpSessions map[string]HTTPSessioner

	rrMu sync.Mutex
	rr   map[cbconfig.Service]uint32

	cfgChanged *broadcaster
	stats      *cbstats.Registry
	tracer     trace.Tracer
}

// Options configure a Router.
type Options struct {
	Owner    *cbconfig.Owner
	TLS      bool
	DialKV   KVDialer
	DialHTTP HTTPDialer
	Stats    *cbstats.Registry // optional; nil disables metrics
	Tracer   trace.Tracer      // optional; defaults to otel.Tracer(tracerName)
}

// New creates a Router and subscribes it to configuration changes so
// not_my_vbucket retries can race a short backoff against "a new
// configuration was just published" (spec.md §4.6).
func New(opts Options) *Router {
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	r := &Router{
		owner:        opts.Owner,
		tls:          opts.TLS,
		dialKV:       opts.DialKV,
		dialHTTP:     opts.DialHTTP,
		kvSessions:   make(map[string]KVSessioner),
		httpSessions: make(map[string]HTTPSessioner),
		rr:           make(map[cbconfig.Service]uint32),
		cfgChanged:   newBroadcaster(),
		stats:        opts.Stats,
		tracer:       tracer,
	}
	r.owner.Reg(func(old, new *cbconfig.Configuration) { r.cfgChanged.broadcast() })
	return r
}

// Execute is the router's entry point (spec.md §4.6). It returns
// immediately; cb fires exactly once from a goroutine the router owns.
func (r *Router) Execute(ctx context.Context, req *Request, cb Callback) {
	go r.run(ctx, req, cb)
}

func (r *Router) run(ctx context.Context, req *Request, cb Callback) {
	deadline := r.deadlineFor(ctx, req)
	retryLimit := req.RetryLimit
	if retryLimit <= 0 {
		retryLimit = defaultNotMyVBucketRetryLimit
	}

	opLabel := "http"
	if req.Kind == OpKV {
		opLabel = "kv"
	}
	ctx, span := r.tracer.Start(ctx, "cb."+opLabel+".execute", trace.WithAttributes(
		attribute.Bool("cb.idempotent", req.Idempotent),
	))
	if req.Kind == OpKV {
		span.SetAttributes(attribute.String("cb.opcode", req.Opcode.String()))
	} else {
		span.SetAttributes(attribute.String("cb.service", string(req.Service)), attribute.String("cb.path", req.Path))
	}
	start := time.Now()
	r.incInFlight(1)
	defer r.incInFlight(-1)

	bo := newBackoffPolicy()
	notMyVBucketAttempts := 0
	var lastFailedAddr string

	finish := func(resp *Response, err error) {
		r.observeLatency(opLabel, start)
		r.countOutcome(err)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("cb.not_my_vbucket_retries", notMyVBucketAttempts))
		span.End()
		cb(resp, err)
	}

	for {
		if deadlineExceeded(deadline) {
			finish(nil, r.timeoutError(req, notMyVBucketAttempts > 0))
			return
		}

		var resp *Response
		var err error
		var addr string
		if req.Kind == OpKV {
			resp, addr, err = r.attemptKV(ctx, req, deadline)
		} else {
			resp, addr, err = r.attemptHTTP(ctx, req, deadline)
		}
		if err == nil {
			finish(resp, nil)
			return
		}

		kind, isCoreErr := cberr.KindOf(err)
		if !isCoreErr {
			finish(nil, err)
			return
		}

		switch kind {
		case cberr.KindNotMyVbucket:
			r.countRetry("not_my_vbucket")
			notMyVBucketAttempts++
			if notMyVBucketAttempts > retryLimit {
				finish(nil, err)
				return
			}
			r.waitForConfigOrTimeout(ctx, deadline)
			continue

		case cberr.KindTemporaryFailure, cberr.KindDocumentLocked:
			r.countRetry(string(kind))
			if !sleepBounded(ctx, bo.next(), deadline) {
				finish(nil, r.timeoutError(req, true))
				return
			}
			continue

		case cberr.KindRequestCancelled:
			if addr != "" && addr == lastFailedAddr {
				// Re-resolution landed on the same dead target twice
				// in a row: wait for a fresh configuration instead of
				// spinning.
				r.waitForConfigOrTimeout(ctx, deadline)
			}
			lastFailedAddr = addr
			if !req.Idempotent && !cberr.SafeForNonIdempotentRetry(kind) {
				finish(nil, ambiguate(req, err))
				return
			}
			r.countRetry("request_cancelled")
			continue

		default:
			finish(nil, err)
			return
		}
	}
}

func (r *Router) incInFlight(delta float64) {
	if r.stats == nil {
		return
	}
	r.stats.RequestsInFlight.Add(delta)
}

func (r *Router) observeLatency(op string, start time.Time) {
	if r.stats == nil {
		return
	}
	r.stats.ObserveLatency(op, start)
}

func (r *Router) countRetry(reason string) {
	if r.stats == nil {
		return
	}
	r.stats.Retries.WithLabelValues(reason).Inc()
	if reason == "not_my_vbucket" {
		r.stats.NotMyVBucket.Inc()
	}
}

func (r *Router) countOutcome(err error) {
	if r.stats == nil {
		return
	}
	if err == nil {
		r.stats.RequestsTotal.WithLabelValues("success").Inc()
		return
	}
	kind, ok := cberr.KindOf(err)
	if !ok {
		kind = "internal_server_failure"
	}
	r.stats.RequestsTotal.WithLabelValues(string(kind)).Inc()
	if kind == cberr.KindAmbiguousTimeout || kind == cberr.KindUnambiguousTimeout {
		r.stats.Timeouts.WithLabelValues(string(kind)).Inc()
	}
}

// ambiguate escalates a would-be-unsafe-to-retry error on a
// non-idempotent mutation to the ambiguity-aware kind spec.md §4.6
// requires ("Otherwise, surface durability_ambiguous / ambiguous_timeout").
func ambiguate(req *Request, err error) error {
	if req.Durability != nil {
		return cberr.Wrap(cberr.KindDurabilityAmbiguous, err, "non-idempotent operation may have mutated state")
	}
	return cberr.Wrap(cberr.KindAmbiguousTimeout, err, "non-idempotent operation may have mutated state")
}

func (r *Router) deadlineFor(ctx context.Context, req *Request) time.Time {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}

func (r *Router) timeoutError(req *Request, sawRetryableFailure bool) error {
	if !req.Idempotent && sawRetryableFailure {
		return cberr.New(cberr.KindAmbiguousTimeout, "request timed out after a retryable failure")
	}
	return cberr.New(cberr.KindUnambiguousTimeout, "request timed out")
}

func deadlineExceeded(deadline time.Time) bool {
	return !deadline.IsZero() && time.Now().After(deadline)
}

// sleepBounded sleeps for d, or until ctx is cancelled or deadline
// passes first; returns false if the deadline/context won before d
// elapsed.
func sleepBounded(ctx context.Context, d time.Duration, deadline time.Time) bool {
	if remaining := time.Until(deadline); remaining < d {
		d = remaining
	}
	if d <= 0 {
		return false
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// waitForConfigOrTimeout races the short not-my-vbucket poll against a
// signal that a fresh configuration was just published (spec.md §4.6).
func (r *Router) waitForConfigOrTimeout(ctx context.Context, deadline time.Time) {
	wait := notMyVBucketPoll
	if remaining := time.Until(deadline); remaining < wait {
		wait = remaining
	}
	if wait <= 0 {
		return
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-r.cfgChanged.wait():
	case <-t.C:
	case <-ctx.Done():
	}
}

func (r *Router) rrNext(svc cbconfig.Service, n int) int {
	r.rrMu.Lock()
	defer r.rrMu.Unlock()
	i := r.rr[svc]
	r.rr[svc] = i + 1
	return int(i) % n
}

// broadcaster lets goroutines wait for "the next event" without a
// polling loop: each broadcast closes the current channel (waking
// everyone blocked on it) and installs a fresh one.
type broadcaster struct {
	mu sync.Mutex
	ch chan struct{}
}

func newBroadcaster() *broadcaster { return &broadcaster{ch: make(chan struct{})} }

func (b *broadcaster) wait() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

func (b *broadcaster) broadcast() {
	b.mu.Lock()
	close(b.ch)
	b.ch = make(chan struct{})
	b.mu.Unlock()
}
