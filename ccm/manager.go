// Package ccm is the configuration manager (spec.md §4.5): it acquires
// fresh cluster configurations via CCCP over ready KV sessions or, as a
// fallback, an HTTP streaming GET, debounces concurrent on-demand polls
// triggered by not_my_vbucket, and publishes successfully-parsed
// configurations that advance the current revision.
package ccm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/couchbaselabs/gocbcluster/cbconfig"
	"github.com/couchbaselabs/gocbcluster/cberr"
	"github.com/couchbaselabs/gocbcluster/httpsvc"
	"github.com/couchbaselabs/gocbcluster/kvsession"
	"github.com/couchbaselabs/gocbcluster/memd"
)

// KVSource is the subset of kvsession.Session the manager needs to run
// GET_CLUSTER_CONFIG over a ready connection, kept as an interface so
// callers can supply fakes in tests without opening a real socket.
type KVSource interface {
	Send(p *memd.Packet, deadline time.Time, cb kvsession.Callback) error
}

// Manager owns configuration acquisition for one bucket (or the
// cluster-scoped bootstrap configuration when Bucket is "").
type Manager struct {
	owner  *cbconfig.Owner
	bucket string

	kvSessions func() []KVSource // snapshot of currently-ready KV sessions
	httpNode   func() (*httpsvc.Session, bool) // a management session to fall back to

	sf           singleflight.Group
	rotate       atomic.Uint32
	pollInterval time.Duration

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Options configure a Manager.
type Options struct {
	Owner        *cbconfig.Owner
	Bucket       string
	KVSessions   func() []KVSource
	HTTPNode     func() (*httpsvc.Session, bool)
	PollInterval time.Duration // default 2500ms, spec.md §4.5
}

// New creates a Manager and starts its low-frequency polling timer.
func New(opts Options) *Manager {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = 2500 * time.Millisecond
	}
	m := &Manager{
		owner:        opts.Owner,
		bucket:       opts.Bucket,
		kvSessions:   opts.KVSessions,
		httpNode:     opts.HTTPNode,
		pollInterval: interval,
		stopCh:       make(chan struct{}),
	}
	go m.pollLoop()
	return m
}

// Stop halts the background polling timer. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) pollLoop() {
	t := time.NewTicker(m.pollInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.PollOnce(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// PollOnce triggers one acquisition attempt, debounced against any
// poll already in flight (spec.md §4.5: "debounces requests so multiple
// concurrent not_my_vbucket fire at most one poll").
func (m *Manager) PollOnce(ctx context.Context) {
	_, _, _ = m.sf.Do(m.bucket, func() (interface{}, error) {
		body, err := m.acquire(ctx)
		if err != nil {
			return nil, err
		}
		cfg, parseErr := cbconfig.Parse(body, m.bucket)
		if parseErr != nil {
			return nil, parseErr
		}
		m.owner.TryReplace(cfg)
		return nil, nil
	})
}

// HandleConfigPayload implements kvsession.ConfigSink: a not_my_vbucket
// response or an unsolicited CLUSTERMAP_CHANGE_NOTIFICATION hands its
// payload straight to the owner without going through the singleflight
// poll path, since the bytes are already in hand.
func (m *Manager) HandleConfigPayload(body []byte, bucket string) {
	if bucket != m.bucket {
		return
	}
	cfg, err := cbconfig.Parse(body, m.bucket)
	if err != nil {
		return
	}
	m.owner.TryReplace(cfg)
}

// acquire tries CCCP over each ready KV session in round-robin order,
// then falls back to the HTTP streaming endpoint (spec.md §4.5).
func (m *Manager) acquire(ctx context.Context) ([]byte, error) {
	if sessions := m.kvSessions(); len(sessions) > 0 {
		start := int(m.rotate.Add(1))
		for i := 0; i < len(sessions); i++ {
			s := sessions[(start+i)%len(sessions)]
			body, err := cccpRoundTrip(ctx, s)
			if err == nil {
				return body, nil
			}
		}
	}
	return m.acquireViaHTTP(ctx)
}

func cccpRoundTrip(ctx context.Context, s KVSource) ([]byte, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	done := make(chan struct{})
	var body []byte
	var rtErr error
	err := s.Send(&memd.Packet{Magic: memd.MagicReq, Opcode: memd.CmdGetClusterConfig}, deadline,
		func(r *memd.Response, e error) {
			if e == nil {
				body = r.Value
			}
			rtErr = e
			close(done)
		})
	if err != nil {
		return nil, err
	}
	select {
	case <-done:
		return body, rtErr
	case <-ctx.Done():
		return nil, cberr.Wrap(cberr.KindAmbiguousTimeout, ctx.Err(), "CCCP round trip")
	}
}

// configDelim is the four-newline separator the streaming bucket
// endpoint places between successive configuration documents
// (spec.md §4.5).
var configDelim = []byte("\n\n\n\n")

func (m *Manager) acquireViaHTTP(ctx context.Context) ([]byte, error) {
	if m.httpNode == nil {
		return nil, cberr.New(cberr.KindServiceNotAvail, "no management session available for HTTP config fallback")
	}
	sess, ok := m.httpNode()
	if !ok {
		return nil, cberr.New(cberr.KindServiceNotAvail, "no management session available for HTTP config fallback")
	}
	var latest []byte
	err := sess.DoStreamDelim(ctx, "GET", "/pools/default/bs/"+m.bucket, configDelim, func(chunk []byte) error {
		latest = chunk
		return errStopStream
	})
	if err != nil && err != errStopStream {
		return nil, err
	}
	if latest == nil {
		return nil, cberr.New(cberr.KindServiceNotAvail, "streaming config endpoint returned no document")
	}
	return latest, nil
}

var errStopStream = streamStopped{}

type streamStopped struct{}

func (streamStopped) Error() string { return "stop after first document" }
