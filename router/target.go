package router

import (
	"context"
	"time"

	"github.com/couchbaselabs/gocbcluster/cberr"
	"github.com/couchbaselabs/gocbcluster/cbconfig"
	"github.com/couchbaselabs/gocbcluster/httpsvc"
	"github.com/couchbaselabs/gocbcluster/memd"
)

// attemptKV resolves the vbucket owner for req.Key, sends once, and
// returns the resolved target's address alongside the outcome so the
// retry loop can detect "re-resolution kept landing on the dead node"
// (spec.md §4.6 request_cancelled handling).
func (r *Router) attemptKV(ctx context.Context, req *Request, deadline time.Time) (*Response, string, error) {
	cfg := r.owner.Get()
	if cfg == nil {
		return nil, "", cberr.New(cberr.KindServiceNotAvail, "no configuration available yet")
	}
	node, partition, err := cfg.Owner(req.Key)
	if err != nil {
		return nil, "", cberr.Wrap(cberr.KindNotMyVbucket, err, "no owner for key's partition")
	}
	addr, ok := node.Endpoint(cbconfig.ServiceKV, r.tls, cfg.Network)
	if !ok {
		return nil, "", cberr.New(cberr.KindServiceNotAvail, "owner node does not offer the kv service")
	}

	sess, err := r.getKVSession(ctx, addr)
	if err != nil {
		return nil, addr, cberr.Wrap(cberr.KindRequestCancelled, err, "failed to open kv session")
	}

	p := &memd.Packet{
		Magic:      memd.MagicReq,
		Opcode:     req.Opcode,
		VBucket:    uint16(partition),
		CAS:        req.CAS,
		Extras:     req.Extras,
		Key:        req.Key,
		Value:      req.Value,
		Durability: req.Durability,
	}
	resp, err := kvRoundTrip(ctx, sess, p, deadline)
	if err != nil {
		return nil, addr, err
	}
	if resp.Status != memd.StatusSuccess {
		kind := resp.Status.Kind()
		if kind == "" {
			kind = cberr.KindInternalServer
		}
		return nil, addr, cberr.New(kind, resp.Status.String())
	}
	return &Response{KV: resp}, addr, nil
}

func kvRoundTrip(ctx context.Context, sess KVSessioner, p *memd.Packet, deadline time.Time) (*memd.Response, error) {
	done := make(chan struct{})
	var resp *memd.Response
	var rtErr error
	err := sess.Send(p, deadline, func(r *memd.Response, e error) {
		resp, rtErr = r, e
		close(done)
	})
	if err != nil {
		return nil, err
	}
	var expired <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-done:
		if rtErr != nil {
			return nil, rtErr
		}
		return resp, nil
	case <-ctx.Done():
		return nil, cberr.Wrap(cberr.KindAmbiguousTimeout, ctx.Err(), "kv round trip")
	case <-expired:
		return nil, cberr.New(cberr.KindAmbiguousTimeout, "kv round trip deadline exceeded")
	}
}

func (r *Router) getKVSession(ctx context.Context, addr string) (KVSessioner, error) {
	r.mu.Lock()
	if s, ok := r.kvSessions[addr]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	s, err := r.dialKV(ctx, addr)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.kvSessions[addr]; ok {
		// Lost a race with a concurrent dial; keep the winner, close ours.
		s.Close()
		return existing, nil
	}
	r.kvSessions[addr] = s
	return s, nil
}

// attemptHTTP picks a node offering req.Service round-robin, sends
// once (or streams), and returns the resolved address.
func (r *Router) attemptHTTP(ctx context.Context, req *Request, deadline time.Time) (*Response, string, error) {
	cfg := r.owner.Get()
	if cfg == nil {
		return nil, "", cberr.New(cberr.KindServiceNotAvail, "no configuration available yet")
	}
	nodes := cfg.NodesOffering(req.Service, r.tls)
	if len(nodes) == 0 {
		return nil, "", cberr.Newf(cberr.KindServiceNotAvail, "no node offers service %q", req.Service)
	}
	node := nodes[r.rrNext(req.Service, len(nodes))]
	addr, ok := node.Endpoint(req.Service, r.tls, cfg.Network)
	if !ok {
		return nil, "", cberr.New(cberr.KindServiceNotAvail, "round-robin selected node lost the service")
	}

	sess := r.getHTTPSession(addr)
	callCtx := ctx
	var cancel context.CancelFunc
	if !deadline.IsZero() {
		callCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	if req.Kind == OpHTTPStream {
		err := sess.DoStream(callCtx, req.Method, req.Path, req.OnChunk)
		if err != nil {
			return nil, addr, classifyHTTPErr(err)
		}
		return &Response{}, addr, nil
	}

	status, body, err := sess.Do(callCtx, req.Method, req.Path, req.ContentType, req.Body)
	if err != nil {
		return nil, addr, classifyHTTPErr(err)
	}
	if status >= 400 {
		if mgmtErr := httpsvc.ParseManagementError(status, body); mgmtErr != nil {
			return nil, addr, mgmtErr
		}
	}
	return &Response{HTTPStatus: status, HTTPBody: body}, addr, nil
}

func classifyHTTPErr(err error) error {
	if _, ok := cberr.KindOf(err); ok {
		return err
	}
	return cberr.Wrap(cberr.KindRequestCancelled, err, "http request failed")
}

func (r *Router) getHTTPSession(addr string) HTTPSessioner {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.httpSessions[addr]; ok {
		return s
	}
	s := r.dialHTTP(addr, r.tls)
	r.httpSessions[addr] = s
	return s
}
