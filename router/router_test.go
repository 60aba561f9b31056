package router

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchbaselabs/gocbcluster/cberr"
	"github.com/couchbaselabs/gocbcluster/cbconfig"
	"github.com/couchbaselabs/gocbcluster/httpsvc"
	"github.com/couchbaselabs/gocbcluster/kvsession"
	"github.com/couchbaselabs/gocbcluster/memd"
)

func singleNodeConfig(addr string, rev uint64) *cbconfig.Configuration {
	return &cbconfig.Configuration{
		ID:     cbconfig.NewID(),
		Rev:    rev,
		HasRev: true,
		Bucket: "default",
		Nodes: []*cbconfig.Node{{
			Hostname:      addr,
			IsThisNode:    true,
			ServicesPlain: cbconfig.Ports{cbconfig.ServiceKV: 11210, cbconfig.ServiceQuery: 8093},
		}},
		VBMap: cbconfig.VBucketMap{{0}},
	}
}

type scriptedKVSession struct {
	responses []func() (*memd.Response, error)
	calls     atomic.Int32
}

func (s *scriptedKVSession) Send(p *memd.Packet, deadline time.Time, cb kvsession.Callback) error {
	i := int(s.calls.Add(1)) - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	resp, err := s.responses[i]()
	cb(resp, err)
	return nil
}

func (s *scriptedKVSession) Close() error { return nil }

func always(resp *memd.Response, err error) func() (*memd.Response, error) {
	return func() (*memd.Response, error) { return resp, err }
}

func TestExecuteKVSuccess(t *testing.T) {
	owner := cbconfig.NewOwner()
	owner.Put(singleNodeConfig("10.0.0.1", 1))
	sess := &scriptedKVSession{responses: []func() (*memd.Response, error){
		always(&memd.Response{Status: memd.StatusSuccess, Value: []byte("hello")}, nil),
	}}
	r := New(Options{
		Owner:  owner,
		DialKV: func(ctx context.Context, addr string) (KVSessioner, error) { return sess, nil },
	})

	done := make(chan *Response, 1)
	var gotErr error
	r.Execute(context.Background(), &Request{Kind: OpKV, Opcode: memd.CmdGet, Key: []byte("k")}, func(resp *Response, err error) {
		gotErr = err
		done <- resp
	})
	resp := <-done
	if gotErr != nil {
		t.Fatalf("unexpected error: %v", gotErr)
	}
	if string(resp.KV.Value) != "hello" {
		t.Fatalf("value = %q", resp.KV.Value)
	}
}

func TestExecuteKVDocumentNotFound(t *testing.T) {
	owner := cbconfig.NewOwner()
	owner.Put(singleNodeConfig("10.0.0.1", 1))
	sess := &scriptedKVSession{responses: []func() (*memd.Response, error){
		always(&memd.Response{Status: memd.StatusKeyNotFound}, nil),
	}}
	r := New(Options{
		Owner:  owner,
		DialKV: func(ctx context.Context, addr string) (KVSessioner, error) { return sess, nil },
	})

	done := make(chan error, 1)
	r.Execute(context.Background(), &Request{Kind: OpKV, Opcode: memd.CmdGet, Key: []byte("missing")}, func(resp *Response, err error) {
		done <- err
	})
	err := <-done
	if !cberr.IsKind(err, cberr.KindDocumentNotFound) {
		t.Fatalf("err = %v, want document_not_found", err)
	}
}

func TestExecuteRetriesNotMyVBucketThenSucceeds(t *testing.T) {
	owner := cbconfig.NewOwner()
	owner.Put(singleNodeConfig("10.0.0.1", 1))
	sess := &scriptedKVSession{responses: []func() (*memd.Response, error){
		always(&memd.Response{Status: memd.StatusNotMyVBucket}, nil),
		always(&memd.Response{Status: memd.StatusSuccess, Value: []byte("v2")}, nil),
	}}
	r := New(Options{
		Owner:  owner,
		DialKV: func(ctx context.Context, addr string) (KVSessioner, error) { return sess, nil },
	})

	done := make(chan *Response, 1)
	var gotErr error
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Execute(ctx, &Request{Kind: OpKV, Opcode: memd.CmdGet, Key: []byte("k")}, func(resp *Response, err error) {
		gotErr = err
		done <- resp
	})
	resp := <-done
	if gotErr != nil {
		t.Fatalf("unexpected error after retry: %v", gotErr)
	}
	if string(resp.KV.Value) != "v2" {
		t.Fatalf("value = %q", resp.KV.Value)
	}
	if sess.calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", sess.calls.Load())
	}
}

func TestExecuteNonIdempotentMutationAmbiguatesOnRequestCancelled(t *testing.T) {
	owner := cbconfig.NewOwner()
	owner.Put(singleNodeConfig("10.0.0.1", 1))
	sess := &scriptedKVSession{responses: []func() (*memd.Response, error){
		always(nil, cberr.New(cberr.KindRequestCancelled, "socket reset mid-write")),
	}}
	r := New(Options{
		Owner:  owner,
		DialKV: func(ctx context.Context, addr string) (KVSessioner, error) { return sess, nil },
	})

	done := make(chan error, 1)
	r.Execute(context.Background(), &Request{
		Kind: OpKV, Opcode: memd.CmdSet, Key: []byte("k"), Value: []byte("v"), Idempotent: false,
	}, func(resp *Response, err error) {
		done <- err
	})
	err := <-done
	if !cberr.IsKind(err, cberr.KindAmbiguousTimeout) {
		t.Fatalf("err = %v, want ambiguous_timeout", err)
	}
}

func TestExecuteIdempotentRetriesRequestCancelled(t *testing.T) {
	owner := cbconfig.NewOwner()
	owner.Put(singleNodeConfig("10.0.0.1", 1))
	sess := &scriptedKVSession{responses: []func() (*memd.Response, error){
		always(nil, cberr.New(cberr.KindRequestCancelled, "socket reset")),
		always(&memd.Response{Status: memd.StatusSuccess}, nil),
	}}
	r := New(Options{
		Owner:  owner,
		DialKV: func(ctx context.Context, addr string) (KVSessioner, error) { return sess, nil },
	})

	done := make(chan error, 1)
	r.Execute(context.Background(), &Request{
		Kind: OpKV, Opcode: memd.CmdGet, Key: []byte("k"), Idempotent: true,
	}, func(resp *Response, err error) {
		done <- err
	})
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type scriptedHTTPSession struct {
	status int
	body   []byte
	err    error
}

func (s *scriptedHTTPSession) Do(ctx context.Context, method, path, contentType string, body []byte) (int, []byte, error) {
	return s.status, s.body, s.err
}

func (s *scriptedHTTPSession) DoStream(ctx context.Context, method, path string, onChunk func(httpsvc.Chunk) error) error {
	return s.err
}

func (s *scriptedHTTPSession) Close() {}

func TestExecuteHTTPRoundRobin(t *testing.T) {
	owner := cbconfig.NewOwner()
	cfg := &cbconfig.Configuration{
		ID: cbconfig.NewID(), Rev: 1, HasRev: true, Bucket: "",
		Nodes: []*cbconfig.Node{
			{Hostname: "10.0.0.1", ServicesPlain: cbconfig.Ports{cbconfig.ServiceQuery: 8093}},
			{Hostname: "10.0.0.2", ServicesPlain: cbconfig.Ports{cbconfig.ServiceQuery: 8093}},
		},
	}
	owner.Put(cfg)

	seen := map[string]int{}
	r := New(Options{
		Owner: owner,
		DialHTTP: func(addr string, tls bool) HTTPSessioner {
			seen[addr]++
			return &scriptedHTTPSession{status: 200, body: []byte(`{"status":"success","results":[],"errors":[]}`)}
		},
	})

	for i := 0; i < 4; i++ {
		done := make(chan error, 1)
		r.Execute(context.Background(), &Request{
			Kind: OpHTTPUnary, Service: cbconfig.ServiceQuery, Method: "POST", Path: "/query/service",
		}, func(resp *Response, err error) { done <- err })
		if err := <-done; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if len(seen) != 2 {
		t.Fatalf("expected both nodes to be dialed for round-robin, saw %v", seen)
	}
}
