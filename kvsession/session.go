// Package kvsession implements one KV binary-protocol connection to a
// single node: HELLO feature negotiation, SASL authentication, bucket
// selection, and the steady-state send/demux loop (spec.md §4.3).
//
// The spec describes a single-threaded reactor driving every socket;
// the idiomatic Go rendering of that model is one reader goroutine per
// session demultiplexing into a mutex-protected in-flight table, with
// writes serialized by the same mutex — the reactor's single-writer
// guarantee falls out of holding the lock across the wire write rather
// than out of a dedicated scheduler thread. Grounded in the teacher's
// general concurrency idiom of guarding shared maps with a plain
// sync.Mutex rather than channels (cluster/map.go's Smap listeners,
// cmn/config.go's globalConfigOwner).
package kvsession

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/couchbaselabs/gocbcluster/cberr"
	"github.com/couchbaselabs/gocbcluster/cbconfig"
	"github.com/couchbaselabs/gocbcluster/collections"
	"github.com/couchbaselabs/gocbcluster/internal/debug"
	"github.com/couchbaselabs/gocbcluster/memd"
)

// State is the KV session lifecycle (spec.md §4.1/§4.3).
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateSelectingBucket
	StateReady
	StateDraining
	StateClosed
)

// Callback is invoked exactly once per Send. Replies and connection
// failures reach it from the session's reader goroutine; an encode or
// socket-write failure invokes it on the sending goroutine before Send
// returns. Implementations must not block.
type Callback func(*memd.Response, error)

// ConfigSink receives configuration payloads pushed by the server,
// either as the body of a not_my_vbucket response or as an unsolicited
// CLUSTERMAP_CHANGE_NOTIFICATION push (spec.md §4.3).
type ConfigSink interface {
	HandleConfigPayload(body []byte, bucket string)
}

// Options configure a new Session.
type Options struct {
	Node       *cbconfig.Node
	Address    string // host:port, already resolved for the chosen network
	Username   string
	Password   string
	Bucket     string // "" for a cluster-scoped session not yet bound to a bucket
	TLS        bool
	ConfigSink ConfigSink
	Manifest   *collections.Manifest // nil until the bucket supports collections
}

type pending struct {
	cb       Callback
	deadline time.Time
	written  bool
}

// Session owns one TCP connection to one node. All exported methods
// are safe for concurrent use.
type Session struct {
	opts Options
	conn net.Conn

	mu       sync.Mutex
	inflight map[uint32]*pending
	nextOp   uint32
	state    atomic.Int32

	// lateReplies records, in debug builds only, the opaque of each reply
	// that arrives with no in-flight entry; dispatch discards such
	// replies. Nothing reads the filter back. Opaques come from a counter
	// that only increases, so a late reply is never matched to a newer
	// request.
	lateReplies *cuckoo.Filter
	lateMu      sync.Mutex

	features map[memd.HelloFeature]bool
}

// Dial opens a TCP connection and runs the full open sequence from
// spec.md §4.3: HELLO, SASL, optional SELECT_BUCKET plus manifest
// fetch. Returns a Session in StateReady, or an error mapped per
// "Open failures" (auth failure, access denied, feature-negotiation
// fatal, transport failure).
func Dial(ctx context.Context, opts Options) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, cberr.Wrap(cberr.KindServiceNotAvail, err, "connect to kv node")
	}
	s := &Session{
		opts:        opts,
		conn:        conn,
		inflight:    make(map[uint32]*pending),
		lateReplies: cuckoo.NewDefaultFilter(),
		features:    make(map[memd.HelloFeature]bool),
	}
	s.state.Store(int32(StateConnecting))
	go s.readLoop()

	if err := s.open(ctx); err != nil {
		s.Close()
		return nil, err
	}
	s.state.Store(int32(StateReady))
	return s, nil
}

// State returns the session's current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Send frames req, allocates an opaque, registers cb, and writes the
// bytes to the socket (spec.md §4.3 "send(request, callback) is legal
// only in ready"). Returns immediately; cb fires later from the reader
// goroutine.
func (s *Session) Send(p *memd.Packet, deadline time.Time, cb Callback) error {
	if s.State() != StateReady {
		return cberr.New(cberr.KindRequestCancelled, "session not ready")
	}
	return s.sendLocked(p, deadline, cb)
}

// sendLocked frames and writes p regardless of lifecycle state; it
// backs both the public Send (gated to StateReady) and the open
// sequence's roundTrip (which must send HELLO/SASL/SELECT_BUCKET
// frames before the session reaches StateReady).
func (s *Session) sendLocked(p *memd.Packet, deadline time.Time, cb Callback) error {
	s.mu.Lock()
	opaque := s.nextOpaqueLocked()
	p.Opaque = opaque
	buf, encErr := memd.Encode(p)
	if encErr != nil {
		s.mu.Unlock()
		cb(nil, encErr)
		return nil
	}
	s.inflight[opaque] = &pending{cb: cb, deadline: deadline}
	_, writeErr := s.conn.Write(buf)
	if writeErr == nil {
		s.inflight[opaque].written = true
	}
	s.mu.Unlock()

	if writeErr != nil {
		s.failAll(cberr.Wrap(cberr.KindRequestCancelled, writeErr, "write kv request"))
		return writeErr
	}
	return nil
}

func (s *Session) nextOpaqueLocked() uint32 {
	s.nextOp++
	return s.nextOp
}

// readLoop decodes frames off the wire and demultiplexes them by
// opaque until the connection fails (spec.md §4.3 "Response demux").
func (s *Session) readLoop() {
	buf := make([]byte, 0, 16*1024)
	tmp := make([]byte, 16*1024)
	for {
		n, err := s.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil {
			if err == io.EOF || !isTemporary(err) {
				s.failAll(cberr.Wrap(cberr.KindRequestCancelled, err, "kv socket closed"))
				return
			}
		}
		for {
			resp, consumed, decErr := memd.Decode(buf)
			if decErr != nil {
				if _, needMore := decErr.(*memd.NeedMore); needMore {
					break
				}
				s.failAll(cberr.Wrap(cberr.KindRequestCancelled, decErr, "decode kv response"))
				return
			}
			buf = buf[consumed:]
			s.dispatch(resp)
		}
	}
}

func isTemporary(err error) bool {
	type temporary interface{ Temporary() bool }
	t, ok := err.(temporary)
	return ok && t.Temporary()
}

// dispatch routes one decoded response to its waiter, the config sink,
// or the discard path for late/unsolicited frames.
func (s *Session) dispatch(resp *memd.Response) {
	if resp.IsServerPush() {
		payload := resp.ConfigPayload
		if payload == nil && resp.Opcode == memd.CmdClustermapChangeNotification {
			payload = resp.Value
		}
		if s.opts.ConfigSink != nil && len(payload) > 0 {
			s.opts.ConfigSink.HandleConfigPayload(payload, s.opts.Bucket)
		}
		return
	}

	s.mu.Lock()
	p, ok := s.inflight[resp.Opaque]
	if ok {
		delete(s.inflight, resp.Opaque)
	}
	s.mu.Unlock()

	if !ok {
		debug.Func(func() { s.noteLateReply(resp.Opaque) })
		return
	}

	if resp.Status == memd.StatusNotMyVBucket && resp.ConfigPayload != nil && s.opts.ConfigSink != nil {
		s.opts.ConfigSink.HandleConfigPayload(resp.ConfigPayload, s.opts.Bucket)
	}

	if resp.Status == memd.StatusUnknownCollection && s.opts.Manifest != nil {
		p.cb(nil, cberr.New(cberr.KindUnknownCollection, "unknown collection"))
		return
	}

	if kind := resp.Status.Kind(); kind != "" {
		p.cb(nil, cberr.New(kind, resp.Status.String()))
		return
	}

	if resp.DataType.Has(memd.DataTypeSnappy) && len(resp.Value) > 0 {
		plain, err := memd.DecompressValue(resp.Value)
		if err != nil {
			p.cb(nil, cberr.Wrap(cberr.KindDecodingFailure, err, "decompress snappy value"))
			return
		}
		resp.Value = plain
		resp.DataType &^= memd.DataTypeSnappy
	}
	p.cb(resp, nil)
}

func (s *Session) noteLateReply(opaque uint32) {
	s.lateMu.Lock()
	defer s.lateMu.Unlock()
	s.lateReplies.InsertUnique([]byte{byte(opaque), byte(opaque >> 8), byte(opaque >> 16), byte(opaque >> 24)})
}

// failAll completes every in-flight request with err and transitions
// the session to closed (spec.md §4.3 "Socket error or read EOF").
func (s *Session) failAll(err error) {
	s.state.Store(int32(StateClosed))
	s.mu.Lock()
	pending := s.inflight
	s.inflight = make(map[uint32]*pending)
	s.mu.Unlock()
	for _, p := range pending {
		p.cb(nil, err)
	}
}

// Close shuts down the connection and fails any remaining in-flight
// requests with request_cancelled.
func (s *Session) Close() error {
	s.state.Store(int32(StateClosed))
	err := s.conn.Close()
	s.failAll(cberr.New(cberr.KindRequestCancelled, "session closed"))
	return err
}
