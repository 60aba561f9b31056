package kvsession

import (
	"context"
	"time"

	"github.com/couchbaselabs/gocbcluster/cberr"
	"github.com/couchbaselabs/gocbcluster/memd"
	"github.com/couchbaselabs/gocbcluster/sasl"
)

// roundTrip sends p synchronously and blocks for either a response, a
// context cancellation, or the deadline, whichever comes first. The
// open sequence is the only place a KV session talks to itself
// synchronously; steady-state traffic always goes through the
// asynchronous Send/Callback path.
func (s *Session) roundTrip(ctx context.Context, p *memd.Packet) (*memd.Response, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(10 * time.Second)
	}
	done := make(chan struct{})
	var resp *memd.Response
	var rtErr error
	err := s.sendLocked(p, deadline, func(r *memd.Response, e error) {
		resp, rtErr = r, e
		close(done)
	})
	if err != nil {
		return nil, err
	}
	t := time.NewTimer(time.Until(deadline))
	defer t.Stop()
	select {
	case <-done:
		return resp, rtErr
	case <-ctx.Done():
		return nil, cberr.Wrap(cberr.KindUnambiguousTimeout, ctx.Err(), "kv open sequence")
	case <-t.C:
		return nil, cberr.New(cberr.KindUnambiguousTimeout, "kv open sequence deadline exceeded")
	}
}

// open runs the HELLO/SASL/SELECT_BUCKET sequence from spec.md §4.3.
// The session must already be StateConnecting with its reader goroutine
// running; open drives roundTrip directly rather than waiting for
// StateReady, since Send only checks state for ordinary traffic.
func (s *Session) open(ctx context.Context) error {
	s.state.Store(int32(StateConnecting))
	if err := s.sayHello(ctx); err != nil {
		return err
	}

	s.state.Store(int32(StateAuthenticating))
	if err := s.authenticate(ctx); err != nil {
		return err
	}

	if s.opts.Bucket != "" {
		s.state.Store(int32(StateSelectingBucket))
		if err := s.selectBucket(ctx); err != nil {
			return err
		}
		if s.opts.Manifest != nil {
			if err := s.fetchManifest(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) sayHello(ctx context.Context) error {
	req := &memd.Packet{
		Magic:  memd.MagicReq,
		Opcode: memd.CmdHello,
		Key:    []byte("gocbcluster"),
		Value:  memd.EncodeHelloFeatures(memd.DefaultRequestedFeatures),
	}
	resp, err := s.roundTrip(ctx, req)
	if err != nil {
		return cberr.Wrap(cberr.KindServiceNotAvail, err, "HELLO")
	}
	for _, f := range memd.DecodeHelloFeatures(resp.Value) {
		s.features[f] = true
	}
	return nil
}

func (s *Session) authenticate(ctx context.Context) error {
	if s.opts.Username == "" {
		return nil
	}
	listReq := &memd.Packet{Magic: memd.MagicReq, Opcode: memd.CmdSASLListMechs}
	listResp, err := s.roundTrip(ctx, listReq)
	if err != nil {
		return cberr.Wrap(cberr.KindAuthFailure, err, "SASL_LIST_MECHS")
	}
	mechs := sasl.ParseMechList(listResp.Value)
	mech, err := sasl.Select(mechs, s.opts.TLS)
	if err != nil {
		return err
	}

	if mech == sasl.MechPlain {
		authReq := &memd.Packet{
			Magic:  memd.MagicReq,
			Opcode: memd.CmdSASLAuth,
			Key:    []byte(mech),
			Value:  sasl.PlainPayload(s.opts.Username, s.opts.Password),
		}
		_, err := s.roundTrip(ctx, authReq)
		if err != nil {
			return cberr.Wrap(cberr.KindAuthFailure, err, "SASL PLAIN")
		}
		return nil
	}

	client, err := sasl.NewScramClient(mech, s.opts.Username, s.opts.Password)
	if err != nil {
		return err
	}
	authReq := &memd.Packet{
		Magic:  memd.MagicReq,
		Opcode: memd.CmdSASLAuth,
		Key:    []byte(mech),
		Value:  client.Step1(),
	}
	serverFirst, err := s.roundTrip(ctx, authReq)
	if err != nil {
		return cberr.Wrap(cberr.KindAuthFailure, err, "SASL_AUTH")
	}
	clientFinal, err := client.Step2(serverFirst.Value)
	if err != nil {
		return err
	}
	stepReq := &memd.Packet{
		Magic:  memd.MagicReq,
		Opcode: memd.CmdSASLStep,
		Key:    []byte(mech),
		Value:  clientFinal,
	}
	serverFinal, err := s.roundTrip(ctx, stepReq)
	if err != nil {
		return cberr.Wrap(cberr.KindAuthFailure, err, "SASL_STEP")
	}
	return client.Verify(serverFinal.Value)
}

func (s *Session) selectBucket(ctx context.Context) error {
	req := &memd.Packet{
		Magic:  memd.MagicReq,
		Opcode: memd.CmdSelectBucket,
		Key:    []byte(s.opts.Bucket),
	}
	_, err := s.roundTrip(ctx, req)
	if err != nil {
		if kind, ok := cberr.KindOf(err); ok && kind == cberr.KindAccessDenied {
			return err
		}
		return cberr.Wrap(cberr.KindBucketNotFound, err, "SELECT_BUCKET")
	}
	return nil
}

func (s *Session) fetchManifest(ctx context.Context) error {
	req := &memd.Packet{Magic: memd.MagicReq, Opcode: memd.CmdGetCollectionsManifest}
	resp, err := s.roundTrip(ctx, req)
	if err != nil {
		// Collections not supported by this bucket/server: not fatal,
		// the manifest simply stays at its _default-only seed state.
		return nil
	}
	return s.opts.Manifest.Refresh(resp.Value)
}
