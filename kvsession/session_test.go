package kvsession

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/couchbaselabs/gocbcluster/collections"
	"github.com/couchbaselabs/gocbcluster/memd"
	"github.com/couchbaselabs/gocbcluster/sasl"
)

func newTestManifest() (*collections.Manifest, error) {
	return collections.New()
}

// fakeNode emulates just enough of a Couchbase node's open sequence
// (HELLO, SASL PLAIN, SELECT_BUCKET) to exercise Dial without a real
// server.
func fakeNode(t *testing.T, bucket string) (addr string, done chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done = make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()

		buf := make([]byte, 0, 4096)
		tmp := make([]byte, 4096)
		readFrame := func() *memd.Response {
			for {
				resp, n, err := memd.Decode(buf)
				if err == nil {
					buf = buf[n:]
					return resp
				}
				nr, rerr := conn.Read(tmp)
				if rerr != nil {
					return nil
				}
				buf = append(buf, tmp[:nr]...)
			}
		}
		writeResp := func(opcode memd.CmdCode, opaque uint32, status memd.StatusCode, value []byte) {
			resp := &memd.Response{
				Magic:  memd.MagicRes,
				Opcode: opcode,
				Status: status,
				Opaque: opaque,
				Value:  value,
			}
			conn.Write(encodeFakeResponse(resp))
		}

		// HELLO
		req := readFrame()
		if req == nil {
			return
		}
		writeResp(req.Opcode, req.Opaque, memd.StatusSuccess, memd.EncodeHelloFeatures(memd.DefaultRequestedFeatures))

		// SASL_LIST_MECHS
		req = readFrame()
		if req == nil {
			return
		}
		writeResp(req.Opcode, req.Opaque, memd.StatusSuccess, []byte("PLAIN"))

		// SASL_AUTH (PLAIN, single round trip success)
		req = readFrame()
		if req == nil {
			return
		}
		writeResp(req.Opcode, req.Opaque, memd.StatusSuccess, nil)

		if bucket != "" {
			req = readFrame()
			if req == nil {
				return
			}
			writeResp(req.Opcode, req.Opaque, memd.StatusSuccess, nil)

			// GET_COLLECTIONS_MANIFEST
			req = readFrame()
			if req == nil {
				return
			}
			manifest := []byte(`{"uid":"0","scopes":[{"name":"_default","uid":"0","collections":[{"name":"_default","uid":"0"}]}]}`)
			writeResp(req.Opcode, req.Opaque, memd.StatusSuccess, manifest)
		}

		// keep the connection open until the test closes it
		for {
			if req := readFrame(); req == nil {
				return
			}
		}
	}()
	return ln.Addr().String(), done
}

func encodeFakeResponse(r *memd.Response) []byte {
	keyLen := len(r.Key)
	extrasLen := len(r.Extras)
	valueLen := len(r.Value)
	bodyLen := extrasLen + keyLen + valueLen
	buf := make([]byte, 24, 24+bodyLen)
	buf[0] = byte(r.Magic)
	buf[1] = byte(r.Opcode)
	buf[2] = byte(keyLen >> 8)
	buf[3] = byte(keyLen)
	buf[4] = byte(extrasLen)
	buf[5] = byte(r.DataType)
	buf[6] = byte(r.Status >> 8)
	buf[7] = byte(r.Status)
	buf[8] = byte(bodyLen >> 24)
	buf[9] = byte(bodyLen >> 16)
	buf[10] = byte(bodyLen >> 8)
	buf[11] = byte(bodyLen)
	buf[12] = byte(r.Opaque >> 24)
	buf[13] = byte(r.Opaque >> 16)
	buf[14] = byte(r.Opaque >> 8)
	buf[15] = byte(r.Opaque)
	for i := 0; i < 8; i++ {
		buf[23-i] = byte(r.CAS >> (8 * i))
	}
	buf = append(buf, r.Extras...)
	buf = append(buf, r.Key...)
	buf = append(buf, r.Value...)
	return buf
}

func TestDialOpenSequenceClusterScoped(t *testing.T) {
	addr, done := fakeNode(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := Dial(ctx, Options{Address: addr, Username: "Administrator", Password: "password"})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()
	if s.State() != StateReady {
		t.Fatalf("state = %v, want StateReady", s.State())
	}
	_ = done
}

func TestDialOpenSequenceWithBucketAndManifest(t *testing.T) {
	manifest, err := newTestManifest()
	if err != nil {
		t.Fatalf("newTestManifest: %v", err)
	}
	defer manifest.Close()

	addr, done := fakeNode(t, "travel-sample")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	s, err := Dial(ctx, Options{
		Address:  addr,
		Username: "Administrator",
		Password: "password",
		Bucket:   "travel-sample",
		Manifest: manifest,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer s.Close()
	if id, ok := manifest.Lookup("_default", "_default"); !ok || id != 0 {
		t.Fatalf("manifest not refreshed: id=%d ok=%v", id, ok)
	}
	_ = done
}

func TestSASLSelectPrefersPlainWhenOnlyOption(t *testing.T) {
	mech, err := sasl.Select(sasl.ParseMechList([]byte("PLAIN")), true)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if mech != sasl.MechPlain {
		t.Fatalf("mech = %q", mech)
	}
}
