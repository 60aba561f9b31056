package ccm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchbaselabs/gocbcluster/cbconfig"
	"github.com/couchbaselabs/gocbcluster/kvsession"
	"github.com/couchbaselabs/gocbcluster/memd"
)

type fakeKVSource struct {
	body  []byte
	calls atomic.Int32
	fail  bool
}

func (f *fakeKVSource) Send(p *memd.Packet, deadline time.Time, cb kvsession.Callback) error {
	f.calls.Add(1)
	// Hold the response back briefly so concurrent callers of PollOnce
	// are guaranteed to overlap and collapse onto this one call instead
	// of racing to see an empty singleflight slot each time.
	time.Sleep(50 * time.Millisecond)
	if f.fail {
		cb(nil, assertErr{})
		return nil
	}
	cb(&memd.Response{Opcode: p.Opcode, Value: f.body}, nil)
	return nil
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func testConfigDoc(rev uint64) []byte {
	return []byte(`{"rev":` + itoa(rev) + `,"name":"travel-sample","nodesExt":[{"hostname":"10.0.0.1","thisNode":true,"services":{"kv":11210,"mgmt":8091}}],"vBucketServerMap":{"numReplicas":0,"serverList":["10.0.0.1:11210"],"vBucketMap":[[0]]}}`)
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	digits := []byte{}
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	return string(digits)
}

func TestPollOnceAdoptsFirstConfiguration(t *testing.T) {
	owner := cbconfig.NewOwner()
	src := &fakeKVSource{body: testConfigDoc(1)}
	m := New(Options{
		Owner:      owner,
		Bucket:     "travel-sample",
		KVSessions: func() []KVSource { return []KVSource{src} },
		PollInterval: time.Hour, // disable the background ticker during the test
	})
	defer m.Stop()

	m.PollOnce(context.Background())
	if owner.Get() == nil {
		t.Fatalf("expected a configuration to be adopted")
	}
	if owner.Get().Rev != 1 {
		t.Fatalf("rev = %d, want 1", owner.Get().Rev)
	}
}

func TestPollOnceDebouncesConcurrentCalls(t *testing.T) {
	owner := cbconfig.NewOwner()
	src := &fakeKVSource{body: testConfigDoc(1)}
	m := New(Options{
		Owner:        owner,
		Bucket:       "travel-sample",
		KVSessions:   func() []KVSource { return []KVSource{src} },
		PollInterval: time.Hour,
	})
	defer m.Stop()

	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		go func() {
			m.PollOnce(context.Background())
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	if src.calls.Load() != 1 {
		t.Fatalf("expected singleflight to collapse 5 concurrent polls into 1 acquire, got %d calls", src.calls.Load())
	}
}

func TestHandleConfigPayloadAdoptsNewerRevision(t *testing.T) {
	owner := cbconfig.NewOwner()
	m := New(Options{
		Owner:        owner,
		Bucket:       "travel-sample",
		KVSessions:   func() []KVSource { return nil },
		PollInterval: time.Hour,
	})
	defer m.Stop()

	m.HandleConfigPayload(testConfigDoc(1), "travel-sample")
	m.HandleConfigPayload(testConfigDoc(2), "travel-sample")
	if owner.Get().Rev != 2 {
		t.Fatalf("rev = %d, want 2", owner.Get().Rev)
	}

	m.HandleConfigPayload(testConfigDoc(1), "travel-sample")
	if owner.Get().Rev != 2 {
		t.Fatalf("an older revision must not replace a newer one, rev = %d", owner.Get().Rev)
	}
}

func TestHandleConfigPayloadIgnoresOtherBuckets(t *testing.T) {
	owner := cbconfig.NewOwner()
	m := New(Options{
		Owner:        owner,
		Bucket:       "travel-sample",
		KVSessions:   func() []KVSource { return nil },
		PollInterval: time.Hour,
	})
	defer m.Stop()

	m.HandleConfigPayload(testConfigDoc(1), "beer-sample")
	if owner.Get() != nil {
		t.Fatalf("expected a payload for a different bucket to be ignored")
	}
}
