package cbconfig

import "testing"

func TestKeyPartitionKnownValue(t *testing.T) {
	// crc32(IEEE) of "airline_10" is 0x0d694ea7; libhashkit's hash_crc32
	// folds that to (crc>>16)&0x7fff = 0x0d69 = 3433, and 3433 % 1024 = 361.
	got := KeyPartition([]byte("airline_10"), 1024)
	if got != 361 {
		t.Fatalf("partition = %d, want %d", got, 361)
	}
}

func TestShouldReplaceMonotonicRevision(t *testing.T) {
	cur := &Configuration{Bucket: "travel-sample", Rev: 5, HasRev: true}
	older := &Configuration{Bucket: "travel-sample", Rev: 4, HasRev: true}
	same := &Configuration{Bucket: "travel-sample", Rev: 5, HasRev: true}
	newer := &Configuration{Bucket: "travel-sample", Rev: 6, HasRev: true}

	if ShouldReplace(cur, older) {
		t.Fatalf("older revision must not replace current")
	}
	if ShouldReplace(cur, same) {
		t.Fatalf("equal revision must not replace current")
	}
	if !ShouldReplace(cur, newer) {
		t.Fatalf("strictly newer revision must replace current")
	}
	if !ShouldReplace(nil, newer) {
		t.Fatalf("first configuration must always be adopted")
	}
}

func TestShouldReplaceRejectsUnrelatedBucket(t *testing.T) {
	cur := &Configuration{Bucket: "travel-sample", UUID: "aaa", Rev: 1, HasRev: true}
	other := &Configuration{Bucket: "beer-sample", UUID: "bbb", Rev: 99, HasRev: true}
	if ShouldReplace(cur, other) {
		t.Fatalf("a different bucket's config must never replace current")
	}
}

func TestOwnerTryReplaceCarriesNetworkForward(t *testing.T) {
	o := NewOwner()
	first := &Configuration{Bucket: "travel-sample", Rev: 1, HasRev: true, Network: "external"}
	if !o.TryReplace(first) {
		t.Fatalf("first config should be adopted")
	}
	second := &Configuration{Bucket: "travel-sample", Rev: 2, HasRev: true}
	if !o.TryReplace(second) {
		t.Fatalf("newer revision should be adopted")
	}
	if o.Get().Network != "external" {
		t.Fatalf("network = %q, want it carried forward from the first snapshot", o.Get().Network)
	}
}

func TestOwnerNotifiesListeners(t *testing.T) {
	o := NewOwner()
	var calls int
	var lastOld, lastNew *Configuration
	o.Reg(func(old, next *Configuration) {
		calls++
		lastOld, lastNew = old, next
	})
	c := &Configuration{Bucket: "travel-sample", Rev: 1, HasRev: true}
	o.Put(c)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if lastOld != nil {
		t.Fatalf("expected nil old config on first publish")
	}
	if lastNew != c {
		t.Fatalf("listener did not receive the published config")
	}
}

func TestParseNodesExtBasic(t *testing.T) {
	doc := []byte(`{
		"rev": 12,
		"name": "travel-sample",
		"uuid": "cafef00d",
		"nodeLocator": "vbucket",
		"nodesExt": [
			{"hostname": "10.0.0.1", "thisNode": true, "services": {"kv": 11210, "mgmt": 8091, "n1ql": 8093}},
			{"hostname": "10.0.0.2", "services": {"kv": 11210, "mgmt": 8091}}
		],
		"vBucketServerMap": {
			"numReplicas": 1,
			"serverList": ["10.0.0.1:11210", "10.0.0.2:11210"],
			"vBucketMap": [[0, 1], [1, 0]]
		},
		"bucketCapabilities": ["collections", "durableWrite"],
		"clusterCapabilities": {"n1ql": ["enhancedPreparedStatements"]}
	}`)

	c, err := Parse(doc, "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Bucket != "travel-sample" || c.Rev != 12 || !c.HasRev {
		t.Fatalf("bucket/rev not parsed: %+v", c)
	}
	if c.Locator != LocatorVBucket {
		t.Fatalf("locator = %q", c.Locator)
	}
	if len(c.Nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(c.Nodes))
	}
	if c.ThisNode() == nil || c.ThisNode().Hostname != "10.0.0.1" {
		t.Fatalf("this_node not resolved correctly")
	}
	if !c.SupportsCollections() || !c.SupportsDurableWrites() || !c.SupportsEnhancedPreparedStatements() {
		t.Fatalf("capabilities not parsed: %+v %+v", c.BucketCapabilities, c.ClusterCapabilities)
	}

	node, partition, err := c.Owner([]byte("airline_10"))
	if err != nil {
		t.Fatalf("Owner: %v", err)
	}
	if partition < 0 || partition >= len(c.VBMap) {
		t.Fatalf("partition %d out of range", partition)
	}
	if node == nil {
		t.Fatalf("expected a resolved owner node")
	}
}

func TestParseLegacyNodesExtFallback(t *testing.T) {
	doc := []byte(`{
		"rev": 1,
		"name": "default",
		"vBucketServerMap": {
			"numReplicas": 0,
			"serverList": ["192.168.1.10:11210"],
			"vBucketMap": [[0]]
		},
		"nodes": [
			{"hostname": "192.168.1.10", "thisNode": true, "ports": {"direct": 11210}, "couchApiBase": "http://192.168.1.10:8092/default"}
		]
	}`)
	c, err := Parse(doc, "")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(c.Nodes) != 1 {
		t.Fatalf("nodes = %d, want 1", len(c.Nodes))
	}
	n := c.Nodes[0]
	if n.Hostname != "192.168.1.10" {
		t.Fatalf("hostname = %q", n.Hostname)
	}
	if !n.IsThisNode {
		t.Fatalf("expected legacy node to carry this_node through")
	}
	if n.ServicesPlain[ServiceKV] != 11210 {
		t.Fatalf("kv port = %d", n.ServicesPlain[ServiceKV])
	}
	if n.ServicesPlain[ServiceViews] != 8092 {
		t.Fatalf("views port synthesized from couchApiBase = %d, want 8092", n.ServicesPlain[ServiceViews])
	}
}

func TestParseRejectsOutOfRangeVBucketIndex(t *testing.T) {
	doc := []byte(`{
		"rev": 1,
		"name": "default",
		"nodesExt": [{"hostname": "10.0.0.1", "services": {"kv": 11210}}],
		"vBucketServerMap": {"numReplicas": 0, "serverList": [], "vBucketMap": [[5]]}
	}`)
	if _, err := Parse(doc, ""); err == nil {
		t.Fatalf("expected an error for an out-of-range vbucket map index")
	}
}
