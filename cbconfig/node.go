// Package cbconfig models the immutable cluster-topology snapshot
// (spec.md §3 Configuration) and the hash-based vbucket routing
// function (spec.md §4.2). It is grounded in aistore's cluster.Smap /
// cluster.Snode (cluster/map.go): a versioned, widely-shared, read-only
// object replaced by atomic pointer swap rather than mutated in place.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cbconfig

import (
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// Service identifies one of the node-level service kinds a Configuration
// tracks ports for (spec.md §3 Configuration.nodes[].services_plain).
type Service string

const (
	ServiceKV         Service = "kv"
	ServiceMgmt       Service = "mgmt"
	ServiceQuery      Service = "n1ql"
	ServiceSearch     Service = "fts"
	ServiceAnalytics  Service = "cbas"
	ServiceViews      Service = "capi"
)

// Ports maps a Service to the TCP port a node exposes it on, for one of
// the plaintext/TLS network variants.
type Ports map[Service]int

// AlternateAddress is one entry of a node's alternate_addresses map
// (spec.md §3): a different hostname/port set published for deployments
// where the bootstrap hostname differs from the internally-known one
// (e.g. a node behind NAT/a cloud load balancer).
type AlternateAddress struct {
	Hostname     string
	ServicesPlain Ports
	ServicesTLS   Ports
}

// Node is one cluster member (spec.md §3 Configuration.nodes[]).
type Node struct {
	Hostname      string
	IsThisNode    bool
	ServicesPlain Ports
	ServicesTLS   Ports
	Alternate     map[string]AlternateAddress // network name -> address

	digest uint64
}

// Digest returns a cached 64-bit identity hash for the node, used as a
// fast map/set key when building per-node session pools; grounded in
// cluster.Snode.Digest (cluster/map.go:136-142).
func (n *Node) Digest() uint64 {
	if n.digest == 0 {
		n.digest = xxhash.ChecksumString64S(n.Hostname, mlcg32)
	}
	return n.digest
}

// mlcg32 is the same multiplicative-LCG seed constant aistore uses
// (cmn.MLCG32) to decorrelate xxhash outputs from the raw string bytes.
const mlcg32 = 1103515245

// Endpoint returns the host:port endpoint for a service on this node,
// honoring TLS and the network name selected at cluster-open time
// (spec.md §4.2 Network selection). ok is false if the node doesn't
// offer the service at all.
func (n *Node) Endpoint(svc Service, tls bool, network string) (endpoint string, ok bool) {
	if network != "" && network != "default" {
		if alt, found := n.Alternate[network]; found {
			ports := alt.ServicesPlain
			if tls {
				ports = alt.ServicesTLS
			}
			if port, has := ports[svc]; has {
				return fmt.Sprintf("%s:%d", alt.Hostname, port), true
			}
			return "", false
		}
	}
	ports := n.ServicesPlain
	if tls {
		ports = n.ServicesTLS
	}
	port, has := ports[svc]
	if !has {
		return "", false
	}
	return fmt.Sprintf("%s:%d", n.Hostname, port), true
}
