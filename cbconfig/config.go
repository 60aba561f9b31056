package cbconfig

import (
	"github.com/google/uuid"
)

// NodeLocator selects the routing strategy a bucket uses (spec.md §3).
type NodeLocator string

const (
	LocatorVBucket NodeLocator = "vbucket"
	LocatorKetama  NodeLocator = "ketama"
	LocatorUnknown NodeLocator = "unknown"
)

// Capability is a named cluster or bucket feature flag (spec.md §3).
type Capability string

const (
	CapCollections                      Capability = "collections"
	CapDurableWrite                     Capability = "durableWrite"
	CapXattr                            Capability = "xattr"
	CapN1QLEnhancedPreparedStatements   Capability = "enhancedPreparedStatements"
	CapCreateAsDeleted                  Capability = "createAsDeleted"
	CapRangeScan                        Capability = "rangeScan"
)

// CapabilitySet is a small set of Capability; membership tests only.
type CapabilitySet map[Capability]struct{}

func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// VBucketMap is indexed by partition id; entry[0] is the active owner's
// node index, entries[1:] are replicas in order. -1 means "no owner"
// (spec.md §3, §4.2).
type VBucketMap [][]int

// Configuration is an immutable cluster-topology snapshot (spec.md §3).
// Once published it is never mutated; cbconfig.Owner replaces it with a
// new *Configuration via atomic pointer swap (owner.go).
type Configuration struct {
	ID     string // random UUID per snapshot, for logging (spec.md §3)
	Rev    uint64
	HasRev bool
	Bucket string // optional: bucket this config applies to
	UUID   string // optional bucket uuid

	Nodes []*Node

	Locator     NodeLocator
	NumReplicas int
	HasReplicas bool

	VBMap VBucketMap // nil if this config doesn't carry a bucket map

	BucketCapabilities  CapabilitySet
	ClusterCapabilities CapabilitySet

	// Network is fixed at cluster-open time (spec.md §4.2 Network
	// selection: "it never changes mid-session") and copied onto every
	// config this cluster session adopts afterward, since the decision
	// is per-session, not per-document.
	Network string
}

// NewID mints the per-snapshot UUID used for logging/debugging; broken
// out as a function (not inlined at every call site) because tests
// construct Configurations without going through the JSON parser.
func NewID() string { return uuid.NewString() }

// ThisNode returns the node the server marked as "this node", if any
// (spec.md §3 invariant: at most one entry has the bit set).
func (c *Configuration) ThisNode() *Node {
	for _, n := range c.Nodes {
		if n.IsThisNode {
			return n
		}
	}
	return nil
}

// SelectNetwork determines which alternate-address network name the
// current cluster session should use, by matching bootstrapHost (the
// host the caller dialed) against the node marked this_node (spec.md
// §4.2 Network selection, Open Question 1). fallback reports whether
// no match was found and the "default" network was used instead — the
// case a missing/ambiguous this_node leaves unresolved.
func SelectNetwork(c *Configuration, bootstrapHost string) (network string, fallback bool) {
	tn := c.ThisNode()
	if tn == nil {
		return "default", true
	}
	if tn.Hostname == bootstrapHost {
		return "default", false
	}
	for name, alt := range tn.Alternate {
		if alt.Hostname == bootstrapHost {
			return name, false
		}
	}
	return "default", true
}

// NodesOffering returns every node that exposes svc under the given TLS
// mode, in Configuration.Nodes order (used by the router for round-robin
// HTTP node selection, spec.md §4.6).
func (c *Configuration) NodesOffering(svc Service, tls bool) []*Node {
	var out []*Node
	for _, n := range c.Nodes {
		ports := n.ServicesPlain
		if tls {
			ports = n.ServicesTLS
		}
		if _, ok := ports[svc]; ok {
			out = append(out, n)
		}
	}
	return out
}

// SupportsCollections, SupportsDurableWrites, SupportsEnhancedPreparedStatements
// are simple set-membership capability tests (spec.md §4.2).
func (c *Configuration) SupportsCollections() bool {
	return c.BucketCapabilities.Has(CapCollections) || c.ClusterCapabilities.Has(CapCollections)
}

func (c *Configuration) SupportsDurableWrites() bool {
	return c.BucketCapabilities.Has(CapDurableWrite)
}

func (c *Configuration) SupportsEnhancedPreparedStatements() bool {
	return c.ClusterCapabilities.Has(CapN1QLEnhancedPreparedStatements)
}

// ShouldReplace implements the merge/replace policy from spec.md §4.2:
// a new configuration replaces the current one iff they describe the
// same bucket identity and the new revision strictly advances the
// current one (or the current one has no revision at all). Equal
// revisions are dropped silently.
func ShouldReplace(current, next *Configuration) bool {
	if current == nil {
		return true
	}
	if current.Bucket != next.Bucket || (current.UUID != "" && next.UUID != "" && current.UUID != next.UUID) {
		// Different bucket identity: only a real identity match may
		// replace; an unrelated bucket's config is simply not ours.
		return false
	}
	if !next.HasRev {
		// A config with no revision can't be compared; only ever
		// accept it as the very first snapshot.
		return false
	}
	if !current.HasRev {
		return true
	}
	return next.Rev > current.Rev
}
