package cbconfig

import "hash/crc32"

// keyPartitionTable is the IEEE polynomial CRC-32 table, which is the
// memcached/libhashkit default hash used to map a key to a vbucket
// (spec.md §4.2). This is the one place in the module that reaches for
// the standard library over a pack dependency: the spec names an exact,
// fixed polynomial, so there is nothing for a third-party hashing
// library to add — see DESIGN.md.
var keyPartitionTable = crc32.MakeTable(crc32.IEEE)

// KeyPartition computes the vbucket/partition id for key against a
// vbucket map of size n (spec.md §4.2). libhashkit's crc32 hash folds
// the raw IEEE checksum before reducing mod n — the high 16 bits,
// masked to 15 bits — rather than using the full 32-bit checksum
// directly; matches original_source/ext/couchbase/configuration.hxx's
// utils::hash_crc32.
func KeyPartition(key []byte, n int) int {
	if n <= 0 {
		return 0
	}
	sum := crc32.Checksum(key, keyPartitionTable)
	return int((sum>>16)&0x7fff) % n
}

// ErrNoOwner is returned by Owner/Replica when the vbucket map marks the
// partition as having no owner (-1, spec.md §4.2); the caller (router)
// is expected to refresh topology once before giving up.
type ErrNoOwner struct{ Partition int }

func (e *ErrNoOwner) Error() string { return "no owner for vbucket" }

// Owner resolves the active node for key under this configuration.
// Returns the partition id alongside the node so callers (e.g. a
// mutation token) don't need to recompute it.
func (c *Configuration) Owner(key []byte) (node *Node, partition int, err error) {
	if len(c.VBMap) == 0 {
		return nil, 0, &ErrNoOwner{}
	}
	partition = KeyPartition(key, len(c.VBMap))
	return c.nodeAt(partition, 0)
}

// Replica resolves replica index i (0-based, i.e. i=0 is the first
// replica, distinct from the active owner at index 0 of the vbucket-map
// row) for key.
func (c *Configuration) Replica(key []byte, i int) (node *Node, partition int, err error) {
	if len(c.VBMap) == 0 {
		return nil, 0, &ErrNoOwner{}
	}
	partition = KeyPartition(key, len(c.VBMap))
	return c.nodeAt(partition, i+1)
}

func (c *Configuration) nodeAt(partition, slot int) (*Node, int, error) {
	if partition < 0 || partition >= len(c.VBMap) {
		return nil, partition, &ErrNoOwner{Partition: partition}
	}
	row := c.VBMap[partition]
	if slot >= len(row) {
		return nil, partition, &ErrNoOwner{Partition: partition}
	}
	idx := row[slot]
	if idx < 0 {
		return nil, partition, &ErrNoOwner{Partition: partition}
	}
	if idx >= len(c.Nodes) {
		// Invariant violation (spec.md §3): every non-negative index
		// must be a valid Nodes index. A malformed config document
		// should never reach this far, but fail soft rather than
		// index out of range.
		return nil, partition, &ErrNoOwner{Partition: partition}
	}
	return c.Nodes[idx], partition, nil
}
