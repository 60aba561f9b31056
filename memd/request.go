package memd

// Packet is a fully-formed KV request ready for encoding. Encode copies
// Value exactly once into its output buffer, so the caller may reuse
// Value's backing array once Encode has returned.
type Packet struct {
	Magic     Magic // MagicReq or MagicAltReq
	Opcode    CmdCode
	VBucket   uint16
	Opaque    uint32
	CAS       uint64
	Extras    []byte
	Key       []byte
	Value     []byte
	DataType  DataType

	// Compress snappy-compresses Value during Encode and sets
	// DataTypeSnappy, instead of requiring the caller to pre-compress
	// (spec.md §4.3's negotiated "snappy" HELLO feature).
	Compress bool

	// Durability, if non-nil, is encoded as a flexible-framing
	// durability frame and forces Magic to MagicAltReq.
	Durability *DurabilityReq
}

// DurabilityReq is the internal, unified durability requirement that
// both the modern DurabilityLevel and the legacy replicate-to/persist-to
// counts collapse into (SPEC_FULL.md "Supplemented features").
type DurabilityReq struct {
	Level     DurabilityLevel
	TimeoutMs uint16
}

// FromLegacy builds a DurabilityReq from the Ruby-extension-era
// replicate-to/persist-to counts (original_source/ext/couchbase_ext/arguments.c).
// persistTo > 0 always implies at least majority-and-persist semantics.
func FromLegacy(replicateTo, persistTo int) *DurabilityReq {
	if replicateTo == 0 && persistTo == 0 {
		return nil
	}
	if persistTo > 0 {
		return &DurabilityReq{Level: DurabilityMajorityAndPersistActive}
	}
	return &DurabilityReq{Level: DurabilityMajority}
}
