package memd

import "encoding/binary"

// SubDocFlags are per-spec flags on an individual subdoc spec entry.
type SubDocFlags uint8

const (
	SubDocFlagXattr     SubDocFlags = 0x04
	SubDocFlagExpandMacros SubDocFlags = 0x10
)

// SubDocSpec is one operation within a multi-lookup/multi-mutation
// command: { 1-byte opcode, 1-byte flags, 2-byte path length, 4-byte
// value length, path bytes, value bytes } (spec.md §6).
type SubDocSpec struct {
	Opcode CmdCode
	Flags  SubDocFlags
	Path   string
	Value  []byte
}

// EncodeSubDocSpecs serializes a list of subdoc specs into the value
// section of a CmdSubDocMultiLookup/CmdSubDocMultiMutation packet.
func EncodeSubDocSpecs(specs []SubDocSpec) []byte {
	size := 0
	for _, s := range specs {
		size += 1 + 1 + 2 + 4 + len(s.Path) + len(s.Value)
	}
	buf := make([]byte, 0, size)
	for _, s := range specs {
		var hdr [8]byte
		hdr[0] = byte(s.Opcode)
		hdr[1] = byte(s.Flags)
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(s.Path)))
		binary.BigEndian.PutUint32(hdr[4:8], uint32(len(s.Value)))
		buf = append(buf, hdr[:]...)
		buf = append(buf, s.Path...)
		buf = append(buf, s.Value...)
	}
	return buf
}

// DecodeSubDocSpecs is the inverse of EncodeSubDocSpecs, used by tests
// and by anything that needs to inspect a previously-built multi
// command.
func DecodeSubDocSpecs(buf []byte) ([]SubDocSpec, error) {
	var specs []SubDocSpec
	for len(buf) > 0 {
		if len(buf) < 8 {
			return nil, errInvalidArg("truncated subdoc spec header")
		}
		op := CmdCode(buf[0])
		flags := SubDocFlags(buf[1])
		pathLen := int(binary.BigEndian.Uint16(buf[2:4]))
		valLen := int(binary.BigEndian.Uint32(buf[4:8]))
		buf = buf[8:]
		if len(buf) < pathLen+valLen {
			return nil, errInvalidArg("truncated subdoc spec body")
		}
		path := string(buf[:pathLen])
		val := buf[pathLen : pathLen+valLen]
		buf = buf[pathLen+valLen:]
		specs = append(specs, SubDocSpec{Opcode: op, Flags: flags, Path: path, Value: val})
	}
	return specs, nil
}

// SubDocMultiMutationResult is one result entry from a multi-mutation
// reply: status plus, for counter-like ops, the resulting value.
type SubDocMultiMutationResult struct {
	Index  uint8
	Status StatusCode
	Value  []byte
}

// DecodeSubDocMultiMutationResults parses a CmdSubDocMultiMutation
// response value on partial failure (status SubDocMultiPathFailure is
// not modeled as a distinct status here; servers report per-spec status
// only for the first failing spec on a single overall failure status).
func DecodeSubDocMultiMutationResults(buf []byte) ([]SubDocMultiMutationResult, error) {
	var results []SubDocMultiMutationResult
	for len(buf) > 0 {
		if len(buf) < 3 {
			return nil, errInvalidArg("truncated multi-mutation result")
		}
		idx := buf[0]
		status := StatusCode(binary.BigEndian.Uint16(buf[1:3]))
		buf = buf[3:]
		var val []byte
		if status == StatusSuccess {
			if len(buf) < 4 {
				return nil, errInvalidArg("truncated multi-mutation value length")
			}
			l := int(binary.BigEndian.Uint32(buf[:4]))
			buf = buf[4:]
			if len(buf) < l {
				return nil, errInvalidArg("truncated multi-mutation value")
			}
			val = buf[:l]
			buf = buf[l:]
		}
		results = append(results, SubDocMultiMutationResult{Index: idx, Status: status, Value: val})
	}
	return results, nil
}
