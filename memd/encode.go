package memd

import (
	"encoding/binary"

	"github.com/couchbaselabs/gocbcluster/internal/debug"
)

// Encode serializes p into a single contiguous buffer: 24-byte header,
// optional framing-extras, extras, key, value (spec.md §4.1). The value
// is appended via append against a buffer pre-sized for everything
// else, so for large values this performs exactly one copy of Value
// into the output — the codec never double-copies it.
//
// Header layout (spec.md §4.1): bytes 2-3 are always key length; byte 4
// is normally extras length, but on a flexible-framing magic
// (MagicAltReq/MagicAltRes) it packs framing-extras length in its high
// nibble and extras length in its low nibble (both 0-15; longer framing
// sections aren't needed by any frame kind this codec emits).
func Encode(p *Packet) ([]byte, error) {
	magic := p.Magic
	if magic == 0 {
		magic = MagicReq
	}
	var framing []byte
	if p.Durability != nil {
		framing = encodeDurabilityFrame(p.Durability.Level, p.Durability.TimeoutMs)
		magic = MagicAltReq
	}

	value := p.Value
	dataType := p.DataType
	if p.Compress && len(value) > 0 {
		value = CompressValue(value)
		dataType |= DataTypeSnappy
	}

	framingLen := len(framing)
	extrasLen := len(p.Extras)
	keyLen := len(p.Key)
	valueLen := len(value)

	if magic == MagicAltReq || magic == MagicAltRes {
		if framingLen > 15 || extrasLen > 15 {
			return nil, errTooLarge("framing/extras (flexible nibble limit is 15 bytes each)")
		}
	} else if framingLen != 0 {
		return nil, errInvalidArg("durability requires flexible framing")
	}
	if keyLen > 0xffff {
		return nil, errTooLarge("key")
	}

	bodyLen := framingLen + extrasLen + keyLen + valueLen
	buf := make([]byte, HeaderSize+framingLen+extrasLen+keyLen, HeaderSize+bodyLen)

	buf[0] = byte(magic)
	buf[1] = byte(p.Opcode)
	binary.BigEndian.PutUint16(buf[2:4], uint16(keyLen))
	if magic == MagicAltReq || magic == MagicAltRes {
		buf[4] = byte(framingLen)<<4 | byte(extrasLen)
	} else {
		buf[4] = byte(extrasLen)
	}
	buf[5] = byte(dataType)
	binary.BigEndian.PutUint16(buf[6:8], p.VBucket)
	binary.BigEndian.PutUint32(buf[8:12], uint32(bodyLen))
	binary.BigEndian.PutUint32(buf[12:16], p.Opaque)
	binary.BigEndian.PutUint64(buf[16:24], p.CAS)

	off := HeaderSize
	if framingLen > 0 {
		copy(buf[off:off+framingLen], framing)
		off += framingLen
	}
	if extrasLen > 0 {
		copy(buf[off:off+extrasLen], p.Extras)
		off += extrasLen
	}
	if keyLen > 0 {
		copy(buf[off:off+keyLen], p.Key)
		off += keyLen
	}
	debug.Assertf(off == len(buf), "encode offset mismatch: off=%d len=%d", off, len(buf))

	if valueLen > 0 {
		buf = append(buf, value...)
	}
	return buf, nil
}

type codecError struct{ kind, msg string }

func (e *codecError) Error() string { return e.kind + ": " + e.msg }

func errTooLarge(what string) error  { return &codecError{"encoding_failure", what + " exceeds wire limit"} }
func errInvalidArg(msg string) error { return &codecError{"invalid_argument", msg} }
