package memd

import (
	"encoding/binary"
)

// NeedMore is returned by Decode when buf doesn't yet hold a full frame;
// Want is the total byte count the caller should wait for before calling
// Decode again (spec.md §4.1 decoding contract).
type NeedMore struct{ Want int }

func (n *NeedMore) Error() string { return "need more bytes" }

// Decode consumes at most one message from buf. On success it returns
// the parsed Response and the number of bytes consumed; Key/Value/Extras
// slices reference buf directly (no copy) — callers that retain buf
// across Decode calls must copy out anything they need to keep once the
// backing array is reused.
func Decode(buf []byte) (*Response, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, &NeedMore{Want: HeaderSize}
	}
	magic := Magic(buf[0])
	keyLen := int(binary.BigEndian.Uint16(buf[2:4]))

	var framingLen, extrasLen int
	if magic.IsFlexible() {
		framingLen = int(buf[4] >> 4)
		extrasLen = int(buf[4] & 0x0f)
	} else {
		extrasLen = int(buf[4])
	}

	bodyLen := int(binary.BigEndian.Uint32(buf[8:12]))
	total := HeaderSize + bodyLen
	if len(buf) < total {
		return nil, 0, &NeedMore{Want: total}
	}

	valueLen := bodyLen - framingLen - extrasLen - keyLen
	if valueLen < 0 {
		return nil, 0, errInvalidArg("body length shorter than framing+extras+key")
	}

	r := &Response{
		Magic:    magic,
		Opcode:   CmdCode(buf[1]),
		DataType: DataType(buf[5]),
		Opaque:   binary.BigEndian.Uint32(buf[12:16]),
		CAS:      binary.BigEndian.Uint64(buf[16:24]),
	}
	if magic.IsResponse() || magic == MagicServerReq {
		r.Status = StatusCode(binary.BigEndian.Uint16(buf[6:8]))
	}

	off := HeaderSize
	if framingLen > 0 {
		parseResponseFraming(r, buf[off:off+framingLen])
		off += framingLen
	}
	if extrasLen > 0 {
		r.Extras = buf[off : off+extrasLen]
		off += extrasLen
	}
	if keyLen > 0 {
		r.Key = buf[off : off+keyLen]
		off += keyLen
	}
	if valueLen > 0 {
		r.Value = buf[off : off+valueLen]
		off += valueLen
	}

	if r.Status == StatusNotMyVBucket && len(r.Value) > 0 {
		r.ConfigPayload = r.Value
	}
	return r, total, nil
}

// parseResponseFraming walks the TLV framing-extras section of a
// response looking for a server-duration frame (id 0 on responses).
func parseResponseFraming(r *Response, framing []byte) {
	i := 0
	for i < len(framing) {
		hdr := framing[i]
		id := FrameID(hdr >> 4)
		l := int(hdr & 0x0f)
		i++
		if i+l > len(framing) {
			return
		}
		payload := framing[i : i+l]
		if id == FrameIDResServerDuration {
			if enc, ok := decodeServerDuration(payload); ok {
				r.ServerDurationEncoded = enc
				r.HasServerDuration = true
			}
		}
		i += l
	}
}
