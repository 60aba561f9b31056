package memd

// Magic identifies whether a frame is a request, a response, or a
// server-initiated push, and whether it uses flexible framing
// (spec.md §4.1, byte 0).
type Magic uint8

const (
	MagicReq       Magic = 0x80
	MagicRes       Magic = 0x81
	MagicServerReq Magic = 0x82
	MagicAltReq    Magic = 0x08 // flexible framing, request
	MagicAltRes    Magic = 0x18 // flexible framing, response
)

func (m Magic) IsFlexible() bool { return m == MagicAltReq || m == MagicAltRes }
func (m Magic) IsResponse() bool { return m == MagicRes || m == MagicAltRes }

// DataType is the bitset in header byte 5.
type DataType uint8

const (
	DataTypeRaw    DataType = 0x00
	DataTypeJSON   DataType = 0x01
	DataTypeSnappy DataType = 0x02
	DataTypeXattr  DataType = 0x04
)

func (d DataType) Has(bit DataType) bool { return d&bit == bit }

// HeaderSize is the fixed portion of every KV frame (spec.md §4.1).
const HeaderSize = 24

// Header is the parsed 24-byte frame header. Bytes 6-7 mean "partition
// id" on a request and "status" on a response; Header exposes both and
// the caller picks based on Magic.
type Header struct {
	Magic         Magic
	Opcode        CmdCode
	KeyLen        uint16
	ExtrasLen     uint8
	FramingLen    uint8 // only meaningful when Magic.IsFlexible()
	DataType      DataType
	VBucket       uint16     // request interpretation of bytes 6-7
	Status        StatusCode // response interpretation of bytes 6-7
	TotalBodyLen  uint32
	Opaque        uint32
	CAS           uint64
}

// bodyLen returns extras+key+value length, i.e. TotalBodyLen minus
// whatever framing-extras precede extras on flexible frames.
func (h Header) bodyLen() uint32 {
	return h.TotalBodyLen - uint32(h.FramingLen)
}

// valueLen is the value-only length once extras, framing-extras, and key
// are subtracted from the body.
func (h Header) valueLen() uint32 {
	return h.bodyLen() - uint32(h.ExtrasLen) - uint32(h.KeyLen)
}
