package memd

import (
	"bytes"
	"testing"
)

func TestEncodeSimpleGetHeader(t *testing.T) {
	p := &Packet{
		Opcode:  CmdGet,
		VBucket: 361, // cbconfig.KeyPartition("airline_10", 1024)
		Opaque:  0xdeadbeef,
		Key:     []byte("airline_10"),
	}
	buf, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// A request never round-trips through Decode (Decode only knows the
	// response/server-push header shape for bytes 6-7); exercise the
	// header fields we can check directly instead.
	if Magic(buf[0]) != MagicReq {
		t.Fatalf("magic = %x, want %x", buf[0], MagicReq)
	}
	if CmdCode(buf[1]) != CmdGet {
		t.Fatalf("opcode mismatch")
	}
}

func TestRoundTripResponseWithValue(t *testing.T) {
	resp := &Response{
		Magic:    MagicRes,
		Opcode:   CmdGet,
		Status:   StatusSuccess,
		Opaque:   7,
		CAS:      1234,
		DataType: DataTypeJSON,
		Extras:   []byte{0x02, 0x00, 0x00, 0x06},
		Value:    []byte(`{"x":1}`),
	}
	buf := encodeResponseForTest(resp)
	got, n, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("consumed %d, want %d", n, len(buf))
	}
	if got.Opaque != resp.Opaque || got.CAS != resp.CAS || got.Status != resp.Status {
		t.Fatalf("header mismatch: %+v", got)
	}
	if !bytes.Equal(got.Value, resp.Value) {
		t.Fatalf("value mismatch: got %q want %q", got.Value, resp.Value)
	}
	if !bytes.Equal(got.Extras, resp.Extras) {
		t.Fatalf("extras mismatch")
	}
}

func TestDecodeNeedsMoreBytes(t *testing.T) {
	_, _, err := Decode(make([]byte, 10))
	nm, ok := err.(*NeedMore)
	if !ok {
		t.Fatalf("expected NeedMore, got %v", err)
	}
	if nm.Want != HeaderSize {
		t.Fatalf("want %d, got %d", HeaderSize, nm.Want)
	}
}

func TestDecodeNotMyVBucketCarriesConfig(t *testing.T) {
	cfg := []byte(`{"rev":5}`)
	resp := &Response{
		Magic:  MagicRes,
		Opcode: CmdGet,
		Status: StatusNotMyVBucket,
		Opaque: 99,
		Value:  cfg,
	}
	buf := encodeResponseForTest(resp)
	got, _, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !bytes.Equal(got.ConfigPayload, cfg) {
		t.Fatalf("config payload = %q, want %q", got.ConfigPayload, cfg)
	}
}

func TestFlexibleFramingServerDuration(t *testing.T) {
	resp := &Response{
		Magic:             MagicRes,
		Opcode:            CmdSet,
		Status:            StatusSuccess,
		Opaque:            1,
		HasServerDuration: true,
	}
	buf := encodeResponseForTest(resp)
	got, _, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !got.HasServerDuration {
		t.Fatalf("expected server duration to round-trip")
	}
}

func TestEncodeCompressesValueAndSetsSnappyBit(t *testing.T) {
	p := &Packet{
		Opcode:   CmdSet,
		Key:      []byte("k1"),
		Value:    bytes.Repeat([]byte("abc"), 100),
		Compress: true,
	}
	buf, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if DataType(buf[5])&DataTypeSnappy == 0 {
		t.Fatalf("expected DataTypeSnappy bit set")
	}
	bodyLen := int(buf[8])<<24 | int(buf[9])<<16 | int(buf[10])<<8 | int(buf[11])
	value := buf[HeaderSize+len(p.Key):]
	if len(value) != bodyLen-len(p.Key) {
		t.Fatalf("value length mismatch: got %d want %d", len(value), bodyLen-len(p.Key))
	}
	plain, err := DecompressValue(value)
	if err != nil {
		t.Fatalf("DecompressValue: %v", err)
	}
	if !bytes.Equal(plain, p.Value) {
		t.Fatalf("decompressed value mismatch: got %q want %q", plain, p.Value)
	}
}

func TestEncodeSubDocSpecsRoundTrip(t *testing.T) {
	specs := []SubDocSpec{
		{Opcode: CmdSubDocGet, Path: "a.b.c"},
		{Opcode: CmdSubDocDictUpsert, Path: "x", Value: []byte("1")},
	}
	buf := EncodeSubDocSpecs(specs)
	got, err := DecodeSubDocSpecs(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(specs) {
		t.Fatalf("got %d specs, want %d", len(got), len(specs))
	}
	for i := range specs {
		if got[i].Path != specs[i].Path || got[i].Opcode != specs[i].Opcode {
			t.Fatalf("spec %d mismatch: %+v vs %+v", i, got[i], specs[i])
		}
	}
}

// encodeResponseForTest builds a wire frame for a Response the way a
// server would, so Decode can be exercised without a live socket.
func encodeResponseForTest(r *Response) []byte {
	magic := r.Magic
	if magic == 0 {
		magic = MagicRes
	}
	var framing []byte
	if r.HasServerDuration {
		framing = []byte{byte(FrameIDResServerDuration)<<4 | 2, 0x12, 0x34}
		magic = MagicAltRes
	}
	framingLen := len(framing)
	extrasLen := len(r.Extras)
	keyLen := len(r.Key)
	valueLen := len(r.Value)
	bodyLen := framingLen + extrasLen + keyLen + valueLen

	buf := make([]byte, HeaderSize, HeaderSize+bodyLen)
	buf[0] = byte(magic)
	buf[1] = byte(r.Opcode)
	buf[2] = byte(keyLen >> 8)
	buf[3] = byte(keyLen)
	if magic.IsFlexible() {
		buf[4] = byte(framingLen)<<4 | byte(extrasLen)
	} else {
		buf[4] = byte(extrasLen)
	}
	buf[5] = byte(r.DataType)
	buf[6] = byte(r.Status >> 8)
	buf[7] = byte(r.Status)
	buf[8] = byte(bodyLen >> 24)
	buf[9] = byte(bodyLen >> 16)
	buf[10] = byte(bodyLen >> 8)
	buf[11] = byte(bodyLen)
	buf[12] = byte(r.Opaque >> 24)
	buf[13] = byte(r.Opaque >> 16)
	buf[14] = byte(r.Opaque >> 8)
	buf[15] = byte(r.Opaque)
	for i := 0; i < 8; i++ {
		buf[23-i] = byte(r.CAS >> (8 * i))
	}
	buf = append(buf, framing...)
	buf = append(buf, r.Extras...)
	buf = append(buf, r.Key...)
	buf = append(buf, r.Value...)
	return buf
}
