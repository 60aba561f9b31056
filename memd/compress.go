package memd

import "github.com/golang/snappy"

// CompressValue snappy-compresses value for the wire; it returns only the
// compressed bytes, and Encode sets DataTypeSnappy itself when a Packet
// asks for compression. Used when a caller opts
// a mutation into the negotiated "snappy" HELLO feature (spec.md §4.3);
// the codec itself never compresses implicitly.
func CompressValue(value []byte) []byte {
	return snappy.Encode(nil, value)
}

// DecompressValue reverses CompressValue. It is a separate, explicit
// step rather than something Decode does automatically, because
// spec.md §4.1's decoding contract requires Decode to return a response
// that merely references the input buffer without copying the value —
// decompression necessarily allocates, so it happens only when a caller
// (kvsession's dispatch, on behalf of the binding layer) opts in after
// seeing the DataTypeSnappy bit.
func DecompressValue(value []byte) ([]byte, error) {
	n, err := snappy.DecodedLen(value)
	if err != nil {
		return nil, errInvalidArg("snappy: " + err.Error())
	}
	out := make([]byte, n)
	return snappy.Decode(out, value)
}
