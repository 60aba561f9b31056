package memd

import "encoding/binary"

// DecodeMutationToken reads the 16-byte {vbuuid, seqno} extras payload
// that mutation responses carry when UseMutationTokens was negotiated
// (spec.md §3). The bucket name and partition id aren't on the wire, so
// the caller passes both in from the request it sent.
func DecodeMutationToken(extras []byte, vbucket uint16, bucket string) (MutationToken, bool) {
	if len(extras) < 16 {
		return MutationToken{}, false
	}
	return MutationToken{
		VBucketUUID: binary.BigEndian.Uint64(extras[0:8]),
		SeqNo:       binary.BigEndian.Uint64(extras[8:16]),
		VBucketID:   vbucket,
		BucketName:  bucket,
	}, true
}

// EncodeMutationExtras builds the 16-byte mutation-token extras payload,
// the inverse of DecodeMutationToken.
func EncodeMutationExtras(t MutationToken) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], t.VBucketUUID)
	binary.BigEndian.PutUint64(b[8:16], t.SeqNo)
	return b
}
