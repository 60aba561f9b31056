package memd

// HelloFeature is a 2-byte feature code negotiated by the HELLO
// command (spec.md §4.3 step 2).
type HelloFeature uint16

const (
	FeatureDataType       HelloFeature = 0x01
	FeatureTLS            HelloFeature = 0x02
	FeatureTCPNoDelay     HelloFeature = 0x03
	FeatureMutationSeqno  HelloFeature = 0x04
	FeatureTCPDelay       HelloFeature = 0x05
	FeatureXattr          HelloFeature = 0x06
	FeatureXerror         HelloFeature = 0x07
	FeatureSelectBucket   HelloFeature = 0x08
	FeatureSnappy         HelloFeature = 0x0a
	FeatureJSON           HelloFeature = 0x0b
	FeatureDuplex         HelloFeature = 0x0c
	FeatureClustermapChangeNotification HelloFeature = 0x0d
	FeatureUnorderedExecution HelloFeature = 0x0e
	FeatureTracing        HelloFeature = 0x0f
	FeatureAltRequest     HelloFeature = 0x10
	FeatureSyncReplication HelloFeature = 0x11
	FeatureCollections    HelloFeature = 0x12
	FeaturePreserveExpiry HelloFeature = 0x14

	ReservedUserDataStart = 0x8000 // HELLO client id / user string area, unused here
)

// DefaultRequestedFeatures is the feature list a new KV session
// negotiates on connect (spec.md §4.3 step 2).
var DefaultRequestedFeatures = []HelloFeature{
	FeatureSelectBucket,
	FeatureXattr,
	FeatureXerror,
	FeatureSnappy,
	FeatureJSON,
	FeatureDuplex,
	FeatureClustermapChangeNotification,
	FeatureCollections,
	FeatureTracing,
	FeatureAltRequest,
	FeatureSyncReplication,
	FeaturePreserveExpiry,
}

// EncodeHelloFeatures packs the requested feature list into the
// 2-byte-per-entry value HELLO expects.
func EncodeHelloFeatures(features []HelloFeature) []byte {
	buf := make([]byte, len(features)*2)
	for i, f := range features {
		buf[i*2] = byte(f >> 8)
		buf[i*2+1] = byte(f)
	}
	return buf
}

// DecodeHelloFeatures unpacks the server's accepted-subset response
// value from a HELLO response.
func DecodeHelloFeatures(value []byte) []HelloFeature {
	out := make([]HelloFeature, 0, len(value)/2)
	for i := 0; i+1 < len(value); i += 2 {
		out = append(out, HelloFeature(value[i])<<8|HelloFeature(value[i+1]))
	}
	return out
}
