package sasl

// PlainPayload builds the SASL PLAIN mechanism payload: an
// authzid-less "\0username\0password" triple (spec.md §4.3).
func PlainPayload(username, password string) []byte {
	buf := make([]byte, 0, len(username)+len(password)+2)
	buf = append(buf, 0)
	buf = append(buf, username...)
	buf = append(buf, 0)
	buf = append(buf, password...)
	return buf
}
