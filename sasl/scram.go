package sasl

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/couchbaselabs/gocbcluster/cberr"
)

// scramStage tracks where a ScramClient is in the RFC 5802 exchange.
type scramStage int

const (
	stageInit scramStage = iota
	stageClientFirstSent
	stageServerFirstReceived
	stageDone
)

// ScramClient drives one SCRAM-SHA-1/256/512 exchange (spec.md §4.3).
// There is no SCRAM client library anywhere in the example corpus, so
// this builds directly on crypto/hmac + crypto/sha256/sha512 and
// golang.org/x/crypto/pbkdf2 (already a teacher dependency, see
// DESIGN.md) rather than inventing a third-party dependency that
// doesn't exist.
type ScramClient struct {
	mech     Mechanism
	hashFn   func() hash.Hash
	username string
	password string

	clientNonce   string
	clientFirstBare string
	serverFirst   string
	saltedPass    []byte
	authMessage   string

	stage scramStage
}

// NewScramClient begins a SCRAM exchange for mech (one of
// MechScramSHA1/256/512). username/password are the plain SASL
// identity; Couchbase authenticates against bucket or RBAC user
// credentials depending on deployment, which is opaque to this client.
func NewScramClient(mech Mechanism, username, password string) (*ScramClient, error) {
	var hashFn func() hash.Hash
	switch mech {
	case MechScramSHA1:
		hashFn = sha1.New
	case MechScramSHA256:
		hashFn = sha256.New
	case MechScramSHA512:
		hashFn = sha512.New
	default:
		return nil, cberr.Newf(cberr.KindInvalidArgument, "unsupported SCRAM mechanism %q", mech)
	}
	nonce, err := randomNonce(24)
	if err != nil {
		return nil, cberr.Wrap(cberr.KindAuthFailure, err, "generate client nonce")
	}
	return &ScramClient{
		mech:        mech,
		hashFn:      hashFn,
		username:    username,
		password:    password,
		clientNonce: nonce,
		stage:       stageInit,
	}, nil
}

// Step1 produces the SASL_AUTH payload: "n,,n=<user>,r=<nonce>".
func (s *ScramClient) Step1() []byte {
	s.clientFirstBare = fmt.Sprintf("n=%s,r=%s", escapeSaslName(s.username), s.clientNonce)
	s.stage = stageClientFirstSent
	return []byte("n,," + s.clientFirstBare)
}

// Step2 consumes the server-first message and produces the
// SASL_STEP client-final message, computing the salted password via
// PBKDF2 over the server-supplied salt/iteration-count.
func (s *ScramClient) Step2(serverFirst []byte) ([]byte, error) {
	if s.stage != stageClientFirstSent {
		return nil, cberr.New(cberr.KindInternalServer, "SCRAM step2 called out of order")
	}
	s.serverFirst = string(serverFirst)

	fields, err := parseScramFields(s.serverFirst)
	if err != nil {
		return nil, err
	}
	serverNonce := fields["r"]
	saltB64 := fields["s"]
	iterStr := fields["i"]
	if serverNonce == "" || saltB64 == "" || iterStr == "" {
		return nil, cberr.New(cberr.KindAuthFailure, "malformed SCRAM server-first message")
	}
	if !strings.HasPrefix(serverNonce, s.clientNonce) {
		return nil, cberr.New(cberr.KindAuthFailure, "server nonce does not extend client nonce")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return nil, cberr.Wrap(cberr.KindAuthFailure, err, "decode SCRAM salt")
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil || iterations <= 0 {
		return nil, cberr.New(cberr.KindAuthFailure, "invalid SCRAM iteration count")
	}

	keyLen := s.hashFn().Size()
	s.saltedPass = pbkdf2.Key([]byte(s.password), salt, iterations, keyLen, s.hashFn)

	channelBinding := base64.StdEncoding.EncodeToString([]byte("n,,"))
	clientFinalNoProof := fmt.Sprintf("c=%s,r=%s", channelBinding, serverNonce)
	s.authMessage = s.clientFirstBare + "," + s.serverFirst + "," + clientFinalNoProof

	clientKey := s.hmac(s.saltedPass, "Client Key")
	storedKey := s.hash(clientKey)
	clientSig := s.hmac(storedKey, s.authMessage)
	clientProof := xorBytes(clientKey, clientSig)

	final := clientFinalNoProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	s.stage = stageServerFirstReceived
	return []byte(final), nil
}

// Verify validates the server-final message's signature against the
// expected value, completing mutual authentication (spec.md §4.3:
// "the client MUST verify the server signature before treating
// authentication as complete").
func (s *ScramClient) Verify(serverFinal []byte) error {
	if s.stage != stageServerFirstReceived {
		return cberr.New(cberr.KindInternalServer, "SCRAM verify called out of order")
	}
	fields, err := parseScramFields(string(serverFinal))
	if err != nil {
		return err
	}
	if errMsg, ok := fields["e"]; ok {
		return cberr.Newf(cberr.KindAuthFailure, "server rejected authentication: %s", errMsg)
	}
	vB64 := fields["v"]
	if vB64 == "" {
		return cberr.New(cberr.KindAuthFailure, "malformed SCRAM server-final message")
	}
	got, err := base64.StdEncoding.DecodeString(vB64)
	if err != nil {
		return cberr.Wrap(cberr.KindAuthFailure, err, "decode SCRAM server signature")
	}
	serverKey := s.hmac(s.saltedPass, "Server Key")
	want := s.hmac(serverKey, s.authMessage)
	if !hmac.Equal(got, want) {
		return cberr.New(cberr.KindAuthFailure, "SCRAM server signature mismatch")
	}
	s.stage = stageDone
	return nil
}

func (s *ScramClient) hmac(key []byte, msg string) []byte {
	m := hmac.New(s.hashFn, key)
	m.Write([]byte(msg))
	return m.Sum(nil)
}

func (s *ScramClient) hash(data []byte) []byte {
	h := s.hashFn()
	h.Write(data)
	return h.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func randomNonce(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// escapeSaslName applies the RFC 5802 saslname escaping (',' -> =2C,
// '=' -> =3D).
func escapeSaslName(name string) string {
	name = strings.ReplaceAll(name, "=", "=3D")
	name = strings.ReplaceAll(name, ",", "=2C")
	return name
}

// parseScramFields splits a comma-separated "k=v,k=v" SCRAM message
// into a field map.
func parseScramFields(msg string) (map[string]string, error) {
	out := make(map[string]string)
	for _, part := range strings.Split(msg, ",") {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, cberr.Newf(cberr.KindAuthFailure, "malformed SCRAM field %q", part)
		}
		out[kv[0]] = kv[1]
	}
	return out, nil
}
