// Package sasl implements client-side SASL authentication for the KV
// wire protocol (spec.md §4.3): mechanism negotiation followed by a
// SCRAM or PLAIN exchange driven entirely by the caller feeding server
// challenge bytes in and reading client response bytes out. Grounded in
// aistore/authn (utils.go): a small, self-contained auth component with
// its own error values rather than a wrapped third-party client.
package sasl

import (
	"sort"
	"strings"

	"github.com/couchbaselabs/gocbcluster/cberr"
)

// Mechanism is one of the SASL mechanisms Couchbase servers advertise
// (spec.md §4.3).
type Mechanism string

const (
	MechPlain       Mechanism = "PLAIN"
	MechScramSHA1   Mechanism = "SCRAM-SHA-1"
	MechScramSHA256 Mechanism = "SCRAM-SHA-256"
	MechScramSHA512 Mechanism = "SCRAM-SHA-512"
)

// strength ranks mechanisms from weakest to strongest so Select can
// pick the best one both sides support (spec.md §4.3: "the client
// selects the strongest mechanism advertised by the server").
var strength = map[Mechanism]int{
	MechPlain:       0,
	MechScramSHA1:   1,
	MechScramSHA256: 2,
	MechScramSHA512: 3,
}

// ParseMechList splits a server SASL_LIST_MECHS response body (a
// space-separated token list) into Mechanism values, silently dropping
// any tokens this client doesn't recognize.
func ParseMechList(body []byte) []Mechanism {
	fields := strings.Fields(string(body))
	out := make([]Mechanism, 0, len(fields))
	for _, f := range fields {
		m := Mechanism(strings.ToUpper(f))
		if _, ok := strength[m]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Select picks the strongest mechanism advertised by the server,
// subject to the rule that PLAIN is refused over a non-TLS connection
// (spec.md §4.3: "PLAIN is only selected when no SCRAM mechanism is
// offered and the connection is already TLS-protected").
func Select(advertised []Mechanism, tls bool) (Mechanism, error) {
	best := Mechanism("")
	bestRank := -1
	haveScram := false
	for _, m := range advertised {
		if strings.HasPrefix(string(m), "SCRAM-") {
			haveScram = true
		}
		if r := strength[m]; r > bestRank {
			best, bestRank = m, r
		}
	}
	if best == "" {
		return "", cberr.New(cberr.KindAuthFailure, "server advertised no supported SASL mechanism")
	}
	if best == MechPlain && !tls && haveScram {
		// Shouldn't happen since PLAIN ranks lowest, but guards against
		// a server list containing only degenerate entries.
		return "", cberr.New(cberr.KindAuthFailure, "refusing PLAIN when a SCRAM mechanism is available")
	}
	if best == MechPlain && !tls {
		return "", cberr.New(cberr.KindAuthFailure, "refusing PLAIN authentication over a non-TLS connection")
	}
	return best, nil
}

// sortedMechs returns a copy of ms ordered from weakest to strongest
// mechanism.
func sortedMechs(ms []Mechanism) []Mechanism {
	out := append([]Mechanism(nil), ms...)
	sort.Slice(out, func(i, j int) bool { return strength[out[i]] < strength[out[j]] })
	return out
}
