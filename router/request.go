// Package router is the top-level dispatch entry point (spec.md §4.6):
// it maps each request to a target node using the current
// configuration, opens or reuses the matching session, enforces
// timeouts, and retries on topology and transient errors.
package router

import (
	"time"

	"github.com/couchbaselabs/gocbcluster/cbconfig"
	"github.com/couchbaselabs/gocbcluster/httpsvc"
	"github.com/couchbaselabs/gocbcluster/memd"
)

// OpKind distinguishes the two wire families a Request can carry
// (spec.md §6 "request is a tagged union over KV and HTTP operation
// kinds").
type OpKind int

const (
	OpKV OpKind = iota
	OpHTTPUnary
	OpHTTPStream
)

// Request is the caller-facing tagged union. Only the fields relevant
// to Kind are read; the others are ignored.
type Request struct {
	Kind OpKind

	// KV fields (Kind == OpKV).
	Opcode     memd.CmdCode
	Key        []byte
	Value      []byte
	Extras     []byte
	CAS        uint64
	Durability *memd.DurabilityReq

	// HTTP fields (Kind == OpHTTPUnary or OpHTTPStream).
	Service     cbconfig.Service
	Method      string
	Path        string
	ContentType string
	Body        []byte
	OnChunk     func(httpsvc.Chunk) error // required for OpHTTPStream

	// Common.
	Timeout    time.Duration // zero means the router's default
	Idempotent bool          // spec.md §4.6 retry classification
	RetryLimit int           // zero means the router's default not_my_vbucket retry cap
}

// Response carries whichever half of the union the request kind
// produced.
type Response struct {
	KV         *memd.Response
	HTTPStatus int
	HTTPBody   []byte
}

// Callback is fired exactly once per Execute call, from a goroutine the
// router owns — never from the caller's own stack (spec.md §5: "the
// caller enqueues work on the reactor and is resumed via the completion
// callback").
type Callback func(*Response, error)
