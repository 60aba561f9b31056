// Package cberr defines the closed error taxonomy the core surfaces to
// callers (spec.md §7). Every error the core returns across a KV, HTTP,
// or lifecycle boundary is a *cberr.Error with one of the Kind constants
// below; nothing else escapes.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package cberr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a closed enumeration; see spec.md §7 for the authoritative list.
type Kind string

// Common.
const (
	KindUnambiguousTimeout Kind = "unambiguous_timeout"
	KindAmbiguousTimeout   Kind = "ambiguous_timeout"
	KindRequestCancelled   Kind = "request_cancelled"
	KindInvalidArgument    Kind = "invalid_argument"
	KindServiceNotAvail    Kind = "service_not_available"
	KindInternalServer     Kind = "internal_server_failure"
	KindAuthFailure        Kind = "authentication_failure"
	KindTemporaryFailure   Kind = "temporary_failure"
	KindParsingFailure     Kind = "parsing_failure"
	KindCasMismatch        Kind = "cas_mismatch"
	KindBucketNotFound     Kind = "bucket_not_found"
	KindScopeNotFound      Kind = "scope_not_found"
	KindCollectionNotFound Kind = "collection_not_found"
	KindUnsupportedOp      Kind = "unsupported_operation"
	KindFeatureNotAvail    Kind = "feature_not_available"
	KindEncodingFailure    Kind = "encoding_failure"
	KindDecodingFailure    Kind = "decoding_failure"
	KindIndexNotFound      Kind = "index_not_found"
	KindIndexExists        Kind = "index_exists"
	KindAccessDenied       Kind = "access_denied"

	// Internal-only: recovered by the router/session before a request is
	// ever surfaced to a caller (spec.md §4.1, §4.3). Exported so package
	// boundaries can still use the Kind/Error vocabulary uniformly.
	KindNotMyVbucket      Kind = "not_my_vbucket"
	KindUnknownCollection Kind = "unknown_collection"
)

// Key-value.
const (
	KindDocumentNotFound          Kind = "document_not_found"
	KindDocumentLocked            Kind = "document_locked"
	KindDocumentExists            Kind = "document_exists"
	KindValueTooLarge             Kind = "value_too_large"
	KindDurabilityLevelNotAvail   Kind = "durability_level_not_available"
	KindDurabilityImpossible      Kind = "durability_impossible"
	KindDurabilityAmbiguous       Kind = "durability_ambiguous"
	KindDurableWriteInProgress    Kind = "durable_write_in_progress"
	KindDurableWriteReCommitInPrg Kind = "durable_write_re_commit_in_progress"
	KindPathNotFound              Kind = "path_not_found"
	KindPathMismatch              Kind = "path_mismatch"
	KindPathInvalid               Kind = "path_invalid"
	KindPathTooBig                Kind = "path_too_big"
	KindPathTooDeep               Kind = "path_too_deep"
	KindValueTooDeep              Kind = "value_too_deep"
	KindValueInvalid              Kind = "value_invalid"
	KindDocumentNotJSON           Kind = "document_not_json"
	KindNumberTooBig              Kind = "number_too_big"
	KindDeltaInvalid              Kind = "delta_invalid"
	KindPathExists                Kind = "path_exists"
	KindXattrUnknownMacro         Kind = "xattr_unknown_macro"
	KindXattrInvalidKeyCombo      Kind = "xattr_invalid_key_combo"
)

// Query.
const (
	KindPlanningFailure           Kind = "planning_failure"
	KindIndexFailure              Kind = "index_failure"
	KindPreparedStatementFailure  Kind = "prepared_statement_failure"
	KindCompilationFailureN1QL    Kind = "compilation_failure_n1ql"
)

// View.
const (
	KindViewNotFound           Kind = "view_not_found"
	KindDesignDocumentNotFound Kind = "design_document_not_found"
)

// Analytics.
const (
	KindCompilationFailure Kind = "compilation_failure"
	KindJobQueueFull       Kind = "job_queue_full"
	KindDatasetNotFound    Kind = "dataset_not_found"
	KindDataverseNotFound  Kind = "dataverse_not_found"
	KindDatasetExists      Kind = "dataset_exists"
	KindDataverseExists    Kind = "dataverse_exists"
	KindLinkNotFound       Kind = "link_not_found"
)

// Management.
const (
	KindCollectionExists   Kind = "collection_exists"
	KindScopeExists        Kind = "scope_exists"
	KindUserNotFound       Kind = "user_not_found"
	KindGroupNotFound      Kind = "group_not_found"
	KindUserExists         Kind = "user_exists"
	KindBucketExists       Kind = "bucket_exists"
	KindBucketNotFlushable Kind = "bucket_not_flushable"
)

// Error is the single error type the core returns. The server-provided
// message text (when present) is preserved verbatim in Msg; cause chains
// from lower layers are kept via pkg/errors so %+v still prints a stack.
type Error struct {
	Kind Kind
	Msg  string
	// Ctx carries freeform request context (key, bucket, opaque...) for
	// logging; never consulted for control flow.
	Ctx   map[string]interface{}
	cause error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Is allows errors.Is(err, cberr.New(KindX, "")) to compare by Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error, wrapping it with pkg/errors so the construction
// site's stack is attached.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, cause: errors.New(string(kind))}
}

// Newf is New with Printf-style formatting of msg.
func Newf(kind Kind, format string, a ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, a...))
}

// Wrap attaches kind to an underlying cause (e.g. a net.Error from a dial
// failure) while preserving it for errors.Unwrap/errors.As.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, cause: errors.WithStack(cause)}
}

// WithCtx returns a shallow copy of e with a context key/value attached.
func (e *Error) WithCtx(key string, val interface{}) *Error {
	clone := *e
	clone.Ctx = make(map[string]interface{}, len(e.Ctx)+1)
	for k, v := range e.Ctx {
		clone.Ctx[k] = v
	}
	clone.Ctx[key] = val
	return &clone
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// class buckets kinds into the four behavior classes from spec.md §4.1.
type class int

const (
	classSuccess class = iota
	classLogicalMiss
	classRetryTopology
	classFatal
)

var retryTopologyKinds = map[Kind]struct{}{
	KindNotMyVbucket: {},
}

// IsRetryTopology reports whether kind is the not-my-vbucket behavior
// class that the router retries transparently and never surfaces.
func IsRetryTopology(kind Kind) bool {
	_, ok := retryTopologyKinds[kind]
	return ok
}

// Idempotent-retry classification (router.go §4.6): kinds that are safe
// to retry for a non-idempotent mutation because the server guarantees
// no mutation occurred. KindRequestCancelled is not in the set: the error
// does not record whether the request reached the socket, so the router
// escalates it to an ambiguous kind for non-idempotent requests.
var safeForNonIdempotentRetry = map[Kind]struct{}{
	KindNotMyVbucket: {},
}

func SafeForNonIdempotentRetry(kind Kind) bool {
	_, ok := safeForNonIdempotentRetry[kind]
	return ok
}
