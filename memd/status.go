package memd

import "github.com/couchbaselabs/gocbcluster/cberr"

// StatusCode is the 2-byte response-header status (bytes 6-7 of a
// response frame; the same bytes carry the partition id on a request).
type StatusCode uint16

const (
	StatusSuccess          StatusCode = 0x00
	StatusKeyNotFound      StatusCode = 0x01
	StatusKeyExists        StatusCode = 0x02
	StatusTooBig           StatusCode = 0x03
	StatusInvalidArgs      StatusCode = 0x04
	StatusNotStored        StatusCode = 0x05
	StatusBadDelta         StatusCode = 0x06
	StatusNotMyVBucket     StatusCode = 0x07
	StatusNoBucket         StatusCode = 0x08
	StatusLocked           StatusCode = 0x09
	StatusAuthStale        StatusCode = 0x1f
	StatusAuthError        StatusCode = 0x20
	StatusAuthContinue     StatusCode = 0x21
	StatusRangeError       StatusCode = 0x22
	StatusRollback         StatusCode = 0x23
	StatusAccessError      StatusCode = 0x24
	StatusNotInitialized   StatusCode = 0x25
	StatusRateLimited      StatusCode = 0x30
	StatusUnknownCommand   StatusCode = 0x81
	StatusOutOfMemory      StatusCode = 0x82
	StatusNotSupported     StatusCode = 0x83
	StatusInternalError    StatusCode = 0x84
	StatusBusy             StatusCode = 0x85
	StatusTmpFail          StatusCode = 0x86
	StatusUnknownCollection StatusCode = 0x88

	StatusSubDocPathNotFound    StatusCode = 0xc0
	StatusSubDocPathMismatch    StatusCode = 0xc1
	StatusSubDocPathInvalid     StatusCode = 0xc2
	StatusSubDocPathTooBig      StatusCode = 0xc3
	StatusSubDocDocTooDeep      StatusCode = 0xc4
	StatusSubDocValueInvalid    StatusCode = 0xc5
	StatusSubDocDocNotJSON      StatusCode = 0xc6
	StatusSubDocNumRange        StatusCode = 0xc7
	StatusSubDocDeltaInvalid    StatusCode = 0xc8
	StatusSubDocPathExists      StatusCode = 0xc9
	StatusSubDocValueTooDeep    StatusCode = 0xca
	StatusSubDocXattrInvalidFlagCombo    StatusCode = 0xce
	StatusSubDocXattrInvalidKeyCombo     StatusCode = 0xcf
	StatusSubDocXattrUnknownMacro        StatusCode = 0xd0

	StatusDurabilityInvalidLevel        StatusCode = 0xa0
	StatusDurabilityImpossible          StatusCode = 0xa1
	StatusSyncWriteInProgress           StatusCode = 0xa2
	StatusSyncWriteAmbiguous            StatusCode = 0xa3
	StatusSyncWriteReCommitInProgress   StatusCode = 0xa4
)

// String renders the status for diagnostic messages; it is not part of
// the wire protocol.
func (s StatusCode) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "status_unknown"
}

var statusNames = map[StatusCode]string{
	StatusSuccess:          "success",
	StatusKeyNotFound:      "key_not_found",
	StatusKeyExists:        "key_exists",
	StatusTooBig:           "too_big",
	StatusInvalidArgs:      "invalid_args",
	StatusNotStored:        "not_stored",
	StatusBadDelta:         "bad_delta",
	StatusNotMyVBucket:     "not_my_vbucket",
	StatusNoBucket:         "no_bucket",
	StatusLocked:           "locked",
	StatusAuthStale:        "auth_stale",
	StatusAuthError:        "auth_error",
	StatusAuthContinue:     "auth_continue",
	StatusRangeError:       "range_error",
	StatusRollback:         "rollback",
	StatusAccessError:      "access_error",
	StatusNotInitialized:   "not_initialized",
	StatusRateLimited:      "rate_limited",
	StatusUnknownCommand:   "unknown_command",
	StatusOutOfMemory:      "out_of_memory",
	StatusNotSupported:     "not_supported",
	StatusInternalError:    "internal_error",
	StatusBusy:             "busy",
	StatusTmpFail:          "tmp_fail",
	StatusUnknownCollection: "unknown_collection",
}

// Class is one of the four behavior classes from spec.md §4.1.
type Class int

const (
	ClassSuccess Class = iota
	ClassLogicalMiss
	ClassRetryTopology
	ClassFatal
)

func (s StatusCode) Class() Class {
	switch s {
	case StatusSuccess:
		return ClassSuccess
	case StatusNotMyVBucket:
		return ClassRetryTopology
	case StatusKeyNotFound, StatusKeyExists, StatusLocked, StatusNotStored,
		StatusSubDocPathNotFound, StatusSubDocPathMismatch, StatusSubDocPathExists,
		StatusUnknownCollection:
		return ClassLogicalMiss
	case StatusAuthError, StatusAuthStale, StatusAccessError, StatusNotInitialized:
		return ClassFatal
	default:
		return ClassFatal
	}
}

// Kind maps a status code to the caller-facing error taxonomy (spec.md
// §7). It is consulted for every non-success reply, including
// retry-class statuses such as not_my_vbucket, which the router then
// retries instead of surfacing.
func (s StatusCode) Kind() cberr.Kind {
	switch s {
	case StatusSuccess:
		return ""
	case StatusKeyNotFound:
		return cberr.KindDocumentNotFound
	case StatusKeyExists:
		return cberr.KindDocumentExists
	case StatusLocked:
		return cberr.KindDocumentLocked
	case StatusTooBig:
		return cberr.KindValueTooLarge
	case StatusInvalidArgs:
		return cberr.KindInvalidArgument
	case StatusBadDelta:
		return cberr.KindDeltaInvalid
	case StatusNotMyVBucket:
		return cberr.KindNotMyVbucket
	case StatusNoBucket:
		return cberr.KindBucketNotFound
	case StatusAuthError, StatusAuthStale:
		return cberr.KindAuthFailure
	case StatusAccessError:
		return cberr.KindAccessDenied
	case StatusRangeError:
		return cberr.KindInvalidArgument
	case StatusUnknownCommand, StatusNotSupported:
		return cberr.KindUnsupportedOp
	case StatusOutOfMemory, StatusInternalError:
		return cberr.KindInternalServer
	case StatusBusy, StatusTmpFail, StatusRateLimited:
		return cberr.KindTemporaryFailure
	case StatusUnknownCollection:
		return cberr.KindUnknownCollection
	case StatusSubDocPathNotFound:
		return cberr.KindPathNotFound
	case StatusSubDocPathMismatch:
		return cberr.KindPathMismatch
	case StatusSubDocPathInvalid:
		return cberr.KindPathInvalid
	case StatusSubDocPathTooBig:
		return cberr.KindPathTooBig
	case StatusSubDocDocTooDeep:
		return cberr.KindPathTooDeep
	case StatusSubDocValueInvalid:
		return cberr.KindValueInvalid
	case StatusSubDocDocNotJSON:
		return cberr.KindDocumentNotJSON
	case StatusSubDocNumRange:
		return cberr.KindNumberTooBig
	case StatusSubDocDeltaInvalid:
		return cberr.KindDeltaInvalid
	case StatusSubDocPathExists:
		return cberr.KindPathExists
	case StatusSubDocValueTooDeep:
		return cberr.KindValueTooDeep
	case StatusSubDocXattrUnknownMacro:
		return cberr.KindXattrUnknownMacro
	case StatusSubDocXattrInvalidKeyCombo, StatusSubDocXattrInvalidFlagCombo:
		return cberr.KindXattrInvalidKeyCombo
	case StatusDurabilityInvalidLevel:
		return cberr.KindDurabilityLevelNotAvail
	case StatusDurabilityImpossible:
		return cberr.KindDurabilityImpossible
	case StatusSyncWriteInProgress:
		return cberr.KindDurableWriteInProgress
	case StatusSyncWriteAmbiguous:
		return cberr.KindDurabilityAmbiguous
	case StatusSyncWriteReCommitInProgress:
		return cberr.KindDurableWriteReCommitInPrg
	default:
		return cberr.KindInternalServer
	}
}
