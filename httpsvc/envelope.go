package httpsvc

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/couchbaselabs/gocbcluster/cberr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// QueryEnvelope is the single-JSON-document response shape shared by
// the query and analytics services (spec.md §4.4, §6).
type QueryEnvelope struct {
	Status  string              `json:"status"`
	Results []jsoniter.RawMessage `json:"results"`
	Errors  []QueryError        `json:"errors"`
	Metrics jsoniter.RawMessage `json:"metrics"`
}

type QueryError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// queryErrorKind maps a query-service error code range to a taxonomy
// Kind (spec.md §7 Query/Analytics groups). Code ranges follow
// Couchbase's published N1QL/Analytics error code space.
func queryErrorKind(service string, code int) cberr.Kind {
	switch service {
	case "analytics":
		switch {
		case code == 24040:
			return cberr.KindDatasetExists
		case code == 24047:
			return cberr.KindDataverseExists
		case code >= 24040 && code < 24050:
			return cberr.KindCompilationFailure
		case code == 23003:
			return cberr.KindDatasetNotFound
		case code == 23005:
			return cberr.KindDataverseNotFound
		case code == 24006:
			return cberr.KindLinkNotFound
		case code == 23007:
			return cberr.KindJobQueueFull
		default:
			return cberr.KindInternalServer
		}
	default: // query (N1QL)
		switch {
		case code >= 4040 && code < 4060:
			return cberr.KindPreparedStatementFailure
		case code >= 4000 && code < 5000:
			return cberr.KindPlanningFailure
		case code >= 12000 && code < 13000:
			return cberr.KindIndexFailure
		case code >= 3000 && code < 4000:
			return cberr.KindCompilationFailureN1QL
		default:
			return cberr.KindInternalServer
		}
	}
}

// ParseQueryEnvelope decodes a query/analytics response body and
// surfaces the first error as a *cberr.Error if the body carries any
// (spec.md §4.4: "preserving the first server error's code and
// message"). On success it returns the decoded envelope with Errors
// empty.
func ParseQueryEnvelope(service string, body []byte) (*QueryEnvelope, error) {
	var env QueryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, cberr.Wrap(cberr.KindParsingFailure, err, "decode "+service+" response")
	}
	if len(env.Errors) > 0 {
		first := env.Errors[0]
		return nil, cberr.New(queryErrorKind(service, first.Code), first.Msg).WithCtx("code", first.Code)
	}
	return &env, nil
}

// ParseManagementError returns nil for a 2xx status and otherwise an
// error built from the {"errors": {...}} or {"errors": [...]} shape
// management endpoints return (spec.md §4.4: "body may include an
// errors list whose textual content is forwarded verbatim").
func ParseManagementError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var withList struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &withList); err == nil && len(withList.Errors) > 0 {
		return cberr.New(managementKind(status), withList.Errors[0])
	}
	var withMap struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(body, &withMap); err == nil {
		for _, v := range withMap.Errors {
			return cberr.New(managementKind(status), v)
		}
	}
	return cberr.Newf(managementKind(status), "management request failed with status %d", status)
}

func managementKind(status int) cberr.Kind {
	switch status {
	case 401:
		return cberr.KindAuthFailure
	case 403:
		return cberr.KindAccessDenied
	case 404:
		return cberr.KindBucketNotFound
	default:
		return cberr.KindInternalServer
	}
}
