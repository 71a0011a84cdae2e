// Package storeerr defines the error taxonomy shared by every layer of the
// entity store stack. Every layer returns errors of type *Error so callers
// can branch on Kind with errors.As instead of string matching.
package storeerr

import (
	"fmt"
	"net/http"
)

// Kind identifies a category of store failure. See spec §7 for the full
// recoverability/surfacing table.
type Kind int

const (
	// KindUnknown is the zero value and should never be returned deliberately.
	KindUnknown Kind = iota
	// KindIdentifierNotFound means the query's identifier is malformed or absent.
	KindIdentifierNotFound
	// KindIdentifierNotSynced means an outOfSync identifier was used where a
	// synced or pending one was required (e.g. in a remote request).
	KindIdentifierNotSynced
	// KindInvalidContext means the ReadContext/WriteContext is unusable for
	// this layer (e.g. a remote() context reaching a store with no transport).
	KindInvalidContext
	// KindNotSupported means this layer cannot honor the requested operation
	// and the caller must try the next layer or give up.
	KindNotSupported
	// KindEmptyResponse means a remote call returned a body with no payload.
	KindEmptyResponse
	// KindNotFoundInPayload means the entity's identifier was not present in
	// an otherwise successful response payload.
	KindNotFoundInPayload
	// KindAPI wraps a non-2xx HTTP response.
	KindAPI
	// KindNetworkCancelled means the caller's context was cancelled mid-flight.
	KindNetworkCancelled
	// KindDeserialization wraps a payload decode failure.
	KindDeserialization
	// KindEngine wraps a persistence-engine-level failure (disk store).
	KindEngine
	// KindInvalidEngineState means the disk store's load/recover state
	// machine is in a state that cannot service the request.
	KindInvalidEngineState
	// KindTimeoutElapsed means an AsyncTaskQueue task started but did not
	// finish within its timeout.
	KindTimeoutElapsed
)

func (k Kind) String() string {
	switch k {
	case KindIdentifierNotFound:
		return "identifierNotFound"
	case KindIdentifierNotSynced:
		return "identifierNotSynced"
	case KindInvalidContext:
		return "invalidContext"
	case KindNotSupported:
		return "notSupported"
	case KindEmptyResponse:
		return "emptyResponse"
	case KindNotFoundInPayload:
		return "notFoundInPayload"
	case KindAPI:
		return "api"
	case KindNetworkCancelled:
		return "networkCancelled"
	case KindDeserialization:
		return "deserialization"
	case KindEngine:
		return "engine"
	case KindInvalidEngineState:
		return "invalidEngineState"
	case KindTimeoutElapsed:
		return "timeoutElapsed"
	default:
		return "unknown"
	}
}

// Error is the concrete error type returned by every store layer.
type Error struct {
	Kind Kind
	Op   string // the operation that failed, e.g. "CacheStore.Get"
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, storeerr.Sentinel(kind)) style checks by
// comparing Kind when the target is itself a *Error; the target's Op and
// wrapped cause are ignored.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an *Error with the given kind and operation name.
func New(op string, kind Kind) *Error {
	return &Error{Op: op, Kind: kind}
}

// Wrap constructs an *Error wrapping an underlying cause.
func Wrap(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Sentinel returns a reusable *Error for a given kind, used for errors.Is
// comparisons at call sites: errors.Is(err, storeerr.Sentinel(storeerr.KindNotSupported)).
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }

// APIError wraps a non-2xx HTTP response from the remote store.
type APIError struct {
	Status  int
	Payload []byte
	Headers http.Header
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d (%d bytes payload)", e.Status, len(e.Payload))
}

// IsNotFound reports whether the API error is an HTTP 404, which RemoteStore
// maps to an empty success for get operations (spec §4.9 step 5).
func (e *APIError) IsNotFound() bool { return e.Status == http.StatusNotFound }
