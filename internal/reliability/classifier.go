package reliability

import (
	"errors"
	"fmt"
)

// Kind classifies everything that can go wrong during a call.
type Kind string

const (
	// KindPermissionDenied means the capture device was refused. The attempt is
	// dead; the user has to grant access and dial again.
	KindPermissionDenied Kind = "permission_denied"
	// KindTransportOpenFailed means the remote stream could not be opened.
	KindTransportOpenFailed Kind = "transport_open_failed"
	// KindTransportTimeout means neither open nor error arrived within the
	// connect window.
	KindTransportTimeout Kind = "transport_timeout"
	// KindTransportRuntime means the stream failed mid-call. Always terminal.
	KindTransportRuntime Kind = "transport_runtime"
	// KindDecode means one inbound payload was unusable. Recovered locally,
	// never ends the call.
	KindDecode Kind = "decode"
	// KindInvalidConfiguration means a caller-supplied setting was rejected
	// synchronously, before it could touch a running call.
	KindInvalidConfiguration Kind = "invalid_configuration"
)

// CallError is the single classified error surfaced on a session.
type CallError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *CallError) Unwrap() error { return e.Err }

// Classify wraps err with a kind. err may be nil; terminal states always carry
// a cause even when the trigger was not itself an error value.
func Classify(kind Kind, detail string, err error) *CallError {
	return &CallError{Kind: kind, Detail: detail, Err: err}
}

// KindOf extracts the kind from an error chain, or "" if it was never classified.
func KindOf(err error) Kind {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// IsRetryable reports whether a fresh connect attempt is a sensible reaction.
// The core itself never retries; this only informs the caller.
func IsRetryable(kind Kind) bool {
	switch kind {
	case KindTransportOpenFailed, KindTransportTimeout:
		return true
	default:
		return false
	}
}

// EndsSession reports whether an error of this kind forces full teardown.
func EndsSession(kind Kind) bool {
	switch kind {
	case KindDecode, KindInvalidConfiguration:
		return false
	default:
		return true
	}
}
