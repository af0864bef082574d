package reliability

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindPermissionDenied, false},
		{KindTransportOpenFailed, true},
		{KindTransportTimeout, true},
		{KindTransportRuntime, false},
		{KindDecode, false},
	}
	for _, tc := range cases {
		got := IsRetryable(tc.kind)
		if got != tc.want {
			t.Fatalf("IsRetryable(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}

func TestEndsSession(t *testing.T) {
	if EndsSession(KindDecode) {
		t.Fatalf("EndsSession(decode) = true, want false")
	}
	if EndsSession(KindInvalidConfiguration) {
		t.Fatalf("EndsSession(invalid_configuration) = true, want false")
	}
	if !EndsSession(KindTransportRuntime) {
		t.Fatalf("EndsSession(transport_runtime) = false, want true")
	}
}

func TestKindOfUnwrapsChain(t *testing.T) {
	inner := errors.New("socket closed")
	err := fmt.Errorf("open stream: %w", Classify(KindTransportOpenFailed, "dial failed", inner))
	if got := KindOf(err); got != KindTransportOpenFailed {
		t.Fatalf("KindOf() = %q, want %q", got, KindTransportOpenFailed)
	}
	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is(err, inner) = false, want true")
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Fatalf("KindOf(plain) = %q, want empty", got)
	}
}
