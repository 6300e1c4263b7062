package apperrors

import (
	"errors"
	"testing"
)

func TestPublicMessage_UsesSafeMessage(t *testing.T) {
	sentinel := errors.New("SECRET_VALUE")
	err := New(KindSubmission, "upload rejected", sentinel)
	if got := PublicMessage(err); got != "upload rejected" {
		t.Fatalf("PublicMessage() = %q, want %q", got, "upload rejected")
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected wrapped cause to be retained for internal matching")
	}
}

func TestNew_DefaultMessages(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindSubmission, "Failed to start processing"},
		{KindProcessingFailure, "Processing failed"},
		{KindProcessingTimeout, "Processing timeout"},
	}
	for _, tt := range tests {
		if got := PublicMessage(New(tt.kind, "  ", nil)); got != tt.want {
			t.Errorf("PublicMessage(%s) = %q, want %q", tt.kind, got, tt.want)
		}
	}
}

func TestKindOfAndRetryable(t *testing.T) {
	err := Transient(errors.New("boom"))
	kind, ok := KindOf(err)
	if !ok || kind != KindTransient {
		t.Fatalf("KindOf() = (%q, %v), want (%q, true)", kind, ok, KindTransient)
	}
	if !IsRetryable(err) {
		t.Fatalf("expected transient error to be retryable")
	}
	if IsRetryable(New(KindAuth, "", nil)) {
		t.Fatalf("auth errors must not be retried")
	}
}

func TestWrap_KeepsServerMessage(t *testing.T) {
	inner := New(KindBadRequest, "No image file provided", nil)
	err := Wrap(KindSubmission, inner)
	if got := PublicMessage(err); got != "No image file provided" {
		t.Fatalf("PublicMessage() = %q", got)
	}
	if kind, _ := KindOf(err); kind != KindSubmission {
		t.Fatalf("KindOf() = %q, want %q", kind, KindSubmission)
	}
	if !Is(err, KindBadRequest) {
		t.Fatalf("expected original kind to remain in the chain")
	}
}

func TestPublicMessage_NonAppError(t *testing.T) {
	err := errors.New("plain")
	if got := PublicMessage(err); got != "plain" {
		t.Fatalf("PublicMessage() = %q, want %q", got, "plain")
	}
}
