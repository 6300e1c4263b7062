package apperrors

import (
	"errors"
	"strings"
)

type Kind string

const (
	KindInvalidMediaType  Kind = "invalid_media_type"
	KindSubmission        Kind = "submission"
	KindProcessingFailure Kind = "processing_failure"
	KindProcessingTimeout Kind = "processing_timeout"
	KindResultFetch       Kind = "result_fetch"
	KindMalformedResult   Kind = "malformed_result"
	KindTransient         Kind = "transient"
	KindAuth              Kind = "auth"
	KindBadRequest        Kind = "bad_request"
)

type Error struct {
	Kind Kind
	// SafeMessage is intended for user-facing output and logs.
	SafeMessage string
	// Cause keeps the original internal error for troubleshooting.
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if msg := strings.TrimSpace(e.SafeMessage); msg != "" {
		return msg
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return "unknown error"
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func defaultSafeMessage(kind Kind) string {
	switch kind {
	case KindInvalidMediaType:
		return "Please select a valid media file."
	case KindSubmission:
		return "Failed to start processing"
	case KindProcessingFailure:
		return "Processing failed"
	case KindProcessingTimeout:
		return "Processing timeout"
	case KindResultFetch:
		return "Failed to get results"
	case KindMalformedResult:
		return "The service returned a result that could not be displayed."
	case KindTransient:
		return "Temporary upstream error. Please try again."
	case KindAuth:
		return "Authentication failed. Please verify your service token."
	case KindBadRequest:
		return "Request rejected by the processing service."
	default:
		return "Request failed."
	}
}

func New(kind Kind, safeMessage string, cause error) error {
	msg := strings.TrimSpace(safeMessage)
	if msg == "" {
		msg = defaultSafeMessage(kind)
	}
	return &Error{
		Kind:        kind,
		SafeMessage: msg,
		Cause:       cause,
	}
}

// Wrap re-tags err with kind. The message of an existing *Error is preserved
// so a server-supplied message survives reclassification.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return New(kind, e.SafeMessage, err)
	}
	return New(kind, "", err)
}

func Transient(err error) error {
	return New(KindTransient, "", err)
}

func Timeout(err error) error {
	return New(KindProcessingTimeout, "", err)
}

func Malformed(err error) error {
	return New(KindMalformedResult, "", err)
}

func KindOf(err error) (Kind, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return "", false
	}
	return e.Kind, true
}

// Is reports whether any *Error in err's chain carries kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}

func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	// Transient: 5xx responses, network issues.
	return e.Kind == KindTransient
}
