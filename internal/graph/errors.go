package graph

import (
	"errors"
	"fmt"
	"net/http"
)

// NotFoundError indicates the remote resource no longer exists (HTTP 404).
// Callers treat this as "nothing to renew" and reconcile local state.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("graph: not found: %s", e.Message)
}

// IsRetryable returns false as the resource will not reappear.
func (e *NotFoundError) IsRetryable() bool { return false }

// RejectedError indicates the provider refused the request (4xx other than
// 404): permission or validation problems that will not resolve on retry.
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("graph: rejected %d: %s", e.Code, e.Message)
}

// IsRetryable returns false as rejections require intervention.
func (e *RejectedError) IsRetryable() bool { return false }

// TransientError indicates a temporary failure (rate limit, 5xx, network)
// that is safe to retry on a later pass. Code is 0 for transport errors.
type TransientError struct {
	Code    int
	Message string
}

func (e *TransientError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("graph: transient %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("graph: transient: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *TransientError) IsRetryable() bool { return true }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var tr *TransientError
	return errors.As(err, &tr)
}

// IsAuthz reports whether err is a 401/403 rejection. The provisioner uses
// this to treat team enumeration failures for guest users as an expected
// skip rather than a hard failure.
func IsAuthz(err error) bool {
	var rej *RejectedError
	if !errors.As(err, &rej) {
		return false
	}
	return rej.Code == http.StatusUnauthorized || rej.Code == http.StatusForbidden
}

// classifyStatus maps a non-2xx Graph response to a typed error.
func classifyStatus(status int, body []byte) error {
	msg := graphErrorMessage(body)

	switch {
	case status == http.StatusNotFound:
		return &NotFoundError{Message: msg}
	case status == http.StatusTooManyRequests:
		return &TransientError{Code: status, Message: msg}
	case status >= 500:
		return &TransientError{Code: status, Message: msg}
	case status >= 400:
		return &RejectedError{Code: status, Message: msg}
	default:
		return fmt.Errorf("graph: unexpected status %d: %s", status, msg)
	}
}
