package delivery

import (
	"errors"
	"net/http"
	"strings"
)

// Error is a terminal delivery failure: a non-retryable response, or a
// retryable one after the attempt budget ran out.
type Error struct {
	Attempt    int    // attempt that produced the failure
	HTTPStatus int    // 0 when no response was received
	Reason     string // http_5xx, http_429, http_4xx, timeout, network, ...
	Retryable  bool   // the failure class was retryable but attempts were exhausted
	msg        string
	err        error
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.err }

// AsError returns the *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsRetryableStatus reports whether a response status is worth another attempt.
func IsRetryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

func classifyReason(doErr error, status int) string {
	if doErr != nil {
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == http.StatusTooManyRequests {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}
