package cognitive

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from a cognitive service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Service    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("cognitive [%s]: API error %d (%s): %s", e.Service, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("cognitive [%s]: API error %d: %s", e.Service, e.StatusCode, e.Message)
}

// IsRateLimited reports an HTTP 429.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsUnauthorized reports a rejected subscription key.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsRetryable reports whether a later attempt may succeed.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.StatusCode >= 500
}

// decodeError builds an APIError from an error response body. Both the
// {"error": {...}} envelope and a bare {"code","message"} object are accepted.
func decodeError(service string, status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Service: service}

	var envelope struct {
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		switch {
		case envelope.Error != nil:
			apiErr.Code, apiErr.Message = envelope.Error.Code, envelope.Error.Message
		default:
			apiErr.Code, apiErr.Message = envelope.Code, envelope.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
