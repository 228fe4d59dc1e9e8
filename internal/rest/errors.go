package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrSessionExpired is returned when a request was rejected with 401 and refreshing
// the session failed.
var ErrSessionExpired = errors.New("session expired")

// APIError is a non-success response from the REST backend.
type APIError struct {
	Status  int
	Message string
	Code    string
	Details json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

type errorBody struct {
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Details json.RawMessage `json:"details"`
	Error   *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// newAPIError builds an APIError from a raw response body. Bodies that are not JSON
// become the message as-is.
func newAPIError(status int, body []byte) *APIError {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return eb.apiError(status, string(body))
	}
	return eb.apiError(status, "")
}

// apiError maps a decoded error body to an APIError; fallback is used when the body
// carried no message.
func (eb *errorBody) apiError(status int, fallback string) *APIError {
	apiErr := &APIError{Status: status, Message: eb.Message, Code: eb.Code, Details: eb.Details}
	if eb.Error != nil {
		if eb.Error.Message != "" {
			apiErr.Message = eb.Error.Message
		}
		if eb.Error.Code != "" {
			apiErr.Code = eb.Error.Code
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = fallback
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
