// Package core provides core types and interfaces for the generation gateway.
package core

import (
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	// ErrorTypeProvider indicates the upstream provider failed
	ErrorTypeProvider ErrorType = "provider_error"
	// ErrorTypeInvalidRequest indicates a client input error (400)
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAuthentication indicates a gateway authentication error (401)
	ErrorTypeAuthentication ErrorType = "authentication_error"
	// ErrorTypeInternal indicates a local failure unrelated to client input
	ErrorTypeInternal ErrorType = "internal_error"
)

// GatewayError is the base error type for all gateway errors
type GatewayError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Provider   string
	// UpstreamStatus is the status code returned by the provider, if any
	UpstreamStatus int
	// Original error for debugging (not exposed to clients)
	Err error
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the error unwrapping interface
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the HTTP status code reported to clients.
// Only client input and authentication problems map to 4xx; everything
// else, upstream failures included, is a 500.
func (e *GatewayError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}
	switch e.Type {
	case ErrorTypeInvalidRequest:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ToJSON converts the error to the response body shape {"error": message}
func (e *GatewayError) ToJSON() map[string]string {
	return map[string]string{"error": e.Message}
}

// NewProviderError creates a new provider error. upstreamStatus is zero when
// the provider was never reached.
func NewProviderError(provider string, upstreamStatus int, message string, err error) *GatewayError {
	return &GatewayError{
		Type:           ErrorTypeProvider,
		Message:        message,
		StatusCode:     http.StatusInternalServerError,
		Provider:       provider,
		UpstreamStatus: upstreamStatus,
		Err:            err,
	}
}

// NewInvalidRequestError creates a new invalid request error (400)
func NewInvalidRequestError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInvalidRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        err,
	}
}

// NewAuthenticationError creates a new authentication error (401)
func NewAuthenticationError(message string) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeAuthentication,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

// NewInternalError wraps a local failure (disk, encoding) as a 500
func NewInternalError(message string, err error) *GatewayError {
	return &GatewayError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// ParseProviderError builds a provider error from an upstream error response.
// Google APIs report failures as {"error": {"code", "message", "status"}};
// the raw body is used when that shape is absent.
func ParseProviderError(provider string, statusCode int, body []byte, originalErr error) *GatewayError {
	message := string(body)
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() && msg.String() != "" {
		message = msg.String()
	}

	return NewProviderError(provider, statusCode,
		fmt.Sprintf("%s API error (status %d): %s", provider, statusCode, message), originalErr)
}
