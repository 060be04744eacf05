package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class. Codes are stable across releases: they
// are part of the wire protocol and of the integration API contract.
type Code string

const (
	CodeValidationFailed         Code = "VALIDATION_FAILED"
	CodeInvalidPayload           Code = "INVALID_PAYLOAD"
	CodeInvalidSignature         Code = "INVALID_SIGNATURE"
	CodeSignerMismatch           Code = "SIGNER_MISMATCH"
	CodeInvalidTimestamp         Code = "INVALID_TIMESTAMP"
	CodeInvalidURLFormat         Code = "INVALID_URL_FORMAT"
	CodeFolloweeIdentityMismatch Code = "FOLLOWEE_IDENTITY_MISMATCH"
	CodeFollowDisabled           Code = "FOLLOW_DISABLED"
	CodeConnectionAlreadyExists  Code = "CONNECTION_ALREADY_EXISTS"
	CodeForbidden                Code = "FORBIDDEN"
	CodeUnauthenticated          Code = "UNAUTHENTICATED"
	CodeNotFound                 Code = "NOT_FOUND"
	CodeNodeNotFound             Code = "NODE_NOT_FOUND"
	CodeInternal                 Code = "INTERNAL_ERROR"
)

// Error is a coded domain error. The code decides the HTTP status on the
// protocol surface and the per-failure code on the integration surface;
// the message is operator-facing detail and never part of the contract.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds a coded error with a formatted detail message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the failure code from err, or CodeInternal when err is
// not a protocol error.
func CodeOf(err error) Code {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps a failure code to the status used on the raw protocol
// surface.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidationFailed, CodeInvalidPayload, CodeInvalidSignature,
		CodeInvalidTimestamp, CodeInvalidURLFormat:
		return http.StatusBadRequest
	case CodeSignerMismatch, CodeFolloweeIdentityMismatch, CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeForbidden, CodeFollowDisabled:
		return http.StatusForbidden
	case CodeNotFound, CodeNodeNotFound:
		return http.StatusNotFound
	case CodeConnectionAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
