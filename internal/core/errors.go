package core

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/KongGithubDev/LightLink/internal/store"
)

// Code is a stable, machine-readable error code returned to clients.
type Code string

const (
	CodeOK                 Code = "ok"
	CodeUnauthorized       Code = "unauthorized"
	CodeInvalidBody        Code = "invalid_body"
	CodeInvalidJSON        Code = "invalid_json"
	CodeBadStatus          Code = "bad_status"
	CodeInvalidPin         Code = "invalid_pin"
	CodePinInUse           Code = "pin_in_use"
	CodePinTimeConflict    Code = "pin_time_conflict"
	CodeInvalidAddLight    Code = "invalid_add_light"
	CodeInvalidDeleteLight Code = "invalid_delete_light"
	CodeIntervalOverlap    Code = "interval_overlap"
	CodeInvalidInterval    Code = "invalid_interval"
	CodeStaleRequest       Code = "stale_request"
	CodeReplayDetected     Code = "replay_detected"
	CodeNotFound           Code = "not_found"
	CodeNameExists         Code = "name_exists"
	CodeNoUpdates          Code = "no_updates"
	CodeServerError        Code = "server_error"
)

// Error carries a client-facing code and an optional cause.
type Error struct {
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf returns an *Error with the given code and a formatted cause.
func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, Err: fmt.Errorf(format, args...)}
}

func fail(code Code) error {
	return &Error{Code: code}
}

// CodeOf maps err to its client-facing code. Catalog sentinels map to their
// codes; anything unrecognised is a server_error.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrNameExists):
		return CodeNameExists
	case errors.Is(err, store.ErrPinInUse):
		return CodePinInUse
	}
	return CodeServerError
}

// HTTPStatus returns the HTTP status used to report code.
func HTTPStatus(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeNameExists, CodePinInUse, CodePinTimeConflict, CodeIntervalOverlap,
		CodeStaleRequest, CodeReplayDetected:
		return http.StatusConflict
	case CodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
