package common

import (
	"errors"
	"net/http"
)

// AppError is an error that knows how it should be rendered to API clients.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// ErrorRule renders errors matching Target. Message falls back to the error text and Details, when
// set, extracts a payload from the matched error.
type ErrorRule struct {
	Target  error
	Status  int
	Code    string
	Message string
	Details func(error) any
}

// ErrorMap translates domain errors into AppErrors. Rules are tried in order; an AppError anywhere
// in the chain wins over the rules.
type ErrorMap []ErrorRule

// Resolve returns the AppError for err, or false when nothing matches.
func (m ErrorMap) Resolve(err error) (*AppError, bool) {
	if err == nil {
		return nil, false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.HTTPStatus == 0 {
			appErr.HTTPStatus = http.StatusInternalServerError
		}
		return appErr, true
	}
	for _, rule := range m {
		if !errors.Is(err, rule.Target) {
			continue
		}
		out := &AppError{Code: rule.Code, Message: rule.Message, HTTPStatus: rule.Status, Err: err}
		if out.Message == "" {
			out.Message = err.Error()
		}
		if rule.Details != nil {
			out.Details = rule.Details(err)
		}
		return out, true
	}
	return nil, false
}
