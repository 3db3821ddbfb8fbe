package main

import (
	"errors"

	"github.com/namegnome/serve/internal/apiclient"
)

const (
	exitOK                  = 0
	exitGenericError        = 1
	exitValidation          = 2
	exitPartial             = 3
	exitLocked              = 4
	exitProviderUnavailable = 5
)

// exitCodeError lets a RunE report a specific exit code (e.g. exitPartial
// for a 207-equivalent apply result) without the error text it carries
// being treated as a hard command failure.
type exitCodeError struct {
	code int
	err  error
}

func (e *exitCodeError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *exitCodeError) Unwrap() error { return e.err }

func newExitCodeError(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitCodeError{code: code, err: err}
}

// exitCodeForAPIError maps a daemon-returned APIError's machine code to the
// CLI exit code spec.md §6 assigns it; any other error (a dial failure, a
// usage error cobra raised itself) falls back to a generic failure code.
func exitCodeForAPIError(err error) int {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case "E_VALIDATION", "E_SCHEMA_VIOLATION":
			return exitValidation
		case "E_LOCKED":
			return exitLocked
		case "E_PROVIDER_UNAVAILABLE":
			return exitProviderUnavailable
		}
	}
	return exitGenericError
}
