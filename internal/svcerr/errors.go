// Package svcerr defines the error taxonomy shared by every NameGnome Serve
// component: a structured ServiceError type, sentinel markers, and a
// classifier that maps a marker to both an ErrorKind and a stable machine
// code for API responses and logs.
package svcerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrTimeout                = errors.New("timeout")
	ErrTransient              = errors.New("transient failure")
	ErrConfiguration          = errors.New("configuration error")
	ErrExternalTool           = errors.New("external tool error")
	ErrDisambiguationRequired = errors.New("disambiguation required")
	ErrLocked                 = errors.New("resource locked")
	ErrStalePlan              = errors.New("plan is stale")
	ErrFilesystem             = errors.New("filesystem error")
	ErrSchemaViolation        = errors.New("schema violation")
	ErrProviderUnavailable    = errors.New("provider unavailable")
)

// ErrorKind captures the taxonomy of service errors.
type ErrorKind string

const (
	ErrorKindValidation             ErrorKind = "validation_error"
	ErrorKindNotFound               ErrorKind = "not_found"
	ErrorKindTimeout                ErrorKind = "timeout"
	ErrorKindTransient              ErrorKind = "transient"
	ErrorKindConfiguration          ErrorKind = "configuration_error"
	ErrorKindExternal               ErrorKind = "external_error"
	ErrorKindDisambiguationRequired ErrorKind = "disambiguation_required"
	ErrorKindLocked                 ErrorKind = "locked"
	ErrorKindStalePlan              ErrorKind = "stale_plan"
	ErrorKindProviderUnavailable    ErrorKind = "provider_unavailable"
	ErrorKindFilesystem             ErrorKind = "filesystem_error"
	ErrorKindSchemaViolation        ErrorKind = "schema_violation"
	ErrorKindFatal                  ErrorKind = "fatal"
)

// ServiceError provides structured error context for request and job
// failures.
type ServiceError struct {
	Marker     error
	Kind       ErrorKind
	Stage      string
	Operation  string
	Message    string
	Code       string
	Hint       string
	DetailPath string
	Cause      error
}

func (e *ServiceError) Error() string {
	if e == nil {
		return ""
	}
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	if detail == "" {
		detail = "service failure"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", detail, e.Cause)
	}
	return detail
}

func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func (e *ServiceError) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	if e.Marker != nil && errors.Is(e.Marker, target) {
		return true
	}
	return errors.Is(e.Cause, target)
}

// Details exposes a snapshot of a ServiceError for structured logging or API
// responses.
type Details struct {
	Kind       ErrorKind
	Stage      string
	Operation  string
	Message    string
	Code       string
	Hint       string
	DetailPath string
	Cause      error
}

// Describe extracts structured error information when available.
func Describe(err error) Details {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr != nil {
		return Details{
			Kind:       svcErr.Kind,
			Stage:      svcErr.Stage,
			Operation:  svcErr.Operation,
			Message:    strings.TrimSpace(svcErr.Message),
			Code:       strings.TrimSpace(svcErr.Code),
			Hint:       strings.TrimSpace(svcErr.Hint),
			DetailPath: strings.TrimSpace(svcErr.DetailPath),
			Cause:      svcErr.Cause,
		}
	}
	return Details{
		Kind:    ErrorKindTransient,
		Message: strings.TrimSpace(errorMessage(err)),
		Cause:   err,
	}
}

// Wrap builds an error that carries stage/operation context and is tagged
// with marker for later classification. marker should be one of the
// exported sentinels above.
func Wrap(marker error, stage, operation, message string, err error) error {
	return wrapWithOptions(marker, stage, operation, message, err)
}

// WrapDetail attaches a detail path (e.g. a path to a captured diagnostic) to
// the resulting error.
func WrapDetail(marker error, stage, operation, message string, err error, detailPath string) error {
	return wrapWithOptions(marker, stage, operation, message, err, withDetailPath(detailPath))
}

// WrapHint attaches a stable error code and a user-facing hint to the
// resulting error.
func WrapHint(marker error, stage, operation, message, code, hint string, err error) error {
	return wrapWithOptions(marker, stage, operation, message, err, withCode(code), withHint(hint))
}

type wrapOption func(*ServiceError)

func withDetailPath(path string) wrapOption {
	return func(err *ServiceError) {
		if err != nil {
			err.DetailPath = strings.TrimSpace(path)
		}
	}
}

func withCode(code string) wrapOption {
	return func(err *ServiceError) {
		if err != nil {
			err.Code = strings.TrimSpace(code)
		}
	}
}

func withHint(hint string) wrapOption {
	return func(err *ServiceError) {
		if err != nil {
			err.Hint = strings.TrimSpace(hint)
		}
	}
}

func wrapWithOptions(marker error, stage, operation, message string, err error, opts ...wrapOption) error {
	if marker == nil {
		marker = ErrTransient
	}
	kind, code := classifyMarker(marker)
	serviceErr := &ServiceError{
		Marker:    marker,
		Kind:      kind,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Code:      code,
		Cause:     err,
	}
	if err != nil {
		var nested *ServiceError
		if errors.As(err, &nested) && nested != nil {
			if strings.TrimSpace(serviceErr.DetailPath) == "" {
				serviceErr.DetailPath = nested.DetailPath
			}
			if strings.TrimSpace(serviceErr.Code) == "" {
				serviceErr.Code = nested.Code
			}
			if strings.TrimSpace(serviceErr.Hint) == "" {
				serviceErr.Hint = nested.Hint
			}
		}
	}
	for _, opt := range opts {
		opt(serviceErr)
	}
	if serviceErr.Hint == "" && serviceErr.DetailPath != "" {
		serviceErr.Hint = "see detail_path for diagnostic output"
	}
	return serviceErr
}

// HTTPStatus maps a service error to the HTTP status code the httpapi layer
// should return, per the error-kind table in the error handling design.
func HTTPStatus(err error) int {
	kind, _ := classifyMarker(markerOf(err))
	switch kind {
	case ErrorKindValidation, ErrorKindSchemaViolation:
		return http.StatusUnprocessableEntity
	case ErrorKindDisambiguationRequired:
		return http.StatusConflict
	case ErrorKindLocked:
		return http.StatusLocked
	case ErrorKindStalePlan:
		return http.StatusConflict
	case ErrorKindFilesystem:
		return http.StatusUnprocessableEntity
	case ErrorKindProviderUnavailable:
		return http.StatusServiceUnavailable
	case ErrorKindNotFound:
		return http.StatusNotFound
	case ErrorKindTimeout:
		return http.StatusGatewayTimeout
	case ErrorKindConfiguration:
		return http.StatusInternalServerError
	case ErrorKindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func markerOf(err error) error {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr != nil && svcErr.Marker != nil {
		return svcErr.Marker
	}
	return err
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

func classifyMarker(marker error) (ErrorKind, string) {
	switch {
	case errors.Is(marker, ErrValidation):
		return ErrorKindValidation, "E_VALIDATION"
	case errors.Is(marker, ErrNotFound):
		return ErrorKindNotFound, "E_NOT_FOUND"
	case errors.Is(marker, ErrTimeout):
		return ErrorKindTimeout, "E_TIMEOUT"
	case errors.Is(marker, ErrConfiguration):
		return ErrorKindConfiguration, "E_CONFIGURATION"
	case errors.Is(marker, ErrExternalTool):
		return ErrorKindExternal, "E_EXTERNAL"
	case errors.Is(marker, ErrDisambiguationRequired):
		return ErrorKindDisambiguationRequired, "E_DISAMBIGUATION_REQUIRED"
	case errors.Is(marker, ErrLocked):
		return ErrorKindLocked, "E_LOCKED"
	case errors.Is(marker, ErrStalePlan):
		return ErrorKindStalePlan, "E_STALE_PLAN"
	case errors.Is(marker, ErrFilesystem):
		return ErrorKindFilesystem, "E_FILESYSTEM"
	case errors.Is(marker, ErrSchemaViolation):
		return ErrorKindSchemaViolation, "E_SCHEMA_VIOLATION"
	case errors.Is(marker, ErrProviderUnavailable):
		return ErrorKindProviderUnavailable, "E_PROVIDER_UNAVAILABLE"
	case errors.Is(marker, ErrTransient):
		return ErrorKindTransient, "E_TRANSIENT"
	default:
		return ErrorKindTransient, "E_TRANSIENT"
	}
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
