package custom_errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ISqlGenError is implemented by every error the builders return on purpose.
type ISqlGenError interface {
	error
	IsSqlGenError() bool
	GetCode() int
}

// ConfigError is a missing or inconsistent definition: an unknown fact table,
// a segment without SQL, a metric without a denominator.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

func (e *ConfigError) IsSqlGenError() bool {
	return true
}

func (e *ConfigError) GetCode() int {
	return 400
}

// NotSupportedError is returned when a dialect lacks an optional capability.
type NotSupportedError struct {
	Dialect string
	Feature string
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Dialect, e.Feature)
}

func (e *NotSupportedError) IsSqlGenError() bool {
	return true
}

func (e *NotSupportedError) GetCode() int {
	return 501
}

// ValidationError rejects a metric or column definition before any SQL is
// generated.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) IsSqlGenError() bool {
	return true
}

func (e *ValidationError) GetCode() int {
	return 422
}

func NewConfigError(format string, args ...any) error {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}

func NewNotSupportedError(dialect string, feature string) error {
	return &NotSupportedError{Dialect: dialect, Feature: feature}
}

func NewValidationError(field string, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func IsConfigError(err error) bool {
	_, ok := errors.Cause(err).(*ConfigError)
	return ok
}

func IsNotSupported(err error) bool {
	_, ok := errors.Cause(err).(*NotSupportedError)
	return ok
}

func IsValidationError(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

// Code maps an error to an HTTP-like status for callers that surface it.
func Code(err error) int {
	if e, ok := errors.Cause(err).(ISqlGenError); ok {
		return e.GetCode()
	}
	return 500
}
