package fhir

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a system name that is not registered in the
// system configuration.
type ConfigurationError struct {
	System string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("System - %s not found", e.System)
}

// NotFoundError reports a table or partition that does not exist at
// Location. It is recovered by the resource service and never surfaced.
type NotFoundError struct {
	Location string
	Err      error
}

func (e *NotFoundError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("table not found at %s: %v", e.Location, e.Err)
	}
	return fmt.Sprintf("table not found at %s", e.Location)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// ValidationError reports a malformed client-supplied value.
type ValidationError struct {
	Param  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Param != "" && e.Value != "":
		return fmt.Sprintf("invalid %s %q: %s", e.Param, e.Value, e.Reason)
	case e.Param != "":
		return fmt.Sprintf("invalid %s: %s", e.Param, e.Reason)
	case e.Value != "":
		return fmt.Sprintf("invalid value %q: %s", e.Value, e.Reason)
	}
	return "invalid value: " + e.Reason
}

// QueryExecutionError reports a storage or engine failure while reading or
// refining data. It is not retried.
type QueryExecutionError struct {
	Op  string
	Err error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }

// WithParam names the offending parameter on a ValidationError. Other
// errors are returned unchanged.
func WithParam(err error, param string) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		named := *ve
		named.Param = param
		return &named
	}
	return err
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
