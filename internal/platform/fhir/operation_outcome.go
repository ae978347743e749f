package fhir

import (
	"errors"
	"fmt"
	"net/http"
)

// OperationOutcome severity levels per FHIR R4.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes per FHIR R4.
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeRequired     = "required"
	IssueTypeValue        = "value"
	IssueTypeNotFound     = "not-found"
	IssueTypeProcessing   = "processing"
	IssueTypeSecurity     = "security"
	IssueTypeLogin        = "login"
	IssueTypeThrottled    = "throttled"
	IssueTypeNotSupported = "not-supported"
	IssueTypeException    = "exception"
	IssueTypeTimeout      = "timeout"
)

type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Expression  []string `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

// HasErrors returns true if the outcome contains any error or fatal issues.
func (o *OperationOutcome) HasErrors() bool {
	for _, issue := range o.Issue {
		if issue.Severity == IssueSeverityError || issue.Severity == IssueSeverityFatal {
			return true
		}
	}
	return false
}

// ValidationOutcome creates an OperationOutcome for validation errors.
func ValidationOutcome(field, message string) *OperationOutcome {
	issue := OperationOutcomeIssue{
		Severity:    IssueSeverityError,
		Code:        IssueTypeInvalid,
		Diagnostics: message,
	}
	if field != "" {
		issue.Diagnostics = fmt.Sprintf("%s: %s", field, message)
		issue.Expression = []string{field}
	}
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue:        []OperationOutcomeIssue{issue},
	}
}

// InternalErrorOutcome creates an OperationOutcome for internal server errors.
func InternalErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityFatal, IssueTypeException, diagnostics)
}

// ThrottleOutcome creates a 429-style OperationOutcome indicating the server is
// rate-limiting the client.
func ThrottleOutcome() *OperationOutcome {
	return NewOperationOutcome(
		IssueSeverityError,
		IssueTypeThrottled,
		"Rate limit exceeded. Please retry after a delay.",
	)
}

// OutcomeForError maps the error taxonomy onto an HTTP status and an
// OperationOutcome body. Unclassified errors are internal errors.
func OutcomeForError(err error) (int, *OperationOutcome) {
	var (
		ve *ValidationError
		ce *ConfigurationError
		qe *QueryExecutionError
		nf *NotFoundError
	)
	switch {
	case errors.As(err, &ve):
		outcome := NewOperationOutcome(IssueSeverityError, IssueTypeInvalid, ve.Error())
		if ve.Param != "" {
			outcome.Issue[0].Expression = []string{ve.Param}
		}
		return http.StatusBadRequest, outcome
	case errors.As(err, &ce):
		return http.StatusBadRequest, NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, ce.Error())
	case errors.As(err, &nf):
		return http.StatusNotFound, NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, nf.Error())
	case errors.As(err, &qe):
		return http.StatusInternalServerError, InternalErrorOutcome(qe.Error())
	}
	return http.StatusInternalServerError, InternalErrorOutcome(err.Error())
}
