package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/HadaRoshan/FHIR-api/internal/platform/fhir"
)

// ErrorHandler renders every error returned by a handler as a FHIR
// OperationOutcome. Domain errors are mapped with fhir.OutcomeForError;
// echo HTTP errors keep their status.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			status  int
			outcome *fhir.OperationOutcome
			he      *echo.HTTPError
		)
		if errors.As(err, &he) {
			status = he.Code
			outcome = fhir.NewOperationOutcome(fhir.IssueSeverityError, issueTypeForStatus(status), fmt.Sprint(he.Message))
		} else {
			status, outcome = fhir.OutcomeForError(err)
		}

		if status >= http.StatusInternalServerError {
			logger.Error().Err(err).
				Str("request_id", fmt.Sprintf("%v", c.Get("request_id"))).
				Int("status", status).
				Msg("request failed")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, outcome)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("failed to write error response")
		}
	}
}

func issueTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return fhir.IssueTypeInvalid
	case http.StatusUnauthorized:
		return fhir.IssueTypeLogin
	case http.StatusForbidden:
		return fhir.IssueTypeSecurity
	case http.StatusNotFound:
		return fhir.IssueTypeNotFound
	case http.StatusMethodNotAllowed:
		return fhir.IssueTypeNotSupported
	case http.StatusTooManyRequests:
		return fhir.IssueTypeThrottled
	case http.StatusGatewayTimeout:
		return fhir.IssueTypeTimeout
	}
	if status >= http.StatusInternalServerError {
		return fhir.IssueTypeException
	}
	return fhir.IssueTypeProcessing
}
