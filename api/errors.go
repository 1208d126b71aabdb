package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"study-mate/domain"
	"study-mate/validation"
)

var (
	errInvalidBody  = errors.New("invalid body")
	errEmptyPatch   = errors.New("nothing to update")
	errDuplicate    = errors.New("duplicate request")
	errUnauthorized = errors.New("unauthorized")
)

// statusForError maps handler errors to a status code and error stage.
func statusForError(err error) (int, string) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs), errors.Is(err, errInvalidBody), errors.Is(err, errEmptyPatch):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, errMissingAuthorization), errors.Is(err, errBadAuthorization), errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "auth"
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrInvalidStatus):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, domain.ErrConcurrencyConflict), errors.Is(err, errDuplicate):
		return http.StatusConflict, "conflict"
	default:
		return http.StatusInternalServerError, "storage"
	}
}

// writeError renders err as a JSON error body. Server errors are logged and
// their detail is not returned to the client.
func writeError(c echo.Context, m *requestMetrics, err error) error {
	status, stage := statusForError(err)
	m.SetErrorStage(stage)
	body := errorResponse{Message: err.Error()}
	if fields := validation.Fields(err); fields != nil {
		body.Message = "validation failed"
		body.Errors = fields
	}
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
		body.Message = http.StatusText(status)
	}
	return c.JSON(status, body)
}
