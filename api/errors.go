package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"firetrack/domain"
)

var errInvalidBody = errors.New("invalid body")

func statusFor(err error) int {
	switch {
	case domain.IsNotFound(err), errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmptyTaskText), errors.Is(err, errInvalidBody):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the status that matches err. Server side failures
// are logged.
func writeError(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		c.Logger().Error(err)
	}
	return c.String(status, err.Error())
}
