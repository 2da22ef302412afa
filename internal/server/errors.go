package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/dispatch"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/projects"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/store"
)

// ErrInvalidCredentials indicates invalid operator credentials
type ErrInvalidCredentials struct{}

func (e *ErrInvalidCredentials) Error() string {
	return "invalid operator or password"
}

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrAuthDisabled is returned by the token endpoint when no signing secret is configured.
var ErrAuthDisabled = errors.New("authentication is not enabled")

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		invalidCreds *ErrInvalidCredentials
		validation   *ErrValidation
		fieldErrs    validator.ValidationErrors
	)
	switch {
	case errors.As(err, &invalidCreds):
		return http.StatusUnauthorized
	case errors.As(err, &validation), errors.As(err, &fieldErrs),
		errors.Is(err, projects.ErrPlayIndexOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrAuthDisabled):
		return http.StatusNotFound
	case errors.Is(err, projects.ErrParentNotCompleted),
		errors.Is(err, projects.ErrRunNotCompleted),
		errors.Is(err, projects.ErrNoParentIteration),
		errors.Is(err, store.ErrRunTerminal):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// validationMessage flattens validator field errors into one line.
func validationMessage(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err.Error()
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min", "max":
		return fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
