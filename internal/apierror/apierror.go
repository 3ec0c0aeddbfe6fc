// Package apierror defines the error codes the HTTP surface answers with.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is an error with a client facing code.
type Error struct {
	Code string
	Msg  string
}

const (
	Unknown     = "Unknown"
	BadRequest  = "BadRequest"
	NotFound    = "NotFound"
	NotReady    = "NotReady"
	RateLimited = "RateLimited"
	Unavailable = "Unavailable"
	RenderError = "RenderError"
	Internal    = "Internal"
)

func (e Error) Error() string {
	return fmt.Sprintf("gridgate: %s - %s", e.Code, e.Msg)
}

// CanonicalCode returns the code of the first Error in err's chain.
func CanonicalCode(err error) string {
	var e Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Unknown
}

// HTTPStatus maps a code to its response status.
func HTTPStatus(code string) int {
	switch code {
	case BadRequest:
		return http.StatusUnprocessableEntity
	case NotFound:
		return http.StatusNotFound
	case NotReady:
		return http.StatusConflict
	case RateLimited:
		return http.StatusTooManyRequests
	case Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
