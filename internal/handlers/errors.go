package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/sdko-org/gridgate/internal/admission"
	"github.com/sdko-org/gridgate/internal/apierror"
	"github.com/sdko-org/gridgate/internal/jobs"
	"github.com/sdko-org/gridgate/internal/parts"
	"github.com/sdko-org/gridgate/internal/render"
	"github.com/sdko-org/gridgate/internal/worker"
)

type notReadyError struct {
	status jobs.Status
}

func (e *notReadyError) Error() string {
	return "job not complete: " + string(e.status)
}

type fieldError struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

type errorResponse struct {
	Detail string       `json:"detail"`
	Status jobs.Status  `json:"status,omitempty"`
	Errors []fieldError `json:"errors,omitempty"`
}

// writeError maps err to its status code and JSON body.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		code     string
		body     errorResponse
		invalid  parts.ValidationErrors
		field    *parts.ValidationError
		rejected *admission.Rejection
		notReady *notReadyError
		failed   *render.RenderError
		known    apierror.Error
	)

	switch {
	case errors.As(err, &invalid):
		code = apierror.BadRequest
		body.Detail = "Invalid request"
		for _, ve := range invalid {
			body.Errors = append(body.Errors, fieldError{Field: ve.Field, Msg: ve.Msg})
		}
	case errors.As(err, &field):
		code = apierror.BadRequest
		body.Detail = "Invalid request"
		body.Errors = []fieldError{{Field: field.Field, Msg: field.Msg}}
	case errors.As(err, &rejected):
		code = apierror.RateLimited
		body.Detail = rejected.Detail
		w.Header().Set("Retry-After", strconv.Itoa(rejected.RetryAfterSeconds()))
	case errors.As(err, &notReady):
		code = apierror.NotReady
		body.Detail = "Job not complete"
		body.Status = notReady.status
	case errors.Is(err, worker.ErrPoolClosed), errors.Is(err, worker.ErrQueueFull):
		code = apierror.Unavailable
		body.Detail = "Job could not be queued: " + err.Error()
	case errors.As(err, &failed):
		code = apierror.RenderError
		body.Detail = "STL generation failed: " + failed.Error()
	case errors.As(err, &known):
		code = known.Code
		body.Detail = known.Msg
	default:
		code = apierror.Internal
		body.Detail = "Internal server error"
	}

	status := apierror.HTTPStatus(code)
	log := h.log.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"code":   code,
	})
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("Request failed")
	} else {
		log.WithError(err).Debug("Request rejected")
	}
	writeJSON(w, status, body)
}
