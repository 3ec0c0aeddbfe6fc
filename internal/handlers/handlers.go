// Package handlers implements the gateway's HTTP API.
package handlers

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sdko-org/gridgate/internal/apierror"
	"github.com/sdko-org/gridgate/internal/jobs"
	"github.com/sdko-org/gridgate/internal/metrics"
	"github.com/sdko-org/gridgate/internal/parts"
	"github.com/sdko-org/gridgate/internal/render"
	"github.com/sdko-org/gridgate/internal/worker"
)

const (
	Version = "0.1.0"

	defaultMaxBodyBytes = 1 << 20
)

// Admitter decides whether a job submission may proceed.
type Admitter interface {
	Admit(clientIP string) error
}

// Submitter queues a job for rendering.
type Submitter interface {
	Submit(task worker.Task) error
}

// Renderer renders a request synchronously.
type Renderer interface {
	Render(ctx context.Context, req parts.Request) (render.Artifact, error)
}

// ResultLookup finds previously rendered single parts by fingerprint.
type ResultLookup interface {
	Get(key string) ([]byte, bool)
}

type Deps struct {
	Jobs      *jobs.Store
	Results   ResultLookup
	Admission Admitter
	Pool      Submitter
	Renderer  Renderer
	ClientIP  ClientIPFunc
	// MaxBodyBytes bounds request bodies; zero means 1 MiB.
	MaxBodyBytes int64
}

type Handler struct {
	jobs         *jobs.Store
	results      ResultLookup
	admission    Admitter
	pool         Submitter
	renderer     Renderer
	clientIP     ClientIPFunc
	maxBodyBytes int64
	log          *logrus.Entry
}

func New(logger *logrus.Logger, deps Deps) *Handler {
	if deps.ClientIP == nil {
		deps.ClientIP = ClientIP(false)
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = defaultMaxBodyBytes
	}
	return &Handler{
		jobs:         deps.Jobs,
		results:      deps.Results,
		admission:    deps.Admission,
		pool:         deps.Pool,
		renderer:     deps.Renderer,
		clientIP:     deps.ClientIP,
		maxBodyBytes: deps.MaxBodyBytes,
		log:          logger.WithField("component", "api"),
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: Version})
}

type decodeFunc func([]byte) (parts.Request, error)

func decodeBin(b []byte) (parts.Request, error)       { return parts.DecodeBin(b) }
func decodeBaseplate(b []byte) (parts.Request, error) { return parts.DecodeBaseplate(b) }
func decodePlate(b []byte) (parts.Request, error)     { return parts.DecodePlate(b) }
func decodePlate3MF(b []byte) (parts.Request, error)  { return parts.DecodePlate3MF(b) }

// readRequest decodes and validates the body of r.
func (h *Handler) readRequest(w http.ResponseWriter, r *http.Request, decode decodeFunc) (parts.Request, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		return nil, &parts.ValidationError{Field: "body", Msg: err.Error()}
	}
	req, err := decode(body)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func (h *Handler) renderSync(decode decodeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := h.readRequest(w, r, decode)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		artifact, err := h.renderer.Render(r.Context(), req)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeArtifact(w, artifact.Data, artifact.Filename, artifact.MediaType)
	}
}

type jobResponse struct {
	JobID     string      `json:"jobId"`
	Status    jobs.Status `json:"status"`
	ResultURL string      `json:"resultUrl,omitempty"`
	Error     string      `json:"error,omitempty"`
}

// submitJob admits the request, registers a job and either completes it
// from the result cache or hands it to the worker pool.
func (h *Handler) submitJob(jobType jobs.Type, decode decodeFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := h.readRequest(w, r, decode)
		if err != nil {
			h.writeError(w, r, err)
			return
		}

		clientIP := h.clientIP(r)
		if err := h.admission.Admit(clientIP); err != nil {
			h.writeError(w, r, err)
			return
		}

		rec := h.jobs.Create(jobType, clientIP)
		metrics.RecordJobCreated(string(jobType))
		log := h.log.WithFields(logrus.Fields{"job_id": rec.ID, "type": jobType, "client_ip": clientIP})

		key, filename := singlePart(req)
		if key != "" && h.results != nil {
			if data, ok := h.results.Get(key); ok {
				h.jobs.SetComplete(rec.ID, data, filename, render.MediaTypeSTL)
				metrics.RecordJobFinished(string(jobType), string(jobs.StatusComplete))
				log.Info("Job served from cache")
				writeJSON(w, http.StatusOK, jobResponse{JobID: rec.ID, Status: jobs.StatusComplete})
				return
			}
		}

		if err := h.pool.Submit(worker.Task{JobID: rec.ID, Request: req, CacheKey: key}); err != nil {
			h.writeError(w, r, err)
			return
		}
		log.WithField("client_active_jobs", h.jobs.ActiveCountFor(clientIP)).Info("Job queued")
		writeJSON(w, http.StatusAccepted, jobResponse{JobID: rec.ID, Status: jobs.StatusPending})
	}
}

// singlePart returns the cache key and filename of bin and baseplate
// requests, and empty strings for plates.
func singlePart(req parts.Request) (key, filename string) {
	switch r := req.(type) {
	case parts.BinRequest:
		return r.Fingerprint(), parts.BinFilename(r, -1)
	case parts.BaseplateRequest:
		return r.Fingerprint(), parts.BaseplateFilename(r)
	default:
		return "", ""
	}
}

var errJobNotFound = apierror.Error{Code: apierror.NotFound, Msg: "Job not found"}

func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.jobs.Get(mux.Vars(r)["id"])
	if !ok {
		h.writeError(w, r, errJobNotFound)
		return
	}

	resp := jobResponse{JobID: rec.ID, Status: rec.Status}
	switch rec.Status {
	case jobs.StatusComplete:
		resp.ResultURL = "/api/jobs/" + rec.ID + "/result"
	case jobs.StatusFailed:
		resp.Error = rec.Error
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) JobResult(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.jobs.Get(mux.Vars(r)["id"])
	if !ok {
		h.writeError(w, r, errJobNotFound)
		return
	}
	if rec.Status != jobs.StatusComplete {
		h.writeError(w, r, &notReadyError{status: rec.Status})
		return
	}
	writeArtifact(w, rec.ResultBytes, rec.ResultFilename, rec.ResultMediaType)
}
