package handlers

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/airq/internal/errors"
	"github.com/3leaps/airq/pkg/extract"
	"github.com/3leaps/airq/pkg/jobregistry"
	"github.com/3leaps/airq/pkg/pipeline"
	"github.com/3leaps/airq/pkg/table"
)

// Multipart field names of a submission.
const (
	FieldHistory    = "file_history"
	FieldMeasures   = "file_measures"
	FieldIndicators = "file_json"
)

// multipartMemory is the part of a form held in memory before spilling to
// temporary files.
const multipartMemory = 8 << 20

// Submitter schedules jobs. *jobregistry.Executor satisfies it.
type Submitter interface {
	Submit(ctx context.Context, jobID string, sub jobregistry.Submission) (*jobregistry.JobRecord, error)
	Store() jobregistry.Store
}

// SourceBuilder turns staged paths into extraction sources.
// *pipeline.Pipeline satisfies it.
type SourceBuilder interface {
	Sources(ctx context.Context, locs pipeline.Locations) (extract.Sources, error)
	MatchesDiscovery(d table.Dataset, name string) bool
}

// JobsOptions configures JobsHandler.
type JobsOptions struct {
	MaxUploadBytes int64

	// OutputBase maps a job id to its artifact base location.
	OutputBase func(jobID string) string

	// KeepUploads retains staged inputs after the job finishes.
	KeepUploads bool

	Logger *zap.Logger
}

// SubmitResponse is the body of an accepted submission.
type SubmitResponse struct {
	JobID  string               `json:"job_id"`
	Status jobregistry.JobState `json:"status"`
}

// JobListResponse is the body of GET /v1/etl/jobs.
type JobListResponse struct {
	Jobs []jobregistry.JobRecord `json:"jobs"`
}

// JobsHandler serves the ETL job API.
type JobsHandler struct {
	submitter Submitter
	sources   SourceBuilder
	staging   *jobregistry.Staging
	opts      JobsOptions
}

func NewJobsHandler(submitter Submitter, sources SourceBuilder, staging *jobregistry.Staging, opts JobsOptions) *JobsHandler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &JobsHandler{submitter: submitter, sources: sources, staging: staging, opts: opts}
}

// Routes mounts the job endpoints on r.
func (h *JobsHandler) Routes(r chi.Router) {
	r.Post("/", h.Submit)
	r.Get("/", h.List)
	r.Get("/{jobID}", h.Get)
}

type uploadField struct {
	dataset table.Dataset
	field   string
}

var uploadFields = []uploadField{
	{table.History, FieldHistory},
	{table.Measures, FieldMeasures},
	{table.Indicators, FieldIndicators},
}

// Submit stages the three uploads and schedules a job. Stage failures are
// never reported here; callers poll the job.
func (h *JobsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.opts.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, r, apperrors.NewPayloadTooLarge(
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)))
			return
		}
		respondWithError(w, r, apperrors.NewInvalidRequest("invalid multipart form", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := make(map[table.Dataset]*multipart.FileHeader, len(uploadFields))
	for _, f := range uploadFields {
		fhs := r.MultipartForm.File[f.field]
		if len(fhs) == 0 {
			respondWithError(w, r, apperrors.NewInvalidRequest(fmt.Sprintf("missing file field %q", f.field), nil).
				WithDetails(map[string]any{"field": f.field}))
			return
		}
		headers[f.dataset] = fhs[0]
	}

	jobID := jobregistry.NewJobID()
	logger := h.opts.Logger.With(zap.String("job_id", jobID))

	var locs pipeline.Locations
	var files jobregistry.SubmittedFiles
	for _, f := range uploadFields {
		fh := headers[f.dataset]
		if !h.sources.MatchesDiscovery(f.dataset, fh.Filename) {
			logger.Warn("Upload name does not match the expected pattern",
				zap.String("dataset", f.dataset.String()),
				zap.String("filename", fh.Filename))
		}
		path, err := h.stage(jobID, f.dataset, fh)
		if err != nil {
			_ = h.staging.Remove(jobID)
			respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "failed to stage upload"))
			return
		}
		switch f.dataset {
		case table.History:
			locs.History, files.History = path, fh.Filename
		case table.Measures:
			locs.Measures, files.Measures = path, fh.Filename
		default:
			locs.Indicators, files.Indicators = path, fh.Filename
		}
	}

	srcs, err := h.sources.Sources(r.Context(), locs)
	if err != nil {
		_ = h.staging.Remove(jobID)
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "failed to prepare sources"))
		return
	}

	sub := jobregistry.Submission{
		Files:   files,
		Sources: srcs,
		Output:  h.opts.OutputBase(jobID),
	}
	if !h.opts.KeepUploads {
		staging := h.staging
		sub.Cleanup = func() {
			if err := staging.Remove(jobID); err != nil {
				logger.Warn("Failed to remove staged uploads", zap.Error(err))
			}
		}
	}

	rec, err := h.submitter.Submit(r.Context(), jobID, sub)
	if err != nil {
		_ = h.staging.Remove(jobID)
		if errors.Is(err, jobregistry.ErrShuttingDown) {
			respondWithError(w, r, apperrors.NewServiceUnavailable("server is shutting down"))
			return
		}
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "failed to submit job"))
		return
	}

	apperrors.WriteJSON(w, http.StatusAccepted, SubmitResponse{JobID: rec.JobID, Status: rec.Status})
}

func (h *JobsHandler) stage(jobID string, d table.Dataset, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	return h.staging.Put(jobID, d.String(), fh.Filename, f)
}

// Get returns the job record. Non-terminal records are reported as they are.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	rec, err := h.submitter.Store().Get(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobregistry.ErrNotFound) {
			respondWithError(w, r, apperrors.NewNotFound(fmt.Sprintf("job %s not found", jobID)))
			return
		}
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "failed to read job"))
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, rec)
}

// List returns all jobs, newest first.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	recs, err := h.submitter.Store().List(r.Context())
	if err != nil {
		respondWithError(w, r, apperrors.WrapInternal(r.Context(), err, "failed to list jobs"))
		return
	}
	if recs == nil {
		recs = []jobregistry.JobRecord{}
	}
	apperrors.WriteJSON(w, http.StatusOK, JobListResponse{Jobs: recs})
}
