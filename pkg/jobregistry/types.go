package jobregistry

import (
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/airq/pkg/load"
	"github.com/3leaps/airq/pkg/pipeline"
)

// JobState is the lifecycle state of a job.
//
// NOTE: These values are returned by the HTTP API and persisted in job.json;
// they are part of the stable contract.
type JobState string

const (
	JobStateSubmitted      JobState = "submitted"
	JobStateProcessing     JobState = "processing"
	JobStateCompleted      JobState = "completed"
	JobStateFailed         JobState = "failed"
	JobStateFailedCritical JobState = "failed_critical"
)

// IsTerminal reports whether no further transitions can occur.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateFailedCritical:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a forward step.
//
// submitted may also go straight to failed_critical when the job faults
// before it starts processing.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobStateSubmitted:
		return next == JobStateProcessing || next == JobStateFailedCritical
	case JobStateProcessing:
		return next.IsTerminal()
	}
	return false
}

// SubmittedFiles records the original names of the uploaded inputs.
type SubmittedFiles struct {
	History    string `json:"history"`
	Measures   string `json:"measures"`
	Indicators string `json:"json"`
}

// JobRecord is the state of one job as reported to pollers.
//
// The schema is designed for backward-compatible extension (additive fields).
type JobRecord struct {
	JobID              string         `json:"job_id"`
	Status             JobState       `json:"status"`
	SubmittedFileNames SubmittedFiles `json:"submitted_file_names"`

	// Result and Statistics are set only when the job completed.
	Result     *load.Artifacts      `json:"result,omitempty"`
	Statistics *pipeline.Statistics `json:"statistics,omitempty"`

	// ErrorMessage is set only when the job failed.
	ErrorMessage string `json:"error_message,omitempty"`

	// Warnings lists transform steps that were skipped.
	Warnings []string `json:"warnings,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Clone returns a deep copy of r.
func (r *JobRecord) Clone() *JobRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Result != nil {
		v := *r.Result
		out.Result = &v
	}
	if r.Statistics != nil {
		v := *r.Statistics
		out.Statistics = &v
	}
	if r.Warnings != nil {
		out.Warnings = append([]string(nil), r.Warnings...)
	}
	if r.StartedAt != nil {
		v := *r.StartedAt
		out.StartedAt = &v
	}
	if r.EndedAt != nil {
		v := *r.EndedAt
		out.EndedAt = &v
	}
	return &out
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.New().String()
}

func jobSortTime(r JobRecord) time.Time {
	return r.CreatedAt.UTC()
}
