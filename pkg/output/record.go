// Package output streams job lifecycle events as JSON lines.
//
// Every line is an envelope naming its payload type, the job it belongs to
// and the process that emitted it, so a consumer can tail a shared stream
// and route events without knowing the payload shapes up front.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Envelope types, versioned independently.
const (
	TypeTransition = "airq.job.transition.v1"
	TypeStage      = "airq.job.stage.v1"
	TypeSummary    = "airq.run.summary.v1"
	TypeError      = "airq.error.v1"
)

// Record is the envelope written on every line.
type Record struct {
	Type   string          `json:"type"`
	TS     time.Time       `json:"ts"`
	JobID  string          `json:"job_id"`
	Source string          `json:"source"`
	Data   json.RawMessage `json:"data"`
}

// TransitionRecord reports a job moving between states. Artifacts and
// Warnings are filled on completion, ErrorMessage on failure.
type TransitionRecord struct {
	From         string   `json:"from,omitempty"`
	To           string   `json:"to"`
	ErrorMessage string   `json:"error_message,omitempty"`
	Artifacts    []string `json:"artifacts,omitempty"`
	Warnings     int      `json:"warnings,omitempty"`
}

// StageRecord reports progress through extract, transform and load.
type StageRecord struct {
	Stage  string `json:"stage"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

const (
	StageStarted   = "started"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// SummaryRecord closes a run. Maps are keyed by dataset name.
type SummaryRecord struct {
	Artifacts     map[string]string `json:"artifacts"`
	Rows          map[string]int    `json:"rows"`
	Warnings      []string          `json:"warnings,omitempty"`
	Duration      time.Duration     `json:"duration_ns"`
	DurationHuman string            `json:"duration"`
}

// ErrorRecord carries a failure with optional stage and dataset context.
type ErrorRecord struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
	Dataset string `json:"dataset,omitempty"`
	Details any    `json:"details,omitempty"`
}

// ErrorRecord codes.
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeParseFailure = "PARSE_FAILURE"
	ErrCodeIOFailure    = "IO_FAILURE"
	ErrCodeInternal     = "INTERNAL"
)

var ErrWriterClosed = errors.New("output: writer closed")

// WriteError reports which step of emitting a line failed.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string { return "output: " + e.Op + ": " + e.Err.Error() }

func (e *WriteError) Unwrap() error { return e.Err }
