package output

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits job events. Implementations are shared by concurrent jobs.
type Writer interface {
	WriteTransition(ctx context.Context, jobID string, rec *TransitionRecord) error
	WriteStage(ctx context.Context, jobID string, rec *StageRecord) error
	WriteSummary(ctx context.Context, jobID string, rec *SummaryRecord) error
	WriteError(ctx context.Context, jobID string, rec *ErrorRecord) error
	Close() error
}

// JSONLWriter renders each event as one JSON line on an underlying stream.
// Lines from concurrent callers never interleave.
type JSONLWriter struct {
	source string
	clock  func() time.Time

	mu     sync.Mutex
	dst    io.Writer
	closed bool
}

var _ Writer = (*JSONLWriter)(nil)

// NewJSONLWriter stamps every line with source, for example "server" or "cli".
func NewJSONLWriter(w io.Writer, source string) *JSONLWriter {
	return &JSONLWriter{
		dst:    w,
		source: source,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

func (w *JSONLWriter) WriteTransition(ctx context.Context, jobID string, rec *TransitionRecord) error {
	return w.emit(ctx, TypeTransition, jobID, rec)
}

func (w *JSONLWriter) WriteStage(ctx context.Context, jobID string, rec *StageRecord) error {
	return w.emit(ctx, TypeStage, jobID, rec)
}

func (w *JSONLWriter) WriteSummary(ctx context.Context, jobID string, rec *SummaryRecord) error {
	return w.emit(ctx, TypeSummary, jobID, rec)
}

func (w *JSONLWriter) WriteError(ctx context.Context, jobID string, rec *ErrorRecord) error {
	return w.emit(ctx, TypeError, jobID, rec)
}

// Close stops further writes. The underlying stream stays open.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func (w *JSONLWriter) emit(ctx context.Context, kind, jobID string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	var line bytes.Buffer
	enc := json.NewEncoder(&line)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Record{Type: kind, TS: w.clock(), JobID: jobID, Source: w.source, Data: data}); err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// A writer may accept part of a line without an error. Keep going until
	// the line is out, and treat a zero-byte write as a stall.
	for p := line.Bytes(); len(p) > 0; {
		n, err := w.dst.Write(p)
		if err == nil && n == 0 {
			err = io.ErrShortWrite
		}
		if err != nil {
			return &WriteError{Op: "write", Err: err}
		}
		p = p[n:]
	}
	return nil
}

// Discard drops every event.
var Discard Writer = discard{}

type discard struct{}

func (discard) WriteTransition(context.Context, string, *TransitionRecord) error { return nil }
func (discard) WriteStage(context.Context, string, *StageRecord) error           { return nil }
func (discard) WriteSummary(context.Context, string, *SummaryRecord) error       { return nil }
func (discard) WriteError(context.Context, string, *ErrorRecord) error           { return nil }
func (discard) Close() error                                                     { return nil }
