package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	apperrors "github.com/3leaps/airq/internal/errors"
	"github.com/3leaps/airq/internal/server/handlers"
	"github.com/3leaps/airq/pkg/jobregistry"
)

var jobsServer string

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Submit and poll jobs on a running server",
	Long: `Submit and poll ETL jobs on a running 'airq serve'.

The server address defaults to the configured server.host and server.port.`,
}

var jobsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Upload three sources and start a job",
	RunE:  runJobsSubmit,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show status for a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, newest first",
	RunE:  runJobsList,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsSubmitCmd)
	jobsCmd.AddCommand(jobsStatusCmd)
	jobsCmd.AddCommand(jobsListCmd)

	jobsCmd.PersistentFlags().StringVar(&jobsServer, "server", "", "Server base URL (e.g. http://localhost:8080)")

	jobsSubmitCmd.Flags().String("history", "", "History CSV file")
	jobsSubmitCmd.Flags().String("measures", "", "Measures workbook file")
	jobsSubmitCmd.Flags().String("json", "", "Indicator JSON file")
	jobsSubmitCmd.Flags().Bool("wait", false, "Poll until the job reaches a terminal state")
	jobsSubmitCmd.Flags().Duration("poll-interval", time.Second, "Interval between polls with --wait")
	_ = jobsSubmitCmd.MarkFlagRequired("history")
	_ = jobsSubmitCmd.MarkFlagRequired("measures")
	_ = jobsSubmitCmd.MarkFlagRequired("json")

	jobsStatusCmd.Flags().Bool("json", false, "Output as JSON")
	jobsListCmd.Flags().Bool("json", false, "Output as JSON")
}

// jobsClient talks to the job API of a running server.
type jobsClient struct {
	base string
	http *http.Client
}

func newJobsClient(cmd *cobra.Command) (*jobsClient, error) {
	base := strings.TrimRight(strings.TrimSpace(jobsServer), "/")
	if base == "" {
		cfg, err := loadConfig(cmd.Context())
		if err != nil {
			return nil, err
		}
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		base = "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
	}
	return &jobsClient{base: base, http: &http.Client{Timeout: 5 * time.Minute}}, nil
}

func (c *jobsClient) url(path string) string {
	return c.base + "/v1/etl/jobs" + path
}

// do sends req and decodes a 2xx body into out, or the error envelope.
func (c *jobsClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Cannot reach server", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		var envelope apperrors.HTTPErrorResponse
		body, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Code != "" {
			return exitError(exitCodeForStatus(resp.StatusCode), "Server rejected request",
				fmt.Errorf("%s: %s", envelope.Error.Code, envelope.Error.Message))
		}
		return exitError(exitCodeForStatus(resp.StatusCode), "Server rejected request",
			fmt.Errorf("HTTP %d", resp.StatusCode))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func exitCodeForStatus(status int) int {
	switch {
	case status == http.StatusNotFound:
		return foundry.ExitFileNotFound
	case status < http.StatusInternalServerError:
		return foundry.ExitInvalidArgument
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}

func (c *jobsClient) get(ctx context.Context, jobID string) (*jobregistry.JobRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/"+jobID), nil)
	if err != nil {
		return nil, err
	}
	var rec jobregistry.JobRecord
	if err := c.do(req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *jobsClient) list(ctx context.Context) ([]jobregistry.JobRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/"), nil)
	if err != nil {
		return nil, err
	}
	var resp handlers.JobListResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

func (c *jobsClient) submit(ctx context.Context, files map[string]string) (*handlers.SubmitResponse, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for _, field := range []string{handlers.FieldHistory, handlers.FieldMeasures, handlers.FieldIndicators} {
		path := files[field]
		f, err := os.Open(path)
		if err != nil {
			return nil, exitError(foundry.ExitFileNotFound, "Cannot open source", err)
		}
		fw, err := mw.CreateFormFile(field, filepath.Base(path))
		if err == nil {
			_, err = io.Copy(fw, f)
		}
		_ = f.Close()
		if err != nil {
			return nil, exitError(foundry.ExitFileReadError, "Cannot read source", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/"), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp handlers.SubmitResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// wait polls until the job is terminal.
func (c *jobsClient) wait(ctx context.Context, jobID string, interval time.Duration) (*jobregistry.JobRecord, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		rec, err := c.get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if rec.Status.IsTerminal() {
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return nil, exitError(foundry.ExitSignalInt, "Wait cancelled", ctx.Err())
		case <-ticker.C:
		}
	}
}

func runJobsSubmit(cmd *cobra.Command, _ []string) error {
	client, err := newJobsClient(cmd)
	if err != nil {
		return err
	}
	history, _ := cmd.Flags().GetString("history")
	measures, _ := cmd.Flags().GetString("measures")
	indicators, _ := cmd.Flags().GetString("json")
	wait, _ := cmd.Flags().GetBool("wait")
	interval, _ := cmd.Flags().GetDuration("poll-interval")

	resp, err := client.submit(cmd.Context(), map[string]string{
		handlers.FieldHistory:    history,
		handlers.FieldMeasures:   measures,
		handlers.FieldIndicators: indicators,
	})
	if err != nil {
		return err
	}
	if !wait {
		return writeJSON(cmd.OutOrStdout(), resp)
	}

	rec, err := client.wait(cmd.Context(), resp.JobID, interval)
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), rec); err != nil {
		return err
	}
	if rec.Status != jobregistry.JobStateCompleted {
		return exitError(1, "Job did not complete", fmt.Errorf("%s: %s", rec.Status, rec.ErrorMessage))
	}
	return nil
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	jobID := strings.TrimSpace(args[0])
	if jobID == "" {
		return exitError(foundry.ExitInvalidArgument, "Invalid job id", fmt.Errorf("job_id is required"))
	}

	client, err := newJobsClient(cmd)
	if err != nil {
		return err
	}
	rec, err := client.get(cmd.Context(), jobID)
	if err != nil {
		return err
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), rec)
	}
	printJobRecord(cmd.OutOrStdout(), rec)
	return nil
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	client, err := newJobsClient(cmd)
	if err != nil {
		return err
	}
	jobs, err := client.list(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, jobs)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tSTATUS\tCREATED\tENDED\tHISTORY FILE")
	for _, j := range jobs {
		history := j.SubmittedFileNames.History
		if history == "" {
			history = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			j.JobID,
			j.Status,
			j.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(j.EndedAt),
			history,
		)
	}
	return nil
}

func printJobRecord(w io.Writer, rec *jobregistry.JobRecord) {
	_, _ = fmt.Fprintf(w, "job_id=%s\n", rec.JobID)
	_, _ = fmt.Fprintf(w, "status=%s\n", rec.Status)
	_, _ = fmt.Fprintf(w, "created_at=%s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(w, "started_at=%s\n", rec.StartedAt.UTC().Format(time.RFC3339))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(w, "ended_at=%s\n", rec.EndedAt.UTC().Format(time.RFC3339))
	}
	if rec.Result != nil {
		_, _ = fmt.Fprintf(w, "history_artifact=%s\n", rec.Result.History)
		_, _ = fmt.Fprintf(w, "measures_artifact=%s\n", rec.Result.Measures)
		_, _ = fmt.Fprintf(w, "json_artifact=%s\n", rec.Result.Indicators)
	}
	if rec.Statistics != nil {
		_, _ = fmt.Fprintf(w, "rows=history:%d measures:%d json:%d\n",
			rec.Statistics.HistoryRows, rec.Statistics.MeasuresRows, rec.Statistics.IndicatorRows)
	}
	for _, warning := range rec.Warnings {
		_, _ = fmt.Fprintf(w, "warning=%s\n", warning)
	}
	if rec.ErrorMessage != "" {
		_, _ = fmt.Fprintf(w, "error=%s\n", rec.ErrorMessage)
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
