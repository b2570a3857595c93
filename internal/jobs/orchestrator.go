// Package jobs runs the asynchronous processing pipeline: each upload gets
// a job, a worker pool drains the queue, and every job ends in a terminal
// state with the file either fully ingested or fully rolled back.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stixify/stixify/internal/metrics"
	"github.com/stixify/stixify/internal/models"
	"github.com/stixify/stixify/internal/stixifier"
	"github.com/stixify/stixify/internal/store"
)

// genericError is the only failure detail exposed on a job. Internals stay
// in the logs.
const genericError = "failed to process report"

// GraphStore is the slice of the graph client the orchestrator needs.
type GraphStore interface {
	stixifier.GraphLoader
	DeleteReport(ctx context.Context, reportID string) (int, error)
}

// Options tunes the worker pool.
type Options struct {
	Workers     int
	Delay       time.Duration // pause between submit and processing
	StaleJobAge time.Duration // processing jobs older than this get requeued
	DataDir     string        // durable home for uploads and artifacts
}

// Orchestrator owns the job queue and the processing workers.
type Orchestrator struct {
	store    *store.Store
	graph    GraphStore
	enricher stixifier.Enricher
	logger   *slog.Logger
	stats    *metrics.Collector
	opts     Options

	queue  chan uuid.UUID
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
}

// New builds an orchestrator. Start must be called before Submit.
func New(st *store.Store, graph GraphStore, enricher stixifier.Enricher, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.StaleJobAge <= 0 {
		opts.StaleJobAge = time.Hour
	}
	return &Orchestrator{
		store:    st,
		graph:    graph,
		enricher: enricher,
		logger:   logger,
		stats:    metrics.NewCollector(),
		opts:     opts,
		queue:    make(chan uuid.UUID, 256),
	}
}

// Start launches the worker pool and requeues jobs a previous run left
// stuck in processing.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return errors.New("orchestrator already started")
	}
	o.started = true

	ctx, o.cancel = context.WithCancel(ctx)
	for i := 0; i < o.opts.Workers; i++ {
		o.wg.Add(1)
		go o.worker(ctx)
	}

	return o.requeueOrphaned(ctx)
}

// Stop drains nothing: it cancels the workers and waits for in-flight jobs
// to reach a terminal state.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()

	snap := o.stats.Snapshot()
	o.logger.Info("orchestrator stopped",
		"jobs_completed", snap.JobsCompleted,
		"jobs_failed", snap.JobsFailed,
		"uptime_seconds", int64(snap.UptimeSeconds))
}

// Stats returns a point-in-time view of the orchestrator's counters.
func (o *Orchestrator) Stats() metrics.Snapshot {
	return o.stats.Snapshot()
}

// Submit stores the upload durably, creates the pending job and queues it.
func (o *Orchestrator) Submit(ctx context.Context, file *models.File, content []byte) (*models.Job, error) {
	if err := ValidateMode(file.Mode, file.Filename); err != nil {
		return nil, err
	}

	uploadPath := o.uploadPath(file)
	if err := os.MkdirAll(filepath.Dir(uploadPath), 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if err := os.WriteFile(uploadPath, content, 0o644); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	job := &models.Job{FileID: file.ID}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	select {
	case o.queue <- job.ID:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	o.logger.Info("job submitted", "job_id", job.ID, "file_id", file.ID)
	return job, nil
}

// Status returns the current state of a job.
func (o *Orchestrator) Status(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return o.store.GetJob(ctx, jobID)
}

// ValidateMode checks the filename extension against the processing mode.
func ValidateMode(mode, filename string) error {
	extensions, ok := models.ModeExtensions[mode]
	if !ok {
		return fmt.Errorf("unknown processing mode %q", mode)
	}
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	for _, allowed := range extensions {
		if strings.EqualFold(ext, allowed) {
			return nil
		}
	}
	return fmt.Errorf("mode %q does not accept .%s files", mode, ext)
}

func (o *Orchestrator) worker(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-o.queue:
			if o.opts.Delay > 0 {
				select {
				case <-time.After(o.opts.Delay):
				case <-ctx.Done():
					return
				}
			}
			o.runJob(ctx, jobID)
		}
	}
}

// runJob drives one job from pending to a terminal state. The finalizer
// always runs: whatever happens mid-pipeline, the job ends completed or
// failed, and a failed job leaves no file record behind.
func (o *Orchestrator) runJob(ctx context.Context, jobID uuid.UUID) {
	logger := o.logger.With("job_id", jobID)

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		logger.Error("job lookup failed", "error", err)
		return
	}

	if err := o.store.UpdateJobState(ctx, jobID, models.JobStateProcessing, ""); err != nil {
		logger.Error("job transition failed", "error", err)
		return
	}

	started := time.Now()
	runErr := o.process(ctx, job, logger)
	o.stats.RecordTiming(metrics.OpPipeline, time.Since(started))

	// Finalize.
	if runErr == nil {
		if err := o.store.UpdateJobState(ctx, jobID, models.JobStateCompleted, ""); err != nil {
			logger.Error("job completion update failed", "error", err)
		}
		o.stats.RecordOutcome(true)
		logger.Info("job completed")
		return
	}

	logger.Error(genericError, "error", runErr)
	o.rollback(ctx, job, logger)
	o.stats.RecordOutcome(false)
	if err := o.store.UpdateJobState(ctx, jobID, models.JobStateFailed, genericError); err != nil {
		logger.Error("job failure update failed", "error", err)
	}
}

func (o *Orchestrator) process(ctx context.Context, job *models.Job, logger *slog.Logger) error {
	file, err := o.store.GetFile(ctx, job.FileID)
	if err != nil {
		return fmt.Errorf("load file: %w", err)
	}
	profile, err := o.store.GetProfile(ctx, file.ProfileID)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	content, err := os.ReadFile(o.uploadPath(file))
	if err != nil {
		return fmt.Errorf("load upload: %w", err)
	}

	processor, err := stixifier.NewProcessor(file, profile, content, o.graph, o.enricher, logger)
	if err != nil {
		return err
	}
	defer processor.Close()

	result, err := processor.Process(ctx)
	if err != nil {
		return err
	}

	return o.persistArtifacts(ctx, file, result)
}

// persistArtifacts copies the processing outputs out of the throwaway
// workspace into the data dir and records them on the file.
func (o *Orchestrator) persistArtifacts(ctx context.Context, file *models.File, result *stixifier.Result) error {
	defer func(started time.Time) {
		o.stats.RecordTiming(metrics.OpArchive, time.Since(started))
	}(time.Now())

	artifactDir := filepath.Join(o.opts.DataDir, "files", file.ID.String())
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	mdPath := filepath.Join(artifactDir, "markdown.md")
	if err := copyFile(result.MarkdownPath, mdPath); err != nil {
		return err
	}
	pdfPath := filepath.Join(artifactDir, "converted.pdf")
	if err := copyFile(result.PDFPath, pdfPath); err != nil {
		return err
	}

	for _, img := range result.Images {
		dst := filepath.Join(artifactDir, img.Name)
		if err := copyFile(img.Path, dst); err != nil {
			return err
		}
		if err := o.store.AddFileImage(ctx, models.FileImage{
			FileID: file.ID, Name: img.Name, Path: dst,
		}); err != nil {
			return err
		}
	}

	file.MarkdownPath = mdPath
	file.PDFPath = pdfPath
	file.Summary = result.Summary
	file.AISummaryProvider = result.SummaryProvider
	if result.Incident != nil {
		describes := result.Incident.DescribesIncident
		file.AIDescribesIncident = &describes
		file.AIIncidentSummary = result.Incident.Summary
		file.AIIncidentClassification = result.Incident.Classification
	}
	return o.store.UpdateFile(ctx, file)
}

// rollback undoes everything a failed job may have half-done: the report's
// graph objects, the file record and the stored upload. Each step is
// best-effort; a rollback failure is logged, never fatal.
func (o *Orchestrator) rollback(ctx context.Context, job *models.Job, logger *slog.Logger) {
	defer func(started time.Time) {
		o.stats.RecordTiming(metrics.OpRollback, time.Since(started))
	}(time.Now())

	file, err := o.store.GetFile(ctx, job.FileID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Error("rollback file lookup failed", "error", err)
		}
		return
	}

	if err := o.sweepFile(ctx, file); err != nil {
		logger.Error("rollback incomplete", "error", err)
	}
}

// DeleteFile removes a file and everything derived from it: the report's
// graph objects, the stored upload and artifacts, and the control-plane
// record. The graph delete is idempotent, so a partial sweep can be rerun.
func (o *Orchestrator) DeleteFile(ctx context.Context, fileID uuid.UUID) error {
	file, err := o.store.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	o.logger.Info("deleting file", "file_id", fileID, "report_id", file.ReportID())
	return o.sweepFile(ctx, file)
}

// DeleteIdentityFiles removes every file owned by an identity, each
// cascading into its report-scoped graph delete. Best-effort: one failed
// file does not stop the sweep of the rest.
func (o *Orchestrator) DeleteIdentityFiles(ctx context.Context, identityID string) (int, error) {
	files, err := o.store.FilesByIdentity(ctx, identityID)
	if err != nil {
		return 0, err
	}

	deleted := 0
	var errs []error
	for _, file := range files {
		if err := o.DeleteFile(ctx, file.ID); err != nil {
			errs = append(errs, fmt.Errorf("file %s: %w", file.ID, err))
			continue
		}
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// sweepFile deletes every trace of a file. All steps run even when an
// earlier one fails; the joined error reports what is left behind.
func (o *Orchestrator) sweepFile(ctx context.Context, file *models.File) error {
	var errs []error
	if _, err := o.graph.DeleteReport(ctx, file.ReportID()); err != nil {
		errs = append(errs, fmt.Errorf("graph delete: %w", err))
	}
	if err := os.RemoveAll(filepath.Join(o.opts.DataDir, "uploads", file.ID.String())); err != nil {
		errs = append(errs, fmt.Errorf("upload delete: %w", err))
	}
	if err := os.RemoveAll(filepath.Join(o.opts.DataDir, "files", file.ID.String())); err != nil {
		errs = append(errs, fmt.Errorf("artifact delete: %w", err))
	}
	if err := o.store.DeleteFile(ctx, file.ID); err != nil {
		errs = append(errs, fmt.Errorf("record delete: %w", err))
	}
	return errors.Join(errs...)
}

// requeueOrphaned puts jobs a previous run never finished back on the
// queue: pending jobs that were submitted but not picked up, and jobs stuck
// in processing past the lease. Happens on startup so a crashed or exited
// worker never strands a job forever.
func (o *Orchestrator) requeueOrphaned(ctx context.Context) error {
	pending, err := o.store.PendingJobs(ctx)
	if err != nil {
		return err
	}
	stale, err := o.store.StaleProcessingJobs(ctx, time.Now().Add(-o.opts.StaleJobAge))
	if err != nil {
		return err
	}

	for _, job := range append(pending, stale...) {
		if job.State == models.JobStateProcessing {
			o.logger.Warn("requeueing stale job", "job_id", job.ID)
		}
		select {
		case o.queue <- job.ID:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) uploadPath(file *models.File) string {
	return filepath.Join(o.opts.DataDir, "uploads", file.ID.String(), filepath.Base(file.Filename))
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(src), err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dst), err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", filepath.Base(dst), err)
	}
	return out.Close()
}
