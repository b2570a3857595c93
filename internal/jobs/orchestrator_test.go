package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stixify/stixify/internal/models"
	"github.com/stixify/stixify/internal/store"
)

type fakeGraphStore struct {
	mu             sync.Mutex
	insertErr      error
	bundles        [][]models.Object
	deletedReports []string
}

func (f *fakeGraphStore) InsertBundle(_ context.Context, objects []models.Object, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.bundles = append(f.bundles, objects)
	return nil
}

func (f *fakeGraphStore) DeleteReport(_ context.Context, reportID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedReports = append(f.deletedReports, reportID)
	return 0, nil
}

func testSetup(t *testing.T, graph GraphStore) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := New(st, graph, nil, logger, Options{
		Workers: 2,
		DataDir: t.TempDir(),
	})
	require.NoError(t, o.Start(context.Background()))
	t.Cleanup(o.Stop)
	return o, st
}

func createFile(t *testing.T, st *store.Store) *models.File {
	t.Helper()
	ctx := context.Background()
	profile := &models.Profile{
		Name:        "profile-" + uuid.NewString(),
		Extractions: []string{"ipv4", "domain", "cve"},
	}
	require.NoError(t, st.CreateProfile(ctx, profile))

	file := &models.File{
		Name:      "incident writeup",
		Mode:      "txt",
		Mimetype:  "text/plain",
		Filename:  "writeup.txt",
		ProfileID: profile.ID,
		TLPLevel:  models.TLPClear,
	}
	require.NoError(t, st.CreateFile(ctx, file))
	return file
}

func createOwnedFile(t *testing.T, st *store.Store, identity models.Object) *models.File {
	t.Helper()
	ctx := context.Background()
	profile := &models.Profile{
		Name:        "profile-" + uuid.NewString(),
		Extractions: []string{"ipv4"},
	}
	require.NoError(t, st.CreateProfile(ctx, profile))

	file := &models.File{
		Name:      "owned writeup",
		Mode:      "txt",
		Filename:  "writeup.txt",
		ProfileID: profile.ID,
		Identity:  identity,
		TLPLevel:  models.TLPClear,
	}
	require.NoError(t, st.CreateFile(ctx, file))
	return file
}

func waitTerminal(t *testing.T, o *Orchestrator, jobID uuid.UUID) *models.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := o.Status(context.Background(), jobID)
		require.NoError(t, err)
		if job.State.Terminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestSubmitAndComplete(t *testing.T) {
	graph := &fakeGraphStore{}
	o, st := testSetup(t, graph)
	file := createFile(t, st)

	job, err := o.Submit(context.Background(),
		file, []byte("C2 at 10.0.0.1 using CVE-2024-12345"))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePending, job.State)

	done := waitTerminal(t, o, job.ID)
	assert.Equal(t, models.JobStateCompleted, done.State)
	assert.Empty(t, done.Error)
	require.NotNil(t, done.CompletionTime)

	// The bundle landed.
	graph.mu.Lock()
	require.Len(t, graph.bundles, 1)
	assert.Equal(t, "report", graph.bundles[0][0].Type())
	graph.mu.Unlock()

	// Artifacts were recorded durably on the file.
	updated, err := st.GetFile(context.Background(), file.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, updated.MarkdownPath)
	assert.NotEmpty(t, updated.PDFPath)
	md, err := os.ReadFile(updated.MarkdownPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "10.0.0.1")

	snap := o.Stats()
	assert.EqualValues(t, 1, snap.JobsCompleted)
	assert.EqualValues(t, 0, snap.JobsFailed)
	require.NotNil(t, snap.Pipeline)
	assert.EqualValues(t, 1, snap.Pipeline.Count)
	require.NotNil(t, snap.Archive)
	assert.Nil(t, snap.Rollback)
}

func TestFailureRollsBackFile(t *testing.T) {
	graph := &fakeGraphStore{insertErr: errors.New("store down")}
	o, st := testSetup(t, graph)
	file := createFile(t, st)

	job, err := o.Submit(context.Background(), file, []byte("10.0.0.1"))
	require.NoError(t, err)

	done := waitTerminal(t, o, job.ID)
	assert.Equal(t, models.JobStateFailed, done.State)
	// Internals never leak into the job error.
	assert.Equal(t, "failed to process report", done.Error)

	// The file record was rolled back; the job remains as the audit trail.
	_, err = st.GetFile(context.Background(), file.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Partial graph state was swept.
	graph.mu.Lock()
	assert.Contains(t, graph.deletedReports, file.ReportID())
	graph.mu.Unlock()

	// The stored upload is gone too.
	_, err = os.Stat(filepath.Join(o.opts.DataDir, "uploads", file.ID.String()))
	assert.True(t, os.IsNotExist(err))

	snap := o.Stats()
	assert.EqualValues(t, 1, snap.JobsFailed)
	require.NotNil(t, snap.Rollback)
}

func TestSubmitRejectsModeMismatch(t *testing.T) {
	graph := &fakeGraphStore{}
	o, st := testSetup(t, graph)
	file := createFile(t, st)
	file.Mode = "pdf" // but Filename is writeup.txt

	_, err := o.Submit(context.Background(), file, []byte("x"))
	assert.Error(t, err)
}

func TestValidateMode(t *testing.T) {
	assert.NoError(t, ValidateMode("txt", "notes.txt"))
	assert.NoError(t, ValidateMode("html_article", "post.HTML"))
	assert.NoError(t, ValidateMode("word", "report.docx"))
	assert.Error(t, ValidateMode("pdf", "report.docx"))
	assert.Error(t, ValidateMode("floppy", "report.img"))
}

func TestStaleJobsRequeuedOnStart(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	dataDir := t.TempDir()
	graph := &fakeGraphStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// A previous run crashed mid-processing.
	profile := &models.Profile{Name: "p", Extractions: []string{"ipv4"}}
	require.NoError(t, st.CreateProfile(ctx, profile))
	file := &models.File{
		Name: "stuck", Mode: "txt", Filename: "stuck.txt",
		ProfileID: profile.ID, TLPLevel: models.TLPClear,
	}
	require.NoError(t, st.CreateFile(ctx, file))

	uploadDir := filepath.Join(dataDir, "uploads", file.ID.String())
	require.NoError(t, os.MkdirAll(uploadDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(uploadDir, "stuck.txt"), []byte("10.0.0.1"), 0o644))

	job := &models.Job{
		FileID:      file.ID,
		State:       models.JobStateProcessing,
		RunDatetime: time.Now().UTC().Add(-3 * time.Hour),
	}
	require.NoError(t, st.CreateJob(ctx, job))

	o := New(st, graph, nil, logger, Options{Workers: 1, StaleJobAge: time.Hour, DataDir: dataDir})
	require.NoError(t, o.Start(ctx))
	t.Cleanup(o.Stop)

	done := waitTerminal(t, o, job.ID)
	assert.Equal(t, models.JobStateCompleted, done.State)
}

func TestDeleteFileSweepsEverything(t *testing.T) {
	graph := &fakeGraphStore{}
	o, st := testSetup(t, graph)
	file := createFile(t, st)

	job, err := o.Submit(context.Background(), file, []byte("10.0.0.1"))
	require.NoError(t, err)
	done := waitTerminal(t, o, job.ID)
	require.Equal(t, models.JobStateCompleted, done.State)

	require.NoError(t, o.DeleteFile(context.Background(), file.ID))

	// The record, the graph report and the stored data are all gone.
	_, err = st.GetFile(context.Background(), file.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	graph.mu.Lock()
	assert.Contains(t, graph.deletedReports, file.ReportID())
	graph.mu.Unlock()
	_, err = os.Stat(filepath.Join(o.opts.DataDir, "uploads", file.ID.String()))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(o.opts.DataDir, "files", file.ID.String()))
	assert.True(t, os.IsNotExist(err))

	// Deleting an unknown file reports not-found.
	err = o.DeleteFile(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteIdentityFilesSweep(t *testing.T) {
	graph := &fakeGraphStore{}
	o, st := testSetup(t, graph)
	ctx := context.Background()

	ownerID := "identity--aaaaaaaa-0000-0000-0000-000000000001"
	owned := createOwnedFile(t, st,
		models.Object{"type": "identity", "id": ownerID, "name": "acme"})
	other := createOwnedFile(t, st, models.Object{
		"type": "identity",
		"id":   "identity--bbbbbbbb-0000-0000-0000-000000000002",
		"name": "globex",
	})

	deleted, err := o.DeleteIdentityFiles(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	// The owned file cascaded into its report-scoped graph delete, which is
	// what removes objects the identity pass cannot attribute, like
	// observables without a created_by_ref.
	graph.mu.Lock()
	assert.Equal(t, []string{owned.ReportID()}, graph.deletedReports)
	graph.mu.Unlock()

	_, err = st.GetFile(ctx, owned.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Files owned by other identities are untouched.
	_, err = st.GetFile(ctx, other.ID)
	require.NoError(t, err)
}

func TestPendingJobsResumeOnStart(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	graph := &fakeGraphStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts := Options{Workers: 1, StaleJobAge: time.Hour, DataDir: t.TempDir()}
	file := createFile(t, st)

	// Submitted, but the submitting process exited before a worker ran it.
	first := New(st, graph, nil, logger, opts)
	job, err := first.Submit(context.Background(), file, []byte("10.0.0.1"))
	require.NoError(t, err)

	second := New(st, graph, nil, logger, opts)
	require.NoError(t, second.Start(context.Background()))
	t.Cleanup(second.Stop)

	done := waitTerminal(t, second, job.ID)
	assert.Equal(t, models.JobStateCompleted, done.State)
}
