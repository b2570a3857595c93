// Package store is the relational control plane: profiles, uploaded files,
// extracted images and processing jobs live in SQLite. The STIX graph itself
// lives in the graph store; this package only tracks what was uploaded and
// how processing went.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/stixify/stixify/internal/models"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("record not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    extractions TEXT NOT NULL,
    whitelists TEXT NOT NULL,
    aliases TEXT NOT NULL,
    relationship_mode TEXT NOT NULL,
    extract_text_from_image INTEGER NOT NULL DEFAULT 0,
    defang_observables INTEGER NOT NULL DEFAULT 1,
    ai_summary INTEGER NOT NULL DEFAULT 0,
    created TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    mode TEXT NOT NULL,
    mimetype TEXT NOT NULL,
    filename TEXT NOT NULL,
    profile_id TEXT NOT NULL REFERENCES profiles(id),
    identity TEXT NOT NULL,
    tlp_level TEXT NOT NULL,
    confidence INTEGER NOT NULL DEFAULT 0,
    labels TEXT NOT NULL,
    markdown_path TEXT NOT NULL DEFAULT '',
    pdf_path TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    ai_summary_provider TEXT NOT NULL DEFAULT '',
    ai_describes_incident INTEGER,
    ai_incident_summary TEXT NOT NULL DEFAULT '',
    ai_incident_classification TEXT NOT NULL DEFAULT '',
    created TEXT NOT NULL,
    modified TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_images (
    file_id TEXT NOT NULL REFERENCES files(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    path TEXT NOT NULL,
    PRIMARY KEY (file_id, name)
);

-- jobs deliberately carry no foreign key to files: a failed job outlives
-- the rolled-back file record as the audit trail.
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    file_id TEXT NOT NULL UNIQUE,
    state TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    run_datetime TEXT NOT NULL,
    completion_time TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_files_created ON files(created);
`

// Store wraps the SQLite control-plane database.
type Store struct {
	conn *sql.DB
	Path string
}

// Open opens the database with WAL mode and foreign keys enabled, and
// creates the schema if missing.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{conn: conn, Path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// =============================================================================
// PROFILES
// =============================================================================

// CreateProfile stores a new extraction profile. Profiles are immutable
// after creation; changing behavior means creating a new profile.
func (s *Store) CreateProfile(ctx context.Context, p *models.Profile) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Created.IsZero() {
		p.Created = time.Now().UTC()
	}
	if p.RelationshipMode == "" {
		p.RelationshipMode = models.RelationshipModeStandard
	}

	extractions := marshalJSON(p.Extractions)
	whitelists := marshalJSON(p.Whitelists)
	aliases := marshalJSON(p.Aliases)

	_, err := s.conn.ExecContext(ctx, `
        INSERT INTO profiles (id, name, extractions, whitelists, aliases,
            relationship_mode, extract_text_from_image, defang_observables,
            ai_summary, created)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), p.Name, extractions, whitelists, aliases,
		p.RelationshipMode, boolInt(p.ExtractTextFromImage),
		boolInt(p.DefangObservables), boolInt(p.AISummary),
		p.Created.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("create profile %q: %w", p.Name, err)
	}
	return nil
}

// GetProfile fetches one profile by id.
func (s *Store) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	row := s.conn.QueryRowContext(ctx, `
        SELECT id, name, extractions, whitelists, aliases, relationship_mode,
               extract_text_from_image, defang_observables, ai_summary, created
        FROM profiles WHERE id = ?`, id.String())
	return scanProfile(row)
}

// ListProfiles returns every profile, newest first.
func (s *Store) ListProfiles(ctx context.Context) ([]*models.Profile, error) {
	rows, err := s.conn.QueryContext(ctx, `
        SELECT id, name, extractions, whitelists, aliases, relationship_mode,
               extract_text_from_image, defang_observables, ai_summary, created
        FROM profiles ORDER BY created DESC`)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var profiles []*models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// DeleteProfile removes a profile. Fails while files still reference it.
func (s *Store) DeleteProfile(ctx context.Context, id uuid.UUID) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*models.Profile, error) {
	var (
		p                                  models.Profile
		id, extractions, whitelists        string
		aliases, created                   string
		extractImage, defang, aiSummaryInt int
	)
	err := row.Scan(&id, &p.Name, &extractions, &whitelists, &aliases,
		&p.RelationshipMode, &extractImage, &defang, &aiSummaryInt, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	p.ID = uuid.MustParse(id)
	p.Created, _ = time.Parse(time.RFC3339, created)
	p.ExtractTextFromImage = extractImage != 0
	p.DefangObservables = defang != 0
	p.AISummary = aiSummaryInt != 0
	unmarshalJSON(extractions, &p.Extractions)
	unmarshalJSON(whitelists, &p.Whitelists)
	unmarshalJSON(aliases, &p.Aliases)
	return &p, nil
}

// =============================================================================
// FILES
// =============================================================================

// CreateFile stores a new uploaded file record.
func (s *Store) CreateFile(ctx context.Context, f *models.File) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	now := time.Now().UTC()
	if f.Created.IsZero() {
		f.Created = now
	}
	f.Modified = now

	_, err := s.conn.ExecContext(ctx, `
        INSERT INTO files (id, name, mode, mimetype, filename, profile_id,
            identity, tlp_level, confidence, labels, markdown_path, pdf_path,
            summary, ai_summary_provider, ai_describes_incident,
            ai_incident_summary, ai_incident_classification, created, modified)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID.String(), f.Name, f.Mode, f.Mimetype, f.Filename,
		f.ProfileID.String(), marshalJSON(f.Identity), f.TLPLevel,
		f.Confidence, marshalJSON(f.Labels), f.MarkdownPath, f.PDFPath,
		f.Summary, f.AISummaryProvider, boolPtrInt(f.AIDescribesIncident),
		f.AIIncidentSummary, f.AIIncidentClassification,
		f.Created.Format(time.RFC3339), f.Modified.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("create file %q: %w", f.Name, err)
	}
	return nil
}

// UpdateFile persists the processing artifacts onto an existing file record.
func (s *Store) UpdateFile(ctx context.Context, f *models.File) error {
	f.Modified = time.Now().UTC()
	res, err := s.conn.ExecContext(ctx, `
        UPDATE files SET name = ?, markdown_path = ?, pdf_path = ?,
            summary = ?, ai_summary_provider = ?, ai_describes_incident = ?,
            ai_incident_summary = ?, ai_incident_classification = ?,
            modified = ?
        WHERE id = ?`,
		f.Name, f.MarkdownPath, f.PDFPath, f.Summary, f.AISummaryProvider,
		boolPtrInt(f.AIDescribesIncident), f.AIIncidentSummary,
		f.AIIncidentClassification, f.Modified.Format(time.RFC3339),
		f.ID.String())
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("file %s: %w", f.ID, ErrNotFound)
	}
	return nil
}

// GetFile fetches one file by id.
func (s *Store) GetFile(ctx context.Context, id uuid.UUID) (*models.File, error) {
	row := s.conn.QueryRowContext(ctx, fileSelectSQL+` WHERE id = ?`, id.String())
	return scanFile(row)
}

// ListFiles returns every file record, newest first.
func (s *Store) ListFiles(ctx context.Context) ([]*models.File, error) {
	rows, err := s.conn.QueryContext(ctx, fileSelectSQL+` ORDER BY created DESC`)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// FilesByIdentity returns every file whose creator identity matches,
// oldest first. The identity column holds the STIX identity object as JSON.
func (s *Store) FilesByIdentity(ctx context.Context, identityID string) ([]*models.File, error) {
	rows, err := s.conn.QueryContext(ctx,
		fileSelectSQL+` WHERE json_extract(identity, '$.id') = ? ORDER BY created ASC`,
		identityID)
	if err != nil {
		return nil, fmt.Errorf("files by identity: %w", err)
	}
	defer rows.Close()

	var files []*models.File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFile removes a file record and, via cascade, its images and job.
// Deleting a missing file is a no-op.
func (s *Store) DeleteFile(ctx context.Context, id uuid.UUID) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

const fileSelectSQL = `
    SELECT id, name, mode, mimetype, filename, profile_id, identity,
           tlp_level, confidence, labels, markdown_path, pdf_path, summary,
           ai_summary_provider, ai_describes_incident, ai_incident_summary,
           ai_incident_classification, created, modified
    FROM files`

func scanFile(row rowScanner) (*models.File, error) {
	var (
		f                     models.File
		id, profileID         string
		identity, labels      string
		created, modified     string
		describesIncident     sql.NullInt64
	)
	err := row.Scan(&id, &f.Name, &f.Mode, &f.Mimetype, &f.Filename,
		&profileID, &identity, &f.TLPLevel, &f.Confidence, &labels,
		&f.MarkdownPath, &f.PDFPath, &f.Summary, &f.AISummaryProvider,
		&describesIncident, &f.AIIncidentSummary,
		&f.AIIncidentClassification, &created, &modified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	f.ID = uuid.MustParse(id)
	f.ProfileID = uuid.MustParse(profileID)
	f.Created, _ = time.Parse(time.RFC3339, created)
	f.Modified, _ = time.Parse(time.RFC3339, modified)
	unmarshalJSON(identity, &f.Identity)
	unmarshalJSON(labels, &f.Labels)
	if describesIncident.Valid {
		v := describesIncident.Int64 != 0
		f.AIDescribesIncident = &v
	}
	return &f, nil
}

// =============================================================================
// FILE IMAGES
// =============================================================================

// AddFileImage records an image extracted from a file during conversion.
func (s *Store) AddFileImage(ctx context.Context, img models.FileImage) error {
	_, err := s.conn.ExecContext(ctx, `
        INSERT OR REPLACE INTO file_images (file_id, name, path)
        VALUES (?, ?, ?)`,
		img.FileID.String(), img.Name, img.Path)
	if err != nil {
		return fmt.Errorf("add file image %q: %w", img.Name, err)
	}
	return nil
}

// ListFileImages returns the images extracted from one file.
func (s *Store) ListFileImages(ctx context.Context, fileID uuid.UUID) ([]models.FileImage, error) {
	rows, err := s.conn.QueryContext(ctx, `
        SELECT file_id, name, path FROM file_images
        WHERE file_id = ? ORDER BY name`, fileID.String())
	if err != nil {
		return nil, fmt.Errorf("list file images: %w", err)
	}
	defer rows.Close()

	var images []models.FileImage
	for rows.Next() {
		var img models.FileImage
		var id string
		if err := rows.Scan(&id, &img.Name, &img.Path); err != nil {
			return nil, fmt.Errorf("scan file image: %w", err)
		}
		img.FileID = uuid.MustParse(id)
		images = append(images, img)
	}
	return images, rows.Err()
}

// =============================================================================
// JOBS
// =============================================================================

// CreateJob stores a pending job for a file. A file has at most one job.
func (s *Store) CreateJob(ctx context.Context, j *models.Job) error {
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	if j.State == "" {
		j.State = models.JobStatePending
	}
	if j.RunDatetime.IsZero() {
		j.RunDatetime = time.Now().UTC()
	}

	_, err := s.conn.ExecContext(ctx, `
        INSERT INTO jobs (id, file_id, state, error, run_datetime, completion_time)
        VALUES (?, ?, ?, ?, ?, NULL)`,
		j.ID.String(), j.FileID.String(), string(j.State), j.Error,
		j.RunDatetime.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("create job for file %s: %w", j.FileID, err)
	}
	return nil
}

// UpdateJobState transitions a job. Terminal states also stamp the
// completion time.
func (s *Store) UpdateJobState(ctx context.Context, id uuid.UUID, state models.JobState, jobErr string) error {
	var completion any
	if state.Terminal() {
		completion = time.Now().UTC().Format(time.RFC3339)
	}
	res, err := s.conn.ExecContext(ctx, `
        UPDATE jobs SET state = ?, error = ?, completion_time = ?
        WHERE id = ?`,
		string(state), jobErr, completion, id.String())
	if err != nil {
		return fmt.Errorf("update job state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetJob fetches one job by id.
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.conn.QueryRowContext(ctx, jobSelectSQL+` WHERE id = ?`, id.String())
	return scanJob(row)
}

// GetJobByFileID fetches the job tracking one file.
func (s *Store) GetJobByFileID(ctx context.Context, fileID uuid.UUID) (*models.Job, error) {
	row := s.conn.QueryRowContext(ctx, jobSelectSQL+` WHERE file_id = ?`, fileID.String())
	return scanJob(row)
}

// ListJobs returns every job, newest first.
func (s *Store) ListJobs(ctx context.Context) ([]*models.Job, error) {
	return s.queryJobs(ctx, jobSelectSQL+` ORDER BY run_datetime DESC`)
}

// PendingJobs returns jobs that were created but never picked up, oldest
// first, so a restarted worker pool can resume them in submit order.
func (s *Store) PendingJobs(ctx context.Context) ([]*models.Job, error) {
	return s.queryJobs(ctx,
		jobSelectSQL+` WHERE state = ? ORDER BY run_datetime ASC`,
		string(models.JobStatePending))
}

// StaleProcessingJobs finds jobs stuck in processing since before the
// cutoff, so a restarted worker can requeue them.
func (s *Store) StaleProcessingJobs(ctx context.Context, cutoff time.Time) ([]*models.Job, error) {
	return s.queryJobs(ctx,
		jobSelectSQL+` WHERE state = ? AND run_datetime < ?`,
		string(models.JobStateProcessing), cutoff.UTC().Format(time.RFC3339))
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

const jobSelectSQL = `
    SELECT id, file_id, state, error, run_datetime, completion_time
    FROM jobs`

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j                models.Job
		id, fileID       string
		state, run       string
		completion       sql.NullString
	)
	err := row.Scan(&id, &fileID, &state, &j.Error, &run, &completion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.ID = uuid.MustParse(id)
	j.FileID = uuid.MustParse(fileID)
	j.State = models.JobState(state)
	j.RunDatetime, _ = time.Parse(time.RFC3339, run)
	if completion.Valid {
		t, _ := time.Parse(time.RFC3339, completion.String)
		j.CompletionTime = &t
	}
	return &j, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func unmarshalJSON[T any](s string, dst *T) {
	_ = json.Unmarshal([]byte(s), dst)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func boolPtrInt(b *bool) any {
	if b == nil {
		return nil
	}
	return boolInt(*b)
}
