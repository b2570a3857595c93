package models

import (
	"time"

	"github.com/google/uuid"
)

// Processing modes accepted at upload time, mapped to the file extensions
// each mode can consume. A file whose extension is not listed for its mode
// is rejected before a job is created.
var ModeExtensions = map[string][]string{
	"txt":          {"txt"},
	"md":           {"md", "markdown"},
	"html":         {"html", "htm"},
	"html_article": {"html", "htm"},
	"csv":          {"csv", "tsv"},
	"pdf":          {"pdf"},
	"word":         {"doc", "docx"},
	"powerpoint":   {"ppt", "pptx"},
	"image":        {"jpg", "jpeg", "png", "webp"},
}

// File is the control-plane record for an uploaded artifact. Its id doubles
// as the UUID suffix of the STIX Report generated for it.
type File struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Mode      string    `json:"mode"`
	Mimetype  string    `json:"mimetype"`
	Filename  string    `json:"filename"`
	ProfileID uuid.UUID `json:"profile_id"`

	// Report properties applied to every generated object.
	Identity   Object   `json:"identity"`
	TLPLevel   string   `json:"tlp_level"`
	Confidence int      `json:"confidence"`
	Labels     []string `json:"labels"`

	// Artifacts produced by processing.
	MarkdownPath             string `json:"markdown_path,omitempty"`
	PDFPath                  string `json:"pdf_path,omitempty"`
	Summary                  string `json:"summary,omitempty"`
	AISummaryProvider        string `json:"ai_summary_provider,omitempty"`
	AIDescribesIncident      *bool  `json:"ai_describes_incident,omitempty"`
	AIIncidentSummary        string `json:"ai_incident_summary,omitempty"`
	AIIncidentClassification string `json:"ai_incident_classification,omitempty"`

	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// ReportID returns the id of the STIX Report derived from this File.
func (f *File) ReportID() string {
	return "report--" + f.ID.String()
}

// IdentityID returns the id of the creator identity, or "" if unset.
func (f *File) IdentityID() string {
	return f.Identity.ID()
}

// FileImage is an image extracted from a File during conversion.
type FileImage struct {
	FileID uuid.UUID `json:"file_id"`
	Name   string    `json:"name"`
	Path   string    `json:"path"`
}
