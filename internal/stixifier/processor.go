package stixifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/stixify/stixify/internal/ai"
	"github.com/stixify/stixify/internal/models"
)

// GraphLoader persists a finished bundle. Satisfied by graph.Client.
type GraphLoader interface {
	InsertBundle(ctx context.Context, objects []models.Object, reportID, fileID string) error
}

// Enricher is the optional AI layer. Satisfied by ai.Model.
type Enricher interface {
	Provider() string
	Summarize(ctx context.Context, markdown string) (string, error)
	ClassifyIncident(ctx context.Context, markdown string) (*ai.IncidentClassification, error)
	ExtractRelationships(ctx context.Context, markdown string, values []string) ([]ai.Relation, error)
	TranscribeImage(ctx context.Context, imagePath string) (string, error)
}

// Result carries everything processing produced, for the orchestrator to
// persist onto the file record.
type Result struct {
	ReportID        string
	MarkdownPath    string
	PDFPath         string
	Images          []ExtractedImage
	Extractions     []Extraction
	Summary         string
	SummaryProvider string
	Incident        *ai.IncidentClassification
	ObjectCount     int
}

// Processor runs the pipeline for one uploaded file inside a throwaway
// working directory. Callers must Close it to release the directory.
type Processor struct {
	file     *models.File
	profile  *models.Profile
	graph    GraphLoader
	enricher Enricher
	logger   *slog.Logger

	tmpdir  string
	srcPath string
}

// NewProcessor stages the raw upload into a fresh temporary directory.
func NewProcessor(file *models.File, profile *models.Profile, content []byte, graph GraphLoader, enricher Enricher, logger *slog.Logger) (*Processor, error) {
	tmpdir, err := os.MkdirTemp("", "stixify-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	srcPath := filepath.Join(tmpdir, filepath.Base(file.Filename))
	if err := os.WriteFile(srcPath, content, 0o644); err != nil {
		os.RemoveAll(tmpdir)
		return nil, fmt.Errorf("stage upload: %w", err)
	}

	return &Processor{
		file:     file,
		profile:  profile,
		graph:    graph,
		enricher: enricher,
		logger:   logger.With("file_id", file.ID, "profile", profile.Name),
		tmpdir:   tmpdir,
		srcPath:  srcPath,
	}, nil
}

// Close removes the working directory and everything staged in it.
func (p *Processor) Close() {
	if p.tmpdir != "" {
		os.RemoveAll(p.tmpdir)
		p.tmpdir = ""
	}
}

// Process runs the full pipeline: convert, extract, bundle, enrich,
// persist, archive. The graph write happens once, with the complete
// bundle; nothing is persisted if any earlier stage fails.
func (p *Processor) Process(ctx context.Context) (*Result, error) {
	result := &Result{ReportID: p.file.ReportID()}

	// Convert to markdown.
	converter, err := ConverterFor(p.file.Mode)
	if err != nil {
		return nil, err
	}
	p.logger.Info("converting upload", "mode", p.file.Mode)
	markdown, err := converter.Convert(p.srcPath)
	if err != nil {
		return nil, fmt.Errorf("convert: %w", err)
	}

	markdown, images, err := ExtractImages(markdown, p.tmpdir)
	if err != nil {
		return nil, err
	}
	result.Images = images

	if p.profile.ExtractTextFromImage && len(images) > 0 {
		markdown = p.transcribeImages(ctx, markdown, images)
	}

	mdPath := filepath.Join(p.tmpdir, "converted.md")
	if err := os.WriteFile(mdPath, []byte(markdown), 0o644); err != nil {
		return nil, fmt.Errorf("write markdown: %w", err)
	}
	result.MarkdownPath = mdPath

	// Extract values.
	extractions := Extract(markdown, p.profile)
	result.Extractions = extractions
	p.logger.Info("extraction finished", "values", len(extractions))

	// Bundle.
	bundler, err := NewBundler(p.file.ReportID(), ReportProperties{
		Name:       p.file.Name,
		Identity:   p.file.Identity,
		TLPLevel:   p.file.TLPLevel,
		Confidence: p.file.Confidence,
		Labels:     p.file.Labels,
		Created:    p.file.Created,
	}, markdown, p.profile.RelationshipMode)
	if err != nil {
		return nil, err
	}
	for _, ex := range extractions {
		if err := bundler.AddExtraction(ex); err != nil {
			return nil, fmt.Errorf("bundle %s %q: %w", ex.STIXType, ex.Value, err)
		}
	}
	if profileJSON, err := json.Marshal(p.profile); err == nil {
		bundler.AddNote(string(profileJSON), "Stixify Profile")
	}

	// Optional AI enrichment.
	if err := p.enrich(ctx, markdown, extractions, bundler, result); err != nil {
		return nil, err
	}

	// Persist the whole bundle in one shot.
	objects := bundler.Objects()
	result.ObjectCount = len(objects)
	p.logger.Info("persisting bundle", "report_id", result.ReportID, "objects", len(objects))
	if err := p.graph.InsertBundle(ctx, objects, result.ReportID, p.file.ID.String()); err != nil {
		return nil, err
	}

	// Archive the converted content as PDF.
	pdfPath := filepath.Join(p.tmpdir, "converted.pdf")
	if err := WritePDF(pdfPath, p.file.Name, markdown, p.file.Created); err != nil {
		return nil, err
	}
	result.PDFPath = pdfPath

	return result, nil
}

// transcribeImages appends model-read text from the extracted images to the
// markdown so image-only indicators reach extraction. A failed transcription
// skips that image; it never fails the pipeline.
func (p *Processor) transcribeImages(ctx context.Context, markdown string, images []ExtractedImage) string {
	if p.enricher == nil {
		p.logger.Warn("profile wants image text but no model is configured")
		return markdown
	}

	var sb strings.Builder
	sb.WriteString(markdown)
	for _, img := range images {
		text, err := p.enricher.TranscribeImage(ctx, img.Path)
		if err != nil {
			p.logger.Warn("image transcription failed", "image", img.Name, "error", err)
			continue
		}
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n\n## Text from %s\n\n%s\n", img.Name, text)
	}
	return sb.String()
}

func (p *Processor) enrich(ctx context.Context, markdown string, extractions []Extraction, bundler *Bundler, result *Result) error {
	if p.enricher == nil {
		if p.profile.RelationshipMode == models.RelationshipModeAI {
			return fmt.Errorf("profile %q needs AI relationships but no model is configured", p.profile.Name)
		}
		return nil
	}

	if p.profile.AISummary {
		summary, err := p.enricher.Summarize(ctx, markdown)
		if err != nil {
			return fmt.Errorf("summarize: %w", err)
		}
		result.Summary = summary
		result.SummaryProvider = p.enricher.Provider()

		incident, err := p.enricher.ClassifyIncident(ctx, markdown)
		if err != nil {
			return fmt.Errorf("classify incident: %w", err)
		}
		result.Incident = incident
	}

	if p.profile.RelationshipMode == models.RelationshipModeAI && len(extractions) > 1 {
		values := make([]string, 0, len(extractions))
		for _, ex := range extractions {
			values = append(values, ex.Value)
		}
		relations, err := p.enricher.ExtractRelationships(ctx, markdown, values)
		if err != nil {
			return fmt.Errorf("extract relationships: %w", err)
		}
		bundler.AddAIRelations(relations)
	}
	return nil
}
