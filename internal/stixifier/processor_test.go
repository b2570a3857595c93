package stixifier

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stixify/stixify/internal/ai"
	"github.com/stixify/stixify/internal/models"
)

type fakeGraph struct {
	objects  []models.Object
	reportID string
	fileID   string
	err      error
	calls    int
}

func (f *fakeGraph) InsertBundle(_ context.Context, objects []models.Object, reportID, fileID string) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.objects = objects
	f.reportID = reportID
	f.fileID = fileID
	return nil
}

type fakeEnricher struct {
	relations   []ai.Relation
	imageText   string
	transcribed []string
}

func (f *fakeEnricher) Provider() string { return "fake:model" }

func (f *fakeEnricher) Summarize(context.Context, string) (string, error) {
	return "short summary", nil
}

func (f *fakeEnricher) ClassifyIncident(context.Context, string) (*ai.IncidentClassification, error) {
	return &ai.IncidentClassification{DescribesIncident: true, Classification: "malware"}, nil
}

func (f *fakeEnricher) ExtractRelationships(context.Context, string, []string) ([]ai.Relation, error) {
	return f.relations, nil
}

func (f *fakeEnricher) TranscribeImage(_ context.Context, imagePath string) (string, error) {
	f.transcribed = append(f.transcribed, imagePath)
	return f.imageText, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func processorFile() *models.File {
	return &models.File{
		ID:       uuid.New(),
		Name:     "test report",
		Mode:     "txt",
		Filename: "report.txt",
		TLPLevel: models.TLPClear,
	}
}

func TestProcessorHappyPath(t *testing.T) {
	file := processorFile()
	profile := allExtractorsProfile()
	loader := &fakeGraph{}
	content := []byte("beacon to evil.example.com from 10.0.0.1, exploiting CVE-2024-12345")

	p, err := NewProcessor(file, profile, content, loader, nil, quietLogger())
	require.NoError(t, err)
	defer p.Close()

	result, err := p.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, file.ReportID(), result.ReportID)
	assert.Equal(t, file.ReportID(), loader.reportID)
	assert.Equal(t, file.ID.String(), loader.fileID)
	assert.Len(t, result.Extractions, 3)

	// The persisted bundle leads with the report and includes one object
	// plus one related-to SRO per extraction.
	require.NotEmpty(t, loader.objects)
	assert.Equal(t, "report", loader.objects[0].Type())
	assert.Equal(t, result.ObjectCount, len(loader.objects))

	// Artifacts were written into the workspace.
	md, err := os.ReadFile(result.MarkdownPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "evil.example.com")
	_, err = os.Stat(result.PDFPath)
	require.NoError(t, err)
}

func TestProcessorCloseRemovesWorkspace(t *testing.T) {
	file := processorFile()
	p, err := NewProcessor(file, allExtractorsProfile(), []byte("x"), &fakeGraph{}, nil, quietLogger())
	require.NoError(t, err)

	workspace := p.tmpdir
	_, err = os.Stat(workspace)
	require.NoError(t, err)

	p.Close()
	_, err = os.Stat(workspace)
	assert.True(t, os.IsNotExist(err))

	// Closing twice is fine.
	p.Close()
}

func TestProcessorPersistFailure(t *testing.T) {
	file := processorFile()
	loader := &fakeGraph{err: errors.New("store down")}

	p, err := NewProcessor(file, allExtractorsProfile(), []byte("10.0.0.1"), loader, nil, quietLogger())
	require.NoError(t, err)
	defer p.Close()

	result, err := p.Process(context.Background())
	assert.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1, loader.calls)
}

func TestProcessorUnknownMode(t *testing.T) {
	file := processorFile()
	file.Mode = "word"

	p, err := NewProcessor(file, allExtractorsProfile(), []byte("x"), &fakeGraph{}, nil, quietLogger())
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Process(context.Background())
	assert.Error(t, err)
}

func TestProcessorAIEnrichment(t *testing.T) {
	file := processorFile()
	profile := allExtractorsProfile()
	profile.AISummary = true
	profile.RelationshipMode = models.RelationshipModeAI
	loader := &fakeGraph{}
	enricher := &fakeEnricher{relations: []ai.Relation{
		{Source: "evil.example.com", Target: "10.0.0.1", Type: "communicates-with"},
	}}

	p, err := NewProcessor(file, profile, []byte("evil.example.com 10.0.0.1"), loader, enricher, quietLogger())
	require.NoError(t, err)
	defer p.Close()

	result, err := p.Process(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "short summary", result.Summary)
	assert.Equal(t, "fake:model", result.SummaryProvider)
	require.NotNil(t, result.Incident)
	assert.True(t, result.Incident.DescribesIncident)

	var rels int
	for _, obj := range loader.objects {
		if obj.Type() == "relationship" {
			rels++
			assert.Equal(t, "communicates-with", obj["relationship_type"])
		}
	}
	assert.Equal(t, 1, rels)
}

func imageBearingContent() []byte {
	png := base64.StdEncoding.EncodeToString([]byte("not a real png"))
	return []byte("intro text\n\n![figure](data:image/png;base64," + png + ")\n")
}

func TestProcessorImageTextReachesExtraction(t *testing.T) {
	file := processorFile()
	file.Mode = "md"
	file.Filename = "report.md"
	profile := allExtractorsProfile()
	profile.ExtractTextFromImage = true
	loader := &fakeGraph{}
	enricher := &fakeEnricher{imageText: "exfil host at 203.0.113.7"}

	p, err := NewProcessor(file, profile, imageBearingContent(), loader, enricher, quietLogger())
	require.NoError(t, err)
	defer p.Close()

	result, err := p.Process(context.Background())
	require.NoError(t, err)

	require.Len(t, enricher.transcribed, 1)
	require.Len(t, result.Images, 1)
	assert.Equal(t, result.Images[0].Path, enricher.transcribed[0])

	// The indicator that only existed inside the image was extracted.
	var values []string
	for _, ex := range result.Extractions {
		values = append(values, ex.Value)
	}
	assert.Contains(t, values, "203.0.113.7")

	md, err := os.ReadFile(result.MarkdownPath)
	require.NoError(t, err)
	assert.Contains(t, string(md), "203.0.113.7")
}

func TestProcessorImageTextSkippedWithoutModel(t *testing.T) {
	file := processorFile()
	file.Mode = "md"
	file.Filename = "report.md"
	profile := allExtractorsProfile()
	profile.ExtractTextFromImage = true

	p, err := NewProcessor(file, profile, imageBearingContent(), &fakeGraph{}, nil, quietLogger())
	require.NoError(t, err)
	defer p.Close()

	result, err := p.Process(context.Background())
	require.NoError(t, err)
	assert.Len(t, result.Images, 1)
}

func TestProcessorImageTextOffByDefault(t *testing.T) {
	file := processorFile()
	file.Mode = "md"
	file.Filename = "report.md"
	loader := &fakeGraph{}
	enricher := &fakeEnricher{imageText: "203.0.113.7"}

	p, err := NewProcessor(file, allExtractorsProfile(), imageBearingContent(), loader, enricher, quietLogger())
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Process(context.Background())
	require.NoError(t, err)
	assert.Empty(t, enricher.transcribed)
}

func TestProcessorAIRelationshipsRequireModel(t *testing.T) {
	file := processorFile()
	profile := allExtractorsProfile()
	profile.RelationshipMode = models.RelationshipModeAI

	p, err := NewProcessor(file, profile, []byte("evil.example.com 10.0.0.1"), &fakeGraph{}, nil, quietLogger())
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Process(context.Background())
	assert.Error(t, err)
}
