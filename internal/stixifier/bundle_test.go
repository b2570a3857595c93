package stixifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stixify/stixify/internal/ai"
	"github.com/stixify/stixify/internal/models"
)

func testProps() ReportProperties {
	return ReportProperties{
		Name:       "test report",
		TLPLevel:   models.TLPGreen,
		Confidence: 70,
		Labels:     []string{"test"},
		Created:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewBundlerReportSkeleton(t *testing.T) {
	b, err := NewBundler("report--123", testProps(), "description text", models.RelationshipModeStandard)
	require.NoError(t, err)

	objects := b.Objects()
	require.GreaterOrEqual(t, len(objects), 3)

	report := objects[0]
	assert.Equal(t, "report--123", report.ID())
	assert.Equal(t, "test report", report["name"])
	assert.Equal(t, "description text", report["description"])
	assert.Equal(t, DefaultIdentity.ID(), report["created_by_ref"])
	assert.Equal(t, []string{models.TLPMarkingIDs[models.TLPGreen]}, report["object_marking_refs"])
	assert.Equal(t, 70, report["confidence"])

	// Identity and marking ride along in every bundle.
	assert.Equal(t, "identity", objects[1].Type())
	assert.Equal(t, "marking-definition", objects[2].Type())
}

func TestNewBundlerInvalidTLP(t *testing.T) {
	props := testProps()
	props.TLPLevel = "purple"
	_, err := NewBundler("report--123", props, "", models.RelationshipModeStandard)
	assert.Error(t, err)
}

func TestAddExtractionStandardMode(t *testing.T) {
	b, err := NewBundler("report--123", testProps(), "", models.RelationshipModeStandard)
	require.NoError(t, err)

	require.NoError(t, b.AddExtraction(Extraction{
		Extractor: "ipv4", STIXType: "ipv4-addr", Value: "10.0.0.1",
	}))

	objects := b.Objects()
	var sco, sro models.Object
	for _, obj := range objects {
		switch obj.Type() {
		case "ipv4-addr":
			sco = obj
		case "relationship":
			sro = obj
		}
	}
	require.NotNil(t, sco)
	require.NotNil(t, sro)

	assert.Equal(t, "10.0.0.1", sco["value"])
	assert.Equal(t, models.DeterministicID("ipv4-addr", "10.0.0.1"), sco.ID())

	// Standard mode links each extraction back to the report.
	assert.Equal(t, "related-to", sro["relationship_type"])
	assert.Equal(t, sco.ID(), sro["source_ref"])
	assert.Equal(t, "report--123", sro["target_ref"])

	// Everything is reachable from the report.
	refs, ok := objects[0]["object_refs"].([]string)
	require.True(t, ok)
	assert.Contains(t, refs, sco.ID())
	assert.Contains(t, refs, sro.ID())
}

func TestAddExtractionHashAndVulnerability(t *testing.T) {
	b, err := NewBundler("report--123", testProps(), "", models.RelationshipModeStandard)
	require.NoError(t, err)

	require.NoError(t, b.AddExtraction(Extraction{
		Extractor: "sha256", STIXType: "file",
		Value: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}))
	require.NoError(t, b.AddExtraction(Extraction{
		Extractor: "cve", STIXType: "vulnerability", Value: "CVE-2024-12345",
	}))

	var file, vuln models.Object
	for _, obj := range b.Objects() {
		switch obj.Type() {
		case "file":
			file = obj
		case "vulnerability":
			vuln = obj
		}
	}
	require.NotNil(t, file)
	hashes, ok := file["hashes"].(models.Object)
	require.True(t, ok)
	assert.NotEmpty(t, hashes["SHA-256"])

	require.NotNil(t, vuln)
	assert.Equal(t, "CVE-2024-12345", vuln["name"])
	assert.Equal(t, DefaultIdentity.ID(), vuln["created_by_ref"])
	assert.NotEmpty(t, vuln["created"])
}

func TestAddAIRelations(t *testing.T) {
	b, err := NewBundler("report--123", testProps(), "", models.RelationshipModeAI)
	require.NoError(t, err)

	require.NoError(t, b.AddExtraction(Extraction{
		Extractor: "domain", STIXType: "domain-name", Value: "evil.example.com",
	}))
	require.NoError(t, b.AddExtraction(Extraction{
		Extractor: "ipv4", STIXType: "ipv4-addr", Value: "10.0.0.1",
	}))

	b.AddAIRelations([]ai.Relation{
		{Source: "evil.example.com", Target: "10.0.0.1", Type: "communicates-with"},
		{Source: "not-extracted.example.org", Target: "10.0.0.1", Type: "uses"},
	})

	var rels []models.Object
	for _, obj := range b.Objects() {
		if obj.Type() == "relationship" {
			rels = append(rels, obj)
		}
	}
	// AI mode produces no report links, only the one valid suggested relation.
	require.Len(t, rels, 1)
	assert.Equal(t, "communicates-with", rels[0]["relationship_type"])
	assert.Equal(t, models.DeterministicID("domain-name", "evil.example.com"), rels[0]["source_ref"])
}

func TestAddNote(t *testing.T) {
	b, err := NewBundler("report--123", testProps(), "", models.RelationshipModeStandard)
	require.NoError(t, err)

	b.AddNote(`{"name":"profile"}`, "Stixify Profile")

	var note models.Object
	for _, obj := range b.Objects() {
		if obj.Type() == "note" {
			note = obj
		}
	}
	require.NotNil(t, note)
	assert.Equal(t, "Stixify Profile", note["abstract"])
	assert.Equal(t, []string{"report--123"}, note["object_refs"])
}

func TestCustomIdentity(t *testing.T) {
	props := testProps()
	props.Identity = models.Object{
		"type": "identity",
		"id":   "identity--11111111-1111-1111-1111-111111111111",
		"name": "acme corp",
	}
	b, err := NewBundler("report--123", props, "", models.RelationshipModeStandard)
	require.NoError(t, err)

	objects := b.Objects()
	assert.Equal(t, "identity--11111111-1111-1111-1111-111111111111", objects[0]["created_by_ref"])
	assert.Equal(t, "acme corp", objects[1]["name"])
}
