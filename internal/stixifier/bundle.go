package stixifier

import (
	"fmt"
	"strconv"
	"time"

	"github.com/stixify/stixify/internal/ai"
	"github.com/stixify/stixify/internal/models"
)

// DefaultIdentity is the identity objects fall back to when the upload
// carries none.
var DefaultIdentity = models.Object{
	"type":           "identity",
	"spec_version":   "2.1",
	"id":             models.DeterministicID("identity", "stixify"),
	"name":           "stixify",
	"identity_class": "system",
}

// ReportProperties carries the upload metadata applied to the generated
// report and every object under it.
type ReportProperties struct {
	Name       string
	Identity   models.Object
	TLPLevel   string
	Confidence int
	Labels     []string
	Created    time.Time
}

// Bundler accumulates the STIX objects generated for one report.
type Bundler struct {
	report     models.Object
	identity   models.Object
	marking    models.Object
	objects    []models.Object
	objectRefs []string
	valueToID  map[string]string
	relMode    string
	stamp      string
}

// NewBundler builds the report skeleton. The report id is derived from the
// file id, so re-processing a file produces a new version of the same
// report rather than a new report.
func NewBundler(reportID string, props ReportProperties, description string, relationshipMode string) (*Bundler, error) {
	if !models.ValidTLP(props.TLPLevel) {
		return nil, fmt.Errorf("invalid tlp level %q", props.TLPLevel)
	}
	identity := props.Identity
	if identity == nil {
		identity = DefaultIdentity
	}

	created := props.Created.UTC()
	if created.IsZero() {
		created = time.Now().UTC()
	}
	stamp := created.Format("2006-01-02T15:04:05.000Z")
	markingID := models.TLPMarkingIDs[props.TLPLevel]

	b := &Bundler{
		identity: identity,
		marking: models.Object{
			"type":            "marking-definition",
			"spec_version":    "2.1",
			"id":              markingID,
			"created":         "2022-10-01T00:00:00.000Z",
			"name":            "TLP:" + props.TLPLevel,
			"definition_type": "tlp",
		},
		report: models.Object{
			"type":                "report",
			"spec_version":        "2.1",
			"id":                  reportID,
			"name":                props.Name,
			"description":         description,
			"created":             stamp,
			"modified":            time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
			"published":           stamp,
			"created_by_ref":      identity.ID(),
			"object_marking_refs": []string{markingID},
			"confidence":          props.Confidence,
			"labels":              props.Labels,
		},
		valueToID: map[string]string{},
		relMode:   relationshipMode,
		stamp:     stamp,
	}
	return b, nil
}

// ReportID returns the id of the report under construction.
func (b *Bundler) ReportID() string {
	return b.report.ID()
}

// common metadata every generated object carries.
func (b *Bundler) stampObject(obj models.Object) models.Object {
	obj["spec_version"] = "2.1"
	obj["object_marking_refs"] = b.report["object_marking_refs"]
	return obj
}

// AddExtraction converts one extracted value into its STIX object, tracks
// it on the report, and in standard relationship mode links it back to the
// report with a related-to relationship.
func (b *Bundler) AddExtraction(ex Extraction) error {
	obj, err := objectForExtraction(ex)
	if err != nil {
		return err
	}
	b.stampObject(obj)
	if ex.STIXType == "vulnerability" {
		// SDOs carry creation metadata; SCOs do not.
		obj["created"] = b.stamp
		obj["modified"] = b.stamp
		obj["created_by_ref"] = b.identity.ID()
	}

	b.objects = append(b.objects, obj)
	b.objectRefs = append(b.objectRefs, obj.ID())
	b.valueToID[ex.Value] = obj.ID()

	if b.relMode == models.RelationshipModeStandard {
		b.addRelationship(obj.ID(), b.report.ID(), "related-to")
	}
	return nil
}

// AddAIRelations records model-suggested relationships between extracted
// values. Relations naming unextracted values are skipped.
func (b *Bundler) AddAIRelations(relations []ai.Relation) {
	for _, rel := range relations {
		source, ok := b.valueToID[rel.Source]
		if !ok {
			continue
		}
		target, ok := b.valueToID[rel.Target]
		if !ok {
			continue
		}
		b.addRelationship(source, target, rel.Type)
	}
}

func (b *Bundler) addRelationship(sourceRef, targetRef, relType string) {
	rel := b.stampObject(models.Object{
		"type":              "relationship",
		"id":                models.DeterministicID("relationship", sourceRef+"+"+targetRef+"+"+relType),
		"relationship_type": relType,
		"source_ref":        sourceRef,
		"target_ref":        targetRef,
		"created":           b.stamp,
		"modified":          b.stamp,
		"created_by_ref":    b.identity.ID(),
	})
	b.objects = append(b.objects, rel)
	b.objectRefs = append(b.objectRefs, rel.ID())
}

// AddNote attaches a note to the report, used to record the profile the
// extraction ran with.
func (b *Bundler) AddNote(content, abstract string) {
	note := b.stampObject(models.Object{
		"type":           "note",
		"id":             models.DeterministicID("note", b.report.ID()+"+"+abstract),
		"abstract":       abstract,
		"content":        content,
		"created":        b.stamp,
		"modified":       b.stamp,
		"created_by_ref": b.identity.ID(),
		"object_refs":    []string{b.report.ID()},
	})
	b.objects = append(b.objects, note)
	b.objectRefs = append(b.objectRefs, note.ID())
}

// Objects finalizes the bundle: report first, then identity, marking and
// every generated object.
func (b *Bundler) Objects() []models.Object {
	b.report["object_refs"] = b.objectRefs
	out := make([]models.Object, 0, len(b.objects)+3)
	out = append(out, b.report, b.identity, b.marking)
	return append(out, b.objects...)
}

func objectForExtraction(ex Extraction) (models.Object, error) {
	id := models.DeterministicID(ex.STIXType, ex.Value)
	switch ex.STIXType {
	case "ipv4-addr", "ipv6-addr", "domain-name", "url", "email-addr", "mac-addr":
		return models.Object{"type": ex.STIXType, "id": id, "value": ex.Value}, nil
	case "file":
		return models.Object{
			"type":   "file",
			"id":     id,
			"hashes": models.Object{hashAlgorithm(ex.Extractor): ex.Value},
		}, nil
	case "autonomous-system":
		number, err := strconv.Atoi(ex.Value[2:])
		if err != nil {
			return nil, fmt.Errorf("parse asn %q: %w", ex.Value, err)
		}
		return models.Object{"type": ex.STIXType, "id": id, "number": number}, nil
	case "windows-registry-key":
		return models.Object{"type": ex.STIXType, "id": id, "key": ex.Value}, nil
	case "cryptocurrency-wallet", "phone-number":
		return models.Object{"type": ex.STIXType, "id": id, "value": ex.Value}, nil
	case "vulnerability":
		return models.Object{
			"type": ex.STIXType,
			"id":   id,
			"name": ex.Value,
			"external_references": []models.Object{
				{"source_name": "cve", "external_id": ex.Value},
			},
		}, nil
	default:
		return nil, fmt.Errorf("no object builder for type %q", ex.STIXType)
	}
}

func hashAlgorithm(slug string) string {
	switch slug {
	case "md5":
		return "MD5"
	case "sha1":
		return "SHA-1"
	default:
		return "SHA-256"
	}
}
