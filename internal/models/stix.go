// Package models defines the data structures shared by the Stixify pipeline,
// the graph store and the control plane.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Physical collection names. SDOs, SCOs, identities and marking definitions
// live in the vertex collection; SROs live in the edge collection because
// relationships need a graph-native _from/_to representation for traversal.
const (
	VertexCollection = "stixify_vertex_collection"
	EdgeCollection   = "stixify_edge_collection"
)

// Namespace is the UUIDv5 namespace used for deterministic STIX ids.
var Namespace = uuid.MustParse("e92c648d-03eb-59a5-a318-9a36e6f8057c")

// Object is a raw STIX object. Stored documents are schemaless, so the
// payload stays a map rather than one struct per STIX type.
type Object map[string]any

// ID returns the STIX id of the object, or "" if unset.
func (o Object) ID() string {
	s, _ := o["id"].(string)
	return s
}

// Type returns the STIX type of the object, or "" if unset.
func (o Object) Type() string {
	s, _ := o["type"].(string)
	return s
}

// Modified returns the object's modified timestamp, falling back to created.
func (o Object) Modified() string {
	if s, _ := o["modified"].(string); s != "" {
		return s
	}
	s, _ := o["created"].(string)
	return s
}

// Envelope wraps a STIX object with the storage metadata the graph store
// maintains per version. The raw payload is kept intact under Doc; metadata
// fields never leak into read results.
type Envelope struct {
	Key           string    `json:"_key"`
	CompositeID   string    `json:"_id"`
	IsLatest      bool      `json:"_is_latest"`
	ReportID      string    `json:"_stixify_report_id"`
	FileID        string    `json:"_stixify_file_id,omitempty"`
	RecordCreated time.Time `json:"_record_created"`
	From          string    `json:"_from,omitempty"`
	To            string    `json:"_to,omitempty"`
	Doc           Object    `json:"doc"`
}

// NewEnvelope builds the storage envelope for one version of a STIX object.
// The version key is the STIX id plus the modified timestamp, so re-ingesting
// the same logical object produces a distinct version record.
func NewEnvelope(doc Object, reportID, fileID string) Envelope {
	key := doc.ID() + "+" + doc.Modified()
	collection := CollectionFor(doc.Type())
	return Envelope{
		Key:           key,
		CompositeID:   collection + "/" + key,
		IsLatest:      true,
		ReportID:      reportID,
		FileID:        fileID,
		RecordCreated: time.Now().UTC(),
		Doc:           doc,
	}
}

// Collection returns the physical collection this envelope routes to.
func (e Envelope) Collection() string {
	return CollectionFor(e.Doc.Type())
}

// IsEdge reports whether the wrapped object is an SRO.
func (e Envelope) IsEdge() bool {
	return e.Doc.Type() == "relationship"
}

// CollectionFor routes a STIX type to its physical collection.
func CollectionFor(stixType string) string {
	if stixType == "relationship" {
		return EdgeCollection
	}
	return VertexCollection
}

// SCOTypes are the observable types served by the SCO endpoints.
var SCOTypes = []string{
	"ipv4-addr",
	"network-traffic",
	"ipv6-addr",
	"domain-name",
	"url",
	"file",
	"directory",
	"email-addr",
	"mac-addr",
	"windows-registry-key",
	"autonomous-system",
	"user-agent",
	"cryptocurrency-wallet",
	"cryptocurrency-transaction",
	"bank-card",
	"bank-account",
	"phone-number",
}

// SDOTypes are the domain-object types served by the SDO endpoints.
var SDOTypes = []string{
	"report",
	"indicator",
	"attack-pattern",
	"weakness",
	"campaign",
	"course-of-action",
	"infrastructure",
	"intrusion-set",
	"malware",
	"threat-actor",
	"tool",
	"identity",
	"location",
	"vulnerability",
	"note",
}

// TLP levels, TLPv2.
const (
	TLPRed         = "red"
	TLPAmberStrict = "amber+strict"
	TLPAmber       = "amber"
	TLPGreen       = "green"
	TLPClear       = "clear"
)

// TLPMarkingIDs maps a TLP level to its marking-definition id.
var TLPMarkingIDs = map[string]string{
	TLPRed:         "marking-definition--e828b379-4e03-4974-9ac4-e53a884c97c1",
	TLPClear:       "marking-definition--94868c89-83c2-464b-929b-a1a8aa3c8487",
	TLPGreen:       "marking-definition--bab4a63c-aed9-4cf5-a766-dfca5abac2bb",
	TLPAmber:       "marking-definition--55d920b0-5e8b-4f79-9ee9-91f868d9b421",
	TLPAmberStrict: "marking-definition--939a9414-2ddd-4d32-a0cd-375ea402b003",
}

// ShareableMarkingIDs are the marking ids visible to every identity.
// Everything else is only visible to its creator.
var ShareableMarkingIDs = []string{
	TLPMarkingIDs[TLPClear],
	TLPMarkingIDs[TLPGreen],
}

// ValidTLP reports whether level is a known TLP level.
func ValidTLP(level string) bool {
	_, ok := TLPMarkingIDs[level]
	return ok
}

// SplitCompositeID splits a "collection/key" composite id.
func SplitCompositeID(id string) (collection, key string, ok bool) {
	return strings.Cut(id, "/")
}

// DeterministicID builds a UUIDv5-based STIX id for an extracted value, so
// the same value always maps to the same object id.
func DeterministicID(stixType, value string) string {
	return stixType + "--" + uuid.NewSHA1(Namespace, []byte(stixType+"+"+value)).String()
}
