package graph

import "github.com/stixify/stixify/internal/models"

// Collection names, re-exported so graph callers don't need models.
const (
	VertexCollection = models.VertexCollection
	EdgeCollection   = models.EdgeCollection
)

// SchemaSQL defines the two physical collections. Tables are SCHEMALESS
// because STIX payloads are open-ended; only the fields the query and
// deletion engines filter on get indexes.
const SchemaSQL = `
    -- ==========================================================================
    -- VERTEX COLLECTION (SDOs, SCOs, identities, marking definitions)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS stixify_vertex_collection SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS vertex_stix_id ON stixify_vertex_collection FIELDS doc.id;
    DEFINE INDEX IF NOT EXISTS vertex_type ON stixify_vertex_collection FIELDS doc.type;
    DEFINE INDEX IF NOT EXISTS vertex_latest ON stixify_vertex_collection FIELDS _is_latest;
    DEFINE INDEX IF NOT EXISTS vertex_report ON stixify_vertex_collection FIELDS _stixify_report_id;
    DEFINE INDEX IF NOT EXISTS vertex_creator ON stixify_vertex_collection FIELDS doc.created_by_ref;

    -- ==========================================================================
    -- EDGE COLLECTION (SROs)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS stixify_edge_collection SCHEMALESS;
    DEFINE INDEX IF NOT EXISTS edge_stix_id ON stixify_edge_collection FIELDS doc.id;
    DEFINE INDEX IF NOT EXISTS edge_latest ON stixify_edge_collection FIELDS _is_latest;
    DEFINE INDEX IF NOT EXISTS edge_report ON stixify_edge_collection FIELDS _stixify_report_id;
    DEFINE INDEX IF NOT EXISTS edge_creator ON stixify_edge_collection FIELDS doc.created_by_ref;
    DEFINE INDEX IF NOT EXISTS edge_from ON stixify_edge_collection FIELDS _from;
    DEFINE INDEX IF NOT EXISTS edge_to ON stixify_edge_collection FIELDS _to;
    DEFINE INDEX IF NOT EXISTS edge_source_ref ON stixify_edge_collection FIELDS doc.source_ref;
    DEFINE INDEX IF NOT EXISTS edge_target_ref ON stixify_edge_collection FIELDS doc.target_ref;
`
