package graph

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/stixify/stixify/internal/models"
)

// insertBundleSQL persists one bundle atomically. Objects are upserted under
// their version key, then the latest flag is recomputed per STIX id so that
// exactly one version per id carries _is_latest = true, whatever order the
// versions arrived in.
const insertBundleSQL = `
    BEGIN TRANSACTION;

    FOR $obj IN $vertex_objects {
        UPSERT type::thing('stixify_vertex_collection', $obj._key) CONTENT $obj;
    };
    FOR $obj IN $edge_objects {
        UPSERT type::thing('stixify_edge_collection', $obj._key) CONTENT $obj;
    };

    FOR $sid IN $vertex_ids {
        LET $latest = (SELECT VALUE _key FROM stixify_vertex_collection WHERE doc.id = $sid ORDER BY doc.modified DESC LIMIT 1)[0];
        UPDATE stixify_vertex_collection SET _is_latest = (_key = $latest) WHERE doc.id = $sid;
    };
    FOR $sid IN $edge_ids {
        LET $latest = (SELECT VALUE _key FROM stixify_edge_collection WHERE doc.id = $sid ORDER BY doc.modified DESC LIMIT 1)[0];
        UPDATE stixify_edge_collection SET _is_latest = (_key = $latest) WHERE doc.id = $sid;
    };

    COMMIT TRANSACTION;
`

// InsertBundle persists every object of one processed report in a single
// transaction. Either the whole bundle lands or none of it does; a failure
// leaves no partial graph behind.
func (c *Client) InsertBundle(ctx context.Context, objects []models.Object, reportID, fileID string) error {
	if len(objects) == 0 {
		return nil
	}

	envelopes := make([]models.Envelope, 0, len(objects))
	byStixID := make(map[string]string, len(objects))
	for _, obj := range objects {
		if obj.ID() == "" || obj.Type() == "" {
			return fmt.Errorf("bundle object missing id or type")
		}
		env := models.NewEnvelope(obj, reportID, fileID)
		envelopes = append(envelopes, env)
		byStixID[obj.ID()] = env.CompositeID
	}

	var (
		vertexObjects []models.Envelope
		edgeObjects   []models.Envelope
		vertexIDs     []string
		edgeIDs       []string
	)
	seenVertex := map[string]bool{}
	seenEdge := map[string]bool{}
	for i := range envelopes {
		env := &envelopes[i]
		if env.IsEdge() {
			// Edges link the version records of their endpoints when both
			// sides are part of the bundle.
			src, _ := env.Doc["source_ref"].(string)
			dst, _ := env.Doc["target_ref"].(string)
			env.From = byStixID[src]
			env.To = byStixID[dst]
			edgeObjects = append(edgeObjects, *env)
			if !seenEdge[env.Doc.ID()] {
				seenEdge[env.Doc.ID()] = true
				edgeIDs = append(edgeIDs, env.Doc.ID())
			}
			continue
		}
		vertexObjects = append(vertexObjects, *env)
		if !seenVertex[env.Doc.ID()] {
			seenVertex[env.Doc.ID()] = true
			vertexIDs = append(vertexIDs, env.Doc.ID())
		}
	}

	vars := map[string]any{
		"vertex_objects": vertexObjects,
		"edge_objects":   edgeObjects,
		"vertex_ids":     vertexIDs,
		"edge_ids":       edgeIDs,
	}
	if _, err := surrealdb.Query[any](ctx, c.db, insertBundleSQL, vars); err != nil {
		return fmt.Errorf("insert bundle %s: %w", reportID, wrapQueryError(err))
	}

	c.logger.Info("bundle persisted",
		"report_id", reportID,
		"vertices", len(vertexObjects),
		"edges", len(edgeObjects))
	return nil
}
