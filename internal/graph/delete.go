package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/stixify/stixify/internal/models"
)

// affectedRow identifies one stored version record slated for deletion.
type affectedRow struct {
	Key         string `json:"key"`
	CompositeID string `json:"composite_id"`
	StixID      string `json:"stix_id"`
}

const selectByReportSQL = `
    SELECT _key AS key, _id AS composite_id, doc.id AS stix_id
    FROM stixify_vertex_collection, stixify_edge_collection
    WHERE _stixify_report_id = $report_id
`

const selectIdentityVerticesSQL = `
    SELECT _key AS key, _id AS composite_id, doc.id AS stix_id
    FROM stixify_vertex_collection
    WHERE doc.created_by_ref = $identity OR doc.id = $identity
`

const selectIdentityEdgesSQL = `
    SELECT _key AS key, _id AS composite_id, doc.id AS stix_id
    FROM stixify_edge_collection
    WHERE doc.created_by_ref = $identity
       OR _from IN $composites
       OR _to IN $composites
`

// DeleteReport removes every object version ingested under one report and
// repairs the latest flag for each STIX id that lost a version. Deleting an
// unknown report is a no-op; the operation is idempotent.
func (c *Client) DeleteReport(ctx context.Context, reportID string) (int, error) {
	rows, err := c.selectAffected(ctx, selectByReportSQL,
		map[string]any{"report_id": reportID})
	if err != nil {
		return 0, fmt.Errorf("delete report %s: %w", reportID, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	deleted, err := c.deleteAndRepair(ctx, rows)
	if err != nil {
		return deleted, fmt.Errorf("delete report %s: %w", reportID, err)
	}
	c.logger.Info("report deleted", "report_id", reportID, "objects", deleted)
	return deleted, nil
}

// DeleteIdentity removes every object an identity created, the identity
// object itself, and every edge attached to a removed vertex, regardless of
// who created the edge. Deletion is best-effort: each collection is swept
// independently and partial failures are reported after everything
// reachable has been removed.
func (c *Client) DeleteIdentity(ctx context.Context, identityID string) (int, error) {
	vertices, err := c.selectAffected(ctx, selectIdentityVerticesSQL,
		map[string]any{"identity": identityID})
	if err != nil {
		return 0, fmt.Errorf("delete identity %s: %w", identityID, err)
	}

	composites := make([]string, 0, len(vertices))
	for _, r := range vertices {
		composites = append(composites, r.CompositeID)
	}

	edges, err := c.selectAffected(ctx, selectIdentityEdgesSQL, map[string]any{
		"identity":   identityID,
		"composites": composites,
	})
	if err != nil {
		return 0, fmt.Errorf("delete identity %s: %w", identityID, err)
	}

	deleted, err := c.deleteAndRepair(ctx, append(vertices, edges...))
	if err != nil {
		return deleted, fmt.Errorf("delete identity %s: %w", identityID, err)
	}
	c.logger.Info("identity deleted", "identity_id", identityID, "objects", deleted)
	return deleted, nil
}

func (c *Client) selectAffected(ctx context.Context, sql string, vars map[string]any) ([]affectedRow, error) {
	res, err := surrealdb.Query[[]affectedRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	return (*res)[0].Result, nil
}

// deleteAndRepair groups the affected version records by collection, batch
// deletes them, and recomputes the latest flag for every STIX id touched.
// Collections are swept independently so one failure does not stop the
// other sweep.
func (c *Client) deleteAndRepair(ctx context.Context, rows []affectedRow) (int, error) {
	keys := map[string][]string{}
	stixIDs := map[string][]string{}
	seen := map[string]bool{}
	for _, r := range rows {
		collection, key, ok := models.SplitCompositeID(r.CompositeID)
		if !ok || !knownCollection(collection) {
			continue
		}
		keys[collection] = append(keys[collection], key)
		mark := collection + "|" + r.StixID
		if !seen[mark] {
			seen[mark] = true
			stixIDs[collection] = append(stixIDs[collection], r.StixID)
		}
	}

	deleted := 0
	var errs []error
	// Edges go first so a vertex sweep failure never leaves dangling edges.
	for _, collection := range []string{EdgeCollection, VertexCollection} {
		batch := keys[collection]
		if len(batch) == 0 {
			continue
		}
		sql := fmt.Sprintf("DELETE %s WHERE _key IN $keys", collection)
		if _, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"keys": batch}); err != nil {
			errs = append(errs, fmt.Errorf("delete from %s: %w", collection, wrapQueryError(err)))
			continue
		}
		deleted += len(batch)
		if err := c.repairLatest(ctx, collection, stixIDs[collection]); err != nil {
			errs = append(errs, err)
		}
	}
	return deleted, errors.Join(errs...)
}

// repairLatest re-elects the latest version for each STIX id after versions
// were removed. Ids with no remaining versions are left alone.
func (c *Client) repairLatest(ctx context.Context, collection string, stixIDs []string) error {
	if len(stixIDs) == 0 {
		return nil
	}
	sql := fmt.Sprintf(`
        FOR $sid IN $ids {
            LET $latest = (SELECT VALUE _key FROM %[1]s WHERE doc.id = $sid ORDER BY doc.modified DESC LIMIT 1)[0];
            UPDATE %[1]s SET _is_latest = (_key = $latest) WHERE doc.id = $sid;
        };
    `, collection)
	if _, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"ids": stixIDs}); err != nil {
		return fmt.Errorf("repair latest in %s: %w", collection, wrapQueryError(err))
	}
	return nil
}

func knownCollection(name string) bool {
	return name == VertexCollection || name == EdgeCollection
}
