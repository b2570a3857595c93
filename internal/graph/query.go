package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/stixify/stixify/internal/models"
)

// Per-endpoint sort whitelists. Requested keys outside the list fall back
// to the endpoint default.
var (
	reportSortKeys = []string{
		"created_ascending", "created_descending",
		"modified_ascending", "modified_descending",
		"name_ascending", "name_descending",
		"confidence_ascending", "confidence_descending",
	}
	objectSortKeys = []string{
		"created_ascending", "created_descending",
		"modified_ascending", "modified_descending",
		"type_ascending", "type_descending",
	}

	defaultReportSort = "created_descending"
	defaultObjectSort = "created_descending"
)

type countRow struct {
	Total int `json:"total"`
}

// runPage executes a built query plus its matching count query and wraps the
// results into a Page.
func (c *Client) runPage(ctx context.Context, b *queryBuilder, page PageParams) (*Page, error) {
	page = page.normalize()

	sql, vars := b.Build(page)
	res, err := surrealdb.Query[[]models.Object](ctx, c.db, sql, vars)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	objects := (*res)[0].Result

	countSQL, countVars := b.BuildCount()
	countRes, err := surrealdb.Query[[]countRow](ctx, c.db, countSQL, countVars)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	total := 0
	if rows := (*countRes)[0].Result; len(rows) > 0 {
		total = rows[0].Total
	}

	return &Page{
		PageNumber:        page.Page,
		PageSize:          page.PageSize,
		PageResultsCount:  len(objects),
		TotalResultsCount: total,
		Objects:           objects,
	}, nil
}

// ReportFilter narrows the report listing.
type ReportFilter struct {
	Name          string // case-insensitive substring match
	TLPLevel      string
	Labels        []string
	Identity      string // created_by_ref
	ConfidenceMin *int
	ConfidenceMax *int
	CreatedAfter  string // inclusive STIX timestamp bound on doc.created
	CreatedBefore string
	Visible       string // requesting identity id; "" disables visibility filtering
	Sort          string
}

// Reports lists the latest version of every report the viewer may see.
func (c *Client) Reports(ctx context.Context, f ReportFilter, page PageParams) (*Page, error) {
	b := newQuery(VertexCollection).
		Where("doc.type = $type", Bind("type", "report")).
		Latest().
		Visible(f.Visible).
		Sort(f.Sort, reportSortKeys, defaultReportSort)

	if f.Name != "" {
		b.Where("string::lowercase(doc.name) CONTAINS $name",
			Bind("name", strings.ToLower(f.Name)))
	}
	if f.TLPLevel != "" {
		marking, ok := models.TLPMarkingIDs[f.TLPLevel]
		if !ok {
			return nil, fmt.Errorf("unknown tlp level %q", f.TLPLevel)
		}
		b.Where("doc.object_marking_refs CONTAINS $marking", Bind("marking", marking))
	}
	if len(f.Labels) > 0 {
		b.Where("doc.labels CONTAINSANY $labels", Bind("labels", f.Labels))
	}
	if f.Identity != "" {
		b.Where("doc.created_by_ref = $identity", Bind("identity", f.Identity))
	}
	if f.ConfidenceMin != nil {
		b.Where("doc.confidence >= $confidence_min", Bind("confidence_min", *f.ConfidenceMin))
	}
	if f.ConfidenceMax != nil {
		b.Where("doc.confidence <= $confidence_max", Bind("confidence_max", *f.ConfidenceMax))
	}
	// STIX timestamps are fixed-width UTC strings, so the range bounds are
	// plain string comparisons.
	if f.CreatedAfter != "" {
		b.Where("doc.created >= $created_after", Bind("created_after", f.CreatedAfter))
	}
	if f.CreatedBefore != "" {
		b.Where("doc.created <= $created_before", Bind("created_before", f.CreatedBefore))
	}

	return c.runPage(ctx, b, page)
}

// ReportByID fetches the latest version of one report.
func (c *Client) ReportByID(ctx context.Context, reportID, viewer string) (models.Object, error) {
	b := newQuery(VertexCollection).
		Where("doc.id = $id", Bind("id", reportID)).
		Where("doc.type = $type", Bind("type", "report")).
		Latest().
		Visible(viewer)

	sql, vars := b.Build(PageParams{Page: 1, PageSize: 1})
	res, err := surrealdb.Query[[]models.Object](ctx, c.db, sql, vars)
	if err != nil {
		return nil, wrapQueryError(err)
	}
	objects := (*res)[0].Result
	if len(objects) == 0 {
		return nil, fmt.Errorf("report %s: %w", reportID, ErrNotFound)
	}
	return objects[0], nil
}

// ReportObjects lists every latest object ingested under one report, across
// both collections.
func (c *Client) ReportObjects(ctx context.Context, reportID, viewer, sort string, page PageParams) (*Page, error) {
	b := newQuery(VertexCollection, EdgeCollection).
		Where("_stixify_report_id = $report_id", Bind("report_id", reportID)).
		Latest().
		Visible(viewer).
		Sort(sort, objectSortKeys, defaultObjectSort)
	return c.runPage(ctx, b, page)
}

// SDOFilter narrows the domain-object listing.
type SDOFilter struct {
	Types   []string
	Labels  []string
	Visible string
	Sort    string
}

// SDOs lists latest STIX domain objects. An empty Types filter covers every
// known SDO type; requested types are intersected with the known set.
func (c *Client) SDOs(ctx context.Context, f SDOFilter, page PageParams) (*Page, error) {
	types := intersectTypes(f.Types, models.SDOTypes)
	b := newQuery(VertexCollection).
		Where("doc.type IN $types", Bind("types", types)).
		Latest().
		Visible(f.Visible).
		Sort(f.Sort, objectSortKeys, defaultObjectSort)
	if len(f.Labels) > 0 {
		b.Where("doc.labels CONTAINSANY $labels", Bind("labels", f.Labels))
	}
	return c.runPage(ctx, b, page)
}

// SCOFilter narrows the observable listing.
type SCOFilter struct {
	Types   []string
	Value   string // case-insensitive substring match on the observable value
	Visible string
	Sort    string
}

// SCOs lists latest STIX cyber-observable objects.
func (c *Client) SCOs(ctx context.Context, f SCOFilter, page PageParams) (*Page, error) {
	types := intersectTypes(f.Types, models.SCOTypes)
	b := newQuery(VertexCollection).
		Where("doc.type IN $types", Bind("types", types)).
		Latest().
		Visible(f.Visible).
		Sort(f.Sort, objectSortKeys, defaultObjectSort)
	if f.Value != "" {
		// Observables carry their value under different property names
		// depending on type.
		b.Where(
			"(string::lowercase(doc.value) CONTAINS $value OR string::lowercase(doc.name) CONTAINS $value OR string::lowercase(doc.number) CONTAINS $value OR string::lowercase(doc.iban_number) CONTAINS $value OR string::lowercase(doc.key) CONTAINS $value OR string::lowercase(doc.path) CONTAINS $value)",
			Bind("value", strings.ToLower(f.Value)))
	}
	return c.runPage(ctx, b, page)
}

// SROFilter narrows the relationship listing.
type SROFilter struct {
	SourceRef        string
	TargetRef        string
	SourceRefType    string // STIX type prefix of source_ref
	TargetRefType    string // STIX type prefix of target_ref
	RelationshipType string
	Visible          string
	Sort             string
}

// SROs lists latest STIX relationship objects.
func (c *Client) SROs(ctx context.Context, f SROFilter, page PageParams) (*Page, error) {
	b := newQuery(EdgeCollection).
		Latest().
		Visible(f.Visible).
		Sort(f.Sort, objectSortKeys, defaultObjectSort)

	if f.SourceRef != "" {
		b.Where("doc.source_ref = $source_ref", Bind("source_ref", f.SourceRef))
	}
	if f.TargetRef != "" {
		b.Where("doc.target_ref = $target_ref", Bind("target_ref", f.TargetRef))
	}
	if f.SourceRefType != "" {
		// STIX ids are "<type>--<uuid>", so a type restriction is a prefix
		// match on the ref.
		b.Where("string::starts_with(doc.source_ref, $source_ref_type)",
			Bind("source_ref_type", f.SourceRefType+"--"))
	}
	if f.TargetRefType != "" {
		b.Where("string::starts_with(doc.target_ref, $target_ref_type)",
			Bind("target_ref_type", f.TargetRefType+"--"))
	}
	if f.RelationshipType != "" {
		b.Where("doc.relationship_type = $relationship_type",
			Bind("relationship_type", f.RelationshipType))
	}

	return c.runPage(ctx, b, page)
}

// ObjectsByID fetches the latest version of the object with the given STIX
// id, searching both collections.
func (c *Client) ObjectsByID(ctx context.Context, stixID, viewer string, page PageParams) (*Page, error) {
	b := newQuery(models.CollectionFor(typeOfStixID(stixID))).
		Where("doc.id = $id", Bind("id", stixID)).
		Latest().
		Visible(viewer).
		Sort("", objectSortKeys, defaultObjectSort)
	return c.runPage(ctx, b, page)
}

// ObjectVersions fetches every stored version of one STIX id, newest first.
func (c *Client) ObjectVersions(ctx context.Context, stixID, viewer string, page PageParams) (*Page, error) {
	b := newQuery(models.CollectionFor(typeOfStixID(stixID))).
		Where("doc.id = $id", Bind("id", stixID)).
		Visible(viewer).
		Sort("modified_descending", objectSortKeys, defaultObjectSort)
	return c.runPage(ctx, b, page)
}

// typeOfStixID extracts the type prefix of a "<type>--<uuid>" STIX id.
func typeOfStixID(id string) string {
	t, _, _ := strings.Cut(id, "--")
	return t
}

// intersectTypes keeps only requested types that appear in the known set,
// or the whole known set when nothing was requested.
func intersectTypes(requested, known []string) []string {
	if len(requested) == 0 {
		return known
	}
	out := make([]string, 0, len(requested))
	for _, r := range requested {
		for _, k := range known {
			if r == k {
				out = append(out, r)
				break
			}
		}
	}
	if len(out) == 0 {
		return known
	}
	return out
}
