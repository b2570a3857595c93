package graph

import (
	"regexp"
	"strings"

	"github.com/stixify/stixify/internal/models"
)

// Pagination limits.
const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// PageParams selects a page of results. Page numbers start at 1.
type PageParams struct {
	Page     int
	PageSize int
}

// normalize clamps the params into their valid ranges.
func (p PageParams) normalize() PageParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

func (p PageParams) offset() int {
	return (p.Page - 1) * p.PageSize
}

// Page is one page of query results plus count metadata.
type Page struct {
	PageNumber        int             `json:"page_number"`
	PageSize          int             `json:"page_size"`
	PageResultsCount  int             `json:"page_results_count"`
	TotalResultsCount int             `json:"total_results_count"`
	Objects           []models.Object `json:"objects"`
}

// sortPattern validates requested sort keys: <field>_(asc|desc)ending.
var sortPattern = regexp.MustCompile(`^([a-z_]+)_(ascending|descending)$`)

// parseSort resolves a requested sort key against an endpoint's whitelist.
// Unknown or malformed keys fall back to the endpoint default instead of
// erroring, so a caller can never sort by an arbitrary field.
func parseSort(requested string, allowed []string, fallback string) (field, direction string) {
	key := fallback
	for _, a := range allowed {
		if requested == a {
			key = requested
			break
		}
	}
	m := sortPattern.FindStringSubmatch(key)
	if m == nil {
		// Defaults are compile-time constants; a miss here is a programming
		// error in the whitelist, not user input.
		return "created", "DESC"
	}
	direction = "ASC"
	if m[2] == "descending" {
		direction = "DESC"
	}
	return m[1], direction
}

// bindVar pairs one interpolation point with its value.
type bindVar struct {
	Name  string
	Value any
}

// Bind builds a bindVar for use with queryBuilder.Where.
func Bind(name string, value any) bindVar {
	return bindVar{Name: name, Value: value}
}

// queryBuilder accumulates predicate clauses and their bind variables for a
// paginated query over one or both collections. Clauses are fixed strings
// that reference bind variables only; user input never enters query text.
type queryBuilder struct {
	targets []string
	clauses []string
	binds   map[string]any
	orderBy string
}

func newQuery(targets ...string) *queryBuilder {
	return &queryBuilder{
		targets: targets,
		binds:   map[string]any{},
	}
}

// Where appends a predicate clause together with the bind variables it
// references.
func (b *queryBuilder) Where(clause string, vars ...bindVar) *queryBuilder {
	b.clauses = append(b.clauses, clause)
	for _, v := range vars {
		b.binds[v.Name] = v.Value
	}
	return b
}

// Latest restricts the query to the latest-version slice of the graph.
func (b *queryBuilder) Latest() *queryBuilder {
	return b.Where("_is_latest = true")
}

// Sort applies a whitelisted sort key. The resolved field name comes from
// the whitelist, never from the request.
func (b *queryBuilder) Sort(requested string, allowed []string, fallback string) *queryBuilder {
	field, direction := parseSort(requested, allowed, fallback)
	b.orderBy = "ORDER BY doc." + field + " " + direction
	return b
}

// Visible restricts results to objects the requesting identity may see:
// objects it created, or objects carrying a broadly shareable TLP marking.
func (b *queryBuilder) Visible(viewer string) *queryBuilder {
	if viewer == "" {
		return b
	}
	return b.Where(
		"(doc.created_by_ref = $viewer OR doc.object_marking_refs CONTAINSANY $shareable_markings)",
		Bind("viewer", viewer),
		Bind("shareable_markings", models.ShareableMarkingIDs),
	)
}

func (b *queryBuilder) whereSQL() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(b.clauses, " AND ")
}

func (b *queryBuilder) fromSQL() string {
	return "FROM " + strings.Join(b.targets, ", ")
}

// Build returns the paginated select and its bind variables.
func (b *queryBuilder) Build(page PageParams) (string, map[string]any) {
	page = page.normalize()
	vars := map[string]any{}
	for k, v := range b.binds {
		vars[k] = v
	}
	vars["count"] = page.PageSize
	vars["offset"] = page.offset()

	parts := []string{"SELECT VALUE doc", b.fromSQL()}
	if w := b.whereSQL(); w != "" {
		parts = append(parts, w)
	}
	if b.orderBy != "" {
		parts = append(parts, b.orderBy)
	}
	parts = append(parts, "LIMIT $count START $offset")
	return strings.Join(parts, " "), vars
}

// BuildCount returns the matching total-count query and its bind variables.
func (b *queryBuilder) BuildCount() (string, map[string]any) {
	vars := map[string]any{}
	for k, v := range b.binds {
		vars[k] = v
	}
	parts := []string{"SELECT count() AS total", b.fromSQL()}
	if w := b.whereSQL(); w != "" {
		parts = append(parts, w)
	}
	parts = append(parts, "GROUP ALL")
	return strings.Join(parts, " "), vars
}
