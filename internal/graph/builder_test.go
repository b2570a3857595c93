package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stixify/stixify/internal/models"
)

func TestParseSort(t *testing.T) {
	allowed := []string{"created_ascending", "created_descending", "name_ascending"}

	field, dir := parseSort("name_ascending", allowed, "created_descending")
	assert.Equal(t, "name", field)
	assert.Equal(t, "ASC", dir)

	// Not whitelisted: falls back to the default.
	field, dir = parseSort("confidence_descending", allowed, "created_descending")
	assert.Equal(t, "created", field)
	assert.Equal(t, "DESC", dir)

	// Malformed request: falls back to the default.
	field, dir = parseSort("name; DROP TABLE", allowed, "created_ascending")
	assert.Equal(t, "created", field)
	assert.Equal(t, "ASC", dir)

	// Empty request: falls back to the default.
	field, dir = parseSort("", allowed, "created_descending")
	assert.Equal(t, "created", field)
	assert.Equal(t, "DESC", dir)
}

func TestPageParamsNormalize(t *testing.T) {
	p := PageParams{}.normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PageSize)
	assert.Equal(t, 0, p.offset())

	p = PageParams{Page: -3, PageSize: -1}.normalize()
	assert.Equal(t, 1, p.Page)
	assert.Equal(t, DefaultPageSize, p.PageSize)

	p = PageParams{Page: 4, PageSize: 9999}.normalize()
	assert.Equal(t, 4, p.Page)
	assert.Equal(t, MaxPageSize, p.PageSize)
	assert.Equal(t, 3*MaxPageSize, p.offset())
}

func TestQueryBuilderBuild(t *testing.T) {
	b := newQuery(VertexCollection).
		Where("doc.type = $type", Bind("type", "report")).
		Latest().
		Sort("created_descending", []string{"created_descending"}, "created_descending")

	sql, vars := b.Build(PageParams{Page: 2, PageSize: 50})

	assert.Equal(t,
		"SELECT VALUE doc FROM stixify_vertex_collection "+
			"WHERE doc.type = $type AND _is_latest = true "+
			"ORDER BY doc.created DESC "+
			"LIMIT $count START $offset",
		sql)
	assert.Equal(t, "report", vars["type"])
	assert.Equal(t, 50, vars["count"])
	assert.Equal(t, 50, vars["offset"])
}

func TestQueryBuilderBuildCount(t *testing.T) {
	b := newQuery(VertexCollection, EdgeCollection).
		Where("_stixify_report_id = $report_id", Bind("report_id", "report--x"))

	sql, vars := b.BuildCount()

	assert.Equal(t,
		"SELECT count() AS total FROM stixify_vertex_collection, stixify_edge_collection "+
			"WHERE _stixify_report_id = $report_id GROUP ALL",
		sql)
	assert.Equal(t, "report--x", vars["report_id"])
	assert.NotContains(t, vars, "count")
	assert.NotContains(t, vars, "offset")
}

func TestQueryBuilderVisible(t *testing.T) {
	b := newQuery(VertexCollection).Visible("identity--abc")
	sql, vars := b.Build(PageParams{})

	assert.Contains(t, sql, "doc.created_by_ref = $viewer")
	assert.Contains(t, sql, "doc.object_marking_refs CONTAINSANY $shareable_markings")
	assert.Equal(t, "identity--abc", vars["viewer"])

	// Empty viewer disables the filter entirely.
	open := newQuery(VertexCollection).Visible("")
	sql, vars = open.Build(PageParams{})
	assert.NotContains(t, sql, "$viewer")
	assert.NotContains(t, vars, "viewer")
}

func TestIntersectTypes(t *testing.T) {
	known := []string{"ipv4-addr", "url", "domain-name"}

	assert.Equal(t, known, intersectTypes(nil, known))
	assert.Equal(t, []string{"url"}, intersectTypes([]string{"url", "bogus"}, known))
	// Only unknown types requested: falls back to the full set rather than
	// matching nothing.
	assert.Equal(t, known, intersectTypes([]string{"bogus"}, known))
}

func TestSDOTypesCoverBundlerOutput(t *testing.T) {
	// Every SDO type the bundler emits must be listable through the SDO
	// endpoint, including the profile note attached to each report.
	for _, typ := range []string{"report", "identity", "vulnerability", "note"} {
		assert.Equal(t, []string{typ}, intersectTypes([]string{typ}, models.SDOTypes))
	}
}
