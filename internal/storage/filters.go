package storage

import (
	"strings"

	"github.com/dshills/docsearch-mcp/pkg/types"
)

// Fragment is a parameterized SQL condition.
// SQL uses ? placeholders only and Args holds their values in order.
type Fragment struct {
	SQL  string
	Args []any
}

// Empty reports whether the fragment constrains nothing
func (f Fragment) Empty() bool {
	return f.SQL == ""
}

// And renders the fragment for appending to an existing WHERE clause
func (f Fragment) And() string {
	if f.Empty() {
		return ""
	}
	return " AND " + f.SQL
}

// Join AND-combines fragments, skipping empty ones
func Join(parts ...Fragment) Fragment {
	var out Fragment
	var clauses []string
	for _, p := range parts {
		if p.Empty() {
			continue
		}
		clauses = append(clauses, p.SQL)
		out.Args = append(out.Args, p.Args...)
	}
	out.SQL = strings.Join(clauses, " AND ")
	return out
}

// Dialect renders the driver-specific pieces of a query
type Dialect interface {
	// Name identifies the driver family
	Name() string

	// ContainsAny matches rows whose JSON array column shares at least one
	// element with n bound values
	ContainsAny(column string, n int) string

	// Like matches column against one bound pattern, case-insensitively,
	// with backslash as the escape character
	Like(column string) string

	// Similarity scores column against the query vector, higher is closer.
	// It yields NULL for a stored vector that cannot be compared with query.
	Similarity(column string, query any) Fragment
}

// SQLiteDialect targets SQLite's JSON1 functions
type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite" }

func (SQLiteDialect) ContainsAny(column string, n int) string {
	return "EXISTS (SELECT 1 FROM json_each(" + column + ") WHERE json_each.value IN (" + placeholders(n) + "))"
}

func (SQLiteDialect) Like(column string) string {
	return column + ` LIKE ? ESCAPE '\'`
}

// Similarity only calls vec_distance_cosine on blobs of the query's byte
// length, so a truncated or foreign-dimension embedding scores NULL.
func (SQLiteDialect) Similarity(column string, query any) Fragment {
	return Fragment{
		SQL:  "(CASE WHEN length(" + column + ") = length(?) THEN 1.0 - vec_distance_cosine(" + column + ", ?) END)",
		Args: []any{query, query},
	}
}

// PostgresDialect targets jsonb columns and pgvector
type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) ContainsAny(column string, n int) string {
	return "EXISTS (SELECT 1 FROM jsonb_array_elements_text(" + column + ") AS e(v) WHERE e.v IN (" + placeholders(n) + "))"
}

func (PostgresDialect) Like(column string) string {
	return column + `::text ILIKE ? ESCAPE '\'`
}

func (PostgresDialect) Similarity(column string, query any) Fragment {
	return Fragment{SQL: "(1 - (" + column + " <=> ?::vector))", Args: []any{query}}
}

// CompileFilters translates search filters into a condition over documents d.
// Values within a field are OR-combined and fields are AND-combined.
// A nil or empty filter yields an empty fragment.
func CompileFilters(d Dialect, f *types.SearchFilters) Fragment {
	if f.IsEmpty() {
		return Fragment{}
	}

	var parts []Fragment

	if f.Difficulty != "" {
		parts = append(parts, Fragment{SQL: "d.difficulty = ?", Args: []any{string(f.Difficulty)}})
	}

	if len(f.Tags) > 0 {
		parts = append(parts, Fragment{SQL: d.ContainsAny("d.tags", len(f.Tags)), Args: anySlice(f.Tags)})
	}

	if len(f.Concepts) > 0 {
		n := len(f.Concepts)
		args := append(anySlice(f.Concepts), anySlice(f.Concepts)...)
		parts = append(parts, Fragment{
			SQL:  "(d.concept IN (" + placeholders(n) + ") OR " + d.ContainsAny("d.related_concepts", n) + ")",
			Args: args,
		})
	}

	if len(f.Category) > 0 {
		parts = append(parts, codeFacet("cm.category IN ("+placeholders(len(f.Category))+")", f.Category))
	}

	if len(f.HasRunes) > 0 {
		parts = append(parts, codeFacet(d.ContainsAny("cm.runes", len(f.HasRunes)), f.HasRunes))
	}

	if len(f.HasFunctions) > 0 {
		parts = append(parts, codeFacet(d.ContainsAny("cm.functions", len(f.HasFunctions)), f.HasFunctions))
	}

	if len(f.HasComponents) > 0 {
		parts = append(parts, codeFacet(d.ContainsAny("cm.components", len(f.HasComponents)), f.HasComponents))
	}

	return Join(parts...)
}

// codeFacet matches documents with at least one code block satisfying cond
func codeFacet(cond string, values []string) Fragment {
	return Fragment{
		SQL:  "EXISTS (SELECT 1 FROM code_metadata cm WHERE cm.document_id = d.id AND " + cond + ")",
		Args: anySlice(values),
	}
}

// keywordFragment matches query as a substring of the text and metadata columns
func keywordFragment(d Dialect, query string) Fragment {
	pattern := "%" + escapeLike(query) + "%"

	docCols := []string{"d.content", "d.title", "d.concept", "d.tags"}
	codeCols := []string{"cm.category", "cm.runes", "cm.functions", "cm.components"}

	var doc, code []string
	args := make([]any, 0, len(docCols)+len(codeCols))
	for _, c := range docCols {
		doc = append(doc, d.Like(c))
		args = append(args, pattern)
	}
	for _, c := range codeCols {
		code = append(code, d.Like(c))
		args = append(args, pattern)
	}

	return Fragment{
		SQL: "(" + strings.Join(doc, " OR ") +
			" OR EXISTS (SELECT 1 FROM code_metadata cm WHERE cm.document_id = d.id AND (" +
			strings.Join(code, " OR ") + ")))",
		Args: args,
	}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes LIKE wildcards in s match literally
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func anySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
