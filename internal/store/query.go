package store

import (
	"sort"
	"strings"

	"github.com/formhist/formhist/internal/history"
)

// The query builder compiles a field→value mapping into a conjunctive
// WHERE clause. Ordinary fields become equality terms; the four range
// filter names become >= / <= comparisons on their underlying timestamp
// column. Values are always parameterized, never interpolated. Keys are
// sorted so that logically identical predicates produce identical SQL
// text and hit the same cached statement.

// rangeFilterTerms maps a search-only filter name to its comparison term.
var rangeFilterTerms = map[string]string{
	history.FilterFirstUsedStart: "firstUsed >= ?",
	history.FilterFirstUsedEnd:   "firstUsed <= ?",
	history.FilterLastUsedStart:  "lastUsed >= ?",
	history.FilterLastUsedEnd:    "lastUsed <= ?",
}

// buildWhere compiles a predicate into a WHERE clause (including the
// leading " WHERE ", or empty for an empty predicate) and its parameters.
//
// An empty mapping yields no predicate at all: on a delete this means
// "every row", which is the intended way to clear history wholesale.
func buildWhere(op string, predicate map[string]any) (string, []any, error) {
	if len(predicate) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(predicate))
	for k := range predicate {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	terms := make([]string, 0, len(keys))
	params := make([]any, 0, len(keys))
	for _, k := range keys {
		switch {
		case history.IsWritableField(k):
			terms = append(terms, k+" = ?")
		case history.IsRangeFilter(k):
			terms = append(terms, rangeFilterTerms[k])
		default:
			return "", nil, history.NewInvalidField(op, k)
		}
		params = append(params, predicate[k])
	}

	return " WHERE " + strings.Join(terms, " AND "), params, nil
}

// buildSelect compiles a projection plus predicate into a SELECT statement.
// Fields must name entry attributes; an empty list is the caller's bug, the
// public API substitutes the full projection first.
func buildSelect(op string, fields []string, predicate map[string]any) (string, []any, error) {
	for _, f := range fields {
		if !history.IsWritableField(f) {
			return "", nil, history.NewInvalidField(op, f)
		}
	}
	where, params, err := buildWhere(op, predicate)
	if err != nil {
		return "", nil, err
	}
	return "SELECT " + strings.Join(fields, ", ") + " FROM formhistory" + where, params, nil
}

// buildCount compiles a predicate into a COUNT statement.
func buildCount(op string, predicate map[string]any) (string, []any, error) {
	where, params, err := buildWhere(op, predicate)
	if err != nil {
		return "", nil, err
	}
	return "SELECT COUNT(*) FROM formhistory" + where, params, nil
}

// buildDelete compiles a predicate into a DELETE statement.
func buildDelete(op string, predicate map[string]any) (string, []any, error) {
	where, params, err := buildWhere(op, predicate)
	if err != nil {
		return "", nil, err
	}
	return "DELETE FROM formhistory" + where, params, nil
}
