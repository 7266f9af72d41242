package store

import (
	"context"
	"fmt"

	"github.com/formhist/formhist/internal/history"
)

// Search returns every entry matching the predicate, projected onto the
// requested fields as field→value mappings in stored order (no implicit
// sort). An empty fields list selects all entry attributes. A predicate
// key outside the search whitelist fails InvalidField.
func (s *Store) Search(ctx context.Context, fields []string, predicate map[string]any) ([]map[string]any, error) {
	const op = "search"
	if err := history.ValidateSearch(op, predicate); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		fields = history.WritableFields
	}

	text, params, err := buildSelect(op, fields, predicate)
	if err != nil {
		return nil, err
	}
	stmt, err := s.cache.get(ctx, text)
	if err != nil {
		return nil, history.NewEngineFailure(op, err)
	}

	rows, err := stmt.QueryContext(ctx, params...)
	if err != nil {
		return nil, history.NewEngineFailure(op, err)
	}
	defer rows.Close()

	results := []map[string]any{}
	for rows.Next() {
		dest := make([]any, len(fields))
		for i, f := range fields {
			switch f {
			case history.FieldGUID, history.FieldFieldName, history.FieldValue:
				dest[i] = new(string)
			default:
				dest[i] = new(int64)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, history.NewEngineFailure(op, err)
		}

		row := make(map[string]any, len(fields))
		for i, f := range fields {
			switch v := dest[i].(type) {
			case *string:
				row[f] = *v
			case *int64:
				row[f] = *v
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, history.NewEngineFailure(op, err)
	}
	return results, nil
}

// Count returns the number of entries matching the predicate.
func (s *Store) Count(ctx context.Context, predicate map[string]any) (int64, error) {
	const op = "count"
	if err := history.ValidateSearch(op, predicate); err != nil {
		return 0, err
	}

	text, params, err := buildCount(op, predicate)
	if err != nil {
		return 0, err
	}
	stmt, err := s.cache.get(ctx, text)
	if err != nil {
		return 0, history.NewEngineFailure(op, err)
	}

	var n int64
	if err := stmt.QueryRowContext(ctx, params...).Scan(&n); err != nil {
		return 0, history.NewEngineFailure(op, err)
	}
	return n, nil
}

// resolveGUIDs looks up the guids of every row carrying the soft key.
// Used by the write pipeline before any write statement binds.
func (s *Store) resolveGUIDs(ctx context.Context, fieldName, value string) ([]string, error) {
	stmt, err := s.cache.get(ctx,
		"SELECT guid FROM formhistory WHERE fieldname = ? AND value = ?")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, fieldName, value)
	if err != nil {
		return nil, fmt.Errorf("resolve (%q, %q): %w", fieldName, value, err)
	}
	defer rows.Close()

	var guids []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, err
		}
		guids = append(guids, g)
	}
	return guids, rows.Err()
}
