package history

import (
	"encoding/json"
	"fmt"
	"math"
)

// ParseChange decodes an untyped request map (CLI / JSON input) into a
// typed Change. It enforces the writable-field whitelist: any key outside
// the entry attributes plus "op" fails InvalidField, except that remove
// additionally accepts the four range filters. Unrecognized op values fail
// InvalidOperation before anything else is inspected.
func ParseChange(req map[string]any) (Change, error) {
	rawOp, _ := req["op"].(string)
	switch rawOp {
	case OpAdd, OpUpdate, OpRemove, OpBump:
	case "":
		return nil, NewInvalidOperation(rawOp, "missing op")
	default:
		return nil, NewInvalidOperation(rawOp, fmt.Sprintf("unrecognized op %q", rawOp))
	}

	for key := range req {
		if key == "op" || IsWritableField(key) {
			continue
		}
		if rawOp == OpRemove && IsRangeFilter(key) {
			continue
		}
		return nil, NewInvalidField(rawOp, key)
	}

	guid, err := stringField(rawOp, req, FieldGUID)
	if err != nil {
		return nil, err
	}
	fieldName, err := stringField(rawOp, req, FieldFieldName)
	if err != nil {
		return nil, err
	}
	value, err := stringField(rawOp, req, FieldValue)
	if err != nil {
		return nil, err
	}
	timesUsed, err := intField(rawOp, req, FieldTimesUsed)
	if err != nil {
		return nil, err
	}
	firstUsed, err := intField(rawOp, req, FieldFirstUsed)
	if err != nil {
		return nil, err
	}
	lastUsed, err := intField(rawOp, req, FieldLastUsed)
	if err != nil {
		return nil, err
	}

	var c Change
	switch rawOp {
	case OpAdd:
		if guid != "" {
			return nil, NewInvalidOperation(OpAdd, "add must not carry a guid")
		}
		c = Add{
			FieldName: fieldName,
			Value:     value,
			TimesUsed: timesUsed,
			FirstUsed: firstUsed,
			LastUsed:  lastUsed,
		}
	case OpUpdate:
		c = Update{
			GUID:      guid,
			FieldName: fieldName,
			Value:     value,
			TimesUsed: timesUsed,
			FirstUsed: firstUsed,
			LastUsed:  lastUsed,
		}
	case OpBump:
		c = Bump{GUID: guid, FieldName: fieldName, Value: value}
	case OpRemove:
		rm := Remove{GUID: guid, FieldName: fieldName, Value: value}
		for _, f := range []struct {
			name string
			dst  **int64
		}{
			{FilterFirstUsedStart, &rm.FirstUsedStart},
			{FilterFirstUsedEnd, &rm.FirstUsedEnd},
			{FilterLastUsedStart, &rm.LastUsedStart},
			{FilterLastUsedEnd, &rm.LastUsedEnd},
		} {
			if _, ok := req[f.name]; !ok {
				continue
			}
			v, err := intField(rawOp, req, f.name)
			if err != nil {
				return nil, err
			}
			*f.dst = &v
		}
		c = rm
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// ParseChanges decodes a list of request maps in order. A singleton request
// is submitted as a one-element list by callers.
func ParseChanges(reqs []map[string]any) ([]Change, error) {
	changes := make([]Change, 0, len(reqs))
	for i, req := range reqs {
		c, err := ParseChange(req)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// ValidateSearch checks a search/count predicate against the search
// whitelist: entry attributes plus the four range filters.
func ValidateSearch(op string, predicate map[string]any) error {
	for key := range predicate {
		if IsWritableField(key) || IsRangeFilter(key) {
			continue
		}
		return NewInvalidField(op, key)
	}
	return nil
}

// stringField extracts an optional string value from a request map.
func stringField(op string, req map[string]any, key string) (string, error) {
	raw, ok := req[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", NewInvalidOperation(op, fmt.Sprintf("field %q must be a string", key))
	}
	return s, nil
}

// intField extracts an optional integer value from a request map, coercing
// the numeric types JSON decoding produces.
func intField(op string, req map[string]any, key string) (int64, error) {
	raw, ok := req[key]
	if !ok || raw == nil {
		return 0, nil
	}
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, NewInvalidOperation(op, fmt.Sprintf("field %q must be an integer", key))
		}
		return int64(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, NewInvalidOperation(op, fmt.Sprintf("field %q must be an integer", key))
		}
		return n, nil
	default:
		return 0, NewInvalidOperation(op, fmt.Sprintf("field %q must be an integer", key))
	}
}
