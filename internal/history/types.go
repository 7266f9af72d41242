package history

// Field names of the external request/response vocabulary. These double as
// the column names of the persisted table.
const (
	FieldGUID      = "guid"
	FieldFieldName = "fieldname"
	FieldValue     = "value"
	FieldTimesUsed = "timesUsed"
	FieldFirstUsed = "firstUsed"
	FieldLastUsed  = "lastUsed"
)

// Range filter names accepted by search-style predicates. Each maps onto a
// >= / <= comparison against one of the two timestamp columns.
const (
	FilterFirstUsedStart = "firstUsedStart"
	FilterFirstUsedEnd   = "firstUsedEnd"
	FilterLastUsedStart  = "lastUsedStart"
	FilterLastUsedEnd    = "lastUsedEnd"
)

// WritableFields lists every entry attribute, in stable column order.
// It is the default projection for search and the whitelist for write ops.
var WritableFields = []string{
	FieldGUID,
	FieldFieldName,
	FieldValue,
	FieldTimesUsed,
	FieldFirstUsed,
	FieldLastUsed,
}

// writableSet is WritableFields as a membership set.
var writableSet = func() map[string]bool {
	m := make(map[string]bool, len(WritableFields))
	for _, f := range WritableFields {
		m[f] = true
	}
	return m
}()

// rangeFilterSet is the four search-only range filter names.
var rangeFilterSet = map[string]bool{
	FilterFirstUsedStart: true,
	FilterFirstUsedEnd:   true,
	FilterLastUsedStart:  true,
	FilterLastUsedEnd:    true,
}

// IsWritableField reports whether name is an entry attribute.
func IsWritableField(name string) bool { return writableSet[name] }

// IsRangeFilter reports whether name is a search-only range filter.
func IsRangeFilter(name string) bool { return rangeFilterSet[name] }

// Entry is one stored form-value history record.
//
// Timestamps are microseconds since the Unix epoch. Every persisted entry
// has a non-empty GUID, TimesUsed >= 1 and FirstUsed <= LastUsed; the write
// pipeline maintains these invariants, the schema does not enforce them.
type Entry struct {
	GUID      string
	FieldName string
	Value     string
	TimesUsed int64
	FirstUsed int64
	LastUsed  int64
}
