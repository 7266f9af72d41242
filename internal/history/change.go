package history

// Op names of the change vocabulary.
const (
	OpAdd    = "add"
	OpUpdate = "update"
	OpRemove = "remove"
	OpBump   = "bump"
)

// Change is one validated write request.
//
// This is a sealed interface - only Add, Update, Remove and Bump implement
// it. The marker method enables exhaustive type switches in the write
// pipeline.
type Change interface {
	// Op returns the logical operation name.
	Op() string

	// Validate checks the request's own shape (identifier exclusivity,
	// required fields). It does not touch storage.
	Validate() error

	changeNode() // Marker method - seals interface to this package
}

// Add creates a new entry.
//
// A fresh guid is generated at commit time; adds never carry one (the
// dynamic decode path rejects an add with a guid as InvalidOperation).
// Zero TimesUsed defaults to 1; zero timestamps default to the batch's
// shared commit time.
type Add struct {
	FieldName string
	Value     string
	TimesUsed int64
	FirstUsed int64
	LastUsed  int64
}

func (Add) Op() string  { return OpAdd }
func (Add) changeNode() {}
func (c Add) Validate() error {
	if c.FieldName == "" || c.Value == "" {
		return NewInvalidOperation(OpAdd, "add requires fieldname and value")
	}
	return nil
}

// Update mutates an existing entry.
//
// The row is identified by exactly one of GUID or the (FieldName, Value)
// soft key. With a GUID lookup, any non-zero payload field (including
// FieldName or Value alone) is written; with a soft-key lookup the pair is
// both the lookup and the surviving values. A soft key matching zero rows
// makes the request a logged no-op.
type Update struct {
	GUID      string
	FieldName string
	Value     string
	TimesUsed int64
	FirstUsed int64
	LastUsed  int64
}

func (Update) Op() string  { return OpUpdate }
func (Update) changeNode() {}
func (c Update) Validate() error {
	return validateLookup(OpUpdate, c.GUID, c.FieldName, c.Value)
}

// Bump records one more use of an entry: timesUsed increments and lastUsed
// moves to the batch time. A soft-key bump matching zero rows falls back to
// an implicit add with timesUsed=1 and firstUsed=lastUsed=now.
type Bump struct {
	GUID      string
	FieldName string
	Value     string
}

func (Bump) Op() string  { return OpBump }
func (Bump) changeNode() {}
func (c Bump) Validate() error {
	return validateLookup(OpBump, c.GUID, c.FieldName, c.Value)
}

// Remove deletes every entry matching its predicate. All fields are
// optional; a Remove with no fields at all deletes every row, which is the
// intended way to clear history wholesale. The four timestamp range bounds
// allow time-window clearing.
type Remove struct {
	GUID      string
	FieldName string
	Value     string

	FirstUsedStart *int64
	FirstUsedEnd   *int64
	LastUsedStart  *int64
	LastUsedEnd    *int64
}

func (Remove) Op() string      { return OpRemove }
func (Remove) changeNode()     {}
func (Remove) Validate() error { return nil }

// Predicate returns the remove's filter as a key/value map in predicate
// form, ready for the query builder. Empty means "every row".
func (c Remove) Predicate() map[string]any {
	p := make(map[string]any)
	if c.GUID != "" {
		p[FieldGUID] = c.GUID
	}
	if c.FieldName != "" {
		p[FieldFieldName] = c.FieldName
	}
	if c.Value != "" {
		p[FieldValue] = c.Value
	}
	if c.FirstUsedStart != nil {
		p[FilterFirstUsedStart] = *c.FirstUsedStart
	}
	if c.FirstUsedEnd != nil {
		p[FilterFirstUsedEnd] = *c.FirstUsedEnd
	}
	if c.LastUsedStart != nil {
		p[FilterLastUsedStart] = *c.LastUsedStart
	}
	if c.LastUsedEnd != nil {
		p[FilterLastUsedEnd] = *c.LastUsedEnd
	}
	return p
}

// validateLookup enforces the identifier-exclusivity rule shared by update
// and bump: exactly one of {guid} or {fieldname AND value}.
func validateLookup(op, guid, fieldName, value string) error {
	byGUID := guid != ""
	byPair := fieldName != "" && value != ""
	if byGUID == byPair {
		return NewAmbiguousIdentifier(op)
	}
	return nil
}
