package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/formhist/formhist/internal/history"
)

const insertEntrySQL = "INSERT INTO formhistory (fieldname, value, timesUsed, firstUsed, lastUsed, guid) VALUES (?, ?, ?, ?, ?, ?)"

const bumpEntrySQL = "UPDATE formhistory SET timesUsed = timesUsed + 1, lastUsed = ? WHERE guid = ?"

// resolvedChange is one request after the resolution phase: its lookup is
// settled and, for creations, its guid is already assigned.
type resolvedChange struct {
	change history.Change
	guid   string

	// noop marks a soft-key update that matched no rows.
	noop bool

	// implicitAdd marks a soft-key bump that matched no rows and falls
	// back to creating the entry.
	implicitAdd bool
}

// plannedWrite is one resolved request compiled to its statement text and
// parameters, paired with the notification to publish if the write lands.
// An empty text is a no-op carrying no notification.
type plannedWrite struct {
	text   string
	params []any
	event  *Event

	// conditional marks guid-identified updates and bumps: their event is
	// suppressed when the statement touches no row.
	conditional bool
}

// applyChanges runs one batch: validate every request, resolve soft-key
// lookups to guids, capture a single shared now, compile every request to
// its statement, execute them all in one transaction, and return the
// notifications to publish after commit, in original request order.
//
// Statements compile through the cache before the transaction opens: the
// pool holds a single connection, so a prepare issued mid-transaction
// would wait on the connection the transaction already owns.
//
// A soft key resolving to more than one row aborts the entire batch with
// ConstraintViolation; nothing from the batch persists. Two concurrent
// batches bumping the same absent soft key can each observe zero matches
// and each insert - resolution and write are not wrapped in one
// serializable transaction spanning both phases. That gap is part of the
// store's documented contract.
func (s *Store) applyChanges(ctx context.Context, changes []history.Change) ([]Event, error) {
	for i, c := range changes {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
	}

	// Resolution phase: every lookup completes before any write binds.
	resolved := make([]resolvedChange, len(changes))
	for i, c := range changes {
		rc, err := s.resolve(ctx, c)
		if err != nil {
			return nil, err
		}
		resolved[i] = rc
	}

	// One timestamp shared by the whole batch keeps defaulted firstUsed
	// and lastUsed values mutually consistent.
	now := s.clock.NowMicros()

	plans := make([]plannedWrite, len(resolved))
	for i, rc := range resolved {
		p, err := planWrite(rc, now)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i, err)
		}
		plans[i] = p
	}

	stmts := make(map[string]*sql.Stmt)
	for _, p := range plans {
		if p.text == "" {
			continue
		}
		if _, ok := stmts[p.text]; ok {
			continue
		}
		stmt, err := s.cache.get(ctx, p.text)
		if err != nil {
			return nil, history.NewEngineFailure("update", err)
		}
		stmts[p.text] = stmt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, history.NewEngineFailure("update", err)
	}
	defer tx.Rollback() // No-op if committed

	events := make([]Event, 0, len(plans))
	for i, p := range plans {
		if p.text == "" {
			continue
		}
		res, err := tx.StmtContext(ctx, stmts[p.text]).ExecContext(ctx, p.params...)
		if err != nil {
			return nil, fmt.Errorf("request %d: %w", i,
				history.NewEngineFailure(resolved[i].change.Op(), err))
		}
		if p.conditional {
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				continue
			}
		}
		if p.event != nil {
			events = append(events, *p.event)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, history.NewEngineFailure("update", err)
	}
	return events, nil
}

// resolve settles a request's identity before any write executes. Only
// soft-key updates and bumps need a lookup; everything else passes through.
func (s *Store) resolve(ctx context.Context, c history.Change) (resolvedChange, error) {
	rc := resolvedChange{change: c}

	switch c := c.(type) {
	case history.Add:
		rc.guid = s.guids.NewGUID()

	case history.Update:
		if c.GUID != "" {
			rc.guid = c.GUID
			break
		}
		guids, err := s.resolveGUIDs(ctx, c.FieldName, c.Value)
		if err != nil {
			return rc, history.NewEngineFailure(history.OpUpdate, err)
		}
		switch len(guids) {
		case 0:
			slog.Debug("update matched no rows, treating as no-op",
				"fieldname", c.FieldName,
			)
			rc.noop = true
		case 1:
			rc.guid = guids[0]
		default:
			return rc, history.NewConstraintViolation(history.OpUpdate, c.FieldName, c.Value)
		}

	case history.Bump:
		if c.GUID != "" {
			rc.guid = c.GUID
			break
		}
		guids, err := s.resolveGUIDs(ctx, c.FieldName, c.Value)
		if err != nil {
			return rc, history.NewEngineFailure(history.OpBump, err)
		}
		switch len(guids) {
		case 0:
			rc.implicitAdd = true
			rc.guid = s.guids.NewGUID()
		case 1:
			rc.guid = guids[0]
		default:
			return rc, history.NewConstraintViolation(history.OpBump, c.FieldName, c.Value)
		}
	}

	return rc, nil
}

// planWrite compiles one resolved request to its statement and
// notification. Pure: no database access, so it runs before the batch
// transaction opens.
func planWrite(rc resolvedChange, now int64) (plannedWrite, error) {
	switch c := rc.change.(type) {
	case history.Add:
		timesUsed := c.TimesUsed
		if timesUsed <= 0 {
			timesUsed = 1
		}
		firstUsed := c.FirstUsed
		if firstUsed == 0 {
			firstUsed = now
		}
		lastUsed := c.LastUsed
		if lastUsed == 0 {
			lastUsed = now
		}
		if lastUsed < firstUsed {
			lastUsed = firstUsed
		}
		return plannedWrite{
			text:   insertEntrySQL,
			params: []any{c.FieldName, c.Value, timesUsed, firstUsed, lastUsed, rc.guid},
			event:  &Event{Name: EventEntryAdded, GUID: rc.guid},
		}, nil

	case history.Update:
		if rc.noop {
			return plannedWrite{}, nil
		}
		text, params := updateSQL(c, rc.guid)
		if text == "" {
			// Nothing to set, nothing to notify.
			return plannedWrite{}, nil
		}
		return plannedWrite{
			text:        text,
			params:      params,
			event:       &Event{Name: EventEntryUpdated, GUID: rc.guid},
			conditional: true,
		}, nil

	case history.Bump:
		if rc.implicitAdd {
			return plannedWrite{
				text:   insertEntrySQL,
				params: []any{c.FieldName, c.Value, int64(1), now, now, rc.guid},
				event:  &Event{Name: EventEntryAdded, GUID: rc.guid},
			}, nil
		}
		return plannedWrite{
			text:        bumpEntrySQL,
			params:      []any{now, rc.guid},
			event:       &Event{Name: EventEntryUpdated, GUID: rc.guid},
			conditional: true,
		}, nil

	case history.Remove:
		text, params, err := buildDelete(history.OpRemove, c.Predicate())
		if err != nil {
			return plannedWrite{}, err
		}
		return plannedWrite{
			text:   text,
			params: params,
			event:  &Event{Name: EventEntryRemoved},
		}, nil

	default:
		return plannedWrite{}, history.NewInvalidOperation(rc.change.Op(), "unsupported change type")
	}
}

// updateSQL builds the SET clause for an update's provided payload fields.
// Fields are emitted in a fixed order so identical shapes share one cached
// statement. A soft-key update excludes fieldname and value: the pair is
// its lookup and already holds those values.
func updateSQL(c history.Update, guid string) (string, []any) {
	type setTerm struct {
		col string
		val any
	}
	var terms []setTerm

	if c.GUID != "" {
		if c.FieldName != "" {
			terms = append(terms, setTerm{history.FieldFieldName, c.FieldName})
		}
		if c.Value != "" {
			terms = append(terms, setTerm{history.FieldValue, c.Value})
		}
	}
	if c.TimesUsed > 0 {
		terms = append(terms, setTerm{history.FieldTimesUsed, c.TimesUsed})
	}
	if c.FirstUsed > 0 {
		terms = append(terms, setTerm{history.FieldFirstUsed, c.FirstUsed})
	}
	if c.LastUsed > 0 {
		terms = append(terms, setTerm{history.FieldLastUsed, c.LastUsed})
	}
	if len(terms) == 0 {
		return "", nil
	}

	sort.Slice(terms, func(i, j int) bool { return terms[i].col < terms[j].col })

	cols := make([]string, len(terms))
	params := make([]any, 0, len(terms)+1)
	for i, t := range terms {
		cols[i] = t.col + " = ?"
		params = append(params, t.val)
	}
	params = append(params, guid)

	return "UPDATE formhistory SET " + strings.Join(cols, ", ") + " WHERE guid = ?", params
}
