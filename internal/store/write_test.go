package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formhist/formhist/internal/history"
	"github.com/formhist/formhist/internal/testutil"
)

func TestUpdate_FirstBatchCommitsWithoutStall(t *testing.T) {
	// The pool holds one connection, so every statement a batch needs must
	// be compiled before its transaction opens; a mid-transaction prepare
	// would wait forever on the connection the transaction owns. A bounded
	// context turns that stall into a test failure.
	s := openFixedStore(t, "g-1", "g-2")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, s.Update(ctx,
		history.Add{FieldName: "email", Value: "a@example.com"},
		history.Update{GUID: "g-1", TimesUsed: 3},
		history.Remove{FieldName: "city"},
	))

	n, err := s.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAdd_DefaultsAndSearch(t *testing.T) {
	s := openFixedStore(t, "g-1")

	require.NoError(t, s.Update(context.Background(),
		history.Add{FieldName: "email", Value: "a@example.com"}))

	rows, err := s.Search(context.Background(), nil, map[string]any{"fieldname": "email"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "g-1", rows[0]["guid"])
	assert.Equal(t, "a@example.com", rows[0]["value"])
	assert.Equal(t, int64(1), rows[0]["timesUsed"])
	assert.Equal(t, testNow, rows[0]["firstUsed"])
	assert.Equal(t, testNow, rows[0]["lastUsed"])
}

func TestAdd_ClampsLastUsedToFirstUsed(t *testing.T) {
	s := openFixedStore(t, "g-1")

	require.NoError(t, s.Update(context.Background(),
		history.Add{FieldName: "email", Value: "x", FirstUsed: testNow + 50}))

	rows, err := s.Search(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, testNow+50, rows[0]["firstUsed"])
	assert.Equal(t, testNow+50, rows[0]["lastUsed"], "lastUsed must never precede firstUsed")
}

func TestBatch_SharesOneTimestamp(t *testing.T) {
	// An advancing clock would hand each request a different now if the
	// pipeline read it per request.
	s, _ := openTestStore(t, Options{
		Clock: testutil.NewClock(testNow, 1000),
		GUIDs: history.NewFixedGUIDGenerator("g-1", "g-2"),
	})

	require.NoError(t, s.Update(context.Background(),
		history.Add{FieldName: "email", Value: "a@example.com"},
		history.Add{FieldName: "email", Value: "b@example.com"},
	))

	rows, err := s.Search(context.Background(), []string{"firstUsed"}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, rows[0]["firstUsed"], rows[1]["firstUsed"],
		"every request in a batch shares one capture of now")
}

func TestBump_CreatesThenIncrements(t *testing.T) {
	clock := testutil.NewClock(testNow, 0)
	s, _ := openTestStore(t, Options{
		Clock: clock,
		GUIDs: history.NewFixedGUIDGenerator("g-1"),
	})

	// Absent soft key: bump falls back to an implicit add.
	require.NoError(t, s.Update(context.Background(),
		history.Bump{FieldName: "email", Value: "a@example.com"}))

	rows, err := s.Search(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0]["timesUsed"])
	assert.Equal(t, testNow, rows[0]["firstUsed"])

	// Second bump on the same pair: one row, counter moves, firstUsed
	// does not.
	clock.Set(testNow + 500)
	require.NoError(t, s.Update(context.Background(),
		history.Bump{FieldName: "email", Value: "a@example.com"}))

	rows, err = s.Search(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1, "bump on an existing pair must not create a second row")
	assert.Equal(t, int64(2), rows[0]["timesUsed"])
	assert.Equal(t, testNow, rows[0]["firstUsed"], "firstUsed is fixed at creation")
	assert.Equal(t, testNow+500, rows[0]["lastUsed"])
}

func TestBump_ByGUID(t *testing.T) {
	clock := testutil.NewClock(testNow, 0)
	s, _ := openTestStore(t, Options{
		Clock: clock,
		GUIDs: history.NewFixedGUIDGenerator("g-1"),
	})
	mustAdd(t, s, "email", "a@example.com")

	clock.Set(testNow + 9)
	require.NoError(t, s.Update(context.Background(), history.Bump{GUID: "g-1"}))

	rows, err := s.Search(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0]["timesUsed"])
	assert.Equal(t, testNow+9, rows[0]["lastUsed"])
}

func TestUpdate_ByGUID(t *testing.T) {
	s := openFixedStore(t, "g-1")
	mustAdd(t, s, "email", "a@example.com")

	require.NoError(t, s.Update(context.Background(),
		history.Update{GUID: "g-1", Value: "b@example.com", TimesUsed: 4}))

	rows, err := s.Search(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b@example.com", rows[0]["value"])
	assert.Equal(t, int64(4), rows[0]["timesUsed"])
	assert.Equal(t, "g-1", rows[0]["guid"], "guid is never reassigned")
}

func TestUpdate_BySoftKey(t *testing.T) {
	s := openFixedStore(t, "g-1")
	mustAdd(t, s, "email", "a@example.com")

	require.NoError(t, s.Update(context.Background(),
		history.Update{FieldName: "email", Value: "a@example.com", TimesUsed: 9}))

	rows, err := s.Search(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(9), rows[0]["timesUsed"])
	assert.Equal(t, "a@example.com", rows[0]["value"])
}

func TestUpdate_SoftKeyNoMatchIsNoOp(t *testing.T) {
	s := openFixedStore(t, "g-1")
	mustAdd(t, s, "email", "a@example.com")

	var events []Event
	unsub := s.notifier.Subscribe(func(ev Event) { events = append(events, ev) })
	defer unsub()

	require.NoError(t, s.Update(context.Background(),
		history.Update{FieldName: "email", Value: "nobody@example.com", TimesUsed: 9}))

	n, err := s.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "a no-op update must not create rows")
	assert.Empty(t, events, "a no-op update must not notify")
}

func TestUpdate_ByAbsentGUIDIsSilentNoOp(t *testing.T) {
	s := openFixedStore(t, "g-1")
	mustAdd(t, s, "email", "a@example.com")

	var events []Event
	unsub := s.notifier.Subscribe(func(ev Event) { events = append(events, ev) })
	defer unsub()

	require.NoError(t, s.Update(context.Background(),
		history.Update{GUID: "nope", TimesUsed: 9}))

	assert.Empty(t, events, "touching no row must not notify")
	rows, err := s.Search(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0]["timesUsed"])
}

func TestBump_ByAbsentGUIDIsSilentNoOp(t *testing.T) {
	// Only soft-key bumps fall back to an implicit add. A guid names a row
	// the caller believes exists; when it does not, the bump lands on
	// nothing and nothing is announced.
	s := openFixedStore(t, "g-1")
	mustAdd(t, s, "email", "a@example.com")

	var events []Event
	unsub := s.notifier.Subscribe(func(ev Event) { events = append(events, ev) })
	defer unsub()

	require.NoError(t, s.Update(context.Background(), history.Bump{GUID: "nope"}))

	assert.Empty(t, events)
	rows, err := s.Search(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1, "an absent guid must not create a row")
	assert.Equal(t, int64(1), rows[0]["timesUsed"])
}

func TestBatch_DuplicateSoftKeyAbortsWholeBatch(t *testing.T) {
	s := openFixedStore(t, "g-1", "g-2", "g-3")

	// Two rows sharing the soft key. The pair is only soft-unique, so
	// this state is reachable.
	require.NoError(t, s.Update(context.Background(),
		history.Add{FieldName: "email", Value: "dup@example.com"},
		history.Add{FieldName: "email", Value: "dup@example.com"},
	))

	err := s.Update(context.Background(),
		history.Add{FieldName: "city", Value: "Oslo"},
		history.Bump{FieldName: "email", Value: "dup@example.com"},
	)
	require.Error(t, err)
	assert.True(t, history.IsConstraintViolation(err))

	// Atomicity: the unrelated add in the same batch must not persist.
	n, err := s.Count(context.Background(), map[string]any{"fieldname": "city"})
	require.NoError(t, err)
	assert.Zero(t, n, "no request of an aborted batch may persist")
}

func TestRemove_EmptyPredicateDeletesEverything(t *testing.T) {
	s := openFixedStore(t, "g-1", "g-2", "g-3")
	mustAdd(t, s, "email", "a@example.com")
	mustAdd(t, s, "email", "b@example.com")
	mustAdd(t, s, "city", "Oslo")

	require.NoError(t, s.Update(context.Background(), history.Remove{}))

	n, err := s.Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRemove_ByTimeWindow(t *testing.T) {
	s := openFixedStore(t)
	insertRaw(t, s, history.Entry{GUID: "g-1", FieldName: "email", Value: "old", TimesUsed: 1, FirstUsed: 100, LastUsed: 100})
	insertRaw(t, s, history.Entry{GUID: "g-2", FieldName: "email", Value: "mid", TimesUsed: 1, FirstUsed: 500, LastUsed: 500})
	insertRaw(t, s, history.Entry{GUID: "g-3", FieldName: "email", Value: "new", TimesUsed: 1, FirstUsed: 900, LastUsed: 900})

	start, end := int64(400), int64(600)
	require.NoError(t, s.Update(context.Background(),
		history.Remove{LastUsedStart: &start, LastUsedEnd: &end}))

	rows, err := s.Search(context.Background(), []string{"value"}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "old", rows[0]["value"])
	assert.Equal(t, "new", rows[1]["value"])
}

func TestNotifications_PostCommitInRequestOrder(t *testing.T) {
	s := openFixedStore(t, "g-1", "g-2")

	var events []Event
	unsub := s.notifier.Subscribe(func(ev Event) { events = append(events, ev) })
	defer unsub()

	require.NoError(t, s.Update(context.Background(),
		history.Add{FieldName: "email", Value: "a@example.com"},
		history.Bump{FieldName: "email", Value: "a@example.com"},
		history.Add{FieldName: "city", Value: "Oslo"},
		history.Remove{FieldName: "city"},
	))

	require.Len(t, events, 4)
	assert.Equal(t, Event{Name: EventEntryAdded, GUID: "g-1"}, events[0])
	assert.Equal(t, Event{Name: EventEntryUpdated, GUID: "g-1"}, events[1])
	assert.Equal(t, Event{Name: EventEntryAdded, GUID: "g-2"}, events[2])
	assert.Equal(t, Event{Name: EventEntryRemoved}, events[3])
}

func TestNotifications_NeverFireOnAbort(t *testing.T) {
	s := openFixedStore(t, "g-1", "g-2", "g-3")
	require.NoError(t, s.Update(context.Background(),
		history.Add{FieldName: "email", Value: "dup@example.com"},
		history.Add{FieldName: "email", Value: "dup@example.com"},
	))

	var events []Event
	unsub := s.notifier.Subscribe(func(ev Event) { events = append(events, ev) })
	defer unsub()

	err := s.Update(context.Background(),
		history.Bump{FieldName: "email", Value: "dup@example.com"})
	require.Error(t, err)
	assert.Empty(t, events)
}

func TestBump_ResolvedBeforeBatchWrites(t *testing.T) {
	// Resolution happens before the batch writes: a bump whose soft key
	// is only created by an earlier request of the same batch resolves
	// to zero matches and inserts its own row. The pair stays soft, so
	// both rows persist.
	s := openFixedStore(t, "g-1", "g-2")

	require.NoError(t, s.Update(context.Background(),
		history.Add{FieldName: "email", Value: "x@example.com"},
		history.Bump{FieldName: "email", Value: "x@example.com"},
	))

	n, err := s.Count(context.Background(), map[string]any{"value": "x@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
