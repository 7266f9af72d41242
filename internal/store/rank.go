package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/formhist/formhist/internal/history"
)

// RankingConfig tunes the autocomplete frecency and boundary scoring.
type RankingConfig struct {
	// AgedWeight multiplies the frecency of entries first used before
	// ExpiryDate (clamped to at least 1).
	AgedWeight float64

	// BucketSize divides the raw frecency, coarsening score buckets.
	BucketSize float64

	// MaxTimeGroupings caps the recency contribution.
	MaxTimeGroupings int64

	// TimeGroupingSize is the width of one time grouping, in microseconds.
	// Non-positive values are treated as one microsecond.
	TimeGroupingSize int64

	// PrefixWeight rewards the whole search text matching as a prefix.
	PrefixWeight float64

	// BoundaryWeight multiplies the accumulated prefix/boundary points.
	BoundaryWeight float64

	// ExpiryDate is the timestamp (microseconds) before which an entry
	// counts as aged.
	ExpiryDate int64
}

// DefaultRankingConfig returns the stock scoring parameters, with time
// groupings of one week and entries older than 31 days counting as aged.
func DefaultRankingConfig(now int64) RankingConfig {
	const (
		week = int64(7 * 24 * time.Hour / time.Microsecond)
		aged = int64(31 * 24 * time.Hour / time.Microsecond)
	)
	return RankingConfig{
		AgedWeight:       2,
		BucketSize:       1,
		MaxTimeGroupings: 25,
		TimeGroupingSize: week,
		PrefixWeight:     5,
		BoundaryWeight:   25,
		ExpiryDate:       now - aged,
	}
}

// RankedEntry is one scored autocomplete candidate.
type RankedEntry struct {
	Text          string
	TextLowerCase string
	Frecency      float64
	TotalScore    int64
}

// Scan is a lazy, finite, one-shot sequence of ranked autocomplete
// results. Results are delivered at the consumer's pace; Cancel abandons
// the rest mid-flight. After the Results channel closes, Err reports the
// outcome (context.Canceled for a cancelled scan).
type Scan struct {
	results chan RankedEntry
	cancel  context.CancelFunc
	err     error
}

// Results returns the ranked sequence, highest score first. The channel
// closes when the scan finishes, fails or is cancelled.
func (sc *Scan) Results() <-chan RankedEntry { return sc.results }

// Err reports the scan outcome. Only valid after Results has closed.
func (sc *Scan) Err() error { return sc.err }

// Cancel abandons the scan. Buffered but undelivered results are
// discarded silently; Err reports context.Canceled.
func (sc *Scan) Cancel() { sc.cancel() }

// Autocomplete starts a ranked substring search over the values stored
// for fieldName.
//
// Matching policy by search-text length:
//   - empty: every row for fieldName matches, boundary bonus 1.
//   - one rune: rows whose value has the text as a literal prefix,
//     boundary bonus 1.
//   - longer: the text splits on whitespace into tokens and a value must
//     contain every token; the boundary bonus rewards whole-text prefix,
//     per-token prefix and word-boundary hits.
//
// Matching is case-insensitive. Ordering is total score descending, then
// case-insensitive value text ascending. Scores are rounded before the
// sort so tiny floating differences while typing do not churn the order.
func (s *Store) Autocomplete(ctx context.Context, text, fieldName string, cfg RankingConfig) *Scan {
	ctx, cancel := context.WithCancel(ctx)
	sc := &Scan{
		results: make(chan RankedEntry),
		cancel:  cancel,
	}
	go s.scan(ctx, sc, text, fieldName, cfg)
	return sc
}

func (s *Store) scan(ctx context.Context, sc *Scan, text, fieldName string, cfg RankingConfig) {
	defer close(sc.results)

	ranked, err := s.rankMatches(ctx, text, fieldName, cfg)
	if err != nil {
		sc.err = err
		return
	}

	for _, r := range ranked {
		select {
		case sc.results <- r:
		case <-ctx.Done():
			sc.err = ctx.Err()
			return
		}
	}

	// Cancellation that raced the last delivery still suppresses a clean
	// completion.
	if err := ctx.Err(); err != nil {
		sc.err = err
	}
}

// rankMatches loads the candidate rows, scores the matches and sorts them.
func (s *Store) rankMatches(ctx context.Context, text, fieldName string, cfg RankingConfig) ([]RankedEntry, error) {
	stmt, err := s.cache.get(ctx,
		"SELECT value, timesUsed, firstUsed, lastUsed FROM formhistory WHERE fieldname = ?")
	if err != nil {
		return nil, history.NewEngineFailure("autocomplete", err)
	}
	rows, err := stmt.QueryContext(ctx, fieldName)
	if err != nil {
		return nil, history.NewEngineFailure("autocomplete", err)
	}
	defer rows.Close()

	matcher := newMatcher(text, cfg)
	now := s.clock.NowMicros()

	var ranked []RankedEntry
	for rows.Next() {
		var e history.Entry
		if err := rows.Scan(&e.Value, &e.TimesUsed, &e.FirstUsed, &e.LastUsed); err != nil {
			return nil, history.NewEngineFailure("autocomplete", err)
		}
		lower := strings.ToLower(e.Value)
		bonus, ok := matcher.match(lower)
		if !ok {
			continue
		}
		f := frecency(e, now, cfg)
		ranked = append(ranked, RankedEntry{
			Text:          e.Value,
			TextLowerCase: lower,
			Frecency:      f,
			TotalScore:    int64(math.Round(f * bonus)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, history.NewEngineFailure("autocomplete", err)
	}

	coll := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].TotalScore != ranked[j].TotalScore {
			return ranked[i].TotalScore > ranked[j].TotalScore
		}
		return coll.CompareString(ranked[i].Text, ranked[j].Text) < 0
	})
	return ranked, nil
}

// matcher implements the length-dependent matching policy against
// lowercased values.
type matcher struct {
	text   string   // lowercased search text
	tokens []string // whitespace-split tokens, only for len >= 2
	runes  int
	cfg    RankingConfig
}

func newMatcher(text string, cfg RankingConfig) *matcher {
	lower := strings.ToLower(text)
	m := &matcher{
		text:  lower,
		runes: utf8.RuneCountInString(lower),
		cfg:   cfg,
	}
	if m.runes >= 2 {
		m.tokens = strings.Fields(lower)
	}
	return m
}

// match reports whether a lowercased value matches and, if so, its
// boundary bonus.
func (m *matcher) match(value string) (float64, bool) {
	switch {
	case m.runes == 0:
		return 1, true

	case m.runes == 1:
		if !strings.HasPrefix(value, m.text) {
			return 0, false
		}
		return 1, true

	default:
		points := 0.0
		if strings.HasPrefix(value, m.text) {
			points += m.cfg.PrefixWeight
		}
		for _, tok := range m.tokens {
			if !strings.Contains(value, tok) {
				return 0, false
			}
			if strings.HasPrefix(value, tok) {
				points++
			}
			if tokenAtBoundary(value, tok) {
				points++
			}
		}
		return math.Max(1, points) * m.cfg.BoundaryWeight, true
	}
}

// tokenAtBoundary reports whether tok occurs inside value immediately
// after a non-alphanumeric rune. An occurrence at the start of the value
// is a prefix hit, not a boundary hit.
func tokenAtBoundary(value, tok string) bool {
	for from := 0; ; {
		i := strings.Index(value[from:], tok)
		if i < 0 {
			return false
		}
		pos := from + i
		if pos > 0 {
			r, _ := utf8.DecodeLastRuneInString(value[:pos])
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				return true
			}
		}
		from = pos + 1
		if from >= len(value) {
			return false
		}
	}
}

// frecency computes the composite recency+frequency score, rounded to
// three decimals.
//
//	usageSpanGroups = max(1, (lastUsed-firstUsed) / timeGroupingSize)
//	recencyGroups   = max(1, maxTimeGroupings - (now-lastUsed) / timeGroupingSize)
//	agedBonus       = max(1, agedWeight) when firstUsed < expiryDate, else 1
//	frecency        = round((timesUsed/usageSpanGroups) * recencyGroups * agedBonus / bucketSize, 3)
func frecency(e history.Entry, now int64, cfg RankingConfig) float64 {
	grouping := cfg.TimeGroupingSize
	if grouping <= 0 {
		grouping = 1
	}
	spanGroups := (e.LastUsed - e.FirstUsed) / grouping
	if spanGroups < 1 {
		spanGroups = 1
	}
	recencyGroups := cfg.MaxTimeGroupings - (now-e.LastUsed)/grouping
	if recencyGroups < 1 {
		recencyGroups = 1
	}
	aged := 1.0
	if e.FirstUsed < cfg.ExpiryDate {
		aged = math.Max(1, cfg.AgedWeight)
	}
	raw := float64(e.TimesUsed) / float64(spanGroups) * float64(recencyGroups) * aged / cfg.BucketSize
	return math.Round(raw*1000) / 1000
}
