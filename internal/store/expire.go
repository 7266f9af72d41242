package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/formhist/formhist/internal/history"
)

// compactThreshold is the number of rows one expiry pass must delete
// before a compaction attempt is worthwhile.
const compactThreshold = 500

const expireSQL = "DELETE FROM formhistory WHERE lastUsed <= ?"

// ExpireOldEntries deletes every entry whose lastUsed is at or before
// now minus the retention period, in one transaction.
//
// before-expire fires ahead of the delete and expired after it, both
// carrying the cutoff timestamp. When the pass removes more than
// compactThreshold rows a compaction runs best-effort: its failure is
// logged and never surfaced to the caller.
func (s *Store) ExpireOldEntries(ctx context.Context, retention time.Duration) error {
	cutoff := s.clock.NowMicros() - retention.Microseconds()

	s.notifier.publish(Event{Name: EventBeforeExpire, Cutoff: cutoff})

	// Compiled before the transaction opens; a prepare issued inside it
	// would wait on the pool's only connection.
	stmt, err := s.cache.get(ctx, expireSQL)
	if err != nil {
		return history.NewEngineFailure("expire", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return history.NewEngineFailure("expire", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.StmtContext(ctx, stmt).ExecContext(ctx, cutoff)
	if err != nil {
		return history.NewEngineFailure("expire", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return history.NewEngineFailure("expire", err)
	}
	if err := tx.Commit(); err != nil {
		return history.NewEngineFailure("expire", err)
	}

	if deleted > compactThreshold {
		slog.Info("expiry removed enough rows to compact",
			"deleted", deleted,
			"cutoff", cutoff,
		)
		if err := s.compact(ctx); err != nil {
			slog.Warn("compaction failed", "error", err)
		}
	}

	s.notifier.publish(Event{Name: EventExpired, Cutoff: cutoff})
	return nil
}
