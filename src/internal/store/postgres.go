package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ce-fello/slack-reviewer-bot/src/internal/broker"

	"github.com/codeGROOVE-dev/retry"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Session is one unit of work. Everything done through it commits or
// rolls back together.
type Session interface {
	broker.Session

	// LockPRReference blocks until no other session holds the same PR url.
	LockPRReference(ctx context.Context, prURL string) error
	CountReviewsInvolving(ctx context.Context, personID int64) (int, error)
	DeleteReviewsInvolving(ctx context.Context, personID int64) error
	DeletePerson(ctx context.Context, personID int64) error
	AssignmentsPerAssignee(ctx context.Context) (map[string]int, error)
	AssignmentsPerPR(ctx context.Context) (map[string]int, error)
}

type Repositories struct {
	DB  *sqlx.DB
	Log *zap.Logger
}

func NewRepositories(db *sqlx.DB, logger *zap.Logger) *Repositories {
	return &Repositories{DB: db, Log: logger}
}

// Tx implements Session on top of a single database transaction.
type Tx struct {
	tx  *sqlx.Tx
	Log *zap.Logger
}

// WithSession runs fn inside a transaction, committing when fn returns nil.
func (r *Repositories) WithSession(ctx context.Context, fn func(Session) error) error {
	r.Log.Debug("WithSession: begin")
	tx, err := r.DB.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		r.Log.Error("WithSession: begin tx failed", zap.Error(err))
		return err
	}

	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			r.Log.Warn("WithSession: rollback failed", zap.Error(err))
		}
	}()

	if err := fn(&Tx{tx: tx, Log: r.Log}); err != nil {
		r.Log.Debug("WithSession: rolling back", zap.Error(err))
		return err
	}

	if err := tx.Commit(); err != nil {
		r.Log.Error("WithSession: commit failed", zap.Error(err))
		return err
	}
	r.Log.Debug("WithSession: committed")
	return nil
}

func (t *Tx) LockPRReference(ctx context.Context, prURL string) error {
	t.Log.Debug("LockPRReference: start", zap.String("pr_url", prURL))
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, prURL); err != nil {
		t.Log.Error("LockPRReference: lock failed", zap.String("pr_url", prURL), zap.Error(err))
		return err
	}
	return nil
}

// Connect opens the database and pings it, retrying with backoff while the
// server comes up.
func Connect(ctx context.Context, dsn string, attempts uint, delay time.Duration, logger *zap.Logger) (*sqlx.DB, error) {
	var db *sqlx.DB
	err := retry.Do(
		func() error {
			conn, err := sqlx.Open("postgres", dsn)
			if err != nil {
				return err
			}
			if err := conn.PingContext(ctx); err != nil {
				_ = conn.Close()
				return err
			}
			db = conn
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(delay),
		retry.MaxDelay(30*time.Second),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("db ping failed", zap.Uint("attempt", n+1), zap.Uint("of", attempts), zap.Error(err))
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	return db, nil
}
