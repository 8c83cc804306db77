package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/trydirect/deployctl/internal/command"
	"github.com/trydirect/deployctl/internal/cperrors"
	"github.com/trydirect/deployctl/internal/queue"
)

// QueueStore is the Postgres-backed queue.Store implementation.
type QueueStore struct {
	s *Store
}

// Queue returns the queue.Store view of this Store.
func (s *Store) Queue() *QueueStore { return &QueueStore{s: s} }

func (q *QueueStore) AddToQueue(ctx context.Context, commandID, deploymentHash string, priority command.Priority) error {
	_, err := q.s.pool.Exec(ctx, `
		INSERT INTO queue_entries (command_id, deployment_hash, priority, queued_at)
		VALUES ($1, $2, $3, now())
	`, commandID, deploymentHash, priority)
	if err != nil {
		if isUniqueViolation(err) {
			return cperrors.Conflict(cperrors.CodeAlreadyQueued, "command_id already queued")
		}
		return cperrors.Internal("add to queue", err)
	}
	return nil
}

func (q *QueueStore) FetchNextForDeployment(ctx context.Context, deploymentHash string) (*queue.Entry, error) {
	return q.head(ctx, q.s.pool, deploymentHash)
}

func (q *QueueStore) RemoveFromQueue(ctx context.Context, commandID string) error {
	if _, err := q.s.pool.Exec(ctx, `DELETE FROM queue_entries WHERE command_id = $1`, commandID); err != nil {
		return cperrors.Internal("remove from queue", err)
	}
	return nil
}

// FetchAndRemove atomically serves and dequeues the head entry for a
// deployment, ordered by priority rank then queued_at, using SELECT ... FOR
// UPDATE SKIP LOCKED so concurrent agent pulls never double-deliver.
func (q *QueueStore) FetchAndRemove(ctx context.Context, deploymentHash string) (*queue.Entry, error) {
	tx, err := q.s.pool.Begin(ctx)
	if err != nil {
		return nil, cperrors.Internal("begin dequeue transaction", err)
	}
	defer tx.Rollback(ctx)

	entry, err := q.head(ctx, tx, deploymentHash)
	if err != nil || entry == nil {
		return entry, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM queue_entries WHERE command_id = $1`, entry.CommandID); err != nil {
		return nil, cperrors.Internal("dequeue entry", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, cperrors.Internal("commit dequeue transaction", err)
	}
	return entry, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (q *QueueStore) head(ctx context.Context, db querier, deploymentHash string) (*queue.Entry, error) {
	row := db.QueryRow(ctx, `
		SELECT command_id, deployment_hash, priority, queued_at FROM queue_entries
		WHERE deployment_hash = $1
		ORDER BY
			CASE priority
				WHEN 'critical' THEN 3
				WHEN 'high' THEN 2
				WHEN 'normal' THEN 1
				WHEN 'low' THEN 0
				ELSE 1
			END DESC,
			queued_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, deploymentHash)
	var e queue.Entry
	if err := row.Scan(&e.CommandID, &e.DeploymentHash, &e.Priority, &e.QueuedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, cperrors.Internal("fetch queue head", err)
	}
	return &e, nil
}
