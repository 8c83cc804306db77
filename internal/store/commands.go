package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/trydirect/deployctl/internal/command"
	"github.com/trydirect/deployctl/internal/cperrors"
)

// CommandStore is the Postgres-backed command.Store implementation.
type CommandStore struct {
	s *Store
}

// Commands returns the command.Store view of this Store.
func (s *Store) Commands() *CommandStore { return &CommandStore{s: s} }

func (c *CommandStore) Insert(ctx context.Context, cmd *command.Command) error {
	now := time.Now()
	cmd.CreatedAt, cmd.UpdatedAt, cmd.QueuedAt = now, now, now
	_, err := c.s.pool.Exec(ctx, `
		INSERT INTO commands (command_id, deployment_hash, type, status, priority, parameters, result, error, created_by, timeout_seconds, metadata, queued_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, cmd.CommandID, cmd.DeploymentHash, cmd.Type, cmd.Status, cmd.Priority,
		nullableJSON(cmd.Parameters), nullableJSON(cmd.Result), nullableJSON(cmd.Error),
		cmd.CreatedBy, cmd.TimeoutSeconds, nullableJSON(cmd.Metadata),
		cmd.QueuedAt, cmd.CreatedAt, cmd.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return cperrors.Conflict(cperrors.CodeAlreadyQueued, "command_id already exists")
		}
		return cperrors.Internal("insert command", err)
	}
	return nil
}

func (c *CommandStore) Get(ctx context.Context, deploymentHash, commandID string) (*command.Command, error) {
	row := c.s.pool.QueryRow(ctx, `
		SELECT command_id, deployment_hash, type, status, priority, parameters, result, error, created_by, timeout_seconds, metadata, queued_at, created_at, updated_at
		FROM commands WHERE command_id = $1
	`, commandID)
	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cperrors.NotFound(cperrors.CodeCommandNotFound, "command", commandID)
		}
		return nil, cperrors.Internal("get command", err)
	}
	if deploymentHash != "" && cmd.DeploymentHash != deploymentHash {
		return nil, cperrors.Conflict(cperrors.CodeHashMismatch, "deployment_hash does not match command")
	}
	return cmd, nil
}

func (c *CommandStore) List(ctx context.Context, deploymentHash string) ([]*command.Command, error) {
	rows, err := c.s.pool.Query(ctx, `
		SELECT command_id, deployment_hash, type, status, priority, parameters, result, error, created_by, timeout_seconds, metadata, queued_at, created_at, updated_at
		FROM commands WHERE deployment_hash = $1 ORDER BY created_at DESC
	`, deploymentHash)
	if err != nil {
		return nil, cperrors.Internal("list commands", err)
	}
	defer rows.Close()

	var out []*command.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, cperrors.Internal("scan command", err)
		}
		out = append(out, cmd)
	}
	return out, rows.Err()
}

func (c *CommandStore) UpdateStatus(ctx context.Context, commandID string, from, to command.Status) (*command.Command, error) {
	if !command.CanTransition(from, to) {
		return nil, cperrors.Conflict(cperrors.CodeIllegalTransition, "illegal command state transition")
	}
	row := c.s.pool.QueryRow(ctx, `
		UPDATE commands SET status = $1, updated_at = now()
		WHERE command_id = $2 AND status = $3
		RETURNING command_id, deployment_hash, type, status, priority, parameters, result, error, created_by, timeout_seconds, metadata, queued_at, created_at, updated_at
	`, to, commandID, from)
	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := c.Get(ctx, "", commandID); getErr != nil {
				return nil, getErr
			}
			return nil, cperrors.Conflict(cperrors.CodeIllegalTransition, "illegal command state transition")
		}
		return nil, cperrors.Internal("update command status", err)
	}
	return cmd, nil
}

// reportableTo is the set of terminal states an agent report may land on;
// cancellation is excluded since running/sent -> cancelled is not a legal
// edge (only the caller-facing cancel endpoint may cancel a command).
var reportableTo = map[command.Status]bool{command.StatusCompleted: true, command.StatusFailed: true}

func (c *CommandStore) UpdateResult(ctx context.Context, commandID string, result, errDoc json.RawMessage, status command.Status) (*command.Command, error) {
	if !reportableTo[status] {
		return nil, cperrors.Conflict(cperrors.CodeIllegalTransition, "illegal command state transition")
	}
	if len(result) > 0 && len(errDoc) > 0 {
		return nil, cperrors.Validation("result and error are mutually exclusive")
	}
	row := c.s.pool.QueryRow(ctx, `
		UPDATE commands SET status = $1, result = $2, error = $3, updated_at = now()
		WHERE command_id = $4 AND status IN ('sent', 'running')
		RETURNING command_id, deployment_hash, type, status, priority, parameters, result, error, created_by, timeout_seconds, metadata, queued_at, created_at, updated_at
	`, status, nullableJSON(result), nullableJSON(errDoc), commandID)
	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := c.Get(ctx, "", commandID); getErr != nil {
				return nil, getErr
			}
			return nil, cperrors.Conflict(cperrors.CodeIllegalTransition, "illegal command state transition")
		}
		return nil, cperrors.Internal("update command result", err)
	}
	return cmd, nil
}

func (c *CommandStore) Cancel(ctx context.Context, deploymentHash, commandID, reason string) (*command.Command, error) {
	existing, err := c.Get(ctx, deploymentHash, commandID)
	if err != nil {
		return nil, err
	}
	if existing.Status == command.StatusCancelled {
		return existing, nil
	}
	if existing.Status.Terminal() {
		return nil, cperrors.Conflict(cperrors.CodeCommandTerminal, "command already in a terminal state")
	}

	tx, err := c.s.pool.Begin(ctx)
	if err != nil {
		return nil, cperrors.Internal("begin cancel transaction", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE commands SET status = 'cancelled', updated_at = now()
		WHERE command_id = $1 AND status IN ('queued', 'sent')
		RETURNING command_id, deployment_hash, type, status, priority, parameters, result, error, created_by, timeout_seconds, metadata, queued_at, created_at, updated_at
	`, commandID)
	cmd, err := scanCommand(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cperrors.Conflict(cperrors.CodeIllegalTransition, "cancellation not allowed from current state")
		}
		return nil, cperrors.Internal("cancel command", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM queue_entries WHERE command_id = $1`, commandID); err != nil {
		return nil, cperrors.Internal("remove queue row on cancel", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, cperrors.Internal("commit cancel transaction", err)
	}
	return cmd, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*command.Command, error) {
	var c command.Command
	var parameters, result, errDoc, metadata []byte
	if err := row.Scan(&c.CommandID, &c.DeploymentHash, &c.Type, &c.Status, &c.Priority,
		&parameters, &result, &errDoc, &c.CreatedBy, &c.TimeoutSeconds, &metadata,
		&c.QueuedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Parameters = json.RawMessage(parameters)
	c.Result = json.RawMessage(result)
	c.Error = json.RawMessage(errDoc)
	c.Metadata = json.RawMessage(metadata)
	return &c, nil
}

// nullableJSON turns an empty json.RawMessage into a nil driver value so the
// column stores SQL NULL rather than the literal string "null".
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
