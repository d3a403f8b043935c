package database

import (
	"context"
	"fmt"
	"time"

	"daymark/internal/models"

	"github.com/google/uuid"
)

const opColumns = `id, entity_type, entity_id, operation_type, payload, status,
              attempt_count, last_error, enqueued_at, last_attempt_at, next_attempt_at`

// Enqueue appends an operation to the durable queue. The id and enqueue
// timestamp are assigned here when absent; the payload is stored as-is and
// never rewritten afterwards.
func (db *DB) Enqueue(ctx context.Context, op *models.SyncOperation) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Status == "" {
		op.Status = models.OpStatusPending
	}
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}

	query := `INSERT INTO sync_operations (id, entity_type, entity_id, operation_type, payload, status, attempt_count, last_error, enqueued_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, query,
		op.ID,
		op.EntityType,
		op.EntityID,
		op.OperationType,
		op.Payload,
		op.Status,
		op.AttemptCount,
		op.LastError,
		op.EnqueuedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue sync operation: %w", err)
	}
	return nil
}

// Pending returns operations eligible for processing in enqueue order:
// pending or retry status with an elapsed backoff window.
func (db *DB) Pending(ctx context.Context, limit int) ([]models.SyncOperation, error) {
	query := `SELECT ` + opColumns + `
              FROM sync_operations
              WHERE status IN ('pending', 'retry') AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
              ORDER BY enqueued_at ASC, rowid ASC LIMIT ?`
	rows, err := db.QueryContext(ctx, query, time.Now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending sync operations: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// MarkProcessing claims an operation for the drain loop. The conditional
// update makes the claim atomic: only one caller sees claimed=true.
func (db *DB) MarkProcessing(ctx context.Context, id string) (bool, error) {
	query := `UPDATE sync_operations SET status = 'processing', last_attempt_at = ?
              WHERE id = ? AND status IN ('pending', 'retry')`
	result, err := db.ExecContext(ctx, query, time.Now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to mark operation processing: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return affected > 0, nil
}

// RecordFailure counts a failed attempt and schedules the next one.
func (db *DB) RecordFailure(ctx context.Context, id string, cause string, nextAttemptAt time.Time) error {
	query := `UPDATE sync_operations SET status = 'retry', attempt_count = attempt_count + 1,
              last_error = ?, next_attempt_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, cause, nextAttemptAt, id)
	if err != nil {
		return fmt.Errorf("failed to record operation failure: %w", err)
	}
	return nil
}

// Abandon marks an operation terminal. The row is kept until ReapAbandoned
// so that the failure can be surfaced to the user first.
func (db *DB) Abandon(ctx context.Context, id string, cause string) error {
	query := `UPDATE sync_operations SET status = 'abandoned', attempt_count = attempt_count + 1,
              last_error = ?, next_attempt_at = NULL WHERE id = ?`
	_, err := db.ExecContext(ctx, query, cause, id)
	if err != nil {
		return fmt.Errorf("failed to abandon operation: %w", err)
	}
	return nil
}

// Remove deletes an operation after confirmed server success.
func (db *DB) Remove(ctx context.Context, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM sync_operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove operation: %w", err)
	}
	return nil
}

// Abandoned returns operations awaiting the maintenance reap.
func (db *DB) Abandoned(ctx context.Context) ([]models.SyncOperation, error) {
	query := `SELECT ` + opColumns + `
              FROM sync_operations WHERE status = 'abandoned' ORDER BY enqueued_at ASC, rowid ASC`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get abandoned operations: %w", err)
	}
	defer rows.Close()

	return scanOperations(rows)
}

// ReapAbandoned deletes abandoned rows and reports how many were removed.
func (db *DB) ReapAbandoned(ctx context.Context) (int, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM sync_operations WHERE status = 'abandoned'`)
	if err != nil {
		return 0, fmt.Errorf("failed to reap abandoned operations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(affected), nil
}

// ReleaseStuck returns operations left in processing by a previous run to
// the pending state. Replay is at-least-once, so re-sending is safe.
func (db *DB) ReleaseStuck(ctx context.Context) (int, error) {
	result, err := db.ExecContext(ctx, `UPDATE sync_operations SET status = 'pending' WHERE status = 'processing'`)
	if err != nil {
		return 0, fmt.Errorf("failed to release stuck operations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(affected), nil
}

// Depth counts operations that still represent pending work.
func (db *DB) Depth(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_operations WHERE status IN ('pending', 'retry', 'processing')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue depth: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanOperations(rows rowScanner) ([]models.SyncOperation, error) {
	var ops []models.SyncOperation
	for rows.Next() {
		var op models.SyncOperation
		err := rows.Scan(
			&op.ID, &op.EntityType, &op.EntityID, &op.OperationType, &op.Payload,
			&op.Status, &op.AttemptCount, &op.LastError, &op.EnqueuedAt,
			&op.LastAttemptAt, &op.NextAttemptAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync operations: %w", err)
	}
	return ops, nil
}
