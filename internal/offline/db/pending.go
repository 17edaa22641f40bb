package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mwsrs/reviews/internal/offline/schema"
)

const pendingColumns = `id, target, target_key, method, url, body, idempotency_key, created_at, attempts, last_error`

// EnqueuePending appends op to the queue and sets op.ID to the assigned
// auto-increment id.
func (db *DB) EnqueuePending(ctx context.Context, op *schema.PendingOperation) error {
	if err := db.ready(); err != nil {
		return err
	}
	if err := op.Validate(); err != nil {
		return fmt.Errorf("invalid pending operation: %w", err)
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO pending (target, target_key, method, url, body, idempotency_key, created_at, attempts, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.Target.String(), op.TargetKey, string(op.Method), op.URL, []byte(op.Body),
		op.IdempotencyKey, op.CreatedAt.UnixMilli(), op.Attempts, op.LastError)
	if err != nil {
		return storageErr("enqueue pending operation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return storageErr("read pending id", err)
	}
	op.ID = id
	return nil
}

// ListPending returns the queue in FIFO (ascending id) order.
func (db *DB) ListPending(ctx context.Context) ([]*schema.PendingOperation, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	return db.queryPending(ctx, "SELECT "+pendingColumns+" FROM pending ORDER BY id")
}

// PendingFor returns the queued operations targeting one record, oldest
// first.
func (db *DB) PendingFor(ctx context.Context, c schema.Collection, key int64) ([]*schema.PendingOperation, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	return db.queryPending(ctx,
		"SELECT "+pendingColumns+" FROM pending WHERE target = ? AND target_key = ? ORDER BY id",
		c.String(), key)
}

// GetPending returns one queued operation, or ErrNotFound.
func (db *DB) GetPending(ctx context.Context, id int64) (*schema.PendingOperation, error) {
	if err := db.ready(); err != nil {
		return nil, err
	}
	ops, err := db.queryPending(ctx, "SELECT "+pendingColumns+" FROM pending WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return nil, fmt.Errorf("pending/%d: %w", id, ErrNotFound)
	}
	return ops[0], nil
}

func (db *DB) queryPending(ctx context.Context, query string, args ...any) ([]*schema.PendingOperation, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("query pending", err)
	}
	defer func() { _ = rows.Close() }()

	var ops []*schema.PendingOperation
	for rows.Next() {
		var (
			op        schema.PendingOperation
			target    string
			method    string
			body      []byte
			createdAt int64
		)
		if err := rows.Scan(&op.ID, &target, &op.TargetKey, &method, &op.URL, &body,
			&op.IdempotencyKey, &createdAt, &op.Attempts, &op.LastError); err != nil {
			return nil, storageErr("scan pending", err)
		}
		c, err := schema.ParseCollection(target)
		if err != nil {
			return nil, fmt.Errorf("pending/%d: %w", op.ID, err)
		}
		op.Target = c
		op.Method = schema.Method(method)
		if len(body) > 0 {
			op.Body = body
		}
		op.CreatedAt = time.UnixMilli(createdAt).UTC()
		ops = append(ops, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate pending", err)
	}
	return ops, nil
}

// RemovePending deletes a queued operation. Removing an id that is no
// longer queued is not an error, which keeps replay idempotent.
func (db *DB) RemovePending(ctx context.Context, id int64) error {
	if err := db.ready(); err != nil {
		return err
	}
	if _, err := db.conn.ExecContext(ctx, "DELETE FROM pending WHERE id = ?", id); err != nil {
		return storageErr("remove pending operation", err)
	}
	return nil
}

// MarkPendingFailed records a failed replay attempt.
func (db *DB) MarkPendingFailed(ctx context.Context, id int64, reason string) error {
	if err := db.ready(); err != nil {
		return err
	}
	_, err := db.conn.ExecContext(ctx,
		"UPDATE pending SET attempts = attempts + 1, last_error = ? WHERE id = ?", reason, id)
	if err != nil {
		return storageErr("mark pending operation failed", err)
	}
	return nil
}

// RetargetPending points every queued operation for (c, oldKey) at
// newKey. rewrite is called with each operation after TargetKey has been
// updated and may change its URL and Body. It is used once the server has
// assigned a permanent id to a record that was created offline.
func (db *DB) RetargetPending(ctx context.Context, c schema.Collection, oldKey, newKey int64, rewrite func(op *schema.PendingOperation) error) (int, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	ops, err := db.PendingFor(ctx, c, oldKey)
	if err != nil {
		return 0, err
	}
	if len(ops) == 0 {
		return 0, nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageErr("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range ops {
		op.TargetKey = newKey
		if rewrite != nil {
			if err := rewrite(op); err != nil {
				return 0, fmt.Errorf("failed to retarget pending/%d: %w", op.ID, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE pending SET target_key = ?, url = ?, body = ? WHERE id = ?",
			newKey, op.URL, []byte(op.Body), op.ID); err != nil {
			return 0, storageErr("retarget pending operation", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storageErr("commit transaction", err)
	}
	return len(ops), nil
}

// CountPending returns the queue length.
func (db *DB) CountPending(ctx context.Context) (int, error) {
	if err := db.ready(); err != nil {
		return 0, err
	}
	var n int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM pending").Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr("count pending", err)
	}
	return n, nil
}
