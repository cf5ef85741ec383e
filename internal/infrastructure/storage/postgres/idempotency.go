package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"

	"taxlink/internal/core/apperror"
)

// IdempotencyStatus represents the state of an idempotent operation.
type IdempotencyStatus string

const (
	IdempotencyStatusPending IdempotencyStatus = "pending"
	IdempotencyStatusSuccess IdempotencyStatus = "success"
	IdempotencyStatusFailed  IdempotencyStatus = "failed"
)

// staleAfter is how long a pending key may stay unfinished before it is reclaimed.
// Interactive runs wait for the authority, so this is longer than a request timeout.
const staleAfter = 5 * time.Minute

// IdempotencyRecord stores the result of an interactive run.
type IdempotencyRecord struct {
	Key         string            `db:"idempotency_key"`
	OperatorID  string            `db:"operator_id"`
	Operation   string            `db:"operation"`
	Status      IdempotencyStatus `db:"status"`
	RequestHash string            `db:"request_hash"`
	Response    []byte            `db:"response"`
	StatusCode  int               `db:"response_status"`
	ContentType string            `db:"response_content_type"`
	CreatedAt   time.Time         `db:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at"`
	ExpiresAt   time.Time         `db:"expires_at"`
}

// IdempotencyReplay is the cached HTTP response for replay.
type IdempotencyReplay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IdempotencyStore keeps interactive upload and cancel requests from being
// submitted to the authority twice.
type IdempotencyStore struct {
	txManager *TxManager
	ttl       time.Duration
	now       func() time.Time
}

// NewIdempotencyStore creates a new idempotency store.
func NewIdempotencyStore(txManager *TxManager, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{txManager: txManager, ttl: ttl, now: time.Now}
}

// AcquireKey claims an idempotency key.
// Returns:
//   - (nil, nil) if the key was claimed by this request
//   - (replay, nil) if the operation already finished
//   - (nil, error) if the key is in use or belongs to another request
func (s *IdempotencyStore) AcquireKey(ctx context.Context, key, operatorID, operation, requestHash string) (*IdempotencyReplay, error) {
	now := s.now().UTC()
	q := s.txManager.GetQuerier(ctx)

	tag, err := q.Exec(ctx, `
		INSERT INTO sys_idempotency (idempotency_key, operator_id, operation, status, request_hash, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key, operatorID, operation, IdempotencyStatusPending, requestHash, now, now.Add(s.ttl))
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil, nil
	}

	var record IdempotencyRecord
	err = q.QueryRow(ctx, `
		SELECT idempotency_key, operator_id, operation, status, request_hash,
		       response, response_status, response_content_type, created_at, updated_at, expires_at
		FROM sys_idempotency
		WHERE idempotency_key = $1
	`, key).Scan(
		&record.Key, &record.OperatorID, &record.Operation, &record.Status,
		&record.RequestHash, &record.Response, &record.StatusCode, &record.ContentType,
		&record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Cleaned up between the two statements.
			return s.AcquireKey(ctx, key, operatorID, operation, requestHash)
		}
		return nil, fmt.Errorf("load idempotency key: %w", err)
	}

	action, replay, err := resolveExisting(&record, now, operatorID, operation, requestHash)
	switch action {
	case keyExpired:
		// Past its TTL the key is forgotten, as if CleanupExpired had already run.
		if _, err := q.Exec(ctx, `
			DELETE FROM sys_idempotency WHERE idempotency_key = $1 AND expires_at < $2
		`, key, now); err != nil {
			return nil, fmt.Errorf("drop expired key: %w", err)
		}
		return s.AcquireKey(ctx, key, operatorID, operation, requestHash)
	case keyReclaim:
		_, err := q.Exec(ctx, `
			UPDATE sys_idempotency SET updated_at = $1
			WHERE idempotency_key = $2 AND status = $3
		`, now, key, IdempotencyStatusPending)
		if err != nil {
			return nil, fmt.Errorf("reclaim stale key: %w", err)
		}
		return nil, nil
	}
	return replay, err
}

type keyAction int

const (
	keyReject keyAction = iota
	keyReplay
	keyReclaim
	keyExpired
)

// resolveExisting decides what to do with a key that is already stored.
func resolveExisting(record *IdempotencyRecord, now time.Time, operatorID, operation, requestHash string) (keyAction, *IdempotencyReplay, error) {
	if record.ExpiresAt.Before(now) {
		return keyExpired, nil, nil
	}

	if record.OperatorID != operatorID || record.Operation != operation || record.RequestHash != requestHash {
		return keyReject, nil, apperror.NewIdempotencyMismatch(record.Key).
			WithDetail("stored_operation", record.Operation).
			WithDetail("request_operation", operation)
	}

	switch record.Status {
	case IdempotencyStatusSuccess, IdempotencyStatusFailed:
		return keyReplay, &IdempotencyReplay{
			StatusCode:  normalizeReplayStatus(record.StatusCode),
			ContentType: normalizeReplayContentType(record.ContentType),
			Body:        record.Response,
		}, nil
	}

	if now.Sub(record.UpdatedAt) > staleAfter {
		return keyReclaim, nil, nil
	}
	return keyReject, nil, apperror.NewIdempotencyConflict(record.Key)
}

// CompleteKey stores the response of a finished request.
func (s *IdempotencyStore) CompleteKey(ctx context.Context, key string, statusCode int, contentType string, response any) error {
	status := IdempotencyStatusSuccess
	if statusCode >= http.StatusBadRequest {
		status = IdempotencyStatusFailed
	}

	var body []byte
	if response != nil {
		b, err := json.Marshal(response)
		if err != nil {
			body, _ = json.Marshal(map[string]string{"error": err.Error()})
		} else {
			body = b
		}
	}

	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_idempotency
		SET status = $1,
		    response = $2,
		    response_status = $3,
		    response_content_type = $4,
		    updated_at = $5
		WHERE idempotency_key = $6
	`, status, body, statusCode, contentType, s.now().UTC(), key)
	return err
}

// ReleaseKey forgets a pending key so the request can be retried, e.g. after a lock conflict.
func (s *IdempotencyStore) ReleaseKey(ctx context.Context, key string) error {
	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM sys_idempotency WHERE idempotency_key = $1 AND status = $2
	`, key, IdempotencyStatusPending)
	return err
}

func normalizeReplayStatus(status int) int {
	if status == 0 {
		return http.StatusOK
	}
	return status
}

func normalizeReplayContentType(ct string) string {
	if ct == "" {
		return "application/json"
	}
	return ct
}

// CleanupExpired removes expired idempotency records.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		DELETE FROM sys_idempotency WHERE expires_at < $1
	`, s.now().UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
