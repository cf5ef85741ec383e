package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"

	"taxlink/internal/core/id"
	"taxlink/internal/domain/submission"
	"taxlink/pkg/logger"
)

// OutboxStatus represents the state of an outbox message.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// EventSubmissionStateChanged is the event type of submission.StateChange.
const EventSubmissionStateChanged = "SubmissionStateChanged"

// maxOutboxRetries moves a message to failed after this many handler errors.
const maxOutboxRetries = 5

// OutboxMessage is a row of submission_outbox.
type OutboxMessage struct {
	ID          id.ID        `db:"id"`
	DocumentID  id.ID        `db:"document_id"`
	TenantID    string       `db:"tenant_id"`
	EventType   string       `db:"event_type"`
	Payload     []byte       `db:"payload"`
	Status      OutboxStatus `db:"status"`
	RetryCount  int          `db:"retry_count"`
	LastError   *string      `db:"last_error"`
	NextRetryAt *time.Time   `db:"next_retry_at"`
	CreatedAt   time.Time    `db:"created_at"`
	PublishedAt *time.Time   `db:"published_at"`
}

// StateChange decodes the payload of a SubmissionStateChanged message.
func (m *OutboxMessage) StateChange() (submission.StateChange, error) {
	var change submission.StateChange
	if err := json.Unmarshal(m.Payload, &change); err != nil {
		return change, fmt.Errorf("decode outbox payload %s: %w", m.ID, err)
	}
	return change, nil
}

// OutboxPublisher writes submission state changes to the outbox within the
// caller's transaction.
type OutboxPublisher struct {
	txManager *TxManager
}

// NewOutboxPublisher creates a new outbox publisher.
func NewOutboxPublisher(txManager *TxManager) *OutboxPublisher {
	return &OutboxPublisher{txManager: txManager}
}

var _ submission.EventPublisher = (*OutboxPublisher)(nil)

// PublishStateChange implements submission.EventPublisher.
// MUST be called inside a transaction context.
func (p *OutboxPublisher) PublishStateChange(ctx context.Context, change submission.StateChange) error {
	tx := p.txManager.GetTx(ctx)
	if tx == nil {
		return fmt.Errorf("outbox publish requires transaction context")
	}

	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO submission_outbox (id, document_id, tenant_id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id.New(), change.DocumentID, change.TenantID, EventSubmissionStateChanged, payload, OutboxStatusPending, change.At)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

// OutboxHandler delivers outbox messages downstream.
type OutboxHandler interface {
	Handle(ctx context.Context, msg *OutboxMessage) error
}

// OutboxHandlerFunc adapts a function to OutboxHandler.
type OutboxHandlerFunc func(ctx context.Context, msg *OutboxMessage) error

// Handle implements OutboxHandler.
func (f OutboxHandlerFunc) Handle(ctx context.Context, msg *OutboxMessage) error {
	return f(ctx, msg)
}

// LogHandler writes every state change to the structured log.
func LogHandler() OutboxHandler {
	return OutboxHandlerFunc(func(ctx context.Context, msg *OutboxMessage) error {
		change, err := msg.StateChange()
		if err != nil {
			return err
		}
		logger.Info(ctx, "submission state changed",
			"document_id", change.DocumentID,
			"tenant_id", change.TenantID,
			"operation", change.Operation,
			"from", change.From,
			"to", change.To,
			"reference", change.Reference,
			"blocking_level", change.Message.BlockingLevel,
		)
		return nil
	})
}

// OutboxRelay hands pending messages to a handler. Concurrent relays skip
// each other's rows.
type OutboxRelay struct {
	txManager *TxManager
	batchSize int
	handler   OutboxHandler
}

// NewOutboxRelay creates a new outbox relay.
func NewOutboxRelay(txManager *TxManager, batchSize int, handler OutboxHandler) *OutboxRelay {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &OutboxRelay{txManager: txManager, batchSize: batchSize, handler: handler}
}

// ProcessBatch fetches and processes pending messages.
// Returns number of delivered messages.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	delivered := 0
	err := r.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var messages []*OutboxMessage
		err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &messages, `
			SELECT id, document_id, tenant_id, event_type, payload, status,
			       retry_count, last_error, next_retry_at, created_at, published_at
			FROM submission_outbox
			WHERE status = $1
			  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, OutboxStatusPending, r.batchSize)
		if err != nil {
			return fmt.Errorf("fetch outbox messages: %w", err)
		}

		for _, msg := range messages {
			if err := r.processMessage(ctx, msg); err != nil {
				logger.Warn(ctx, "outbox delivery failed", "message_id", msg.ID, "error", err)
				continue
			}
			delivered++
		}
		return nil
	})
	return delivered, err
}

func (r *OutboxRelay) processMessage(ctx context.Context, msg *OutboxMessage) error {
	q := r.txManager.GetQuerier(ctx)

	if err := r.handler.Handle(ctx, msg); err != nil {
		nextRetry := time.Now().UTC().Add(time.Duration(msg.RetryCount+1) * time.Minute)
		_, updateErr := q.Exec(ctx, `
			UPDATE submission_outbox
			SET retry_count = retry_count + 1,
			    last_error = $1,
			    next_retry_at = $2,
			    status = CASE WHEN retry_count + 1 >= $3 THEN $4 ELSE status END
			WHERE id = $5
		`, err.Error(), nextRetry, maxOutboxRetries, OutboxStatusFailed, msg.ID)
		if updateErr != nil {
			return fmt.Errorf("update failed message: %w", updateErr)
		}
		return err
	}

	_, err := q.Exec(ctx, `
		UPDATE submission_outbox
		SET status = $1, published_at = $2
		WHERE id = $3
	`, OutboxStatusPublished, time.Now().UTC(), msg.ID)
	return err
}
