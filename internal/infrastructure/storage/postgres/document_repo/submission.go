// Package document_repo provides the PostgreSQL document repository used by the submission pipelines.
package document_repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"taxlink/internal/core/apperror"
	"taxlink/internal/core/id"
	"taxlink/internal/domain/submission"
	"taxlink/internal/infrastructure/storage/postgres"
)

const documentsTable = "documents"

// selectCols lists the scanned columns. A missing transaction reference is read back as "".
var selectCols = []string{
	"id", "tenant_id", "name", "reversed_id", "debit_origin_id", "amount_residual",
	"submission_state", "chain_index", "chain_base_id",
	"COALESCE(transaction_reference, '') AS transaction_reference",
	"batch_index", "submission_messages", "last_submission_at", "submission_payload", "version",
}

// insertCols are written by Insert; the submission attributes keep their column defaults.
var insertCols = []string{
	"id", "tenant_id", "name", "reversed_id", "debit_origin_id", "amount_residual",
}

// ErrNoTransaction is returned by LockChainBase outside a transaction.
var ErrNoTransaction = errors.New("chain base lock requires a transaction")

// DocumentRepo implements submission.Repository.
type DocumentRepo struct {
	txManager *postgres.TxManager
}

var _ submission.Repository = (*DocumentRepo)(nil)

// NewDocumentRepo creates a new document repository.
func NewDocumentRepo(txManager *postgres.TxManager) *DocumentRepo {
	return &DocumentRepo{txManager: txManager}
}

// Builder returns a new squirrel builder.
func (r *DocumentRepo) Builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *DocumentRepo) baseSelect() squirrel.SelectBuilder {
	return r.Builder().Select(selectCols...).From(documentsTable)
}

func (r *DocumentRepo) selectMany(ctx context.Context, q squirrel.SelectBuilder, what string) ([]*submission.Document, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var docs []*submission.Document
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &docs, sql, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return docs, nil
}

// GetByID retrieves a document by ID.
func (r *DocumentRepo) GetByID(ctx context.Context, docID id.ID) (*submission.Document, error) {
	sql, args, err := r.baseSelect().Where(squirrel.Eq{"id": docID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var doc submission.Document
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &doc, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("document", docID.String())
		}
		return nil, fmt.Errorf("get by id: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepo) listByIDsQuery(ids []id.ID) squirrel.SelectBuilder {
	return r.baseSelect().Where(squirrel.Eq{"id": ids}).OrderBy("id")
}

// ListByIDs returns the documents in ascending id order.
func (r *DocumentRepo) ListByIDs(ctx context.Context, ids []id.ID) ([]*submission.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.selectMany(ctx, r.listByIDsQuery(ids), "list by ids")
}

func (r *DocumentRepo) listCorrectionsQuery(parentIDs []id.ID) squirrel.SelectBuilder {
	return r.baseSelect().
		Where(squirrel.Or{
			squirrel.Eq{"reversed_id": parentIDs},
			squirrel.Eq{"debit_origin_id": parentIDs},
		}).
		OrderBy("id")
}

// ListCorrections returns the direct corrections of parentIDs.
func (r *DocumentRepo) ListCorrections(ctx context.Context, parentIDs []id.ID) ([]*submission.Document, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	return r.selectMany(ctx, r.listCorrectionsQuery(parentIDs), "list corrections")
}

func (r *DocumentRepo) listByTransactionQuery(tenantID, reference string, states []submission.State) squirrel.SelectBuilder {
	return r.baseSelect().
		Where(squirrel.Eq{
			"tenant_id":             tenantID,
			"transaction_reference": reference,
			"submission_state":      stateStrings(states),
		}).
		OrderBy("id")
}

// ListByTransaction returns the tenant's documents sent in the given transaction.
func (r *DocumentRepo) ListByTransaction(ctx context.Context, tenantID, reference string, states []submission.State) ([]*submission.Document, error) {
	if reference == "" || len(states) == 0 {
		return nil, nil
	}
	return r.selectMany(ctx, r.listByTransactionQuery(tenantID, reference, states), "list by transaction")
}

func (r *DocumentRepo) listByStatesQuery(states []submission.State, limit int) squirrel.SelectBuilder {
	q := r.baseSelect().
		Where(squirrel.Eq{"submission_state": stateStrings(states)}).
		OrderBy("id")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	return q
}

// ListByStates returns up to limit documents in the given states.
func (r *DocumentRepo) ListByStates(ctx context.Context, states []submission.State, limit int) ([]*submission.Document, error) {
	if len(states) == 0 {
		return nil, nil
	}
	return r.selectMany(ctx, r.listByStatesQuery(states, limit), "list by states")
}

func (r *DocumentRepo) lockQuery(baseID id.ID) squirrel.SelectBuilder {
	return r.Builder().
		Select("id").
		From(documentsTable).
		Where(squirrel.Eq{"id": baseID}).
		Suffix("FOR UPDATE NOWAIT")
}

// LockChainBase locks the base row without waiting.
// The lock is held until the surrounding transaction ends.
func (r *DocumentRepo) LockChainBase(ctx context.Context, baseID id.ID) error {
	tx := r.txManager.GetTx(ctx)
	if tx == nil {
		return ErrNoTransaction
	}

	sql, args, err := r.lockQuery(baseID).ToSql()
	if err != nil {
		return fmt.Errorf("build lock: %w", err)
	}

	var locked id.ID
	if err := tx.QueryRow(ctx, sql, args...).Scan(&locked); err != nil {
		if postgres.IsLockNotAvailable(err) {
			return apperror.NewLockConflict(baseID.String()).WithCause(err)
		}
		if pgxscan.NotFound(err) {
			return apperror.NewNotFound("document", baseID.String())
		}
		return fmt.Errorf("lock chain base: %w", err)
	}
	return nil
}

func (r *DocumentRepo) saveQuery(doc *submission.Document) (squirrel.UpdateBuilder, error) {
	messages, err := json.Marshal(doc.Messages)
	if err != nil {
		return squirrel.UpdateBuilder{}, fmt.Errorf("encode messages: %w", err)
	}

	return r.Builder().
		Update(documentsTable).
		Set("submission_state", string(doc.State)).
		Set("chain_index", doc.ChainIndex).
		Set("chain_base_id", doc.ChainBaseID).
		Set("transaction_reference", squirrel.Expr("NULLIF(?, '')", doc.TransactionReference)).
		Set("batch_index", doc.BatchIndex).
		Set("submission_messages", squirrel.Expr("?::jsonb", string(messages))).
		Set("last_submission_at", doc.LastSubmissionAt).
		Set("submission_payload", doc.Payload).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"id": doc.ID}).
		Where(squirrel.Eq{"version": doc.Version}).
		Suffix("RETURNING version"), nil
}

// SaveSubmission writes the submission attributes with optimistic locking.
func (r *DocumentRepo) SaveSubmission(ctx context.Context, doc *submission.Document) error {
	q, err := r.saveQuery(doc)
	if err != nil {
		return err
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	var version int
	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&version); err != nil {
		if pgxscan.NotFound(err) {
			return apperror.NewConflict("Document was modified concurrently").
				WithDetail("document_id", doc.ID.String()).
				WithDetail("version", doc.Version)
		}
		return fmt.Errorf("save submission: %w", err)
	}
	doc.Version = version
	return nil
}

// Insert registers a document owned by the invoicing side. Used by seeding and imports.
func (r *DocumentRepo) Insert(ctx context.Context, doc *submission.Document) error {
	if id.IsNil(doc.ID) {
		doc.ID = id.New()
	}
	data := postgres.StructToMap(doc, insertCols...)

	sql, args, err := r.Builder().Insert(documentsTable).SetMap(data).Suffix("RETURNING version").ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&doc.Version); err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperror.NewConflict("Document already exists").WithDetail("name", doc.Name)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	doc.State = submission.StateNone
	return nil
}

func stateStrings(states []submission.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}
