package submission

import (
	"context"
	"fmt"

	"taxlink/internal/core/apperror"
	"taxlink/internal/core/tx"
	"taxlink/pkg/logger"
)

// BaseChainIndex marks the chain base.
const BaseChainIndex = -1

// ChainIndexer assigns a document's position in its correction chain.
//
// Positive indices are allocated under an exclusive no-wait row lock on the
// chain base, held only for the duration of one document's assignment.
// A concurrent assigner on the same chain fails with CodeLockConflict and is
// never retried here.
type ChainIndexer struct {
	repo      Repository
	txManager tx.Manager
}

// NewChainIndexer creates a chain indexer.
func NewChainIndexer(repo Repository, txManager tx.Manager) *ChainIndexer {
	return &ChainIndexer{repo: repo, txManager: txManager}
}

// Assign sets doc.ChainIndex and doc.ChainBaseID.
// Positive indices are persisted before the lock is released.
func (a *ChainIndexer) Assign(ctx context.Context, doc *Document) error {
	if doc.IsBase() {
		baseID := doc.ID
		doc.ChainIndex = BaseChainIndex
		doc.ChainBaseID = &baseID
		return nil
	}

	return a.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		base, err := ResolveBase(ctx, a.repo, doc)
		if err != nil {
			return err
		}

		if err := a.repo.LockChainBase(ctx, base.ID); err != nil {
			if apperror.IsLockConflict(err) {
				logger.Warn(ctx, "chain base locked by concurrent submission",
					"document_id", doc.ID, "chain_base_id", base.ID)
				return err
			}
			return fmt.Errorf("lock chain base %s: %w", base.ID, err)
		}

		if doc.ChainIndex > 0 && doc.ChainBaseID != nil && *doc.ChainBaseID != base.ID {
			return apperror.NewChainReparented(doc.ID.String(), doc.ChainBaseID.String(), base.ID.String())
		}

		members, err := ChainMembers(ctx, a.repo, base)
		if err != nil {
			return err
		}

		baseID := base.ID
		doc.ChainIndex = NextFreeIndex(members, doc.ID)
		doc.ChainBaseID = &baseID

		if err := a.repo.SaveSubmission(ctx, doc); err != nil {
			return fmt.Errorf("save chain index of %s: %w", doc.ID, err)
		}

		logger.Debug(ctx, "chain index assigned",
			"document_id", doc.ID, "chain_base_id", base.ID, "chain_index", doc.ChainIndex)
		return nil
	})
}
