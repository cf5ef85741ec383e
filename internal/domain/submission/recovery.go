package submission

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"taxlink/internal/core/id"
	"taxlink/pkg/logger"
)

const (
	titleRecoveryListFailed = "Could not list authority transactions to recover the timed-out submission"
	titleRecoveryNotFound   = "The timed-out submission was not found at the authority yet"
	titleUploadNotReceived  = "The authority never received the invoice"
	titleAnnulNotReceived   = "The authority never received the annulment request"
)

// recoveryClockSkew is how far an authority timestamp may trail the local
// submission time and still count as the same attempt.
const recoveryClockSkew = 30 * time.Second

// RecoverTimeouts runs timeout recovery on the given documents.
func (s *Service) RecoverTimeouts(ctx context.Context, ids []id.ID) (*Report, error) {
	docs, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	report := newReport(OpRecovery)
	docs, err = s.filterEligible(ctx, report, docs, func(d *Document) (bool, error) {
		return d.State.IsTimeout() && d.TransactionReference == "", nil
	})
	if err != nil {
		return report, err
	}
	recovered, err := s.recover(ctx, newDocumentSet(docs), docs)
	if err != nil {
		return report, err
	}
	report.merge(recovered)
	return s.finish(ctx, report)
}

// recoveryScope caches authority answers for one recovery run.
type recoveryScope struct {
	statuses map[string]*StatusReport
}

// recover looks up the transactions of timed-out documents that never got a
// reference. A document found in a transaction adopts it and is reconciled;
// one still missing after the grace period is resolved as never received.
func (s *Service) recover(ctx context.Context, ds *documentSet, docs []*Document) (*Report, error) {
	ctx = logger.WithLogger(ctx, logger.FromContext(ctx).WithComponent("recovery"))
	report := newReport(OpRecovery)
	scope := &recoveryScope{statuses: make(map[string]*StatusReport)}

	for _, doc := range docs {
		doc = ds.adopt(doc)
		if !doc.State.IsTimeout() || doc.TransactionReference != "" {
			continue
		}
		cs := newChangeSet()
		cs.track(doc)
		if err := s.recoverOne(ctx, ds, scope, cs, doc); err != nil {
			return report, err
		}
		if err := s.persist(ctx, report, cs); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (s *Service) recoverOne(ctx context.Context, ds *documentSet, scope *recoveryScope, cs *changeSet, doc *Document) error {
	now := s.now()
	submittedAt := now
	if doc.LastSubmissionAt != nil {
		submittedAt = doc.LastSubmissionAt.UTC()
	}

	creds, err := s.credentials(ctx, doc.TenantID)
	if err != nil {
		doc.Messages = Warning(titleRecoveryListFailed, err.Error())
		return nil
	}

	from := submittedAt.Add(-s.cfg.RecoveryWindow)
	to := submittedAt.Add(s.cfg.RecoveryWindow)
	summaries, err := s.authority.ListTransactions(ctx, creds, from, to)
	if err != nil {
		connErr := AsConnectionError(err)
		logger.Warn(ctx, "list transactions failed", "document_id", doc.ID, "code", connErr.Code, "error", err)
		doc.Messages = Warning(titleRecoveryListFailed, connErr.messages()...)
		return nil
	}

	annulment := doc.State == StateCancelTimeout
	// A transaction accepted before the last submission belongs to an earlier
	// attempt of the same document and must not be adopted.
	earliest := submittedAt.Add(-recoveryClockSkew)
	candidates := slices.DeleteFunc(slices.Clone(summaries), func(t TransactionSummary) bool {
		if t.Annulment != annulment {
			return true
		}
		return doc.LastSubmissionAt != nil && t.SubmittedAt.Before(earliest)
	})
	// Closest to the submission time first.
	slices.SortStableFunc(candidates, func(a, b TransactionSummary) int {
		return cmp.Compare(absDuration(a.SubmittedAt.Sub(submittedAt)), absDuration(b.SubmittedAt.Sub(submittedAt)))
	})

	for _, candidate := range candidates {
		status, err := s.cachedStatus(ctx, scope, doc.TenantID, candidate.Reference)
		if err != nil {
			logger.Warn(ctx, "query candidate transaction failed", "reference", candidate.Reference, "error", err)
			continue
		}
		for _, result := range status.Results {
			if result.DocumentName == "" || result.DocumentName != doc.Name {
				continue
			}
			logger.Info(ctx, "timed-out submission recovered",
				"document_id", doc.ID, "reference", candidate.Reference, "index", result.Index)
			doc.TransactionReference = candidate.Reference
			doc.BatchIndex = result.Index
			return s.applyOutcome(ctx, ds, cs, doc, Reconcile(doc.State, result, status.AnnulmentStatus))
		}
	}

	if now.Sub(submittedAt) < s.cfg.RecoveryGrace {
		doc.Messages = Warning(titleRecoveryNotFound)
		return nil
	}

	logger.Warn(ctx, "timed-out submission never reached the authority", "document_id", doc.ID, "state", doc.State)
	if doc.State == StateSendTimeout {
		doc.reject(Blocking(titleUploadNotReceived))
		return nil
	}
	doc.State = StateConfirmedWarning
	doc.clearTransaction()
	doc.Messages = Warning(titleAnnulNotReceived)
	return nil
}

func (s *Service) cachedStatus(ctx context.Context, scope *recoveryScope, tenantID, reference string) (*StatusReport, error) {
	key := tenantID + "/" + reference
	if status, ok := scope.statuses[key]; ok {
		return status, nil
	}
	status, err := s.queryStatus(ctx, tenantID, reference, true)
	if err != nil {
		return nil, fmt.Errorf("query transaction %s: %w", reference, err)
	}
	scope.statuses[key] = status
	return status, nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
