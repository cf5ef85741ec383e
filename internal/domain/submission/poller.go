package submission

import (
	"context"
	"fmt"

	"taxlink/internal/core/id"
	"taxlink/pkg/logger"
)

const (
	titleQueryFailed = "Status query failed for transaction %s"
	titleCascade     = "Cancelled together with chain base %s"
)

// siblingStates are pulled into a poll group when they share its transaction.
var siblingStates = []State{StateSent, StateCancelSent}

// transactionGroup is every document of one tenant transaction.
type transactionGroup struct {
	tenantID  string
	reference string
	docs      []*Document
}

// Poll queries the authority for the given documents. Documents sharing a
// transaction with them are reconciled too. Timed-out documents without a
// reference go through timeout recovery.
func (s *Service) Poll(ctx context.Context, ids []id.ID) (*Report, error) {
	docs, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.poll(ctx, docs)
}

// PollPending queries up to limit documents awaiting an authority verdict.
func (s *Service) PollPending(ctx context.Context, limit int) (*Report, error) {
	docs, err := s.repo.ListByStates(ctx, PollableStates(), limit)
	if err != nil {
		return nil, fmt.Errorf("list documents to poll: %w", err)
	}
	return s.poll(ctx, docs)
}

func (s *Service) poll(ctx context.Context, docs []*Document) (*Report, error) {
	ctx = logger.WithLogger(ctx, logger.FromContext(ctx).WithComponent("poller"))
	report := newReport(OpPoll)

	sortDocuments(docs)
	docs, err := s.filterEligible(ctx, report, docs, func(d *Document) (bool, error) {
		return d.State.IsPollable(), nil
	})
	if err != nil {
		return report, err
	}

	ds := newDocumentSet(docs)

	var orphans []*Document
	var referenced []*Document
	for _, doc := range docs {
		doc = ds.adopt(doc)
		if doc.TransactionReference == "" {
			orphans = append(orphans, doc)
			continue
		}
		referenced = append(referenced, doc)
	}

	groups, err := s.groupByTransaction(ctx, ds, referenced)
	if err != nil {
		return report, err
	}
	for _, g := range groups {
		if err := s.pollGroup(ctx, ds, report, g); err != nil {
			return report, err
		}
	}

	if len(orphans) > 0 {
		recovered, err := s.recover(ctx, ds, orphans)
		if err != nil {
			return report, err
		}
		report.merge(recovered)
	}

	logger.Info(ctx, "poll finished", "groups", len(groups), "processed", report.Processed)
	return s.finish(ctx, report)
}

// groupByTransaction groups documents by (tenant, reference) in order of first
// appearance and expands every group with its in-flight siblings.
func (s *Service) groupByTransaction(ctx context.Context, ds *documentSet, docs []*Document) ([]*transactionGroup, error) {
	type key struct{ tenant, reference string }
	index := make(map[key]*transactionGroup)
	seen := make(map[id.ID]struct{}, len(docs))
	var groups []*transactionGroup

	for _, doc := range docs {
		k := key{doc.TenantID, doc.TransactionReference}
		g, ok := index[k]
		if !ok {
			g = &transactionGroup{tenantID: doc.TenantID, reference: doc.TransactionReference}
			index[k] = g
			groups = append(groups, g)
		}
		g.docs = append(g.docs, doc)
		seen[doc.ID] = struct{}{}
	}

	for _, g := range groups {
		siblings, err := s.repo.ListByTransaction(ctx, g.tenantID, g.reference, siblingStates)
		if err != nil {
			return nil, fmt.Errorf("list documents of transaction %s: %w", g.reference, err)
		}
		for _, sib := range siblings {
			if _, ok := seen[sib.ID]; ok {
				continue
			}
			seen[sib.ID] = struct{}{}
			g.docs = append(g.docs, ds.adopt(sib))
		}
		sortDocuments(g.docs)
	}
	return groups, nil
}

// pollGroup reconciles one transaction. Documents an earlier group already
// moved out of a pollable state (a cascaded annulment) are left alone.
func (s *Service) pollGroup(ctx context.Context, ds *documentSet, report *Report, g *transactionGroup) error {
	live := g.docs[:0:0]
	for _, doc := range g.docs {
		if doc.State.IsPollable() && doc.TransactionReference == g.reference {
			live = append(live, doc)
		}
	}
	if len(live) == 0 {
		logger.Debug(ctx, "transaction already settled in this run", "reference", g.reference)
		return nil
	}
	g.docs = live

	cs := newChangeSet()
	for _, doc := range g.docs {
		cs.track(doc)
	}

	status, err := s.queryStatus(ctx, g.tenantID, g.reference, false)
	if err != nil {
		connErr := AsConnectionError(err)
		logger.Warn(ctx, "status query failed", "reference", g.reference, "code", connErr.Code, "error", err)
		for _, doc := range g.docs {
			doc.Messages = Warning(fmt.Sprintf(titleQueryFailed, g.reference), connErr.messages()...)
		}
		return s.persist(ctx, report, cs)
	}

	byIndex := make(map[int]*Document, len(g.docs))
	for _, doc := range g.docs {
		if doc.BatchIndex > 0 {
			byIndex[doc.BatchIndex] = doc
		}
	}

	for _, result := range status.Results {
		doc, ok := byIndex[result.Index]
		if !ok {
			unmatched := &UnmatchedResultError{Reference: g.reference, Index: result.Index}
			logger.Warn(ctx, "unmatched status result", "error", unmatched)
			continue
		}
		if err := s.applyOutcome(ctx, ds, cs, doc, Reconcile(doc.State, result, status.AnnulmentStatus)); err != nil {
			return err
		}
	}

	return s.persist(ctx, report, cs)
}

// queryStatus resolves credentials and queries one transaction.
func (s *Service) queryStatus(ctx context.Context, tenantID, reference string, withOriginalRequest bool) (*StatusReport, error) {
	creds, err := s.credentials(ctx, tenantID)
	if err != nil {
		return nil, &ConnectionError{Code: ConnAuth, Errors: []string{err.Error()}, Err: err}
	}
	return s.authority.QueryStatus(ctx, creds, reference, withOriginalRequest)
}

// applyOutcome writes a reconciled outcome onto a tracked document.
// A verified annulment of the chain base cancels the whole chain.
func (s *Service) applyOutcome(ctx context.Context, ds *documentSet, cs *changeSet, doc *Document, out Outcome) error {
	if !out.Applies {
		return nil
	}
	switch out.State {
	case StateRejected:
		doc.reject(out.Message)
	case StateCancelled:
		isBase := doc.IsBase()
		doc.cancel(out.Message)
		if isBase {
			return s.cascadeCancel(ctx, ds, cs, doc)
		}
	default:
		doc.State = out.State
		doc.Messages = out.Message
	}
	return nil
}

// cascadeCancel cancels every chain member of base that has been submitted.
// Members already loaded by this invocation are changed in place.
func (s *Service) cascadeCancel(ctx context.Context, ds *documentSet, cs *changeSet, base *Document) error {
	members, err := ChainMembers(ctx, s.repo, base)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.ID == base.ID {
			continue
		}
		member := ds.adopt(m)
		if tracked, ok := cs.tracked(m.ID); ok {
			member = tracked
		}
		if member.State == StateNone || member.State == StateCancelled {
			continue
		}
		member = cs.track(member)
		logger.Info(ctx, "cascading annulment", "document_id", member.ID, "chain_base_id", base.ID, "from", member.State)
		member.cancel(Info(fmt.Sprintf(titleCascade, base.Name)))
		cs.markCascade(member.ID)
	}
	return nil
}
