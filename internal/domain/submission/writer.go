package submission

import (
	"bytes"
	"context"
	"fmt"

	"taxlink/internal/core/apperror"
	"taxlink/internal/core/id"
)

// change is one pending document write.
type change struct {
	doc    *Document
	before Document
	// cascade marks writes caused by a verified annulment of the chain base;
	// they bypass the regular transition edges.
	cascade bool
}

// changeSet collects the writes of one batch or transaction group, at most one per document.
type changeSet struct {
	order []id.ID
	byID  map[id.ID]*change
}

func newChangeSet() *changeSet {
	return &changeSet{byID: make(map[id.ID]*change)}
}

// track records the pre-change snapshot of doc. Tracking the same document
// twice keeps the first snapshot.
func (cs *changeSet) track(doc *Document) *Document {
	if c, ok := cs.byID[doc.ID]; ok {
		return c.doc
	}
	cs.byID[doc.ID] = &change{doc: doc, before: doc.snapshot()}
	cs.order = append(cs.order, doc.ID)
	return doc
}

// trackFrom records doc with an explicit pre-change snapshot.
func (cs *changeSet) trackFrom(doc *Document, before Document) {
	if _, ok := cs.byID[doc.ID]; ok {
		return
	}
	cs.byID[doc.ID] = &change{doc: doc, before: before}
	cs.order = append(cs.order, doc.ID)
}

// tracked returns the tracked instance of a document, if any.
func (cs *changeSet) tracked(docID id.ID) (*Document, bool) {
	c, ok := cs.byID[docID]
	if !ok {
		return nil, false
	}
	return c.doc, true
}

func (cs *changeSet) markCascade(docID id.ID) {
	if c, ok := cs.byID[docID]; ok {
		c.cascade = true
	}
}

func (cs *changeSet) changes() []*change {
	out := make([]*change, 0, len(cs.order))
	for _, docID := range cs.order {
		out = append(out, cs.byID[docID])
	}
	return out
}

// documentSet keeps one instance per document for a whole invocation, so a
// write made while handling one transaction is seen by every later one.
type documentSet struct {
	byID map[id.ID]*Document
}

func newDocumentSet(docs []*Document) *documentSet {
	ds := &documentSet{byID: make(map[id.ID]*Document, len(docs))}
	for _, doc := range docs {
		ds.adopt(doc)
	}
	return ds
}

// adopt returns the invocation's instance of doc, registering doc when it is new.
func (ds *documentSet) adopt(doc *Document) *Document {
	if known, ok := ds.byID[doc.ID]; ok {
		return known
	}
	ds.byID[doc.ID] = doc
	return doc
}

// sameSubmission compares the submission attributes of two snapshots.
func sameSubmission(a, b Document) bool {
	return a.State == b.State &&
		a.ChainIndex == b.ChainIndex &&
		sameID(a.ChainBaseID, b.ChainBaseID) &&
		a.TransactionReference == b.TransactionReference &&
		a.BatchIndex == b.BatchIndex &&
		a.Messages.Equal(b.Messages) &&
		sameTime(a, b) &&
		bytes.Equal(a.Payload, b.Payload)
}

func sameID(a, b *id.ID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameTime(a, b Document) bool {
	if a.LastSubmissionAt == nil || b.LastSubmissionAt == nil {
		return a.LastSubmissionAt == b.LastSubmissionAt
	}
	return a.LastSubmissionAt.Equal(*b.LastSubmissionAt)
}

// persist writes every changed document of cs in one transaction together
// with its state-change event, then records the outcomes in report.
// Unchanged documents are reported but not written.
func (s *Service) persist(ctx context.Context, report *Report, cs *changeSet) error {
	changes := cs.changes()

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, c := range changes {
			if sameSubmission(c.before, *c.doc) {
				continue
			}
			if !c.cascade && !c.before.State.CanTransitionTo(c.doc.State) {
				return apperror.NewInternal(fmt.Errorf("illegal transition %s -> %s", c.before.State, c.doc.State)).
					WithDetail("document_id", c.doc.ID.String())
			}
			if err := s.repo.SaveSubmission(ctx, c.doc); err != nil {
				return fmt.Errorf("save submission of %s: %w", c.doc.ID, err)
			}
			if s.events == nil {
				continue
			}
			event := StateChange{
				DocumentID: c.doc.ID,
				TenantID:   c.doc.TenantID,
				Operation:  report.Operation,
				From:       c.before.State,
				To:         c.doc.State,
				Reference:  c.doc.TransactionReference,
				Message:    c.doc.Messages,
				At:         s.now(),
			}
			if err := s.events.PublishStateChange(ctx, event); err != nil {
				return fmt.Errorf("publish state change of %s: %w", c.doc.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, c := range changes {
		report.Processed++
		report.Outcomes = append(report.Outcomes, DocumentOutcome{
			DocumentID: c.doc.ID,
			TenantID:   c.doc.TenantID,
			From:       c.before.State,
			To:         c.doc.State,
			Reference:  c.doc.TransactionReference,
			ChainIndex: c.doc.ChainIndex,
			Message:    c.doc.Messages,
		})
	}
	return nil
}
