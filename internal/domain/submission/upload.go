package submission

import (
	"context"
	"errors"
	"fmt"

	"taxlink/internal/core/apperror"
	appctx "taxlink/internal/core/context"
	"taxlink/internal/core/id"
	"taxlink/pkg/logger"
)

// Upload message titles.
const (
	titleUploadTimeout   = "The authority did not answer in time; the upload will be checked on the next poll"
	titleUploadFailed    = "Upload failed"
	titleAuthFailed      = "Authentication at the authority failed"
	titleNoCredentials   = "Authority credentials are not available"
	titleRenderFailed    = "The invoice could not be rendered"
	titleArchiveFailed   = "The previous submission could not be archived"
	titleChainReparented = "The correction was moved to another chain after its index was assigned"
)

// Upload submits the given documents. Documents not in none, rejected or
// cancelled, or not postable, are skipped (scheduled) or refused (interactive).
// A chain lock conflict aborts the invocation with a retryable error; batches
// submitted before it keep their results.
func (s *Service) Upload(ctx context.Context, ids []id.ID) (*Report, error) {
	docs, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.upload(ctx, docs)
}

// UploadPending submits up to limit documents that were never submitted.
func (s *Service) UploadPending(ctx context.Context, limit int) (*Report, error) {
	docs, err := s.repo.ListByStates(ctx, []State{StateNone}, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents to upload: %w", err)
	}
	return s.upload(ctx, docs)
}

func (s *Service) upload(ctx context.Context, docs []*Document) (*Report, error) {
	ctx = logger.WithLogger(ctx, logger.FromContext(ctx).WithComponent("upload"))
	report := newReport(OpUpload)

	sortDocuments(docs)
	docs, err := s.filterEligible(ctx, report, docs, s.canUpload)
	if err != nil {
		return report, err
	}

	ready, err := s.prepareUpload(ctx, report, docs)
	if err != nil {
		return report, err
	}

	for _, batch := range GroupBatches(ready, s.cfg.BatchSize) {
		if err := s.uploadBatch(ctx, report, batch); err != nil {
			return report, err
		}
	}

	logger.Info(ctx, "upload finished", "processed", report.Processed, "skipped", len(report.Skipped))
	return s.finish(ctx, report)
}

func (s *Service) canUpload(doc *Document) (bool, error) {
	return doc.State.CanUpload(), nil
}

// prepareUpload archives, indexes and renders documents in ascending id order.
// Documents that cannot be prepared get a blocking message and keep their state.
func (s *Service) prepareUpload(ctx context.Context, report *Report, docs []*Document) ([]*Document, error) {
	ready := make([]*Document, 0, len(docs))
	failed := newChangeSet()

	for _, doc := range docs {
		if s.postable != nil {
			ok, err := s.postable.IsPostable(ctx, doc)
			if err != nil {
				return nil, fmt.Errorf("evaluate postable predicate for %s: %w", doc.ID, err)
			}
			if !ok {
				if err := s.refuse(ctx, report, doc); err != nil {
					return nil, err
				}
				continue
			}
		}

		before := doc.snapshot()
		msg, err := s.prepareOne(ctx, doc)
		if err != nil {
			// Lock conflicts abort the whole invocation; the failed set is still written.
			if perr := s.persist(ctx, report, failed); perr != nil {
				return nil, errors.Join(err, perr)
			}
			return nil, err
		}
		if msg != nil {
			failed.trackFrom(doc, before)
			doc.Messages = *msg
			continue
		}
		ready = append(ready, doc)
	}

	if err := s.persist(ctx, report, failed); err != nil {
		return nil, err
	}
	return ready, nil
}

func (s *Service) refuse(ctx context.Context, report *Report, doc *Document) error {
	if appctx.IsInteractive(ctx) {
		return apperror.NewNotEligible(report.Operation, doc.ID.String(), string(doc.State)).
			WithDetail("reason", "not postable")
	}
	logger.Debug(ctx, "document not postable", "document_id", doc.ID)
	report.Skipped = append(report.Skipped, doc.ID)
	return nil
}

// prepareOne returns a blocking message when the document must be skipped,
// or an error when the invocation must stop.
func (s *Service) prepareOne(ctx context.Context, doc *Document) (*TransactionMessage, error) {
	if doc.State == StateCancelled && s.attachments != nil {
		if err := s.attachments.ArchivePrevious(ctx, doc); err != nil {
			logger.Warn(ctx, "archive previous payload failed", "document_id", doc.ID, "error", err)
			msg := Blocking(titleArchiveFailed, err.Error())
			return &msg, nil
		}
	}

	if err := s.indexer.Assign(ctx, doc); err != nil {
		if apperror.HasCode(err, apperror.CodeChainReparented) {
			msg := Blocking(titleChainReparented, err.Error())
			return &msg, nil
		}
		return nil, err
	}

	payload, err := s.renderer.Render(ctx, doc)
	if err != nil {
		logger.Warn(ctx, "render failed", "document_id", doc.ID, "error", err)
		msg := Blocking(titleRenderFailed, err.Error())
		return &msg, nil
	}
	doc.Payload = payload
	return nil, nil
}

// uploadBatch authenticates, submits and writes one batch.
func (s *Service) uploadBatch(ctx context.Context, report *Report, batch Batch) error {
	cs := newChangeSet()
	for _, doc := range batch.Documents {
		cs.track(doc)
	}
	now := s.now()
	rejectAll := func(msg TransactionMessage) error {
		for _, doc := range batch.Documents {
			doc.reject(msg)
			doc.LastSubmissionAt = &now
		}
		return s.persist(ctx, report, cs)
	}

	creds, err := s.credentials(ctx, batch.TenantID)
	if err != nil {
		logger.Warn(ctx, "tenant credentials unavailable", "tenant_id", batch.TenantID, "error", err)
		return rejectAll(Blocking(titleNoCredentials, err.Error()))
	}

	ops := make([]InvoiceOperation, 0, len(batch.Documents))
	for i, doc := range batch.Documents {
		kind, err := s.operationKind(ctx, doc)
		if err != nil {
			return err
		}
		ops = append(ops, InvoiceOperation{Index: i + 1, Kind: kind, Payload: doc.Payload})
	}

	token, err := s.authority.Authenticate(ctx, creds)
	if err != nil {
		connErr := AsConnectionError(err)
		logger.Warn(ctx, "authentication failed", "tenant_id", batch.TenantID, "code", connErr.Code, "error", err)
		return rejectAll(Blocking(titleAuthFailed, connErr.messages()...))
	}

	reference, err := s.authority.SubmitBatch(ctx, creds, token, ops)
	now = s.now()
	if err != nil {
		connErr := AsConnectionError(err)
		if connErr.Code == ConnTimeout {
			logger.Warn(ctx, "batch submission timed out", "tenant_id", batch.TenantID, "documents", len(ops))
			for _, doc := range batch.Documents {
				doc.State = StateSendTimeout
				doc.clearTransaction()
				doc.Messages = Warning(titleUploadTimeout, connErr.messages()...)
				doc.LastSubmissionAt = &now
			}
			return s.persist(ctx, report, cs)
		}
		logger.Warn(ctx, "batch submission failed", "tenant_id", batch.TenantID, "code", connErr.Code, "error", err)
		return rejectAll(Blocking(titleUploadFailed, connErr.messages()...))
	}

	logger.Info(ctx, "batch submitted", "tenant_id", batch.TenantID, "reference", reference, "documents", len(ops))
	for i, doc := range batch.Documents {
		doc.State = StateSent
		doc.TransactionReference = reference
		doc.BatchIndex = i + 1
		doc.Messages = Info(titleWaiting)
		doc.LastSubmissionAt = &now
	}
	return s.persist(ctx, report, cs)
}

// operationKind loads the chain of a correction to classify it.
func (s *Service) operationKind(ctx context.Context, doc *Document) (OperationKind, error) {
	if doc.IsBase() {
		return OperationCreate, nil
	}
	base, err := ResolveBase(ctx, s.repo, doc)
	if err != nil {
		return "", err
	}
	members, err := ChainMembers(ctx, s.repo, base)
	if err != nil {
		return "", err
	}
	return OperationKindFor(doc, members), nil
}
