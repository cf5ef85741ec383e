package submission

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"taxlink/internal/core/apperror"
	"taxlink/internal/core/id"
	"taxlink/pkg/logger"
)

const (
	titleCancelTimeout    = "The authority did not answer in time; the annulment will be checked on the next poll"
	titleCancelFailed     = "Annulment request failed"
	titleCancelAuthFailed = "Authentication at the authority failed; annulment not requested"
)

// CancelRequest asks the authority to annul accepted documents.
type CancelRequest struct {
	DocumentIDs []id.ID       `validate:"required,min=1"`
	Code        AnnulmentCode `validate:"required,oneof=ERRATIC_DATA ERRATIC_INVOICE_NUMBER ERRATIC_INVOICE_ISSUE_DATE ERRATIC_ELECTRONIC_HASH_VALUE"`
	Reason      string        `validate:"required,max=1024"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the request before anything is sent.
func (r CancelRequest) Validate() error {
	r.Reason = strings.TrimSpace(r.Reason)
	if err := validate.Struct(r); err != nil {
		appErr := apperror.NewValidation("invalid cancellation request")
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				appErr.WithDetail(fe.Field(), fe.Tag())
			}
		}
		return appErr.WithCause(err)
	}
	return nil
}

// RequestCancel submits annulment requests for confirmed documents.
// Authentication and submission failures leave the state unchanged with a warning.
func (s *Service) RequestCancel(ctx context.Context, req CancelRequest) (*Report, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx = logger.WithLogger(ctx, logger.FromContext(ctx).WithComponent("cancel"))
	report := newReport(OpCancel)

	docs, err := s.load(ctx, req.DocumentIDs)
	if err != nil {
		return report, err
	}
	docs, err = s.filterEligible(ctx, report, docs, func(d *Document) (bool, error) {
		return d.State.CanRequestCancel(), nil
	})
	if err != nil {
		return report, err
	}

	reason := strings.TrimSpace(req.Reason)
	for _, batch := range GroupBatches(docs, s.cfg.BatchSize) {
		if err := s.cancelBatch(ctx, report, batch, req.Code, reason); err != nil {
			return report, err
		}
	}

	logger.Info(ctx, "cancellation finished", "processed", report.Processed, "skipped", len(report.Skipped))
	return s.finish(ctx, report)
}

func (s *Service) cancelBatch(ctx context.Context, report *Report, batch Batch, code AnnulmentCode, reason string) error {
	cs := newChangeSet()
	ops := make([]AnnulmentOperation, 0, len(batch.Documents))
	for i, doc := range batch.Documents {
		cs.track(doc)
		ops = append(ops, AnnulmentOperation{Index: i + 1, ReferenceName: doc.Name, Code: code, Reason: reason})
	}
	warnAll := func(title string, errs []string) error {
		for _, doc := range batch.Documents {
			doc.Messages = Warning(title, errs...)
		}
		return s.persist(ctx, report, cs)
	}

	creds, err := s.credentials(ctx, batch.TenantID)
	if err != nil {
		return warnAll(titleNoCredentials, []string{err.Error()})
	}

	token, err := s.authority.Authenticate(ctx, creds)
	if err != nil {
		connErr := AsConnectionError(err)
		logger.Warn(ctx, "authentication failed", "tenant_id", batch.TenantID, "code", connErr.Code, "error", err)
		return warnAll(titleCancelAuthFailed, connErr.messages())
	}

	reference, err := s.authority.SubmitCancellation(ctx, creds, token, ops)
	now := s.now()
	if err != nil {
		connErr := AsConnectionError(err)
		if connErr.Code != ConnTimeout {
			logger.Warn(ctx, "annulment submission failed", "tenant_id", batch.TenantID, "code", connErr.Code, "error", err)
			return warnAll(titleCancelFailed, connErr.messages())
		}
		logger.Warn(ctx, "annulment submission timed out", "tenant_id", batch.TenantID, "documents", len(ops))
		for _, doc := range batch.Documents {
			doc.State = StateCancelTimeout
			doc.clearTransaction()
			doc.Messages = Warning(titleCancelTimeout, connErr.messages()...)
			doc.LastSubmissionAt = &now
		}
		return s.persist(ctx, report, cs)
	}

	logger.Info(ctx, "annulment submitted", "tenant_id", batch.TenantID, "reference", reference, "documents", len(ops))
	for i, doc := range batch.Documents {
		doc.State = StateCancelSent
		doc.TransactionReference = reference
		doc.BatchIndex = i + 1
		doc.Messages = Info(titleAnnulWaiting)
		doc.LastSubmissionAt = &now
	}
	return s.persist(ctx, report, cs)
}

// ParseAnnulmentCode accepts a code in any letter case.
func ParseAnnulmentCode(s string) (AnnulmentCode, error) {
	code := AnnulmentCode(strings.ToUpper(strings.TrimSpace(s)))
	switch code {
	case AnnulErraticData, AnnulErraticInvoiceNumber, AnnulErraticIssueDate, AnnulErraticHashValue:
		return code, nil
	}
	return "", apperror.NewValidation(fmt.Sprintf("unknown annulment code %q", s)).WithDetail("code", s)
}
