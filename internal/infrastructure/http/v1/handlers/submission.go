package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"taxlink/internal/core/apperror"
	appctx "taxlink/internal/core/context"
	"taxlink/internal/core/id"
	"taxlink/internal/core/tenant"
	"taxlink/internal/domain/submission"
	"taxlink/internal/infrastructure/http/v1/dto"
)

// Default number of documents handled by a pending run.
const defaultPendingLimit = 500

// SubmissionRunner is the pipeline surface used by the API.
type SubmissionRunner interface {
	Upload(ctx context.Context, ids []id.ID) (*submission.Report, error)
	UploadPending(ctx context.Context, limit int) (*submission.Report, error)
	Poll(ctx context.Context, ids []id.ID) (*submission.Report, error)
	PollPending(ctx context.Context, limit int) (*submission.Report, error)
	RequestCancel(ctx context.Context, req submission.CancelRequest) (*submission.Report, error)
	RecoverTimeouts(ctx context.Context, ids []id.ID) (*submission.Report, error)
}

var _ SubmissionRunner = (*submission.Service)(nil)

// DocumentReader loads documents for authorization and display.
type DocumentReader interface {
	GetByID(ctx context.Context, docID id.ID) (*submission.Document, error)
	ListByIDs(ctx context.Context, ids []id.ID) ([]*submission.Document, error)
}

// SubmissionHandler starts interactive pipeline runs.
type SubmissionHandler struct {
	*BaseHandler
	runner SubmissionRunner
	docs   DocumentReader
}

// NewSubmissionHandler creates a new submission handler.
func NewSubmissionHandler(base *BaseHandler, runner SubmissionRunner, docs DocumentReader) *SubmissionHandler {
	return &SubmissionHandler{BaseHandler: base, runner: runner, docs: docs}
}

// RegisterRoutes registers the submission endpoints on rg.
func (h *SubmissionHandler) RegisterRoutes(rg *gin.RouterGroup, admin ...gin.HandlerFunc) {
	rg.POST("/upload", h.Upload)
	rg.POST("/poll", h.Poll)
	rg.POST("/cancel", h.Cancel)
	rg.POST("/recover", h.Recover)
	rg.POST("/run", append(admin, h.RunPending)...)
}

// Upload handles POST /submissions/upload
func (h *SubmissionHandler) Upload(c *gin.Context) {
	h.runForIDs(c, h.runner.Upload)
}

// Poll handles POST /submissions/poll
func (h *SubmissionHandler) Poll(c *gin.Context) {
	h.runForIDs(c, h.runner.Poll)
}

// Recover handles POST /submissions/recover
func (h *SubmissionHandler) Recover(c *gin.Context) {
	h.runForIDs(c, h.runner.RecoverTimeouts)
}

// Cancel handles POST /submissions/cancel
func (h *SubmissionHandler) Cancel(c *gin.Context) {
	var req dto.CancelRequest
	if !h.BindJSON(c, &req) {
		return
	}
	ids, err := dto.ParseIDs(req.DocumentIDs)
	if err != nil {
		h.Error(c, err)
		return
	}
	code, err := submission.ParseAnnulmentCode(req.Code)
	if err != nil {
		h.Error(c, err)
		return
	}

	ctx, err := h.interactive(c, ids)
	if err != nil {
		h.Error(c, err)
		return
	}

	report, err := h.runner.RequestCancel(ctx, submission.CancelRequest{
		DocumentIDs: ids,
		Code:        code,
		Reason:      req.Reason,
	})
	h.respond(c, report, err)
}

// RunPending handles POST /submissions/run. It runs the scheduled pipeline
// on demand, so blocking outcomes are reported but not returned as errors.
func (h *SubmissionHandler) RunPending(c *gin.Context) {
	var req dto.RunPendingRequest
	if !h.BindJSON(c, &req) {
		return
	}
	limit := req.Limit
	if limit == 0 {
		limit = defaultPendingLimit
	}

	ctx := appctx.WithMode(c.Request.Context(), appctx.ModeScheduled)

	var (
		report *submission.Report
		err    error
	)
	switch req.Operation {
	case "upload":
		report, err = h.runner.UploadPending(ctx, limit)
	case "poll":
		report, err = h.runner.PollPending(ctx, limit)
	}
	h.respond(c, report, err)
}

func (h *SubmissionHandler) runForIDs(c *gin.Context, run func(context.Context, []id.ID) (*submission.Report, error)) {
	var req dto.DocumentIDsRequest
	if !h.BindJSON(c, &req) {
		return
	}
	ids, err := dto.ParseIDs(req.DocumentIDs)
	if err != nil {
		h.Error(c, err)
		return
	}

	ctx, err := h.interactive(c, ids)
	if err != nil {
		h.Error(c, err)
		return
	}

	report, err := run(ctx, ids)
	h.respond(c, report, err)
}

// interactive checks that the operator may act for every tenant owning ids
// and returns the context of an interactive run.
func (h *SubmissionHandler) interactive(c *gin.Context, ids []id.ID) (context.Context, error) {
	ctx := c.Request.Context()

	docs, err := h.docs.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	tenants := make(map[string]struct{})
	for _, doc := range docs {
		if !appctx.CanActFor(ctx, doc.TenantID) {
			return nil, apperror.NewForbidden("operator may not act for this tenant").
				WithDetail("tenant_id", doc.TenantID).
				WithDetail("document_id", doc.ID.String())
		}
		tenants[doc.TenantID] = struct{}{}
	}
	if len(tenants) == 1 {
		ctx = tenant.WithTenantID(ctx, docs[0].TenantID)
	}

	return appctx.WithMode(ctx, appctx.ModeInteractive), nil
}

// respond sends the report; a blocking error carries the report in its details.
func (h *SubmissionHandler) respond(c *gin.Context, report *submission.Report, err error) {
	if err != nil {
		if appErr, ok := apperror.AsAppError(err); ok && appErr.Code == apperror.CodeBlocking && report != nil {
			appErr.WithDetail("report", report)
		}
		h.Error(c, err)
		return
	}
	h.OK(c, report)
}
