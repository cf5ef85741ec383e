package submission

import (
	"context"
	"fmt"
	"slices"
	"time"

	"taxlink/internal/core/apperror"
	appctx "taxlink/internal/core/context"
	"taxlink/internal/core/id"
	"taxlink/internal/core/tenant"
	"taxlink/internal/core/tx"
	"taxlink/pkg/logger"
)

// Operation names used in reports, events and errors.
const (
	OpUpload   = "upload"
	OpPoll     = "query_status"
	OpCancel   = "request_cancel"
	OpRecovery = "recover_timeout"
)

// Default timeout recovery bounds.
const (
	DefaultRecoveryWindow = 10 * time.Minute
	DefaultRecoveryGrace  = 15 * time.Minute
)

// Config tunes the pipelines.
type Config struct {
	BatchSize      int
	RecoveryWindow time.Duration
	RecoveryGrace  time.Duration
}

// Dependencies are the collaborators of Service.
type Dependencies struct {
	Repo        Repository
	TxManager   tx.Manager
	Authority   Authority
	Tenants     tenant.Registry
	Renderer    Renderer
	Attachments AttachmentStore // optional
	Postable    Postable        // optional, every document is postable when nil
	Events      EventPublisher  // optional
	Now         func() time.Time
}

// Service runs the upload, poll and cancel pipelines.
// Each call is synchronous: a batch is fully written before the next one starts.
type Service struct {
	repo        Repository
	txManager   tx.Manager
	authority   Authority
	tenants     tenant.Registry
	renderer    Renderer
	attachments AttachmentStore
	postable    Postable
	events      EventPublisher
	indexer     *ChainIndexer
	now         func() time.Time
	cfg         Config
}

// NewService creates a submission service.
func NewService(deps Dependencies, cfg Config) *Service {
	cfg.BatchSize = ClampBatchSize(cfg.BatchSize)
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = DefaultRecoveryWindow
	}
	if cfg.RecoveryGrace <= 0 {
		cfg.RecoveryGrace = DefaultRecoveryGrace
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:        deps.Repo,
		txManager:   deps.TxManager,
		authority:   deps.Authority,
		tenants:     deps.Tenants,
		renderer:    deps.Renderer,
		attachments: deps.Attachments,
		postable:    deps.Postable,
		events:      deps.Events,
		indexer:     NewChainIndexer(deps.Repo, deps.TxManager),
		now:         func() time.Time { return now().UTC() },
		cfg:         cfg,
	}
}

// DocumentOutcome is the result of one operation on one document.
type DocumentOutcome struct {
	DocumentID id.ID              `json:"documentId"`
	TenantID   string             `json:"tenantId"`
	From       State              `json:"from"`
	To         State              `json:"to"`
	Reference  string             `json:"reference,omitempty"`
	ChainIndex int                `json:"chainIndex"`
	Message    TransactionMessage `json:"message"`
}

// Report summarizes one invocation.
type Report struct {
	Operation string            `json:"operation"`
	Processed int               `json:"processed"`
	Skipped   []id.ID           `json:"skipped,omitempty"`
	Outcomes  []DocumentOutcome `json:"outcomes"`
}

func newReport(operation string) *Report {
	return &Report{Operation: operation, Outcomes: []DocumentOutcome{}}
}

// Blocked returns the outcomes whose message stops dependent actions.
func (r *Report) Blocked() []DocumentOutcome {
	var out []DocumentOutcome
	for _, o := range r.Outcomes {
		if o.Message.IsBlocking() {
			out = append(out, o)
		}
	}
	return out
}

func (r *Report) merge(other *Report) {
	r.Processed += other.Processed
	r.Skipped = append(r.Skipped, other.Skipped...)
	r.Outcomes = append(r.Outcomes, other.Outcomes...)
}

// finish applies the invocation mode: scheduled runs log blocking outcomes,
// interactive runs turn them into an error.
func (s *Service) finish(ctx context.Context, report *Report) (*Report, error) {
	blocked := report.Blocked()
	if len(blocked) == 0 {
		return report, nil
	}

	ids := make([]string, len(blocked))
	for i, o := range blocked {
		ids[i] = o.DocumentID.String()
	}

	if appctx.IsInteractive(ctx) {
		return report, apperror.NewBlocking(report.Operation, ids)
	}

	log := logger.FromContext(ctx)
	for _, o := range blocked {
		log.Errorw("submission blocked",
			"operation", report.Operation,
			"document_id", o.DocumentID,
			"tenant_id", o.TenantID,
			"state", o.To,
			"title", o.Message.Title,
			"errors", o.Message.Errors,
		)
	}
	return report, nil
}

// load fetches documents in ascending id order. Interactive callers get
// NotFound for unknown ids.
func (s *Service) load(ctx context.Context, ids []id.ID) ([]*Document, error) {
	ids = id.SortAscending(slices.Clone(ids))
	docs, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	if appctx.IsInteractive(ctx) && len(docs) != len(ids) {
		found := make(map[id.ID]struct{}, len(docs))
		for _, d := range docs {
			found[d.ID] = struct{}{}
		}
		for _, want := range ids {
			if _, ok := found[want]; !ok {
				return nil, apperror.NewNotFound("document", want.String())
			}
		}
	}
	sortDocuments(docs)
	return docs, nil
}

// filterEligible keeps documents accepted by keep. Interactive callers get
// NotEligible for the first rejected document; scheduled ones skip it.
func (s *Service) filterEligible(ctx context.Context, report *Report, docs []*Document, keep func(*Document) (bool, error)) ([]*Document, error) {
	out := make([]*Document, 0, len(docs))
	for _, doc := range docs {
		ok, err := keep(doc)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, doc)
			continue
		}
		if appctx.IsInteractive(ctx) {
			return nil, apperror.NewNotEligible(report.Operation, doc.ID.String(), string(doc.State))
		}
		logger.Debug(ctx, "document skipped", "operation", report.Operation, "document_id", doc.ID, "state", doc.State)
		report.Skipped = append(report.Skipped, doc.ID)
	}
	return out, nil
}

// credentials resolves complete authority credentials for a tenant.
func (s *Service) credentials(ctx context.Context, tenantID string) (tenant.Credentials, error) {
	creds, err := tenant.CredentialsFor(ctx, s.tenants, tenantID)
	if err != nil {
		return tenant.Credentials{}, err
	}
	if err := creds.Validate(); err != nil {
		return tenant.Credentials{}, err
	}
	return creds, nil
}

func sortDocuments(docs []*Document) {
	slices.SortFunc(docs, func(a, b *Document) int { return id.Compare(a.ID, b.ID) })
}
