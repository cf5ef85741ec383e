package submission

import (
	"context"
	"time"

	"taxlink/internal/core/id"
	"taxlink/internal/core/tenant"
)

// Repository persists documents and their submission attributes.
type Repository interface {
	// GetByID retrieves a document.
	GetByID(ctx context.Context, docID id.ID) (*Document, error)

	// ListByIDs returns the documents in ascending id order. Unknown ids are skipped.
	ListByIDs(ctx context.Context, ids []id.ID) ([]*Document, error)

	// ListCorrections returns documents whose reversal or debit-origin link points at one of parentIDs.
	ListCorrections(ctx context.Context, parentIDs []id.ID) ([]*Document, error)

	// ListByTransaction returns the tenant's documents carrying the reference and in one of states.
	ListByTransaction(ctx context.Context, tenantID, reference string, states []State) ([]*Document, error)

	// ListByStates returns up to limit documents in one of states, ascending id order.
	ListByStates(ctx context.Context, states []State, limit int) ([]*Document, error)

	// LockChainBase takes an exclusive lock on the base document without waiting.
	// Must run inside a transaction; the lock is released when it ends.
	// Returns an apperror with CodeLockConflict when the row is already locked.
	LockChainBase(ctx context.Context, baseID id.ID) error

	// SaveSubmission writes the submission attributes of doc and refreshes doc.Version.
	SaveSubmission(ctx context.Context, doc *Document) error
}

// Renderer turns a document into its submission payload.
type Renderer interface {
	Render(ctx context.Context, doc *Document) ([]byte, error)
}

// AttachmentStore keeps the previously submitted payload before a cancelled document is resubmitted.
type AttachmentStore interface {
	ArchivePrevious(ctx context.Context, doc *Document) error
}

// Postable decides whether a document may be reported at all.
type Postable interface {
	IsPostable(ctx context.Context, doc *Document) (bool, error)
}

// PostableFunc adapts a function to Postable.
type PostableFunc func(ctx context.Context, doc *Document) (bool, error)

// IsPostable implements Postable.
func (f PostableFunc) IsPostable(ctx context.Context, doc *Document) (bool, error) {
	return f(ctx, doc)
}

// StateChange is emitted for every persisted submission write.
type StateChange struct {
	DocumentID id.ID              `json:"documentId"`
	TenantID   string             `json:"tenantId"`
	Operation  string             `json:"operation"`
	From       State              `json:"from"`
	To         State              `json:"to"`
	Reference  string             `json:"reference,omitempty"`
	Message    TransactionMessage `json:"message"`
	At         time.Time          `json:"at"`
}

// EventPublisher records state changes in the same transaction as the write.
type EventPublisher interface {
	PublishStateChange(ctx context.Context, change StateChange) error
}

// --- Authority connection ---

// OperationKind is the kind of report sent for one invoice.
type OperationKind string

const (
	OperationCreate OperationKind = "CREATE"
	OperationModify OperationKind = "MODIFY"
	OperationStorno OperationKind = "STORNO"
)

// InvoiceOperation is one item of an upload batch.
type InvoiceOperation struct {
	Index   int
	Kind    OperationKind
	Payload []byte
}

// AnnulmentOperation is one item of an annulment batch.
type AnnulmentOperation struct {
	Index         int
	ReferenceName string
	Code          AnnulmentCode
	Reason        string
}

// AnnulmentCode is the authority's reason category for an annulment.
type AnnulmentCode string

const (
	AnnulErraticData          AnnulmentCode = "ERRATIC_DATA"
	AnnulErraticInvoiceNumber AnnulmentCode = "ERRATIC_INVOICE_NUMBER"
	AnnulErraticIssueDate     AnnulmentCode = "ERRATIC_INVOICE_ISSUE_DATE"
	AnnulErraticHashValue     AnnulmentCode = "ERRATIC_ELECTRONIC_HASH_VALUE"
)

// InvoiceStatus is the processing status of one item of a transaction.
type InvoiceStatus string

const (
	InvoiceReceived   InvoiceStatus = "RECEIVED"
	InvoiceProcessing InvoiceStatus = "PROCESSING"
	InvoiceSaved      InvoiceStatus = "SAVED"
	InvoiceDone       InvoiceStatus = "DONE"
	InvoiceAborted    InvoiceStatus = "ABORTED"
)

// IsProcessing reports whether the authority has not finished the item yet.
func (s InvoiceStatus) IsProcessing() bool {
	return s == InvoiceReceived || s == InvoiceProcessing || s == InvoiceSaved
}

// AnnulmentStatus is the verification status of an annulment transaction.
// The empty value means the transaction carries no annulment.
type AnnulmentStatus string

const (
	AnnulmentNone                 AnnulmentStatus = ""
	AnnulmentNotVerifiable        AnnulmentStatus = "NOT_VERIFIABLE"
	AnnulmentVerificationPending  AnnulmentStatus = "VERIFICATION_PENDING"
	AnnulmentVerificationDone     AnnulmentStatus = "VERIFICATION_DONE"
	AnnulmentVerificationRejected AnnulmentStatus = "VERIFICATION_REJECTED"
)

// StatusResult is the authority's verdict on one item of a transaction.
type StatusResult struct {
	Index             int
	Status            InvoiceStatus
	BusinessMessages  []string
	TechnicalMessages []string
	// DocumentName is only filled when the original request was echoed back.
	DocumentName string
}

// Messages returns technical then business messages.
func (r StatusResult) Messages() []string {
	out := make([]string, 0, len(r.TechnicalMessages)+len(r.BusinessMessages))
	out = append(out, r.TechnicalMessages...)
	return append(out, r.BusinessMessages...)
}

// StatusReport is the answer to a transaction status query.
type StatusReport struct {
	Results         []StatusResult
	AnnulmentStatus AnnulmentStatus
}

// TransactionSummary is one entry of the tenant's transaction list.
type TransactionSummary struct {
	Reference   string
	SubmittedAt time.Time
	Annulment   bool
}

// Token is a short-lived exchange token authorizing one batch submission.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Authority is the tax authority's real-time invoice-reporting API.
type Authority interface {
	Authenticate(ctx context.Context, creds tenant.Credentials) (Token, error)
	SubmitBatch(ctx context.Context, creds tenant.Credentials, token Token, ops []InvoiceOperation) (string, error)
	QueryStatus(ctx context.Context, creds tenant.Credentials, reference string, withOriginalRequest bool) (*StatusReport, error)
	SubmitCancellation(ctx context.Context, creds tenant.Credentials, token Token, ops []AnnulmentOperation) (string, error)
	ListTransactions(ctx context.Context, creds tenant.Credentials, from, to time.Time) ([]TransactionSummary, error)
}
