package submission

import (
	"time"

	"github.com/shopspring/decimal"

	"taxlink/internal/core/id"
)

// Document is one outgoing invoice or correction as seen by the submission subsystem.
// Fields below State are submission attributes owned by this package.
type Document struct {
	ID             id.ID           `db:"id" json:"id"`
	TenantID       string          `db:"tenant_id" json:"tenantId"`
	Name           string          `db:"name" json:"name"`
	ReversedID     *id.ID          `db:"reversed_id" json:"reversedId,omitempty"`
	DebitOriginID  *id.ID          `db:"debit_origin_id" json:"debitOriginId,omitempty"`
	AmountResidual decimal.Decimal `db:"amount_residual" json:"amountResidual"`

	State                State              `db:"submission_state" json:"state"`
	ChainIndex           int                `db:"chain_index" json:"chainIndex"`
	ChainBaseID          *id.ID             `db:"chain_base_id" json:"chainBaseId,omitempty"`
	TransactionReference string             `db:"transaction_reference" json:"transactionReference,omitempty"`
	BatchIndex           int                `db:"batch_index" json:"batchIndex,omitempty"`
	Messages             TransactionMessage `db:"submission_messages" json:"messages"`
	LastSubmissionAt     *time.Time         `db:"last_submission_at" json:"lastSubmissionAt,omitempty"`
	Payload              []byte             `db:"submission_payload" json:"-"`
	Version              int                `db:"version" json:"version"`
}

// IsBase reports whether the document has no correction link.
func (d *Document) IsBase() bool {
	return d.ParentID() == nil
}

// ParentID returns the document this one corrects, or nil for a base document.
func (d *Document) ParentID() *id.ID {
	if d.ReversedID != nil && !id.IsNil(*d.ReversedID) {
		return d.ReversedID
	}
	if d.DebitOriginID != nil && !id.IsNil(*d.DebitOriginID) {
		return d.DebitOriginID
	}
	return nil
}

// clearTransaction forgets the last authority transaction.
func (d *Document) clearTransaction() {
	d.TransactionReference = ""
	d.BatchIndex = 0
}

// voidChainIndex releases the positive chain index.
func (d *Document) voidChainIndex() {
	d.ChainIndex = 0
	d.ChainBaseID = nil
}

// reject moves the document to the terminal rejected state.
func (d *Document) reject(msg TransactionMessage) {
	d.State = StateRejected
	d.Messages = msg
	d.clearTransaction()
	d.voidChainIndex()
}

// cancel moves the document to the terminal cancelled state.
func (d *Document) cancel(msg TransactionMessage) {
	d.State = StateCancelled
	d.Messages = msg
	d.clearTransaction()
	d.voidChainIndex()
}

// snapshot returns a shallow copy used to detect changes.
func (d *Document) snapshot() Document {
	return *d
}
