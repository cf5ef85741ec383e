package dto

import (
	"time"

	"taxlink/internal/domain/submission"
	"taxlink/internal/infrastructure/storage/postgres"
)

// DocumentIDsRequest selects documents for an interactive run.
type DocumentIDsRequest struct {
	DocumentIDs []string `json:"documentIds" binding:"required,min=1,max=1000,dive,uuid"`
}

// CancelRequest asks for annulment of accepted documents.
type CancelRequest struct {
	DocumentIDs []string `json:"documentIds" binding:"required,min=1,max=1000,dive,uuid"`
	Code        string   `json:"code" binding:"required"`
	Reason      string   `json:"reason" binding:"required,max=1024"`
}

// RunPendingRequest triggers a scheduled-style run over waiting documents.
type RunPendingRequest struct {
	Operation string `json:"operation" binding:"required,oneof=upload poll"`
	Limit     int    `json:"limit" binding:"omitempty,min=1,max=10000"`
}

// DocumentResponse is the submission view of one document.
type DocumentResponse struct {
	ID                   string                        `json:"id"`
	TenantID             string                        `json:"tenantId"`
	Name                 string                        `json:"name"`
	ParentID             *string                       `json:"parentId,omitempty"`
	State                submission.State              `json:"state"`
	ChainIndex           int                           `json:"chainIndex"`
	ChainBaseID          *string                       `json:"chainBaseId,omitempty"`
	TransactionReference string                        `json:"transactionReference,omitempty"`
	BatchIndex           int                           `json:"batchIndex,omitempty"`
	Messages             submission.TransactionMessage `json:"messages"`
	LastSubmissionAt     *time.Time                    `json:"lastSubmissionAt,omitempty"`
	Version              int                           `json:"version"`
}

// FromDocument creates DocumentResponse from a submission document.
func FromDocument(d *submission.Document) DocumentResponse {
	resp := DocumentResponse{
		ID:                   d.ID.String(),
		TenantID:             d.TenantID,
		Name:                 d.Name,
		State:                d.State,
		ChainIndex:           d.ChainIndex,
		TransactionReference: d.TransactionReference,
		BatchIndex:           d.BatchIndex,
		Messages:             d.Messages,
		LastSubmissionAt:     d.LastSubmissionAt,
		Version:              d.Version,
	}
	if p := d.ParentID(); p != nil {
		s := p.String()
		resp.ParentID = &s
	}
	if d.ChainBaseID != nil {
		s := d.ChainBaseID.String()
		resp.ChainBaseID = &s
	}
	return resp
}

// ArchiveEntryResponse is one archived payload. Payload is base64 in JSON.
type ArchiveEntryResponse struct {
	ID                   string    `json:"id"`
	State                string    `json:"state"`
	TransactionReference string    `json:"transactionReference,omitempty"`
	ChainIndex           int       `json:"chainIndex"`
	Payload              []byte    `json:"payload"`
	ArchivedAt           time.Time `json:"archivedAt"`
}

// FromArchive converts archived payloads.
func FromArchive(entries []postgres.ArchivedPayload) []ArchiveEntryResponse {
	out := make([]ArchiveEntryResponse, len(entries))
	for i, e := range entries {
		out[i] = ArchiveEntryResponse{
			ID:                   e.ID.String(),
			State:                e.State,
			TransactionReference: e.TransactionReference,
			ChainIndex:           e.ChainIndex,
			Payload:              e.Payload,
			ArchivedAt:           e.ArchivedAt,
		}
	}
	return out
}
