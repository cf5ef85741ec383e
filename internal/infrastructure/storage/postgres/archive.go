package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	"taxlink/internal/core/id"
	"taxlink/internal/domain/submission"
)

// CompressionAlgo specifies the compression algorithm of an archived payload.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// ArchivedPayload is a payload kept before a cancelled document was resubmitted.
type ArchivedPayload struct {
	ID                   id.ID           `db:"id" json:"id"`
	DocumentID           id.ID           `db:"document_id" json:"documentId"`
	TenantID             string          `db:"tenant_id" json:"tenantId"`
	State                string          `db:"submission_state" json:"state"`
	TransactionReference string          `db:"transaction_reference" json:"transactionReference,omitempty"`
	ChainIndex           int             `db:"chain_index" json:"chainIndex"`
	Payload              []byte          `db:"payload" json:"payload"`
	CompressionAlgo      CompressionAlgo `db:"compression_algo" json:"-"`
	ArchivedAt           time.Time       `db:"archived_at" json:"archivedAt"`
}

// PayloadArchive stores previous submission payloads, zstd-compressed above a threshold.
type PayloadArchive struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
	now               func() time.Time
}

var _ submission.AttachmentStore = (*PayloadArchive)(nil)

// NewPayloadArchive creates a payload archive.
func NewPayloadArchive(txManager *TxManager) (*PayloadArchive, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &PayloadArchive{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 1024,
		now:               time.Now,
	}, nil
}

// compress returns the stored form of payload.
func (a *PayloadArchive) compress(payload []byte) ([]byte, CompressionAlgo) {
	if len(payload) <= a.compressThreshold {
		return payload, CompressionNone
	}
	return a.encoder.EncodeAll(payload, nil), CompressionZstd
}

// decompress restores an archived payload.
func (a *PayloadArchive) decompress(stored []byte, algo CompressionAlgo) ([]byte, error) {
	if algo != CompressionZstd {
		return stored, nil
	}
	out, err := a.decoder.DecodeAll(stored, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return out, nil
}

// ArchivePrevious implements submission.AttachmentStore.
// Documents that were never rendered have nothing to archive.
func (a *PayloadArchive) ArchivePrevious(ctx context.Context, doc *submission.Document) error {
	if len(doc.Payload) == 0 {
		return nil
	}
	stored, algo := a.compress(doc.Payload)

	_, err := a.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO submission_archive (
			id, document_id, tenant_id, submission_state, transaction_reference,
			chain_index, payload, compression_algo, archived_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id.New(), doc.ID, doc.TenantID, doc.State, doc.TransactionReference,
		doc.ChainIndex, stored, algo, a.now().UTC())
	if err != nil {
		return fmt.Errorf("archive payload of %s: %w", doc.ID, err)
	}
	return nil
}

// History returns the archived payloads of a document, newest first.
func (a *PayloadArchive) History(ctx context.Context, docID id.ID, limit int) ([]ArchivedPayload, error) {
	var entries []ArchivedPayload
	err := pgxscan.Select(ctx, a.txManager.GetQuerier(ctx), &entries, `
		SELECT id, document_id, tenant_id, submission_state, transaction_reference,
		       chain_index, payload, compression_algo, archived_at
		FROM submission_archive
		WHERE document_id = $1
		ORDER BY archived_at DESC
		LIMIT $2
	`, docID, limit)
	if err != nil {
		return nil, fmt.Errorf("query archive of %s: %w", docID, err)
	}

	for i := range entries {
		payload, err := a.decompress(entries[i].Payload, entries[i].CompressionAlgo)
		if err != nil {
			return nil, err
		}
		entries[i].Payload = payload
		entries[i].CompressionAlgo = CompressionNone
	}
	return entries, nil
}
