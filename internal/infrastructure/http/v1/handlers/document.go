package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"taxlink/internal/core/apperror"
	appctx "taxlink/internal/core/context"
	"taxlink/internal/core/id"
	"taxlink/internal/domain/submission"
	"taxlink/internal/infrastructure/http/v1/dto"
	"taxlink/internal/infrastructure/storage/postgres"
)

// ArchiveReader lists archived payloads of a document.
type ArchiveReader interface {
	History(ctx context.Context, docID id.ID, limit int) ([]postgres.ArchivedPayload, error)
}

// DocumentHandler exposes the submission view of documents.
type DocumentHandler struct {
	*BaseHandler
	docs    DocumentReader
	archive ArchiveReader
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(base *BaseHandler, docs DocumentReader, archive ArchiveReader) *DocumentHandler {
	return &DocumentHandler{BaseHandler: base, docs: docs, archive: archive}
}

// Get handles GET /documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.FromDocument(doc))
}

// History handles GET /documents/:id/archive
func (h *DocumentHandler) History(c *gin.Context) {
	doc, ok := h.load(c)
	if !ok {
		return
	}
	if h.archive == nil {
		c.JSON(http.StatusOK, []dto.ArchiveEntryResponse{})
		return
	}

	limit := h.ParseIntQuery(c, "limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	entries, err := h.archive.History(c.Request.Context(), doc.ID, limit)
	if err != nil {
		h.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromArchive(entries))
}

func (h *DocumentHandler) load(c *gin.Context) (*submission.Document, bool) {
	docID, err := id.Parse(c.Param("id"))
	if err != nil {
		h.Error(c, apperror.NewValidation("invalid document id").WithDetail("id", c.Param("id")))
		return nil, false
	}

	ctx := c.Request.Context()
	doc, err := h.docs.GetByID(ctx, docID)
	if err != nil {
		h.Error(c, err)
		return nil, false
	}
	if !appctx.CanActFor(ctx, doc.TenantID) {
		// Foreign documents look like missing ones.
		h.Error(c, apperror.NewNotFound("document", docID.String()))
		return nil, false
	}
	return doc, true
}
