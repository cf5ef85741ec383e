// Package render produces the invoice data payload submitted for a document.
package render

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"

	"taxlink/internal/domain/submission"
)

const dataNamespace = "http://schemas.nav.gov.hu/OSA/3.0/data"

type invoiceReference struct {
	OriginalInvoiceNumber string `xml:"originalInvoiceNumber"`
	ModifyWithoutMaster   bool   `xml:"modifyWithoutMaster"`
	ModificationIndex     int    `xml:"modificationIndex"`
}

type invoiceData struct {
	XMLName               xml.Name `xml:"InvoiceData"`
	XMLNS                 string   `xml:"xmlns,attr"`
	InvoiceNumber         string   `xml:"invoiceNumber"`
	InvoiceIssueDate      string   `xml:"invoiceIssueDate"`
	CompletenessIndicator bool     `xml:"completenessIndicator"`
	InvoiceMain           struct {
		Invoice struct {
			Reference *invoiceReference `xml:"invoiceReference,omitempty"`
			Summary   struct {
				GrossAmount string `xml:"summaryGrossData>invoiceGrossAmount"`
			} `xml:"invoiceSummary"`
		} `xml:"invoice"`
	} `xml:"invoiceMain"`
}

// XMLRenderer renders the minimal invoice data envelope. Corrections reference
// their chain base by name and carry their chain index as modification index.
type XMLRenderer struct {
	repo submission.Repository
	now  func() time.Time
}

var _ submission.Renderer = (*XMLRenderer)(nil)

// NewXMLRenderer creates a renderer that looks up chain bases in repo.
func NewXMLRenderer(repo submission.Repository) *XMLRenderer {
	return &XMLRenderer{repo: repo, now: time.Now}
}

// Render implements submission.Renderer.
func (r *XMLRenderer) Render(ctx context.Context, doc *submission.Document) ([]byte, error) {
	data := invoiceData{
		XMLNS:            dataNamespace,
		InvoiceNumber:    doc.Name,
		InvoiceIssueDate: r.now().UTC().Format(time.DateOnly),
	}
	data.InvoiceMain.Invoice.Summary.GrossAmount = doc.AmountResidual.StringFixed(2)

	if !doc.IsBase() {
		if doc.ChainIndex <= 0 {
			return nil, fmt.Errorf("render %s: correction has no chain index", doc.Name)
		}
		base, err := submission.ResolveBase(ctx, r.repo, doc)
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", doc.Name, err)
		}
		data.InvoiceMain.Invoice.Reference = &invoiceReference{
			OriginalInvoiceNumber: base.Name,
			ModificationIndex:     doc.ChainIndex,
		}
	}

	out, err := xml.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", doc.Name, err)
	}
	return append([]byte(xml.Header), out...), nil
}
