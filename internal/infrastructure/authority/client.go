// Package authority implements the tax authority's real-time invoice reporting API
// as a submission.Authority.
package authority

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taxlink/internal/core/tenant"
	"taxlink/internal/domain/submission"
	"taxlink/pkg/logger"
)

var tracer = otel.Tracer("taxlink/authority")

const (
	opTokenExchange          = "tokenExchange"
	opManageInvoice          = "manageInvoice"
	opManageAnnulment        = "manageAnnulment"
	opQueryTransactionStatus = "queryTransactionStatus"
	opQueryTransactionList   = "queryTransactionList"

	annulOperation = "ANNUL"

	maxResponseSize = 16 << 20
	// maxListPages bounds transaction list paging for one recovery window.
	maxListPages = 50
)

// authErrorCodes are result codes that mean the technical user or its keys were refused.
var authErrorCodes = map[string]struct{}{
	"INVALID_SECURITY_USER":     {},
	"NOT_REGISTERED_CUSTOMER":   {},
	"INVALID_CUSTOMER":          {},
	"INVALID_USER_RELATION":     {},
	"INVALID_REQUEST_SIGNATURE": {},
	"INVALID_EXCHANGE_TOKEN":    {},
	"TOKEN_EXPIRED":             {},
	"FORBIDDEN":                 {},
	"UNAUTHORIZED":              {},
}

// Software identifies this program to the authority.
type Software struct {
	ID             string
	Name           string
	Version        string
	DevName        string
	DevContact     string
	DevCountryCode string
}

// Config holds client settings.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Compress bool
	Software Software
}

// Client talks XML over HTTPS to the authority.
type Client struct {
	cfg        Config
	httpClient *http.Client
	now        func() time.Time
	requestID  func() string
}

var _ submission.Authority = (*Client)(nil)

// NewClient creates a client. A nil httpClient gets one with cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		now:        func() time.Time { return time.Now().UTC() },
		requestID:  newRequestID,
	}
}

// newRequestID returns a unique id of at most 30 characters.
func newRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:30]
}

// Authenticate exchanges the tenant's credentials for a one-time submission token.
func (c *Client) Authenticate(ctx context.Context, creds tenant.Credentials) (submission.Token, error) {
	req := &tokenExchangeRequest{envelope: c.envelope(creds)}
	var resp tokenExchangeResponse
	if err := c.post(ctx, opTokenExchange, creds, req, &resp); err != nil {
		return submission.Token{}, err
	}

	token, err := decryptToken(resp.EncodedExchangeToken, creds.ExchangeKey)
	if err != nil {
		return submission.Token{}, &submission.ConnectionError{
			Code:   submission.ConnAuth,
			Errors: []string{"exchange token could not be decrypted with the exchange key"},
			Err:    err,
		}
	}
	return submission.Token{Value: token, ExpiresAt: resp.TokenValidityTo}, nil
}

// SubmitBatch reports a batch of invoice operations and returns the transaction id.
func (c *Client) SubmitBatch(ctx context.Context, creds tenant.Credentials, token submission.Token, ops []submission.InvoiceOperation) (string, error) {
	req := &manageInvoiceRequest{ExchangeToken: token.Value}
	req.InvoiceOperations.CompressedContent = c.cfg.Compress

	hashes := make([]string, 0, len(ops))
	for _, op := range ops {
		payload := op.Payload
		if c.cfg.Compress {
			var err error
			if payload, err = gzipBytes(payload); err != nil {
				return "", &submission.ConnectionError{Code: submission.ConnOther, Errors: []string{"compress invoice data"}, Err: err}
			}
		}
		encoded := base64.StdEncoding.EncodeToString(payload)
		req.InvoiceOperations.Operations = append(req.InvoiceOperations.Operations, invoiceOperationXML{
			Index:       op.Index,
			Operation:   string(op.Kind),
			InvoiceData: encoded,
		})
		hashes = append(hashes, operationHash(string(op.Kind), encoded))
	}
	req.envelope = c.envelope(creds, hashes...)

	var resp transactionResponse
	if err := c.post(ctx, opManageInvoice, creds, req, &resp); err != nil {
		return "", err
	}
	return c.transactionID(resp)
}

// SubmitCancellation requests technical annulment of previously accepted invoices.
func (c *Client) SubmitCancellation(ctx context.Context, creds tenant.Credentials, token submission.Token, ops []submission.AnnulmentOperation) (string, error) {
	req := &manageAnnulmentRequest{ExchangeToken: token.Value}

	ts := c.now().Format(timestampLayout)
	hashes := make([]string, 0, len(ops))
	for _, op := range ops {
		body, err := xml.Marshal(invoiceAnnulment{
			XMLNS:     "http://schemas.nav.gov.hu/OSA/3.0/annul",
			Reference: op.ReferenceName,
			Timestamp: ts,
			Code:      string(op.Code),
			Reason:    op.Reason,
		})
		if err != nil {
			return "", &submission.ConnectionError{Code: submission.ConnOther, Errors: []string{"encode annulment"}, Err: err}
		}
		encoded := base64.StdEncoding.EncodeToString(append([]byte(xml.Header), body...))
		req.AnnulmentOperations.Operations = append(req.AnnulmentOperations.Operations, annulmentOperationXML{
			Index:     op.Index,
			Operation: annulOperation,
			Annulment: encoded,
		})
		hashes = append(hashes, operationHash(annulOperation, encoded))
	}
	req.envelope = c.envelope(creds, hashes...)

	var resp transactionResponse
	if err := c.post(ctx, opManageAnnulment, creds, req, &resp); err != nil {
		return "", err
	}
	return c.transactionID(resp)
}

// QueryStatus returns the per-item processing results of a transaction.
func (c *Client) QueryStatus(ctx context.Context, creds tenant.Credentials, reference string, withOriginalRequest bool) (*submission.StatusReport, error) {
	req := &queryTransactionStatusRequest{
		envelope:              c.envelope(creds),
		TransactionID:         reference,
		ReturnOriginalRequest: withOriginalRequest,
	}
	var resp transactionStatusResponse
	if err := c.post(ctx, opQueryTransactionStatus, creds, req, &resp); err != nil {
		return nil, err
	}

	report := &submission.StatusReport{
		AnnulmentStatus: submission.AnnulmentStatus(resp.ProcessingResults.AnnulmentData.VerificationStatus),
	}
	for _, r := range resp.ProcessingResults.Results {
		result := submission.StatusResult{
			Index:             r.Index,
			Status:            submission.InvoiceStatus(r.InvoiceStatus),
			TechnicalMessages: messageStrings(r.TechnicalValidationMessages),
			BusinessMessages:  messageStrings(r.BusinessValidationMessages),
		}
		if withOriginalRequest && r.OriginalRequest != "" {
			result.DocumentName = originalName(ctx, r)
		}
		report.Results = append(report.Results, result)
	}
	return report, nil
}

// ListTransactions pages through the tenant's transactions submitted between from and to.
func (c *Client) ListTransactions(ctx context.Context, creds tenant.Credentials, from, to time.Time) ([]submission.TransactionSummary, error) {
	var out []submission.TransactionSummary
	for page := 1; page <= maxListPages; page++ {
		req := &queryTransactionListRequest{
			envelope: c.envelope(creds),
			Page:     page,
			InsDate: dateTimeRange{
				From: from.UTC().Format(timestampLayout),
				To:   to.UTC().Format(timestampLayout),
			},
		}
		var resp transactionListResponse
		if err := c.post(ctx, opQueryTransactionList, creds, req, &resp); err != nil {
			return nil, err
		}

		for _, t := range resp.TransactionListResult.Transactions {
			out = append(out, submission.TransactionSummary{
				Reference:   t.TransactionID,
				SubmittedAt: t.InsDate,
				Annulment:   t.TechnicalAnnulment,
			})
		}
		if resp.TransactionListResult.AvailablePage <= page {
			break
		}
	}
	return out, nil
}

func (c *Client) envelope(creds tenant.Credentials, itemHashes ...string) envelope {
	now := c.now()
	reqID := c.requestID()
	return envelope{
		XMLNSCommon: commonNS,
		XMLNS:       apiNamespace,
		Header: requestHeader{
			RequestID:      reqID,
			Timestamp:      now.Format(timestampLayout),
			RequestVersion: requestVersion,
			HeaderVersion:  headerVersion,
		},
		User: userHeader{
			Login:        creds.Login,
			PasswordHash: passwordHashXML{CryptoType: "SHA-512", Value: passwordHash(creds.Password)},
			TaxNumber:    creds.TaxNumber,
			RequestSignature: requestSignatureXML{
				CryptoType: "SHA3-512",
				Value:      requestSignature(reqID, now, creds.SigningKey, itemHashes...),
			},
		},
		Software: softwareXML{
			ID:             c.cfg.Software.ID,
			Name:           c.cfg.Software.Name,
			Operation:      "LOCAL_SOFTWARE",
			MainVersion:    c.cfg.Software.Version,
			DevName:        c.cfg.Software.DevName,
			DevContact:     c.cfg.Software.DevContact,
			DevCountryCode: c.cfg.Software.DevCountryCode,
		},
	}
}

func (c *Client) transactionID(resp transactionResponse) (string, error) {
	if ref := strings.TrimSpace(resp.TransactionID); ref != "" {
		return ref, nil
	}
	return "", &submission.ConnectionError{
		Code:   submission.ConnOther,
		Errors: []string{"authority answered without a transaction id"},
	}
}

// post sends one request and decodes the answer into resp.
// Every failure is returned as *submission.ConnectionError.
func (c *Client) post(ctx context.Context, operation string, creds tenant.Credentials, req any, resp response) (err error) {
	ctx, span := tracer.Start(ctx, "authority."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("authority.operation", operation),
			attribute.String("authority.tax_number", creds.TaxNumber),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, operation+" failed")
		}
		span.End()
	}()

	body, err := xml.Marshal(req)
	if err != nil {
		return &submission.ConnectionError{Code: submission.ConnOther, Errors: []string{"encode request"}, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/"+operation,
		bytes.NewReader(append([]byte(xml.Header), body...)))
	if err != nil {
		return &submission.ConnectionError{Code: submission.ConnOther, Errors: []string{"build request"}, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/xml")
	httpReq.Header.Set("Accept", "application/xml")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return transportError(err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return transportError(err)
	}

	span.SetAttributes(attribute.Int("http.status_code", httpResp.StatusCode))
	logger.Debug(ctx, "authority call",
		"operation", operation,
		"status", httpResp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())

	if httpResp.StatusCode == http.StatusRequestTimeout || httpResp.StatusCode == http.StatusGatewayTimeout {
		return &submission.ConnectionError{
			Code:   submission.ConnTimeout,
			Errors: []string{fmt.Sprintf("%s: HTTP %d", operation, httpResp.StatusCode)},
		}
	}

	if decodeErr := xml.Unmarshal(data, resp); decodeErr != nil {
		if httpResp.StatusCode >= http.StatusBadRequest {
			return resultError(&basicResponse{}, httpResp.StatusCode)
		}
		return &submission.ConnectionError{Code: submission.ConnOther, Errors: []string{"decode response"}, Err: decodeErr}
	}

	return resultError(resp, httpResp.StatusCode)
}

// resultError maps a decoded answer with funcCode ERROR, or a non-2xx status, to a ConnectionError.
func resultError(resp response, status int) error {
	res := resp.result()
	if res.FuncCode == funcCodeOK && status < http.StatusBadRequest {
		return nil
	}

	code := submission.ConnOther
	if _, ok := authErrorCodes[res.ErrorCode]; ok {
		code = submission.ConnAuth
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		code = submission.ConnAuth
	}

	var errs []string
	switch {
	case res.ErrorCode != "" && res.Message != "":
		errs = append(errs, res.ErrorCode+": "+res.Message)
	case res.ErrorCode != "":
		errs = append(errs, res.ErrorCode)
	case res.Message != "":
		errs = append(errs, res.Message)
	default:
		errs = append(errs, fmt.Sprintf("HTTP %d", status))
	}
	if basic, ok := resp.(interface{ technical() []validationMessageXML }); ok {
		errs = append(errs, messageStrings(basic.technical())...)
	}
	return &submission.ConnectionError{Code: code, Errors: errs}
}

func (r *basicResponse) technical() []validationMessageXML { return r.TechnicalValidationMessages }

// transportError classifies network failures; deadlines become timeouts.
func transportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &submission.ConnectionError{Code: submission.ConnTimeout, Errors: []string{"authority did not answer in time"}, Err: err}
	}
	return &submission.ConnectionError{Code: submission.ConnOther, Errors: []string{err.Error()}, Err: err}
}

func originalName(ctx context.Context, r processingResultXML) string {
	data, err := base64.StdEncoding.DecodeString(r.OriginalRequest)
	if err != nil {
		logger.Warn(ctx, "original request is not base64", "index", r.Index, "error", err)
		return ""
	}
	if r.CompressedContentIndicator {
		if data, err = gunzipBytes(data); err != nil {
			logger.Warn(ctx, "original request is not gzip", "index", r.Index, "error", err)
			return ""
		}
	}
	return documentName(data)
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, maxResponseSize))
}
