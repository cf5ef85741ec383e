package authority

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxlink/internal/core/tenant"
	"taxlink/internal/domain/submission"
)

const testExchangeKey = "0123456789abcdef"

var testCreds = tenant.Credentials{
	Login:       "techuser",
	Password:    "secret",
	SigningKey:  "sign-key",
	ExchangeKey: testExchangeKey,
	TaxNumber:   "12345678",
}

type recordedCall struct {
	path string
	body string
}

// fakeAuthority serves canned answers per operation and records request bodies.
type fakeAuthority struct {
	t       *testing.T
	mu      sync.Mutex
	calls   []recordedCall
	answers map[string]func(body string) (int, string)
}

func newFakeAuthority(t *testing.T) (*fakeAuthority, *Client) {
	f := &fakeAuthority{t: t, answers: map[string]func(string) (int, string){}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		op := strings.TrimPrefix(r.URL.Path, "/")

		f.mu.Lock()
		f.calls = append(f.calls, recordedCall{path: op, body: string(data)})
		answer, ok := f.answers[op]
		f.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		status, resp := answer(string(data))
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:  srv.URL + "/",
		Timeout:  2 * time.Second,
		Software: Software{ID: "HU12345678-TAXLINK", Name: "taxlink", Version: "1.0"},
	}, nil)
	c.now = func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) }
	c.requestID = func() string { return "REQ1" }
	return f, c
}

func (f *fakeAuthority) on(op string, fn func(body string) (int, string)) {
	f.answers[op] = fn
}

func (f *fakeAuthority) last() recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(f.t, f.calls)
	return f.calls[len(f.calls)-1]
}

func answerOK(inner string) (int, string) {
	return http.StatusOK, `<?xml version="1.0" encoding="UTF-8"?><Response xmlns="` + apiNamespace + `">` +
		`<result><funcCode>OK</funcCode></result>` + inner + `</Response>`
}

func answerFailed(status int, code, msg string) (int, string) {
	return status, `<GeneralErrorResponse><result><funcCode>ERROR</funcCode><errorCode>` + code +
		`</errorCode><message>` + msg + `</message></result></GeneralErrorResponse>`
}

func TestAuthenticate(t *testing.T) {
	f, c := newFakeAuthority(t)
	f.on(opTokenExchange, func(string) (int, string) {
		return answerOK(`<encodedExchangeToken>` + encryptToken(t, "tok-1", testExchangeKey) + `</encodedExchangeToken>` +
			`<tokenValidityFrom>2026-03-02T10:00:00.000Z</tokenValidityFrom>` +
			`<tokenValidityTo>2026-03-02T10:05:00.000Z</tokenValidityTo>`)
	})

	token, err := c.Authenticate(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token.Value)
	assert.Equal(t, time.Date(2026, 3, 2, 10, 5, 0, 0, time.UTC), token.ExpiresAt.UTC())

	body := []byte(f.last().body)
	assert.Equal(t, "techuser", findElement(body, "login"))
	assert.Equal(t, "12345678", findElement(body, "taxNumber"))
	assert.Equal(t, passwordHash("secret"), findElement(body, "passwordHash"))
	assert.Equal(t, requestSignature("REQ1", c.now(), "sign-key"), findElement(body, "requestSignature"))
	assert.Equal(t, "2026-03-02T10:00:00.000Z", findElement(body, "timestamp"))
	assert.Equal(t, "HU12345678-TAXLINK", findElement(body, "softwareId"))
}

func TestAuthenticate_Failures(t *testing.T) {
	tests := []struct {
		name     string
		answer   func(string) (int, string)
		wantCode submission.ConnectionErrorCode
	}{
		{
			name:     "InvalidUser",
			answer:   func(string) (int, string) { return answerFailed(http.StatusBadRequest, "INVALID_SECURITY_USER", "bad user") },
			wantCode: submission.ConnAuth,
		},
		{
			name:     "Forbidden",
			answer:   func(string) (int, string) { return http.StatusForbidden, "" },
			wantCode: submission.ConnAuth,
		},
		{
			name:     "UndecryptableToken",
			answer:   func(string) (int, string) { return answerOK(`<encodedExchangeToken>AAAA</encodedExchangeToken>`) },
			wantCode: submission.ConnAuth,
		},
		{
			name:     "Maintenance",
			answer:   func(string) (int, string) { return answerFailed(http.StatusInternalServerError, "MAINTENANCE", "try later") },
			wantCode: submission.ConnOther,
		},
		{
			name:     "GatewayTimeout",
			answer:   func(string) (int, string) { return http.StatusGatewayTimeout, "" },
			wantCode: submission.ConnTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, c := newFakeAuthority(t)
			f.on(opTokenExchange, tt.answer)

			_, err := c.Authenticate(context.Background(), testCreds)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, submission.AsConnectionError(err).Code)
		})
	}
}

func TestSubmitBatch(t *testing.T) {
	f, c := newFakeAuthority(t)
	f.on(opManageInvoice, func(string) (int, string) {
		return answerOK(`<transactionId>TX-42</transactionId>`)
	})

	ops := []submission.InvoiceOperation{
		{Index: 1, Kind: submission.OperationCreate, Payload: []byte("<InvoiceData><invoiceNumber>INV-1</invoiceNumber></InvoiceData>")},
		{Index: 2, Kind: submission.OperationModify, Payload: []byte("<InvoiceData><invoiceNumber>INV-2</invoiceNumber></InvoiceData>")},
	}
	ref, err := c.SubmitBatch(context.Background(), testCreds, submission.Token{Value: "tok-1"}, ops)
	require.NoError(t, err)
	assert.Equal(t, "TX-42", ref)

	body := f.last().body
	assert.Equal(t, "tok-1", findElement([]byte(body), "exchangeToken"))
	assert.Equal(t, "false", findElement([]byte(body), "compressedContent"))
	assert.Contains(t, body, "<invoiceOperation>MODIFY</invoiceOperation>")

	enc1 := base64.StdEncoding.EncodeToString(ops[0].Payload)
	enc2 := base64.StdEncoding.EncodeToString(ops[1].Payload)
	assert.Contains(t, body, "<invoiceData>"+enc1+"</invoiceData>")
	wantSig := requestSignature("REQ1", c.now(), "sign-key",
		operationHash("CREATE", enc1), operationHash("MODIFY", enc2))
	assert.Equal(t, wantSig, findElement([]byte(body), "requestSignature"))
}

func TestSubmitBatch_Compressed(t *testing.T) {
	f, c := newFakeAuthority(t)
	c.cfg.Compress = true
	f.on(opManageInvoice, func(string) (int, string) { return answerOK(`<transactionId>TX-1</transactionId>`) })

	payload := []byte("<InvoiceData><invoiceNumber>INV-1</invoiceNumber></InvoiceData>")
	_, err := c.SubmitBatch(context.Background(), testCreds, submission.Token{Value: "t"},
		[]submission.InvoiceOperation{{Index: 1, Kind: submission.OperationCreate, Payload: payload}})
	require.NoError(t, err)

	body := []byte(f.last().body)
	assert.Equal(t, "true", findElement(body, "compressedContent"))
	raw, err := base64.StdEncoding.DecodeString(findElement(body, "invoiceData"))
	require.NoError(t, err)
	plain, err := gunzipBytes(raw)
	require.NoError(t, err)
	assert.Equal(t, payload, plain)
}

func TestSubmitBatch_MissingTransactionID(t *testing.T) {
	f, c := newFakeAuthority(t)
	f.on(opManageInvoice, func(string) (int, string) { return answerOK("") })

	_, err := c.SubmitBatch(context.Background(), testCreds, submission.Token{}, nil)
	require.Error(t, err)
	assert.Equal(t, submission.ConnOther, submission.AsConnectionError(err).Code)
}

func TestSubmitBatch_ClientTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := NewClient(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, nil)
	_, err := c.SubmitBatch(context.Background(), testCreds, submission.Token{}, nil)
	require.Error(t, err)
	assert.Equal(t, submission.ConnTimeout, submission.AsConnectionError(err).Code)
}

func TestSubmitCancellation(t *testing.T) {
	f, c := newFakeAuthority(t)
	f.on(opManageAnnulment, func(string) (int, string) { return answerOK(`<transactionId>ANN-1</transactionId>`) })

	ref, err := c.SubmitCancellation(context.Background(), testCreds, submission.Token{Value: "tok"},
		[]submission.AnnulmentOperation{{Index: 1, ReferenceName: "INV-9", Code: submission.AnnulErraticData, Reason: "wrong amount"}})
	require.NoError(t, err)
	assert.Equal(t, "ANN-1", ref)

	body := []byte(f.last().body)
	assert.Equal(t, "ANNUL", findElement(body, "annulmentOperation"))
	encoded := findElement(body, "invoiceAnnulment")
	inner, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "INV-9", findElement(inner, "annulmentReference"))
	assert.Equal(t, "ERRATIC_DATA", findElement(inner, "annulmentCode"))
	assert.Equal(t, "wrong amount", findElement(inner, "annulmentReason"))
	assert.Equal(t, requestSignature("REQ1", c.now(), "sign-key", operationHash("ANNUL", encoded)),
		findElement(body, "requestSignature"))
}

func TestQueryStatus(t *testing.T) {
	f, c := newFakeAuthority(t)
	original, err := gzipBytes([]byte("<InvoiceData><invoiceNumber>INV-3</invoiceNumber></InvoiceData>"))
	require.NoError(t, err)

	f.on(opQueryTransactionStatus, func(string) (int, string) {
		return answerOK(`<processingResults>` +
			`<processingResult><index>1</index><invoiceStatus>DONE</invoiceStatus></processingResult>` +
			`<processingResult><index>2</index><invoiceStatus>DONE</invoiceStatus>` +
			`<businessValidationMessages><validationResultCode>WARN</validationResultCode>` +
			`<validationErrorCode>INCORRECT_VAT</validationErrorCode><message>VAT rate looks wrong</message></businessValidationMessages>` +
			`</processingResult>` +
			`<processingResult><index>3</index><invoiceStatus>ABORTED</invoiceStatus>` +
			`<technicalValidationMessages><validationResultCode>ERROR</validationResultCode>` +
			`<validationErrorCode>SCHEMA_VIOLATION</validationErrorCode><message>bad xml</message></technicalValidationMessages>` +
			`<compressedContentIndicator>true</compressedContentIndicator>` +
			`<originalRequest>` + base64.StdEncoding.EncodeToString(original) + `</originalRequest>` +
			`</processingResult>` +
			`</processingResults>`)
	})

	report, err := c.QueryStatus(context.Background(), testCreds, "TX-1", true)
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	assert.Equal(t, submission.AnnulmentNone, report.AnnulmentStatus)

	assert.Equal(t, submission.InvoiceDone, report.Results[0].Status)
	assert.Empty(t, report.Results[0].Messages())

	assert.Equal(t, []string{"INCORRECT_VAT: VAT rate looks wrong"}, report.Results[1].BusinessMessages)

	assert.Equal(t, submission.InvoiceAborted, report.Results[2].Status)
	assert.Equal(t, []string{"SCHEMA_VIOLATION: bad xml"}, report.Results[2].TechnicalMessages)
	assert.Equal(t, "INV-3", report.Results[2].DocumentName)

	body := []byte(f.last().body)
	assert.Equal(t, "TX-1", findElement(body, "transactionId"))
	assert.Equal(t, "true", findElement(body, "returnOriginalRequest"))
}

func TestQueryStatus_Annulment(t *testing.T) {
	f, c := newFakeAuthority(t)
	f.on(opQueryTransactionStatus, func(string) (int, string) {
		return answerOK(`<processingResults><processingResult><index>1</index><invoiceStatus>DONE</invoiceStatus></processingResult>` +
			`<annulmentData><annulmentVerificationStatus>VERIFICATION_DONE</annulmentVerificationStatus></annulmentData>` +
			`</processingResults>`)
	})

	report, err := c.QueryStatus(context.Background(), testCreds, "ANN-1", false)
	require.NoError(t, err)
	assert.Equal(t, submission.AnnulmentVerificationDone, report.AnnulmentStatus)
	assert.Empty(t, report.Results[0].DocumentName)
}

func TestListTransactions_Pages(t *testing.T) {
	f, c := newFakeAuthority(t)
	f.on(opQueryTransactionList, func(body string) (int, string) {
		page := findElement([]byte(body), "page")
		inner := fmt.Sprintf(`<transaction><transactionId>TX-P%s</transactionId>`+
			`<insDate>2026-03-02T09:5%s:00.000Z</insDate></transaction>`, page, page)
		if page == "2" {
			inner += `<transaction><transactionId>ANN-P2</transactionId><insDate>2026-03-02T09:59:00.000Z</insDate>` +
				`<technicalAnnulment>true</technicalAnnulment></transaction>`
		}
		return answerOK(`<transactionListResult><currentPage>` + page + `</currentPage><availablePage>2</availablePage>` +
			inner + `</transactionListResult>`)
	})

	from := time.Date(2026, 3, 2, 9, 50, 0, 0, time.UTC)
	list, err := c.ListTransactions(context.Background(), testCreds, from, from.Add(20*time.Minute))
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "TX-P1", list[0].Reference)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 51, 0, 0, time.UTC), list[0].SubmittedAt.UTC())
	assert.Equal(t, "TX-P2", list[1].Reference)
	assert.True(t, list[2].Annulment)

	body := []byte(f.last().body)
	assert.Equal(t, "2026-03-02T09:50:00.000Z", findElement(body, "dateTimeFrom"))
	assert.Equal(t, "2026-03-02T10:10:00.000Z", findElement(body, "dateTimeTo"))
}
