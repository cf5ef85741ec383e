package authority

import (
	"bytes"
	"encoding/xml"
	"slices"
	"strings"
	"time"
)

const (
	apiNamespace   = "http://schemas.nav.gov.hu/OSA/3.0/api"
	commonNS       = "http://schemas.nav.gov.hu/NTCA/1.0/common"
	requestVersion = "3.0"
	headerVersion  = "1.0"

	timestampLayout = "2006-01-02T15:04:05.000Z"

	funcCodeOK    = "OK"
	funcCodeError = "ERROR"
)

type requestHeader struct {
	RequestID      string `xml:"common:requestId"`
	Timestamp      string `xml:"common:timestamp"`
	RequestVersion string `xml:"common:requestVersion"`
	HeaderVersion  string `xml:"common:headerVersion"`
}

type requestSignatureXML struct {
	CryptoType string `xml:"cryptoType,attr"`
	Value      string `xml:",chardata"`
}

type passwordHashXML struct {
	CryptoType string `xml:"cryptoType,attr"`
	Value      string `xml:",chardata"`
}

type userHeader struct {
	Login            string              `xml:"common:login"`
	PasswordHash     passwordHashXML     `xml:"common:passwordHash"`
	TaxNumber        string              `xml:"common:taxNumber"`
	RequestSignature requestSignatureXML `xml:"common:requestSignature"`
}

type softwareXML struct {
	ID             string `xml:"softwareId"`
	Name           string `xml:"softwareName"`
	Operation      string `xml:"softwareOperation"`
	MainVersion    string `xml:"softwareMainVersion"`
	DevName        string `xml:"softwareDevName"`
	DevContact     string `xml:"softwareDevContact"`
	DevCountryCode string `xml:"softwareDevCountryCode,omitempty"`
}

// envelope carries the parts every request shares.
type envelope struct {
	XMLNSCommon string        `xml:"xmlns:common,attr"`
	XMLNS       string        `xml:"xmlns,attr"`
	Header      requestHeader `xml:"common:header"`
	User        userHeader    `xml:"common:user"`
	Software    softwareXML   `xml:"software"`
}

type tokenExchangeRequest struct {
	XMLName xml.Name `xml:"TokenExchangeRequest"`
	envelope
}

type invoiceOperationXML struct {
	Index       int    `xml:"index"`
	Operation   string `xml:"invoiceOperation"`
	InvoiceData string `xml:"invoiceData"`
}

type manageInvoiceRequest struct {
	XMLName xml.Name `xml:"ManageInvoiceRequest"`
	envelope
	ExchangeToken     string `xml:"exchangeToken"`
	InvoiceOperations struct {
		CompressedContent bool                  `xml:"compressedContent"`
		Operations        []invoiceOperationXML `xml:"invoiceOperation"`
	} `xml:"invoiceOperations"`
}

type annulmentOperationXML struct {
	Index     int    `xml:"index"`
	Operation string `xml:"annulmentOperation"`
	Annulment string `xml:"invoiceAnnulment"`
}

type manageAnnulmentRequest struct {
	XMLName xml.Name `xml:"ManageAnnulmentRequest"`
	envelope
	ExchangeToken       string `xml:"exchangeToken"`
	AnnulmentOperations struct {
		Operations []annulmentOperationXML `xml:"annulmentOperation"`
	} `xml:"annulmentOperations"`
}

// invoiceAnnulment is the base64-encoded body of one annulment operation.
type invoiceAnnulment struct {
	XMLName   xml.Name `xml:"InvoiceAnnulment"`
	XMLNS     string   `xml:"xmlns,attr"`
	Reference string   `xml:"annulmentReference"`
	Timestamp string   `xml:"annulmentTimestamp"`
	Code      string   `xml:"annulmentCode"`
	Reason    string   `xml:"annulmentReason"`
}

type queryTransactionStatusRequest struct {
	XMLName xml.Name `xml:"QueryTransactionStatusRequest"`
	envelope
	TransactionID         string `xml:"transactionId"`
	ReturnOriginalRequest bool   `xml:"returnOriginalRequest"`
}

type dateTimeRange struct {
	From string `xml:"dateTimeFrom"`
	To   string `xml:"dateTimeTo"`
}

type queryTransactionListRequest struct {
	XMLName xml.Name `xml:"QueryTransactionListRequest"`
	envelope
	Page    int           `xml:"page"`
	InsDate dateTimeRange `xml:"insDate"`
}

// --- responses ---

type resultXML struct {
	FuncCode  string `xml:"funcCode"`
	ErrorCode string `xml:"errorCode"`
	Message   string `xml:"message"`
}

type validationMessageXML struct {
	ResultCode string `xml:"validationResultCode"`
	ErrorCode  string `xml:"validationErrorCode"`
	Message    string `xml:"message"`
}

func (m validationMessageXML) String() string {
	switch {
	case m.ErrorCode != "" && m.Message != "":
		return m.ErrorCode + ": " + m.Message
	case m.ErrorCode != "":
		return m.ErrorCode
	default:
		return m.Message
	}
}

// response is implemented by every decoded answer.
type response interface {
	result() resultXML
}

type basicResponse struct {
	Result                      resultXML              `xml:"result"`
	TechnicalValidationMessages []validationMessageXML `xml:"technicalValidationMessages"`
}

func (r *basicResponse) result() resultXML { return r.Result }

type tokenExchangeResponse struct {
	basicResponse
	EncodedExchangeToken string    `xml:"encodedExchangeToken"`
	TokenValidityFrom    time.Time `xml:"tokenValidityFrom"`
	TokenValidityTo      time.Time `xml:"tokenValidityTo"`
}

type transactionResponse struct {
	basicResponse
	TransactionID string `xml:"transactionId"`
}

type processingResultXML struct {
	Index                       int                    `xml:"index"`
	InvoiceStatus               string                 `xml:"invoiceStatus"`
	TechnicalValidationMessages []validationMessageXML `xml:"technicalValidationMessages"`
	BusinessValidationMessages  []validationMessageXML `xml:"businessValidationMessages"`
	CompressedContentIndicator  bool                   `xml:"compressedContentIndicator"`
	OriginalRequest             string                 `xml:"originalRequest"`
}

type transactionStatusResponse struct {
	basicResponse
	ProcessingResults struct {
		Results       []processingResultXML `xml:"processingResult"`
		AnnulmentData struct {
			VerificationStatus string `xml:"annulmentVerificationStatus"`
		} `xml:"annulmentData"`
	} `xml:"processingResults"`
}

type transactionXML struct {
	TransactionID      string    `xml:"transactionId"`
	InsDate            time.Time `xml:"insDate"`
	TechnicalAnnulment bool      `xml:"technicalAnnulment"`
	AnnulmentStatus    string    `xml:"annulmentVerificationStatus"`
}

type transactionListResponse struct {
	basicResponse
	TransactionListResult struct {
		CurrentPage   int              `xml:"currentPage"`
		AvailablePage int              `xml:"availablePage"`
		Transactions  []transactionXML `xml:"transaction"`
	} `xml:"transactionListResult"`
}

func messageStrings(msgs []validationMessageXML) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if s := strings.TrimSpace(m.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// documentName finds the invoice number inside an echoed original request.
// Annulments carry the number as their reference.
func documentName(data []byte) string {
	return findElement(data, "invoiceNumber", "annulmentReference")
}

// findElement returns the text of the first element whose local name is one of names.
func findElement(data []byte, names ...string) string {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		start, ok := tok.(xml.StartElement)
		if !ok || !slices.Contains(names, start.Name.Local) {
			continue
		}
		var text string
		if err := dec.DecodeElement(&text, &start); err != nil {
			return ""
		}
		return strings.TrimSpace(text)
	}
}
