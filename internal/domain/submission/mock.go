package submission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taxlink/internal/core/tenant"
)

// MockAuthority is a test implementation of Authority.
// Unset funcs succeed with predictable values; every call is recorded.
type MockAuthority struct {
	AuthenticateFunc       func(ctx context.Context, creds tenant.Credentials) (Token, error)
	SubmitBatchFunc        func(ctx context.Context, creds tenant.Credentials, token Token, ops []InvoiceOperation) (string, error)
	QueryStatusFunc        func(ctx context.Context, creds tenant.Credentials, reference string, withOriginalRequest bool) (*StatusReport, error)
	SubmitCancellationFunc func(ctx context.Context, creds tenant.Credentials, token Token, ops []AnnulmentOperation) (string, error)
	ListTransactionsFunc   func(ctx context.Context, creds tenant.Credentials, from, to time.Time) ([]TransactionSummary, error)

	mu          sync.Mutex
	Submitted   [][]InvoiceOperation
	Annulments  [][]AnnulmentOperation
	Queried     []string
	submissions int
}

// Authenticate implements Authority.
func (m *MockAuthority) Authenticate(ctx context.Context, creds tenant.Credentials) (Token, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, creds)
	}
	return Token{Value: "MOCK-TOKEN", ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
}

// SubmitBatch implements Authority.
func (m *MockAuthority) SubmitBatch(ctx context.Context, creds tenant.Credentials, token Token, ops []InvoiceOperation) (string, error) {
	m.mu.Lock()
	m.Submitted = append(m.Submitted, ops)
	m.submissions++
	n := m.submissions
	m.mu.Unlock()

	if m.SubmitBatchFunc != nil {
		return m.SubmitBatchFunc(ctx, creds, token, ops)
	}
	return fmt.Sprintf("MOCK-TX%d", n), nil
}

// QueryStatus implements Authority.
func (m *MockAuthority) QueryStatus(ctx context.Context, creds tenant.Credentials, reference string, withOriginalRequest bool) (*StatusReport, error) {
	m.mu.Lock()
	m.Queried = append(m.Queried, reference)
	m.mu.Unlock()

	if m.QueryStatusFunc != nil {
		return m.QueryStatusFunc(ctx, creds, reference, withOriginalRequest)
	}
	return &StatusReport{}, nil
}

// SubmitCancellation implements Authority.
func (m *MockAuthority) SubmitCancellation(ctx context.Context, creds tenant.Credentials, token Token, ops []AnnulmentOperation) (string, error) {
	m.mu.Lock()
	m.Annulments = append(m.Annulments, ops)
	m.submissions++
	n := m.submissions
	m.mu.Unlock()

	if m.SubmitCancellationFunc != nil {
		return m.SubmitCancellationFunc(ctx, creds, token, ops)
	}
	return fmt.Sprintf("MOCK-TX%d", n), nil
}

// ListTransactions implements Authority.
func (m *MockAuthority) ListTransactions(ctx context.Context, creds tenant.Credentials, from, to time.Time) ([]TransactionSummary, error) {
	if m.ListTransactionsFunc != nil {
		return m.ListTransactionsFunc(ctx, creds, from, to)
	}
	return nil, nil
}

// Ensure compile-time interface compliance.
var _ Authority = (*MockAuthority)(nil)
