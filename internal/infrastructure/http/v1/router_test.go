package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxlink/internal/core/apperror"
	appctx "taxlink/internal/core/context"
	"taxlink/internal/core/id"
	"taxlink/internal/domain/auth"
	"taxlink/internal/domain/submission"
	"taxlink/internal/infrastructure/http/v1/middleware"
	"taxlink/internal/infrastructure/storage/postgres"
)

type tokens map[string]*appctx.OperatorContext

func (t tokens) ValidateToken(s string) (*appctx.OperatorContext, error) {
	if op, ok := t[s]; ok {
		return op, nil
	}
	return nil, errors.New("unknown token")
}

type runnerCall struct {
	op   string
	ids  []id.ID
	mode appctx.Mode
}

type stubRunner struct {
	mu     sync.Mutex
	calls  []runnerCall
	result func(op string) (*submission.Report, error)
}

func (r *stubRunner) record(ctx context.Context, op string, ids []id.ID) (*submission.Report, error) {
	r.mu.Lock()
	r.calls = append(r.calls, runnerCall{op: op, ids: ids, mode: appctx.GetMode(ctx)})
	r.mu.Unlock()
	if r.result != nil {
		return r.result(op)
	}
	return &submission.Report{Operation: op, Processed: len(ids), Outcomes: []submission.DocumentOutcome{}}, nil
}

func (r *stubRunner) Upload(ctx context.Context, ids []id.ID) (*submission.Report, error) {
	return r.record(ctx, submission.OpUpload, ids)
}

func (r *stubRunner) UploadPending(ctx context.Context, limit int) (*submission.Report, error) {
	return r.record(ctx, "upload_pending", nil)
}

func (r *stubRunner) Poll(ctx context.Context, ids []id.ID) (*submission.Report, error) {
	return r.record(ctx, submission.OpPoll, ids)
}

func (r *stubRunner) PollPending(ctx context.Context, limit int) (*submission.Report, error) {
	return r.record(ctx, "poll_pending", nil)
}

func (r *stubRunner) RequestCancel(ctx context.Context, req submission.CancelRequest) (*submission.Report, error) {
	return r.record(ctx, submission.OpCancel, req.DocumentIDs)
}

func (r *stubRunner) RecoverTimeouts(ctx context.Context, ids []id.ID) (*submission.Report, error) {
	return r.record(ctx, submission.OpRecovery, ids)
}

func (r *stubRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type memDocs map[id.ID]*submission.Document

func (m memDocs) GetByID(_ context.Context, docID id.ID) (*submission.Document, error) {
	if d, ok := m[docID]; ok {
		return d, nil
	}
	return nil, apperror.NewNotFound("document", docID.String())
}

func (m memDocs) ListByIDs(_ context.Context, ids []id.ID) ([]*submission.Document, error) {
	var out []*submission.Document
	for _, i := range ids {
		if d, ok := m[i]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

type memArchive struct{}

func (memArchive) History(_ context.Context, docID id.ID, _ int) ([]postgres.ArchivedPayload, error) {
	return []postgres.ArchivedPayload{{ID: id.New(), DocumentID: docID, State: "cancelled", Payload: []byte("<xml/>")}}, nil
}

type memIdempotency struct {
	mu      sync.Mutex
	entries map[string]*postgres.IdempotencyReplay
}

func (m *memIdempotency) AcquireKey(_ context.Context, key, _, _, _ string) (*postgres.IdempotencyReplay, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		if e == nil {
			return nil, apperror.NewIdempotencyConflict(key)
		}
		return e, nil
	}
	m.entries[key] = nil
	return nil, nil
}

func (m *memIdempotency) CompleteKey(_ context.Context, key string, statusCode int, contentType string, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = &postgres.IdempotencyReplay{StatusCode: statusCode, ContentType: contentType, Body: body}
	return nil
}

func (m *memIdempotency) ReleaseKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

type stubAuth struct{}

func (stubAuth) Login(_ context.Context, req auth.LoginRequest) (*auth.TokenResponse, *auth.Operator, error) {
	if req.Password != "secret-pass" {
		return nil, nil, apperror.NewUnauthorized("invalid email or password")
	}
	return &auth.TokenResponse{AccessToken: "tok", ExpiresAt: time.Now().Add(time.Minute), TokenType: "Bearer"},
		auth.NewOperator(req.Email, "", nil, false), nil
}

type fixture struct {
	router http.Handler
	runner *stubRunner
	docA   *submission.Document
	docB   *submission.Document
}

func newFixture(t *testing.T, mutate func(*RouterConfig)) *fixture {
	t.Helper()
	f := &fixture{
		runner: &stubRunner{},
		docA:   &submission.Document{ID: id.New(), TenantID: "tenant-a", Name: "INV-1", State: submission.StateNone},
		docB:   &submission.Document{ID: id.New(), TenantID: "tenant-b", Name: "INV-2", State: submission.StateNone},
	}
	cfg := RouterConfig{
		TokenValidator: tokens{
			"clerk": {OperatorID: "op-1", TenantIDs: []string{"tenant-a"}},
			"admin": {OperatorID: "op-2", IsAdmin: true},
		},
		Auth:        stubAuth{},
		Submissions: f.runner,
		Documents:   memDocs{f.docA.ID: f.docA, f.docB.ID: f.docB},
		Archive:     memArchive{},
		Idempotency: &memIdempotency{entries: map[string]*postgres.IdempotencyReplay{}},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.router = NewRouter(cfg)
	return f
}

func (f *fixture) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestUpload_RunsInteractively(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/v1/submissions/upload", "clerk",
		map[string]any{"documentIds": []string{f.docA.ID.String()}})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, submission.OpUpload, decode(t, w)["operation"])
	require.Equal(t, 1, f.runner.count())
	assert.Equal(t, appctx.ModeInteractive, f.runner.calls[0].mode)
	assert.Equal(t, []id.ID{f.docA.ID}, f.runner.calls[0].ids)
}

func TestSubmissions_RequireToken(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/v1/submissions/poll", "", map[string]any{"documentIds": []string{f.docA.ID.String()}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, apperror.CodeUnauthorized, decode(t, w)["code"])

	w = f.do(http.MethodPost, "/api/v1/submissions/poll", "forged", map[string]any{"documentIds": []string{f.docA.ID.String()}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, f.runner.count())
}

func TestSubmissions_ForeignTenantIsForbidden(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/v1/submissions/upload", "clerk",
		map[string]any{"documentIds": []string{f.docA.ID.String(), f.docB.ID.String()}})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Zero(t, f.runner.count())
}

func TestSubmissions_InvalidBody(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/v1/submissions/upload", "clerk", map[string]any{"documentIds": []string{"not-a-uuid"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPost, "/api/v1/submissions/cancel", "clerk", map[string]any{
		"documentIds": []string{f.docA.ID.String()},
		"code":        "BECAUSE",
		"reason":      "typo",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, f.runner.count())
}

func TestCancel_PassesParsedCode(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/v1/submissions/cancel", "clerk", map[string]any{
		"documentIds": []string{f.docA.ID.String()},
		"code":        "erratic_data",
		"reason":      "wrong buyer",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, submission.OpCancel, f.runner.calls[0].op)
}

func TestBlockingError_CarriesReport(t *testing.T) {
	f := newFixture(t, nil)
	f.runner.result = func(op string) (*submission.Report, error) {
		return &submission.Report{Operation: op, Processed: 1, Outcomes: []submission.DocumentOutcome{}},
			apperror.NewBlocking(op, []string{f.docA.ID.String()})
	}

	w := f.do(http.MethodPost, "/api/v1/submissions/upload", "clerk",
		map[string]any{"documentIds": []string{f.docA.ID.String()}})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, apperror.CodeBlocking, body["code"])
	details := body["details"].(map[string]any)
	assert.Contains(t, details, "report")
}

func TestIdempotency_ReplaysSuccess(t *testing.T) {
	f := newFixture(t, nil)
	payload := map[string]any{"documentIds": []string{f.docA.ID.String()}}

	first := f.do(http.MethodPost, "/api/v1/submissions/upload", "clerk", payload, middleware.HeaderIdempotencyKey, "k-1")
	second := f.do(http.MethodPost, "/api/v1/submissions/upload", "clerk", payload, middleware.HeaderIdempotencyKey, "k-1")

	require.Equal(t, http.StatusOK, first.Code)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replay"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, f.runner.count())
}

func TestIdempotency_RetryableErrorReleasesKey(t *testing.T) {
	f := newFixture(t, nil)
	attempts := 0
	f.runner.result = func(op string) (*submission.Report, error) {
		attempts++
		if attempts == 1 {
			return &submission.Report{Operation: op}, apperror.NewLockConflict(f.docA.ID.String())
		}
		return &submission.Report{Operation: op, Processed: 1, Outcomes: []submission.DocumentOutcome{}}, nil
	}
	payload := map[string]any{"documentIds": []string{f.docA.ID.String()}}

	first := f.do(http.MethodPost, "/api/v1/submissions/upload", "clerk", payload, middleware.HeaderIdempotencyKey, "k-2")
	assert.Equal(t, http.StatusConflict, first.Code)
	assert.Equal(t, true, decode(t, first)["retryable"])

	second := f.do(http.MethodPost, "/api/v1/submissions/upload", "clerk", payload, middleware.HeaderIdempotencyKey, "k-2")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 2, f.runner.count())
}

func TestRunPending_AdminOnlyAndScheduled(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/v1/submissions/run", "clerk", map[string]any{"operation": "poll"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(http.MethodPost, "/api/v1/submissions/run", "admin", map[string]any{"operation": "poll", "limit": 10})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, 1, f.runner.count())
	assert.Equal(t, "poll_pending", f.runner.calls[0].op)
	assert.Equal(t, appctx.ModeScheduled, f.runner.calls[0].mode)
}

func TestDocuments_GetAndHistory(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodGet, "/api/v1/documents/"+f.docA.ID.String(), "clerk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "INV-1", decode(t, w)["name"])

	w = f.do(http.MethodGet, "/api/v1/documents/"+f.docB.ID.String(), "clerk", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/api/v1/documents/"+f.docA.ID.String()+"/archive", "clerk", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)
	assert.Equal(t, "cancelled", entries[0]["state"])
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)

	w := f.do(http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "a@example.com", "password": "secret-pass"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "tok", decode(t, w)["token"].(map[string]any)["accessToken"])

	w = f.do(http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": "a@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRateLimit(t *testing.T) {
	l, err := middleware.NewRateLimiter("1-M")
	require.NoError(t, err)
	f := newFixture(t, func(cfg *RouterConfig) { cfg.RateLimiter = l })

	w := f.do(http.MethodGet, "/api/v1/documents/"+f.docA.ID.String(), "clerk", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(http.MethodGet, "/api/v1/documents/"+f.docA.ID.String(), "clerk", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
