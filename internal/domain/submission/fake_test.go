package submission

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"taxlink/internal/core/apperror"
	"taxlink/internal/core/id"
	"taxlink/internal/core/tenant"
	"taxlink/pkg/logger"
)

// memStore is an in-memory Repository and tx.Manager. Row locks taken with
// LockChainBase are released when the outermost transaction ends, and writes
// are undone when it fails.
type memStore struct {
	mu    sync.Mutex
	docs  map[id.ID]*Document
	locks map[id.ID]*memTx

	// afterLock runs after a chain base lock is granted, outside the store mutex.
	afterLock func(baseID id.ID)
	saves     int
}

type memTx struct {
	locks []id.ID
	undo  map[id.ID]*Document
}

type memTxKey struct{}

func newMemStore(docs ...*Document) *memStore {
	s := &memStore{docs: make(map[id.ID]*Document), locks: make(map[id.ID]*memTx)}
	for _, d := range docs {
		s.docs[d.ID] = cloneDoc(d)
	}
	return s
}

func cloneDoc(d *Document) *Document {
	c := *d
	c.Messages.Errors = slices.Clone(d.Messages.Errors)
	c.Payload = slices.Clone(d.Payload)
	if d.ChainBaseID != nil {
		v := *d.ChainBaseID
		c.ChainBaseID = &v
	}
	if d.LastSubmissionAt != nil {
		v := *d.LastSubmissionAt
		c.LastSubmissionAt = &v
	}
	return &c
}

func (s *memStore) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(memTxKey{}).(*memTx); ok {
		return fn(ctx)
	}
	t := &memTx{undo: make(map[id.ID]*Document)}
	err := fn(context.WithValue(ctx, memTxKey{}, t))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		for docID, prev := range t.undo {
			s.docs[docID] = prev
		}
	}
	for _, l := range t.locks {
		delete(s.locks, l)
	}
	return err
}

func (s *memStore) get(docID id.ID) *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docID]
	if !ok {
		return nil
	}
	return cloneDoc(d)
}

func (s *memStore) GetByID(ctx context.Context, docID id.ID) (*Document, error) {
	if d := s.get(docID); d != nil {
		return d, nil
	}
	return nil, apperror.NewNotFound("document", docID.String())
}

func (s *memStore) ListByIDs(ctx context.Context, ids []id.ID) ([]*Document, error) {
	var out []*Document
	for _, docID := range ids {
		if d := s.get(docID); d != nil {
			out = append(out, d)
		}
	}
	sortDocuments(out)
	return out, nil
}

func (s *memStore) filter(keep func(*Document) bool) []*Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Document
	for _, d := range s.docs {
		if keep(d) {
			out = append(out, cloneDoc(d))
		}
	}
	sortDocuments(out)
	return out
}

func (s *memStore) ListCorrections(ctx context.Context, parentIDs []id.ID) ([]*Document, error) {
	return s.filter(func(d *Document) bool {
		p := d.ParentID()
		return p != nil && slices.Contains(parentIDs, *p)
	}), nil
}

func (s *memStore) ListByTransaction(ctx context.Context, tenantID, reference string, states []State) ([]*Document, error) {
	return s.filter(func(d *Document) bool {
		return d.TenantID == tenantID && d.TransactionReference == reference && slices.Contains(states, d.State)
	}), nil
}

func (s *memStore) ListByStates(ctx context.Context, states []State, limit int) ([]*Document, error) {
	out := s.filter(func(d *Document) bool { return slices.Contains(states, d.State) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) LockChainBase(ctx context.Context, baseID id.ID) error {
	t, ok := ctx.Value(memTxKey{}).(*memTx)
	if !ok {
		return errors.New("lock outside transaction")
	}
	s.mu.Lock()
	if holder, held := s.locks[baseID]; held && holder != t {
		s.mu.Unlock()
		return apperror.NewLockConflict(baseID.String())
	}
	s.locks[baseID] = t
	t.locks = append(t.locks, baseID)
	hook := s.afterLock
	s.mu.Unlock()

	if hook != nil {
		hook(baseID)
	}
	return nil
}

func (s *memStore) SaveSubmission(ctx context.Context, doc *Document) error {
	t, _ := ctx.Value(memTxKey{}).(*memTx)
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.docs[doc.ID]
	if !ok {
		return apperror.NewNotFound("document", doc.ID.String())
	}
	if doc.Version != cur.Version {
		return apperror.NewConflict("Document was modified concurrently").
			WithDetail("document_id", doc.ID.String())
	}
	if t != nil {
		if _, saved := t.undo[doc.ID]; !saved {
			t.undo[doc.ID] = cur
		}
	}
	doc.Version = cur.Version + 1
	s.docs[doc.ID] = cloneDoc(doc)
	s.saves++
	return nil
}

// memEvents records published state changes.
type memEvents struct {
	mu      sync.Mutex
	changes []StateChange
}

func (e *memEvents) PublishStateChange(ctx context.Context, change StateChange) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.changes = append(e.changes, change)
	return nil
}

type stubRenderer struct {
	fail map[id.ID]error
}

func (r stubRenderer) Render(ctx context.Context, doc *Document) ([]byte, error) {
	if err := r.fail[doc.ID]; err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("<invoice><number>%s</number></invoice>", doc.Name)), nil
}

type memArchive struct {
	archived []id.ID
}

func (a *memArchive) ArchivePrevious(ctx context.Context, doc *Document) error {
	a.archived = append(a.archived, doc.ID)
	return nil
}

const testTenant = "tenant-1"

func testRegistry() tenant.Registry {
	return tenant.NewStaticRegistry(
		&tenant.Tenant{
			ID: testTenant, TaxNumber: "12345678", Status: tenant.StatusActive,
			Credentials: tenant.Credentials{Login: "user", Password: "pw", SigningKey: "sign", ExchangeKey: "exchange-key-016"},
		},
		&tenant.Tenant{
			ID: "tenant-2", TaxNumber: "87654321", Status: tenant.StatusActive,
			Credentials: tenant.Credentials{Login: "user2", Password: "pw", SigningKey: "sign", ExchangeKey: "exchange-key-016"},
		},
	)
}

// fixture wires a Service over in-memory collaborators.
type fixture struct {
	store     *memStore
	authority *MockAuthority
	events    *memEvents
	archive   *memArchive
	renderer  stubRenderer
	now       time.Time
	svc       *Service
}

func newFixture(t *testing.T, docs ...*Document) *fixture {
	t.Helper()
	f := &fixture{
		store:     newMemStore(docs...),
		authority: &MockAuthority{},
		events:    &memEvents{},
		archive:   &memArchive{},
		renderer:  stubRenderer{fail: map[id.ID]error{}},
		now:       time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(Dependencies{
		Repo:        f.store,
		TxManager:   f.store,
		Authority:   f.authority,
		Tenants:     testRegistry(),
		Renderer:    f.renderer,
		Attachments: f.archive,
		Events:      f.events,
		Now:         func() time.Time { return f.now },
	}, Config{})
	return f
}

func (f *fixture) doc(t *testing.T, docID id.ID) *Document {
	t.Helper()
	d := f.store.get(docID)
	if d == nil {
		t.Fatalf("document %s not found", docID)
	}
	return d
}

// newDoc builds a document; ids are time-ordered so creation order is id order.
func newDoc(name string, state State) *Document {
	return &Document{
		ID:             id.New(),
		TenantID:       testTenant,
		Name:           name,
		AmountResidual: decimal.NewFromInt(100),
		State:          state,
		Messages:       TransactionMessage{Errors: []string{}},
	}
}

func correctionOf(parent *Document, name string, state State) *Document {
	d := newDoc(name, state)
	parentID := parent.ID
	d.ReversedID = &parentID
	return d
}

func doneResult(index int, business ...string) StatusResult {
	return StatusResult{Index: index, Status: InvoiceDone, BusinessMessages: business}
}

func testCtx() context.Context {
	return logger.WithLogger(context.Background(), logger.NewNop())
}
