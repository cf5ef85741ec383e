package submission

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxlink/internal/core/apperror"
	appctx "taxlink/internal/core/context"
	"taxlink/internal/core/id"
	"taxlink/internal/core/tenant"
)

// Scenario A: a base document is uploaded and the authority returns TX1.
func TestUpload_BaseDocument(t *testing.T) {
	d1 := newDoc("INV-1", StateNone)
	f := newFixture(t, d1)
	f.authority.SubmitBatchFunc = func(ctx context.Context, creds tenant.Credentials, token Token, ops []InvoiceOperation) (string, error) {
		assert.Equal(t, "12345678", creds.TaxNumber)
		assert.Equal(t, "MOCK-TOKEN", token.Value)
		return "TX1", nil
	}

	report, err := f.svc.Upload(testCtx(), []id.ID{d1.ID})
	require.NoError(t, err)

	got := f.doc(t, d1.ID)
	assert.Equal(t, StateSent, got.State)
	assert.Equal(t, BaseChainIndex, got.ChainIndex)
	assert.Equal(t, "TX1", got.TransactionReference)
	assert.Equal(t, 1, got.BatchIndex)
	assert.Equal(t, BlockingNone, got.Messages.BlockingLevel)
	require.NotNil(t, got.LastSubmissionAt)
	assert.True(t, got.LastSubmissionAt.Equal(f.now))

	require.Len(t, f.authority.Submitted, 1)
	ops := f.authority.Submitted[0]
	require.Len(t, ops, 1)
	assert.Equal(t, InvoiceOperation{Index: 1, Kind: OperationCreate, Payload: got.Payload}, ops[0])

	assert.Equal(t, 1, report.Processed)
	require.Len(t, f.events.changes, 1)
	assert.Equal(t, StateNone, f.events.changes[0].From)
	assert.Equal(t, StateSent, f.events.changes[0].To)
	assert.Equal(t, OpUpload, f.events.changes[0].Operation)
}

func TestUpload_CorrectionKinds(t *testing.T) {
	base := newDoc("INV-1", StateConfirmed)
	base.ChainIndex = BaseChainIndex
	modify := correctionOf(base, "INV-2", StateNone)
	storno := correctionOf(base, "INV-3", StateNone)
	storno.AmountResidual = decimal.Zero
	f := newFixture(t, base, modify, storno)

	_, err := f.svc.Upload(testCtx(), []id.ID{storno.ID, modify.ID})
	require.NoError(t, err)

	require.Len(t, f.authority.Submitted, 1)
	ops := f.authority.Submitted[0]
	require.Len(t, ops, 2)
	// Ascending id order: modify was created first.
	assert.Equal(t, OperationModify, ops[0].Kind)
	assert.Equal(t, OperationModify, ops[1].Kind, "chain still carries residual")
	assert.Equal(t, 1, f.doc(t, modify.ID).ChainIndex)
	assert.Equal(t, 2, f.doc(t, storno.ID).ChainIndex)
	assert.Equal(t, 2, f.doc(t, storno.ID).BatchIndex)
}

func TestUpload_Storno(t *testing.T) {
	base := newDoc("INV-1", StateConfirmed)
	base.AmountResidual = decimal.Zero
	storno := correctionOf(base, "INV-2", StateNone)
	storno.AmountResidual = decimal.Zero
	f := newFixture(t, base, storno)

	_, err := f.svc.Upload(testCtx(), []id.ID{storno.ID})
	require.NoError(t, err)
	require.Len(t, f.authority.Submitted, 1)
	assert.Equal(t, OperationStorno, f.authority.Submitted[0][0].Kind)
}

func TestUpload_Timeout(t *testing.T) {
	d := newDoc("INV-1", StateNone)
	f := newFixture(t, d)
	f.authority.SubmitBatchFunc = func(context.Context, tenant.Credentials, Token, []InvoiceOperation) (string, error) {
		return "", &ConnectionError{Code: ConnTimeout, Errors: []string{"read timeout"}}
	}

	report, err := f.svc.Upload(testCtx(), []id.ID{d.ID})
	require.NoError(t, err)
	assert.Empty(t, report.Blocked())

	got := f.doc(t, d.ID)
	assert.Equal(t, StateSendTimeout, got.State)
	assert.Empty(t, got.TransactionReference)
	assert.Equal(t, BlockingWarning, got.Messages.BlockingLevel)
	assert.Equal(t, []string{"read timeout"}, got.Messages.Errors)
	assert.NotNil(t, got.LastSubmissionAt)
}

func TestUpload_ContextDeadlineIsTimeout(t *testing.T) {
	d := newDoc("INV-1", StateNone)
	f := newFixture(t, d)
	f.authority.SubmitBatchFunc = func(context.Context, tenant.Credentials, Token, []InvoiceOperation) (string, error) {
		return "", context.DeadlineExceeded
	}

	_, err := f.svc.Upload(testCtx(), []id.ID{d.ID})
	require.NoError(t, err)
	assert.Equal(t, StateSendTimeout, f.doc(t, d.ID).State)
}

func TestUpload_SubmitFailureRejectsAndVoidsIndex(t *testing.T) {
	base := newDoc("INV-1", StateConfirmed)
	corr := correctionOf(base, "INV-2", StateNone)
	f := newFixture(t, base, corr)
	f.authority.SubmitBatchFunc = func(context.Context, tenant.Credentials, Token, []InvoiceOperation) (string, error) {
		return "", &ConnectionError{Code: ConnOther, Errors: []string{"INVALID_REQUEST"}}
	}

	report, err := f.svc.Upload(testCtx(), []id.ID{corr.ID})
	require.NoError(t, err, "scheduled runs log blocking errors")
	require.Len(t, report.Blocked(), 1)

	got := f.doc(t, corr.ID)
	assert.Equal(t, StateRejected, got.State)
	assert.Equal(t, 0, got.ChainIndex)
	assert.Nil(t, got.ChainBaseID)
	assert.Empty(t, got.TransactionReference)
	assert.Equal(t, BlockingError, got.Messages.BlockingLevel)
	assert.Equal(t, []string{"INVALID_REQUEST"}, got.Messages.Errors)
}

func TestUpload_AuthFailure(t *testing.T) {
	d := newDoc("INV-1", StateRejected)
	d.TransactionReference = "OLD"
	f := newFixture(t, d)
	f.authority.AuthenticateFunc = func(context.Context, tenant.Credentials) (Token, error) {
		return Token{}, &ConnectionError{Code: ConnAuth, Errors: []string{"INVALID_SECURITY_USER"}}
	}

	_, err := f.svc.Upload(testCtx(), []id.ID{d.ID})
	require.NoError(t, err)
	assert.Empty(t, f.authority.Submitted)

	got := f.doc(t, d.ID)
	assert.Equal(t, StateRejected, got.State)
	assert.Empty(t, got.TransactionReference)
	assert.Equal(t, BlockingError, got.Messages.BlockingLevel)
}

func TestUpload_Interactive_ReturnsBlockingError(t *testing.T) {
	d := newDoc("INV-1", StateNone)
	f := newFixture(t, d)
	f.authority.SubmitBatchFunc = func(context.Context, tenant.Credentials, Token, []InvoiceOperation) (string, error) {
		return "", errors.New("connection reset")
	}
	ctx := appctx.WithMode(testCtx(), appctx.ModeInteractive)

	report, err := f.svc.Upload(ctx, []id.ID{d.ID})
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeBlocking))
	require.NotNil(t, report)
	assert.Equal(t, StateRejected, f.doc(t, d.ID).State, "state is written before the error is raised")
}

func TestUpload_Interactive_RefusesIneligible(t *testing.T) {
	d := newDoc("INV-1", StateConfirmed)
	f := newFixture(t, d)
	ctx := appctx.WithMode(testCtx(), appctx.ModeInteractive)

	_, err := f.svc.Upload(ctx, []id.ID{d.ID})
	assert.True(t, apperror.HasCode(err, apperror.CodeDocumentNotEligible))

	_, err = f.svc.Upload(ctx, []id.ID{id.New()})
	assert.True(t, apperror.IsNotFound(err))
}

func TestUpload_Scheduled_SkipsIneligibleAndUnpostable(t *testing.T) {
	confirmed := newDoc("INV-1", StateConfirmed)
	draft := newDoc("INV-2", StateNone)
	ok := newDoc("INV-3", StateNone)
	f := newFixture(t, confirmed, draft, ok)
	f.svc.postable = PostableFunc(func(ctx context.Context, doc *Document) (bool, error) {
		return doc.ID != draft.ID, nil
	})

	report, err := f.svc.Upload(testCtx(), []id.ID{confirmed.ID, draft.ID, ok.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []id.ID{confirmed.ID, draft.ID}, report.Skipped)
	assert.Equal(t, StateNone, f.doc(t, draft.ID).State)
	assert.Equal(t, StateSent, f.doc(t, ok.ID).State)
}

func TestUpload_RenderFailureSkipsDocument(t *testing.T) {
	bad := newDoc("INV-1", StateNone)
	good := newDoc("INV-2", StateNone)
	f := newFixture(t, bad, good)
	f.renderer.fail[bad.ID] = errors.New("missing buyer address")

	report, err := f.svc.Upload(testCtx(), []id.ID{bad.ID, good.ID})
	require.NoError(t, err)

	gotBad := f.doc(t, bad.ID)
	assert.Equal(t, StateNone, gotBad.State)
	assert.True(t, gotBad.Messages.IsBlocking())
	assert.Equal(t, []string{"missing buyer address"}, gotBad.Messages.Errors)

	assert.Equal(t, StateSent, f.doc(t, good.ID).State)
	require.Len(t, f.authority.Submitted, 1)
	assert.Len(t, f.authority.Submitted[0], 1)
	assert.Len(t, report.Blocked(), 1)
}

func TestUpload_ResubmitCancelledArchivesPayload(t *testing.T) {
	d := newDoc("INV-1", StateCancelled)
	d.Payload = []byte("<old/>")
	f := newFixture(t, d)

	_, err := f.svc.Upload(testCtx(), []id.ID{d.ID})
	require.NoError(t, err)
	assert.Equal(t, []id.ID{d.ID}, f.archive.archived)
	assert.Equal(t, StateSent, f.doc(t, d.ID).State)
	assert.NotEqual(t, []byte("<old/>"), f.doc(t, d.ID).Payload)
}

func TestUpload_LockConflictAbortsInvocation(t *testing.T) {
	other := newDoc("INV-0", StateNone)
	base := newDoc("INV-1", StateConfirmed)
	first := correctionOf(base, "INV-2", StateNone)
	f := newFixture(t, other, base, first)
	// Foreign transaction holds the chain base.
	f.store.locks[base.ID] = &memTx{}

	report, err := f.svc.Upload(testCtx(), []id.ID{other.ID, first.ID})
	require.Error(t, err)
	assert.True(t, apperror.IsLockConflict(err))
	assert.True(t, apperror.IsRetryable(err))
	require.NotNil(t, report)

	assert.Empty(t, f.authority.Submitted)
	assert.Equal(t, StateNone, f.doc(t, other.ID).State)
	assert.Equal(t, StateNone, f.doc(t, first.ID).State)
	assert.Equal(t, 0, f.doc(t, first.ID).ChainIndex)
}

func TestUpload_BatchesPerTenant(t *testing.T) {
	a1 := newDoc("A-1", StateNone)
	b1 := newDoc("B-1", StateNone)
	b1.TenantID = "tenant-2"
	a2 := newDoc("A-2", StateNone)
	f := newFixture(t, a1, b1, a2)

	_, err := f.svc.Upload(testCtx(), []id.ID{a1.ID, b1.ID, a2.ID})
	require.NoError(t, err)

	require.Len(t, f.authority.Submitted, 3, "tenant change starts a new batch")
	assert.Equal(t, "MOCK-TX1", f.doc(t, a1.ID).TransactionReference)
	assert.Equal(t, "MOCK-TX2", f.doc(t, b1.ID).TransactionReference)
	assert.Equal(t, "MOCK-TX3", f.doc(t, a2.ID).TransactionReference)
}

func TestUpload_UnknownTenantRejects(t *testing.T) {
	d := newDoc("INV-1", StateNone)
	d.TenantID = "ghost"
	f := newFixture(t, d)

	_, err := f.svc.UploadPending(testCtx(), 10)
	require.NoError(t, err)
	got := f.doc(t, d.ID)
	assert.Equal(t, StateRejected, got.State)
	assert.Equal(t, titleNoCredentials, got.Messages.Title)
}
