package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/repository"
	"github.com/joseph-ayodele/audit-reports/internal/repository/repotest"
)

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)
	_, err := store.Reports().Count(ctx)
	require.NoError(t, err)
}

func TestFingerprintInsertRejectsSecondOwner(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)
	fps := store.Fingerprints()

	first := entity.Registration{Fingerprint: "abc123", OwnerKind: constants.OwnerUpload, OwnerID: uuid.New()}
	require.NoError(t, fps.Insert(ctx, first))

	err := fps.Insert(ctx, entity.Registration{Fingerprint: "abc123", OwnerKind: constants.OwnerUpload, OwnerID: uuid.New()})
	require.Error(t, err)
	assert.ErrorIs(t, err, repository.ErrUniqueViolation)

	got, err := fps.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, first.OwnerID, got.OwnerID)
	assert.Equal(t, constants.OwnerUpload, got.OwnerKind)
}

func TestFingerprintReplaceRequiresCurrentOwner(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)
	fps := store.Fingerprints()

	owner := entity.Registration{Fingerprint: "h1", OwnerKind: constants.OwnerUpload, OwnerID: uuid.New()}
	require.NoError(t, fps.Insert(ctx, owner))

	stranger := entity.Registration{OwnerKind: constants.OwnerUpload, OwnerID: uuid.New()}
	report := entity.Registration{OwnerKind: constants.OwnerReport, OwnerID: uuid.New()}

	ok, err := fps.Replace(ctx, "h1", stranger, report)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = fps.Replace(ctx, "h1", owner, report)
	require.NoError(t, err)
	assert.True(t, ok)

	deleted, err := fps.Delete(ctx, "h1", constants.OwnerUpload, owner.OwnerID)
	require.NoError(t, err)
	assert.False(t, deleted, "old owner can no longer release")
}

func TestReportCreateRequiresRegistration(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)

	rep := &entity.Report{ID: uuid.New(), Fingerprint: "f-unregistered", Slug: "x", Title: "X"}
	err := store.Reports().Create(ctx, rep)
	assert.ErrorIs(t, err, repository.ErrUnregisteredFingerprint)
}

func TestReportRoundTripWithChildren(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)
	impact := 1250.5

	rep := &entity.Report{
		ID:          uuid.New(),
		Fingerprint: "f-1",
		Slug:        "medicaid-audit-f1",
		Title:       "Medicaid Audit",
		Agency:      "State Auditor",
		State:       "TX",
		Channel:     "upload",
		Objectives:  []entity.Objective{{Body: "Assess eligibility"}},
		Findings: []entity.Finding{
			{Body: "Improper payments", FinancialImpact: &impact},
			{Body: "Weak controls"},
		},
		Recommendations: []entity.Recommendation{{Body: "Recover funds"}},
	}
	err := store.InTx(ctx, func(tx *repository.Tx) error {
		if err := tx.Fingerprints().Insert(ctx, entity.Registration{Fingerprint: rep.Fingerprint, OwnerKind: constants.OwnerReport, OwnerID: rep.ID}); err != nil {
			return err
		}
		return tx.Reports().Create(ctx, rep)
	})
	require.NoError(t, err)

	got, err := store.Reports().Get(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, "Medicaid Audit", got.Title)
	require.Len(t, got.Findings, 2)
	assert.Equal(t, 0, got.Findings[0].Position)
	require.NotNil(t, got.Findings[0].FinancialImpact)
	assert.InDelta(t, 1250.5, *got.Findings[0].FinancialImpact, 1e-9)
	assert.Nil(t, got.Findings[1].FinancialImpact)
	require.Len(t, got.Recommendations, 1)
	require.Len(t, got.Objectives, 1)

	byHash, err := store.Reports().GetByFingerprint(ctx, "f-1")
	require.NoError(t, err)
	assert.Equal(t, rep.ID, byHash.ID)

	require.NoError(t, store.Reports().Delete(ctx, rep.ID))
	_, err = store.Reports().Get(ctx, rep.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)
	boom := errors.New("boom")

	err := store.InTx(ctx, func(tx *repository.Tx) error {
		if err := tx.Fingerprints().Insert(ctx, entity.Registration{Fingerprint: "rolled", OwnerKind: constants.OwnerUpload, OwnerID: uuid.New()}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.Fingerprints().Get(ctx, "rolled")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestQueueTransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)
	q := store.QueueItems()

	item := &entity.QueueItem{Fingerprint: "qf", SourceURL: "https://example.gov/a.pdf", Title: "A"}
	require.NoError(t, q.Create(ctx, item))
	assert.Equal(t, constants.QueueStateDiscovered, item.State)

	ok, err := q.Transition(ctx, item.ID, constants.QueueStateDiscovered, constants.QueueStateClassifying, repository.TransitionFields{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Transition(ctx, item.ID, constants.QueueStateDiscovered, constants.QueueStateClassifying, repository.TransitionFields{})
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	verdict := constants.VerdictRelevant
	conf := 0.8
	ok, err = q.Transition(ctx, item.ID, constants.QueueStateClassifying, constants.QueueStateRelevantPendingReview,
		repository.TransitionFields{Verdict: &verdict, Confidence: &conf})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := q.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.QueueStateRelevantPendingReview, got.State)
	require.NotNil(t, got.Verdict)
	assert.Equal(t, constants.VerdictRelevant, *got.Verdict)

	active, err := q.ActiveByFingerprint(ctx, "qf")
	require.NoError(t, err)
	assert.Equal(t, item.ID, active.ID)

	counts, err := q.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[constants.QueueStateRelevantPendingReview])
	assert.Equal(t, int64(0), counts[constants.QueueStateDiscovered])
	assert.Len(t, counts, len(constants.AllQueueStates))
}

func TestKeywordAliasJoin(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)
	kw := store.Keywords()

	k := &entity.CanonicalKeyword{Label: "Internal Controls", Slug: "internal-controls"}
	require.NoError(t, kw.CreateCanonical(ctx, k))
	require.NoError(t, kw.InsertAlias(ctx, "internal controls", k.ID))
	require.NoError(t, kw.AddUsage(ctx, k.ID, 2))

	a, err := kw.GetAlias(ctx, "internal controls")
	require.NoError(t, err)
	assert.Equal(t, k.ID, a.CanonicalID)
	assert.Equal(t, "Internal Controls", a.Label)
	assert.Equal(t, int64(2), a.UsageCount)

	err = kw.InsertAlias(ctx, "internal controls", uuid.New())
	assert.Error(t, err)
}

func TestCostRecordsListByReport(t *testing.T) {
	ctx := context.Background()
	store := repotest.NewStore(t)
	qid := uuid.New()

	rec := &entity.CostRecord{
		QueueItemID: &qid,
		Operation:   constants.OperationClassify,
		Provider:    "openai",
		Model:       "gpt-4o-mini",
		Attempt:     1,
		InputTokens: 100, OutputTokens: 20, TotalTokens: 120,
		TotalCost: 0.000027,
		Status:    constants.AttemptStatusSuccess,
	}
	require.NoError(t, store.Costs().Insert(ctx, rec))

	list, err := store.Costs().ListByQueueItem(ctx, qid)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].ReportID)
	assert.Equal(t, int64(120), list[0].TotalTokens)
	assert.False(t, list[0].Estimated)
}
