package fingerprint_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/fingerprint"
	"github.com/joseph-ayodele/audit-reports/internal/repository"
	"github.com/joseph-ayodele/audit-reports/internal/repository/repotest"
)

func TestSumIsContentAddressed(t *testing.T) {
	a := fingerprint.Sum([]byte("%PDF-1.7 same bytes"))
	b := fingerprint.Sum([]byte("%PDF-1.7 same bytes"))
	c := fingerprint.Sum([]byte("%PDF-1.7 other bytes"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
	// sha256("")
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", fingerprint.Sum(nil))
}

func TestRegisterDuplicateOwner(t *testing.T) {
	ctx := context.Background()
	fs := fingerprint.NewStore(repotest.NewStore(t), repotest.Logger())
	hash := fingerprint.Sum([]byte("doc"))

	first := fingerprint.Owner{Kind: constants.OwnerUpload, ID: uuid.New()}
	require.NoError(t, fs.Register(ctx, hash, first))
	// same owner is idempotent
	require.NoError(t, fs.Register(ctx, hash, first))

	err := fs.Register(ctx, hash, fingerprint.Owner{Kind: constants.OwnerQueueItem, ID: uuid.New()})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrDuplicate)
	var dup *common.DuplicateError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, string(constants.OwnerUpload), dup.OwnerKind)
	assert.Equal(t, first.ID.String(), dup.OwnerID)

	exists, err := fs.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestReleaseFreesFingerprint(t *testing.T) {
	ctx := context.Background()
	fs := fingerprint.NewStore(repotest.NewStore(t), repotest.Logger())
	hash := fingerprint.Sum([]byte("doc"))
	owner := fingerprint.Owner{Kind: constants.OwnerQueueItem, ID: uuid.New()}

	require.NoError(t, fs.Register(ctx, hash, owner))
	// a stranger's release is ignored
	require.NoError(t, fs.Release(ctx, hash, fingerprint.Owner{Kind: constants.OwnerQueueItem, ID: uuid.New()}))
	exists, err := fs.Exists(ctx, hash)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, fs.Release(ctx, hash, owner))
	exists, err = fs.Exists(ctx, hash)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, fs.Register(ctx, hash, fingerprint.Owner{Kind: constants.OwnerUpload, ID: uuid.New()}))
}

func TestAbandonedUploadReservationCanBeTakenOver(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewStore(t)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	fs := fingerprint.NewStore(repo, repotest.Logger(),
		fingerprint.WithReservationTTL(10*time.Minute),
		fingerprint.WithClock(func() time.Time { return now }),
	)
	hash := fingerprint.Sum([]byte("crashed upload"))

	require.NoError(t, fs.Register(ctx, hash, fingerprint.Owner{Kind: constants.OwnerUpload, ID: uuid.New()}))

	now = now.Add(5 * time.Minute)
	err := fs.Register(ctx, hash, fingerprint.Owner{Kind: constants.OwnerUpload, ID: uuid.New()})
	assert.ErrorIs(t, err, common.ErrDuplicate, "live reservation still blocks")

	now = now.Add(30 * time.Minute)
	exists, err := fs.Exists(ctx, hash)
	require.NoError(t, err)
	assert.False(t, exists)

	next := fingerprint.Owner{Kind: constants.OwnerUpload, ID: uuid.New()}
	require.NoError(t, fs.Register(ctx, hash, next))
	reg, err := fs.Lookup(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, next.ID, reg.OwnerID)
}

func TestReportOwnershipNeverExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fs := fingerprint.NewStore(repotest.NewStore(t), repotest.Logger(),
		fingerprint.WithClock(func() time.Time { return now }))
	hash := fingerprint.Sum([]byte("report"))

	require.NoError(t, fs.Register(ctx, hash, fingerprint.Owner{Kind: constants.OwnerReport, ID: uuid.New()}))
	now = now.Add(365 * 24 * time.Hour)
	err := fs.Register(ctx, hash, fingerprint.Owner{Kind: constants.OwnerUpload, ID: uuid.New()})
	assert.ErrorIs(t, err, common.ErrDuplicate)
}

func TestTransferInsideTransaction(t *testing.T) {
	ctx := context.Background()
	repo := repotest.NewStore(t)
	fs := fingerprint.NewStore(repo, repotest.Logger())
	hash := fingerprint.Sum([]byte("promote me"))
	item := fingerprint.Owner{Kind: constants.OwnerQueueItem, ID: uuid.New()}
	report := fingerprint.Owner{Kind: constants.OwnerReport, ID: uuid.New()}

	require.NoError(t, fs.Register(ctx, hash, item))
	require.NoError(t, repo.InTx(ctx, func(tx *repository.Tx) error {
		return fs.TransferTx(ctx, tx, hash, item, report)
	}))

	reg, err := fs.Lookup(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, constants.OwnerReport, reg.OwnerKind)
	assert.Equal(t, report.ID, reg.OwnerID)

	// the old owner cannot transfer again
	err = repo.InTx(ctx, func(tx *repository.Tx) error {
		return fs.TransferTx(ctx, tx, hash, item, fingerprint.Owner{Kind: constants.OwnerReport, ID: uuid.New()})
	})
	assert.ErrorIs(t, err, common.ErrDuplicate)
}
