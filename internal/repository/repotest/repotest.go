// Package repotest opens throwaway SQLite stores for package tests.
package repotest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/repository"
)

// Logger discards everything below error.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// NewStore returns a migrated store backed by a SQLite file in t.TempDir().
func NewStore(t testing.TB) *repository.Store {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "audit.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := repository.Open(ctx, repository.Config{Driver: "sqlite", DSN: dsn}, Logger())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close(Logger()) })
	require.NoError(t, repository.Migrate(ctx, db.Driver, Logger()))
	return repository.NewStore(db.Driver, Logger())
}

// SeedReport registers a fingerprint to a fresh report and inserts it with no children.
func SeedReport(t testing.TB, store *repository.Store, title string) *entity.Report {
	t.Helper()
	ctx := context.Background()
	rep := &entity.Report{
		ID:          uuid.New(),
		Fingerprint: uuid.NewString(),
		Title:       title,
		Agency:      "Office of the Inspector General",
		State:       "US",
		Channel:     "upload",
	}
	rep.Slug = rep.Fingerprint[:12]
	require.NoError(t, store.InTx(ctx, func(tx *repository.Tx) error {
		err := tx.Fingerprints().Insert(ctx, entity.Registration{
			Fingerprint: rep.Fingerprint,
			OwnerKind:   constants.OwnerReport,
			OwnerID:     rep.ID,
			CreatedAt:   time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		return tx.Reports().Create(ctx, rep)
	}))
	return rep
}
