package repository

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
)

// FingerprintRepository is raw access to the fingerprint registry.
// Ownership rules live in the fingerprint package.
type FingerprintRepository interface {
	Get(ctx context.Context, hash string) (*entity.Registration, error)
	Insert(ctx context.Context, reg entity.Registration) error
	// Replace swaps the owner only if the row still has the expected owner.
	Replace(ctx context.Context, hash string, from, to entity.Registration) (bool, error)
	Delete(ctx context.Context, hash string, kind constants.OwnerKind, ownerID uuid.UUID) (bool, error)
}

type fingerprintRepo struct{ base }

var fingerprintCols = []string{"hash", "owner_kind", "owner_id", "created_at"}

func (r *fingerprintRepo) Get(ctx context.Context, hash string) (*entity.Registration, error) {
	query, args := r.sql().Select(fingerprintCols...).
		From(entsql.Table(FingerprintsTable.Name)).
		Where(entsql.EQ("hash", hash)).
		Query()
	rows, err := r.query(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to get fingerprint", "hash", hash, "error", err)
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, common.ErrNotFound
	}
	var (
		reg  entity.Registration
		kind string
	)
	if err := rows.Scan(&reg.Fingerprint, &kind, &reg.OwnerID, &reg.CreatedAt); err != nil {
		return nil, err
	}
	reg.OwnerKind = constants.OwnerKind(kind)
	return &reg, nil
}

func (r *fingerprintRepo) Insert(ctx context.Context, reg entity.Registration) error {
	if reg.CreatedAt.IsZero() {
		reg.CreatedAt = time.Now().UTC()
	}
	query, args := r.sql().Insert(FingerprintsTable.Name).
		Columns(fingerprintCols...).
		Values(reg.Fingerprint, string(reg.OwnerKind), idArg(reg.OwnerID), reg.CreatedAt).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		r.logger.Debug("fingerprint insert failed", "hash", reg.Fingerprint, "owner_kind", reg.OwnerKind, "error", err)
		return err
	}
	return nil
}

func (r *fingerprintRepo) Replace(ctx context.Context, hash string, from, to entity.Registration) (bool, error) {
	if to.CreatedAt.IsZero() {
		to.CreatedAt = time.Now().UTC()
	}
	query, args := r.sql().Update(FingerprintsTable.Name).
		Set("owner_kind", string(to.OwnerKind)).
		Set("owner_id", idArg(to.OwnerID)).
		Set("created_at", to.CreatedAt).
		Where(entsql.And(
			entsql.EQ("hash", hash),
			entsql.EQ("owner_kind", string(from.OwnerKind)),
			entsql.EQ("owner_id", idArg(from.OwnerID)),
		)).
		Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to replace fingerprint owner", "hash", hash, "error", err)
		return false, err
	}
	return n == 1, nil
}

func (r *fingerprintRepo) Delete(ctx context.Context, hash string, kind constants.OwnerKind, ownerID uuid.UUID) (bool, error) {
	query, args := r.sql().Delete(FingerprintsTable.Name).
		Where(entsql.And(
			entsql.EQ("hash", hash),
			entsql.EQ("owner_kind", string(kind)),
			entsql.EQ("owner_id", idArg(ownerID)),
		)).
		Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to delete fingerprint", "hash", hash, "error", err)
		return false, err
	}
	return n == 1, nil
}
