// Package fingerprint is the single dedup authority: every document-derived
// entity registers its content hash here before it is persisted.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/repository"
)

// Sum returns the hex SHA-256 of the raw bytes. Filenames and metadata play no part.
func Sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Owner identifies the holder of a registration.
type Owner struct {
	Kind constants.OwnerKind
	ID   uuid.UUID
}

func (o Owner) String() string { return string(o.Kind) + ":" + o.ID.String() }

// Store implements exists/register/release/transfer on top of the registry table.
type Store struct {
	store          *repository.Store
	reservationTTL time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

type Option func(*Store)

// WithReservationTTL sets how long an upload reservation blocks others before it counts as abandoned.
func WithReservationTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.reservationTTL = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(store *repository.Store, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		store:          store,
		reservationTTL: 15 * time.Minute,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Exists reports whether a report, an active queue item or a live upload holds hash.
func (s *Store) Exists(ctx context.Context, hash string) (bool, error) {
	reg, err := s.store.Fingerprints().Get(ctx, hash)
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !s.abandoned(reg), nil
}

// Lookup returns the current registration, if any.
func (s *Store) Lookup(ctx context.Context, hash string) (*entity.Registration, error) {
	return s.store.Fingerprints().Get(ctx, hash)
}

// Register reserves hash for owner in its own committed transaction.
// Use RegisterTx to register together with the owning entity.
func (s *Store) Register(ctx context.Context, hash string, owner Owner) error {
	return s.store.InTx(ctx, func(tx *repository.Tx) error {
		return s.RegisterTx(ctx, tx, hash, owner)
	})
}

// RegisterTx registers hash inside tx. Registering again with the same owner is a no-op;
// a different live owner yields *common.DuplicateError.
func (s *Store) RegisterTx(ctx context.Context, tx *repository.Tx, hash string, owner Owner) error {
	fps := tx.Fingerprints()
	existing, err := fps.Get(ctx, hash)
	switch {
	case errors.Is(err, common.ErrNotFound):
		if err := fps.Insert(ctx, s.reg(hash, owner)); err != nil {
			if errors.Is(err, repository.ErrUniqueViolation) {
				// Lost a race with a concurrent registration.
				return &common.DuplicateError{Fingerprint: hash, OwnerKind: "unknown"}
			}
			return err
		}
		s.logger.Debug("fingerprint.registered", "hash", hash, "owner_kind", owner.Kind, "owner_id", owner.ID)
		return nil
	case err != nil:
		return err
	}

	if existing.OwnerKind == owner.Kind && existing.OwnerID == owner.ID {
		return nil
	}
	if s.abandoned(existing) {
		from := entity.Registration{OwnerKind: existing.OwnerKind, OwnerID: existing.OwnerID}
		ok, err := fps.Replace(ctx, hash, from, s.reg(hash, owner))
		if err != nil {
			return err
		}
		if ok {
			s.logger.Warn("fingerprint.reservation_taken_over",
				"hash", hash, "stale_owner", existing.OwnerID, "age", s.now().Sub(existing.CreatedAt).String())
			return nil
		}
	}
	return &common.DuplicateError{Fingerprint: hash, OwnerKind: string(existing.OwnerKind), OwnerID: existing.OwnerID.String()}
}

// Release drops the registration if owner still holds it. Releasing twice is harmless.
func (s *Store) Release(ctx context.Context, hash string, owner Owner) error {
	_, err := s.ReleaseTx(ctx, s.store.Fingerprints(), hash, owner)
	return err
}

// ReleaseTx is Release against a specific repository (usually a transaction's).
func (s *Store) ReleaseTx(ctx context.Context, fps repository.FingerprintRepository, hash string, owner Owner) (bool, error) {
	ok, err := fps.Delete(ctx, hash, owner.Kind, owner.ID)
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Debug("fingerprint.released", "hash", hash, "owner_kind", owner.Kind, "owner_id", owner.ID)
	}
	return ok, nil
}

// TransferTx moves ownership from one owner to another inside tx.
// It fails with *common.DuplicateError when from no longer holds hash.
func (s *Store) TransferTx(ctx context.Context, tx *repository.Tx, hash string, from, to Owner) error {
	ok, err := tx.Fingerprints().Replace(ctx, hash, s.reg(hash, from), s.reg(hash, to))
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	existing, err := tx.Fingerprints().Get(ctx, hash)
	if errors.Is(err, common.ErrNotFound) {
		// Reservation vanished (released or taken over and finished); claim it fresh.
		if err := tx.Fingerprints().Insert(ctx, s.reg(hash, to)); err != nil {
			if errors.Is(err, repository.ErrUniqueViolation) {
				return &common.DuplicateError{Fingerprint: hash, OwnerKind: "unknown"}
			}
			return err
		}
		return nil
	}
	if err != nil {
		return err
	}
	return &common.DuplicateError{Fingerprint: hash, OwnerKind: string(existing.OwnerKind), OwnerID: existing.OwnerID.String()}
}

func (s *Store) abandoned(reg *entity.Registration) bool {
	return reg.OwnerKind == constants.OwnerUpload && s.now().Sub(reg.CreatedAt) > s.reservationTTL
}

func (s *Store) reg(hash string, o Owner) entity.Registration {
	return entity.Registration{Fingerprint: hash, OwnerKind: o.Kind, OwnerID: o.ID, CreatedAt: s.now()}
}
