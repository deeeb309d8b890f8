package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// repos hands out repositories bound to one querier: the pooled driver or an open transaction.
type repos struct {
	q       dialect.ExecQuerier
	dialect string
	logger  *slog.Logger
}

func (r repos) base() base { return base{q: r.q, dialect: r.dialect, logger: r.logger} }

func (r repos) Fingerprints() FingerprintRepository { return &fingerprintRepo{r.base()} }
func (r repos) Reports() ReportRepository           { return &reportRepo{r.base()} }
func (r repos) Keywords() KeywordRepository         { return &keywordRepo{r.base()} }
func (r repos) QueueItems() QueueItemRepository     { return &queueItemRepo{r.base()} }
func (r repos) Costs() CostRepository               { return &costRepo{r.base()} }

// Store is the root of all persistence. The database is the only shared mutable state.
type Store struct {
	repos
	drv *entsql.Driver
}

func NewStore(drv *entsql.Driver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repos: repos{q: drv, dialect: drv.Dialect(), logger: logger},
		drv:   drv,
	}
}

// Tx exposes the same repositories bound to one database transaction.
type Tx struct {
	repos
}

// InTx runs fn inside a transaction, committing when fn returns nil.
// Never call slow work (extraction, AI) from fn.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", ErrTx, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&Tx{repos: repos{q: tx, dialect: s.dialect, logger: s.logger}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("tx rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrTx, err)
	}
	return nil
}

var (
	// ErrTx wraps begin/commit failures.
	ErrTx = errors.New("transaction failed")
	// ErrUniqueViolation is returned when an insert hits a unique index.
	ErrUniqueViolation = errors.New("unique constraint violation")
)

// base carries the shared query helpers.
type base struct {
	q       dialect.ExecQuerier
	dialect string
	logger  *slog.Logger
}

func (b base) sql() *entsql.DialectBuilder { return entsql.Dialect(b.dialect) }

func (b base) exec(ctx context.Context, query string, args []any) (int64, error) {
	var res sql.Result
	if err := b.q.Exec(ctx, query, args, &res); err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %v", ErrUniqueViolation, err)
		}
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (b base) query(ctx context.Context, query string, args []any) (*entsql.Rows, error) {
	rows := &entsql.Rows{}
	if err := b.q.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// count runs a single-column integer query.
func (b base) count(ctx context.Context, query string, args []any) (int64, error) {
	rows, err := b.query(ctx, query, args)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var n sql.NullInt64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n.Int64, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return false
}

func idArg(id uuid.UUID) any { return id.String() }

func optIDArg(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func optUUID(n uuid.NullUUID) *uuid.UUID {
	if !n.Valid {
		return nil
	}
	id := n.UUID
	return &id
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 1000
)

// paginate always sets a LIMIT; SQLite rejects a bare OFFSET.
func paginate(sel *entsql.Selector, limit, offset int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	sel.Limit(limit)
	if offset > 0 {
		sel.Offset(offset)
	}
}
