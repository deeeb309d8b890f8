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

// KeywordRepository covers canonical keywords, aliases, unmatched terms and mentions.
// Counter maintenance is the caller's job and must happen in the same transaction.
type KeywordRepository interface {
	CreateCanonical(ctx context.Context, k *entity.CanonicalKeyword) error
	GetCanonical(ctx context.Context, id uuid.UUID) (*entity.CanonicalKeyword, error)
	GetCanonicalBySlug(ctx context.Context, slug string) (*entity.CanonicalKeyword, error)
	ListCanonical(ctx context.Context, limit, offset int) ([]entity.CanonicalKeyword, error)
	AddUsage(ctx context.Context, id uuid.UUID, delta int64) error
	DeleteCanonical(ctx context.Context, id uuid.UUID) error

	GetAlias(ctx context.Context, alias string) (*entity.Alias, error)
	ListAliases(ctx context.Context) ([]entity.Alias, error)
	AliasesOf(ctx context.Context, canonicalID uuid.UUID) ([]string, error)
	InsertAlias(ctx context.Context, alias string, canonicalID uuid.UUID) error
	MoveAliases(ctx context.Context, from, to uuid.UUID) (int64, error)

	GetUnmatched(ctx context.Context, id uuid.UUID) (*entity.UnmatchedTerm, error)
	GetUnmatchedByNormalized(ctx context.Context, normalized string) (*entity.UnmatchedTerm, error)
	CreateUnmatched(ctx context.Context, t *entity.UnmatchedTerm) error
	// EnsureUnmatched returns the term for normalized, creating it with a zero count.
	// Concurrent callers converge on one row without aborting their transactions.
	EnsureUnmatched(ctx context.Context, normalized string) (*entity.UnmatchedTerm, error)
	AddOccurrence(ctx context.Context, id uuid.UUID, delta int64, seen time.Time) error
	DeleteUnmatched(ctx context.Context, id uuid.UUID) error
	ListUnmatched(ctx context.Context, limit, offset int) ([]entity.UnmatchedTerm, error)
	CountUnmatched(ctx context.Context) (int64, error)
	UnmatchedReportIDs(ctx context.Context, normalized string) ([]uuid.UUID, error)

	InsertMention(ctx context.Context, m *entity.KeywordMention) error
	MentionsByReport(ctx context.Context, reportID uuid.UUID) ([]entity.KeywordMention, error)
	CountUnmatchedMentions(ctx context.Context, normalized string) (int64, error)
	CountMentions(ctx context.Context, canonicalID uuid.UUID) (int64, error)
	// AttachUnmatchedMentions points every unmatched mention of normalized at canonicalID.
	AttachUnmatchedMentions(ctx context.Context, normalized string, canonicalID uuid.UUID) (int64, error)
	MoveMentions(ctx context.Context, from, to uuid.UUID) (int64, error)
}

type keywordRepo struct{ base }

var (
	canonicalCols = []string{"id", "label", "slug", "usage_count", "created_at", "updated_at"}
	unmatchedCols = []string{"id", "normalized", "occurrence_count", "first_seen", "last_seen"}
	mentionCols   = []string{"id", "report_id", "scope_kind", "scope_id", "raw_text", "normalized", "canonical_id", "created_at"}
)

func (r *keywordRepo) CreateCanonical(ctx context.Context, k *entity.CanonicalKeyword) error {
	now := time.Now().UTC()
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	k.CreatedAt, k.UpdatedAt = now, now
	query, args := r.sql().Insert(CanonicalKeywordsTable.Name).
		Columns(canonicalCols...).
		Values(idArg(k.ID), k.Label, k.Slug, k.UsageCount, k.CreatedAt, k.UpdatedAt).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		r.logger.Error("failed to create canonical keyword", "label", k.Label, "error", err)
		return err
	}
	return nil
}

func (r *keywordRepo) GetCanonical(ctx context.Context, id uuid.UUID) (*entity.CanonicalKeyword, error) {
	return r.oneCanonical(ctx, entsql.EQ("id", idArg(id)))
}

func (r *keywordRepo) GetCanonicalBySlug(ctx context.Context, slug string) (*entity.CanonicalKeyword, error) {
	return r.oneCanonical(ctx, entsql.EQ("slug", slug))
}

func (r *keywordRepo) oneCanonical(ctx context.Context, pred *entsql.Predicate) (*entity.CanonicalKeyword, error) {
	query, args := r.sql().Select(canonicalCols...).
		From(entsql.Table(CanonicalKeywordsTable.Name)).
		Where(pred).
		Query()
	list, err := r.scanCanonical(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, common.ErrNotFound
	}
	return &list[0], nil
}

func (r *keywordRepo) ListCanonical(ctx context.Context, limit, offset int) ([]entity.CanonicalKeyword, error) {
	sel := r.sql().Select(canonicalCols...).
		From(entsql.Table(CanonicalKeywordsTable.Name)).
		OrderBy(entsql.Desc("usage_count"), "label")
	paginate(sel, limit, offset)
	query, args := sel.Query()
	return r.scanCanonical(ctx, query, args)
}

func (r *keywordRepo) scanCanonical(ctx context.Context, query string, args []any) ([]entity.CanonicalKeyword, error) {
	rows, err := r.query(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to query canonical keywords", "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []entity.CanonicalKeyword
	for rows.Next() {
		var k entity.CanonicalKeyword
		if err := rows.Scan(&k.ID, &k.Label, &k.Slug, &k.UsageCount, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *keywordRepo) AddUsage(ctx context.Context, id uuid.UUID, delta int64) error {
	query, args := r.sql().Update(CanonicalKeywordsTable.Name).
		Add("usage_count", delta).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.EQ("id", idArg(id))).
		Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to update keyword usage", "canonical_id", id, "delta", delta, "error", err)
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *keywordRepo) DeleteCanonical(ctx context.Context, id uuid.UUID) error {
	// Aliases first so the delete does not depend on FK cascade support.
	query, args := r.sql().Delete(KeywordAliasesTable.Name).Where(entsql.EQ("canonical_id", idArg(id))).Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		return err
	}
	query, args = r.sql().Delete(CanonicalKeywordsTable.Name).Where(entsql.EQ("id", idArg(id))).Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to delete canonical keyword", "canonical_id", id, "error", err)
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// aliasSelect joins aliases with their canonical row.
func (r *keywordRepo) aliasSelect() (*entsql.Selector, *entsql.SelectTable) {
	a := r.sql().Table(KeywordAliasesTable.Name).As("a")
	k := r.sql().Table(CanonicalKeywordsTable.Name).As("k")
	sel := r.sql().Select(a.C("alias"), a.C("canonical_id"), k.C("usage_count"), k.C("label")).
		From(a).
		Join(k).On(a.C("canonical_id"), k.C("id"))
	return sel, a
}

func (r *keywordRepo) GetAlias(ctx context.Context, alias string) (*entity.Alias, error) {
	sel, a := r.aliasSelect()
	query, args := sel.Where(entsql.EQ(a.C("alias"), alias)).Query()
	list, err := r.scanAliases(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, common.ErrNotFound
	}
	return &list[0], nil
}

func (r *keywordRepo) ListAliases(ctx context.Context) ([]entity.Alias, error) {
	sel, a := r.aliasSelect()
	query, args := sel.OrderBy(a.C("alias")).Query()
	return r.scanAliases(ctx, query, args)
}

func (r *keywordRepo) scanAliases(ctx context.Context, query string, args []any) ([]entity.Alias, error) {
	rows, err := r.query(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to query keyword aliases", "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []entity.Alias
	for rows.Next() {
		var a entity.Alias
		if err := rows.Scan(&a.Alias, &a.CanonicalID, &a.UsageCount, &a.Label); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *keywordRepo) AliasesOf(ctx context.Context, canonicalID uuid.UUID) ([]string, error) {
	query, args := r.sql().Select("alias").
		From(entsql.Table(KeywordAliasesTable.Name)).
		Where(entsql.EQ("canonical_id", idArg(canonicalID))).
		OrderBy("alias").
		Query()
	rows, err := r.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *keywordRepo) InsertAlias(ctx context.Context, alias string, canonicalID uuid.UUID) error {
	query, args := r.sql().Insert(KeywordAliasesTable.Name).
		Columns("alias", "canonical_id", "created_at").
		Values(alias, idArg(canonicalID), time.Now().UTC()).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		r.logger.Error("failed to insert keyword alias", "alias", alias, "canonical_id", canonicalID, "error", err)
		return err
	}
	return nil
}

func (r *keywordRepo) MoveAliases(ctx context.Context, from, to uuid.UUID) (int64, error) {
	query, args := r.sql().Update(KeywordAliasesTable.Name).
		Set("canonical_id", idArg(to)).
		Where(entsql.EQ("canonical_id", idArg(from))).
		Query()
	return r.exec(ctx, query, args)
}

func (r *keywordRepo) GetUnmatched(ctx context.Context, id uuid.UUID) (*entity.UnmatchedTerm, error) {
	return r.oneUnmatched(ctx, entsql.EQ("id", idArg(id)))
}

func (r *keywordRepo) GetUnmatchedByNormalized(ctx context.Context, normalized string) (*entity.UnmatchedTerm, error) {
	return r.oneUnmatched(ctx, entsql.EQ("normalized", normalized))
}

func (r *keywordRepo) oneUnmatched(ctx context.Context, pred *entsql.Predicate) (*entity.UnmatchedTerm, error) {
	query, args := r.sql().Select(unmatchedCols...).
		From(entsql.Table(UnmatchedTermsTable.Name)).
		Where(pred).
		Query()
	list, err := r.scanUnmatched(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, common.ErrNotFound
	}
	return &list[0], nil
}

func (r *keywordRepo) CreateUnmatched(ctx context.Context, t *entity.UnmatchedTerm) error {
	now := time.Now().UTC()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.FirstSeen.IsZero() {
		t.FirstSeen = now
	}
	if t.LastSeen.IsZero() {
		t.LastSeen = t.FirstSeen
	}
	query, args := r.sql().Insert(UnmatchedTermsTable.Name).
		Columns(unmatchedCols...).
		Values(idArg(t.ID), t.Normalized, t.OccurrenceCount, t.FirstSeen, t.LastSeen).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		r.logger.Debug("failed to create unmatched term", "normalized", t.Normalized, "error", err)
		return err
	}
	return nil
}

func (r *keywordRepo) EnsureUnmatched(ctx context.Context, normalized string) (*entity.UnmatchedTerm, error) {
	now := time.Now().UTC()
	query, args := r.sql().Insert(UnmatchedTermsTable.Name).
		Columns(unmatchedCols...).
		Values(idArg(uuid.New()), normalized, 0, now, now).
		OnConflict(entsql.ConflictColumns("normalized"), entsql.ResolveWithIgnore()).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		r.logger.Error("failed to ensure unmatched term", "normalized", normalized, "error", err)
		return nil, err
	}
	return r.GetUnmatchedByNormalized(ctx, normalized)
}

func (r *keywordRepo) AddOccurrence(ctx context.Context, id uuid.UUID, delta int64, seen time.Time) error {
	upd := r.sql().Update(UnmatchedTermsTable.Name).
		Add("occurrence_count", delta).
		Where(entsql.EQ("id", idArg(id)))
	if delta > 0 {
		upd.Set("last_seen", seen)
	}
	query, args := upd.Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to update unmatched occurrences", "unmatched_id", id, "error", err)
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *keywordRepo) DeleteUnmatched(ctx context.Context, id uuid.UUID) error {
	query, args := r.sql().Delete(UnmatchedTermsTable.Name).Where(entsql.EQ("id", idArg(id))).Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *keywordRepo) ListUnmatched(ctx context.Context, limit, offset int) ([]entity.UnmatchedTerm, error) {
	sel := r.sql().Select(unmatchedCols...).
		From(entsql.Table(UnmatchedTermsTable.Name)).
		Where(entsql.GT("occurrence_count", 0)).
		OrderBy(entsql.Desc("occurrence_count"), "normalized")
	paginate(sel, limit, offset)
	query, args := sel.Query()
	return r.scanUnmatched(ctx, query, args)
}

func (r *keywordRepo) CountUnmatched(ctx context.Context) (int64, error) {
	query, args := r.sql().Select(entsql.Count("*")).
		From(entsql.Table(UnmatchedTermsTable.Name)).
		Where(entsql.GT("occurrence_count", 0)).
		Query()
	return r.count(ctx, query, args)
}

func (r *keywordRepo) scanUnmatched(ctx context.Context, query string, args []any) ([]entity.UnmatchedTerm, error) {
	rows, err := r.query(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to query unmatched terms", "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []entity.UnmatchedTerm
	for rows.Next() {
		var t entity.UnmatchedTerm
		if err := rows.Scan(&t.ID, &t.Normalized, &t.OccurrenceCount, &t.FirstSeen, &t.LastSeen); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *keywordRepo) UnmatchedReportIDs(ctx context.Context, normalized string) ([]uuid.UUID, error) {
	query, args := r.sql().Select("report_id").
		Distinct().
		From(entsql.Table(KeywordMentionsTable.Name)).
		Where(entsql.And(entsql.EQ("normalized", normalized), entsql.IsNull("canonical_id"))).
		OrderBy("report_id").
		Query()
	rows, err := r.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *keywordRepo) InsertMention(ctx context.Context, m *entity.KeywordMention) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	query, args := r.sql().Insert(KeywordMentionsTable.Name).
		Columns(mentionCols...).
		Values(idArg(m.ID), idArg(m.ReportID), string(m.ScopeKind), idArg(m.ScopeID), m.RawText, m.Normalized, optIDArg(m.CanonicalID), m.CreatedAt).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		r.logger.Error("failed to insert keyword mention", "report_id", m.ReportID, "normalized", m.Normalized, "error", err)
		return err
	}
	return nil
}

func (r *keywordRepo) MentionsByReport(ctx context.Context, reportID uuid.UUID) ([]entity.KeywordMention, error) {
	query, args := r.sql().Select(mentionCols...).
		From(entsql.Table(KeywordMentionsTable.Name)).
		Where(entsql.EQ("report_id", idArg(reportID))).
		OrderBy("created_at", "id").
		Query()
	rows, err := r.query(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to query keyword mentions", "report_id", reportID, "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []entity.KeywordMention
	for rows.Next() {
		var (
			m         entity.KeywordMention
			scope     string
			canonical uuid.NullUUID
		)
		if err := rows.Scan(&m.ID, &m.ReportID, &scope, &m.ScopeID, &m.RawText, &m.Normalized, &canonical, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ScopeKind = constants.ScopeKind(scope)
		m.CanonicalID = optUUID(canonical)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *keywordRepo) CountUnmatchedMentions(ctx context.Context, normalized string) (int64, error) {
	query, args := r.sql().Select(entsql.Count("*")).
		From(entsql.Table(KeywordMentionsTable.Name)).
		Where(entsql.And(entsql.EQ("normalized", normalized), entsql.IsNull("canonical_id"))).
		Query()
	return r.count(ctx, query, args)
}

func (r *keywordRepo) CountMentions(ctx context.Context, canonicalID uuid.UUID) (int64, error) {
	query, args := r.sql().Select(entsql.Count("*")).
		From(entsql.Table(KeywordMentionsTable.Name)).
		Where(entsql.EQ("canonical_id", idArg(canonicalID))).
		Query()
	return r.count(ctx, query, args)
}

func (r *keywordRepo) AttachUnmatchedMentions(ctx context.Context, normalized string, canonicalID uuid.UUID) (int64, error) {
	query, args := r.sql().Update(KeywordMentionsTable.Name).
		Set("canonical_id", idArg(canonicalID)).
		Where(entsql.And(entsql.EQ("normalized", normalized), entsql.IsNull("canonical_id"))).
		Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to attach unmatched mentions", "normalized", normalized, "canonical_id", canonicalID, "error", err)
		return 0, err
	}
	return n, nil
}

func (r *keywordRepo) MoveMentions(ctx context.Context, from, to uuid.UUID) (int64, error) {
	query, args := r.sql().Update(KeywordMentionsTable.Name).
		Set("canonical_id", idArg(to)).
		Where(entsql.EQ("canonical_id", idArg(from))).
		Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to move keyword mentions", "from", from, "to", to, "error", err)
		return 0, err
	}
	return n, nil
}
