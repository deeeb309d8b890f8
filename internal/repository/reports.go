package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
)

// ErrUnregisteredFingerprint is returned by ReportRepository.Create when the
// fingerprint registry does not name the report as owner.
var ErrUnregisteredFingerprint = errors.New("fingerprint not registered to report")

type ReportRepository interface {
	// Create inserts the report and its ordered children. The fingerprint must
	// already be registered to r.ID in the same transaction.
	Create(ctx context.Context, r *entity.Report) error
	Get(ctx context.Context, id uuid.UUID) (*entity.Report, error)
	GetByFingerprint(ctx context.Context, hash string) (*entity.Report, error)
	List(ctx context.Context, limit, offset int) ([]entity.Report, error)
	Count(ctx context.Context) (int64, error)
	// Delete removes the report row; children cascade.
	Delete(ctx context.Context, id uuid.UUID) error
}

type reportRepo struct{ base }

var reportCols = []string{
	"id", "fingerprint", "slug", "title", "agency", "state", "audit_scope",
	"publication_year", "publication_month", "publication_day",
	"overall_conclusion", "summary", "source_url", "filename", "channel",
	"provider", "model", "strategy", "total_cost", "cost_estimated",
	"created_at", "updated_at",
}

func (r *reportRepo) Create(ctx context.Context, rep *entity.Report) error {
	reg, err := (&fingerprintRepo{r.base}).Get(ctx, rep.Fingerprint)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return ErrUnregisteredFingerprint
		}
		return err
	}
	if reg.OwnerKind != constants.OwnerReport || reg.OwnerID != rep.ID {
		return fmt.Errorf("%w: owned by %s %s", ErrUnregisteredFingerprint, reg.OwnerKind, reg.OwnerID)
	}

	now := time.Now().UTC()
	if rep.CreatedAt.IsZero() {
		rep.CreatedAt = now
	}
	rep.UpdatedAt = now

	query, args := r.sql().Insert(ReportsTable.Name).
		Columns(reportCols...).
		Values(
			idArg(rep.ID), rep.Fingerprint, rep.Slug, rep.Title, rep.Agency, rep.State, rep.AuditScope,
			rep.PublicationYear, rep.PublicationMonth, rep.PublicationDay,
			rep.OverallConclusion, rep.Summary, rep.SourceURL, rep.Filename, rep.Channel,
			rep.Provider, rep.Model, rep.Strategy, rep.TotalCost, rep.CostEstimated,
			rep.CreatedAt, rep.UpdatedAt,
		).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		r.logger.Error("failed to create report", "fingerprint", rep.Fingerprint, "error", err)
		return err
	}

	if len(rep.Objectives) > 0 {
		ins := r.sql().Insert(ObjectivesTable.Name).Columns("id", "report_id", "position", "body")
		for i := range rep.Objectives {
			o := &rep.Objectives[i]
			o.ID, o.ReportID, o.Position = uuid.New(), rep.ID, i
			ins.Values(idArg(o.ID), idArg(rep.ID), i, o.Body)
		}
		if err := r.execBuilder(ctx, ins, "objectives"); err != nil {
			return err
		}
	}
	if len(rep.Findings) > 0 {
		ins := r.sql().Insert(FindingsTable.Name).Columns("id", "report_id", "position", "body", "financial_impact")
		for i := range rep.Findings {
			f := &rep.Findings[i]
			f.ID, f.ReportID, f.Position = uuid.New(), rep.ID, i
			var impact any
			if f.FinancialImpact != nil {
				impact = *f.FinancialImpact
			}
			ins.Values(idArg(f.ID), idArg(rep.ID), i, f.Body, impact)
		}
		if err := r.execBuilder(ctx, ins, "findings"); err != nil {
			return err
		}
	}
	if len(rep.Recommendations) > 0 {
		ins := r.sql().Insert(RecommendationsTable.Name).Columns("id", "report_id", "position", "body")
		for i := range rep.Recommendations {
			rc := &rep.Recommendations[i]
			rc.ID, rc.ReportID, rc.Position = uuid.New(), rep.ID, i
			ins.Values(idArg(rc.ID), idArg(rep.ID), i, rc.Body)
		}
		if err := r.execBuilder(ctx, ins, "recommendations"); err != nil {
			return err
		}
	}
	return nil
}

func (r *reportRepo) execBuilder(ctx context.Context, ins *entsql.InsertBuilder, what string) error {
	query, args := ins.Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		r.logger.Error("failed to insert report children", "table", what, "error", err)
		return err
	}
	return nil
}

func (r *reportRepo) Get(ctx context.Context, id uuid.UUID) (*entity.Report, error) {
	rep, err := r.one(ctx, entsql.EQ("id", idArg(id)))
	if err != nil {
		return nil, err
	}
	if err := r.loadChildren(ctx, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (r *reportRepo) GetByFingerprint(ctx context.Context, hash string) (*entity.Report, error) {
	return r.one(ctx, entsql.EQ("fingerprint", hash))
}

func (r *reportRepo) one(ctx context.Context, pred *entsql.Predicate) (*entity.Report, error) {
	query, args := r.sql().Select(reportCols...).
		From(entsql.Table(ReportsTable.Name)).
		Where(pred).
		Query()
	list, err := r.scanReports(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, common.ErrNotFound
	}
	return &list[0], nil
}

func (r *reportRepo) List(ctx context.Context, limit, offset int) ([]entity.Report, error) {
	sel := r.sql().Select(reportCols...).
		From(entsql.Table(ReportsTable.Name)).
		OrderBy(entsql.Desc("created_at"), "id")
	paginate(sel, limit, offset)
	query, args := sel.Query()
	return r.scanReports(ctx, query, args)
}

func (r *reportRepo) Count(ctx context.Context) (int64, error) {
	query, args := r.sql().Select(entsql.Count("*")).From(entsql.Table(ReportsTable.Name)).Query()
	return r.count(ctx, query, args)
}

func (r *reportRepo) Delete(ctx context.Context, id uuid.UUID) error {
	// Cost records outlive the report as the spend audit trail.
	query, args := r.sql().Update(CostRecordsTable.Name).
		SetNull("report_id").
		Where(entsql.EQ("report_id", idArg(id))).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		r.logger.Error("failed to detach cost records", "report_id", id, "error", err)
		return err
	}
	// Children are removed explicitly so SQLite without enforced cascades stays clean.
	for _, t := range []string{ObjectivesTable.Name, FindingsTable.Name, RecommendationsTable.Name, KeywordMentionsTable.Name} {
		query, args := r.sql().Delete(t).Where(entsql.EQ("report_id", idArg(id))).Query()
		if _, err := r.exec(ctx, query, args); err != nil {
			r.logger.Error("failed to delete report children", "report_id", id, "table", t, "error", err)
			return err
		}
	}
	query, args = r.sql().Delete(ReportsTable.Name).Where(entsql.EQ("id", idArg(id))).Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to delete report", "report_id", id, "error", err)
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *reportRepo) scanReports(ctx context.Context, query string, args []any) ([]entity.Report, error) {
	rows, err := r.query(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to query reports", "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []entity.Report
	for rows.Next() {
		var rep entity.Report
		if err := rows.Scan(
			&rep.ID, &rep.Fingerprint, &rep.Slug, &rep.Title, &rep.Agency, &rep.State, &rep.AuditScope,
			&rep.PublicationYear, &rep.PublicationMonth, &rep.PublicationDay,
			&rep.OverallConclusion, &rep.Summary, &rep.SourceURL, &rep.Filename, &rep.Channel,
			&rep.Provider, &rep.Model, &rep.Strategy, &rep.TotalCost, &rep.CostEstimated,
			&rep.CreatedAt, &rep.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

func (r *reportRepo) loadChildren(ctx context.Context, rep *entity.Report) error {
	body := func(table string, withImpact bool, fn func(id uuid.UUID, pos int, body string, impact sql.NullFloat64)) error {
		cols := []string{"id", "position", "body"}
		if withImpact {
			cols = append(cols, "financial_impact")
		}
		query, args := r.sql().Select(cols...).
			From(entsql.Table(table)).
			Where(entsql.EQ("report_id", idArg(rep.ID))).
			OrderBy("position").
			Query()
		rows, err := r.query(ctx, query, args)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				id     uuid.UUID
				pos    int
				text   string
				impact sql.NullFloat64
			)
			dest := []any{&id, &pos, &text}
			if withImpact {
				dest = append(dest, &impact)
			}
			if err := rows.Scan(dest...); err != nil {
				return err
			}
			fn(id, pos, text, impact)
		}
		return rows.Err()
	}

	rep.Objectives, rep.Findings, rep.Recommendations = nil, nil, nil
	if err := body(ObjectivesTable.Name, false, func(id uuid.UUID, pos int, text string, _ sql.NullFloat64) {
		rep.Objectives = append(rep.Objectives, entity.Objective{ID: id, ReportID: rep.ID, Position: pos, Body: text})
	}); err != nil {
		return err
	}
	if err := body(FindingsTable.Name, true, func(id uuid.UUID, pos int, text string, impact sql.NullFloat64) {
		f := entity.Finding{ID: id, ReportID: rep.ID, Position: pos, Body: text}
		if impact.Valid {
			v := impact.Float64
			f.FinancialImpact = &v
		}
		rep.Findings = append(rep.Findings, f)
	}); err != nil {
		return err
	}
	if err := body(RecommendationsTable.Name, false, func(id uuid.UUID, pos int, text string, _ sql.NullFloat64) {
		rep.Recommendations = append(rep.Recommendations, entity.Recommendation{ID: id, ReportID: rep.ID, Position: pos, Body: text})
	}); err != nil {
		return err
	}

	mentions, err := (&keywordRepo{r.base}).MentionsByReport(ctx, rep.ID)
	if err != nil {
		return err
	}
	rep.Keywords = mentions
	return nil
}
