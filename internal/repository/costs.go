package repository

import (
	"context"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
)

type CostRepository interface {
	Insert(ctx context.Context, rec *entity.CostRecord) error
	ListByReport(ctx context.Context, reportID uuid.UUID) ([]entity.CostRecord, error)
	ListByQueueItem(ctx context.Context, queueItemID uuid.UUID) ([]entity.CostRecord, error)
	List(ctx context.Context, limit, offset int) ([]entity.CostRecord, error)
}

type costRepo struct{ base }

var costCols = []string{
	"id", "report_id", "queue_item_id", "operation", "provider", "model", "strategy", "attempt",
	"input_tokens", "output_tokens", "total_tokens", "input_cost", "output_cost", "total_cost",
	"estimated", "latency_ms", "status", "error", "created_at",
}

func (r *costRepo) Insert(ctx context.Context, c *entity.CostRecord) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	query, args := r.sql().Insert(CostRecordsTable.Name).
		Columns(costCols...).
		Values(
			idArg(c.ID), optIDArg(c.ReportID), optIDArg(c.QueueItemID), string(c.Operation), c.Provider, c.Model, c.Strategy, c.Attempt,
			c.InputTokens, c.OutputTokens, c.TotalTokens, c.InputCost, c.OutputCost, c.TotalCost,
			c.Estimated, c.LatencyMS, string(c.Status), c.Error, c.CreatedAt,
		).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		r.logger.Error("failed to insert cost record", "provider", c.Provider, "model", c.Model, "error", err)
		return err
	}
	return nil
}

func (r *costRepo) ListByReport(ctx context.Context, reportID uuid.UUID) ([]entity.CostRecord, error) {
	return r.list(ctx, entsql.EQ("report_id", idArg(reportID)), 0, 0)
}

func (r *costRepo) ListByQueueItem(ctx context.Context, queueItemID uuid.UUID) ([]entity.CostRecord, error) {
	return r.list(ctx, entsql.EQ("queue_item_id", idArg(queueItemID)), 0, 0)
}

func (r *costRepo) List(ctx context.Context, limit, offset int) ([]entity.CostRecord, error) {
	return r.list(ctx, nil, limit, offset)
}

func (r *costRepo) list(ctx context.Context, pred *entsql.Predicate, limit, offset int) ([]entity.CostRecord, error) {
	sel := r.sql().Select(costCols...).
		From(entsql.Table(CostRecordsTable.Name)).
		OrderBy("created_at", "attempt")
	if pred != nil {
		sel.Where(pred)
	}
	paginate(sel, limit, offset)
	query, args := sel.Query()
	rows, err := r.query(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to query cost records", "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []entity.CostRecord
	for rows.Next() {
		var (
			c           entity.CostRecord
			reportID    uuid.NullUUID
			queueItemID uuid.NullUUID
			op, status  string
		)
		if err := rows.Scan(
			&c.ID, &reportID, &queueItemID, &op, &c.Provider, &c.Model, &c.Strategy, &c.Attempt,
			&c.InputTokens, &c.OutputTokens, &c.TotalTokens, &c.InputCost, &c.OutputCost, &c.TotalCost,
			&c.Estimated, &c.LatencyMS, &status, &c.Error, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		c.ReportID = optUUID(reportID)
		c.QueueItemID = optUUID(queueItemID)
		c.Operation = constants.Operation(op)
		c.Status = constants.AttemptStatus(status)
		out = append(out, c)
	}
	return out, rows.Err()
}
