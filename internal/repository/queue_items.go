package repository

import (
	"context"
	"database/sql"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
)

// TransitionFields are written together with a state change. Nil fields are left untouched.
type TransitionFields struct {
	Verdict      *constants.Verdict
	Confidence   *float64
	Reasoning    *string
	DocumentType *string
	ReportID     *uuid.UUID
	Error        *string
}

type QueueItemRepository interface {
	Create(ctx context.Context, item *entity.QueueItem) error
	Get(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error)
	// Transition moves id from one state to another only if it is still in from.
	Transition(ctx context.Context, id uuid.UUID, from, to constants.QueueState, f TransitionFields) (bool, error)
	// SetReportID links a promoted item to the report it produced.
	SetReportID(ctx context.Context, id, reportID uuid.UUID) error
	// ActiveByFingerprint returns the queue item currently holding hash.
	ActiveByFingerprint(ctx context.Context, hash string) (*entity.QueueItem, error)
	List(ctx context.Context, state constants.QueueState, limit, offset int) ([]entity.QueueItem, error)
	CountByState(ctx context.Context) (map[constants.QueueState]int64, error)
}

type queueItemRepo struct{ base }

var queueItemCols = []string{
	"id", "fingerprint", "source_url", "title", "snippet", "agency", "state",
	"verdict", "confidence", "reasoning", "document_type", "report_id", "error",
	"created_at", "updated_at",
}

func (r *queueItemRepo) Create(ctx context.Context, item *entity.QueueItem) error {
	now := time.Now().UTC()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.State == "" {
		item.State = constants.QueueStateDiscovered
	}
	item.CreatedAt, item.UpdatedAt = now, now
	var verdict, confidence any
	if item.Verdict != nil {
		verdict = string(*item.Verdict)
	}
	if item.Confidence != nil {
		confidence = *item.Confidence
	}
	query, args := r.sql().Insert(QueueItemsTable.Name).
		Columns(queueItemCols...).
		Values(
			idArg(item.ID), item.Fingerprint, item.SourceURL, item.Title, item.Snippet, item.Agency, string(item.State),
			verdict, confidence, item.Reasoning, item.DocumentType, optIDArg(item.ReportID), item.Error,
			item.CreatedAt, item.UpdatedAt,
		).
		Query()
	if _, err := r.exec(ctx, query, args); err != nil {
		r.logger.Error("failed to create queue item", "fingerprint", item.Fingerprint, "error", err)
		return err
	}
	return nil
}

func (r *queueItemRepo) Get(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error) {
	query, args := r.sql().Select(queueItemCols...).
		From(entsql.Table(QueueItemsTable.Name)).
		Where(entsql.EQ("id", idArg(id))).
		Query()
	list, err := r.scan(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, common.ErrNotFound
	}
	return &list[0], nil
}

func (r *queueItemRepo) Transition(ctx context.Context, id uuid.UUID, from, to constants.QueueState, f TransitionFields) (bool, error) {
	upd := r.sql().Update(QueueItemsTable.Name).
		Set("state", string(to)).
		Set("updated_at", time.Now().UTC())
	if f.Verdict != nil {
		upd.Set("verdict", string(*f.Verdict))
	}
	if f.Confidence != nil {
		upd.Set("confidence", *f.Confidence)
	}
	if f.Reasoning != nil {
		upd.Set("reasoning", *f.Reasoning)
	}
	if f.DocumentType != nil {
		upd.Set("document_type", *f.DocumentType)
	}
	if f.ReportID != nil {
		upd.Set("report_id", idArg(*f.ReportID))
	}
	if f.Error != nil {
		upd.Set("error", *f.Error)
	}
	query, args := upd.Where(entsql.And(
		entsql.EQ("id", idArg(id)),
		entsql.EQ("state", string(from)),
	)).Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to transition queue item", "queue_item_id", id, "from", from, "to", to, "error", err)
		return false, err
	}
	return n == 1, nil
}

func (r *queueItemRepo) SetReportID(ctx context.Context, id, reportID uuid.UUID) error {
	query, args := r.sql().Update(QueueItemsTable.Name).
		Set("report_id", idArg(reportID)).
		Set("updated_at", time.Now().UTC()).
		Where(entsql.And(
			entsql.EQ("id", idArg(id)),
			entsql.EQ("state", string(constants.QueueStatePromoted)),
		)).
		Query()
	n, err := r.exec(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to link queue item to report", "queue_item_id", id, "report_id", reportID, "error", err)
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *queueItemRepo) ActiveByFingerprint(ctx context.Context, hash string) (*entity.QueueItem, error) {
	active := make([]any, 0, 3)
	for _, s := range constants.AllQueueStates {
		if s.HoldsFingerprint() {
			active = append(active, string(s))
		}
	}
	query, args := r.sql().Select(queueItemCols...).
		From(entsql.Table(QueueItemsTable.Name)).
		Where(entsql.And(entsql.EQ("fingerprint", hash), entsql.In("state", active...))).
		OrderBy("created_at").
		Limit(1).
		Query()
	list, err := r.scan(ctx, query, args)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, common.ErrNotFound
	}
	return &list[0], nil
}

func (r *queueItemRepo) List(ctx context.Context, state constants.QueueState, limit, offset int) ([]entity.QueueItem, error) {
	sel := r.sql().Select(queueItemCols...).
		From(entsql.Table(QueueItemsTable.Name)).
		OrderBy(entsql.Desc("created_at"), "id")
	if state != "" {
		sel.Where(entsql.EQ("state", string(state)))
	}
	paginate(sel, limit, offset)
	query, args := sel.Query()
	return r.scan(ctx, query, args)
}

func (r *queueItemRepo) CountByState(ctx context.Context) (map[constants.QueueState]int64, error) {
	query, args := r.sql().Select("state", entsql.Count("*")).
		From(entsql.Table(QueueItemsTable.Name)).
		GroupBy("state").
		Query()
	rows, err := r.query(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to count queue items", "error", err)
		return nil, err
	}
	defer rows.Close()
	out := make(map[constants.QueueState]int64, len(constants.AllQueueStates))
	for _, s := range constants.AllQueueStates {
		out[s] = 0
	}
	for rows.Next() {
		var (
			state string
			n     int64
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		out[constants.QueueState(state)] = n
	}
	return out, rows.Err()
}

func (r *queueItemRepo) scan(ctx context.Context, query string, args []any) ([]entity.QueueItem, error) {
	rows, err := r.query(ctx, query, args)
	if err != nil {
		r.logger.Error("failed to query queue items", "error", err)
		return nil, err
	}
	defer rows.Close()
	var out []entity.QueueItem
	for rows.Next() {
		var (
			it         entity.QueueItem
			state      string
			verdict    sql.NullString
			confidence sql.NullFloat64
			reportID   uuid.NullUUID
		)
		if err := rows.Scan(
			&it.ID, &it.Fingerprint, &it.SourceURL, &it.Title, &it.Snippet, &it.Agency, &state,
			&verdict, &confidence, &it.Reasoning, &it.DocumentType, &reportID, &it.Error,
			&it.CreatedAt, &it.UpdatedAt,
		); err != nil {
			return nil, err
		}
		it.State = constants.QueueState(state)
		if verdict.Valid {
			v := constants.Verdict(verdict.String)
			it.Verdict = &v
		}
		if confidence.Valid {
			c := confidence.Float64
			it.Confidence = &c
		}
		it.ReportID = optUUID(reportID)
		out = append(out, it)
	}
	return out, rows.Err()
}
