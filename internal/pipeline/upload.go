package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/fingerprint"
	"github.com/joseph-ayodele/audit-reports/internal/repository"
)

// Result is the per-document outcome of an upload.
type Result struct {
	Filename    string                 `json:"filename"`
	Fingerprint string                 `json:"fingerprint"`
	Status      constants.UploadStatus `json:"status"`
	ReportID    *uuid.UUID             `json:"report_id,omitempty"`
	Error       string                 `json:"error,omitempty"`

	Report *entity.Report `json:"-"`
	Err    error          `json:"-"`
}

func failed(r Result, err error) Result {
	r.Status, r.Err, r.Error = constants.UploadStatusFailed, err, err.Error()
	return r
}

// Upload reserves the fingerprint, runs both stages outside any transaction
// and persists in one. On any failure after the reservation it is released.
func (p *Pipeline) Upload(ctx context.Context, doc Document, opts Options) Result {
	res := Result{Filename: doc.Filename}
	if len(doc.Bytes) == 0 {
		return failed(res, common.InvalidArgumentErrorf("%s is empty", doc.Filename))
	}
	if doc.Channel == "" {
		doc.Channel = "upload"
	}
	res.Fingerprint = fingerprint.Sum(doc.Bytes)
	start := time.Now()
	log := p.logger.With("req_id", common.RequestIDFromContext(ctx), "filename", doc.Filename, "fingerprint", res.Fingerprint)

	owner := fingerprint.Owner{Kind: constants.OwnerUpload, ID: uuid.New()}
	if err := p.fps.Register(ctx, res.Fingerprint, owner); err != nil {
		var dup *common.DuplicateError
		if errors.As(err, &dup) {
			res.Status, res.Err, res.Error = constants.UploadStatusDuplicate, err, err.Error()
			if dup.OwnerKind == string(constants.OwnerReport) {
				if id, perr := uuid.Parse(dup.OwnerID); perr == nil {
					res.ReportID = &id
				}
			}
			log.Info("upload.item.duplicate", "owner_kind", dup.OwnerKind, "owner_id", dup.OwnerID)
			return res
		}
		log.Error("upload.item.reserve_failed", "error", err)
		return failed(res, err)
	}
	release := func() {
		if err := p.fps.Release(context.WithoutCancel(ctx), res.Fingerprint, owner); err != nil {
			log.Error("upload.item.release_failed", "error", err)
		}
	}

	a, err := p.Analyze(ctx, doc, opts)
	if err != nil {
		release()
		if a != nil {
			p.StoreCosts(ctx, a.Costs, nil)
		}
		log.Warn("upload.item.failed", "stage", "analyze", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return failed(res, err)
	}

	var rep *entity.Report
	err = p.store.InTx(ctx, func(tx *repository.Tx) error {
		var err error
		rep, err = p.PersistTx(ctx, tx, doc, a, owner, nil)
		return err
	})
	if err != nil {
		release()
		p.StoreCosts(ctx, a.Costs, nil)
		log.Error("upload.item.failed", "stage", "persist", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return failed(res, err)
	}

	res.Status, res.ReportID, res.Report = constants.UploadStatusCreated, &rep.ID, rep
	log.Info("upload.item.created",
		"report_id", rep.ID,
		"slug", rep.Slug,
		"provider", rep.Provider,
		"cost_usd", rep.TotalCost,
		"keywords", len(rep.Keywords),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res
}

// UploadBatch runs Upload for every document with bounded concurrency.
// Results keep input order. Byte-identical documents run one after another in
// input order, so the first copy wins and later copies report duplicate.
// Items not started before ctx is cancelled fail with the context error;
// finished ones stay committed.
func (p *Pipeline) UploadBatch(ctx context.Context, docs []Document, opts Options) []Result {
	results := make([]Result, len(docs))
	var (
		groups [][]int
		byHash = make(map[string]int, len(docs))
	)
	for i := range docs {
		sum := fingerprint.Sum(docs[i].Bytes)
		if g, ok := byHash[sum]; ok && len(docs[i].Bytes) > 0 {
			groups[g] = append(groups[g], i)
			continue
		}
		byHash[sum] = len(groups)
		groups = append(groups, []int{i})
	}

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, idx := range groups {
		if err := ctx.Err(); err != nil {
			for _, i := range idx {
				results[i] = failed(Result{Filename: docs[i].Filename, Fingerprint: fingerprint.Sum(docs[i].Bytes)}, err)
			}
			continue
		}
		g.Go(func() error {
			for _, i := range idx {
				if err := ctx.Err(); err != nil {
					results[i] = failed(Result{Filename: docs[i].Filename, Fingerprint: fingerprint.Sum(docs[i].Bytes)}, err)
					continue
				}
				results[i] = p.Upload(ctx, docs[i], opts)
			}
			return nil
		})
	}
	_ = g.Wait()

	var created, dup, bad int
	for _, r := range results {
		switch r.Status {
		case constants.UploadStatusCreated:
			created++
		case constants.UploadStatusDuplicate:
			dup++
		default:
			bad++
		}
	}
	p.logger.Info("upload.batch.done",
		"req_id", common.RequestIDFromContext(ctx),
		"items", len(docs), "created", created, "duplicate", dup, "failed", bad)
	return results
}
