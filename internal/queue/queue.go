// Package queue is the review state machine for search-discovered candidates.
//
//	discovered -> classifying -> relevant_pending_review -> promoted
//	                          \-> irrelevant_archived     \-> rejected
//
// Every state change is a conditional update on the expected current state,
// so a lost race shows up as zero affected rows and never as a revisit.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/fetch"
	"github.com/joseph-ayodele/audit-reports/internal/fingerprint"
	"github.com/joseph-ayodele/audit-reports/internal/llm"
	"github.com/joseph-ayodele/audit-reports/internal/pipeline"
	"github.com/joseph-ayodele/audit-reports/internal/repository"
)

const DefaultMinConfidence = 0.5

// Classifier is the lighter relevance call. *llm.Service implements it.
type Classifier interface {
	Classify(ctx context.Context, c llm.Candidate, primary constants.Provider) (llm.Classification, []entity.CostRecord, error)
}

// Candidate is a search hit together with the bytes it pointed at.
type Candidate struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Snippet string `json:"snippet,omitempty"`
	Agency  string `json:"agency,omitempty"`
	Bytes   []byte `json:"bytes"`
}

type Config struct {
	MinConfidence float64
	Provider      constants.Provider
}

type Service struct {
	store    *repository.Store
	fps      *fingerprint.Store
	ai       Classifier
	pipeline *pipeline.Pipeline
	fetcher  fetch.Fetcher
	cfg      Config
	logger   *slog.Logger
}

func NewService(
	store *repository.Store,
	p *pipeline.Pipeline,
	ai Classifier,
	fetcher fetch.Fetcher,
	cfg Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinConfidence < 0 || cfg.MinConfidence > 1 {
		cfg.MinConfidence = DefaultMinConfidence
	}
	return &Service{
		store:    store,
		fps:      p.Fingerprints(),
		ai:       ai,
		pipeline: p,
		fetcher:  fetcher,
		cfg:      cfg,
		logger:   logger,
	}
}

func owner(id uuid.UUID) fingerprint.Owner {
	return fingerprint.Owner{Kind: constants.OwnerQueueItem, ID: id}
}

// Discover inserts a candidate and registers its fingerprint in one transaction.
func (s *Service) Discover(ctx context.Context, c Candidate) (*entity.QueueItem, error) {
	v := common.NewValidator().
		Field("url", c.URL, common.Required, common.MaxLength(2048)).
		Field("title", c.Title, common.Required, common.MaxLength(1000)).
		Field("bytes", c.Bytes, common.Required)
	if err := v.Err(); err != nil {
		return nil, err
	}

	item := &entity.QueueItem{
		ID:          uuid.New(),
		Fingerprint: fingerprint.Sum(c.Bytes),
		SourceURL:   strings.TrimSpace(c.URL),
		Title:       strings.TrimSpace(c.Title),
		Snippet:     strings.TrimSpace(c.Snippet),
		Agency:      strings.TrimSpace(c.Agency),
		State:       constants.QueueStateDiscovered,
	}
	err := s.store.InTx(ctx, func(tx *repository.Tx) error {
		if err := s.fps.RegisterTx(ctx, tx, item.Fingerprint, owner(item.ID)); err != nil {
			var dup *common.DuplicateError
			if errors.As(err, &dup) && dup.OwnerKind == string(constants.OwnerQueueItem) {
				if active, aerr := tx.QueueItems().ActiveByFingerprint(ctx, item.Fingerprint); aerr == nil {
					return &common.DuplicateInQueueError{Fingerprint: item.Fingerprint, QueueItemID: active.ID.String(), State: string(active.State)}
				}
				return &common.DuplicateInQueueError{Fingerprint: item.Fingerprint, QueueItemID: dup.OwnerID}
			}
			return err
		}
		return tx.QueueItems().Create(ctx, item)
	})
	if err != nil {
		s.logger.Info("queue.discover.rejected", "req_id", common.RequestIDFromContext(ctx), "url", c.URL, "error", err)
		return nil, err
	}
	s.logger.Info("queue.discover.ok",
		"req_id", common.RequestIDFromContext(ctx),
		"queue_item_id", item.ID, "fingerprint", item.Fingerprint, "url", item.SourceURL)
	return item, nil
}

// Classify takes the exclusive classifying lock, calls the classifier outside
// any transaction and records the verdict. A failed classification archives
// the item as uncertain with zero confidence.
func (s *Service) Classify(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.store.QueueItems().Transition(ctx, id, constants.QueueStateDiscovered, constants.QueueStateClassifying, repository.TransitionFields{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s.conflict(ctx, id, constants.QueueStateClassifying)
	}

	start := time.Now()
	cand := llm.Candidate{Title: item.Title, Snippet: item.Snippet, URL: item.SourceURL, Agency: item.Agency}
	cls, costs, cErr := s.ai.Classify(ctx, cand, s.cfg.Provider)
	s.pipeline.StoreCosts(ctx, costs, &id)

	// The verdict must land even if the caller went away meanwhile.
	wctx := context.WithoutCancel(ctx)
	var (
		to     constants.QueueState
		fields repository.TransitionFields
	)
	if cErr != nil {
		uncertain, zero, msg := constants.VerdictUncertain, 0.0, cErr.Error()
		to = constants.QueueStateIrrelevantArchived
		fields = repository.TransitionFields{Verdict: &uncertain, Confidence: &zero, Error: &msg}
	} else {
		to = s.route(cls)
		fields = repository.TransitionFields{
			Verdict:      &cls.Verdict,
			Confidence:   &cls.Confidence,
			Reasoning:    &cls.Reasoning,
			DocumentType: &cls.DocumentType,
		}
	}

	err = s.store.InTx(wctx, func(tx *repository.Tx) error {
		ok, err := tx.QueueItems().Transition(wctx, id, constants.QueueStateClassifying, to, fields)
		if err != nil {
			return err
		}
		if !ok {
			return s.conflictTx(wctx, tx, id, to)
		}
		if to == constants.QueueStateIrrelevantArchived {
			_, err = s.fps.ReleaseTx(wctx, tx.Fingerprints(), item.Fingerprint, owner(id))
		}
		return err
	})
	if err != nil {
		s.logger.Error("queue.classify.store_failed", "queue_item_id", id, "error", err)
		return nil, err
	}

	if cErr != nil {
		s.logger.Warn("queue.classify.failed", "req_id", common.RequestIDFromContext(ctx), "queue_item_id", id,
			"error", cErr, "elapsed_ms", time.Since(start).Milliseconds())
	} else {
		s.logger.Info("queue.classify.ok", "req_id", common.RequestIDFromContext(ctx), "queue_item_id", id,
			"verdict", cls.Verdict, "confidence", cls.Confidence, "state", to,
			"elapsed_ms", time.Since(start).Milliseconds())
	}
	return s.Get(wctx, id)
}

func (s *Service) route(c llm.Classification) constants.QueueState {
	switch {
	case c.Verdict == constants.VerdictRelevant:
		return constants.QueueStateRelevantPendingReview
	case c.Verdict == constants.VerdictUncertain && c.Confidence >= s.cfg.MinConfidence:
		return constants.QueueStateRelevantPendingReview
	default:
		return constants.QueueStateIrrelevantArchived
	}
}

// Promote fetches the document again, checks it is still the same bytes,
// runs the full pipeline and commits the report together with the promoted state.
// On extraction failure the item stays pending and the error is returned.
func (s *Service) Promote(ctx context.Context, id uuid.UUID, opts pipeline.Options) (*entity.Report, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if item.State != constants.QueueStateRelevantPendingReview {
		return nil, &common.StateConflictError{QueueItemID: id.String(), Current: string(item.State), Wanted: string(constants.QueueStatePromoted)}
	}
	log := s.logger.With("req_id", common.RequestIDFromContext(ctx), "queue_item_id", id)

	body, err := s.fetcher.Fetch(ctx, item.SourceURL)
	if err != nil {
		log.Warn("queue.promote.fetch_failed", "url", item.SourceURL, "error", err)
		return nil, err
	}
	if got := fingerprint.Sum(body); got != item.Fingerprint {
		log.Warn("queue.promote.fingerprint_mismatch", "want", item.Fingerprint, "got", got)
		return nil, common.NewAppError("VALIDATION_FAILED",
			fmt.Sprintf("document at %s changed since discovery", item.SourceURL), common.ErrValidation)
	}

	doc := pipeline.Document{
		Bytes:     body,
		Filename:  path.Base(item.SourceURL),
		Agency:    item.Agency,
		SourceURL: item.SourceURL,
		Channel:   "search",
	}
	a, err := s.pipeline.Analyze(ctx, doc, opts)
	if err != nil {
		if a != nil {
			s.pipeline.StoreCosts(ctx, a.Costs, &id)
		}
		log.Warn("queue.promote.failed", "stage", "analyze", "error", err)
		return nil, err
	}

	var rep *entity.Report
	err = s.store.InTx(ctx, func(tx *repository.Tx) error {
		ok, err := tx.QueueItems().Transition(ctx, id, constants.QueueStateRelevantPendingReview, constants.QueueStatePromoted, repository.TransitionFields{})
		if err != nil {
			return err
		}
		if !ok {
			return s.conflictTx(ctx, tx, id, constants.QueueStatePromoted)
		}
		if rep, err = s.pipeline.PersistTx(ctx, tx, doc, a, owner(id), &id); err != nil {
			return err
		}
		return tx.QueueItems().SetReportID(ctx, id, rep.ID)
	})
	if err != nil {
		s.pipeline.StoreCosts(ctx, a.Costs, &id)
		log.Error("queue.promote.failed", "stage", "persist", "error", err)
		return nil, err
	}
	log.Info("queue.promote.ok", "report_id", rep.ID, "slug", rep.Slug, "cost_usd", rep.TotalCost)
	return rep, nil
}

// Reject closes a pending item and frees its fingerprint.
func (s *Service) Reject(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error) {
	item, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.store.InTx(ctx, func(tx *repository.Tx) error {
		ok, err := tx.QueueItems().Transition(ctx, id, constants.QueueStateRelevantPendingReview, constants.QueueStateRejected, repository.TransitionFields{})
		if err != nil {
			return err
		}
		if !ok {
			return s.conflictTx(ctx, tx, id, constants.QueueStateRejected)
		}
		_, err = s.fps.ReleaseTx(ctx, tx.Fingerprints(), item.Fingerprint, owner(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("queue.reject.ok", "req_id", common.RequestIDFromContext(ctx), "queue_item_id", id)
	return s.Get(ctx, id)
}

// Status counts items per state; every state is present.
func (s *Service) Status(ctx context.Context) (map[constants.QueueState]int64, error) {
	return s.store.QueueItems().CountByState(ctx)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*entity.QueueItem, error) {
	item, err := s.store.QueueItems().Get(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NotFoundError(fmt.Sprintf("queue item %s not found", id))
	}
	return item, err
}

// List pages through items, newest first. An empty state lists everything.
func (s *Service) List(ctx context.Context, state constants.QueueState, limit, offset int) ([]entity.QueueItem, error) {
	if state != "" && !state.Valid() {
		return nil, common.InvalidArgumentErrorf("unknown queue state %q", state)
	}
	return s.store.QueueItems().List(ctx, state, limit, offset)
}

// RecoverStale archives items left in classifying by a crashed worker.
func (s *Service) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	items, err := s.store.QueueItems().List(ctx, constants.QueueStateClassifying, repository.MaxPageSize, 0)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	n := 0
	for _, it := range items {
		if it.UpdatedAt.After(cutoff) {
			continue
		}
		uncertain, zero, msg := constants.VerdictUncertain, 0.0, "classification abandoned"
		err := s.store.InTx(ctx, func(tx *repository.Tx) error {
			ok, err := tx.QueueItems().Transition(ctx, it.ID, constants.QueueStateClassifying, constants.QueueStateIrrelevantArchived,
				repository.TransitionFields{Verdict: &uncertain, Confidence: &zero, Error: &msg})
			if err != nil || !ok {
				return err
			}
			n++
			_, err = s.fps.ReleaseTx(ctx, tx.Fingerprints(), it.Fingerprint, owner(it.ID))
			return err
		})
		if err != nil {
			return n, err
		}
	}
	if n > 0 {
		s.logger.Warn("queue.recover.archived_stale", "count", n)
	}
	return n, nil
}

// conflict explains a transition that matched no row.
func (s *Service) conflict(ctx context.Context, id uuid.UUID, wanted constants.QueueState) error {
	item, err := s.store.QueueItems().Get(ctx, id)
	if err != nil {
		return err
	}
	return conflictFor(item, wanted)
}

func (s *Service) conflictTx(ctx context.Context, tx *repository.Tx, id uuid.UUID, wanted constants.QueueState) error {
	item, err := tx.QueueItems().Get(ctx, id)
	if err != nil {
		return err
	}
	return conflictFor(item, wanted)
}

// conflictFor maps a lost classify race to DuplicateInQueueError and
// everything else to StateConflictError.
func conflictFor(item *entity.QueueItem, wanted constants.QueueState) error {
	if wanted == constants.QueueStateClassifying && item.State == constants.QueueStateClassifying {
		return &common.DuplicateInQueueError{Fingerprint: item.Fingerprint, QueueItemID: item.ID.String(), State: string(item.State)}
	}
	return &common.StateConflictError{QueueItemID: item.ID.String(), Current: string(item.State), Wanted: string(wanted)}
}
