package server

import (
	"net/http"
	"time"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/async"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/pipeline"
	"github.com/joseph-ayodele/audit-reports/internal/queue"
)

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) error {
	counts, err := s.deps.Queue.Status(r.Context())
	if err != nil {
		return err
	}
	out := make(map[string]int64, len(constants.AllQueueStates))
	for _, st := range constants.AllQueueStates {
		out[string(st)] = counts[st]
	}
	return writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/queue?state=&limit=&offset=
func (s *Server) handleQueueList(w http.ResponseWriter, r *http.Request) error {
	limit, offset, err := page(r)
	if err != nil {
		return err
	}
	items, err := s.deps.Queue.List(r.Context(), constants.QueueState(r.URL.Query().Get("state")), limit, offset)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, items)
}

// POST /api/v1/queue/discover with a JSON candidate; bytes are base64.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) error {
	var c queue.Candidate
	if err := decodeJSON(r, &c); err != nil {
		return err
	}
	item, err := s.deps.Queue.Discover(r.Context(), c)
	if err != nil {
		return err
	}
	if s.deps.Enqueuer != nil {
		job := async.Job{QueueItemID: item.ID, SubmittedAt: time.Now(), RequestID: common.RequestIDFromContext(r.Context())}
		if err := s.deps.Enqueuer.Enqueue(r.Context(), job); err != nil {
			// The item stays discovered; a later classify call picks it up.
			s.logger.Warn("queue.enqueue_failed", "queue_item_id", item.ID, "error", err)
		}
	}
	return writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleQueueGet(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	item, err := s.deps.Queue.Get(r.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	item, err := s.deps.Queue.Classify(r.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, item)
}

type promoteRequest struct {
	Provider string `json:"provider"`
	Strategy string `json:"strategy"`
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	var req promoteRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		return err
	}
	rep, err := s.deps.Queue.Promote(r.Context(), id, pipeline.Options{
		Provider: constants.Provider(req.Provider),
		Strategy: constants.Strategy(req.Strategy),
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, rep)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	item, err := s.deps.Queue.Reject(r.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, item)
}
