package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/internal/async"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/export"
	"github.com/joseph-ayodele/audit-reports/internal/keywords"
	"github.com/joseph-ayodele/audit-reports/internal/pipeline"
	"github.com/joseph-ayodele/audit-reports/internal/queue"
)

const DefaultMaxUploadBytes = 200 << 20

// Enqueuer hands discovered items to background classification.
type Enqueuer interface {
	Enqueue(ctx context.Context, job async.Job) error
}

// Deps are the services behind the API. Enqueuer and Ping may be nil.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Queue    *queue.Service
	Keywords *keywords.Normalizer
	Export   *export.Service
	Enqueuer Enqueuer
	Ping     func(ctx context.Context) error
}

type Config struct {
	MaxUploadBytes int64
	AllowedOrigins []string
}

type Server struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
}

func New(deps Deps, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{deps: deps, cfg: cfg, logger: logger}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := chi.NewRouter()
	mux.Use(requestID)
	mux.Use(s.accessLog)
	mux.Use(middleware.Recoverer)
	if len(s.cfg.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
			ExposedHeaders: []string{requestIDHeader},
			MaxAge:         300,
		}))
	}

	mux.Get("/healthz", s.wrap(s.handleHealth))

	mux.Route("/api/v1", func(r chi.Router) {
		r.Post("/upload", s.wrap(s.handleUpload))

		r.Route("/queue", func(r chi.Router) {
			r.Get("/status", s.wrap(s.handleQueueStatus))
			r.Get("/", s.wrap(s.handleQueueList))
			r.Post("/discover", s.wrap(s.handleDiscover))
			r.Get("/{id}", s.wrap(s.handleQueueGet))
			r.Post("/{id}/classify", s.wrap(s.handleClassify))
			r.Post("/{id}/promote", s.wrap(s.handlePromote))
			r.Post("/{id}/reject", s.wrap(s.handleReject))
		})

		r.Route("/keywords", func(r chi.Router) {
			r.Get("/", s.wrap(s.handleCanonicalList))
			r.Get("/unmatched", s.wrap(s.handleUnmatched))
			r.Post("/map", s.wrap(s.handleMap))
			r.Post("/merge", s.wrap(s.handleMerge))
			r.Post("/import", s.wrap(s.handleImport))
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/", s.wrap(s.handleReportList))
			r.Get("/{id}", s.wrap(s.handleReportGet))
			r.Delete("/{id}", s.wrap(s.handleReportDelete))
		})

		r.Get("/export.xlsx", s.wrap(s.handleExport))
	})
	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (s *Server) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := h(w, r); err != nil {
			s.writeError(w, r, err)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) error {
	if s.deps.Ping != nil {
		if err := s.deps.Ping(r.Context()); err != nil {
			s.logger.Error("health.db_unreachable", "error", err)
			return writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		}
	}
	return writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return common.InvalidArgumentError("request body is empty")
		}
		return common.InvalidArgumentErrorf("malformed JSON body: %v", err)
	}
	return nil
}

// decodeOptionalJSON leaves v untouched when the body is empty.
func decodeOptionalJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return common.InvalidArgumentErrorf("malformed JSON body: %v", err)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	if err := common.NewValidator().Field("id", raw, common.UUID).Err(); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(raw), nil
}

// page reads limit and offset; absent values fall through to repository defaults.
func page(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, common.InvalidArgumentErrorf("limit must be a non-negative integer")
		}
	}
	if v := strings.TrimSpace(q.Get("offset")); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, common.InvalidArgumentErrorf("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

type pageOf[T any] struct {
	Items  []T   `json:"items"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}
