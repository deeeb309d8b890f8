package server

import (
	"errors"
	"net/http"

	"github.com/joseph-ayodele/audit-reports/internal/common"
)

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// statusFor maps domain errors to HTTP status and a stable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrDuplicateInQueue):
		return http.StatusConflict, "DUPLICATE_IN_QUEUE"
	case errors.Is(err, common.ErrDuplicate):
		return http.StatusConflict, "DUPLICATE"
	case errors.Is(err, common.ErrStateConflict):
		return http.StatusConflict, "STATE_CONFLICT"
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, common.ErrUnparsable):
		return http.StatusUnprocessableEntity, "UNPARSABLE_DOCUMENT"
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		return http.StatusUnprocessableEntity, "INVALID_INPUT"
	case errors.Is(err, common.ErrExtractionFailed):
		return http.StatusBadGateway, "EXTRACTION_FAILED"
	case errors.Is(err, common.ErrMappingConsistency):
		return http.StatusInternalServerError, "MAPPING_CONSISTENCY"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	reqID := common.RequestIDFromContext(r.Context())
	body := errorBody{Error: err.Error(), Code: code, RequestID: reqID}

	var dup *common.DuplicateError
	var dq *common.DuplicateInQueueError
	var sc *common.StateConflictError
	switch {
	case errors.As(err, &dq):
		body.Details = dq
	case errors.As(err, &dup):
		body.Details = dup
	case errors.As(err, &sc):
		body.Details = sc
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("http.error", "req_id", reqID, "path", r.URL.Path, "code", code, "error", err)
		if code == "INTERNAL" {
			body.Error = "internal error"
		}
	} else {
		s.logger.Warn("http.rejected", "req_id", reqID, "path", r.URL.Path, "code", code, "error", err)
	}
	_ = writeJSON(w, status, body)
}
