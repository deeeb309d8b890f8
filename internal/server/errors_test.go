package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joseph-ayodele/audit-reports/internal/common"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&common.DuplicateError{Fingerprint: "ab"}, http.StatusConflict},
		{&common.DuplicateInQueueError{Fingerprint: "ab"}, http.StatusConflict},
		{&common.StateConflictError{QueueItemID: "x"}, http.StatusConflict},
		{common.NotFoundError("report"), http.StatusNotFound},
		{common.InvalidArgumentError("bad"), http.StatusUnprocessableEntity},
		{common.NewAppError("VALIDATION_FAILED", "too big", common.ErrValidation), http.StatusUnprocessableEntity},
		{&common.UnparsableDocumentError{Strategy: "layout-aware"}, http.StatusUnprocessableEntity},
		{fmt.Errorf("promote: %w", &common.ExtractionFailedError{Operation: "extract"}), http.StatusBadGateway},
		{&common.MappingConsistencyError{Operation: "merge"}, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		got, _ := statusFor(c.err)
		assert.Equal(t, c.want, got, c.err.Error())
	}
}
