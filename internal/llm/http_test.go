package llm_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/llm"
)

func TestPostJSON(t *testing.T) {
	var gotKey, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey, gotType = r.Header.Get("x-api-key"), r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	raw, err := llm.PostJSON(context.Background(), srv.Client(), llm.Endpoint{
		Provider: "test", Model: "m1", URL: srv.URL, Headers: map[string]string{"x-api-key": "secret"},
	}, map[string]string{"q": "x"}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "application/json", gotType)
}

func TestPostJSONErrorKinds(t *testing.T) {
	cases := map[int]common.ProviderErrorKind{
		http.StatusTooManyRequests:     common.ProviderErrRateLimit,
		http.StatusUnauthorized:        common.ProviderErrConfig,
		http.StatusGatewayTimeout:      common.ProviderErrTimeout,
		http.StatusInternalServerError: common.ProviderErrHTTP,
	}
	for status, kind := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
			_, _ = w.Write([]byte("nope"))
		}))
		_, err := llm.PostJSON(context.Background(), srv.Client(), llm.Endpoint{Provider: "test", Model: "m1", URL: srv.URL}, struct{}{}, nil)
		srv.Close()

		var pe *common.ProviderError
		require.True(t, errors.As(err, &pe), "status %d", status)
		assert.Equal(t, kind, pe.Kind, "status %d", status)
		assert.Equal(t, "test", pe.Provider)
		assert.ErrorIs(t, err, common.ErrProvider)
		assert.ErrorContains(t, err, "nope")
	}
}

func TestPostJSONTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := llm.PostJSON(ctx, srv.Client(), llm.Endpoint{Provider: "test", URL: srv.URL}, struct{}{}, nil)
	var pe *common.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, common.ProviderErrTimeout, pe.Kind)
}
