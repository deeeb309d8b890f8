package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/async"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/export"
	"github.com/joseph-ayodele/audit-reports/internal/extract"
	"github.com/joseph-ayodele/audit-reports/internal/fingerprint"
	"github.com/joseph-ayodele/audit-reports/internal/keywords"
	"github.com/joseph-ayodele/audit-reports/internal/llm"
	"github.com/joseph-ayodele/audit-reports/internal/pipeline"
	"github.com/joseph-ayodele/audit-reports/internal/queue"
	"github.com/joseph-ayodele/audit-reports/internal/repository/repotest"
	"github.com/joseph-ayodele/audit-reports/internal/server"
)

type stubText struct{}

func (stubText) Extract(_ context.Context, pdf []byte, strategy constants.Strategy) (extract.ExtractedText, error) {
	return extract.ExtractedText{Pages: []string{string(pdf)}, FullText: string(pdf), Strategy: strategy}, nil
}

type stubAI struct{}

func (stubAI) ExtractStructured(_ context.Context, text string, _ constants.Provider) (llm.ReportFields, []entity.CostRecord, error) {
	return llm.ReportFields{
		Title:           "Audit of " + text,
		Agency:          "OIG",
		State:           "NY",
		PublicationYear: 2024,
		Keywords:        []string{"Improper Payments"},
	}, nil, nil
}

func (stubAI) Classify(context.Context, llm.Candidate, constants.Provider) (llm.Classification, []entity.CostRecord, error) {
	return llm.Classification{Verdict: constants.VerdictRelevant, Confidence: 0.8}, nil, nil
}

type stubFetcher struct{ bodies map[string][]byte }

func (f stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	if b, ok := f.bodies[url]; ok {
		return b, nil
	}
	return nil, errors.New("not found")
}

type recordingEnqueuer struct {
	mu   sync.Mutex
	jobs []async.Job
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, j async.Job) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.jobs = append(e.jobs, j)
	return nil
}

type harness struct {
	srv     *httptest.Server
	fetcher stubFetcher
	enq     *recordingEnqueuer
}

func newHarness(t *testing.T, ping func(context.Context) error) *harness {
	t.Helper()
	return newHarnessWithText(t, ping, stubText{})
}

func newHarnessWithText(t *testing.T, ping func(context.Context) error, text extract.TextExtractor) *harness {
	t.Helper()
	store := repotest.NewStore(t)
	kw := keywords.NewNormalizer(store, repotest.Logger())
	pipe := pipeline.New(store, fingerprint.NewStore(store, repotest.Logger()), text, stubAI{}, kw, pipeline.Config{}, repotest.Logger())
	h := &harness{fetcher: stubFetcher{bodies: map[string][]byte{}}, enq: &recordingEnqueuer{}}
	q := queue.NewService(store, pipe, stubAI{}, h.fetcher, queue.Config{}, repotest.Logger())

	s := server.New(server.Deps{
		Pipeline: pipe,
		Queue:    q,
		Keywords: kw,
		Export:   export.NewService(store, repotest.Logger()),
		Enqueuer: h.enq,
		Ping:     ping,
	}, server.Config{AllowedOrigins: []string{"https://dashboard.example"}}, repotest.Logger())
	h.srv = httptest.NewServer(s.Routes())
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (h *harness) upload(t *testing.T, files map[string]string, fields map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, body := range files {
		fw, err := mw.CreateFormFile("files[]", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(body))
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/v1/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-Request-ID", "req-upload")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

type errBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, func(context.Context) error { return nil })
	resp := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	down := newHarness(t, func(context.Context) error { return errors.New("connection refused") })
	resp = down.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestUploadEndpoint(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.upload(t, map[string]string{"a.pdf": "alpha", "b.pdf": "beta"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-upload", resp.Header.Get("X-Request-ID"))
	results := decode[[]pipeline.Result](t, resp)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, constants.UploadStatusCreated, r.Status)
		assert.NotNil(t, r.ReportID)
		assert.Len(t, r.Fingerprint, 64)
	}

	resp = h.upload(t, map[string]string{"again.pdf": "alpha"}, nil)
	results = decode[[]pipeline.Result](t, resp)
	require.Len(t, results, 1)
	assert.Equal(t, constants.UploadStatusDuplicate, results[0].Status)

	resp = h.upload(t, map[string]string{"c.pdf": "gamma"}, map[string]string{"strategy": "ocr"})
	results = decode[[]pipeline.Result](t, resp)
	require.Len(t, results, 1)
	assert.Equal(t, constants.UploadStatusFailed, results[0].Status)
	assert.Contains(t, results[0].Error, "strategy")

	resp = h.upload(t, nil, map[string]string{"provider": "openai"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", decode[errBody](t, resp).Code)
}

// tempSpy records multipart temp files present while extraction runs.
type tempSpy struct {
	mu      sync.Mutex
	spilled []string
	sizes   []int
}

func (s *tempSpy) Extract(_ context.Context, pdf []byte, strategy constants.Strategy) (extract.ExtractedText, error) {
	matches, _ := filepath.Glob(filepath.Join(os.TempDir(), "multipart-*"))
	s.mu.Lock()
	s.spilled = append(s.spilled, matches...)
	s.sizes = append(s.sizes, len(pdf))
	s.mu.Unlock()
	return extract.ExtractedText{Pages: []string{"large"}, FullText: "large", Strategy: strategy}, nil
}

func TestLargeUploadStaysInMemory(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	spy := &tempSpy{}
	h := newHarnessWithText(t, nil, spy)

	big := strings.Repeat("%PDF-1.7 ", (40<<20)/9)
	resp := h.upload(t, map[string]string{"big.pdf": big}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decode[[]pipeline.Result](t, resp)
	require.Len(t, results, 1)
	assert.Equal(t, constants.UploadStatusCreated, results[0].Status)

	assert.Equal(t, []int{len(big)}, spy.sizes)
	assert.Empty(t, spy.spilled)
	left, err := filepath.Glob(filepath.Join(tmp, "multipart-*"))
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestQueueLifecycle(t *testing.T) {
	h := newHarness(t, nil)
	url := "https://oig.example/medicaid.pdf"
	h.fetcher.bodies[url] = []byte("medicaid")

	resp := h.do(t, http.MethodPost, "/api/v1/queue/discover", queue.Candidate{URL: url, Title: "Medicaid audit", Bytes: []byte("medicaid")})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	item := decode[entity.QueueItem](t, resp)
	assert.Equal(t, constants.QueueStateDiscovered, item.State)
	require.Len(t, h.enq.jobs, 1)
	assert.Equal(t, item.ID, h.enq.jobs[0].QueueItemID)

	resp = h.do(t, http.MethodPost, "/api/v1/queue/discover", queue.Candidate{URL: "https://mirror.example/m.pdf", Title: "Mirror", Bytes: []byte("medicaid")})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DUPLICATE_IN_QUEUE", decode[errBody](t, resp).Code)

	resp = h.do(t, http.MethodPost, "/api/v1/queue/"+item.ID.String()+"/classify", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, constants.QueueStateRelevantPendingReview, decode[entity.QueueItem](t, resp).State)

	resp = h.do(t, http.MethodPost, "/api/v1/queue/"+item.ID.String()+"/promote", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	rep := decode[entity.Report](t, resp)
	assert.Equal(t, "Audit of medicaid", rep.Title)
	assert.Equal(t, "search", rep.Channel)

	resp = h.do(t, http.MethodPost, "/api/v1/queue/"+item.ID.String()+"/promote", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "STATE_CONFLICT", decode[errBody](t, resp).Code)

	resp = h.do(t, http.MethodPost, "/api/v1/queue/"+uuid.NewString()+"/reject", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/queue/not-a-uuid/reject", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/v1/queue/status", nil)
	counts := decode[map[string]int64](t, resp)
	assert.Equal(t, int64(1), counts[string(constants.QueueStatePromoted)])
	assert.Contains(t, counts, string(constants.QueueStateRejected))
}

func TestKeywordEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	h.upload(t, map[string]string{"a.pdf": "alpha"}, nil)

	resp := h.do(t, http.MethodGet, "/api/v1/keywords/unmatched?limit=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pg := decode[struct {
		Items []entity.UnmatchedTerm `json:"items"`
		Total int64                  `json:"total"`
	}](t, resp)
	require.Len(t, pg.Items, 1)
	assert.Equal(t, int64(1), pg.Total)
	assert.Equal(t, "improper payments", pg.Items[0].Normalized)

	resp = h.do(t, http.MethodPost, "/api/v1/keywords/map", map[string]any{"unmatched_id": pg.Items[0].ID, "new_label": "Improper Payments"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	canonical := decode[entity.CanonicalKeyword](t, resp)
	assert.Equal(t, int64(1), canonical.UsageCount)

	resp = h.do(t, http.MethodPost, "/api/v1/keywords/map", map[string]any{"unmatched_id": pg.Items[0].ID, "new_label": "Improper Payments"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/keywords/merge", map[string]any{"into": canonical.ID, "from": canonical.ID})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/keywords/map", map[string]any{"bogus": true})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestKeywordEndpointsValidateIDs(t *testing.T) {
	h := newHarness(t, nil)

	cases := []struct {
		name string
		path string
		body map[string]any
	}{
		{"bad unmatched id", "/api/v1/keywords/map", map[string]any{"unmatched_id": "nope", "new_label": "X"}},
		{"bad canonical id", "/api/v1/keywords/map", map[string]any{"unmatched_id": uuid.NewString(), "canonical_id": "12"}},
		{"both targets", "/api/v1/keywords/map", map[string]any{"unmatched_id": uuid.NewString(), "canonical_id": uuid.NewString(), "new_label": "X"}},
		{"no target", "/api/v1/keywords/map", map[string]any{"unmatched_id": uuid.NewString()}},
		{"bad merge id", "/api/v1/keywords/merge", map[string]any{"into": uuid.NewString(), "from": "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.do(t, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			assert.Equal(t, "INVALID_INPUT", decode[errBody](t, resp).Code)
		})
	}

	resp := h.do(t, http.MethodGet, "/api/v1/reports/not-a-uuid", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestReportEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	resp := h.upload(t, map[string]string{"a.pdf": "alpha"}, nil)
	results := decode[[]pipeline.Result](t, resp)
	require.Len(t, results, 1)
	id := results[0].ReportID.String()

	resp = h.do(t, http.MethodGet, "/api/v1/reports/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rep := decode[entity.Report](t, resp)
	assert.Len(t, rep.Keywords, 1)

	resp = h.do(t, http.MethodGet, "/api/v1/export.xlsx", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, export.XLSXContentType, resp.Header.Get("Content-Type"))
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Disposition"), "attachment;"))

	resp = h.do(t, http.MethodDelete, "/api/v1/reports/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = h.do(t, http.MethodGet, "/api/v1/reports/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// The fingerprint was released, so the same bytes upload again.
	results = decode[[]pipeline.Result](t, h.upload(t, map[string]string{"a.pdf": "alpha"}, nil))
	assert.Equal(t, constants.UploadStatusCreated, results[0].Status)
}
