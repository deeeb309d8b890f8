package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/pipeline"
)

const maxFieldBytes = 64 << 10

type filePart struct {
	Field    string
	Filename string
	Bytes    []byte
}

// form is a multipart body held entirely in memory.
type form struct {
	Files  []filePart
	Fields map[string]string
}

func (f *form) files(names ...string) []filePart {
	var out []filePart
	for _, p := range f.Files {
		for _, n := range names {
			if p.Field == n {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// readForm streams the multipart body part by part. Unlike ParseMultipartForm
// it never spools a large part to a temp file; document bytes stay in memory.
func (s *Server) readForm(w http.ResponseWriter, r *http.Request) (*form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, common.InvalidArgumentErrorf("malformed multipart form: %v", err)
	}
	f := &form{Fields: make(map[string]string)}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return f, nil
		}
		if err != nil {
			return nil, formErr(err)
		}
		name := part.FormName()
		if part.FileName() == "" {
			b, err := io.ReadAll(io.LimitReader(part, maxFieldBytes+1))
			_ = part.Close()
			if err != nil {
				return nil, formErr(err)
			}
			if len(b) > maxFieldBytes {
				return nil, common.InvalidArgumentErrorf("field %s exceeds %d bytes", name, maxFieldBytes)
			}
			f.Fields[name] = strings.TrimSpace(string(b))
			continue
		}
		b, err := io.ReadAll(io.LimitReader(part, s.cfg.MaxUploadBytes+1))
		_ = part.Close()
		if err != nil {
			return nil, formErr(fmt.Errorf("read part %s: %w", part.FileName(), err))
		}
		if int64(len(b)) > s.cfg.MaxUploadBytes {
			return nil, common.InvalidArgumentErrorf("upload exceeds %d bytes", s.cfg.MaxUploadBytes)
		}
		f.Files = append(f.Files, filePart{Field: name, Filename: part.FileName(), Bytes: b})
	}
}

func formErr(err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return common.InvalidArgumentErrorf("upload exceeds %d bytes", tooBig.Limit)
	}
	return common.InvalidArgumentErrorf("malformed multipart form: %v", err)
}

// POST /api/v1/upload (multipart files[], provider, strategy, agency)
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) error {
	f, err := s.readForm(w, r)
	if err != nil {
		return err
	}
	parts := f.files("files[]", "files")
	if len(parts) == 0 {
		return common.InvalidArgumentError("at least one file is required in files[]")
	}

	opts := pipeline.Options{
		Provider: constants.Provider(f.Fields["provider"]),
		Strategy: constants.Strategy(f.Fields["strategy"]),
	}
	agency := f.Fields["agency"]

	docs := make([]pipeline.Document, 0, len(parts))
	for _, p := range parts {
		docs = append(docs, pipeline.Document{Bytes: p.Bytes, Filename: p.Filename, Agency: agency, Channel: "upload"})
	}

	results := s.deps.Pipeline.UploadBatch(r.Context(), docs, opts)
	s.logger.Info("http.upload.done", "req_id", common.RequestIDFromContext(r.Context()), "files", len(results))
	return writeJSON(w, http.StatusOK, results)
}
