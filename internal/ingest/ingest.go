package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/pipeline"
)

// Uploader is the slice of the pipeline the ingestor drives.
type Uploader interface {
	UploadBatch(ctx context.Context, docs []pipeline.Document, opts pipeline.Options) []pipeline.Result
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned   int `json:"scanned"`
	Matched   int `json:"matched"`
	Created   int `json:"created"`
	Duplicate int `json:"duplicate"`
	Failed    int `json:"failed"`
}

func (s *DirStats) add(r pipeline.Result) {
	switch r.Status {
	case constants.UploadStatusCreated:
		s.Created++
	case constants.UploadStatusDuplicate:
		s.Duplicate++
	default:
		s.Failed++
	}
}

// Ingestor feeds local PDFs into the upload pipeline. Files are read into
// memory; nothing is copied or written back.
type Ingestor struct {
	up         Uploader
	logger     *slog.Logger
	agency     string
	skipHidden bool
}

type Option func(*Ingestor)

// WithAgency stamps every document with a fallback agency name.
func WithAgency(a string) Option { return func(i *Ingestor) { i.agency = a } }

func WithHidden(include bool) Option { return func(i *Ingestor) { i.skipHidden = !include } }

func New(up Uploader, logger *slog.Logger, opts ...Option) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	i := &Ingestor{up: up, logger: logger, skipHidden: true}
	for _, o := range opts {
		o(i)
	}
	return i
}

// IngestPaths uploads the given files, or every PDF under each directory.
func (i *Ingestor) IngestPaths(ctx context.Context, paths []string, opts pipeline.Options) ([]pipeline.Result, DirStats, error) {
	var (
		stats   DirStats
		files   []string
		results []pipeline.Result
	)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, stats, fmt.Errorf("stat %s: %w", p, err)
		}
		if !info.IsDir() {
			stats.Scanned++
			stats.Matched++
			files = append(files, p)
			continue
		}
		found, err := i.collect(p, &stats)
		if err != nil {
			return nil, stats, err
		}
		files = append(files, found...)
	}

	docs := make([]pipeline.Document, 0, len(files))
	for _, f := range files {
		doc, err := i.read(f)
		if err != nil {
			results = append(results, pipeline.Result{Filename: f, Status: constants.UploadStatusFailed, Error: err.Error(), Err: err})
			stats.Failed++
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) > 0 {
		for _, r := range i.up.UploadBatch(ctx, docs, opts) {
			stats.add(r)
			results = append(results, r)
		}
	}
	i.logger.Info("ingest.done",
		"scanned", stats.Scanned, "matched", stats.Matched,
		"created", stats.Created, "duplicate", stats.Duplicate, "failed", stats.Failed)
	return results, stats, nil
}

// IngestDirectory is IngestPaths for a single root.
func (i *Ingestor) IngestDirectory(ctx context.Context, root string, opts pipeline.Options) ([]pipeline.Result, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root path is required")
	}
	return i.IngestPaths(ctx, []string{root}, opts)
}

func (i *Ingestor) collect(root string, stats *DirStats) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			i.logger.Warn("ingest.walk_error", "path", path, "error", walkErr)
			return nil
		}
		if i.skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		stats.Scanned++
		if !IsPDF(path) {
			return nil
		}
		stats.Matched++
		out = append(out, path)
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("walk: %w", err)
	}
	return out, nil
}

func (i *Ingestor) read(path string) (pipeline.Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return pipeline.Document{
		Bytes:    b,
		Filename: filepath.Base(path),
		Agency:   i.agency,
		Channel:  "upload",
	}, nil
}

func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// IsHidden reports whether the file or directory name starts with '.'.
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
