package export

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/repository"
	"github.com/joseph-ayodele/audit-reports/internal/storage"
)

const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const (
	sheetReports  = "Reports"
	sheetCosts    = "Costs"
	sheetKeywords = "Keywords"
)

// Summary counts the rows written to each sheet.
type Summary struct {
	Reports  int `json:"reports"`
	Costs    int `json:"costs"`
	Keywords int `json:"keywords"`
}

// Service produces XLSX workbooks of reports, AI costs and the keyword taxonomy.
type Service struct {
	store  *repository.Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store *repository.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// ExportXLSX returns the workbook bytes.
func (s *Service) ExportXLSX(ctx context.Context) ([]byte, Summary, error) {
	start := time.Now()
	var sum Summary

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetReports); err != nil {
		return nil, sum, err
	}
	for _, name := range []string{sheetCosts, sheetKeywords} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, sum, err
		}
	}

	var err error
	if sum.Reports, err = s.writeReports(ctx, f); err != nil {
		return nil, sum, fmt.Errorf("reports sheet: %w", err)
	}
	if sum.Costs, err = s.writeCosts(ctx, f); err != nil {
		return nil, sum, fmt.Errorf("costs sheet: %w", err)
	}
	if sum.Keywords, err = s.writeKeywords(ctx, f); err != nil {
		return nil, sum, fmt.Errorf("keywords sheet: %w", err)
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, sum, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"reports", sum.Reports,
		"costs", sum.Costs,
		"keywords", sum.Keywords,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), sum, nil
}

// Publish exports and uploads the workbook under prefix, returning the object URL.
func (s *Service) Publish(ctx context.Context, dst storage.ObjectStore, prefix string) (string, Summary, error) {
	data, sum, err := s.ExportXLSX(ctx)
	if err != nil {
		return "", sum, err
	}
	key := path.Join(prefix, fmt.Sprintf("audit-reports-%s.xlsx", s.now().UTC().Format("20060102-150405")))
	url, err := dst.Put(ctx, key, data, XLSXContentType)
	if err != nil {
		s.logger.Error("export.publish.failed", "key", key, "error", err)
		return "", sum, fmt.Errorf("publish %s: %w", key, err)
	}
	s.logger.Info("export.publish.ok", "key", key, "url", url)
	return url, sum, nil
}

func writeHeader(f *excelize.File, sheet string, headers []string) error {
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return err
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

// each walks a paginated listing until a short page.
func each[T any](ctx context.Context, list func(ctx context.Context, limit, offset int) ([]T, error), fn func(T) error) error {
	for offset := 0; ; offset += repository.MaxPageSize {
		page, err := list(ctx, repository.MaxPageSize, offset)
		if err != nil {
			return err
		}
		for _, v := range page {
			if err := fn(v); err != nil {
				return err
			}
		}
		if len(page) < repository.MaxPageSize {
			return nil
		}
	}
}

func (s *Service) writeReports(ctx context.Context, f *excelize.File) (int, error) {
	err := writeHeader(f, sheetReports, []string{
		"Title", "Agency", "State", "Audit Scope", "Published", "Channel",
		"Source URL", "Filename", "Provider", "Model", "Strategy",
		"AI Cost (USD)", "Cost Estimated", "Fingerprint", "Created At",
	})
	if err != nil {
		return 0, err
	}
	row := 2
	err = each(ctx, s.store.Reports().List, func(r entity.Report) error {
		err := writeRow(f, sheetReports, row, []any{
			r.Title, r.Agency, r.State, r.AuditScope,
			published(r.PublicationYear, r.PublicationMonth, r.PublicationDay),
			r.Channel, r.SourceURL, r.Filename, r.Provider, r.Model, r.Strategy,
			r.TotalCost, r.CostEstimated, r.Fingerprint, r.CreatedAt.UTC().Format(time.RFC3339),
		})
		row++
		return err
	})
	if err != nil {
		return 0, err
	}
	_ = f.SetColWidth(sheetReports, "A", "A", 60)
	_ = f.SetColWidth(sheetReports, "B", "B", 36)
	_ = f.SetColWidth(sheetReports, "G", "G", 48)
	_ = f.SetColWidth(sheetReports, "N", "N", 66)
	return row - 2, nil
}

func (s *Service) writeCosts(ctx context.Context, f *excelize.File) (int, error) {
	err := writeHeader(f, sheetCosts, []string{
		"Created At", "Operation", "Provider", "Model", "Strategy", "Attempt", "Status",
		"Input Tokens", "Output Tokens", "Total Cost (USD)", "Estimated", "Latency (ms)",
		"Report ID", "Queue Item ID", "Error",
	})
	if err != nil {
		return 0, err
	}
	row := 2
	err = each(ctx, s.store.Costs().List, func(c entity.CostRecord) error {
		reportID, queueID := "", ""
		if c.ReportID != nil {
			reportID = c.ReportID.String()
		}
		if c.QueueItemID != nil {
			queueID = c.QueueItemID.String()
		}
		err := writeRow(f, sheetCosts, row, []any{
			c.CreatedAt.UTC().Format(time.RFC3339), string(c.Operation), c.Provider, c.Model,
			c.Strategy, c.Attempt, string(c.Status), c.InputTokens, c.OutputTokens,
			c.TotalCost, c.Estimated, c.LatencyMS, reportID, queueID, truncate(c.Error, 200),
		})
		row++
		return err
	})
	if err != nil {
		return 0, err
	}
	_ = f.SetColWidth(sheetCosts, "M", "N", 38)
	_ = f.SetColWidth(sheetCosts, "O", "O", 60)
	return row - 2, nil
}

func (s *Service) writeKeywords(ctx context.Context, f *excelize.File) (int, error) {
	if err := writeHeader(f, sheetKeywords, []string{"Keyword", "Slug", "Usage", "Aliases"}); err != nil {
		return 0, err
	}
	kw := s.store.Keywords()
	row := 2
	err := each(ctx, kw.ListCanonical, func(k entity.CanonicalKeyword) error {
		aliases, err := kw.AliasesOf(ctx, k.ID)
		if err != nil {
			return err
		}
		if err := writeRow(f, sheetKeywords, row, []any{k.Label, k.Slug, k.UsageCount, strings.Join(aliases, "; ")}); err != nil {
			return err
		}
		row++
		return nil
	})
	if err != nil {
		return 0, err
	}
	_ = f.SetColWidth(sheetKeywords, "A", "B", 36)
	_ = f.SetColWidth(sheetKeywords, "D", "D", 80)
	return row - 2, nil
}

// published renders a partial publication date (year, year-month or full).
func published(y, m, d int) string {
	switch {
	case y == 0:
		return ""
	case m == 0:
		return fmt.Sprintf("%04d", y)
	case d == 0:
		return fmt.Sprintf("%04d-%02d", y, m)
	default:
		return fmt.Sprintf("%04d-%02d-%02d", y, m, d)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
