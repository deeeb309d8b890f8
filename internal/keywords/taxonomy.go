package keywords

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/repository"
)

type TaxonomyFormat string

const (
	FormatCSV  TaxonomyFormat = "csv"
	FormatXLSX TaxonomyFormat = "xlsx"
)

// TaxonomyRow is one line of a keyword mapping sheet.
type TaxonomyRow struct {
	Canonical string
	Slug      string
	Variation string
}

type ImportResult struct {
	Rows       int      `json:"rows"`
	Created    int      `json:"created"`
	Aliases    int      `json:"aliases"`
	Reattached int64    `json:"reattached"`
	Skipped    []string `json:"skipped,omitempty"`
}

// ParseTaxonomy reads rows with the columns canonical_keyword, slug, variation.
// Header names are matched case-insensitively; slug and variation may be missing.
func ParseTaxonomy(r io.Reader, format TaxonomyFormat) ([]TaxonomyRow, error) {
	var records [][]string
	switch format {
	case FormatCSV:
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		cr.TrimLeadingSpace = true
		var err error
		if records, err = cr.ReadAll(); err != nil {
			return nil, common.InvalidArgumentErrorf("read csv: %v", err)
		}
	case FormatXLSX:
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, common.InvalidArgumentErrorf("open xlsx: %v", err)
		}
		defer func() { _ = f.Close() }()
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, common.InvalidArgumentError("xlsx has no sheets")
		}
		if records, err = f.GetRows(sheets[0]); err != nil {
			return nil, common.InvalidArgumentErrorf("read xlsx rows: %v", err)
		}
	default:
		return nil, common.InvalidArgumentErrorf("unsupported taxonomy format %q", format)
	}
	if len(records) == 0 {
		return nil, common.InvalidArgumentError("taxonomy file is empty")
	}

	col := map[string]int{"canonical_keyword": -1, "slug": -1, "variation": -1}
	for i, h := range records[0] {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, ok := col[h]; ok {
			col[h] = i
		}
	}
	if col["canonical_keyword"] < 0 {
		return nil, common.InvalidArgumentError("taxonomy header must include canonical_keyword")
	}
	cell := func(rec []string, name string) string {
		i := col[name]
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	rows := make([]TaxonomyRow, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := TaxonomyRow{
			Canonical: cell(rec, "canonical_keyword"),
			Slug:      cell(rec, "slug"),
			Variation: cell(rec, "variation"),
		}
		if row.Canonical == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ImportTaxonomy loads a mapping sheet in one transaction. Canonicals and
// aliases are created idempotently; unmatched terms equal to a new alias are
// reattached through the same path createMapping uses. Variations already
// owned by another keyword are skipped and reported.
func (n *Normalizer) ImportTaxonomy(ctx context.Context, r io.Reader, format TaxonomyFormat) (ImportResult, error) {
	rows, err := ParseTaxonomy(r, format)
	if err != nil {
		return ImportResult{}, err
	}
	res := ImportResult{Rows: len(rows)}
	err = n.store.InTx(ctx, func(tx *repository.Tx) error {
		kw := tx.Keywords()
		for _, row := range rows {
			c, created, moved, err := n.ensureCanonical(ctx, tx, row.Canonical, row.Slug)
			if err != nil {
				return fmt.Errorf("canonical %q: %w", row.Canonical, err)
			}
			if created {
				res.Created++
				res.Aliases++
				res.Reattached += moved
			}
			if row.Variation == "" {
				continue
			}
			alias := NormalizeKey(row.Variation)
			if alias == "" {
				continue
			}
			existing, err := kw.GetAlias(ctx, alias)
			switch {
			case err == nil && existing.CanonicalID == c.ID:
				continue
			case err == nil:
				res.Skipped = append(res.Skipped, fmt.Sprintf("%q already maps to %q", row.Variation, existing.Label))
				continue
			case !errors.Is(err, common.ErrNotFound):
				return err
			}
			moved, err = n.attachAlias(ctx, tx, c.ID, alias, "import_taxonomy")
			if err != nil {
				return err
			}
			res.Aliases++
			res.Reattached += moved
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	n.logger.Info("keywords.taxonomy_imported",
		"rows", res.Rows, "created", res.Created, "aliases", res.Aliases,
		"reattached", res.Reattached, "skipped", len(res.Skipped))
	return res, nil
}
