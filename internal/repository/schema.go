package repository

import (
	"context"
	"fmt"
	"log/slog"

	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const textSize = 2147483647

var (
	FingerprintsColumns = []*schema.Column{
		{Name: "hash", Type: field.TypeString, Size: 64},
		{Name: "owner_kind", Type: field.TypeString, Size: 32},
		{Name: "owner_id", Type: field.TypeUUID},
		{Name: "created_at", Type: field.TypeTime},
	}
	FingerprintsTable = &schema.Table{
		Name:       "fingerprints",
		Columns:    FingerprintsColumns,
		PrimaryKey: []*schema.Column{FingerprintsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "fingerprint_owner", Columns: []*schema.Column{FingerprintsColumns[1], FingerprintsColumns[2]}},
		},
	}

	ReportsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "fingerprint", Type: field.TypeString, Size: 64, Unique: true},
		{Name: "slug", Type: field.TypeString, Size: 255, Unique: true},
		{Name: "title", Type: field.TypeString, Size: textSize},
		{Name: "agency", Type: field.TypeString, Size: 512},
		{Name: "state", Type: field.TypeString, Size: 64},
		{Name: "audit_scope", Type: field.TypeString, Size: textSize},
		{Name: "publication_year", Type: field.TypeInt},
		{Name: "publication_month", Type: field.TypeInt},
		{Name: "publication_day", Type: field.TypeInt},
		{Name: "overall_conclusion", Type: field.TypeString, Size: textSize},
		{Name: "summary", Type: field.TypeString, Size: textSize},
		{Name: "source_url", Type: field.TypeString, Size: textSize},
		{Name: "filename", Type: field.TypeString, Size: 512},
		{Name: "channel", Type: field.TypeString, Size: 16},
		{Name: "provider", Type: field.TypeString, Size: 32},
		{Name: "model", Type: field.TypeString, Size: 128},
		{Name: "strategy", Type: field.TypeString, Size: 32},
		{Name: "total_cost", Type: field.TypeFloat64},
		{Name: "cost_estimated", Type: field.TypeBool},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	ReportsTable = &schema.Table{
		Name:       "reports",
		Columns:    ReportsColumns,
		PrimaryKey: []*schema.Column{ReportsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "report_agency", Columns: []*schema.Column{ReportsColumns[4]}},
			{Name: "report_created_at", Columns: []*schema.Column{ReportsColumns[20]}},
		},
	}

	ObjectivesColumns = childColumns(false)
	ObjectivesTable   = childTable("objectives", ObjectivesColumns)

	FindingsColumns = childColumns(true)
	FindingsTable   = childTable("findings", FindingsColumns)

	RecommendationsColumns = childColumns(false)
	RecommendationsTable   = childTable("recommendations", RecommendationsColumns)

	CanonicalKeywordsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "label", Type: field.TypeString, Size: 512},
		{Name: "slug", Type: field.TypeString, Size: 255, Unique: true},
		{Name: "usage_count", Type: field.TypeInt64},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	CanonicalKeywordsTable = &schema.Table{
		Name:       "canonical_keywords",
		Columns:    CanonicalKeywordsColumns,
		PrimaryKey: []*schema.Column{CanonicalKeywordsColumns[0]},
	}

	KeywordAliasesColumns = []*schema.Column{
		{Name: "alias", Type: field.TypeString, Size: 512},
		{Name: "canonical_id", Type: field.TypeUUID},
		{Name: "created_at", Type: field.TypeTime},
	}
	KeywordAliasesTable = &schema.Table{
		Name:       "keyword_aliases",
		Columns:    KeywordAliasesColumns,
		PrimaryKey: []*schema.Column{KeywordAliasesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "keyword_aliases_canonical_keywords_aliases",
				Columns:    []*schema.Column{KeywordAliasesColumns[1]},
				RefColumns: []*schema.Column{CanonicalKeywordsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "keywordalias_canonical_id", Columns: []*schema.Column{KeywordAliasesColumns[1]}},
		},
	}

	UnmatchedTermsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "normalized", Type: field.TypeString, Size: 512, Unique: true},
		{Name: "occurrence_count", Type: field.TypeInt64},
		{Name: "first_seen", Type: field.TypeTime},
		{Name: "last_seen", Type: field.TypeTime},
	}
	UnmatchedTermsTable = &schema.Table{
		Name:       "unmatched_terms",
		Columns:    UnmatchedTermsColumns,
		PrimaryKey: []*schema.Column{UnmatchedTermsColumns[0]},
	}

	KeywordMentionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "report_id", Type: field.TypeUUID},
		{Name: "scope_kind", Type: field.TypeString, Size: 32},
		{Name: "scope_id", Type: field.TypeUUID},
		{Name: "raw_text", Type: field.TypeString, Size: 1024},
		{Name: "normalized", Type: field.TypeString, Size: 512},
		{Name: "canonical_id", Type: field.TypeUUID, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	KeywordMentionsTable = &schema.Table{
		Name:       "keyword_mentions",
		Columns:    KeywordMentionsColumns,
		PrimaryKey: []*schema.Column{KeywordMentionsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "keyword_mentions_reports_mentions",
				Columns:    []*schema.Column{KeywordMentionsColumns[1]},
				RefColumns: []*schema.Column{ReportsColumns[0]},
				OnDelete:   schema.Cascade,
			},
			{
				Symbol:     "keyword_mentions_canonical_keywords_mentions",
				Columns:    []*schema.Column{KeywordMentionsColumns[6]},
				RefColumns: []*schema.Column{CanonicalKeywordsColumns[0]},
				OnDelete:   schema.SetNull,
			},
		},
		Indexes: []*schema.Index{
			{Name: "keywordmention_normalized", Columns: []*schema.Column{KeywordMentionsColumns[5]}},
			{Name: "keywordmention_canonical_id", Columns: []*schema.Column{KeywordMentionsColumns[6]}},
			{Name: "keywordmention_report_id", Columns: []*schema.Column{KeywordMentionsColumns[1]}},
		},
	}

	QueueItemsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "fingerprint", Type: field.TypeString, Size: 64},
		{Name: "source_url", Type: field.TypeString, Size: textSize},
		{Name: "title", Type: field.TypeString, Size: textSize},
		{Name: "snippet", Type: field.TypeString, Size: textSize},
		{Name: "agency", Type: field.TypeString, Size: 512},
		{Name: "state", Type: field.TypeString, Size: 32},
		{Name: "verdict", Type: field.TypeString, Size: 16, Nullable: true},
		{Name: "confidence", Type: field.TypeFloat64, Nullable: true},
		{Name: "reasoning", Type: field.TypeString, Size: textSize},
		{Name: "document_type", Type: field.TypeString, Size: 128},
		{Name: "report_id", Type: field.TypeUUID, Nullable: true},
		{Name: "error", Type: field.TypeString, Size: textSize},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
	}
	QueueItemsTable = &schema.Table{
		Name:       "queue_items",
		Columns:    QueueItemsColumns,
		PrimaryKey: []*schema.Column{QueueItemsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "queueitem_fingerprint", Columns: []*schema.Column{QueueItemsColumns[1]}},
			{Name: "queueitem_state", Columns: []*schema.Column{QueueItemsColumns[6]}},
		},
	}

	CostRecordsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "report_id", Type: field.TypeUUID, Nullable: true},
		{Name: "queue_item_id", Type: field.TypeUUID, Nullable: true},
		{Name: "operation", Type: field.TypeString, Size: 16},
		{Name: "provider", Type: field.TypeString, Size: 32},
		{Name: "model", Type: field.TypeString, Size: 128},
		{Name: "strategy", Type: field.TypeString, Size: 32},
		{Name: "attempt", Type: field.TypeInt},
		{Name: "input_tokens", Type: field.TypeInt64},
		{Name: "output_tokens", Type: field.TypeInt64},
		{Name: "total_tokens", Type: field.TypeInt64},
		{Name: "input_cost", Type: field.TypeFloat64},
		{Name: "output_cost", Type: field.TypeFloat64},
		{Name: "total_cost", Type: field.TypeFloat64},
		{Name: "estimated", Type: field.TypeBool},
		{Name: "latency_ms", Type: field.TypeInt64},
		{Name: "status", Type: field.TypeString, Size: 16},
		{Name: "error", Type: field.TypeString, Size: textSize},
		{Name: "created_at", Type: field.TypeTime},
	}
	CostRecordsTable = &schema.Table{
		Name:       "cost_records",
		Columns:    CostRecordsColumns,
		PrimaryKey: []*schema.Column{CostRecordsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "cost_records_reports_costs",
				Columns:    []*schema.Column{CostRecordsColumns[1]},
				RefColumns: []*schema.Column{ReportsColumns[0]},
				OnDelete:   schema.SetNull,
			},
		},
		Indexes: []*schema.Index{
			{Name: "costrecord_report_id", Columns: []*schema.Column{CostRecordsColumns[1]}},
			{Name: "costrecord_queue_item_id", Columns: []*schema.Column{CostRecordsColumns[2]}},
		},
	}

	// Tables holds all the tables in the schema, parents first.
	Tables = []*schema.Table{
		FingerprintsTable,
		ReportsTable,
		ObjectivesTable,
		FindingsTable,
		RecommendationsTable,
		CanonicalKeywordsTable,
		KeywordAliasesTable,
		UnmatchedTermsTable,
		KeywordMentionsTable,
		QueueItemsTable,
		CostRecordsTable,
	}
)

func init() {
	for _, t := range []*schema.Table{ObjectivesTable, FindingsTable, RecommendationsTable, KeywordMentionsTable, CostRecordsTable} {
		for _, fk := range t.ForeignKeys {
			if fk.RefColumns[0] == ReportsColumns[0] {
				fk.RefTable = ReportsTable
			}
		}
	}
	KeywordAliasesTable.ForeignKeys[0].RefTable = CanonicalKeywordsTable
	KeywordMentionsTable.ForeignKeys[1].RefTable = CanonicalKeywordsTable
}

// childColumns are shared by the ordered children of a report.
func childColumns(withImpact bool) []*schema.Column {
	cols := []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "report_id", Type: field.TypeUUID},
		{Name: "position", Type: field.TypeInt},
		{Name: "body", Type: field.TypeString, Size: textSize},
	}
	if withImpact {
		cols = append(cols, &schema.Column{Name: "financial_impact", Type: field.TypeFloat64, Nullable: true})
	}
	return cols
}

func childTable(name string, cols []*schema.Column) *schema.Table {
	return &schema.Table{
		Name:       name,
		Columns:    cols,
		PrimaryKey: []*schema.Column{cols[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     name + "_reports_" + name,
				Columns:    []*schema.Column{cols[1]},
				RefColumns: []*schema.Column{ReportsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: name + "_report_position", Unique: true, Columns: []*schema.Column{cols[1], cols[2]}},
		},
	}
}

// Migrate creates or updates the tables. It is idempotent and runs at startup.
func Migrate(ctx context.Context, drv *entsql.Driver, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	m, err := schema.NewMigrate(drv)
	if err != nil {
		return fmt.Errorf("schema migrate: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		logger.Error("schema migration failed", "error", err)
		return fmt.Errorf("schema create: %w", err)
	}
	logger.Info("schema up to date", "tables", len(Tables))
	return nil
}
