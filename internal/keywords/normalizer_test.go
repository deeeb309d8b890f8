package keywords_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/keywords"
	"github.com/joseph-ayodele/audit-reports/internal/repository"
	"github.com/joseph-ayodele/audit-reports/internal/repository/repotest"
)

func setup(t *testing.T, opts ...keywords.Option) (*repository.Store, *keywords.Normalizer) {
	t.Helper()
	store := repotest.NewStore(t)
	return store, keywords.NewNormalizer(store, repotest.Logger(), opts...)
}

func record(t *testing.T, store *repository.Store, n *keywords.Normalizer, reportID uuid.UUID, raws ...string) []entity.KeywordMention {
	t.Helper()
	ctx := context.Background()
	mentions := make([]keywords.Mention, 0, len(raws))
	for _, raw := range raws {
		mentions = append(mentions, keywords.Mention{ScopeKind: constants.ScopeReport, ScopeID: reportID, Raw: raw})
	}
	var out []entity.KeywordMention
	require.NoError(t, store.InTx(ctx, func(tx *repository.Tx) error {
		var err error
		out, err = n.Record(ctx, tx, reportID, mentions)
		return err
	}))
	return out
}

func importCSV(t *testing.T, n *keywords.Normalizer, body string) keywords.ImportResult {
	t.Helper()
	res, err := n.ImportTaxonomy(context.Background(), strings.NewReader(body), keywords.FormatCSV)
	require.NoError(t, err)
	return res
}

func unmatched(t *testing.T, store *repository.Store, key string) *entity.UnmatchedTerm {
	t.Helper()
	term, err := store.Keywords().GetUnmatchedByNormalized(context.Background(), key)
	require.NoError(t, err)
	return term
}

func TestNormalizeKey(t *testing.T) {
	cases := map[string]string{
		"Fraud, Waste, and Abuse":  "fraud waste and abuse",
		"  FRAUD   WASTE ABUSE  ":  "fraud waste abuse",
		"Medicaid/CHIP":            "medicaid chip",
		"Ｍｅｄｉｃａｉｄ":                 "medicaid",
		"---":                      "",
		"home\tand\ncommunity":     "home and community",
		"Prior-Authorization (PA)": "prior authorization pa",
	}
	for in, want := range cases {
		assert.Equal(t, want, keywords.NormalizeKey(in), in)
	}
}

func TestSimilarityIgnoresStopWords(t *testing.T) {
	assert.Equal(t, 1.0, keywords.Similarity("Fraud, Waste, and Abuse", "fraud waste abuse"))
	assert.InDelta(t, 0.9, keywords.Similarity("home cares", "home carts"), 1e-9)
	assert.Less(t, keywords.Similarity("home care", "home cars"), 0.9)
}

func TestStopWordOnlyKeysNeverFuzzyMatch(t *testing.T) {
	assert.Zero(t, keywords.Similarity("the", "of and"))
	assert.Zero(t, keywords.Similarity("the", "theft"))
	assert.Equal(t, 1.0, keywords.Similarity("The", " the "))

	ctx := context.Background()
	_, n := setup(t)
	importCSV(t, n, "canonical_keyword\nOf And\n")
	res, err := n.Normalize(ctx, "the")
	require.NoError(t, err)
	assert.Equal(t, keywords.MethodUnmatched, res.Method)
	assert.Nil(t, res.Canonical)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "fraud-waste-and-abuse", keywords.Slugify("Fraud, Waste, and Abuse"))
	assert.Equal(t, "managed-care", keywords.Slugify("  Managed   Care! "))
	assert.Equal(t, "", keywords.Slugify("!!!"))
}

func TestNormalizeCreatesUnmatchedOnce(t *testing.T) {
	ctx := context.Background()
	_, n := setup(t)

	first, err := n.Normalize(ctx, "Eligibility Determination")
	require.NoError(t, err)
	require.NotNil(t, first.Unmatched)
	assert.Equal(t, keywords.MethodUnmatched, first.Method)
	assert.Equal(t, "eligibility determination", first.Key)
	assert.Zero(t, first.Unmatched.OccurrenceCount)

	second, err := n.Normalize(ctx, "ELIGIBILITY  determination")
	require.NoError(t, err)
	require.NotNil(t, second.Unmatched)
	assert.Equal(t, first.Unmatched.ID, second.Unmatched.ID)
}

func TestNormalizeRejectsEmpty(t *testing.T) {
	_, n := setup(t)
	_, err := n.Normalize(context.Background(), " ,;- ")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestNormalizeExactAndFuzzy(t *testing.T) {
	ctx := context.Background()
	_, n := setup(t)
	importCSV(t, n, "canonical_keyword,slug,variation\nHome Cares,,\n")

	res, err := n.Normalize(ctx, "HOME CARES")
	require.NoError(t, err)
	assert.Equal(t, keywords.MethodExact, res.Method)
	assert.Equal(t, "Home Cares", res.Canonical.Label)

	res, err = n.Normalize(ctx, "home carts")
	require.NoError(t, err)
	require.NotNil(t, res.Canonical, "similarity exactly at threshold matches")
	assert.Equal(t, keywords.MethodFuzzy, res.Method)
	assert.Equal(t, "home cares", res.MatchedVia)
	assert.InDelta(t, 0.9, res.Similarity, 1e-9)

	res, err = n.Normalize(ctx, "home car")
	require.NoError(t, err)
	assert.Nil(t, res.Canonical)
	assert.Equal(t, keywords.MethodUnmatched, res.Method)
}

func TestNormalizeHonoursThreshold(t *testing.T) {
	ctx := context.Background()
	_, n := setup(t, keywords.WithThreshold(0.95))
	assert.Equal(t, 0.95, n.Threshold())
	importCSV(t, n, "canonical_keyword\nHome Cares\n")

	res, err := n.Normalize(ctx, "home carts")
	require.NoError(t, err)
	assert.Equal(t, keywords.MethodUnmatched, res.Method)
}

func TestFuzzyTieBreak(t *testing.T) {
	ctx := context.Background()
	store, n := setup(t)
	importCSV(t, n, "canonical_keyword\nHome Carex\nHome Cares\n")

	res, err := n.Normalize(ctx, "home carez")
	require.NoError(t, err)
	require.NotNil(t, res.Canonical)
	assert.Equal(t, "Home Cares", res.Canonical.Label, "equal usage falls back to label order")

	rep := repotest.SeedReport(t, store, "Home care audit")
	record(t, store, n, rep.ID, "Home Carex")

	res, err = n.Normalize(ctx, "home carez")
	require.NoError(t, err)
	require.NotNil(t, res.Canonical)
	assert.Equal(t, "Home Carex", res.Canonical.Label, "higher usage wins a tie")
}

func TestRecordCountsUsageAndOccurrences(t *testing.T) {
	ctx := context.Background()
	store, n := setup(t)
	importCSV(t, n, "canonical_keyword,variation\nManaged Care,MCO\n")
	rep := repotest.SeedReport(t, store, "Managed care oversight")

	got := record(t, store, n, rep.ID, "managed care", "mco", "Capitation", "capitation", "  ")
	require.Len(t, got, 4, "empty mention is skipped")

	list, err := n.ListCanonical(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 2, list[0].UsageCount)
	assert.ElementsMatch(t, []string{"managed care", "mco"}, list[0].Aliases)

	terms, total, err := n.ListUnmatched(ctx, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, terms, 1)
	assert.Equal(t, "capitation", terms[0].Normalized)
	assert.EqualValues(t, 2, terms[0].OccurrenceCount)
	assert.Equal(t, []uuid.UUID{rep.ID}, terms[0].ReportIDs)
}

func TestCreateMappingReattachesEveryMention(t *testing.T) {
	ctx := context.Background()
	store, n := setup(t)
	importCSV(t, n, "canonical_keyword\nProgram Integrity\n")
	a := repotest.SeedReport(t, store, "A")
	b := repotest.SeedReport(t, store, "B")
	record(t, store, n, a.ID, "Program Integrity", "improper payments")
	record(t, store, n, b.ID, "Improper Payments")

	canonical, err := store.Keywords().GetCanonicalBySlug(ctx, "program-integrity")
	require.NoError(t, err)
	require.EqualValues(t, 1, canonical.UsageCount)
	term := unmatched(t, store, "improper payments")
	require.EqualValues(t, 2, term.OccurrenceCount)

	id := canonical.ID
	got, err := n.CreateMapping(ctx, term.ID, keywords.Target{CanonicalID: &id})
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.UsageCount)
	assert.Equal(t, []string{"improper payments", "program integrity"}, got.Aliases)

	left, err := store.Keywords().CountUnmatchedMentions(ctx, "improper payments")
	require.NoError(t, err)
	assert.Zero(t, left)
	_, err = store.Keywords().GetUnmatched(ctx, term.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	mentions, err := store.Keywords().MentionsByReport(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	require.NotNil(t, mentions[0].CanonicalID)
	assert.Equal(t, id, *mentions[0].CanonicalID)

	res, err := n.Normalize(ctx, "IMPROPER PAYMENTS")
	require.NoError(t, err)
	assert.Equal(t, keywords.MethodExact, res.Method)
}

func TestFraudWasteAbuseVariantsConverge(t *testing.T) {
	variants := []string{"Fraud Waste Abuse", "fraud, waste, and abuse", "FRAUD WASTE ABUSE"}

	t.Run("map then record", func(t *testing.T) {
		ctx := context.Background()
		store, n := setup(t)
		rep := repotest.SeedReport(t, store, "FWA")
		record(t, store, n, rep.ID, variants[0])

		term := unmatched(t, store, "fraud waste abuse")
		got, err := n.CreateMapping(ctx, term.ID, keywords.Target{NewLabel: "Fraud Waste Abuse"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.UsageCount)

		more := record(t, store, n, rep.ID, variants[1:]...)
		for _, m := range more {
			require.NotNil(t, m.CanonicalID, m.RawText)
			assert.Equal(t, got.ID, *m.CanonicalID)
		}
		c, err := store.Keywords().GetCanonical(ctx, got.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 3, c.UsageCount)
	})

	t.Run("record then map", func(t *testing.T) {
		ctx := context.Background()
		store, n := setup(t)
		rep := repotest.SeedReport(t, store, "FWA")
		record(t, store, n, rep.ID, variants...)

		term := unmatched(t, store, "fraud waste abuse")
		assert.EqualValues(t, 2, term.OccurrenceCount)
		got, err := n.CreateMapping(ctx, term.ID, keywords.Target{NewLabel: "Fraud, Waste, and Abuse"})
		require.NoError(t, err)
		assert.Equal(t, "fraud-waste-and-abuse", got.Slug)
		assert.EqualValues(t, 3, got.UsageCount)

		_, total, err := n.ListUnmatched(ctx, 10, 0)
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("record then map to plain label", func(t *testing.T) {
		ctx := context.Background()
		store, n := setup(t)
		rep := repotest.SeedReport(t, store, "FWA")
		record(t, store, n, rep.ID, variants...)

		term := unmatched(t, store, "fraud waste abuse")
		got, err := n.CreateMapping(ctx, term.ID, keywords.Target{NewLabel: "Fraud Waste Abuse"})
		require.NoError(t, err)
		assert.EqualValues(t, 3, got.UsageCount)
		assert.ElementsMatch(t, []string{"fraud waste abuse", "fraud waste and abuse"}, got.Aliases)

		_, total, err := n.ListUnmatched(ctx, 10, 0)
		require.NoError(t, err)
		assert.Zero(t, total)
		n3, err := store.Keywords().CountMentions(ctx, got.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n3)
	})

	t.Run("record then map to existing keyword", func(t *testing.T) {
		ctx := context.Background()
		store, n := setup(t)
		importCSV(t, n, "canonical_keyword,slug\nProgram Integrity,pi\n")
		target, err := store.Keywords().GetCanonicalBySlug(ctx, "pi")
		require.NoError(t, err)
		rep := repotest.SeedReport(t, store, "FWA")
		record(t, store, n, rep.ID, variants...)

		term := unmatched(t, store, "fraud waste abuse")
		got, err := n.CreateMapping(ctx, term.ID, keywords.Target{CanonicalID: &target.ID})
		require.NoError(t, err)
		assert.Equal(t, target.ID, got.ID)
		assert.EqualValues(t, 3, got.UsageCount)

		_, total, err := n.ListUnmatched(ctx, 10, 0)
		require.NoError(t, err)
		assert.Zero(t, total)
		_, err = store.Keywords().GetUnmatchedByNormalized(ctx, "fraud waste and abuse")
		assert.ErrorIs(t, err, common.ErrNotFound)
	})
}

func TestCreateMappingLeavesDissimilarTerms(t *testing.T) {
	ctx := context.Background()
	store, n := setup(t)
	rep := repotest.SeedReport(t, store, "Mixed")
	record(t, store, n, rep.ID, "improper payments", "improper payment", "telehealth")

	term := unmatched(t, store, "improper payments")
	got, err := n.CreateMapping(ctx, term.ID, keywords.Target{NewLabel: "Improper Payments"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.UsageCount)

	still := unmatched(t, store, "telehealth")
	assert.EqualValues(t, 1, still.OccurrenceCount)
}

func TestCreateMappingAliasConflictRollsBack(t *testing.T) {
	ctx := context.Background()
	store, n := setup(t)
	importCSV(t, n, "canonical_keyword,slug\nHome Care,hc-1\n")
	rep := repotest.SeedReport(t, store, "HCBS")
	record(t, store, n, rep.ID, "personal care services")
	term := unmatched(t, store, "personal care services")

	// Slug home-care is free but the label's alias already belongs to hc-1.
	_, err := n.CreateMapping(ctx, term.ID, keywords.Target{NewLabel: "Home Care"})
	require.ErrorIs(t, err, common.ErrMappingConsistency)

	_, err = store.Keywords().GetCanonicalBySlug(ctx, "home-care")
	assert.ErrorIs(t, err, common.ErrNotFound)
	still := unmatched(t, store, "personal care services")
	assert.EqualValues(t, 1, still.OccurrenceCount)
	_, err = store.Keywords().GetAlias(ctx, "personal care services")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestCreateMappingValidatesTarget(t *testing.T) {
	ctx := context.Background()
	store, n := setup(t)
	_, err := n.Normalize(ctx, "telehealth")
	require.NoError(t, err)
	term := unmatched(t, store, "telehealth")

	id := uuid.New()
	_, err = n.CreateMapping(ctx, term.ID, keywords.Target{})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = n.CreateMapping(ctx, term.ID, keywords.Target{CanonicalID: &id, NewLabel: "Telehealth"})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = n.CreateMapping(ctx, term.ID, keywords.Target{CanonicalID: &id})
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = n.CreateMapping(ctx, uuid.New(), keywords.Target{NewLabel: "Telehealth"})
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMergeCanonicalKeywords(t *testing.T) {
	ctx := context.Background()
	store, n := setup(t)
	importCSV(t, n, "canonical_keyword,variation\nBehavioral Health,mental health\nSubstance Use,sud\n")
	rep := repotest.SeedReport(t, store, "BH")
	record(t, store, n, rep.ID, "behavioral health", "SUD", "substance use")

	into, err := store.Keywords().GetCanonicalBySlug(ctx, "behavioral-health")
	require.NoError(t, err)
	from, err := store.Keywords().GetCanonicalBySlug(ctx, "substance-use")
	require.NoError(t, err)

	_, err = n.MergeCanonicalKeywords(ctx, into.ID, into.ID)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = n.MergeCanonicalKeywords(ctx, into.ID, uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)

	got, err := n.MergeCanonicalKeywords(ctx, into.ID, from.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.UsageCount)
	assert.ElementsMatch(t, []string{"behavioral health", "mental health", "substance use", "sud"}, got.Aliases)

	_, err = store.Keywords().GetCanonical(ctx, from.ID)
	assert.ErrorIs(t, err, common.ErrNotFound)
	n2, err := store.Keywords().CountMentions(ctx, into.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n2)
}

func TestForgetReportReversesCounters(t *testing.T) {
	ctx := context.Background()
	store, n := setup(t)
	importCSV(t, n, "canonical_keyword\nPharmacy\n")
	keep := repotest.SeedReport(t, store, "keep")
	drop := repotest.SeedReport(t, store, "drop")
	record(t, store, n, keep.ID, "pharmacy", "rebates")
	record(t, store, n, drop.ID, "pharmacy", "rebates")

	require.NoError(t, store.InTx(ctx, func(tx *repository.Tx) error {
		return n.ForgetReport(ctx, tx, drop.ID)
	}))

	c, err := store.Keywords().GetCanonicalBySlug(ctx, "pharmacy")
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.UsageCount)
	assert.EqualValues(t, 1, unmatched(t, store, "rebates").OccurrenceCount)
}

func TestImportTaxonomyCSV(t *testing.T) {
	ctx := context.Background()
	store, n := setup(t)
	rep := repotest.SeedReport(t, store, "PI")
	record(t, store, n, rep.ID, "Provider Enrollment", "provider screening")

	body := "\ufeffCanonical_Keyword,Slug,Variation\n" +
		"Provider Enrollment,,provider screening\n" +
		"Provider Enrollment,,PECOS\n" +
		"Credentialing,,provider screening\n" +
		",,orphan\n"
	res := importCSV(t, n, body)
	assert.Equal(t, 3, res.Rows, "rows without a canonical are dropped")
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 4, res.Aliases, "two label aliases plus two variations")
	assert.EqualValues(t, 2, res.Reattached)
	require.Len(t, res.Skipped, 1)
	assert.Contains(t, res.Skipped[0], "provider screening")

	c, err := store.Keywords().GetCanonicalBySlug(ctx, "provider-enrollment")
	require.NoError(t, err)
	assert.EqualValues(t, 2, c.UsageCount)
	_, total, err := n.ListUnmatched(ctx, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	again := importCSV(t, n, body)
	assert.Zero(t, again.Created)
	assert.Zero(t, again.Aliases)
}

func TestImportTaxonomyXLSX(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"canonical_keyword", "slug", "variation"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"Dental Services", "dental", "oral health"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	ctx := context.Background()
	store, n := setup(t)
	res, err := n.ImportTaxonomy(ctx, bytes.NewReader(buf.Bytes()), keywords.FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)

	c, err := store.Keywords().GetCanonicalBySlug(ctx, "dental")
	require.NoError(t, err)
	assert.Equal(t, "Dental Services", c.Label)
	alias, err := store.Keywords().GetAlias(ctx, "oral health")
	require.NoError(t, err)
	assert.Equal(t, c.ID, alias.CanonicalID)
}

func TestParseTaxonomyErrors(t *testing.T) {
	_, err := keywords.ParseTaxonomy(strings.NewReader("label,variation\nx,y\n"), keywords.FormatCSV)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = keywords.ParseTaxonomy(strings.NewReader(""), keywords.FormatCSV)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
	_, err = keywords.ParseTaxonomy(strings.NewReader("a"), "json")
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}
