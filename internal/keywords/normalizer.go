// Package keywords maps raw AI-extracted terms onto the canonical taxonomy.
// Every operation reads aliases inside its own transaction; nothing is cached.
package keywords

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/constants"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/repository"
)

const DefaultFuzzyThreshold = 0.90

type Method string

const (
	MethodExact     Method = "exact"
	MethodFuzzy     Method = "fuzzy"
	MethodUnmatched Method = "unmatched"
)

// Resolution is the outcome of Normalize. Exactly one of Canonical and Unmatched is set.
type Resolution struct {
	Key        string
	Canonical  *entity.CanonicalKeyword
	Unmatched  *entity.UnmatchedTerm
	Similarity float64
	Method     Method
	MatchedVia string // alias that matched, empty when unmatched
}

// Mention is a raw term attached to a report scope, before resolution.
type Mention struct {
	ScopeKind constants.ScopeKind
	ScopeID   uuid.UUID
	Raw       string
}

// Target is where createMapping sends an unmatched term. Set exactly one field.
type Target struct {
	CanonicalID *uuid.UUID
	NewLabel    string
}

type Normalizer struct {
	store     *repository.Store
	threshold float64
	logger    *slog.Logger
}

type Option func(*Normalizer)

// WithThreshold sets the minimum fuzzy similarity; values outside (0,1] are ignored.
func WithThreshold(t float64) Option {
	return func(n *Normalizer) {
		if t > 0 && t <= 1 {
			n.threshold = t
		}
	}
}

func NewNormalizer(store *repository.Store, logger *slog.Logger, opts ...Option) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Normalizer{store: store, threshold: DefaultFuzzyThreshold, logger: logger}
	for _, o := range opts {
		o(n)
	}
	return n
}

func (n *Normalizer) Threshold() float64 { return n.threshold }

// Normalize resolves raw in its own transaction.
func (n *Normalizer) Normalize(ctx context.Context, raw string) (Resolution, error) {
	var res Resolution
	err := n.store.InTx(ctx, func(tx *repository.Tx) error {
		var err error
		res, err = n.NormalizeTx(ctx, tx, raw)
		return err
	})
	return res, err
}

// NormalizeTx resolves raw inside tx: exact alias, then fuzzy alias, then an
// UnmatchedTerm (created with a zero count if new). Counters are not touched.
func (n *Normalizer) NormalizeTx(ctx context.Context, tx *repository.Tx, raw string) (Resolution, error) {
	key := NormalizeKey(raw)
	if key == "" {
		return Resolution{}, common.InvalidArgumentErrorf("keyword %q is empty after normalization", raw)
	}
	kw := tx.Keywords()

	alias, err := kw.GetAlias(ctx, key)
	switch {
	case err == nil:
		c, err := kw.GetCanonical(ctx, alias.CanonicalID)
		if err != nil {
			return Resolution{}, err
		}
		return Resolution{Key: key, Canonical: c, Similarity: 1, Method: MethodExact, MatchedVia: alias.Alias}, nil
	case !errors.Is(err, common.ErrNotFound):
		return Resolution{}, err
	}

	aliases, err := kw.ListAliases(ctx)
	if err != nil {
		return Resolution{}, err
	}
	if best, score, ok := n.bestFuzzy(key, aliases); ok {
		c, err := kw.GetCanonical(ctx, best.CanonicalID)
		if err != nil {
			return Resolution{}, err
		}
		n.logger.Debug("keywords.fuzzy_match", "key", key, "alias", best.Alias, "similarity", score)
		return Resolution{Key: key, Canonical: c, Similarity: score, Method: MethodFuzzy, MatchedVia: best.Alias}, nil
	}

	term, err := kw.EnsureUnmatched(ctx, key)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Key: key, Unmatched: term, Method: MethodUnmatched}, nil
}

// bestFuzzy picks the highest similarity at or above the threshold.
// Ties go to the canonical with more usage, then to the lexically smaller label.
func (n *Normalizer) bestFuzzy(key string, aliases []entity.Alias) (entity.Alias, float64, bool) {
	fk := fuzzyForm(key)
	var (
		best  entity.Alias
		score float64
		found bool
	)
	for _, a := range aliases {
		s := similarity(fk, fuzzyForm(a.Alias))
		if s < n.threshold {
			continue
		}
		better := !found || s > score ||
			(s == score && (a.UsageCount > best.UsageCount ||
				(a.UsageCount == best.UsageCount && a.Label < best.Label)))
		if better {
			best, score, found = a, s, true
		}
	}
	return best, score, found
}

// Record resolves and stores the mentions of one report inside the report's
// transaction, bumping usage or occurrence counters as it goes.
func (n *Normalizer) Record(ctx context.Context, tx *repository.Tx, reportID uuid.UUID, mentions []Mention) ([]entity.KeywordMention, error) {
	kw := tx.Keywords()
	now := time.Now().UTC()
	out := make([]entity.KeywordMention, 0, len(mentions))
	for _, m := range mentions {
		res, err := n.NormalizeTx(ctx, tx, m.Raw)
		if errors.Is(err, common.ErrInvalidInput) {
			n.logger.Debug("keywords.skip_empty", "raw", m.Raw, "report_id", reportID)
			continue
		}
		if err != nil {
			return nil, err
		}
		km := entity.KeywordMention{
			ID:         uuid.New(),
			ReportID:   reportID,
			ScopeKind:  m.ScopeKind,
			ScopeID:    m.ScopeID,
			RawText:    strings.TrimSpace(m.Raw),
			Normalized: res.Key,
			CreatedAt:  now,
		}
		if res.Canonical != nil {
			id := res.Canonical.ID
			km.CanonicalID = &id
		}
		if err := kw.InsertMention(ctx, &km); err != nil {
			return nil, err
		}
		if res.Canonical != nil {
			err = kw.AddUsage(ctx, res.Canonical.ID, 1)
		} else {
			err = kw.AddOccurrence(ctx, res.Unmatched.ID, 1, now)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, km)
	}
	return out, nil
}

// ForgetReport undoes Record for a report that is about to be deleted.
func (n *Normalizer) ForgetReport(ctx context.Context, tx *repository.Tx, reportID uuid.UUID) error {
	kw := tx.Keywords()
	mentions, err := kw.MentionsByReport(ctx, reportID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, m := range mentions {
		if m.CanonicalID != nil {
			if err := kw.AddUsage(ctx, *m.CanonicalID, -1); err != nil {
				return err
			}
			continue
		}
		term, err := kw.GetUnmatchedByNormalized(ctx, m.Normalized)
		if err != nil {
			return fmt.Errorf("unmatched term for mention %s: %w", m.ID, err)
		}
		if err := kw.AddOccurrence(ctx, term.ID, -1, now); err != nil {
			return err
		}
	}
	return nil
}

// CreateMapping sends an unmatched term to a canonical keyword, all or nothing.
func (n *Normalizer) CreateMapping(ctx context.Context, unmatchedID uuid.UUID, target Target) (*entity.CanonicalKeyword, error) {
	label := strings.TrimSpace(target.NewLabel)
	if (target.CanonicalID == nil) == (label == "") {
		return nil, common.InvalidArgumentError("exactly one of canonical_id and new_label is required")
	}

	var out *entity.CanonicalKeyword
	err := n.store.InTx(ctx, func(tx *repository.Tx) error {
		kw := tx.Keywords()
		term, err := kw.GetUnmatched(ctx, unmatchedID)
		if err != nil {
			return notFound(err, "unmatched term %s not found", unmatchedID)
		}

		var canonical *entity.CanonicalKeyword
		if label != "" {
			canonical, _, _, err = n.ensureCanonical(ctx, tx, label, "")
		} else {
			canonical, err = kw.GetCanonical(ctx, *target.CanonicalID)
			err = notFound(err, "canonical keyword %s not found", *target.CanonicalID)
		}
		if err != nil {
			return err
		}

		moved, err := n.attachAlias(ctx, tx, canonical.ID, term.Normalized, "create_mapping")
		if err != nil {
			return err
		}
		absorbed, extra, err := n.absorbVariants(ctx, tx, canonical.ID)
		if err != nil {
			return err
		}
		moved += extra
		for _, key := range append([]string{term.Normalized}, absorbed...) {
			if left, err := kw.CountUnmatchedMentions(ctx, key); err != nil {
				return err
			} else if left != 0 {
				return &common.MappingConsistencyError{Operation: "create_mapping", Detail: fmt.Sprintf("%d mentions of %q still unmatched", left, key)}
			}
		}

		out, err = n.loadCanonical(ctx, tx, canonical.ID)
		if err != nil {
			return err
		}
		n.logger.Info("keywords.mapping_created",
			"unmatched_id", unmatchedID,
			"term", term.Normalized,
			"canonical_id", out.ID,
			"label", out.Label,
			"reattached", moved,
			"variants", len(absorbed),
			"usage", out.UsageCount,
		)
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrMappingConsistency) {
			n.logger.Error("keywords.mapping_inconsistent", "unmatched_id", unmatchedID, "error", err)
		}
		return nil, err
	}
	return out, nil
}

// MergeCanonicalKeywords folds from into into: aliases, mentions and usage.
func (n *Normalizer) MergeCanonicalKeywords(ctx context.Context, into, from uuid.UUID) (*entity.CanonicalKeyword, error) {
	if into == from {
		return nil, common.InvalidArgumentError("cannot merge a keyword into itself")
	}
	var out *entity.CanonicalKeyword
	err := n.store.InTx(ctx, func(tx *repository.Tx) error {
		kw := tx.Keywords()
		a, err := kw.GetCanonical(ctx, into)
		if err != nil {
			return notFound(err, "canonical keyword %s not found", into)
		}
		b, err := kw.GetCanonical(ctx, from)
		if err != nil {
			return notFound(err, "canonical keyword %s not found", from)
		}

		if _, err := kw.MoveAliases(ctx, b.ID, a.ID); err != nil {
			return err
		}
		moved, err := kw.MoveMentions(ctx, b.ID, a.ID)
		if err != nil {
			return err
		}
		if moved != b.UsageCount {
			return &common.MappingConsistencyError{
				Operation: "merge",
				Detail:    fmt.Sprintf("moved %d mentions but %q has usage %d", moved, b.Label, b.UsageCount),
			}
		}
		if b.UsageCount != 0 {
			if err := kw.AddUsage(ctx, a.ID, b.UsageCount); err != nil {
				return err
			}
		}
		if err := kw.DeleteCanonical(ctx, b.ID); err != nil {
			return err
		}
		out, err = n.loadCanonical(ctx, tx, a.ID)
		if err != nil {
			return err
		}
		n.logger.Info("keywords.merged", "into", a.ID, "from", b.ID, "from_label", b.Label, "moved_mentions", moved, "usage", out.UsageCount)
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrMappingConsistency) {
			n.logger.Error("keywords.merge_inconsistent", "into", into, "from", from, "error", err)
		}
		return nil, err
	}
	return out, nil
}

// ListUnmatched pages through terms with at least one unmatched mention,
// most frequent first. Report references are derived from the mentions.
func (n *Normalizer) ListUnmatched(ctx context.Context, limit, offset int) ([]entity.UnmatchedTerm, int64, error) {
	kw := n.store.Keywords()
	terms, err := kw.ListUnmatched(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := kw.CountUnmatched(ctx)
	if err != nil {
		return nil, 0, err
	}
	for i := range terms {
		ids, err := kw.UnmatchedReportIDs(ctx, terms[i].Normalized)
		if err != nil {
			return nil, 0, err
		}
		terms[i].ReportIDs = ids
	}
	return terms, total, nil
}

// ListCanonical pages through canonical keywords with their aliases, busiest first.
func (n *Normalizer) ListCanonical(ctx context.Context, limit, offset int) ([]entity.CanonicalKeyword, error) {
	kw := n.store.Keywords()
	list, err := kw.ListCanonical(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].Aliases, err = kw.AliasesOf(ctx, list[i].ID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// ensureCanonical returns the keyword with the label's slug, creating it and
// its label alias when missing. moved counts mentions the label alias absorbed.
func (n *Normalizer) ensureCanonical(ctx context.Context, tx *repository.Tx, label, slug string) (c *entity.CanonicalKeyword, created bool, moved int64, err error) {
	kw := tx.Keywords()
	if slug = Slugify(slug); slug == "" {
		slug = Slugify(label)
	}
	if slug == "" {
		return nil, false, 0, common.InvalidArgumentErrorf("label %q has no usable characters", label)
	}
	c, err = kw.GetCanonicalBySlug(ctx, slug)
	if err == nil {
		return c, false, 0, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, 0, err
	}
	c = &entity.CanonicalKeyword{Label: label, Slug: slug}
	if err := kw.CreateCanonical(ctx, c); err != nil {
		return nil, false, 0, err
	}
	if moved, err = n.attachAlias(ctx, tx, c.ID, NormalizeKey(label), "create_canonical"); err != nil {
		return nil, false, 0, err
	}
	return c, true, moved, nil
}

// attachAlias points alias at canonicalID and absorbs the unmatched term with
// the same key, if any. The number of reattached mentions must equal the
// term's occurrence count.
func (n *Normalizer) attachAlias(ctx context.Context, tx *repository.Tx, canonicalID uuid.UUID, alias, op string) (int64, error) {
	kw := tx.Keywords()
	existing, err := kw.GetAlias(ctx, alias)
	switch {
	case err == nil:
		if existing.CanonicalID != canonicalID {
			return 0, &common.MappingConsistencyError{
				Operation: op,
				Detail:    fmt.Sprintf("alias %q already maps to %q", alias, existing.Label),
			}
		}
	case errors.Is(err, common.ErrNotFound):
		if err := kw.InsertAlias(ctx, alias, canonicalID); err != nil {
			return 0, err
		}
	default:
		return 0, err
	}

	term, err := kw.GetUnmatchedByNormalized(ctx, alias)
	if errors.Is(err, common.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	moved, err := kw.AttachUnmatchedMentions(ctx, alias, canonicalID)
	if err != nil {
		return 0, err
	}
	if moved != term.OccurrenceCount {
		return 0, &common.MappingConsistencyError{
			Operation: op,
			Detail:    fmt.Sprintf("reattached %d mentions of %q but occurrence count is %d", moved, alias, term.OccurrenceCount),
		}
	}
	if moved != 0 {
		if err := kw.AddUsage(ctx, canonicalID, moved); err != nil {
			return 0, err
		}
	}
	if err := kw.DeleteUnmatched(ctx, term.ID); err != nil {
		return 0, err
	}
	return moved, nil
}

// absorbVariants folds every remaining unmatched term whose best fuzzy alias
// now belongs to canonicalID, so each becomes an alias of it. It returns the
// absorbed keys and the number of mentions they brought along.
func (n *Normalizer) absorbVariants(ctx context.Context, tx *repository.Tx, canonicalID uuid.UUID) ([]string, int64, error) {
	kw := tx.Keywords()
	var terms []entity.UnmatchedTerm
	for offset := 0; ; offset += repository.MaxPageSize {
		page, err := kw.ListUnmatched(ctx, repository.MaxPageSize, offset)
		if err != nil {
			return nil, 0, err
		}
		terms = append(terms, page...)
		if len(page) < repository.MaxPageSize {
			break
		}
	}
	if len(terms) == 0 {
		return nil, 0, nil
	}
	aliases, err := kw.ListAliases(ctx)
	if err != nil {
		return nil, 0, err
	}

	var (
		keys  []string
		moved int64
	)
	for _, t := range terms {
		best, score, ok := n.bestFuzzy(t.Normalized, aliases)
		if !ok || best.CanonicalID != canonicalID {
			continue
		}
		m, err := n.attachAlias(ctx, tx, canonicalID, t.Normalized, "create_mapping")
		if err != nil {
			return nil, 0, err
		}
		n.logger.Debug("keywords.variant_absorbed", "term", t.Normalized, "alias", best.Alias, "similarity", score, "mentions", m)
		keys = append(keys, t.Normalized)
		moved += m
	}
	return keys, moved, nil
}

func (n *Normalizer) loadCanonical(ctx context.Context, tx *repository.Tx, id uuid.UUID) (*entity.CanonicalKeyword, error) {
	c, err := tx.Keywords().GetCanonical(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Aliases, err = tx.Keywords().AliasesOf(ctx, id); err != nil {
		return nil, err
	}
	sort.Strings(c.Aliases)
	return c, nil
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, common.ErrNotFound) {
		return common.NotFoundError(fmt.Sprintf(format, args...))
	}
	return err
}
