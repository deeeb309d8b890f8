package server

import (
	"bytes"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/keywords"
)

// GET /api/v1/keywords/unmatched?limit=&offset=
func (s *Server) handleUnmatched(w http.ResponseWriter, r *http.Request) error {
	limit, offset, err := page(r)
	if err != nil {
		return err
	}
	terms, total, err := s.deps.Keywords.ListUnmatched(r.Context(), limit, offset)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, pageOf[entity.UnmatchedTerm]{Items: terms, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleCanonicalList(w http.ResponseWriter, r *http.Request) error {
	limit, offset, err := page(r)
	if err != nil {
		return err
	}
	list, err := s.deps.Keywords.ListCanonical(r.Context(), limit, offset)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

type mapRequest struct {
	UnmatchedID string `json:"unmatched_id"`
	CanonicalID string `json:"canonical_id,omitempty"`
	NewLabel    string `json:"new_label,omitempty"`
}

// POST /api/v1/keywords/map
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) error {
	var req mapRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	v := common.NewValidator().
		Field("unmatched_id", req.UnmatchedID, common.UUID).
		Field("canonical_id", req.CanonicalID, common.OptionalUUID).
		Field("new_label", req.NewLabel, common.MaxLength(200)).
		Check((req.CanonicalID == "") != (strings.TrimSpace(req.NewLabel) == ""), "target", req.CanonicalID+req.NewLabel,
			"exactly one of canonical_id and new_label is required")
	if err := v.Err(); err != nil {
		return err
	}
	target := keywords.Target{NewLabel: req.NewLabel}
	if req.CanonicalID != "" {
		id := uuid.MustParse(req.CanonicalID)
		target.CanonicalID = &id
	}
	c, err := s.deps.Keywords.CreateMapping(r.Context(), uuid.MustParse(req.UnmatchedID), target)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, c)
}

type mergeRequest struct {
	Into string `json:"into"`
	From string `json:"from"`
}

// POST /api/v1/keywords/merge
func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) error {
	var req mergeRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	v := common.NewValidator().
		Field("into", req.Into, common.UUID).
		Field("from", req.From, common.UUID)
	if err := v.Err(); err != nil {
		return err
	}
	c, err := s.deps.Keywords.MergeCanonicalKeywords(r.Context(), uuid.MustParse(req.Into), uuid.MustParse(req.From))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, c)
}

// POST /api/v1/keywords/import (multipart file, optional format=csv|xlsx)
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) error {
	f, err := s.readForm(w, r)
	if err != nil {
		return err
	}
	parts := f.files("file")
	if len(parts) == 0 {
		return common.InvalidArgumentError("file is required")
	}

	format := keywords.TaxonomyFormat(strings.ToLower(f.Fields["format"]))
	if format == "" {
		format = keywords.TaxonomyFormat(strings.TrimPrefix(strings.ToLower(filepath.Ext(parts[0].Filename)), "."))
	}
	res, err := s.deps.Keywords.ImportTaxonomy(r.Context(), bytes.NewReader(parts[0].Bytes), format)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}
