package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/joseph-ayodele/audit-reports/internal/entity"
	"github.com/joseph-ayodele/audit-reports/internal/export"
)

func (s *Server) handleReportList(w http.ResponseWriter, r *http.Request) error {
	limit, offset, err := page(r)
	if err != nil {
		return err
	}
	list, total, err := s.deps.Pipeline.ListReports(r.Context(), limit, offset)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, pageOf[entity.Report]{Items: list, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleReportGet(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	rep, err := s.deps.Pipeline.GetReport(r.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleReportDelete(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	if err := s.deps.Pipeline.DeleteReport(r.Context(), id); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /api/v1/export.xlsx
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) error {
	data, _, err := s.deps.Export.ExportXLSX(r.Context())
	if err != nil {
		return err
	}
	name := fmt.Sprintf("audit-reports-%s.xlsx", time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", export.XLSXContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(data)
	return err
}
