package httpserver

import (
	"errors"
	"net/http"

	"github.com/radiusdt/leadgen-analytics/internal/middleware"
	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/radiusdt/leadgen-analytics/internal/site"
	"go.uber.org/zap"
)

func (s *Server) handlePages(w http.ResponseWriter, r *http.Request) {
	if path := r.URL.Query().Get("path"); path != "" {
		page, ok := s.leads.Pages().Resolve(path)
		if !ok {
			s.errorResponse(w, "page not found", http.StatusNotFound)
			return
		}
		s.jsonResponse(w, page)
		return
	}
	s.jsonResponse(w, s.leads.Pages().All())
}

func (s *Server) handleCreateLead(w http.ResponseWriter, r *http.Request) {
	var form site.LeadForm
	if !s.decode(w, r, &form) {
		return
	}
	if form.PageURL == "" {
		form.PageURL = r.Referer()
	}

	sub, err := s.leads.Capture(r.Context(), form, middleware.ClientIP(r))
	if err != nil {
		var verrs models.ValidationErrors
		if errors.As(err, &verrs) {
			s.validationResponse(w, verrs)
			return
		}
		s.logger.Error("failed to capture lead", zap.Error(err))
		s.errorResponse(w, "failed to store submission", http.StatusInternalServerError)
		return
	}

	s.jsonStatus(w, map[string]string{"id": sub.ID}, http.StatusCreated)
}
