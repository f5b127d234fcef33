package httpserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/radiusdt/leadgen-analytics/internal/analytics"
	"github.com/radiusdt/leadgen-analytics/internal/export"
	"github.com/radiusdt/leadgen-analytics/internal/metasync"
	"github.com/radiusdt/leadgen-analytics/internal/middleware"
	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/radiusdt/leadgen-analytics/internal/session"
	"github.com/radiusdt/leadgen-analytics/internal/storage"
	"go.uber.org/zap"
)

// ---- Sessions ----

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !s.decode(w, r, &body) {
		return
	}

	sess, err := s.sessions.Login(r.Context(), body.Password)
	if s.metrics != nil {
		s.metrics.RecordLogin(err == nil)
	}
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			s.logger.Warn("admin login rejected", zap.String("ip", middleware.ClientIP(r)))
			s.errorResponse(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		s.logger.Error("admin login failed", zap.Error(err))
		s.errorResponse(w, "login failed", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context(), middleware.TokenFromContext(r.Context())); err != nil {
		s.logger.Error("logout failed", zap.Error(err))
		s.errorResponse(w, "logout failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- Submissions ----

func submissionFilter(r *http.Request) (models.SubmissionFilter, error) {
	from, to, err := parseRange(r)
	if err != nil {
		return models.SubmissionFilter{}, err
	}
	q := r.URL.Query()
	f := models.SubmissionFilter{
		Generation:  generation(r),
		From:        from,
		To:          to,
		Language:    q.Get("language"),
		SalesStatus: models.SalesStatus(q.Get("sales_status")),
		Type:        models.LeadType(q.Get("type")),
	}
	if f.SalesStatus != "" && !f.SalesStatus.Valid() {
		return f, fmt.Errorf("unknown sales_status %q", f.SalesStatus)
	}
	if f.Type != "" && !f.Type.Valid() {
		return f, fmt.Errorf("unknown type %q", f.Type)
	}
	return f, nil
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	f, err := submissionFilter(r)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	subs, err := s.repos.Submissions.List(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to list submissions", zap.Error(err))
		s.errorResponse(w, "failed to list submissions", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, subs)
}

func (s *Server) handleUpdateSubmission(w http.ResponseWriter, r *http.Request) {
	var upd models.SubmissionUpdate
	if !s.decode(w, r, &upd) {
		return
	}
	if err := upd.Validate(); err != nil {
		var verrs models.ValidationErrors
		if errors.As(err, &verrs) {
			s.validationResponse(w, verrs)
			return
		}
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	gen := generation(r)
	sub, err := s.repos.Submissions.Update(r.Context(), gen, chi.URLParam(r, "id"), &upd)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.errorResponse(w, "submission not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to update submission", zap.Error(err))
		s.errorResponse(w, "failed to update submission", http.StatusInternalServerError)
		return
	}
	if s.metrics != nil {
		s.metrics.RecordSubmissionUpdate(string(gen))
	}
	s.jsonResponse(w, sub)
}

func (s *Server) handleExportSubmissions(w http.ResponseWriter, r *http.Request) {
	f, err := submissionFilter(r)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	subs, err := s.repos.Submissions.List(r.Context(), f)
	if err != nil {
		s.logger.Error("failed to list submissions", zap.Error(err))
		s.errorResponse(w, "failed to list submissions", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteSubmissions(&buf, subs); err != nil {
		s.logger.Error("failed to export submissions", zap.Error(err))
		s.errorResponse(w, "failed to export submissions", http.StatusInternalServerError)
		return
	}

	name := fmt.Sprintf("submissions-%s-%s.xlsx", f.Generation, time.Now().UTC().Format("20060102"))
	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}

// ---- Budgets ----

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.repos.Budgets.List(r.Context())
	if err != nil {
		s.logger.Error("failed to list budgets", zap.Error(err))
		s.errorResponse(w, "failed to list budgets", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, budgets)
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var b models.CampaignBudget
	if !s.decode(w, r, &b) {
		return
	}
	if err := b.Validate(); err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.repos.Budgets.Insert(r.Context(), &b); err != nil {
		s.logger.Error("failed to create budget", zap.Error(err))
		s.errorResponse(w, "failed to create budget", http.StatusInternalServerError)
		return
	}
	s.jsonStatus(w, b, http.StatusCreated)
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	err := s.repos.Budgets.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.errorResponse(w, "budget not found", http.StatusNotFound)
			return
		}
		s.logger.Error("failed to delete budget", zap.Error(err))
		s.errorResponse(w, "failed to delete budget", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- Analytics ----

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string][]string{"reports": analytics.Reports()})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseRange(r)
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	f := analytics.Filter{
		Generation: generation(r),
		From:       from,
		To:         to,
		Language:   r.URL.Query().Get("language"),
	}

	name := chi.URLParam(r, "report")
	report, err := s.analytics.Report(r.Context(), name, f)
	if err != nil {
		if errors.Is(err, analytics.ErrUnknownReport) {
			s.errorResponse(w, "unknown report "+name, http.StatusNotFound)
			return
		}
		if errors.Is(err, analytics.ErrNoPlan) {
			s.errorResponse(w, "weekly report requires LEADGEN_PACING_START", http.StatusConflict)
			return
		}
		s.logger.Error("failed to build report", zap.String("report", name), zap.Error(err))
		s.errorResponse(w, "failed to build report", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, report)
}

// ---- Meta sync ----

func (s *Server) handleGetSyncCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := s.sync.Selection(r.Context())
	if err != nil {
		s.logger.Error("failed to load sync selection", zap.Error(err))
		s.errorResponse(w, "failed to load sync selection", http.StatusInternalServerError)
		return
	}
	s.jsonResponse(w, list)
}

func (s *Server) handlePutSyncCampaigns(w http.ResponseWriter, r *http.Request) {
	var list []*models.SyncCampaign
	if !s.decode(w, r, &list) {
		return
	}
	if err := s.sync.SaveSelection(r.Context(), list); err != nil {
		if errors.Is(err, metasync.ErrInvalidParam) {
			s.errorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.logger.Error("failed to save sync selection", zap.Error(err))
		s.errorResponse(w, "failed to save sync selection", http.StatusInternalServerError)
		return
	}
	s.handleGetSyncCampaigns(w, r)
}

func (s *Server) handleMetaSync(w http.ResponseWriter, r *http.Request) {
	var req metasync.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonStatus(w, metasync.Response{Error: "invalid json"}, http.StatusBadRequest)
		return
	}
	resp, status := s.sync.Handle(r.Context(), req)
	s.jsonStatus(w, resp, status)
}
