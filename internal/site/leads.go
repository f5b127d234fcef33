package site

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/radiusdt/leadgen-analytics/internal/metrics"
	"github.com/radiusdt/leadgen-analytics/internal/models"
	"github.com/radiusdt/leadgen-analytics/internal/storage"
	"go.uber.org/zap"
)

// LeadForm is the body posted by a landing page form.
type LeadForm struct {
	Name             string          `json:"name"`
	Company          string          `json:"company"`
	Email            string          `json:"email"`
	Phone            string          `json:"phone"`
	Address          string          `json:"address"`
	Type             models.LeadType `json:"type"`
	Language         string          `json:"language"`
	Consent          bool            `json:"consent"`
	MarketingConsent bool            `json:"marketing_consent"`
	// PageURL is the full landing URL including its query string.
	PageURL string      `json:"page_url"`
	UTM     *models.UTM `json:"utm,omitempty"`
}

// LeadService validates, enriches and stores form submissions.
type LeadService struct {
	repo       storage.SubmissionRepo
	pages      *Pages
	geo        GeoProvider
	generation models.Generation
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewLeadService creates a lead service writing into generation.  geo and m
// may be nil.
func NewLeadService(repo storage.SubmissionRepo, pages *Pages, geo GeoProvider, generation models.Generation, m *metrics.Metrics, logger *zap.Logger) *LeadService {
	return &LeadService{
		repo:       repo,
		pages:      pages,
		geo:        geo,
		generation: generation,
		metrics:    m,
		logger:     logger,
	}
}

// Pages returns the route map.
func (s *LeadService) Pages() *Pages {
	return s.pages
}

// Capture stores one lead.  A models.ValidationErrors is returned when the
// form is rejected.
func (s *LeadService) Capture(ctx context.Context, form LeadForm, clientIP string) (*models.Submission, error) {
	sub := &models.Submission{
		Name:             strings.TrimSpace(form.Name),
		Company:          strings.TrimSpace(form.Company),
		Email:            strings.TrimSpace(form.Email),
		Phone:            strings.TrimSpace(form.Phone),
		Address:          strings.TrimSpace(form.Address),
		Type:             form.Type,
		Language:         strings.ToLower(strings.TrimSpace(form.Language)),
		Consent:          form.Consent,
		MarketingConsent: form.MarketingConsent,
		Quality:          models.QualityUnqualified,
		SalesStatus:      models.SalesToContact,
	}

	var query url.Values
	if form.PageURL != "" {
		if u, err := url.Parse(form.PageURL); err == nil {
			query = u.Query()
			if page, ok := s.pages.Resolve(u.Path); ok {
				sub.LandingPage = page.Path
				if sub.Type == "" {
					sub.Type = page.Type
				}
				if sub.Language == "" {
					sub.Language = page.Language
				}
			}
		}
	}

	if form.UTM != nil {
		sub.UTM = trimUTM(*form.UTM)
	} else {
		sub.UTM = utmFromQuery(query)
	}

	if err := sub.Validate(); err != nil {
		var verrs models.ValidationErrors
		if errors.As(err, &verrs) && s.metrics != nil {
			for field := range verrs {
				s.metrics.RecordValidationError(field)
			}
		}
		return nil, err
	}

	sub.Country = s.country(clientIP)

	if err := s.repo.Insert(ctx, s.generation, sub); err != nil {
		return nil, fmt.Errorf("failed to store lead: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordSubmission(string(sub.Type), sub.Language)
	}
	s.logger.Info("lead captured",
		zap.String("id", sub.ID),
		zap.String("type", string(sub.Type)),
		zap.String("language", sub.Language),
		zap.String("utm_source", sub.UTM.Source),
		zap.String("country", sub.Country),
	)
	return sub, nil
}

func (s *LeadService) country(ip string) string {
	if s.geo == nil || ip == "" {
		return ""
	}
	country, err := s.geo.Country(ip)
	if err != nil {
		s.logger.Debug("geo lookup failed", zap.String("ip", ip), zap.Error(err))
		return ""
	}
	return country
}

func utmFromQuery(q url.Values) models.UTM {
	if q == nil {
		return models.UTM{}
	}
	return trimUTM(models.UTM{
		Source:   q.Get("utm_source"),
		Medium:   q.Get("utm_medium"),
		Campaign: q.Get("utm_campaign"),
		Content:  q.Get("utm_content"),
		Term:     q.Get("utm_term"),
	})
}

func trimUTM(u models.UTM) models.UTM {
	return models.UTM{
		Source:   strings.TrimSpace(u.Source),
		Medium:   strings.TrimSpace(u.Medium),
		Campaign: strings.TrimSpace(u.Campaign),
		Content:  strings.TrimSpace(u.Content),
		Term:     strings.TrimSpace(u.Term),
	}
}
