// Package metasync imports Meta Ads insight rows into ad_performance.
package metasync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMissingSecret means the access token or ad account is not set.
	ErrMissingSecret = errors.New("missing secret")
	// ErrMissingParam means a required request field is absent.
	ErrMissingParam = errors.New("missing parameter")
)

// Credentials authenticate against the Graph API.
type Credentials struct {
	AccessToken string
	AdAccountID string
}

// CredentialsFromEnv reads META_ACCESS_TOKEN and META_AD_ACCOUNT_ID.  It is
// called per invocation so rotated secrets apply without a restart.
func CredentialsFromEnv() (Credentials, error) {
	c := Credentials{
		AccessToken: strings.TrimSpace(os.Getenv("META_ACCESS_TOKEN")),
		AdAccountID: strings.TrimSpace(os.Getenv("META_AD_ACCOUNT_ID")),
	}
	if c.AccessToken == "" {
		return c, fmt.Errorf("%w: META_ACCESS_TOKEN", ErrMissingSecret)
	}
	if c.AdAccountID == "" {
		return c, fmt.Errorf("%w: META_AD_ACCOUNT_ID", ErrMissingSecret)
	}
	return c, nil
}

func (c Credentials) account() string {
	if strings.HasPrefix(c.AdAccountID, "act_") {
		return c.AdAccountID
	}
	return "act_" + c.AdAccountID
}

// Campaign is a Meta campaign as listed by the Graph API.
type Campaign struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status,omitempty"`
	Objective string `json:"objective,omitempty"`
}

// Insight is one ad-level daily insight row.  Graph returns numbers as
// strings.
type Insight struct {
	DateStart    string `json:"date_start"`
	CampaignName string `json:"campaign_name"`
	AdsetName    string `json:"adset_name"`
	AdName       string `json:"ad_name"`
	Spend        string `json:"spend"`
	Frequency    string `json:"frequency"`
}

// APIError is the error object the Graph API returns.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("graph api: %s (type=%s code=%d http=%d)", e.Message, e.Type, e.Code, e.Status)
}

type page[T any] struct {
	Data   []T `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
	Error *APIError `json:"error"`
}

// Client talks to the Graph API.
type Client struct {
	baseURL    string
	version    string
	httpClient *http.Client
	maxPages   int
}

// NewClient creates a Graph API client.
func NewClient(baseURL, version string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxPages: 100,
	}
}

// ListCampaigns returns every campaign of the ad account.
func (c *Client) ListCampaigns(ctx context.Context, creds Credentials) ([]Campaign, error) {
	q := url.Values{}
	q.Set("fields", "id,name,status,objective")
	q.Set("limit", "200")
	q.Set("access_token", creds.AccessToken)

	first := fmt.Sprintf("%s/%s/%s/campaigns?%s", c.baseURL, c.version, creds.account(), q.Encode())
	return fetchAll[Campaign](ctx, c, first)
}

// Insights returns ad-level daily rows for a campaign over [since, until].
func (c *Client) Insights(ctx context.Context, creds Credentials, campaignID string, since, until time.Time) ([]Insight, error) {
	timeRange, err := json.Marshal(map[string]string{
		"since": since.Format("2006-01-02"),
		"until": until.Format("2006-01-02"),
	})
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("level", "ad")
	q.Set("time_increment", "1")
	q.Set("fields", "date_start,campaign_name,adset_name,ad_name,spend,frequency")
	q.Set("time_range", string(timeRange))
	q.Set("limit", "500")
	q.Set("access_token", creds.AccessToken)

	first := fmt.Sprintf("%s/%s/%s/insights?%s", c.baseURL, c.version, url.PathEscape(campaignID), q.Encode())
	return fetchAll[Insight](ctx, c, first)
}

// fetchAll follows paging.next until exhausted.
func fetchAll[T any](ctx context.Context, c *Client, next string) ([]T, error) {
	var out []T
	for pages := 0; next != ""; pages++ {
		if pages >= c.maxPages {
			return out, fmt.Errorf("graph api: more than %d pages", c.maxPages)
		}
		p, err := getPage[T](ctx, c, next)
		if err != nil {
			return out, err
		}
		out = append(out, p.Data...)
		next = p.Paging.Next
	}
	return out, nil
}

func getPage[T any](ctx context.Context, c *Client, u string) (*page[T], error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph api request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read graph api response: %w", err)
	}

	var p page[T]
	if err := json.Unmarshal(body, &p); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &APIError{Message: http.StatusText(resp.StatusCode), Status: resp.StatusCode}
		}
		return nil, fmt.Errorf("failed to decode graph api response: %w", err)
	}
	if p.Error != nil {
		p.Error.Status = resp.StatusCode
		return nil, p.Error
	}
	if resp.StatusCode >= 400 {
		return nil, &APIError{Message: http.StatusText(resp.StatusCode), Status: resp.StatusCode}
	}
	return &p, nil
}

func parseNumber(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
