// Package crm is the HTTP client for the CRM pipeline platform. All stage
// moves and opportunity reads for stage sync go through here.
package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"followup_backend/platform/config"
	"followup_backend/platform/logger"
)

// APIError is a non-2xx response from the CRM platform.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("crm api returned %d: %s", e.StatusCode, e.Body)
}

// Opportunity is a CRM pipeline opportunity.
type Opportunity struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PipelineID string    `json:"pipelineId"`
	StageID    string    `json:"pipelineStageId"`
	ContactID  string    `json:"contactId"`
	Status     string    `json:"status"`
	Value      float64   `json:"monetaryValue"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Client struct {
	baseURL    string
	apiKey     string
	locationID string
	http       *http.Client
	limiter    *rate.Limiter
	log        *logger.Logger
}

// NewClient returns nil when the CRM integration is not configured; callers
// treat a nil client as "CRM disabled".
func NewClient(cfg config.CRMConfig, log *logger.Logger) *Client {
	if !cfg.IsCRMEnabled() {
		return nil
	}

	rps := cfg.GetCRMRequestsPerSecond()
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.GetCRMBaseURL(), "/"),
		apiKey:     cfg.GetCRMAPIKey(),
		locationID: cfg.GetCRMLocationID(),
		http:       &http.Client{Timeout: 15 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		log:        log,
	}
}

type listResponse struct {
	Opportunities []Opportunity `json:"opportunities"`
	Meta          struct {
		NextPage int `json:"nextPage"`
		Total    int `json:"total"`
	} `json:"meta"`
}

// ListOpportunities returns opportunities updated since the given time,
// following pagination until the platform reports no next page.
func (c *Client) ListOpportunities(ctx context.Context, updatedSince time.Time) ([]Opportunity, error) {
	if c == nil {
		return nil, nil
	}

	var all []Opportunity
	page := 1
	for {
		q := url.Values{}
		q.Set("location_id", c.locationID)
		q.Set("limit", "100")
		q.Set("page", fmt.Sprint(page))
		if !updatedSince.IsZero() {
			q.Set("date", updatedSince.UTC().Format(time.RFC3339))
		}

		var out listResponse
		if err := c.do(ctx, http.MethodGet, "/opportunities/search?"+q.Encode(), nil, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Opportunities...)

		if out.Meta.NextPage <= page || len(out.Opportunities) == 0 {
			return all, nil
		}
		page = out.Meta.NextPage
	}
}

// GetOpportunity fetches a single opportunity by id.
func (c *Client) GetOpportunity(ctx context.Context, opportunityID string) (Opportunity, error) {
	if c == nil {
		return Opportunity{}, fmt.Errorf("crm client not configured")
	}

	var out struct {
		Opportunity Opportunity `json:"opportunity"`
	}
	err := c.do(ctx, http.MethodGet, "/opportunities/"+url.PathEscape(opportunityID), nil, &out)
	return out.Opportunity, err
}

// MoveOpportunityStage moves an opportunity to the given pipeline stage.
func (c *Client) MoveOpportunityStage(ctx context.Context, opportunityID, stageID string) error {
	if c == nil {
		return fmt.Errorf("crm client not configured")
	}

	payload := map[string]string{"pipelineStageId": stageID}
	err := c.do(ctx, http.MethodPut, "/opportunities/"+url.PathEscape(opportunityID), payload, nil)
	if err != nil {
		c.log.ExternalCallError("crm", "move_stage", err)
		return err
	}

	c.log.Info("crm stage moved", "opportunityId", opportunityID, "stageId", stageID)
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal crm payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("crm request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode crm response: %w", err)
		}
	}
	return nil
}
