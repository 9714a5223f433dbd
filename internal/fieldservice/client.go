// Package fieldservice is the HTTP client for the field-service platform.
// The mirror worker pulls changed records through it into the local store;
// nothing else in the system talks to the platform directly.
package fieldservice

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"followup_backend/platform/config"
	"followup_backend/platform/logger"
)

// APIError is a non-2xx response from the field-service platform.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("field-service api returned %d: %s", e.StatusCode, e.Body)
}

// Job is the platform's job record.
type Job struct {
	ID             int64     `json:"id"`
	CustomerID     int64     `json:"customerId"`
	LocationID     *int64    `json:"locationId"`
	BusinessUnitID int64     `json:"businessUnitId"`
	Status         string    `json:"jobStatus"`
	Summary        *string   `json:"summary"`
	CreatedOn      time.Time `json:"createdOn"`
	ModifiedOn     time.Time `json:"modifiedOn"`
}

// Estimate is the platform's estimate record.
type Estimate struct {
	ID         int64     `json:"id"`
	JobID      int64     `json:"jobId"`
	CustomerID int64     `json:"customerId"`
	Status     string    `json:"status"`
	TotalCents int64     `json:"totalCents"`
	CreatedOn  time.Time `json:"createdOn"`
	ModifiedOn time.Time `json:"modifiedOn"`
}

// Invoice is the platform's invoice record.
type Invoice struct {
	ID         int64     `json:"id"`
	JobID      int64     `json:"jobId"`
	CustomerID int64     `json:"customerId"`
	Status     string    `json:"status"`
	TotalCents int64     `json:"totalCents"`
	CreatedOn  time.Time `json:"createdOn"`
	ModifiedOn time.Time `json:"modifiedOn"`
}

// Appointment is the platform's appointment record.
type Appointment struct {
	ID         int64     `json:"id"`
	JobID      int64     `json:"jobId"`
	CustomerID int64     `json:"customerId"`
	Status     string    `json:"status"`
	StartTime  time.Time `json:"start"`
	CreatedOn  time.Time `json:"createdOn"`
	ModifiedOn time.Time `json:"modifiedOn"`
}

// Customer is the platform's customer record.
type Customer struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        *string   `json:"email"`
	Phone        *string   `json:"phoneNumber"`
	DoNotContact bool      `json:"doNotService"`
	ModifiedOn   time.Time `json:"modifiedOn"`
}

// BusinessUnit is the platform's business unit record.
type BusinessUnit struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Client struct {
	baseURL  string
	apiKey   string
	tenantID string
	http     *http.Client
	log      *logger.Logger
}

// NewClient returns nil when the field-service integration is not configured.
func NewClient(cfg config.FieldServiceConfig, log *logger.Logger) *Client {
	if !cfg.IsFieldServiceEnabled() {
		return nil
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.GetFieldServiceBaseURL(), "/"),
		apiKey:   cfg.GetFieldServiceAPIKey(),
		tenantID: cfg.GetFieldServiceTenantID(),
		http:     &http.Client{Timeout: 30 * time.Second},
		log:      log,
	}
}

// Enabled reports whether the client is configured.
func (c *Client) Enabled() bool { return c != nil }

type page[T any] struct {
	Data         []T  `json:"data"`
	HasMore      bool `json:"hasMore"`
	ContinueFrom int  `json:"continueFrom"`
}

// ListJobs returns jobs modified since the given time.
func (c *Client) ListJobs(ctx context.Context, since time.Time) ([]Job, error) {
	return list[Job](ctx, c, "/jobs", since)
}

// ListEstimates returns estimates modified since the given time.
func (c *Client) ListEstimates(ctx context.Context, since time.Time) ([]Estimate, error) {
	return list[Estimate](ctx, c, "/estimates", since)
}

// ListInvoices returns invoices modified since the given time.
func (c *Client) ListInvoices(ctx context.Context, since time.Time) ([]Invoice, error) {
	return list[Invoice](ctx, c, "/invoices", since)
}

// ListAppointments returns appointments modified since the given time.
func (c *Client) ListAppointments(ctx context.Context, since time.Time) ([]Appointment, error) {
	return list[Appointment](ctx, c, "/appointments", since)
}

// ListCustomers returns customers modified since the given time.
func (c *Client) ListCustomers(ctx context.Context, since time.Time) ([]Customer, error) {
	return list[Customer](ctx, c, "/customers", since)
}

// ListBusinessUnits returns all business units. The set is small and changes
// rarely, so there is no since filter.
func (c *Client) ListBusinessUnits(ctx context.Context) ([]BusinessUnit, error) {
	return list[BusinessUnit](ctx, c, "/business-units", time.Time{})
}

// GetCustomer fetches a single customer by id.
func (c *Client) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	if c == nil {
		return Customer{}, fmt.Errorf("field-service client not configured")
	}
	var out Customer
	err := c.get(ctx, fmt.Sprintf("/customers/%d", id), &out)
	return out, err
}

func list[T any](ctx context.Context, c *Client, path string, since time.Time) ([]T, error) {
	if c == nil {
		return nil, nil
	}

	var all []T
	from := 0
	for {
		q := url.Values{}
		q.Set("pageSize", "200")
		if !since.IsZero() {
			q.Set("modifiedOnOrAfter", since.UTC().Format(time.RFC3339))
		}
		if from > 0 {
			q.Set("continueFrom", fmt.Sprint(from))
		}

		var p page[T]
		if err := c.get(ctx, path+"?"+q.Encode(), &p); err != nil {
			return nil, err
		}
		all = append(all, p.Data...)

		if !p.HasMore {
			return all, nil
		}
		from = p.ContinueFrom
	}
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tenant/"+c.tenantID+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("field-service request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode field-service response: %w", err)
	}
	return nil
}
