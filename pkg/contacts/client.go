// Package contacts looks up corporate directory contacts for platform users.
// Lookups go to the internal identity service and are cached aggressively:
// the directory changes slowly and the service is rate limited.
package contacts

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/platinummonkey/orgportal/pkg/observability"
)

// Contact is one corporate directory entry.
type Contact struct {
	CorporateUsername string `json:"corporateUsername"`
	DisplayName       string `json:"displayName"`
	Email             string `json:"email"`
	CostCenter        string `json:"costCenter,omitempty"`
	ManagerUsername   string `json:"managerUsername,omitempty"`
}

// Provider resolves a corporate username to a contact. A nil contact with a
// nil error means the user is not in the directory.
type Provider interface {
	GetContact(ctx context.Context, corporateUsername string) (*Contact, error)
}

// ClientOptions configures the identity service client.
type ClientOptions struct {
	BaseURL string

	// Token is the personal access token presented as the basic-auth
	// password.
	Token string

	HTTPClient *http.Client
	Metrics    *observability.Metrics
}

// Client calls the identity service over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	metrics    *observability.Metrics
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("a base URL is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    opts.BaseURL,
		token:      opts.Token,
		httpClient: httpClient,
		metrics:    opts.Metrics,
	}, nil
}

// GetContact fetches one directory entry. Unknown users return (nil, nil).
func (c *Client) GetContact(ctx context.Context, corporateUsername string) (*Contact, error) {
	started := time.Now()
	contact, err := c.lookup(ctx, corporateUsername)
	c.observe(started, contact, err)
	return contact, err
}

func (c *Client) lookup(ctx context.Context, corporateUsername string) (*Contact, error) {
	endpoint := fmt.Sprintf("%s/api/v1/contacts/%s", c.baseURL, url.PathEscape(corporateUsername))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build contact request: %w", err)
	}
	req.SetBasicAuth("apikey", c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("contact lookup for %s: %w", corporateUsername, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var contact Contact
		if err := json.NewDecoder(resp.Body).Decode(&contact); err != nil {
			return nil, fmt.Errorf("decode contact response: %w", err)
		}
		if contact.CorporateUsername == "" {
			contact.CorporateUsername = corporateUsername
		}
		return &contact, nil
	case http.StatusNotFound:
		return nil, nil
	default:
		return nil, fmt.Errorf("contact lookup for %s: unexpected status %d", corporateUsername, resp.StatusCode)
	}
}

func (c *Client) observe(started time.Time, contact *Contact, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.ContactLookupDuration.Observe(time.Since(started).Seconds())
	outcome := "found"
	switch {
	case err != nil:
		outcome = "error"
	case contact == nil:
		outcome = "not_found"
	}
	c.metrics.ContactLookupsTotal.WithLabelValues(outcome).Inc()
}
