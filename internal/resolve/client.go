// Package resolve maps loosely-specified tool identifiers onto canonical
// marketplace slugs. An upstream language model frequently emits an
// almost-right identifier (TEAMS_SEND instead of
// MICROSOFT_TEAMS_SEND_MESSAGE); resolution walks tiers of increasing cost
// and decreasing certainty, backed by a process-lifetime catalog of known
// slugs and a per-slug circuit breaker that stops an agent from looping on
// a broken action forever.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://backend.composio.dev/api/v3"
	clientTimeout  = 30 * time.Second
	pageLimit      = 20
)

// CatalogClient is the remote marketplace surface the resolver depends on.
type CatalogClient interface {
	// ConnectedToolkits lists the toolkits the account has connected.
	ConnectedToolkits(ctx context.Context) ([]string, error)
	// ToolkitActions pages through one toolkit's action slugs. An empty
	// cursor starts from the beginning; an empty next cursor ends paging.
	ToolkitActions(ctx context.Context, toolkit, cursor string) (slugs []string, next string, err error)
	// SearchActions free-text searches the whole catalog.
	SearchActions(ctx context.Context, query string) ([]string, error)
}

// HTTPClient talks to the marketplace REST API.
type HTTPClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewHTTPClient builds a marketplace client. An empty baseURL uses the
// hosted service.
func NewHTTPClient(baseURL, apiKey string) (*HTTPClient, error) {
	if apiKey == "" {
		return nil, errors.New("API key is required")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &HTTPClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: clientTimeout},
	}, nil
}

// SetBaseURL allows overriding the API endpoint (useful for tests)
func (c *HTTPClient) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

type connectedAccountsResponse struct {
	Items []struct {
		ToolkitSlug string `json:"toolkit_slug"`
	} `json:"items"`
}

type actionsResponse struct {
	Items []struct {
		Slug string `json:"slug"`
	} `json:"items"`
	NextCursor string `json:"next_cursor"`
}

func (c *HTTPClient) ConnectedToolkits(ctx context.Context) ([]string, error) {
	var resp connectedAccountsResponse
	if err := c.get(ctx, "/connected_accounts", nil, &resp); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var toolkits []string
	for _, item := range resp.Items {
		slug := strings.ToUpper(item.ToolkitSlug)
		if slug == "" || seen[slug] {
			continue
		}
		seen[slug] = true
		toolkits = append(toolkits, slug)
	}
	return toolkits, nil
}

func (c *HTTPClient) ToolkitActions(ctx context.Context, toolkit, cursor string) ([]string, string, error) {
	query := url.Values{}
	query.Set("toolkit_slug", toolkit)
	query.Set("limit", fmt.Sprint(pageLimit))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp actionsResponse
	if err := c.get(ctx, "/actions", query, &resp); err != nil {
		return nil, "", err
	}

	slugs := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Slug != "" {
			slugs = append(slugs, strings.ToUpper(item.Slug))
		}
	}
	return slugs, resp.NextCursor, nil
}

func (c *HTTPClient) SearchActions(ctx context.Context, freeText string) ([]string, error) {
	query := url.Values{}
	query.Set("query", freeText)

	var resp actionsResponse
	if err := c.get(ctx, "/actions/search", query, &resp); err != nil {
		return nil, err
	}

	slugs := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Slug != "" {
			slugs = append(slugs, strings.ToUpper(item.Slug))
		}
	}
	return slugs, nil
}

func (c *HTTPClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("catalog api error: %s", string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
