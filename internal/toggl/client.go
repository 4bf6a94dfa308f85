// Package toggl reads projects and detailed time entries from the Toggl API.
package toggl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"toggl-etl/internal/config"
	"toggl-etl/internal/etl"
)

const (
	detailsPath  = "/reports/api/v2/details"
	projectsPath = "/api/v8/workspaces/%d/projects"

	// Toggl expects the API token as the basic auth user with this fixed password.
	basicAuthPassword = "api_token"

	// maxErrorBody bounds how much of an error response is kept in the error text.
	maxErrorBody = 512
)

// Client is a Toggl API client. It implements etl.Source.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	apiToken    string
	workspaceID int64
	userAgent   string
}

// NewClient creates a client for one workspace. httpClient may be nil.
func NewClient(httpClient *http.Client, baseURL, apiToken string, workspaceID int64, userAgent string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiToken:    apiToken,
		workspaceID: workspaceID,
		userAgent:   userAgent,
	}
}

// NewClientFromConfig creates a client from the [toggl] config section.
func NewClientFromConfig(cfg config.TogglConfig) (*Client, error) {
	if cfg.APIToken == "" {
		return nil, fmt.Errorf("toggl api_token is not set")
	}
	if cfg.WorkspaceID <= 0 {
		return nil, fmt.Errorf("toggl workspace_id is not set")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid toggl base_url: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultTimeoutSeconds * time.Second
	}
	return NewClient(&http.Client{Timeout: timeout}, baseURL, cfg.APIToken, cfg.WorkspaceID, cfg.UserAgent), nil
}

// detailsResponse is one page of the detailed report.
type detailsResponse struct {
	TotalCount int            `json:"total_count"`
	PerPage    int            `json:"per_page"`
	Data       []etl.RawEntry `json:"data"`
}

// ListProjects returns every project of the workspace.
func (c *Client) ListProjects(ctx context.Context) ([]etl.RawProject, error) {
	endpoint := c.baseURL + fmt.Sprintf(projectsPath, c.workspaceID)

	var projects []etl.RawProject
	if err := c.get(ctx, endpoint, &projects); err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return projects, nil
}

// FetchPage returns one page of detailed entries for a project within r.
func (c *Client) FetchPage(ctx context.Context, projectID int64, r etl.DateRange, page int) ([]etl.RawEntry, error) {
	q := url.Values{}
	q.Set("workspace_id", strconv.FormatInt(c.workspaceID, 10))
	q.Set("project_ids", strconv.FormatInt(projectID, 10))
	q.Set("since", r.Since.Format(time.DateOnly))
	q.Set("until", r.Until.Format(time.DateOnly))
	q.Set("user_agent", c.userAgent)
	q.Set("page", strconv.Itoa(page))
	endpoint := c.baseURL + detailsPath + "?" + q.Encode()

	var resp detailsResponse
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("fetching details page %d: %w", page, err)
	}
	return resp.Data, nil
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.SetBasicAuth(c.apiToken, basicAuthPassword)
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("toggl API request failed: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: truncate(string(body), maxErrorBody)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding toggl response: %w", err)
	}
	return nil
}

// APIError is a non-200 response from the Toggl API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("toggl API error %d: %s", e.StatusCode, e.Body)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Compile-time check that Client implements etl.Source
var _ etl.Source = (*Client)(nil)
