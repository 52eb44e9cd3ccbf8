package githost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/codecampus/gitgateway/internal/httpclient"
)

const (
	// membersTeam is the default team granting read access to org repositories
	membersTeam = "members"
)

// restClient implements Client against a Gitea-compatible management API
type restClient struct {
	baseURL    string
	adminToken string
	http       httpclient.Client
}

// NewClient creates a lifecycle manager client for the host at baseURL,
// authenticating every call with the injected admin token.
func NewClient(baseURL, adminToken string, hc httpclient.Client) (Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("git host base URL is required")
	}
	if adminToken == "" {
		return nil, fmt.Errorf("git host admin token is required")
	}
	if hc == nil {
		hc = httpclient.NewDefaultClient(0)
	}
	return &restClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		adminToken: adminToken,
		http:       hc,
	}, nil
}

// apiURL joins the API base with escaped path segments and an optional query
func (c *restClient) apiURL(query url.Values, segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, url.PathEscape(s))
	}
	u := c.baseURL + "/api/v1/" + strings.Join(parts, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// raw performs an authenticated request and returns the raw response.
// Callers that need the body verbatim use it directly; everything else
// goes through do.
func (c *restClient) raw(ctx context.Context, method, u string, body any) (*httpclient.Response, error) {
	var payload []byte
	header := http.Header{}
	header.Set("Authorization", "token "+c.adminToken)

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		payload = data
		header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Request(ctx, method, u, payload, header)
	if err != nil {
		return nil, fmt.Errorf("git host request failed: %w", err)
	}
	return resp, nil
}

// do performs an authenticated request and decodes a JSON response into out
// when out is non-nil and the response is 2xx. The status code is always
// returned so callers can recover conflicts locally.
func (c *restClient) do(ctx context.Context, method, u string, body any, out any) (int, error) {
	resp, err := c.raw(ctx, method, u, body)
	if err != nil {
		return 0, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.Unmarshal(resp.Body, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode git host response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// upstreamError builds the fatal error for an unexpected host response
func upstreamError(status int, u string) error {
	return &UpstreamError{StatusCode: status, URL: u, Body: http.StatusText(status)}
}

// exists reports whether a GET on the given URL returns 2xx
func (c *restClient) exists(ctx context.Context, u string) (bool, error) {
	status, err := c.do(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		return false, err
	}
	switch {
	case status >= 200 && status < 300:
		return true, nil
	case status == http.StatusNotFound:
		return false, nil
	default:
		return false, upstreamError(status, u)
	}
}

// EnsureOrg creates a private organization if it does not exist
func (c *restClient) EnsureOrg(ctx context.Context, org string) error {
	ok, err := c.exists(ctx, c.apiURL(nil, "orgs", org))
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	u := c.apiURL(nil, "orgs")
	status, err := c.do(ctx, http.MethodPost, u, map[string]any{
		"username":   org,
		"visibility": "private",
	}, nil)
	if err != nil {
		return err
	}
	if (status < 200 || status >= 300) && status != http.StatusConflict {
		return upstreamError(status, u)
	}
	slog.Info("Ensured organization exists", "org", org)
	return nil
}

// EnsureUser creates a host account if it does not exist
func (c *restClient) EnsureUser(ctx context.Context, username, email string) error {
	ok, err := c.exists(ctx, c.apiURL(nil, "users", username))
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	u := c.apiURL(nil, "admin", "users")
	status, err := c.do(ctx, http.MethodPost, u, map[string]any{
		"username": username,
		"email":    email,
		// The password is never used; access always goes through the
		// gateway with admin credentials.
		"password":             uuid.NewString(),
		"must_change_password": false,
	}, nil)
	if err != nil {
		return err
	}
	if (status < 200 || status >= 300) && status != http.StatusConflict {
		return upstreamError(status, u)
	}
	slog.Info("Ensured git host account exists", "username", username)
	return nil
}

// team is the subset of the host's team object the client reads
type team struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// AddUserToOrg adds the user to the organization's members team,
// creating the team with read permission over all repositories if needed.
func (c *restClient) AddUserToOrg(ctx context.Context, org, username string) error {
	teamID, err := c.ensureMembersTeam(ctx, org)
	if err != nil {
		return err
	}

	u := c.apiURL(nil, "teams", fmt.Sprintf("%d", teamID), "members", username)
	status, err := c.do(ctx, http.MethodPut, u, nil, nil)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return upstreamError(status, u)
	}
	return nil
}

// ensureMembersTeam locates or creates the org's members team
func (c *restClient) ensureMembersTeam(ctx context.Context, org string) (int64, error) {
	query := url.Values{"q": {membersTeam}}
	searchURL := c.apiURL(query, "orgs", org, "teams", "search")

	var result struct {
		Data []team `json:"data"`
	}
	status, err := c.do(ctx, http.MethodGet, searchURL, nil, &result)
	if err != nil {
		return 0, err
	}
	if status >= 200 && status < 300 {
		for _, t := range result.Data {
			if strings.EqualFold(t.Name, membersTeam) {
				return t.ID, nil
			}
		}
	} else if status != http.StatusNotFound {
		return 0, upstreamError(status, searchURL)
	}

	createURL := c.apiURL(nil, "orgs", org, "teams")
	var created team
	status, err = c.do(ctx, http.MethodPost, createURL, map[string]any{
		"name":                      membersTeam,
		"permission":                "read",
		"includes_all_repositories": true,
	}, &created)
	if err != nil {
		return 0, err
	}
	if status < 200 || status >= 300 {
		return 0, upstreamError(status, createURL)
	}
	slog.Info("Created members team", "org", org, "team_id", created.ID)
	return created.ID, nil
}

// CreateRepo creates a repository under the owner. A conflict response is
// treated as success.
func (c *restClient) CreateRepo(ctx context.Context, owner, name string, private, template bool) error {
	isOrg, err := c.exists(ctx, c.apiURL(nil, "orgs", owner))
	if err != nil {
		return err
	}

	var u string
	if isOrg {
		u = c.apiURL(nil, "orgs", owner, "repos")
	} else {
		u = c.apiURL(nil, "admin", "users", owner, "repos")
	}

	status, err := c.do(ctx, http.MethodPost, u, map[string]any{
		"name":     name,
		"private":  private,
		"template": template,
	}, nil)
	if err != nil {
		return err
	}
	if (status < 200 || status >= 300) && status != http.StatusConflict {
		return upstreamError(status, u)
	}
	if status == http.StatusConflict {
		slog.Debug("Repository already exists", "owner", owner, "name", name)
	}
	return nil
}

// GenerateFromTemplate materializes a new repository from a template's git
// history. A conflict is treated as success after confirming the repository
// exists.
func (c *restClient) GenerateFromTemplate(ctx context.Context, templateOwner, templateRepo, owner, name string) error {
	u := c.apiURL(nil, "repos", templateOwner, templateRepo, "generate")
	status, err := c.do(ctx, http.MethodPost, u, map[string]any{
		"owner":       owner,
		"name":        name,
		"git_content": true,
	}, nil)
	if err != nil {
		return err
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusConflict:
		// Another caller won the race; confirm the repository materialized.
		if _, err := c.GetRepo(ctx, owner, name); err != nil {
			return fmt.Errorf("conflict generating %s/%s but repository not found: %w", owner, name, err)
		}
		return nil
	default:
		return upstreamError(status, u)
	}
}

// UpdateRepo updates repository visibility
func (c *restClient) UpdateRepo(ctx context.Context, owner, name string, private bool) error {
	u := c.apiURL(nil, "repos", owner, name)
	status, err := c.do(ctx, http.MethodPatch, u, map[string]any{
		"private": private,
	}, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return ErrNotFound
	}
	if status < 200 || status >= 300 {
		return upstreamError(status, u)
	}
	return nil
}

// GetRepo returns repository metadata
func (c *restClient) GetRepo(ctx context.Context, owner, name string) (*Repository, error) {
	u := c.apiURL(nil, "repos", owner, name)
	var repo Repository
	status, err := c.do(ctx, http.MethodGet, u, nil, &repo)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status < 200 || status >= 300 {
		return nil, upstreamError(status, u)
	}
	return &repo, nil
}

// GetContents returns a single file descriptor or a directory listing at
// the given ref
func (c *restClient) GetContents(ctx context.Context, owner, repo, path, ref string) ([]ContentEntry, error) {
	query := url.Values{}
	if ref != "" {
		query.Set("ref", ref)
	}

	segments := []string{"repos", owner, repo, "contents"}
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			segments = append(segments, part)
		}
	}
	u := c.apiURL(query, segments...)

	resp, err := c.raw(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, upstreamError(resp.StatusCode, u)
	}

	// The contents endpoint returns an object for files and an array for
	// directory listings.
	trimmed := strings.TrimSpace(string(resp.Body))
	if strings.HasPrefix(trimmed, "[") {
		var entries []ContentEntry
		if err := json.Unmarshal(resp.Body, &entries); err != nil {
			return nil, fmt.Errorf("failed to decode directory listing: %w", err)
		}
		return entries, nil
	}

	var entry ContentEntry
	if err := json.Unmarshal(resp.Body, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode file entry: %w", err)
	}
	return []ContentEntry{entry}, nil
}
