package vfs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/codecampus/gitgateway/internal/httpclient"
)

// httpRelay is the HTTP implementation of RelayBackend, talking to the
// workspace's file-operation endpoint
type httpRelay struct {
	baseURL string
	token   string
	client  httpclient.Client
}

// NewHTTPRelay creates a RelayBackend over the workspace endpoint at
// baseURL, authenticating with the session token
func NewHTTPRelay(baseURL, token string, client httpclient.Client) RelayBackend {
	if client == nil {
		client = httpclient.NewDefaultClient(0)
	}
	return &httpRelay{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

func (r *httpRelay) endpoint(op, path string) string {
	u := r.baseURL + "/fs/" + op
	if path != "" {
		u += "?path=" + url.QueryEscape(path)
	}
	return u
}

func (r *httpRelay) header() http.Header {
	h := http.Header{}
	if r.token != "" {
		h.Set("Authorization", "Bearer "+r.token)
	}
	return h
}

// do performs a request and maps response statuses: 404 becomes
// ErrNotFound, other non-2xx become *httpclient.HTTPError so the retry
// decorator can classify them.
func (r *httpRelay) do(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	resp, err := r.client.Request(ctx, method, u, body, r.header())
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, httpclient.NewHTTPError(resp.StatusCode, u, string(resp.Body))
	}
	return resp.Body, nil
}

func (r *httpRelay) Health(ctx context.Context) error {
	_, err := r.do(ctx, http.MethodGet, r.baseURL+"/healthz", nil)
	return err
}

func (r *httpRelay) Policy(ctx context.Context) ([]string, error) {
	body, err := r.do(ctx, http.MethodGet, r.baseURL+"/fs/policy", nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Readonly []string `json:"readonly"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode policy response: %w", err)
	}
	return out.Readonly, nil
}

func (r *httpRelay) Stat(ctx context.Context, path string) (*FileInfo, error) {
	body, err := r.do(ctx, http.MethodGet, r.endpoint("stat", path), nil)
	if err != nil {
		return nil, err
	}
	var info FileInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to decode stat response: %w", err)
	}
	return &info, nil
}

func (r *httpRelay) ReadDirectory(ctx context.Context, path string) ([]DirEntry, error) {
	body, err := r.do(ctx, http.MethodGet, r.endpoint("list", path), nil)
	if err != nil {
		return nil, err
	}
	var entries []DirEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode listing response: %w", err)
	}
	return entries, nil
}

func (r *httpRelay) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return r.do(ctx, http.MethodGet, r.endpoint("file", path), nil)
}

func (r *httpRelay) WriteFile(ctx context.Context, path string, data []byte) error {
	_, err := r.do(ctx, http.MethodPut, r.endpoint("file", path), data)
	return err
}

func (r *httpRelay) Delete(ctx context.Context, path string) error {
	_, err := r.do(ctx, http.MethodDelete, r.endpoint("file", path), nil)
	return err
}

func (r *httpRelay) Rename(ctx context.Context, oldPath, newPath string) error {
	body, err := json.Marshal(map[string]string{"from": oldPath, "to": newPath})
	if err != nil {
		return err
	}
	_, err = r.do(ctx, http.MethodPost, r.baseURL+"/fs/rename", body)
	return err
}

func (r *httpRelay) CreateDirectory(ctx context.Context, path string) error {
	_, err := r.do(ctx, http.MethodPost, r.endpoint("mkdir", path), nil)
	return err
}
