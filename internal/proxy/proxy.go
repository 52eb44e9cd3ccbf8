// Package proxy implements the git smart-HTTP proxy: it resolves logical
// assignment/submission identifiers to physical repositories, authorizes
// the caller's enrollment and role, and forwards the git wire protocol to
// the backing host with substituted service credentials.
package proxy

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/codecampus/gitgateway/internal/auth"
	"github.com/codecampus/gitgateway/internal/records"
	"github.com/codecampus/gitgateway/internal/scope"
)

// allowedResponseHeaders is the allow-list applied to upstream responses.
// Everything else, in particular anything that could carry the service
// credential, is dropped.
var allowedResponseHeaders = []string{
	"Content-Type",
	"Cache-Control",
	"Pragma",
	"Expires",
	"Date",
	"Last-Modified",
}

const receivePackService = "git-receive-pack"

// Handler proxies git smart-HTTP requests to the backing host
type Handler struct {
	upstreamURL string
	adminUser   string
	adminToken  string
	resolver    auth.Resolver
	store       records.Store
	client      *http.Client
}

// Option configures the proxy handler
type Option func(*Handler)

// WithHTTPClient overrides the HTTP client used for upstream requests.
// The default client has no timeout; git transfers can be long-lived.
func WithHTTPClient(client *http.Client) Option {
	return func(h *Handler) {
		h.client = client
	}
}

// NewHandler creates a proxy forwarding to the host at upstreamURL with
// the given service credentials. The credentials are an explicit
// dependency injected at construction.
func NewHandler(upstreamURL, adminUser, adminToken string, resolver auth.Resolver, store records.Store, opts ...Option) *Handler {
	h := &Handler{
		upstreamURL: strings.TrimSuffix(upstreamURL, "/"),
		adminUser:   adminUser,
		adminToken:  adminToken,
		resolver:    resolver,
		store:       store,
		client:      &http.Client{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// credential is the outcome of extracting the session token from a git
// request. Git clients append their protocol path onto a clone URL that
// already carries a token query parameter, producing values like
// "XYZ/info/refs?service=...": the remainder must be split off and
// re-applied to the upstream request.
type credential struct {
	token      string
	extraPath  string
	extraQuery url.Values
}

// extractCredential pulls the session token from the token query
// parameter, a Basic Authorization password, or a Bearer header
func extractCredential(r *http.Request) credential {
	if raw := r.URL.Query().Get("token"); raw != "" {
		c := credential{token: raw}
		if token, rest, ok := strings.Cut(raw, "/"); ok {
			c.token = token
			path, query, _ := strings.Cut(rest, "?")
			c.extraPath = strings.Trim(path, "/")
			if query != "" {
				if vals, err := url.ParseQuery(query); err == nil {
					c.extraQuery = vals
				}
			}
		}
		return c
	}
	if _, password, ok := r.BasicAuth(); ok {
		return credential{token: password}
	}
	if bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "); bearer != r.Header.Get("Authorization") {
		return credential{token: bearer}
	}
	return credential{}
}

// challenge rejects the request with a Basic challenge so git clients
// engage their credential retry logic
func challenge(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="git"`)
	http.Error(w, "authentication required", http.StatusUnauthorized)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cred := extractCredential(r)
	if cred.token == "" {
		challenge(w)
		return
	}

	identity, err := h.resolver.Resolve(r.Context(), cred.token)
	if err != nil {
		challenge(w)
		return
	}

	// Path shape: /{assignment|submission}/{id}[.git]/<git-subpath>
	trimmed := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/git"), "/")
	typeSegment, rest, _ := strings.Cut(trimmed, "/")
	scopeType, err := scope.ParseType(typeSegment)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	idSegment, subpath, _ := strings.Cut(rest, "/")
	id := strings.TrimSuffix(idSegment, ".git")
	if id == "" {
		http.NotFound(w, r)
		return
	}
	if cred.extraPath != "" {
		subpath = strings.Trim(subpath+"/"+cred.extraPath, "/")
	}

	s, err := scope.For(scopeType, h.store)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	res, err := s.Resolve(r.Context(), id)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		slog.Error("Failed to resolve repository", "type", scopeType, "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	query := mergeQuery(r.URL.Query(), cred.extraQuery)
	if err := h.authorize(s, identity, res, r.Method, subpath, query); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	h.forward(w, r, res.RepoPath, subpath, query)
}

// authorize applies read authorization to every request and push
// authorization to requests addressing git-receive-pack
func (h *Handler) authorize(s scope.Scope, identity *auth.Identity, res *scope.Resolution, method, subpath string, query url.Values) error {
	if err := s.AuthorizeRead(identity, res); err != nil {
		return err
	}
	if isPush(method, subpath, query) {
		return s.AuthorizePush(identity, res)
	}
	return nil
}

// isPush reports whether the request addresses git-receive-pack, either
// the POST endpoint itself or its info/refs advertisement
func isPush(method, subpath string, query url.Values) bool {
	if method == http.MethodPost && strings.HasSuffix(subpath, receivePackService) {
		return true
	}
	return subpath == "info/refs" && query.Get("service") == receivePackService
}

// mergeQuery combines the request query with any query split off a
// mangled token value, dropping the token parameter itself
func mergeQuery(base, extra url.Values) url.Values {
	merged := url.Values{}
	for k, vs := range base {
		if k == "token" {
			continue
		}
		merged[k] = vs
	}
	for k, vs := range extra {
		for _, v := range vs {
			merged.Add(k, v)
		}
	}
	return merged
}

// forward relays the request upstream with the service credential
// substituted for the client's
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, repoPath, subpath string, query url.Values) {
	// Archive requests address the repository without the .git suffix.
	target := h.upstreamURL + "/" + repoPath + ".git"
	if strings.HasPrefix(subpath, "archive/") {
		target = h.upstreamURL + "/" + repoPath
	}
	if subpath != "" {
		target += "/" + subpath
	}
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	upstream, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		slog.Error("Failed to build upstream request", "url", target, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	for k, vs := range r.Header {
		switch http.CanonicalHeaderKey(k) {
		case "Host", "Connection", "Authorization":
			continue
		}
		upstream.Header[http.CanonicalHeaderKey(k)] = vs
	}
	upstream.SetBasicAuth(h.adminUser, h.adminToken)

	resp, err := h.client.Do(upstream)
	if err != nil {
		slog.Error("Upstream git request failed", "url", target, "error", err)
		http.Error(w, "upstream request failed", http.StatusInternalServerError)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	for _, name := range allowedResponseHeaders {
		if v := resp.Header.Get(name); v != "" {
			w.Header().Set(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		slog.Debug("Failed to relay upstream response body", "url", target, "error", err)
	}
}
