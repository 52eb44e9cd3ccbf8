// Package v0 provides the REST API handlers for the git workspace
// gateway.
package v0

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/codecampus/gitgateway/internal/auth"
	"github.com/codecampus/gitgateway/internal/githost"
	"github.com/codecampus/gitgateway/internal/pipeline"
	"github.com/codecampus/gitgateway/internal/policy"
	"github.com/codecampus/gitgateway/internal/provision"
	"github.com/codecampus/gitgateway/internal/records"
	"github.com/codecampus/gitgateway/internal/scope"
	"github.com/codecampus/gitgateway/internal/telemetry"
	"github.com/codecampus/gitgateway/internal/versions"
)

const (
	// maxUploadSize bounds multipart archive uploads (32MB)
	maxUploadSize = 32 * 1024 * 1024

	// ActionSave stages the archive without finalizing the submission
	ActionSave = "SAVE"
	// ActionSubmit stages the archive and finalizes the submission
	ActionSubmit = "SUBMIT"
)

// Provisioner is the repository provisioning surface the routes depend on
type Provisioner interface {
	EnsureTemplate(ctx context.Context, id *auth.Identity, assignmentID string) (*provision.Info, error)
	EnsureSubmission(ctx context.Context, id *auth.Identity, assignmentID string) (*provision.Info, error)
	Probe(ctx context.Context, id *auth.Identity, assignmentID string, kind records.Kind) (*provision.ProbeResult, error)
	SetVisibility(ctx context.Context, id *auth.Identity, assignmentID string, kind records.Kind, private bool) error
}

// CommitPipeline is the archive-commit surface the routes depend on
type CommitPipeline interface {
	Run(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

// ContentReader is the content-probe surface the routes depend on
type ContentReader interface {
	GetContents(ctx context.Context, owner, repo, path, ref string) ([]githost.ContentEntry, error)
}

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
	// Path and Pattern identify a readonly-policy violation
	Path    string `json:"path,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// CreateRequest is the body of POST /git/create
type CreateRequest struct {
	Type         records.Kind `json:"type"`
	AssignmentID string       `json:"assignmentId"`
}

// UpdateRequest is the body of PATCH /git/update
type UpdateRequest struct {
	Type         records.Kind `json:"type"`
	AssignmentID string       `json:"assignmentId"`
	Private      bool         `json:"private"`
}

// UploadResponse is the body of a successful POST /upload
type UploadResponse struct {
	Success        bool   `json:"success"`
	SubmissionID   string `json:"submissionId"`
	FilesProcessed int    `json:"filesProcessed"`
}

// Routes defines the routes for the gateway API with dependency injection
type Routes struct {
	provisioner Provisioner
	store       records.Store
	pipeline    CommitPipeline
	host        ContentReader
	metrics     *telemetry.PipelineMetrics
}

// RoutesOption configures a Routes instance
type RoutesOption func(*Routes)

// WithPipelineMetrics records pipeline run metrics on uploads
func WithPipelineMetrics(m *telemetry.PipelineMetrics) RoutesOption {
	return func(rt *Routes) {
		rt.metrics = m
	}
}

// NewRoutes creates a new Routes instance with the provided collaborators
func NewRoutes(p Provisioner, store records.Store, pipe CommitPipeline, host ContentReader, opts ...RoutesOption) *Routes {
	rt := &Routes{
		provisioner: p,
		store:       store,
		pipeline:    pipe,
		host:        host,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Router creates the /git router: the management routes plus the smart
// HTTP proxy mounted under the two scope prefixes. Static routes win over
// the proxy wildcards. The auth middleware guards only the management
// routes; the proxy does its own credential handling.
func Router(rt *Routes, proxy http.Handler, authMW func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Group(func(g chi.Router) {
		g.Use(authMW)
		g.Get("/create", rt.ProbeRepo)
		g.Post("/create", rt.CreateRepo)
		g.Patch("/update", rt.UpdateRepo)
	})

	r.Handle("/assignment/*", proxy)
	r.Handle("/submission/*", proxy)

	return r
}

// ProbeRepo handles GET /git/create: an idempotent existence probe that
// never creates anything
func (rt *Routes) ProbeRepo(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		rt.writeErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return
	}

	assignmentID := r.URL.Query().Get("assignmentId")
	kind := records.Kind(r.URL.Query().Get("type"))
	if assignmentID == "" || (kind != records.KindTemplate && kind != records.KindSubmission) {
		rt.writeErrorResponse(w, "assignmentId and type=TEMPLATE|SUBMISSION are required", http.StatusBadRequest)
		return
	}

	result, err := rt.provisioner.Probe(r.Context(), identity, assignmentID, kind)
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSONResponse(w, result)
}

// CreateRepo handles POST /git/create: provisions a template or
// submission repository
func (rt *Routes) CreateRepo(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		rt.writeErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.writeErrorResponse(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.AssignmentID == "" {
		rt.writeErrorResponse(w, "assignmentId is required", http.StatusBadRequest)
		return
	}

	var (
		info *provision.Info
		err  error
	)
	switch req.Type {
	case records.KindTemplate:
		info, err = rt.provisioner.EnsureTemplate(r.Context(), identity, req.AssignmentID)
	case records.KindSubmission:
		info, err = rt.provisioner.EnsureSubmission(r.Context(), identity, req.AssignmentID)
	default:
		rt.writeErrorResponse(w, "type must be TEMPLATE or SUBMISSION", http.StatusBadRequest)
		return
	}
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSONResponse(w, info)
}

// UpdateRepo handles PATCH /git/update: toggles repository visibility
func (rt *Routes) UpdateRepo(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		rt.writeErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		rt.writeErrorResponse(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.AssignmentID == "" || (req.Type != records.KindTemplate && req.Type != records.KindSubmission) {
		rt.writeErrorResponse(w, "assignmentId and type=TEMPLATE|SUBMISSION are required", http.StatusBadRequest)
		return
	}

	if err := rt.provisioner.SetVisibility(r.Context(), identity, req.AssignmentID, req.Type, req.Private); err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSONResponse(w, map[string]bool{"success": true})
}

// Upload handles POST /upload: stages an uploaded archive as a commit
// against the caller's submission repository
func (rt *Routes) Upload(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		rt.writeErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		rt.writeErrorResponse(w, "malformed multipart body", http.StatusBadRequest)
		return
	}

	assignmentID := r.FormValue("assignmentId")
	action := r.FormValue("action")
	if action == "" {
		action = ActionSave
	}
	if assignmentID == "" || (action != ActionSave && action != ActionSubmit) {
		rt.writeErrorResponse(w, "assignmentId and action=SUBMIT|SAVE are required", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		rt.writeErrorResponse(w, "archive file is required", http.StatusBadRequest)
		return
	}
	defer func() {
		_ = file.Close()
	}()
	archive, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		rt.writeErrorResponse(w, "failed to read archive", http.StatusBadRequest)
		return
	}

	rec, err := rt.store.SubmissionByAssignment(r.Context(), assignmentID, identity.UserID)
	if err != nil {
		rt.writeError(w, err)
		return
	}

	// A finalized submission accepts no further SUBMIT; the check runs
	// before any repository mutation.
	if action == ActionSubmit && rec.Status == records.StatusSubmitted {
		rt.writeErrorResponse(w, "submission is already finalized", http.StatusConflict)
		return
	}

	enr, okEnr := identity.EnrollmentFor(rec.CourseID)
	if !okEnr {
		rt.writeError(w, scope.ErrNotEnrolled)
		return
	}

	owner, repoName, found := strings.Cut(rec.Path, "/")
	if !found {
		rt.writeErrorResponse(w, "malformed repository record", http.StatusInternalServerError)
		return
	}

	start := time.Now()
	result, err := rt.pipeline.Run(r.Context(), pipeline.Input{
		Archive: archive,
		Owner:   owner,
		Repo:    repoName,
		Message: uploadMessage(action),
		Author: pipeline.Author{
			Name:  identity.Username,
			Email: identity.Email,
		},
		CheckReadonly: !enr.Role.Privileged(),
	})
	if rt.metrics != nil {
		files := 0
		if result != nil {
			files = result.FilesProcessed
		}
		rt.metrics.RecordRun(r.Context(), time.Since(start), files, err == nil)
	}
	if err != nil {
		rt.writeError(w, err)
		return
	}

	if action == ActionSubmit {
		if err := rt.store.SetStatus(r.Context(), rec.SubmissionID, records.StatusSubmitted); err != nil {
			// The commit is already pushed at this point; tell the caller
			// so they retry the SUBMIT instead of re-uploading work.
			slog.Error("Submission pushed but status update failed",
				"submissionId", rec.SubmissionID,
				"commit", result.CommitSHA,
				"error", err)
			rt.writeErrorResponse(w, "work was pushed but the submission could not be finalized, retry SUBMIT", http.StatusInternalServerError)
			return
		}
	}

	rt.writeJSONResponse(w, UploadResponse{
		Success:        true,
		SubmissionID:   rec.SubmissionID,
		FilesProcessed: result.FilesProcessed,
	})
}

func uploadMessage(action string) string {
	if action == ActionSubmit {
		return "Submit assignment work"
	}
	return "Save assignment work"
}

// GitFS handles GET /git-fs?operation=contents&assignmentId=&path=&ref=,
// the read-only content probe behind the archive-view filesystem. The
// caller's own submission is preferred; enrolled callers without one read
// the assignment template.
func (rt *Routes) GitFS(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		rt.writeErrorResponse(w, "authentication required", http.StatusUnauthorized)
		return
	}

	if op := r.URL.Query().Get("operation"); op != "contents" {
		rt.writeErrorResponse(w, "operation must be contents", http.StatusBadRequest)
		return
	}
	assignmentID := r.URL.Query().Get("assignmentId")
	if assignmentID == "" {
		rt.writeErrorResponse(w, "assignmentId is required", http.StatusBadRequest)
		return
	}

	rec, err := rt.store.SubmissionByAssignment(r.Context(), assignmentID, identity.UserID)
	if errors.Is(err, records.ErrNotFound) {
		rec, err = rt.store.TemplateByAssignment(r.Context(), assignmentID)
	}
	if err != nil {
		rt.writeError(w, err)
		return
	}
	if _, okEnr := identity.EnrollmentFor(rec.CourseID); !okEnr {
		rt.writeError(w, scope.ErrNotEnrolled)
		return
	}

	owner, repoName, found := strings.Cut(rec.Path, "/")
	if !found {
		rt.writeErrorResponse(w, "malformed repository record", http.StatusInternalServerError)
		return
	}

	entries, err := rt.host.GetContents(r.Context(), owner, repoName,
		r.URL.Query().Get("path"), r.URL.Query().Get("ref"))
	if err != nil {
		rt.writeError(w, err)
		return
	}
	rt.writeJSONResponse(w, entries)
}

// HealthRouter creates a router for health check endpoints
func HealthRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler)

	return r
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

// versionHandler handles version information requests
func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()

	response := map[string]string{
		"version":    info.Version,
		"commit":     info.Commit,
		"build_date": info.BuildDate,
		"go_version": info.GoVersion,
		"platform":   info.Platform,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode version info", "error", err)
	}
}

// writeError maps an error to the gateway's HTTP taxonomy and writes it
func (rt *Routes) writeError(w http.ResponseWriter, err error) {
	var violation *policy.Violation
	if errors.As(err, &violation) {
		rt.writeJSONError(w, ErrorResponse{
			Error:   violation.Error(),
			Path:    violation.Path,
			Pattern: violation.Pattern,
		}, http.StatusForbidden)
		return
	}

	var upstream *githost.UpstreamError
	switch {
	case errors.Is(err, records.ErrNotFound),
		errors.Is(err, githost.ErrNotFound),
		errors.Is(err, provision.ErrAssignmentNotFound):
		rt.writeErrorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, scope.ErrNotEnrolled), errors.Is(err, scope.ErrRoleNotAllowed):
		rt.writeErrorResponse(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, auth.ErrInvalidToken):
		rt.writeErrorResponse(w, err.Error(), http.StatusUnauthorized)
	case errors.As(err, &upstream):
		slog.Error("Upstream git host failure", "error", err)
		rt.writeErrorResponse(w, "git host request failed", http.StatusBadGateway)
	default:
		slog.Error("Request failed", "error", err)
		rt.writeErrorResponse(w, "internal error", http.StatusInternalServerError)
	}
}

// writeJSONResponse writes a JSON response with the given data
func (*Routes) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// writeErrorResponse writes a standardized error response
func (rt *Routes) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	rt.writeJSONError(w, ErrorResponse{Error: message}, statusCode)
}

func (*Routes) writeJSONError(w http.ResponseWriter, resp ErrorResponse, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Failed to encode error response", "error", err)
	}
}
