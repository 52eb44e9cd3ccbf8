// Package pipeline stages uploaded archives as git commits: clone, clear,
// extract, diff, policy-check, commit and push, all inside an ephemeral
// working directory.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/codecampus/gitgateway/internal/policy"
)

// Author is the commit author identity
type Author struct {
	Name  string
	Email string
}

// Input is the unit of work passed to the pipeline
type Input struct {
	// Archive is the uploaded zip archive
	Archive []byte
	// Owner and Repo address the target repository on the git host
	Owner string
	Repo  string
	// Message is the commit message
	Message string
	// Author is the commit author identity
	Author Author
	// CheckReadonly enables the readonly-policy gate
	CheckReadonly bool
}

// Result reports what the pipeline did
type Result struct {
	// FilesProcessed is the number of changed files committed; zero means
	// no commit was created
	FilesProcessed int
	// CommitSHA is the hash of the created commit, empty when nothing changed
	CommitSHA string
}

// Pipeline commits uploaded archives against repositories on the git host
type Pipeline struct {
	hostURL  string
	username string
	token    string
	workDir  string
	shallow  bool
}

// Option configures the pipeline
type Option func(*Pipeline)

// WithWorkDir sets the base directory for ephemeral working trees
func WithWorkDir(dir string) Option {
	return func(p *Pipeline) {
		p.workDir = dir
	}
}

// WithShallow controls whether clones are shallow single-branch clones.
// Enabled by default; disable for hosts that mishandle shallow negotiation.
func WithShallow(shallow bool) Option {
	return func(p *Pipeline) {
		p.shallow = shallow
	}
}

// NewPipeline creates a commit pipeline cloning from and pushing to the
// host at hostURL with the given service credentials. The credentials are
// an explicit dependency; the pipeline never reads them from global state.
func NewPipeline(hostURL, username, token string, opts ...Option) *Pipeline {
	p := &Pipeline{
		hostURL:  strings.TrimSuffix(hostURL, "/"),
		username: username,
		token:    token,
		shallow:  true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// cloneURL builds the transport URL for a repository. Plain directory
// paths are supported for filesystem-backed hosts.
func (p *Pipeline) cloneURL(owner, repo string) string {
	if u, err := url.Parse(p.hostURL); err == nil && u.Scheme != "" && u.Host != "" {
		u.Path = path.Join(u.Path, owner, repo+".git")
		return u.String()
	}
	return filepath.Join(p.hostURL, owner, repo+".git")
}

// authMethod returns the transport credentials for HTTP hosts
func (p *Pipeline) authMethod() transport.AuthMethod {
	if p.username == "" && p.token == "" {
		return nil
	}
	return &githttp.BasicAuth{Username: p.username, Password: p.token}
}

// Run executes the pipeline for one archive. The ephemeral working
// directory is always removed, success or failure.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	dir, err := os.MkdirTemp(p.workDir, "gitgateway-commit-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			slog.Error("Failed to clean up working directory", "dir", dir, "error", err)
		}
	}()

	cloneOptions := &git.CloneOptions{
		URL:  p.cloneURL(in.Owner, in.Repo),
		Auth: p.authMethod(),
	}
	if p.shallow {
		cloneOptions.Depth = 1
		cloneOptions.SingleBranch = true
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, cloneOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	// Read the policy config before any mutation so a malicious archive
	// cannot bypass the check by deleting or rewriting the config.
	var patterns []string
	if in.CheckReadonly {
		patterns = loadWorktreePolicy(dir)
	}

	if err := clearWorktree(dir); err != nil {
		return nil, err
	}
	if err := extractArchive(in.Archive, dir); err != nil {
		return nil, err
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return nil, fmt.Errorf("failed to stage changes: %w", err)
	}

	changed, err := changedFiles(wt)
	if err != nil {
		return nil, err
	}

	if in.CheckReadonly {
		for _, file := range changed {
			if ok, pattern := policy.Match(file, patterns); ok {
				return nil, &policy.Violation{Path: file, Pattern: pattern}
			}
		}
	}

	if len(changed) == 0 {
		slog.Debug("Archive produced no changes", "repo", in.Owner+"/"+in.Repo)
		return &Result{FilesProcessed: 0}, nil
	}

	hash, err := wt.Commit(in.Message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  in.Author.Name,
			Email: in.Author.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit changes: %w", err)
	}

	if err := repo.PushContext(ctx, &git.PushOptions{Auth: p.authMethod()}); err != nil && err != git.NoErrAlreadyUpToDate {
		return nil, fmt.Errorf("failed to push commit: %w", err)
	}

	slog.Info("Committed archive",
		"repo", in.Owner+"/"+in.Repo,
		"commit", hash.String(),
		"files", len(changed))

	return &Result{
		FilesProcessed: len(changed),
		CommitSHA:      hash.String(),
	}, nil
}

// loadWorktreePolicy reads the readonly patterns from the freshly cloned
// tree. A missing or unreadable config degrades to an empty policy.
func loadWorktreePolicy(dir string) []string {
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(policy.ConfigPath)))
	if err != nil {
		return nil
	}
	return policy.Parse(data)
}

// changedFiles extracts the staged change set (added, modified, deleted,
// renamed and copied files) in deterministic order.
func changedFiles(wt *git.Worktree) ([]string, error) {
	status, err := wt.Status()
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}

	var files []string
	for file, st := range status {
		switch st.Staging {
		case git.Added, git.Modified, git.Deleted, git.Renamed, git.Copied:
			files = append(files, file)
		}
	}
	sort.Strings(files)
	return files, nil
}
