// Package policy loads and evaluates the declarative read-only file policy
// carried inside managed repositories. The engine only classifies paths;
// enforcement belongs to its consumers (the virtual filesystem provider and
// the commit pipeline, which apply it identically).
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/codecampus/gitgateway/internal/githost"
)

const (
	// ConfigPath is the fixed path of the policy config inside managed
	// repositories
	ConfigPath = ".campus/config.yaml"
)

// RunConfig describes how to run the workspace, carried alongside the
// readonly patterns in the same config file
type RunConfig struct {
	Command     string `yaml:"command"`
	Description string `yaml:"description"`
}

// Config is the in-repo workspace configuration
type Config struct {
	Version  int        `yaml:"version"`
	Run      *RunConfig `yaml:"run,omitempty"`
	Readonly []string   `yaml:"readonly,omitempty"`
}

// ContentReader is the subset of the lifecycle manager used to fetch the
// policy config
type ContentReader interface {
	GetContents(ctx context.Context, owner, repo, path, ref string) ([]githost.ContentEntry, error)
}

// Load fetches and decodes the readonly pattern list for a repository.
// Any failure (missing file, parse error, malformed shape) degrades to an
// empty, permissive policy with a warning; a missing config never blocks
// work.
func Load(ctx context.Context, reader ContentReader, owner, repo, ref string) []string {
	entries, err := reader.GetContents(ctx, owner, repo, ConfigPath, ref)
	if err != nil {
		if err != githost.ErrNotFound {
			slog.Warn("Failed to load workspace config, using empty policy",
				"repo", owner+"/"+repo,
				"error", err)
		}
		return nil
	}
	if len(entries) != 1 || entries[0].Type != "file" {
		slog.Warn("Workspace config path is not a file, using empty policy",
			"repo", owner+"/"+repo)
		return nil
	}

	data, err := entries[0].Decode()
	if err != nil {
		slog.Warn("Failed to decode workspace config, using empty policy",
			"repo", owner+"/"+repo,
			"error", err)
		return nil
	}

	return Parse(data)
}

// Parse decodes a workspace config and extracts the readonly pattern list
// with the same fail-open behavior as Load. Used by callers that already
// hold the config bytes, e.g. the commit pipeline reading its fresh clone.
func Parse(data []byte) []string {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		slog.Warn("Failed to parse workspace config, using empty policy", "error", err)
		return nil
	}
	return cfg.Readonly
}

// IsReadonly reports whether the path matches any of the patterns.
// Paths are matched relative to the repository root with any leading slash
// stripped. A pattern without glob metacharacters also protects everything
// under it when it names a directory.
func IsReadonly(path string, patterns []string) bool {
	_, pattern := Match(path, patterns)
	return pattern != ""
}

// Match returns whether the path is protected and the first pattern that
// matched it.
func Match(path string, patterns []string) (bool, string) {
	path = strings.TrimPrefix(path, "/")

	for _, pattern := range patterns {
		p := strings.TrimPrefix(pattern, "/")
		if p == "" {
			continue
		}
		if matchPattern(p, path) {
			return true, pattern
		}
	}
	return false, ""
}

// matchPattern matches a single glob pattern against a path, using '/' as
// the separator so that '*' stays within one path segment and '**' crosses
// segments.
func matchPattern(pattern, path string) bool {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		slog.Warn("Ignoring invalid readonly pattern", "pattern", pattern, "error", err)
		return false
	}
	if g.Match(path) {
		return true
	}

	// A bare directory pattern protects its whole subtree.
	if !strings.ContainsAny(pattern, "*?[{") {
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "/")+"/")
	}

	// A trailing "/**" style pattern should also protect the directory
	// itself.
	if trimmed, ok := strings.CutSuffix(pattern, "/**"); ok {
		if g2, err := glob.Compile(trimmed, '/'); err == nil && g2.Match(path) {
			return true
		}
	}
	return false
}

// Describe renders a human-readable violation message for a protected path
func Describe(path, pattern string) string {
	return fmt.Sprintf("%s is read-only (matched pattern %q)", path, pattern)
}
