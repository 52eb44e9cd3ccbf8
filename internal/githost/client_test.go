package githost_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecampus/gitgateway/internal/githost"
	"github.com/codecampus/gitgateway/internal/httpclient"
)

// fakeHost is a minimal in-memory stand-in for the git host's management
// API, shaped like Gitea's /api/v1 surface
type fakeHost struct {
	mu    sync.Mutex
	orgs  map[string]bool
	users map[string]bool
	repos map[string]bool
	teams map[string]int64

	orgCreates      int
	repoCreates     int
	generateCalls   int
	lastAuthHeader  string
	teamMemberships []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		orgs:  make(map[string]bool),
		users: make(map[string]bool),
		repos: make(map[string]bool),
		teams: make(map[string]int64),
	}
}

func (f *fakeHost) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/orgs/{org}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastAuthHeader = r.Header.Get("Authorization")
		if !f.orgs[r.PathValue("org")] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("POST /api/v1/orgs", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.orgs[body.Username] {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.orgs[body.Username] = true
		f.orgCreates++
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})

	mux.HandleFunc("GET /api/v1/users/{user}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.users[r.PathValue("user")] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("POST /api/v1/admin/users", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		if body.Password == "" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		f.users[body.Username] = true
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})

	mux.HandleFunc("GET /api/v1/orgs/{org}/teams/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id, ok := f.teams[r.PathValue("org")]
		data := []map[string]any{}
		if ok {
			data = append(data, map[string]any{"id": id, "name": "members"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	})
	mux.HandleFunc("POST /api/v1/orgs/{org}/teams", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := int64(len(f.teams) + 1)
		f.teams[r.PathValue("org")] = id
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id, "name": "members"})
	})
	mux.HandleFunc("PUT /api/v1/teams/{id}/members/{user}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.teamMemberships = append(f.teamMemberships, r.PathValue("id")+"/"+r.PathValue("user"))
		w.WriteHeader(http.StatusNoContent)
	})

	createRepo := func(owner string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var body struct {
				Name string `json:"name"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			defer f.mu.Unlock()
			key := r.PathValue(owner) + "/" + body.Name
			if f.repos[key] {
				w.WriteHeader(http.StatusConflict)
				return
			}
			f.repos[key] = true
			f.repoCreates++
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{}`))
		}
	}
	mux.HandleFunc("POST /api/v1/orgs/{org}/repos", createRepo("org"))
	mux.HandleFunc("POST /api/v1/admin/users/{user}/repos", createRepo("user"))

	mux.HandleFunc("POST /api/v1/repos/{owner}/{repo}/generate", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Owner string `json:"owner"`
			Name  string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.generateCalls++
		key := body.Owner + "/" + body.Name
		if f.repos[key] {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.repos[key] = true
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})

	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		key := r.PathValue("owner") + "/" + r.PathValue("repo")
		if !f.repos[key] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":      r.PathValue("repo"),
			"full_name": key,
			"private":   true,
		})
	})
	mux.HandleFunc("PATCH /api/v1/repos/{owner}/{repo}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		key := r.PathValue("owner") + "/" + r.PathValue("repo")
		if !f.repos[key] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})

	mux.HandleFunc("GET /api/v1/repos/{owner}/{repo}/contents/{path...}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastAuthHeader = r.Header.Get("Authorization")
		f.mu.Unlock()
		switch r.PathValue("path") {
		case "README.md":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"name":     "README.md",
				"path":     "README.md",
				"type":     "file",
				"encoding": "base64",
				"content":  "aGVsbG8=",
			})
		case "src":
			_ = json.NewEncoder(w).Encode([]map[string]any{
				{"name": "main.go", "path": "src/main.go", "type": "file"},
				{"name": "lib", "path": "src/lib", "type": "dir"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	return mux
}

func newTestClient(t *testing.T) (githost.Client, *fakeHost) {
	t.Helper()

	fake := newFakeHost()
	server := httptest.NewServer(fake.handler())
	server.Config.SetKeepAlivesEnabled(false)
	t.Cleanup(server.Close)

	client, err := githost.NewClient(server.URL, "admin-token", httpclient.NewDefaultClient(0))
	require.NoError(t, err)
	return client, fake
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := githost.NewClient("", "token", nil)
	require.Error(t, err)

	_, err = githost.NewClient("http://host", "", nil)
	require.Error(t, err)
}

func TestEnsureOrgIdempotent(t *testing.T) {
	t.Parallel()

	client, fake := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.EnsureOrg(ctx, "cs101"))
	require.NoError(t, client.EnsureOrg(ctx, "cs101"))
	assert.Equal(t, 1, fake.orgCreates)
	assert.Equal(t, "token admin-token", fake.lastAuthHeader)
}

func TestEnsureUserIdempotent(t *testing.T) {
	t.Parallel()

	client, fake := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.EnsureUser(ctx, "alice", "alice@example.com"))
	require.NoError(t, client.EnsureUser(ctx, "alice", "alice@example.com"))
	assert.True(t, fake.users["alice"])
}

func TestAddUserToOrgCreatesMembersTeam(t *testing.T) {
	t.Parallel()

	client, fake := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.EnsureOrg(ctx, "cs101"))
	require.NoError(t, client.AddUserToOrg(ctx, "cs101", "alice"))
	require.NoError(t, client.AddUserToOrg(ctx, "cs101", "bob"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Len(t, fake.teams, 1, "team should be created once and reused")
	assert.Len(t, fake.teamMemberships, 2)
}

func TestCreateRepoIdempotent(t *testing.T) {
	t.Parallel()

	client, fake := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.EnsureOrg(ctx, "cs101"))

	// Calling twice is equivalent in observable effect to calling once.
	require.NoError(t, client.CreateRepo(ctx, "cs101", "homework-1", true, true))
	require.NoError(t, client.CreateRepo(ctx, "cs101", "homework-1", true, true))
	assert.Equal(t, 1, fake.repoCreates)
	assert.True(t, fake.repos["cs101/homework-1"])
}

func TestCreateRepoChoosesUserEndpoint(t *testing.T) {
	t.Parallel()

	client, fake := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.EnsureUser(ctx, "alice", "alice@example.com"))
	require.NoError(t, client.CreateRepo(ctx, "alice", "personal-repo", true, false))
	assert.True(t, fake.repos["alice/personal-repo"])
}

func TestGenerateFromTemplateIdempotent(t *testing.T) {
	t.Parallel()

	client, fake := newTestClient(t)
	ctx := context.Background()

	fake.mu.Lock()
	fake.repos["cs101/homework-1"] = true
	fake.mu.Unlock()

	require.NoError(t, client.GenerateFromTemplate(ctx, "cs101", "homework-1", "alice", "cs101-homework-1-alice"))
	// The second call hits the conflict path and recovers via the
	// existence check.
	require.NoError(t, client.GenerateFromTemplate(ctx, "cs101", "homework-1", "alice", "cs101-homework-1-alice"))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 2, fake.generateCalls)
	assert.True(t, fake.repos["alice/cs101-homework-1-alice"])
}

func TestGetRepo(t *testing.T) {
	t.Parallel()

	client, fake := newTestClient(t)
	ctx := context.Background()

	_, err := client.GetRepo(ctx, "cs101", "missing")
	assert.ErrorIs(t, err, githost.ErrNotFound)

	fake.mu.Lock()
	fake.repos["cs101/homework-1"] = true
	fake.mu.Unlock()

	repo, err := client.GetRepo(ctx, "cs101", "homework-1")
	require.NoError(t, err)
	assert.Equal(t, "cs101/homework-1", repo.FullName)
	assert.True(t, repo.Private)
}

func TestUpdateRepo(t *testing.T) {
	t.Parallel()

	client, fake := newTestClient(t)
	ctx := context.Background()

	assert.ErrorIs(t, client.UpdateRepo(ctx, "cs101", "missing", false), githost.ErrNotFound)

	fake.mu.Lock()
	fake.repos["cs101/homework-1"] = true
	fake.mu.Unlock()
	assert.NoError(t, client.UpdateRepo(ctx, "cs101", "homework-1", false))
}

func TestGetContents(t *testing.T) {
	t.Parallel()

	client, fake := newTestClient(t)
	ctx := context.Background()

	entries, err := client.GetContents(ctx, "cs101", "homework-1", "README.md", "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "file", entries[0].Type)
	assert.Equal(t, "token admin-token", fake.lastAuthHeader, "raw reads carry the admin token")

	content, err := entries[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))

	listing, err := client.GetContents(ctx, "cs101", "homework-1", "src", "main")
	require.NoError(t, err)
	assert.Len(t, listing, 2)

	_, err = client.GetContents(ctx, "cs101", "homework-1", "missing.txt", "")
	assert.ErrorIs(t, err, githost.ErrNotFound)
}
