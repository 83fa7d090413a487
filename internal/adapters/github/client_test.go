package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient("test-token", observability.NewNoopLogger()).WithBaseURL(server.URL)
}

func TestParseRepositoryURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{"https", "https://github.com/acme/widgets", "acme", "widgets", false},
		{"https with .git", "https://github.com/acme/widgets.git", "acme", "widgets", false},
		{"https trailing slash", "https://github.com/acme/widgets/", "acme", "widgets", false},
		{"ssh", "git@github.com:acme/widgets.git", "acme", "widgets", false},
		{"dotted repo", "https://github.com/acme/widgets.io", "acme", "widgets.io", false},
		{"gitlab", "https://gitlab.com/acme/widgets", "", "", true},
		{"not a url", "acme/widgets", "", "", true},
		{"empty", "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := ParseRepositoryURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, models.ErrValidation, models.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOwner, owner)
			assert.Equal(t, tt.wantRepo, repo)
		})
	}
}

func TestResolveBranchSHA(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/repos/acme/widgets/branches/main":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"commit": map[string]string{"sha": "abc123"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	sha, err := client.ResolveBranchSHA(context.Background(), "acme", "widgets", "main")
	require.NoError(t, err)
	assert.Equal(t, "abc123", sha)

	_, err = client.ResolveBranchSHA(context.Background(), "acme", "widgets", "gone")
	require.Error(t, err)
	assert.Equal(t, models.ErrNotFound, models.KindOf(err))
}

func TestFetchTreeAndBlob(t *testing.T) {
	content := base64.StdEncoding.EncodeToString([]byte("package main\n"))
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/widgets/git/trees/abc123":
			assert.Equal(t, "1", r.URL.Query().Get("recursive"))
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"tree": []TreeEntry{
					{Path: "main.go", Type: "blob", SHA: "blob1", Size: 13},
					{Path: "internal", Type: "tree", SHA: "tree1"},
				},
			})
		case "/repos/acme/widgets/git/blobs/blob1":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"content":  content,
				"encoding": "base64",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	entries, err := client.FetchTree(context.Background(), "acme", "widgets", "abc123")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "main.go", entries[0].Path)

	data, err := client.FetchBlob(context.Background(), "acme", "widgets", "blob1")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))
}

func TestBatchFetchContentsSkipsFailures(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/widgets/git/blobs/ok":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"content":  base64.StdEncoding.EncodeToString([]byte("hello")),
				"encoding": "base64",
			})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))

	contents, err := client.BatchFetchContents(context.Background(), "acme", "widgets", []TreeEntry{
		{Path: "good.go", SHA: "ok"},
		{Path: "bad.go", SHA: "broken"},
	})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, "hello", string(contents["good.go"]))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		want    models.ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, nil, models.ErrUnauthorized},
		{"forbidden", http.StatusForbidden, nil, models.ErrUnauthorized},
		{"rate limited", http.StatusForbidden, map[string]string{"X-RateLimit-Remaining": "0"}, models.ErrProcessingFailed},
		{"too many requests", http.StatusTooManyRequests, nil, models.ErrProcessingFailed},
		{"server error", http.StatusBadGateway, nil, models.ErrProcessingFailed},
		{"unprocessable", http.StatusUnprocessableEntity, nil, models.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			}))
			_, err := client.FetchLanguages(context.Background(), "acme", "widgets")
			require.Error(t, err)
			assert.Equal(t, tt.want, models.KindOf(err))
		})
	}
}
