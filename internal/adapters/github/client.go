// Package github is the repository-host adapter. It speaks the GitHub REST
// API and translates upstream failures into the shared error taxonomy:
// rate limits and 5xx are transient, authentication and missing refs are
// fatal for the calling job.
package github

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/S-Corkum/prd-engine/internal/models"
	"github.com/S-Corkum/prd-engine/internal/observability"
)

const defaultBaseURL = "https://api.github.com"

// TreeEntry is one node of a repository tree listing
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"` // blob | tree
	SHA  string `json:"sha"`
	Size int64  `json:"size,omitempty"`
}

// Client is a GitHub REST API client scoped to the indexing workflow
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  observability.Logger
}

// NewClient creates a GitHub client. An empty token means anonymous access.
func NewClient(token string, logger observability.Logger) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

// WithBaseURL overrides the API base URL. Tests only.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = strings.TrimSuffix(baseURL, "/")
	return c
}

var (
	httpsRepoRegex = regexp.MustCompile(`^https://github\.com/([\w.-]+)/([\w.-]+?)(?:\.git)?/?$`)
	sshRepoRegex   = regexp.MustCompile(`^git@github\.com:([\w.-]+)/([\w.-]+?)\.git$`)
)

// ParseRepositoryURL extracts (owner, repo) from a GitHub repository URL.
// Anything that is not a recognizable GitHub URL fails with validation.
func ParseRepositoryURL(repositoryURL string) (owner, repo string, err error) {
	if match := httpsRepoRegex.FindStringSubmatch(repositoryURL); match != nil {
		return match[1], match[2], nil
	}
	if match := sshRepoRegex.FindStringSubmatch(repositoryURL); match != nil {
		return match[1], match[2], nil
	}
	return "", "", models.NewErrorf(models.ErrValidation,
		"unsupported repository URL %q", repositoryURL)
}

// ResolveBranchSHA returns the head commit SHA for a branch
func (c *Client) ResolveBranchSHA(ctx context.Context, owner, repo, branch string) (string, error) {
	var result struct {
		Commit struct {
			SHA string `json:"sha"`
		} `json:"commit"`
	}
	path := fmt.Sprintf("/repos/%s/%s/branches/%s", owner, repo, branch)
	if err := c.getJSON(ctx, path, &result); err != nil {
		if models.IsKind(err, models.ErrNotFound) {
			return "", models.NewErrorf(models.ErrNotFound,
				"branch %q not found in %s/%s", branch, owner, repo)
		}
		return "", err
	}
	return result.Commit.SHA, nil
}

// FetchTree lists the full repository tree at the given commit, recursively.
// Only callers decide which entry types participate in indexing.
func (c *Client) FetchTree(ctx context.Context, owner, repo, commitSHA string) ([]TreeEntry, error) {
	var result struct {
		Tree      []TreeEntry `json:"tree"`
		Truncated bool        `json:"truncated"`
	}
	path := fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", owner, repo, commitSHA)
	if err := c.getJSON(ctx, path, &result); err != nil {
		return nil, err
	}
	if result.Truncated {
		c.logger.Warn("repository tree listing was truncated by the API", map[string]interface{}{
			"owner": owner,
			"repo":  repo,
			"sha":   commitSHA,
		})
	}
	return result.Tree, nil
}

// FetchLanguages returns the language byte counts reported by the host
func (c *Client) FetchLanguages(ctx context.Context, owner, repo string) (map[string]int64, error) {
	languages := make(map[string]int64)
	path := fmt.Sprintf("/repos/%s/%s/languages", owner, repo)
	if err := c.getJSON(ctx, path, &languages); err != nil {
		return nil, err
	}
	return languages, nil
}

// FetchBlob downloads one blob by SHA and returns its decoded content
func (c *Client) FetchBlob(ctx context.Context, owner, repo, sha string) ([]byte, error) {
	var result struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	path := fmt.Sprintf("/repos/%s/%s/git/blobs/%s", owner, repo, sha)
	if err := c.getJSON(ctx, path, &result); err != nil {
		return nil, err
	}
	if result.Encoding != "base64" {
		return []byte(result.Content), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(result.Content, "\n", ""))
	if err != nil {
		return nil, models.WrapError(models.ErrProcessingFailed, "failed to decode blob content", err)
	}
	return decoded, nil
}

// BatchFetchContents downloads a set of blobs keyed by path. Per-file
// failures are logged and skipped; the batch never aborts for one file.
func (c *Client) BatchFetchContents(ctx context.Context, owner, repo string, entries []TreeEntry) (map[string][]byte, error) {
	contents := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		data, err := c.FetchBlob(ctx, owner, repo, entry.SHA)
		if err != nil {
			if models.IsKind(err, models.ErrUnauthorized) {
				return nil, err
			}
			c.logger.Warn("skipping file after fetch failure", map[string]interface{}{
				"path":  entry.Path,
				"error": err.Error(),
			})
			continue
		}
		contents[entry.Path] = data
	}
	return contents, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return models.WrapError(models.ErrProcessingFailed, "repository host unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := mapStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return models.WrapError(models.ErrProcessingFailed, "failed to decode repository host response", err)
	}
	return nil
}

// mapStatus maps GitHub HTTP statuses onto the error taxonomy. A 403 with an
// exhausted rate-limit header is transient; any other 401/403 is fatal.
func mapStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return models.NewError(models.ErrProcessingFailed, "repository host rate limit exhausted")
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.NewErrorf(models.ErrUnauthorized,
			"repository host rejected credentials (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return models.NewError(models.ErrNotFound, "repository, branch, or object not found")
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return models.NewErrorf(models.ErrProcessingFailed,
			"repository host transient failure (status %d): %s", resp.StatusCode, string(body))
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return models.NewErrorf(models.ErrValidation,
			"repository host rejected request (status %d): %s", resp.StatusCode, string(body))
	}
}
