package forge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const (
	defaultBaseURL = "https://api.github.com"
	apiVersion     = "2022-11-28"
	// UserAgent identifies this tool on API and download requests.
	UserAgent = "plugman/1.0 (+https://github.com/plugman-dev/plugman)"
)

// Client talks to a GitHub-style releases API. The zero-value fields are
// filled by NewClient; tests point BaseURL at an httptest server and pin
// Arch for deterministic asset matching.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
	Token      string
	// Arch is the token matched against asset filenames when no pattern
	// is configured: "x64" or "arm64".
	Arch string
}

// NewClient builds a client with sane defaults. A nil httpClient gets a
// 30s timeout; metadata calls are small, downloads go elsewhere.
// PLUGMAN_API_URL points the client at a different forge (enterprise
// installs, test servers); GITHUB_TOKEN fills in when the state file
// carries no token.
func NewClient(httpClient *http.Client, token string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := defaultBaseURL
	if v := os.Getenv("PLUGMAN_API_URL"); v != "" {
		baseURL = v
	}
	if token == "" {
		token = os.Getenv("GITHUB_TOKEN")
	}
	return &Client{
		HTTPClient: httpClient,
		BaseURL:    baseURL,
		Token:      token,
		Arch:       hostArch(),
	}
}

// LatestRelease returns the repository's latest stable release. When the
// dedicated endpoint has nothing (repository publishes only prereleases),
// it falls back to the full release list.
func (c *Client) LatestRelease(ctx context.Context, repo string) (Release, error) {
	u := c.endpoint("/repos/" + repo + "/releases/latest")
	status, body, err := c.get(ctx, u)
	if err != nil {
		return Release{}, err
	}
	switch {
	case status == http.StatusOK:
		var rel Release
		if err := json.Unmarshal(body, &rel); err != nil {
			return Release{}, fmt.Errorf("FRG_DECODE: %w", err)
		}
		return rel, nil
	case status == http.StatusNotFound:
		return c.latestFromList(ctx, repo)
	default:
		return Release{}, &APIError{Status: status, URL: u}
	}
}

func (c *Client) latestFromList(ctx context.Context, repo string) (Release, error) {
	u := c.endpoint("/repos/" + repo + "/releases?per_page=100")
	status, body, err := c.get(ctx, u)
	if err != nil {
		return Release{}, err
	}
	switch {
	case status == http.StatusOK:
	case status == http.StatusNotFound:
		return Release{}, fmt.Errorf("%w: %s", ErrReleaseNotFound, repo)
	default:
		return Release{}, &APIError{Status: status, URL: u}
	}
	var releases []Release
	if err := json.Unmarshal(body, &releases); err != nil {
		return Release{}, fmt.Errorf("FRG_DECODE: %w", err)
	}

	published := releases[:0]
	for _, rel := range releases {
		if !rel.Draft {
			published = append(published, rel)
		}
	}
	// Prereleases count only when nothing stable exists.
	stable := make([]Release, 0, len(published))
	for _, rel := range published {
		if !rel.Prerelease {
			stable = append(stable, rel)
		}
	}
	candidates := stable
	if len(candidates) == 0 {
		candidates = published
	}
	if len(candidates) == 0 {
		return Release{}, fmt.Errorf("%w: %s", ErrReleaseNotFound, repo)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].PublishedAt.Equal(candidates[j].PublishedAt) {
			return candidates[i].PublishedAt.After(candidates[j].PublishedAt)
		}
		return CompareTags(candidates[i].TagName, candidates[j].TagName) > 0
	})
	return candidates[0], nil
}

// ReleaseByTag fetches the release for an exact tag, tolerating an
// optional leading "v": when the given form is missing, the toggled form
// is tried once before giving up.
func (c *Client) ReleaseByTag(ctx context.Context, repo, tag string) (Release, error) {
	rel, status, err := c.fetchTag(ctx, repo, tag)
	if err != nil {
		return Release{}, err
	}
	if status == http.StatusOK {
		return rel, nil
	}
	if status == http.StatusNotFound {
		if alt := toggleV(tag); alt != tag {
			rel, status, err = c.fetchTag(ctx, repo, alt)
			if err != nil {
				return Release{}, err
			}
			if status == http.StatusOK {
				return rel, nil
			}
			if status != http.StatusNotFound {
				return Release{}, &APIError{Status: status, URL: c.endpoint("/repos/" + repo + "/releases/tags/" + url.PathEscape(alt))}
			}
		}
		return Release{}, fmt.Errorf("%w: %s@%s", ErrReleaseNotFound, repo, tag)
	}
	return Release{}, &APIError{Status: status, URL: c.endpoint("/repos/" + repo + "/releases/tags/" + url.PathEscape(tag))}
}

func (c *Client) fetchTag(ctx context.Context, repo, tag string) (Release, int, error) {
	u := c.endpoint("/repos/" + repo + "/releases/tags/" + url.PathEscape(tag))
	status, body, err := c.get(ctx, u)
	if err != nil {
		return Release{}, 0, err
	}
	if status != http.StatusOK {
		return Release{}, status, nil
	}
	var rel Release
	if err := json.Unmarshal(body, &rel); err != nil {
		return Release{}, 0, fmt.Errorf("FRG_DECODE: %w", err)
	}
	return rel, http.StatusOK, nil
}

// get performs a single request. API failures are surfaced, never retried.
func (c *Client) get(ctx context.Context, fullURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return 0, nil, err
	}
	c.decorate(req)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("FRG_HTTP: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("FRG_HTTP: %w", err)
	}
	return resp.StatusCode, body, nil
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

// toggleV flips the optional leading "v" on a tag.
func toggleV(tag string) string {
	if strings.HasPrefix(tag, "v") {
		return strings.TrimPrefix(tag, "v")
	}
	return "v" + tag
}

// CompareTags orders tags by semver when both parse, lexically otherwise.
func CompareTags(a, b string) int {
	va, vb := normalizeSemver(a), normalizeSemver(b)
	if va == "" || vb == "" {
		return strings.Compare(a, b)
	}
	return semver.Compare(va, vb)
}

func normalizeSemver(v string) string {
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}
