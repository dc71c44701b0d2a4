package forge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(srv *httptest.Server, token string) *Client {
	c := NewClient(srv.Client(), token)
	c.BaseURL = srv.URL
	c.Arch = "x64"
	return c
}

func TestNewClientEnvOverrides(t *testing.T) {
	t.Setenv("PLUGMAN_API_URL", "https://forge.internal")
	t.Setenv("GITHUB_TOKEN", "envtok")

	c := NewClient(nil, "")
	if c.BaseURL != "https://forge.internal" {
		t.Errorf("BaseURL = %q", c.BaseURL)
	}
	if c.Token != "envtok" {
		t.Errorf("Token = %q, want env fallback", c.Token)
	}

	// An explicit token outranks the environment.
	if c := NewClient(nil, "filetok"); c.Token != "filetok" {
		t.Errorf("Token = %q, want explicit token", c.Token)
	}
}

func TestLatestReleaseSetsHeaders(t *testing.T) {
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		if r.URL.Path != "/repos/org/calc/releases/latest" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"tag_name":"v1.2.0","assets":[{"name":"calc-x64.zip","browser_download_url":"u"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(srv, "tok123")
	rel, err := c.LatestRelease(context.Background(), "org/calc")
	if err != nil {
		t.Fatalf("LatestRelease: %v", err)
	}
	if rel.TagName != "v1.2.0" {
		t.Fatalf("tag = %q", rel.TagName)
	}
	if got := gotHeader.Get("Accept"); got != "application/vnd.github+json" {
		t.Errorf("Accept = %q", got)
	}
	if got := gotHeader.Get("X-GitHub-Api-Version"); got != apiVersion {
		t.Errorf("api version header = %q", got)
	}
	if got := gotHeader.Get("Authorization"); got != "Bearer tok123" {
		t.Errorf("Authorization = %q", got)
	}
	if got := gotHeader.Get("User-Agent"); !strings.HasPrefix(got, "plugman/") {
		t.Errorf("User-Agent = %q", got)
	}
}

func TestLatestReleaseNoTokenNoAuthHeader(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{"tag_name":"v1.0.0"}`))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv, "").LatestRelease(context.Background(), "org/calc"); err != nil {
		t.Fatalf("LatestRelease: %v", err)
	}
	if auth != "" {
		t.Errorf("Authorization should be absent, got %q", auth)
	}
}

func TestLatestReleaseFallsBackToPrereleaseList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/org/calc/releases/latest":
			http.NotFound(w, r)
		case "/repos/org/calc/releases":
			w.Write([]byte(`[
				{"tag_name":"v2.0.0-rc.1","prerelease":true,"published_at":"2024-05-01T00:00:00Z"},
				{"tag_name":"v2.0.0-beta.1","prerelease":true,"published_at":"2024-04-01T00:00:00Z"},
				{"tag_name":"v3.0.0","draft":true,"published_at":"2024-06-01T00:00:00Z"}
			]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	rel, err := newTestClient(srv, "").LatestRelease(context.Background(), "org/calc")
	if err != nil {
		t.Fatalf("LatestRelease: %v", err)
	}
	if rel.TagName != "v2.0.0-rc.1" {
		t.Fatalf("tag = %q, want most recent prerelease (drafts excluded)", rel.TagName)
	}
}

func TestLatestReleaseListPrefersStable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/org/calc/releases/latest":
			http.NotFound(w, r)
		case "/repos/org/calc/releases":
			w.Write([]byte(`[
				{"tag_name":"v2.0.0-rc.1","prerelease":true,"published_at":"2024-05-01T00:00:00Z"},
				{"tag_name":"v1.9.0","published_at":"2024-03-01T00:00:00Z"}
			]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	rel, err := newTestClient(srv, "").LatestRelease(context.Background(), "org/calc")
	if err != nil {
		t.Fatalf("LatestRelease: %v", err)
	}
	if rel.TagName != "v1.9.0" {
		t.Fatalf("tag = %q, want stable release over newer prerelease", rel.TagName)
	}
}

func TestLatestReleaseNothingPublished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/org/empty/releases" {
			w.Write([]byte(`[]`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, "").LatestRelease(context.Background(), "org/empty")
	if !errors.Is(err, ErrReleaseNotFound) {
		t.Fatalf("expected ErrReleaseNotFound, got %v", err)
	}
}

func TestLatestReleaseSurfacesAPIStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, "").LatestRelease(context.Background(), "org/calc")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Fatalf("status = %d", apiErr.Status)
	}
	if !strings.Contains(err.Error(), "FRG_HTTP") {
		t.Fatalf("expected FRG_HTTP in message, got %v", err)
	}
}

func TestReleaseByTagExact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/org/calc/releases/tags/v1.2.3" {
			w.Write([]byte(`{"tag_name":"v1.2.3"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	rel, err := newTestClient(srv, "").ReleaseByTag(context.Background(), "org/calc", "v1.2.3")
	if err != nil {
		t.Fatalf("ReleaseByTag: %v", err)
	}
	if rel.TagName != "v1.2.3" {
		t.Fatalf("tag = %q", rel.TagName)
	}
}

func TestReleaseByTagToleratesLeadingV(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/repos/org/calc/releases/tags/v1.2.3" {
			w.Write([]byte(`{"tag_name":"v1.2.3"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	// Request without the "v"; the tagged release carries one.
	rel, err := newTestClient(srv, "").ReleaseByTag(context.Background(), "org/calc", "1.2.3")
	if err != nil {
		t.Fatalf("ReleaseByTag: %v", err)
	}
	if rel.TagName != "v1.2.3" {
		t.Fatalf("tag = %q", rel.TagName)
	}
	if len(paths) != 2 {
		t.Fatalf("expected exactly one fallback request, got %v", paths)
	}
}

func TestReleaseByTagStripsLeadingV(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/repos/org/calc/releases/tags/2024.1" {
			w.Write([]byte(`{"tag_name":"2024.1"}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	// Request with a "v" the tag does not carry.
	rel, err := newTestClient(srv, "").ReleaseByTag(context.Background(), "org/calc", "v2024.1")
	if err != nil {
		t.Fatalf("ReleaseByTag: %v", err)
	}
	if rel.TagName != "2024.1" {
		t.Fatalf("tag = %q", rel.TagName)
	}
}

func TestReleaseByTagMissingBothForms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(srv, "").ReleaseByTag(context.Background(), "org/calc", "9.9.9")
	if !errors.Is(err, ErrReleaseNotFound) {
		t.Fatalf("expected ErrReleaseNotFound, got %v", err)
	}
}

func TestCompareTags(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"v1.2.0", "v1.10.0", -1},
		{"1.2.0", "v1.2.0", 0},
		{"v2.0.0", "v1.9.9", 1},
		{"2024-01", "2024-02", -1}, // non-semver falls back to string order
	}
	for _, tc := range cases {
		if got := CompareTags(tc.a, tc.b); got != tc.want {
			t.Errorf("CompareTags(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestToggleV(t *testing.T) {
	if got := toggleV("v1.0"); got != "1.0" {
		t.Errorf("toggleV(v1.0) = %q", got)
	}
	if got := toggleV("1.0"); got != "v1.0" {
		t.Errorf("toggleV(1.0) = %q", got)
	}
}
