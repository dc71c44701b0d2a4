package e2e

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"plugman/internal/forge"
)

func repoRoot(t *testing.T) string {
	t.Helper()
	root, err := filepath.Abs(filepath.Join("..", ".."))
	if err != nil {
		t.Fatalf("resolve repo root failed: %v", err)
	}
	return root
}

// buildCLI compiles the plugman binary into home and returns its path
// plus a base environment pointing every state knob below home.
func buildCLI(t *testing.T, home string) (string, []string) {
	t.Helper()
	root := repoRoot(t)
	goModCache := filepath.Join(os.TempDir(), "plugman-gomodcache")
	goCache := filepath.Join(os.TempDir(), "plugman-gocache")
	if err := os.MkdirAll(goModCache, 0o755); err != nil {
		t.Fatalf("create mod cache failed: %v", err)
	}
	if err := os.MkdirAll(goCache, 0o755); err != nil {
		t.Fatalf("create go cache failed: %v", err)
	}

	env := append(os.Environ(),
		"HOME="+home,
		"PLUGMAN_CONFIG="+statePath(home),
		"PLUGMAN_PLUGINS_ROOT="+pluginsRoot(home),
		"GOMODCACHE="+goModCache,
		"GOCACHE="+goCache,
	)
	bin := filepath.Join(home, "bin", "plugman")
	if err := os.MkdirAll(filepath.Dir(bin), 0o755); err != nil {
		t.Fatalf("create bin dir failed: %v", err)
	}
	cmd := exec.Command("go", "build", "-o", bin, "./cmd/plugman")
	cmd.Dir = root
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build cli failed: %v\n%s", err, string(out))
	}
	return bin, env
}

func statePath(home string) string {
	return filepath.Join(home, "plugins", "plugman.toml")
}

func pluginsRoot(home string) string {
	return filepath.Join(home, "plugins")
}

func runCLI(t *testing.T, bin string, env []string, args ...string) string {
	t.Helper()
	cmd := exec.Command(bin, args...)
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("command failed: %s\nargs=%v\noutput=%s", err, args, string(out))
	}
	return string(out)
}

func runCLIExpectFail(t *testing.T, bin string, env []string, args ...string) string {
	t.Helper()
	cmd := exec.Command(bin, args...)
	cmd.Env = env
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected command to fail\nargs=%v\noutput=%s", args, string(out))
	}
	return string(out)
}

func assertContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, out)
	}
}

func assertNotContains(t *testing.T, out, unwanted string) {
	t.Helper()
	if strings.Contains(out, unwanted) {
		t.Fatalf("expected output without %q, got:\n%s", unwanted, out)
	}
}

// forgeServer is a GitHub-style release endpoint the built binary talks
// to via PLUGMAN_API_URL.
type forgeServer struct {
	t   *testing.T
	mux *http.ServeMux
	srv *httptest.Server

	mu   sync.Mutex
	hits int
}

func startForge(t *testing.T) *forgeServer {
	t.Helper()
	f := &forgeServer{t: t, mux: http.NewServeMux()}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.hits++
		f.mu.Unlock()
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *forgeServer) url() string { return f.srv.URL }

func (f *forgeServer) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits
}

// stubRelease registers a release under both the latest and tag
// endpoints. Each asset is a zip holding one plugin.dll, so the
// install works on every runner architecture as long as both x64 and
// arm64 asset names are given.
func (f *forgeServer) stubRelease(repo, tag string, assetNames ...string) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("plugin.dll")
	if err != nil {
		f.t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte("bits-" + tag)); err != nil {
		f.t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		f.t.Fatalf("close zip: %v", err)
	}
	blob := buf.Bytes()

	rel := forge.Release{TagName: tag}
	for _, name := range assetNames {
		dl := "/dl/" + repo + "/" + tag + "/" + name
		f.mux.HandleFunc(dl, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(blob)
		})
		rel.Assets = append(rel.Assets, forge.Asset{Name: name, BrowserDownloadURL: f.srv.URL + dl})
	}
	payload, err := json.Marshal(rel)
	if err != nil {
		f.t.Fatalf("marshal release: %v", err)
	}
	serve := func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}
	f.mux.HandleFunc("/repos/"+repo+"/releases/latest", serve)
	f.mux.HandleFunc("/repos/"+repo+"/releases/tags/"+tag, serve)
}

// fakeHost drops an executable stand-in for the launcher so Locate
// succeeds and restarts run against something harmless.
func fakeHost(t *testing.T, home string) string {
	t.Helper()
	path := filepath.Join(home, "PowerToys.exe")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write fake host: %v", err)
	}
	return path
}

func withEnv(env []string, extra ...string) []string {
	out := make([]string, 0, len(env)+len(extra))
	out = append(out, env...)
	out = append(out, extra...)
	return out
}
