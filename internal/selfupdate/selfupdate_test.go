package selfupdate

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"plugman/internal/forge"
)

func zipWithBinary(t *testing.T, entryName string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(entryName)
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if _, err := w.Write(content); err != nil {
		t.Fatalf("write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func newReleaseService(t *testing.T, tag string, version string, register func(mux *http.ServeMux, baseURL string) []forge.Asset) *Service {
	t.Helper()
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	assets := register(mux, srv.URL)
	mux.HandleFunc("/repos/plugman-dev/plugman/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(forge.Release{TagName: tag, Assets: assets})
	})

	fc := forge.NewClient(srv.Client(), "")
	fc.BaseURL = srv.URL
	svc := New(fc, version)
	svc.goos = "linux"
	svc.goarch = "amd64"
	return svc
}

func TestUpdateAppliesLatestRelease(t *testing.T) {
	oldBin := []byte("old-binary")
	newBin := []byte("new-binary")
	target := filepath.Join(t.TempDir(), "plugman")
	if err := os.WriteFile(target, oldBin, 0o755); err != nil {
		t.Fatalf("write target failed: %v", err)
	}
	t.Setenv("PLUGMAN_SELF_UPDATE_TARGET", target)

	archive := zipWithBinary(t, "plugman", newBin)
	h := sha256.Sum256(archive)
	sums := hex.EncodeToString(h[:]) + "  plugman_linux_amd64.zip\n"

	svc := newReleaseService(t, "v1.2.0", "v1.0.0", func(mux *http.ServeMux, baseURL string) []forge.Asset {
		mux.HandleFunc("/dl/plugman_linux_amd64.zip", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(archive)
		})
		mux.HandleFunc("/dl/checksums.txt", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(sums))
		})
		return []forge.Asset{
			{Name: "plugman_linux_amd64.zip", BrowserDownloadURL: baseURL + "/dl/plugman_linux_amd64.zip"},
			{Name: "checksums.txt", BrowserDownloadURL: baseURL + "/dl/checksums.txt"},
		}
	})

	res, err := svc.Update(context.Background())
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !res.Updated || res.LatestVersion != "v1.2.0" {
		t.Fatalf("unexpected result: %+v", res)
	}
	updated, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read updated binary failed: %v", err)
	}
	if string(updated) != string(newBin) {
		t.Fatalf("binary not updated")
	}
	for _, leftover := range []string{target + ".new", target + ".bak"} {
		if _, err := os.Stat(leftover); !os.IsNotExist(err) {
			t.Fatalf("leftover %s after swap", leftover)
		}
	}
}

func TestUpdateAlreadyCurrent(t *testing.T) {
	downloads := 0
	svc := newReleaseService(t, "v1.2.0", "v1.2.0", func(mux *http.ServeMux, baseURL string) []forge.Asset {
		mux.HandleFunc("/dl/", func(w http.ResponseWriter, r *http.Request) {
			downloads++
		})
		return []forge.Asset{{Name: "plugman_linux_amd64.zip", BrowserDownloadURL: baseURL + "/dl/a.zip"}}
	})

	res, err := svc.Update(context.Background())
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if res.Updated {
		t.Fatalf("expected no update at the current version: %+v", res)
	}
	if downloads != 0 {
		t.Fatalf("expected no downloads, got %d", downloads)
	}
}

func TestUpdateChecksumMismatchFails(t *testing.T) {
	oldBin := []byte("old-binary")
	target := filepath.Join(t.TempDir(), "plugman")
	if err := os.WriteFile(target, oldBin, 0o755); err != nil {
		t.Fatalf("write target failed: %v", err)
	}
	t.Setenv("PLUGMAN_SELF_UPDATE_TARGET", target)

	archive := zipWithBinary(t, "plugman", []byte("new-binary"))
	svc := newReleaseService(t, "v1.2.0", "v1.0.0", func(mux *http.ServeMux, baseURL string) []forge.Asset {
		mux.HandleFunc("/dl/plugman_linux_amd64.zip", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(archive)
		})
		mux.HandleFunc("/dl/checksums.txt", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("deadbeef  plugman_linux_amd64.zip\n"))
		})
		return []forge.Asset{
			{Name: "plugman_linux_amd64.zip", BrowserDownloadURL: baseURL + "/dl/plugman_linux_amd64.zip"},
			{Name: "checksums.txt", BrowserDownloadURL: baseURL + "/dl/checksums.txt"},
		}
	})

	_, err := svc.Update(context.Background())
	if err == nil || !strings.Contains(err.Error(), "UPD_CHECKSUM") {
		t.Fatalf("err = %v, want UPD_CHECKSUM", err)
	}
	if blob, _ := os.ReadFile(target); string(blob) != string(oldBin) {
		t.Fatalf("target must stay untouched on checksum mismatch")
	}
}

func TestUpdateRollbackOnInjectedSwapFailure(t *testing.T) {
	oldBin := []byte("old-binary")
	target := filepath.Join(t.TempDir(), "plugman")
	if err := os.WriteFile(target, oldBin, 0o755); err != nil {
		t.Fatalf("write target failed: %v", err)
	}
	t.Setenv("PLUGMAN_SELF_UPDATE_TARGET", target)
	t.Setenv("PLUGMAN_TEST_FAIL_SELF_UPDATE_SWAP", "1")

	archive := zipWithBinary(t, "plugman", []byte("new-binary"))
	svc := newReleaseService(t, "v1.2.0", "v1.0.0", func(mux *http.ServeMux, baseURL string) []forge.Asset {
		mux.HandleFunc("/dl/plugman_linux_amd64.zip", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write(archive)
		})
		return []forge.Asset{{Name: "plugman_linux_amd64.zip", BrowserDownloadURL: baseURL + "/dl/plugman_linux_amd64.zip"}}
	})

	if _, err := svc.Update(context.Background()); err == nil {
		t.Fatalf("expected injected swap failure")
	}
	blob, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read target failed: %v", err)
	}
	if string(blob) != string(oldBin) {
		t.Fatalf("expected rollback to preserve previous binary")
	}
}

func TestUpdateNoMatchingAsset(t *testing.T) {
	svc := newReleaseService(t, "v1.2.0", "v1.0.0", func(mux *http.ServeMux, baseURL string) []forge.Asset {
		return []forge.Asset{{Name: "plugman_darwin_arm64.zip", BrowserDownloadURL: baseURL + "/dl/a.zip"}}
	})
	_, err := svc.Update(context.Background())
	if err == nil || !strings.Contains(err.Error(), "UPD_ASSET") {
		t.Fatalf("err = %v, want UPD_ASSET", err)
	}
}

func TestMatchAssetArchAliases(t *testing.T) {
	cases := []struct {
		asset  string
		goarch string
	}{
		{"plugman_linux_amd64.tar.gz", "amd64"},
		{"plugman-linux-x86_64.zip", "amd64"},
		{"plugman-linux-x64.zip", "amd64"},
		{"plugman_linux_aarch64.zip", "arm64"},
	}
	for _, tc := range cases {
		got, err := matchAsset([]forge.Asset{{Name: tc.asset}}, "linux", tc.goarch)
		if err != nil {
			t.Errorf("matchAsset(%q, %q): %v", tc.asset, tc.goarch, err)
			continue
		}
		if got.Name != tc.asset {
			t.Errorf("matchAsset(%q) = %q", tc.asset, got.Name)
		}
	}
}

func TestExtractBinary(t *testing.T) {
	raw := []byte("raw-binary")
	got, err := extractBinary("plugman_linux_amd64", raw)
	if err != nil || string(got) != string(raw) {
		t.Fatalf("raw pass-through failed: %q, %v", got, err)
	}

	archive := zipWithBinary(t, "dist/plugman.exe", []byte("windows-binary"))
	got, err = extractBinary("plugman_windows_amd64.zip", archive)
	if err != nil || string(got) != "windows-binary" {
		t.Fatalf("zip extract failed: %q, %v", got, err)
	}

	empty := zipWithBinary(t, "README.md", []byte("docs"))
	if _, err := extractBinary("plugman.zip", empty); err == nil || !strings.Contains(err.Error(), "UPD_ARCHIVE") {
		t.Fatalf("err = %v, want UPD_ARCHIVE", err)
	}
}

func TestNewer(t *testing.T) {
	cases := []struct {
		version string
		tag     string
		want    bool
	}{
		{"dev", "v0.0.1", true},
		{"", "v0.0.1", true},
		{"v1.0.0", "v1.2.0", true},
		{"v1.2.0", "v1.2.0", false},
		{"v2.0.0", "v1.2.0", false},
		{"1.0.0", "v1.1.0", true},
	}
	for _, tc := range cases {
		s := &Service{Version: tc.version}
		if got := s.newer(tc.tag); got != tc.want {
			t.Errorf("newer(%q) with version %q = %v, want %v", tc.tag, tc.version, got, tc.want)
		}
	}
}
