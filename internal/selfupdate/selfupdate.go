package selfupdate

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"runtime"
	"strings"

	"plugman/internal/forge"
)

// DefaultRepository hosts plugman's own release assets.
const DefaultRepository = "plugman-dev/plugman"

type Result struct {
	CurrentVersion string `json:"current_version"`
	LatestVersion  string `json:"latest_version"`
	Executable     string `json:"executable,omitempty"`
	Updated        bool   `json:"updated"`
}

type Service struct {
	Forge      *forge.Client
	Repository string
	Version    string

	goos   string
	goarch string
}

func New(client *forge.Client, version string) *Service {
	if client == nil {
		client = forge.NewClient(nil, "")
	}
	return &Service{
		Forge:      client,
		Repository: DefaultRepository,
		Version:    version,
		goos:       runtime.GOOS,
		goarch:     runtime.GOARCH,
	}
}

// Update fetches the latest plugman release and swaps the running
// binary when it is ahead of the current version.
func (s *Service) Update(ctx context.Context) (Result, error) {
	rel, err := s.Forge.LatestRelease(ctx, s.Repository)
	if err != nil {
		return Result{}, err
	}
	res := Result{CurrentVersion: s.Version, LatestVersion: rel.TagName}
	if !s.newer(rel.TagName) {
		return res, nil
	}

	asset, err := matchAsset(rel.Assets, s.goos, s.goarch)
	if err != nil {
		return Result{}, err
	}
	blob, err := s.download(ctx, asset.BrowserDownloadURL)
	if err != nil {
		return Result{}, err
	}
	if sumURL := findChecksums(rel.Assets); sumURL != "" {
		manifest, err := s.download(ctx, sumURL)
		if err != nil {
			return Result{}, err
		}
		if expected := checksumFor(manifest, asset.Name); expected != "" {
			if err := verifyChecksum(blob, expected); err != nil {
				return Result{}, err
			}
		}
	}
	binary, err := extractBinary(asset.Name, blob)
	if err != nil {
		return Result{}, err
	}

	exe := os.Getenv("PLUGMAN_SELF_UPDATE_TARGET")
	if exe == "" {
		exe, err = os.Executable()
		if err != nil {
			return Result{}, fmt.Errorf("UPD_EXEC: %w", err)
		}
	}
	if err := applyBinarySwap(exe, binary); err != nil {
		return Result{}, err
	}
	res.Executable = exe
	res.Updated = true
	return res, nil
}

// newer reports whether tag is ahead of the running version. Dev builds
// always update: there is no version to compare against.
func (s *Service) newer(tag string) bool {
	cur := strings.TrimSpace(s.Version)
	if cur == "" || cur == "dev" {
		return true
	}
	return forge.CompareTags(tag, cur) > 0
}

func matchAsset(assets []forge.Asset, goos, goarch string) (forge.Asset, error) {
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		if strings.EqualFold(a.Name, "checksums.txt") {
			continue
		}
		if strings.Contains(name, goos) && containsArch(name, goarch) {
			return a, nil
		}
	}
	return forge.Asset{}, fmt.Errorf("UPD_ASSET: no release asset for %s/%s", goos, goarch)
}

func containsArch(name, goarch string) bool {
	alts := []string{goarch}
	switch goarch {
	case "amd64":
		alts = []string{"amd64", "x86_64", "x64"}
	case "arm64":
		alts = []string{"arm64", "aarch64"}
	}
	for _, alt := range alts {
		if strings.Contains(name, alt) {
			return true
		}
	}
	return false
}

func (s *Service) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("UPD_DOWNLOAD: %w", err)
	}
	req.Header.Set("User-Agent", forge.UserAgent)
	client := s.Forge.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("UPD_DOWNLOAD: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("UPD_DOWNLOAD: status %d for %s", resp.StatusCode, url)
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("UPD_DOWNLOAD: %w", err)
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("UPD_DOWNLOAD: empty payload")
	}
	return blob, nil
}

func findChecksums(assets []forge.Asset) string {
	for _, a := range assets {
		if strings.EqualFold(a.Name, "checksums.txt") {
			return a.BrowserDownloadURL
		}
	}
	return ""
}

// checksumFor scans "<hex>  <asset name>" lines.
func checksumFor(manifest []byte, assetName string) string {
	for _, line := range strings.Split(string(manifest), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == assetName {
			return fields[0]
		}
	}
	return ""
}

func verifyChecksum(binary []byte, expected string) error {
	expected = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(expected), "sha256:"))
	h := sha256.Sum256(binary)
	actual := hex.EncodeToString(h[:])
	if actual != expected {
		return fmt.Errorf("UPD_CHECKSUM: expected %s got %s", expected, actual)
	}
	return nil
}

// extractBinary unpacks the plugman executable when the asset is a
// zip; raw-binary assets pass through.
func extractBinary(assetName string, blob []byte) ([]byte, error) {
	if !strings.HasSuffix(strings.ToLower(assetName), ".zip") {
		return blob, nil
	}
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return nil, fmt.Errorf("UPD_ARCHIVE: %w", err)
	}
	for _, f := range zr.File {
		base := strings.ToLower(path.Base(f.Name))
		if base != "plugman" && base != "plugman.exe" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("UPD_ARCHIVE: %w", err)
		}
		out, readErr := io.ReadAll(rc)
		rc.Close()
		if readErr != nil {
			return nil, fmt.Errorf("UPD_ARCHIVE: %w", readErr)
		}
		return out, nil
	}
	return nil, fmt.Errorf("UPD_ARCHIVE: no plugman executable in %s", assetName)
}

func applyBinarySwap(executable string, binary []byte) error {
	mode := os.FileMode(0o755)
	if stat, err := os.Stat(executable); err == nil {
		mode = stat.Mode().Perm()
	}
	newPath := executable + ".new"
	backupPath := executable + ".bak"
	if err := os.WriteFile(newPath, binary, mode); err != nil {
		return fmt.Errorf("UPD_WRITE: %w", err)
	}
	if err := os.Rename(executable, backupPath); err != nil {
		_ = os.Remove(newPath)
		return fmt.Errorf("UPD_SWAP: backup failed: %w", err)
	}
	if os.Getenv("PLUGMAN_TEST_FAIL_SELF_UPDATE_SWAP") == "1" {
		_ = os.Rename(backupPath, executable)
		_ = os.Remove(newPath)
		return fmt.Errorf("UPD_SWAP: injected swap failure")
	}
	if err := os.Rename(newPath, executable); err != nil {
		_ = os.Rename(backupPath, executable)
		_ = os.Remove(newPath)
		return fmt.Errorf("UPD_SWAP: apply failed: %w", err)
	}
	_ = os.Remove(backupPath)
	return nil
}
