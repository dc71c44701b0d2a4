package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"plugman/internal/forge"
	"plugman/internal/fsutil"
)

// Extraction refuses archives that expand beyond this many bytes. Launcher
// plugins are small; anything near the cap is a hostile or broken archive.
const maxExtractBytes int64 = 4 << 30

// Installer downloads release assets and installs them under Root, one
// directory per plugin name.
type Installer struct {
	Root   string
	Client *http.Client
}

func New(root string, client *http.Client) *Installer {
	if client == nil {
		client = http.DefaultClient
	}
	return &Installer{Root: root, Client: client}
}

// Install streams the asset to a temp file, extracts it into a staging
// sibling with the layout normalized to the plugin's own directory name,
// and swaps the staging dir into place. A failure at any point leaves the
// previous install untouched.
func (s *Installer) Install(ctx context.Context, name string, asset forge.SelectedAsset) error {
	if err := os.MkdirAll(s.Root, 0o755); err != nil {
		return fmt.Errorf("ARC_LAYOUT: %w", err)
	}
	tmp, err := s.download(ctx, asset.DownloadURL)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	stage := filepath.Join(s.Root, fmt.Sprintf(".stage-%s-%d", name, time.Now().UnixNano()))
	if err := extract(tmp, stage); err != nil {
		_ = fsutil.RemoveAllRetry(stage)
		return err
	}
	if err := swap(stage, filepath.Join(s.Root, name)); err != nil {
		_ = fsutil.RemoveAllRetry(stage)
		return err
	}
	return nil
}

// Remove deletes the plugin's install directory. An absent directory is
// not an error; the host may hold handles briefly, so removal retries.
func (s *Installer) Remove(name string) error {
	if err := fsutil.RemoveAllRetry(filepath.Join(s.Root, name)); err != nil {
		return fmt.Errorf("ARC_REMOVE: %w", err)
	}
	return nil
}

func (s *Installer) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("ARC_DOWNLOAD: %w", err)
	}
	req.Header.Set("User-Agent", forge.UserAgent)
	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ARC_DOWNLOAD: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ARC_DOWNLOAD: status %d for %s", resp.StatusCode, url)
	}

	f, err := os.CreateTemp(s.Root, ".download-*.zip")
	if err != nil {
		return "", fmt.Errorf("ARC_DOWNLOAD: %w", err)
	}
	written, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("ARC_DOWNLOAD: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("ARC_DOWNLOAD: %w", closeErr)
	}
	if resp.ContentLength >= 0 && written != resp.ContentLength {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("ARC_DOWNLOAD: truncated body, %d of %d bytes", written, resp.ContentLength)
	}
	return f.Name(), nil
}

func extract(zipPath, stage string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("ARC_EXTRACT: %w", err)
	}
	defer zr.Close()

	var total int64
	for _, f := range zr.File {
		total += int64(f.UncompressedSize64)
		if total > maxExtractBytes || total < 0 {
			return fmt.Errorf("ARC_ENTRY_SIZE: archive expands past %d bytes", maxExtractBytes)
		}
	}

	// Every entry must pass the path guard before anything is written.
	strip := commonTopDir(zr.File)
	for _, f := range zr.File {
		if _, _, err := entryPath(f.Name, strip); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(stage, 0o755); err != nil {
		return fmt.Errorf("ARC_EXTRACT: %w", err)
	}
	for _, f := range zr.File {
		rel, skip, err := entryPath(f.Name, strip)
		if err != nil {
			return err
		}
		if skip {
			continue
		}
		target := filepath.Join(stage, filepath.FromSlash(rel))
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("ARC_EXTRACT: %w", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("ARC_EXTRACT: %w", err)
		}
		if err := writeEntry(f, target); err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("ARC_EXTRACT: %w", err)
	}
	defer rc.Close()

	mode := os.FileMode(0o644)
	if f.Mode()&0o111 != 0 {
		mode = 0o755
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("ARC_EXTRACT: %w", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return fmt.Errorf("ARC_EXTRACT: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("ARC_EXTRACT: %w", err)
	}
	return nil
}

// swap retires any existing install to an .old sibling before renaming
// the staging dir into place; the old tree is dropped last. A failed
// swap restores the old install.
func swap(stage, final string) error {
	backup := ""
	if _, err := os.Lstat(final); err == nil {
		backup = fmt.Sprintf("%s.old-%d", final, time.Now().UnixNano())
		if err := fsutil.RenameRetry(final, backup); err != nil {
			return fmt.Errorf("ARC_SWAP: %w", err)
		}
	}
	if err := fsutil.RenameRetry(stage, final); err != nil {
		if backup != "" {
			_ = os.Rename(backup, final)
		}
		return fmt.Errorf("ARC_SWAP: %w", err)
	}
	if backup != "" {
		_ = fsutil.RemoveAllRetry(backup)
	}
	return nil
}
