package archive

import (
	"archive/zip"
	"fmt"
	"path"
	"strings"
)

// normalizeSlashes rewrites archive entry separators to forward slashes.
// Zip files produced on Windows regularly carry backslash paths.
func normalizeSlashes(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}

// entryPath validates one archive entry name and returns its path relative
// to the extraction root, with the shared top-level segment stripped.
// Absolute paths (either slash style, or drive-lettered) and any path
// escaping the root are rejected; skip is true for entries that produce
// nothing, like the stripped top directory itself.
func entryPath(name, strip string) (rel string, skip bool, err error) {
	norm := normalizeSlashes(name)
	if strings.HasPrefix(norm, "/") || isDrivePath(norm) {
		return "", false, fmt.Errorf("ARC_UNSAFE_PATH: absolute entry %q", name)
	}
	clean := path.Clean(norm)
	if clean == "." || clean == "" {
		return "", true, nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", false, fmt.Errorf("ARC_UNSAFE_PATH: entry %q escapes the target directory", name)
	}
	if strip != "" {
		if clean == strip {
			return "", true, nil
		}
		if strings.HasPrefix(clean, strip+"/") {
			clean = clean[len(strip)+1:]
		}
	}
	if clean == "" {
		return "", true, nil
	}
	return clean, false, nil
}

func isDrivePath(name string) bool {
	if len(name) < 2 || name[1] != ':' {
		return false
	}
	c := name[0]
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// commonTopDir returns the single first path segment shared by every
// entry, or "" when the archive is flat or mixed at its top level. The
// shared directory's own name is untrusted packaging noise and gets
// stripped so the install lands directly under the plugin directory.
func commonTopDir(files []*zip.File) string {
	top := ""
	for _, f := range files {
		clean := path.Clean(normalizeSlashes(f.Name))
		if clean == "." || clean == "" {
			continue
		}
		i := strings.Index(clean, "/")
		if i < 0 {
			if f.FileInfo().IsDir() {
				// A lone top-level directory entry still counts.
				i = len(clean)
			} else {
				return ""
			}
		}
		first := clean[:i]
		if top == "" {
			top = first
			continue
		}
		if top != first {
			return ""
		}
	}
	return top
}
