package forge

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"strings"
)

// Resolve picks the release for a repository (latest stable when
// requestedVersion is empty, the exact tag otherwise) and selects exactly
// one downloadable asset from it. Selection uses the configured pattern
// when present, the CPU-architecture heuristic otherwise; when the
// heuristic cannot settle on a single asset the outcome asks for a manual
// choice instead of guessing.
func (c *Client) Resolve(ctx context.Context, repo, requestedVersion, pattern string) (Outcome, error) {
	var rel Release
	var err error
	if strings.TrimSpace(requestedVersion) == "" {
		rel, err = c.LatestRelease(ctx, repo)
	} else {
		rel, err = c.ReleaseByTag(ctx, repo, strings.TrimSpace(requestedVersion))
	}
	if err != nil {
		return Outcome{}, err
	}
	return selectAsset(rel, pattern, c.Arch)
}

func selectAsset(rel Release, pattern, arch string) (Outcome, error) {
	if strings.TrimSpace(pattern) != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return Outcome{}, fmt.Errorf("FRG_PATTERN: %w", err)
		}
		var matches []Asset
		for _, a := range rel.Assets {
			if re.MatchString(a.Name) {
				matches = append(matches, a)
			}
		}
		switch len(matches) {
		case 0:
			return Outcome{}, fmt.Errorf("%w: pattern %q in release %s", ErrAssetNotFound, pattern, rel.TagName)
		case 1:
			return resolvedOutcome(rel.TagName, matches[0]), nil
		default:
			names := make([]string, len(matches))
			for i, a := range matches {
				names[i] = a.Name
			}
			return Outcome{}, &AmbiguousAssetError{Pattern: pattern, Matches: names}
		}
	}

	if len(rel.Assets) == 0 {
		return Outcome{}, fmt.Errorf("%w: release %s has no assets", ErrAssetNotFound, rel.TagName)
	}
	var matches []Asset
	if arch != "" {
		for _, a := range rel.Assets {
			name := strings.ToLower(a.Name)
			if strings.Contains(name, arch) && strings.HasSuffix(name, ".zip") {
				matches = append(matches, a)
			}
		}
	}
	if len(matches) == 1 {
		return resolvedOutcome(rel.TagName, matches[0]), nil
	}
	// Zero or several candidates: hand the full asset list to the caller.
	return Outcome{Choice: &ManualChoice{Tag: rel.TagName, Candidates: rel.Assets}}, nil
}

func resolvedOutcome(tag string, a Asset) Outcome {
	return Outcome{Resolved: &SelectedAsset{Tag: tag, AssetName: a.Name, DownloadURL: a.BrowserDownloadURL}}
}

// hostArch maps the build architecture to the token conventionally found
// in release asset filenames. Case-insensitive matching covers the ARM64
// spelling.
func hostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x64"
	case "arm64":
		return "arm64"
	default:
		return ""
	}
}
