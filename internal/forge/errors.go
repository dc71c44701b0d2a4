package forge

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrReleaseNotFound reports that no release matches the request:
	// the tag does not exist, or the repository has no usable release.
	ErrReleaseNotFound = errors.New("FRG_RELEASE_NOT_FOUND: no matching release")
	// ErrAssetNotFound reports that the release has no asset satisfying
	// the pattern or architecture match.
	ErrAssetNotFound = errors.New("FRG_ASSET_NOT_FOUND: no matching asset")
)

// APIError reports a non-success response from the forge API. Requests are
// never retried automatically; callers see the status and decide.
type APIError struct {
	Status int
	URL    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("FRG_HTTP: status %d for %s", e.Status, e.URL)
}

// AmbiguousAssetError reports a pattern matching more than one asset.
type AmbiguousAssetError struct {
	Pattern string
	Matches []string
}

func (e *AmbiguousAssetError) Error() string {
	return fmt.Sprintf("FRG_ASSET_AMBIGUOUS: pattern %q matches %s", e.Pattern, strings.Join(e.Matches, ", "))
}
