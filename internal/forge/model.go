package forge

import "time"

// Release is the subset of the forge's release payload the resolver needs.
type Release struct {
	TagName     string    `json:"tag_name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	Assets      []Asset   `json:"assets"`
}

// Asset is one downloadable file attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// SelectedAsset is the resolver's answer: which tag to record and which
// file to download.
type SelectedAsset struct {
	Tag         string
	AssetName   string
	DownloadURL string
}

// ManualChoice lists a release's assets when automatic selection found
// zero or several candidates. The interactive prompt lives with the CLI;
// the resolver only reports that a choice is needed.
type ManualChoice struct {
	Tag        string
	Candidates []Asset
}

// Outcome is the resolution result: exactly one of Resolved or Choice is
// set.
type Outcome struct {
	Resolved *SelectedAsset
	Choice   *ManualChoice
}

// SelectFromChoice turns a chosen candidate index into a SelectedAsset.
func SelectFromChoice(choice *ManualChoice, index int) (SelectedAsset, error) {
	if choice == nil || index < 0 || index >= len(choice.Candidates) {
		return SelectedAsset{}, ErrAssetNotFound
	}
	a := choice.Candidates[index]
	return SelectedAsset{Tag: choice.Tag, AssetName: a.Name, DownloadURL: a.BrowserDownloadURL}, nil
}
