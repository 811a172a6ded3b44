// Package stremio holds the JSON shapes of the Stremio addon protocol this
// server speaks: the manifest it serves at /manifest.json and the stream
// objects it returns from the stream resource. Only the parts of the
// protocol this addon actually uses are modeled.
package stremio

// Manifest describes the capabilities of the addon.
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	ResourceItems []ResourceItem `json:"resources,omitempty"`

	Types    []string      `json:"types"`
	Catalogs []CatalogItem `json:"catalogs"`

	// Optional
	IDprefixes    []string      `json:"idPrefixes,omitempty"`
	Background    string        `json:"background,omitempty"` // URL
	Logo          string        `json:"logo,omitempty"`       // URL
	ContactEmail  string        `json:"contactEmail,omitempty"`
	BehaviorHints BehaviorHints `json:"behaviorHints,omitempty"`
}

// ResourceItem names one resource the addon serves (this addon: "stream")
// and the media types and id prefixes it serves it for.
type ResourceItem struct {
	Name  string   `json:"name"`
	Types []string `json:"types"`

	// Optional
	IDprefixes []string `json:"idPrefixes,omitempty"`
}

type BehaviorHints struct {
	// Note: Must include `omitempty`, otherwise it will be included if this struct is used in another one, even if the field of the containing struct is marked as `omitempty`
	Adult bool `json:"adult,omitempty"`
}

// CatalogItem represents an item in the catalog. This addon serves no
// catalogs, but the manifest field is mandatory, so the type exists to
// serialize the empty list.
type CatalogItem struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StreamItem is one entry of a stream resource response. Either URL or
// InfoHash(+FileIndex) is set, never both: URL points at this server's own
// playback endpoint, InfoHash hands the raw torrent to the client for
// direct torrenting.
type StreamItem struct {
	URL      string `json:"url,omitempty"` // URL
	InfoHash string `json:"infoHash,omitempty"`

	// Optional
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	FileIndex   uint8  `json:"fileIdx,omitempty"` // Only when using InfoHash

	BehaviorHints *StreamBehaviorHints `json:"behaviorHints,omitempty"`
}

// StreamBehaviorHints carries the playback-grouping hints Stremio uses to
// dedupe/bundle streams for the same release across catalog refreshes.
type StreamBehaviorHints struct {
	BingeGroup string `json:"bingeGroup,omitempty"`
	Filename   string `json:"filename,omitempty"`
}
