package search

import "time"

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// IndexedFile is one record of the keyword index. Records are never patched
// in place; a changed file is removed and added again under a new ID.
type IndexedFile struct {
	ID       int       `json:"id"`
	Path     string    `json:"path"` // CleanPath form, case preserved
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Type     FileType  `json:"type"`
	// ContentTokens holds the snippet tokens the keywords were derived from.
	// Kept so RemoveFile regenerates the identical keyword set; not for display.
	ContentTokens []string `json:"contentTokens,omitempty"`
}

// FileMetadata is the input to KeywordIndex.AddFile.
type FileMetadata struct {
	Name     string
	Size     int64
	Modified time.Time
	Type     FileType // classified from Name when empty
	Snippet  string
}

// Item is a single directory entry as exchanged with the backend.
type Item struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Type     string    `json:"type"` // "file"|"folder"
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	FileType string    `json:"fileType,omitempty"`
}

const (
	ItemFile   = "file"
	ItemFolder = "folder"
)

// IsDir reports whether the item is a folder.
func (it Item) IsDir() bool {
	return it.Type == ItemFolder
}

// Listing is the raw result of a directory browse.
type Listing struct {
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
	Items   []Item `json:"items"`
}

// FileContent is the result of a file read.
type FileContent struct {
	Content  string `json:"content"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
}

// FileInfo describes a single file or folder.
type FileInfo struct {
	Path        string    `json:"path"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
	IsDirectory bool      `json:"isDirectory"`
	FileType    string    `json:"fileType,omitempty"`
}

// SearchOptions narrows a search. Zero values mean "no constraint".
type SearchOptions struct {
	Directory      string    `json:"directory,omitempty"`
	FileTypes      []string  `json:"fileTypes,omitempty"` // extensions, with or without dot
	MinSize        int64     `json:"minSize,omitempty"`
	MaxSize        int64     `json:"maxSize,omitempty"`
	ModifiedAfter  time.Time `json:"modifiedAfter,omitempty"`
	ModifiedBefore time.Time `json:"modifiedBefore,omitempty"`
	Limit          int       `json:"limit,omitempty"`
	ForceRemote    bool      `json:"forceRemote,omitempty"`
}

// Provenance tells where a search result set came from.
type Provenance string

const (
	ProvenanceIndexed Provenance = "indexed"
	ProvenanceRemote  Provenance = "remote"
	ProvenanceCached  Provenance = "cached"
)

// SearchResponse is what SearchOrchestrator.SearchFiles returns.
type SearchResponse struct {
	Query      string        `json:"query"`
	Results    []IndexedFile `json:"results"`
	Total      int           `json:"total"`
	Provenance Provenance    `json:"provenance"`
	Indexed    bool          `json:"indexed"`
	Cached     bool          `json:"cached"`
	Elapsed    time.Duration `json:"elapsed"`
}

// PrefetchResult is the per-path outcome of a best-effort prefetch.
type PrefetchResult struct {
	Path  string
	Items int
	Err   error
}

// OK reports whether the prefetch of this path succeeded.
func (r PrefetchResult) OK() bool {
	return r.Err == nil
}
