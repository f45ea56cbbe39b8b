package search

import "context"

// Source lists directories and runs name searches on the file store.
type Source interface {
	Browse(ctx context.Context, path string) (*Listing, error)
	Search(ctx context.Context, query, path string) ([]Item, error)
}

// FileEditor performs reads and mutations on single files.
type FileEditor interface {
	ReadFile(ctx context.Context, path string, maxSize int64) (*FileContent, error)
	// WriteFile writes content; with backup set the previous version is kept
	// and its path returned.
	WriteFile(ctx context.Context, path, content, encoding string, backup bool) (string, error)
	DeleteFile(ctx context.Context, path string) error
	RenameFile(ctx context.Context, oldPath, newPath string) error
	BackupFile(ctx context.Context, sourcePath, backupPath string) error
	FileInfo(ctx context.Context, path string) (*FileInfo, error)
}

// Backend is the full collaborator contract: the HTTP Client and the local
// FSBackend both implement it.
type Backend interface {
	Source
	FileEditor
}

// Contract envelopes shared by Client and Server.

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type browseResponse struct {
	envelope
	Path  string `json:"path,omitempty"`
	Items []Item `json:"items"`
}

type searchResponse struct {
	envelope
	Results []Item `json:"results"`
}

type readFileResponse struct {
	envelope
	FileContent
}

type writeFileRequest struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
	Backup   bool   `json:"backup,omitempty"`
}

type writeFileResponse struct {
	envelope
	BackupPath string `json:"backupPath,omitempty"`
}

type deleteFileRequest struct {
	Path string `json:"path"`
}

type renameFileRequest struct {
	OldPath string `json:"oldPath"`
	NewPath string `json:"newPath"`
}

type backupFileRequest struct {
	SourcePath string `json:"sourcePath"`
	BackupPath string `json:"backupPath"`
}

type fileInfoResponse struct {
	envelope
	Info *FileInfo `json:"info,omitempty"`
}
