package search

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tomasen/realip"
)

// Server exposes a Backend over the HTTP contract the Client speaks.
type Server struct {
	backend Backend
	guard   *DirectoryAccessGuard
}

// NewServer creates contract handlers for backend. When guard is non-nil,
// every path is checked before it reaches the backend.
func NewServer(backend Backend, guard *DirectoryAccessGuard) *Server {
	return &Server{backend: backend, guard: guard}
}

// Router returns the mux with every contract route registered.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(logRequests)
	r.HandleFunc("/browse", s.HandleBrowse).Methods(http.MethodGet)
	r.HandleFunc("/search", s.HandleSearch).Methods(http.MethodGet)
	r.HandleFunc("/read-file", s.HandleReadFile).Methods(http.MethodGet)
	r.HandleFunc("/write-file", s.HandleWriteFile).Methods(http.MethodPost)
	r.HandleFunc("/delete-file", s.HandleDeleteFile).Methods(http.MethodDelete)
	r.HandleFunc("/rename-file", s.HandleRenameFile).Methods(http.MethodPost)
	r.HandleFunc("/backup-file", s.HandleBackupFile).Methods(http.MethodPost)
	r.HandleFunc("/file-info", s.HandleFileInfo).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, envelope{Success: true})
	}).Methods(http.MethodGet)
	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		sub("server").Info("HTTP", "method", r.Method, "route", r.URL.Path,
			"path", r.URL.Query().Get("path"), "remote", realip.FromRequest(r), "elapsed", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// writeError maps the error taxonomy to a status code; the body always
// carries success=false and the message.
func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
	case IsDenied(err):
		code = http.StatusForbidden
	}
	if code == http.StatusInternalServerError {
		sub("server").Error("request failed", "err", err)
	} else {
		sub("server").Warn("request rejected", "status", code, "err", err)
	}
	writeJSON(w, code, envelope{Success: false, Message: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: msg})
}

func (s *Server) checkDir(path string) error {
	if s.guard == nil {
		return nil
	}
	return s.guard.CheckDirectoryAccess(path)
}

func (s *Server) checkEdit(path string) error {
	if s.guard == nil {
		return nil
	}
	return s.guard.CheckFileEditAccess(path)
}

// HandleBrowse handles GET /browse?path=<p>
func (s *Server) HandleBrowse(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		badRequest(w, "missing path parameter")
		return
	}
	if err := s.checkDir(path); err != nil {
		writeError(w, err)
		return
	}
	listing, err := s.backend.Browse(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, browseResponse{envelope: envelope{Success: true}, Path: listing.Path, Items: listing.Items})
}

// HandleSearch handles GET /search?query=<q>&path=<p>
func (s *Server) HandleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	path := r.URL.Query().Get("path")
	if query == "" || path == "" {
		badRequest(w, "missing query or path parameter")
		return
	}
	if err := s.checkDir(path); err != nil {
		writeError(w, err)
		return
	}
	results, err := s.backend.Search(r.Context(), query, path)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.guard != nil {
		kept := results[:0]
		for _, it := range results {
			if s.guard.Allowed(it.Path) {
				kept = append(kept, it)
			}
		}
		results = kept
	}
	writeJSON(w, http.StatusOK, searchResponse{envelope: envelope{Success: true}, Results: results})
}

// HandleReadFile handles GET /read-file?path=<p>&maxSize=<n>
func (s *Server) HandleReadFile(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		badRequest(w, "missing path parameter")
		return
	}
	var maxSize int64
	if ms := r.URL.Query().Get("maxSize"); ms != "" {
		n, err := strconv.ParseInt(ms, 10, 64)
		if err != nil {
			badRequest(w, "invalid maxSize")
			return
		}
		maxSize = n
	}
	if err := s.checkDir(ParentDir(path)); err != nil {
		writeError(w, err)
		return
	}
	content, err := s.backend.ReadFile(r.Context(), path, maxSize)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readFileResponse{envelope: envelope{Success: true}, FileContent: *content})
}

// HandleWriteFile handles POST /write-file
func (s *Server) HandleWriteFile(w http.ResponseWriter, r *http.Request) {
	var req writeFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		badRequest(w, "invalid request body")
		return
	}
	if err := s.checkEdit(req.Path); err != nil {
		writeError(w, err)
		return
	}
	backupPath, err := s.backend.WriteFile(r.Context(), req.Path, req.Content, req.Encoding, req.Backup)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, writeFileResponse{envelope: envelope{Success: true}, BackupPath: backupPath})
}

// HandleDeleteFile handles DELETE /delete-file
func (s *Server) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	var req deleteFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		badRequest(w, "invalid request body")
		return
	}
	if err := s.checkDir(ParentDir(req.Path)); err != nil {
		writeError(w, err)
		return
	}
	if err := s.backend.DeleteFile(r.Context(), req.Path); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

// HandleRenameFile handles POST /rename-file
func (s *Server) HandleRenameFile(w http.ResponseWriter, r *http.Request) {
	var req renameFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OldPath == "" || req.NewPath == "" {
		badRequest(w, "invalid request body")
		return
	}
	if err := s.checkDir(ParentDir(req.OldPath)); err != nil {
		writeError(w, err)
		return
	}
	if err := s.checkEdit(req.NewPath); err != nil {
		writeError(w, err)
		return
	}
	if err := s.backend.RenameFile(r.Context(), req.OldPath, req.NewPath); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

// HandleBackupFile handles POST /backup-file
func (s *Server) HandleBackupFile(w http.ResponseWriter, r *http.Request) {
	var req backupFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourcePath == "" || req.BackupPath == "" {
		badRequest(w, "invalid request body")
		return
	}
	if err := s.checkDir(ParentDir(req.SourcePath)); err != nil {
		writeError(w, err)
		return
	}
	if err := s.checkDir(ParentDir(req.BackupPath)); err != nil {
		writeError(w, err)
		return
	}
	if err := s.backend.BackupFile(r.Context(), req.SourcePath, req.BackupPath); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

// HandleFileInfo handles GET /file-info?path=<p>
func (s *Server) HandleFileInfo(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		badRequest(w, "missing path parameter")
		return
	}
	if err := s.checkDir(ParentDir(path)); err != nil {
		writeError(w, err)
		return
	}
	info, err := s.backend.FileInfo(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fileInfoResponse{envelope: envelope{Success: true}, Info: info})
}
