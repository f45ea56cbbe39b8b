package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ClientConfig holds HTTP client configuration.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to a remote backend over the HTTP contract.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ Backend = (*Client)(nil)

// NewClient creates a backend client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// status is implemented by every response type through the embedded envelope.
type status interface {
	result() envelope
}

func (e envelope) result() envelope { return e }

// do sends one request and decodes the JSON answer into out. Transport
// errors, undecodable bodies and success=false all become ErrRemoteFailure.
// path only labels errors and logs.
func (c *Client) do(ctx context.Context, op, path, method, route string, query url.Values, body any, out status) error {
	l := sub("client")
	target := c.baseURL + route
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		l.Warn("request failed", "op", op, "url", target, "err", err)
		return remoteError(op, path, "", err)
	}
	defer resp.Body.Close()

	if logEnabled(slog.LevelDebug) {
		l.Debug("response", "op", op, "status", resp.StatusCode, "elapsed", time.Since(start))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return remoteError(op, path, fmt.Sprintf("server returned %d", resp.StatusCode), nil)
		}
		return remoteError(op, path, "invalid response body", err)
	}
	if env := out.result(); !env.Success {
		msg := env.Message
		if msg == "" && resp.StatusCode != http.StatusOK {
			msg = fmt.Sprintf("server returned %d", resp.StatusCode)
		}
		return remoteError(op, path, msg, nil)
	}
	return nil
}

// Browse lists a directory.
func (c *Client) Browse(ctx context.Context, path string) (*Listing, error) {
	var out browseResponse
	if err := c.do(ctx, "browse", path, http.MethodGet, "/browse", url.Values{"path": {path}}, nil, &out); err != nil {
		return nil, err
	}
	return &Listing{Success: true, Path: path, Items: out.Items}, nil
}

// Search runs a name search below path.
func (c *Client) Search(ctx context.Context, query, path string) ([]Item, error) {
	q := url.Values{"query": {query}}
	if path != "" {
		q.Set("path", path)
	}
	var out searchResponse
	if err := c.do(ctx, "search", path, http.MethodGet, "/search", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// ReadFile fetches file content. maxSize <= 0 leaves the limit to the server.
func (c *Client) ReadFile(ctx context.Context, path string, maxSize int64) (*FileContent, error) {
	q := url.Values{"path": {path}}
	if maxSize > 0 {
		q.Set("maxSize", strconv.FormatInt(maxSize, 10))
	}
	var out readFileResponse
	if err := c.do(ctx, "read-file", path, http.MethodGet, "/read-file", q, nil, &out); err != nil {
		return nil, err
	}
	return &out.FileContent, nil
}

// WriteFile writes content to path and returns the backup path, if any.
func (c *Client) WriteFile(ctx context.Context, path, content, encoding string, backup bool) (string, error) {
	req := writeFileRequest{Path: path, Content: content, Encoding: encoding, Backup: backup}
	var out writeFileResponse
	if err := c.do(ctx, "write-file", path, http.MethodPost, "/write-file", nil, req, &out); err != nil {
		return "", err
	}
	return out.BackupPath, nil
}

// DeleteFile removes a file.
func (c *Client) DeleteFile(ctx context.Context, path string) error {
	var out envelope
	return c.do(ctx, "delete-file", path, http.MethodDelete, "/delete-file", nil, deleteFileRequest{Path: path}, &out)
}

// RenameFile moves oldPath to newPath.
func (c *Client) RenameFile(ctx context.Context, oldPath, newPath string) error {
	var out envelope
	return c.do(ctx, "rename-file", oldPath, http.MethodPost, "/rename-file", nil,
		renameFileRequest{OldPath: oldPath, NewPath: newPath}, &out)
}

// BackupFile copies sourcePath to backupPath.
func (c *Client) BackupFile(ctx context.Context, sourcePath, backupPath string) error {
	var out envelope
	return c.do(ctx, "backup-file", sourcePath, http.MethodPost, "/backup-file", nil,
		backupFileRequest{SourcePath: sourcePath, BackupPath: backupPath}, &out)
}

// FileInfo returns metadata for a single path.
func (c *Client) FileInfo(ctx context.Context, path string) (*FileInfo, error) {
	var out fileInfoResponse
	if err := c.do(ctx, "file-info", path, http.MethodGet, "/file-info", url.Values{"path": {path}}, nil, &out); err != nil {
		return nil, err
	}
	if out.Info == nil {
		return nil, newError("file-info", path, ErrNotFound, "no info returned")
	}
	return out.Info, nil
}
