// Package client talks to a listing server: the persistent listing socket and
// the plain request/response file actions.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/sdbrowser/internal/logging"
	"github.com/fruitsalade/sdbrowser/internal/metrics"
	"github.com/fruitsalade/sdbrowser/pkg/protocol"
	"github.com/fruitsalade/sdbrowser/pkg/tree"
)

// ErrInvalidName is returned for paths the server would reject.
var ErrInvalidName = errors.New("invalid file name")

// ActionError is returned when the server answers a file action with a
// non-success status.
type ActionError struct {
	Action  string
	Path    string
	Status  int
	Message string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Action, e.Path, e.Status, e.Message)
}

// AsActionError checks if an error is an ActionError and returns it.
func AsActionError(err error) (*ActionError, bool) {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// ProgressFunc reports upload progress.
type ProgressFunc func(sent, total int64)

// Config holds file client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// FileClient issues file actions. Calls are not retried; a failed action is
// reported to the caller and nothing is queued.
type FileClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewFileClient creates a new file client.
func NewFileClient(cfg Config) *FileClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &FileClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// DeleteFile deletes the file at a listing path ("/SD/dir/a.txt").
func (c *FileClient) DeleteFile(ctx context.Context, path string) (string, error) {
	return c.action(ctx, protocol.FileRoute, protocol.ActionDelete, tree.StripRootPrefix(path))
}

// CreateDirectory creates name inside the listing folder parent.
func (c *FileClient) CreateDirectory(ctx context.Context, parent, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("mkdir %q: %w", name, ErrInvalidName)
	}
	p := tree.BuildChildPath(tree.StripRootPrefix(parent), name)
	return c.action(ctx, protocol.DirRoute, protocol.ActionCreate, p)
}

// RemoveDirectory removes the empty directory at a listing path.
func (c *FileClient) RemoveDirectory(ctx context.Context, path string) (string, error) {
	return c.action(ctx, protocol.DirRoute, protocol.ActionDelete, tree.StripRootPrefix(path))
}

// Download streams the file at a listing path into w.
func (c *FileClient) Download(ctx context.Context, path string, w io.Writer) (int64, error) {
	start := time.Now()
	p := tree.StripRootPrefix(path)

	resp, err := c.get(ctx, protocol.FileRoute, protocol.ActionDownload, p)
	if err != nil {
		metrics.RecordFileAction(protocol.ActionDownload, time.Since(start), false)
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(w, resp.Body)
	metrics.RecordDownload(n)
	metrics.RecordFileAction(protocol.ActionDownload, time.Since(start), err == nil)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", p, err)
	}

	logging.Info("downloaded", zap.String("path", p), zap.Int64("bytes", n))
	return n, nil
}

// Upload sends r as name into the listing folder. progress may be nil.
func (c *FileClient) Upload(ctx context.Context, folder, name string, r io.Reader, size int64, progress ProgressFunc) error {
	const action = "upload"
	start := time.Now()

	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		return fmt.Errorf("upload %q: %w", name, ErrInvalidName)
	}
	target := tree.BuildChildPath(tree.StripRootPrefix(folder), name)

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	counted := &countingReader{r: r, total: size, progress: progress}

	go func() {
		err := func() error {
			if err := mw.WriteField(protocol.FormPath, folder); err != nil {
				return err
			}
			part, err := mw.CreateFormFile(protocol.FormFile, name)
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, counted); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	u := c.baseURL + (&url.URL{Path: target}).EscapedPath()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, pr)
	if err != nil {
		pr.CloseWithError(err)
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordFileAction(action, time.Since(start), false)
		return fmt.Errorf("upload %s: %w", target, err)
	}
	defer resp.Body.Close()

	// The firmware answers a finished upload with a redirect to "/".
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusFound && resp.StatusCode != http.StatusSeeOther {
		metrics.RecordFileAction(action, time.Since(start), false)
		return &ActionError{Action: action, Path: target, Status: resp.StatusCode, Message: readMessage(resp.Body)}
	}

	metrics.RecordUpload(counted.sent)
	metrics.RecordFileAction(action, time.Since(start), true)
	logging.Info("uploaded", zap.String("path", target), zap.Int64("bytes", counted.sent))
	return nil
}

// action runs a text-answered GET file action and returns the server's message.
func (c *FileClient) action(ctx context.Context, route, action, p string) (string, error) {
	start := time.Now()
	name := strings.TrimPrefix(route, "/") + "_" + action

	resp, err := c.get(ctx, route, action, p)
	if err != nil {
		metrics.RecordFileAction(name, time.Since(start), false)
		return "", err
	}
	defer resp.Body.Close()

	msg := readMessage(resp.Body)
	metrics.RecordFileAction(name, time.Since(start), true)
	logging.Info("file action", zap.String("action", name), zap.String("path", p), zap.String("result", msg))
	return msg, nil
}

// get issues GET route?name=p&action=action and returns a 200 response.
func (c *FileClient) get(ctx context.Context, route, action, p string) (*http.Response, error) {
	if !protocol.ValidName(p) {
		return nil, fmt.Errorf("%s %q: %w", action, p, ErrInvalidName)
	}

	q := url.Values{}
	q.Set(protocol.ParamName, p)
	q.Set(protocol.ParamAction, action)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+route+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", action, p, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, &ActionError{Action: action, Path: p, Status: resp.StatusCode, Message: readMessage(resp.Body)}
	}
	return resp, nil
}

func readMessage(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(string(b))
}

// countingReader reports bytes read through progress.
type countingReader struct {
	r        io.Reader
	total    int64
	sent     int64
	progress ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.sent += int64(n)
		if c.progress != nil {
			c.progress(c.sent, c.total)
		}
	}
	return n, err
}
