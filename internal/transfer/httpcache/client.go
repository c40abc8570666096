package httpcache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/castkit/mediacache/internal/logctx"
	"github.com/castkit/mediacache/internal/storage"
	"github.com/castkit/mediacache/internal/transfer"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	dirPerm = 0755

	maxParallelRemovals = 4
)

// Client is an HTTP-backed transfer engine. It fetches enclosures into a
// cache directory on background goroutines, bounded by maxParallel, and
// persists transfer records so cache hits survive restarts.
type Client struct {
	cacheDir   string
	httpClient *http.Client
	repo       storage.CacheRepository
	sem        *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

func NewClient(cacheDir string, repo storage.CacheRepository, maxParallel int, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if maxParallel <= 0 {
		maxParallel = 1
	}

	return &Client{
		cacheDir:   cacheDir,
		httpClient: httpClient,
		repo:       repo,
		sem:        semaphore.NewWeighted(int64(maxParallel)),
		inflight:   make(map[string]context.CancelFunc),
	}
}

// LocalFile answers cache hits from the persisted records, verifying the
// file is still present on disk.
func (c *Client) LocalFile(rawURL string) *transfer.FileRef {
	record, err := c.repo.GetByURL(rawURL)
	if err != nil || record.Status != storage.StatusCompleted {
		return nil
	}

	if _, err := os.Stat(record.LocalPath); err != nil {
		return nil
	}

	return &transfer.FileRef{URL: rawURL, LocalPath: record.LocalPath}
}

// Start begins or continues a transfer for rawURL. It returns immediately:
// a local ref on a cache hit, otherwise a remote ref while the fetch runs in
// the background. Calling Start again for an in-flight URL is a no-op.
func (c *Client) Start(ctx context.Context, rawURL string) (transfer.FileRef, error) {
	if ref := c.LocalFile(rawURL); ref != nil {
		return *ref, nil
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return transfer.FileRef{}, fmt.Errorf("invalid enclosure url %q: %w", rawURL, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, running := c.inflight[rawURL]; running {
		return transfer.FileRef{URL: rawURL}, nil
	}

	localPath := c.targetPath(parsed)

	if err := c.repo.Track(rawURL, localPath, storage.StatusTransferring); err != nil {
		return transfer.FileRef{}, fmt.Errorf("failed to track transfer: %w", err)
	}

	// The transfer outlives the triggering call; only Cancel stops it.
	fetchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.inflight[rawURL] = cancel

	go c.runTransfer(fetchCtx, rawURL, localPath)

	return transfer.FileRef{URL: rawURL}, nil
}

// Cancel is advisory: it stops an in-flight fetch and is a no-op otherwise.
func (c *Client) Cancel(_ context.Context, rawURL string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cancel, ok := c.inflight[rawURL]; ok {
		cancel()
		delete(c.inflight, rawURL)
	}
}

// RemoveFile deletes the local copy for rawURL and forgets its record.
func (c *Client) RemoveFile(_ context.Context, rawURL string) (*transfer.FileRef, error) {
	record, err := c.repo.GetByURL(rawURL)
	if errors.Is(err, storage.ErrNotTracked) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to look up cached file: %w", err)
	}

	if err := os.Remove(record.LocalPath); err != nil && !os.IsNotExist(err) {
		return nil, &transfer.StorageError{Path: record.LocalPath, Reason: "failed to delete cached file", Err: err}
	}

	if err := c.repo.Delete(rawURL); err != nil {
		return nil, fmt.Errorf("failed to delete transfer record: %w", err)
	}

	return &transfer.FileRef{URL: rawURL, LocalPath: record.LocalPath}, nil
}

// RemoveAll deletes every completed cached file whose URL is not in keep,
// submitting each candidate to approve first. Per-file failures don't stop
// the sweep; the first one is returned.
func (c *Client) RemoveAll(ctx context.Context, keep map[string]struct{}, approve transfer.ApproveRemoval) error {
	logger := logctx.LoggerFromContext(ctx)

	files, err := c.repo.GetCompleted()
	if err != nil {
		return fmt.Errorf("failed to list cached files: %w", err)
	}

	var wg errgroup.Group

	wg.SetLimit(maxParallelRemovals)

	for i := range files {
		record := files[i]

		if _, keepIt := keep[record.URL]; keepIt {
			continue
		}

		wg.Go(func() error {
			lastModified := record.DownloadedAt
			if info, err := os.Stat(record.LocalPath); err == nil {
				lastModified = info.ModTime()
			}

			if approve != nil && !approve(record.URL, lastModified) {
				logger.Debug("removal not approved", "url", record.URL)

				return nil
			}

			if _, err := c.RemoveFile(ctx, record.URL); err != nil {
				logger.Error("failed to remove cached file", "url", record.URL, "err", err)

				return err
			}

			logger.Info("removed stale cached file", "url", record.URL, "file", record.LocalPath)

			return nil
		})
	}

	return wg.Wait()
}

func (c *Client) runTransfer(ctx context.Context, rawURL, localPath string) {
	logger := logctx.LoggerFromContext(ctx).With("url", rawURL)

	err := c.fetch(ctx, rawURL, localPath)

	c.mu.Lock()
	if cancel, ok := c.inflight[rawURL]; ok {
		cancel()
		delete(c.inflight, rawURL)
	}
	c.mu.Unlock()

	if err != nil {
		logger.Error("transfer failed", "err", err)

		if updateErr := c.repo.UpdateStatus(rawURL, storage.StatusFailed); updateErr != nil {
			logger.Error("failed to record transfer failure", "err", updateErr)
		}

		return
	}

	if err := c.repo.UpdateStatus(rawURL, storage.StatusCompleted); err != nil {
		logger.Error("failed to record transfer completion", "err", err)

		return
	}

	logger.Info("transfer completed", "target", localPath)
}

func (c *Client) fetch(ctx context.Context, rawURL, localPath string) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.sem.Release(1)

	logger := logctx.LoggerFromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &transfer.NetworkError{Operation: "fetch", URL: rawURL, Err: err}
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &transfer.NetworkError{Operation: "fetch", URL: rawURL, StatusCode: resp.StatusCode}
	}

	if err := os.MkdirAll(filepath.Dir(localPath), dirPerm); err != nil {
		return &transfer.StorageError{Path: filepath.Dir(localPath), Reason: "failed to create cache directory", Err: err}
	}

	// Write to a sidecar first so a partial fetch never looks like a hit.
	partPath := localPath + ".part"

	out, err := os.Create(partPath)
	if err != nil {
		return &transfer.StorageError{Path: partPath, Reason: "failed to create target file", Err: err}
	}

	if err := c.writeFile(ctx, out, resp.Body, rawURL, resp.ContentLength); err != nil {
		out.Close()
		os.Remove(partPath)

		return err
	}

	if err := out.Close(); err != nil {
		return &transfer.StorageError{Path: partPath, Reason: "failed to flush target file", Err: err}
	}

	if err := os.Rename(partPath, localPath); err != nil {
		return &transfer.StorageError{Path: localPath, Reason: "failed to move completed file", Err: err}
	}

	logger.Info("downloaded and saved file", "target", localPath, "size", humanize.Bytes(uint64(max(resp.ContentLength, 0))))

	return nil
}

func (c *Client) writeFile(ctx context.Context, out io.Writer, body io.Reader, rawURL string, totalBytes int64) error {
	logger := logctx.LoggerFromContext(ctx)

	progressInterval := int64(100 * 1024 * 1024) // 100MB
	progressCb := func(written int64, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"url", rawURL,
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "url", rawURL, "downloaded", humanize.Bytes(uint64(written)))
		}
	}
	pr := newProgressReader(body, totalBytes, progressInterval, progressCb)

	if _, err := io.Copy(out, pr); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}

	return nil
}

// targetPath derives a stable local path from the URL: a sha1 prefix keeps
// distinct URLs with identical basenames apart.
func (c *Client) targetPath(parsed *url.URL) string {
	sum := sha1.Sum([]byte(parsed.String()))

	base := path.Base(parsed.Path)
	if base == "." || base == "/" {
		base = "enclosure"
	}

	return filepath.Join(c.cacheDir, hex.EncodeToString(sum[:8])+"-"+base)
}

var _ transfer.Client = (*Client)(nil)
