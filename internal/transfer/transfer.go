package transfer

import (
	"context"
	"time"
)

// FileRef locates one enclosure's media: always the remote URL, plus the
// local path once a completed copy exists on disk.
type FileRef struct {
	URL       string
	LocalPath string
}

// IsLocal reports whether the ref points at a completed local copy.
func (r FileRef) IsLocal() bool {
	return r.LocalPath != ""
}

// ApproveRemoval is consulted by RemoveAll once per candidate file before it
// is deleted. Returning false keeps the file.
type ApproveRemoval func(url string, lastModified time.Time) bool

// Client is the narrow contract the orchestrator holds on the transfer
// engine. The engine resolves remote URLs to local files, performs the actual
// background transfers and persists transfer state across restarts; the
// orchestrator only supervises it through these operations.
type Client interface {
	// LocalFile returns the already-resolved local copy for url without
	// touching the network, or nil when none exists.
	LocalFile(url string) *FileRef

	// Start begins or continues a transfer for url. It returns immediately
	// with either a completed local ref or a remote ref while the transfer
	// runs in the background.
	Start(ctx context.Context, url string) (FileRef, error)

	// Cancel asks the engine to stop any in-flight transfer for url. It is
	// advisory and a no-op when nothing is in flight.
	Cancel(ctx context.Context, url string)

	// RemoveFile deletes the local copy for url, returning the removed ref
	// or nil when no copy existed.
	RemoveFile(ctx context.Context, url string) (*FileRef, error)

	// RemoveAll deletes every cached file whose URL is not in keep. Each
	// candidate is submitted to approve before deletion.
	RemoveAll(ctx context.Context, keep map[string]struct{}, approve ApproveRemoval) error
}
