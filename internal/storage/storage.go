package storage

import (
	"errors"
	"time"
)

// Transfer record statuses as persisted by the engine.
const (
	StatusTransferring = "transferring"
	StatusCompleted    = "completed"
	StatusFailed       = "failed"
)

// ErrNotTracked is returned when no record exists for a URL.
var ErrNotTracked = errors.New("url is not tracked")

// CachedFile represents one persisted transfer record.
type CachedFile struct {
	URL          string
	LocalPath    string
	Status       string
	DownloadedAt time.Time
}

// QueueItem is one queued episode. EnclosureURL may be empty while the
// episode's feed entry has not been resolved yet.
type QueueItem struct {
	Position     int
	EpisodeID    string
	EnclosureURL string
}

type CacheReadRepository interface {
	GetByURL(url string) (*CachedFile, error)
	GetCompleted() ([]CachedFile, error)
}

type CacheWriteRepository interface {
	Track(url, localPath, status string) error
	UpdateStatus(url, status string) error // update status after a transfer settles
	Delete(url string) error
}

// CacheRepository is the engine's full view of its transfer records.
type CacheRepository interface {
	CacheReadRepository
	CacheWriteRepository
}

type QueueRepository interface {
	Items() ([]QueueItem, error)
	Add(episodeID, enclosureURL string) error
	Remove(episodeID string) error
}
