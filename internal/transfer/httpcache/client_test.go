package httpcache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/castkit/mediacache/internal/storage"
	"github.com/castkit/mediacache/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu      sync.Mutex
	records map[string]storage.CachedFile
}

func newMemRepo() *memRepo {
	return &memRepo{records: make(map[string]storage.CachedFile)}
}

func (m *memRepo) GetByURL(url string) (*storage.CachedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[url]
	if !ok {
		return nil, storage.ErrNotTracked
	}

	return &record, nil
}

func (m *memRepo) GetCompleted() ([]storage.CachedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var files []storage.CachedFile

	for _, record := range m.records {
		if record.Status == storage.StatusCompleted {
			files = append(files, record)
		}
	}

	return files, nil
}

func (m *memRepo) Track(url, localPath, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[url] = storage.CachedFile{URL: url, LocalPath: localPath, Status: status, DownloadedAt: time.Now()}

	return nil
}

func (m *memRepo) UpdateStatus(url, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[url]
	if !ok {
		return storage.ErrNotTracked
	}

	record.Status = status
	record.DownloadedAt = time.Now()
	m.records[url] = record

	return nil
}

func (m *memRepo) Delete(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, url)

	return nil
}

func (m *memRepo) status(url string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.records[url].Status
}

func TestStart_FetchesIntoCacheDir(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("episode audio"))
	}))
	defer server.Close()

	repo := newMemRepo()
	client := NewClient(t.TempDir(), repo, 2, server.Client())

	url := server.URL + "/ep1.mp3"

	ref, err := client.Start(context.Background(), url)
	require.NoError(t, err)
	assert.False(t, ref.IsLocal(), "a fresh transfer returns the remote ref immediately")

	require.Eventually(t, func() bool {
		return client.LocalFile(url) != nil
	}, 2*time.Second, 10*time.Millisecond)

	local := client.LocalFile(url)
	content, err := os.ReadFile(local.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "episode audio", string(content))
}

func TestStart_CacheHitReturnsLocalRef(t *testing.T) {
	cacheDir := t.TempDir()
	localPath := filepath.Join(cacheDir, "ep1.mp3")
	require.NoError(t, os.WriteFile(localPath, []byte("cached"), 0644))

	repo := newMemRepo()
	require.NoError(t, repo.Track("https://cdn.example.com/ep1.mp3", localPath, storage.StatusCompleted))

	client := NewClient(cacheDir, repo, 2, nil)

	ref, err := client.Start(context.Background(), "https://cdn.example.com/ep1.mp3")
	require.NoError(t, err)
	assert.True(t, ref.IsLocal())
	assert.Equal(t, localPath, ref.LocalPath)
}

func TestLocalFile_MissingOnDiskIsAMiss(t *testing.T) {
	repo := newMemRepo()
	require.NoError(t, repo.Track("https://cdn.example.com/ep1.mp3", "/nowhere/ep1.mp3", storage.StatusCompleted))

	client := NewClient(t.TempDir(), repo, 2, nil)

	assert.Nil(t, client.LocalFile("https://cdn.example.com/ep1.mp3"))
}

func TestStart_InFlightURLIsNotFetchedTwice(t *testing.T) {
	var (
		mu       sync.Mutex
		requests int
	)

	release := make(chan struct{})
	arrived := make(chan struct{}, 2)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()

		arrived <- struct{}{}
		<-release

		_, _ = w.Write([]byte("audio"))
	}))
	defer server.Close()

	repo := newMemRepo()
	client := NewClient(t.TempDir(), repo, 2, server.Client())

	url := server.URL + "/ep1.mp3"

	_, err := client.Start(context.Background(), url)
	require.NoError(t, err)
	<-arrived

	ref, err := client.Start(context.Background(), url)
	require.NoError(t, err)
	assert.False(t, ref.IsLocal())

	close(release)

	require.Eventually(t, func() bool {
		return client.LocalFile(url) != nil
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, requests)
}

func TestStart_InvalidURL(t *testing.T) {
	client := NewClient(t.TempDir(), newMemRepo(), 2, nil)

	_, err := client.Start(context.Background(), "not a url")
	require.Error(t, err)
}

func TestStart_ServerErrorMarksTransferFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	repo := newMemRepo()
	client := NewClient(t.TempDir(), repo, 2, server.Client())

	url := server.URL + "/ep1.mp3"

	_, err := client.Start(context.Background(), url)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return repo.status(url) == storage.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Nil(t, client.LocalFile(url))
}

func TestCancel_StopsInFlightTransfer(t *testing.T) {
	arrived := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-r.Context().Done()
	}))
	defer server.Close()

	repo := newMemRepo()
	client := NewClient(t.TempDir(), repo, 2, server.Client())

	url := server.URL + "/ep1.mp3"

	_, err := client.Start(context.Background(), url)
	require.NoError(t, err)
	<-arrived

	client.Cancel(context.Background(), url)

	require.Eventually(t, func() bool {
		return repo.status(url) == storage.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRemoveFile_DeletesCopyAndRecord(t *testing.T) {
	cacheDir := t.TempDir()
	localPath := filepath.Join(cacheDir, "ep1.mp3")
	require.NoError(t, os.WriteFile(localPath, []byte("cached"), 0644))

	repo := newMemRepo()
	require.NoError(t, repo.Track("https://cdn.example.com/ep1.mp3", localPath, storage.StatusCompleted))

	client := NewClient(cacheDir, repo, 2, nil)

	ref, err := client.RemoveFile(context.Background(), "https://cdn.example.com/ep1.mp3")
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, localPath, ref.LocalPath)

	_, statErr := os.Stat(localPath)
	assert.True(t, os.IsNotExist(statErr))

	_, repoErr := repo.GetByURL("https://cdn.example.com/ep1.mp3")
	assert.ErrorIs(t, repoErr, storage.ErrNotTracked)
}

func TestRemoveFile_UntrackedURLIsNoOp(t *testing.T) {
	client := NewClient(t.TempDir(), newMemRepo(), 2, nil)

	ref, err := client.RemoveFile(context.Background(), "https://cdn.example.com/nope.mp3")
	require.NoError(t, err)
	assert.Nil(t, ref)
}

func TestRemoveAll_HonorsKeepListAndApproval(t *testing.T) {
	cacheDir := t.TempDir()
	repo := newMemRepo()

	track := func(name string) string {
		path := filepath.Join(cacheDir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

		url := "https://cdn.example.com/" + name
		require.NoError(t, repo.Track(url, path, storage.StatusCompleted))

		return url
	}

	kept := track("keep.mp3")
	evicted := track("evict.mp3")
	vetoed := track("veto.mp3")

	client := NewClient(cacheDir, repo, 2, nil)

	var (
		mu    sync.Mutex
		asked []string
	)

	approve := func(url string, lastModified time.Time) bool {
		mu.Lock()
		defer mu.Unlock()

		asked = append(asked, url)
		assert.False(t, lastModified.IsZero())

		return url != vetoed
	}

	require.NoError(t, client.RemoveAll(context.Background(), map[string]struct{}{kept: {}}, approve))

	mu.Lock()
	assert.ElementsMatch(t, []string{evicted, vetoed}, asked, "kept URLs are never submitted for approval")
	mu.Unlock()

	_, err := repo.GetByURL(evicted)
	assert.ErrorIs(t, err, storage.ErrNotTracked)

	_, err = repo.GetByURL(kept)
	assert.NoError(t, err)

	_, err = repo.GetByURL(vetoed)
	assert.NoError(t, err, "a vetoed candidate survives the sweep")
}

func TestRemoveAll_RepoFailurePropagates(t *testing.T) {
	client := NewClient(t.TempDir(), &failingRepo{}, 2, nil)

	err := client.RemoveAll(context.Background(), nil, nil)
	require.Error(t, err)
}

type failingRepo struct{}

func (f *failingRepo) GetByURL(string) (*storage.CachedFile, error) {
	return nil, errors.New("db closed")
}

func (f *failingRepo) GetCompleted() ([]storage.CachedFile, error) {
	return nil, errors.New("db closed")
}

func (f *failingRepo) Track(string, string, string) error { return errors.New("db closed") }
func (f *failingRepo) UpdateStatus(string, string) error  { return errors.New("db closed") }
func (f *failingRepo) Delete(string) error                { return errors.New("db closed") }

var _ transfer.Client = (*Client)(nil)
