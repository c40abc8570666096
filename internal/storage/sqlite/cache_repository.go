package sqlite

import (
	"database/sql"
	"time"

	"github.com/castkit/mediacache/internal/storage"
)

type CacheRepository struct {
	db *sql.DB
}

func NewCacheRepository(dbConn *sql.DB) *CacheRepository {
	return &CacheRepository{db: dbConn}
}

func (r *CacheRepository) GetByURL(url string) (*storage.CachedFile, error) {
	var (
		record       storage.CachedFile
		downloadedAt sql.NullString
	)

	err := r.db.QueryRow(
		`SELECT url, local_path, status, downloaded_at FROM cached_files WHERE url = ?`, url,
	).Scan(&record.URL, &record.LocalPath, &record.Status, &downloadedAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotTracked
	}

	if err != nil {
		return nil, err
	}

	if downloadedAt.Valid {
		record.DownloadedAt, _ = time.Parse(time.RFC3339, downloadedAt.String)
	}

	return &record, nil
}

func (r *CacheRepository) GetCompleted() ([]storage.CachedFile, error) {
	rows, err := r.db.Query(
		`SELECT url, local_path, status, downloaded_at FROM cached_files WHERE status = ?`,
		storage.StatusCompleted,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []storage.CachedFile

	for rows.Next() {
		var (
			record       storage.CachedFile
			downloadedAt sql.NullString
		)

		if err := rows.Scan(&record.URL, &record.LocalPath, &record.Status, &downloadedAt); err != nil {
			return nil, err
		}

		if downloadedAt.Valid {
			record.DownloadedAt, _ = time.Parse(time.RFC3339, downloadedAt.String)
		}

		files = append(files, record)
	}

	return files, rows.Err()
}

// Track upserts a record for url. A restarted transfer overwrites the stale
// row rather than failing on the unique constraint.
func (r *CacheRepository) Track(url, localPath, status string) error {
	_, err := r.db.Exec(`
		INSERT INTO cached_files (url, local_path, status, downloaded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			local_path = excluded.local_path,
			status = excluded.status,
			downloaded_at = excluded.downloaded_at
	`, url, localPath, status, time.Now().Format(time.RFC3339))

	return err
}

func (r *CacheRepository) UpdateStatus(url, status string) error {
	_, err := r.db.Exec(
		`UPDATE cached_files SET status = ?, downloaded_at = ? WHERE url = ?`,
		status, time.Now().Format(time.RFC3339), url,
	)

	return err
}

func (r *CacheRepository) Delete(url string) error {
	_, err := r.db.Exec(`DELETE FROM cached_files WHERE url = ?`, url)

	return err
}
