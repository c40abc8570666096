package sqlite

import (
	"database/sql"

	"github.com/castkit/mediacache/internal/storage"
)

type QueueRepository struct {
	db *sql.DB
}

func NewQueueRepository(dbConn *sql.DB) *QueueRepository {
	return &QueueRepository{db: dbConn}
}

func (r *QueueRepository) Items() ([]storage.QueueItem, error) {
	rows, err := r.db.Query(
		`SELECT position, episode_id, enclosure_url FROM queue_items ORDER BY position`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []storage.QueueItem

	for rows.Next() {
		var (
			item      storage.QueueItem
			enclosure sql.NullString
		)

		if err := rows.Scan(&item.Position, &item.EpisodeID, &enclosure); err != nil {
			return nil, err
		}

		if enclosure.Valid {
			item.EnclosureURL = enclosure.String
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

func (r *QueueRepository) Add(episodeID, enclosureURL string) error {
	_, err := r.db.Exec(`
		INSERT INTO queue_items (episode_id, enclosure_url)
		VALUES (?, ?)
		ON CONFLICT(episode_id) DO UPDATE SET enclosure_url = excluded.enclosure_url
	`, episodeID, enclosureURL)

	return err
}

func (r *QueueRepository) Remove(episodeID string) error {
	_, err := r.db.Exec(`DELETE FROM queue_items WHERE episode_id = ?`, episodeID)

	return err
}
