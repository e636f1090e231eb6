package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
)

type MediaStore struct {
	db *sqlx.DB
}

func NewMediaStore(db *sqlx.DB) *MediaStore {
	return &MediaStore{db: db}
}

// Upsert inserts the media row or refreshes its extracted fields on the
// (post_id, url) natural key. Download state is owned by
// UpdateDownloadStatus and left untouched on conflict.
func (s *MediaStore) Upsert(ctx context.Context, media *domain.Media) (domain.LocalID, error) {
	query := `
		INSERT INTO media (post_id, media_type_id, original_id, url, thumbnail_url, filename)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (post_id, url) DO UPDATE SET
			media_type_id = EXCLUDED.media_type_id,
			original_id = EXCLUDED.original_id,
			thumbnail_url = EXCLUDED.thumbnail_url,
			filename = EXCLUDED.filename
		RETURNING id`

	var id domain.LocalID
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &id, query,
		media.PostID,
		media.Type,
		media.OriginalID,
		media.URL,
		media.ThumbnailURL,
		media.Filename,
	)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListByThread returns every media row of a thread's posts, in post order.
func (s *MediaStore) ListByThread(ctx context.Context, threadID domain.LocalID) ([]domain.Media, error) {
	var media []domain.Media
	err := s.db.SelectContext(ctx, &media,
		`SELECT m.id, m.post_id, m.media_type_id, m.original_id, m.url,
		        m.thumbnail_url, m.filename, m.is_downloaded, m.local_path, m.mime_type
		 FROM media m
		 INNER JOIN posts p ON p.id = m.post_id
		 WHERE p.thread_id = $1
		 ORDER BY m.post_id, m.id`,
		threadID)
	return media, err
}

// UpdateDownloadStatus updates every row of the thread that shares the URL,
// so deduplicated downloads settle all matching rows together.
func (s *MediaStore) UpdateDownloadStatus(ctx context.Context, threadID domain.LocalID, url string, downloaded bool, localPath, mimeType *string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE media SET is_downloaded = $3, local_path = $4, mime_type = $5
		 WHERE url = $2
		   AND post_id IN (SELECT id FROM posts WHERE thread_id = $1)`,
		threadID, url, downloaded, localPath, mimeType)
	return err
}
