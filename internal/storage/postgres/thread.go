package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
)

type ThreadStore struct {
	db *sqlx.DB
}

func NewThreadStore(db *sqlx.DB) *ThreadStore {
	return &ThreadStore{db: db}
}

// Upsert inserts the thread or updates its mutable fields on the
// (forum_id, original_id) natural key. last_sync_at is owned by
// TouchLastSync and not touched here.
func (s *ThreadStore) Upsert(ctx context.Context, thread *domain.Thread) (domain.LocalID, error) {
	query := `
		INSERT INTO threads (forum_id, original_id, name, original_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (forum_id, original_id) DO UPDATE SET
			name = EXCLUDED.name,
			original_url = EXCLUDED.original_url
		RETURNING id`

	var id domain.LocalID
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &id, query,
		thread.ForumID,
		thread.OriginalID,
		thread.Name,
		thread.OriginalURL,
	)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *ThreadStore) GetByID(ctx context.Context, id domain.LocalID) (*domain.Thread, error) {
	var thread domain.Thread
	err := s.db.GetContext(ctx, &thread,
		"SELECT id, forum_id, original_id, name, original_url, last_sync_at FROM threads WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrThreadNotFound
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

func (s *ThreadStore) GetByNaturalKey(ctx context.Context, forumID domain.LocalID, originalID domain.RemoteID) (*domain.Thread, error) {
	var thread domain.Thread
	err := s.db.GetContext(ctx, &thread,
		"SELECT id, forum_id, original_id, name, original_url, last_sync_at FROM threads WHERE forum_id = $1 AND original_id = $2",
		forumID, originalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

func (s *ThreadStore) ListByForum(ctx context.Context, forumID domain.LocalID) ([]domain.Thread, error) {
	var threads []domain.Thread
	err := s.db.SelectContext(ctx, &threads,
		"SELECT id, forum_id, original_id, name, original_url, last_sync_at FROM threads WHERE forum_id = $1 ORDER BY id",
		forumID)
	return threads, err
}

func (s *ThreadStore) TouchLastSync(ctx context.Context, id domain.LocalID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE threads SET last_sync_at = $2 WHERE id = $1", id, at)
	return err
}
