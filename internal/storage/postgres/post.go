package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
)

type PostStore struct {
	db *sqlx.DB
}

func NewPostStore(db *sqlx.DB) *PostStore {
	return &PostStore{db: db}
}

// Upsert inserts the post or updates its mutable fields on the
// (thread_id, original_id) natural key. created_at is kept from the first
// scrape; content and updated_at follow the latest extraction.
func (s *PostStore) Upsert(ctx context.Context, post *domain.Post) (domain.LocalID, error) {
	query := `
		INSERT INTO posts (thread_id, original_id, username, user_id, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (thread_id, original_id) DO UPDATE SET
			username = EXCLUDED.username,
			user_id = EXCLUDED.user_id,
			content = EXCLUDED.content,
			updated_at = EXCLUDED.updated_at
		RETURNING id`

	var id domain.LocalID
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &id, query,
		post.ThreadID,
		post.OriginalID,
		post.Username,
		post.UserID,
		post.Content,
		post.CreatedAt,
		post.UpdatedAt,
	)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *PostStore) GetByNaturalKey(ctx context.Context, threadID domain.LocalID, originalID domain.RemoteID) (*domain.Post, error) {
	var post domain.Post
	err := s.db.GetContext(ctx, &post,
		`SELECT id, thread_id, original_id, username, user_id, content, created_at, updated_at
		 FROM posts WHERE thread_id = $1 AND original_id = $2`,
		threadID, originalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (s *PostStore) ListByThread(ctx context.Context, threadID domain.LocalID) ([]domain.Post, error) {
	var posts []domain.Post
	err := s.db.SelectContext(ctx, &posts,
		`SELECT id, thread_id, original_id, username, user_id, content, created_at, updated_at
		 FROM posts WHERE thread_id = $1 ORDER BY id`,
		threadID)
	return posts, err
}
