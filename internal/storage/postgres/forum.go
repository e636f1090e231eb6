package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
)

type ForumStore struct {
	db *sqlx.DB
}

func NewForumStore(db *sqlx.DB) *ForumStore {
	return &ForumStore{db: db}
}

// Upsert inserts the forum or updates its mutable fields on the
// (site_id, original_id) natural key, returning the stable surrogate id.
func (s *ForumStore) Upsert(ctx context.Context, forum *domain.Forum) (domain.LocalID, error) {
	query := `
		INSERT INTO forums (site_id, original_id, name, original_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (site_id, original_id) DO UPDATE SET
			name = EXCLUDED.name,
			original_url = EXCLUDED.original_url
		RETURNING id`

	var id domain.LocalID
	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &id, query,
		forum.SiteID,
		forum.OriginalID,
		forum.Name,
		forum.OriginalURL,
	)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *ForumStore) GetByID(ctx context.Context, id domain.LocalID) (*domain.Forum, error) {
	var forum domain.Forum
	err := s.db.GetContext(ctx, &forum,
		"SELECT id, site_id, original_id, name, original_url FROM forums WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrForumNotFound
	}
	if err != nil {
		return nil, err
	}
	return &forum, nil
}

// GetByNaturalKey returns nil without error when no row matches, so callers
// can distinguish new records from updates.
func (s *ForumStore) GetByNaturalKey(ctx context.Context, siteID domain.LocalID, originalID domain.RemoteID) (*domain.Forum, error) {
	var forum domain.Forum
	err := s.db.GetContext(ctx, &forum,
		"SELECT id, site_id, original_id, name, original_url FROM forums WHERE site_id = $1 AND original_id = $2",
		siteID, originalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &forum, nil
}

func (s *ForumStore) ListBySite(ctx context.Context, siteID domain.LocalID) ([]domain.Forum, error) {
	var forums []domain.Forum
	err := s.db.SelectContext(ctx, &forums,
		"SELECT id, site_id, original_id, name, original_url FROM forums WHERE site_id = $1 ORDER BY id",
		siteID)
	return forums, err
}
