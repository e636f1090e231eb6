package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
)

// SiteStore reads site rows. Sites are created by the surrounding CRUD
// layer; the engine only looks them up.
type SiteStore struct {
	db *sqlx.DB
}

func NewSiteStore(db *sqlx.DB) *SiteStore {
	return &SiteStore{db: db}
}

func (s *SiteStore) GetByID(ctx context.Context, id domain.LocalID) (*domain.Site, error) {
	var site domain.Site
	err := s.db.GetContext(ctx, &site,
		"SELECT id, url, name FROM sites WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSiteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *SiteStore) GetByURL(ctx context.Context, url string) (*domain.Site, error) {
	var site domain.Site
	err := s.db.GetContext(ctx, &site,
		"SELECT id, url, name FROM sites WHERE url = $1", url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSiteNotFound
	}
	if err != nil {
		return nil, err
	}
	return &site, nil
}
