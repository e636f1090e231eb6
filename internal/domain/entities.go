package domain

import "time"

// RemoteID is the identifier the target site assigns to an entity, extracted
// from listing URLs. It is the only identifier that may appear in outbound
// requests.
type RemoteID string

// LocalID is a locally assigned surrogate key. It never leaves the database
// layer except as a foreign key and is stable across re-scrapes.
type LocalID int64

// MediaType classifies extracted media references.
type MediaType int

const (
	MediaTypeImage MediaType = 1
	MediaTypeVideo MediaType = 2
	MediaTypeLink  MediaType = 3
)

func (t MediaType) String() string {
	switch t {
	case MediaTypeImage:
		return "image"
	case MediaTypeVideo:
		return "video"
	case MediaTypeLink:
		return "link"
	}
	return "unknown"
}

type Site struct {
	ID   LocalID `db:"id"`
	URL  string  `db:"url"`
	Name *string `db:"name"`
}

type Forum struct {
	ID          LocalID  `db:"id"`
	SiteID      LocalID  `db:"site_id"`
	OriginalID  RemoteID `db:"original_id"`
	Name        string   `db:"name"`
	OriginalURL string   `db:"original_url"`
}

type Thread struct {
	ID          LocalID    `db:"id"`
	ForumID     LocalID    `db:"forum_id"`
	OriginalID  RemoteID   `db:"original_id"`
	Name        string     `db:"name"`
	OriginalURL string     `db:"original_url"`
	LastSyncAt  *time.Time `db:"last_sync_at"`
}

type Post struct {
	ID         LocalID   `db:"id"`
	ThreadID   LocalID   `db:"thread_id"`
	OriginalID RemoteID  `db:"original_id"`
	Username   string    `db:"username"`
	UserID     *RemoteID `db:"user_id"`
	Content    string    `db:"content"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`

	Media []Media `db:"-"`
}

type Media struct {
	ID           LocalID   `db:"id"`
	PostID       LocalID   `db:"post_id"`
	Type         MediaType `db:"media_type_id"`
	OriginalID   *RemoteID `db:"original_id"`
	URL          string    `db:"url"`
	ThumbnailURL *string   `db:"thumbnail_url"`
	Filename     *string   `db:"filename"`
	IsDownloaded bool      `db:"is_downloaded"`
	LocalPath    *string   `db:"local_path"`
	MimeType     *string   `db:"mime_type"`
}
