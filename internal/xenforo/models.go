package xenforo

import (
	"time"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
)

// Forum is a forum record extracted from a listing page, before
// reconciliation against the store.
type Forum struct {
	OriginalID domain.RemoteID
	Name       string
	URL        string
}

// Thread is a thread record extracted from a forum page.
type Thread struct {
	OriginalID domain.RemoteID
	Name       string
	URL        string
}

// Post is a post record extracted from a thread page, with the media
// references found in its body.
type Post struct {
	OriginalID domain.RemoteID
	Username   string
	UserID     *domain.RemoteID
	Content    string
	CreatedAt  time.Time
	Media      []Media
}

// Media is a media reference extracted from a post body. OriginalID is the
// site's attachment id when the markup carries one; it is best-effort and
// often absent.
type Media struct {
	Type         domain.MediaType
	URL          string
	ThumbnailURL *string
	Filename     *string
	OriginalID   *domain.RemoteID
}
