package xenforo

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
)

const (
	LoginPagePath = "/login/"
	LoginPostPath = "/login/login"
)

// IndexPagePath builds the forum-index URL for a page. Page 1 is the site
// root.
func IndexPagePath(page int) string {
	if page <= 1 {
		return "/"
	}
	return fmt.Sprintf("/page-%d/", page)
}

// ForumPagePath builds the listing URL for a forum page. Page 1 has no
// suffix.
func ForumPagePath(id domain.RemoteID, page int) string {
	if page <= 1 {
		return fmt.Sprintf("/forums/%s/", id)
	}
	return fmt.Sprintf("/forums/%s/page-%d/", id, page)
}

// ThreadPagePath builds the post-listing URL for a thread page.
func ThreadPagePath(id domain.RemoteID, page int) string {
	if page <= 1 {
		return fmt.Sprintf("/threads/%s/", id)
	}
	return fmt.Sprintf("/threads/%s/page-%d/", id, page)
}

var (
	trailingIDPattern = regexp.MustCompile(`(?:^|[-/.])(\d+)/?$`)
	pageNumberPattern = regexp.MustCompile(`page-(\d+)`)
)

// remoteIDFromPath derives the site-assigned id from the trailing numeric
// segment of an href such as /forums/general-chat-42/ or /threads/title.123/.
// A "thread-" or "post-" style prefix on a bare value is stripped first.
// Values with no numeric tail are noise and yield ok=false.
func remoteIDFromPath(href string) (domain.RemoteID, bool) {
	href = strings.TrimSuffix(href, "/")
	if i := strings.IndexAny(href, "?#"); i >= 0 {
		href = href[:i]
	}
	for _, prefix := range []string{"thread-", "post-", "attachment-"} {
		if strings.HasPrefix(href, prefix) {
			href = strings.TrimPrefix(href, prefix)
			break
		}
	}

	m := trailingIDPattern.FindStringSubmatch(href)
	if m == nil {
		return "", false
	}
	return domain.RemoteID(m[1]), true
}

// pageNumberFromURL parses the page-<n> segment of a pagination href.
func pageNumberFromURL(href string) int {
	m := pageNumberPattern.FindStringSubmatch(href)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
