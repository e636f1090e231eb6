package xenforo

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
)

// Selectors for the listing rows each extraction walks. XenForo templates
// vary across installs, so every extractor tolerates more than one shape of
// the same field.
const (
	forumNodeSelector  = ".node-title a, h3.node-title a"
	threadRowSelector  = ".structItem--thread"
	postRowSelector    = "article.message--post, article.message"
	pageNavSelector    = ".pageNav-page"
	lastPageSelector   = "a.pageNav-jump--last, a.pageNavSimple-el--last, .pageNav-main li:last-child a"
	attachmentSelector = ".attachmentList .file, ul.attachmentList li"
)

var (
	imageExtensions = map[string]struct{}{
		".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".bmp": {},
	}
	videoExtensions = map[string]struct{}{
		".mp4": {}, ".webm": {}, ".mov": {}, ".avi": {}, ".mkv": {}, ".m4v": {},
	}
	attachmentIDPattern = regexp.MustCompile(`attachment-(\d+)`)
)

// Forums extracts forum records from a forum-index document. Anchors with a
// non-numeric trailing segment are discarded silently.
func Forums(doc *goquery.Document) []Forum {
	seen := make(map[domain.RemoteID]struct{})
	var forums []Forum

	collect := func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || !strings.Contains(href, "/forums/") {
			return
		}
		id, ok := remoteIDFromPath(href)
		if !ok {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		forums = append(forums, Forum{
			OriginalID: id,
			Name:       strings.TrimSpace(s.Text()),
			URL:        href,
		})
	}

	doc.Find(forumNodeSelector).Each(collect)
	if len(forums) == 0 {
		doc.Find(`a[href*="/forums/"]`).Each(collect)
	}

	return forums
}

// Threads extracts thread records from a forum listing document.
func Threads(doc *goquery.Document) []Thread {
	seen := make(map[domain.RemoteID]struct{})
	var threads []Thread

	doc.Find(threadRowSelector).Each(func(_ int, row *goquery.Selection) {
		anchor := row.Find(".structItem-title a[href*='/threads/']").First()
		if anchor.Length() == 0 {
			anchor = row.Find("a[href*='/threads/']").First()
		}
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}

		id, ok := threadID(row, href)
		if !ok {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		threads = append(threads, Thread{
			OriginalID: id,
			Name:       strings.TrimSpace(anchor.Text()),
			URL:        href,
		})
	})

	return threads
}

// threadID resolves a thread's remote id from the row's js-threadListItem
// class when present, falling back to the title href's trailing segment.
func threadID(row *goquery.Selection, href string) (domain.RemoteID, bool) {
	if class, ok := row.Attr("class"); ok {
		for _, c := range strings.Fields(class) {
			if strings.HasPrefix(c, "js-threadListItem-") {
				raw := strings.TrimPrefix(c, "js-threadListItem-")
				raw = strings.TrimPrefix(raw, "thread-")
				if _, err := strconv.ParseInt(raw, 10, 64); err == nil {
					return domain.RemoteID(raw), true
				}
			}
		}
	}
	return remoteIDFromPath(href)
}

// Posts extracts post records, with their media, from a thread page
// document. siteHost is used to classify external links; pass the host of
// the site being crawled.
func Posts(doc *goquery.Document, siteHost string) []Post {
	var posts []Post

	doc.Find(postRowSelector).Each(func(_ int, row *goquery.Selection) {
		id, ok := postID(row)
		if !ok {
			return
		}

		post := Post{
			OriginalID: id,
			Username:   postAuthor(row),
			CreatedAt:  postTimestamp(row),
		}

		if uid, ok := row.Find("a.username[data-user-id]").First().Attr("data-user-id"); ok && uid != "" {
			remote := domain.RemoteID(uid)
			post.UserID = &remote
		}

		body := row.Find(".message-body .bbWrapper").First()
		if body.Length() == 0 {
			body = row.Find(".bbWrapper").First()
		}
		if body.Length() > 0 {
			if html, err := body.Html(); err == nil {
				post.Content = strings.TrimSpace(html)
			}
		}

		post.Media = postMedia(row, body, siteHost)
		posts = append(posts, post)
	})

	return posts
}

func postID(row *goquery.Selection) (domain.RemoteID, bool) {
	// data-content="post-12345" is the modern template shape.
	if v, ok := row.Attr("data-content"); ok {
		if id, ok := remoteIDFromPath(v); ok {
			return id, true
		}
	}
	// Older templates carry the id on the share-link anchor.
	if href, ok := row.Find("a[href*='/post-']").First().Attr("href"); ok {
		return remoteIDFromPath(href)
	}
	if v, ok := row.Attr("id"); ok {
		return remoteIDFromPath(v)
	}
	return "", false
}

func postAuthor(row *goquery.Selection) string {
	if author, ok := row.Attr("data-author"); ok && author != "" {
		return author
	}
	return strings.TrimSpace(row.Find("a.username").First().Text())
}

func postTimestamp(row *goquery.Selection) time.Time {
	if raw, ok := row.Find("time[datetime]").First().Attr("datetime"); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts
		}
	}
	return time.Now().UTC()
}

// postMedia collects media references from the four independent sources a
// post body can carry: embedded images, videos, attachment galleries, and
// external media links. Duplicate URLs within one post collapse to the first
// occurrence.
func postMedia(row, body *goquery.Selection, siteHost string) []Media {
	var media []Media
	seen := make(map[string]struct{})

	add := func(m Media) {
		if m.URL == "" {
			return
		}
		if _, dup := seen[m.URL]; dup {
			return
		}
		seen[m.URL] = struct{}{}
		media = append(media, m)
	}

	// Embedded images.
	body.Find("img.bbImage, img[data-src]").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			src, _ = img.Attr("data-src")
		}
		if src == "" {
			return
		}
		add(Media{Type: domain.MediaTypeImage, URL: src})
	})

	// Inline videos.
	body.Find("video source[src]").Each(func(_ int, src *goquery.Selection) {
		u, _ := src.Attr("src")
		add(Media{Type: domain.MediaTypeVideo, URL: u})
	})

	// Attachment gallery: full-size URL from the anchor, thumbnail from the
	// nested image, caption from the filename label, attachment id from the
	// anchor fragment when the template provides one.
	row.Find(attachmentSelector).Each(func(_ int, file *goquery.Selection) {
		anchor := file.Find("a[href]").First()
		href, ok := anchor.Attr("href")
		if !ok || href == "" {
			return
		}

		m := Media{Type: mediaTypeForURL(href, domain.MediaTypeImage), URL: href}

		if thumb, ok := file.Find("img").First().Attr("src"); ok && thumb != "" && thumb != href {
			m.ThumbnailURL = &thumb
		}
		if name := strings.TrimSpace(file.Find(".file-name, .attachment-name").First().Text()); name != "" {
			m.Filename = &name
		}
		if id, ok := attachmentID(anchor, href); ok {
			m.OriginalID = &id
		}
		add(m)
	})

	// External links whose target looks like media; unrecognized external
	// targets are kept as plain link references.
	body.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !isExternal(href, siteHost) {
			return
		}
		add(Media{Type: mediaTypeForURL(href, domain.MediaTypeLink), URL: href})
	})

	return media
}

// attachmentID parses the attachment-<id> convention from the anchor's
// fragment or id attribute. The convention does not hold on every template,
// so absence is not an error.
func attachmentID(anchor *goquery.Selection, href string) (domain.RemoteID, bool) {
	candidates := []string{href}
	if id, ok := anchor.Attr("id"); ok {
		candidates = append(candidates, id)
	}
	for _, c := range candidates {
		if m := attachmentIDPattern.FindStringSubmatch(c); m != nil {
			return domain.RemoteID(m[1]), true
		}
	}
	return "", false
}

// mediaTypeForURL maps a URL extension to a media type, returning fallback
// when the extension is unrecognized.
func mediaTypeForURL(rawURL string, fallback domain.MediaType) domain.MediaType {
	path := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		path = u.Path
	}
	ext := strings.ToLower(path)
	if i := strings.LastIndex(ext, "."); i >= 0 {
		ext = ext[i:]
	} else {
		return fallback
	}
	if _, ok := imageExtensions[ext]; ok {
		return domain.MediaTypeImage
	}
	if _, ok := videoExtensions[ext]; ok {
		return domain.MediaTypeVideo
	}
	return fallback
}

// isExternal reports whether href points outside the crawled site.
// Relative, same-site and fragment links are excluded to avoid classifying
// navigation as media.
func isExternal(href, siteHost string) bool {
	if href == "" || strings.HasPrefix(href, "#") {
		return false
	}
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return false
	}
	return !strings.EqualFold(u.Host, siteHost)
}

// LastPage derives the page count of a listing document. It prefers the
// jump-to-last-page control, falls back to the highest visible page number,
// and finally treats any visible listing rows as a single page. Zero means
// the listing is empty.
func LastPage(doc *goquery.Document, itemSelector string) int {
	if href, ok := doc.Find(lastPageSelector).First().Attr("href"); ok {
		if n := pageNumberFromURL(href); n > 0 {
			return n
		}
	}

	last := 0
	doc.Find(pageNavSelector).Each(func(_ int, el *goquery.Selection) {
		if n, err := strconv.Atoi(strings.TrimSpace(el.Text())); err == nil && n > last {
			last = n
		}
	})
	if last > 0 {
		return last
	}

	if doc.Find(itemSelector).Length() > 0 {
		return 1
	}
	return 0
}

// ThreadPageCount, ForumPageCount and IndexPageCount bind LastPage to the
// row selector of the respective listing type.
func ThreadPageCount(doc *goquery.Document) int {
	return LastPage(doc, postRowSelector)
}

func ForumPageCount(doc *goquery.Document) int {
	return LastPage(doc, threadRowSelector)
}

func IndexPageCount(doc *goquery.Document) int {
	return LastPage(doc, forumNodeSelector)
}
