package xenforo

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/session"
)

// Client fetches listing pages over an authenticated session and extracts
// them into records. All outbound URLs are built from remote ids; local
// surrogate ids never appear here.
type Client struct {
	sess     *session.Session
	siteHost string
	logger   *slog.Logger
}

func NewClient(sess *session.Session, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(sess.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse site url: %w", err)
	}
	return &Client{
		sess:     sess,
		siteHost: u.Host,
		logger:   logger.With("component", "xenforo"),
	}, nil
}

// FetchForums extracts one page of the site's forum index and the index's
// total page count.
func (c *Client) FetchForums(ctx context.Context, page int) ([]Forum, int, error) {
	doc, err := c.fetchDocument(ctx, IndexPagePath(page))
	if err != nil {
		return nil, 0, err
	}
	forums := Forums(doc)
	c.logger.Debug("extracted forums", "page", page, "count", len(forums))
	return forums, IndexPageCount(doc), nil
}

// FetchThreads extracts one page of a forum's thread listing and the
// forum's total page count.
func (c *Client) FetchThreads(ctx context.Context, forumID domain.RemoteID, page int) ([]Thread, int, error) {
	doc, err := c.fetchDocumentStatus(ctx, ForumPagePath(forumID, page), domain.ErrForumNotFound)
	if err != nil {
		return nil, 0, err
	}
	threads := Threads(doc)
	c.logger.Debug("extracted threads", "forum", forumID, "page", page, "count", len(threads))
	return threads, ForumPageCount(doc), nil
}

// FetchPosts extracts one page of a thread's posts and the thread's total
// page count.
func (c *Client) FetchPosts(ctx context.Context, threadID domain.RemoteID, page int) ([]Post, int, error) {
	doc, err := c.fetchDocumentStatus(ctx, ThreadPagePath(threadID, page), domain.ErrThreadNotFound)
	if err != nil {
		return nil, 0, err
	}
	posts := Posts(doc, c.siteHost)
	c.logger.Debug("extracted posts", "thread", threadID, "page", page, "count", len(posts))
	return posts, ThreadPageCount(doc), nil
}

// StreamMedia opens a streaming response for a media URL. cookieHeader
// overrides the session cookies when the caller supplies its own auth.
func (c *Client) StreamMedia(ctx context.Context, mediaURL, cookieHeader string) (*http.Response, error) {
	header := http.Header{}
	if cookieHeader != "" {
		header.Set("Cookie", cookieHeader)
	}
	return c.sess.Stream(ctx, session.Request{
		Method:          http.MethodGet,
		URL:             mediaURL,
		Header:          header,
		FollowRedirects: true,
	})
}

func (c *Client) fetchDocument(ctx context.Context, path string) (*goquery.Document, error) {
	return c.fetchDocumentStatus(ctx, path, nil)
}

func (c *Client) fetchDocumentStatus(ctx context.Context, path string, notFound error) (*goquery.Document, error) {
	resp, err := c.sess.Do(ctx, session.Request{
		Method:          http.MethodGet,
		URL:             path,
		FollowRedirects: true,
	})
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && notFound != nil:
		return nil, notFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch %s: unexpected status %d", path, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}
