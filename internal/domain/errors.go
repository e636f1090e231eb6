package domain

import "errors"

// Structural failures abort the whole operation. Per-item soft failures are
// counted in stats instead and never surface as errors.
var (
	ErrSiteNotFound   = errors.New("site not found")
	ErrForumNotFound  = errors.New("forum not found")
	ErrThreadNotFound = errors.New("thread not found")
	ErrTokenNotFound  = errors.New("csrf token not found")
	ErrEmptyLoginPage = errors.New("empty login page response")
	ErrLoginRejected  = errors.New("login rejected by site")
)
