package xenforo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/session"
)

// Credentials for the form-based login handshake.
type Credentials struct {
	Username string
	Password string
}

// Authenticator performs the multi-step login flow against a site and
// returns a session carrying the authenticated cookies. Variants exist
// because installs differ in how the handshake must be driven.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials, siteURL string) (*session.Session, error)
}

// Token extraction patterns, tried in order: modern hidden input, the same
// input with attribute order flipped, the legacy field name, the XF.config
// JS variable, and an embedded JSON field.
var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`name="_xfToken"\s+value="([^"]+)"`),
	regexp.MustCompile(`value="([^"]+)"\s+name="_xfToken"`),
	regexp.MustCompile(`name="csrf_token"\s+value="([^"]+)"`),
	regexp.MustCompile(`csrf:\s*'([^']+)'`),
	regexp.MustCompile(`"csrf"\s*:\s*"([^"]+)"`),
}

// ExtractToken returns the CSRF token embedded in a login page body,
// trying each known markup variant in order.
func ExtractToken(body string) (string, error) {
	for _, p := range tokenPatterns {
		if m := p.FindStringSubmatch(body); m != nil {
			return m[1], nil
		}
	}
	return "", domain.ErrTokenNotFound
}

// FormLogin is the standard XenForo login flow: fetch the login page,
// extract the CSRF token, POST the form, and read success off the redirect
// status.
type FormLogin struct {
	sessionCfg session.Config
	logger     *slog.Logger
}

func NewFormLogin(sessionCfg session.Config, logger *slog.Logger) *FormLogin {
	return &FormLogin{
		sessionCfg: sessionCfg,
		logger:     logger.With("component", "login"),
	}
}

func (f *FormLogin) Login(ctx context.Context, creds Credentials, siteURL string) (*session.Session, error) {
	sess, err := f.newSession(siteURL)
	if err != nil {
		return nil, err
	}
	if err := f.login(ctx, sess, creds, siteURL); err != nil {
		return nil, err
	}
	return sess, nil
}

func (f *FormLogin) newSession(siteURL string) (*session.Session, error) {
	cfg := f.sessionCfg
	cfg.BaseURL = siteURL
	return session.New(cfg)
}

func (f *FormLogin) login(ctx context.Context, sess *session.Session, creds Credentials, siteURL string) error {
	loginPage, err := sess.Do(ctx, session.Request{
		Method:          http.MethodGet,
		URL:             LoginPagePath,
		FollowRedirects: true,
	})
	if err != nil {
		return fmt.Errorf("fetch login page: %w", err)
	}
	if len(loginPage.Body) == 0 {
		return domain.ErrEmptyLoginPage
	}

	token, err := ExtractToken(string(loginPage.Body))
	if err != nil {
		return err
	}

	form := url.Values{}
	form.Set("_xfToken", token)
	form.Set("login", creds.Username)
	form.Set("password", creds.Password)
	form.Set("remember", "1")
	form.Set("_xfRedirect", "/")

	header := http.Header{}
	header.Set("Content-Type", "application/x-www-form-urlencoded")
	header.Set("X-Requested-With", "XMLHttpRequest")
	header.Set("Origin", siteURL)
	header.Set("Referer", siteURL+LoginPagePath)

	// Redirects stay manual: a 303 back to the forum is the success signal,
	// while a 200 means the login form was re-rendered with an error.
	resp, err := sess.Do(ctx, session.Request{
		Method:          http.MethodPost,
		URL:             LoginPostPath,
		Header:          header,
		Body:            []byte(form.Encode()),
		FollowRedirects: false,
	})
	if err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusSeeOther, http.StatusFound:
		f.logger.Info("login succeeded", "site", siteURL, "username", creds.Username)
		return nil
	default:
		f.logger.Warn("login rejected", "site", siteURL, "status", resp.StatusCode)
		return domain.ErrLoginRejected
	}
}

// WarmupFormLogin loads the site homepage before the login page so the
// server can seed its session cookies first. Some installs refuse the login
// POST without that prior visit.
type WarmupFormLogin struct {
	FormLogin
}

func NewWarmupFormLogin(sessionCfg session.Config, logger *slog.Logger) *WarmupFormLogin {
	return &WarmupFormLogin{FormLogin: *NewFormLogin(sessionCfg, logger)}
}

func (f *WarmupFormLogin) Login(ctx context.Context, creds Credentials, siteURL string) (*session.Session, error) {
	sess, err := f.newSession(siteURL)
	if err != nil {
		return nil, err
	}

	if _, err := sess.Do(ctx, session.Request{
		Method:          http.MethodGet,
		URL:             "/",
		FollowRedirects: true,
	}); err != nil {
		return nil, fmt.Errorf("warm up homepage: %w", err)
	}

	if err := f.login(ctx, sess, creds, siteURL); err != nil {
		return nil, err
	}
	return sess, nil
}
