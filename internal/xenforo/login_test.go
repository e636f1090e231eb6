package xenforo

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thanhtunguet/xenforo-media-crawler/internal/domain"
	"github.com/thanhtunguet/xenforo-media-crawler/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "modern hidden input",
			body: `<input type="hidden" name="_xfToken" value="tok-modern" />`,
			want: "tok-modern",
		},
		{
			name: "attribute order flipped",
			body: `<input type="hidden" value="tok-flipped" name="_xfToken" />`,
			want: "tok-flipped",
		},
		{
			name: "legacy field only",
			body: `<input type="hidden" name="csrf_token" value="tok-legacy" />`,
			want: "tok-legacy",
		},
		{
			name: "js config variable",
			body: `<script>XF.config({csrf: 'tok-js', time: 1});</script>`,
			want: "tok-js",
		},
		{
			name: "embedded json",
			body: `<script>{"csrf": "tok-json"}</script>`,
			want: "tok-json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractToken(tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractToken_NotFound(t *testing.T) {
	_, err := ExtractToken(`<html><body>no token anywhere</body></html>`)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func loginServer(t *testing.T, token string, handlePost func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "xf_session", Value: "s-123", Path: "/"})
		fmt.Fprintf(w, `<form><input type="hidden" name="_xfToken" value="%s" /></form>`, token)
	})
	mux.HandleFunc("/login/login", handlePost)
	return httptest.NewServer(mux)
}

func TestFormLogin_Success(t *testing.T) {
	var gotForm map[string]string

	srv := loginServer(t, "tok-1", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"_xfToken": r.PostFormValue("_xfToken"),
			"login":    r.PostFormValue("login"),
			"password": r.PostFormValue("password"),
			"remember": r.PostFormValue("remember"),
		}

		// Session cookie must have been replayed from the login page fetch.
		cookie, err := r.Cookie("xf_session")
		require.NoError(t, err)
		assert.Equal(t, "s-123", cookie.Value)

		assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
		assert.NotEmpty(t, r.Header.Get("Origin"))
		assert.NotEmpty(t, r.Header.Get("Referer"))

		http.SetCookie(w, &http.Cookie{Name: "xf_user", Value: "u-456", Path: "/"})
		w.Header().Set("Location", "/")
		w.WriteHeader(http.StatusSeeOther)
	})
	defer srv.Close()

	auth := NewFormLogin(session.Config{}, testLogger())
	sess, err := auth.Login(context.Background(), Credentials{Username: "alice", Password: "secret"}, srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "tok-1", gotForm["_xfToken"])
	assert.Equal(t, "alice", gotForm["login"])
	assert.Equal(t, "secret", gotForm["password"])
	assert.Equal(t, "1", gotForm["remember"])

	// Cookies from the non-followed redirect response are kept on the session.
	names := make(map[string]string)
	for _, c := range sess.Cookies(srv.URL) {
		names[c.Name] = c.Value
	}
	assert.Equal(t, "s-123", names["xf_session"])
	assert.Equal(t, "u-456", names["xf_user"])
}

func TestFormLogin_RejectedCredentials(t *testing.T) {
	srv := loginServer(t, "tok-1", func(w http.ResponseWriter, r *http.Request) {
		// Re-rendered form instead of a redirect means rejection.
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	auth := NewFormLogin(session.Config{}, testLogger())
	_, err := auth.Login(context.Background(), Credentials{Username: "alice", Password: "wrong"}, srv.URL)
	assert.ErrorIs(t, err, domain.ErrLoginRejected)
}

func TestFormLogin_TokenMissing(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/login/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>maintenance page</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	auth := NewFormLogin(session.Config{}, testLogger())
	_, err := auth.Login(context.Background(), Credentials{}, srv.URL)
	assert.ErrorIs(t, err, domain.ErrTokenNotFound)
}

func TestWarmupFormLogin_VisitsHomepageFirst(t *testing.T) {
	var homepageHits int

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		homepageHits++
		http.SetCookie(w, &http.Cookie{Name: "xf_csrf", Value: "seed", Path: "/"})
		fmt.Fprint(w, `<html></html>`)
	})
	mux.HandleFunc("/login/", func(w http.ResponseWriter, r *http.Request) {
		// The warmup cookie must already be present here.
		cookie, err := r.Cookie("xf_csrf")
		require.NoError(t, err)
		assert.Equal(t, "seed", cookie.Value)
		fmt.Fprint(w, `<input type="hidden" name="_xfToken" value="tok-w" />`)
	})
	mux.HandleFunc("/login/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/")
		w.WriteHeader(http.StatusSeeOther)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	auth := NewWarmupFormLogin(session.Config{}, testLogger())
	_, err := auth.Login(context.Background(), Credentials{Username: "bob", Password: "pw"}, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, homepageHits)
}
