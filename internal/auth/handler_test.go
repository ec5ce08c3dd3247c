package auth

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/dbauth-demo/internal/audit"
	"github.com/yourusername/dbauth-demo/internal/session"
	"github.com/yourusername/dbauth-demo/internal/users"
)

type memoryStore struct {
	mu    sync.Mutex
	users map[string]*users.User
	perms map[int64][]string
}

func (s *memoryStore) FindActiveUser(ctx context.Context, login string) (*users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[login]
	if !ok || u.Disabled {
		return nil, nil
	}
	return u, nil
}

func (s *memoryStore) Permissions(ctx context.Context, userID int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perms[userID], nil
}

func (s *memoryStore) disable(login string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[login].Disabled = true
}

func newMemoryStore(t *testing.T) *memoryStore {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	return &memoryStore{
		users: map[string]*users.User{
			"admin":     {ID: 1, Login: "admin", PasswdHash: string(hash), IsSuperuser: true},
			"moderator": {ID: 2, Login: "moderator", PasswdHash: string(hash)},
			"user":      {ID: 3, Login: "user", PasswdHash: string(hash)},
		},
		perms: map[int64][]string{
			2: {"protected", "public"},
			3: {"public"},
		},
	}
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Record(ctx context.Context, event audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingAuditor) kinds() []audit.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]audit.Kind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func newTestRouter(t *testing.T, store users.Store, opts WebOptions) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	policy, err := users.NewPolicy(store)
	if err != nil {
		t.Fatalf("NewPolicy returned error: %v", err)
	}
	identity := session.NewCookiePolicy(session.Lifetime{MaxLifetime: time.Hour, IdleTimeout: 30 * time.Minute}, false)
	sec, err := NewSecurity(identity, policy)
	if err != nil {
		t.Fatalf("NewSecurity returned error: %v", err)
	}
	web, err := NewWeb(sec, sec, sec, opts)
	if err != nil {
		t.Fatalf("NewWeb returned error: %v", err)
	}

	router := gin.New()
	router.Use(sessions.Sessions(session.CookieName, cookie.NewStore([]byte("test-secret"))))
	router.Use(UseStore(store))
	web.Configure(router)
	return router
}

// browser はレスポンスの Set-Cookie を次のリクエストに引き継ぎます。
type browser struct {
	t       *testing.T
	router  http.Handler
	cookies map[string]*http.Cookie
}

func newBrowser(t *testing.T, router http.Handler) *browser {
	return &browser{t: t, router: router, cookies: map[string]*http.Cookie{}}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	for _, ck := range b.cookies {
		req.AddCookie(ck)
	}
	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)
	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 {
			delete(b.cookies, ck.Name)
			continue
		}
		b.cookies[ck.Name] = ck
	}
	return rec
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) login(login, password string) *httptest.ResponseRecorder {
	form := url.Values{}
	form.Set("login", login)
	form.Set("password", password)
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(req)
}

func TestIndexAnonymous(t *testing.T) {
	b := newBrowser(t, newTestRouter(t, newMemoryStore(t), WebOptions{}))

	rec := b.get("/")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "You need to login") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content-type: %s", ct)
	}
}

func TestLoginSuccessRemembersIdentity(t *testing.T) {
	b := newBrowser(t, newTestRouter(t, newMemoryStore(t), WebOptions{}))

	rec := b.login("user", "password")
	if rec.Code != http.StatusFound {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/" {
		t.Fatalf("unexpected Location: %s", loc)
	}
	if _, ok := b.cookies[session.CookieName]; !ok {
		t.Fatal("expected session cookie on redirect")
	}

	rec = b.get("/")
	if !strings.Contains(rec.Body.String(), "Hello, user!") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestLoginRejectsInvalidSubmissions(t *testing.T) {
	router := newTestRouter(t, newMemoryStore(t), WebOptions{})

	multipartLogin := func() *http.Request {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		fileWriter, err := writer.CreateFormFile("login", "login.txt")
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := fileWriter.Write([]byte("user")); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
		if err := writer.WriteField("password", "password"); err != nil {
			t.Fatalf("failed to write password field: %v", err)
		}
		if err := writer.Close(); err != nil {
			t.Fatalf("failed to close writer: %v", err)
		}
		req := httptest.NewRequest(http.MethodPost, "/login", body)
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req
	}

	formRequest := func(values url.Values) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(values.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req
	}

	jsonRequest := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"login":"user","password":"password"}`))
		req.Header.Set("Content-Type", "application/json")
		return req
	}

	cases := map[string]*http.Request{
		"wrong password":  formRequest(url.Values{"login": {"user"}, "password": {"nope"}}),
		"unknown user":    formRequest(url.Values{"login": {"ghost"}, "password": {"password"}}),
		"missing field":   formRequest(url.Values{"login": {"user"}}),
		"file as login":   multipartLogin(),
		"json submission": jsonRequest(),
	}

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("unexpected status: %d", rec.Code)
			}
			if rec.Body.String() != "Invalid username/password combination" {
				t.Fatalf("unexpected body: %q", rec.Body.String())
			}
			if len(rec.Result().Cookies()) != 0 {
				t.Fatal("rejected login must not set a session cookie")
			}
		})
	}
}

func TestLogoutRequiresLogin(t *testing.T) {
	b := newBrowser(t, newTestRouter(t, newMemoryStore(t), WebOptions{}))

	rec := b.get("/logout")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestLogoutForgetsIdentity(t *testing.T) {
	b := newBrowser(t, newTestRouter(t, newMemoryStore(t), WebOptions{}))

	b.login("user", "password")
	rec := b.get("/logout")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec.Body.String() != "You have been logged out" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}

	rec = b.get("/")
	if !strings.Contains(rec.Body.String(), "You need to login") {
		t.Fatalf("expected logged-out prompt, got: %s", rec.Body.String())
	}
	if rec = b.get("/logout"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("second logout should be unauthorized, got %d", rec.Code)
	}
}

func TestPermissionPages(t *testing.T) {
	cases := []struct {
		name   string
		login  string
		path   string
		status int
		body   string
	}{
		{"anonymous public", "", "/public", http.StatusUnauthorized, "401: Unauthorized"},
		{"anonymous protected", "", "/protected", http.StatusUnauthorized, "401: Unauthorized"},
		{"user public", "user", "/public", http.StatusOK, "This page is visible for all registered users"},
		{"user protected", "user", "/protected", http.StatusForbidden, "403: Forbidden"},
		{"moderator protected", "moderator", "/protected", http.StatusOK, "You are on protected page"},
		{"superuser protected", "admin", "/protected", http.StatusOK, "You are on protected page"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newBrowser(t, newTestRouter(t, newMemoryStore(t), WebOptions{}))
			if tc.login != "" {
				if rec := b.login(tc.login, "password"); rec.Code != http.StatusFound {
					t.Fatalf("login failed: %d", rec.Code)
				}
			}
			rec := b.get(tc.path)
			if rec.Code != tc.status {
				t.Fatalf("unexpected status: %d", rec.Code)
			}
			if rec.Body.String() != tc.body {
				t.Fatalf("unexpected body: %q", rec.Body.String())
			}
		})
	}
}

func TestPermissionCheckDoesNotChangeLoginState(t *testing.T) {
	b := newBrowser(t, newTestRouter(t, newMemoryStore(t), WebOptions{}))

	b.login("user", "password")
	if rec := b.get("/protected"); rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec := b.get("/"); !strings.Contains(rec.Body.String(), "Hello, user!") {
		t.Fatalf("expected session to survive a forbidden request: %s", rec.Body.String())
	}
}

func TestDisabledAccountLosesSession(t *testing.T) {
	store := newMemoryStore(t)
	b := newBrowser(t, newTestRouter(t, store, WebOptions{}))

	b.login("moderator", "password")
	store.disable("moderator")

	if rec := b.get("/"); !strings.Contains(rec.Body.String(), "You need to login") {
		t.Fatalf("disabled account must be anonymous: %s", rec.Body.String())
	}
	if rec := b.get("/protected"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestIndexEscapesUsername(t *testing.T) {
	store := newMemoryStore(t)
	store.users["<b>x</b>"] = &users.User{ID: 9, Login: "<b>x</b>", PasswdHash: store.users["user"].PasswdHash}
	b := newBrowser(t, newTestRouter(t, store, WebOptions{}))

	b.login("<b>x</b>", "password")
	rec := b.get("/")
	if strings.Contains(rec.Body.String(), "<b>x</b>") {
		t.Fatalf("username must be escaped: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Hello, &lt;b&gt;x&lt;/b&gt;!") {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestLoginLockout(t *testing.T) {
	auditor := &recordingAuditor{}
	router := newTestRouter(t, newMemoryStore(t), WebOptions{
		Limiter: NewLoginLimiter(2, time.Minute, time.Minute),
		Auditor: auditor,
	})
	b := newBrowser(t, router)

	for i := 0; i < 2; i++ {
		if rec := b.login("user", "wrong"); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: unexpected status %d", i, rec.Code)
		}
	}

	rec := b.login("user", "password")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	want := []audit.Kind{audit.KindLoginFailed, audit.KindLoginFailed, audit.KindLoginLocked}
	got := auditor.kinds()
	if len(got) != len(want) {
		t.Fatalf("unexpected audit events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("audit[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestAuditRecordsLoginAndLogout(t *testing.T) {
	auditor := &recordingAuditor{}
	b := newBrowser(t, newTestRouter(t, newMemoryStore(t), WebOptions{Auditor: auditor}))

	b.login("user", "password")
	b.get("/logout")

	got := auditor.kinds()
	if len(got) != 2 || got[0] != audit.KindLoginSucceeded || got[1] != audit.KindLogout {
		t.Fatalf("unexpected audit events: %v", got)
	}
	if auditor.events[1].Login != "user" {
		t.Fatalf("unexpected logout login: %s", auditor.events[1].Login)
	}
}

func TestLoginVerifierErrorIsServerError(t *testing.T) {
	verify := func(ctx context.Context, store users.Store, login, password string) (bool, error) {
		return false, errors.New("db down")
	}
	b := newBrowser(t, newTestRouter(t, newMemoryStore(t), WebOptions{Verify: verify}))

	if rec := b.login("user", "password"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestLoginPassesContextStoreToVerifier(t *testing.T) {
	store := newMemoryStore(t)
	var seen users.Store
	verify := func(ctx context.Context, s users.Store, login, password string) (bool, error) {
		seen = s
		return true, nil
	}
	b := newBrowser(t, newTestRouter(t, store, WebOptions{Verify: verify}))

	if rec := b.login("user", "anything"); rec.Code != http.StatusFound {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if seen != users.Store(store) {
		t.Fatal("verifier did not receive the store from the request context")
	}
}

func TestLoginWithoutStoreIsServerError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	store := newMemoryStore(t)
	policy, _ := users.NewPolicy(store)
	sec, _ := NewSecurity(session.NewCookiePolicy(session.Lifetime{MaxLifetime: time.Hour, IdleTimeout: time.Hour}, false), policy)
	web, _ := NewWeb(sec, sec, sec, WebOptions{})

	router := gin.New()
	router.Use(sessions.Sessions(session.CookieName, cookie.NewStore([]byte("test-secret"))))
	web.Configure(router)

	if rec := newBrowser(t, router).login("user", "password"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestNewWebRequiresCollaborators(t *testing.T) {
	if _, err := NewWeb(nil, nil, nil, WebOptions{}); err == nil {
		t.Fatal("expected error for missing collaborators")
	}
	if _, err := NewSecurity(nil, nil); err == nil {
		t.Fatal("expected error for missing policies")
	}
}
