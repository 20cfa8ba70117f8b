package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tailscale-portfolio/directory-ui/internal/directory"
	"github.com/tailscale-portfolio/directory-ui/internal/session"
	"github.com/tailscale-portfolio/directory-ui/internal/viewstate"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type stubFetcher struct {
	mu    sync.Mutex
	users []directory.User
	err   error
	gate  chan struct{}
	calls atomic.Int32
}

func (f *stubFetcher) set(users []directory.User, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users, f.err = users, err
}

func (f *stubFetcher) FetchAllUsers(ctx context.Context) ([]directory.User, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users, f.err
}

type harness struct {
	srv     *httptest.Server
	client  *http.Client
	views   *viewstate.Registry
	fetcher *stubFetcher
}

func newHarness(t *testing.T, fetcher *stubFetcher) *harness {
	t.Helper()
	store, err := session.NewStore(testSecret, false)
	require.NoError(t, err)
	views := viewstate.NewRegistry(context.Background(), fetcher, zap.NewNop())

	app, err := NewApp(Options{
		Sessions:         store,
		DevIdentityEmail: "dev@example.com",
		Views:            views,
		Logger:           zap.NewNop(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(app.Routes())
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := srv.Client()
	client.Jar = jar

	t.Cleanup(func() {
		srv.Close()
		views.Close()
	})
	return &harness{srv: srv, client: client, views: views, fetcher: fetcher}
}

func (h *harness) get(t *testing.T, path string) (int, string) {
	t.Helper()
	res, err := h.client.Get(h.srv.URL + path)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(body)
}

func (h *harness) post(t *testing.T, path string) int {
	t.Helper()
	res, err := h.client.Post(h.srv.URL+path, "application/x-www-form-urlencoded", nil)
	require.NoError(t, err)
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	return res.StatusCode
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	status, _ := h.get(t, "/login")
	require.Equal(t, http.StatusOK, status)
}

// eventuallyHome polls the home page until it contains want.
func (h *harness) eventuallyHome(t *testing.T, want string) string {
	t.Helper()
	var (
		mu   sync.Mutex
		body string
	)
	require.Eventually(t, func() bool {
		res, err := h.client.Get(h.srv.URL + "/")
		if err != nil {
			return false
		}
		defer res.Body.Close()
		raw, err := io.ReadAll(res.Body)
		if err != nil {
			return false
		}
		mu.Lock()
		body = string(raw)
		mu.Unlock()
		return strings.Contains(string(raw), want)
	}, time.Second, 5*time.Millisecond, "home page never contained %q", want)
	mu.Lock()
	defer mu.Unlock()
	return body
}

var sampleUsers = []directory.User{
	{ID: "3f2c9a1b-7d4e-4c1a-9f00-000000000001", Email: "dana@example.com", CreatedAt: "2024-03-01T10:15:30.123456"},
	{ID: "8a7b6c5d-7d4e-4c1a-9f00-000000000002", Email: "lee@example.com", IsDeleted: true, CreatedAt: "2024-01-05T08:00:00Z"},
}

func TestHomeAnonymousNeverFetches(t *testing.T) {
	h := newHarness(t, &stubFetcher{users: sampleUsers})

	status, body := h.get(t, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "Sign in to see the list of registered users")
	assert.NotContains(t, body, "<table")
	assert.Zero(t, h.fetcher.calls.Load())
	assert.Zero(t, h.views.Len())
}

func TestHomeRendersUsers(t *testing.T) {
	h := newHarness(t, &stubFetcher{users: sampleUsers})
	h.login(t)

	body := h.eventuallyHome(t, "<table")
	assert.Contains(t, body, "Welcome, dev@example.com!")
	assert.Contains(t, body, "Registered users (2)")
	assert.Contains(t, body, "3f2c9a1b...")
	assert.Contains(t, body, "lee@example.com")
	assert.Contains(t, body, "1 Mar 2024, 10:15")
	assert.Contains(t, body, "5 Jan 2024, 08:00")
	assert.Contains(t, body, `<span class="badge deleted">Deleted</span>`)
	assert.Contains(t, body, `<span class="badge active">Active</span>`)
	assert.Less(t, strings.Index(body, "dana@example.com"), strings.Index(body, "lee@example.com"))
	assert.EqualValues(t, 1, h.fetcher.calls.Load())
}

func TestHomeEmptyState(t *testing.T) {
	h := newHarness(t, &stubFetcher{users: []directory.User{}})
	h.login(t)

	body := h.eventuallyHome(t, "No registered users.")
	assert.NotContains(t, body, "<table")
	assert.Contains(t, body, `dot degraded`)
}

func TestHomeLoadingRefreshes(t *testing.T) {
	fetcher := &stubFetcher{users: sampleUsers, gate: make(chan struct{})}
	h := newHarness(t, fetcher)
	h.login(t)

	_, body := h.get(t, "/")
	assert.Contains(t, body, "Loading users...")
	assert.Contains(t, body, `http-equiv="refresh"`)

	close(fetcher.gate)
	body = h.eventuallyHome(t, "<table")
	assert.NotContains(t, body, `http-equiv="refresh"`)
}

func TestHomeErrorAndRetry(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("timeout")}
	h := newHarness(t, fetcher)
	h.login(t)

	body := h.eventuallyHome(t, "Error: timeout")
	assert.Contains(t, body, `action="/retry"`)

	fetcher.set(sampleUsers, nil)
	assert.Equal(t, http.StatusOK, h.post(t, "/retry"))

	h.eventuallyHome(t, "<table")
	assert.EqualValues(t, 2, fetcher.calls.Load())
}

func TestRetryWithoutSessionRedirectsToLogin(t *testing.T) {
	h := newHarness(t, &stubFetcher{})
	h.client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	res, err := h.client.Post(h.srv.URL+"/retry", "", nil)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusSeeOther, res.StatusCode)
	assert.Equal(t, "/login", res.Header.Get("Location"))
	assert.Zero(t, h.fetcher.calls.Load())
}

func TestLogoutUnmountsView(t *testing.T) {
	h := newHarness(t, &stubFetcher{users: sampleUsers})
	h.login(t)
	h.eventuallyHome(t, "<table")
	require.Equal(t, 1, h.views.Len())

	_, body := h.get(t, "/logout")
	assert.Contains(t, body, "Sign in")
	assert.Zero(t, h.views.Len())
}

func TestViewStateJSON(t *testing.T) {
	h := newHarness(t, &stubFetcher{users: sampleUsers})

	_, body := h.get(t, "/view-state")
	assert.JSONEq(t, `{"status": "unauthenticated", "generation": 0}`, body)

	h.login(t)
	h.eventuallyHome(t, "<table")

	_, body = h.get(t, "/view-state")
	var st struct {
		Status   string           `json:"status"`
		Users    []directory.User `json:"users"`
		Identity struct {
			Email string `json:"email"`
		} `json:"identity"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &st))
	assert.Equal(t, "success", st.Status)
	assert.Equal(t, sampleUsers, st.Users)
	assert.Equal(t, "dev@example.com", st.Identity.Email)
	assert.EqualValues(t, 1, h.fetcher.calls.Load())
}

func TestViewStateDoesNotMount(t *testing.T) {
	h := newHarness(t, &stubFetcher{users: sampleUsers})
	h.login(t)
	h.eventuallyHome(t, "<table")
	h.views.Close()
	require.Zero(t, h.views.Len())

	status, body := h.get(t, "/view-state")
	assert.Equal(t, http.StatusNotFound, status)
	assert.JSONEq(t, `{"error": "view not mounted"}`, body)
	assert.Zero(t, h.views.Len())
	assert.EqualValues(t, 1, h.fetcher.calls.Load())
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, &stubFetcher{})
	status, _ := h.get(t, "/healthz")
	assert.Equal(t, http.StatusNoContent, status)
}

func TestCallbackNotRoutedInDevMode(t *testing.T) {
	h := newHarness(t, &stubFetcher{})
	status, _ := h.get(t, "/callback?state=x&code=y")
	assert.Equal(t, http.StatusNotFound, status)
}

func TestNewAppRequiresLogin(t *testing.T) {
	store, err := session.NewStore(testSecret, false)
	require.NoError(t, err)
	views := viewstate.NewRegistry(context.Background(), &stubFetcher{}, nil)

	_, err = NewApp(Options{Sessions: store, Views: views})
	require.Error(t, err)

	_, err = NewApp(Options{DevIdentityEmail: "dev@example.com"})
	require.Error(t, err)
}

func TestNewHomePage(t *testing.T) {
	identity := &viewstate.Identity{Subject: "s", Email: "dana@example.com"}

	page := newHomePage(viewstate.State{Status: viewstate.StatusUnauthenticated})
	assert.False(t, page.Signed)

	page = newHomePage(viewstate.State{Status: viewstate.StatusError, ErrorMessage: "boom", Identity: identity})
	assert.True(t, page.Failed)
	assert.Equal(t, "boom", page.Error)
	assert.Empty(t, page.Rows)

	page = newHomePage(viewstate.State{Status: viewstate.StatusSuccess, Users: []directory.User{}, Identity: identity})
	assert.True(t, page.Empty)
	assert.False(t, page.BackendUp)

	page = newHomePage(viewstate.State{
		Status:   viewstate.StatusSuccess,
		Users:    []directory.User{{ID: "abc", Email: "a@example.com", CreatedAt: "last week"}},
		Identity: identity,
	})
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "last week", page.Rows[0].Created)
	assert.True(t, page.BackendUp)

	page = newHomePage(viewstate.State{Status: viewstate.StatusLoading, Users: sampleUsers, Identity: identity})
	assert.True(t, page.Loading)
	assert.Equal(t, 2, page.Count)
	assert.True(t, page.BackendUp)

	page = newHomePage(viewstate.State{Status: viewstate.StatusLoading, Identity: identity})
	assert.False(t, page.BackendUp)
}

func TestRecoveryHandler(t *testing.T) {
	handler := recoveryHandler(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
