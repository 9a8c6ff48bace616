package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/lestari/internal/auth"
	"github.com/TobiSchelling/lestari/internal/database"
	"github.com/TobiSchelling/lestari/internal/tracking"
)

type testEnv struct {
	db       *database.DB
	srv      *Server
	resolver *auth.Resolver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	tracker, err := tracking.New(db)
	if err != nil {
		t.Fatalf("failed to create tracker: %v", err)
	}
	resolver := auth.NewResolver([]byte("test-secret"), "lestari", "lestari_session", db)
	srv, err := New(db, tracker, resolver)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return &testEnv{db: db, srv: srv, resolver: resolver}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.resolver.IssueToken(userID, time.Hour)
	if err != nil {
		t.Fatalf("issuing token: %v", err)
	}
	return token
}

func (e *testEnv) article(t *testing.T, slug string) *database.Article {
	t.Helper()
	a, err := e.db.GetArticleBySlug(t.Context(), slug)
	if err != nil || a == nil {
		t.Fatalf("loading %s: %v, %v", slug, a, err)
	}
	return a
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestIndexRoute(t *testing.T) {
	env := newTestEnv(t)
	env.db.InsertArticle(t.Context(), "penyu-hijau", "Penyu Hijau", "Body")

	rec := env.do(httptest.NewRequest("GET", "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Penyu Hijau") {
		t.Error("expected article title in response body")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
}

func TestArticleRoute(t *testing.T) {
	env := newTestEnv(t)
	env.db.InsertArticle(t.Context(), "taman-nasional-baduy", "Taman Nasional Baduy", "## Hutan\nAdat *Baduy*.")

	rec := env.do(httptest.NewRequest("GET", "/articles/taman-nasional-baduy", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<h2>Hutan</h2>") {
		t.Error("expected rendered markdown heading")
	}
	if !strings.Contains(body, "<em>Baduy</em>") {
		t.Error("expected rendered emphasis")
	}

	rec = env.do(httptest.NewRequest("GET", "/articles/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown article, got %d", rec.Code)
	}
}

func TestViewRoute(t *testing.T) {
	env := newTestEnv(t)
	env.db.InsertArticle(t.Context(), "baduy", "Baduy", "")

	req := httptest.NewRequest("POST", "/articles/baduy/view", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	req.Header.Set("User-Agent", "test-agent")
	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])

	// Duplicate from the same first hop still answers 200.
	req = httptest.NewRequest("POST", "/articles/baduy/view", nil)
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])

	a := env.article(t, "baduy")
	assert.EqualValues(t, 1, a.ViewCount)
	events, err := env.db.ListViewEvents(t.Context(), a.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "1.2.3.4", events[0].SourceAddress)
	assert.Equal(t, "test-agent", events[0].UserAgent)
}

func TestViewRouteUnknownSlug(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest("POST", "/articles/missing/view", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, CodeNotFound, body["code"])
	assert.NotEmpty(t, body["error"])
}

func TestViewRouteStoreFailureIsOpaque(t *testing.T) {
	env := newTestEnv(t)
	env.db.InsertArticle(t.Context(), "closed", "Closed", "")
	env.db.Close()

	rec := env.do(httptest.NewRequest("POST", "/articles/closed/view", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, CodeInternal, body["code"])
	assert.Equal(t, "internal error", body["error"])
	assert.NotContains(t, rec.Body.String(), "sql")
}

func TestLikeRoute(t *testing.T) {
	env := newTestEnv(t)
	env.db.InsertArticle(t.Context(), "baduy", "Baduy", "")
	token := env.token(t, "u1")

	req := httptest.NewRequest("POST", "/articles/baduy/like", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["liked"])
	assert.EqualValues(t, 1, env.article(t, "baduy").LikeCount)

	req = httptest.NewRequest("POST", "/articles/baduy/like", nil)
	req.AddCookie(&http.Cookie{Name: "lestari_session", Value: token})
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["liked"])
	assert.EqualValues(t, 0, env.article(t, "baduy").LikeCount)
}

func TestLikeRouteUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	env.db.InsertArticle(t.Context(), "baduy", "Baduy", "")

	for _, header := range []string{"", "Bearer forged.token.value"} {
		req := httptest.NewRequest("POST", "/articles/baduy/like", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := env.do(req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, CodeUnauthorized, decode(t, rec)["code"])
	}

	a := env.article(t, "baduy")
	assert.EqualValues(t, 0, a.LikeCount)
	n, err := env.db.CountLikeMarks(t.Context(), a.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLikeRouteUnknownSlug(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest("POST", "/articles/missing/like", nil)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "u1"))
	rec := env.do(req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decode(t, rec)["code"])
}

func TestStatsRoute(t *testing.T) {
	env := newTestEnv(t)
	env.db.InsertArticle(t.Context(), "baduy", "Baduy", "")

	req := httptest.NewRequest("POST", "/articles/baduy/view", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	env.do(req)

	rec := env.do(httptest.NewRequest("GET", "/articles/baduy/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "baduy", body["slug"])
	assert.EqualValues(t, 1, body["view_count"])
	assert.EqualValues(t, 0, body["like_count"])
	assert.NotNil(t, body["last_read_at"])

	rec = env.do(httptest.NewRequest("GET", "/articles/missing/stats", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRepairRoute(t *testing.T) {
	env := newTestEnv(t)
	id, _ := env.db.InsertArticle(t.Context(), "baduy", "Baduy", "")
	require.NoError(t, env.db.SeedArticleCounters(t.Context(), id, 10, 3))

	// No session
	rec := env.do(httptest.NewRequest("POST", "/admin/repair", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Session without the admin role
	req := httptest.NewRequest("POST", "/admin/repair", nil)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "reader"))
	rec = env.do(req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, CodeForbidden, decode(t, rec)["code"])
	assert.EqualValues(t, 10, env.article(t, "baduy").ViewCount)

	require.NoError(t, env.db.GrantRole(t.Context(), "ops", auth.RoleAdmin, nil))
	req = httptest.NewRequest("POST", "/admin/repair", nil)
	req.Header.Set("Authorization", "Bearer "+env.token(t, "ops"))
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["repaired"])

	a := env.article(t, "baduy")
	assert.EqualValues(t, 0, a.ViewCount)
	assert.EqualValues(t, 0, a.LikeCount)
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	env.db.InsertArticle(t.Context(), "baduy", "Baduy", "")

	rec := env.do(httptest.NewRequest("GET", "/articles/baduy/view", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHealthRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest("GET", "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestStaticRoute(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest("GET", "/static/style.css", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-sans") {
		t.Error("expected CSS content")
	}
}

func TestRequestIDPropagates(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")

	rec := env.do(req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestClientAddress(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": " 1.2.3.4 , 5.6.7.8"}, "9.9.9.9:1", "1.2.3.4"},
		{"real ip", map[string]string{"X-Real-IP": "5.6.7.8"}, "9.9.9.9:1", "5.6.7.8"},
		{"empty forwarded falls through", map[string]string{"X-Forwarded-For": " , 1.1.1.1"}, "9.9.9.9:1", "9.9.9.9"},
		{"remote host", nil, "9.9.9.9:1234", "9.9.9.9"},
		{"remote without port", nil, "9.9.9.9", "9.9.9.9"},
		{"ipv6 remote", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"nothing", nil, "", tracking.UnknownAddress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tc.want, clientAddress(req))
		})
	}
}
