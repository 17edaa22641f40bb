package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwsrs/reviews/internal/offline/db"
	"github.com/mwsrs/reviews/internal/offline/gateway"
	"github.com/mwsrs/reviews/internal/offline/schema"
	"github.com/mwsrs/reviews/internal/offline/sync"
)

type testEnv struct {
	proxy     *Interceptor
	store     *db.DB
	apiSrv    *httptest.Server
	staticSrv *httptest.Server
	otherSrv  *httptest.Server

	mu          gosync.Mutex
	staticHits  map[string]int
	apiOffline  bool
	apiRequests []string
}

func (e *testEnv) staticCount(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.staticHits[path]
}

func setupProxy(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{staticHits: make(map[string]int)}
	quiet := log.New(io.Discard, "", 0)

	env.otherSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "third party")
	}))
	t.Cleanup(env.otherSrv.Close)

	env.staticSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.mu.Lock()
		env.staticHits[r.URL.Path]++
		env.mu.Unlock()
		switch r.URL.Path {
		case "/", "/index.html":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<h1>Restaurant Reviews</h1>")
		case "/css/styles.css":
			w.Header().Set("Content-Type", "text/css")
			_, _ = io.WriteString(w, "body{margin:0}")
		case "/elsewhere":
			http.Redirect(w, r, env.otherSrv.URL+"/x", http.StatusFound)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(env.staticSrv.Close)

	env.apiSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.mu.Lock()
		offline := env.apiOffline
		env.apiRequests = append(env.apiRequests, r.Method+" "+r.URL.RequestURI())
		env.mu.Unlock()
		if offline {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/restaurants/5":
			_, _ = io.WriteString(w, `{"id":5,"name":"Cafe"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/reviews/":
			_, _ = io.WriteString(w, `[
				{"id":1,"restaurant_id":2,"name":"A","rating":3,"comments":"x","updatedAt":"2018-01-01T00:00:00Z"},
				{"id":2,"restaurant_id":2,"name":"B","rating":4,"comments":"y","updatedAt":"2018-03-01T00:00:00Z"},
				{"id":3,"restaurant_id":2,"name":"C","rating":5,"comments":"z","updatedAt":"2018-02-01T00:00:00Z"}
			]`)
		case r.Method == http.MethodPost && r.URL.Path == "/reviews":
			body, _ := io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(body)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(env.apiSrv.Close)

	store, err := db.Open(filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	env.store = store

	api, err := gateway.New(gateway.Config{BaseURL: env.apiSrv.URL, Logger: quiet})
	require.NoError(t, err)
	coord := sync.New(store, api, quiet)

	assets, err := NewAssetCache("test-v1", 16, store)
	require.NoError(t, err)

	env.proxy, err = New(coord, api, assets, Config{StaticOrigin: env.staticSrv.URL, Logger: quiet})
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(method, target string, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	e.proxy.ServeHTTP(rec, req)
	return rec
}

func TestStaticCacheOrFetch(t *testing.T) {
	env := setupProxy(t)
	target := env.staticSrv.URL + "/css/styles.css"

	first := env.do(http.MethodGet, target, "")
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "body{margin:0}", first.Body.String())

	second := env.do(http.MethodGet, target, "")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, "text/css", second.Header().Get("Content-Type"))
	assert.Equal(t, 1, env.staticCount("/css/styles.css"))

	a, err := env.store.GetAsset(context.Background(), "test-v1", target)
	require.NoError(t, err)
	assert.Equal(t, "body{margin:0}", string(a.Body))
}

func TestStaticDirectRequestUsesStaticOrigin(t *testing.T) {
	env := setupProxy(t)

	rec := env.do(http.MethodGet, "/css/styles.css", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "body{margin:0}", rec.Body.String())

	rec = env.do(http.MethodGet, env.staticSrv.URL+"/css/styles.css", "")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, 1, env.staticCount("/css/styles.css"))
}

func TestStaticOtherHostFetchedFromItsOwnTarget(t *testing.T) {
	env := setupProxy(t)
	target := env.otherSrv.URL + "/css/styles.css"

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodGet, target, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "third party", rec.Body.String())
		assert.Empty(t, rec.Header().Get("X-Cache"))
	}
	assert.Equal(t, 0, env.staticCount("/css/styles.css"))

	_, ok := env.proxy.assets.Get(context.Background(), target)
	assert.False(t, ok)
	_, ok = env.proxy.assets.Get(context.Background(), env.staticSrv.URL+"/css/styles.css")
	assert.False(t, ok, "another host's reply must not fill the static origin's entry")
}

func TestStaticETagRevalidation(t *testing.T) {
	env := setupProxy(t)
	first := env.do(http.MethodGet, env.staticSrv.URL+"/", "")
	tag := first.Header().Get("ETag")
	require.NotEmpty(t, tag)

	req := httptest.NewRequest(http.MethodGet, env.staticSrv.URL+"/", nil)
	req.Header.Set("If-None-Match", tag)
	rec := httptest.NewRecorder()
	env.proxy.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
}

func TestStaticNon200NotCached(t *testing.T) {
	env := setupProxy(t)

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodGet, env.staticSrv.URL+"/missing.js", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
	assert.Equal(t, 2, env.staticCount("/missing.js"))
}

func TestStaticCrossOriginNotCached(t *testing.T) {
	env := setupProxy(t)

	rec := env.do(http.MethodGet, env.staticSrv.URL+"/elsewhere", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "third party", rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Cache"))
	_, ok := env.proxy.assets.Get(context.Background(), env.staticSrv.URL+"/elsewhere")
	assert.False(t, ok)
}

func TestAPIReadIsCacheFirst(t *testing.T) {
	env := setupProxy(t)
	target := env.apiSrv.URL + "/restaurants/5"

	rec := env.do(http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got schema.Restaurant
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.EqualValues(t, 5, got.ID)
	assert.Equal(t, "Cafe", got.Name)

	env.mu.Lock()
	env.apiOffline = true
	env.mu.Unlock()

	rec = env.do(http.MethodGet, target, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, env.apiSrv.URL+"/restaurants/6", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAPIReadUnknownIDIsNotFound(t *testing.T) {
	env := setupProxy(t)

	rec := env.do(http.MethodGet, env.apiSrv.URL+"/restaurants/6", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIReviewsSortedNewestFirst(t *testing.T) {
	env := setupProxy(t)

	rec := env.do(http.MethodGet, env.apiSrv.URL+"/reviews/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []schema.Review
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	var ids []int64
	for _, r := range got {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []int64{2, 3, 1}, ids)

	rec = env.do(http.MethodGet, env.apiSrv.URL+"/reviews/?restaurant_id=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 3)
}

func TestAPIWritesPassThrough(t *testing.T) {
	env := setupProxy(t)

	rec := env.do(http.MethodPost, env.apiSrv.URL+"/reviews", `{"restaurant_id":1,"name":"Ann","rating":5,"comments":"ok"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"restaurant_id":1,"name":"Ann","rating":5,"comments":"ok"}`, rec.Body.String())

	rec = env.do(http.MethodDelete, env.apiSrv.URL+"/reviews/4", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = env.do(http.MethodPut, env.apiSrv.URL+"/reviews/9", `{"rating":9}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"error":"rating out of range"}`, rec.Body.String())

	rec = env.do(http.MethodPut, env.apiSrv.URL+"/nothing/1", "{}")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	all, err := env.store.GetAll(context.Background(), schema.CollectionReviews)
	require.NoError(t, err)
	assert.Empty(t, all, "forwarded writes must not touch the store")
}

func TestAPIUnknownShape(t *testing.T) {
	env := setupProxy(t)
	rec := env.do(http.MethodGet, env.apiSrv.URL+"/menus", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(http.MethodGet, env.apiSrv.URL+"/reviews/abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPrecacheAndActivate(t *testing.T) {
	env := setupProxy(t)
	ctx := context.Background()

	require.NoError(t, env.store.PutAsset(ctx, &db.Asset{CacheName: "test-v0", URL: "/", Status: 200, Body: []byte("old")}))

	n, err := env.proxy.Precache(ctx, []string{"/", "/css/styles.css", "/missing.png"})
	assert.Equal(t, 2, n)
	assert.Error(t, err)

	removed, err := env.proxy.Activate(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	names, err := env.store.CacheNames(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"test-v1"}, names)

	a, err := env.store.GetAsset(ctx, "test-v1", env.staticSrv.URL+"/css/styles.css")
	require.NoError(t, err)
	assert.Equal(t, "body{margin:0}", string(a.Body))

	rec := env.do(http.MethodGet, env.staticSrv.URL+"/", "")
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "precache.toml")
	require.NoError(t, os.WriteFile(path, []byte(`cache_name = "mws-rs-v11"
assets = ["/", "css/styles.css"]
`), 0644))

	m, err := LoadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, "mws-rs-v11", m.CacheName)
	assert.Equal(t, []string{"/", "/css/styles.css"}, m.Assets)

	require.NoError(t, os.WriteFile(path, []byte(`cache = "typo"`), 0644))
	_, err = LoadManifest(path)
	assert.Error(t, err)

	def := DefaultManifest()
	assert.Equal(t, DefaultCacheName, def.CacheName)
	assert.Contains(t, def.Assets, "/img/404.jpg")
}
