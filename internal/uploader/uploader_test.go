package uploader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datasnap/bridge-go/internal/api"
	"github.com/datasnap/bridge-go/internal/jsonl"
)

type fakeTokenAPI struct {
	mu     sync.Mutex
	calls  int
	tokens []*api.UploadToken
	err    error
}

func (f *fakeTokenAPI) GenerateUploadToken(ctx context.Context, slug, mappingName string) (*api.UploadToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	token := f.tokens[min(f.calls, len(f.tokens)-1)]
	f.calls++

	return token, nil
}

type fakeCompletion struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeCompletion) NotifyUploadCompletion(ctx context.Context, uploadID, checksum string, fileSize, records int64) (*api.CompletionReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++

	if f.err != nil {
		return nil, f.err
	}

	return &api.CompletionReceipt{Success: true, UploadID: uploadID, Status: "registered"}, nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]*api.UploadToken
}

func newMemCache() *memCache { return &memCache{entries: map[string]*api.UploadToken{}} }

func (m *memCache) Get(key string) (*api.UploadToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.entries[key]

	return t, ok
}

func (m *memCache) Put(key string, token *api.UploadToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = token

	return nil
}

func (m *memCache) Invalidate(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)

	return nil
}

func writeTestFile(t *testing.T, records int) jsonl.FileInfo {
	t.Helper()

	w, err := jsonl.NewWriter(t.TempDir(), "shop.orders_orders_1700000000", false)
	require.NoError(t, err)

	for i := 0; i < records; i++ {
		require.NoError(t, w.Write(map[string]any{"id": i}))
	}

	info, err := w.Close()
	require.NoError(t, err)

	return info
}

func storageToken(url, uploadID, bearer string) *api.UploadToken {
	return &api.UploadToken{
		UploadID:  uploadID,
		UploadURL: url,
		Token:     bearer,
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func fastUploader(tokens *TokenSource, completion CompletionAPI) *FileUploader {
	u := NewFileUploader(UploaderOptions{Tokens: tokens, Completion: completion})
	u.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(uploadRetries, retry.NewConstant(time.Millisecond))
	}

	return u
}

func TestUploadSuccess(t *testing.T) {
	file := writeTestFile(t, 3)

	var gotPath, gotUploadID, gotChecksum string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path

		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotUploadID = r.FormValue("upload_id")
		gotChecksum = r.FormValue("checksum")

		_, header, err := r.FormFile("file")
		require.NoError(t, err)
		assert.Equal(t, file.Name(), header.Filename)

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tokenAPI := &fakeTokenAPI{tokens: []*api.UploadToken{storageToken(srv.URL, "up-1", "tk")}}
	completion := &fakeCompletion{}

	u := fastUploader(NewTokenSource(tokenAPI, newMemCache(), nil), completion)

	res := u.Upload(context.Background(), file, "orders", "shop.orders")
	require.NoError(t, res.Err)
	assert.Equal(t, "up-1", res.UploadID)
	assert.Zero(t, res.RetryCount)
	assert.Equal(t, "/"+file.Name(), gotPath)
	assert.Equal(t, "up-1", gotUploadID)
	assert.Equal(t, file.Checksum, gotChecksum)
	assert.Equal(t, 1, completion.calls)
}

func TestUploadRejectedTokenRefreshes(t *testing.T) {
	file := writeTestFile(t, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cache := newMemCache()
	require.NoError(t, cache.Put(tokenKey("orders", "shop.orders"), storageToken(srv.URL, "up-stale", "stale")))

	tokenAPI := &fakeTokenAPI{tokens: []*api.UploadToken{storageToken(srv.URL, "up-fresh", "fresh")}}
	u := fastUploader(NewTokenSource(tokenAPI, cache, nil), &fakeCompletion{})

	res := u.Upload(context.Background(), file, "orders", "shop.orders")
	require.NoError(t, res.Err)
	assert.Equal(t, "up-fresh", res.UploadID)
	assert.Equal(t, 1, res.RetryCount)
	assert.Equal(t, 1, tokenAPI.calls)
}

func TestUploadTransientFailuresRetried(t *testing.T) {
	file := writeTestFile(t, 1)

	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++

		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tokenAPI := &fakeTokenAPI{tokens: []*api.UploadToken{storageToken(srv.URL, "up-1", "")}}
	u := fastUploader(NewTokenSource(tokenAPI, nil, nil), &fakeCompletion{})

	res := u.Upload(context.Background(), file, "orders", "shop.orders")
	require.NoError(t, res.Err)
	assert.Equal(t, 2, res.RetryCount)
	assert.Equal(t, 3, calls)
}

func TestUploadRetriesExhausted(t *testing.T) {
	file := writeTestFile(t, 1)

	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tokenAPI := &fakeTokenAPI{tokens: []*api.UploadToken{storageToken(srv.URL, "up-1", "")}}
	u := fastUploader(NewTokenSource(tokenAPI, nil, nil), &fakeCompletion{})

	res := u.Upload(context.Background(), file, "orders", "shop.orders")
	require.Error(t, res.Err)
	assert.Equal(t, 1+uploadRetries, calls)
}

func TestUploadBadRequestIsPermanent(t *testing.T) {
	file := writeTestFile(t, 1)

	var calls int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tokenAPI := &fakeTokenAPI{tokens: []*api.UploadToken{storageToken(srv.URL, "up-1", "")}}
	u := fastUploader(NewTokenSource(tokenAPI, nil, nil), &fakeCompletion{})

	res := u.Upload(context.Background(), file, "orders", "shop.orders")
	require.Error(t, res.Err)
	assert.Equal(t, 1, calls)
}

func TestTokenSourceCacheHitSkipsAPI(t *testing.T) {
	cache := newMemCache()
	require.NoError(t, cache.Put(tokenKey("s", "m"), storageToken("https://x", "up-c", "")))

	tokenAPI := &fakeTokenAPI{tokens: []*api.UploadToken{storageToken("https://x", "up-api", "")}}
	ts := NewTokenSource(tokenAPI, cache, nil)

	token, err := ts.Token(context.Background(), "s", "m", false)
	require.NoError(t, err)
	assert.Equal(t, "up-c", token.UploadID)
	assert.Zero(t, tokenAPI.calls)

	token, err = ts.Token(context.Background(), "s", "m", true)
	require.NoError(t, err)
	assert.Equal(t, "up-api", token.UploadID)
	assert.Equal(t, 1, tokenAPI.calls)
}
