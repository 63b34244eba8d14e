package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnsIgnoresSchemeAndTrailingSlash(t *testing.T) {
	s := newURLSpace("https://pub.example.com/")

	assert.True(t, s.Owns("https://pub.example.com/images/a.png"))
	assert.True(t, s.Owns("http://pub.example.com/images/a.png"))
	assert.True(t, s.Owns("pub.example.com/libraries/x.xlsx/"))
	assert.False(t, s.Owns("https://pub.example.com.evil.net/a.png"))
	assert.False(t, s.Owns("https://other.example.com/a.png"))
	assert.False(t, newURLSpace("").Owns("https://pub.example.com/a.png"))
}

func TestPaths(t *testing.T) {
	assert.Equal(t, "libraries/abc.xlsx", WorkbookPath("abc"))
	assert.Equal(t, "images/abc/1_2_3.png", ImagePath("abc", 1, 2, 3, "png"))
}

func TestMemoryStorePutGetCopyDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("https://pub.example.com")

	u, err := s.Put(ctx, "libraries/a.xlsx", []byte("book"), "application/octet-stream")
	require.NoError(t, err)
	assert.Equal(t, "https://pub.example.com/libraries/a.xlsx", u)

	got, err := s.Get(ctx, "http://pub.example.com/libraries/a.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "book", string(got))

	copied, err := s.Copy(ctx, u, "libraries/b.xlsx")
	require.NoError(t, err)
	assert.Equal(t, []string{"libraries/a.xlsx", "libraries/b.xlsx"}, s.Keys())

	require.NoError(t, s.Delete(ctx, copied))
	assert.Equal(t, []string{"libraries/a.xlsx"}, s.Keys())
}

func TestNotOwnedBehaviour(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("https://pub.example.com")
	_, err := s.Put(ctx, "libraries/a.xlsx", []byte("book"), "")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "https://legacy.example.com/libraries/a.xlsx"))
	assert.Len(t, s.Keys(), 1)

	_, err = s.Copy(ctx, "https://legacy.example.com/libraries/a.xlsx", "libraries/c.xlsx")
	assert.True(t, errors.Is(err, ErrNotOwned))
}

type flakyStore struct {
	*MemoryStore
	fail map[string]bool
}

func (f *flakyStore) Delete(ctx context.Context, rawURL string) error {
	if f.fail[rawURL] {
		return errors.New("boom")
	}
	return f.MemoryStore.Delete(ctx, rawURL)
}

func TestDeleteAllContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore("https://pub.example.com")
	a, _ := mem.Put(ctx, "images/x/1_0_0.png", []byte("a"), "image/png")
	b, _ := mem.Put(ctx, "images/x/2_0_1.png", []byte("b"), "image/png")
	c, _ := mem.Put(ctx, "images/x/3_0_2.png", []byte("c"), "image/png")

	store := &flakyStore{MemoryStore: mem, fail: map[string]bool{b: true}}
	failed := DeleteAll(ctx, store, []string{a, b, c, a, ""}, nil)

	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"images/x/2_0_1.png"}, mem.Keys())
}

func TestOwnedURLs(t *testing.T) {
	s := NewMemoryStore("https://pub.example.com")
	got := OwnedURLs(s, []string{"https://pub.example.com/a.png", "https://cdn.other.com/b.png", "text", " "})
	assert.Equal(t, []string{"https://pub.example.com/a.png"}, got)
}

func TestDiskStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewDiskStore(t.TempDir(), "http://localhost:20262/files")
	require.NoError(t, err)

	u, err := s.Put(ctx, "images/lib/1_0_0.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:20262/files/images/lib/1_0_0.png", u)

	copied, err := s.Copy(ctx, u, "images/lib/copy.png")
	require.NoError(t, err)
	data, err := s.Get(ctx, copied)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	require.NoError(t, s.Delete(ctx, u))
	_, err = s.Get(ctx, u)
	assert.Error(t, err)
}

func TestFetcherUsesStoreForOwnedURLs(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore("https://pub.example.com")
	u, _ := mem.Put(ctx, "a.bin", []byte("owned"), "")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("remote"))
	}))
	defer srv.Close()

	f := NewFetcher(mem, time.Second)

	got, err := f.Fetch(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, "owned", string(got))

	got, err = f.Fetch(ctx, srv.URL+"/x.png")
	require.NoError(t, err)
	assert.Equal(t, "remote", string(got))

	_, err = f.Fetch(ctx, srv.URL+"/missing")
	assert.Error(t, err)
}
