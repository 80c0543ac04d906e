package importer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/httpx"
	"github.com/concordia/import-service/internal/httpx/ratelimit"
	"github.com/concordia/import-service/internal/pipeline"
)

func testHTTPClient() *httpx.Client {
	return httpx.NewClient(ratelimit.Config{
		RequestsPerSecond: 1000,
		MaxRetries:        0,
		InitialBackoffMs:  1,
		MaxBackoffMs:      1,
	})
}

func imageServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testAssetContext(downloadURL string) *database.AssetContext {
	return &database.AssetContext{
		Asset:        database.Asset{ID: 3, Sequence: 2, DownloadURL: downloadURL},
		CampaignSlug: "civil-war",
		ProjectSlug:  "letters",
		RemoteItemID: "mss0001",
	}
}

func newDownloadImporter(store *fakeStore, objects *fakeObjects, strict bool) *Importer {
	return New(store, &fakeQueue{}, &fakeCatalog{}, objects, testHTTPClient(), nil, Config{StrictChecksum: strict})
}

func TestDownloadAndStoreHappyPath(t *testing.T) {
	body := []byte("jpeg bytes here")
	srv := imageServer(t, body)

	store := newFakeStore()
	objects := newFakeObjects()
	imp := newDownloadImporter(store, objects, true)

	ac := testAssetContext(srv.URL + "/page2.jpg")
	key, err := imp.downloadAndStore(context.Background(), ac, "")
	require.NoError(t, err)

	assert.Equal(t, "civil-war/letters/mss0001/2.jpg", key)
	assert.Equal(t, body, objects.saved[key])
	assert.Equal(t, key, store.storageKeys[3])
}

func TestDownloadAndStoreOverrideURL(t *testing.T) {
	srv := imageServer(t, []byte("replacement image"))

	store := newFakeStore()
	imp := newDownloadImporter(store, newFakeObjects(), true)

	// The asset's own URL is dead; the job supplies a replacement.
	ac := testAssetContext("https://unreachable.invalid/old.jpg")
	key, err := imp.downloadAndStore(context.Background(), ac, srv.URL+"/new.jpg")
	require.NoError(t, err)
	assert.Equal(t, "civil-war/letters/mss0001/2.jpg", key)
}

func TestDownloadAndStoreNoURL(t *testing.T) {
	store := newFakeStore()
	imp := newDownloadImporter(store, newFakeObjects(), false)

	ac := testAssetContext("")
	_, err := imp.downloadAndStore(context.Background(), ac, "")
	require.Error(t, err)
	// A missing URL is a data problem, not a transient image failure.
	assert.False(t, pipeline.IsImageError(err))
}

func TestDownloadAndStoreHTTPFailureIsImageError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	store := newFakeStore()
	imp := newDownloadImporter(store, newFakeObjects(), false)

	ac := testAssetContext(srv.URL + "/missing.jpg")
	_, err := imp.downloadAndStore(context.Background(), ac, "")
	require.Error(t, err)
	assert.True(t, pipeline.IsImageError(err))
	assert.Empty(t, store.storageKeys)
}

func TestDownloadAndStoreChecksumMismatchStrict(t *testing.T) {
	srv := imageServer(t, []byte("some image"))

	store := newFakeStore()
	objects := newFakeObjects()
	objects.corruptTag = true
	imp := newDownloadImporter(store, objects, true)

	ac := testAssetContext(srv.URL + "/page.jpg")
	_, err := imp.downloadAndStore(context.Background(), ac, "")
	require.Error(t, err)
	assert.True(t, pipeline.IsImageError(err))
	// Strict mode must not publish a key for a mismatched object.
	assert.Empty(t, store.storageKeys)
}

func TestDownloadAndStoreChecksumMismatchLenient(t *testing.T) {
	srv := imageServer(t, []byte("some image"))

	store := newFakeStore()
	objects := newFakeObjects()
	objects.corruptTag = true
	imp := newDownloadImporter(store, objects, false)

	ac := testAssetContext(srv.URL + "/page.jpg")
	key, err := imp.downloadAndStore(context.Background(), ac, "")
	require.NoError(t, err, "lenient mode warns and continues")
	assert.Equal(t, key, store.storageKeys[3])
}

func TestRunImportAssetIdempotent(t *testing.T) {
	store := newFakeStore()
	imp := newDownloadImporter(store, newFakeObjects(), false)

	ia := &database.ImportItemAsset{ID: 7, AssetID: 3}
	ia.MarkCompleted()
	store.importAssets[7] = ia

	// No asset context registered: the work function would fail if it ran.
	err := imp.RunImportAsset(context.Background(), "task-1", 7)
	require.NoError(t, err)
}
