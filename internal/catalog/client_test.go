package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/concordia/import-service/internal/httpx"
	"github.com/concordia/import-service/internal/httpx/ratelimit"
)

func testClient(config Config) (*Client, *int64, *httptest.Server) {
	var requests int64

	mux := http.NewServeMux()
	mux.HandleFunc("/collections/letters", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		page := r.URL.Query().Get("page")
		host := "http://" + r.Host
		switch page {
		case "", "1":
			fmt.Fprintf(w, `{
				"results": [
					{"id": "c1", "url": "%s/collections/sub/", "image_url": ["x.jpg"], "original_format": ["collection"]},
					{"id": "w1", "url": "%s/item/w1/", "image_url": ["x.jpg"], "original_format": ["web page"]},
					{"id": "noimg", "url": "%s/item/noimg/", "image_url": [], "original_format": ["photo"]},
					{"id": "mss0001", "url": "%s/item/mss0001/", "image_url": ["t.jpg"], "original_format": ["photo"]}
				],
				"pagination": {"next": "%s/collections/letters?page=2&sp=2"}
			}`, host, host, host, host, host)
		case "2":
			fmt.Fprintf(w, `{
				"results": [
					{"id": "notitem", "url": "%s/resource/abc/", "image_url": ["t.jpg"], "original_format": ["photo"]},
					{"id": "mss0002", "url": "%s/item/mss0002/", "image_url": ["t.jpg"], "original_format": ["photo"]}
				],
				"pagination": {"next": ""}
			}`, host, host)
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/item/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&requests, 1)
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/item/"), "/")
		pages := 1
		if id == "mss0001" {
			pages = 2
		}
		files := ""
		for i := 0; i < pages; i++ {
			if i > 0 {
				files += ","
			}
			files += fmt.Sprintf(`[{"url": "https://cdn.example.org/%s/%d.jpg", "height": 100, "width": 100, "mimetype": "image/jpeg"}]`, id, i+1)
		}
		fmt.Fprintf(w, `{
			"item": {"id": "%s", "title": "Item %s", "image_url": ["thumb.jpg"]},
			"resources": [{"url": "https://example.org/resource/%s/", "files": [%s]}]
		}`, id, id, id, files)
	})

	srv := httptest.NewServer(mux)
	hc := httpx.NewClient(ratelimit.Config{RequestsPerSecond: 1000, MaxRetries: 0, InitialBackoffMs: 1, MaxBackoffMs: 1})
	return NewClient(hc, config), &requests, srv
}

func TestGetCollectionItemsFollowsPagination(t *testing.T) {
	client, _, srv := testClient(Config{})
	defer srv.Close()

	items, err := client.GetCollectionItems(context.Background(), srv.URL+"/collections/letters")
	require.NoError(t, err)

	// Collections, web pages, imageless results and non-item URLs are
	// skipped; importable items arrive in listing order across pages.
	require.Len(t, items, 2)
	assert.Equal(t, "mss0001", items[0].ID)
	assert.Equal(t, srv.URL+"/item/mss0001/", items[0].URL)
	assert.Equal(t, "mss0002", items[1].ID)
}

func TestGetCollectionItemsCachesWithinTTL(t *testing.T) {
	client, requests, srv := testClient(Config{CacheTTL: time.Hour})
	defer srv.Close()

	_, err := client.GetCollectionItems(context.Background(), srv.URL+"/collections/letters")
	require.NoError(t, err)
	first := atomic.LoadInt64(requests)

	_, err = client.GetCollectionItems(context.Background(), srv.URL+"/collections/letters")
	require.NoError(t, err)
	assert.Equal(t, first, atomic.LoadInt64(requests), "repeat listing within the TTL must be served from cache")
}

func TestGetItemRetainsRawMetadata(t *testing.T) {
	client, requests, srv := testClient(Config{CacheTTL: time.Hour})
	defer srv.Close()

	detail, err := client.GetItem(context.Background(), srv.URL+"/item/mss0002/")
	require.NoError(t, err)

	assert.Equal(t, "mss0002", detail.Item.ID)
	assert.Equal(t, "Item mss0002", detail.Item.Title)
	require.Len(t, detail.Resources, 1)
	assert.Contains(t, string(detail.Item.Raw), `"title": "Item mss0002"`)

	// The raw pass re-reads the same URL and must hit the cache.
	assert.Equal(t, int64(1), atomic.LoadInt64(requests))
}

func TestCountCollectionAssets(t *testing.T) {
	client, _, srv := testClient(Config{CountWorkers: 2})
	defer srv.Close()

	total, counts, err := client.CountCollectionAssets(context.Background(), srv.URL+"/collections/letters")
	require.NoError(t, err)

	assert.Equal(t, 3, total)
	assert.Equal(t, []int{2, 1}, counts)
}
