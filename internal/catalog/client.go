package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/concordia/import-service/internal/httpx"
	"github.com/concordia/import-service/internal/metrics"
)

// Config tunes the catalog client.
type Config struct {
	// CacheTTL bounds how long listing responses are reused. Collection
	// listings are effectively immutable, so a long TTL is safe.
	CacheTTL time.Duration
	// CountWorkers bounds the fan-out of CountCollectionAssets.
	CountWorkers int
}

// Client fetches collection listings and item metadata from the source
// digital-library API. Responses are cached per exact request URL.
type Client struct {
	http   *httpx.Client
	config Config

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	body      []byte
	fetchedAt time.Time
}

func NewClient(http *httpx.Client, config Config) *Client {
	if config.CountWorkers <= 0 {
		config.CountWorkers = 25
	}
	return &Client{
		http:   http,
		config: config,
		cache:  make(map[string]cacheEntry),
	}
}

// getJSON fetches url and decodes the response into dest, serving repeat
// requests from the cache within the TTL.
func (c *Client) getJSON(ctx context.Context, url string, dest interface{}) error {
	c.mu.Lock()
	entry, ok := c.cache[url]
	c.mu.Unlock()

	if ok && (c.config.CacheTTL <= 0 || time.Since(entry.fetchedAt) < c.config.CacheTTL) {
		return json.Unmarshal(entry.body, dest)
	}

	body, err := c.http.GetBytes(ctx, url)
	if err != nil {
		metrics.RecordCatalogRequest("error")
		return err
	}
	metrics.RecordCatalogRequest("ok")

	c.mu.Lock()
	c.cache[url] = cacheEntry{body: body, fetchedAt: time.Now()}
	c.mu.Unlock()

	return json.Unmarshal(body, dest)
}

// GetCollectionItems resolves a collection or search-result URL into the
// (item id, item URL) pairs it lists, following the pagination chain to
// exhaustion. Results tagged as collections or web pages, results without
// an image, and results whose URL is not an item detail page are skipped
// with a logged reason.
func (c *Client) GetCollectionItems(ctx context.Context, collectionURL string) ([]CollectionItem, error) {
	pageURL := NormalizeCollectionURL(collectionURL)

	var items []CollectionItem
	for pageURL != "" {
		var page collectionPage
		if err := c.getJSON(ctx, pageURL, &page); err != nil {
			return nil, fmt.Errorf("failed to fetch collection page %s: %w", pageURL, err)
		}

		for _, result := range page.Results {
			if skip := skipReason(result); skip != "" {
				log.Debug().
					Str("component", "catalog").
					Str("result_id", result.ID).
					Str("reason", skip).
					Msg("Skipping collection result")
				continue
			}
			items = append(items, CollectionItem{
				ID:  ItemIDFromURL(result.URL),
				URL: result.URL,
			})
		}

		next := page.Pagination.Next
		if next != "" {
			next = NormalizeCollectionURL(next)
		}
		pageURL = next
	}
	return items, nil
}

func skipReason(result collectionResult) string {
	for _, format := range result.OriginalFormat {
		if format == "collection" || format == "web page" {
			return "original format is " + format
		}
	}
	if len(result.ImageURL) == 0 {
		return "no image url"
	}
	if !IsItemURL(result.URL) {
		return "url is not an item detail page"
	}
	return ""
}

// GetItem fetches one item's detail response.
func (c *Client) GetItem(ctx context.Context, itemURL string) (*ItemDetail, error) {
	url := NormalizeCollectionURL(itemURL)

	// Decode twice: once into the typed view, once to retain the raw item
	// object for metadata storage.
	var detail ItemDetail
	if err := c.getJSON(ctx, url, &detail); err != nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", itemURL, err)
	}

	var raw struct {
		Item json.RawMessage `json:"item"`
	}
	if err := c.getJSON(ctx, url, &raw); err != nil {
		return nil, fmt.Errorf("failed to fetch item %s: %w", itemURL, err)
	}
	detail.Item.Raw = raw.Item

	return &detail, nil
}

// CountCollectionAssets fetches every listed item with bounded fan-out and
// reports the total asset count plus the per-item counts in listing order.
func (c *Client) CountCollectionAssets(ctx context.Context, collectionURL string) (int, []int, error) {
	items, err := c.GetCollectionItems(ctx, collectionURL)
	if err != nil {
		return 0, nil, err
	}

	counts := make([]int, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.CountWorkers)

	for i, item := range items {
		g.Go(func() error {
			detail, err := c.GetItem(gctx, item.URL)
			if err != nil {
				return err
			}
			urls, _ := AssetURLsFromResources(detail.Resources)
			counts[i] = len(urls)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	return total, counts, nil
}
