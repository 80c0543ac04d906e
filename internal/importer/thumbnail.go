package importer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/rs/zerolog/log"
)

// PopulateThumbnail downloads one representative image for an item and
// stores it as the item's thumbnail. Returns the storage key, or an
// explanatory message when the work was skipped.
func (imp *Importer) PopulateThumbnail(ctx context.Context, itemID int64, url string, force bool) (string, error) {
	item, err := imp.store.GetItem(ctx, itemID)
	if err != nil {
		return "", err
	}

	if item.ThumbnailKey != "" && !force {
		return fmt.Sprintf("skipping: item %s already has thumbnail %s", item.ItemID, item.ThumbnailKey), nil
	}

	resp, err := imp.http.Get(ctx, url)
	if err != nil {
		return "", fmt.Errorf("failed to download thumbnail %s: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read thumbnail %s: %w", url, err)
	}

	ext := extensionFromContentType(resp.Header.Get("Content-Type"))
	if ext == "" {
		ext = extensionFromContentType(http.DetectContentType(data))
	}
	if ext == "" {
		ext = "jpg"
	}

	// Decode-validate before storing; broken bytes are a hard failure.
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("thumbnail %s is not a valid image: %w", url, err)
	}

	project, err := imp.store.GetProject(ctx, item.ProjectID)
	if err != nil {
		return "", err
	}
	key := ThumbnailStorageKey(project.CampaignSlug, project.Slug, item.ItemID, ext)

	if _, err := imp.objects.Save(ctx, key, bytes.NewReader(data), int64(len(data)), contentTypeForExtension(ext)); err != nil {
		return "", fmt.Errorf("failed to store thumbnail %s: %w", key, err)
	}

	// Re-check under the write guard: a concurrent worker may have set a
	// thumbnail while this one was downloading.
	set, err := imp.store.SetItemThumbnail(ctx, item.ID, key, force)
	if err != nil {
		return "", err
	}
	if !set {
		return fmt.Sprintf("skipping: thumbnail for item %s was set by a concurrent worker", item.ItemID), nil
	}

	log.Info().
		Str("component", "importer").
		Str("item_id", item.ItemID).
		Str("key", key).
		Msg("Item thumbnail stored")
	return key, nil
}

func extensionFromContentType(contentType string) string {
	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	switch strings.TrimSpace(mediaType) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/gif":
		return "gif"
	case "image/png":
		return "png"
	case "image/tiff":
		return "tif"
	default:
		return ""
	}
}
