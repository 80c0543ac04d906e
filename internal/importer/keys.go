package importer

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/concordia/import-service/internal/database"
)

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and collapses runs of non-alphanumerics to single
// hyphens.
func Slugify(s string) string {
	slug := slugUnsafe.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(slug, "-")
}

// NormalizeExtension derives a file extension from a download URL's path.
// jpeg is folded to jpg; a missing extension defaults to jpg.
func NormalizeExtension(url string) string {
	clean := url
	if i := strings.IndexAny(clean, "?#"); i >= 0 {
		clean = clean[:i]
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(clean), "."))
	switch ext {
	case "", "jpeg":
		return "jpg"
	default:
		return ext
	}
}

// AssetStorageKey builds the canonical object-store key for an asset:
// {campaign}/{project}/{item}/{sequence}.{ext}.
func AssetStorageKey(ac *database.AssetContext, ext string) string {
	return fmt.Sprintf("%s/%s/%s/%d.%s",
		ac.CampaignSlug, ac.ProjectSlug, ac.RemoteItemID, ac.Asset.Sequence, ext)
}

// ThumbnailStorageKey builds the object-store key for an item's thumbnail.
func ThumbnailStorageKey(campaignSlug, projectSlug, remoteItemID, ext string) string {
	return fmt.Sprintf("%s/%s/%s/thumbnail.%s", campaignSlug, projectSlug, remoteItemID, ext)
}

// contentTypeForExtension maps stored extensions to MIME types.
func contentTypeForExtension(ext string) string {
	switch ext {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "png":
		return "image/png"
	case "tif", "tiff":
		return "image/tiff"
	default:
		return "application/octet-stream"
	}
}
