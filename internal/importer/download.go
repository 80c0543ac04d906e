package importer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/concordia/import-service/internal/database"
	"github.com/concordia/import-service/internal/metrics"
	"github.com/concordia/import-service/internal/pipeline"
)

// RunImportAsset downloads one page image for a freshly materialized asset.
func (imp *Importer) RunImportAsset(ctx context.Context, taskID string, importAssetID int64) error {
	ia, err := imp.store.GetImportItemAsset(ctx, importAssetID)
	if err != nil {
		return err
	}

	return imp.runner.Execute(ctx, taskID, ia, func(ctx context.Context) error {
		ac, err := imp.store.GetAssetContext(ctx, ia.AssetID)
		if err != nil {
			return err
		}
		_, err = imp.downloadAndStore(ctx, ac, ia.URL)
		return err
	})
}

// RunDownloadJob re-fetches an asset's image for a repair or ad-hoc
// download job.
func (imp *Importer) RunDownloadJob(ctx context.Context, taskID string, downloadJobID int64) error {
	job, err := imp.store.GetDownloadJob(ctx, downloadJobID)
	if err != nil {
		return err
	}

	return imp.runner.Execute(ctx, taskID, job, func(ctx context.Context) error {
		ac, err := imp.store.GetAssetContext(ctx, job.AssetID)
		if err != nil {
			return err
		}
		_, err = imp.downloadAndStore(ctx, ac, job.URL)
		return err
	})
}

// downloadAndStore streams the asset's source image to a temp file while
// hashing it, uploads the bytes to the object store and cross-checks the
// hash against the store's ETag. The asset's storage key is only updated
// after the checksum decision, so a strict-mode mismatch leaves the asset
// untouched.
func (imp *Importer) downloadAndStore(ctx context.Context, ac *database.AssetContext, overrideURL string) (string, error) {
	sourceURL := overrideURL
	if sourceURL == "" {
		sourceURL = ac.Asset.DownloadURL
	}
	if sourceURL == "" {
		return "", fmt.Errorf("asset %d has no download url", ac.Asset.ID)
	}

	ext := NormalizeExtension(sourceURL)
	key := AssetStorageKey(ac, ext)

	resp, err := imp.http.Get(ctx, sourceURL)
	if err != nil {
		return "", pipeline.NewImageError(fmt.Errorf("download %s: %w", sourceURL, err))
	}
	defer resp.Body.Close()

	tmp, err := os.CreateTemp("", "asset-*."+ext)
	if err != nil {
		return "", pipeline.NewImageError(fmt.Errorf("create temp file: %w", err))
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	hash := md5.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), resp.Body)
	if err != nil {
		return "", pipeline.NewImageError(fmt.Errorf("download %s: %w", sourceURL, err))
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", pipeline.NewImageError(fmt.Errorf("rewind temp file: %w", err))
	}

	info, err := imp.objects.Save(ctx, key, tmp, size, contentTypeForExtension(ext))
	if err != nil {
		return "", pipeline.NewImageError(fmt.Errorf("store %s: %w", key, err))
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	if info.ETag != checksum {
		metrics.RecordChecksumMismatch()
		if imp.config.StrictChecksum {
			return "", pipeline.NewImageError(fmt.Errorf(
				"checksum mismatch for %s: downloaded %s, stored %s", key, checksum, info.ETag))
		}
		log.Warn().
			Str("component", "importer").
			Str("key", key).
			Str("downloaded_md5", checksum).
			Str("stored_etag", info.ETag).
			Msg("Checksum mismatch, continuing without strict enforcement")
	}

	if err := imp.store.SetAssetStorageKey(ctx, ac.Asset.ID, key); err != nil {
		return "", err
	}

	metrics.RecordAssetImported(size)
	log.Info().
		Str("component", "importer").
		Int64("asset_id", ac.Asset.ID).
		Str("key", key).
		Int64("bytes", size).
		Msg("Asset image stored")
	return key, nil
}
