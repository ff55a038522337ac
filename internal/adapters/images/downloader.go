// Package images downloads product images into per-product folders,
// re-encoding everything to JPEG with transparency flattened onto white.
package images

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	// Decoders for the formats marketplaces actually serve.
	_ "image/gif"
	_ "image/png"

	"go.uber.org/zap"

	"marketfetch/internal/core/domain"
	"marketfetch/internal/core/ports"
)

// Downloader persists product images under baseDir/<folder>/.
type Downloader struct {
	baseDir string
	quality int
	http    *http.Client
	log     *zap.Logger
}

var _ ports.ImageFetcher = (*Downloader)(nil)

// New creates a Downloader writing below baseDir at the given JPEG quality.
func New(baseDir string, quality int, client *http.Client, log *zap.Logger) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Downloader{baseDir: baseDir, quality: quality, http: client, log: log}
}

// DownloadProductImages fetches every URL in order into the product folder.
// Files that already exist count as downloaded and are never re-fetched or
// overwritten, so repeated runs only fill in gaps. A decode or transport
// failure on one URL is counted and the rest continue.
func (d *Downloader) DownloadProductImages(ctx context.Context, productID string, urls []string, folderOverride string) domain.DownloadOutcome {
	outcome := domain.DownloadOutcome{ProductID: productID, Total: len(urls)}
	if len(urls) == 0 {
		d.log.Info("no images to download", zap.String("product_id", productID))
		return outcome
	}

	folder := filepath.Join(d.baseDir, sanitizeFolderName(folderName(folderOverride, productID)))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		d.log.Warn("failed to create image folder", zap.String("folder", folder), zap.Error(err))
		outcome.Failed = len(urls)
		return outcome
	}
	outcome.Folder = folder

	for i, u := range urls {
		name := fmt.Sprintf("%s_image_%d.jpg", productID, i+1)
		path := filepath.Join(folder, name)

		if _, err := os.Stat(path); err == nil {
			d.log.Info("skipping existing file", zap.String("file", name))
			outcome.Downloaded++
			continue
		}

		if err := d.downloadOne(ctx, u, path); err != nil {
			d.log.Warn("image download failed",
				zap.String("product_id", productID), zap.String("url", u), zap.Error(err))
			outcome.Failed++
			continue
		}
		d.log.Info("downloaded image", zap.String("file", name))
		outcome.Downloaded++
	}

	d.log.Info("image batch finished",
		zap.String("product_id", productID),
		zap.Int("downloaded", outcome.Downloaded),
		zap.Int("total", outcome.Total))
	return outcome
}

// downloadOne fetches, validates, flattens, and re-encodes one image.
func (d *Downloader) downloadOne(ctx context.Context, imageURL, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read image body: %w", err)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid image data: %w", err)
	}

	flattened := flattenToWhite(img)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, flattened, &jpeg.Options{Quality: d.quality}); err != nil {
		return fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return nil
}

// flattenToWhite composites the image over a white background so that
// transparent regions survive the JPEG re-encode.
func flattenToWhite(img image.Image) image.Image {
	bounds := img.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, bounds, img, bounds.Min, draw.Over)
	return dst
}

func folderName(override, productID string) string {
	if override != "" {
		return override
	}
	return productID
}

func sanitizeFolderName(name string) string {
	const invalid = `<>:"/\|?*`
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(invalid, r) {
			return '_'
		}
		return r
	}, name)
}
