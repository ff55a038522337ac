// Package service composes the product pipeline: URL resolution, marketplace
// dispatch, metadata projection, image download, and tabular batch runs.
package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"marketfetch/internal/adapters/table"
	"marketfetch/internal/core/domain"
	"marketfetch/internal/core/ports"
	"marketfetch/internal/resolver"
)

// folderColumn is the table column holding per-row folder overrides.
const folderColumn = "num"

// Orchestrator drives one URL or one table through the full pipeline.
// Expected per-product failures never escape it; every input yields a
// ProcessingResult.
type Orchestrator struct {
	aliexpress ports.MarketplaceClient
	ebay       ports.MarketplaceClient
	images     ports.ImageFetcher
	log        *zap.Logger
}

// New wires the orchestrator from its collaborators.
func New(aliexpress, ebay ports.MarketplaceClient, images ports.ImageFetcher, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		aliexpress: aliexpress,
		ebay:       ebay,
		images:     images,
		log:        log,
	}
}

// ProcessSingleLink runs the pipeline for one product URL. rowIndex and
// folderName come from the batch runner and may be nil/empty for ad-hoc
// URLs. The record is returned even when a stage fails; Error marks the
// failure and later fields stay empty.
func (o *Orchestrator) ProcessSingleLink(ctx context.Context, rawURL string, rowIndex *int, folderName string) *domain.ProcessingResult {
	fmt.Printf("\nProcessing: %s\n", rawURL)

	result := &domain.ProcessingResult{
		URL:        rawURL,
		RowIndex:   rowIndex,
		FolderName: folderName,
	}
	if rowIndex != nil {
		n := *rowIndex + 1
		result.RowNumber = &n
	}

	marketplace := resolver.DetectMarketplace(rawURL)
	result.Marketplace = marketplace

	if marketplace == domain.MarketplaceUnknown {
		result.Error = "Invalid URL - not from AliExpress or eBay"
		o.log.Warn("unknown marketplace", zap.String("url", rawURL))
		return result
	}

	client := o.clientFor(marketplace)
	id := resolver.ExtractProductID(marketplace, rawURL)
	if id == "" {
		result.Error = "Could not extract product ID from URL"
		o.log.Warn("id extraction failed", zap.String("url", rawURL))
		return result
	}
	result.ProductID = id
	o.log.Info("processing product",
		zap.String("marketplace", string(marketplace)), zap.String("product_id", id))

	// One fetch per product; every field below is a projection of this
	// record. Field order is fixed so partial failures still populate the
	// earlier columns.
	raw, err := client.Fetch(ctx, id)
	if err != nil {
		raw = nil
	}

	if raw != nil {
		result.Title = client.Title(raw)
		result.Description = client.Description(raw)
		result.Price = client.Price(raw).Formatted
	} else {
		result.Price = "N/A"
	}

	availability := client.CheckAvailability(raw)
	result.Available = availability.Available
	result.StockQuantity = availability.StockQuantity
	if availability.Available {
		fmt.Println("✓ Product available")
	} else {
		fmt.Printf("✗ Not available: %s\n", availability.Reason)
	}

	if raw != nil {
		if urls := client.ImageURLs(raw); len(urls) > 0 {
			fmt.Printf("Found %d images\n", len(urls))
			outcome := o.images.DownloadProductImages(ctx, id, urls, o.folderFor(result))
			result.ImagesDownloaded = outcome.Downloaded
			result.Folder = outcome.Folder
		} else {
			fmt.Println("No images found")
		}
	}

	return result
}

// folderFor picks the destination folder: the explicit per-row override
// wins, then the row number; the downloader itself falls back to the
// product ID when this returns "".
func (o *Orchestrator) folderFor(r *domain.ProcessingResult) string {
	if r.FolderName != "" {
		return r.FolderName
	}
	if r.RowNumber != nil {
		return strconv.Itoa(*r.RowNumber)
	}
	return ""
}

func (o *Orchestrator) clientFor(m domain.Marketplace) ports.MarketplaceClient {
	if m == domain.MarketplaceEBay {
		return o.ebay
	}
	return o.aliexpress
}

// ProcessTable loads a table, processes every linked row in original order,
// writes the enriched table to a sibling _results file, and prints the
// summary. linkColumn, when non-empty, overrides column discovery; a column
// that cannot be located comes back as *table.ColumnNotFoundError so the
// CLI can re-prompt once.
func (o *Orchestrator) ProcessTable(ctx context.Context, path, linkColumn string) ([]*domain.ProcessingResult, error) {
	batchID := uuid.New().String()
	o.log.Info("batch started", zap.String("batch_id", batchID), zap.String("table", path))

	tbl, err := table.Load(path)
	if err != nil {
		return nil, err
	}
	o.log.Info("table loaded",
		zap.Int("rows", len(tbl.Rows)), zap.Strings("columns", tbl.Headers))

	if linkColumn != "" {
		if err := tbl.SetLinkColumn(linkColumn); err != nil {
			return nil, err
		}
	} else if _, ok := tbl.FindLinkColumn(); !ok {
		return nil, tbl.MissingLinkColumn()
	}

	links := tbl.Links()
	folders := tbl.FolderNames(folderColumn)
	fmt.Printf("\nFound %d product links to process\n", len(links))

	results := make([]*domain.ProcessingResult, 0, len(links))
	for _, link := range links {
		if ctx.Err() != nil {
			o.log.Warn("batch interrupted", zap.String("batch_id", batchID))
			break
		}
		idx := link.RowIndex
		results = append(results, o.ProcessSingleLink(ctx, link.URL, &idx, folders[idx]))
	}

	tbl.ApplyResults(results)
	out, err := tbl.SaveResults("")
	if err != nil {
		o.log.Error("failed to save results", zap.String("batch_id", batchID), zap.Error(err))
	} else {
		fmt.Printf("\nResults saved to: %s\n", out)
	}

	o.PrintSummary(results)
	o.log.Info("batch finished", zap.String("batch_id", batchID), zap.Int("products", len(results)))
	return results, nil
}

// ProcessLinks runs the pipeline over an in-memory URL list with the same
// summary as a table batch.
func (o *Orchestrator) ProcessLinks(ctx context.Context, urls []string) []*domain.ProcessingResult {
	batchID := uuid.New().String()
	o.log.Info("batch started", zap.String("batch_id", batchID), zap.Int("links", len(urls)))

	results := make([]*domain.ProcessingResult, 0, len(urls))
	for i, u := range urls {
		if ctx.Err() != nil {
			break
		}
		idx := i
		results = append(results, o.ProcessSingleLink(ctx, u, &idx, ""))
	}

	o.PrintSummary(results)
	return results
}

// PrintSummary prints the aggregate counts for a finished batch. It always
// runs, regardless of partial failures.
func (o *Orchestrator) PrintSummary(results []*domain.ProcessingResult) {
	s := domain.Summarize(results)

	fmt.Println("\n=== Processing Summary ===")
	fmt.Printf("Total products processed: %d\n", s.Total)
	fmt.Printf("  - AliExpress: %d\n", s.AliExpressCount)
	fmt.Printf("  - eBay: %d\n", s.EBayCount)
	fmt.Printf("Available: %d\n", s.Available)
	fmt.Printf("Unavailable: %d\n", s.Unavailable)
	fmt.Printf("Errors: %d\n", s.Errors)
	fmt.Printf("Total images downloaded: %d\n", s.ImagesTotal)

	o.log.Info("batch summary",
		zap.Int("total", s.Total),
		zap.Int("aliexpress", s.AliExpressCount),
		zap.Int("ebay", s.EBayCount),
		zap.Int("available", s.Available),
		zap.Int("unavailable", s.Unavailable),
		zap.Int("errors", s.Errors),
		zap.Int("images", s.ImagesTotal))
}
