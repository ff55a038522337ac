package ports

import (
	"context"

	"marketfetch/internal/core/domain"
)

// MarketplaceClient is the capability set shared by both marketplace
// integrations. Fetch performs the network call; the remaining methods are
// pure projections over the fetched record, so the orchestrator fetches once
// per product and derives every field from that single record.
//
// Fetch returns (nil, err) when no usable record could be retrieved. A
// non-nil but empty record means the API answered but carried no item.
type MarketplaceClient interface {
	// Fetch retrieves the raw product record for the given marketplace ID.
	Fetch(ctx context.Context, productID string) (domain.RawProduct, error)

	// CheckAvailability derives the purchasability judgment from a fetched
	// record. A nil record maps to a fetch failure, never a panic.
	CheckAvailability(raw domain.RawProduct) domain.AvailabilityStatus

	// Title returns the product title, or "" when absent.
	Title(raw domain.RawProduct) string

	// Description returns the plain-text description with markup stripped,
	// or the "N/A" sentinel when nothing usable remains.
	Description(raw domain.RawProduct) string

	// Price returns the normalized price info for the record.
	Price(raw domain.RawProduct) domain.PriceInfo

	// ImageURLs returns deduplicated, protocol-normalized image URLs in
	// first-seen order.
	ImageURLs(raw domain.RawProduct) []string
}

// ImageFetcher downloads, re-encodes, and persists product images.
type ImageFetcher interface {
	// DownloadProductImages fetches every URL into the product's folder.
	// folderOverride, when non-empty, names the destination folder instead
	// of the product ID. Individual failures are counted, not fatal.
	DownloadProductImages(ctx context.Context, productID string, urls []string, folderOverride string) domain.DownloadOutcome
}
