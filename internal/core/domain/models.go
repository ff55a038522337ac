package domain

import (
	"strconv"
)

// Marketplace identifies which platform a product URL belongs to.
type Marketplace string

const (
	MarketplaceAliExpress Marketplace = "aliexpress"
	MarketplaceEBay       Marketplace = "ebay"
	MarketplaceUnknown    Marketplace = "unknown"
)

// ProductReference is the resolved identity of a product URL.
// Created by the resolver, consumed by the matching marketplace client.
type ProductReference struct {
	Marketplace Marketplace
	RawURL      string
	ProductID   string
}

// RawProduct is the untyped product record as returned by a marketplace API.
// It never leaves the client boundary except as an opaque handle: the
// orchestrator fetches it once and feeds it back into the client's accessors.
type RawProduct map[string]interface{}

// AvailabilityReason explains why a product is or is not purchasable.
type AvailabilityReason string

const (
	ReasonAvailable       AvailabilityReason = "Available"
	ReasonOutOfStock      AvailabilityReason = "Out of stock"
	ReasonProductNotFound AvailabilityReason = "Product not found"
	ReasonOffline         AvailabilityReason = "Product is offline"
	ReasonFetchFailed     AvailabilityReason = "Failed to fetch product data"
	ReasonListingEnded    AvailabilityReason = "Listing has ended"
	ReasonItemInactive    AvailabilityReason = "Item is not active"
)

// AvailabilityStatus is the per-fetch purchasability judgment. It is derived
// fresh on every fetch and never cached; the marketplaces offer no change
// notification.
type AvailabilityStatus struct {
	Available     bool
	Reason        AvailabilityReason
	StockQuantity *int
}

// PriceInfo is a normalized price or price range.
// Formatted is "N/A" iff both Min and Max are absent; when Min == Max the
// range dash is omitted.
type PriceInfo struct {
	Currency  string
	Min       *float64
	Max       *float64
	Formatted string
}

// NewPriceInfo builds a PriceInfo with the formatted string derived from the
// given bounds. A nil min with a non-nil max (or vice versa) collapses to the
// single present value.
func NewPriceInfo(currency string, min, max *float64) PriceInfo {
	p := PriceInfo{Currency: currency, Min: min, Max: max}
	switch {
	case min == nil && max == nil:
		p.Formatted = "N/A"
	case min != nil && max != nil && *min != *max:
		p.Formatted = currency + " " + formatAmount(*min) + " - " + formatAmount(*max)
	case min != nil:
		p.Formatted = currency + " " + formatAmount(*min)
	default:
		p.Formatted = currency + " " + formatAmount(*max)
	}
	return p
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ProcessingResult is the unit exchanged between the pipeline and the
// table/summary layer. Fields fill in progressively as stages succeed; Error
// short-circuits later stages but the record is always returned.
type ProcessingResult struct {
	URL              string
	RowIndex         *int
	RowNumber        *int
	FolderName       string
	Marketplace      Marketplace
	ProductID        string
	Title            string
	Description      string
	Price            string
	Available        bool
	StockQuantity    *int
	ImagesDownloaded int
	Folder           string
	Error            string
}

// DownloadOutcome summarizes one image-download batch for a product.
type DownloadOutcome struct {
	ProductID  string
	Total      int
	Downloaded int
	Failed     int
	Folder     string
}

// BatchSummary aggregates one full batch of processing results.
type BatchSummary struct {
	Total           int
	AliExpressCount int
	EBayCount       int
	Available       int
	Unavailable     int
	Errors          int
	ImagesTotal     int
}

// Summarize computes the aggregate counts over a batch of results.
func Summarize(results []*ProcessingResult) BatchSummary {
	var s BatchSummary
	s.Total = len(results)
	for _, r := range results {
		switch r.Marketplace {
		case MarketplaceAliExpress:
			s.AliExpressCount++
		case MarketplaceEBay:
			s.EBayCount++
		}
		if r.Available {
			s.Available++
		} else {
			s.Unavailable++
		}
		if r.Error != "" {
			s.Errors++
		}
		s.ImagesTotal += r.ImagesDownloaded
	}
	return s
}
