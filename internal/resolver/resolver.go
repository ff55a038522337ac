// Package resolver turns arbitrary marketplace product URLs into normalized
// product references: marketplace detection, product ID extraction, and URL
// canonicalization. Everything here is pure string parsing.
package resolver

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"marketfetch/internal/core/domain"
)

var (
	aliItemHTMLRe = regexp.MustCompile(`/item/(\d+)\.html`)
	aliItemRe     = regexp.MustCompile(`/item/(\d+)`)
	ebayItemRe    = regexp.MustCompile(`/itm/(\d+)`)
)

// aliexpressDomains are the hostname suffixes accepted for AliExpress.
var aliexpressDomains = []string{"aliexpress.com", "aliexpress.us", "aliexpress.ru"}

// DetectMarketplace classifies a URL by its host. Classification is by domain
// only; path shape never participates.
func DetectMarketplace(rawURL string) domain.Marketplace {
	switch {
	case IsAliExpressURL(rawURL):
		return domain.MarketplaceAliExpress
	case IsEBayURL(rawURL):
		return domain.MarketplaceEBay
	default:
		return domain.MarketplaceUnknown
	}
}

// IsAliExpressURL reports whether the URL's host belongs to AliExpress.
func IsAliExpressURL(rawURL string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for _, d := range aliexpressDomains {
		if strings.Contains(host, d) {
			return true
		}
	}
	return false
}

// IsEBayURL reports whether the URL's host belongs to eBay.
func IsEBayURL(rawURL string) bool {
	host := hostOf(rawURL)
	return host != "" && strings.Contains(host, "ebay.com")
}

func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// ExtractProductID extracts the marketplace-specific product identifier from
// a URL. Returns "" when no pattern matches.
func ExtractProductID(marketplace domain.Marketplace, rawURL string) string {
	switch marketplace {
	case domain.MarketplaceAliExpress:
		return extractAliExpressID(rawURL)
	case domain.MarketplaceEBay:
		return extractEBayID(rawURL)
	default:
		return ""
	}
}

// extractAliExpressID tries, in order: /item/<digits>.html, /item/<digits>,
// then the productId / product_id query parameters. First match wins.
func extractAliExpressID(rawURL string) string {
	if m := aliItemHTMLRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if m := aliItemRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return queryParam(rawURL, "productId", "product_id")
}

// extractEBayID tries /itm/<digits>, then the item / itemId query parameters.
func extractEBayID(rawURL string) string {
	if m := ebayItemRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return queryParam(rawURL, "item", "itemId")
}

func queryParam(rawURL string, names ...string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	for _, name := range names {
		if v := q.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// NormalizeURL rewrites an AliExpress product URL to its canonical form,
// dropping tracking parameters. URLs with no extractable ID come back
// unchanged, which makes the function idempotent.
func NormalizeURL(rawURL string) string {
	id := extractAliExpressID(rawURL)
	if id == "" {
		return rawURL
	}
	return fmt.Sprintf("https://www.aliexpress.com/item/%s.html", id)
}

// Resolve builds a full product reference for a URL: marketplace plus
// extracted ID. The ID is "" when extraction fails.
func Resolve(rawURL string) domain.ProductReference {
	m := DetectMarketplace(rawURL)
	return domain.ProductReference{
		Marketplace: m,
		RawURL:      rawURL,
		ProductID:   ExtractProductID(m, rawURL),
	}
}
