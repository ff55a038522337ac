// Package aliexpress implements the marketplace client for the AliExpress
// DataHub API (RapidAPI). The API is loosely typed: field names shift between
// products, so every accessor walks a fallback chain and projects into the
// typed domain records before anything leaves this package.
package aliexpress

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"marketfetch/internal/config"
	"marketfetch/internal/core/domain"
	"marketfetch/internal/core/ports"
)

const itemDetailPath = "/item_detail_6"

var (
	tagRe = regexp.MustCompile(`<[^>]+>`)
	wsRe  = regexp.MustCompile(`\s+`)
)

// Client talks to the AliExpress DataHub item-detail endpoint. The rate
// limiter is per-instance so parallel instances in tests never interfere.
type Client struct {
	// BaseURL is overridable for tests; defaults to https://<RAPIDAPI_HOST>.
	BaseURL string

	apiKey  string
	apiHost string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

var _ ports.MarketplaceClient = (*Client)(nil)

// New builds a client from configuration. Burst 1 makes the limiter a plain
// fixed-interval throttle: no credit accrues during idle periods beyond the
// next single request.
func New(cfg *config.Config, log *zap.Logger) *Client {
	return &Client{
		BaseURL: "https://" + cfg.RapidAPIHost,
		apiKey:  cfg.RapidAPIKey,
		apiHost: cfg.RapidAPIHost,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1),
		log:     log,
	}
}

// Fetch retrieves the raw item record for a product ID. Transport errors,
// non-2xx statuses, decode failures, a missing result envelope, and an
// embedded non-success status are all equivalent: no data. Each path is
// logged with the product ID so a bad product can be diagnosed later.
func (c *Client) Fetch(ctx context.Context, productID string) (domain.RawProduct, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := fmt.Sprintf("%s%s?itemId=%s", c.BaseURL, itemDetailPath, url.QueryEscape(productID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-RapidAPI-Key", c.apiKey)
	req.Header.Set("X-RapidAPI-Host", c.apiHost)

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("aliexpress request failed", zap.String("product_id", productID), zap.Error(err))
		return nil, fmt.Errorf("request failed for product %s: %w", productID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("aliexpress unexpected status", zap.String("product_id", productID), zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("unexpected status %d for product %s", resp.StatusCode, productID)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.log.Warn("aliexpress decode failed", zap.String("product_id", productID), zap.Error(err))
		return nil, fmt.Errorf("failed to parse response for product %s: %w", productID, err)
	}

	result, ok := body["result"].(map[string]interface{})
	if !ok {
		c.log.Warn("aliexpress missing result envelope", zap.String("product_id", productID))
		return nil, fmt.Errorf("no data returned for product %s", productID)
	}

	status, _ := result["status"].(map[string]interface{})
	if asInt(status["code"]) != 200 || stringValue(status["data"]) != "success" {
		c.log.Warn("aliexpress api error", zap.String("product_id", productID), zap.Any("status", status))
		return nil, fmt.Errorf("api error for product %s", productID)
	}

	item, _ := result["item"].(map[string]interface{})
	if item == nil {
		// The envelope answered but carried no item; availability maps
		// this to "product not found".
		return domain.RawProduct{}, nil
	}
	return domain.RawProduct(item), nil
}

// CheckAvailability derives the purchasability of a fetched item. The
// offline check deliberately runs after the stock check and can flip an
// in-stock item to unavailable.
func (c *Client) CheckAvailability(raw domain.RawProduct) domain.AvailabilityStatus {
	if raw == nil {
		return domain.AvailabilityStatus{Available: false, Reason: domain.ReasonFetchFailed}
	}
	if len(raw) == 0 {
		return domain.AvailabilityStatus{Available: false, Reason: domain.ReasonProductNotFound}
	}

	status := domain.AvailabilityStatus{Available: true, Reason: domain.ReasonAvailable}

	if v, ok := raw["totalAvailableStock"]; ok {
		qty := asInt(v)
		status.StockQuantity = &qty
		if qty <= 0 {
			status.Available = false
			status.Reason = domain.ReasonOutOfStock
		}
	} else if v, ok := raw["stock"]; ok {
		qty := asInt(v)
		status.StockQuantity = &qty
		if qty <= 0 {
			status.Available = false
			status.Reason = domain.ReasonOutOfStock
		}
	}

	if stringValue(raw["itemStatus"]) == "offline" || boolValue(raw["offline"]) {
		status.Available = false
		status.Reason = domain.ReasonOffline
	}

	return status
}

// Title returns the product title from the first present alias.
func (c *Client) Title(raw domain.RawProduct) string {
	return firstString(raw, "title", "subject")
}

// Price extracts the price range. The nested salePrice object wins; flat
// aliases are the fallback. Currency defaults to USD.
func (c *Client) Price(raw domain.RawProduct) domain.PriceInfo {
	if raw == nil {
		return domain.NewPriceInfo("USD", nil, nil)
	}

	currency := "USD"
	var min, max *float64

	if sp, ok := raw["salePrice"].(map[string]interface{}); ok {
		if cur := stringValue(sp["currency"]); cur != "" {
			currency = cur
		}
		min = firstNumber(sp, "min", "minPrice")
		max = firstNumber(sp, "max", "maxPrice")
	}
	if min == nil && max == nil {
		min = firstNumber(raw, "minPrice", "price", "targetMinPrice", "sku_min_price")
		max = firstNumber(raw, "maxPrice", "targetMaxPrice", "sku_max_price")
	}

	return domain.NewPriceInfo(currency, min, max)
}

// Description takes the first present alias, which may be a flat string or a
// nested {html: ...} object, strips markup, and collapses whitespace. An
// image-only description ends up empty and becomes the "N/A" sentinel.
func (c *Client) Description(raw domain.RawProduct) string {
	var text string
	for _, key := range []string{"description", "desc", "productDescription"} {
		switch v := raw[key].(type) {
		case string:
			text = v
		case map[string]interface{}:
			text = stringValue(v["html"])
		}
		if text != "" {
			break
		}
	}

	text = tagRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(wsRe.ReplaceAllString(text, " "))
	if text == "" {
		return "N/A"
	}
	return text
}

// ImageURLs collects the main image plus the additional-image list. The
// list field may itself be a delimited string; the first separator found
// (";" then "," then "|") wins and splits the whole value. Duplicates are
// dropped preserving first-seen order, protocol-relative URLs get https.
func (c *Client) ImageURLs(raw domain.RawProduct) []string {
	var urls []string

	if main := firstString(raw, "mainImageUrl", "imageUrl", "image"); main != "" {
		urls = append(urls, main)
	}

	for _, key := range []string{"imageUrls", "images", "productImages", "imagePathList"} {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		switch list := v.(type) {
		case []interface{}:
			for _, entry := range list {
				if s := stringValue(entry); s != "" {
					urls = append(urls, s)
				}
			}
		case string:
			urls = append(urls, splitImageList(list)...)
		}
		break
	}

	return dedupeURLs(urls)
}

func splitImageList(value string) []string {
	for _, sep := range []string{";", ",", "|"} {
		if strings.Contains(value, sep) {
			var out []string
			for _, part := range strings.Split(value, sep) {
				if p := strings.TrimSpace(part); p != "" {
					out = append(out, p)
				}
			}
			return out
		}
	}
	if v := strings.TrimSpace(value); v != "" {
		return []string{v}
	}
	return nil
}

func dedupeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	var out []string
	for _, u := range urls {
		if u == "" {
			continue
		}
		if strings.HasPrefix(u, "//") {
			u = "https:" + u
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// JSON helpers for the loosely-typed response.

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func boolValue(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func firstString(m domain.RawProduct, keys ...string) string {
	for _, key := range keys {
		if s := stringValue(m[key]); s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(m map[string]interface{}, keys ...string) *float64 {
	for _, key := range keys {
		if f, ok := asFloat(m[key]); ok {
			return &f
		}
	}
	return nil
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func asInt(v interface{}) int {
	if f, ok := asFloat(v); ok {
		return int(f)
	}
	return 0
}
