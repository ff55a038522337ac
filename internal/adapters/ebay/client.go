// Package ebay implements the marketplace client for the eBay Browse API.
// It is the only component with internal mutable state: the cached OAuth
// bearer token and its expiry, scoped to the client instance.
package ebay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketfetch/internal/config"
	"marketfetch/internal/core/domain"
	"marketfetch/internal/core/ports"
)

const (
	productionBaseURL = "https://api.ebay.com"
	sandboxBaseURL    = "https://api.sandbox.ebay.com"
	oauthScope        = "https://api.ebay.com/oauth/api_scope"
	marketplaceID     = "EBAY_US"

	// errorIDItemGroup is the embedded error code meaning "this legacy ID
	// names a listing with variations, not a single item".
	errorIDItemGroup = 11006

	// tokenSafetyMargin refreshes the token this long before its reported
	// expiry.
	tokenSafetyMargin = 5 * time.Minute
)

var (
	tagRe = regexp.MustCompile(`<[^>]+>`)
	wsRe  = regexp.MustCompile(`\s+`)
)

// Client talks to the eBay Browse API using a cached client-credentials
// token. Not safe for concurrent use; processing is strictly sequential.
type Client struct {
	// BaseURL and AuthURL are overridable for tests.
	BaseURL string
	AuthURL string

	appID  string
	certID string
	http   *http.Client
	log    *zap.Logger
	now    func() time.Time

	token       string
	tokenExpiry time.Time
}

var _ ports.MarketplaceClient = (*Client)(nil)

// New builds a client from configuration, selecting the production or
// sandbox endpoints by EBAY_ENVIRONMENT.
func New(cfg *config.Config, log *zap.Logger) *Client {
	base := productionBaseURL
	if cfg.EBayEnvironment == "SANDBOX" {
		base = sandboxBaseURL
	}
	return &Client{
		BaseURL: base,
		AuthURL: base + "/identity/v1/oauth2/token",
		appID:   cfg.EBayAppID,
		certID:  cfg.EBayCertID,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		log:     log,
		now:     time.Now,
	}
}

// accessToken returns the cached token, exchanging client credentials for a
// fresh one when the cache is empty or inside the safety margin.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	c.log.Info("requesting new ebay oauth token")

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("scope", oauthScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	creds := base64.StdEncoding.EncodeToString([]byte(c.appID + ":" + c.certID))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+creds)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get ebay access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("token request failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}

	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenSafetyMargin)
	return c.token, nil
}

// Fetch retrieves a product record by legacy item ID. When the ID turns out
// to be an item group, the group endpoint is called transparently and a
// single synthesized record comes back with the availability quantity summed
// across all variants.
func (c *Client) Fetch(ctx context.Context, itemID string) (domain.RawProduct, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		c.log.Warn("ebay token acquisition failed", zap.String("item_id", itemID), zap.Error(err))
		return nil, err
	}

	reqURL := fmt.Sprintf("%s/buy/browse/v1/item/get_item_by_legacy_id?legacy_item_id=%s",
		c.BaseURL, url.QueryEscape(itemID))
	body, status, err := c.get(ctx, reqURL, token)
	if err != nil {
		c.log.Warn("ebay request failed", zap.String("item_id", itemID), zap.Error(err))
		return nil, err
	}

	if status == http.StatusOK {
		var item map[string]interface{}
		if err := json.Unmarshal(body, &item); err != nil {
			c.log.Warn("ebay decode failed", zap.String("item_id", itemID), zap.Error(err))
			return nil, fmt.Errorf("failed to parse response for item %s: %w", itemID, err)
		}
		return domain.RawProduct(item), nil
	}

	if status == http.StatusBadRequest && embeddedErrorID(body) == errorIDItemGroup {
		c.log.Info("ebay item is an item group, fetching group details", zap.String("item_id", itemID))
		return c.fetchItemGroup(ctx, itemID, token)
	}

	c.log.Warn("ebay unexpected status", zap.String("item_id", itemID), zap.Int("status", status))
	return nil, fmt.Errorf("unexpected status %d for item %s", status, itemID)
}

// fetchItemGroup fetches all variants of a listing and synthesizes a single
// record: the first member, annotated as a group, with its available
// quantity overwritten by the sum over all members.
func (c *Client) fetchItemGroup(ctx context.Context, groupID, token string) (domain.RawProduct, error) {
	reqURL := fmt.Sprintf("%s/buy/browse/v1/item/get_items_by_item_group?item_group_id=%s",
		c.BaseURL, url.QueryEscape(groupID))
	body, status, err := c.get(ctx, reqURL, token)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d for item group %s", status, groupID)
	}

	var group struct {
		Items []map[string]interface{} `json:"items"`
	}
	if err := json.Unmarshal(body, &group); err != nil {
		return nil, fmt.Errorf("failed to parse item group %s: %w", groupID, err)
	}
	if len(group.Items) == 0 {
		c.log.Warn("ebay empty item group", zap.String("item_group_id", groupID))
		return nil, fmt.Errorf("no items found in group %s", groupID)
	}

	first := group.Items[0]
	first["_is_item_group"] = true
	first["_item_group_size"] = len(group.Items)

	total := 0
	for _, item := range group.Items {
		total += availableQuantity(item)
	}
	setAvailableQuantity(first, total)

	c.log.Info("ebay item group fetched",
		zap.String("item_group_id", groupID),
		zap.Int("variations", len(group.Items)),
		zap.Int("total_quantity", total))
	return domain.RawProduct(first), nil
}

func (c *Client) get(ctx context.Context, reqURL, token string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-EBAY-C-MARKETPLACE-ID", marketplaceID)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func embeddedErrorID(body []byte) int {
	var payload struct {
		Errors []struct {
			ErrorID int `json:"errorId"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Errors) == 0 {
		return 0
	}
	return payload.Errors[0].ErrorID
}

// CheckAvailability derives purchasability. Order matters: ended listing,
// then inactive listing, then quantity. A malformed end date is skipped, not
// fatal.
func (c *Client) CheckAvailability(raw domain.RawProduct) domain.AvailabilityStatus {
	if raw == nil {
		return domain.AvailabilityStatus{Available: false, Reason: domain.ReasonFetchFailed}
	}

	zero := 0
	if endDate := stringValue(raw["itemEndDate"]); endDate != "" {
		if t, err := time.Parse(time.RFC3339, endDate); err == nil && t.Before(c.now()) {
			return domain.AvailabilityStatus{Available: false, Reason: domain.ReasonListingEnded, StockQuantity: &zero}
		}
	}

	if stringValue(raw["itemWebUrl"]) == "" {
		return domain.AvailabilityStatus{Available: false, Reason: domain.ReasonItemInactive, StockQuantity: &zero}
	}

	qty := availableQuantity(raw)
	if qty > 0 {
		return domain.AvailabilityStatus{Available: true, Reason: domain.ReasonAvailable, StockQuantity: &qty}
	}
	return domain.AvailabilityStatus{Available: false, Reason: domain.ReasonOutOfStock, StockQuantity: &qty}
}

// Title returns the listing title.
func (c *Client) Title(raw domain.RawProduct) string {
	return stringValue(raw["title"])
}

// Price reads the flat {currency, value} price object. The value arrives as
// a string from the Browse API but numbers are tolerated too.
func (c *Client) Price(raw domain.RawProduct) domain.PriceInfo {
	price, _ := raw["price"].(map[string]interface{})
	if price == nil {
		return domain.NewPriceInfo("USD", nil, nil)
	}
	currency := stringValue(price["currency"])
	if currency == "" {
		currency = "USD"
	}
	if v, ok := asFloat(price["value"]); ok {
		return domain.NewPriceInfo(currency, &v, &v)
	}
	return domain.NewPriceInfo(currency, nil, nil)
}

// Description prefers the full seller description over shortDescription,
// strips markup, and collapses whitespace.
func (c *Client) Description(raw domain.RawProduct) string {
	text := stringValue(raw["description"])
	if text == "" {
		text = stringValue(raw["shortDescription"])
	}
	text = tagRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(wsRe.ReplaceAllString(text, " "))
	if text == "" {
		return "N/A"
	}
	return text
}

// ImageURLs collects the primary image and additionalImages, deduplicated in
// first-seen order with protocol-relative URLs normalized.
func (c *Client) ImageURLs(raw domain.RawProduct) []string {
	var urls []string
	if img, ok := raw["image"].(map[string]interface{}); ok {
		if u := stringValue(img["imageUrl"]); u != "" {
			urls = append(urls, u)
		}
	}
	if extra, ok := raw["additionalImages"].([]interface{}); ok {
		for _, entry := range extra {
			if img, ok := entry.(map[string]interface{}); ok {
				if u := stringValue(img["imageUrl"]); u != "" {
					urls = append(urls, u)
				}
			}
		}
	}
	return dedupeURLs(urls)
}

// availableQuantity reads estimatedAvailabilities[0].estimatedAvailableQuantity.
func availableQuantity(item map[string]interface{}) int {
	avails, _ := item["estimatedAvailabilities"].([]interface{})
	if len(avails) == 0 {
		return 0
	}
	first, _ := avails[0].(map[string]interface{})
	if first == nil {
		return 0
	}
	if f, ok := asFloat(first["estimatedAvailableQuantity"]); ok {
		return int(f)
	}
	return 0
}

func setAvailableQuantity(item map[string]interface{}, qty int) {
	avails, _ := item["estimatedAvailabilities"].([]interface{})
	if len(avails) == 0 {
		item["estimatedAvailabilities"] = []interface{}{
			map[string]interface{}{"estimatedAvailableQuantity": float64(qty)},
		}
		return
	}
	if first, ok := avails[0].(map[string]interface{}); ok {
		first["estimatedAvailableQuantity"] = float64(qty)
	}
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

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
