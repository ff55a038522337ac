package ebay

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketfetch/internal/config"
	"marketfetch/internal/core/domain"
)

func testConfig() *config.Config {
	return &config.Config{
		EBayAppID:       "app",
		EBayCertID:      "cert",
		EBayEnvironment: "PRODUCTION",
		RequestTimeout:  5 * time.Second,
	}
}

// fakeEBay serves the token endpoint plus item/item-group lookups.
type fakeEBay struct {
	tokenRequests int
	itemHandler   http.HandlerFunc
	groupHandler  http.HandlerFunc
}

func (f *fakeEBay) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/identity/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenRequests++
		wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("app:cert"))
		assert.Equal(t, wantAuth, r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		fmt.Fprint(w, `{"access_token":"tok-1","expires_in":7200}`)
	})
	mux.HandleFunc("/buy/browse/v1/item/get_item_by_legacy_id", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "EBAY_US", r.Header.Get("X-EBAY-C-MARKETPLACE-ID"))
		f.itemHandler(w, r)
	})
	mux.HandleFunc("/buy/browse/v1/item/get_items_by_item_group", func(w http.ResponseWriter, r *http.Request) {
		f.groupHandler(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, f *fakeEBay) *Client {
	t.Helper()
	srv := f.server(t)
	c := New(testConfig(), zap.NewNop())
	c.BaseURL = srv.URL
	c.AuthURL = srv.URL + "/identity/v1/oauth2/token"
	return c
}

func TestFetchSingleItem(t *testing.T) {
	f := &fakeEBay{
		itemHandler: func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "123456789012", r.URL.Query().Get("legacy_item_id"))
			fmt.Fprint(w, `{"title":"Vintage Lamp","itemWebUrl":"https://www.ebay.com/itm/123456789012",
				"price":{"currency":"USD","value":"24.99"},
				"estimatedAvailabilities":[{"estimatedAvailableQuantity":4}]}`)
		},
	}
	c := newTestClient(t, f)

	raw, err := c.Fetch(context.Background(), "123456789012")
	require.NoError(t, err)
	assert.Equal(t, "Vintage Lamp", c.Title(raw))
	assert.Equal(t, "USD 24.99", c.Price(raw).Formatted)

	status := c.CheckAvailability(raw)
	assert.True(t, status.Available)
	require.NotNil(t, status.StockQuantity)
	assert.Equal(t, 4, *status.StockQuantity)
}

func TestFetchItemGroupAggregatesQuantities(t *testing.T) {
	f := &fakeEBay{
		itemHandler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"errors":[{"errorId":11006,"message":"item is an item group"}]}`)
		},
		groupHandler: func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "223344", r.URL.Query().Get("item_group_id"))
			fmt.Fprint(w, `{"items":[
				{"title":"Shirt (S)","itemWebUrl":"https://www.ebay.com/itm/1",
				 "estimatedAvailabilities":[{"estimatedAvailableQuantity":2}]},
				{"title":"Shirt (M)","itemWebUrl":"https://www.ebay.com/itm/2",
				 "estimatedAvailabilities":[{"estimatedAvailableQuantity":3}]}
			]}`)
		},
	}
	c := newTestClient(t, f)

	raw, err := c.Fetch(context.Background(), "223344")
	require.NoError(t, err)
	assert.Equal(t, true, raw["_is_item_group"])
	assert.Equal(t, 2, raw["_item_group_size"])

	status := c.CheckAvailability(raw)
	assert.True(t, status.Available)
	require.NotNil(t, status.StockQuantity)
	assert.Equal(t, 5, *status.StockQuantity)
}

func TestFetchOtherErrorsReturnNoData(t *testing.T) {
	f := &fakeEBay{
		itemHandler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"errors":[{"errorId":11001,"message":"item not found"}]}`)
		},
	}
	c := newTestClient(t, f)

	raw, err := c.Fetch(context.Background(), "999")
	assert.Error(t, err)
	assert.Nil(t, raw)
	assert.Equal(t, domain.ReasonFetchFailed, c.CheckAvailability(raw).Reason)
}

func TestTokenCacheAndRefresh(t *testing.T) {
	f := &fakeEBay{
		itemHandler: func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"title":"x","itemWebUrl":"https://e/x"}`)
		},
	}
	c := newTestClient(t, f)

	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	_, err := c.Fetch(context.Background(), "1")
	require.NoError(t, err)
	_, err = c.Fetch(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.tokenRequests, "token should be reused while valid")

	// expires_in is 7200s with a 5 minute safety margin; step past it.
	clock = clock.Add(2 * time.Hour)
	_, err = c.Fetch(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.tokenRequests, "token should refresh near expiry")
}

func TestCheckAvailabilityOrdering(t *testing.T) {
	c := New(testConfig(), zap.NewNop())
	c.now = func() time.Time { return time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC) }

	t.Run("ended listing", func(t *testing.T) {
		status := c.CheckAvailability(domain.RawProduct{
			"itemEndDate": "2026-01-01T00:00:00Z",
			"itemWebUrl":  "https://e/x",
			"estimatedAvailabilities": []interface{}{
				map[string]interface{}{"estimatedAvailableQuantity": float64(9)},
			},
		})
		assert.False(t, status.Available)
		assert.Equal(t, domain.ReasonListingEnded, status.Reason)
	})

	t.Run("future end date is not ended", func(t *testing.T) {
		status := c.CheckAvailability(domain.RawProduct{
			"itemEndDate": "2027-01-01T00:00:00Z",
			"itemWebUrl":  "https://e/x",
			"estimatedAvailabilities": []interface{}{
				map[string]interface{}{"estimatedAvailableQuantity": float64(1)},
			},
		})
		assert.True(t, status.Available)
	})

	t.Run("malformed end date is skipped", func(t *testing.T) {
		status := c.CheckAvailability(domain.RawProduct{
			"itemEndDate": "not-a-date",
			"itemWebUrl":  "https://e/x",
			"estimatedAvailabilities": []interface{}{
				map[string]interface{}{"estimatedAvailableQuantity": float64(1)},
			},
		})
		assert.True(t, status.Available)
	})

	t.Run("missing web url means inactive", func(t *testing.T) {
		status := c.CheckAvailability(domain.RawProduct{
			"estimatedAvailabilities": []interface{}{
				map[string]interface{}{"estimatedAvailableQuantity": float64(9)},
			},
		})
		assert.False(t, status.Available)
		assert.Equal(t, domain.ReasonItemInactive, status.Reason)
	})

	t.Run("zero quantity", func(t *testing.T) {
		status := c.CheckAvailability(domain.RawProduct{"itemWebUrl": "https://e/x"})
		assert.False(t, status.Available)
		assert.Equal(t, domain.ReasonOutOfStock, status.Reason)
	})
}

func TestProjections(t *testing.T) {
	c := New(testConfig(), zap.NewNop())

	t.Run("description falls back and strips markup", func(t *testing.T) {
		desc := c.Description(domain.RawProduct{"shortDescription": "<p>Nice   thing</p>"})
		assert.Equal(t, "Nice thing", desc)
		assert.Equal(t, "N/A", c.Description(domain.RawProduct{}))
	})

	t.Run("price without value", func(t *testing.T) {
		p := c.Price(domain.RawProduct{"price": map[string]interface{}{"currency": "USD"}})
		assert.Equal(t, "N/A", p.Formatted)
	})

	t.Run("images", func(t *testing.T) {
		urls := c.ImageURLs(domain.RawProduct{
			"image": map[string]interface{}{"imageUrl": "https://i/main.jpg"},
			"additionalImages": []interface{}{
				map[string]interface{}{"imageUrl": "https://i/2.jpg"},
				map[string]interface{}{"imageUrl": "https://i/main.jpg"},
			},
		})
		assert.Equal(t, []string{"https://i/main.jpg", "https://i/2.jpg"}, urls)
	})
}
