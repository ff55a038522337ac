package aliexpress

import (
	"context"
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
		RapidAPIKey:          "test-key",
		RapidAPIHost:         "example.test",
		MaxRequestsPerSecond: 1000,
		RequestTimeout:       5 * time.Second,
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := New(testConfig(), zap.NewNop())
	c.BaseURL = srv.URL
	return c
}

func envelope(item string) string {
	return fmt.Sprintf(`{"result":{"status":{"code":200,"data":"success"},"item":%s}}`, item)
}

func TestFetchSendsHeadersAndQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-RapidAPI-Key"))
		assert.Equal(t, "example.test", r.Header.Get("X-RapidAPI-Host"))
		assert.Equal(t, "12345", r.URL.Query().Get("itemId"))
		fmt.Fprint(w, envelope(`{"title":"Widget"}`))
	})

	raw, err := c.Fetch(context.Background(), "12345")
	require.NoError(t, err)
	assert.Equal(t, "Widget", c.Title(raw))
}

func TestFetchFailureModes(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-2xx", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "not json")
		}},
		{"missing result envelope", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"message":"quota exceeded"}`)
		}},
		{"embedded api error", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"result":{"status":{"code":500,"data":"error"}}}`)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			raw, err := c.Fetch(context.Background(), "12345")
			assert.Error(t, err)
			assert.Nil(t, raw)
		})
	}
}

func TestFetchEmptyItemIsNotAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"result":{"status":{"code":200,"data":"success"}}}`)
	})

	raw, err := c.Fetch(context.Background(), "12345")
	require.NoError(t, err)
	require.NotNil(t, raw)
	assert.Empty(t, raw)

	status := c.CheckAvailability(raw)
	assert.False(t, status.Available)
	assert.Equal(t, domain.ReasonProductNotFound, status.Reason)
}

func TestCheckAvailability(t *testing.T) {
	c := New(testConfig(), zap.NewNop())

	t.Run("fetch failed", func(t *testing.T) {
		status := c.CheckAvailability(nil)
		assert.False(t, status.Available)
		assert.Equal(t, domain.ReasonFetchFailed, status.Reason)
	})

	t.Run("in stock", func(t *testing.T) {
		status := c.CheckAvailability(domain.RawProduct{"totalAvailableStock": float64(5)})
		assert.True(t, status.Available)
		assert.Equal(t, domain.ReasonAvailable, status.Reason)
		require.NotNil(t, status.StockQuantity)
		assert.Equal(t, 5, *status.StockQuantity)
	})

	t.Run("out of stock", func(t *testing.T) {
		status := c.CheckAvailability(domain.RawProduct{"totalAvailableStock": float64(0)})
		assert.False(t, status.Available)
		assert.Equal(t, domain.ReasonOutOfStock, status.Reason)
	})

	t.Run("stock fallback field", func(t *testing.T) {
		status := c.CheckAvailability(domain.RawProduct{"stock": float64(3)})
		assert.True(t, status.Available)
		require.NotNil(t, status.StockQuantity)
		assert.Equal(t, 3, *status.StockQuantity)
	})

	t.Run("offline overrides in stock", func(t *testing.T) {
		status := c.CheckAvailability(domain.RawProduct{
			"totalAvailableStock": float64(5),
			"itemStatus":          "offline",
		})
		assert.False(t, status.Available)
		assert.Equal(t, domain.ReasonOffline, status.Reason)
	})

	t.Run("offline boolean flag", func(t *testing.T) {
		status := c.CheckAvailability(domain.RawProduct{
			"totalAvailableStock": float64(5),
			"offline":             true,
		})
		assert.False(t, status.Available)
		assert.Equal(t, domain.ReasonOffline, status.Reason)
	})
}

func TestPrice(t *testing.T) {
	c := New(testConfig(), zap.NewNop())

	t.Run("sale price range", func(t *testing.T) {
		p := c.Price(domain.RawProduct{
			"salePrice": map[string]interface{}{"min": float64(10), "max": float64(20)},
		})
		assert.Equal(t, "USD 10 - 20", p.Formatted)
	})

	t.Run("sale price single value", func(t *testing.T) {
		p := c.Price(domain.RawProduct{
			"salePrice": map[string]interface{}{"minPrice": float64(10), "maxPrice": float64(10)},
		})
		assert.Equal(t, "USD 10", p.Formatted)
	})

	t.Run("flat fallback fields", func(t *testing.T) {
		p := c.Price(domain.RawProduct{
			"sku_min_price": "9.99",
			"sku_max_price": "19.99",
		})
		assert.Equal(t, "USD 9.99 - 19.99", p.Formatted)
	})

	t.Run("no price", func(t *testing.T) {
		p := c.Price(domain.RawProduct{})
		assert.Equal(t, "N/A", p.Formatted)
		assert.Nil(t, p.Min)
		assert.Nil(t, p.Max)
	})

	t.Run("currency from sale price", func(t *testing.T) {
		p := c.Price(domain.RawProduct{
			"salePrice": map[string]interface{}{"min": float64(5), "currency": "EUR"},
		})
		assert.Equal(t, "EUR 5", p.Formatted)
	})
}

func TestDescription(t *testing.T) {
	c := New(testConfig(), zap.NewNop())

	t.Run("nested html", func(t *testing.T) {
		desc := c.Description(domain.RawProduct{
			"description": map[string]interface{}{"html": "<p>Hello   <b>world</b></p>\n<div>again</div>"},
		})
		assert.Equal(t, "Hello world again", desc)
	})

	t.Run("flat string", func(t *testing.T) {
		desc := c.Description(domain.RawProduct{"description": "  plain   text  "})
		assert.Equal(t, "plain text", desc)
	})

	t.Run("image-only html becomes sentinel", func(t *testing.T) {
		desc := c.Description(domain.RawProduct{
			"description": map[string]interface{}{"html": `<img src="a.jpg"/><img src="b.jpg"/>`},
		})
		assert.Equal(t, "N/A", desc)
	})

	t.Run("absent becomes sentinel", func(t *testing.T) {
		assert.Equal(t, "N/A", c.Description(domain.RawProduct{}))
	})
}

func TestImageURLs(t *testing.T) {
	c := New(testConfig(), zap.NewNop())

	t.Run("dedupe with protocol normalization", func(t *testing.T) {
		urls := c.ImageURLs(domain.RawProduct{
			"images": []interface{}{"https://x/a.jpg", "//x/a.jpg", "https://x/a.jpg"},
		})
		assert.Equal(t, []string{"https://x/a.jpg"}, urls)
	})

	t.Run("main image first", func(t *testing.T) {
		urls := c.ImageURLs(domain.RawProduct{
			"mainImageUrl": "//x/main.jpg",
			"images":       []interface{}{"https://x/a.jpg"},
		})
		assert.Equal(t, []string{"https://x/main.jpg", "https://x/a.jpg"}, urls)
	})

	t.Run("semicolon separated string", func(t *testing.T) {
		urls := c.ImageURLs(domain.RawProduct{
			"imageUrls": "https://x/a.jpg;https://x/b.jpg; https://x/c.jpg",
		})
		assert.Equal(t, []string{"https://x/a.jpg", "https://x/b.jpg", "https://x/c.jpg"}, urls)
	})

	t.Run("first separator wins", func(t *testing.T) {
		urls := c.ImageURLs(domain.RawProduct{
			"imageUrls": "https://x/a.jpg;https://x/b,c.jpg",
		})
		assert.Equal(t, []string{"https://x/a.jpg", "https://x/b,c.jpg"}, urls)
	})

	t.Run("single url string", func(t *testing.T) {
		urls := c.ImageURLs(domain.RawProduct{"imagePathList": "https://x/solo.jpg"})
		assert.Equal(t, []string{"https://x/solo.jpg"}, urls)
	})

	t.Run("no images", func(t *testing.T) {
		assert.Empty(t, c.ImageURLs(domain.RawProduct{}))
	})
}

func TestRateLimiterSpacesRequests(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, envelope(`{"title":"x"}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxRequestsPerSecond = 20 // 50ms interval
	c := New(cfg, zap.NewNop())
	c.BaseURL = srv.URL

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.Fetch(context.Background(), "1")
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	assert.Equal(t, 3, calls)
	// Burst 1: the second and third calls each wait out the interval.
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}
