package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gscRow(keys []string, clicks, impressions, ctr, position float64) map[string]any {
	return map[string]any{
		"keys": keys, "clicks": clicks, "impressions": impressions,
		"ctr": ctr, "position": position,
	}
}

func TestGSCPagePerformanceMergesWindows(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sites/https:%2F%2Fexample.com%2F/searchAnalytics/query", r.URL.EscapedPath())
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		calls++
		var rows []map[string]any
		if calls == 1 {
			rows = []map[string]any{
				gscRow([]string{"https://example.com/pricing"}, 80, 2000, 0.04, 6.2),
				gscRow([]string{"https://example.com/new-feature"}, 12, 300, 0.04, 14.8),
			}
		} else {
			rows = []map[string]any{
				gscRow([]string{"https://example.com/pricing"}, 95, 2100, 0.045, 4.1),
				gscRow([]string{"https://example.com/dropped"}, 30, 900, 0.033, 9.0),
			}
		}
		json.NewEncoder(w).Encode(map[string]any{"rows": rows})
	}))
	defer srv.Close()

	c := NewGSCClient(staticTokens{token: "tok-1"}, "https://example.com/")
	c.SetEndpoint(srv.URL)

	got, err := c.PagePerformance(context.Background(),
		DateRange{Start: "2026-08-17", End: "2026-08-24"},
		DateRange{Start: "2026-08-10", End: "2026-08-17"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	sort.Slice(got, func(i, j int) bool { return got[i].PageURL < got[j].PageURL })

	dropped := got[0]
	assert.Equal(t, "https://example.com/dropped", dropped.PageURL)
	assert.Equal(t, 0, dropped.Clicks)
	assert.Equal(t, 30, dropped.PreviousClicks)

	pricing := got[2]
	assert.Equal(t, "https://example.com/pricing", pricing.PageURL)
	assert.Equal(t, 80, pricing.Clicks)
	assert.Equal(t, 95, pricing.PreviousClicks)
	assert.InDelta(t, 6.2, pricing.Position, 0.001)
	assert.InDelta(t, 4.1, pricing.PreviousPosition, 0.001)
}

func TestPositionChangeSign(t *testing.T) {
	// Moved from 12 to 8: an improvement, so the change is positive.
	improved := PageSearchMetrics{Position: 8, PreviousPosition: 12}
	assert.InDelta(t, 4, improved.PositionChange(), 0.001)

	// Moved from 5 to 11: a loss, so the change is negative.
	worsened := PageSearchMetrics{Position: 11, PreviousPosition: 5}
	assert.InDelta(t, -6, worsened.PositionChange(), 0.001)

	// No previous reading means no comparable change.
	fresh := PageSearchMetrics{Position: 3}
	assert.Zero(t, fresh.PositionChange())
}

func TestTopQueriesFiltersByPage(t *testing.T) {
	var captured gscQuery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{"rows": []map[string]any{
			gscRow([]string{"restaurant inventory software"}, 50, 800, 0.0625, 3.1),
			gscRow([]string{"kitchen stock tracker"}, 20, 500, 0.04, 7.8),
		}})
	}))
	defer srv.Close()

	c := NewGSCClient(staticTokens{token: "tok-1"}, "https://example.com/")
	c.SetEndpoint(srv.URL)

	got, err := c.TopQueries(context.Background(), "https://example.com/pricing", 14, 0)
	require.NoError(t, err)

	require.Len(t, captured.DimensionFilterGroups, 1)
	filter := captured.DimensionFilterGroups[0].Filters[0]
	assert.Equal(t, "page", filter.Dimension)
	assert.Equal(t, "equals", filter.Operator)
	assert.Equal(t, "https://example.com/pricing", filter.Expression)
	assert.Equal(t, 10, captured.RowLimit, "zero limit falls back to the default")

	require.Len(t, got, 2)
	assert.Equal(t, "restaurant inventory software", got[0].Query)
	assert.Equal(t, 50, got[0].Clicks)
}

func TestQueryContainsLowercasesKeyword(t *testing.T) {
	var captured gscQuery
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]any{"rows": []map[string]any{
			gscRow([]string{"food erp pricing", "https://example.com/pricing"}, 5, 120, 0.04, 18.5),
		}})
	}))
	defer srv.Close()

	c := NewGSCClient(staticTokens{token: "tok-1"}, "https://example.com/")
	c.SetEndpoint(srv.URL)

	got, err := c.QueryContains(context.Background(), "Food ERP", 7)
	require.NoError(t, err)

	filter := captured.DimensionFilterGroups[0].Filters[0]
	assert.Equal(t, "query", filter.Dimension)
	assert.Equal(t, "contains", filter.Operator)
	assert.Equal(t, "food erp", filter.Expression)
	assert.Equal(t, []string{"query", "page"}, captured.Dimensions)

	require.Len(t, got, 1)
	assert.Equal(t, "food erp pricing", got[0].Query)
	assert.Equal(t, "https://example.com/pricing", got[0].PageURL)
	assert.InDelta(t, 18.5, got[0].Position, 0.001)
}
