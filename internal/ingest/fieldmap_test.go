package ingest

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

func TestRakutenExtract(t *testing.T) {
	t.Parallel()

	item, err := RakutenFields.Extract(json.RawMessage(`{
		"itemCode": "shop:10001",
		"itemName": "  Jacket ",
		"itemCaption": "warm",
		"itemPrice": 4980,
		"itemUrl": "https://item.rakuten.co.jp/shop/10001/",
		"availability": 0,
		"reviewCount": 12,
		"reviewAverage": 4.25,
		"tagIds": [1001, 0, 1002],
		"mediumImageUrls": [],
		"smallImageUrls": ["https://x/a.jpg?_ex=64x64", "https://x/a.jpg?_ex=128x128", "https://x/b.jpg"]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "rakuten:shop:10001", item.ID)
	assert.Equal(t, "shop:10001", item.SiteID)
	assert.Equal(t, "Jacket", item.Name)
	assert.True(t, item.Price.Equal(decimal.NewFromInt(4980)))
	require.NotNil(t, item.Availability)
	assert.False(t, *item.Availability)
	assert.Equal(t, 12, *item.ReviewCount)
	assert.True(t, item.ReviewAverage.Equal(decimal.RequireFromString("4.25")))
	assert.True(t, item.HasTags)
	assert.Equal(t, []string{"rakuten:1001", "rakuten:1002"}, item.TagIDs)
	assert.Equal(t, []string{"https://x/a.jpg", "https://x/b.jpg"}, item.Images)
}

func TestUniqloExtract(t *testing.T) {
	t.Parallel()

	item, err := UniqloFields.Extract(json.RawMessage(`{
		"productId": "E465185-000",
		"name": "Heattech Crew Neck",
		"prices": {"base": {"value": 1990}},
		"rating": {"count": 3, "average": 4.7},
		"images": {"main": [{"url": "https://im.uniqlo.com/1.jpg?width=300"}]}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "uniqlo:E465185-000", item.ID)
	assert.True(t, item.Price.Equal(decimal.NewFromInt(1990)))
	assert.Nil(t, item.Availability)
	assert.False(t, item.HasTags)
	assert.Equal(t, []string{"https://im.uniqlo.com/1.jpg"}, item.Images)
}

func TestExtractRequiredFields(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"no id":          `{"itemName":"N","itemPrice":1}`,
		"no name":        `{"itemCode":"A","itemPrice":1}`,
		"no price":       `{"itemCode":"A","itemName":"N"}`,
		"bad price":      `{"itemCode":"A","itemName":"N","itemPrice":"cheap"}`,
		"negative price": `{"itemCode":"A","itemName":"N","itemPrice":-1}`,
		"not json":       `{"itemCode":`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := RakutenFields.Extract(json.RawMessage(payload))
			var shape *catalog.DataShapeError
			require.ErrorAs(t, err, &shape)
		})
	}
}

func TestExtractAcceptsLocalID(t *testing.T) {
	t.Parallel()

	item, err := RakutenFields.Extract(json.RawMessage(`{"id":"rakuten:A","itemCode":"ignored","itemName":"N","itemPrice":1}`))
	require.NoError(t, err)
	assert.Equal(t, "rakuten:A", item.ID)
	assert.Equal(t, "A", item.SiteID)
}

func TestDiffStagesOnlyChangedColumns(t *testing.T) {
	t.Parallel()

	desc := "same"
	current := catalog.Product{ID: "rakuten:A", Name: "N", Description: "same", SitePrice: decimal.NewFromInt(1000)}
	patch := Diff(current, Item{Name: "N", Price: decimal.RequireFromString("1000.00"), Description: &desc})
	assert.True(t, patch.Empty())

	patch = Diff(current, Item{Name: "M", Price: decimal.NewFromInt(900)})
	assert.Equal(t, []string{"name", "site_price"}, patch.Columns())
}
