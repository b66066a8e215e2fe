package ingest

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolkostruva/internal/blob"
	"kolkostruva/internal/dimension"
	"kolkostruva/internal/ident"
	"kolkostruva/internal/pricing"
)

const starFacts = `date,trade_chain_id,trade_object_id,city_id,product_id,category_id,retail_price,promo_price
2024-01-10,1,1,1,1,1,2.40,1.99
2024-01-10,1,1,1,2,2,5.00,
2024-01-09,1,1,1,1,1,2.50,0
broken,row
`

var starDims = map[string]string{
	"dim_category.json":     `{"version":"1.0","dimensions":{"1":{"name":"Хляб"},"2":{"name":"Сирене"}},"next_id":3}`,
	"dim_city.json":         `{"dimensions":{"1":{"ekatte_code":"68134","name":"София"}}}`,
	"dim_trade_chain.json":  `{"dimensions":{"1":{"name":"Верига"}}}`,
	"dim_trade_object.json": `{"dimensions":{"1":{"chain_id":1,"address":"ул. Витоша 1"}}}`,
	"dim_product.json":      `{"dimensions":{"1":{"name":"Бял хляб","product_code":"B1","category_id":1},"2":{"name":"Сирене","product_code":null,"category_id":2}}}`,
}

func seed(t *testing.T, docs map[string]string) blob.Store {
	t.Helper()
	store := blob.NewMemory()
	for name, body := range docs {
		_, err := store.Put(context.Background(), name, bytes.NewReader([]byte(body)), blob.PutOptions{})
		require.NoError(t, err)
	}
	return store
}

func withFacts(name, body string, docs map[string]string) map[string]string {
	out := map[string]string{name: body}
	for k, v := range docs {
		out[k] = v
	}
	return out
}

func TestStarLoaderLoadsFactsAndDimensions(t *testing.T) {
	store := seed(t, withFacts(DefaultStarFacts, starFacts, starDims))
	loader, err := New(NewBlobFetcher(store, ""), Options{})
	require.NoError(t, err)

	ds, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LayoutStar, ds.Layout)
	assert.Equal(t, 4, ds.Rows)
	assert.Equal(t, 1, ds.Skipped)
	require.Len(t, ds.Facts, 3)

	f := ds.Facts[0]
	assert.Equal(t, "2024-01-10", f.Date)
	assert.True(t, f.ProductID.Equal(ident.Of(1)))
	assert.True(t, f.PromoPrice.Valid)
	assert.False(t, ds.Facts[1].PromoPrice.Valid)

	rows, err := pricing.EnrichAll(ds.Facts, ds.Dims)
	require.NoError(t, err)
	assert.Equal(t, "София", rows[0].City.Name)
	assert.Equal(t, "1.99", rows[0].EffectivePrice.String())
	assert.Equal(t, "", rows[1].Product.Code)
	assert.Equal(t, "2.5", rows[2].EffectivePrice.String())
}

func TestStarLoaderMissingDimensionFails(t *testing.T) {
	docs := withFacts(DefaultStarFacts, starFacts, starDims)
	delete(docs, "dim_product.json")
	loader := NewStarLoader(NewBlobFetcher(seed(t, docs), ""), Options{})

	_, err := loader.Load(context.Background())
	require.Error(t, err)
	var le *dimension.LoadError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, "dim_product.json", le.Source)
	assert.True(t, errors.Is(err, dimension.ErrDocumentNotFound))
}

func TestStarLoaderMissingFactsFails(t *testing.T) {
	loader := NewStarLoader(NewBlobFetcher(seed(t, starDims), ""), Options{})
	_, err := loader.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, dimension.ErrDocumentNotFound))
}

func TestStarLoaderEmptyFactsFails(t *testing.T) {
	loader := NewStarLoader(NewBlobFetcher(seed(t, withFacts("facts.csv", "  \n", starDims)), ""), Options{Facts: "facts.csv"})
	_, err := loader.Load(context.Background())
	require.Error(t, err)
}

func TestBlobFetcherPrefix(t *testing.T) {
	store := seed(t, map[string]string{"daily/dim_city.json": "{}"})
	rc, err := NewBlobFetcher(store, "daily/").Fetch(context.Background(), "dim_city.json")
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	_, err = NewBlobFetcher(store, "").Fetch(context.Background(), "dim_city.json")
	assert.True(t, errors.Is(err, dimension.ErrDocumentNotFound))
}

const flatFacts = `date,Населено място,Търговски обект,Наименование на продукта,Код на продукта,Категория,Цена на дребно,Цена в промоция,chain_id
2024-01-10,68134-01,"ул. Витоша 1, София",Бял хляб,B1,1,2.40,1.99,7
2024-01-10,702,Пазар,Бял хляб,B1,1,2.60,,7
2024-01-10,68134,"ул. Витоша 1, София",Сирене,,2,9.90,,7
2024-01-10,68134,"ул. Витоша 1, София",,X,2,1.00,,7
2024-01-10,68134,Магазин,Мляко,M1,3,,,8
`

func TestFlatLoaderNormalizesRows(t *testing.T) {
	docs := map[string]string{
		DefaultFlatFacts:                  flatFacts,
		"category-nomenclature.json":      `{"1":"Хляб","2":"Сирене"}`,
		"cities-ekatte-nomenclature.json": `{"68134":"София"}`,
		"trade-chains-nomenclature.json":  `{"7":"Верига"}`,
	}
	loader, err := New(NewBlobFetcher(seed(t, docs), ""), Options{Layout: LayoutFlat})
	require.NoError(t, err)

	ds, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, LayoutFlat, ds.Layout)
	assert.Equal(t, 5, ds.Rows)
	assert.Equal(t, 2, ds.Skipped)
	require.Len(t, ds.Facts, 3)

	rows, err := pricing.EnrichAll(ds.Facts, ds.Dims)
	require.NoError(t, err)

	assert.Equal(t, pricing.CityRef{EkatteCode: "68134", Name: "София"}, rows[0].City)
	assert.Equal(t, "Хляб", rows[0].Category.Name)
	assert.Equal(t, "Верига", rows[0].Chain.Name)
	assert.Equal(t, "ул. Витоша 1, София", rows[0].TradeObject.Address)
	assert.Equal(t, "B1", rows[0].Product.Code)

	assert.Equal(t, pricing.CityRef{EkatteCode: "00702", Name: "00702"}, rows[1].City)
	assert.True(t, rows[0].Product.ID.Equal(rows[1].Product.ID), "same name and code share a product id")
	assert.False(t, rows[0].TradeObject.ID.Equal(rows[1].TradeObject.ID))

	assert.True(t, rows[2].TradeObject.ID.Equal(rows[0].TradeObject.ID), "same chain and address share a trade object id")
	assert.Equal(t, "Сирене", rows[2].Category.Name)
	assert.Equal(t, "9.9", rows[2].EffectivePrice.String())

	counts, err := ds.Dims.Counts()
	require.NoError(t, err)
	assert.Equal(t, dimension.Counts{Categories: 2, Cities: 2, TradeChains: 1, TradeObjects: 2, Products: 2}, counts)
}

func TestFlatLoaderWithoutNomenclatures(t *testing.T) {
	loader := NewFlatLoader(NewBlobFetcher(seed(t, map[string]string{DefaultFlatFacts: flatFacts}), ""), Options{})
	ds, err := loader.Load(context.Background())
	require.NoError(t, err)

	rows, err := pricing.EnrichAll(ds.Facts, ds.Dims)
	require.NoError(t, err)
	assert.Equal(t, "1", rows[0].Category.Name)
	assert.Equal(t, "68134", rows[0].City.Name)
	assert.Equal(t, "Unknown(7)", rows[0].Chain.Name)
}

func TestFlatLoaderBadNomenclatureFails(t *testing.T) {
	docs := map[string]string{DefaultFlatFacts: flatFacts, "category-nomenclature.json": `[1,2]`}
	_, err := NewFlatLoader(NewBlobFetcher(seed(t, docs), ""), Options{}).Load(context.Background())
	require.Error(t, err)
}

func TestNormalizeEkatte(t *testing.T) {
	cases := map[string]string{
		"68134":    "68134",
		"68134-01": "68134",
		"702":      "00702",
		" 702-5 ":  "00702",
		"":         "",
		"-1":       "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeEkatte(in), in)
	}
}

func TestNewUnknownLayout(t *testing.T) {
	_, err := New(nil, Options{Layout: "snowflake"})
	require.Error(t, err)
}
