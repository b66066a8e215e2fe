package dimension

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kolkostruva/internal/ident"
)

type mapFetcher struct {
	mu    sync.Mutex
	docs  map[string]string
	fail  map[string]error
	calls []string
}

func (m *mapFetcher) Fetch(_ context.Context, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	m.calls = append(m.calls, name)
	m.mu.Unlock()
	if err, ok := m.fail[name]; ok {
		return nil, err
	}
	doc, ok := m.docs[name]
	if !ok {
		return nil, fmt.Errorf("%s not found", name)
	}
	return io.NopCloser(strings.NewReader(doc)), nil
}

func fixtureFetcher() *mapFetcher {
	return &mapFetcher{docs: map[string]string{
		"dim_category.json":     `{"version":"1.0","dimensions":{"1":{"name":"Хляб"},"2":{"name":"Мляко"}},"next_id":3}`,
		"dim_city.json":         `{"dimensions":{"1":{"ekatte_code":"68134","name":"София"},"2":{"ekatte_code":"56784","name":""}}}`,
		"dim_trade_chain.json":  `{"dimensions":{"5":{"name":"Верига"},"6":{"name":""}}}`,
		"dim_trade_object.json": `{"dimensions":{"1":{"chain_id":5,"address":"ул. Витоша 1"}}}`,
		"dim_product.json":      `{"dimensions":{"1":{"name":"Бял хляб","product_code":null,"category_id":1},"x":{"name":"skip"}}}`,
	}}
}

func TestStoreLoadAndLookup(t *testing.T) {
	s := NewStore(Sources{})
	require.NoError(t, s.Load(context.Background(), fixtureFetcher()))
	require.True(t, s.Loaded())

	cat, ok, err := s.Category(ident.Of(2))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Мляко", cat.Name)

	city, ok, err := s.City(ident.Of(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, City{EkatteCode: "68134", Name: "София"}, city)

	obj, ok, err := s.TradeObject(ident.Of(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, obj.ChainID.Equal(ident.Of(5)))

	prod, ok, err := s.Product(ident.Of(1))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "", prod.ProductCode)

	counts, err := s.Counts()
	require.NoError(t, err)
	assert.Equal(t, Counts{Categories: 2, Cities: 2, TradeChains: 2, TradeObjects: 1, Products: 1}, counts)
}

func TestStoreMissAndNaNAreNotErrors(t *testing.T) {
	s := NewStore(Sources{})
	require.NoError(t, s.Load(context.Background(), fixtureFetcher()))

	_, ok, err := s.Category(ident.Of(99))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.TradeChain(ident.NaN)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeTableSkipsNonCanonicalKeys(t *testing.T) {
	doc := `{"dimensions":{"01":{"name":"second"},"1":{"name":"first"}," 2":{"name":"padded"},"3x":{"name":"suffixed"}}}`
	for n := 0; n < 50; n++ {
		table, err := DecodeTable[Category](strings.NewReader(doc))
		require.NoError(t, err)
		require.Len(t, table, 1)
		assert.Equal(t, "first", table[1].Name)
	}
}

func TestStoreNotLoaded(t *testing.T) {
	s := NewStore(Sources{})
	_, _, err := s.Category(ident.Of(1))
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, _, err = s.City(ident.Of(1))
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, _, err = s.TradeChain(ident.Of(1))
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, _, err = s.TradeObject(ident.Of(1))
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, _, err = s.Product(ident.Of(1))
	assert.ErrorIs(t, err, ErrNotLoaded)
	_, err = s.Counts()
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestStoreLoadFailureIdentifiesSource(t *testing.T) {
	f := fixtureFetcher()
	f.fail = map[string]error{"dim_trade_object.json": errors.New("boom")}
	s := NewStore(Sources{})
	err := s.Load(context.Background(), f)
	require.Error(t, err)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "dim_trade_object.json", loadErr.Source)
	assert.False(t, s.Loaded(), "no partial store")
	_, _, err = s.Category(ident.Of(1))
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestStoreLoadRejectsMalformedDocument(t *testing.T) {
	f := fixtureFetcher()
	f.docs["dim_city.json"] = `{"version":"1.0"}`
	err := NewStore(Sources{}).Load(context.Background(), f)
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "dim_city.json", loadErr.Source)

	f.docs["dim_city.json"] = `not json`
	err = NewStore(Sources{}).Load(context.Background(), f)
	require.ErrorAs(t, err, &loadErr)
}

func TestStoreLoadIsIdempotent(t *testing.T) {
	f := fixtureFetcher()
	s := NewStore(Sources{})
	require.NoError(t, s.Load(context.Background(), f))
	require.Len(t, f.calls, 5)
	require.NoError(t, s.Load(context.Background(), f))
	assert.Len(t, f.calls, 5)
}

func TestStoreCustomSources(t *testing.T) {
	f := fixtureFetcher()
	f.docs["cats.json"] = f.docs["dim_category.json"]
	delete(f.docs, "dim_category.json")
	s := NewStore(Sources{Category: "cats.json"})
	require.NoError(t, s.Load(context.Background(), f))
	assert.Equal(t, "cats.json", s.Sources().Category)
	assert.Equal(t, "dim_city.json", s.Sources().City)
}

func TestNomenclatures(t *testing.T) {
	s := NewStore(Sources{})
	require.NoError(t, s.Load(context.Background(), fixtureFetcher()))

	cats, err := s.CategoryNomenclature()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Хляб": "Хляб", "Мляко": "Мляко"}, cats)

	cities, err := s.CityNomenclature()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"68134": "София", "56784": "56784"}, cities)

	chains, err := s.ChainNomenclature()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"5": "Верига", "6": "Chain 6"}, chains)
}

func TestFromTables(t *testing.T) {
	s := FromTables(Tables{Categories: map[int]Category{3: {Name: "x"}}})
	require.True(t, s.Loaded())
	c, ok, err := s.Category(ident.Of(3))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", c.Name)
	_, ok, err = s.City(ident.Of(3))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(ProductKey)
	a, created := r.GetOrCreate(Product{Name: "Хляб", ProductCode: "1"})
	require.True(t, created)
	b, created := r.GetOrCreate(Product{Name: "Хляб", ProductCode: "2"})
	require.True(t, created)
	c, created := r.GetOrCreate(Product{Name: "Хляб", ProductCode: "1", CategoryID: ident.Of(9)})
	require.False(t, created)
	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
	assert.Equal(t, a, c)
	assert.Equal(t, 2, r.Len())
	assert.Len(t, r.Table(), 2)

	objects := NewRegistry(TradeObjectKey)
	x, _ := objects.GetOrCreate(TradeObject{ChainID: ident.Of(1), Address: "a"})
	y, _ := objects.GetOrCreate(TradeObject{ChainID: ident.Of(2), Address: "a"})
	assert.NotEqual(t, x, y)
}
