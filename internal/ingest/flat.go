package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"kolkostruva/internal/dimension"
	"kolkostruva/internal/ident"
	"kolkostruva/internal/pricing"
	"kolkostruva/internal/tabular"
)

// DefaultFlatFacts is the denormalized table published for the web view.
const DefaultFlatFacts = "data.csv"

// Flat layout columns, as exported by the price register.
const (
	ColFlatDate        = "date"
	ColFlatCity        = "Населено място"
	ColFlatTradeObject = "Търговски обект"
	ColFlatProductName = "Наименование на продукта"
	ColFlatProductCode = "Код на продукта"
	ColFlatCategory    = "Категория"
	ColFlatRetailPrice = "Цена на дребно"
	ColFlatPromoPrice  = "Цена в промоция"
	ColFlatChainID     = "chain_id"
)

// Nomenclatures names the optional code-to-name documents of the flat layout.
// Each is a JSON object mapping a code to its display name.
type Nomenclatures struct {
	Category   string
	City       string
	TradeChain string
}

// DefaultNomenclatures returns the document names the downloader maintains.
func DefaultNomenclatures() Nomenclatures {
	return Nomenclatures{
		Category:   "category-nomenclature.json",
		City:       "cities-ekatte-nomenclature.json",
		TradeChain: "trade-chains-nomenclature.json",
	}
}

func (n Nomenclatures) withDefaults() Nomenclatures {
	d := DefaultNomenclatures()
	if n.Category == "" {
		n.Category = d.Category
	}
	if n.City == "" {
		n.City = d.City
	}
	if n.TradeChain == "" {
		n.TradeChain = d.TradeChain
	}
	return n
}

// FlatLoader reads the denormalized table and synthesizes dimension tables
// from it, so the rest of the pipeline sees the same shape as the star layout.
type FlatLoader struct {
	fetcher       Fetcher
	facts         string
	delimiter     rune
	nomenclatures Nomenclatures
}

// NewFlatLoader returns a flat layout loader.
func NewFlatLoader(f Fetcher, opts Options) *FlatLoader {
	facts := opts.Facts
	if facts == "" {
		facts = DefaultFlatFacts
	}
	return &FlatLoader{fetcher: f, facts: facts, delimiter: opts.Delimiter, nomenclatures: opts.Nomenclatures.withDefaults()}
}

// Load fetches the table and the nomenclatures concurrently. A missing
// nomenclature is tolerated; codes then stand in for names.
func (l *FlatLoader) Load(ctx context.Context) (Dataset, error) {
	var (
		table                      tabular.Result
		categories, cities, chains map[string]string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rc, err := l.fetcher.Fetch(gctx, l.facts)
		if err != nil {
			return fmt.Errorf("load facts: %w", err)
		}
		defer func() { _ = rc.Close() }()
		table, err = readTable(rc, l.delimiter, []string{ColFlatChainID})
		if err != nil {
			return fmt.Errorf("load facts %s: %w", l.facts, err)
		}
		return nil
	})
	g.Go(func() (err error) {
		categories, err = l.nomenclature(gctx, l.nomenclatures.Category)
		return err
	})
	g.Go(func() (err error) {
		cities, err = l.nomenclature(gctx, l.nomenclatures.City)
		return err
	})
	g.Go(func() (err error) {
		chains, err = l.nomenclature(gctx, l.nomenclatures.TradeChain)
		return err
	})
	if err := g.Wait(); err != nil {
		return Dataset{}, err
	}

	n := newNormalizer(categories, cities, chains)
	facts := make([]pricing.Fact, 0, len(table.Records))
	skipped := table.Skipped
	for _, rec := range table.Records {
		f, ok := n.fact(rec)
		if !ok {
			skipped++
			continue
		}
		facts = append(facts, f)
	}
	return Dataset{
		Layout:  LayoutFlat,
		Facts:   facts,
		Dims:    dimension.FromTables(n.tables()),
		Rows:    len(table.Records) + table.Skipped,
		Skipped: skipped,
	}, nil
}

func (l *FlatLoader) nomenclature(ctx context.Context, name string) (map[string]string, error) {
	rc, err := l.fetcher.Fetch(ctx, name)
	if errors.Is(err, dimension.ErrDocumentNotFound) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load nomenclature: %w", err)
	}
	defer func() { _ = rc.Close() }()
	out := map[string]string{}
	if err := json.NewDecoder(rc).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode nomenclature %s: %w", name, err)
	}
	return out, nil
}

// NormalizeEkatte drops a "-suffix" and left-pads the code to five digits.
func NormalizeEkatte(code string) string {
	code, _, _ = strings.Cut(strings.TrimSpace(code), "-")
	if code == "" {
		return ""
	}
	if len(code) < 5 {
		code = strings.Repeat("0", 5-len(code)) + code
	}
	return code
}

type normalizer struct {
	categoryNames map[string]string
	cityNames     map[string]string
	chainNames    map[string]string

	categories   *dimension.Registry[dimension.Category]
	cities       *dimension.Registry[dimension.City]
	tradeObjects *dimension.Registry[dimension.TradeObject]
	products     *dimension.Registry[dimension.Product]
	chains       map[int]dimension.TradeChain
}

func newNormalizer(categories, cities, chains map[string]string) *normalizer {
	return &normalizer{
		categoryNames: categories,
		cityNames:     cities,
		chainNames:    chains,
		categories:    dimension.NewRegistry(dimension.CategoryKey),
		cities:        dimension.NewRegistry(dimension.CityKey),
		tradeObjects:  dimension.NewRegistry(dimension.TradeObjectKey),
		products:      dimension.NewRegistry(dimension.ProductKey),
		chains:        make(map[int]dimension.TradeChain),
	}
}

// fact assigns ids for one row. Rows missing the city, shop, product name,
// category or both prices are rejected.
func (n *normalizer) fact(rec tabular.Record) (pricing.Fact, bool) {
	ekatte := NormalizeEkatte(rec.String(ColFlatCity))
	address := rec.String(ColFlatTradeObject)
	productName := rec.String(ColFlatProductName)
	categoryCode := rec.String(ColFlatCategory)
	retail := rec.String(ColFlatRetailPrice)
	promo := rec.String(ColFlatPromoPrice)
	if ekatte == "" || address == "" || productName == "" || categoryCode == "" {
		return pricing.Fact{}, false
	}
	if retail == "" && promo == "" {
		return pricing.Fact{}, false
	}

	categoryName := lookupOr(n.categoryNames, categoryCode)
	categoryID, _ := n.categories.GetOrCreate(dimension.Category{Name: categoryName})
	cityID, _ := n.cities.GetOrCreate(dimension.City{EkatteCode: ekatte, Name: lookupOr(n.cityNames, ekatte)})

	chainID := rec.ID(ColFlatChainID)
	if id, ok := chainID.Int(); ok {
		if name, found := n.chainNames[chainID.String()]; found {
			n.chains[id] = dimension.TradeChain{Name: name}
		}
	}
	objectID, _ := n.tradeObjects.GetOrCreate(dimension.TradeObject{ChainID: chainID, Address: address})
	productID, _ := n.products.GetOrCreate(dimension.Product{
		Name:        productName,
		ProductCode: rec.String(ColFlatProductCode),
		CategoryID:  ident.Of(categoryID),
	})

	return pricing.Fact{
		Date:          rec.String(ColFlatDate),
		CategoryID:    ident.Of(categoryID),
		CityID:        ident.Of(cityID),
		TradeChainID:  chainID,
		TradeObjectID: ident.Of(objectID),
		ProductID:     ident.Of(productID),
		RetailPrice:   pricing.RetailAmount(retail),
		PromoPrice:    pricing.PromoAmount(promo),
	}, true
}

func (n *normalizer) tables() dimension.Tables {
	return dimension.Tables{
		Categories:   n.categories.Table(),
		Cities:       n.cities.Table(),
		TradeChains:  n.chains,
		TradeObjects: n.tradeObjects.Table(),
		Products:     n.products.Table(),
	}
}

func lookupOr(m map[string]string, key string) string {
	if v, ok := m[key]; ok && v != "" {
		return v
	}
	return key
}
