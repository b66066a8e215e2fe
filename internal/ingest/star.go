package ingest

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"kolkostruva/internal/dimension"
	"kolkostruva/internal/pricing"
	"kolkostruva/internal/tabular"
)

// DefaultStarFacts is the fact document written by the normalizing ETL.
const DefaultStarFacts = "fact_prices.csv"

// Star layout fact columns.
const (
	ColDate          = "date"
	ColTradeChainID  = "trade_chain_id"
	ColTradeObjectID = "trade_object_id"
	ColCityID        = "city_id"
	ColProductID     = "product_id"
	ColCategoryID    = "category_id"
	ColRetailPrice   = "retail_price"
	ColPromoPrice    = "promo_price"
)

var starIDColumns = []string{ColTradeChainID, ColTradeObjectID, ColCityID, ColProductID, ColCategoryID}

// StarLoader reads a fact table of ids and the five dimension documents.
type StarLoader struct {
	fetcher   Fetcher
	facts     string
	delimiter rune
	sources   dimension.Sources
}

// NewStarLoader returns a star layout loader.
func NewStarLoader(f Fetcher, opts Options) *StarLoader {
	facts := opts.Facts
	if facts == "" {
		facts = DefaultStarFacts
	}
	return &StarLoader{fetcher: f, facts: facts, delimiter: opts.Delimiter, sources: opts.Sources}
}

// Load fetches the fact document and all dimensions concurrently. The first
// failure cancels the rest and no partial Dataset is returned.
func (l *StarLoader) Load(ctx context.Context) (Dataset, error) {
	store := dimension.NewStore(l.sources)
	var table tabular.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return store.Load(gctx, l.fetcher)
	})
	g.Go(func() error {
		rc, err := l.fetcher.Fetch(gctx, l.facts)
		if err != nil {
			return fmt.Errorf("load facts: %w", err)
		}
		defer func() { _ = rc.Close() }()
		table, err = readTable(rc, l.delimiter, starIDColumns)
		if err != nil {
			return fmt.Errorf("load facts %s: %w", l.facts, err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Dataset{}, err
	}

	facts := make([]pricing.Fact, 0, len(table.Records))
	for _, rec := range table.Records {
		facts = append(facts, StarFact(rec))
	}
	return Dataset{
		Layout:  LayoutStar,
		Facts:   facts,
		Dims:    store,
		Rows:    len(table.Records) + table.Skipped,
		Skipped: table.Skipped,
	}, nil
}

// StarFact converts one star layout record.
func StarFact(rec tabular.Record) pricing.Fact {
	return pricing.Fact{
		Date:          rec.String(ColDate),
		CategoryID:    rec.ID(ColCategoryID),
		CityID:        rec.ID(ColCityID),
		TradeChainID:  rec.ID(ColTradeChainID),
		TradeObjectID: rec.ID(ColTradeObjectID),
		ProductID:     rec.ID(ColProductID),
		RetailPrice:   pricing.RetailAmount(rec.String(ColRetailPrice)),
		PromoPrice:    pricing.PromoAmount(rec.String(ColPromoPrice)),
	}
}
