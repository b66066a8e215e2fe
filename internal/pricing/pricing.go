// Package pricing joins price facts with their dimensions and resolves the
// effective price every report uses.
package pricing

import (
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"

	"kolkostruva/internal/dimension"
	"kolkostruva/internal/ident"
)

// Fact is one observed price point with foreign keys into the dimensions.
type Fact struct {
	Date          string
	CategoryID    ident.ID
	CityID        ident.ID
	TradeChainID  ident.ID
	TradeObjectID ident.ID
	ProductID     ident.ID
	RetailPrice   decimal.Decimal
	// PromoPrice is invalid when the source cell was empty or not a number.
	PromoPrice decimal.NullDecimal
}

// CategoryRef is the category part of an enriched record.
type CategoryRef struct {
	ID   ident.ID `json:"id"`
	Name string   `json:"name"`
}

// CityRef is the city part of an enriched record. EkatteCode is empty when the
// city id had no dimension entry.
type CityRef struct {
	EkatteCode string `json:"ekatte_code"`
	Name       string `json:"name"`
}

// ChainRef is the trade chain part of an enriched record.
type ChainRef struct {
	ID   ident.ID `json:"id"`
	Name string   `json:"name"`
}

// TradeObjectRef is the shop part of an enriched record.
type TradeObjectRef struct {
	ID      ident.ID `json:"id"`
	Address string   `json:"address"`
}

// ProductRef is the product part of an enriched record.
type ProductRef struct {
	ID   ident.ID `json:"id"`
	Name string   `json:"name"`
	Code string   `json:"code"`
}

// Enriched is a fact joined with its dimensions. It is the unit every report
// works on.
type Enriched struct {
	Date           string              `json:"date"`
	Category       CategoryRef         `json:"category"`
	City           CityRef             `json:"city"`
	Chain          ChainRef            `json:"chain"`
	TradeObject    TradeObjectRef      `json:"trade_object"`
	Product        ProductRef          `json:"product"`
	RetailPrice    decimal.Decimal     `json:"retail_price"`
	PromoPrice     decimal.NullDecimal `json:"promo_price"`
	EffectivePrice decimal.Decimal     `json:"effective_price"`
}

// Dimensions is the lookup surface Enrich needs; *dimension.Store implements it.
type Dimensions interface {
	Category(id ident.ID) (dimension.Category, bool, error)
	City(id ident.ID) (dimension.City, bool, error)
	TradeChain(id ident.ID) (dimension.TradeChain, bool, error)
	TradeObject(id ident.ID) (dimension.TradeObject, bool, error)
	Product(id ident.ID) (dimension.Product, bool, error)
}

// Unknown is the placeholder substituted for a dimension id with no entry.
func Unknown(id ident.ID) string { return fmt.Sprintf("Unknown(%s)", id) }

// Enrich joins f with dims. Missing references degrade to Unknown(<id>);
// the only error is an unloaded store.
func Enrich(f Fact, dims Dimensions) (Enriched, error) {
	out := Enriched{
		Date:        f.Date,
		Category:    CategoryRef{ID: f.CategoryID, Name: Unknown(f.CategoryID)},
		City:        CityRef{Name: Unknown(f.CityID)},
		Chain:       ChainRef{ID: f.TradeChainID, Name: Unknown(f.TradeChainID)},
		TradeObject: TradeObjectRef{ID: f.TradeObjectID, Address: Unknown(f.TradeObjectID)},
		Product:     ProductRef{ID: f.ProductID, Name: Unknown(f.ProductID)},
		RetailPrice: f.RetailPrice,
		PromoPrice:  f.PromoPrice,
	}

	category, ok, err := dims.Category(f.CategoryID)
	if err != nil {
		return Enriched{}, err
	}
	if ok {
		out.Category.Name = category.Name
	}
	city, ok, err := dims.City(f.CityID)
	if err != nil {
		return Enriched{}, err
	}
	if ok {
		out.City = CityRef{EkatteCode: city.EkatteCode, Name: city.Name}
	}
	chain, ok, err := dims.TradeChain(f.TradeChainID)
	if err != nil {
		return Enriched{}, err
	}
	if ok {
		out.Chain.Name = chain.Name
	}
	object, ok, err := dims.TradeObject(f.TradeObjectID)
	if err != nil {
		return Enriched{}, err
	}
	if ok {
		out.TradeObject.Address = object.Address
	}
	product, ok, err := dims.Product(f.ProductID)
	if err != nil {
		return Enriched{}, err
	}
	if ok {
		out.Product.Name = product.Name
		out.Product.Code = product.ProductCode
	}

	out.EffectivePrice = Price(out)
	return out, nil
}

// EnrichAll enriches facts in order.
func EnrichAll(facts []Fact, dims Dimensions) ([]Enriched, error) {
	out := make([]Enriched, 0, len(facts))
	for _, f := range facts {
		e, err := Enrich(f, dims)
		if err != nil {
			return nil, fmt.Errorf("enrich facts: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Price returns the effective price of r.
func Price(r Enriched) decimal.Decimal {
	return EffectivePrice(r.RetailPrice, r.PromoPrice)
}

// EffectivePrice is retail unless a strictly positive promo price is present,
// in which case it is the lower of the two.
func EffectivePrice(retail decimal.Decimal, promo decimal.NullDecimal) decimal.Decimal {
	if !promo.Valid || !promo.Decimal.IsPositive() {
		return retail
	}
	return decimal.Min(retail, promo.Decimal)
}

var leadingNumber = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?`)

// ParseAmount reads the leading decimal number of s ("3.49 лв" is 3.49).
// ok is false when s does not start with a number.
func ParseAmount(s string) (decimal.Decimal, bool) {
	m := leadingNumber.FindString(s)
	if m == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// RetailAmount parses a retail price cell; unreadable cells count as zero.
func RetailAmount(s string) decimal.Decimal {
	d, _ := ParseAmount(s)
	return d
}

// PromoAmount parses a promo price cell; empty or unreadable cells are absent.
func PromoAmount(s string) decimal.NullDecimal {
	d, ok := ParseAmount(s)
	return decimal.NullDecimal{Decimal: d, Valid: ok}
}
