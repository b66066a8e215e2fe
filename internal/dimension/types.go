// Package dimension holds the read-only reference tables joined onto price
// facts: category, city, trade chain, trade object and product.
package dimension

import "kolkostruva/internal/ident"

// Category is a product category. Name carries the category code or its
// human readable label, depending on what the ETL resolved.
type Category struct {
	Name string `json:"name"`
}

// City is a settlement. EkatteCode is the stable geographic key; distinct
// cities may share a Name but never an EkatteCode.
type City struct {
	EkatteCode string `json:"ekatte_code"`
	Name       string `json:"name"`
}

// TradeChain is a retail chain.
type TradeChain struct {
	Name string `json:"name"`
}

// TradeObject is a single shop of a chain.
type TradeObject struct {
	ChainID ident.ID `json:"chain_id"`
	Address string   `json:"address"`
}

// Product is a sold item.
type Product struct {
	Name        string   `json:"name"`
	ProductCode string   `json:"product_code"`
	CategoryID  ident.ID `json:"category_id"`
}

// Tables is a full set of dimension tables keyed by integer id.
type Tables struct {
	Categories   map[int]Category
	Cities       map[int]City
	TradeChains  map[int]TradeChain
	TradeObjects map[int]TradeObject
	Products     map[int]Product
}

// Counts reports the number of entries per dimension.
type Counts struct {
	Categories   int `json:"categories"`
	Cities       int `json:"cities"`
	TradeChains  int `json:"trade_chains"`
	TradeObjects int `json:"trade_objects"`
	Products     int `json:"products"`
}

// Sources names the documents each dimension is loaded from.
type Sources struct {
	Category    string
	City        string
	TradeChain  string
	TradeObject string
	Product     string
}

// DefaultSources returns the document names written by the ETL.
func DefaultSources() Sources {
	return Sources{
		Category:    "dim_category.json",
		City:        "dim_city.json",
		TradeChain:  "dim_trade_chain.json",
		TradeObject: "dim_trade_object.json",
		Product:     "dim_product.json",
	}
}

func (s Sources) withDefaults() Sources {
	d := DefaultSources()
	if s.Category == "" {
		s.Category = d.Category
	}
	if s.City == "" {
		s.City = d.City
	}
	if s.TradeChain == "" {
		s.TradeChain = d.TradeChain
	}
	if s.TradeObject == "" {
		s.TradeObject = d.TradeObject
	}
	if s.Product == "" {
		s.Product = d.Product
	}
	return s
}
