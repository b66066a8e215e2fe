package dimension

import "strings"

// Registry assigns stable ids to dimension values as they are first seen.
// Values sharing a lookup key share an id; ids start at 1.
type Registry[T any] struct {
	key     func(T) string
	entries map[int]T
	index   map[string]int
	next    int
}

// NewRegistry returns an empty registry using key to deduplicate values.
func NewRegistry[T any](key func(T) string) *Registry[T] {
	return &Registry[T]{key: key, entries: make(map[int]T), index: make(map[string]int), next: 1}
}

// GetOrCreate returns the id for v, assigning the next id when its key is new.
func (r *Registry[T]) GetOrCreate(v T) (id int, created bool) {
	k := r.key(v)
	if id, ok := r.index[k]; ok {
		return id, false
	}
	id = r.next
	r.next++
	r.entries[id] = v
	r.index[k] = id
	return id, true
}

// Len returns the number of registered values.
func (r *Registry[T]) Len() int { return len(r.entries) }

// Table returns a copy of the id to value mapping.
func (r *Registry[T]) Table() map[int]T {
	out := make(map[int]T, len(r.entries))
	for id, v := range r.entries {
		out[id] = v
	}
	return out
}

// Lookup keys used by the ETL when it normalizes flat rows.
var (
	CategoryKey    = func(c Category) string { return c.Name }
	CityKey        = func(c City) string { return c.EkatteCode }
	TradeChainKey  = func(c TradeChain) string { return c.Name }
	TradeObjectKey = func(o TradeObject) string { return o.ChainID.String() + "|" + o.Address }
	ProductKey     = func(p Product) string { return strings.Join([]string{p.Name, p.ProductCode}, "|") }
)
