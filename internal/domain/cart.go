package domain

// Cart is the shopper's working set, keyed by a client-generated id. Prices
// are never trusted from the cart; checkout re-reads them from the variants
// table.
type Cart struct {
	ID    string     `json:"id"`
	Lines []CartLine `json:"lines"`
}

type CartLine struct {
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}
