package domain

import "time"

// Variant is the sellable unit. Catalog content is owned elsewhere; this
// service only reads the snapshot columns and writes the stock column
// through the inventory ledger.
type Variant struct {
	ID          string    `json:"id"`
	ProductName string    `json:"product_name"`
	Size        string    `json:"size,omitempty"`
	Color       string    `json:"color,omitempty"`
	SKU         string    `json:"sku,omitempty"`
	Price       int64     `json:"price"`
	Stock       int       `json:"stock"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type StockLevel struct {
	VariantID string `json:"variant_id"`
	Stock     int    `json:"stock"`
}
