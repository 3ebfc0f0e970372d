package catalog

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the master data record for a sellable item. OnHandQty is owned
// by the stock ledger; catalog reads it but never writes it. SKU is fixed at
// creation.
type Product struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Cost      decimal.Decimal `json:"cost"`
	OnHandQty int64           `json:"on_hand_qty"`
	MinStock  int64           `json:"min_stock"`
	MaxStock  int64           `json:"max_stock"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ListFilters narrows product listings.
type ListFilters struct {
	Search   string
	IsActive *bool
	Page     int
	Limit    int
}

// StockSnapshot is the cached on-hand view served to read-heavy clients.
type StockSnapshot struct {
	ProductID int64     `json:"product_id"`
	SKU       string    `json:"sku"`
	OnHandQty int64     `json:"on_hand_qty"`
	AsOf      time.Time `json:"as_of"`
}

var (
	// ErrNotFound indicates a missing product.
	ErrNotFound = errors.New("catalog: product not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("catalog: invalid input")
	// ErrDuplicateSKU indicates a SKU collision.
	ErrDuplicateSKU = errors.New("catalog: sku already exists")
	// ErrProductInUse blocks deleting a product that orders or history rows
	// still reference.
	ErrProductInUse = errors.New("catalog: product is referenced and cannot be deleted")
)
