package catalog

import (
	"errors"
	"time"
)

// Product is a sellable pharmacy item. Deactivation is a soft delete; the
// ledger keeps referencing inactive products.
type Product struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Manufacturer string    `json:"manufacturer"`
	SellingPrice float64   `json:"selling_price"`
	ReorderPoint int64     `json:"reorder_point"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateProductInput describes a new product.
type CreateProductInput struct {
	Name         string  `json:"name" validate:"required,max=128"`
	Category     string  `json:"category" validate:"max=64"`
	Manufacturer string  `json:"manufacturer" validate:"max=128"`
	SellingPrice float64 `json:"selling_price" validate:"gte=0"`
	ReorderPoint int64   `json:"reorder_point" validate:"gte=0"`
}

// UpdateProductInput carries optional field updates.
type UpdateProductInput struct {
	Name         *string  `json:"name" validate:"omitempty,max=128"`
	Category     *string  `json:"category" validate:"omitempty,max=64"`
	Manufacturer *string  `json:"manufacturer" validate:"omitempty,max=128"`
	SellingPrice *float64 `json:"selling_price" validate:"omitempty,gte=0"`
	ReorderPoint *int64   `json:"reorder_point" validate:"omitempty,gte=0"`
}

// ErrProductNotFound indicates a missing product row.
var ErrProductNotFound = errors.New("catalog: product not found")
