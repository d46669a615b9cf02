package inventory

import (
	"context"

	"github.com/galenica/galenica/internal/catalog"
	"github.com/galenica/galenica/internal/shared"
)

// CatalogPricing adapts the catalog service to PricingPort.
type CatalogPricing struct {
	catalog *catalog.Service
}

// NewCatalogPricing wraps the catalog service.
func NewCatalogPricing(svc *catalog.Service) *CatalogPricing {
	return &CatalogPricing{catalog: svc}
}

// Pricing returns the pricing slice for one product.
func (a *CatalogPricing) Pricing(ctx context.Context, productID int64) (ProductPricing, error) {
	product, err := a.catalog.Get(ctx, productID)
	if err != nil {
		return ProductPricing{}, err
	}
	return ProductPricing{ProductID: product.ID, Name: product.Name, SellingPrice: product.SellingPrice}, nil
}

// ActivePricing pages through every active product.
func (a *CatalogPricing) ActivePricing(ctx context.Context) ([]ProductPricing, error) {
	var result []ProductPricing
	page := shared.Page{Limit: 500}
	for {
		products, err := a.catalog.List(ctx, true, page)
		if err != nil {
			return nil, err
		}
		for _, p := range products {
			result = append(result, ProductPricing{ProductID: p.ID, Name: p.Name, SellingPrice: p.SellingPrice})
		}
		if len(products) < page.Limit {
			return result, nil
		}
		page.Offset += page.Limit
	}
}
