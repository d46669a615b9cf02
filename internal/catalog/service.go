package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/galenica/galenica/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	Insert(ctx context.Context, p Product) (int64, error)
	Get(ctx context.Context, id int64) (Product, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]Product, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
	SetActive(ctx context.Context, id int64, active bool) error
}

// Service provides product management.
type Service struct {
	repo     RepositoryPort
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, validate: validator.New()}
}

// Create stores a new active product.
func (s *Service) Create(ctx context.Context, input CreateProductInput) (Product, error) {
	if err := s.validate.Struct(input); err != nil {
		return Product{}, fmt.Errorf("catalog: invalid product: %w", err)
	}
	product := Product{
		Name:         input.Name,
		Category:     input.Category,
		Manufacturer: input.Manufacturer,
		SellingPrice: input.SellingPrice,
		ReorderPoint: input.ReorderPoint,
		Active:       true,
	}
	id, err := s.repo.Insert(ctx, product)
	if err != nil {
		return Product{}, fmt.Errorf("catalog: create product: %w", err)
	}
	product.ID = id
	return product, nil
}

// Update applies a partial product update.
func (s *Service) Update(ctx context.Context, id int64, input UpdateProductInput) (Product, error) {
	if err := s.validate.Struct(input); err != nil {
		return Product{}, fmt.Errorf("catalog: invalid update: %w", err)
	}
	updates := make(map[string]any)
	if input.Name != nil {
		updates["name"] = *input.Name
	}
	if input.Category != nil {
		updates["category"] = *input.Category
	}
	if input.Manufacturer != nil {
		updates["manufacturer"] = *input.Manufacturer
	}
	if input.SellingPrice != nil {
		updates["selling_price"] = *input.SellingPrice
	}
	if input.ReorderPoint != nil {
		updates["reorder_point"] = *input.ReorderPoint
	}
	if len(updates) > 0 {
		if err := s.repo.Update(ctx, id, updates); err != nil {
			return Product{}, err
		}
	}
	return s.repo.Get(ctx, id)
}

// Get fetches one product.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	return s.repo.Get(ctx, id)
}

// List returns products.
func (s *Service) List(ctx context.Context, activeOnly bool, page shared.Page) ([]Product, error) {
	page = page.Normalize()
	return s.repo.List(ctx, activeOnly, page.Limit, page.Offset)
}

// Deactivate soft-deletes a product.
func (s *Service) Deactivate(ctx context.Context, id int64) error {
	return s.repo.SetActive(ctx, id, false)
}

// Activate restores a deactivated product.
func (s *Service) Activate(ctx context.Context, id int64) error {
	return s.repo.SetActive(ctx, id, true)
}
