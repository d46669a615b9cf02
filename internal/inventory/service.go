package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/galenica/galenica/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	SumMovements(ctx context.Context, productID int64) (int64, error)
	SumMovementsAll(ctx context.Context) (map[int64]int64, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error)
	ListOpenBatches(ctx context.Context, productID int64) ([]StockBatch, error)
	ListAllOpenBatches(ctx context.Context) ([]StockBatch, error)
	InsertValuationSnapshot(ctx context.Context, v Valuation) error
}

// PricingPort exposes the catalog data the engine needs.
type PricingPort interface {
	Pricing(ctx context.Context, productID int64) (ProductPricing, error)
	ActivePricing(ctx context.Context) ([]ProductPricing, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NotifierPort signals that a product's stock changed so alerts can be
// re-evaluated. Best effort; failures are logged, never propagated.
type NotifierPort interface {
	StockChanged(ctx context.Context, productID int64) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// MaxCostToPriceRatio rejects goods receipts whose unit cost exceeds this
	// multiple of the selling price, the usual sign of a pack cost entered as
	// a unit cost. Zero disables the guard.
	MaxCostToPriceRatio float64
}

// Service coordinates ledger, batch and valuation operations.
type Service struct {
	repo     RepositoryPort
	pricing  PricingPort
	cache    *QuantityCache
	audit    AuditPort
	notifier NotifierPort
	logger   *slog.Logger
	validate *validator.Validate
	cfg      ServiceConfig
}

// NewService builds Service.
func NewService(repo RepositoryPort, pricing PricingPort, cache *QuantityCache, audit AuditPort, notifier NotifierPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		pricing:  pricing,
		cache:    cache,
		audit:    audit,
		notifier: notifier,
		logger:   logger,
		validate: validator.New(),
		cfg:      cfg,
	}
}

// CurrentQuantity returns the ledger quantity for a product, read through the
// projection cache when one is configured.
func (s *Service) CurrentQuantity(ctx context.Context, productID int64) (int64, error) {
	if qty, ok, err := s.cache.Get(ctx, productID); err == nil && ok {
		return qty, nil
	} else if err != nil {
		s.logger.Warn("quantity cache read failed", slog.Int64("product_id", productID), slog.Any("error", err))
	}
	qty, err := s.repo.SumMovements(ctx, productID)
	if err != nil {
		return 0, err
	}
	if err := s.cache.Set(ctx, productID, qty); err != nil {
		s.logger.Warn("quantity cache write failed", slog.Int64("product_id", productID), slog.Any("error", err))
	}
	return qty, nil
}

// CurrentStock returns the quantity plus the open batches backing it.
func (s *Service) CurrentStock(ctx context.Context, productID int64) (StockSnapshot, error) {
	qty, err := s.CurrentQuantity(ctx, productID)
	if err != nil {
		return StockSnapshot{}, err
	}
	batches, err := s.repo.ListOpenBatches(ctx, productID)
	if err != nil {
		return StockSnapshot{}, err
	}
	return StockSnapshot{ProductID: productID, Quantity: qty, Batches: batches}, nil
}

// OpenBatches lists batches with stock left, FIFO by expiry.
func (s *Service) OpenBatches(ctx context.Context, productID int64) ([]StockBatch, error) {
	return s.repo.ListOpenBatches(ctx, productID)
}

// ListMovements lists ledger entries, most recent first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	page := shared.Page{Limit: filter.Limit, Offset: filter.Offset}.Normalize()
	filter.Limit = page.Limit
	filter.Offset = page.Offset
	return s.repo.ListMovements(ctx, filter)
}

// ReceiveStock records a goods receipt: a new batch plus a purchase movement,
// atomically. Unit cost validity is enforced here instead of patched up later.
func (s *Service) ReceiveStock(ctx context.Context, input ReceiveInput) (StockBatch, error) {
	if err := s.validate.Struct(input); err != nil {
		return StockBatch{}, fmt.Errorf("inventory: invalid receipt: %w", err)
	}
	now := time.Now().UTC()
	if !input.ExpiryDate.After(now) {
		return StockBatch{}, errors.New("inventory: expiry date must be in the future")
	}
	if err := s.checkUnitCost(ctx, input); err != nil {
		return StockBatch{}, err
	}

	var batch StockBatch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		batch = StockBatch{
			ProductID:    input.ProductID,
			BatchNumber:  input.BatchNumber,
			ExpiryDate:   input.ExpiryDate,
			UnitCost:     input.UnitCost,
			RemainingQty: input.Quantity,
			ReceivedAt:   now,
		}
		id, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = id
		_, err = tx.InsertMovement(ctx, StockMovement{
			ProductID: input.ProductID,
			BatchID:   id,
			Type:      MovementPurchase,
			Quantity:  input.Quantity,
			UnitCost:  input.UnitCost,
			Reason:    "goods receipt",
			Reference: input.Supplier,
			ActorID:   input.ActorID,
		})
		return err
	})
	if err != nil {
		return StockBatch{}, err
	}

	s.afterStockChange(ctx, input.ProductID)
	s.recordAudit(ctx, input.ActorID, "inventory:receive", "stock_batch", fmt.Sprintf("%d", batch.ID), map[string]any{
		"product_id": input.ProductID,
		"qty":        input.Quantity,
		"unit_cost":  input.UnitCost,
		"batch":      input.BatchNumber,
	})
	return batch, nil
}

// checkUnitCost guards against pack costs mis-entered as unit costs. The
// original data carried years of retroactive fix-up heuristics for exactly
// this, so the receipt is rejected outright instead of silently corrected.
func (s *Service) checkUnitCost(ctx context.Context, input ReceiveInput) error {
	if s.cfg.MaxCostToPriceRatio <= 0 || s.pricing == nil {
		return nil
	}
	pricing, err := s.pricing.Pricing(ctx, input.ProductID)
	if err != nil {
		return err
	}
	if pricing.SellingPrice <= 0 {
		return nil
	}
	if input.UnitCost > pricing.SellingPrice*s.cfg.MaxCostToPriceRatio {
		if input.PackSize > 1 && input.UnitCost/float64(input.PackSize) <= pricing.SellingPrice*s.cfg.MaxCostToPriceRatio {
			return fmt.Errorf("%w: cost %.2f looks like a pack cost for pack size %d", ErrSuspectUnitCost, input.UnitCost, input.PackSize)
		}
		return fmt.Errorf("%w: cost %.2f against selling price %.2f", ErrSuspectUnitCost, input.UnitCost, pricing.SellingPrice)
	}
	return nil
}

// PostAdjustment writes a manual correction movement and keeps batch remaining
// quantities consistent with it: negative corrections drain batches FIFO,
// positive ones credit the most recently received open batch when one exists.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (StockMovement, error) {
	if err := s.validate.Struct(input); err != nil {
		return StockMovement{}, fmt.Errorf("inventory: invalid adjustment: %w", err)
	}
	if input.Quantity == 0 {
		return StockMovement{}, ErrInvalidQuantity
	}

	var movement StockMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if input.Quantity < 0 {
			batches, err := tx.ListOpenBatches(ctx, input.ProductID)
			if err != nil {
				return err
			}
			plan, err := PlanAllocation(input.ProductID, batches, -input.Quantity)
			if err != nil {
				return err
			}
			for _, d := range plan {
				if err := tx.DecrementBatch(ctx, d.BatchID, d.Qty); err != nil {
					return err
				}
			}
		} else {
			batch, err := tx.NewestOpenBatch(ctx, input.ProductID)
			switch {
			case err == nil:
				if err := tx.IncrementBatch(ctx, batch.ID, input.Quantity); err != nil {
					return err
				}
			case errors.Is(err, ErrBatchNotFound):
				// No open batch to credit; the movement alone carries it.
			default:
				return err
			}
		}
		movement = StockMovement{
			ProductID: input.ProductID,
			Type:      MovementAdjustment,
			Quantity:  input.Quantity,
			Reason:    input.Reason,
			ActorID:   input.ActorID,
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		return nil
	})
	if err != nil {
		return StockMovement{}, err
	}

	s.afterStockChange(ctx, input.ProductID)
	s.recordAudit(ctx, input.ActorID, "inventory:adjust", "stock_movement", fmt.Sprintf("%d", movement.ID), map[string]any{
		"product_id": input.ProductID,
		"qty":        input.Quantity,
		"reason":     input.Reason,
	})
	return movement, nil
}

// CommitDeduction persists one planned sale deduction: the conditional batch
// decrement and the sale movement land in the same transaction.
func (s *Service) CommitDeduction(ctx context.Context, productID int64, d Deduction, sellingPrice float64, saleID string, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DecrementBatch(ctx, d.BatchID, d.Qty); err != nil {
			return err
		}
		_, err := tx.InsertMovement(ctx, StockMovement{
			ProductID:    productID,
			BatchID:      d.BatchID,
			Type:         MovementSale,
			Quantity:     -d.Qty,
			UnitCost:     d.UnitCost,
			SellingPrice: sellingPrice,
			Reference:    saleID,
			ActorID:      actorID,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.invalidateQuantity(ctx, productID)
	return nil
}

// CompensateDeduction is the inverse of CommitDeduction: it restores the batch
// quantity and writes a return movement so the ledger sum matches batch
// reality again.
func (s *Service) CompensateDeduction(ctx context.Context, productID, batchID, qty int64, saleID string, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.IncrementBatch(ctx, batchID, qty); err != nil {
			return err
		}
		_, err := tx.InsertMovement(ctx, StockMovement{
			ProductID: productID,
			BatchID:   batchID,
			Type:      MovementReturn,
			Quantity:  qty,
			Reason:    "sale rollback",
			Reference: saleID,
			ActorID:   actorID,
		})
		return err
	})
	if err != nil {
		return err
	}
	s.invalidateQuantity(ctx, productID)
	return nil
}

// GetValuation computes the full inventory valuation.
func (s *Service) GetValuation(ctx context.Context) (Valuation, error) {
	products, err := s.pricing.ActivePricing(ctx)
	if err != nil {
		return Valuation{}, err
	}
	quantities, err := s.repo.SumMovementsAll(ctx)
	if err != nil {
		return Valuation{}, err
	}
	batches, err := s.repo.ListAllOpenBatches(ctx)
	if err != nil {
		return Valuation{}, err
	}
	return Valuate(products, quantities, batches), nil
}

// SnapshotValuation materializes a valuation row for trend reporting. The
// snapshot is derived data and never authoritative.
func (s *Service) SnapshotValuation(ctx context.Context) (Valuation, error) {
	valuation, err := s.GetValuation(ctx)
	if err != nil {
		return Valuation{}, err
	}
	if err := s.repo.InsertValuationSnapshot(ctx, valuation); err != nil {
		return Valuation{}, err
	}
	return valuation, nil
}

func (s *Service) afterStockChange(ctx context.Context, productID int64) {
	s.invalidateQuantity(ctx, productID)
	if s.notifier != nil {
		if err := s.notifier.StockChanged(ctx, productID); err != nil {
			s.logger.Warn("stock change notification failed", slog.Int64("product_id", productID), slog.Any("error", err))
		}
	}
}

func (s *Service) invalidateQuantity(ctx context.Context, productID int64) {
	if err := s.cache.Invalidate(ctx, productID); err != nil {
		s.logger.Warn("quantity cache invalidation failed", slog.Int64("product_id", productID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: entityID, Meta: meta}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
