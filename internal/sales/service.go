package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/galenica/galenica/internal/catalog"
	"github.com/galenica/galenica/internal/inventory"
	"github.com/galenica/galenica/internal/shared"
)

// InventoryPort is the slice of the inventory service the orchestrator uses.
type InventoryPort interface {
	OpenBatches(ctx context.Context, productID int64) ([]inventory.StockBatch, error)
	CommitDeduction(ctx context.Context, productID int64, d inventory.Deduction, sellingPrice float64, saleID string, actorID int64) error
	CompensateDeduction(ctx context.Context, productID, batchID, qty int64, saleID string, actorID int64) error
}

// CatalogPort resolves products for pricing and activity checks. Satisfied by
// catalog.Service.
type CatalogPort interface {
	Get(ctx context.Context, id int64) (catalog.Product, error)
}

// RepositoryPort persists committed sales.
type RepositoryPort interface {
	InsertSale(ctx context.Context, sale Sale) error
	GetSale(ctx context.Context, id string) (Sale, error)
}

// NotifierPort triggers alert re-evaluation for affected products.
type NotifierPort interface {
	StockChanged(ctx context.Context, productID int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts sale outcomes. Optional.
type MetricsPort interface {
	SaleCommitted()
	SaleRolledBack()
	CompensationFailure()
}

// IdempotencyPort guards against client retries replaying a sale.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service orchestrates sales: plan, allocate, commit, compensate.
type Service struct {
	repo        RepositoryPort
	inv         InventoryPort
	catalog     CatalogPort
	notifier    NotifierPort
	audit       AuditPort
	metrics     MetricsPort
	idempotency IdempotencyPort
	logger      *slog.Logger
	validate    *validator.Validate
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, inv InventoryPort, catalogPort CatalogPort, notifier NotifierPort, audit AuditPort, metrics MetricsPort, idempotency IdempotencyPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		inv:         inv,
		catalog:     catalogPort,
		notifier:    notifier,
		audit:       audit,
		metrics:     metrics,
		idempotency: idempotency,
		logger:      logger,
		validate:    validator.New(),
		now:         time.Now,
	}
}

type linePlan struct {
	product    catalog.Product
	quantity   int64
	deductions []inventory.Deduction
}

// ProcessSale runs one sale through planning, allocation and commit. Either
// every write for the sale lands, or the orchestrator has attempted full
// compensation and the returned SaleError says what state was left behind.
func (s *Service) ProcessSale(ctx context.Context, input SaleInput) (Sale, error) {
	if err := s.validate.Struct(input); err != nil {
		return Sale{}, &SaleError{State: StatePlanning, Disposition: DispositionNothingApplied, Err: fmt.Errorf("invalid sale: %w", err)}
	}

	saleID := uuid.NewString()
	if input.Reference != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, "sale:"+input.Reference, "sales"); err != nil {
			return Sale{}, &SaleError{State: StatePlanning, Disposition: DispositionNothingApplied, Err: err}
		}
	}

	sale, err := s.runSale(ctx, saleID, input)
	if err != nil && input.Reference != "" && s.idempotency != nil {
		if delErr := s.idempotency.Delete(ctx, "sale:"+input.Reference); delErr != nil {
			s.logger.Warn("idempotency key cleanup failed", slog.String("sale_id", saleID), slog.Any("error", delErr))
		}
	}
	return sale, err
}

func (s *Service) runSale(ctx context.Context, saleID string, input SaleInput) (Sale, error) {
	now := s.now().UTC()

	// Planning: resolve products, plan allocations against a batch snapshot
	// and refuse the whole sale if FIFO order would consume an expired batch.
	// Pure reads; aborting here leaves no trace.
	plans := make([]linePlan, 0, len(input.Items))
	claimed := make(map[int64]int64)
	for _, item := range input.Items {
		product, err := s.catalog.Get(ctx, item.ProductID)
		if err != nil {
			return Sale{}, &SaleError{State: StatePlanning, Disposition: DispositionNothingApplied, Err: err}
		}
		if !product.Active {
			return Sale{}, &SaleError{State: StatePlanning, Disposition: DispositionNothingApplied, Err: fmt.Errorf("%w: %s", ErrProductInactive, product.Name)}
		}

		batches, err := s.inv.OpenBatches(ctx, item.ProductID)
		if err != nil {
			return Sale{}, &SaleError{State: StatePlanning, Disposition: DispositionNothingApplied, Err: err}
		}
		// Subtract what earlier lines already claimed so repeated lines for
		// one product plan against the remainder, not a fresh snapshot.
		byID := make(map[int64]inventory.StockBatch, len(batches))
		snapshot := make([]inventory.StockBatch, 0, len(batches))
		for _, b := range batches {
			byID[b.ID] = b
			b.RemainingQty -= claimed[b.ID]
			if b.RemainingQty > 0 {
				snapshot = append(snapshot, b)
			}
		}
		deductions, err := inventory.PlanAllocation(item.ProductID, snapshot, item.Quantity)
		if err != nil {
			return Sale{}, &SaleError{State: StateAllocating, Disposition: DispositionNothingApplied, Err: err}
		}
		for _, d := range deductions {
			if byID[d.BatchID].Expired(now) {
				return Sale{}, &SaleError{
					State:       StatePlanning,
					Disposition: DispositionNothingApplied,
					Err:         fmt.Errorf("%w: product %s batch %s", inventory.ErrExpiredStock, product.Name, byID[d.BatchID].BatchNumber),
				}
			}
			claimed[d.BatchID] += d.Qty
		}
		plans = append(plans, linePlan{product: product, quantity: item.Quantity, deductions: deductions})
	}

	// Committing: persist each deduction. Every applied step is recorded so a
	// failure can be compensated with grouped add-backs.
	sg := newSaga(saleID, input.CashierID)
	for _, plan := range plans {
		for _, d := range plan.deductions {
			if err := s.inv.CommitDeduction(ctx, plan.product.ID, d, plan.product.SellingPrice, saleID, input.CashierID); err != nil {
				return Sale{}, s.failCommit(ctx, sg, err)
			}
			sg.record(sagaStep{
				kind:         stepBatchDeduction,
				productID:    plan.product.ID,
				batchID:      d.BatchID,
				qty:          d.Qty,
				sellingPrice: plan.product.SellingPrice,
			})
		}
	}

	sale := Sale{ID: saleID, PaymentMethod: input.PaymentMethod, CashierID: input.CashierID, CreatedAt: now}
	for _, plan := range plans {
		subtotal := float64(plan.quantity) * plan.product.SellingPrice
		sale.Items = append(sale.Items, SaleItem{
			ProductID: plan.product.ID,
			Name:      plan.product.Name,
			Quantity:  plan.quantity,
			UnitPrice: plan.product.SellingPrice,
			Subtotal:  subtotal,
		})
		sale.Total += subtotal
	}
	if err := s.repo.InsertSale(ctx, sale); err != nil {
		return Sale{}, s.failCommit(ctx, sg, err)
	}

	if s.metrics != nil {
		s.metrics.SaleCommitted()
	}
	s.afterSale(ctx, sale)
	return sale, nil
}

// failCommit compensates applied steps and classifies what is left behind.
func (s *Service) failCommit(ctx context.Context, sg *saga, cause error) *SaleError {
	compErr := sg.compensate(ctx, s.inv, s.logger)
	if compErr != nil {
		if s.metrics != nil {
			s.metrics.CompensationFailure()
		}
		return &SaleError{State: StateCommitting, Disposition: DispositionNeedsReview, Err: cause, Compensation: compErr}
	}
	if s.metrics != nil {
		s.metrics.SaleRolledBack()
	}
	return &SaleError{State: StateRolledBack, Disposition: DispositionRolledBack, Err: cause}
}

func (s *Service) afterSale(ctx context.Context, sale Sale) {
	seen := make(map[int64]struct{}, len(sale.Items))
	for _, item := range sale.Items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		if s.notifier != nil {
			if err := s.notifier.StockChanged(ctx, item.ProductID); err != nil {
				s.logger.Warn("post-sale alert refresh failed", slog.Int64("product_id", item.ProductID), slog.Any("error", err))
			}
		}
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  sale.CashierID,
			Action:   "sales:complete",
			Entity:   "sale",
			EntityID: sale.ID,
			Meta:     map[string]any{"total": sale.Total, "items": len(sale.Items), "payment_method": sale.PaymentMethod},
		}); err != nil {
			s.logger.Warn("sale audit record failed", slog.String("sale_id", sale.ID), slog.Any("error", err))
		}
	}
}

// GetSale fetches a committed sale.
func (s *Service) GetSale(ctx context.Context, id string) (Sale, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Sale{}, fmt.Errorf("sales: invalid sale id: %w", err)
	}
	return s.repo.GetSale(ctx, id)
}

// IsNothingApplied reports whether the error guarantees no state was touched.
func IsNothingApplied(err error) bool {
	var saleErr *SaleError
	return errors.As(err, &saleErr) && saleErr.Disposition == DispositionNothingApplied
}
