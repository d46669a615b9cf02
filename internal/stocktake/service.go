package stocktake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/galenica/galenica/internal/catalog"
	"github.com/galenica/galenica/internal/inventory"
	"github.com/galenica/galenica/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	InsertSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id int64) (Session, error)
	ListSessions(ctx context.Context, limit, offset int) ([]Session, error)
	SetSessionStatus(ctx context.Context, id int64, from, to Status) error
	UpsertItem(ctx context.Context, item Item) (Item, error)
	ListItems(ctx context.Context, sessionID int64) ([]Item, error)
}

// LedgerPort reads the authoritative ledger quantity. Satisfied by
// inventory.Service.
type LedgerPort interface {
	CurrentQuantity(ctx context.Context, productID int64) (int64, error)
}

// CatalogPort resolves products. Satisfied by catalog.Service.
type CatalogPort interface {
	Get(ctx context.Context, id int64) (catalog.Product, error)
}

// NotifierPort signals stock changes for alert re-evaluation.
type NotifierPort interface {
	StockChanged(ctx context.Context, productID int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SessionDetail bundles a session with its items.
type SessionDetail struct {
	Session Session `json:"session"`
	Items   []Item  `json:"items"`
}

// Service runs the stocktake lifecycle: open a session, collect counts,
// reconcile variances into the ledger on approval.
type Service struct {
	repo     RepositoryPort
	ledger   LedgerPort
	catalog  CatalogPort
	notifier NotifierPort
	audit    AuditPort
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger LedgerPort, catalogPort CatalogPort, notifier NotifierPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		ledger:   ledger,
		catalog:  catalogPort,
		notifier: notifier,
		audit:    audit,
		logger:   logger,
		validate: validator.New(),
	}
}

// CreateSession opens a new counting session.
func (s *Service) CreateSession(ctx context.Context, input CreateSessionInput) (Session, error) {
	if err := s.validate.Struct(input); err != nil {
		return Session{}, fmt.Errorf("stocktake: invalid session: %w", err)
	}
	session, err := s.repo.InsertSession(ctx, Session{Notes: input.Notes, CreatedBy: input.ActorID})
	if err != nil {
		return Session{}, err
	}
	s.recordAudit(ctx, input.ActorID, "stocktake:create", session.ID, nil)
	return session, nil
}

// GetSession returns a session with its items.
func (s *Service) GetSession(ctx context.Context, id int64) (SessionDetail, error) {
	session, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return SessionDetail{}, err
	}
	items, err := s.repo.ListItems(ctx, id)
	if err != nil {
		return SessionDetail{}, err
	}
	return SessionDetail{Session: session, Items: items}, nil
}

// ListSessions lists sessions most recent first.
func (s *Service) ListSessions(ctx context.Context, page shared.Page) ([]Session, error) {
	page = page.Normalize()
	return s.repo.ListSessions(ctx, page.Limit, page.Offset)
}

// RecordCount stores one product's physical count. The system quantity is read
// from the live ledger at count time, so recounting refreshes the variance.
func (s *Service) RecordCount(ctx context.Context, input CountInput) (Item, error) {
	if err := s.validate.Struct(input); err != nil {
		return Item{}, fmt.Errorf("stocktake: invalid count: %w", err)
	}
	session, err := s.repo.GetSession(ctx, input.SessionID)
	if err != nil {
		return Item{}, err
	}
	if session.Status != StatusCounting {
		return Item{}, ErrSessionClosed
	}
	if _, err := s.catalog.Get(ctx, input.ProductID); err != nil {
		return Item{}, err
	}

	system, err := s.ledger.CurrentQuantity(ctx, input.ProductID)
	if err != nil {
		return Item{}, err
	}
	return s.repo.UpsertItem(ctx, Item{
		SessionID:       input.SessionID,
		ProductID:       input.ProductID,
		SystemQuantity:  system,
		CountedQuantity: input.CountedQuantity,
		Variance:        input.CountedQuantity - system,
	})
}

// Approve reconciles every counted variance into the ledger. Each item runs in
// its own transaction: the stocktake movement, the batch reconciliation and
// the adjusted flag land together or not at all, and one item's failure never
// blocks the others.
func (s *Service) Approve(ctx context.Context, sessionID, actorID int64) (ApprovalResult, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return ApprovalResult{}, err
	}
	if session.Status != StatusCounting {
		return ApprovalResult{}, ErrSessionClosed
	}
	items, err := s.repo.ListItems(ctx, sessionID)
	if err != nil {
		return ApprovalResult{}, err
	}

	result := ApprovalResult{SessionID: sessionID}
	var changed []int64
	for _, item := range items {
		if item.Adjusted || item.Variance == 0 {
			result.ItemsSkipped++
			continue
		}
		if err := s.reconcileItem(ctx, sessionID, item.ID, actorID); err != nil {
			s.logger.Error("stocktake item reconciliation failed",
				slog.Int64("session_id", sessionID),
				slog.Int64("product_id", item.ProductID),
				slog.Any("error", err))
			result.Failures = append(result.Failures, ItemFailure{ProductID: item.ProductID, Message: err.Error()})
			continue
		}
		result.ItemsAdjusted++
		changed = append(changed, item.ProductID)
	}

	if err := s.repo.SetSessionStatus(ctx, sessionID, StatusCounting, StatusApproved); err != nil {
		return result, err
	}
	for _, productID := range changed {
		s.notifyStockChanged(ctx, productID)
	}
	s.recordAudit(ctx, actorID, "stocktake:approve", sessionID, map[string]any{
		"items_adjusted": result.ItemsAdjusted,
		"failures":       len(result.Failures),
	})
	return result, nil
}

// reconcileItem applies one variance atomically. The ledger movement always
// carries the full variance because the physical count is the truth; the batch
// records follow as far as they can.
func (s *Service) reconcileItem(ctx context.Context, sessionID, itemID, actorID int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.LockItem(ctx, itemID)
		if err != nil {
			return err
		}
		if item.Adjusted {
			return ErrItemAdjusted
		}

		if item.Variance < 0 {
			if err := s.drainBatches(ctx, tx, item.ProductID, -item.Variance); err != nil {
				return err
			}
		} else {
			batch, err := tx.NewestOpenBatch(ctx, item.ProductID)
			switch {
			case err == nil:
				if err := tx.IncrementBatch(ctx, batch.ID, item.Variance); err != nil {
					return err
				}
			case errors.Is(err, inventory.ErrBatchNotFound):
				// No open batch to credit; the movement alone carries it.
			default:
				return err
			}
		}

		movementID, err := tx.InsertMovement(ctx, inventory.StockMovement{
			ProductID: item.ProductID,
			Type:      inventory.MovementStocktake,
			Quantity:  item.Variance,
			Reason:    "stocktake variance",
			Reference: fmt.Sprintf("stocktake:%d", sessionID),
			ActorID:   actorID,
		})
		if err != nil {
			return err
		}
		return tx.MarkItemAdjusted(ctx, itemID, movementID)
	})
}

// drainBatches removes a shortage from open batches FIFO. Batch records can
// undercount the ledger when batchless adjustments credited stock, so the
// drain caps at what the batches hold instead of failing the item.
func (s *Service) drainBatches(ctx context.Context, tx TxRepository, productID, shortage int64) error {
	batches, err := tx.ListOpenBatches(ctx, productID)
	if err != nil {
		return err
	}
	var available int64
	for _, b := range batches {
		available += b.RemainingQty
	}
	draw := shortage
	if available < draw {
		draw = available
	}
	if draw == 0 {
		return nil
	}
	plan, err := inventory.PlanAllocation(productID, batches, draw)
	if err != nil {
		return err
	}
	for _, d := range plan {
		if err := tx.DecrementBatch(ctx, d.BatchID, d.Qty); err != nil {
			return err
		}
	}
	return nil
}

// Cancel discards a counting session without touching the ledger.
func (s *Service) Cancel(ctx context.Context, sessionID, actorID int64) error {
	if err := s.repo.SetSessionStatus(ctx, sessionID, StatusCounting, StatusCancelled); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "stocktake:cancel", sessionID, nil)
	return nil
}

func (s *Service) notifyStockChanged(ctx context.Context, productID int64) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.StockChanged(ctx, productID); err != nil {
		s.logger.Warn("stocktake stock change notification failed", slog.Int64("product_id", productID), slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, sessionID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stocktake_session",
		EntityID: fmt.Sprintf("%d", sessionID),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
