package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlas-retail/atlas-retail/internal/shared"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements product master data operations.
type Service struct {
	repo  Repository
	cache *StockCache
	audit AuditPort
}

// NewService builds Service.
func NewService(repo Repository, cache *StockCache, audit AuditPort) *Service {
	return &Service{repo: repo, cache: cache, audit: audit}
}

// CreateInput carries the fields for a new product.
type CreateInput struct {
	SKU      string
	Name     string
	Price    decimal.Decimal
	Cost     decimal.Decimal
	MinStock int64
	MaxStock int64
	IsActive bool
}

// UpdateInput carries mutable product fields. The SKU and on-hand quantity
// are absent on purpose.
type UpdateInput struct {
	Name     string
	Price    decimal.Decimal
	Cost     decimal.Decimal
	MinStock int64
	MaxStock int64
	IsActive bool
}

// List returns products and the unpaged total.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	return s.repo.List(ctx, filters)
}

// Get returns one product.
func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, fmt.Errorf("%w: invalid product id", ErrValidation)
	}
	return s.repo.Get(ctx, id)
}

// Create registers a product with zero stock.
func (s *Service) Create(ctx context.Context, in CreateInput, actor shared.Actor) (Product, error) {
	if err := validateCreate(in); err != nil {
		return Product{}, err
	}
	product, err := s.repo.Create(ctx, Product{
		SKU:      in.SKU,
		Name:     in.Name,
		Price:    in.Price,
		Cost:     in.Cost,
		MinStock: in.MinStock,
		MaxStock: in.MaxStock,
		IsActive: in.IsActive,
	})
	if err != nil {
		return Product{}, err
	}
	s.recordAudit(ctx, actor, "catalog:product_create", product.ID, map[string]any{"sku": product.SKU})
	return product, nil
}

// Update changes mutable product fields.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput, actor shared.Actor) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid product id", ErrValidation)
	}
	if err := validateUpdate(in); err != nil {
		return err
	}
	if err := s.repo.Update(ctx, id, Product{
		Name:     in.Name,
		Price:    in.Price,
		Cost:     in.Cost,
		MinStock: in.MinStock,
		MaxStock: in.MaxStock,
		IsActive: in.IsActive,
	}); err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "catalog:product_update", id, nil)
	return nil
}

// Delete removes a product that nothing references yet.
func (s *Service) Delete(ctx context.Context, id int64, actor shared.Actor) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid product id", ErrValidation)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, id)
	s.recordAudit(ctx, actor, "catalog:product_delete", id, nil)
	return nil
}

// Stock serves the on-hand snapshot, through the cache when configured.
func (s *Service) Stock(ctx context.Context, id int64) (StockSnapshot, error) {
	if id <= 0 {
		return StockSnapshot{}, fmt.Errorf("%w: invalid product id", ErrValidation)
	}
	return s.cache.Snapshot(ctx, id, func(ctx context.Context) (StockSnapshot, error) {
		product, err := s.repo.Get(ctx, id)
		if err != nil {
			return StockSnapshot{}, err
		}
		return StockSnapshot{
			ProductID: product.ID,
			SKU:       product.SKU,
			OnHandQty: product.OnHandQty,
			AsOf:      product.UpdatedAt,
		}, nil
	})
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   "products",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}
