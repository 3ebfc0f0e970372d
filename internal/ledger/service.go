package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atlas-retail/atlas-retail/internal/shared"
)

// Config groups ledger policy settings.
type Config struct {
	// AllowNegativeStock keeps the source system's behaviour of tolerating
	// transient negative on-hand quantities when true.
	AllowNegativeStock bool
}

// Applier performs one audited stock mutation inside a caller-supplied
// transaction. It is the only code path that writes products.on_hand_qty.
type Applier struct {
	allowNeg bool
}

// NewApplier builds an Applier.
func NewApplier(cfg Config) *Applier {
	return &Applier{allowNeg: cfg.AllowNegativeStock}
}

// Apply reads the current on-hand quantity under a row lock, writes the new
// quantity and appends exactly one history entry. Both writes share the
// enclosing transaction, so either both persist or neither does.
func (a *Applier) Apply(ctx context.Context, tx TxRepository, m Movement) (Entry, error) {
	if m.Delta == 0 {
		return Entry{}, ErrInvalidQuantity
	}
	if !m.Event.Valid() {
		return Entry{}, ErrInvalidEvent
	}
	if !m.Actor.Valid() {
		return Entry{}, ErrActorRequired
	}
	current, err := tx.GetOnHandForUpdate(ctx, m.ProductID)
	if err != nil {
		return Entry{}, err
	}
	next := current + m.Delta
	if next < 0 && !a.allowNeg {
		return Entry{}, ErrNegativeStock
	}
	if err := tx.SetOnHand(ctx, m.ProductID, next); err != nil {
		return Entry{}, err
	}
	entry := Entry{
		ProductID:     m.ProductID,
		Delta:         m.Delta,
		QuantityAfter: next,
		Event:         m.Event,
		Source:        m.Source,
		Actor:         m.Actor.Label(),
		Note:          m.Note,
		CreatedAt:     time.Now().UTC(),
	}
	id, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id
	return entry, nil
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	History(ctx context.Context, filter HistoryFilter) ([]Entry, error)
	ReplayAll(ctx context.Context) ([]Drift, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheInvalidator drops cached stock snapshots after a movement commits.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, productID int64)
}

// Service records standalone stock movements (adjustments, sales, returns) in
// their own transaction. Receiving reconciliation composes the Applier into the
// purchasing transaction instead of going through here.
type Service struct {
	repo        RepositoryPort
	applier     *Applier
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       CacheInvalidator
}

// NewService builds Service.
func NewService(repo RepositoryPort, applier *Applier, audit AuditPort, idem *shared.IdempotencyStore, cache CacheInvalidator) *Service {
	return &Service{repo: repo, applier: applier, audit: audit, idempotency: idem, cache: cache}
}

// RecordMovement applies a single movement atomically. Movements carrying a
// source reference are idempotent per (event, source, product).
func (s *Service) RecordMovement(ctx context.Context, m Movement) (Entry, error) {
	if m.Delta == 0 {
		return Entry{}, ErrInvalidQuantity
	}
	if !m.Event.Valid() {
		return Entry{}, ErrInvalidEvent
	}
	key := ""
	insertedKey := false
	if s.idempotency != nil && !m.Source.IsZero() {
		key = fmt.Sprintf("%s:%s:%d:%d", m.Event, m.Source.Kind, m.Source.ID, m.ProductID)
		if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
			return Entry{}, err
		}
		insertedKey = true
	}
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = s.applier.Apply(ctx, tx, m)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Entry{}, err
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx, m.ProductID)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    m.Actor,
			Action:   fmt.Sprintf("ledger:%s", m.Event),
			Entity:   "stock_history",
			EntityID: fmt.Sprintf("%d", entry.ID),
			Meta: map[string]any{
				"product_id":     m.ProductID,
				"delta":          m.Delta,
				"quantity_after": entry.QuantityAfter,
				"note":           m.Note,
			},
		})
	}
	return entry, nil
}

// RecordMovements applies several movements in one transaction under a single
// caller-supplied idempotency key. Either every movement persists or none
// does, so a multi-line document never commits partially.
func (s *Service) RecordMovements(ctx context.Context, movements []Movement, key string) ([]Entry, error) {
	if len(movements) == 0 {
		return nil, ErrInvalidQuantity
	}
	for _, m := range movements {
		if m.Delta == 0 {
			return nil, ErrInvalidQuantity
		}
		if !m.Event.Valid() {
			return nil, ErrInvalidEvent
		}
	}
	insertedKey := false
	if s.idempotency != nil && key != "" {
		if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
			return nil, err
		}
		insertedKey = true
	}
	entries := make([]Entry, 0, len(movements))
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, m := range movements {
			entry, err := s.applier.Apply(ctx, tx, m)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		return nil, err
	}
	if s.cache != nil {
		seen := make(map[int64]struct{}, len(movements))
		for _, m := range movements {
			if _, ok := seen[m.ProductID]; ok {
				continue
			}
			seen[m.ProductID] = struct{}{}
			s.cache.Invalidate(ctx, m.ProductID)
		}
	}
	if s.audit != nil {
		for i, entry := range entries {
			_ = s.audit.Record(ctx, shared.AuditLog{
				Actor:    movements[i].Actor,
				Action:   fmt.Sprintf("ledger:%s", movements[i].Event),
				Entity:   "stock_history",
				EntityID: fmt.Sprintf("%d", entry.ID),
				Meta: map[string]any{
					"product_id":     movements[i].ProductID,
					"delta":          movements[i].Delta,
					"quantity_after": entry.QuantityAfter,
					"note":           movements[i].Note,
				},
			})
		}
	}
	return entries, nil
}

// History lists history entries for a product.
func (s *Service) History(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	if filter.ProductID == 0 {
		return nil, errors.New("ledger: product required")
	}
	return s.repo.History(ctx, filter)
}

// Verify replays every product's history and returns the products whose
// on-hand counter disagrees with the sum of recorded changes.
func (s *Service) Verify(ctx context.Context) ([]Drift, error) {
	rows, err := s.repo.ReplayAll(ctx)
	if err != nil {
		return nil, err
	}
	var drifted []Drift
	for _, row := range rows {
		if row.OnHand != row.LedgerSum || row.OnHand != row.LastAfter {
			drifted = append(drifted, row)
		}
	}
	return drifted, nil
}
