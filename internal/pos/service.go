package pos

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/atlas-retail/atlas-retail/internal/ledger"
	"github.com/atlas-retail/atlas-retail/internal/observability"
	"github.com/atlas-retail/atlas-retail/internal/shared"
)

// ErrValidation indicates invalid input.
var ErrValidation = errors.New("pos: invalid input")

var saleNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// refID derives a stable numeric reference from the terminal's sale number,
// so replays of the same checkout hit the same idempotency key.
func refID(saleRef string) int64 {
	sum := uuid.NewSHA1(saleNamespace, []byte(saleRef))
	return int64(binary.BigEndian.Uint64(sum[:8]) >> 1)
}

// Item is one product position on a ticket.
type Item struct {
	ProductID int64
	Qty       int64
}

// TicketInput carries a checkout or return posted by a POS terminal. The
// sales system of record stays on the terminal side; only the stock effect
// lands here.
type TicketInput struct {
	SaleRef string
	Items   []Item
	Actor   shared.Actor
}

// Service translates POS tickets into stock ledger movements.
type Service struct {
	ledger  *ledger.Service
	metrics *observability.Metrics
}

// NewService builds Service.
func NewService(ledgerService *ledger.Service, metrics *observability.Metrics) *Service {
	return &Service{ledger: ledgerService, metrics: metrics}
}

func (s *Service) validate(in TicketInput) error {
	if strings.TrimSpace(in.SaleRef) == "" {
		return fmt.Errorf("%w: sale reference required", ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: at least one item required", ErrValidation)
	}
	for _, item := range in.Items {
		if item.ProductID <= 0 || item.Qty <= 0 {
			return fmt.Errorf("%w: item product and quantity must be positive", ErrValidation)
		}
	}
	if !in.Actor.Valid() {
		return fmt.Errorf("%w: actor required", ErrValidation)
	}
	return nil
}

// RecordSale books the negative movements of a checkout. Replaying the same
// sale reference is a no-op conflict, not a double deduction.
func (s *Service) RecordSale(ctx context.Context, in TicketInput) ([]ledger.Entry, error) {
	return s.record(ctx, in, ledger.EventSale)
}

// RecordReturn books the positive movements of a customer return.
func (s *Service) RecordReturn(ctx context.Context, in TicketInput) ([]ledger.Entry, error) {
	return s.record(ctx, in, ledger.EventReturn)
}

func (s *Service) record(ctx context.Context, in TicketInput, event ledger.EventType) ([]ledger.Entry, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}
	source := ledger.SaleSource(refID(in.SaleRef))
	note := fmt.Sprintf("POS %s %s", strings.ToLower(string(event)), in.SaleRef)
	movements := make([]ledger.Movement, 0, len(in.Items))
	for _, item := range in.Items {
		delta := item.Qty
		if event == ledger.EventSale {
			delta = -delta
		}
		movements = append(movements, ledger.Movement{
			ProductID: item.ProductID,
			Delta:     delta,
			Event:     event,
			Source:    source,
			Actor:     in.Actor,
			Note:      note,
		})
	}
	// One transaction and one ticket-level idempotency key: a failed ticket
	// leaves no item applied, and a replayed ticket is rejected whole.
	entries, err := s.ledger.RecordMovements(ctx, movements, fmt.Sprintf("%s:%s", event, in.SaleRef))
	if err != nil {
		return nil, err
	}
	for range entries {
		s.metrics.ObserveMovement(string(event))
	}
	return entries, nil
}
