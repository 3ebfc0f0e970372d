package ledger

import (
	"errors"
	"time"

	"github.com/atlas-retail/atlas-retail/internal/shared"
)

// EventType enumerates the causes of a stock quantity change.
type EventType string

const (
	// EventPurchaseOrder marks movements booked directly against a purchase order.
	EventPurchaseOrder EventType = "PURCHASE_ORDER"
	// EventReceiving marks goods received against a purchase order.
	EventReceiving EventType = "RECEIVING"
	// EventAdjustment marks manual stock corrections.
	EventAdjustment EventType = "ADJUSTMENT"
	// EventSale marks stock leaving through a POS checkout.
	EventSale EventType = "SALE"
	// EventReturn marks stock coming back from a customer return.
	EventReturn EventType = "RETURN"
	// EventSystem marks movements created by maintenance jobs.
	EventSystem EventType = "SYSTEM"
)

// Valid reports whether the event type is one of the enumerated kinds.
func (e EventType) Valid() bool {
	switch e {
	case EventPurchaseOrder, EventReceiving, EventAdjustment, EventSale, EventReturn, EventSystem:
		return true
	}
	return false
}

// SourceKind tags the document type a movement originated from.
type SourceKind string

const (
	// SourceNone marks movements without a causing document.
	SourceNone SourceKind = ""
	// SourceReceivingLine points at a receiving report line.
	SourceReceivingLine SourceKind = "RECEIVING_LINE"
	// SourceSale points at an external POS sale.
	SourceSale SourceKind = "SALE"
	// SourceAdjustment points at a stock adjustment document.
	SourceAdjustment SourceKind = "ADJUSTMENT"
)

// SourceRef is a typed reference to the document that caused a movement.
type SourceRef struct {
	Kind SourceKind `json:"kind,omitempty"`
	ID   int64      `json:"id,omitempty"`
}

// ReceivingLineSource builds a reference to a receiving report line.
func ReceivingLineSource(id int64) SourceRef {
	return SourceRef{Kind: SourceReceivingLine, ID: id}
}

// SaleSource builds a reference to an external sale.
func SaleSource(id int64) SourceRef {
	return SourceRef{Kind: SourceSale, ID: id}
}

// AdjustmentSource builds a reference to an adjustment document.
func AdjustmentSource(id int64) SourceRef {
	return SourceRef{Kind: SourceAdjustment, ID: id}
}

// IsZero reports whether the reference is empty.
func (s SourceRef) IsZero() bool {
	return s.Kind == SourceNone && s.ID == 0
}

// Movement describes one requested stock change.
type Movement struct {
	ProductID int64
	Delta     int64
	Event     EventType
	Source    SourceRef
	Actor     shared.Actor
	Note      string
}

// Entry is one append-only stock history row. Once written it is immutable;
// QuantityAfter snapshots the on-hand quantity right after the change.
type Entry struct {
	ID            int64     `json:"id"`
	ProductID     int64     `json:"product_id"`
	Delta         int64     `json:"delta"`
	QuantityAfter int64     `json:"quantity_after"`
	Event         EventType `json:"event"`
	Source        SourceRef `json:"source,omitempty"`
	Actor         string    `json:"actor"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryFilter narrows history reads.
type HistoryFilter struct {
	ProductID int64
	Event     EventType
	From      time.Time
	To        time.Time
	Limit     int
}

// Drift describes a product whose on-hand counter disagrees with its history.
type Drift struct {
	ProductID int64 `json:"product_id"`
	OnHand    int64 `json:"on_hand_qty"`
	LedgerSum int64 `json:"ledger_sum"`
	LastAfter int64 `json:"last_quantity_after"`
}

var (
	// ErrProductNotFound indicates the referenced product does not exist.
	ErrProductNotFound = errors.New("ledger: product not found")
	// ErrInvalidQuantity indicates a zero delta.
	ErrInvalidQuantity = errors.New("ledger: quantity change must be non zero")
	// ErrInvalidEvent indicates an unknown event type.
	ErrInvalidEvent = errors.New("ledger: unknown event type")
	// ErrActorRequired indicates a movement without attribution.
	ErrActorRequired = errors.New("ledger: actor required")
	// ErrNegativeStock is returned when a movement would take stock below zero
	// and the negative-stock policy forbids it.
	ErrNegativeStock = errors.New("ledger: negative stock not allowed")
)
