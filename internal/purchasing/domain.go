package purchasing

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusOrdered   POStatus = "ORDERED"
	POStatusPartial   POStatus = "PARTIALLY_RECEIVED"
	POStatusReceived  POStatus = "RECEIVED"
	POStatusCancelled POStatus = "CANCELLED"
)

// Receiving report statuses.
type ReportStatus string

const (
	ReportStatusPending   ReportStatus = "PENDING"
	ReportStatusCompleted ReportStatus = "COMPLETED"
	ReportStatusRejected  ReportStatus = "REJECTED"
)

// PurchaseOrder domain model. Subtotal, TaxAmount and TotalAmount are derived
// from the lines and are only written through ComputeTotals.
type PurchaseOrder struct {
	ID             int64
	Number         string
	SupplierID     int64
	OrderDate      time.Time
	ExpectedDate   time.Time
	Status         POStatus
	TaxRate        decimal.Decimal
	ShippingAmount decimal.Decimal
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	TotalAmount    decimal.Decimal
	Note           string
}

// PurchaseOrderLine represents one ordered product. QtyReceived accumulates
// across receiving reports and never decreases.
type PurchaseOrderLine struct {
	ID          int64
	POID        int64
	ProductID   int64
	Qty         int64
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal
	QtyReceived int64
}

// Remaining returns the quantity still open on the line.
func (l PurchaseOrderLine) Remaining() int64 {
	remaining := l.Qty - l.QtyReceived
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ReceivingReport records one receiving event against a purchase order.
type ReceivingReport struct {
	ID              int64
	Number          string
	POID            int64
	ReceivedDate    time.Time
	ReceivedBy      int64
	Status          ReportStatus
	BoxCount        int
	HasDamagedBoxes bool
	Note            string
}

// ReceivingReportLine splits one physical receipt into good, damaged and
// missing counts. Only the good quantity moves the stock ledger.
type ReceivingReportLine struct {
	ID         int64
	ReportID   int64
	POLineID   int64
	ProductID  int64
	QtyGood    int64
	QtyDamaged int64
	QtyMissing int64
	Note       string
}

// Totals holds the derived financial fields of a purchase order.
type Totals struct {
	Subtotal    decimal.Decimal
	TaxAmount   decimal.Decimal
	TotalAmount decimal.Decimal
}

// LineSubtotal computes quantity times unit price, rounded to cents.
func LineSubtotal(qty int64, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(qty)).Round(2)
}

// ComputeTotals derives order totals from line subtotals. It is a pure
// function and idempotent: recomputing with unchanged lines yields the same
// result.
func ComputeTotals(lines []PurchaseOrderLine, taxRate, shipping decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Subtotal)
	}
	tax := subtotal.Mul(taxRate).Round(2)
	return Totals{
		Subtotal:    subtotal.Round(2),
		TaxAmount:   tax,
		TotalAmount: subtotal.Add(tax).Add(shipping).Round(2),
	}
}

// DeriveStatus computes the receiving status of a purchase order from its
// line state. It never regresses a RECEIVED or CANCELLED order and leaves the
// current status untouched when nothing has been received yet.
func DeriveStatus(current POStatus, lines []PurchaseOrderLine) POStatus {
	if current == POStatusReceived || current == POStatusCancelled {
		return current
	}
	if len(lines) == 0 {
		return current
	}
	allFull := true
	var totalReceived int64
	for _, line := range lines {
		totalReceived += line.QtyReceived
		if line.QtyReceived < line.Qty {
			allFull = false
		}
	}
	switch {
	case allFull:
		return POStatusReceived
	case totalReceived > 0:
		return POStatusPartial
	default:
		return current
	}
}

// OverReceiptPolicy decides what happens when a receipt would push a line's
// cumulative received quantity past the ordered quantity.
type OverReceiptPolicy string

const (
	// OverReceiptReject fails the finalization.
	OverReceiptReject OverReceiptPolicy = "REJECT"
	// OverReceiptClamp caps the received counter at the ordered quantity.
	OverReceiptClamp OverReceiptPolicy = "CLAMP"
	// OverReceiptAllow keeps the source system's silent over-receiving.
	OverReceiptAllow OverReceiptPolicy = "ALLOW"
)

// ParseOverReceiptPolicy validates a configured policy value.
func ParseOverReceiptPolicy(value string) (OverReceiptPolicy, error) {
	switch OverReceiptPolicy(value) {
	case OverReceiptReject, OverReceiptClamp, OverReceiptAllow:
		return OverReceiptPolicy(value), nil
	case "":
		return OverReceiptReject, nil
	}
	return "", fmt.Errorf("purchasing: unknown over-receipt policy %q", value)
}

var (
	// ErrNotFound indicates a missing record.
	ErrNotFound = errors.New("purchasing: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("purchasing: invalid input")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("purchasing: invalid state transition")
	// ErrIntegrity occurs when a receiving line references a purchase order
	// line of a different order.
	ErrIntegrity = errors.New("purchasing: cross-order reference")
	// ErrConflict indicates lock contention; the caller may retry the whole
	// operation.
	ErrConflict = errors.New("purchasing: concurrent update, retry")
)
