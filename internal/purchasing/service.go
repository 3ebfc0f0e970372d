package purchasing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-retail/atlas-retail/internal/ledger"
	"github.com/atlas-retail/atlas-retail/internal/observability"
	"github.com/atlas-retail/atlas-retail/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderLine, error)
	GetReceivingReport(ctx context.Context, id int64) (ReceivingReport, []ReceivingReportLine, error)
	ListPurchaseOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error)
	ListOpenPurchaseOrderIDs(ctx context.Context) ([]int64, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Config groups purchasing policy settings.
type Config struct {
	OverReceipt OverReceiptPolicy
}

// Service implements the purchase order and receiving workflows.
type Service struct {
	repo        RepositoryPort
	applier     *ledger.Applier
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	metrics     *observability.Metrics
	cache       ledger.CacheInvalidator
	logger      *slog.Logger
	policy      OverReceiptPolicy
}

// NewService builds Service.
func NewService(repo RepositoryPort, applier *ledger.Applier, audit AuditPort, idem *shared.IdempotencyStore, metrics *observability.Metrics, cache ledger.CacheInvalidator, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.OverReceipt
	if policy == "" {
		policy = OverReceiptReject
	}
	return &Service{
		repo:        repo,
		applier:     applier,
		audit:       audit,
		idempotency: idem,
		metrics:     metrics,
		cache:       cache,
		logger:      logger,
		policy:      policy,
	}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// LineInput describes one ordered product.
type LineInput struct {
	ProductID int64
	Qty       int64
	UnitPrice decimal.Decimal
}

// CreatePurchaseOrderInput carries the fields for a new draft order.
type CreatePurchaseOrderInput struct {
	SupplierID     int64
	OrderDate      time.Time
	ExpectedDate   time.Time
	TaxRate        decimal.Decimal
	ShippingAmount decimal.Decimal
	Note           string
	Lines          []LineInput
	Actor          shared.Actor
}

func validateLineInput(in LineInput) error {
	if in.ProductID == 0 {
		return fmt.Errorf("%w: product required", ErrValidation)
	}
	if in.Qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if in.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price cannot be negative", ErrValidation)
	}
	return nil
}

// CreatePurchaseOrder creates a draft order with its lines and derived totals.
func (s *Service) CreatePurchaseOrder(ctx context.Context, in CreatePurchaseOrderInput) (PurchaseOrder, []PurchaseOrderLine, error) {
	if in.SupplierID == 0 {
		return PurchaseOrder{}, nil, fmt.Errorf("%w: supplier required", ErrValidation)
	}
	if !in.Actor.Valid() {
		return PurchaseOrder{}, nil, fmt.Errorf("%w: actor required", ErrValidation)
	}
	if in.TaxRate.IsNegative() || in.ShippingAmount.IsNegative() {
		return PurchaseOrder{}, nil, fmt.Errorf("%w: tax rate and shipping cannot be negative", ErrValidation)
	}
	for _, line := range in.Lines {
		if err := validateLineInput(line); err != nil {
			return PurchaseOrder{}, nil, err
		}
	}
	orderDate := in.OrderDate
	if orderDate.IsZero() {
		orderDate = time.Now().UTC()
	}

	lines := make([]PurchaseOrderLine, 0, len(in.Lines))
	for _, l := range in.Lines {
		lines = append(lines, PurchaseOrderLine{
			ProductID: l.ProductID,
			Qty:       l.Qty,
			UnitPrice: l.UnitPrice,
			Subtotal:  LineSubtotal(l.Qty, l.UnitPrice),
		})
	}
	totals := ComputeTotals(lines, in.TaxRate, in.ShippingAmount)

	po := PurchaseOrder{
		Number:         generateNumber("PO"),
		SupplierID:     in.SupplierID,
		OrderDate:      orderDate,
		ExpectedDate:   in.ExpectedDate,
		Status:         POStatusDraft,
		TaxRate:        in.TaxRate,
		ShippingAmount: in.ShippingAmount,
		Subtotal:       totals.Subtotal,
		TaxAmount:      totals.TaxAmount,
		TotalAmount:    totals.TotalAmount,
		Note:           in.Note,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.CreatePO(ctx, po)
		if err != nil {
			return err
		}
		po.ID = id
		for i := range lines {
			lines[i].POID = id
			lineID, err := tx.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	s.recordAudit(ctx, in.Actor, "purchasing:po_create", "purchase_orders", po.ID, map[string]any{
		"number": po.Number, "supplier_id": po.SupplierID, "total": po.TotalAmount.String(),
	})
	return po, lines, nil
}

// AddLine appends a line to a draft order and recomputes totals.
func (s *Service) AddLine(ctx context.Context, poID int64, in LineInput, actor shared.Actor) (PurchaseOrderLine, error) {
	if err := validateLineInput(in); err != nil {
		return PurchaseOrderLine{}, err
	}
	var line PurchaseOrderLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft {
			return fmt.Errorf("%w: lines can only change on a draft order", ErrInvalidState)
		}
		line = PurchaseOrderLine{
			POID:      poID,
			ProductID: in.ProductID,
			Qty:       in.Qty,
			UnitPrice: in.UnitPrice,
			Subtotal:  LineSubtotal(in.Qty, in.UnitPrice),
		}
		id, err := tx.InsertLine(ctx, line)
		if err != nil {
			return err
		}
		line.ID = id
		return s.refreshTotals(ctx, tx, po)
	})
	if err != nil {
		return PurchaseOrderLine{}, err
	}
	s.recordAudit(ctx, actor, "purchasing:po_line_add", "purchase_order_lines", line.ID, map[string]any{"po_id": poID})
	return line, nil
}

// UpdateLine changes quantity or price of a draft order line.
func (s *Service) UpdateLine(ctx context.Context, poID, lineID int64, in LineInput, actor shared.Actor) error {
	if in.Qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if in.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price cannot be negative", ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft {
			return fmt.Errorf("%w: lines can only change on a draft order", ErrInvalidState)
		}
		lines, err := tx.GetLinesForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		var target *PurchaseOrderLine
		for i := range lines {
			if lines[i].ID == lineID {
				target = &lines[i]
				break
			}
		}
		if target == nil {
			return ErrNotFound
		}
		target.Qty = in.Qty
		target.UnitPrice = in.UnitPrice
		target.Subtotal = LineSubtotal(in.Qty, in.UnitPrice)
		if err := tx.UpdateLine(ctx, *target); err != nil {
			return err
		}
		totals := ComputeTotals(lines, po.TaxRate, po.ShippingAmount)
		return tx.UpdatePOTotals(ctx, poID, totals)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "purchasing:po_line_update", "purchase_order_lines", lineID, map[string]any{"po_id": poID})
	return nil
}

// RemoveLine deletes a draft order line and recomputes totals.
func (s *Service) RemoveLine(ctx context.Context, poID, lineID int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft {
			return fmt.Errorf("%w: lines can only change on a draft order", ErrInvalidState)
		}
		if err := tx.DeleteLine(ctx, lineID); err != nil {
			return err
		}
		return s.refreshTotals(ctx, tx, po)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "purchasing:po_line_remove", "purchase_order_lines", lineID, map[string]any{"po_id": poID})
	return nil
}

func (s *Service) refreshTotals(ctx context.Context, tx TxRepository, po PurchaseOrder) error {
	lines, err := tx.GetLinesForUpdate(ctx, po.ID)
	if err != nil {
		return err
	}
	totals := ComputeTotals(lines, po.TaxRate, po.ShippingAmount)
	return tx.UpdatePOTotals(ctx, po.ID, totals)
}

// RecalculateTotals recomputes and persists the derived totals of an order.
// Safe to call at any time; unchanged lines produce unchanged totals.
func (s *Service) RecalculateTotals(ctx context.Context, poID int64) (Totals, error) {
	var totals Totals
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		lines, err := tx.GetLinesForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		totals = ComputeTotals(lines, po.TaxRate, po.ShippingAmount)
		return tx.UpdatePOTotals(ctx, poID, totals)
	})
	return totals, err
}

// MarkOrdered moves a draft order into ORDERED.
func (s *Service) MarkOrdered(ctx context.Context, poID int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft {
			return fmt.Errorf("%w: only draft orders can be placed", ErrInvalidState)
		}
		lines, err := tx.GetLinesForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return fmt.Errorf("%w: cannot place an empty order", ErrValidation)
		}
		return tx.UpdatePOStatus(ctx, poID, POStatusOrdered)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "purchasing:po_order", "purchase_orders", poID, nil)
	return nil
}

// CancelPurchaseOrder cancels an order. Orders with received goods cannot be
// cancelled; the stock they brought in stays on the books.
func (s *Service) CancelPurchaseOrder(ctx context.Context, poID int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		if po.Status == POStatusCancelled {
			return nil
		}
		if po.Status == POStatusReceived {
			return fmt.Errorf("%w: received orders cannot be cancelled", ErrInvalidState)
		}
		lines, err := tx.GetLinesForUpdate(ctx, poID)
		if err != nil {
			return err
		}
		for _, line := range lines {
			if line.QtyReceived > 0 {
				return fmt.Errorf("%w: order has received goods", ErrInvalidState)
			}
		}
		return tx.UpdatePOStatus(ctx, poID, POStatusCancelled)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "purchasing:po_cancel", "purchase_orders", poID, nil)
	return nil
}

// GetPurchaseOrder returns an order and its lines.
func (s *Service) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderLine, error) {
	return s.repo.GetPurchaseOrder(ctx, id)
}

// ListPurchaseOrders lists order headers.
func (s *Service) ListPurchaseOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	return s.repo.ListPurchaseOrders(ctx, filter)
}

// ReceivingLineInput records counts for one order line. The missing quantity
// is derived, not supplied: whatever of the outstanding quantity is neither
// good nor damaged is recorded as missing.
type ReceivingLineInput struct {
	POLineID   int64
	QtyGood    int64
	QtyDamaged int64
	Note       string
}

// CreateReceivingReportInput carries the fields for a new pending report.
type CreateReceivingReportInput struct {
	POID            int64
	ReceivedDate    time.Time
	BoxCount        int
	HasDamagedBoxes bool
	Note            string
	Lines           []ReceivingLineInput
	Actor           shared.Actor
}

// CreateReceivingReport records a pending receiving report against an order.
// It does not touch stock; FinalizeReceivingReport does.
func (s *Service) CreateReceivingReport(ctx context.Context, in CreateReceivingReportInput) (ReceivingReport, []ReceivingReportLine, error) {
	if in.POID == 0 {
		return ReceivingReport{}, nil, fmt.Errorf("%w: purchase order required", ErrValidation)
	}
	if !in.Actor.Valid() {
		return ReceivingReport{}, nil, fmt.Errorf("%w: actor required", ErrValidation)
	}
	for _, line := range in.Lines {
		if line.POLineID == 0 {
			return ReceivingReport{}, nil, fmt.Errorf("%w: order line required", ErrValidation)
		}
		if line.QtyGood < 0 || line.QtyDamaged < 0 {
			return ReceivingReport{}, nil, fmt.Errorf("%w: quantities cannot be negative", ErrValidation)
		}
	}
	receivedDate := in.ReceivedDate
	if receivedDate.IsZero() {
		receivedDate = time.Now().UTC()
	}

	report := ReceivingReport{
		Number:          generateNumber("RR"),
		POID:            in.POID,
		ReceivedDate:    receivedDate,
		ReceivedBy:      in.Actor.UserID,
		Status:          ReportStatusPending,
		BoxCount:        in.BoxCount,
		HasDamagedBoxes: in.HasDamagedBoxes,
		Note:            in.Note,
	}
	var lines []ReceivingReportLine

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.GetPOForUpdate(ctx, in.POID)
		if err != nil {
			return err
		}
		if po.Status == POStatusCancelled || po.Status == POStatusDraft {
			return fmt.Errorf("%w: order %s is not open for receiving", ErrInvalidState, po.Number)
		}
		poLines, err := tx.GetLinesForUpdate(ctx, in.POID)
		if err != nil {
			return err
		}
		byID := make(map[int64]PurchaseOrderLine, len(poLines))
		for _, l := range poLines {
			byID[l.ID] = l
		}
		reportID, err := tx.CreateReport(ctx, report)
		if err != nil {
			return err
		}
		report.ID = reportID
		lines = make([]ReceivingReportLine, 0, len(in.Lines))
		for _, l := range in.Lines {
			poLine, ok := byID[l.POLineID]
			if !ok {
				return fmt.Errorf("%w: line %d does not belong to order %s", ErrIntegrity, l.POLineID, po.Number)
			}
			missing := poLine.Remaining() - l.QtyGood - l.QtyDamaged
			if missing < 0 {
				missing = 0
			}
			line := ReceivingReportLine{
				ReportID:   reportID,
				POLineID:   l.POLineID,
				ProductID:  poLine.ProductID,
				QtyGood:    l.QtyGood,
				QtyDamaged: l.QtyDamaged,
				QtyMissing: missing,
				Note:       l.Note,
			}
			id, err := tx.InsertReportLine(ctx, line)
			if err != nil {
				return err
			}
			line.ID = id
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return ReceivingReport{}, nil, err
	}
	s.recordAudit(ctx, in.Actor, "purchasing:rr_create", "receiving_reports", report.ID, map[string]any{
		"number": report.Number, "po_id": report.POID,
	})
	return report, lines, nil
}

// GetReceivingReport returns a report and its lines.
func (s *Service) GetReceivingReport(ctx context.Context, id int64) (ReceivingReport, []ReceivingReportLine, error) {
	return s.repo.GetReceivingReport(ctx, id)
}

// RejectReceivingReport discards a pending report without touching stock.
func (s *Service) RejectReceivingReport(ctx context.Context, reportID int64, actor shared.Actor) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		report, err := tx.GetReportForUpdate(ctx, reportID)
		if err != nil {
			return err
		}
		if report.Status != ReportStatusPending {
			return fmt.Errorf("%w: report %s already %s", ErrInvalidState, report.Number, report.Status)
		}
		return tx.UpdateReportStatus(ctx, reportID, ReportStatusRejected)
	})
	if err != nil {
		return err
	}
	s.metrics.ObserveFinalization("rejected")
	s.recordAudit(ctx, actor, "purchasing:rr_reject", "receiving_reports", reportID, nil)
	return nil
}

// FinalizeReceivingReport reconciles a pending report: every good unit moves
// the stock ledger, every received unit (good plus damaged) advances the order
// line counters, and the order status is re-derived. All of it commits as one
// transaction or not at all.
func (s *Service) FinalizeReceivingReport(ctx context.Context, reportID int64, actor shared.Actor) error {
	if !actor.Valid() {
		return fmt.Errorf("%w: actor required", ErrValidation)
	}

	key := ""
	insertedKey := false
	var reportNumber string
	var movements int
	var movedProducts []int64

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		report, err := tx.GetReportForUpdate(ctx, reportID)
		if err != nil {
			return err
		}
		if report.Status != ReportStatusPending {
			return fmt.Errorf("%w: report %s already %s", ErrInvalidState, report.Number, report.Status)
		}
		reportNumber = report.Number

		if s.idempotency != nil {
			key = fmt.Sprintf("RR:%s", report.Number)
			if err := s.idempotency.CheckAndInsert(ctx, key, "purchasing"); err != nil {
				return err
			}
			insertedKey = true
		}

		po, err := tx.GetPOForUpdate(ctx, report.POID)
		if err != nil {
			return err
		}
		if po.Status == POStatusCancelled {
			return fmt.Errorf("%w: order %s is cancelled", ErrInvalidState, po.Number)
		}
		poLines, err := tx.GetLinesForUpdate(ctx, report.POID)
		if err != nil {
			return err
		}
		byID := make(map[int64]*PurchaseOrderLine, len(poLines))
		for i := range poLines {
			byID[poLines[i].ID] = &poLines[i]
		}

		reportLines, err := tx.GetReportLines(ctx, reportID)
		if err != nil {
			return err
		}
		stockLedger := tx.Ledger()
		for _, rl := range reportLines {
			poLine, ok := byID[rl.POLineID]
			if !ok {
				return fmt.Errorf("%w: line %d does not belong to order %s", ErrIntegrity, rl.POLineID, po.Number)
			}
			if poLine.ProductID != rl.ProductID {
				return fmt.Errorf("%w: product mismatch on line %d", ErrIntegrity, rl.POLineID)
			}
			received := rl.QtyGood + rl.QtyDamaged
			if received == 0 {
				continue
			}
			counterDelta := received
			if over := received - poLine.Remaining(); over > 0 {
				switch s.policy {
				case OverReceiptReject:
					return fmt.Errorf("%w: line %d over-received by %d", ErrValidation, rl.POLineID, over)
				case OverReceiptClamp:
					counterDelta = poLine.Remaining()
				}
			}
			if rl.QtyGood > 0 {
				_, err := s.applier.Apply(ctx, stockLedger, ledger.Movement{
					ProductID: rl.ProductID,
					Delta:     rl.QtyGood,
					Event:     ledger.EventReceiving,
					Source:    ledger.ReceivingLineSource(rl.ID),
					Actor:     actor,
					Note:      fmt.Sprintf("Received from PO %s", po.Number),
				})
				if err != nil {
					return err
				}
				movements++
				movedProducts = append(movedProducts, rl.ProductID)
				s.metrics.ObserveMovement(string(ledger.EventReceiving))
			}
			if counterDelta > 0 {
				if err := tx.AddLineReceived(ctx, rl.POLineID, counterDelta); err != nil {
					return err
				}
				poLine.QtyReceived += counterDelta
			}
		}

		next := DeriveStatus(po.Status, poLines)
		if next != po.Status {
			if err := tx.UpdatePOStatus(ctx, po.ID, next); err != nil {
				return err
			}
		}
		totals := ComputeTotals(poLines, po.TaxRate, po.ShippingAmount)
		if err := tx.UpdatePOTotals(ctx, po.ID, totals); err != nil {
			return err
		}
		return tx.UpdateReportStatus(ctx, reportID, ReportStatusCompleted)
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, key)
		}
		s.metrics.ObserveFinalization("failed")
		return err
	}

	if s.cache != nil {
		for _, productID := range movedProducts {
			s.cache.Invalidate(ctx, productID)
		}
	}
	s.metrics.ObserveFinalization("completed")
	s.logger.InfoContext(ctx, "receiving report finalized",
		slog.String("report", reportNumber),
		slog.Int("movements", movements))
	s.recordAudit(ctx, actor, "purchasing:rr_finalize", "receiving_reports", reportID, map[string]any{
		"number": reportNumber, "movements": movements,
	})
	return nil
}

// ReindexStatuses re-derives the status of every open order from its line
// counters. Run periodically to heal orders touched by out-of-band writes.
func (s *Service) ReindexStatuses(ctx context.Context) (int, error) {
	ids, err := s.repo.ListOpenPurchaseOrderIDs(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, id := range ids {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			po, err := tx.GetPOForUpdate(ctx, id)
			if err != nil {
				return err
			}
			lines, err := tx.GetLinesForUpdate(ctx, id)
			if err != nil {
				return err
			}
			next := DeriveStatus(po.Status, lines)
			if next == po.Status {
				return nil
			}
			changed++
			return tx.UpdatePOStatus(ctx, id, next)
		})
		if err != nil {
			return changed, err
		}
	}
	return changed, nil
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    actor,
		Action:   action,
		Entity:   entity,
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
