package purchasing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-retail/atlas-retail/internal/ledger"
	"github.com/atlas-retail/atlas-retail/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Ledger() binds the stock
// ledger to the same transaction so reconciliation commits as one unit.
type TxRepository interface {
	CreatePO(ctx context.Context, po PurchaseOrder) (int64, error)
	InsertLine(ctx context.Context, line PurchaseOrderLine) (int64, error)
	UpdateLine(ctx context.Context, line PurchaseOrderLine) error
	DeleteLine(ctx context.Context, lineID int64) error
	GetPOForUpdate(ctx context.Context, poID int64) (PurchaseOrder, error)
	GetLinesForUpdate(ctx context.Context, poID int64) ([]PurchaseOrderLine, error)
	AddLineReceived(ctx context.Context, lineID int64, delta int64) error
	UpdatePOStatus(ctx context.Context, poID int64, status POStatus) error
	UpdatePOTotals(ctx context.Context, poID int64, totals Totals) error
	CreateReport(ctx context.Context, report ReceivingReport) (int64, error)
	InsertReportLine(ctx context.Context, line ReceivingReportLine) (int64, error)
	GetReportForUpdate(ctx context.Context, reportID int64) (ReceivingReport, error)
	GetReportLines(ctx context.Context, reportID int64) ([]ReceivingReportLine, error)
	UpdateReportStatus(ctx context.Context, reportID int64, status ReportStatus) error
	Ledger() ledger.TxRepository
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps the callback in a repeatable-read transaction. Serialization
// failures and deadlocks surface as ErrConflict so callers can retry whole.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	return mapConflict(err)
}

func mapConflict(err error) error {
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// GetPurchaseOrder returns the order and its lines.
func (r *Repository) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderLine, error) {
	var po PurchaseOrder
	var expected *time.Time
	err := r.pool.QueryRow(ctx, `SELECT id, number, supplier_id, order_date, expected_date, status, tax_rate, shipping_amount, subtotal, tax_amount, total_amount, note
FROM purchase_orders WHERE id=$1`, id).
		Scan(&po.ID, &po.Number, &po.SupplierID, &po.OrderDate, &expected, &po.Status, &po.TaxRate, &po.ShippingAmount, &po.Subtotal, &po.TaxAmount, &po.TotalAmount, &po.Note)
	if expected != nil {
		po.ExpectedDate = *expected
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrNotFound
		}
		return PurchaseOrder{}, nil, err
	}
	lines, err := scanLines(ctx, r.pool, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

// GetReceivingReport returns the report and its lines.
func (r *Repository) GetReceivingReport(ctx context.Context, id int64) (ReceivingReport, []ReceivingReportLine, error) {
	var report ReceivingReport
	err := r.pool.QueryRow(ctx, `SELECT id, number, po_id, received_date, received_by, status, box_count, has_damaged_boxes, note
FROM receiving_reports WHERE id=$1`, id).
		Scan(&report.ID, &report.Number, &report.POID, &report.ReceivedDate, &report.ReceivedBy, &report.Status, &report.BoxCount, &report.HasDamagedBoxes, &report.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ReceivingReport{}, nil, ErrNotFound
		}
		return ReceivingReport{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, receiving_report_id, po_line_id, product_id, qty_good, qty_damaged, qty_missing, note
FROM receiving_report_lines WHERE receiving_report_id=$1 ORDER BY id`, id)
	if err != nil {
		return ReceivingReport{}, nil, err
	}
	defer rows.Close()
	var lines []ReceivingReportLine
	for rows.Next() {
		var line ReceivingReportLine
		if err := rows.Scan(&line.ID, &line.ReportID, &line.POLineID, &line.ProductID, &line.QtyGood, &line.QtyDamaged, &line.QtyMissing, &line.Note); err != nil {
			return ReceivingReport{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return ReceivingReport{}, nil, err
	}
	return report, lines, nil
}

// ListFilter narrows purchase order listings.
type ListFilter struct {
	Status     POStatus
	SupplierID int64
	Limit      int
}

// ListPurchaseOrders returns order headers, newest first.
func (r *Repository) ListPurchaseOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT id, number, supplier_id, order_date, expected_date, status, tax_rate, shipping_amount, subtotal, tax_amount, total_amount, note
FROM purchase_orders
WHERE ($1 = '' OR status = $1) AND ($2 = 0 OR supplier_id = $2)
ORDER BY order_date DESC, id DESC
LIMIT $3`, string(filter.Status), filter.SupplierID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		var expected *time.Time
		if err := rows.Scan(&po.ID, &po.Number, &po.SupplierID, &po.OrderDate, &expected, &po.Status, &po.TaxRate, &po.ShippingAmount, &po.Subtotal, &po.TaxAmount, &po.TotalAmount, &po.Note); err != nil {
			return nil, err
		}
		if expected != nil {
			po.ExpectedDate = *expected
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// ListOpenPurchaseOrderIDs returns orders still waiting on goods.
func (r *Repository) ListOpenPurchaseOrderIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM purchase_orders WHERE status IN ('ORDERED','PARTIALLY_RECEIVED') ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanLines(ctx context.Context, q rowQuerier, poID int64) ([]PurchaseOrderLine, error) {
	rows, err := q.Query(ctx, `SELECT id, po_id, product_id, qty, unit_price, subtotal, qty_received
FROM purchase_order_lines WHERE po_id=$1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []PurchaseOrderLine
	for rows.Next() {
		var line PurchaseOrderLine
		if err := rows.Scan(&line.ID, &line.POID, &line.ProductID, &line.Qty, &line.UnitPrice, &line.Subtotal, &line.QtyReceived); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (tx *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, supplier_id, order_date, expected_date, status, tax_rate, shipping_amount, subtotal, tax_amount, total_amount, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW()) RETURNING id`,
		po.Number, po.SupplierID, po.OrderDate, nullDate(po.ExpectedDate), po.Status,
		po.TaxRate, po.ShippingAmount, po.Subtotal, po.TaxAmount, po.TotalAmount, po.Note).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertLine(ctx context.Context, line PurchaseOrderLine) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO purchase_order_lines (po_id, product_id, qty, unit_price, subtotal, qty_received)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		line.POID, line.ProductID, line.Qty, line.UnitPrice, line.Subtotal, line.QtyReceived).Scan(&id)
	return id, err
}

func (tx *txRepo) UpdateLine(ctx context.Context, line PurchaseOrderLine) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_order_lines SET qty=$1, unit_price=$2, subtotal=$3 WHERE id=$4`,
		line.Qty, line.UnitPrice, line.Subtotal, line.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) DeleteLine(ctx context.Context, lineID int64) error {
	tag, err := tx.tx.Exec(ctx, `DELETE FROM purchase_order_lines WHERE id=$1`, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) GetPOForUpdate(ctx context.Context, poID int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	var expected *time.Time
	err := tx.tx.QueryRow(ctx, `SELECT id, number, supplier_id, order_date, expected_date, status, tax_rate, shipping_amount, subtotal, tax_amount, total_amount, note
FROM purchase_orders WHERE id=$1 FOR UPDATE`, poID).
		Scan(&po.ID, &po.Number, &po.SupplierID, &po.OrderDate, &expected, &po.Status, &po.TaxRate, &po.ShippingAmount, &po.Subtotal, &po.TaxAmount, &po.TotalAmount, &po.Note)
	if expected != nil {
		po.ExpectedDate = *expected
	}
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, ErrNotFound
		}
		return PurchaseOrder{}, err
	}
	return po, nil
}

func (tx *txRepo) GetLinesForUpdate(ctx context.Context, poID int64) ([]PurchaseOrderLine, error) {
	rows, err := tx.tx.Query(ctx, `SELECT id, po_id, product_id, qty, unit_price, subtotal, qty_received
FROM purchase_order_lines WHERE po_id=$1 ORDER BY id FOR UPDATE`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []PurchaseOrderLine
	for rows.Next() {
		var line PurchaseOrderLine
		if err := rows.Scan(&line.ID, &line.POID, &line.ProductID, &line.Qty, &line.UnitPrice, &line.Subtotal, &line.QtyReceived); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (tx *txRepo) AddLineReceived(ctx context.Context, lineID int64, delta int64) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE purchase_order_lines SET qty_received = qty_received + $1 WHERE id=$2`, delta, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *txRepo) UpdatePOStatus(ctx context.Context, poID int64, status POStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET status=$1, updated_at=NOW() WHERE id=$2`, status, poID)
	return err
}

func (tx *txRepo) UpdatePOTotals(ctx context.Context, poID int64, totals Totals) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET subtotal=$1, tax_amount=$2, total_amount=$3, updated_at=NOW() WHERE id=$4`,
		totals.Subtotal, totals.TaxAmount, totals.TotalAmount, poID)
	return err
}

func (tx *txRepo) CreateReport(ctx context.Context, report ReceivingReport) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO receiving_reports (number, po_id, received_date, received_by, status, box_count, has_damaged_boxes, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		report.Number, report.POID, report.ReceivedDate, report.ReceivedBy, report.Status,
		report.BoxCount, report.HasDamagedBoxes, report.Note).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertReportLine(ctx context.Context, line ReceivingReportLine) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO receiving_report_lines (receiving_report_id, po_line_id, product_id, qty_good, qty_damaged, qty_missing, note)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		line.ReportID, line.POLineID, line.ProductID, line.QtyGood, line.QtyDamaged, line.QtyMissing, line.Note).Scan(&id)
	return id, err
}

func (tx *txRepo) GetReportForUpdate(ctx context.Context, reportID int64) (ReceivingReport, error) {
	var report ReceivingReport
	err := tx.tx.QueryRow(ctx, `SELECT id, number, po_id, received_date, received_by, status, box_count, has_damaged_boxes, note
FROM receiving_reports WHERE id=$1 FOR UPDATE`, reportID).
		Scan(&report.ID, &report.Number, &report.POID, &report.ReceivedDate, &report.ReceivedBy, &report.Status, &report.BoxCount, &report.HasDamagedBoxes, &report.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ReceivingReport{}, ErrNotFound
		}
		return ReceivingReport{}, err
	}
	return report, nil
}

func (tx *txRepo) GetReportLines(ctx context.Context, reportID int64) ([]ReceivingReportLine, error) {
	rows, err := tx.tx.Query(ctx, `SELECT id, receiving_report_id, po_line_id, product_id, qty_good, qty_damaged, qty_missing, note
FROM receiving_report_lines WHERE receiving_report_id=$1 ORDER BY id`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []ReceivingReportLine
	for rows.Next() {
		var line ReceivingReportLine
		if err := rows.Scan(&line.ID, &line.ReportID, &line.POLineID, &line.ProductID, &line.QtyGood, &line.QtyDamaged, &line.QtyMissing, &line.Note); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (tx *txRepo) UpdateReportStatus(ctx context.Context, reportID int64, status ReportStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE receiving_reports SET status=$1, updated_at=NOW() WHERE id=$2`, status, reportID)
	return err
}

func (tx *txRepo) Ledger() ledger.TxRepository {
	return ledger.Bind(tx.tx)
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
