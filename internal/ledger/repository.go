package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlas-retail/atlas-retail/internal/platform/db"
)

// TxRepository exposes the transactional operations the applier needs. It is
// always bound to an enclosing transaction; the applier never starts its own.
type TxRepository interface {
	GetOnHandForUpdate(ctx context.Context, productID int64) (int64, error)
	SetOnHand(ctx context.Context, productID int64, qty int64) error
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
}

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// Bind wraps an existing pgx transaction so other modules can compose ledger
// writes into their own unit of work.
func Bind(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// History lists stock history entries, oldest first.
func (r *Repository) History(ctx context.Context, filter HistoryFilter) ([]Entry, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, quantity_change, quantity_after, event_type, source_kind, source_id, actor, note, created_at
FROM stock_history
WHERE product_id=$1
  AND ($2 = '' OR event_type = $2)
  AND created_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY created_at ASC, id ASC
LIMIT $5`, filter.ProductID, string(filter.Event), nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Delta, &e.QuantityAfter, &e.Event, &kind, &e.Source.ID, &e.Actor, &e.Note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Source.Kind = SourceKind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReplayAll sums quantity changes per product and pairs them with the current
// on-hand counter, for integrity verification.
func (r *Repository) ReplayAll(ctx context.Context) ([]Drift, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.on_hand_qty,
  COALESCE(SUM(h.quantity_change), 0) AS ledger_sum,
  COALESCE((SELECT h2.quantity_after FROM stock_history h2 WHERE h2.product_id = p.id ORDER BY h2.created_at DESC, h2.id DESC LIMIT 1), 0) AS last_after
FROM products p
LEFT JOIN stock_history h ON h.product_id = p.id
GROUP BY p.id, p.on_hand_qty
ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Drift
	for rows.Next() {
		var d Drift
		if err := rows.Scan(&d.ProductID, &d.OnHand, &d.LedgerSum, &d.LastAfter); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *txRepository) GetOnHandForUpdate(ctx context.Context, productID int64) (int64, error) {
	var qty int64
	err := r.tx.QueryRow(ctx, `SELECT on_hand_qty FROM products WHERE id=$1 FOR UPDATE`, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProductNotFound
		}
		return 0, err
	}
	return qty, nil
}

func (r *txRepository) SetOnHand(ctx context.Context, productID int64, qty int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET on_hand_qty=$1, updated_at=NOW() WHERE id=$2`, qty, productID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	var id int64
	// Sourceless movements store the zero values, matching the NOT NULL
	// columns; SourceRef's zero value round-trips as ('', 0).
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_history (product_id, quantity_change, quantity_after, event_type, source_kind, source_id, actor, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		entry.ProductID, entry.Delta, entry.QuantityAfter, string(entry.Event),
		string(entry.Source.Kind), entry.Source.ID,
		entry.Actor, entry.Note, entry.CreatedAt).Scan(&id)
	return id, err
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
