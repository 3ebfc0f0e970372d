package purchasing

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlas-retail/atlas-retail/internal/ledger"
	"github.com/atlas-retail/atlas-retail/internal/shared"
)

// memStore backs the repository double. WithTx serializes callers and rolls
// the whole state back on error, mirroring the transactional guarantees of
// the real repository.
type memStore struct {
	mu       sync.Mutex
	products map[int64]int64
	entries  []ledger.Entry
	pos      map[int64]PurchaseOrder
	lines    map[int64]PurchaseOrderLine
	reports  map[int64]ReceivingReport
	rlines   map[int64]ReceivingReportLine
	nextID   int64
}

func newMemStore() *memStore {
	return &memStore{
		products: make(map[int64]int64),
		pos:      make(map[int64]PurchaseOrder),
		lines:    make(map[int64]PurchaseOrderLine),
		reports:  make(map[int64]ReceivingReport),
		rlines:   make(map[int64]ReceivingReportLine),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) snapshot() *memStore {
	cp := newMemStore()
	cp.nextID = s.nextID
	for k, v := range s.products {
		cp.products[k] = v
	}
	cp.entries = append([]ledger.Entry(nil), s.entries...)
	for k, v := range s.pos {
		cp.pos[k] = v
	}
	for k, v := range s.lines {
		cp.lines[k] = v
	}
	for k, v := range s.reports {
		cp.reports[k] = v
	}
	for k, v := range s.rlines {
		cp.rlines[k] = v
	}
	return cp
}

func (s *memStore) restore(from *memStore) {
	s.nextID = from.nextID
	s.products = from.products
	s.entries = from.entries
	s.pos = from.pos
	s.lines = from.lines
	s.reports = from.reports
	s.rlines = from.rlines
}

func (s *memStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.snapshot()
	if err := fn(ctx, &memTx{store: s}); err != nil {
		s.restore(before)
		return err
	}
	return nil
}

func (s *memStore) GetPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, []PurchaseOrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	po, ok := s.pos[id]
	if !ok {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	return po, s.linesOf(id), nil
}

func (s *memStore) linesOf(poID int64) []PurchaseOrderLine {
	var out []PurchaseOrderLine
	for id := int64(1); id <= s.nextID; id++ {
		if l, ok := s.lines[id]; ok && l.POID == poID {
			out = append(out, l)
		}
	}
	return out
}

func (s *memStore) GetReceivingReport(ctx context.Context, id int64) (ReceivingReport, []ReceivingReportLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[id]
	if !ok {
		return ReceivingReport{}, nil, ErrNotFound
	}
	var lines []ReceivingReportLine
	for lid := int64(1); lid <= s.nextID; lid++ {
		if l, ok := s.rlines[lid]; ok && l.ReportID == id {
			lines = append(lines, l)
		}
	}
	return report, lines, nil
}

func (s *memStore) ListPurchaseOrders(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PurchaseOrder
	for _, po := range s.pos {
		if filter.Status != "" && po.Status != filter.Status {
			continue
		}
		out = append(out, po)
	}
	return out, nil
}

func (s *memStore) ListOpenPurchaseOrderIDs(ctx context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id := int64(1); id <= s.nextID; id++ {
		if po, ok := s.pos[id]; ok && (po.Status == POStatusOrdered || po.Status == POStatusPartial) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

type memTx struct {
	store *memStore
}

func (t *memTx) CreatePO(ctx context.Context, po PurchaseOrder) (int64, error) {
	po.ID = t.store.id()
	t.store.pos[po.ID] = po
	return po.ID, nil
}

func (t *memTx) InsertLine(ctx context.Context, line PurchaseOrderLine) (int64, error) {
	line.ID = t.store.id()
	t.store.lines[line.ID] = line
	return line.ID, nil
}

func (t *memTx) UpdateLine(ctx context.Context, line PurchaseOrderLine) error {
	if _, ok := t.store.lines[line.ID]; !ok {
		return ErrNotFound
	}
	t.store.lines[line.ID] = line
	return nil
}

func (t *memTx) DeleteLine(ctx context.Context, lineID int64) error {
	if _, ok := t.store.lines[lineID]; !ok {
		return ErrNotFound
	}
	delete(t.store.lines, lineID)
	return nil
}

func (t *memTx) GetPOForUpdate(ctx context.Context, poID int64) (PurchaseOrder, error) {
	po, ok := t.store.pos[poID]
	if !ok {
		return PurchaseOrder{}, ErrNotFound
	}
	return po, nil
}

func (t *memTx) GetLinesForUpdate(ctx context.Context, poID int64) ([]PurchaseOrderLine, error) {
	return t.store.linesOf(poID), nil
}

func (t *memTx) AddLineReceived(ctx context.Context, lineID int64, delta int64) error {
	line, ok := t.store.lines[lineID]
	if !ok {
		return ErrNotFound
	}
	line.QtyReceived += delta
	t.store.lines[lineID] = line
	return nil
}

func (t *memTx) UpdatePOStatus(ctx context.Context, poID int64, status POStatus) error {
	po := t.store.pos[poID]
	po.Status = status
	t.store.pos[poID] = po
	return nil
}

func (t *memTx) UpdatePOTotals(ctx context.Context, poID int64, totals Totals) error {
	po := t.store.pos[poID]
	po.Subtotal = totals.Subtotal
	po.TaxAmount = totals.TaxAmount
	po.TotalAmount = totals.TotalAmount
	t.store.pos[poID] = po
	return nil
}

func (t *memTx) CreateReport(ctx context.Context, report ReceivingReport) (int64, error) {
	report.ID = t.store.id()
	t.store.reports[report.ID] = report
	return report.ID, nil
}

func (t *memTx) InsertReportLine(ctx context.Context, line ReceivingReportLine) (int64, error) {
	line.ID = t.store.id()
	t.store.rlines[line.ID] = line
	return line.ID, nil
}

func (t *memTx) GetReportForUpdate(ctx context.Context, reportID int64) (ReceivingReport, error) {
	report, ok := t.store.reports[reportID]
	if !ok {
		return ReceivingReport{}, ErrNotFound
	}
	return report, nil
}

func (t *memTx) GetReportLines(ctx context.Context, reportID int64) ([]ReceivingReportLine, error) {
	var lines []ReceivingReportLine
	for id := int64(1); id <= t.store.nextID; id++ {
		if l, ok := t.store.rlines[id]; ok && l.ReportID == reportID {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

func (t *memTx) UpdateReportStatus(ctx context.Context, reportID int64, status ReportStatus) error {
	report := t.store.reports[reportID]
	report.Status = status
	t.store.reports[reportID] = report
	return nil
}

func (t *memTx) Ledger() ledger.TxRepository {
	return &memLedgerTx{store: t.store}
}

type memLedgerTx struct {
	store *memStore
}

func (t *memLedgerTx) GetOnHandForUpdate(ctx context.Context, productID int64) (int64, error) {
	qty, ok := t.store.products[productID]
	if !ok {
		return 0, ledger.ErrProductNotFound
	}
	return qty, nil
}

func (t *memLedgerTx) SetOnHand(ctx context.Context, productID int64, qty int64) error {
	if _, ok := t.store.products[productID]; !ok {
		return ledger.ErrProductNotFound
	}
	t.store.products[productID] = qty
	return nil
}

func (t *memLedgerTx) InsertEntry(ctx context.Context, entry ledger.Entry) (int64, error) {
	entry.ID = t.store.id()
	t.store.entries = append(t.store.entries, entry)
	return entry.ID, nil
}

func newTestService(store *memStore, policy OverReceiptPolicy) *Service {
	return NewService(store, ledger.NewApplier(ledger.Config{}), nil, nil, nil, nil, nil, Config{OverReceipt: policy})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedOrder(t *testing.T, svc *Service, store *memStore, lines []LineInput) (PurchaseOrder, []PurchaseOrderLine) {
	t.Helper()
	ctx := context.Background()
	for _, l := range lines {
		if _, ok := store.products[l.ProductID]; !ok {
			store.products[l.ProductID] = 0
		}
	}
	po, poLines, err := svc.CreatePurchaseOrder(ctx, CreatePurchaseOrderInput{
		SupplierID:     1,
		TaxRate:        dec("0.07"),
		ShippingAmount: dec("5"),
		Lines:          lines,
		Actor:          shared.UserActor(1),
	})
	require.NoError(t, err)
	require.NoError(t, svc.MarkOrdered(ctx, po.ID, shared.UserActor(1)))
	po, poLines, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	return po, poLines
}

func TestCreatePurchaseOrderComputesTotals(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	store.products[10] = 0
	store.products[11] = 0

	po, lines, err := svc.CreatePurchaseOrder(context.Background(), CreatePurchaseOrderInput{
		SupplierID:     1,
		TaxRate:        dec("0.07"),
		ShippingAmount: dec("5"),
		Lines: []LineInput{
			{ProductID: 10, Qty: 10, UnitPrice: dec("12.50")},
			{ProductID: 11, Qty: 5, UnitPrice: dec("15.00")},
		},
		Actor: shared.UserActor(1),
	})
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.True(t, lines[0].Subtotal.Equal(dec("125.00")), lines[0].Subtotal.String())
	require.True(t, po.Subtotal.Equal(dec("200.00")), po.Subtotal.String())
	require.True(t, po.TaxAmount.Equal(dec("14.00")), po.TaxAmount.String())
	require.True(t, po.TotalAmount.Equal(dec("219.00")), po.TotalAmount.String())
	require.Equal(t, POStatusDraft, po.Status)
}

func TestRecalculateTotalsIsIdempotent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	po, _ := seedOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 4, UnitPrice: dec("9.99")}})
	ctx := context.Background()

	first, err := svc.RecalculateTotals(ctx, po.ID)
	require.NoError(t, err)
	second, err := svc.RecalculateTotals(ctx, po.ID)
	require.NoError(t, err)
	require.True(t, first.Subtotal.Equal(second.Subtotal))
	require.True(t, first.TaxAmount.Equal(second.TaxAmount))
	require.True(t, first.TotalAmount.Equal(second.TotalAmount))
}

func TestLineEditsAreDraftOnly(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	po, lines := seedOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 4, UnitPrice: dec("9.99")}})
	ctx := context.Background()

	_, err := svc.AddLine(ctx, po.ID, LineInput{ProductID: 11, Qty: 1, UnitPrice: dec("1")}, shared.UserActor(1))
	require.ErrorIs(t, err, ErrInvalidState)
	err = svc.UpdateLine(ctx, po.ID, lines[0].ID, LineInput{ProductID: 10, Qty: 2, UnitPrice: dec("9.99")}, shared.UserActor(1))
	require.ErrorIs(t, err, ErrInvalidState)
	err = svc.RemoveLine(ctx, po.ID, lines[0].ID, shared.UserActor(1))
	require.ErrorIs(t, err, ErrInvalidState)
}

func finalize(t *testing.T, svc *Service, store *memStore, poID int64, inputs []ReceivingLineInput) ReceivingReport {
	t.Helper()
	ctx := context.Background()
	report, _, err := svc.CreateReceivingReport(ctx, CreateReceivingReportInput{
		POID:  poID,
		Lines: inputs,
		Actor: shared.UserActor(2),
	})
	require.NoError(t, err)
	require.NoError(t, svc.FinalizeReceivingReport(ctx, report.ID, shared.UserActor(2)))
	report, _, err = svc.GetReceivingReport(ctx, report.ID)
	require.NoError(t, err)
	return report
}

func TestFinalizeMovesOnlyGoodStock(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	po, lines := seedOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 10, UnitPrice: dec("12.50")}})
	ctx := context.Background()

	report := finalize(t, svc, store, po.ID, []ReceivingLineInput{
		{POLineID: lines[0].ID, QtyGood: 7, QtyDamaged: 2},
	})
	require.Equal(t, ReportStatusCompleted, report.Status)

	// 7 good units hit stock, 9 received units advance the counter and one
	// unit stays missing.
	require.Equal(t, int64(7), store.products[10])
	po, lines, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(9), lines[0].QtyReceived)
	require.Equal(t, POStatusPartial, po.Status)

	_, rlines, err := svc.GetReceivingReport(ctx, report.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), rlines[0].QtyMissing)

	require.Len(t, store.entries, 1)
	require.Equal(t, ledger.EventReceiving, store.entries[0].Event)
	require.Equal(t, ledger.SourceReceivingLine, store.entries[0].Source.Kind)
}

func TestFinalizeFullReceiptMarksReceived(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	po, lines := seedOrder(t, svc, store, []LineInput{
		{ProductID: 10, Qty: 10, UnitPrice: dec("12.50")},
		{ProductID: 11, Qty: 5, UnitPrice: dec("15.00")},
	})
	ctx := context.Background()

	finalize(t, svc, store, po.ID, []ReceivingLineInput{
		{POLineID: lines[0].ID, QtyGood: 10},
		{POLineID: lines[1].ID, QtyGood: 3},
	})
	po, _, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusPartial, po.Status)

	finalize(t, svc, store, po.ID, []ReceivingLineInput{
		{POLineID: lines[1].ID, QtyGood: 2},
	})
	po, _, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, po.Status)
	require.Equal(t, int64(10), store.products[10])
	require.Equal(t, int64(5), store.products[11])
}

func TestFinalizeRejectsCrossOrderLine(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	poA, _ := seedOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 5, UnitPrice: dec("1")}})
	_, linesB := seedOrder(t, svc, store, []LineInput{{ProductID: 11, Qty: 5, UnitPrice: dec("1")}})
	ctx := context.Background()

	_, _, err := svc.CreateReceivingReport(ctx, CreateReceivingReportInput{
		POID:  poA.ID,
		Lines: []ReceivingLineInput{{POLineID: linesB[0].ID, QtyGood: 1}},
		Actor: shared.UserActor(2),
	})
	require.ErrorIs(t, err, ErrIntegrity)
}

func TestFinalizeIsAtomic(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	po, lines := seedOrder(t, svc, store, []LineInput{
		{ProductID: 10, Qty: 5, UnitPrice: dec("1")},
		{ProductID: 11, Qty: 5, UnitPrice: dec("1")},
	})
	ctx := context.Background()

	report, _, err := svc.CreateReceivingReport(ctx, CreateReceivingReportInput{
		POID: po.ID,
		Lines: []ReceivingLineInput{
			{POLineID: lines[0].ID, QtyGood: 5},
			{POLineID: lines[1].ID, QtyGood: 5},
		},
		Actor: shared.UserActor(2),
	})
	require.NoError(t, err)

	// Second product vanishes mid-flight; the whole finalization must roll back.
	delete(store.products, 11)
	err = svc.FinalizeReceivingReport(ctx, report.ID, shared.UserActor(2))
	require.ErrorIs(t, err, ledger.ErrProductNotFound)

	require.Equal(t, int64(0), store.products[10])
	require.Empty(t, store.entries)
	po, lines, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(0), lines[0].QtyReceived)
	require.Equal(t, POStatusOrdered, po.Status)
	report, _, err = svc.GetReceivingReport(ctx, report.ID)
	require.NoError(t, err)
	require.Equal(t, ReportStatusPending, report.Status)
}

func TestFinalizeTwiceIsRejected(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	po, lines := seedOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 5, UnitPrice: dec("1")}})
	ctx := context.Background()

	report := finalize(t, svc, store, po.ID, []ReceivingLineInput{{POLineID: lines[0].ID, QtyGood: 5}})
	err := svc.FinalizeReceivingReport(ctx, report.ID, shared.UserActor(2))
	require.ErrorIs(t, err, ErrInvalidState)
	require.Equal(t, int64(5), store.products[10])
	require.Len(t, store.entries, 1)
}

func TestOverReceiptPolicies(t *testing.T) {
	t.Run("reject", func(t *testing.T) {
		store := newMemStore()
		svc := newTestService(store, OverReceiptReject)
		po, lines := seedOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 5, UnitPrice: dec("1")}})
		ctx := context.Background()
		report, _, err := svc.CreateReceivingReport(ctx, CreateReceivingReportInput{
			POID:  po.ID,
			Lines: []ReceivingLineInput{{POLineID: lines[0].ID, QtyGood: 8}},
			Actor: shared.UserActor(2),
		})
		require.NoError(t, err)
		err = svc.FinalizeReceivingReport(ctx, report.ID, shared.UserActor(2))
		require.ErrorIs(t, err, ErrValidation)
		require.Equal(t, int64(0), store.products[10])
	})

	t.Run("clamp", func(t *testing.T) {
		store := newMemStore()
		svc := newTestService(store, OverReceiptClamp)
		po, lines := seedOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 5, UnitPrice: dec("1")}})
		ctx := context.Background()
		finalize(t, svc, store, po.ID, []ReceivingLineInput{{POLineID: lines[0].ID, QtyGood: 8}})
		_, poLines, err := svc.GetPurchaseOrder(ctx, po.ID)
		require.NoError(t, err)
		require.Equal(t, int64(5), poLines[0].QtyReceived)
		// The goods physically arrived, so stock reflects all of them.
		require.Equal(t, int64(8), store.products[10])
	})

	t.Run("allow", func(t *testing.T) {
		store := newMemStore()
		svc := newTestService(store, OverReceiptAllow)
		po, lines := seedOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 5, UnitPrice: dec("1")}})
		ctx := context.Background()
		finalize(t, svc, store, po.ID, []ReceivingLineInput{{POLineID: lines[0].ID, QtyGood: 8}})
		p, poLines, err := svc.GetPurchaseOrder(ctx, po.ID)
		require.NoError(t, err)
		require.Equal(t, int64(8), poLines[0].QtyReceived)
		require.Equal(t, POStatusReceived, p.Status)
	})
}

func TestCancelRefusedAfterReceipt(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	po, lines := seedOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 5, UnitPrice: dec("1")}})
	ctx := context.Background()

	finalize(t, svc, store, po.ID, []ReceivingLineInput{{POLineID: lines[0].ID, QtyGood: 2}})
	err := svc.CancelPurchaseOrder(ctx, po.ID, shared.UserActor(1))
	require.ErrorIs(t, err, ErrInvalidState)

	fresh, _ := seedOrder(t, svc, store, []LineInput{{ProductID: 11, Qty: 5, UnitPrice: dec("1")}})
	require.NoError(t, svc.CancelPurchaseOrder(ctx, fresh.ID, shared.UserActor(1)))
	fresh, _, err = svc.GetPurchaseOrder(ctx, fresh.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusCancelled, fresh.Status)
}

func TestReceivingIntoCancelledOrderFails(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	po, lines := seedOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 5, UnitPrice: dec("1")}})
	ctx := context.Background()

	report, _, err := svc.CreateReceivingReport(ctx, CreateReceivingReportInput{
		POID:  po.ID,
		Lines: []ReceivingLineInput{{POLineID: lines[0].ID, QtyGood: 1}},
		Actor: shared.UserActor(2),
	})
	require.NoError(t, err)
	require.NoError(t, svc.CancelPurchaseOrder(ctx, po.ID, shared.UserActor(1)))

	err = svc.FinalizeReceivingReport(ctx, report.ID, shared.UserActor(2))
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestRejectReceivingReportLeavesStockUntouched(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	po, lines := seedOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 5, UnitPrice: dec("1")}})
	ctx := context.Background()

	report, _, err := svc.CreateReceivingReport(ctx, CreateReceivingReportInput{
		POID:  po.ID,
		Lines: []ReceivingLineInput{{POLineID: lines[0].ID, QtyGood: 5}},
		Actor: shared.UserActor(2),
	})
	require.NoError(t, err)
	require.NoError(t, svc.RejectReceivingReport(ctx, report.ID, shared.UserActor(2)))

	require.Equal(t, int64(0), store.products[10])
	require.Empty(t, store.entries)
	err = svc.FinalizeReceivingReport(ctx, report.ID, shared.UserActor(2))
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestConcurrentFinalizationsKeepLedgerConsistent(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	po, lines := seedOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 40, UnitPrice: dec("1")}})
	ctx := context.Background()

	const workers = 8
	reports := make([]int64, workers)
	for i := range reports {
		report, _, err := svc.CreateReceivingReport(ctx, CreateReceivingReportInput{
			POID:  po.ID,
			Lines: []ReceivingLineInput{{POLineID: lines[0].ID, QtyGood: 5}},
			Actor: shared.UserActor(2),
		})
		require.NoError(t, err)
		reports[i] = report.ID
	}

	var wg sync.WaitGroup
	for _, id := range reports {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			require.NoError(t, svc.FinalizeReceivingReport(ctx, id, shared.UserActor(2)))
		}(id)
	}
	wg.Wait()

	require.Equal(t, int64(40), store.products[10])
	require.Len(t, store.entries, workers)
	var sum int64
	for _, e := range store.entries {
		sum += e.Delta
	}
	require.Equal(t, int64(40), sum)
	p, poLines, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(40), poLines[0].QtyReceived)
	require.Equal(t, POStatusReceived, p.Status)
}

func TestReindexStatusesHealsDriftedOrders(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, OverReceiptReject)
	po, lines := seedOrder(t, svc, store, []LineInput{{ProductID: 10, Qty: 5, UnitPrice: dec("1")}})
	ctx := context.Background()

	// Simulate an out-of-band write that filled the line without updating
	// the order status.
	line := store.lines[lines[0].ID]
	line.QtyReceived = 5
	store.lines[lines[0].ID] = line

	changed, err := svc.ReindexStatuses(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, changed)
	po, _, err = svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusReceived, po.Status)
}

func TestDeriveStatusNeverRegresses(t *testing.T) {
	lines := []PurchaseOrderLine{{Qty: 5, QtyReceived: 0}}
	require.Equal(t, POStatusReceived, DeriveStatus(POStatusReceived, lines))
	require.Equal(t, POStatusCancelled, DeriveStatus(POStatusCancelled, lines))
	require.Equal(t, POStatusOrdered, DeriveStatus(POStatusOrdered, nil))
	require.Equal(t, POStatusOrdered, DeriveStatus(POStatusOrdered, lines))
	lines[0].QtyReceived = 2
	require.Equal(t, POStatusPartial, DeriveStatus(POStatusOrdered, lines))
	lines[0].QtyReceived = 5
	require.Equal(t, POStatusReceived, DeriveStatus(POStatusOrdered, lines))
}
