package purchasing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atlas-retail/atlas-retail/internal/ledger"
	"github.com/atlas-retail/atlas-retail/internal/platform/httpx"
	"github.com/atlas-retail/atlas-retail/internal/shared"
)

// Handler exposes purchasing over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// Routes mounts purchasing endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/purchase-orders", func(r chi.Router) {
		r.Get("/", h.listPurchaseOrders)
		r.Post("/", h.createPurchaseOrder)
		r.Get("/{id}", h.getPurchaseOrder)
		r.Post("/{id}/order", h.markOrdered)
		r.Post("/{id}/cancel", h.cancelPurchaseOrder)
		r.Post("/{id}/recalculate", h.recalculateTotals)
		r.Post("/{id}/lines", h.addLine)
		r.Put("/{id}/lines/{lineID}", h.updateLine)
		r.Delete("/{id}/lines/{lineID}", h.removeLine)
	})
	r.Route("/receiving-reports", func(r chi.Router) {
		r.Post("/", h.createReceivingReport)
		r.Get("/{id}", h.getReceivingReport)
		r.Post("/{id}/finalize", h.finalizeReceivingReport)
		r.Post("/{id}/reject", h.rejectReceivingReport)
	})
}

type lineRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	Qty       int64  `json:"qty" validate:"required,gt=0"`
	UnitPrice string `json:"unit_price" validate:"required"`
}

type createPORequest struct {
	SupplierID     int64         `json:"supplier_id" validate:"required,gt=0"`
	OrderDate      string        `json:"order_date"`
	ExpectedDate   string        `json:"expected_date"`
	TaxRate        string        `json:"tax_rate"`
	ShippingAmount string        `json:"shipping_amount"`
	Note           string        `json:"note"`
	Lines          []lineRequest `json:"lines" validate:"dive"`
}

type poLineResponse struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"product_id"`
	Qty         int64  `json:"qty"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
	QtyReceived int64  `json:"qty_received"`
}

type poResponse struct {
	ID             int64            `json:"id"`
	Number         string           `json:"number"`
	SupplierID     int64            `json:"supplier_id"`
	OrderDate      string           `json:"order_date"`
	ExpectedDate   string           `json:"expected_date,omitempty"`
	Status         string           `json:"status"`
	TaxRate        string           `json:"tax_rate"`
	ShippingAmount string           `json:"shipping_amount"`
	Subtotal       string           `json:"subtotal"`
	TaxAmount      string           `json:"tax_amount"`
	TotalAmount    string           `json:"total_amount"`
	Note           string           `json:"note,omitempty"`
	Lines          []poLineResponse `json:"lines,omitempty"`
}

func toPOResponse(po PurchaseOrder, lines []PurchaseOrderLine) poResponse {
	resp := poResponse{
		ID:             po.ID,
		Number:         po.Number,
		SupplierID:     po.SupplierID,
		OrderDate:      po.OrderDate.Format(time.RFC3339),
		Status:         string(po.Status),
		TaxRate:        po.TaxRate.String(),
		ShippingAmount: po.ShippingAmount.String(),
		Subtotal:       po.Subtotal.StringFixed(2),
		TaxAmount:      po.TaxAmount.StringFixed(2),
		TotalAmount:    po.TotalAmount.StringFixed(2),
		Note:           po.Note,
	}
	if !po.ExpectedDate.IsZero() {
		resp.ExpectedDate = po.ExpectedDate.Format(time.RFC3339)
	}
	for _, l := range lines {
		resp.Lines = append(resp.Lines, poLineResponse{
			ID:          l.ID,
			ProductID:   l.ProductID,
			Qty:         l.Qty,
			UnitPrice:   l.UnitPrice.StringFixed(2),
			Subtotal:    l.Subtotal.StringFixed(2),
			QtyReceived: l.QtyReceived,
		})
	}
	return resp
}

func actorFromRequest(r *http.Request) (shared.Actor, error) {
	raw := r.Header.Get("X-Actor-ID")
	if raw == "" {
		return shared.Actor{}, fmt.Errorf("%w: X-Actor-ID header required", ErrValidation)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return shared.Actor{}, fmt.Errorf("%w: invalid X-Actor-ID", ErrValidation)
	}
	return shared.UserActor(id), nil
}

func parseMoney(raw, field string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: invalid %s", ErrValidation, field)
	}
	return value, nil
}

func parseDate(raw, field string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid %s, expected YYYY-MM-DD", ErrValidation, field)
	}
	return t, nil
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s", ErrValidation, name)
	}
	return id, nil
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ledger.ErrProductNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, ErrValidation), errors.Is(err, ledger.ErrNegativeStock):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrIntegrity):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Unprocessable", err.Error())
	case errors.Is(err, ErrConflict), errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrConflict, err))
	default:
		httpx.RespondError(w, err)
	}
}

func (h *Handler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req createPORequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	taxRate, err := parseMoney(req.TaxRate, "tax_rate")
	if err != nil {
		respondError(w, err)
		return
	}
	shipping, err := parseMoney(req.ShippingAmount, "shipping_amount")
	if err != nil {
		respondError(w, err)
		return
	}
	orderDate, err := parseDate(req.OrderDate, "order_date")
	if err != nil {
		respondError(w, err)
		return
	}
	expectedDate, err := parseDate(req.ExpectedDate, "expected_date")
	if err != nil {
		respondError(w, err)
		return
	}
	input := CreatePurchaseOrderInput{
		SupplierID:     req.SupplierID,
		OrderDate:      orderDate,
		ExpectedDate:   expectedDate,
		TaxRate:        taxRate,
		ShippingAmount: shipping,
		Note:           req.Note,
		Actor:          actor,
	}
	for _, l := range req.Lines {
		price, err := parseMoney(l.UnitPrice, "unit_price")
		if err != nil {
			respondError(w, err)
			return
		}
		input.Lines = append(input.Lines, LineInput{ProductID: l.ProductID, Qty: l.Qty, UnitPrice: price})
	}
	po, lines, err := h.service.CreatePurchaseOrder(r.Context(), input)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toPOResponse(po, lines))
}

func (h *Handler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	po, lines, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPOResponse(po, lines))
}

func (h *Handler) listPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: POStatus(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("supplier_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, fmt.Errorf("%w: invalid supplier_id", ErrValidation))
			return
		}
		filter.SupplierID = id
	}
	orders, err := h.service.ListPurchaseOrders(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]poResponse, 0, len(orders))
	for _, po := range orders {
		out = append(out, toPOResponse(po, nil))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": out})
}

func (h *Handler) markOrdered(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkOrdered)
}

func (h *Handler) cancelPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.CancelPurchaseOrder)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64, actor shared.Actor) error) {
	actor, err := actorFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := fn(r.Context(), id, actor); err != nil {
		respondError(w, err)
		return
	}
	po, lines, err := h.service.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toPOResponse(po, lines))
}

func (h *Handler) recalculateTotals(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	totals, err := h.service.RecalculateTotals(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{
		"subtotal":     totals.Subtotal.StringFixed(2),
		"tax_amount":   totals.TaxAmount.StringFixed(2),
		"total_amount": totals.TotalAmount.StringFixed(2),
	})
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	var req lineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	price, err := parseMoney(req.UnitPrice, "unit_price")
	if err != nil {
		respondError(w, err)
		return
	}
	line, err := h.service.AddLine(r.Context(), id, LineInput{ProductID: req.ProductID, Qty: req.Qty, UnitPrice: price}, actor)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, poLineResponse{
		ID:        line.ID,
		ProductID: line.ProductID,
		Qty:       line.Qty,
		UnitPrice: line.UnitPrice.StringFixed(2),
		Subtotal:  line.Subtotal.StringFixed(2),
	})
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	lineID, err := idParam(r, "lineID")
	if err != nil {
		respondError(w, err)
		return
	}
	var req lineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	price, err := parseMoney(req.UnitPrice, "unit_price")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.service.UpdateLine(r.Context(), id, lineID, LineInput{ProductID: req.ProductID, Qty: req.Qty, UnitPrice: price}, actor); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	lineID, err := idParam(r, "lineID")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.service.RemoveLine(r.Context(), id, lineID, actor); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type receivingLineRequest struct {
	POLineID   int64  `json:"po_line_id" validate:"required,gt=0"`
	QtyGood    int64  `json:"qty_good" validate:"gte=0"`
	QtyDamaged int64  `json:"qty_damaged" validate:"gte=0"`
	Note       string `json:"note"`
}

type createReceivingRequest struct {
	POID            int64                  `json:"po_id" validate:"required,gt=0"`
	ReceivedDate    string                 `json:"received_date"`
	BoxCount        int                    `json:"box_count" validate:"gte=0"`
	HasDamagedBoxes bool                   `json:"has_damaged_boxes"`
	Note            string                 `json:"note"`
	Lines           []receivingLineRequest `json:"lines" validate:"dive"`
}

type receivingLineResponse struct {
	ID         int64  `json:"id"`
	POLineID   int64  `json:"po_line_id"`
	ProductID  int64  `json:"product_id"`
	QtyGood    int64  `json:"qty_good"`
	QtyDamaged int64  `json:"qty_damaged"`
	QtyMissing int64  `json:"qty_missing"`
	Note       string `json:"note,omitempty"`
}

type receivingResponse struct {
	ID              int64                   `json:"id"`
	Number          string                  `json:"number"`
	POID            int64                   `json:"po_id"`
	ReceivedDate    string                  `json:"received_date"`
	ReceivedBy      int64                   `json:"received_by"`
	Status          string                  `json:"status"`
	BoxCount        int                     `json:"box_count"`
	HasDamagedBoxes bool                    `json:"has_damaged_boxes"`
	Note            string                  `json:"note,omitempty"`
	Lines           []receivingLineResponse `json:"lines,omitempty"`
}

func toReceivingResponse(report ReceivingReport, lines []ReceivingReportLine) receivingResponse {
	resp := receivingResponse{
		ID:              report.ID,
		Number:          report.Number,
		POID:            report.POID,
		ReceivedDate:    report.ReceivedDate.Format(time.RFC3339),
		ReceivedBy:      report.ReceivedBy,
		Status:          string(report.Status),
		BoxCount:        report.BoxCount,
		HasDamagedBoxes: report.HasDamagedBoxes,
		Note:            report.Note,
	}
	for _, l := range lines {
		resp.Lines = append(resp.Lines, receivingLineResponse{
			ID:         l.ID,
			POLineID:   l.POLineID,
			ProductID:  l.ProductID,
			QtyGood:    l.QtyGood,
			QtyDamaged: l.QtyDamaged,
			QtyMissing: l.QtyMissing,
			Note:       l.Note,
		})
	}
	return resp
}

func (h *Handler) createReceivingReport(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req createReceivingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	receivedDate, err := parseDate(req.ReceivedDate, "received_date")
	if err != nil {
		respondError(w, err)
		return
	}
	input := CreateReceivingReportInput{
		POID:            req.POID,
		ReceivedDate:    receivedDate,
		BoxCount:        req.BoxCount,
		HasDamagedBoxes: req.HasDamagedBoxes,
		Note:            req.Note,
		Actor:           actor,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, ReceivingLineInput{
			POLineID:   l.POLineID,
			QtyGood:    l.QtyGood,
			QtyDamaged: l.QtyDamaged,
			Note:       l.Note,
		})
	}
	report, lines, err := h.service.CreateReceivingReport(r.Context(), input)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toReceivingResponse(report, lines))
}

func (h *Handler) getReceivingReport(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	report, lines, err := h.service.GetReceivingReport(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReceivingResponse(report, lines))
}

func (h *Handler) finalizeReceivingReport(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.service.FinalizeReceivingReport(r.Context(), id, actor); err != nil {
		respondError(w, err)
		return
	}
	report, lines, err := h.service.GetReceivingReport(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReceivingResponse(report, lines))
}

func (h *Handler) rejectReceivingReport(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	id, err := idParam(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.service.RejectReceivingReport(r.Context(), id, actor); err != nil {
		respondError(w, err)
		return
	}
	report, lines, err := h.service.GetReceivingReport(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReceivingResponse(report, lines))
}
