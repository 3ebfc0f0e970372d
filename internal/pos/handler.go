package pos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/atlas-retail/atlas-retail/internal/ledger"
	"github.com/atlas-retail/atlas-retail/internal/platform/httpx"
	"github.com/atlas-retail/atlas-retail/internal/shared"
)

// Handler exposes the POS shim over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// Routes mounts POS endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/pos", func(r chi.Router) {
		r.Post("/sales", h.recordSale)
		r.Post("/returns", h.recordReturn)
	})
}

type itemRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Qty       int64 `json:"qty" validate:"required,gt=0"`
}

type ticketRequest struct {
	SaleRef string        `json:"sale_ref" validate:"required"`
	Items   []itemRequest `json:"items" validate:"min=1,dive"`
}

type entryResponse struct {
	ProductID     int64 `json:"product_id"`
	Delta         int64 `json:"delta"`
	QuantityAfter int64 `json:"quantity_after"`
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ledger.ErrNegativeStock):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	case errors.Is(err, ledger.ErrProductNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrDuplicate, err))
	default:
		httpx.RespondError(w, err)
	}
}

func (h *Handler) recordSale(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, h.service.RecordSale)
}

func (h *Handler) recordReturn(w http.ResponseWriter, r *http.Request) {
	h.record(w, r, h.service.RecordReturn)
}

func (h *Handler) record(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, in TicketInput) ([]ledger.Entry, error)) {
	raw := r.Header.Get("X-Actor-ID")
	actor := shared.SystemActor("pos")
	if raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respondError(w, fmt.Errorf("%w: invalid X-Actor-ID", ErrValidation))
			return
		}
		actor = shared.UserActor(id)
	}
	var req ticketRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := TicketInput{SaleRef: req.SaleRef, Actor: actor}
	for _, item := range req.Items {
		input.Items = append(input.Items, Item{ProductID: item.ProductID, Qty: item.Qty})
	}
	entries, err := fn(r.Context(), input)
	if err != nil {
		respondError(w, err)
		return
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{ProductID: e.ProductID, Delta: e.Delta, QuantityAfter: e.QuantityAfter})
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"movements": out})
}
