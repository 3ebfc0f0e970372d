package catalog

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/atlas-retail/atlas-retail/internal/platform/httpx"
	"github.com/atlas-retail/atlas-retail/internal/shared"
)

// Handler exposes the product catalog over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

// Routes mounts catalog endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Get("/{id}/stock", h.stock)
	})
}

type createRequest struct {
	SKU      string `json:"sku" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Price    string `json:"price"`
	Cost     string `json:"cost"`
	MinStock int64  `json:"min_stock" validate:"gte=0"`
	MaxStock int64  `json:"max_stock" validate:"gte=0"`
	IsActive bool   `json:"is_active"`
}

type updateRequest struct {
	Name     string `json:"name" validate:"required"`
	Price    string `json:"price"`
	Cost     string `json:"cost"`
	MinStock int64  `json:"min_stock" validate:"gte=0"`
	MaxStock int64  `json:"max_stock" validate:"gte=0"`
	IsActive bool   `json:"is_active"`
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrNotFound, err))
	case errors.Is(err, ErrValidation):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrValidation, err))
	case errors.Is(err, ErrDuplicateSKU):
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrDuplicate, err))
	case errors.Is(err, ErrProductInUse):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		httpx.RespondError(w, err)
	}
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

func idParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid product id", ErrValidation)
	}
	return id, nil
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filters := ListFilters{Search: r.URL.Query().Get("search")}
	filters.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if filters.Page < 1 {
		filters.Page = 1
	}
	filters.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if raw := r.URL.Query().Get("is_active"); raw != "" {
		active := raw == "true"
		filters.IsActive = &active
	}
	products, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      products,
		"pagination": shared.NewPagination(filters.Page, filters.Limit, total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, err)
		return
	}
	product, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	price, err := parseMoney(req.Price, "price")
	if err != nil {
		respondError(w, err)
		return
	}
	cost, err := parseMoney(req.Cost, "cost")
	if err != nil {
		respondError(w, err)
		return
	}
	product, err := h.service.Create(r.Context(), CreateInput{
		SKU:      req.SKU,
		Name:     req.Name,
		Price:    price,
		Cost:     cost,
		MinStock: req.MinStock,
		MaxStock: req.MaxStock,
		IsActive: req.IsActive,
	}, actor)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, product)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		respondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	price, err := parseMoney(req.Price, "price")
	if err != nil {
		respondError(w, err)
		return
	}
	cost, err := parseMoney(req.Cost, "cost")
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.service.Update(r.Context(), id, UpdateInput{
		Name:     req.Name,
		Price:    price,
		Cost:     cost,
		MinStock: req.MinStock,
		MaxStock: req.MaxStock,
		IsActive: req.IsActive,
	}, actor); err != nil {
		respondError(w, err)
		return
	}
	product, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, product)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		respondError(w, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		respondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, actor); err != nil {
		respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) stock(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		respondError(w, err)
		return
	}
	snap, err := h.service.Stock(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}
