package http

import (
	"context"
	"net/http"
	"time"

	d "github.com/fjod/meal-checkout/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type AddressBook interface {
	List(ctx context.Context, userID string) ([]d.Address, error)
	Create(ctx context.Context, addr d.Address) (d.Address, error)
	SetDefault(ctx context.Context, userID, addressID string) error
}

type AddressesHandler struct {
	book    AddressBook
	timeout time.Duration
	log     *zap.Logger
}

func NewAddressesHandler(book AddressBook, timeout time.Duration, log *zap.Logger) *AddressesHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AddressesHandler{book: book, timeout: timeout, log: log}
}

type CreateAddressRequestDTO struct {
	Type         string `json:"type"`
	Street       string `json:"street"`
	Apartment    string `json:"apartment"`
	City         string `json:"city"`
	State        string `json:"state"`
	ZipCode      string `json:"zip_code"`
	Instructions string `json:"instructions"`
	IsDefault    bool   `json:"is_default"`
}

// GET /api/v1/addresses
func (h *AddressesHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	addrs, err := h.book.List(ctx, getUserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	if addrs == nil {
		addrs = []d.Address{}
	}
	respondJSON(w, http.StatusOK, addrs)
}

// POST /api/v1/addresses
func (h *AddressesHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateAddressRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	addr, err := h.book.Create(ctx, d.Address{
		UserID:       getUserIDFromContext(r.Context()),
		Type:         d.AddressType(req.Type),
		Street:       req.Street,
		Apartment:    req.Apartment,
		City:         req.City,
		State:        req.State,
		ZipCode:      req.ZipCode,
		Instructions: req.Instructions,
		IsDefault:    req.IsDefault,
	})
	if err != nil {
		writeError(w, r, h.log, err)
		return
	}
	respondJSON(w, http.StatusCreated, addr)
}

// PUT /api/v1/addresses/{address_id}/default
func (h *AddressesHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.book.SetDefault(ctx, getUserIDFromContext(r.Context()), chi.URLParam(r, "address_id")); err != nil {
		writeError(w, r, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
