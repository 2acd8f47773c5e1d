package student

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/academy-api/internal/common"
	"github.com/noah-isme/academy-api/internal/payment"
)

// Handler exposes registration and the admin student roster over HTTP.
type Handler struct {
	Svc *Service
}

// Register handles POST /api/v1/registrations.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in RegistrationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	reg, err := h.Svc.Register(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": reg})
}

// List handles GET /api/v1/admin/students.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage := common.ParsePagination(r, 20, 100)
	res, err := h.Svc.List(r.Context(), page, perPage, r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": res.Items, "pagination": res.Pagination})
}

// Get handles GET /api/v1/admin/students/{sno}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sno, ok := snoParam(w, r)
	if !ok {
		return
	}
	st, err := h.Svc.Get(r.Context(), sno)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": st})
}

// Update handles PATCH /api/v1/admin/students/{sno}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	sno, ok := snoParam(w, r)
	if !ok {
		return
	}
	var in Details
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request payload", nil)
		return
	}
	st, err := h.Svc.Update(r.Context(), sno, in)
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": st})
}

// Delete handles DELETE /api/v1/admin/students/{sno}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	sno, ok := snoParam(w, r)
	if !ok {
		return
	}
	if err := h.Svc.Delete(r.Context(), sno); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func snoParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	sno, err := strconv.ParseInt(chi.URLParam(r, "sno"), 10, 64)
	if err != nil || sno <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid student number", nil)
		return 0, false
	}
	return sno, true
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case common.IsAppError(err):
		common.WriteError(w, err)
	case errors.Is(err, ErrAlreadyRegistered):
		common.JSONError(w, http.StatusConflict, "ALREADY_REGISTERED", "this payment has already been used for a registration", nil)
	default:
		payment.WriteError(w, err)
	}
}
