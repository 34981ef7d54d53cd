package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"slsdispatch/services/coordinator"
	"slsdispatch/services/fleet"
)

func (a *API) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req coordinator.OrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	res, err := a.coordinator.CreateOrder(r.Context(), req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, res)
}

func (a *API) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, fmt.Errorf("%w: invalid order id", fleet.ErrValidation))
		return
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	res, err := a.coordinator.GetOrder(ctx, id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

func (a *API) handleRecentOrders(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			respondError(w, http.StatusBadRequest, fmt.Errorf("%w: limit must be 1-100", fleet.ErrValidation))
			return
		}
		limit = n
	}

	ctx, cancel := withTimeout(r.Context())
	defer cancel()

	orders, err := a.coordinator.RecentOrders(ctx, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, orders)
}

func (a *API) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req coordinator.AssignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	assignment, err := a.coordinator.Assign(r.Context(), req)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "assignment": assignment})
}
