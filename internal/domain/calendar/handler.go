package calendar

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/studiobook/studiobook-api/internal/middleware"
	"github.com/studiobook/studiobook-api/internal/pkg/errorhandler"
	"github.com/studiobook/studiobook-api/internal/pkg/response"
	"github.com/studiobook/studiobook-api/internal/pkg/validator"
)

// Handler handles calendar account HTTP requests.
type Handler struct {
	service *Service
}

// NewHandler creates a new calendar handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Connect handles POST /calendar/accounts
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req ConnectRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(ctx, errs)
		response.ValidationError(w, errs)
		return
	}

	a, err := h.service.Connect(ctx, middleware.GetUserID(ctx), middleware.GetRole(ctx), ConnectInput{
		ResourceID:   req.ResourceID,
		CalendarID:   req.CalendarID,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		ExpiresAt:    req.ExpiresAt,
	})
	if err != nil {
		errorhandler.HandleError(ctx, w, err)
		return
	}

	response.Created(w, newAccountResponse(a))
}

// List handles GET /calendar/accounts
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accounts, err := h.service.List(ctx, middleware.GetUserID(ctx))
	if err != nil {
		errorhandler.HandleError(ctx, w, err)
		return
	}

	items := make([]AccountResponse, len(accounts))
	for i, a := range accounts {
		items[i] = newAccountResponse(a)
	}
	response.List(w, items, len(items))
}

// Sync handles POST /calendar/accounts/{id}/sync
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid account ID")
		return
	}

	result, err := h.service.Sync(ctx, middleware.GetUserID(ctx), middleware.GetRole(ctx), id)
	if result == nil && err != nil {
		errorhandler.HandleError(ctx, w, err)
		return
	}

	// A failed pass is still a completed request; the error is part of the result.
	response.OK(w, result)
}

// Disconnect handles DELETE /calendar/accounts/{id}
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid account ID")
		return
	}

	if err := h.service.Disconnect(ctx, middleware.GetUserID(ctx), middleware.GetRole(ctx), id); err != nil {
		errorhandler.HandleError(ctx, w, err)
		return
	}
	response.NoContent(w)
}
