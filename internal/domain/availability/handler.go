package availability

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/studiobook/studiobook-api/internal/middleware"
	"github.com/studiobook/studiobook-api/internal/pkg/errorhandler"
	"github.com/studiobook/studiobook-api/internal/pkg/jwt"
	"github.com/studiobook/studiobook-api/internal/pkg/response"
	"github.com/studiobook/studiobook-api/internal/pkg/validator"
)

// Handler handles availability HTTP requests
type Handler struct {
	coord *Coordinator
}

// NewHandler creates availability handler
func NewHandler(coord *Coordinator) *Handler {
	return &Handler{coord: coord}
}

// GetAvailability handles GET /resources/{id}/availability?date=
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(w, r)
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")

	times, err := h.coord.FreeSlots(r.Context(), id, date)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.OK(w, AvailabilityResponse{ResourceID: id, Date: date, Times: times})
}

// Check handles POST /resources/{id}/availability/check
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(w, r)
	if !ok {
		return
	}
	req, slots, ok := decodeSpan(w, r)
	if !ok {
		return
	}

	available, err := h.coord.CheckAvailable(r.Context(), id, req.Date, slots)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.OK(w, CheckResponse{Available: available, Slots: slots})
}

// Block handles POST /resources/{id}/blocks
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(w, r)
	if !ok {
		return
	}
	req, slots, ok := decodeSpan(w, r)
	if !ok {
		return
	}
	if !h.ownsResource(w, r, id) {
		return
	}

	if err := h.coord.Reserve(r.Context(), id, req.Date, slots); err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.Created(w, BlockResponse{ResourceID: id, Date: req.Date, Slots: slots})
}

// Unblock handles DELETE /resources/{id}/blocks
func (h *Handler) Unblock(w http.ResponseWriter, r *http.Request) {
	id, ok := resourceID(w, r)
	if !ok {
		return
	}
	req, slots, ok := decodeSpan(w, r)
	if !ok {
		return
	}
	if !h.ownsResource(w, r, id) {
		return
	}

	released, err := h.coord.Unblock(r.Context(), id, req.Date, slots)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.OK(w, BlockResponse{ResourceID: id, Date: req.Date, Slots: released})
}

func (h *Handler) ownsResource(w http.ResponseWriter, r *http.Request, id uuid.UUID) bool {
	if middleware.GetRole(r.Context()) == jwt.RoleAdmin {
		return true
	}
	res, err := h.coord.Resource(r.Context(), id)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return false
	}
	if res.VendorID != middleware.GetUserID(r.Context()) {
		response.Forbidden(w, "Resource belongs to another vendor")
		return false
	}
	return true
}

func resourceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid resource ID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeSpan(w http.ResponseWriter, r *http.Request) (*SpanRequest, []string, bool) {
	var req SpanRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return nil, nil, false
	}
	if errs := validator.Validate(&req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return nil, nil, false
	}
	slots, err := req.Slots()
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return nil, nil, false
	}
	return &req, slots, true
}
