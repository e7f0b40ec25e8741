package reservation

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/studiobook/studiobook-api/internal/middleware"
	"github.com/studiobook/studiobook-api/internal/pkg/errorhandler"
	"github.com/studiobook/studiobook-api/internal/pkg/response"
	"github.com/studiobook/studiobook-api/internal/pkg/validator"
)

// Handler handles reservation HTTP requests.
type Handler struct {
	service *Service
}

// NewHandler creates a new reservation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create handles POST /reservations
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req CreateRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.Create(r.Context(), actor, req.input())
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.Created(w, NewReservationResponse(res))
}

// List handles GET /reservations?status=&date=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := Filter{Date: q.Get("date")}
	if status := q.Get("status"); status != "" {
		f.Statuses = []Status{Status(status)}
	}

	list, err := h.service.List(r.Context(), actor, f)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.List(w, newReservationResponses(list), len(list))
}

// Get handles GET /reservations/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := target(w, r)
	if !ok {
		return
	}

	res, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.OK(w, NewReservationResponse(res))
}

// Confirm handles POST /reservations/{id}/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := target(w, r)
	if !ok {
		return
	}

	res, err := h.service.Confirm(r.Context(), actor, id)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.OK(w, NewReservationResponse(res))
}

// ConfirmBatch handles POST /reservations/confirm-batch
func (h *Handler) ConfirmBatch(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req ConfirmBatchRequest
	if !decode(w, r, &req) {
		return
	}

	confirmed, err := h.service.ConfirmBatch(r.Context(), actor, req.ExternalOrderID)
	if err != nil && len(confirmed) == 0 {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	resp := ConfirmBatchResponse{Confirmed: newReservationResponses(confirmed)}
	if err != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(err, &joined) {
			for _, e := range joined.Unwrap() {
				resp.Errors = append(resp.Errors, e.Error())
			}
		} else {
			resp.Errors = []string{err.Error()}
		}
	}
	response.OK(w, resp)
}

// Cancel handles POST /reservations/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := target(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}

	res, err := h.service.Cancel(r.Context(), actor, id, req.Reason)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.OK(w, NewReservationResponse(res))
}

// Reject handles POST /reservations/{id}/reject
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := target(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}

	res, err := h.service.Reject(r.Context(), actor, id, req.Reason)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.OK(w, NewReservationResponse(res))
}

// Reschedule handles POST /reservations/{id}/reschedule
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := target(w, r)
	if !ok {
		return
	}
	var req RescheduleRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.service.Reschedule(r.Context(), actor, id, RescheduleInput{
		Date:      req.Date,
		StartTime: req.StartTime,
		Hours:     req.Hours,
	})
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.OK(w, NewReservationResponse(res))
}

// RescheduleOptions handles GET /reservations/{id}/reschedule-options?date=
func (h *Handler) RescheduleOptions(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := target(w, r)
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")

	times, err := h.service.RescheduleOptions(r.Context(), actor, id, date)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.OK(w, RescheduleOptionsResponse{Date: date, Times: times})
}

// Extend handles POST /reservations/{id}/extend
func (h *Handler) Extend(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := target(w, r)
	if !ok {
		return
	}

	res, err := h.service.Extend(r.Context(), actor, id)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.OK(w, NewReservationResponse(res))
}

// Shrink handles POST /reservations/{id}/shrink
func (h *Handler) Shrink(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := target(w, r)
	if !ok {
		return
	}

	res, err := h.service.Shrink(r.Context(), actor, id)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}

	response.OK(w, NewReservationResponse(res))
}

func actorFrom(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "User not authenticated")
		return Actor{}, false
	}
	return Actor{ID: userID, Role: middleware.GetRole(r.Context())}, true
}

func target(w http.ResponseWriter, r *http.Request) (Actor, uuid.UUID, bool) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return Actor{}, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "Invalid reservation ID")
		return Actor{}, uuid.Nil, false
	}
	return actor, id, true
}

func decode(w http.ResponseWriter, r *http.Request, req any) bool {
	if err := response.DecodeJSON(r.Body, req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return false
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return false
	}
	return true
}
