package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/booking"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

// The REST surface is the booking collaborator's: record creation and
// the narrow mutations outside the dispatch race. Acceptance is not
// exposed here; it has exactly one path, through the broker.

type createBookingRequest struct {
	RiderID       string       `json:"rider_id"`
	VehicleID     string       `json:"vehicle_id,omitempty"`
	Src           models.Coord `json:"src"`
	Dst           models.Coord `json:"dst"`
	SrcText       string       `json:"src_text,omitempty"`
	DstText       string       `json:"dst_text,omitempty"`
	Price         float64      `json:"price,omitempty"`
	IsScheduled   bool         `json:"is_scheduled"`
	ScheduledTime *time.Time   `json:"scheduled_time,omitempty"`
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.RiderID == "" || !req.Src.Valid() || !req.Dst.Valid() {
		http.Error(w, "rider_id and valid coordinates required", http.StatusBadRequest)
		return
	}
	if req.IsScheduled && req.ScheduledTime == nil {
		http.Error(w, "scheduled_time required for scheduled bookings", http.StatusBadRequest)
		return
	}
	b := &models.Booking{
		ID:            uuid.NewString(),
		RiderID:       req.RiderID,
		VehicleID:     req.VehicleID,
		Status:        models.StatusPending,
		Src:           req.Src,
		Dst:           req.Dst,
		SrcText:       req.SrcText,
		DstText:       req.DstText,
		Price:         req.Price,
		IsScheduled:   req.IsScheduled,
		ScheduledTime: req.ScheduledTime,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateBooking(r.Context(), b); err != nil {
		s.logger.Error("create booking failed", "error", err)
		http.Error(w, "could not create booking", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBooking(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b, err := s.store.GetBooking(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "booking not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	riderID := r.URL.Query().Get("rider_id")
	list, err := s.store.ListBookingsByRider(r.Context(), riderID)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleScheduledBookings(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	list, err := s.store.ListScheduledByDriver(r.Context(), driverID)
	if err != nil {
		http.Error(w, "list failed", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Status  string `json:"status"`
		ActorID string `json:"actor_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b, err := s.bookings.Transition(r.Context(), id, models.BookingStatus(req.Status), req.ActorID)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, b)
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "booking not found", http.StatusNotFound)
	case errors.Is(err, booking.ErrUnknownStatus), errors.Is(err, booking.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, booking.ErrConflict):
		http.Error(w, "booking changed concurrently", http.StatusConflict)
	default:
		s.logger.Error("status update failed", "booking_id", id, "error", err)
		http.Error(w, "status update failed", http.StatusInternalServerError)
	}
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Rating float64 `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.bookings.Rate(r.Context(), id, req.Rating); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAttachPayment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		PaymentRef string `json:"payment_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.bookings.AttachPayment(r.Context(), id, req.PaymentRef); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}
