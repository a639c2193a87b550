package httpapi

import (
	"net/http"
	"strings"

	"medcare/token-service/internal/booking"
	"medcare/token-service/internal/models"
)

func (h *Handler) handleAppointments(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	switch r.Method {
	case http.MethodPost:
		var req booking.BookInput
		if !decodeJSON(w, r, requestID, &req) {
			return
		}
		if req.UserID == "" {
			req.UserID = strings.TrimSpace(r.Header.Get(userIDHeader))
		}
		appointment, err := h.bookings.Book(r.Context(), req)
		if err != nil {
			h.writeMappedError(w, requestID, err)
			return
		}
		writeJSON(w, http.StatusCreated, appointment)
	case http.MethodGet:
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		if userID == "" {
			userID = strings.TrimSpace(r.Header.Get(userIDHeader))
		}
		appointments, err := h.bookings.ListByUser(r.Context(), userID)
		if err != nil {
			h.writeMappedError(w, requestID, err)
			return
		}
		if appointments == nil {
			appointments = []models.Appointment{}
		}
		writeJSON(w, http.StatusOK, appointments)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleAppointment serves GET /api/appointments/{id}, GET .../{id}/progress
// and POST .../{id}/{start|complete|cancel}.
func (h *Handler) handleAppointment(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	parts := pathParts(r.URL.Path, "/api/appointments/")
	if len(parts) == 0 || len(parts) > 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	appointmentID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		appointment, err := h.bookings.Get(r.Context(), appointmentID)
		if err != nil {
			h.writeMappedError(w, requestID, err)
			return
		}
		writeJSON(w, http.StatusOK, appointment)
		return
	}

	action := parts[1]
	if action == "progress" {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		progress, err := h.bookings.Progress(r.Context(), appointmentID)
		if err != nil {
			h.writeMappedError(w, requestID, err)
			return
		}
		writeJSON(w, http.StatusOK, progress)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var (
		appointment models.Appointment
		err         error
	)
	switch action {
	case "start":
		appointment, err = h.bookings.Start(r.Context(), appointmentID)
	case "complete":
		appointment, err = h.bookings.Complete(r.Context(), appointmentID)
	case "cancel":
		appointment, err = h.bookings.Cancel(r.Context(), appointmentID)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, appointment)
}
