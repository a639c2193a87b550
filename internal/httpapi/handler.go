package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"medcare/token-service/internal/booking"
	"medcare/token-service/internal/models"
	"medcare/token-service/internal/queue"
	"medcare/token-service/internal/store"

	"go.uber.org/zap"
)

type TokenAllocator interface {
	Allocate(ctx context.Context, key models.QueueKey, openTime string) (queue.Allocation, error)
}

type QueueTracker interface {
	GetState(ctx context.Context, key models.QueueKey) (models.QueueState, error)
	Advance(ctx context.Context, key models.QueueKey) (models.QueueState, error)
}

type Bookings interface {
	Book(ctx context.Context, input booking.BookInput) (models.Appointment, error)
	Get(ctx context.Context, appointmentID string) (models.Appointment, error)
	ListByUser(ctx context.Context, userID string) ([]models.Appointment, error)
	Start(ctx context.Context, appointmentID string) (models.Appointment, error)
	Complete(ctx context.Context, appointmentID string) (models.Appointment, error)
	Cancel(ctx context.Context, appointmentID string) (models.Appointment, error)
	Progress(ctx context.Context, appointmentID string) (booking.AppointmentProgress, error)
}

type Handler struct {
	allocator TokenAllocator
	tracker   QueueTracker
	bookings  Bookings
	directory store.DirectoryStore
	logger    *zap.Logger
}

type Dependencies struct {
	Allocator TokenAllocator
	Tracker   QueueTracker
	Bookings  Bookings
	Directory store.DirectoryStore
	Logger    *zap.Logger
}

type allocateRequest struct {
	DoctorID string `json:"doctor_id"`
	ClinicID string `json:"clinic_id"`
	OpenTime string `json:"open_time"`
}

type queueRequest struct {
	DoctorID string `json:"doctor_id"`
	ClinicID string `json:"clinic_id"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(deps Dependencies) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		allocator: deps.Allocator,
		tracker:   deps.Tracker,
		bookings:  deps.Bookings,
		directory: deps.Directory,
		logger:    logger,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tokens", h.handleTokens)
	mux.HandleFunc("/api/queues", h.handleQueue)
	mux.HandleFunc("/api/queues/advance", h.handleAdvance)
	mux.HandleFunc("/api/clinics", h.handleClinics)
	mux.HandleFunc("/api/clinics/", h.handleClinic)
	mux.HandleFunc("/api/doctors/", h.handleDoctor)
	mux.HandleFunc("/api/appointments", h.handleAppointments)
	mux.HandleFunc("/api/appointments/", h.handleAppointment)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTokens(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFrom(r)

	var req allocateRequest
	if !decodeJSON(w, r, requestID, &req) {
		return
	}
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	req.ClinicID = strings.TrimSpace(req.ClinicID)
	req.OpenTime = strings.TrimSpace(req.OpenTime)
	if req.DoctorID == "" || req.ClinicID == "" || req.OpenTime == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "doctor_id, clinic_id, and open_time are required")
		return
	}

	allocation, err := h.allocator.Allocate(r.Context(), models.QueueKey{DoctorID: req.DoctorID, ClinicID: req.ClinicID}, req.OpenTime)
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, allocation)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFrom(r)

	key := models.QueueKey{
		DoctorID: strings.TrimSpace(r.URL.Query().Get("doctor_id")),
		ClinicID: strings.TrimSpace(r.URL.Query().Get("clinic_id")),
	}
	if key.DoctorID == "" || key.ClinicID == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "doctor_id and clinic_id are required")
		return
	}

	state, err := h.tracker.GetState(r.Context(), key)
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFrom(r)

	var req queueRequest
	if !decodeJSON(w, r, requestID, &req) {
		return
	}
	key := models.QueueKey{DoctorID: strings.TrimSpace(req.DoctorID), ClinicID: strings.TrimSpace(req.ClinicID)}
	if key.DoctorID == "" || key.ClinicID == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "doctor_id and clinic_id are required")
		return
	}

	state, err := h.tracker.Advance(r.Context(), key)
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleClinics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	clinics, err := h.directory.ListClinics(r.Context())
	if err != nil {
		h.writeMappedError(w, requestIDFrom(r), err)
		return
	}
	if clinics == nil {
		clinics = []models.Clinic{}
	}
	writeJSON(w, http.StatusOK, clinics)
}

// handleClinic serves /api/clinics/{id} and /api/clinics/{id}/doctors.
func (h *Handler) handleClinic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFrom(r)
	parts := pathParts(r.URL.Path, "/api/clinics/")

	switch {
	case len(parts) == 1:
		clinic, err := h.directory.GetClinic(r.Context(), parts[0])
		if err != nil {
			h.writeMappedError(w, requestID, err)
			return
		}
		writeJSON(w, http.StatusOK, clinic)
	case len(parts) == 2 && parts[1] == "doctors":
		if _, err := h.directory.GetClinic(r.Context(), parts[0]); err != nil {
			h.writeMappedError(w, requestID, err)
			return
		}
		doctors, err := h.directory.ListDoctors(r.Context(), parts[0])
		if err != nil {
			h.writeMappedError(w, requestID, err)
			return
		}
		if doctors == nil {
			doctors = []models.Doctor{}
		}
		writeJSON(w, http.StatusOK, doctors)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleDoctor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	parts := pathParts(r.URL.Path, "/api/doctors/")
	if len(parts) != 1 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	doctor, err := h.directory.GetDoctor(r.Context(), parts[0])
	if err != nil {
		h.writeMappedError(w, requestIDFrom(r), err)
		return
	}
	writeJSON(w, http.StatusOK, doctor)
}

func (h *Handler) writeMappedError(w http.ResponseWriter, requestID string, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("request_id", requestID), zap.String("code", code), zap.Error(err))
	}
	writeError(w, requestID, status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrInvalidOpenTime):
		return http.StatusBadRequest, "invalid_open_time", "open_time must be HH:MM between 00:00 and 23:59"
	case errors.Is(err, queue.ErrInvalidQueueKey):
		return http.StatusBadRequest, "invalid_request", "doctor_id and clinic_id are required"
	case errors.Is(err, booking.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrQueueNotFound):
		return http.StatusNotFound, "queue_not_found", "queue not found"
	case errors.Is(err, store.ErrDoctorNotFound):
		return http.StatusNotFound, "doctor_not_found", "doctor not found"
	case errors.Is(err, store.ErrClinicNotFound):
		return http.StatusNotFound, "clinic_not_found", "clinic not found"
	case errors.Is(err, store.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found", "appointment not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "appointment state does not allow this action"
	case errors.Is(err, store.ErrBackendUnavailable):
		return http.StatusServiceUnavailable, "backend_unavailable", "queue backend unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, requestID string, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, requestID, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
			return false
		}
		writeError(w, requestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func pathParts(path, prefix string) []string {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func requestIDFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(requestIDHeader))
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
