package booking

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/schedule"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/pkg/logging"
)

const maxBodyBytes = 64 << 10

// Handler exposes the booking API.
type Handler struct {
	service *Service
	logger  *logging.Logger
}

func NewHandler(service *Service, logger *logging.Logger) *Handler {
	if service == nil {
		panic("booking: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Routes returns a chi router with the booking routes, mounted under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/booking", h.Booking)
	r.Get("/reservations", h.ListByDate)
	r.Get("/availability", h.Availability)
	r.Get("/schedule", h.Schedule)
	return r
}

// Request is the body of POST /api/booking.
type Request struct {
	Type        string `json:"type"`
	DoctorID    string `json:"doctor_id,omitempty"`
	Date        string `json:"date,omitempty"`
	Time        string `json:"time,omitempty"`
	PatientID   string `json:"patient_id,omitempty"`
	PatientName string `json:"patient_name,omitempty"`
	ReserveID   string `json:"reserveId,omitempty"`
	Start       string `json:"start,omitempty"`
	End         string `json:"end,omitempty"`
}

// Booking dispatches on the request type.
// POST /api/booking
func (h *Handler) Booking(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, fail(CodeInvalidRequest, "body_too_large"))
			return
		}
		writeResult(w, fail(CodeInvalidRequest, "invalid_json"))
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case "create", "createreservation":
		res, err := h.service.CreateReservation(r.Context(), CreateRequest{
			DoctorID:    req.DoctorID,
			Date:        req.Date,
			Time:        req.Time,
			PatientID:   req.PatientID,
			PatientName: req.PatientName,
			ReserveID:   req.ReserveID,
		})
		h.respond(w, res, err)
	case "update", "updatereservation":
		res, err := h.service.UpdateReservation(r.Context(), UpdateRequest{ReserveID: req.ReserveID, Date: req.Date, Time: req.Time})
		h.respond(w, res, err)
	case "cancel", "cancelreservation":
		res, err := h.service.CancelReservation(r.Context(), req.ReserveID)
		h.respond(w, res, err)
	case "list_by_date", "listbydate":
		h.writeListByDate(w, r, req.Date)
	case "list_range", "listrange":
		h.writeRange(w, r, req.Start, req.End, req.DoctorID)
	case "schedule":
		h.writeSchedule(w, r, req.DoctorID, req.Date)
	default:
		writeResult(w, fail(CodeInvalidRequest, "unknown_type"))
	}
}

// ListByDate returns the active reservations for a date.
// GET /api/reservations?date=YYYY-MM-DD
func (h *Handler) ListByDate(w http.ResponseWriter, r *http.Request) {
	h.writeListByDate(w, r, r.URL.Query().Get("date"))
}

// Availability returns slot counts and day schedules for a range.
// GET /api/availability?start=&end=&doctor_id=
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.writeRange(w, r, q.Get("start"), q.Get("end"), q.Get("doctor_id"))
}

// Schedule returns the effective schedule for one date.
// GET /api/schedule?date=&doctor_id=
func (h *Handler) Schedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.writeSchedule(w, r, q.Get("doctor_id"), q.Get("date"))
}

func (h *Handler) writeListByDate(w http.ResponseWriter, r *http.Request, date string) {
	rows, err := h.service.ListByDate(r.Context(), date)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"date":         strings.TrimSpace(date),
		"reservations": rows,
		"count":        len(rows),
	})
}

func (h *Handler) writeRange(w http.ResponseWriter, r *http.Request, start, end, doctorID string) {
	res, err := h.service.ListRange(r.Context(), start, end, doctorID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		RangeResult
	}{OK: true, RangeResult: res})
}

func (h *Handler) writeSchedule(w http.ResponseWriter, r *http.Request, doctorID, date string) {
	eff, err := h.service.EffectiveSchedule(r.Context(), doctorID, date)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		schedule.EffectiveSchedule
		Slots []string `json:"slots"`
	}{OK: true, EffectiveSchedule: eff, Slots: eff.Slots()})
}

func (h *Handler) respond(w http.ResponseWriter, res Result, err error) {
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeResult(w, res)
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidInput) {
		writeResult(w, fail(CodeInvalidRequest, err.Error()))
		return
	}
	if errors.Is(err, schedule.ErrConfiguration) {
		h.logger.Error("booking configuration error", "error", err)
	} else {
		h.logger.Error("booking request failed", "error", err)
	}
	writeResult(w, fail(CodeInternal, ""))
}

// StatusFor maps a result to its HTTP status.
func StatusFor(res Result) int {
	if res.OK {
		return http.StatusOK
	}
	switch res.Error {
	case CodePatientIDRequired, CodeInvalidRequest, CodeOutsideHours, CodeInvalidSlot, CodeInvalidTime:
		return http.StatusBadRequest
	case CodeAlreadyReserved, CodeSlotFull, CodeClosed, CodeWeeklyClosed, CodeMissingHours:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeLockTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, res Result) {
	writeJSON(w, StatusFor(res), res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
