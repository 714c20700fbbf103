package schedule

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nonamebeautyonline-spec/em-clinic-sub005/internal/datetime"
	"github.com/nonamebeautyonline-spec/em-clinic-sub005/pkg/logging"
)

// AdminHandler exposes rule administration. Mounted behind admin auth.
type AdminHandler struct {
	store    Store
	resolver *Resolver
	logger   *logging.Logger
}

// NewAdminHandler creates the rule admin HTTP handler.
func NewAdminHandler(store Store, resolver *Resolver, logger *logging.Logger) *AdminHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{store: store, resolver: resolver, logger: logger}
}

// Routes returns a chi router with rule admin routes.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{doctorID}/weekly/{weekday}", h.GetWeekly)
	r.Put("/{doctorID}/weekly/{weekday}", h.PutWeekly)
	r.Delete("/{doctorID}/weekly/{weekday}", h.DisableWeekly)
	r.Get("/{doctorID}/overrides", h.ListOverrides)
	r.Post("/{doctorID}/overrides", h.AppendOverride)
	r.Get("/{doctorID}/schedule", h.GetSchedule)
	return r
}

// WeeklyRuleRequest is the body for PUT /admin/doctors/{doctorID}/weekly/{weekday}.
type WeeklyRuleRequest struct {
	Enabled     *bool  `json:"enabled,omitempty"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	SlotMinutes int    `json:"slot_minutes"`
	Capacity    int    `json:"capacity"`
}

// OverrideRequest is the body for POST /admin/doctors/{doctorID}/overrides.
type OverrideRequest struct {
	Date        string  `json:"date"`
	Type        string  `json:"type"`
	StartTime   *string `json:"start_time,omitempty"`
	EndTime     *string `json:"end_time,omitempty"`
	SlotMinutes *int    `json:"slot_minutes,omitempty"`
	Capacity    *int    `json:"capacity,omitempty"`
}

// GetWeekly returns the stored weekly rule.
// GET /admin/doctors/{doctorID}/weekly/{weekday}
func (h *AdminHandler) GetWeekly(w http.ResponseWriter, r *http.Request) {
	doctorID, weekday, ok := h.weeklyParams(w, r)
	if !ok {
		return
	}
	rule, err := h.store.WeeklyRule(r.Context(), doctorID, weekday)
	if err != nil {
		h.logger.Error("failed to load weekly rule", "doctor_id", doctorID, "weekday", int(weekday), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if rule == nil {
		writeError(w, http.StatusNotFound, "weekly rule not found")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

// PutWeekly creates or replaces a weekly rule.
// PUT /admin/doctors/{doctorID}/weekly/{weekday}
func (h *AdminHandler) PutWeekly(w http.ResponseWriter, r *http.Request) {
	doctorID, weekday, ok := h.weeklyParams(w, r)
	if !ok {
		return
	}
	var req WeeklyRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rule := WeeklyRule{
		DoctorID:    doctorID,
		Weekday:     weekday,
		Enabled:     req.Enabled == nil || *req.Enabled,
		StartTime:   datetime.NormalizeTime(req.StartTime),
		EndTime:     datetime.NormalizeTime(req.EndTime),
		SlotMinutes: req.SlotMinutes,
		Capacity:    req.Capacity,
	}
	if msg := validateWeekly(rule); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err := h.store.UpsertWeeklyRule(r.Context(), rule); err != nil {
		h.logger.Error("failed to save weekly rule", "doctor_id", doctorID, "weekday", int(weekday), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save weekly rule")
		return
	}
	h.logger.Info("weekly rule updated", "doctor_id", doctorID, "weekday", int(weekday), "enabled", rule.Enabled)
	writeJSON(w, http.StatusOK, rule)
}

// DisableWeekly turns a weekday off. Rules are never deleted.
// DELETE /admin/doctors/{doctorID}/weekly/{weekday}
func (h *AdminHandler) DisableWeekly(w http.ResponseWriter, r *http.Request) {
	doctorID, weekday, ok := h.weeklyParams(w, r)
	if !ok {
		return
	}
	if err := h.store.SetWeeklyEnabled(r.Context(), doctorID, weekday, false); err != nil {
		h.logger.Error("failed to disable weekly rule", "doctor_id", doctorID, "weekday", int(weekday), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to disable weekly rule")
		return
	}
	h.logger.Info("weekly rule disabled", "doctor_id", doctorID, "weekday", int(weekday))
	w.WriteHeader(http.StatusNoContent)
}

// ListOverrides returns the full override log for a doctor, oldest first.
// GET /admin/doctors/{doctorID}/overrides
func (h *AdminHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "doctorID")
	rows, err := h.store.DateOverrides(r.Context(), doctorID)
	if err != nil {
		h.logger.Error("failed to list overrides", "doctor_id", doctorID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if rows == nil {
		rows = []DateOverride{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"overrides": rows,
		"count":     len(rows),
	})
}

// AppendOverride appends an override row. Earlier rows for the same date stay in the log.
// POST /admin/doctors/{doctorID}/overrides
func (h *AdminHandler) AppendOverride(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "doctorID")
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	override := DateOverride{
		DoctorID:    doctorID,
		Date:        datetime.NormalizeDate(req.Date),
		Type:        ParseOverrideType(req.Type),
		StartTime:   normalizeOptionalClock(req.StartTime),
		EndTime:     normalizeOptionalClock(req.EndTime),
		SlotMinutes: req.SlotMinutes,
		Capacity:    req.Capacity,
	}
	if msg := validateOverride(override); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	saved, err := h.store.AppendOverride(r.Context(), override)
	if err != nil {
		h.logger.Error("failed to append override", "doctor_id", doctorID, "date", override.Date, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save override")
		return
	}
	h.logger.Info("date override appended", "doctor_id", doctorID, "date", saved.Date, "type", saved.Type, "seq", saved.Seq)
	writeJSON(w, http.StatusCreated, saved)
}

// GetSchedule returns the effective schedule for a date.
// GET /admin/doctors/{doctorID}/schedule?date=YYYY-MM-DD
func (h *AdminHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	doctorID := chi.URLParam(r, "doctorID")
	date := datetime.NormalizeDate(r.URL.Query().Get("date"))
	eff, err := h.resolver.Resolve(r.Context(), doctorID, date)
	if errors.Is(err, ErrInvalidDate) {
		writeError(w, http.StatusBadRequest, "invalid date")
		return
	}
	if err != nil {
		h.logger.Error("failed to resolve schedule", "doctor_id", doctorID, "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, eff)
}

func (h *AdminHandler) weeklyParams(w http.ResponseWriter, r *http.Request) (string, time.Weekday, bool) {
	doctorID := strings.TrimSpace(chi.URLParam(r, "doctorID"))
	if doctorID == "" {
		writeError(w, http.StatusBadRequest, "doctor_id required")
		return "", 0, false
	}
	n, err := strconv.Atoi(chi.URLParam(r, "weekday"))
	if err != nil || n < 0 || n > 6 {
		writeError(w, http.StatusBadRequest, "weekday must be 0-6")
		return "", 0, false
	}
	return doctorID, time.Weekday(n), true
}

func validateWeekly(rule WeeklyRule) string {
	if rule.SlotMinutes < 0 || rule.Capacity < 0 {
		return "slot_minutes and capacity must not be negative"
	}
	if rule.StartTime == "" && rule.EndTime == "" {
		return ""
	}
	start, ok := datetime.ClockMinutes(rule.StartTime)
	if !ok {
		return "invalid start_time"
	}
	end, ok := datetime.ClockMinutes(rule.EndTime)
	if !ok {
		return "invalid end_time"
	}
	if end <= start {
		return "end_time must be after start_time"
	}
	return ""
}

func validateOverride(o DateOverride) string {
	if _, ok := datetime.ParseDate(o.Date); !ok {
		return "invalid date"
	}
	switch o.Type {
	case OverrideOpen, OverrideModify, OverrideClosed:
	default:
		return "type must be open, modify or closed"
	}
	for _, p := range []*string{o.StartTime, o.EndTime} {
		if p == nil {
			continue
		}
		if _, ok := datetime.ClockMinutes(*p); !ok {
			return "invalid time"
		}
	}
	if o.SlotMinutes != nil && *o.SlotMinutes <= 0 {
		return "slot_minutes must be positive"
	}
	if o.Capacity != nil && *o.Capacity < 0 {
		return "capacity must not be negative"
	}
	return ""
}

func normalizeOptionalClock(p *string) *string {
	if p == nil {
		return nil
	}
	v := datetime.NormalizeTime(*p)
	if v == "" {
		return nil
	}
	return &v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
