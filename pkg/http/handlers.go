package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"qr-scheduler/pkg/layout"
	"qr-scheduler/pkg/logging"
	"qr-scheduler/pkg/security"
	"qr-scheduler/pkg/service"
	"qr-scheduler/pkg/storage"
	"qr-scheduler/pkg/trigger"

	"github.com/go-chi/chi/v5"
)

type HandlerConfig struct {
	DefaultLandingURL string
	PinCookieMaxAge   int // seconds
	// PinGrantSecret signs unlock cookies. Empty means a per-process secret.
	PinGrantSecret string
	// PinAttemptsPerMinute limits PIN guesses per client IP; 0 disables it.
	PinAttemptsPerMinute int
	PinAttemptBurst      int
	// TrustedProxies lists the CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string
}

type Handler struct {
	svc      *service.SchedulerService
	logger   *logging.Logger
	csrf     *security.TokenManager
	unlocks  *security.GrantSigner
	attempts *security.AttemptLimiter
	clientIP *security.ClientIP
	cfg      HandlerConfig
}

func NewHandler(svc *service.SchedulerService, logger *logging.Logger, cfg HandlerConfig) (*Handler, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.PinCookieMaxAge <= 0 {
		cfg.PinCookieMaxAge = 3600
	}
	unlocks, err := security.NewGrantSigner([]byte(cfg.PinGrantSecret), time.Duration(cfg.PinCookieMaxAge)*time.Second)
	if err != nil {
		return nil, err
	}
	clientIP, err := security.NewClientIP(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}
	h := &Handler{
		svc:      svc,
		logger:   logger,
		csrf:     security.NewCSRFTokenManager(),
		unlocks:  unlocks,
		clientIP: clientIP,
		cfg:      cfg,
	}
	if cfg.PinAttemptsPerMinute > 0 {
		h.attempts = security.NewAttemptLimiter(cfg.PinAttemptsPerMinute, cfg.PinAttemptBurst)
	}
	return h, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrValidation),
		errors.Is(err, service.ErrMissingCount),
		errors.Is(err, service.ErrUnknownTimezone),
		errors.Is(err, trigger.ErrUnknownEvent),
		errors.Is(err, layout.ErrInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrVersionConflict),
		errors.Is(err, storage.ErrAlreadyExists),
		errors.Is(err, service.ErrOverlappingWindow):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &storage.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func (h *Handler) ListDestinations(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.ListDestinations(r.Context(), chi.URLParam(r, "qrId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) CreateDestination(w http.ResponseWriter, r *http.Request) {
	var req service.CreateDestinationRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.svc.CreateDestination(r.Context(), chi.URLParam(r, "qrId"), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// ActiveDestination resolves the QR at ?at= (RFC 3339) or at the current time.
func (h *Handler) ActiveDestination(w http.ResponseWriter, r *http.Request) {
	at := h.svc.Now()
	if v := r.URL.Query().Get("at"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.writeError(w, r, &storage.ValidationError{Field: "at", Reason: "must be an RFC 3339 timestamp"})
			return
		}
		at = t
	}
	res, err := h.svc.ResolveActiveDestination(r.Context(), chi.URLParam(r, "qrId"), at)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Calendar lays out the week containing ?week=YYYY-MM-DD (default today) in
// ?tz= (default UTC).
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	tz := r.URL.Query().Get("tz")
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		h.writeError(w, r, service.ErrUnknownTimezone)
		return
	}
	weekStart := h.svc.Now().In(loc)
	if v := r.URL.Query().Get("week"); v != "" {
		weekStart, err = time.ParseInLocation("2006-01-02", v, loc)
		if err != nil {
			h.writeError(w, r, &storage.ValidationError{Field: "week", Reason: "must be YYYY-MM-DD"})
			return
		}
	}
	week, err := h.svc.LayoutWeek(r.Context(), chi.URLParam(r, "qrId"), weekStart, tz)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, week)
}

func (h *Handler) GetDestination(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetDestination(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) UpdateDestination(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateDestinationRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	d, err := h.svc.UpdateDestination(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) DeleteDestination(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDestination(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := h.svc.ListTriggers(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if triggers == nil {
		triggers = []storage.Trigger{}
	}
	writeJSON(w, http.StatusOK, triggers)
}

func (h *Handler) CreateTrigger(w http.ResponseWriter, r *http.Request) {
	var req service.CreateTriggerRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	t, err := h.svc.CreateTrigger(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) DeleteTrigger(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTrigger(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ResetTrigger(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.ResetTrigger(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type fireEventRequest struct {
	Kind  storage.TriggerKind `json:"kind"`
	Count *int64              `json:"count,omitempty"`
}

type actionsResponse struct {
	Actions []trigger.AppliedAction `json:"actions"`
}

func (h *Handler) FireEvent(w http.ResponseWriter, r *http.Request) {
	var req fireEventRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	actions, err := h.svc.FireEvent(r.Context(), chi.URLParam(r, "id"), req.Kind, req.Count)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeActions(w, actions)
}

func (h *Handler) CompleteDestination(w http.ResponseWriter, r *http.Request) {
	actions, err := h.svc.CompleteDestination(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeActions(w, actions)
}

func (h *Handler) writeActions(w http.ResponseWriter, actions []trigger.AppliedAction) {
	if actions == nil {
		actions = []trigger.AppliedAction{}
	}
	writeJSON(w, http.StatusOK, actionsResponse{Actions: actions})
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
