package http

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"

	"qr-scheduler/pkg/security"
	"qr-scheduler/pkg/service"
	"qr-scheduler/pkg/storage"

	"github.com/go-chi/chi/v5"
)

var pinForm = template.Must(template.New("pin").Parse(`<html>
<head><title>PIN Required</title></head>
<body>
<h2>Enter the PIN to continue</h2>
{{if .Error}}<p>{{.Error}}</p>{{end}}
<form method="post" action="/q/{{.QRID}}/pin">
<input type="hidden" name="csrf_token" value="{{.CSRFToken}}">
<input type="hidden" name="destination_id" value="{{.DestinationID}}">
<label>PIN: <input type="password" name="pin" inputmode="numeric" required></label>
<input type="submit" value="Submit">
</form>
</body>
</html>`))

type pinFormData struct {
	QRID          string
	DestinationID string
	CSRFToken     string
	Error         string
}

func pinCookieName(destinationID string) string {
	return "qr_pin_" + destinationID
}

// Redirect resolves the scanned QR and sends the visitor to whatever is live.
// Only scans that reach a destination are counted.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	qrID := chi.URLParam(r, "qrId")
	now := h.svc.Now()

	res, err := h.svc.ResolveActiveDestination(ctx, qrID, now)
	if err != nil {
		h.logger.Error(ctx, "resolve failed", "qr_id", qrID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !res.Found() {
		http.Redirect(w, r, h.cfg.DefaultLandingURL, http.StatusFound)
		return
	}

	d := res.Destination
	if res.Locked && !h.unlocked(r, d.ID) {
		h.renderPinForm(w, r, http.StatusOK, qrID, d.ID, "")
		return
	}

	if _, err := h.svc.RecordScan(ctx, d, now); err != nil {
		// The visitor still gets the content.
		h.logger.Warn(ctx, "recording scan failed", "qr_id", qrID, "destination_id", d.ID, "error", err)
	}
	http.Redirect(w, r, h.targetFor(d), http.StatusFound)
}

// targetFor sends hosted content types to the landing page with the
// destination as a query parameter.
func (h *Handler) targetFor(d *storage.Destination) string {
	if d.TargetURL != nil && *d.TargetURL != "" {
		return *d.TargetURL
	}
	u, err := url.Parse(h.cfg.DefaultLandingURL)
	if err != nil {
		return h.cfg.DefaultLandingURL
	}
	q := u.Query()
	q.Set("destination", d.ID)
	u.RawQuery = q.Encode()
	return u.String()
}

func (h *Handler) unlocked(r *http.Request, destinationID string) bool {
	session, err := r.Cookie(security.SessionCookieName)
	if err != nil || session.Value == "" {
		return false
	}
	grant, err := r.Cookie(pinCookieName(destinationID))
	if err != nil {
		return false
	}
	return h.unlocks.Verify(grant.Value, session.Value, destinationID) == nil
}

func (h *Handler) renderPinForm(w http.ResponseWriter, r *http.Request, status int, qrID, destinationID, msg string) {
	sessionID := security.GetOrCreateSessionID(w, r)
	token, err := h.csrf.GenerateToken(sessionID)
	if err != nil {
		h.logger.Error(r.Context(), "csrf token generation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	pinForm.Execute(w, pinFormData{QRID: qrID, DestinationID: destinationID, CSRFToken: token, Error: msg})
}

// VerifyPin handles the PIN form. CSRF is checked by middleware.
func (h *Handler) VerifyPin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	qrID := chi.URLParam(r, "qrId")
	destinationID := r.FormValue("destination_id")

	d, err := h.svc.GetDestination(ctx, destinationID)
	if err != nil || d.QRID != qrID {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	err = h.svc.VerifyPin(ctx, d.ID, r.FormValue("pin"))
	switch {
	case errors.Is(err, service.ErrInvalidPin):
		h.renderPinForm(w, r, http.StatusUnauthorized, qrID, d.ID, "Wrong PIN, try again.")
		return
	case errors.Is(err, service.ErrNoPin):
		http.Redirect(w, r, "/q/"+qrID, http.StatusSeeOther)
		return
	case err != nil:
		h.logger.Error(ctx, "pin verification failed", "destination_id", d.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	sessionID := security.GetOrCreateSessionID(w, r)
	grant, err := h.unlocks.Issue(sessionID, d.ID)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.csrf.InvalidateToken(sessionID)
	http.SetCookie(w, &http.Cookie{
		Name:     pinCookieName(d.ID),
		Value:    grant,
		Path:     "/q/" + qrID,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   h.cfg.PinCookieMaxAge,
	})
	http.Redirect(w, r, "/q/"+qrID, http.StatusSeeOther)
}
