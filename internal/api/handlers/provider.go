package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/credbroker/broker/internal/gcal"
	"github.com/credbroker/broker/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// ══════════════════════════════════════════════════════════════
// ── Google Calendar Handlers ─────────────────────────────────
// ══════════════════════════════════════════════════════════════

// calendarToken resolves the access token for the credential in the path.
func (h *Handlers) calendarToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	credentialID := chi.URLParam(r, "credentialId")
	token, err := h.Tokens.AccessToken(r.Context(), credentialID)
	if err != nil {
		var nf *store.ErrNotFound
		if errors.As(err, &nf) {
			respondError(w, http.StatusNotFound, "token not found")
			return "", false
		}
		log.Error().Err(err).Str("credential_id", credentialID).Msg("Access token lookup failed")
		respondError(w, http.StatusBadGateway, err.Error())
		return "", false
	}
	return token, true
}

func respondCalendar(w http.ResponseWriter, out map[string]any, err error) {
	if err != nil {
		var apiErr *gcal.APIError
		if errors.As(err, &apiErr) {
			respondJSON(w, http.StatusBadGateway, map[string]any{
				"error":           "google calendar request failed",
				"upstream_status": apiErr.Status,
				"detail":          apiErr.Body,
			})
			return
		}
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, out)
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string) (*int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.New(key + " must be an integer")
	}
	return &n, nil
}

// queryBool parses an optional boolean query parameter.
func queryBool(r *http.Request, key string) (*bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, errors.New(key + " must be a boolean")
	}
	return &b, nil
}

func (h *Handlers) ListCalendars(w http.ResponseWriter, r *http.Request) {
	maxResults, err := queryInt(r, "max_results")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, ok := h.calendarToken(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	out, err := h.Calendar.ListCalendars(r.Context(), token, gcal.ListCalendarsOptions{
		MaxResults:    maxResults,
		PageToken:     q.Get("page_token"),
		MinAccessRole: q.Get("min_access_role"),
		Fields:        q.Get("fields"),
	})
	respondCalendar(w, out, err)
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	calendarID := q.Get("calendar_id")
	if calendarID == "" {
		respondError(w, http.StatusBadRequest, "calendar_id required")
		return
	}
	maxResults, err := queryInt(r, "max_results")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	singleEvents, err := queryBool(r, "single_events")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	showDeleted, err := queryBool(r, "show_deleted")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	token, ok := h.calendarToken(w, r)
	if !ok {
		return
	}
	out, err := h.Calendar.ListEvents(r.Context(), token, calendarID, gcal.ListEventsOptions{
		MaxResults:   maxResults,
		PageToken:    q.Get("page_token"),
		TimeMin:      q.Get("time_min"),
		TimeMax:      q.Get("time_max"),
		OrderBy:      q.Get("order_by"),
		SingleEvents: singleEvents,
		Q:            q.Get("q"),
		ShowDeleted:  showDeleted,
		TimeZone:     q.Get("time_zone"),
		Fields:       q.Get("fields"),
	})
	respondCalendar(w, out, err)
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	calendarID, eventID := q.Get("calendar_id"), q.Get("event_id")
	if calendarID == "" || eventID == "" {
		respondError(w, http.StatusBadRequest, "calendar_id and event_id required")
		return
	}
	token, ok := h.calendarToken(w, r)
	if !ok {
		return
	}
	out, err := h.Calendar.GetEvent(r.Context(), token, calendarID, eventID, q.Get("fields"))
	respondCalendar(w, out, err)
}

// decodePayload reads a free-form JSON object body.
func (h *Handlers) decodePayload(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	var payload map[string]any
	if err := decodeJSON(r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return nil, false
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return payload, true
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func object(m map[string]any, key string) map[string]any {
	o, _ := m[key].(map[string]any)
	if len(o) == 0 {
		return nil
	}
	return o
}

// CreateEvent takes {calendar_id, event}. Without an event object the whole
// payload is sent as the event body.
func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodePayload(w, r)
	if !ok {
		return
	}
	token, ok := h.calendarToken(w, r)
	if !ok {
		return
	}
	calendarID := str(payload, "calendar_id")
	if calendarID == "" {
		respondError(w, http.StatusBadRequest, "calendar_id required")
		return
	}
	event := object(payload, "event")
	if event == nil {
		event = payload
	}
	out, err := h.Calendar.CreateEvent(r.Context(), token, calendarID, event)
	respondCalendar(w, out, err)
}

// UpdateEvent patches with payload, falling back to event, then to {}.
func (h *Handlers) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodePayload(w, r)
	if !ok {
		return
	}
	token, ok := h.calendarToken(w, r)
	if !ok {
		return
	}
	calendarID, eventID := str(payload, "calendar_id"), str(payload, "event_id")
	if calendarID == "" || eventID == "" {
		respondError(w, http.StatusBadRequest, "calendar_id and event_id required")
		return
	}
	patch := object(payload, "payload")
	if patch == nil {
		patch = object(payload, "event")
	}
	if patch == nil {
		patch = map[string]any{}
	}
	out, err := h.Calendar.UpdateEvent(r.Context(), token, calendarID, eventID, patch)
	respondCalendar(w, out, err)
}

func (h *Handlers) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodePayload(w, r)
	if !ok {
		return
	}
	token, ok := h.calendarToken(w, r)
	if !ok {
		return
	}
	calendarID, eventID := str(payload, "calendar_id"), str(payload, "event_id")
	if calendarID == "" || eventID == "" {
		respondError(w, http.StatusBadRequest, "calendar_id and event_id required")
		return
	}
	out, err := h.Calendar.DeleteEvent(r.Context(), token, calendarID, eventID)
	respondCalendar(w, out, err)
}

func (h *Handlers) Availability(w http.ResponseWriter, r *http.Request) {
	payload, ok := h.decodePayload(w, r)
	if !ok {
		return
	}
	token, ok := h.calendarToken(w, r)
	if !ok {
		return
	}
	calendarID, timeMin, timeMax := str(payload, "calendar_id"), str(payload, "time_min"), str(payload, "time_max")
	if calendarID == "" || timeMin == "" || timeMax == "" {
		respondError(w, http.StatusBadRequest, "calendar_id, time_min, time_max required")
		return
	}
	out, err := h.Calendar.FreeBusy(r.Context(), token, calendarID, timeMin, timeMax, str(payload, "time_zone"))
	respondCalendar(w, out, err)
}

// ══════════════════════════════════════════════════════════════
// ── Gemini Handlers ──────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type generateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// GenerateText runs a plain generateContent call. The credential's stored key
// is used when present, otherwise the configured key. Model failures are
// returned in the body as {error, detail}.
func (h *Handlers) GenerateText(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	client := h.Gemini
	credentialID := chi.URLParam(r, "credentialId")
	bundle, err := h.Store.GetTokenBundle(r.Context(), credentialID)
	var nf *store.ErrNotFound
	switch {
	case err == nil && bundle.AccessToken != "":
		client = client.WithAPIKey(bundle.AccessToken)
	case err != nil && !errors.As(err, &nf):
		respondStoreError(w, err)
		return
	}

	res := client.WithModel(req.Model).Generate(r.Context(), req.Prompt)
	respondJSON(w, http.StatusOK, res.ToPlainValue())
}
