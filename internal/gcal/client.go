// Package gcal wraps the Google Calendar v3 REST endpoints the broker exposes
// and the OAuth refresh_token grant used to keep access tokens fresh.
package gcal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultBaseURL  = "https://www.googleapis.com/calendar/v3"
	DefaultTokenURL = "https://oauth2.googleapis.com/token"
)

// APIError is a non-2xx reply from Google.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google api status %d: %s", e.Status, e.Body)
}

// Client calls the Calendar API with a caller-supplied access token.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// ── Options ──────────────────────────────────────────────────

// ListCalendarsOptions maps to calendarList.list query parameters.
type ListCalendarsOptions struct {
	MaxResults    *int
	PageToken     string
	MinAccessRole string
	Fields        string
}

func (o ListCalendarsOptions) query() url.Values {
	q := url.Values{}
	setInt(q, "maxResults", o.MaxResults)
	setStr(q, "pageToken", o.PageToken)
	setStr(q, "minAccessRole", o.MinAccessRole)
	setStr(q, "fields", o.Fields)
	return q
}

// ListEventsOptions maps to events.list query parameters.
type ListEventsOptions struct {
	MaxResults   *int
	PageToken    string
	TimeMin      string
	TimeMax      string
	OrderBy      string
	SingleEvents *bool
	Q            string
	ShowDeleted  *bool
	TimeZone     string
	Fields       string
}

func (o ListEventsOptions) query() url.Values {
	q := url.Values{}
	setInt(q, "maxResults", o.MaxResults)
	setStr(q, "pageToken", o.PageToken)
	setStr(q, "timeMin", o.TimeMin)
	setStr(q, "timeMax", o.TimeMax)
	setStr(q, "orderBy", o.OrderBy)
	setBool(q, "singleEvents", o.SingleEvents)
	setStr(q, "q", o.Q)
	setBool(q, "showDeleted", o.ShowDeleted)
	setStr(q, "timeZone", o.TimeZone)
	setStr(q, "fields", o.Fields)
	return q
}

// ── Operations ───────────────────────────────────────────────

func (c *Client) ListCalendars(ctx context.Context, token string, opts ListCalendarsOptions) (map[string]any, error) {
	return c.call(ctx, http.MethodGet, "/users/me/calendarList", token, opts.query(), nil)
}

func (c *Client) ListEvents(ctx context.Context, token, calendarID string, opts ListEventsOptions) (map[string]any, error) {
	return c.call(ctx, http.MethodGet, eventsPath(calendarID), token, opts.query(), nil)
}

func (c *Client) GetEvent(ctx context.Context, token, calendarID, eventID, fields string) (map[string]any, error) {
	q := url.Values{}
	setStr(q, "fields", fields)
	return c.call(ctx, http.MethodGet, eventPath(calendarID, eventID), token, q, nil)
}

func (c *Client) CreateEvent(ctx context.Context, token, calendarID string, event map[string]any) (map[string]any, error) {
	return c.call(ctx, http.MethodPost, eventsPath(calendarID), token, nil, event)
}

// UpdateEvent applies a partial update (PATCH).
func (c *Client) UpdateEvent(ctx context.Context, token, calendarID, eventID string, patch map[string]any) (map[string]any, error) {
	return c.call(ctx, http.MethodPatch, eventPath(calendarID, eventID), token, nil, patch)
}

func (c *Client) DeleteEvent(ctx context.Context, token, calendarID, eventID string) (map[string]any, error) {
	if _, err := c.call(ctx, http.MethodDelete, eventPath(calendarID, eventID), token, nil, nil); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true}, nil
}

// FreeBusy queries busy intervals for one calendar.
func (c *Client) FreeBusy(ctx context.Context, token, calendarID, timeMin, timeMax, timeZone string) (map[string]any, error) {
	body := map[string]any{
		"timeMin": timeMin,
		"timeMax": timeMax,
		"items":   []map[string]string{{"id": calendarID}},
	}
	if timeZone != "" {
		body["timeZone"] = timeZone
	}
	return c.call(ctx, http.MethodPost, "/freeBusy", token, nil, body)
}

func (c *Client) call(ctx context.Context, method, path, token string, q url.Values, body any) (map[string]any, error) {
	endpoint := c.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calendar request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("calendar api")

	if resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: string(raw)}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

func eventsPath(calendarID string) string {
	return "/calendars/" + url.PathEscape(calendarID) + "/events"
}

func eventPath(calendarID, eventID string) string {
	return eventsPath(calendarID) + "/" + url.PathEscape(eventID)
}

func setStr(q url.Values, k, v string) {
	if v != "" {
		q.Set(k, v)
	}
}

func setInt(q url.Values, k string, v *int) {
	if v != nil {
		q.Set(k, strconv.Itoa(*v))
	}
}

func setBool(q url.Values, k string, v *bool) {
	if v != nil {
		q.Set(k, strconv.FormatBool(*v))
	}
}
