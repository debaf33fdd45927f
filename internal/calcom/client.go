// Package calcom adapts the Cal.com-style scheduling API for the agent's
// calendar tools: availability lookup, booking creation, cancellation and
// attendee-email updates.
//
// All operations are scoped to a credential resolved in a fixed order:
// tenant-specific {apiKey, eventTypeID} first, then the process-wide default,
// then "unconfigured", which yields empty/failed results, not errors, since
// a tenant without a calendar is an expected condition.
//
// Times are normalized into one fixed target timezone. Because that zone may
// observe daylight saving, the UTC offset is derived per requested date, with
// a fixed fallback offset used only when the zone database lookup fails.
package calcom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultBaseURL = "https://api.cal.com/v1"

// Credential is a per-tenant calendar configuration. TenantID is carried for
// logging only.
type Credential struct {
	APIKey      string
	EventTypeID int
	TenantID    string
}

// complete reports whether the credential can authenticate a request.
func (c Credential) complete() bool { return c.APIKey != "" && c.EventTypeID > 0 }

// Slot is one bookable opening in the target timezone. Not persisted;
// consumed immediately by the conversation layer.
type Slot struct {
	Date string `json:"date"` // 2006-01-02
	Time string `json:"time"` // 15:04
}

// BookingRequest describes one reservation attempt.
type BookingRequest struct {
	Date  string // 2006-01-02, in the target timezone
	Time  string // 15:04, in the target timezone
	Name  string
	Phone string
	Email string
}

// Booking is the outcome of a reservation attempt. The provider remains the
// system of record; no local copy of booking state is kept.
type Booking struct {
	Success    bool   `json:"success"`
	EventID    string `json:"event_id,omitempty"`
	MeetingURL string `json:"meeting_url,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Client talks to the scheduling provider. Construct with New; the zero
// value is unusable.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// Default is the global fallback credential. Nil means tenants without
	// their own configuration are unconfigured.
	Default *Credential

	// Timezone is the fixed target timezone for all slots and bookings.
	Timezone string
	// FallbackOffset (e.g. "-03:00") is used only when Timezone cannot be
	// resolved against the zone database.
	FallbackOffset string

	// MockMode returns deterministic canned data without any network call,
	// keeping the rest of the pipeline testable offline.
	MockMode bool

	// durations caches event-type length by ID for the process lifetime;
	// duration is immutable metadata of the event type, not of a booking.
	durMu     sync.Mutex
	durations map[int]int
}

// New returns a Client with production defaults. baseURL "" selects the real
// endpoint.
func New(baseURL, timezone, fallbackOffset string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timezone == "" {
		timezone = "America/Sao_Paulo"
	}
	if fallbackOffset == "" {
		fallbackOffset = "-03:00"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL:        strings.TrimRight(baseURL, "/"),
		HTTPClient:     &http.Client{Timeout: timeout},
		Timezone:       timezone,
		FallbackOffset: fallbackOffset,
		durations:      make(map[int]int),
	}
}

// credential resolves the effective credential: tenant first, then the
// global default. ok=false means "no calendar configured", an expected state.
func (c *Client) credential(tenant *Credential) (Credential, bool) {
	if tenant != nil && tenant.complete() {
		return *tenant, true
	}
	if c.Default != nil && c.Default.complete() {
		return *c.Default, true
	}
	return Credential{}, false
}

// CheckAvailability returns open slots for each requested date (2006-01-02).
// The provider API is per-day, so one query runs per date; a malformed or
// failed response for one date is logged and skipped, never aborting the
// remaining dates.
func (c *Client) CheckAvailability(ctx context.Context, dates []string, tenantCred *Credential) []Slot {
	if c.MockMode {
		return mockSlots(dates)
	}
	cred, ok := c.credential(tenantCred)
	if !ok {
		return nil
	}

	loc := c.location()
	var out []Slot
	for _, date := range dates {
		slots, err := c.slotsForDate(ctx, cred, date, loc)
		if err != nil {
			log.Warn().Str("tenant_id", cred.TenantID).Str("date", date).Err(err).
				Msg("availability lookup failed for date, skipping")
			continue
		}
		out = append(out, slots...)
	}
	return out
}

// slotsForDate queries one day's openings and normalizes them to the target
// timezone.
func (c *Client) slotsForDate(ctx context.Context, cred Credential, date string, loc *time.Location) ([]Slot, error) {
	q := url.Values{}
	q.Set("apiKey", cred.APIKey)
	q.Set("eventTypeId", fmt.Sprintf("%d", cred.EventTypeID))
	q.Set("startTime", date)
	q.Set("endTime", date)
	q.Set("timeZone", c.Timezone)

	raw, err := c.do(ctx, http.MethodGet, "/slots?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	// {"slots": {"2026-02-09": [{"time": "2026-02-09T10:00:00-03:00"}, …]}}
	var resp struct {
		Slots map[string][]struct {
			Time string `json:"time"`
		} `json:"slots"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}

	var out []Slot
	for _, day := range resp.Slots {
		for _, s := range day {
			ts, err := time.Parse(time.RFC3339, s.Time)
			if err != nil {
				log.Warn().Str("raw_time", s.Time).Msg("skipping malformed slot timestamp")
				continue
			}
			local := ts.In(loc)
			out = append(out, Slot{
				Date: local.Format("2006-01-02"),
				Time: local.Format("15:04"),
			})
		}
	}
	return out, nil
}

// CreateBooking reserves a slot. The start instant is assembled from the
// requested wall-clock date/time and the target timezone's UTC offset for
// that specific date, so bookings on either side of a DST transition land on
// the right instant.
func (c *Client) CreateBooking(ctx context.Context, req BookingRequest, tenantCred *Credential) Booking {
	if c.MockMode {
		return Booking{
			Success:    true,
			EventID:    fmt.Sprintf("mock-%s-%s", req.Date, strings.ReplaceAll(req.Time, ":", "")),
			MeetingURL: "https://meet.example.com/mock",
		}
	}
	cred, ok := c.credential(tenantCred)
	if !ok {
		return Booking{Success: false, Error: "no calendar configured"}
	}

	offset := c.OffsetForDate(req.Date)
	start := fmt.Sprintf("%sT%s:00%s", req.Date, req.Time, offset)
	startTS, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return Booking{Success: false, Error: fmt.Sprintf("invalid date/time: %v", err)}
	}

	minutes := c.eventDuration(ctx, cred)
	end := startTS.Add(time.Duration(minutes) * time.Minute).Format(time.RFC3339)

	payload := map[string]any{
		"eventTypeId": cred.EventTypeID,
		"start":       start,
		"end":         end,
		"timeZone":    c.Timezone,
		"language":    "pt",
		"responses": map[string]any{
			"name":  req.Name,
			"email": req.Email,
			"phone": req.Phone,
		},
		"metadata": map[string]any{},
	}

	raw, err := c.do(ctx, http.MethodPost, "/bookings?apiKey="+url.QueryEscape(cred.APIKey), payload)
	if err != nil {
		log.Error().Str("tenant_id", cred.TenantID).Err(err).Msg("booking creation failed")
		return Booking{Success: false, Error: err.Error()}
	}

	var resp struct {
		UID      string `json:"uid"`
		ID       int    `json:"id"`
		Location string `json:"location"`
		MeetURL  string `json:"meetingUrl"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Booking{Success: false, Error: "unreadable provider response"}
	}
	eventID := resp.UID
	if eventID == "" {
		eventID = fmt.Sprintf("%d", resp.ID)
	}
	meetingURL := resp.MeetURL
	if meetingURL == "" {
		meetingURL = resp.Location
	}
	return Booking{Success: true, EventID: eventID, MeetingURL: meetingURL}
}

// CancelBooking cancels a reservation. Idempotent from the caller's side:
// cancelling an already-settled booking returns false without an error.
func (c *Client) CancelBooking(ctx context.Context, eventID string, tenantCred *Credential) bool {
	if c.MockMode {
		return true
	}
	cred, ok := c.credential(tenantCred)
	if !ok {
		return false
	}
	path := fmt.Sprintf("/bookings/%s/cancel?apiKey=%s", url.PathEscape(eventID), url.QueryEscape(cred.APIKey))
	if _, err := c.do(ctx, http.MethodDelete, path, nil); err != nil {
		log.Warn().Str("event_id", eventID).Err(err).Msg("cancel booking failed or already settled")
		return false
	}
	return true
}

// UpdateBookingEmail patches the attendee email on an existing booking.
// Same idempotent boolean contract as CancelBooking.
func (c *Client) UpdateBookingEmail(ctx context.Context, eventID, email string, tenantCred *Credential) bool {
	if c.MockMode {
		return true
	}
	cred, ok := c.credential(tenantCred)
	if !ok {
		return false
	}
	path := fmt.Sprintf("/bookings/%s?apiKey=%s", url.PathEscape(eventID), url.QueryEscape(cred.APIKey))
	payload := map[string]any{
		"responses": map[string]any{"email": email},
	}
	if _, err := c.do(ctx, http.MethodPatch, path, payload); err != nil {
		log.Warn().Str("event_id", eventID).Err(err).Msg("booking email update failed")
		return false
	}
	return true
}

// eventDuration resolves the event type's length in minutes, caching it for
// the process lifetime. Falls back to 30 minutes when the lookup fails; the
// provider still enforces the real length server-side.
func (c *Client) eventDuration(ctx context.Context, cred Credential) int {
	c.durMu.Lock()
	if d, ok := c.durations[cred.EventTypeID]; ok {
		c.durMu.Unlock()
		return d
	}
	c.durMu.Unlock()

	raw, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("/event-types/%d?apiKey=%s", cred.EventTypeID, url.QueryEscape(cred.APIKey)), nil)
	if err != nil {
		log.Warn().Int("event_type_id", cred.EventTypeID).Err(err).Msg("event type lookup failed, assuming 30m")
		return 30
	}
	var resp struct {
		EventType struct {
			Length int `json:"length"`
		} `json:"event_type"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.EventType.Length <= 0 {
		return 30
	}

	c.durMu.Lock()
	c.durations[cred.EventTypeID] = resp.EventType.Length
	c.durMu.Unlock()
	return resp.EventType.Length
}

// OffsetForDate computes the target timezone's UTC offset (±HH:MM) at noon
// of the given date. Noon avoids the ambiguous hours around a DST switch.
// The fixed FallbackOffset is used only when the zone cannot be loaded.
func (c *Client) OffsetForDate(date string) string {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return c.FallbackOffset
	}
	day, err := time.ParseInLocation("2006-01-02", date, loc)
	if err != nil {
		return c.FallbackOffset
	}
	_, seconds := day.Add(12 * time.Hour).Zone()
	sign := "+"
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%02d:%02d", sign, seconds/3600, (seconds%3600)/60)
}

// location loads the target timezone, falling back to UTC so slot
// normalization stays functional even on hosts without tzdata.
func (c *Client) location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		log.Warn().Str("timezone", c.Timezone).Err(err).Msg("zone lookup failed, normalizing to UTC")
		return time.UTC
	}
	return loc
}

// do issues one provider request with a JSON body and returns the raw
// response body, surfacing non-2xx responses as errors with the body text.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return nil, err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("calendar api error: status=%d body=%s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

// mockSlots returns two deterministic openings per requested date.
func mockSlots(dates []string) []Slot {
	out := make([]Slot, 0, 2*len(dates))
	for _, d := range dates {
		out = append(out, Slot{Date: d, Time: "10:00"}, Slot{Date: d, Time: "14:30"})
	}
	return out
}
