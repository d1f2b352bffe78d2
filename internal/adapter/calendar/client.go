// Package calendar provides a thin Google Calendar v3 client.
//
// Credential refresh is delegated to oauth2: the caller supplies a refresh
// token and the TokenSource keeps the access token usable. The engine only
// ever sees "a usable client or an error".
package calendar

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

	"golang.org/x/oauth2"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// Client calls the Google Calendar events API for one user.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// OAuthConfig holds the application's Google OAuth client settings.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
}

// NewClient builds a client whose transport injects and refreshes the user's
// access token from the given refresh token.
func NewClient(cfg OAuthConfig, refreshToken string, timeout time.Duration) *Client {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: "https://oauth2.googleapis.com/token",
		},
	}
	token := &oauth2.Token{RefreshToken: refreshToken}
	httpClient := oauthCfg.Client(context.Background(), token)
	httpClient.Timeout = timeout
	return &Client{
		baseURL:    defaultBaseURL,
		httpClient: httpClient,
	}
}

// NewClientWithBaseURL builds a client against a custom endpoint with a plain
// HTTP client. Used by tests.
func NewClientWithBaseURL(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: httpClient,
	}
}

// EventDateTime is either a date (all-day) or a dateTime with timezone.
type EventDateTime struct {
	Date     string `json:"date,omitempty"`
	DateTime string `json:"dateTime,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// Attendee is an invited participant.
type Attendee struct {
	Email string `json:"email"`
}

// ReminderOverride is one notification preference.
type ReminderOverride struct {
	Method  string `json:"method"`
	Minutes int    `json:"minutes"`
}

// Reminders holds an event's notification preferences.
type Reminders struct {
	UseDefault bool               `json:"useDefault"`
	Overrides  []ReminderOverride `json:"overrides,omitempty"`
}

// Event is the Google Calendar event resource, reduced to the fields the
// assistant reads and writes.
type Event struct {
	ID          string         `json:"id,omitempty"`
	Status      string         `json:"status,omitempty"`
	HTMLLink    string         `json:"htmlLink,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	Location    string         `json:"location,omitempty"`
	Start       *EventDateTime `json:"start,omitempty"`
	End         *EventDateTime `json:"end,omitempty"`
	Attendees   []Attendee     `json:"attendees,omitempty"`
	Reminders   *Reminders     `json:"reminders,omitempty"`
	Recurrence  []string       `json:"recurrence,omitempty"`
	ColorID     string         `json:"colorId,omitempty"`
}

// EventList is the response of the events list call.
type EventList struct {
	Items         []Event `json:"items"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// InsertEvent creates an event in the given calendar.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, event *Event) (*Event, error) {
	var created Event
	path := fmt.Sprintf("/calendars/%s/events", url.PathEscape(calendarID))
	if err := c.do(ctx, http.MethodPost, path, event, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListEvents queries events in a time range, ordered by start time.
func (c *Client) ListEvents(ctx context.Context, calendarID, timeMin, timeMax, query string, maxResults int) (*EventList, error) {
	params := url.Values{}
	params.Set("singleEvents", "true")
	params.Set("orderBy", "startTime")
	if timeMin != "" {
		params.Set("timeMin", timeMin)
	}
	if timeMax != "" {
		params.Set("timeMax", timeMax)
	}
	if query != "" {
		params.Set("q", query)
	}
	if maxResults > 0 {
		params.Set("maxResults", strconv.Itoa(maxResults))
	}

	var list EventList
	path := fmt.Sprintf("/calendars/%s/events?%s", url.PathEscape(calendarID), params.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// PatchEvent applies a partial update to an event.
func (c *Client) PatchEvent(ctx context.Context, calendarID, eventID string, patch *Event) (*Event, error) {
	var updated Event
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	if err := c.do(ctx, http.MethodPatch, path, patch, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteEvent removes an event.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s", url.PathEscape(calendarID), url.PathEscape(eventID))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("calendar API error [%d]: %s", resp.StatusCode, apiErr.Error.Message)
		}
		return fmt.Errorf("calendar API error [%d]: %s", resp.StatusCode, string(respBody))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}
