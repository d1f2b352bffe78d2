package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tempora-app/tempora/internal/adapter/calendar"
)

const createEventSchema = `{
	"type": "object",
	"properties": {
		"all_day": {"type": "boolean", "description": "True when the event spans whole days instead of specific times."},
		"start_time": {"type": "string", "description": "Start as RFC3339 datetime, or YYYY-MM-DD for all-day events."},
		"end_time": {"type": "string", "description": "End as RFC3339 datetime, or exclusive YYYY-MM-DD for all-day events."},
		"summary": {"type": "string", "description": "Event title."},
		"description": {"type": "string"},
		"location": {"type": "string"},
		"attendees": {"type": "array", "items": {"type": "string"}, "description": "Attendee email addresses."},
		"reminders": {
			"type": "object",
			"properties": {
				"use_default": {"type": "boolean"},
				"overrides": {
					"type": "array",
					"items": {
						"type": "object",
						"properties": {
							"method": {"type": "string", "enum": ["email", "popup"]},
							"minutes": {"type": "integer", "minimum": 0}
						},
						"required": ["method", "minutes"]
					}
				}
			}
		},
		"recurrence": {"type": "array", "items": {"type": "string"}, "description": "RFC5545 recurrence rules, e.g. RRULE:FREQ=WEEKLY."},
		"calendar_id": {"type": "string", "description": "Target calendar, defaults to primary."}
	},
	"required": ["start_time", "end_time", "summary"]
}`

const queryEventsSchema = `{
	"type": "object",
	"properties": {
		"time_min": {"type": "string", "description": "RFC3339 lower bound for event start."},
		"time_max": {"type": "string", "description": "RFC3339 upper bound for event start."},
		"query": {"type": "string", "description": "Free-text search over event fields."},
		"max_results": {"type": "integer", "minimum": 1, "maximum": 250},
		"calendar_id": {"type": "string"}
	}
}`

const updateEventSchema = `{
	"type": "object",
	"properties": {
		"event_id": {"type": "string"},
		"summary": {"type": "string"},
		"description": {"type": "string"},
		"location": {"type": "string"},
		"all_day": {"type": "boolean"},
		"start_time": {"type": "string"},
		"end_time": {"type": "string"},
		"calendar_id": {"type": "string"}
	},
	"required": ["event_id"]
}`

const deleteEventSchema = `{
	"type": "object",
	"properties": {
		"event_id": {"type": "string"},
		"calendar_id": {"type": "string"}
	},
	"required": ["event_id"]
}`

type remindersArgs struct {
	UseDefault bool `json:"use_default"`
	Overrides  []struct {
		Method  string `json:"method"`
		Minutes int    `json:"minutes"`
	} `json:"overrides"`
}

type createEventArgs struct {
	AllDay      bool           `json:"all_day"`
	StartTime   string         `json:"start_time"`
	EndTime     string         `json:"end_time"`
	Summary     string         `json:"summary"`
	Description string         `json:"description"`
	Location    string         `json:"location"`
	Attendees   []string       `json:"attendees"`
	Reminders   *remindersArgs `json:"reminders"`
	Recurrence  []string       `json:"recurrence"`
	CalendarID  string         `json:"calendar_id"`
}

type queryEventsArgs struct {
	TimeMin    string `json:"time_min"`
	TimeMax    string `json:"time_max"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
	CalendarID string `json:"calendar_id"`
}

type updateEventArgs struct {
	EventID     string  `json:"event_id"`
	Summary     *string `json:"summary"`
	Description *string `json:"description"`
	Location    *string `json:"location"`
	AllDay      bool    `json:"all_day"`
	StartTime   string  `json:"start_time"`
	EndTime     string  `json:"end_time"`
	CalendarID  string  `json:"calendar_id"`
}

type deleteEventArgs struct {
	EventID    string `json:"event_id"`
	CalendarID string `json:"calendar_id"`
}

func calendarOrDefault(id string) string {
	if id == "" {
		return "primary"
	}
	return id
}

func requireCalendar(auth *AuthContext) (*calendar.Client, error) {
	if auth == nil || auth.Calendar == nil {
		return nil, fmt.Errorf("no calendar credentials for this request")
	}
	return auth.Calendar, nil
}

func eventTime(value, timezone string, allDay bool) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: value, TimeZone: timezone}
	}
	return &calendar.EventDateTime{DateTime: value, TimeZone: timezone}
}

// RegisterCalendarTools registers the Google Calendar tools.
func RegisterCalendarTools(r *Registry) {
	r.MustRegister(&Definition{
		Name:        "create_event",
		Description: "Create a single event in the user's Google Calendar.",
		Parameters:  json.RawMessage(createEventSchema),
		Handler: func(ctx context.Context, auth *AuthContext, raw json.RawMessage) (json.RawMessage, error) {
			client, err := requireCalendar(auth)
			if err != nil {
				return nil, err
			}
			var args createEventArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("failed to decode arguments: %w", err)
			}

			event := &calendar.Event{
				Summary:     args.Summary,
				Description: args.Description,
				Location:    args.Location,
				Start:       eventTime(args.StartTime, auth.Timezone, args.AllDay),
				End:         eventTime(args.EndTime, auth.Timezone, args.AllDay),
				Recurrence:  args.Recurrence,
			}
			for _, email := range args.Attendees {
				event.Attendees = append(event.Attendees, calendar.Attendee{Email: email})
			}
			if args.Reminders != nil {
				reminders := &calendar.Reminders{UseDefault: args.Reminders.UseDefault}
				for _, o := range args.Reminders.Overrides {
					reminders.Overrides = append(reminders.Overrides, calendar.ReminderOverride{
						Method:  o.Method,
						Minutes: o.Minutes,
					})
				}
				event.Reminders = reminders
			}

			created, err := client.InsertEvent(ctx, calendarOrDefault(args.CalendarID), event)
			if err != nil {
				return nil, err
			}
			return json.Marshal(created)
		},
	})

	r.MustRegister(&Definition{
		Name:        "query_events",
		Description: "List calendar events in a time range, optionally filtered by a search term.",
		Parameters:  json.RawMessage(queryEventsSchema),
		Handler: func(ctx context.Context, auth *AuthContext, raw json.RawMessage) (json.RawMessage, error) {
			client, err := requireCalendar(auth)
			if err != nil {
				return nil, err
			}
			var args queryEventsArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("failed to decode arguments: %w", err)
			}
			list, err := client.ListEvents(ctx, calendarOrDefault(args.CalendarID),
				args.TimeMin, args.TimeMax, args.Query, args.MaxResults)
			if err != nil {
				return nil, err
			}
			return json.Marshal(list)
		},
	})

	r.MustRegister(&Definition{
		Name:        "update_event",
		Description: "Update fields of an existing calendar event.",
		Parameters:  json.RawMessage(updateEventSchema),
		Handler: func(ctx context.Context, auth *AuthContext, raw json.RawMessage) (json.RawMessage, error) {
			client, err := requireCalendar(auth)
			if err != nil {
				return nil, err
			}
			var args updateEventArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("failed to decode arguments: %w", err)
			}

			patch := &calendar.Event{}
			if args.Summary != nil {
				patch.Summary = *args.Summary
			}
			if args.Description != nil {
				patch.Description = *args.Description
			}
			if args.Location != nil {
				patch.Location = *args.Location
			}
			if args.StartTime != "" {
				patch.Start = eventTime(args.StartTime, auth.Timezone, args.AllDay)
			}
			if args.EndTime != "" {
				patch.End = eventTime(args.EndTime, auth.Timezone, args.AllDay)
			}

			updated, err := client.PatchEvent(ctx, calendarOrDefault(args.CalendarID), args.EventID, patch)
			if err != nil {
				return nil, err
			}
			return json.Marshal(updated)
		},
	})

	r.MustRegister(&Definition{
		Name:        "delete_event",
		Description: "Delete a calendar event by id.",
		Parameters:  json.RawMessage(deleteEventSchema),
		Handler: func(ctx context.Context, auth *AuthContext, raw json.RawMessage) (json.RawMessage, error) {
			client, err := requireCalendar(auth)
			if err != nil {
				return nil, err
			}
			var args deleteEventArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("failed to decode arguments: %w", err)
			}
			if err := client.DeleteEvent(ctx, calendarOrDefault(args.CalendarID), args.EventID); err != nil {
				return nil, err
			}
			return json.RawMessage(`{"status":"deleted"}`), nil
		},
	})
}
