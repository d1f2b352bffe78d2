package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const calculateTimeSchema = `{
	"type": "object",
	"properties": {
		"start_time": {"type": "string", "description": "Base time in RFC3339 format."},
		"weeks": {"type": "integer"},
		"days": {"type": "integer"},
		"hours": {"type": "integer"},
		"minutes": {"type": "integer"}
	},
	"required": ["start_time"]
}`

const convertTimezoneSchema = `{
	"type": "object",
	"properties": {
		"time": {"type": "string", "description": "Time in RFC3339 format."},
		"timezone": {"type": "string", "description": "IANA timezone name, e.g. Europe/Berlin."}
	},
	"required": ["time", "timezone"]
}`

type calculateTimeArgs struct {
	StartTime string `json:"start_time"`
	Weeks     int    `json:"weeks"`
	Days      int    `json:"days"`
	Hours     int    `json:"hours"`
	Minutes   int    `json:"minutes"`
}

type convertTimezoneArgs struct {
	Time     string `json:"time"`
	Timezone string `json:"timezone"`
}

func parseRFC3339(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("could not parse time (expected RFC3339): %q", value)
	}
	return t, nil
}

// RegisterTimeTools registers the stateless time calculation tools.
func RegisterTimeTools(r *Registry) {
	r.MustRegister(&Definition{
		Name:        "calculate_time",
		Description: "Add a delta of weeks, days, hours and minutes to a base time.",
		Parameters:  json.RawMessage(calculateTimeSchema),
		Handler: func(ctx context.Context, auth *AuthContext, raw json.RawMessage) (json.RawMessage, error) {
			var args calculateTimeArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("failed to decode arguments: %w", err)
			}
			start, err := parseRFC3339(args.StartTime)
			if err != nil {
				return nil, err
			}
			result := start.
				AddDate(0, 0, args.Weeks*7+args.Days).
				Add(time.Duration(args.Hours)*time.Hour + time.Duration(args.Minutes)*time.Minute)
			return json.Marshal(map[string]string{"result": result.Format(time.RFC3339)})
		},
	})

	r.MustRegister(&Definition{
		Name:        "convert_timezone",
		Description: "Convert a time into another IANA timezone.",
		Parameters:  json.RawMessage(convertTimezoneSchema),
		Handler: func(ctx context.Context, auth *AuthContext, raw json.RawMessage) (json.RawMessage, error) {
			var args convertTimezoneArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return nil, fmt.Errorf("failed to decode arguments: %w", err)
			}
			t, err := parseRFC3339(args.Time)
			if err != nil {
				return nil, err
			}
			loc, err := time.LoadLocation(args.Timezone)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q: %w", args.Timezone, err)
			}
			return json.Marshal(map[string]string{"result": t.In(loc).Format(time.RFC3339)})
		},
	})
}
