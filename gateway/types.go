package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// SessionID accepts both string and numeric JSON ids.
type SessionID string

func (id *SessionID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = SessionID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("session id must be a string or number: %w", err)
	}
	*id = SessionID(n.String())
	return nil
}

type Stats struct {
	ActiveVehicles int     `json:"active_vehicles"`
	AvailableSlots int     `json:"available_slots"`
	DailyEarnings  float64 `json:"daily_earnings"`
}

type Session struct {
	ID          SessionID
	PlateNumber string
	VehicleType string
	EntryTime   time.Time
}

type wireSession struct {
	ID          SessionID `json:"id"`
	MongoID     SessionID `json:"_id"`
	PlateNumber string    `json:"plate_number"`
	VehicleType string    `json:"vehicle_type"`
	EntryTime   string    `json:"entry_time"`
}

type statsResponse struct {
	Success *bool           `json:"success"`
	Data    *Stats          `json:"data"`
	Error   json.RawMessage `json:"error"`
}

type activeResponse struct {
	Success *bool           `json:"success"`
	Data    []wireSession   `json:"data"`
	Error   json.RawMessage `json:"error"`
}

type releaseResponse struct {
	Success *bool           `json:"success"`
	Fee     *float64        `json:"fee"`
	Error   json.RawMessage `json:"error"`
}

var entryTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z0700",
}

// parseEntryTime accepts ISO-8601 with or without an offset; naive values are UTC.
func parseEntryTime(s string) (time.Time, error) {
	for _, layout := range entryTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised entry time %q", s)
}

func (w wireSession) toSession() (Session, error) {
	id := w.ID
	if id == "" {
		id = w.MongoID
	}
	if id == "" {
		return Session{}, fmt.Errorf("session without id (plate %q)", w.PlateNumber)
	}
	entry, err := parseEntryTime(w.EntryTime)
	if err != nil {
		return Session{}, err
	}
	return Session{
		ID:          id,
		PlateNumber: w.PlateNumber,
		VehicleType: w.VehicleType,
		EntryTime:   entry,
	}, nil
}

// errorReason extracts a reason from either `"error": "text"` or
// `"error": {"code": ..., "message": ...}`.
func errorReason(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Code
	}
	return strconv.Quote(string(raw))
}
