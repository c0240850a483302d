package shared

// Release is published for every session ended from the dashboard.
type Release struct {
	SessionId       string  `json:"session_id"`
	VehiclePlate    string  `json:"vehicle_plate"`
	VehicleType     string  `json:"vehicle_type"`
	EntryDateTime   string  `json:"entry_date_time"`
	ReleaseDateTime string  `json:"release_date_time"`
	Fee             float64 `json:"fee"`
	Ts              string  `json:"ts"`
}
