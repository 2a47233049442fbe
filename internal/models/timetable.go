package models

// TimetableEntry is one slot in the user's weekly schedule.
// Day and Time are kept as free text ("Monday", "10:30 AM") so entries
// round-trip exactly as the user phrased them.
type TimetableEntry struct {
	ID      int64  `json:"id"`
	UserID  int64  `json:"user_id"`
	Day     string `json:"day"`
	Subject string `json:"subject"`
	Time    string `json:"time"`
}
