package attendance

import (
	"errors"
	"time"
)

// User is an attendee as held by the identity store.
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	QRCode      string     `json:"qr_code"`
	CheckedIn   bool       `json:"checked_in"`
	CheckInTime *time.Time `json:"check_in_time,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Event groups sessions.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a bookable slot inside an event. A nil MaxAttendees means the
// session has no capacity limit.
type Session struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	Title        string    `json:"title"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	MaxAttendees *int      `json:"max_attendees,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Bounded reports whether the session declares a finite capacity.
func (s Session) Bounded() bool {
	return s.MaxAttendees != nil
}

// Validate checks the fields a caller must supply when creating a session.
func (s Session) Validate() error {
	switch {
	case s.EventID == "":
		return errors.New("event id is required")
	case s.Title == "":
		return errors.New("session title is required")
	case !s.EndTime.After(s.StartTime):
		return errors.New("session must end after it starts")
	case s.MaxAttendees != nil && *s.MaxAttendees < 0:
		return errors.New("max attendees cannot be negative")
	}
	return nil
}

// Registration links a user to a session. The (UserID, SessionID) pair is unique.
type Registration struct {
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id"`
	RegisteredAt time.Time `json:"registered_at"`
	CheckedIn    bool      `json:"checked_in"`
	Attended     bool      `json:"attended"`
}

// SessionSummary is a session together with its current registration count.
type SessionSummary struct {
	Session
	Registered int  `json:"registered"`
	Remaining  *int `json:"remaining,omitempty"`
}
