package attendance

import (
	"context"
	"time"
)

// IdentityStore reads and transitions users.
type IdentityStore interface {
	FindUserByID(ctx context.Context, id string) (User, error)
	FindUserByToken(ctx context.Context, token string) (User, error)
	// FindUserByEmail matches case-insensitively.
	FindUserByEmail(ctx context.Context, email string) (User, error)
	// MarkCheckedIn flips checked_in from false to true for the user holding
	// token in a single conditional write. The bool reports whether this call
	// performed the flip; when it did not, the returned User is the zero value.
	MarkCheckedIn(ctx context.Context, token string, at time.Time) (User, bool, error)
}

// SessionCatalog reads sessions.
type SessionCatalog interface {
	FindSession(ctx context.Context, id string) (Session, error)
	CountRegistrations(ctx context.Context, sessionID string) (int, error)
}

// RegistrationStore persists registrations.
type RegistrationStore interface {
	// InsertRegistration inserts (userID, sessionID) unless it already exists.
	// The bool reports whether a row was inserted; when false the existing
	// registration is returned. Capacity is enforced in the same transaction:
	// ErrSessionFull means nothing was written. ErrNotFound means the session
	// does not exist.
	InsertRegistration(ctx context.Context, userID, sessionID string, at time.Time) (Registration, bool, error)
	ListRegistrations(ctx context.Context, sessionID string) ([]Registration, error)
}

// Store is the full persistence surface used by the engines.
type Store interface {
	IdentityStore
	SessionCatalog
	RegistrationStore
}

// Observer is notified of every outcome the engines produce.
type Observer interface {
	ObserveCheckIn(outcome CheckInOutcome)
	ObserveRegistration(outcome RegistrationOutcome)
}

type nopObserver struct{}

func (nopObserver) ObserveCheckIn(CheckInOutcome)           {}
func (nopObserver) ObserveRegistration(RegistrationOutcome) {}

// Seeder creates catalog rows for imports and tooling.
type Seeder interface {
	CreateUser(ctx context.Context, email, name string) (User, error)
	// ImportUser inserts u keeping a caller-supplied ID and QRCode; blank
	// fields are generated.
	ImportUser(ctx context.Context, u User) (User, error)
	CreateEvent(ctx context.Context, name string) (Event, error)
	CreateSession(ctx context.Context, s Session) (Session, error)
}
