package attendance

import "fmt"

// CheckInOutcome tags the result of a check-in attempt.
type CheckInOutcome int

const (
	CheckInNotFound CheckInOutcome = iota
	NewlyCheckedIn
	AlreadyCheckedIn
)

var checkInOutcomeNames = map[CheckInOutcome]string{
	CheckInNotFound:  "not_found",
	NewlyCheckedIn:   "newly_checked_in",
	AlreadyCheckedIn: "already_checked_in",
}

func (o CheckInOutcome) String() string {
	if name, ok := checkInOutcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("CheckInOutcome(%d)", int(o))
}

// MarshalText encodes the outcome by name so JSON responses carry a stable tag.
func (o CheckInOutcome) MarshalText() ([]byte, error) {
	name, ok := checkInOutcomeNames[o]
	if !ok {
		return nil, fmt.Errorf("unknown check-in outcome %d", int(o))
	}
	return []byte(name), nil
}

// CheckInResult is returned by every check-in call. User is the zero value
// when Outcome is CheckInNotFound.
type CheckInResult struct {
	Outcome CheckInOutcome `json:"outcome"`
	User    User           `json:"user"`
}

// Transitioned reports whether this call performed the check-in.
func (r CheckInResult) Transitioned() bool {
	return r.Outcome == NewlyCheckedIn
}

// RegistrationOutcome tags the result of a registration attempt.
type RegistrationOutcome int

const (
	Registered RegistrationOutcome = iota + 1
	AlreadyRegistered
	UserNotFound
	SessionNotFound
	SessionFull
)

var registrationOutcomeNames = map[RegistrationOutcome]string{
	Registered:        "registered",
	AlreadyRegistered: "already_registered",
	UserNotFound:      "user_not_found",
	SessionNotFound:   "session_not_found",
	SessionFull:       "session_full",
}

func (o RegistrationOutcome) String() string {
	if name, ok := registrationOutcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("RegistrationOutcome(%d)", int(o))
}

// MarshalText encodes the outcome by name.
func (o RegistrationOutcome) MarshalText() ([]byte, error) {
	name, ok := registrationOutcomeNames[o]
	if !ok {
		return nil, fmt.Errorf("unknown registration outcome %d", int(o))
	}
	return []byte(name), nil
}

// RegistrationResult carries the registration for Registered and
// AlreadyRegistered; it is nil otherwise.
type RegistrationResult struct {
	Outcome      RegistrationOutcome `json:"outcome"`
	Registration *Registration       `json:"registration,omitempty"`
}
