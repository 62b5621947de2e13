package attendance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer resolves on every call so spans follow the current global provider.
func tracer() trace.Tracer { return otel.Tracer("eventdesk/internal/attendance") }

// CheckInEngine turns a presented credential into an at-most-once check-in.
// It holds no state of its own; exactly-once semantics come from the store's
// conditional update, so any number of replicas may share one database.
type CheckInEngine struct {
	users IdentityStore
	obs   Observer
	now   func() time.Time
}

// NewCheckInEngine creates an engine over users. obs may be nil.
func NewCheckInEngine(users IdentityStore, obs Observer) *CheckInEngine {
	if obs == nil {
		obs = nopObserver{}
	}
	return &CheckInEngine{
		users: users,
		obs:   obs,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// ResolveByToken returns the user holding token, or ErrNotFound.
func (e *CheckInEngine) ResolveByToken(ctx context.Context, token string) (User, error) {
	token = NormalizeToken(token)
	if token == "" {
		return User{}, ErrNotFound
	}
	return e.users.FindUserByToken(ctx, token)
}

// ResolveByEmail returns the user with the given email, ignoring case, or ErrNotFound.
func (e *CheckInEngine) ResolveByEmail(ctx context.Context, email string) (User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return User{}, ErrNotFound
	}
	return e.users.FindUserByEmail(ctx, email)
}

// CheckIn checks in the holder of token. Repeated scans of a badge report
// AlreadyCheckedIn and never move check_in_time.
func (e *CheckInEngine) CheckIn(ctx context.Context, token string) (CheckInResult, error) {
	ctx, span := tracer().Start(ctx, "attendance.CheckIn")
	defer span.End()

	res, err := e.checkIn(ctx, NormalizeToken(token))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check-in failed")
		return CheckInResult{}, err
	}
	span.SetAttributes(attribute.String("checkin.outcome", res.Outcome.String()))
	e.obs.ObserveCheckIn(res.Outcome)
	return res, nil
}

// CheckInByEmail is the admin path for attendees without their badge.
func (e *CheckInEngine) CheckInByEmail(ctx context.Context, email string) (CheckInResult, error) {
	ctx, span := tracer().Start(ctx, "attendance.CheckInByEmail")
	defer span.End()

	user, err := e.ResolveByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		e.obs.ObserveCheckIn(CheckInNotFound)
		return CheckInResult{Outcome: CheckInNotFound}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve by email failed")
		return CheckInResult{}, fmt.Errorf("resolve by email: %w", err)
	}

	res, err := e.checkIn(ctx, user.QRCode)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check-in failed")
		return CheckInResult{}, err
	}
	span.SetAttributes(attribute.String("checkin.outcome", res.Outcome.String()))
	e.obs.ObserveCheckIn(res.Outcome)
	return res, nil
}

func (e *CheckInEngine) checkIn(ctx context.Context, token string) (CheckInResult, error) {
	if token == "" {
		return CheckInResult{Outcome: CheckInNotFound}, nil
	}

	user, flipped, err := e.users.MarkCheckedIn(ctx, token, e.now())
	if err != nil {
		return CheckInResult{}, fmt.Errorf("mark checked in: %w", err)
	}
	if flipped {
		return CheckInResult{Outcome: NewlyCheckedIn, User: user}, nil
	}

	// No row flipped: either nobody holds the token or the user is already in.
	user, err = e.users.FindUserByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return CheckInResult{Outcome: CheckInNotFound}, nil
	}
	if err != nil {
		return CheckInResult{}, fmt.Errorf("find user by token: %w", err)
	}
	return CheckInResult{Outcome: AlreadyCheckedIn, User: user}, nil
}
