package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RegistrationEngine books users into sessions exactly once and never past
// capacity. Duplicate and capacity checks happen inside the store's
// transaction, not here.
type RegistrationEngine struct {
	users    IdentityStore
	sessions SessionCatalog
	regs     RegistrationStore
	obs      Observer
	now      func() time.Time
}

// NewRegistrationEngine creates an engine over store. obs may be nil.
func NewRegistrationEngine(store Store, obs Observer) *RegistrationEngine {
	if obs == nil {
		obs = nopObserver{}
	}
	return &RegistrationEngine{
		users:    store,
		sessions: store,
		regs:     store,
		obs:      obs,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register books userID into sessionID.
func (e *RegistrationEngine) Register(ctx context.Context, userID, sessionID string) (RegistrationResult, error) {
	ctx, span := tracer().Start(ctx, "attendance.Register",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	res, err := e.register(ctx, strings.TrimSpace(userID), strings.TrimSpace(sessionID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "register failed")
		return RegistrationResult{}, err
	}
	span.SetAttributes(attribute.String("registration.outcome", res.Outcome.String()))
	e.obs.ObserveRegistration(res.Outcome)
	return res, nil
}

func (e *RegistrationEngine) register(ctx context.Context, userID, sessionID string) (RegistrationResult, error) {
	if userID == "" {
		return RegistrationResult{Outcome: UserNotFound}, nil
	}
	if _, err := e.users.FindUserByID(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return RegistrationResult{Outcome: UserNotFound}, nil
		}
		return RegistrationResult{}, fmt.Errorf("find user: %w", err)
	}

	if sessionID == "" {
		return RegistrationResult{Outcome: SessionNotFound}, nil
	}
	if _, err := e.sessions.FindSession(ctx, sessionID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return RegistrationResult{Outcome: SessionNotFound}, nil
		}
		return RegistrationResult{}, fmt.Errorf("find session: %w", err)
	}

	reg, inserted, err := e.regs.InsertRegistration(ctx, userID, sessionID, e.now())
	switch {
	case errors.Is(err, ErrSessionFull):
		return RegistrationResult{Outcome: SessionFull}, nil
	case errors.Is(err, ErrNotFound):
		// Session removed between lookup and insert.
		return RegistrationResult{Outcome: SessionNotFound}, nil
	case err != nil:
		return RegistrationResult{}, fmt.Errorf("insert registration: %w", err)
	}

	if !inserted {
		return RegistrationResult{Outcome: AlreadyRegistered, Registration: &reg}, nil
	}
	return RegistrationResult{Outcome: Registered, Registration: &reg}, nil
}

// Summary returns the session with its current registration count.
func (e *RegistrationEngine) Summary(ctx context.Context, sessionID string) (SessionSummary, error) {
	sess, err := e.sessions.FindSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return SessionSummary{}, err
	}
	count, err := e.sessions.CountRegistrations(ctx, sess.ID)
	if err != nil {
		return SessionSummary{}, fmt.Errorf("count registrations: %w", err)
	}
	sum := SessionSummary{Session: sess, Registered: count}
	if sess.Bounded() {
		remaining := max(*sess.MaxAttendees-count, 0)
		sum.Remaining = &remaining
	}
	return sum, nil
}

// ListRegistrations returns the registrations of an existing session.
func (e *RegistrationEngine) ListRegistrations(ctx context.Context, sessionID string) ([]Registration, error) {
	sess, err := e.sessions.FindSession(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, err
	}
	return e.regs.ListRegistrations(ctx, sess.ID)
}
