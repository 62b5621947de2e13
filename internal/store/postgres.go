package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"eventdesk/internal/attendance"
)

const uniqueViolation = "23505"

const userColumns = `id, email, name, qr_code, checked_in, check_in_time, created_at`

const registrationColumns = `user_id, session_id, registered_at, checked_in, attended`

// Repository persists users, sessions and registrations in Postgres.
type Repository struct {
	db *sql.DB
}

var (
	_ attendance.Store  = (*Repository)(nil)
	_ attendance.Seeder = (*Repository)(nil)
)

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (attendance.User, error) {
	var u attendance.User
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.QRCode, &u.CheckedIn, &u.CheckInTime, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.User{}, attendance.ErrNotFound
		}
		return attendance.User{}, err
	}
	return u, nil
}

func scanRegistration(row scanner) (attendance.Registration, error) {
	var r attendance.Registration
	if err := row.Scan(&r.UserID, &r.SessionID, &r.RegisteredAt, &r.CheckedIn, &r.Attended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.Registration{}, attendance.ErrNotFound
		}
		return attendance.Registration{}, err
	}
	return r, nil
}

// FindUserByID returns a user by primary key.
func (r *Repository) FindUserByID(ctx context.Context, id string) (attendance.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// FindUserByToken returns the user holding the exact check-in token.
func (r *Repository) FindUserByToken(ctx context.Context, token string) (attendance.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE qr_code = $1`, token))
}

// FindUserByEmail matches on lower(email), which is backed by a unique index.
func (r *Repository) FindUserByEmail(ctx context.Context, email string) (attendance.User, error) {
	return scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email))
}

// MarkCheckedIn performs the check-in as one conditional UPDATE. Concurrent
// callers for the same token serialise on the row lock; only the first sees
// checked_in = FALSE and gets a row back.
func (r *Repository) MarkCheckedIn(ctx context.Context, token string, at time.Time) (attendance.User, bool, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, `
		UPDATE users
		SET checked_in = TRUE, check_in_time = $2
		WHERE qr_code = $1 AND checked_in = FALSE
		RETURNING `+userColumns,
		token, at.UTC()))
	if errors.Is(err, attendance.ErrNotFound) {
		return attendance.User{}, false, nil
	}
	if err != nil {
		return attendance.User{}, false, err
	}
	return u, true, nil
}

// FindSession returns a session by id.
func (r *Repository) FindSession(ctx context.Context, id string) (attendance.Session, error) {
	var (
		s            attendance.Session
		maxAttendees sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, event_id, title, start_time, end_time, max_attendees, created_at
		FROM sessions WHERE id = $1
	`, id).Scan(&s.ID, &s.EventID, &s.Title, &s.StartTime, &s.EndTime, &maxAttendees, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Session{}, attendance.ErrNotFound
	}
	if err != nil {
		return attendance.Session{}, err
	}
	if maxAttendees.Valid {
		n := int(maxAttendees.Int64)
		s.MaxAttendees = &n
	}
	return s, nil
}

// CountRegistrations returns how many users are registered for a session.
func (r *Repository) CountRegistrations(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_registrations WHERE session_id = $1`, sessionID).Scan(&n)
	return n, err
}

// InsertRegistration books a seat inside one transaction.
//
// The session row is locked with SELECT ... FOR UPDATE first, so concurrent
// bookings for the same session queue behind each other and the post-insert
// count cannot be raced. The insert itself ignores conflicts on the
// (user_id, session_id) primary key, which makes double submits harmless.
func (r *Repository) InsertRegistration(ctx context.Context, userID, sessionID string, at time.Time) (attendance.Registration, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return attendance.Registration{}, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxAttendees sql.NullInt64
	err = tx.QueryRowContext(ctx, `SELECT max_attendees FROM sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&maxAttendees)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Registration{}, false, attendance.ErrNotFound
	}
	if err != nil {
		return attendance.Registration{}, false, fmt.Errorf("lock session row: %w", err)
	}

	reg, err := scanRegistration(tx.QueryRowContext(ctx, `
		INSERT INTO session_registrations (user_id, session_id, registered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, session_id) DO NOTHING
		RETURNING `+registrationColumns,
		userID, sessionID, at.UTC()))
	if errors.Is(err, attendance.ErrNotFound) {
		existing, err := scanRegistration(tx.QueryRowContext(ctx,
			`SELECT `+registrationColumns+` FROM session_registrations WHERE user_id = $1 AND session_id = $2`,
			userID, sessionID))
		if err != nil {
			return attendance.Registration{}, false, fmt.Errorf("load existing registration: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return attendance.Registration{}, false, fmt.Errorf("insert registration: %w", err)
	}

	if maxAttendees.Valid {
		var count int64
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM session_registrations WHERE session_id = $1`, sessionID,
		).Scan(&count); err != nil {
			return attendance.Registration{}, false, fmt.Errorf("count registrations: %w", err)
		}
		if count > maxAttendees.Int64 {
			return attendance.Registration{}, false, attendance.ErrSessionFull
		}
	}

	if err := tx.Commit(); err != nil {
		return attendance.Registration{}, false, fmt.Errorf("commit transaction: %w", err)
	}
	return reg, true, nil
}

// ListRegistrations returns a session's registrations, oldest first.
func (r *Repository) ListRegistrations(ctx context.Context, sessionID string) ([]attendance.Registration, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+registrationColumns+`
		FROM session_registrations
		WHERE session_id = $1
		ORDER BY registered_at, user_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []attendance.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// CreateUser inserts a user with a fresh id and check-in token.
func (r *Repository) CreateUser(ctx context.Context, email, name string) (attendance.User, error) {
	return r.ImportUser(ctx, attendance.User{Email: email, Name: name})
}

// ImportUser inserts u as not checked in, generating a missing id or token.
func (r *Repository) ImportUser(ctx context.Context, u attendance.User) (attendance.User, error) {
	email := attendance.NormalizeEmail(u.Email)
	if !attendance.ValidEmail(email) {
		return attendance.User{}, fmt.Errorf("invalid email %q", email)
	}
	now := time.Now().UTC()
	id := strings.TrimSpace(u.ID)
	if id == "" {
		id = uuid.NewString()
	}
	token := attendance.NormalizeToken(u.QRCode)
	if token == "" {
		token = attendance.NewToken(id, now)
	}
	created, err := scanUser(r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, qr_code, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		id, email, attendance.NormalizeName(u.Name), token, now))
	if isUniqueViolation(err) {
		return attendance.User{}, attendance.ErrConflict
	}
	if err != nil {
		return attendance.User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

// CreateEvent inserts an event.
func (r *Repository) CreateEvent(ctx context.Context, name string) (attendance.Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return attendance.Event{}, errors.New("event name is required")
	}
	evt := attendance.Event{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
	if _, err := r.db.ExecContext(ctx,
		`INSERT INTO events (id, name, created_at) VALUES ($1, $2, $3)`,
		evt.ID, evt.Name, evt.CreatedAt,
	); err != nil {
		return attendance.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return evt, nil
}

// CreateSession inserts a session under an existing event.
func (r *Repository) CreateSession(ctx context.Context, s attendance.Session) (attendance.Session, error) {
	s, err := prepareSession(s)
	if err != nil {
		return attendance.Session{}, err
	}
	var maxAttendees any
	if s.MaxAttendees != nil {
		maxAttendees = *s.MaxAttendees
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, event_id, title, start_time, end_time, max_attendees, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, s.ID, s.EventID, s.Title, s.StartTime, s.EndTime, maxAttendees, s.CreatedAt)
	if isUniqueViolation(err) {
		return attendance.Session{}, attendance.ErrConflict
	}
	if err != nil {
		return attendance.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

// prepareSession validates s and fills the generated fields.
func prepareSession(s attendance.Session) (attendance.Session, error) {
	s.EventID = strings.TrimSpace(s.EventID)
	s.Title = strings.TrimSpace(s.Title)
	if err := s.Validate(); err != nil {
		return s, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.StartTime = s.StartTime.UTC()
	s.EndTime = s.EndTime.UTC()
	s.CreatedAt = time.Now().UTC()
	return s, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
