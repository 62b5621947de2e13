// Package sqlite provides a SQLite-backed attendance store for single-node
// deployments, tooling and tests.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"eventdesk/internal/attendance"
	"eventdesk/internal/store/migrate"
)

//go:embed migrations/*.sql
var migrations embed.FS

const userColumns = `id, email, name, qr_code, checked_in, check_in_time, created_at`

const registrationColumns = `user_id, session_id, registered_at, checked_in, attended`

// Store persists attendance state in SQLite. Timestamps are stored as UTC
// unix milliseconds.
type Store struct {
	db *sql.DB
}

var (
	_ attendance.Store  = (*Store)(nil)
	_ attendance.Seeder = (*Store)(nil)
)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Open opens the database at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage path is required")
	}
	if path != ":memory:" {
		path = filepath.Clean(path)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time is all SQLite offers; a single connection also keeps
	// :memory: databases from splitting into one database per connection.
	// Other handles on the same file wait on busy_timeout, and _txlock=immediate
	// makes every transaction take the write lock at BEGIN.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := migrate.Apply(ctx, db, migrations, "migrations", migrate.SQLite); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Healthy reports whether the database answers a ping.
func (s *Store) Healthy(ctx context.Context) bool {
	return s != nil && s.db != nil && s.db.PingContext(ctx) == nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (attendance.User, error) {
	var (
		u         attendance.User
		checkedAt sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.Name, &u.QRCode, &u.CheckedIn, &checkedAt, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.User{}, attendance.ErrNotFound
		}
		return attendance.User{}, err
	}
	if checkedAt.Valid {
		t := fromMillis(checkedAt.Int64)
		u.CheckInTime = &t
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}

func scanRegistration(row scanner) (attendance.Registration, error) {
	var (
		r            attendance.Registration
		registeredAt int64
	)
	if err := row.Scan(&r.UserID, &r.SessionID, &registeredAt, &r.CheckedIn, &r.Attended); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.Registration{}, attendance.ErrNotFound
		}
		return attendance.Registration{}, err
	}
	r.RegisteredAt = fromMillis(registeredAt)
	return r, nil
}

// FindUserByID returns a user by primary key.
func (s *Store) FindUserByID(ctx context.Context, id string) (attendance.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// FindUserByToken returns the user holding the exact check-in token.
func (s *Store) FindUserByToken(ctx context.Context, token string) (attendance.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE qr_code = ?`, token))
}

// FindUserByEmail matches on lower(email).
func (s *Store) FindUserByEmail(ctx context.Context, email string) (attendance.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower(?)`, email))
}

// MarkCheckedIn flips checked_in with a single conditional UPDATE.
func (s *Store) MarkCheckedIn(ctx context.Context, token string, at time.Time) (attendance.User, bool, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `
		UPDATE users
		SET checked_in = 1, check_in_time = ?
		WHERE qr_code = ? AND checked_in = 0
		RETURNING `+userColumns,
		toMillis(at), token))
	if errors.Is(err, attendance.ErrNotFound) {
		return attendance.User{}, false, nil
	}
	if err != nil {
		return attendance.User{}, false, err
	}
	return u, true, nil
}

// FindSession returns a session by id.
func (s *Store) FindSession(ctx context.Context, id string) (attendance.Session, error) {
	var (
		sess                  attendance.Session
		start, end, createdAt int64
		maxAttendees          sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, title, start_time, end_time, max_attendees, created_at
		FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.EventID, &sess.Title, &start, &end, &maxAttendees, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Session{}, attendance.ErrNotFound
	}
	if err != nil {
		return attendance.Session{}, err
	}
	sess.StartTime = fromMillis(start)
	sess.EndTime = fromMillis(end)
	sess.CreatedAt = fromMillis(createdAt)
	if maxAttendees.Valid {
		n := int(maxAttendees.Int64)
		sess.MaxAttendees = &n
	}
	return sess, nil
}

// CountRegistrations returns how many users are registered for a session.
func (s *Store) CountRegistrations(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_registrations WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// InsertRegistration books a seat inside one transaction. SQLite has no row
// locks, so the transaction opens with a no-op write to the session row,
// which takes the database write lock before anything is read.
func (s *Store) InsertRegistration(ctx context.Context, userID, sessionID string, at time.Time) (attendance.Registration, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return attendance.Registration{}, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var maxAttendees sql.NullInt64
	err = tx.QueryRowContext(ctx, `
		UPDATE sessions SET max_attendees = max_attendees
		WHERE id = ?
		RETURNING max_attendees
	`, sessionID).Scan(&maxAttendees)
	if errors.Is(err, sql.ErrNoRows) {
		return attendance.Registration{}, false, attendance.ErrNotFound
	}
	if err != nil {
		return attendance.Registration{}, false, fmt.Errorf("lock session: %w", err)
	}

	reg, err := scanRegistration(tx.QueryRowContext(ctx, `
		INSERT INTO session_registrations (user_id, session_id, registered_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, session_id) DO NOTHING
		RETURNING `+registrationColumns,
		userID, sessionID, toMillis(at)))
	if errors.Is(err, attendance.ErrNotFound) {
		existing, err := scanRegistration(tx.QueryRowContext(ctx,
			`SELECT `+registrationColumns+` FROM session_registrations WHERE user_id = ? AND session_id = ?`,
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
			`SELECT COUNT(*) FROM session_registrations WHERE session_id = ?`, sessionID,
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
func (s *Store) ListRegistrations(ctx context.Context, sessionID string) ([]attendance.Registration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+registrationColumns+`
		FROM session_registrations
		WHERE session_id = ?
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
func (s *Store) CreateUser(ctx context.Context, email, name string) (attendance.User, error) {
	return s.ImportUser(ctx, attendance.User{Email: email, Name: name})
}

// ImportUser inserts u as not checked in, generating a missing id or token.
func (s *Store) ImportUser(ctx context.Context, u attendance.User) (attendance.User, error) {
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
	created, err := scanUser(s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, name, qr_code, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING `+userColumns,
		id, email, attendance.NormalizeName(u.Name), token, toMillis(now)))
	if isUniqueViolation(err) {
		return attendance.User{}, attendance.ErrConflict
	}
	if err != nil {
		return attendance.User{}, fmt.Errorf("insert user: %w", err)
	}
	return created, nil
}

// CreateEvent inserts an event.
func (s *Store) CreateEvent(ctx context.Context, name string) (attendance.Event, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return attendance.Event{}, errors.New("event name is required")
	}
	evt := attendance.Event{ID: uuid.NewString(), Name: name, CreatedAt: fromMillis(toMillis(time.Now()))}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, name, created_at) VALUES (?, ?, ?)`,
		evt.ID, evt.Name, toMillis(evt.CreatedAt),
	); err != nil {
		return attendance.Event{}, fmt.Errorf("insert event: %w", err)
	}
	return evt, nil
}

// CreateSession inserts a session under an existing event.
func (s *Store) CreateSession(ctx context.Context, sess attendance.Session) (attendance.Session, error) {
	sess.EventID = strings.TrimSpace(sess.EventID)
	sess.Title = strings.TrimSpace(sess.Title)
	if err := sess.Validate(); err != nil {
		return attendance.Session{}, err
	}
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.StartTime = fromMillis(toMillis(sess.StartTime))
	sess.EndTime = fromMillis(toMillis(sess.EndTime))
	sess.CreatedAt = fromMillis(toMillis(time.Now()))

	var maxAttendees any
	if sess.MaxAttendees != nil {
		maxAttendees = *sess.MaxAttendees
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, event_id, title, start_time, end_time, max_attendees, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.EventID, sess.Title, toMillis(sess.StartTime), toMillis(sess.EndTime), maxAttendees, toMillis(sess.CreatedAt))
	if isUniqueViolation(err) {
		return attendance.Session{}, attendance.ErrConflict
	}
	if err != nil {
		return attendance.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
