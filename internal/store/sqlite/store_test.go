package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventdesk/internal/attendance"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedSession(t *testing.T, s *Store, maxAttendees *int) attendance.Session {
	t.Helper()
	ctx := context.Background()
	evt, err := s.CreateEvent(ctx, "Gophercon")
	require.NoError(t, err)
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	sess, err := s.CreateSession(ctx, attendance.Session{
		EventID:      evt.ID,
		Title:        "Concurrency patterns",
		StartTime:    start,
		EndTime:      start.Add(time.Hour),
		MaxAttendees: maxAttendees,
	})
	require.NoError(t, err)
	return sess
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 3; i++ {
		s, err := Open(context.Background(), path)
		require.NoError(t, err, "open iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()

	var applied int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	require.Error(t, err)
}

func TestCreateUser_NormalizesEmailAndIssuesToken(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "  Ada@Example.COM ", "Ada")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.True(t, strings.HasPrefix(u.QRCode, "EVENT_"+u.ID+"_"))
	assert.False(t, u.CheckedIn)
	assert.Nil(t, u.CheckInTime)

	_, err = s.CreateUser(ctx, "ADA@example.com", "Ada again")
	require.ErrorIs(t, err, attendance.ErrConflict)

	_, err = s.CreateUser(ctx, "not-an-email", "x")
	require.Error(t, err)
}

func TestFindUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u, err := s.CreateUser(ctx, "grace@example.com", "Grace")
	require.NoError(t, err)

	byID, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, byID)

	byToken, err := s.FindUserByToken(ctx, u.QRCode)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byToken.ID)

	byEmail, err := s.FindUserByEmail(ctx, "GRACE@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = s.FindUserByToken(ctx, strings.ToLower(u.QRCode))
	require.ErrorIs(t, err, attendance.ErrNotFound)
	_, err = s.FindUserByID(ctx, "missing")
	require.ErrorIs(t, err, attendance.ErrNotFound)
}

func TestMarkCheckedIn_FlipsOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u, err := s.CreateUser(ctx, "linus@example.com", "Linus")
	require.NoError(t, err)

	at := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	got, flipped, err := s.MarkCheckedIn(ctx, u.QRCode, at)
	require.NoError(t, err)
	require.True(t, flipped)
	assert.True(t, got.CheckedIn)
	require.NotNil(t, got.CheckInTime)
	assert.True(t, at.Equal(*got.CheckInTime))

	_, flipped, err = s.MarkCheckedIn(ctx, u.QRCode, at.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, flipped)

	stored, err := s.FindUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, at.Equal(*stored.CheckInTime))

	_, flipped, err = s.MarkCheckedIn(ctx, "EVENT_nobody_1", at)
	require.NoError(t, err)
	assert.False(t, flipped)
}

func TestCheckInConsistencyIsEnforcedBySchema(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u, err := s.CreateUser(ctx, "ken@example.com", "Ken")
	require.NoError(t, err)

	_, err = s.db.ExecContext(ctx, `UPDATE users SET checked_in = 1 WHERE id = ?`, u.ID)
	require.Error(t, err)
}

func TestCreateSession_Validates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	evt, err := s.CreateEvent(ctx, "Meetup")
	require.NoError(t, err)

	start := time.Now()
	_, err = s.CreateSession(ctx, attendance.Session{EventID: evt.ID, Title: "x", StartTime: start, EndTime: start})
	require.Error(t, err)

	negative := -1
	_, err = s.CreateSession(ctx, attendance.Session{EventID: evt.ID, Title: "x", StartTime: start, EndTime: start.Add(time.Minute), MaxAttendees: &negative})
	require.Error(t, err)

	_, err = s.CreateSession(ctx, attendance.Session{EventID: "missing", Title: "x", StartTime: start, EndTime: start.Add(time.Minute)})
	require.Error(t, err, "foreign key on event_id")
}

func TestCreateSession_DuplicateIDConflicts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	evt, err := s.CreateEvent(ctx, "Meetup")
	require.NoError(t, err)
	start := time.Now()
	sess := attendance.Session{ID: "fixed-id", EventID: evt.ID, Title: "x", StartTime: start, EndTime: start.Add(time.Minute)}

	_, err = s.CreateSession(ctx, sess)
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, sess)
	require.ErrorIs(t, err, attendance.ErrConflict)
}

func TestInsertRegistration(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	limit := 1
	sess := seedSession(t, s, &limit)
	u1, err := s.CreateUser(ctx, "u1@example.com", "")
	require.NoError(t, err)
	u2, err := s.CreateUser(ctx, "u2@example.com", "")
	require.NoError(t, err)

	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	reg, inserted, err := s.InsertRegistration(ctx, u1.ID, sess.ID, at)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, u1.ID, reg.UserID)
	assert.Equal(t, sess.ID, reg.SessionID)
	assert.True(t, at.Equal(reg.RegisteredAt))
	assert.False(t, reg.CheckedIn)
	assert.False(t, reg.Attended)

	again, inserted, err := s.InsertRegistration(ctx, u1.ID, sess.ID, at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.True(t, at.Equal(again.RegisteredAt), "existing row is returned unchanged")

	_, _, err = s.InsertRegistration(ctx, u2.ID, sess.ID, at)
	require.ErrorIs(t, err, attendance.ErrSessionFull)

	_, _, err = s.InsertRegistration(ctx, u2.ID, "missing", at)
	require.ErrorIs(t, err, attendance.ErrNotFound)

	count, err := s.CountRegistrations(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	regs, err := s.ListRegistrations(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, u1.ID, regs[0].UserID)
}

func TestInsertRegistration_UnboundedSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	sess := seedSession(t, s, nil)

	for i := 0; i < 5; i++ {
		u, err := s.CreateUser(ctx, strings.Repeat("x", i+1)+"@example.com", "")
		require.NoError(t, err)
		_, inserted, err := s.InsertRegistration(ctx, u.ID, sess.ID, time.Now())
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	found, err := s.FindSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, found.MaxAttendees)
	count, err := s.CountRegistrations(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}
