package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"eventdesk/internal/attendance"
)

// NewSeedCommand groups the commands that create users, events and sessions.
func NewSeedCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create users, events and sessions",
	}
	cmd.AddCommand(newSeedUserCommand(opts))
	cmd.AddCommand(newSeedEventCommand(opts))
	cmd.AddCommand(newSeedSessionCommand(opts))
	return cmd
}

func newSeedUserCommand(opts *RootOptions) *cobra.Command {
	var email, name, id, token string
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Create an attendee and print their QR token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			var u attendance.User
			if id != "" || token != "" {
				u, err = b.ImportUser(cmd.Context(), attendance.User{ID: id, Email: email, Name: name, QRCode: token})
			} else {
				u, err = b.CreateUser(cmd.Context(), email, name)
			}
			switch {
			case errors.Is(err, attendance.ErrConflict):
				return WrapExitError(ExitFailure, "create user", err)
			case err != nil:
				return WrapExitError(ExitCommandError, "create user", err)
			}
			return newFormatter(opts, cmd).print(u, fmt.Sprintf("user %s <%s> token %s", u.ID, u.Email, u.QRCode))
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "attendee email (required)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&id, "id", "", "import with this user id")
	cmd.Flags().StringVar(&token, "token", "", "import with this QR token")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newSeedEventCommand(opts *RootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Create an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			evt, err := b.CreateEvent(cmd.Context(), name)
			if err != nil {
				return WrapExitError(ExitCommandError, "create event", err)
			}
			return newFormatter(opts, cmd).print(evt, fmt.Sprintf("event %s %q", evt.ID, evt.Name))
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "event name (required)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSeedSessionCommand(opts *RootOptions) *cobra.Command {
	var (
		eventID, title, start string
		duration              time.Duration
		maxAttendees          int
	)
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create a session inside an event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startTime, err := time.Parse(time.RFC3339, start)
			if err != nil {
				return WrapExitError(ExitCommandError, "parse --start", err)
			}
			sess := attendance.Session{
				EventID:   eventID,
				Title:     title,
				StartTime: startTime,
				EndTime:   startTime.Add(duration),
			}
			if maxAttendees >= 0 {
				sess.MaxAttendees = &maxAttendees
			}

			b, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()
			sess, err = b.CreateSession(cmd.Context(), sess)
			if err != nil {
				return WrapExitError(ExitCommandError, "create session", err)
			}
			capacity := "unlimited"
			if sess.MaxAttendees != nil {
				capacity = fmt.Sprintf("%d seats", *sess.MaxAttendees)
			}
			return newFormatter(opts, cmd).print(sess, fmt.Sprintf("session %s %q (%s)", sess.ID, sess.Title, capacity))
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "event id (required)")
	cmd.Flags().StringVar(&title, "title", "", "session title (required)")
	cmd.Flags().StringVar(&start, "start", "", "start time, RFC 3339 (required)")
	cmd.Flags().DurationVar(&duration, "duration", time.Hour, "session length")
	cmd.Flags().IntVar(&maxAttendees, "max", -1, "capacity; negative means unlimited")
	for _, f := range []string{"event", "title", "start"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}
