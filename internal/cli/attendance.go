package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"eventdesk/internal/attendance"
)

// NewCheckInCommand checks an attendee in by QR token or email.
func NewCheckInCommand(opts *RootOptions) *cobra.Command {
	var byEmail bool
	cmd := &cobra.Command{
		Use:   "checkin <token>",
		Short: "Check an attendee in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			engine := attendance.NewCheckInEngine(b, nil)
			var res attendance.CheckInResult
			if byEmail {
				res, err = engine.CheckInByEmail(cmd.Context(), args[0])
			} else {
				res, err = engine.CheckIn(cmd.Context(), args[0])
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "check in", err)
			}

			text := res.Outcome.String()
			if res.Outcome != attendance.CheckInNotFound {
				text = fmt.Sprintf("%s: %s <%s> at %s", res.Outcome, res.User.Name, res.User.Email, res.User.CheckInTime.Format("15:04:05"))
			}
			if err := newFormatter(opts, cmd).print(res, text); err != nil {
				return err
			}
			if res.Outcome == attendance.CheckInNotFound {
				return NewExitError(ExitFailure, "no attendee matches "+args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&byEmail, "email", false, "treat the argument as an email address")
	return cmd
}

// NewRegisterCommand registers a user for a session.
func NewRegisterCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "register <user-id> <session-id>",
		Short: "Register an attendee for a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			res, err := attendance.NewRegistrationEngine(b, nil).Register(cmd.Context(), args[0], args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "register", err)
			}
			if err := newFormatter(opts, cmd).print(res, res.Outcome.String()); err != nil {
				return err
			}
			switch res.Outcome {
			case attendance.Registered, attendance.AlreadyRegistered:
				return nil
			default:
				return NewExitError(ExitFailure, "registration refused: "+res.Outcome.String())
			}
		},
	}
}

// NewSessionCommand prints a session with its registration count.
func NewSessionCommand(opts *RootOptions) *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "session <session-id>",
		Short: "Show a session and how many seats remain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Close()

			engine := attendance.NewRegistrationEngine(b, nil)
			sum, err := engine.Summary(cmd.Context(), args[0])
			if errors.Is(err, attendance.ErrNotFound) {
				return WrapExitError(ExitFailure, "session "+args[0], err)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "load session", err)
			}
			out := newFormatter(opts, cmd)
			remaining := "unlimited"
			if sum.Remaining != nil {
				remaining = fmt.Sprint(*sum.Remaining)
			}
			if !list {
				return out.print(sum, fmt.Sprintf("%s %q registered=%d remaining=%s", sum.ID, sum.Title, sum.Registered, remaining))
			}

			regs, err := engine.ListRegistrations(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "list registrations", err)
			}
			text := fmt.Sprintf("%s %q registered=%d remaining=%s", sum.ID, sum.Title, sum.Registered, remaining)
			for _, r := range regs {
				text += fmt.Sprintf("\n  %s %s", r.UserID, r.RegisteredAt.Format("2006-01-02 15:04"))
			}
			return out.print(struct {
				attendance.SessionSummary
				Registrations []attendance.Registration `json:"registrations"`
			}{sum, regs}, text)
		},
	}
	cmd.Flags().BoolVar(&list, "list", false, "also list registrations")
	return cmd
}
