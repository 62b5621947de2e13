package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"eventdesk/internal/attendance"
	"eventdesk/internal/auth"
)

type checkInRequest struct {
	Token string `json:"token"`
}

type checkInByEmailRequest struct {
	Email string `json:"email"`
}

type checkInResponse struct {
	Outcome attendance.CheckInOutcome `json:"outcome"`
	User    *attendance.User          `json:"user,omitempty"`
}

type registerRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

type registerResponse struct {
	Outcome      attendance.RegistrationOutcome `json:"outcome"`
	Registration *attendance.Registration       `json:"registration,omitempty"`
}

func (s *Server) checkIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"token\": \"...\"}"})
		return
	}
	res, err := s.checkIns.CheckIn(c.Request.Context(), req.Token)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respondCheckIn(c, res)
}

func (s *Server) checkInByEmail(c *gin.Context) {
	var req checkInByEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"email\": \"...\"}"})
		return
	}
	res, err := s.checkIns.CheckInByEmail(c.Request.Context(), req.Email)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respondCheckIn(c, res)
}

func (s *Server) respondCheckIn(c *gin.Context, res attendance.CheckInResult) {
	if res.Outcome == attendance.CheckInNotFound {
		c.JSON(http.StatusNotFound, checkInResponse{Outcome: res.Outcome})
		return
	}
	ctx := c.Request.Context()
	if s.publisher != nil {
		if _, err := s.publisher.CheckedIn(ctx, res); err != nil {
			s.log.ErrorContext(ctx, "publish check-in", slog.String("user_id", res.User.ID), slog.Any("error", err))
		}
	}
	if tok, err := s.actors.Issue(res.User.ID, res.User.Email); err != nil {
		s.log.ErrorContext(ctx, "issue actor token", slog.Any("error", err))
	} else {
		auth.SetActorCookie(c, s.opts.ActorCookie, tok, s.opts.SecureCookies)
	}
	user := res.User
	c.JSON(http.StatusOK, checkInResponse{Outcome: res.Outcome, User: &user})
}

func (s *Server) lookupUser(c *gin.Context) {
	token, email := c.Query("token"), c.Query("email")
	var (
		user attendance.User
		err  error
	)
	switch {
	case token != "":
		user, err = s.checkIns.ResolveByToken(c.Request.Context(), token)
	case email != "":
		user, err = s.checkIns.ResolveByEmail(c.Request.Context(), email)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "token or email query parameter required"})
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be {\"user_id\": \"...\", \"session_id\": \"...\"}"})
		return
	}
	ctx := c.Request.Context()
	res, err := s.regs.Register(ctx, req.UserID, req.SessionID)
	if err != nil {
		s.fail(c, err)
		return
	}
	if s.publisher != nil {
		if _, err := s.publisher.Registered(ctx, res); err != nil {
			s.log.ErrorContext(ctx, "publish registration",
				slog.String("user_id", req.UserID), slog.String("session_id", req.SessionID), slog.Any("error", err))
		}
	}
	c.JSON(registrationStatus(res.Outcome), registerResponse{Outcome: res.Outcome, Registration: res.Registration})
}

func registrationStatus(o attendance.RegistrationOutcome) int {
	switch o {
	case attendance.Registered:
		return http.StatusCreated
	case attendance.AlreadyRegistered:
		return http.StatusOK
	case attendance.UserNotFound, attendance.SessionNotFound:
		return http.StatusNotFound
	case attendance.SessionFull:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sessionSummary(c *gin.Context) {
	sum, err := s.regs.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *Server) sessionRegistrations(c *gin.Context) {
	regs, err := s.regs.ListRegistrations(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if regs == nil {
		regs = []attendance.Registration{}
	}
	c.JSON(http.StatusOK, gin.H{"registrations": regs})
}

func (s *Server) me(c *gin.Context) {
	claims, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not checked in"})
		return
	}
	user, err := s.users.FindUserByID(c.Request.Context(), claims.Subject)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

// fail maps an error to a response. Internal details stay in the log.
func (s *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, context.DeadlineExceeded):
		s.log.WarnContext(c.Request.Context(), "request timed out", slog.String("path", c.FullPath()), slog.Any("error", err))
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timeout"})
	default:
		s.log.ErrorContext(c.Request.Context(), "request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
