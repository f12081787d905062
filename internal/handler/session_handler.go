package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/middleware"
	"github.com/stemsi/exstem-taker/internal/model"
	"github.com/stemsi/exstem-taker/internal/response"
	"github.com/stemsi/exstem-taker/internal/service"
	"github.com/stemsi/exstem-taker/internal/validator"
)

// SessionHandler handles test entry and the endpoints of an open session.
type SessionHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// EnterTest godoc
// POST /api/enter-test/
// Starts the caller's single attempt at a test on the given device.
func (h *SessionHandler) EnterTest(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.EnterTestRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	session, err := h.sessionService.Enter(c.Request.Context(), claims.UserID, req.TestID, req.DeviceID)
	if err != nil {
		h.fail(c, err, req.TestID)
		return
	}
	response.Success(c, http.StatusCreated, session)
}

// GetState godoc
// GET /api/sessions/:id/
// Returns the authoritative deadline of a session.
func (h *SessionHandler) GetState(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	state, err := h.sessionService.State(c.Request.Context(), claims.UserID, id)
	if err != nil {
		h.fail(c, err, 0)
		return
	}
	response.Success(c, http.StatusOK, state)
}

// RecordAnswer godoc
// POST /api/sessions/:id/answers/
func (h *SessionHandler) RecordAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req model.RecordAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.sessionService.RecordAnswer(c.Request.Context(), claims.UserID, id, req.QuestionNumber, req.Answer); err != nil {
		h.fail(c, err, 0)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"status": "saved"})
}

// Finish godoc
// POST /api/sessions/:id/finish/
func (h *SessionHandler) Finish(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.sessionService.Finish(c.Request.Context(), claims.UserID, id); err != nil {
		h.fail(c, err, 0)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"status": "finished"})
}

// fail maps a service error onto its status and wire code.
func (h *SessionHandler) fail(c *gin.Context, err error, testID int) {
	switch {
	case errors.Is(err, service.ErrTestNotFound), errors.Is(err, service.ErrSessionNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, service.ErrNotOwner):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, service.ErrAlreadyParticipating):
		response.Fail(c, http.StatusForbidden, response.ErrAlreadyParticipating)
	case errors.Is(err, service.ErrCompleted):
		response.FailWithRedirect(c, http.StatusForbidden, response.ErrCompleted, model.ResultPath(testID))
	case errors.Is(err, service.ErrDeviceMismatch):
		response.Fail(c, http.StatusForbidden, response.ErrDeviceMismatch)
	case errors.Is(err, service.ErrTestNotStarted):
		response.Fail(c, http.StatusForbidden, response.ErrNotStarted)
	case errors.Is(err, service.ErrTestEnded):
		response.Fail(c, http.StatusForbidden, response.ErrEnded)
	case errors.Is(err, service.ErrSessionFinished):
		response.Fail(c, http.StatusForbidden, response.ErrSessionFinished)
	case errors.Is(err, service.ErrQuestionOutOfRange):
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, map[string]string{
			"question_number": err.Error(),
		})
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("Session request failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
