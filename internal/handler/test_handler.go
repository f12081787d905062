package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/model"
	"github.com/stemsi/exstem-taker/internal/response"
	"github.com/stemsi/exstem-taker/internal/service"
)

// TestHandler serves read-only test metadata.
type TestHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewTestHandler creates a new TestHandler.
func NewTestHandler(sessionService *service.SessionService, log zerolog.Logger) *TestHandler {
	return &TestHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "test_handler").Logger(),
	}
}

// ListTests godoc
// GET /api/tests/
func (h *TestHandler) ListTests(c *gin.Context) {
	tests, err := h.sessionService.ListTests(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("List tests failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	if tests == nil {
		tests = []model.Test{}
	}
	response.Success(c, http.StatusOK, tests)
}

// GetTest godoc
// GET /api/tests/:id/
func (h *TestHandler) GetTest(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	t, err := h.sessionService.GetTest(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrTestNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		h.log.Error().Err(err).Int("test_id", id).Msg("Get test failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	response.Success(c, http.StatusOK, t)
}

// paramID parses a positive integer path parameter, answering 400 otherwise.
func paramID(c *gin.Context, name string) (int, bool) {
	id, err := strconv.Atoi(c.Param(name))
	if err != nil || id < 1 {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return 0, false
	}
	return id, true
}
