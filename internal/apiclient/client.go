package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/model"
	"github.com/stemsi/exstem-taker/internal/response"
	"github.com/stemsi/exstem-taker/internal/validator"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// TokenSource supplies the bearer token for authenticated calls.
// An empty token sends the request unauthenticated.
type TokenSource interface {
	AccessToken() string
}

// Client calls the platform's REST API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     zerolog.Logger
}

// New creates a Client rooted at baseURL (e.g. https://host/api).
func New(baseURL string, timeout time.Duration, tokens TokenSource, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		log:     log.With().Str("component", "api_client").Logger(),
	}
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, username, password string) (*model.TokenPair, error) {
	req := model.LoginRequest{Username: username, Password: password}
	if fields := validator.Struct(&req); fields != nil {
		return nil, validationError(fields)
	}

	var pair model.TokenPair
	if err := c.do(ctx, http.MethodPost, "/auth/login/", &req, &pair); err != nil {
		return nil, err
	}
	return &pair, nil
}

// EnterTest asks the server to open a session for testID on this device.
func (c *Client) EnterTest(ctx context.Context, testID int, deviceID string) (*model.Session, error) {
	req := model.EnterTestRequest{TestID: testID, DeviceID: deviceID}
	if fields := validator.Struct(&req); fields != nil {
		return nil, validationError(fields)
	}

	var session model.Session
	if err := c.do(ctx, http.MethodPost, "/enter-test/", &req, &session); err != nil {
		return nil, err
	}
	if session.DeviceID == "" {
		session.DeviceID = deviceID
	}
	return &session, nil
}

// ListTests fetches every test visible to the user.
func (c *Client) ListTests(ctx context.Context) ([]model.Test, error) {
	var tests []model.Test
	if err := c.do(ctx, http.MethodGet, "/tests/", nil, &tests); err != nil {
		return nil, err
	}
	return tests, nil
}

// GetTest fetches the test metadata.
func (c *Client) GetTest(ctx context.Context, testID int) (*model.Test, error) {
	var test model.Test
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/tests/%d/", testID), nil, &test); err != nil {
		return nil, err
	}
	return &test, nil
}

// RecordAnswer stores one answer for an open session.
func (c *Client) RecordAnswer(ctx context.Context, sessionID, questionNumber int, answer string) error {
	req := model.RecordAnswerRequest{QuestionNumber: questionNumber, Answer: answer}
	if fields := validator.Struct(&req); fields != nil {
		return validationError(fields)
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%d/answers/", sessionID), &req, nil)
}

// FinishSession submits the session for grading.
func (c *Client) FinishSession(ctx context.Context, sessionID int) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%d/finish/", sessionID), nil, nil)
}

// GetSessionState returns the server's deadline for an open session.
func (c *Client) GetSessionState(ctx context.Context, sessionID int) (*model.SessionState, error) {
	var state model.SessionState
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sessions/%d/", sessionID), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	reqID := uuid.New().String()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(response.HeaderRequestID, reqID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	log := c.log.With().Str("method", method).Str("path", path).Str("request_id", reqID).Logger()

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("Request failed without response")
		return &APIError{Kind: KindNetwork, Code: response.ErrNetwork, Err: err}
	}
	defer resp.Body.Close()

	log.Debug().Int("status", resp.StatusCode).Dur("latency", time.Since(start)).Msg("Response received")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody response.ErrorBody
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if len(raw) == 0 || json.Unmarshal(raw, &errBody) != nil {
			return classify(resp.StatusCode, nil)
		}
		return classify(resp.StatusCode, &errBody)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &APIError{Kind: KindUnknown, Status: resp.StatusCode, Code: response.ErrUnknown, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func validationError(fields map[string]string) *APIError {
	return &APIError{Kind: KindValidation, Code: response.ErrValidation, Fields: fields}
}
