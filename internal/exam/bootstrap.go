package exam

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/apiclient"
	"github.com/stemsi/exstem-taker/internal/device"
	"github.com/stemsi/exstem-taker/internal/model"
	"github.com/stemsi/exstem-taker/internal/response"
)

const (
	// LoginPath is where authorization failures send the user.
	LoginPath = "/login/"
	// DefaultTestListPath is the test list route.
	DefaultTestListPath = "/panel/tests/"
)

// EntryAPI is the part of the API the bootstrap needs.
type EntryAPI interface {
	EnterTest(ctx context.Context, testID int, deviceID string) (*model.Session, error)
}

// Bootstrapper turns a test id and the device fingerprint into a server session.
type Bootstrapper struct {
	api          EntryAPI
	notify       Notifier
	nav          Navigator
	log          zerolog.Logger
	testListPath string

	fingerprint <-chan device.Result
	fpMu        sync.Mutex
	fpDone      bool
	deviceID    string
	deviceErr   error
}

// NewBootstrapper creates a Bootstrapper. fingerprint is the pending result of
// device.Compute started when the view mounted.
func NewBootstrapper(api EntryAPI, notify Notifier, nav Navigator, fingerprint <-chan device.Result, testListPath string, log zerolog.Logger) *Bootstrapper {
	if testListPath == "" {
		testListPath = DefaultTestListPath
	}
	return &Bootstrapper{
		api:          api,
		notify:       notify,
		nav:          nav,
		log:          log.With().Str("component", "exam_bootstrap").Logger(),
		testListPath: testListPath,
		fingerprint:  fingerprint,
	}
}

// Start asks the server for a session. Every failure is classified, shown to
// the user and returned; nothing is retried. The session lives in memory only.
func (b *Bootstrapper) Start(ctx context.Context, testID int) (*model.Session, error) {
	deviceID, err := b.awaitDevice(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.notify.Notify(Notice{Level: LevelError, Code: response.ErrUnknown, Message: "Could not identify this device: " + err.Error()})
		return nil, fmt.Errorf("device fingerprint: %w", err)
	}

	log := b.log.With().Int("test_id", testID).Logger()

	session, err := b.api.EnterTest(ctx, testID, deviceID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		b.handleEntryError(testID, err)
		log.Warn().Err(err).Msg("Enter test rejected")
		return nil, err
	}

	log.Info().Int("session_id", session.ID).Msg("Session started")
	return session, nil
}

// DeviceID returns the fingerprint once Start has awaited it.
func (b *Bootstrapper) DeviceID() string {
	b.fpMu.Lock()
	defer b.fpMu.Unlock()
	return b.deviceID
}

func (b *Bootstrapper) awaitDevice(ctx context.Context) (string, error) {
	b.fpMu.Lock()
	defer b.fpMu.Unlock()
	if b.fpDone {
		return b.deviceID, b.deviceErr
	}

	id, err := device.Await(ctx, b.fingerprint)
	if err != nil && ctx.Err() != nil {
		// A cancelled wait must not poison the next attempt.
		return "", err
	}
	b.fpDone = true
	b.deviceID, b.deviceErr = id, err
	return id, err
}

// handleEntryError maps a failed enter-test call to a notice and, where the
// flow calls for it, a navigation.
func (b *Bootstrapper) handleEntryError(testID int, err error) {
	apiErr, ok := apiclient.AsAPIError(err)
	if !ok {
		b.notify.Notify(Notice{Level: LevelError, Code: response.ErrUnknown, Message: response.GetMessage(response.ErrUnknown)})
		return
	}

	switch apiErr.Kind {
	case apiclient.KindUnauthorized:
		b.notify.Notify(Notice{Level: LevelError, Code: apiErr.Code, Message: apiErr.Message()})
		b.nav.Navigate(LoginPath)

	case apiclient.KindNotFound:
		b.notify.Notify(Notice{Level: LevelError, Code: apiErr.Code, Message: apiErr.Message()})
		b.nav.Navigate(b.testListPath)

	case apiclient.KindForbidden:
		switch apiErr.Code {
		case response.ErrCompleted:
			b.notify.Notify(Notice{Level: LevelSuccess, Code: apiErr.Code, Message: apiErr.Message()})
			target := apiErr.RedirectTo
			if target == "" {
				target = model.ResultPath(testID)
			}
			b.nav.Navigate(target)
		case response.ErrNotStarted:
			b.notify.Notify(Notice{Level: LevelWarning, Code: apiErr.Code, Message: apiErr.Message()})
		default:
			// already_participating, ended, forbidden, device_mismatch and
			// unknown codes block with their own explanation.
			b.notify.Notify(Notice{Level: LevelError, Code: apiErr.Code, Message: apiErr.Message()})
		}

	case apiclient.KindNetwork:
		b.notify.Notify(Notice{Level: LevelWarning, Code: response.ErrNetwork, Message: apiErr.Message()})

	default:
		b.notify.Notify(Notice{Level: LevelError, Code: apiErr.Code, Message: apiErr.Message()})
	}
}
