package exam

import (
	"time"

	"github.com/stemsi/exstem-taker/internal/response"
)

// Level is the tone of a user-visible notice.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notice is a toast-style message for the user.
type Notice struct {
	Level   Level
	Code    response.ErrCode
	Message string
}

// Notifier shows notices. Implementations must not block.
type Notifier interface {
	Notify(n Notice)
}

// Navigator moves the front end to another route.
type Navigator interface {
	Navigate(path string)
}

// Ticker delivers ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Clock creates tickers. Tests substitute a manual one.
type Clock interface {
	NewTicker(d time.Duration) Ticker
}

// SystemClock is the wall-clock Clock.
type SystemClock struct{}

type systemTicker struct {
	t *time.Ticker
}

func (SystemClock) NewTicker(d time.Duration) Ticker {
	return &systemTicker{t: time.NewTicker(d)}
}

func (s *systemTicker) C() <-chan time.Time { return s.t.C }
func (s *systemTicker) Stop()               { s.t.Stop() }
