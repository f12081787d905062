package exam

// Countdown is the advisory seconds-remaining counter. It only moves down.
type Countdown struct {
	remaining int
	expired   bool
}

// NewCountdown seeds a countdown with the given number of seconds.
func NewCountdown(seconds int) *Countdown {
	if seconds < 0 {
		seconds = 0
	}
	return &Countdown{remaining: seconds}
}

// Remaining returns the seconds left.
func (c *Countdown) Remaining() int {
	return c.remaining
}

// Tick removes one second. It returns true only on the tick that reaches zero.
func (c *Countdown) Tick() bool {
	if c.remaining > 0 {
		c.remaining--
	}
	return c.markExpired()
}

// Lower moves the counter down to seconds if that is below the current value.
// It never raises it. The second result follows Tick's expiry rule.
func (c *Countdown) Lower(seconds int) (changed, expiredNow bool) {
	if seconds < 0 {
		seconds = 0
	}
	if seconds >= c.remaining {
		return false, false
	}
	c.remaining = seconds
	return true, c.markExpired()
}

// Expired reports whether zero has been reached.
func (c *Countdown) Expired() bool {
	return c.expired
}

func (c *Countdown) markExpired() bool {
	if c.remaining == 0 && !c.expired {
		c.expired = true
		return true
	}
	return false
}
