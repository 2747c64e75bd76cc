package retransmit

import (
	"errors"
	"time"
)

var ErrRetriesExhausted = errors.New("retransmission budget exhausted")

// Controller decides when an unacknowledged chunk is resent. Every decision
// uses the same fixed delay: there is no backoff and no RTT estimate.
//
// Controller is owned by the single sending goroutine and is not safe for
// concurrent use.
type Controller struct {
	delay      time.Duration
	maxRetries int

	timer    *time.Timer
	armedAt  time.Time
	attempts int
	resends  int
}

// New builds a controller. maxRetries <= 0 means resend forever.
func New(delay time.Duration, maxRetries int) *Controller {
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}
	return &Controller{delay: delay, maxRetries: maxRetries}
}

func (c *Controller) Delay() time.Duration { return c.delay }

// Arm starts the resend clock for the transmission that just went out and
// returns the channel that fires when it expires. Arming again replaces the
// previous timer.
func (c *Controller) Arm() <-chan time.Time {
	c.Disarm()
	c.armedAt = time.Now()
	c.timer = time.NewTimer(c.delay)
	return c.timer.C
}

func (c *Controller) Disarm() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// ArmedAt is when the last transmission was timed. After a resend it is the
// resend, so a round trip measured from it never spans a lost datagram.
func (c *Controller) ArmedAt() time.Time { return c.armedAt }

// RecordResend counts a retransmission of the current sequence, or refuses it
// once the per-sequence budget is spent.
func (c *Controller) RecordResend() error {
	if c.maxRetries > 0 && c.attempts >= c.maxRetries {
		return ErrRetriesExhausted
	}
	c.attempts++
	c.resends++
	return nil
}

// Advance resets the per-sequence retry count once a chunk is acknowledged.
func (c *Controller) Advance() {
	c.Disarm()
	c.attempts = 0
	c.armedAt = time.Time{}
}

// Attempts is the resend count for the current sequence.
func (c *Controller) Attempts() int { return c.attempts }

// Resends is the resend count over the whole transfer.
func (c *Controller) Resends() int { return c.resends }
