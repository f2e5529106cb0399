package purchase

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/north-cloud/likechat/infrastructure/retry"
)

// DefaultRetryDelays is the wait before each automatic retry.
var DefaultRetryDelays = []time.Duration{0, 2 * time.Second, 5 * time.Second}

const exhaustedMessage = "Purchase could not be confirmed. Reload the page and try again."

// Decision tells the caller what to do after a failed attempt.
type Decision struct {
	Retry             bool          `json:"retry"`
	Delay             time.Duration `json:"delay"`
	RemainingAttempts int           `json:"remaining_attempts"`
	Terminal          bool          `json:"terminal"`
	Class             Class         `json:"class"`
	Message           string        `json:"message"`
}

// RetryPolicy turns classified failures into retry decisions using the
// shared retry schedule.
type RetryPolicy struct {
	cfg retry.Config
}

// NewRetryPolicy creates a policy allowing one retry per delay. Nil delays
// use DefaultRetryDelays.
func NewRetryPolicy(delays []time.Duration) RetryPolicy {
	if len(delays) == 0 {
		delays = DefaultRetryDelays
	}
	return RetryPolicy{cfg: retry.Config{
		Delays:      delays,
		MaxAttempts: len(delays) + 1,
	}}
}

// Decide classifies err after attempt (1-based) failed.
func (p RetryPolicy) Decide(attempt int, err error) Decision {
	class := Classify(err)
	if class.Terminal() {
		msg := class.Message()
		var balanceErr *BalanceError
		if errors.As(err, &balanceErr) {
			msg = fmt.Sprintf("Insufficient balance: need %s, have %s.", balanceErr.Need, balanceErr.Have)
		}
		return Decision{Terminal: true, Class: class, Message: msg}
	}

	remaining := p.cfg.Attempts() - attempt
	if remaining <= 0 {
		return Decision{Terminal: true, Class: class, Message: exhaustedMessage}
	}

	return Decision{
		Retry:             true,
		Delay:             p.cfg.Delay(attempt),
		RemainingAttempts: remaining,
		Class:             class,
		Message:           fmt.Sprintf("%s Retrying (%d attempts left).", class.Message(), remaining),
	}
}
