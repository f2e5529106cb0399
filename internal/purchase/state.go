// Package purchase confirms token purchases by watching the buyer's balance
// grow, with a receipt fast path, error classification and retry decisions.
package purchase

// State is a watcher state.
type State string

const (
	StateIdle               State = "idle"
	StateAwaitingSettlement State = "awaiting_settlement"
	StateConfirmed          State = "confirmed"
	StateTimedOut           State = "timed_out"
	StateFailed             State = "failed"
	StateCancelled          State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StateConfirmed, StateTimedOut, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	return string(s)
}
