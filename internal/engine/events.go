package engine

import "time"

// Event types published to the operator stream.
const (
	EventFill          = "fill"
	EventOrderRejected = "order_rejected"
	EventOrderStale    = "order_stale"
	EventEmergencyStop = "emergency_stop"
	EventRiskReset     = "risk_reset"
)

// Event is a one-line operator notification. The engine publishes these
// best-effort; a nil or slow sink never blocks trading.
type Event struct {
	Type    string    `json:"type"`
	Symbol  string    `json:"symbol,omitempty"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// EventFunc receives engine events. Implementations must not block.
type EventFunc func(Event)

func (f EventFunc) emit(ev Event) {
	if f != nil {
		if ev.At.IsZero() {
			ev.At = time.Now()
		}
		f(ev)
	}
}
