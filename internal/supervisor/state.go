// Package supervisor owns the client-side subscription lifecycle: it connects
// to the notification channel, detects staleness from worker heartbeats and
// rebuilds subscriptions through a single debounced entrypoint.
package supervisor

// State is the connection state of the supervisor and its handles.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateStale
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateStale:
		return "stale"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Trigger names the reason for a rebuild cycle.
type Trigger string

const (
	TriggerStart            Trigger = "start"
	TriggerVisibility       Trigger = "visibility"
	TriggerFocus            Trigger = "focus"
	TriggerNavigation       Trigger = "navigation"
	TriggerHeartbeatMissed  Trigger = "heartbeat_missed"
	TriggerSubscriptionLost Trigger = "subscription_lost"
)
