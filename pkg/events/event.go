package events

import "time"

// Kind names a session lifecycle event.
type Kind string

const (
	KindSessionStarted Kind = "session_started"
	KindHandlerEntered Kind = "handler_entered"
	KindNodeReached    Kind = "node_reached"
	KindBranchResolved Kind = "branch_resolved"
	KindFollowUpAsked  Kind = "follow_up_asked"
	KindNudgeSent      Kind = "nudge_sent"
	KindSessionEnded   Kind = "session_ended"

	KindGatewayCall   Kind = "gateway_call"
	KindGatewayError  Kind = "gateway_error"
	KindBreakerOpen   Kind = "gateway_breaker_open"
	KindBreakerProbe  Kind = "gateway_breaker_half_open"
	KindBreakerClose  Kind = "gateway_breaker_close"
	KindBreakerDenied Kind = "gateway_breaker_denied"
	KindRateLimit     Kind = "gateway_rate_limit"
)

// Tag keys shared by emitters and observers.
const (
	TagState    = "state"
	TagNodeID   = "node_id"
	TagNodeType = "node_type"
	TagReason   = "reason"
	TagPurpose  = "purpose"
	TagProvider = "provider"
	TagStatus   = "status"
)

type Event struct {
	Kind      Kind
	SessionID string
	Time      time.Time
	Value     float64
	Tags      map[string]string
	Fields    map[string]any
}

// Tag returns a tag value or "".
func (e Event) Tag(key string) string {
	if e.Tags == nil {
		return ""
	}
	return e.Tags[key]
}

type Observer interface {
	RecordEvent(ev Event)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(Event) {}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) RecordEvent(ev Event) { f(ev) }
