package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Script and engine contract failures. These end the session.
	ReasonMalformedGraph    ReasonCode = "malformed_graph"
	ReasonNoOutgoingEdge    ReasonCode = "no_outgoing_edge"
	ReasonInvalidTransition ReasonCode = "invalid_transition"

	// Absorbed locally by the fallback policy.
	ReasonAmbiguousResolution ReasonCode = "ambiguous_resolution"
	ReasonGatewayUnavailable  ReasonCode = "gateway_unavailable"
	ReasonGatewayRateLimit    ReasonCode = "gateway_rate_limit"

	// Session end reasons.
	ReasonCompleted               ReasonCode = "completed"
	ReasonPrematureTermination    ReasonCode = "premature_termination"
	ReasonCandidateCancelled      ReasonCode = "candidate_cancelled"
	ReasonParticipantDisconnected ReasonCode = "participant_disconnected"
	ReasonTimeBudgetExceeded      ReasonCode = "time_budget_exceeded"
	ReasonSessionAborted          ReasonCode = "session_aborted"

	ReasonTransportSend ReasonCode = "transport_send"
	ReasonConfigInvalid ReasonCode = "config_invalid"
)
