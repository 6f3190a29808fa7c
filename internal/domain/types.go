package domain

import "time"

type SessionID string
type UserID string
type MessageID string

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Route is the label produced by the router for a user turn.
type Route string

const (
	RouteKnowledge    Route = "knowledge"
	RouteClaims       Route = "claims"
	RouteFallback     Route = "fallback"
	RouteConfirmation Route = "confirmation"
)

// ParseRoute maps a free-form label onto the closed executor label set.
// Anything unrecognised becomes RouteFallback.
func ParseRoute(s string) Route {
	switch Route(s) {
	case RouteKnowledge, RouteClaims, RouteFallback:
		return Route(s)
	default:
		return RouteFallback
	}
}

// RouteSource records which strategy produced a routing decision.
type RouteSource string

const (
	RouteSourceRules    RouteSource = "rules"
	RouteSourceDelegate RouteSource = "delegate"
	RouteSourceContext  RouteSource = "context"
)

type Timestamp = time.Time
