package ratelimit

import "github.com/mrmushfiq/ridegate/internal/shared/config"

// Group names an inbound route group with its own budget.
type Group string

const (
	GroupDefault  Group = "default"
	GroupModerate Group = "moderate"
	GroupBooking  Group = "booking"
	GroupStrict   Group = "strict"
)

// Budgets maps inbound groups to their per-window budget.
type Budgets map[Group]int

func BudgetsFromConfig(cfg config.RateLimitConfig) Budgets {
	return Budgets{
		GroupDefault:  cfg.Default,
		GroupModerate: cfg.Moderate,
		GroupBooking:  cfg.Booking,
		GroupStrict:   cfg.Strict,
	}
}

// InboundKey keys a caller within a group. Authenticated callers are keyed
// by credential id, anonymous ones by client address.
func InboundKey(group Group, callerID, remoteAddr string) string {
	if callerID != "" {
		return string(group) + ":" + callerID
	}
	return string(group) + ":ip:" + remoteAddr
}
