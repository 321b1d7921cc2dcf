// Package registry implements C1, the Tool Registry Client from spec.md
// §4.1: resolve(role) -> endpoint, register(role, endpoint, capabilities),
// heartbeats, health probing and staleness sweeping. Grounded on
// internal/capability/registry.go's map-keyed-by-role storage and
// functional-constructor idiom upstream, generalized from a static signed
// registry to a live one with heartbeats and health state.
package registry

import "time"

// Status mirrors the Tool Descriptor's status enum from spec.md §3.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusError     Status = "error"
)

// Descriptor is the Tool Descriptor from spec.md §3.
type Descriptor struct {
	Role             string    `json:"role"`
	Endpoint         string    `json:"endpoint"`
	Capabilities     []string  `json:"capabilities"`
	LastSeen         time.Time `json:"last_seen"`
	Status           Status    `json:"status"`
	consecutiveFails int
}
