package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Persistence errors
	ErrStatsNotFound    = errors.New("user stats not found")
	ErrVersionConflict  = errors.New("user stats were modified concurrently")
	ErrCorruptRecord    = errors.New("user stats record is corrupt")
	ErrStoreUnavailable = errors.New("stats store is unavailable")

	// Event errors
	ErrUnknownEventKind = errors.New("unknown reward event kind")
	ErrInvalidEvent     = errors.New("invalid reward event payload")

	// Catalog errors
	ErrUnknownBadgeMetric = errors.New("unknown badge metric")
	ErrDuplicateBadgeID   = errors.New("duplicate badge id in catalog")
	ErrInvalidBadge       = errors.New("invalid badge definition")

	// Auth errors
	ErrUnauthenticated    = errors.New("caller is not authenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
