package service

import (
	"context"

	"github.com/jonesrussell/vidcloud/feed-engine/internal/domain"
)

// PermissionChecker gates feed access on the caller's standing. The real
// implementation lives in the auth service; the feed engine only consumes
// the interface.
type PermissionChecker interface {
	// EnsureActive returns domain.ErrUserNotActive when the user must not
	// receive a feed.
	EnsureActive(ctx context.Context, userID int64) error
}

// LocationProvider resolves the caller's current coordinates. Geo-IP
// resolution is owned by the edge; requests arrive with the result attached.
type LocationProvider interface {
	Current(ctx context.Context) (domain.Location, error)
}

// AllowAll is a PermissionChecker that accepts every caller. It is the
// default when no auth service is wired in.
type AllowAll struct{}

// EnsureActive always succeeds.
func (AllowAll) EnsureActive(ctx context.Context, userID int64) error {
	return nil
}

// StaticLocation is a LocationProvider returning fixed coordinates.
type StaticLocation struct {
	Location domain.Location
}

// Current returns the configured coordinates.
func (s StaticLocation) Current(ctx context.Context) (domain.Location, error) {
	return s.Location, nil
}
