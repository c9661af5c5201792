package domain

import "errors"

var (
	// ErrRankingUnavailable is returned when the ranking service call failed
	// or returned a non-success result. No feed is cached in that case.
	ErrRankingUnavailable = errors.New("ranking service unavailable")

	// ErrGenerationInProgress is returned when another caller holds the
	// generation lock and the wait budget is exhausted. It is transient.
	ErrGenerationInProgress = errors.New("feed generation already in progress")

	// ErrCursorNotFound is returned when a pagination cursor does not match
	// any entry of the currently cached generation.
	ErrCursorNotFound = errors.New("cursor not found in cached feed")

	// ErrFeedMissing is returned when no cached feed exists for the user,
	// either because none was generated or because it expired.
	ErrFeedMissing = errors.New("no cached feed")

	// ErrUserNotActive is returned when the caller is not in good standing.
	ErrUserNotActive = errors.New("user is not active")
)
