// Package domain defines the core types of the personal feed engine.
package domain

import "strconv"

// CandidateItem is one recommended content item returned by the ranking
// service. Items are immutable once received.
type CandidateItem struct {
	ItemID  int64    `json:"item_id"`
	OwnerID int64    `json:"owner_id"`
	Rank    int64    `json:"rank"`
	Tags    []string `json:"tags,omitempty"`
}

// FeedEntry is a candidate item placed into a cached feed, augmented with a
// stable sort key. Within one generation key ordering is total and matches
// presentation order: higher keys are presented first.
type FeedEntry struct {
	CandidateItem
	SortKey int64 `json:"sort_key"`
}

// Cursor returns the entry's sort key as the opaque pagination cursor
// handed to callers.
func (e FeedEntry) Cursor() string {
	return strconv.FormatInt(e.SortKey, 10)
}

// Page is one page of a cached feed along with the version token of the
// generation it was served from.
type Page struct {
	Entries []FeedEntry
	Version int64
	// Stale is set when the page was served from the last-known-good
	// fallback copy instead of a live generation.
	Stale bool
}

// Location holds the caller's resolved coordinates, passed through to the
// ranking service.
type Location struct {
	Lon float64
	Lat float64
}

// sortKeyPositionBits is the number of low bits of a sort key that hold the
// entry's position within its generation. The generation version occupies
// the bits above, so keys from different generations can never collide.
const sortKeyPositionBits = 20

// SortKey builds the stable key for the entry at position pos (0 = last
// presented) of the given generation version.
func SortKey(version, pos int64) int64 {
	return version<<sortKeyPositionBits | pos
}

// ParseCursor parses a caller-supplied cursor back into a sort key.
// An empty cursor means "first page" and is handled by the caller.
func ParseCursor(cursor string) (int64, bool) {
	key, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || key < 0 {
		return 0, false
	}
	return key, true
}
