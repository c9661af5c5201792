package cache

import "fmt"

// Redis key layout. Everything is namespaced per user: different users never
// contend for the same keys.
const (
	// versionKeyFmt is the per-user generation counter. It is deliberately
	// left without a TTL so version tokens stay monotonic across feed
	// expirations.
	versionKeyFmt = "feed:%d:version"

	// entriesKeyFmt is the sorted set holding one generation's entries,
	// scored by sort key.
	entriesKeyFmt = "feed:%d:entries:%d"

	// metaKeyFmt is the generation metadata record; its existence is what
	// makes a generation "present" for all read paths.
	metaKeyFmt = "feed:%d:meta:%d"

	// fallbackKeyFmt is the last-known-good copy used for degraded
	// responses; it outlives the live generation.
	fallbackKeyFmt = "feed:%d:fallback"
)

func versionKey(userID int64) string {
	return fmt.Sprintf(versionKeyFmt, userID)
}

func entriesKey(userID, version int64) string {
	return fmt.Sprintf(entriesKeyFmt, userID, version)
}

func metaKey(userID, version int64) string {
	return fmt.Sprintf(metaKeyFmt, userID, version)
}

func fallbackKey(userID int64) string {
	return fmt.Sprintf(fallbackKeyFmt, userID)
}
