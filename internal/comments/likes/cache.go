// Package likes keeps the per-comment like counters in a cache-aside layer
// over the authoritative like relation. The cache holds a member set per
// comment (O(1) likedness) and a separate integer counter (O(1) counts);
// both are rebuildable projections and may be cold.
package likes

import "context"

// CacheClient is the minimal counter/set surface the service needs.
// Mutating set calls report whether membership actually changed so the
// counter is never double-moved.
type CacheClient interface {
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SAdd(ctx context.Context, key string, members ...string) (added int64, err error)
	SRem(ctx context.Context, key, member string) (removed int64, err error)
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) error
	Decr(ctx context.Context, key string) error
	// GetInt returns (value, present, error); absent keys are not errors.
	GetInt(ctx context.Context, key string) (int, bool, error)
	SetInt(ctx context.Context, key string, value int) error
	Del(ctx context.Context, keys ...string) error
}

func setKey(commentID string) string   { return "comment:" + commentID + ":likes" }
func countKey(commentID string) string { return "comment:" + commentID + ":likes_count" }
