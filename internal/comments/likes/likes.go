package likes

import (
	"context"

	"go.uber.org/zap"
)

// Relation is the authoritative like membership, owned by the comment
// store. Every cache entry can be rebuilt from it.
type Relation interface {
	AddLike(ctx context.Context, commentID, userID string) (bool, error)
	RemoveLike(ctx context.Context, commentID, userID string) (bool, error)
	HasLiked(ctx context.Context, commentID, userID string) (bool, error)
	LikerIDs(ctx context.Context, commentID string) ([]string, error)
	LikeCount(ctx context.Context, commentID string) (int, error)
}

// Service applies like/unlike writes to the relation first and mirrors
// them into the cache best-effort. A failed cache write leaves the relation
// intact; both cache keys are dropped so the next read warms them from the
// relation again.
type Service struct {
	rel   Relation
	cache CacheClient
	log   *zap.Logger
}

func NewService(rel Relation, cache CacheClient, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{rel: rel, cache: cache, log: log}
}

// Like records userID liking commentID. Idempotent: a second call changes
// nothing and never double-counts.
func (s *Service) Like(ctx context.Context, commentID, userID string) error {
	changed, err := s.rel.AddLike(ctx, commentID, userID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	warm, err := s.cache.Exists(ctx, setKey(commentID))
	if err != nil {
		s.invalidate(ctx, commentID, "like", err)
		return nil
	}
	if !warm {
		// A cold set must never be grown one member at a time: it would
		// look warm while missing every earlier liker. Rebuild it whole
		// from the relation, which already holds this like.
		if err := s.Warmup(ctx, commentID); err != nil {
			s.invalidate(ctx, commentID, "like", err)
		}
		return nil
	}

	// SAdd reports whether the member was new, so the counter moves at
	// most once even if two calls race here.
	added, err := s.cache.SAdd(ctx, setKey(commentID), userID)
	if err != nil {
		s.invalidate(ctx, commentID, "like", err)
		return nil
	}
	if added > 0 {
		if err := s.applyDelta(ctx, commentID, 1); err != nil {
			s.invalidate(ctx, commentID, "like", err)
		}
	}
	return nil
}

// Unlike removes userID's like. Idempotent; the counter never goes below
// the true cardinality.
func (s *Service) Unlike(ctx context.Context, commentID, userID string) error {
	changed, err := s.rel.RemoveLike(ctx, commentID, userID)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	warm, err := s.cache.Exists(ctx, setKey(commentID))
	if err != nil {
		s.invalidate(ctx, commentID, "unlike", err)
		return nil
	}
	if !warm {
		if err := s.Warmup(ctx, commentID); err != nil {
			s.invalidate(ctx, commentID, "unlike", err)
		}
		return nil
	}

	removed, err := s.cache.SRem(ctx, setKey(commentID), userID)
	if err != nil {
		s.invalidate(ctx, commentID, "unlike", err)
		return nil
	}
	if removed > 0 {
		if err := s.applyDelta(ctx, commentID, -1); err != nil {
			s.invalidate(ctx, commentID, "unlike", err)
		}
	}
	return nil
}

// IsLiked answers set membership. A cold set is warmed from the relation
// first; if the cache is unreachable the relation answers directly.
func (s *Service) IsLiked(ctx context.Context, commentID, userID string) (bool, error) {
	key := setKey(commentID)
	warm, err := s.cache.Exists(ctx, key)
	if err != nil {
		s.log.Warn("like cache read failed, falling back to relation", zap.Error(err))
		return s.rel.HasLiked(ctx, commentID, userID)
	}
	if !warm {
		if err := s.Warmup(ctx, commentID); err != nil {
			s.log.Warn("like cache warm-up failed, falling back to relation", zap.Error(err))
			return s.rel.HasLiked(ctx, commentID, userID)
		}
	}
	liked, err := s.cache.SIsMember(ctx, key, userID)
	if err != nil {
		s.log.Warn("like cache read failed, falling back to relation", zap.Error(err))
		return s.rel.HasLiked(ctx, commentID, userID)
	}
	return liked, nil
}

// CountOf returns the cached counter, warming it from the relation on a
// miss. The warm-up write is a plain set: racing warmers all write the
// same authoritative value, so whoever wins, the result converges.
func (s *Service) CountOf(ctx context.Context, commentID string) (int, error) {
	n, ok, err := s.cache.GetInt(ctx, countKey(commentID))
	if err != nil {
		s.log.Warn("like cache read failed, falling back to relation", zap.Error(err))
		return s.rel.LikeCount(ctx, commentID)
	}
	if ok {
		return n, nil
	}

	real, err := s.rel.LikeCount(ctx, commentID)
	if err != nil {
		return 0, err
	}
	if err := s.cache.SetInt(ctx, countKey(commentID), real); err != nil {
		s.log.Warn("like cache populate failed", zap.Error(err))
	}
	return real, nil
}

// Warmup unconditionally rebuilds the member set and counter from the
// relation. The old set is cleared first so stale members cannot survive
// as a union with the new membership.
func (s *Service) Warmup(ctx context.Context, commentID string) error {
	ids, err := s.rel.LikerIDs(ctx, commentID)
	if err != nil {
		return err
	}
	if err := s.cache.Del(ctx, setKey(commentID)); err != nil {
		return err
	}
	if len(ids) > 0 {
		if _, err := s.cache.SAdd(ctx, setKey(commentID), ids...); err != nil {
			return err
		}
	}
	return s.cache.SetInt(ctx, countKey(commentID), len(ids))
}

// applyDelta moves the counter only while its key is live. Incr/Decr
// against a missing key would resurrect the counter at zero, detached
// from the set cardinality and able to go negative; an absent counter
// stays absent until the next CountOf warms it from the relation.
func (s *Service) applyDelta(ctx context.Context, commentID string, delta int) error {
	present, err := s.cache.Exists(ctx, countKey(commentID))
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	if delta > 0 {
		return s.cache.Incr(ctx, countKey(commentID))
	}
	return s.cache.Decr(ctx, countKey(commentID))
}

// invalidate drops both cache keys after a failed cache write. A failed
// SAdd/SRem leaves the member set missing a real change, so the set must
// go cold along with the counter; later reads rebuild both from the
// relation.
func (s *Service) invalidate(ctx context.Context, commentID, op string, cause error) {
	s.log.Warn("like cache write failed, invalidating keys",
		zap.String("op", op), zap.String("comment_id", commentID), zap.Error(cause))
	if err := s.cache.Del(ctx, setKey(commentID), countKey(commentID)); err != nil {
		s.log.Warn("like cache invalidate failed, entries may be stale", zap.Error(err))
	}
}
