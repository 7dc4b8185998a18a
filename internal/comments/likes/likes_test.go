package likes

import (
	"context"
	"testing"

	"github.com/example/comment-platform/internal/comments/store"
)

func newTestService(t *testing.T) (*Service, *MemoryCache, string) {
	t.Helper()
	rel := store.NewInMemoryCommentStore()
	uid := "author"
	c, err := rel.Create(context.Background(), store.Comment{
		AuthorID: &uid, AuthorName: "Author", AuthorEmail: "author@example.com", Body: "likeable",
	})
	if err != nil {
		t.Fatalf("seed comment: %v", err)
	}
	cache := NewMemoryCache()
	return NewService(rel, cache, nil), cache, c.ID
}

func TestLike_Idempotent(t *testing.T) {
	svc, _, id := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := svc.Like(ctx, id, "user-b"); err != nil {
			t.Fatalf("like %d: %v", i, err)
		}
	}
	n, err := svc.CountOf(ctx, id)
	if err != nil || n != 1 {
		t.Fatalf("expected count 1 after repeated likes, got %d (%v)", n, err)
	}
	liked, err := svc.IsLiked(ctx, id, "user-b")
	if err != nil || !liked {
		t.Fatalf("expected liked=true, got %v (%v)", liked, err)
	}
}

func TestUnlike_WithoutLikeIsNoop(t *testing.T) {
	svc, _, id := newTestService(t)
	ctx := context.Background()

	if err := svc.Like(ctx, id, "user-b"); err != nil {
		t.Fatalf("like: %v", err)
	}
	if err := svc.Unlike(ctx, id, "never-liked"); err != nil {
		t.Fatalf("unlike: %v", err)
	}
	if n, _ := svc.CountOf(ctx, id); n != 1 {
		t.Fatalf("expected count 1, got %d", n)
	}

	if err := svc.Unlike(ctx, id, "user-b"); err != nil {
		t.Fatalf("unlike: %v", err)
	}
	if n, _ := svc.CountOf(ctx, id); n != 0 {
		t.Fatalf("expected count 0 after unlike, got %d", n)
	}
}

func TestCountOf_ColdCacheWarmsFromRelation(t *testing.T) {
	rel := store.NewInMemoryCommentStore()
	uid := "author"
	c, _ := rel.Create(context.Background(), store.Comment{
		AuthorID: &uid, AuthorName: "Author", AuthorEmail: "author@example.com", Body: "popular",
	})
	ctx := context.Background()

	// Likes land in the relation before the cache layer ever sees them.
	for _, u := range []string{"u1", "u2", "u3"} {
		if _, err := rel.AddLike(ctx, c.ID, u); err != nil {
			t.Fatalf("seed like: %v", err)
		}
	}

	cache := NewMemoryCache()
	svc := NewService(rel, cache, nil)

	n, err := svc.CountOf(ctx, c.ID)
	if err != nil || n != 3 {
		t.Fatalf("expected warmed count 3, got %d (%v)", n, err)
	}
	liked, err := svc.IsLiked(ctx, c.ID, "u2")
	if err != nil || !liked {
		t.Fatalf("expected u2 liked after warm-up, got %v (%v)", liked, err)
	}
	liked, _ = svc.IsLiked(ctx, c.ID, "stranger")
	if liked {
		t.Fatal("stranger must not appear in the warmed set")
	}
}

func TestLike_ColdSetRebuiltWhole(t *testing.T) {
	rel := store.NewInMemoryCommentStore()
	uid := "author"
	c, _ := rel.Create(context.Background(), store.Comment{
		AuthorID: &uid, AuthorName: "Author", AuthorEmail: "author@example.com", Body: "thread",
	})
	ctx := context.Background()

	if _, err := rel.AddLike(ctx, c.ID, "earlier"); err != nil {
		t.Fatalf("seed like: %v", err)
	}

	cache := NewMemoryCache()
	svc := NewService(rel, cache, nil)

	// The first Like against a cold cache must pull in the earlier liker
	// too, not start a one-member set.
	if err := svc.Like(ctx, c.ID, "later"); err != nil {
		t.Fatalf("like: %v", err)
	}
	if n, _ := svc.CountOf(ctx, c.ID); n != 2 {
		t.Fatalf("expected count 2 after cold like, got %d", n)
	}
	if liked, _ := svc.IsLiked(ctx, c.ID, "earlier"); !liked {
		t.Fatal("earlier liker lost during cold rebuild")
	}
}

func TestLike_CacheFailureIsBestEffort(t *testing.T) {
	svc, cache, id := newTestService(t)
	ctx := context.Background()

	cache.FailWrites = true
	if err := svc.Like(ctx, id, "user-b"); err != nil {
		t.Fatalf("like must not fail when only the cache is down: %v", err)
	}

	// With the cache healthy again the count rebuilds from the relation.
	cache.FailWrites = false
	if n, err := svc.CountOf(ctx, id); err != nil || n != 1 {
		t.Fatalf("expected count 1 after recovery, got %d (%v)", n, err)
	}
	if liked, err := svc.IsLiked(ctx, id, "user-b"); err != nil || !liked {
		t.Fatalf("expected liked=true after recovery, got %v (%v)", liked, err)
	}
}

func TestLike_AfterCacheOutageCountMatchesRelation(t *testing.T) {
	svc, cache, id := newTestService(t)
	ctx := context.Background()

	// Warm the cache with one like.
	if err := svc.Like(ctx, id, "u1"); err != nil {
		t.Fatalf("like u1: %v", err)
	}
	if n, _ := svc.CountOf(ctx, id); n != 1 {
		t.Fatalf("expected count 1, got %d", n)
	}

	// A like during a cache outage lands in the relation only; the cache
	// keys are invalidated.
	cache.FailWrites = true
	if err := svc.Like(ctx, id, "u2"); err != nil {
		t.Fatalf("like u2: %v", err)
	}
	cache.FailWrites = false

	// A healthy like afterwards must not resurrect the dropped counter at
	// a value below the relation's cardinality.
	if err := svc.Like(ctx, id, "u3"); err != nil {
		t.Fatalf("like u3: %v", err)
	}
	if n, _ := svc.CountOf(ctx, id); n != 3 {
		t.Fatalf("expected count 3 after outage, got %d", n)
	}
	// The member lost during the outage is back after the rebuild.
	if liked, _ := svc.IsLiked(ctx, id, "u2"); !liked {
		t.Fatal("u2 missing from the rebuilt set")
	}
}

func TestUnlike_MissingCounterKeyNeverGoesNegative(t *testing.T) {
	svc, cache, id := newTestService(t)
	ctx := context.Background()

	if err := svc.Like(ctx, id, "u1"); err != nil {
		t.Fatalf("like: %v", err)
	}
	if n, _ := svc.CountOf(ctx, id); n != 1 {
		t.Fatalf("expected count 1, got %d", n)
	}

	// The counter key vanishes (eviction) while the set stays warm.
	if err := cache.Del(ctx, countKey(id)); err != nil {
		t.Fatalf("del counter: %v", err)
	}

	if err := svc.Unlike(ctx, id, "u1"); err != nil {
		t.Fatalf("unlike: %v", err)
	}
	n, err := svc.CountOf(ctx, id)
	if err != nil {
		t.Fatalf("count of: %v", err)
	}
	if n < 0 {
		t.Fatalf("counter went negative: %d", n)
	}
	if n != 0 {
		t.Fatalf("expected count 0, got %d", n)
	}
}

func TestWarmup_ClearsStaleMembers(t *testing.T) {
	svc, cache, id := newTestService(t)
	ctx := context.Background()

	// Poison the cache with a member the relation never saw.
	if _, err := cache.SAdd(ctx, setKey(id), "ghost"); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	if err := svc.Like(ctx, id, "real"); err != nil {
		t.Fatalf("like: %v", err)
	}
	if err := svc.Warmup(ctx, id); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	if liked, _ := svc.IsLiked(ctx, id, "ghost"); liked {
		t.Fatal("stale member survived warm-up")
	}
	if n, _ := svc.CountOf(ctx, id); n != 1 {
		t.Fatalf("expected count 1 after warm-up, got %d", n)
	}
}
