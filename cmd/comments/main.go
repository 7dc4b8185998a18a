package main

import (
	"context"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/example/comment-platform/internal/comments/attach"
	"github.com/example/comment-platform/internal/comments/fanout"
	"github.com/example/comment-platform/internal/comments/handlers"
	"github.com/example/comment-platform/internal/comments/likes"
	"github.com/example/comment-platform/internal/comments/store"
	"github.com/example/comment-platform/internal/platform/auth"
	"github.com/example/comment-platform/internal/platform/config"
	"github.com/example/comment-platform/internal/platform/db"
	"github.com/example/comment-platform/internal/platform/httpserver"
	"github.com/example/comment-platform/internal/platform/logging"
	"github.com/example/comment-platform/internal/platform/natsconn"
	"github.com/example/comment-platform/internal/platform/run"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	comments, closeStore := initStore(cfg, log)
	if closeStore != nil {
		defer closeStore()
	}

	cache, closeCache := initCache(cfg, log)
	if closeCache != nil {
		defer closeCache()
	}
	likeSvc := likes.NewService(comments, cache, log)

	transport, closeTransport := initTransport(cfg, log)
	if closeTransport != nil {
		defer closeTransport()
	}
	publisher := fanout.NewPublisher(transport, log)

	blobs, err := attach.NewFSBlobStore(cfg.Upload.Dir)
	if err != nil {
		log.Error("blob store init failed", zap.Error(err))
		run.Exit(1)
	}

	deps := handlers.Deps{
		Store: comments,
		Likes: likeSvc,
		Pipeline: attach.Pipeline{
			MaxImageBytes: cfg.Upload.MaxImageBytes,
			MaxTextBytes:  cfg.Upload.MaxTextBytes,
		},
		Blobs:     blobs,
		Fanout:    publisher,
		Transport: transport,
		Log:       log,
	}

	verifier := auth.JWTVerifier{Secret: []byte(cfg.JWTSecret)}

	r := chi.NewRouter()
	httpserver.SetupRouter(r)

	// Reads and creates serve anonymous viewers too; a valid token only
	// upgrades what they see and who the comment belongs to.
	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalUser(verifier))
		r.Get("/v1/comments", handlers.ListComments(deps))
		r.Post("/v1/comments", handlers.CreateComment(deps))
		r.Get("/v1/comments/{comment_id}", handlers.GetComment(deps))
		r.Get("/v1/comments/{comment_id}/replies", handlers.ListReplies(deps))
		r.Post("/v1/comments/{comment_id}/replies", handlers.CreateReply(deps))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))
		r.Put("/v1/comments/{comment_id}", handlers.UpdateComment(deps))
		r.Delete("/v1/comments/{comment_id}", handlers.DeleteComment(deps))
		r.Post("/v1/comments/{comment_id}/like", handlers.LikeComment(deps))
		r.Post("/v1/comments/{comment_id}/unlike", handlers.UnlikeComment(deps))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireUser(verifier))
		r.Use(auth.RequirePrivileged)
		r.Put("/v1/comments/{comment_id}/active", handlers.SetActive(deps))
	})

	// Live update streams.
	r.Get("/v1/ws/comments", handlers.FeedSocket(deps))
	r.Get("/v1/ws/comments/{comment_id}", handlers.ThreadSocket(deps))

	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, ServiceName: cfg.ServiceName, Router: r})

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			_ = srv.Shutdown(context.Background())
		}()
		return srv.Start(log)
	})

	log.Info("exit", zap.Int("code", code))
	run.Exit(code)
}

// initStore selects the CommentStore backend. Production requires a
// working Postgres connection and terminates the process otherwise.
func initStore(cfg config.AppConfig, log *zap.Logger) (store.CommentStore, func()) {
	if cfg.DatabaseURL == "" {
		if cfg.IsProd() {
			log.Error("DATABASE_URL is required in production")
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("DATABASE_URL not set, using in-memory comment store (development only)")
		return store.NewInMemoryCommentStore(), nil
	}

	pool, err := db.Open(context.Background(), cfg.DatabaseURL)
	if err != nil {
		if cfg.IsProd() {
			log.Error("postgres is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("postgres unavailable, falling back to in-memory comment store", zap.Error(err))
		return store.NewInMemoryCommentStore(), nil
	}

	pg := store.NewPostgresCommentStore(pool)
	if err := pg.Migrate(context.Background()); err != nil {
		pool.Close()
		log.Error("schema migration failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}

	log.Info("comment store: postgres")
	return pg, pool.Close
}

// initCache selects the like cache backend. A missing or unreachable
// Redis degrades to the in-memory cache outside production.
func initCache(cfg config.AppConfig, log *zap.Logger) (likes.CacheClient, func()) {
	if cfg.RedisDSN == "" {
		if cfg.IsProd() {
			log.Error("REDIS_DSN is required in production")
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("REDIS_DSN not set, using in-memory like cache (development only)")
		return likes.NewMemoryCache(), nil
	}

	rc := likes.NewRedisCache(cfg.RedisDSN)
	if err := rc.Ping(context.Background()); err != nil {
		if cfg.IsProd() {
			log.Error("redis is required in production but unavailable", zap.Error(err))
			_ = log.Sync()
			os.Exit(1)
		}
		log.Warn("redis unavailable, falling back to in-memory like cache", zap.Error(err))
		return likes.NewMemoryCache(), nil
	}

	log.Info("like cache: redis")
	return rc, func() { _ = rc.Close() }
}

// initTransport selects the fan-out transport. NATS being down is
// non-fatal even in production: delivery degrades, writes keep flowing.
func initTransport(cfg config.AppConfig, log *zap.Logger) (fanout.Transport, func()) {
	if cfg.NATSURL == "" {
		log.Warn("NATS_URL not set, using in-process fan-out bus")
		return fanout.NewMemoryBus(), nil
	}

	nc, err := natsconn.Connect(natsconn.Options{URL: cfg.NATSURL})
	if err != nil {
		log.Warn("nats unavailable, falling back to in-process fan-out bus", zap.Error(err))
		return fanout.NewMemoryBus(), nil
	}

	log.Info("fan-out transport: nats")
	return fanout.NewNATSTransport(nc), nc.Close
}
