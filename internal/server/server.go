// Package server contains the HTTP and WebSocket surface of the feed API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vantage/internal/cache"
	"vantage/internal/config"
	"vantage/internal/database"
	"vantage/internal/featureflags"
	"vantage/internal/feed"
	"vantage/internal/media"
	"vantage/internal/middleware"
	"vantage/internal/models"
	"vantage/internal/notifications"
	"vantage/internal/observability"
	"vantage/internal/repository"
	"vantage/internal/transport"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers.
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	shutdownCtx    context.Context
	shutdownFn     context.CancelFunc

	postRepo    repository.PostRepository
	counterRepo repository.CounterRepository
	followRepo  repository.FollowRepository
	resolver    media.Resolver

	subscriber *transport.Subscriber
	publisher  *transport.Publisher
	signaler   *notifications.Signaler
	hub        *notifications.Hub

	sessions *sessionRegistry
	flags    *featureflags.Manager
	logger   *slog.Logger

	// collabFn builds session collaborators; tests swap it for stubs.
	collabFn func() feed.Collaborators
}

// NewServer creates a server instance, establishing the database, Redis, and
// media storage connections.
func NewServer(cfg *config.Config) (*Server, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	cache.InitRedis(cfg.RedisURL)
	redisClient := cache.GetClient()

	resolver, err := media.New(media.Config{
		Endpoint:  cfg.MediaEndpoint,
		AccessKey: cfg.MediaAccessKey,
		SecretKey: cfg.MediaSecretKey,
		UseSSL:    cfg.MediaUseSSL,
		Bucket:    cfg.MediaBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("media storage init failed: %w", err)
	}

	return NewServerWithDeps(cfg, db, redisClient, resolver)
}

// NewServerWithDeps creates a Server using already-initialized dependencies.
// Use this in tests or when a bootstrap layer establishes DB, Redis, and
// storage itself.
func NewServerWithDeps(cfg *config.Config, db *gorm.DB, redisClient *redis.Client, resolver media.Resolver) (*Server, error) {
	server := &Server{
		config:         cfg,
		db:             db,
		redis:          redisClient,
		promMiddleware: middleware.InitMetrics("vantage-api"),
		postRepo:       repository.NewPostRepository(db),
		counterRepo:    repository.NewCounterRepository(db),
		followRepo:     repository.NewFollowRepository(db),
		resolver:       resolver,
		flags:          featureflags.NewManager(cfg.FeatureFlags),
		logger:         observability.Logger,
	}
	server.collabFn = server.newCollaborators
	server.sessions = newSessionRegistry(server)

	middleware.InitMiddleware(cfg)

	if redisClient != nil {
		server.subscriber = transport.NewSubscriber(redisClient, server.logger)
		server.publisher = transport.NewPublisher(redisClient)
		server.signaler = notifications.NewSignaler(redisClient, server.logger)
		server.hub = notifications.NewHub(server.logger)
	}

	return server, nil
}

// SetupMiddleware configures middleware for the Fiber app.
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.ContextMiddleware())

	if s.config.TracingEnabled {
		app.Use(middleware.TracingMiddleware())
	}

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	app.Use(helmet.New())
	app.Use(middleware.StructuredLogger())

	// CORS before anything that can short-circuit, so browser clients still
	// receive CORS headers on error responses.
	origins := s.config.AllowedOrigins
	if origins == "" {
		origins = "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Upgrade, Connection, Sec-WebSocket-Key, Sec-WebSocket-Version",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Global rate limit per IP.
	app.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application.
func (s *Server) SetupRoutes(app *fiber.App) {
	api := app.Group("/api")

	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	protected := api.Group("", middleware.AuthRequired)

	feedGroup := protected.Group("/feed")
	feedGroup.Get("/", s.GetFeed)
	feedGroup.Get("/status", s.GetFeedStatus)
	feedGroup.Post("/refresh", middleware.RateLimit(
		s.redis, 10, time.Minute, "feed_refresh"), s.RefreshFeed)
	feedGroup.Post("/acknowledge", s.AcknowledgeNewPosts)
	feedGroup.Post("/rehydrate", middleware.RateLimit(
		s.redis, 20, time.Minute, "feed_rehydrate"), s.RehydrateMedia)
	feedGroup.Delete("/session", s.CloseSession)

	posts := protected.Group("/posts")
	posts.Post("/:id/like", s.LikePost)
	posts.Delete("/:id/like", s.UnlikePost)

	ws := api.Group("/ws", middleware.WebSocketAuthRequired)
	ws.Get("/feed", s.FeedSignalHandler())
}

// LivenessCheck handles liveness probe requests.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck handles readiness probe requests.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	sqlDB, err := s.db.DB()
	if err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	redisStatus := "healthy"
	if s.redis != nil {
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	} else {
		// Live events and signals require Redis; degrade readiness without it.
		redisStatus = "unavailable"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus == "unhealthy" || redisStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"time": time.Now(),
	})
}

// Start starts the server.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.shutdownCtx = ctx
	s.shutdownFn = cancel

	app := fiber.New(fiber.Config{
		AppName: "Vantage Feed API",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			s.logger.Error("unhandled request error", slog.String("error", err.Error()))
			return models.RespondWithError(c, fiber.StatusInternalServerError,
				models.NewInternalError(err))
		},
	})
	s.app = app

	s.SetupMiddleware(app)
	s.SetupRoutes(app)

	if s.hub != nil && s.signaler != nil {
		go func() {
			if err := s.hub.StartWiring(s.shutdownCtx, s.signaler); err != nil {
				s.logger.Error("failed to wire signal hub", slog.String("error", err.Error()))
			}
		}()
	}

	s.logger.Info("server starting", slog.String("port", s.config.Port))
	return app.Listen(":" + s.config.Port)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if s.app != nil {
		if err := s.app.ShutdownWithContext(ctx); err != nil {
			s.logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
		}
	}

	s.sessions.CloseAll()

	if s.hub != nil {
		if err := s.hub.Shutdown(ctx); err != nil {
			s.logger.Error("error shutting down signal hub", slog.String("error", err.Error()))
		}
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if cerr := sqlDB.Close(); cerr != nil {
			s.logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			s.logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// viewerID extracts the authenticated viewer from locals. The auth
// middleware guarantees it is set on protected routes.
func (s *Server) viewerID(c *fiber.Ctx) uint {
	if vid, ok := c.Locals("viewerID").(uint); ok {
		return vid
	}
	return 0
}

// newCollaborators assembles the feed session dependencies.
func (s *Server) newCollaborators() feed.Collaborators {
	return feed.Collaborators{
		Source:   s.postRepo,
		Counters: s.counterRepo,
		Resolver: s.resolver,
		Follows:  s.followRepo,
		Likes:    s.counterRepo,
		Events:   s.subscriber,
	}
}

// sessionConfig maps application config onto session tunables.
func (s *Server) sessionConfig() feed.SessionConfig {
	return feed.SessionConfig{
		PageSize:    s.config.FeedPageSize,
		OpTimeout:   s.config.EnrichTimeout,
		MediaTTL:    s.config.MediaURLTTL,
		MaxInFlight: s.config.EnrichConcurrency,
		StaleAfter:  s.config.StalenessThreshold,
		DedupWindow: s.config.EventDedupWindow,
	}
}
