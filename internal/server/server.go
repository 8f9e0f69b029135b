package server

import (
	"context"
	"log"
	"time"

	"backend-exploretrack/internal/auth"
	"backend-exploretrack/internal/config"
	"backend-exploretrack/internal/stream"
	"backend-exploretrack/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	Store    tracking.Store
	Redis    *redis.Client
	Stream   *stream.Hub
	Tracking *tracking.Registry
}

func NewServer(cfg config.Config, store tracking.Store, redisClient *redis.Client) *Server {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	redisClient = reachable(redisClient)

	var flags tracking.FlagStore = tracking.NewMemoryFlags()
	if redisClient != nil {
		flags = tracking.NewRedisFlags(redisClient)
	}

	hub := stream.NewHub(redisClient)
	s := &Server{
		App:      app,
		Cfg:      cfg,
		Store:    store,
		Redis:    redisClient,
		Stream:   hub,
		Tracking: tracking.NewRegistry(store, flags, hub, Settings(cfg)),
	}

	registerRoutes(s)
	return s
}

// Settings maps configuration onto the tracking engine.
func Settings(cfg config.Config) tracking.Settings {
	return tracking.Settings{
		MinDistanceM:       cfg.MinDistanceM,
		MaxAccuracyM:       cfg.MaxAccuracyM,
		MaxSpeedKmh:        cfg.MaxSpeedKmh,
		FlushInterval:      cfg.FlushInterval,
		SessionTimeout:     cfg.SessionTimeout,
		AutoStartDelay:     cfg.AutoStartDelay,
		StorageMode:        tracking.StorageMode(cfg.StorageMode),
		ExplorationRadiusM: cfg.ExplorationRadius,
		DedupFactor:        cfg.DedupFactor,
		CoverageGoalM2:     cfg.CoverageGoalM2,
		SpatialIndex:       cfg.SpatialIndex,
	}
}

func reachable(client *redis.Client) *redis.Client {
	if client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("redis unreachable, using in-process flags and stream: %v", err)
		return nil
	}
	return client
}

func registerRoutes(s *Server) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	tracking.RegisterRoutes(s.App.Group("/tracking"), s.Tracking, jwtMiddleware)
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, jwtMiddleware)
}
