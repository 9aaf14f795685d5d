package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"orbit-backend/internal/auth"
	"orbit-backend/internal/bus"
	"orbit-backend/internal/cache"
	"orbit-backend/internal/config"
	"orbit-backend/internal/coordinator"
	"orbit-backend/internal/handler"
	"orbit-backend/internal/presence"
	"orbit-backend/internal/stt"
	"orbit-backend/internal/translate"
	"orbit-backend/internal/tts"
)

// Dependencies carries the wired components the server routes to.
type Dependencies struct {
	DB          *gorm.DB
	Coordinator *coordinator.Coordinator
	Bus         *bus.Bus
	Transcripts *cache.TranscriptCache
	Roster      *presence.Manager
	Recognizer  stt.Recognizer
	Translator  translate.Translator
	Synthesizer tts.Synthesizer

	// HealthChecks feeds /health with per-component connectivity checks.
	HealthChecks map[string]handler.HealthChecker
}

// Server wraps the Fiber app and the request handlers.
type Server struct {
	app  *fiber.App
	cfg  *config.Config
	deps Dependencies

	jwtManager          *auth.JWTManager
	hub                 *handler.Hub
	roomWSHandler       *handler.RoomWSHandler
	tokenHandler        *handler.TokenHandler
	transcriptHandler   *handler.TranscriptHandler
	participantsHandler *handler.ParticipantsHandler
	healthHandler       *handler.HealthHandler
}

// New creates the server.
func New(cfg *config.Config, deps Dependencies) *Server {
	app := fiber.New(fiber.Config{
		AppName:       "Orbit Voice Relay",
		ServerHeader:  "Fiber",
		StrictRouting: true,
		CaseSensitive: true,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.IdleTimeout,
		// Prefork breaks websocket connections; keep a single process.
		Prefork:         false,
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
		BodyLimit:       1 * 1024 * 1024,
	})

	jwtManager := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry)
	hub := handler.NewHub(deps.Coordinator, deps.Bus)

	return &Server{
		app:        app,
		cfg:        cfg,
		deps:       deps,
		jwtManager: jwtManager,
		hub:        hub,
		roomWSHandler: handler.NewRoomWSHandler(hub, deps.Coordinator, deps.Bus,
			deps.Recognizer, deps.Translator, deps.Synthesizer, deps.DB, cfg, deps.Roster),
		tokenHandler:        handler.NewTokenHandler(jwtManager),
		transcriptHandler:   handler.NewTranscriptHandler(deps.Transcripts),
		participantsHandler: handler.NewParticipantsHandler(deps.Roster),
		healthHandler:       handler.NewHealthHandler(deps.DB, deps.HealthChecks),
	}
}

// SetupMiddleware installs the global middleware chain.
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes installs every route.
func (s *Server) SetupRoutes() {
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	tokenLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	s.app.Post("/api/token", tokenLimiter, s.tokenHandler.Issue)

	api := s.app.Group("/api", auth.Middleware(s.jwtManager))
	api.Get("/rooms/:roomId/transcripts", s.transcriptHandler.Recent)
	api.Get("/rooms/:roomId/participants", s.participantsHandler.List)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// Browsers cannot set headers on websocket dials; the auth middleware
	// also accepts ?token=.
	s.app.Get("/ws/room/:roomId", auth.Middleware(s.jwtManager),
		websocket.New(s.roomWSHandler.Handle, websocket.Config{
			ReadBufferSize:   s.cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:  s.cfg.WebSocket.WriteBufferSize,
			HandshakeTimeout: s.cfg.WebSocket.HandshakeTimeout,
		}))
}

// Start runs the server until SIGINT/SIGTERM, then drains connections.
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("[Server] Shutting down...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("[Server] Shutdown error: %v", err)
		}
	}()

	log.Printf("[Server] Orbit voice relay listening on %s", s.cfg.Server.Port)
	log.Printf("[Server] Room websocket: ws://localhost%s/ws/room/:roomId", s.cfg.Server.Port)
	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown stops the server.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
