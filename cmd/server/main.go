package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shared-code-editor/backend/api/handlers"
	"github.com/shared-code-editor/backend/internal/config"
	"github.com/shared-code-editor/backend/internal/db"
	"github.com/shared-code-editor/backend/internal/recorder"
	"github.com/shared-code-editor/backend/internal/repository"
	"github.com/shared-code-editor/backend/internal/session"
	"github.com/shared-code-editor/backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(cfg.Storage.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	historyRepo := repository.NewHistoryRepository(database)

	var recorders *recorder.Manager
	if cfg.Storage.RecordSessions {
		if err := os.MkdirAll(cfg.Storage.LogDir, 0755); err != nil {
			log.Fatalf("Failed to create log directory: %v", err)
		}
		recorders = recorder.NewManager(cfg.Storage.LogDir)
	}

	store := session.NewStore(session.Config{
		InitialContent:  cfg.Session.InitialContent,
		DefaultLanguage: cfg.Session.DefaultLanguage,
	})

	wsService := ws.NewService(store, ws.ServiceConfig{
		SweepInterval: cfg.Session.SweepInterval,
		IdleThreshold: cfg.Session.IdleThreshold,
		History:       historyRepo,
		Recorders:     recorders,
		Handler: ws.HandlerConfig{
			MaxMessageSize: cfg.Server.MaxMessageSize,
			SendBufferSize: cfg.Server.SendBuffer,
			CheckOrigin: func(r *http.Request) bool {
				return cfg.OriginAllowed(r.Header.Get("Origin"))
			},
		},
	})
	defer wsService.Close()
	wsService.Start()

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(wsService, historyRepo)
	wsHandler := handlers.NewWebSocketHandler(wsService)

	// Initialize Gin router
	r := gin.Default()
	r.Use(corsMiddleware(cfg))

	r.GET("/health", sessionHandler.Health)

	// API routes
	api := r.Group("/api")
	{
		sessionHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")

		// Hijacked WebSocket connections are not tracked by Shutdown; closing
		// the service disconnects them.
		wsService.Close()

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Starting server on port %s", cfg.Server.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// corsMiddleware returns a CORS middleware honoring the allowed origins.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if len(cfg.Server.AllowedOrigins) == 0 {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && cfg.OriginAllowed(origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
