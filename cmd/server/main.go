package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"go.uber.org/zap"

	"github.com/halovoice/voice-caller/internal/api/handlers"
	"github.com/halovoice/voice-caller/internal/call"
	"github.com/halovoice/voice-caller/internal/dialog"
	"github.com/halovoice/voice-caller/internal/speech"
	"github.com/halovoice/voice-caller/internal/store"
	"github.com/halovoice/voice-caller/internal/telephony"
	"github.com/halovoice/voice-caller/pkg/env"
	"github.com/halovoice/voice-caller/pkg/logger"
	"github.com/halovoice/voice-caller/pkg/middleware"
	"github.com/halovoice/voice-caller/pkg/mongo"
	"github.com/halovoice/voice-caller/pkg/otel"
)

// Server wires the API, the call manager, and their collaborators.
type Server struct {
	cfg         *env.Config
	redisClient *redis.Client
	mongoClient *mongo.Client
	handler     *handlers.Handler
}

func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize OpenTelemetry if enabled
	if cfg.OTELEnabled {
		shutdown, err := otel.InitTracing("voice-caller", "1.0.0", cfg.OTELEndpoint)
		if err != nil {
			logger.Log.Warn("Failed to initialize OpenTelemetry", zap.Error(err))
		} else {
			defer shutdown()
			logger.Log.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	logger.Log.Info("Starting voice caller",
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.AppPort),
	)

	// Initialize Redis
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Log.Fatal("Failed to parse Redis URL", zap.Error(err))
	}
	redisClient := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Log.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// Initialize MongoDB
	mongoClient, err := mongo.NewClient(cfg.MongoURI, cfg.DBName)
	if err != nil {
		logger.Log.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			logger.Log.Warn("Failed to disconnect MongoDB", zap.Error(err))
		}
	}()

	recorder := store.NewMongoRecorder(mongoClient)
	if err := recorder.EnsureIndexes(ctx); err != nil {
		logger.Log.Warn("Failed to ensure indexes", zap.Error(err))
	}

	// Telephony gateway: REST control plane plus the media stream hub
	hub := telephony.NewStreamHub()
	gateway := telephony.NewGateway(telephony.NewClient(telephony.ClientConfig{
		Subdomain:    cfg.TelephonySubdomain,
		AccountSID:   cfg.TelephonyAccountSID,
		APIKey:       cfg.TelephonyAPIKey,
		APIToken:     cfg.TelephonyAPIToken,
		CallerID:     cfg.TelephonyCallerID,
		MediaBaseURL: cfg.MediaBaseURL,
	}), hub)

	// Speech/LLM client
	speechClient := speech.NewClient(speech.Config{
		APIKey:            cfg.OpenAIApiKey,
		Model:             cfg.OpenAIModel,
		MaxTokens:         cfg.OpenAIMaxTokens,
		WhisperModel:      cfg.WhisperModel,
		Language:          cfg.WhisperLanguage,
		TTSModel:          cfg.TTSModel,
		Voice:             cfg.TTSVoice,
		TranscribeTimeout: time.Duration(cfg.STTTimeoutMs) * time.Millisecond,
		GenerateTimeout:   time.Duration(cfg.GenerateTimeoutMs) * time.Millisecond,
		SynthesizeTimeout: time.Duration(cfg.TTSTimeoutMs) * time.Millisecond,
		ClassifyTimeout:   time.Duration(cfg.ClassifyTimeoutMs) * time.Millisecond,
	})

	engine := dialog.NewEngine(speechClient, gateway, hub, dialog.Config{
		MaxDuration:   time.Duration(cfg.MaxCallDurationSec) * time.Second,
		MaxTurns:      cfg.MaxDialogTurns,
		ContextWindow: cfg.ContextWindowTurns,
	})

	finalizer := call.NewFinalizer(speechClient, recorder,
		time.Duration(cfg.ClassifyTimeoutMs)*time.Millisecond+5*time.Second)

	manager := call.NewManager(call.NewRegistry(), gateway, engine, finalizer, call.Options{
		DefaultSystemPrompt: cfg.SystemPrompt,
		DefaultGreeting:     cfg.Greeting,
		MaxConcurrentDials:  cfg.DialMaxConcurrency,
		OnEvicted:           gateway.Release,
	})

	apiHandler := handlers.NewHandler(cfg, redisClient, mongoClient, manager, recorder, hub)

	server := &Server{
		cfg:         cfg,
		redisClient: redisClient,
		mongoClient: mongoClient,
		handler:     apiHandler,
	}

	router := server.setupRouter()

	srv := &http.Server{
		Addr:         ":" + cfg.AppPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Log.Info("voice caller listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Log.Info("Server exited")
}

func (s *Server) setupRouter() *gin.Engine {
	if s.cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceMiddleware())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(1 << 20)) // 1 MB limit

	// Add OpenTelemetry middleware if enabled
	if s.cfg.OTELEnabled {
		router.Use(otel.GinMiddleware())
	}

	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %s %s %d %s\n",
			param.TimeStamp.Format(time.RFC3339),
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
		)
	}))

	// CORS
	corsConfig := cors.DefaultConfig()
	if s.cfg.CORSAllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{s.cfg.CORSAllowedOrigins}
	}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"}
	router.Use(cors.New(corsConfig))

	rateLimiter := middleware.NewRateLimiter(s.redisClient, s.cfg.APIRateLimitRPM)

	// Health and metrics
	router.GET("/health", s.handler.HealthCheck)
	router.GET("/metrics", s.handler.GetMetrics)
	router.GET("/metrics/prometheus", s.handler.GetPrometheusMetrics)

	// Provider-facing surfaces: authenticated by webhook signature, not JWT
	router.POST("/webhooks/telephony", s.handler.TelephonyStatus)
	router.GET("/ws/media/:callId", s.handler.MediaStream)

	// Operator API
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(s.cfg.JWTSecret))
	api.Use(rateLimiter.Middleware())
	{
		api.POST("/calls",
			middleware.IdempotencyMiddleware(s.redisClient),
			s.handler.CreateCall)
		api.GET("/calls", s.handler.ListCalls)
		api.GET("/calls/:callId",
			middleware.ValidateCallIDParam("callId"),
			s.handler.GetCall)
	}

	return router
}
