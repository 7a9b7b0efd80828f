// Package bootstrap wires the coordinator's components together and owns
// the process lifecycle: config loading, infrastructure setup, and the
// graceful start/shutdown sequence.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "github.com/Kaping/blockshare/internal/handler/http"
	wshandler "github.com/Kaping/blockshare/internal/handler/websocket"
	"github.com/Kaping/blockshare/internal/hub"
	gormpersistence "github.com/Kaping/blockshare/internal/infra/persistence/gorm"
	"github.com/Kaping/blockshare/internal/infra/setup"
	redisstate "github.com/Kaping/blockshare/internal/infra/state/redis"
	"github.com/Kaping/blockshare/internal/middleware"
	"github.com/Kaping/blockshare/internal/registry"
	"github.com/Kaping/blockshare/internal/service"
	"github.com/Kaping/blockshare/internal/tasks"
	"github.com/Kaping/blockshare/internal/worker"
)

// Config holds every tunable the coordinator needs, loaded from the
// environment (and an optional .env file).
type Config struct {
	ServerPort string
	LogLevel   string
	AppEnv     string
	KeyPrefix  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RateLimitMax    int
	RateLimitWindow time.Duration

	LeaseTTL         time.Duration
	UserTTL          time.Duration
	ReaperInterval   time.Duration
	SessionQueueSize int

	CORSAllowedOrigin string
}

func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:        os.Getenv("SERVER_PORT"),
		LogLevel:          os.Getenv("LOG_LEVEL"),
		AppEnv:            os.Getenv("APP_ENV"),
		KeyPrefix:         os.Getenv("REDIS_KEY_PREFIX"),
		RedisAddr:         envOr("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		CORSAllowedOrigin: os.Getenv("CORS_ALLOWED_ORIGIN"),
		RateLimitMax:      100,
		RateLimitWindow:   time.Second,
	}

	cfg.RedisDB, _ = strconv.Atoi(os.Getenv("REDIS_DB"))

	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "bs:"
	}
	if cfg.CORSAllowedOrigin == "" {
		cfg.CORSAllowedOrigin = "http://localhost:3000"
	}

	cfg.LeaseTTL = envDurationMs("LEASE_TTL_MS", 10*time.Second)
	cfg.UserTTL = envDurationMs("USER_TTL_MS", 30*time.Second)
	cfg.ReaperInterval = envDurationMs("REAPER_INTERVAL_MS", 3*time.Second)
	cfg.SessionQueueSize = envInt("SESSION_OUTBOUND_QUEUE", 256)

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("invalid LOG_LEVEL %q, using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func envDurationMs(key string, def time.Duration) time.Duration {
	ms, err := strconv.Atoi(os.Getenv(key))
	if err != nil || ms <= 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// App holds every wired component and drives the process lifecycle.
type App struct {
	Config *Config
	Log    *logrus.Logger

	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	asynqOpt    asynq.RedisClientOpt

	Hub      *hub.Hub
	Registry *registry.Registry
	Worker   *worker.Server

	HTTPServer *http.Server
	sessionCfg hub.Config
	snapshot   *service.SnapshotService
}

func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return nil, err
	}

	log := logrus.New()
	if cfg.AppEnv == "production" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	log.Info("configuration loaded")

	log.Info("initializing infrastructure")
	db := setup.InitDB()
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	redisClient := setup.InitRedis()

	asynqOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	asynqClient := asynq.NewClient(asynqOpt)
	log.Info("infrastructure initialized")

	log.Info("initializing repositories")
	roomRepo := gormpersistence.NewRoomRepository(db)
	snapshotRepo := gormpersistence.NewSnapshotRepository(db)
	leaseStore := redisstate.NewLeaseStore(redisClient, cfg.KeyPrefix)
	snapshotCache := redisstate.NewSnapshotCache(redisClient, cfg.KeyPrefix)

	log.Info("initializing services")
	roomService := service.NewRoomService(roomRepo)
	snapshotService := service.NewSnapshotService(snapshotRepo, snapshotCache, redisstate.IsCacheMiss)

	log.Info("initializing registry and hub")
	reg := registry.New(roomService, leaseStore)
	hubInstance := hub.NewHub()

	reapHandler := worker.NewReapHandler(reg, hubInstance, cfg.UserTTL)
	workerServer := worker.NewServer(asynqOpt, reapHandler, log)

	sessionCfg := hub.Config{
		LeaseTTL:      cfg.LeaseTTL,
		OutboundQueue: cfg.SessionQueueSize,
	}

	log.Info("initializing handlers")
	roomHandler := httpHandler.NewRoomHandler(roomService, reg)
	websocketHandler := wshandler.NewHandler(hubInstance, reg, snapshotService, sessionCfg)

	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(log))
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", cfg.CORSAllowedOrigin)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})
	router.Use(middleware.RateLimit(redisClient, cfg.RateLimitMax, cfg.RateLimitWindow))

	api := router.Group("/api")
	api.GET("/rooms/:roomId", roomHandler.GetOrCreateRoom)
	router.GET("/ws/room/:roomId", websocketHandler.HandleConnection)
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })

	httpServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	app := &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		AsynqClient: asynqClient,
		asynqOpt:    asynqOpt,
		Hub:         hubInstance,
		Registry:    reg,
		Worker:      workerServer,
		HTTPServer:  httpServer,
		sessionCfg:  sessionCfg,
		snapshot:    snapshotService,
	}
	return app, nil
}

// Start launches every background routine and the HTTP server. It returns
// immediately; call Shutdown to stop everything gracefully.
func (a *App) Start() {
	go a.Hub.Run()
	a.Log.Info("hub running")

	go a.Worker.Start()
	a.Log.Info("worker server running")

	a.registerPeriodicReap()

	go func() {
		a.Log.Infof("http server listening on %s", a.HTTPServer.Addr)
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("http server failed: %v", err)
		}
	}()
}

func (a *App) registerPeriodicReap() {
	scheduler := asynq.NewScheduler(a.asynqOpt, &asynq.SchedulerOpts{})
	task := asynq.NewTask(tasks.TypeReap, tasks.NewReapTaskPayload())
	schedule := fmt.Sprintf("@every %ds", int(a.Config.ReaperInterval.Seconds()))
	entryID, err := scheduler.Register(schedule, task, asynq.Queue("default"))
	if err != nil {
		a.Log.Errorf("could not register periodic reap task: %v", err)
		return
	}
	a.Log.Infof("periodic reap task registered with schedule %q (entry %s)", schedule, entryID)

	go func() {
		if err := scheduler.Run(); err != nil {
			a.Log.Errorf("asynq scheduler stopped: %v", err)
		}
	}()
}

// Shutdown drains every component in reverse dependency order.
func (a *App) Shutdown() {
	a.Log.Info("shutting down")

	a.Worker.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HTTPServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("error shutting down http server: %v", err)
	}

	if err := a.AsynqClient.Close(); err != nil {
		a.Log.Errorf("error closing asynq client: %v", err)
	}
	if err := a.RedisClient.Close(); err != nil {
		a.Log.Errorf("error closing redis connection: %v", err)
	}

	a.Log.Info("shutdown complete")
}

func loggerMiddleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := log.WithFields(logrus.Fields{
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
		})
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("request failed")
		case c.Writer.Status() >= 400:
			entry.Warn("request rejected")
		default:
			entry.Info("request handled")
		}
	}
}
