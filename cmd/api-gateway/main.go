package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/edulearn-api/api/swagger"
	"github.com/noah-isme/edulearn-api/internal/handler"
	"github.com/noah-isme/edulearn-api/internal/middleware"
	"github.com/noah-isme/edulearn-api/internal/models"
	"github.com/noah-isme/edulearn-api/internal/repository"
	"github.com/noah-isme/edulearn-api/internal/service"
	"github.com/noah-isme/edulearn-api/internal/worker"
	"github.com/noah-isme/edulearn-api/pkg/cache"
	"github.com/noah-isme/edulearn-api/pkg/config"
	"github.com/noah-isme/edulearn-api/pkg/database"
	"github.com/noah-isme/edulearn-api/pkg/export"
	"github.com/noah-isme/edulearn-api/pkg/jobs"
	"github.com/noah-isme/edulearn-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/edulearn-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/edulearn-api/pkg/middleware/requestid"
	"github.com/noah-isme/edulearn-api/pkg/mlclient"
	"github.com/noah-isme/edulearn-api/pkg/storage"
)

// @title EduLearn API
// @version 1.0.0
// @description E-learning platform with AI-generated lecture content
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	certificateStore, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init certificate storage", "error", err)
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	lectureRepo := repository.NewLectureRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	metricsSvc := service.NewMetricsService()
	policy := service.NewPolicy()

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "edulearn-api",
	})

	courseSvc := service.NewCourseService(courseRepo, lectureRepo, cacheRepo, policy, logr, service.CatalogCacheConfig{
		Enabled: cfg.Catalog.CacheEnabled,
		TTL:     cfg.Catalog.CacheTTL,
	})

	mlClient := mlclient.New(cfg.ML.ServiceURL, cfg.ML.RequestTimeout, logr)

	// The queue handler needs the lecture service and the service needs the
	// queue, so the handler closes over a variable assigned just below.
	var lectureSvc *service.LectureService
	queue := jobs.NewQueue(service.JobTypeLectureProcessing, func(ctx context.Context, job jobs.Job) error {
		return lectureSvc.ProcessQueued(ctx, job)
	}, jobs.QueueConfig{
		Workers: cfg.ML.DispatchWorkers,
		Logger:  logr,
	})

	lectureSvc = service.NewLectureService(lectureRepo, courseRepo, mlClient, queue, metricsSvc, policy, logr, service.LectureServiceConfig{
		ProcessingTimeout: cfg.ML.ProcessingTimeout,
	})

	certificateSigner := storage.NewSignedURLSigner(cfg.Certificates.SignedURLSecret, cfg.Certificates.SignedURLTTL)
	certificateRenderer := export.NewCertificateRenderer()

	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, courseRepo, lectureRepo, userRepo, cacheRepo,
		certificateRenderer, certificateStore, certificateSigner, metricsSvc, policy, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	lectureHandler := handler.NewLectureHandler(lectureSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)
	defer queue.Stop()

	sweeper := worker.NewProcessingSweeper(lectureSvc, int(cfg.ML.PollInterval.Minutes()), logr)
	if err := sweeper.Start(); err != nil {
		logr.Sugar().Fatalw("failed to start processing sweeper", "error", err)
	}
	defer sweeper.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	courses := api.Group("/courses")
	{
		courses.GET("", middleware.OptionalJWT(authSvc), courseHandler.List)
		courses.GET("/:id", middleware.OptionalJWT(authSvc), courseHandler.Get)
		courses.GET("/:id/lectures", middleware.OptionalJWT(authSvc), lectureHandler.ListByCourse)

		manage := courses.Group("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleInstructor, models.RoleAdmin))
		{
			manage.POST("", courseHandler.Create)
			manage.PUT("/:id", courseHandler.Update)
			manage.POST("/:id/publish", courseHandler.Publish)
			manage.DELETE("/:id", courseHandler.Delete)
			manage.POST("/:id/lectures", lectureHandler.Create)
		}
	}

	lectures := api.Group("/lectures")
	{
		lectures.GET("/:id", middleware.OptionalJWT(authSvc), lectureHandler.Get)

		// The generation service reports progress here. It sits outside the
		// user-facing auth chain.
		lectures.PUT("/:id/processing-status", lectureHandler.ProcessingCallback)

		manage := lectures.Group("", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleInstructor, models.RoleAdmin))
		{
			manage.PUT("/:id", lectureHandler.Update)
			manage.DELETE("/:id", lectureHandler.Delete)
			manage.POST("/:id/publish", lectureHandler.Publish)
			manage.POST("/:id/unpublish", lectureHandler.Unpublish)
			manage.POST("/:id/reprocess", lectureHandler.Reprocess)
			manage.GET("/:id/processing-status", lectureHandler.ProcessingStatus)
		}
	}

	enrollments := api.Group("/enrollments", middleware.JWT(authSvc))
	{
		enrollments.POST("", middleware.RequireRoles(models.RoleStudent), enrollmentHandler.Enroll)
		enrollments.GET("", enrollmentHandler.List)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.POST("/:id/completions", middleware.RequireRoles(models.RoleStudent), enrollmentHandler.RecordCompletion)
		enrollments.POST("/:id/rating", middleware.RequireRoles(models.RoleStudent), enrollmentHandler.Rate)
		enrollments.PUT("/:id/status", enrollmentHandler.UpdateStatus)
		enrollments.GET("/:id/certificate", enrollmentHandler.CertificateLink)
	}

	api.GET("/certificates/download", enrollmentHandler.DownloadCertificate)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
