package routes

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/striderapp/housepoints/config"
	"github.com/striderapp/housepoints/controllers"
	"github.com/striderapp/housepoints/middleware"
	"github.com/striderapp/housepoints/services"
	"github.com/striderapp/housepoints/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB) *gin.Engine {
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	// Replace default console logger with file-based zap logger
	gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
	if err == nil {
		r.Use(utils.Ginzap(gl, time.RFC3339, true))
		r.Use(utils.RecoveryWithZap(gl, false))
	} else {
		// fallback to default recovery if logger failed to init
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-App-Version"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}

	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	rdb := utils.GetRedis()
	policy := services.NewPolicyStore(rdb)
	ledger := services.NewHouseLedger(db)
	audit := services.NewGormAuditSink(db)
	stepSource := services.NewStepSource(services.NewGormSampleStore(db), policy)
	marks := services.NewRedisWatermarkStore(rdb)
	awarder := services.NewAwarder(stepSource, ledger, marks, policy, audit, utils.Sugar)

	authController := controllers.NewAuthController(db)
	pointsController := controllers.NewPointsController(db, awarder, ledger)
	stepsController := controllers.NewStepsController(db)
	leaderboardController := controllers.NewLeaderboardController(ledger)
	adminController := controllers.NewAdminController(db, ledger, policy, audit)

	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/logout", middleware.AuthRequired(), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), authController.Me)
	authGroup.PATCH("/profile", middleware.AuthRequired(), authController.UpdateProfile)

	// Public leaderboard
	api.GET("/leaderboard", leaderboardController.Get)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), middleware.RateLimitMiddleware())
	protected.POST("/steps/sync", stepsController.Sync)
	protected.POST("/points/award", pointsController.Award)
	protected.GET("/points/status", pointsController.Status)

	admin := api.Group("/admin")
	admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
	admin.POST("/houses/:house/reset", adminController.ResetHouse)
	admin.GET("/trusted-sources", adminController.GetTrustedSources)
	admin.PUT("/trusted-sources", adminController.SetTrustedSources)
	admin.GET("/blocked-versions", adminController.GetBlockedVersions)
	admin.PUT("/blocked-versions", adminController.SetBlockedVersions)
	admin.GET("/awards", adminController.ListAwards)
	admin.PATCH("/users/:id", adminController.UpdateUser)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}
