package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/classora/assessment-backend/internal/config"
	"github.com/classora/assessment-backend/internal/handler"
	"github.com/classora/assessment-backend/internal/middleware"
	"github.com/classora/assessment-backend/internal/response"
	"github.com/classora/assessment-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Assessment *handler.AssessmentHandler
	Grading    *handler.GradingHandler
	WS         *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Session open and submit are the two endpoints an abusive client
	// would hammer; everything else is cheap reads or answer writes the
	// attempt itself bounds.
	sessionLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(middleware.RequireStudentJWT(authService))
	{
		studentAPI.GET("/assignments", handlers.Assessment.GetAssignments)
		studentAPI.GET("/exams/:exam_id/paper", handlers.Assessment.GetPaper)
		studentAPI.POST("/exams/:exam_id/session", sessionLimiter.Middleware(), handlers.Assessment.StartSession)
		studentAPI.GET("/exams/:exam_id/session", handlers.Assessment.GetState)
		studentAPI.DELETE("/exams/:exam_id/session", handlers.Assessment.Abandon)
		studentAPI.POST("/exams/:exam_id/answers", handlers.Assessment.Answer)
		studentAPI.POST("/exams/:exam_id/navigate", handlers.Assessment.Navigate)
		studentAPI.POST("/exams/:exam_id/submit", sessionLimiter.Middleware(), handlers.Assessment.Submit)
		studentAPI.GET("/exams/:exam_id/result", handlers.Assessment.GetResult)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/exams/:exam_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Grading Group (Staff JWT) ──────────────────────────────────
	gradingAPI := router.Group("/api/v1/grading")
	gradingAPI.Use(middleware.RequireStaffJWT(authService))
	{
		gradingAPI.PUT("/exams/:exam_id/students/:student_id/score", handlers.Grading.OverrideScore)
	}

	return router
}
