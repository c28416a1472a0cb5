package handler

import (
	"solana-forensics/internal/adapter/http/middleware"
	redisStore "solana-forensics/internal/adapter/storage/redis"
	"solana-forensics/internal/core/ports"
	"solana-forensics/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	TokenSvc       ports.TokenService
	Alerts         *service.AlertService
	Evidence       *service.EvidenceLedger
	Audit          *service.AuditTrail
	Exports        *service.ExportService
	Traces         *service.TraceService
	Rules          *service.RuleService
	Monitor        *service.Monitor
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	RateLimit      int                        // traces/exports per minute per investigator
	BusinessHours  middleware.BusinessHours
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := middleware.DefaultRateLimitRules(deps.RateLimit)
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	v1.POST("/auth/login", rl("auth_login"), authHandler.Login)

	// --- JWT-authenticated routes ---
	api := v1.Group("",
		middleware.JWTAuth(deps.TokenSvc, deps.Logger),
		middleware.DataAccessAudit(middleware.AccessAuditConfig{
			Audit:          deps.Audit,
			IsInvestigator: deps.AuthSvc.IsInvestigator,
			Hours:          deps.BusinessHours,
			Log:            deps.Logger,
		}),
	)

	alertHandler := NewAlertHandler(deps.Alerts)
	alerts := api.Group("/alerts")
	{
		alerts.GET("", rl("read"), alertHandler.List)
		alerts.GET("/:id", rl("read"), alertHandler.Get)
		alerts.PATCH("/:id/status", rl("write"), alertHandler.UpdateStatus)
	}

	evidenceHandler := NewEvidenceHandler(deps.Evidence)
	evidence := api.Group("/evidence")
	{
		evidence.GET("", rl("read"), evidenceHandler.List)
		evidence.GET("/:id", rl("read"), evidenceHandler.Get)
		evidence.GET("/:id/verify", rl("read"), evidenceHandler.Verify)
		evidence.GET("/:id/custody", rl("read"), evidenceHandler.Custody)
		evidence.PATCH("/:id/metadata", rl("write"), evidenceHandler.UpdateMetadata)
	}

	traceHandler := NewTraceHandler(deps.Traces, deps.Monitor)
	api.POST("/traces", rl("traces"), traceHandler.Trace)
	api.POST("/transactions/evaluate", rl("write"), traceHandler.Evaluate)

	auditHandler := NewAuditHandler(deps.Audit, deps.Exports)
	audit := api.Group("/audit")
	{
		audit.GET("", rl("read"), auditHandler.Query)
		audit.GET("/report", rl("exports"), auditHandler.Report)
		audit.GET("/:id", rl("read"), auditHandler.Get)
		audit.GET("/:id/verify", rl("read"), auditHandler.Verify)
	}
	exports := api.Group("/exports")
	{
		exports.POST("/evidence", rl("exports"), auditHandler.ExportEvidence)
		exports.POST("/audit", rl("exports"), auditHandler.ExportAudit)
		exports.POST("/verify", rl("read"), auditHandler.VerifyExport)
	}

	ruleHandler := NewRuleHandler(deps.Rules)
	rulesGroup := api.Group("/rules")
	{
		rulesGroup.GET("", rl("read"), ruleHandler.List)
		rulesGroup.GET("/:id", rl("read"), ruleHandler.Get)
		rulesGroup.POST("", rl("write"), ruleHandler.Create)
		rulesGroup.PUT("/:id", rl("write"), ruleHandler.Update)
		rulesGroup.PATCH("/:id/enabled", rl("write"), ruleHandler.SetEnabled)
		rulesGroup.DELETE("/:id", rl("write"), ruleHandler.Delete)
	}

	return r
}
