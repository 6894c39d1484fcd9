package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	database "github.com/opsdeck/opsdeck-backend/internal"
	"github.com/opsdeck/opsdeck-backend/internal/agent"
	"github.com/opsdeck/opsdeck-backend/internal/alert"
	"github.com/opsdeck/opsdeck-backend/internal/api"
	"github.com/opsdeck/opsdeck-backend/internal/bus"
	"github.com/opsdeck/opsdeck-backend/internal/scan"
)

func main() {
	database.Connect()

	// Determine listen port from environment (PORT or OPSDECK_PORT)
	port := os.Getenv("PORT")
	if port == "" {
		port = os.Getenv("OPSDECK_PORT")
	}
	if port == "" {
		// Use 8081 as the local default to avoid common collisions with other dev services
		port = "8081"
	}
	log.Println("Starting OpsDeck backend server on :" + port + "...")
	router := gin.Default()
	// OpenTelemetry tracing (optional)
	if shutdown, ok := api.SetupOTelFromEnv(); ok {
		defer shutdown(context.Background())
		router.Use(otelgin.Middleware("opsdeck-backend"))
	}

	// Root context, cancelled on SIGINT/SIGTERM so workers can finish up
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
		<-sigc
		log.Println("signal received, shutting down workers...")
		cancel()
	}()

	// Event bus: NATS when configured, in-process otherwise
	var evbus bus.Bus
	if natsURL := os.Getenv("OPSDECK_NATS_URL"); natsURL != "" {
		nb, err := bus.NewNatsBus(natsURL)
		if err != nil {
			log.Printf("NATS bus unavailable (%v), using local bus", err)
			evbus = bus.NewLocalBus()
		} else {
			evbus = nb
		}
	} else {
		evbus = bus.NewLocalBus()
	}
	defer evbus.Close()
	api.SetBus(evbus)

	// Scan queue: registered tools plus optional overrides from YAML
	tools := scan.DefaultTools()
	if path := os.Getenv("OPSDECK_SCAN_TOOLS"); path != "" {
		loaded, err := scan.LoadTools(path)
		if err != nil {
			log.Fatalf("cannot load scan tool registry %s: %v", path, err)
		}
		tools = loaded
	}
	concurrency := 2
	if v := os.Getenv("OPSDECK_SCAN_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			concurrency = n
		}
	}
	scanManager := scan.NewManager(scan.NewSQLStore(), tools, concurrency, evbus)
	if err := scanManager.Resume(rootCtx); err != nil {
		log.Printf("warning: failed to resume queued scans: %v", err)
	}
	scanManager.Start(rootCtx)
	api.SetScanManager(scanManager)

	// Agent runner and trigger engine (file watches + schedules)
	runner := agent.NewRunner(evbus)
	api.SetAgentRunner(runner)
	engine, err := agent.NewEngine(runner)
	if err != nil {
		log.Fatalf("cannot start trigger engine: %v", err)
	}
	if err := engine.Start(rootCtx); err != nil {
		log.Printf("warning: trigger engine start: %v", err)
	}
	api.SetAgentEngine(engine)

	// Alert evaluator, ticks every minute
	evaluator := alert.NewEvaluator(evbus)
	if err := evaluator.Start(rootCtx); err != nil {
		log.Printf("warning: alert evaluator start: %v", err)
	}
	api.SetAlertEvaluator(evaluator)

	// Metrics
	router.Use(api.MetricsMiddleware())
	// Assign a Request ID to every request for tracing
	router.Use(api.RequestIDMiddleware())
	// API versioning header middleware
	router.Use(api.VersionMiddleware("2026-08-01"))
	// CORS: allow all in development, restrict via OPSDECK_CORS_ORIGINS
	config := cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID", "Idempotency-Key", "OpsDeck-Version"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if origins := os.Getenv("OPSDECK_CORS_ORIGINS"); origins != "" {
		config.AllowAllOrigins = false
		parts := strings.Split(origins, ",")
		allow := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				allow = append(allow, s)
			}
		}
		if len(allow) > 0 {
			config.AllowOrigins = allow
		}
	}
	router.Use(cors.New(config))
	// Optionally configure trusted proxies (comma-separated CIDRs or IPs)
	if tp := os.Getenv("OPSDECK_TRUSTED_PROXIES"); tp != "" {
		parts := strings.Split(tp, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if err := router.SetTrustedProxies(parts); err != nil {
			log.Printf("warning: failed to set trusted proxies: %v", err)
		}
	}

	// --- Public Routes (No Auth Needed) ---
	authRoutes := router.Group("/auth")
	authRoutes.Use(api.RateLimitMiddlewareFromEnv())
	{
		authRoutes.POST("/register", api.RegisterUser)
		authRoutes.POST("/login", api.LoginUser)
	}
	// Authentik single sign-on
	router.GET("/sso/authentik/start", api.SSOLogin)
	router.GET("/sso/authentik/callback", api.SSOCallback)
	// Git hook trigger, authenticated by per-agent token
	router.POST("/hooks/git/:agentId", api.RateLimitMiddlewareFromEnv(), api.GitHookTrigger)

	// Health and readiness
	router.GET("/healthz", func(c *gin.Context) { c.Status(200) })
	router.GET("/readyz", func(c *gin.Context) {
		ctx, rcancel := context.WithTimeout(c.Request.Context(), 300*time.Millisecond)
		defer rcancel()
		if err := database.DB.DB.PingContext(ctx); err != nil {
			c.JSON(503, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
		// If Redis is configured, require it to be reachable
		if addr := os.Getenv("OPSDECK_REDIS_ADDR"); addr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: addr, Password: os.Getenv("OPSDECK_REDIS_PASSWORD")})
			rctx, rc := context.WithTimeout(c.Request.Context(), 300*time.Millisecond)
			defer rc()
			if err := rdb.Ping(rctx).Err(); err != nil {
				c.JSON(503, gin.H{"status": "not ready", "error": "redis ping failed"})
				_ = rdb.Close()
				return
			}
			_ = rdb.Close()
		}
		c.JSON(200, gin.H{"status": "ready"})
	})

	// OpenAPI JSON, Swagger UI, and Prometheus metrics
	router.GET("/openapi.json", api.OpenAPIJSON)
	router.GET("/docs", api.SwaggerUI)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Websocket event stream (JWT via ?token=)
	router.GET("/events/stream", api.EventStream)

	// --- Protected Routes (Require User JWT Auth) ---
	protectedRoutes := router.Group("/")
	protectedRoutes.Use(api.AuthMiddleware())
	protectedRoutes.Use(api.IdempotencyMiddlewareFromEnv())
	{
		// User profile endpoints
		protectedRoutes.GET("/me", api.GetMe)
		protectedRoutes.PUT("/me", api.UpdateMe)
		protectedRoutes.PUT("/me/password", api.UpdatePassword)

		projectRoutes := protectedRoutes.Group("/projects")
		{
			projectRoutes.GET("", api.GetProjects)
			projectRoutes.POST("", api.RequireAdmin(), api.CreateProject)
			projectRoutes.POST("/discover", api.RequireAdmin(), api.DiscoverProjects)
			projectRoutes.GET("/:projectId", api.GetProject)
			projectRoutes.PUT("/:projectId", api.RequireAdmin(), api.UpdateProject)
			projectRoutes.DELETE("/:projectId", api.RequireAdmin(), api.DeleteProject)

			// File browser
			projectRoutes.GET("/:projectId/files", api.ListFiles)
			projectRoutes.GET("/:projectId/files/content", api.ReadFileContent)
			projectRoutes.PUT("/:projectId/files/content", api.RequireAdmin(), api.WriteFileContent)
			projectRoutes.DELETE("/:projectId/files/content", api.RequireAdmin(), api.DeleteFile)
			projectRoutes.GET("/:projectId/backup", api.BackupProject)
			projectRoutes.POST("/:projectId/backup", api.RequireAdmin(), api.CreateBackup)
			projectRoutes.GET("/:projectId/backups", api.ListBackups)

			// Project-scoped scan enqueue
			projectRoutes.POST("/:projectId/scans", api.RequireAdmin(), api.EnqueueProjectScan)

			// Git operations
			gitRoutes := projectRoutes.Group("/:projectId/git")
			{
				gitRoutes.GET("/status", api.GitStatus)
				gitRoutes.GET("/log", api.GitLog)
				gitRoutes.GET("/branches", api.GitBranches)
				gitRoutes.GET("/diff", api.GitDiff)
				gitRoutes.POST("/checkout", api.RequireAdmin(), api.GitCheckout)
				gitRoutes.POST("/commit", api.RequireAdmin(), api.GitCommit)
				gitRoutes.POST("/pull", api.RequireAdmin(), api.GitPull)
				gitRoutes.POST("/push", api.RequireAdmin(), api.GitPush)
			}
		}

		scanRoutes := protectedRoutes.Group("/scans")
		{
			scanRoutes.GET("", api.GetScans)
			scanRoutes.POST("", api.RequireAdmin(), api.EnqueueScan)
			scanRoutes.GET("/queue", api.GetScanQueue)
			scanRoutes.GET("/tools", api.GetScanTools)
			scanRoutes.GET("/:scanId", api.GetScan)
			scanRoutes.POST("/:scanId/cancel", api.RequireAdmin(), api.CancelScan)
		}

		agentRoutes := protectedRoutes.Group("/agents")
		{
			agentRoutes.GET("", api.GetAgents)
			agentRoutes.POST("", api.RequireAdmin(), api.CreateAgent)
			agentRoutes.GET("/:agentId", api.GetAgent)
			agentRoutes.PUT("/:agentId", api.RequireAdmin(), api.UpdateAgent)
			agentRoutes.DELETE("/:agentId", api.RequireAdmin(), api.DeleteAgent)
			agentRoutes.POST("/:agentId/run", api.RequireAdmin(), api.RunAgent)
			agentRoutes.GET("/:agentId/runs", api.GetAgentRuns)
		}
		protectedRoutes.GET("/runs/:runId", api.GetAgentRun)

		alertRoutes := protectedRoutes.Group("/alerts")
		{
			alertRoutes.GET("/rules", api.GetAlertRules)
			alertRoutes.POST("/rules", api.RequireAdmin(), api.CreateAlertRule)
			alertRoutes.GET("/rules/:ruleId", api.GetAlertRule)
			alertRoutes.PUT("/rules/:ruleId", api.RequireAdmin(), api.UpdateAlertRule)
			alertRoutes.DELETE("/rules/:ruleId", api.RequireAdmin(), api.DeleteAlertRule)
			alertRoutes.POST("/rules/:ruleId/test", api.RequireAdmin(), api.TestFireAlertRule)
			alertRoutes.GET("/rules/:ruleId/events", api.GetAlertRuleEvents)
			alertRoutes.GET("/events", api.GetAlertEvents)
			alertRoutes.POST("/events/:eventId/ack", api.RequireAdmin(), api.AckAlertEvent)
		}

		planRoutes := protectedRoutes.Group("/plans")
		{
			planRoutes.GET("", api.GetPlans)
			planRoutes.POST("", api.CreatePlan)
			planRoutes.GET("/:planId", api.GetPlan)
			planRoutes.PUT("/:planId", api.UpdatePlan)
			planRoutes.PATCH("/:planId/steps/:index", api.ToggleStep)
			planRoutes.DELETE("/:planId", api.DeletePlan)
		}

		themeRoutes := protectedRoutes.Group("/themes")
		{
			themeRoutes.GET("", api.GetThemes)
			themeRoutes.POST("", api.RequireAdmin(), api.CreateTheme)
			themeRoutes.PUT("/:themeId", api.RequireAdmin(), api.UpdateTheme)
			themeRoutes.POST("/:themeId/default", api.RequireAdmin(), api.SetDefaultTheme)
			themeRoutes.DELETE("/:themeId", api.RequireAdmin(), api.DeleteTheme)
		}

		// Host administration, admin only
		systemRoutes := protectedRoutes.Group("/system")
		systemRoutes.Use(api.RequireAdmin())
		{
			systemRoutes.GET("/users", api.GetSystemUsers)
			systemRoutes.POST("/users", api.CreateSystemUser)
			systemRoutes.DELETE("/users/:username", api.DeleteSystemUser)
			systemRoutes.GET("/firewall", api.GetFirewall)
			systemRoutes.POST("/firewall", api.AddFirewallRule)
			systemRoutes.DELETE("/firewall/:number", api.DeleteFirewallRule)
		}

		// Authentik management passthrough, admin only
		idpRoutes := protectedRoutes.Group("/idp")
		idpRoutes.Use(api.RequireAdmin())
		{
			idpRoutes.GET("/users", api.GetIdPUsers)
			idpRoutes.POST("/users", api.CreateIdPUser)
			idpRoutes.DELETE("/users/:pk", api.DeleteIdPUser)
			idpRoutes.GET("/groups", api.GetIdPGroups)
			idpRoutes.POST("/groups", api.CreateIdPGroup)
			idpRoutes.DELETE("/groups/:pk", api.DeleteIdPGroup)
			idpRoutes.POST("/groups/:pk/members", api.AddIdPGroupMember)
			idpRoutes.GET("/applications", api.GetIdPApplications)
			idpRoutes.POST("/applications", api.CreateIdPApplication)
			idpRoutes.DELETE("/applications/:slug", api.DeleteIdPApplication)
			idpRoutes.GET("/providers", api.GetIdPProviders)
		}
	}

	err = router.Run(":" + port)
	if err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
