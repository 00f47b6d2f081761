package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/internal/config"
	"github.com/rawblock/wallet-investigator/internal/investigation"
	"github.com/rawblock/wallet-investigator/internal/session"
)

// Deps are the collaborators the HTTP layer serves
type Deps struct {
	Config      *config.Config
	Engine      *investigation.Engine
	Registry    *chains.Registry
	Coordinator *session.Coordinator
	Logger      zerolog.Logger

	// Ready reports whether the process is fully started. Nil means always.
	Ready func(ctx context.Context) error
}

// APIHandler holds the dependencies shared by every route
type APIHandler struct {
	cfg         *config.Config
	engine      *investigation.Engine
	registry    *chains.Registry
	coordinator *session.Coordinator
	ready       func(ctx context.Context) error
	log         zerolog.Logger
	startedAt   time.Time
}

// SetupRouter builds the gin engine with middleware and every /api/v1 route
func SetupRouter(ctx context.Context, deps Deps) *gin.Engine {
	h := &APIHandler{
		cfg:         deps.Config,
		engine:      deps.Engine,
		registry:    deps.Registry,
		coordinator: deps.Coordinator,
		ready:       deps.Ready,
		log:         deps.Logger.With().Str("component", "api").Logger(),
		startedAt:   time.Now(),
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log))
	r.Use(corsMiddleware(deps.Config.Server.AllowedOrigins))

	limiter := NewRateLimiter(ctx, deps.Config.Server.RateLimitPerMin, deps.Config.Server.RateLimitBurst)
	auth := AuthMiddleware(deps.Config.Server.AuthToken, deps.Config.Server.GinMode, h.log)

	v1 := r.Group("/api/v1")
	{
		// Public
		v1.GET("/health", h.handleHealth)
		v1.GET("/chains", h.handleChains)

		// Protected
		protected := v1.Group("")
		protected.Use(auth, limiter.Middleware())
		protected.GET("/chains/health", h.handleChainsHealth)
		protected.POST("/detect", h.handleDetect)
		protected.POST("/investigations", h.handleCreateInvestigation)
		protected.GET("/investigations", h.handleListInvestigations)
		protected.GET("/investigations/:id", h.handleGetInvestigation)
		protected.GET("/wallets/:address/records", h.handleWalletRecords)
		protected.GET("/sessions", h.handleSessions)
		protected.GET("/ws", h.handleSession)
	}

	return r
}

// corsMiddleware allows the configured origins. A "*" entry allows any.
func corsMiddleware(origins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		switch {
		case allowed["*"]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("Request")
	}
}

// GET /api/v1/health
func (h *APIHandler) handleHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	body := gin.H{
		"service": "wallet-investigator",
		"uptime":  time.Since(h.startedAt).Round(time.Second).String(),
		"chains":  len(h.registry.Supported()),
	}
	if h.ready != nil {
		if err := h.ready(c.Request.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
			body["error"] = err.Error()
		}
	}
	if h.coordinator != nil {
		body["sessions"] = h.coordinator.Len()
	}
	body["status"] = status
	c.JSON(code, body)
}

// GET /api/v1/chains
func (h *APIHandler) handleChains(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"chains": h.registry.ChainInfos()})
}

// GET /api/v1/chains/health
// Probes every registered chain; one unhealthy chain never fails the call.
func (h *APIHandler) handleChainsHealth(c *gin.Context) {
	health := h.registry.GetServiceHealth(c.Request.Context())
	healthy := 0
	for _, ok := range health {
		if ok {
			healthy++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"chains":  health,
		"healthy": healthy,
		"total":   len(health),
	})
}

// GET /api/v1/sessions
func (h *APIHandler) handleSessions(c *gin.Context) {
	if h.coordinator == nil {
		c.JSON(http.StatusOK, gin.H{"sessions": []session.Info{}, "count": 0})
		return
	}
	snap := h.coordinator.Snapshot()
	c.JSON(http.StatusOK, gin.H{"sessions": snap, "count": len(snap)})
}
