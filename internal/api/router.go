// Package api exposes the query engine over REST. Route shapes and
// parameter names follow the classic SCOT interface so existing frontends
// keep working.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/steemit/enginemind/internal/cache"
	"github.com/steemit/enginemind/internal/db"
	"github.com/steemit/enginemind/internal/query"
	"github.com/steemit/enginemind/pkg/logging"
)

// Router sets up API routes
type Router struct {
	engine *query.Engine
	db     *db.DB
	cache  *cache.Cache
	logger *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(queryEngine *query.Engine, database *db.DB, redisCache *cache.Cache) *Router {
	return &Router{
		engine: queryEngine,
		db:     database,
		cache:  redisCache,
		logger: logging.GetLogger().With(zap.String("component", "api-router")),
	}
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowCredentials = false
	engine.Use(cors.New(corsConfig))

	engine.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "") })
	engine.GET("/health", r.healthHandler)
	engine.GET("/.well-known/healthcheck.json", r.healthHandler)

	engine.GET("/state", r.cached(time.Minute, r.stateHandler))
	engine.GET("/info", r.cached(time.Minute, r.infoHandler))
	engine.GET("/config", r.cached(time.Minute, r.configHandler))

	engine.GET("/get_thread", r.threadHandler)
	engine.GET("/get_feed", r.feedHandler)
	engine.GET("/get_discussions_by_created", r.discussionsByCreatedHandler)
	engine.GET("/get_discussions_by_trending", r.scoreHandler("score_trend", true))
	engine.GET("/get_discussions_by_hot", r.scoreHandler("score_hot", true))
	engine.GET("/get_discussions_by_promoted", r.scoreHandler("promoted", true))
	engine.GET("/get_discussions_by_payout", r.scoreHandler("vote_rshares", true))
	engine.GET("/get_comment_discussions_by_payout", r.scoreHandler("vote_rshares", false))
	engine.GET("/get_discussions_by_blog", r.blogHandler)
	engine.GET("/get_discussions_by_comments", r.commentsHandler)
	engine.GET("/get_discussions_by_replies", r.repliesHandler)
	engine.GET("/get_trending_tags", r.cached(24*time.Hour, r.trendingTagsHandler))
	engine.GET("/get_staked_accounts", r.cached(24*time.Hour, r.stakedAccountsHandler))
	engine.GET("/get_following", r.followingHandler)
	engine.GET("/get_follow_count", r.followCountHandler)

	// Flask served accounts and posts at /@<account> and
	// /@<account>/<permlink>; gin cannot mix a literal @ with a path
	// parameter, so these resolve through the fallback.
	engine.NoRoute(r.accountFallback)
}

// accountFallback serves /@account and /@account/permlink
func (r *Router) accountFallback(c *gin.Context) {
	path := strings.TrimPrefix(c.Request.URL.Path, "/")
	if !strings.HasPrefix(path, "@") {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	parts := strings.SplitN(strings.TrimPrefix(path, "@"), "/", 2)
	if len(parts) == 1 {
		r.accountHandler(c, parts[0])
		return
	}
	r.postHandler(c, parts[0], parts[1])
}

// healthHandler handles health check requests
func (r *Router) healthHandler(c *gin.Context) {
	status := "OK"
	code := http.StatusOK
	if err := r.db.Health(c.Request.Context()); err != nil {
		status = "DEGRADED"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"service": "enginemind-api",
	})
}
