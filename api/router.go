package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"news-search-service/handler"
	"news-search-service/middleware"
	"news-search-service/refresh"
)

// ServiceName labels metrics and health responses.
const ServiceName = "news-search-service"

// Setup builds the gin engine with middleware and all routes.
func Setup(policy *refresh.Policy, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.PrometheusMiddleware(ServiceName))

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", middleware.UserHeader}
	config.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(config))

	health := handler.HealthCheck(ServiceName)
	r.GET("/", health)
	r.GET("/health", health)
	r.GET("/ready", health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	news := handler.NewNewsHandler(policy, log)
	api := r.Group("/news-api", middleware.RequireUser())
	{
		api.POST("/search", news.Search)
		api.GET("/search/:keyword", news.SearchResults)
		api.GET("/history", news.History)
		api.GET("/searches", news.Searches)
	}

	return r
}
