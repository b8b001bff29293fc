package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carebridge/wallet-engine/internal/config"
)

func NewRouter(svcs Services, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svcs)
	return r
}
