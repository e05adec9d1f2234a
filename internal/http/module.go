package http

import (
	"pipeline_backend/platform/config"

	"github.com/gin-gonic/gin"
)

// Module represents a bounded context that can register its HTTP routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext provides shared dependencies for module route registration.
type RouterContext struct {
	Engine *gin.Engine
	// V1 is the /api/v1 route group.
	V1 *gin.RouterGroup
	// Protected is V1 behind AuthRequired.
	Protected      *gin.RouterGroup
	Config         config.JWTConfig
	AuthMiddleware gin.HandlerFunc
}
