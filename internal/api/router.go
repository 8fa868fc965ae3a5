package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/dwell/internal/api/handlers"
	"github.com/your-org/dwell/internal/api/ws"
	"github.com/your-org/dwell/internal/auth"
)

type RouterConfig struct {
	APIKey    string
	Visitors  handlers.VisitorStore
	Sightings handlers.SightingStore
	Frames    handlers.FrameStore
	Checks    map[string]handlers.Check
	Hub       *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	v1.GET("/ws", cfg.Hub.HandleWS)

	visitorH := handlers.NewVisitorHandler(cfg.Visitors)
	v1.GET("/cameras/:camera/visitors", visitorH.List)

	sightingH := handlers.NewSightingHandler(cfg.Sightings, cfg.Frames)
	v1.GET("/cameras/:camera/sightings", sightingH.List)
	v1.GET("/sightings/:id/frame", sightingH.Frame)

	return r
}
