package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegis-mobile/synccore/internal/app"
	"github.com/aegis-mobile/synccore/internal/cache"
	"github.com/aegis-mobile/synccore/internal/middleware"
	"github.com/aegis-mobile/synccore/internal/queue"
	"github.com/aegis-mobile/synccore/internal/resolver"
	"github.com/aegis-mobile/synccore/internal/store"
	"github.com/aegis-mobile/synccore/internal/syncer"
	"github.com/aegis-mobile/synccore/internal/transport"
)

// Deps carries the wired components the ops router exposes. The router is a
// local diagnostics surface for the device owner and tooling, not a public
// API.
type Deps struct {
	Config       *app.Config
	Store        *store.Store
	Cache        *cache.Cache
	Queue        *queue.Queue
	Resolver     *resolver.Resolver
	Orchestrator *syncer.Orchestrator
	Connectivity transport.Connectivity
}

// NewRouter builds the Gin engine and registers the ops routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store must be provided")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("queue must be provided")
	}
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator must be provided")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())

	healthEnabled := true
	metricsEnabled := true
	metricsEndpoint := "/metrics"
	if deps.Config != nil {
		healthEnabled = deps.Config.Monitoring.Health.Enabled
		metricsEnabled = deps.Config.Monitoring.Prometheus.Enabled
		if deps.Config.Monitoring.Prometheus.Endpoint != "" {
			metricsEndpoint = deps.Config.Monitoring.Prometheus.Endpoint
		}
	}

	if healthEnabled {
		r.GET("/healthz", healthHandler(deps.Store))
	}
	if metricsEnabled {
		r.GET(metricsEndpoint, gin.WrapH(promhttp.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/sync/status", syncStatusHandler(deps))
		api.POST("/sync/trigger", syncTriggerHandler(deps.Orchestrator))
		api.GET("/queue/stats", queueStatsHandler(deps.Queue))
		api.GET("/cache/stats", cacheStatsHandler(deps.Cache))
		api.GET("/conflicts", conflictsHandler(deps.Resolver))
	}

	return r, nil
}
