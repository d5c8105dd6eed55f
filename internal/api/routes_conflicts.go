package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegis-mobile/synccore/internal/cache"
	"github.com/aegis-mobile/synccore/internal/models"
	"github.com/aegis-mobile/synccore/internal/resolver"
	"github.com/aegis-mobile/synccore/pkg/response"
)

type conflictsPayload struct {
	Stats   resolver.Stats          `json:"stats"`
	Recent  []resolver.AuditEntry   `json:"recent"`
	Pending []models.ConflictRecord `json:"pending_manual"`
}

func conflictsHandler(r *resolver.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if r == nil {
			response.Success(c, http.StatusOK, conflictsPayload{})
			return
		}

		pending, err := r.PendingConflicts(c.Request.Context(), 20)
		if err != nil {
			response.Error(c, err)
			return
		}

		response.Success(c, http.StatusOK, conflictsPayload{
			Stats:   r.Stats(),
			Recent:  r.Audit(),
			Pending: pending,
		})
	}
}

type cacheStatsPayload struct {
	UsageBytes  int64 `json:"usage_bytes"`
	BudgetBytes int64 `json:"budget_bytes"`
}

func cacheStatsHandler(ca *cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ca == nil {
			response.Success(c, http.StatusOK, cacheStatsPayload{})
			return
		}

		usage, err := ca.Usage(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}

		response.Success(c, http.StatusOK, cacheStatsPayload{
			UsageBytes:  usage,
			BudgetBytes: ca.Budget(),
		})
	}
}
