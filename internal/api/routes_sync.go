package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aegis-mobile/synccore/internal/syncer"
	apperrors "github.com/aegis-mobile/synccore/pkg/errors"
	"github.com/aegis-mobile/synccore/pkg/response"
)

type syncStatusPayload struct {
	Status    syncer.Status    `json:"status"`
	Online    bool             `json:"online"`
	LastSync  *time.Time       `json:"last_sync,omitempty"`
	LastError string           `json:"last_error,omitempty"`
	LastStats syncer.Stats     `json:"last_stats"`
	Pending   map[string]int64 `json:"pending"`
}

func syncStatusHandler(deps Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload := syncStatusPayload{
			Status:    deps.Orchestrator.Status(),
			LastSync:  deps.Orchestrator.LastSyncTime(),
			LastStats: deps.Orchestrator.LastStats(),
			Pending:   map[string]int64{},
		}
		if deps.Connectivity != nil {
			payload.Online = deps.Connectivity.Online()
		}
		if err := deps.Orchestrator.LastError(); err != nil {
			payload.LastError = err.Error()
		}

		counts, err := deps.Store.CountUnsynced(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		for kind, n := range counts {
			payload.Pending[kind.Table()] = n
		}

		response.Success(c, http.StatusOK, payload)
	}
}

// syncTriggerHandler starts a cycle on demand. Offline and busy map to 503
// and 409 through the shared error response.
func syncTriggerHandler(o *syncer.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := syncer.CycleFull
		switch c.Query("kind") {
		case "", "full":
		case "incremental":
			kind = syncer.CycleIncremental
		default:
			response.ErrorWithStatus(c, http.StatusBadRequest,
				apperrors.New("invalid_kind", "kind must be full or incremental"))
			return
		}

		if err := o.TriggerSync(c.Request.Context(), kind); err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{
			"kind":  kind,
			"stats": o.LastStats(),
		})
	}
}
