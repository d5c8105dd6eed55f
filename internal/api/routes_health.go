package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegis-mobile/synccore/internal/store"
	"github.com/aegis-mobile/synccore/pkg/response"
)

// healthHandler verifies the encrypted store is open and reachable.
func healthHandler(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := st.DB().DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
