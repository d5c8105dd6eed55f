package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/aegis-mobile/synccore/internal/models"
	"github.com/aegis-mobile/synccore/internal/queue"
	"github.com/aegis-mobile/synccore/pkg/response"
)

type queueStatsPayload struct {
	Pending     int64               `json:"pending"`
	DeadLetters int                 `json:"dead_letters"`
	Recent      []models.DeadLetter `json:"recent_dead_letters"`
}

func queueStatsHandler(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		pending, err := q.Pending(ctx)
		if err != nil {
			response.Error(c, err)
			return
		}

		letters, err := q.DeadLetters(ctx, 20)
		if err != nil {
			response.Error(c, err)
			return
		}

		response.Success(c, http.StatusOK, queueStatsPayload{
			Pending:     pending,
			DeadLetters: len(letters),
			Recent:      letters,
		})
	}
}
